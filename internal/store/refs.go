package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Ahmmada/Expo33/internal/schema"
)

// Reference caches: read-mostly copies of the remote roster data.
// They are replaced by pull-merge and never queued for push.

// Offices returns all locally cached offices, ordered by name.
func (s *Store) Offices(ctx context.Context) ([]schema.Office, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id, name FROM offices ORDER BY name ASC`)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list offices: %w", err))
	}
	defer rows.Close()

	var offices []schema.Office
	for rows.Next() {
		var o schema.Office
		if err := rows.Scan(&o.ID, &o.Name); err != nil {
			return nil, fmt.Errorf("failed to scan office: %w", err)
		}
		offices = append(offices, o)
	}
	return offices, rows.Err()
}

// Levels returns all locally cached levels, ordered by name.
func (s *Store) Levels(ctx context.Context) ([]schema.Level, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT id, name FROM levels ORDER BY name ASC`)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list levels: %w", err))
	}
	defer rows.Close()

	var levels []schema.Level
	for rows.Next() {
		var l schema.Level
		if err := rows.Scan(&l.ID, &l.Name); err != nil {
			return nil, fmt.Errorf("failed to scan level: %w", err)
		}
		levels = append(levels, l)
	}
	return levels, rows.Err()
}

// StudentsByOfficeAndLevel returns the roster for an (office, level)
// pair, ordered by name. Save operations use this to build the entry
// set; an empty roster is a valid (empty) result.
func (s *Store) StudentsByOfficeAndLevel(ctx context.Context, officeID, levelID int64) ([]schema.Student, error) {
	const query = `
	SELECT id, name, office_id, level_id
	FROM students
	WHERE office_id = ? AND level_id = ?
	ORDER BY name ASC`

	rows, err := s.conn.QueryContext(ctx, query, officeID, levelID)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query roster: %w", err))
	}
	defer rows.Close()

	var students []schema.Student
	for rows.Next() {
		var st schema.Student
		if err := rows.Scan(&st.ID, &st.Name, &st.OfficeID, &st.LevelID); err != nil {
			return nil, fmt.Errorf("failed to scan student: %w", err)
		}
		students = append(students, st)
	}
	return students, rows.Err()
}

// UpsertOffices merges pulled offices into the cache.
func (s *Store) UpsertOffices(ctx context.Context, offices []schema.Office) error {
	return s.upsertRefs(ctx, "offices", len(offices), func(tx *sql.Tx, i int) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO offices (id, name) VALUES (?, ?)
			 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
			offices[i].ID, offices[i].Name,
		)
		return err
	})
}

// UpsertLevels merges pulled levels into the cache.
func (s *Store) UpsertLevels(ctx context.Context, levels []schema.Level) error {
	return s.upsertRefs(ctx, "levels", len(levels), func(tx *sql.Tx, i int) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO levels (id, name) VALUES (?, ?)
			 ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
			levels[i].ID, levels[i].Name,
		)
		return err
	})
}

// UpsertStudents merges pulled students into the cache.
func (s *Store) UpsertStudents(ctx context.Context, students []schema.Student) error {
	return s.upsertRefs(ctx, "students", len(students), func(tx *sql.Tx, i int) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO students (id, name, office_id, level_id) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				office_id = excluded.office_id,
				level_id = excluded.level_id`,
			students[i].ID, students[i].Name, students[i].OfficeID, students[i].LevelID,
		)
		return err
	})
}

func (s *Store) upsertRefs(ctx context.Context, table string, n int, exec func(tx *sql.Tx, i int) error) error {
	if n == 0 {
		return nil
	}
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	for i := 0; i < n; i++ {
		if err := exec(tx, i); err != nil {
			return classify(fmt.Errorf("failed to upsert %s row: %w", table, err))
		}
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit %s upsert: %w", table, err))
	}
	return nil
}

// RefreshRecordNames re-derives the denormalized office and level
// display names on all records from the reference caches. Called after
// a successful reference pull so cached names cannot drift silently.
func (s *Store) RefreshRecordNames(ctx context.Context) error {
	const update = `
	UPDATE attendance_records SET
		office_name = COALESCE((SELECT name FROM offices WHERE offices.id = office_id), office_name),
		level_name = COALESCE((SELECT name FROM levels WHERE levels.id = level_id), level_name)`
	if _, err := s.conn.ExecContext(ctx, update); err != nil {
		return classify(fmt.Errorf("failed to refresh display names: %w", err))
	}
	return nil
}
