package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Ahmmada/Expo33/internal/schema"
)

// SaveAttendance creates or replaces an attendance record locally and
// appends the matching change-queue entry, all in one transaction.
//
// With an empty existingID a new record is created after checking the
// (office, level, date) uniqueness invariant; a violation returns
// ErrDuplicateRecord with no write performed. With existingID set, the
// student-status set is fully overwritten (not merged) and the record
// is marked for update - unless it still carries an unsynced create,
// in which case it stays a create with newer content.
//
// Returns the record UUID.
func (s *Store) SaveAttendance(ctx context.Context, date string, officeID, levelID int64, statuses []schema.StudentStatus, existingID string) (string, error) {
	if _, err := time.Parse(schema.DateLayout, date); err != nil {
		return "", fmt.Errorf("invalid date %q: %w", date, err)
	}
	seen := make(map[int64]bool, len(statuses))
	for _, ss := range statuses {
		if !ss.Status.Valid() {
			return "", fmt.Errorf("unknown status %q for student %d", ss.Status, ss.StudentID)
		}
		if seen[ss.StudentID] {
			return "", fmt.Errorf("duplicate status for student %d", ss.StudentID)
		}
		seen[ss.StudentID] = true
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	officeName, levelName, err := lookupNames(ctx, tx, officeID, levelID)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	rec := schema.AttendanceRecord{
		Date:       date,
		OfficeID:   officeID,
		LevelID:    levelID,
		OfficeName: officeName,
		LevelName:  levelName,
		State:      schema.StateActive,
		UpdatedAt:  now,
	}

	if existingID == "" {
		taken, err := tripleTaken(ctx, tx, officeID, levelID, date, "")
		if err != nil {
			return "", err
		}
		if taken {
			return "", ErrDuplicateRecord
		}

		rec.UUID = schema.NewRecordID()
		rec.OpType = schema.OpCreate
		rec.CreatedAt = now

		const insert = `
		INSERT INTO attendance_records (
			uuid, record_date, office_id, level_id, office_name, level_name,
			operation_type, state, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		_, err = tx.ExecContext(ctx, insert,
			rec.UUID, rec.Date, rec.OfficeID, rec.LevelID, rec.OfficeName, rec.LevelName,
			string(rec.OpType), string(rec.State),
			rec.CreatedAt.Format(time.RFC3339), rec.UpdatedAt.Format(time.RFC3339),
		)
		if err != nil {
			return "", classify(fmt.Errorf("failed to insert record: %w", err))
		}
	} else {
		existing, err := recordByUUIDTx(ctx, tx, existingID)
		if err != nil {
			return "", err
		}
		if existing == nil || existing.State != schema.StateActive {
			return "", ErrRecordNotFound
		}

		taken, err := tripleTaken(ctx, tx, officeID, levelID, date, existingID)
		if err != nil {
			return "", err
		}
		if taken {
			return "", ErrDuplicateRecord
		}

		rec.UUID = existing.UUID
		rec.CreatedAt = existing.CreatedAt
		// An uncommitted creation is still just a creation with
		// newer content.
		if existing.OpType == schema.OpCreate {
			rec.OpType = schema.OpCreate
		} else {
			rec.OpType = schema.OpUpdate
		}

		const update = `
		UPDATE attendance_records SET
			record_date = ?, office_id = ?, level_id = ?,
			office_name = ?, level_name = ?,
			operation_type = ?, updated_at = ?
		WHERE uuid = ?`
		_, err = tx.ExecContext(ctx, update,
			rec.Date, rec.OfficeID, rec.LevelID, rec.OfficeName, rec.LevelName,
			string(rec.OpType), rec.UpdatedAt.Format(time.RFC3339), rec.UUID,
		)
		if err != nil {
			return "", classify(fmt.Errorf("failed to update record: %w", err))
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM student_attendance WHERE record_uuid = ?`, rec.UUID); err != nil {
			return "", classify(fmt.Errorf("failed to clear entries: %w", err))
		}
	}

	entries := make([]schema.StudentEntry, 0, len(statuses))
	for _, ss := range statuses {
		entry := schema.StudentEntry{
			RecordUUID: rec.UUID,
			StudentID:  ss.StudentID,
			Status:     ss.Status,
		}
		if err := entry.Validate(); err != nil {
			return "", fmt.Errorf("invalid entry: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO student_attendance (record_uuid, student_id, status) VALUES (?, ?, ?)`,
			entry.RecordUUID, entry.StudentID, string(entry.Status),
		)
		if err != nil {
			return "", classify(fmt.Errorf("failed to insert entry for student %d: %w", ss.StudentID, err))
		}
		entries = append(entries, entry)
	}

	snap := schema.RecordSnapshot{Record: rec, Entries: entries}
	payload, err := snap.Encode()
	if err != nil {
		return "", err
	}
	change := schema.ChangeEntry{
		Table:     schema.TableAttendanceRecords,
		EntityID:  rec.UUID,
		Op:        rec.OpType,
		Payload:   payload,
		CreatedAt: now,
	}
	if err := appendChangeTx(ctx, tx, &change); err != nil {
		return "", err
	}

	if err := tx.Commit(); err != nil {
		return "", classify(fmt.Errorf("failed to commit save: %w", err))
	}

	return rec.UUID, nil
}

// DeleteRecord removes an attendance record.
//
// A record that has already been seen by the remote is soft-deleted:
// it is marked pending_delete, excluded from listings immediately, and
// a delete entry is queued; the physical purge happens when the remote
// acknowledges the delete. A record whose create was never synced is
// physically deleted and its queue entries are scrubbed - there is
// nothing to tell the remote about.
func (s *Store) DeleteRecord(ctx context.Context, id string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	rec, err := recordByUUIDTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if rec == nil || rec.State != schema.StateActive {
		return ErrRecordNotFound
	}

	now := time.Now().UTC()

	if rec.OpType == schema.OpCreate {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM change_queue WHERE table_name = ? AND entity_id = ?`,
			schema.TableAttendanceRecords, id,
		); err != nil {
			return classify(fmt.Errorf("failed to scrub queue entries: %w", err))
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM attendance_records WHERE uuid = ?`, id); err != nil {
			return classify(fmt.Errorf("failed to delete record: %w", err))
		}
		return classify(tx.Commit())
	}

	const update = `
	UPDATE attendance_records SET operation_type = ?, state = ?, updated_at = ?
	WHERE uuid = ?`
	if _, err := tx.ExecContext(ctx, update,
		string(schema.OpDelete), string(schema.StatePendingDelete),
		now.Format(time.RFC3339), id,
	); err != nil {
		return classify(fmt.Errorf("failed to mark record deleted: %w", err))
	}

	rec.OpType = schema.OpDelete
	rec.State = schema.StatePendingDelete
	rec.UpdatedAt = now
	snap := schema.RecordSnapshot{Record: *rec}
	payload, err := snap.Encode()
	if err != nil {
		return err
	}
	change := schema.ChangeEntry{
		Table:     schema.TableAttendanceRecords,
		EntityID:  id,
		Op:        schema.OpDelete,
		Payload:   payload,
		CreatedAt: now,
	}
	if err := appendChangeTx(ctx, tx, &change); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify(fmt.Errorf("failed to commit delete: %w", err))
	}
	return nil
}

// Records returns all active attendance records, most recent first,
// annotated with their pending operation type.
func (s *Store) Records(ctx context.Context) ([]*schema.AttendanceRecord, error) {
	const query = `
	SELECT uuid, record_date, office_id, level_id, office_name, level_name,
	       operation_type, state, created_at, updated_at
	FROM attendance_records
	WHERE state = 'active'
	ORDER BY record_date DESC, created_at DESC`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to list records: %w", err))
	}
	defer rows.Close()

	return scanRecords(rows)
}

// RecordByUUID retrieves a single record by identifier.
// A lookup miss is an empty result: (nil, nil), not an error.
func (s *Store) RecordByUUID(ctx context.Context, id string) (*schema.AttendanceRecord, error) {
	return recordByUUIDTx(ctx, s.conn, id)
}

// StudentAttendance returns the status lines for a record, ordered by
// student identifier.
func (s *Store) StudentAttendance(ctx context.Context, id string) ([]schema.StudentEntry, error) {
	const query = `
	SELECT record_uuid, student_id, status
	FROM student_attendance
	WHERE record_uuid = ?
	ORDER BY student_id ASC`

	rows, err := s.conn.QueryContext(ctx, query, id)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query entries: %w", err))
	}
	defer rows.Close()

	var entries []schema.StudentEntry
	for rows.Next() {
		var e schema.StudentEntry
		var status string
		if err := rows.Scan(&e.RecordUUID, &e.StudentID, &status); err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		e.Status = schema.Status(status)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating entries: %w", err)
	}
	return entries, nil
}

// PurgeRecord physically removes a record and its entries. Called by
// the sync layer once the remote has acknowledged the queued delete.
// Idempotent - purging a missing record is a no-op.
func (s *Store) PurgeRecord(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM attendance_records WHERE uuid = ?`, id); err != nil {
		return classify(fmt.Errorf("failed to purge record %s: %w", id, err))
	}
	return nil
}

// ClearOpType clears the pending-mutation marker after the remote has
// acknowledged a create or update.
func (s *Store) ClearOpType(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx,
		`UPDATE attendance_records SET operation_type = NULL WHERE uuid = ?`, id,
	); err != nil {
		return classify(fmt.Errorf("failed to clear operation type for %s: %w", id, err))
	}
	return nil
}

// ApplyRemoteRecord overwrites local state with an authoritative
// remote version: record and entry set replaced wholesale, mutation
// marker cleared. A different record holding the same (office, level,
// date) triple is superseded in the same transaction - its row and any
// queue entries are removed before the upsert, so the apply can never
// trip the uniqueness index halfway through. Used by pull-merge and by
// conflict resolution.
//
// Returns the number of queue entries discarded by superseding.
func (s *Store) ApplyRemoteRecord(ctx context.Context, snap *schema.RecordSnapshot) (int, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	discarded, err := applyRemoteRecordTx(ctx, tx, snap)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, classify(fmt.Errorf("failed to commit remote apply: %w", err))
	}
	return discarded, nil
}

// ResolveConflict applies the server's answer to a rejected push as one
// atomic unit. The losing entity's queued entries are discarded and its
// record removed; when the remote still has a version (snap non-nil) it
// is applied in the same transaction, superseding whatever holds its
// triple. Nothing is discarded unless the whole resolution commits, so
// a failed apply leaves the queue intact for the next run.
//
// Returns the number of queue entries discarded.
func (s *Store) ResolveConflict(ctx context.Context, table, entityID string, snap *schema.RecordSnapshot) (int, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`DELETE FROM change_queue WHERE table_name = ? AND entity_id = ?`,
		table, entityID,
	)
	if err != nil {
		return 0, classify(fmt.Errorf("failed to discard entries for %s: %w", entityID, err))
	}
	discarded := 0
	if n, err := res.RowsAffected(); err == nil {
		discarded = int(n)
	}

	if snap == nil || snap.Record.UUID != entityID {
		// The losing local record has no remote counterpart under
		// its own identifier; remove it outright.
		if _, err := tx.ExecContext(ctx, `DELETE FROM attendance_records WHERE uuid = ?`, entityID); err != nil {
			return 0, classify(fmt.Errorf("failed to remove losing record %s: %w", entityID, err))
		}
	}

	if snap != nil {
		n, err := applyRemoteRecordTx(ctx, tx, snap)
		if err != nil {
			return 0, err
		}
		discarded += n
	}

	if err := tx.Commit(); err != nil {
		return 0, classify(fmt.Errorf("failed to commit conflict resolution: %w", err))
	}
	return discarded, nil
}

func applyRemoteRecordTx(ctx context.Context, tx *sql.Tx, snap *schema.RecordSnapshot) (int, error) {
	rec := snap.Record

	discarded := 0
	occupant, err := tripleOccupantTx(ctx, tx, rec.OfficeID, rec.LevelID, rec.Date, rec.UUID)
	if err != nil {
		return 0, err
	}
	if occupant != "" {
		res, err := tx.ExecContext(ctx,
			`DELETE FROM change_queue WHERE table_name = ? AND entity_id = ?`,
			schema.TableAttendanceRecords, occupant,
		)
		if err != nil {
			return 0, classify(fmt.Errorf("failed to discard entries for superseded %s: %w", occupant, err))
		}
		if n, err := res.RowsAffected(); err == nil {
			discarded = int(n)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM attendance_records WHERE uuid = ?`, occupant); err != nil {
			return 0, classify(fmt.Errorf("failed to supersede record %s: %w", occupant, err))
		}
	}

	const upsert = `
	INSERT INTO attendance_records (
		uuid, record_date, office_id, level_id, office_name, level_name,
		operation_type, state, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, NULL, 'active', ?, ?)
	ON CONFLICT(uuid) DO UPDATE SET
		record_date = excluded.record_date,
		office_id = excluded.office_id,
		level_id = excluded.level_id,
		office_name = excluded.office_name,
		level_name = excluded.level_name,
		operation_type = NULL,
		state = 'active',
		updated_at = excluded.updated_at`
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = rec.UpdatedAt
	}
	if _, err := tx.ExecContext(ctx, upsert,
		rec.UUID, rec.Date, rec.OfficeID, rec.LevelID, rec.OfficeName, rec.LevelName,
		createdAt.Format(time.RFC3339), rec.UpdatedAt.Format(time.RFC3339),
	); err != nil {
		return 0, classify(fmt.Errorf("failed to apply remote record %s: %w", rec.UUID, err))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM student_attendance WHERE record_uuid = ?`, rec.UUID); err != nil {
		return 0, classify(fmt.Errorf("failed to clear entries for %s: %w", rec.UUID, err))
	}
	for _, e := range snap.Entries {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO student_attendance (record_uuid, student_id, status) VALUES (?, ?, ?)`,
			rec.UUID, e.StudentID, string(e.Status),
		); err != nil {
			return 0, classify(fmt.Errorf("failed to apply remote entry for %s: %w", rec.UUID, err))
		}
	}

	return discarded, nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func recordByUUIDTx(ctx context.Context, q queryer, id string) (*schema.AttendanceRecord, error) {
	const query = `
	SELECT uuid, record_date, office_id, level_id, office_name, level_name,
	       operation_type, state, created_at, updated_at
	FROM attendance_records
	WHERE uuid = ?`

	rec, err := scanRecord(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("failed to get record %s: %w", id, err))
	}
	return rec, nil
}

// tripleTaken counts every non-purged row: a soft-deleted record holds
// its triple until the remote acknowledges the delete and the row is
// purged.
func tripleTaken(ctx context.Context, q queryer, officeID, levelID int64, date, excludeUUID string) (bool, error) {
	const query = `
	SELECT COUNT(*) FROM attendance_records
	WHERE office_id = ? AND level_id = ? AND record_date = ?
	  AND uuid != ?`

	var count int
	if err := q.QueryRowContext(ctx, query, officeID, levelID, date, excludeUUID).Scan(&count); err != nil {
		return false, classify(fmt.Errorf("failed to check uniqueness: %w", err))
	}
	return count > 0, nil
}

// TripleOccupant returns the UUID of the non-purged record holding the
// (office, level, date) triple, excluding excludeUUID. Empty when the
// triple is free.
func (s *Store) TripleOccupant(ctx context.Context, officeID, levelID int64, date, excludeUUID string) (string, error) {
	return tripleOccupantTx(ctx, s.conn, officeID, levelID, date, excludeUUID)
}

func tripleOccupantTx(ctx context.Context, q queryer, officeID, levelID int64, date, excludeUUID string) (string, error) {
	const query = `
	SELECT uuid FROM attendance_records
	WHERE office_id = ? AND level_id = ? AND record_date = ?
	  AND uuid != ?`

	var id string
	err := q.QueryRowContext(ctx, query, officeID, levelID, date, excludeUUID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", classify(fmt.Errorf("failed to find triple occupant: %w", err))
	}
	return id, nil
}

func lookupNames(ctx context.Context, q queryer, officeID, levelID int64) (string, string, error) {
	var officeName string
	err := q.QueryRowContext(ctx, `SELECT name FROM offices WHERE id = ?`, officeID).Scan(&officeName)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrUnknownOffice
	}
	if err != nil {
		return "", "", classify(fmt.Errorf("failed to resolve office %d: %w", officeID, err))
	}

	var levelName string
	err = q.QueryRowContext(ctx, `SELECT name FROM levels WHERE id = ?`, levelID).Scan(&levelName)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrUnknownLevel
	}
	if err != nil {
		return "", "", classify(fmt.Errorf("failed to resolve level %d: %w", levelID, err))
	}

	return officeName, levelName, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*schema.AttendanceRecord, error) {
	var rec schema.AttendanceRecord
	var opType sql.NullString
	var state, createdAt, updatedAt string

	err := row.Scan(
		&rec.UUID,
		&rec.Date,
		&rec.OfficeID,
		&rec.LevelID,
		&rec.OfficeName,
		&rec.LevelName,
		&opType,
		&state,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if opType.Valid {
		rec.OpType = schema.OpType(opType.String)
	}
	rec.State = schema.RecordState(state)
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		rec.UpdatedAt = t
	}

	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]*schema.AttendanceRecord, error) {
	var records []*schema.AttendanceRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}
