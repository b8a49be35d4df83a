package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Ahmmada/Expo33/internal/schema"
)

// DefaultAttemptCeiling is the number of failed push attempts after
// which a queue entry is poisoned and excluded from automatic retries.
const DefaultAttemptCeiling = 5

// appendChangeTx appends a change entry inside an existing record
// transaction. Record write and queue append are one atomic unit; the
// queue is never appended to outside a record mutation.
func appendChangeTx(ctx context.Context, tx *sql.Tx, change *schema.ChangeEntry) error {
	if err := change.Validate(); err != nil {
		return fmt.Errorf("invalid change entry: %w", err)
	}

	const insert = `
	INSERT INTO change_queue (table_name, entity_id, operation, payload, created_at)
	VALUES (?, ?, ?, ?, ?)`
	res, err := tx.ExecContext(ctx, insert,
		change.Table, change.EntityID, string(change.Op),
		string(change.Payload), change.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return classify(fmt.Errorf("failed to append change entry: %w", err))
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read change sequence: %w", err)
	}
	change.Seq = seq
	return nil
}

// PendingChanges returns the unpoisoned queue entries for a table,
// oldest first. Replay order for a given entity equals creation order.
func (s *Store) PendingChanges(ctx context.Context, table string) ([]*schema.ChangeEntry, error) {
	const query = `
	SELECT seq, table_name, entity_id, operation, payload, created_at, attempts, poisoned
	FROM change_queue
	WHERE table_name = ? AND poisoned = 0
	ORDER BY seq ASC`

	rows, err := s.conn.QueryContext(ctx, query, table)
	if err != nil {
		return nil, classify(fmt.Errorf("failed to query pending changes: %w", err))
	}
	defer rows.Close()

	return scanChanges(rows)
}

// Acknowledge removes exactly one queue entry after the remote has
// confirmed it. Idempotent - acknowledging a missing entry is a no-op,
// which guards against duplicate acknowledgment from retried runs.
func (s *Store) Acknowledge(ctx context.Context, seq int64) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM change_queue WHERE seq = ?`, seq); err != nil {
		return classify(fmt.Errorf("failed to acknowledge entry %d: %w", seq, err))
	}
	return nil
}

// BumpAttempt increments the attempt counter after a failed push.
// Once the counter reaches the ceiling the entry is poisoned and
// excluded from automatic retries, so one bad entry cannot block the
// queue indefinitely. Returns whether the entry is now poisoned.
func (s *Store) BumpAttempt(ctx context.Context, seq int64, ceiling int) (bool, error) {
	if ceiling <= 0 {
		ceiling = DefaultAttemptCeiling
	}

	const update = `
	UPDATE change_queue
	SET attempts = attempts + 1,
	    poisoned = CASE WHEN attempts + 1 >= ? THEN 1 ELSE 0 END
	WHERE seq = ?`
	if _, err := s.conn.ExecContext(ctx, update, ceiling, seq); err != nil {
		return false, classify(fmt.Errorf("failed to bump attempt for entry %d: %w", seq, err))
	}

	var poisoned bool
	err := s.conn.QueryRowContext(ctx, `SELECT poisoned FROM change_queue WHERE seq = ?`, seq).Scan(&poisoned)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, classify(fmt.Errorf("failed to read entry %d: %w", seq, err))
	}
	return poisoned, nil
}

// UnsyncedCount returns the number of queued changes for a table,
// poisoned entries included. This feeds the UI's pending-change badge.
func (s *Store) UnsyncedCount(ctx context.Context, table string) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM change_queue WHERE table_name = ?`, table,
	).Scan(&count)
	if err != nil {
		return 0, classify(fmt.Errorf("failed to count unsynced changes: %w", err))
	}
	return count, nil
}

// PoisonedCount returns the number of poisoned entries for a table.
func (s *Store) PoisonedCount(ctx context.Context, table string) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM change_queue WHERE table_name = ? AND poisoned = 1`, table,
	).Scan(&count)
	if err != nil {
		return 0, classify(fmt.Errorf("failed to count poisoned changes: %w", err))
	}
	return count, nil
}

// RetryPoisoned resets the poison flag and attempt counter for every
// poisoned entry of a table, returning them to automatic sync. This is
// the manual-intervention path. Returns the number of entries revived.
func (s *Store) RetryPoisoned(ctx context.Context, table string) (int, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE change_queue SET poisoned = 0, attempts = 0 WHERE table_name = ? AND poisoned = 1`,
		table,
	)
	if err != nil {
		return 0, classify(fmt.Errorf("failed to retry poisoned entries: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count revived entries: %w", err)
	}
	return int(n), nil
}

// DiscardEntity removes every queued entry for one entity identifier.
// Used by conflict resolution: once the server version has overwritten
// local state, replaying older local entries would resurrect it.
// Returns the number of entries discarded.
func (s *Store) DiscardEntity(ctx context.Context, table, entityID string) (int, error) {
	res, err := s.conn.ExecContext(ctx,
		`DELETE FROM change_queue WHERE table_name = ? AND entity_id = ?`,
		table, entityID,
	)
	if err != nil {
		return 0, classify(fmt.Errorf("failed to discard entries for %s: %w", entityID, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count discarded entries: %w", err)
	}
	return int(n), nil
}

// HasPendingChange reports whether an entity has any queued local
// mutation. Pull-merge uses this to defer remote rows whose local
// counterpart is still unsynced.
func (s *Store) HasPendingChange(ctx context.Context, table, entityID string) (bool, error) {
	var count int
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM change_queue WHERE table_name = ? AND entity_id = ?`,
		table, entityID,
	).Scan(&count)
	if err != nil {
		return false, classify(fmt.Errorf("failed to check pending change: %w", err))
	}
	return count > 0, nil
}

// Watermark returns the last successful pull timestamp for an entity
// type, or the zero time if it has never been pulled.
func (s *Store) Watermark(ctx context.Context, entityType string) (time.Time, error) {
	var raw string
	err := s.conn.QueryRowContext(ctx,
		`SELECT last_pull_at FROM sync_state WHERE entity_type = ?`, entityType,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, classify(fmt.Errorf("failed to read watermark: %w", err))
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse watermark %q: %w", raw, err)
	}
	return t, nil
}

// SetWatermark records the last successful pull timestamp for an
// entity type. Only the sync layer advances it, and only after a pull
// completed without error.
func (s *Store) SetWatermark(ctx context.Context, entityType string, t time.Time) error {
	const upsert = `
	INSERT INTO sync_state (entity_type, last_pull_at) VALUES (?, ?)
	ON CONFLICT(entity_type) DO UPDATE SET last_pull_at = excluded.last_pull_at`
	if _, err := s.conn.ExecContext(ctx, upsert, entityType, t.UTC().Format(time.RFC3339)); err != nil {
		return classify(fmt.Errorf("failed to set watermark: %w", err))
	}
	return nil
}

func scanChanges(rows *sql.Rows) ([]*schema.ChangeEntry, error) {
	var changes []*schema.ChangeEntry
	for rows.Next() {
		var c schema.ChangeEntry
		var op, payload, createdAt string
		err := rows.Scan(&c.Seq, &c.Table, &c.EntityID, &op, &payload, &createdAt, &c.Attempts, &c.Poisoned)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change entry: %w", err)
		}
		c.Op = schema.OpType(op)
		c.Payload = []byte(payload)
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			c.CreatedAt = t
		}
		changes = append(changes, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating change entries: %w", err)
	}
	return changes, nil
}
