// Package store provides the embedded SQLite storage for the offline
// attendance core: the record store, the change queue, the reference
// caches, and the per-entity sync watermarks.
//
// The database runs in embedded mode with WAL for concurrency support,
// so the UI process can read while a sync run writes.
//
// Architecture:
//   - Database file: ~/.expo33/expo33.db (configurable)
//   - WAL mode: concurrent readers during writes
//   - Schema: attendance_records, student_attendance, change_queue,
//     offices, levels, students, sync_state
//
// Every record mutation and its paired change-queue append execute in
// one SQLite transaction, so the store and the queue never diverge.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps the SQLite database connection for the attendance core.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent
// reads. If the database doesn't exist it is created; call InitSchema
// before first use. The caller MUST call Close() when done.
//
// Example:
//
//	st, err := store.Open("~/.expo33/expo33.db")
//	if err != nil {
//	    return err
//	}
//	defer st.Close()
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	st := &Store{
		conn: conn,
		path: path,
	}

	if _, err := st.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := st.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	if _, err := st.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return st, nil
}

// RawDB returns the underlying sql.DB connection.
// This is useful for integrating with other libraries that expect *sql.DB.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// Idempotent - safe to call multiple times.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS attendance_records (
		uuid TEXT PRIMARY KEY,
		record_date TEXT NOT NULL,
		office_id INTEGER NOT NULL,
		level_id INTEGER NOT NULL,
		office_name TEXT NOT NULL DEFAULT '',
		level_name TEXT NOT NULL DEFAULT '',
		operation_type TEXT,  -- create, update, delete; NULL = synced
		state TEXT NOT NULL DEFAULT 'active',  -- active, pending_delete
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- At most one non-purged record per (office, level, date) triple.
	-- A pending delete keeps holding the triple until the remote
	-- acknowledges it and the row is purged.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_records_triple
	    ON attendance_records(office_id, level_id, record_date);

	CREATE INDEX IF NOT EXISTS idx_records_date ON attendance_records(record_date);
	CREATE INDEX IF NOT EXISTS idx_records_state ON attendance_records(state);
	CREATE INDEX IF NOT EXISTS idx_records_op ON attendance_records(operation_type);

	CREATE TABLE IF NOT EXISTS student_attendance (
		record_uuid TEXT NOT NULL,
		student_id INTEGER NOT NULL,
		status TEXT NOT NULL,  -- present, absent, excused
		PRIMARY KEY (record_uuid, student_id),
		FOREIGN KEY (record_uuid) REFERENCES attendance_records(uuid) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS change_queue (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		table_name TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		payload TEXT NOT NULL,  -- JSON snapshot, sufficient to replay
		created_at TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		poisoned INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_queue_table ON change_queue(table_name, seq);
	CREATE INDEX IF NOT EXISTS idx_queue_entity ON change_queue(table_name, entity_id);

	CREATE TABLE IF NOT EXISTS offices (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS levels (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS students (
		id INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		office_id INTEGER NOT NULL,
		level_id INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_students_roster ON students(office_id, level_id);

	-- Last successful pull timestamp per entity type.
	CREATE TABLE IF NOT EXISTS sync_state (
		entity_type TEXT PRIMARY KEY,
		last_pull_at TEXT NOT NULL
	);
	`

	if _, err := s.conn.ExecContext(ctx, ddl); err != nil {
		return classify(fmt.Errorf("failed to initialize schema: %w", err))
	}

	return nil
}
