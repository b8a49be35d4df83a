// Package schema provides the data structures shared by the attendance
// store, change queue, and sync layers.
package schema

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DateLayout is the calendar-date format used for attendance records.
// Records are keyed by day, not by instant, so no time zone or clock
// component is stored.
const DateLayout = "2006-01-02"

// Status is the attendance status of a single student on a record.
type Status string

const (
	StatusPresent Status = "present"
	StatusAbsent  Status = "absent"
	StatusExcused Status = "excused"
)

// Valid reports whether s is one of the known attendance statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusExcused:
		return true
	}
	return false
}

// OpType marks the pending local mutation on a record or queue entry.
// The empty value means the record is fully synchronized.
type OpType string

const (
	OpNone   OpType = ""
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// RecordState is the lifecycle state of a record.
//
// A PendingDelete record is excluded from listings but must remain
// addressable by its queued delete entry until the remote acknowledges
// the delete, at which point it is physically purged.
type RecordState string

const (
	StateActive        RecordState = "active"
	StatePendingDelete RecordState = "pending_delete"
)

// AttendanceRecord is one attendance sheet for an (office, level, date)
// triple. At most one non-purged record may exist per triple; a pending
// delete keeps holding its triple until the purge.
//
// OfficeName and LevelName are denormalized copies of the reference
// entities so the record stays displayable while offline. They are
// refreshed whenever a reference pull succeeds.
type AttendanceRecord struct {
	UUID       string      `json:"uuid"`
	Date       string      `json:"date"` // DateLayout
	OfficeID   int64       `json:"office_id"`
	LevelID    int64       `json:"level_id"`
	OfficeName string      `json:"office_name,omitempty"`
	LevelName  string      `json:"level_name,omitempty"`
	OpType     OpType      `json:"operation_type,omitempty"`
	State      RecordState `json:"-"`
	CreatedAt  time.Time   `json:"created_at"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// Validate checks field values before the record touches storage.
func (r *AttendanceRecord) Validate() error {
	if r.UUID == "" {
		return fmt.Errorf("uuid is required")
	}
	if _, err := uuid.Parse(r.UUID); err != nil {
		return fmt.Errorf("uuid is not a valid UUID: %w", err)
	}
	if _, err := time.Parse(DateLayout, r.Date); err != nil {
		return fmt.Errorf("date must be in %s form: %w", DateLayout, err)
	}
	if r.OfficeID <= 0 {
		return fmt.Errorf("office_id is required")
	}
	if r.LevelID <= 0 {
		return fmt.Errorf("level_id is required")
	}
	switch r.OpType {
	case OpNone, OpCreate, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("unknown operation type %q", r.OpType)
	}
	return nil
}

// Synced reports whether the record carries no pending local mutation.
func (r *AttendanceRecord) Synced() bool {
	return r.OpType == OpNone
}

// NewRecordID returns a fresh globally unique record identifier.
func NewRecordID() string {
	return uuid.NewString()
}

// StudentEntry is one student's status line on an attendance record.
// Identity is the (record, student) pair; entries are owned by their
// record and deleted with it.
type StudentEntry struct {
	RecordUUID string `json:"record_uuid"`
	StudentID  int64  `json:"student_id"`
	Status     Status `json:"status"`
}

// Validate checks field values before the entry touches storage.
func (e *StudentEntry) Validate() error {
	if e.RecordUUID == "" {
		return fmt.Errorf("record_uuid is required")
	}
	if e.StudentID <= 0 {
		return fmt.Errorf("student_id is required")
	}
	if !e.Status.Valid() {
		return fmt.Errorf("unknown status %q", e.Status)
	}
	return nil
}

// StudentStatus is the caller-facing input pair for SaveAttendance.
type StudentStatus struct {
	StudentID int64  `json:"student_id"`
	Status    Status `json:"status"`
}
