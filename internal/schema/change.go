package schema

import (
	"encoding/json"
	"fmt"
	"time"
)

// Table names for synchronizable entity types. The same strings double
// as sync entity types: attendance records are pushed and pulled, the
// reference tables are pull-only.
const (
	TableAttendanceRecords = "attendance_records"
	TableOffices           = "offices"
	TableLevels            = "levels"
	TableStudents          = "students"
)

// SyncOrder is the fixed order used when syncing everything: reference
// data first so attendance pushes validate against a fresh roster.
var SyncOrder = []string{
	TableOffices,
	TableLevels,
	TableStudents,
	TableAttendanceRecords,
}

// ChangeEntry is one pending local mutation in the change queue.
//
// Entries are append-only: added on every local write, removed only
// after the remote acknowledges that exact entry. Seq is assigned by
// the store and increases monotonically, so replay order for a given
// entity equals creation order.
type ChangeEntry struct {
	Seq       int64           `json:"seq"`
	Table     string          `json:"table"`
	EntityID  string          `json:"entity_id"`
	Op        OpType          `json:"op"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	Attempts  int             `json:"attempts"`
	Poisoned  bool            `json:"poisoned"`
}

// Validate checks field values before the entry is appended.
func (c *ChangeEntry) Validate() error {
	if c.Table == "" {
		return fmt.Errorf("table is required")
	}
	if c.EntityID == "" {
		return fmt.Errorf("entity_id is required")
	}
	switch c.Op {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("unknown operation type %q", c.Op)
	}
	if len(c.Payload) == 0 {
		return fmt.Errorf("payload is required")
	}
	return nil
}

// RecordSnapshot is the payload carried by an attendance change entry:
// the full record plus its entry set, sufficient to replay the mutation
// against the remote without re-reading local state. Delete entries
// carry a snapshot with an empty entry set.
type RecordSnapshot struct {
	Record  AttendanceRecord `json:"record"`
	Entries []StudentEntry   `json:"entries"`
}

// Encode serializes the snapshot for queue storage and remote push.
func (s *RecordSnapshot) Encode() (json.RawMessage, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot for %s: %w", s.Record.UUID, err)
	}
	return data, nil
}

// DecodeSnapshot parses a queue payload back into a snapshot.
func DecodeSnapshot(payload json.RawMessage) (*RecordSnapshot, error) {
	var s RecordSnapshot
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("failed to parse snapshot payload: %w", err)
	}
	return &s, nil
}
