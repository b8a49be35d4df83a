// Package sync provides the synchronization manager that reconciles
// the local attendance store with the remote system of record.
package sync

import (
	"context"
	"errors"
	"time"

	"github.com/Ahmmada/Expo33/internal/schema"
)

// ErrTransient marks a push or pull failure that is expected to
// succeed on a later attempt (network error, server unavailable).
// Remote clients wrap transient failures with this sentinel so the
// manager can distinguish them from genuine rejections:
//
//	if errors.Is(err, sync.ErrTransient) {
//	    // keep the entry queued, bump its attempt counter
//	}
var ErrTransient = errors.New("transient sync failure")

// IsTransient reports whether err should leave the queue entry in
// place for a later retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// PushStatus classifies the remote's answer to a pushed change.
type PushStatus int

const (
	// PushAcked means the remote accepted and durably stored the
	// change; the queue entry may be removed.
	PushAcked PushStatus = iota

	// PushConflict means the remote already holds a newer or
	// duplicate version. The result carries the server's
	// authoritative version for last-writer-wins resolution.
	PushConflict
)

// RemoteRecord is one authoritative record version as reported by the
// remote, either in a conflict response or in a pull.
type RemoteRecord struct {
	// Snapshot is the record plus its entry set.
	Snapshot schema.RecordSnapshot

	// Deleted is true when the remote has deleted this record; the
	// local copy must be purged rather than overwritten.
	Deleted bool

	// ServerTime is the remote's authoritative timestamp for this
	// version, used for last-writer-wins ordering.
	ServerTime time.Time
}

// PushResult is the remote's answer to a single pushed change entry.
type PushResult struct {
	Status PushStatus

	// Server holds the remote's version when Status is PushConflict.
	// Nil with PushConflict means the remote deleted the record.
	Server *RemoteRecord
}

// Pull is one pull-since-watermark response. Exactly one of the entity
// slices is populated, matching the requested entity type.
type Pull struct {
	Records  []RemoteRecord
	Offices  []schema.Office
	Levels   []schema.Level
	Students []schema.Student

	// ServerTime is the remote clock at response time. It becomes
	// the new watermark after a clean merge, so client clock skew
	// never widens or narrows the pull window.
	ServerTime time.Time
}

// RemoteClient is the boundary to the remote system of record.
//
// Push delivers one queued change snapshot. A transient failure is an
// error wrapping ErrTransient; any other error is fatal to the run.
// PullSince returns the entities created or modified after the given
// watermark (the zero time means "everything").
type RemoteClient interface {
	Push(ctx context.Context, change *schema.ChangeEntry) (*PushResult, error)
	PullSince(ctx context.Context, entityType string, since time.Time) (*Pull, error)
}

// Outcome is the single success/failure result of one sync run.
// No silent data loss: a local change discarded by conflict resolution
// is always counted and surfaced in the message.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`

	EntityType string `json:"entity_type"`
	Pushed     int    `json:"pushed"`
	Merged     int    `json:"merged"`
	Deferred   int    `json:"deferred"`
	Discarded  int    `json:"discarded"`
}

// Syncer reconciles local state with the remote, one entity type at a
// time.
//
// For each entity type at most one run may be in flight: a call while
// a run is active returns immediately with a non-fatal failure outcome
// instead of queuing a second run. Automatic triggers (connectivity
// regained, post-mutation) and manual triggers route through the same
// entry point and inherit the guard.
type Syncer interface {
	// SyncEntity drains the change queue for the entity type
	// (oldest first), pushes to the remote, resolves conflicts by
	// last-writer-wins, then pulls and merges remote updates since
	// the last watermark. Reference entity types have no queued
	// changes, so their runs are pull-only.
	SyncEntity(ctx context.Context, entityType string) Outcome

	// SyncAll runs SyncEntity for every entity type in the fixed
	// order: offices, levels, students, attendance records.
	SyncAll(ctx context.Context) []Outcome

	// Running reports whether a run for the entity type is in
	// flight.
	Running(entityType string) bool
}
