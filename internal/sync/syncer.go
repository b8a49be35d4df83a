package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	stdsync "sync"
	"time"

	"github.com/Ahmmada/Expo33/internal/schema"
	"github.com/Ahmmada/Expo33/internal/store"
)

// Config holds tunables for the sync manager.
type Config struct {
	// AttemptCeiling is the failed-push count after which a queue
	// entry is poisoned (default: store.DefaultAttemptCeiling).
	AttemptCeiling int

	// Logger for sync activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		AttemptCeiling: store.DefaultAttemptCeiling,
		Logger:         log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// manager implements the Syncer interface.
type manager struct {
	store   *store.Store
	remote  RemoteClient
	ceiling int
	logger  *log.Logger

	mu      stdsync.Mutex
	running map[string]bool
}

// New creates a new Syncer instance.
//
// The store must be opened and have its schema initialized before
// passing to this function. If config is nil, defaults are used.
//
// Example:
//
//	st, err := store.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	syncer := sync.New(st, remote.New(cfg.Remote), nil)
func New(st *store.Store, remote RemoteClient, config *Config) Syncer {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if config.AttemptCeiling <= 0 {
		config.AttemptCeiling = store.DefaultAttemptCeiling
	}
	return &manager{
		store:   st,
		remote:  remote,
		ceiling: config.AttemptCeiling,
		logger:  config.Logger,
		running: make(map[string]bool),
	}
}

// Running implements Syncer.Running.
func (m *manager) Running(entityType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[entityType]
}

// begin is the single acquisition point for the per-entity-type run
// state. It returns false if a run is already in flight.
func (m *manager) begin(entityType string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running[entityType] {
		return false
	}
	m.running[entityType] = true
	return true
}

func (m *manager) end(entityType string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.running, entityType)
}

// SyncAll implements Syncer.SyncAll.
func (m *manager) SyncAll(ctx context.Context) []Outcome {
	outcomes := make([]Outcome, 0, len(schema.SyncOrder))
	for _, entityType := range schema.SyncOrder {
		outcomes = append(outcomes, m.SyncEntity(ctx, entityType))
	}
	return outcomes
}

// SyncEntity implements Syncer.SyncEntity.
func (m *manager) SyncEntity(ctx context.Context, entityType string) Outcome {
	if !validEntityType(entityType) {
		return Outcome{
			Success:    false,
			EntityType: entityType,
			Message:    fmt.Sprintf("unknown entity type %q", entityType),
		}
	}

	if !m.begin(entityType) {
		return Outcome{
			Success:    false,
			EntityType: entityType,
			Message:    "sync already in progress",
		}
	}
	defer m.end(entityType)

	m.logger.Printf("Starting sync: %s", entityType)

	out := Outcome{EntityType: entityType}
	var notes []string

	if err := m.push(ctx, entityType, &out, &notes); err != nil {
		out.Success = false
		out.Message = joinNotes(fmt.Sprintf("sync incomplete: %v", err), notes)
		m.logger.Printf("Sync failed for %s: %v", entityType, err)
		return out
	}

	if err := m.pull(ctx, entityType, &out); err != nil {
		out.Success = false
		out.Message = joinNotes(fmt.Sprintf("pull failed: %v", err), notes)
		m.logger.Printf("Pull failed for %s: %v", entityType, err)
		return out
	}

	out.Success = true
	out.Message = joinNotes(summarize(&out), notes)
	m.logger.Printf("Sync complete: %s (%s)", entityType, out.Message)
	return out
}

// push drains the unpoisoned queue entries for the entity type, oldest
// first. It stops at the first transient failure to preserve ordering,
// and never acknowledges an entry the remote has not confirmed.
func (m *manager) push(ctx context.Context, entityType string, out *Outcome, notes *[]string) error {
	entries, err := m.store.PendingChanges(ctx, entityType)
	if err != nil {
		return err
	}

	// Entities whose queue entries were discarded by a conflict in
	// this run; later entries for them must not be replayed.
	discarded := make(map[string]bool)

	for _, entry := range entries {
		if discarded[entry.EntityID] {
			continue
		}

		result, err := m.remote.Push(ctx, entry)
		if IsTransient(err) {
			poisoned, bumpErr := m.store.BumpAttempt(ctx, entry.Seq, m.ceiling)
			if bumpErr != nil {
				return bumpErr
			}
			if poisoned {
				*notes = append(*notes, fmt.Sprintf(
					"entry %d for %s exceeded %d attempts and was poisoned; run sync --retry-poisoned to revive it",
					entry.Seq, entry.EntityID, m.ceiling))
			}
			return fmt.Errorf("%d of %d changes pushed, remote unavailable: %w", out.Pushed, len(entries), err)
		}
		if err != nil {
			return fmt.Errorf("push rejected for entry %d: %w", entry.Seq, err)
		}

		switch result.Status {
		case PushAcked:
			if err := m.store.Acknowledge(ctx, entry.Seq); err != nil {
				return err
			}
			if entityType == schema.TableAttendanceRecords {
				if entry.Op == schema.OpDelete {
					if err := m.store.PurgeRecord(ctx, entry.EntityID); err != nil {
						return err
					}
				} else {
					if err := m.store.ClearOpType(ctx, entry.EntityID); err != nil {
						return err
					}
				}
			}
			out.Pushed++

		case PushConflict:
			// One transaction: apply the server version (superseding
			// whatever holds its triple) and discard the losing
			// entries. A failed apply rolls everything back, so the
			// queue keeps the change for the next run.
			var snap *schema.RecordSnapshot
			if result.Server != nil && !result.Server.Deleted {
				snap = &result.Server.Snapshot
			}
			n, err := m.store.ResolveConflict(ctx, entityType, entry.EntityID, snap)
			if err != nil {
				return fmt.Errorf("failed to resolve conflict for %s: %w", entry.EntityID, err)
			}
			discarded[entry.EntityID] = true
			out.Discarded += n
			*notes = append(*notes, fmt.Sprintf(
				"discarded %d local change(s) for %s: server has a newer version", n, entry.EntityID))
			m.logger.Printf("Conflict on %s: kept server version, discarded %d local change(s)", entry.EntityID, n)

		default:
			return fmt.Errorf("unknown push status %d for entry %d", result.Status, entry.Seq)
		}
	}

	return nil
}

// pull fetches remote updates since the watermark and merges them.
// The watermark advances only if the whole merge completed without
// error; remote rows with a local unsynced counterpart are deferred to
// the next run, so a pending local change keeps precedence until it is
// itself resolved.
func (m *manager) pull(ctx context.Context, entityType string, out *Outcome) error {
	since, err := m.store.Watermark(ctx, entityType)
	if err != nil {
		return err
	}

	pull, err := m.remote.PullSince(ctx, entityType, since)
	if err != nil {
		return err
	}

	switch entityType {
	case schema.TableOffices:
		if err := m.store.UpsertOffices(ctx, pull.Offices); err != nil {
			return err
		}
		out.Merged = len(pull.Offices)
		if len(pull.Offices) > 0 {
			if err := m.store.RefreshRecordNames(ctx); err != nil {
				return err
			}
		}

	case schema.TableLevels:
		if err := m.store.UpsertLevels(ctx, pull.Levels); err != nil {
			return err
		}
		out.Merged = len(pull.Levels)
		if len(pull.Levels) > 0 {
			if err := m.store.RefreshRecordNames(ctx); err != nil {
				return err
			}
		}

	case schema.TableStudents:
		if err := m.store.UpsertStudents(ctx, pull.Students); err != nil {
			return err
		}
		out.Merged = len(pull.Students)

	case schema.TableAttendanceRecords:
		for i := range pull.Records {
			rr := &pull.Records[i]
			id := rr.Snapshot.Record.UUID

			pending, err := m.store.HasPendingChange(ctx, entityType, id)
			if err != nil {
				return err
			}
			if pending {
				out.Deferred++
				continue
			}

			if rr.Deleted {
				if err := m.store.PurgeRecord(ctx, id); err != nil {
					return err
				}
				out.Merged++
				continue
			}

			// A different local record holding the same triple keeps
			// precedence while its own change is unsynced; the remote
			// row waits until that change is pushed or conflicts.
			rec := rr.Snapshot.Record
			occupant, err := m.store.TripleOccupant(ctx, rec.OfficeID, rec.LevelID, rec.Date, id)
			if err != nil {
				return err
			}
			if occupant != "" {
				occPending, err := m.store.HasPendingChange(ctx, entityType, occupant)
				if err != nil {
					return err
				}
				if occPending {
					out.Deferred++
					continue
				}
			}

			n, err := m.store.ApplyRemoteRecord(ctx, &rr.Snapshot)
			if err != nil {
				return err
			}
			out.Discarded += n
			out.Merged++
		}
	}

	watermark := pull.ServerTime
	if watermark.IsZero() {
		watermark = time.Now().UTC()
	}
	return m.store.SetWatermark(ctx, entityType, watermark)
}

func validEntityType(entityType string) bool {
	for _, t := range schema.SyncOrder {
		if t == entityType {
			return true
		}
	}
	return false
}

func summarize(out *Outcome) string {
	parts := []string{fmt.Sprintf("pushed %d", out.Pushed), fmt.Sprintf("merged %d", out.Merged)}
	if out.Deferred > 0 {
		parts = append(parts, fmt.Sprintf("deferred %d", out.Deferred))
	}
	if out.Discarded > 0 {
		parts = append(parts, fmt.Sprintf("discarded %d", out.Discarded))
	}
	return strings.Join(parts, ", ")
}

func joinNotes(msg string, notes []string) string {
	if len(notes) == 0 {
		return msg
	}
	return msg + "; " + strings.Join(notes, "; ")
}
