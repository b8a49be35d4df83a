// Package daemon provides the background autosync process.
//
// The daemon:
//  1. Performs a full sync on startup
//  2. Triggers a sync when connectivity comes back online
//  3. Watches the database file for local mutations (made by the CLI
//     or the UI process) and syncs after a debounce window
//  4. Syncs on a periodic interval as a safety net
//  5. Broadcasts outcomes and queue stats over the status server
//  6. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	stdsync "sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Ahmmada/Expo33/internal/dashboard"
	"github.com/Ahmmada/Expo33/internal/monitor"
	"github.com/Ahmmada/Expo33/internal/schema"
	"github.com/Ahmmada/Expo33/internal/store"
	"github.com/Ahmmada/Expo33/internal/sync"
)

// Config holds configuration for the daemon.
type Config struct {
	// DatabasePath is the SQLite database file to watch for local
	// mutations.
	DatabasePath string

	// SyncInterval is the periodic autosync interval.
	SyncInterval time.Duration

	// Debounce is how long to wait after a database change before
	// syncing. This batches rapid edits together.
	Debounce time.Duration

	// Logger for daemon activity.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval: 5 * time.Minute,
		Debounce:     3 * time.Second,
		Logger:       log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// NewLogger builds the daemon logger. With a non-empty logFile the
// log is written both to stderr and to a size-rotated file.
func NewLogger(logFile string) *log.Logger {
	var w io.Writer = os.Stderr
	if logFile != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	return log.New(w, "[daemon] ", log.LstdFlags)
}

// Daemon orchestrates connectivity-triggered, mutation-triggered, and
// periodic sync runs.
type Daemon struct {
	st     *store.Store
	syncer sync.Syncer
	prober *monitor.Prober
	dash   *dashboard.Server // nil when the status server is disabled
	config *Config

	watcher *fsnotify.Watcher

	mu         stdsync.Mutex
	dirtyAt    time.Time
	dirty      bool
	syncing    bool
	quietUntil time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup
}

// New creates a new Daemon instance.
//
// The store, syncer, and prober are required; dash may be nil to run
// without the status server. Use Start() to begin.
func New(st *store.Store, syncer sync.Syncer, prober *monitor.Prober, dash *dashboard.Server, config *Config) (*Daemon, error) {
	if st == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if syncer == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if prober == nil {
		return nil, fmt.Errorf("prober cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[daemon] ", log.LstdFlags)
	}
	if config.SyncInterval <= 0 {
		config.SyncInterval = 5 * time.Minute
	}
	if config.Debounce <= 0 {
		config.Debounce = 3 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		st:      st,
		syncer:  syncer,
		prober:  prober,
		dash:    dash,
		config:  config,
		watcher: watcher,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start begins the daemon's operation.
//
// This blocks until ctx is cancelled or a fatal error occurs.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	if err := d.prober.Start(ctx); err != nil {
		return fmt.Errorf("failed to start connectivity prober: %w", err)
	}

	if d.config.DatabasePath != "" {
		// Watch the database directory: SQLite touches the -wal
		// and -shm companions, not only the main file.
		dir := filepath.Dir(d.config.DatabasePath)
		if err := d.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch database directory: %w", err)
		}
		d.config.Logger.Printf("Watching: %s", dir)
	}

	// Initial sync so the device converges as soon as the daemon is
	// up.
	d.syncAll("startup")

	d.wg.Add(4)
	go d.watchFileEvents()
	go d.debounceLoop()
	go d.periodicLoop()
	go d.connectivityLoop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")

	d.cancel()

	if err := d.watcher.Close(); err != nil {
		d.config.Logger.Printf("Error closing watcher: %v", err)
	}
	d.prober.Stop()

	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// syncAll runs a full sync pass and broadcasts the outcomes.
//
// Sync runs write the database themselves (acks, watermarks, merges),
// and those writes land in the watched directory. Self-writes must not
// mark the database dirty or every run would schedule the next one.
func (d *Daemon) syncAll(reason string) {
	d.config.Logger.Printf("Sync triggered (%s)", reason)

	d.beginSelfWrites()
	defer d.endSelfWrites()

	for _, entityType := range schema.SyncOrder {
		if d.dash != nil {
			d.dash.Broadcast(dashboard.MessageTypeSyncStarted, dashboard.SyncStartedData{EntityType: entityType})
		}
		out := d.syncer.SyncEntity(d.ctx, entityType)
		if !out.Success {
			d.config.Logger.Printf("Sync of %s failed: %s", entityType, out.Message)
		}
		if d.dash != nil {
			d.dash.Broadcast(dashboard.MessageTypeSyncOutcome, out)
		}
	}

	d.broadcastQueueStats()
}

// broadcastQueueStats publishes pending/poisoned counts so UI badges
// stay current.
func (d *Daemon) broadcastQueueStats() {
	if d.dash == nil {
		return
	}

	stats := dashboard.QueueStatsData{
		Pending:  make(map[string]int),
		Poisoned: make(map[string]int),
	}
	for _, table := range schema.SyncOrder {
		pending, err := d.st.UnsyncedCount(d.ctx, table)
		if err != nil {
			d.config.Logger.Printf("Failed to count pending changes for %s: %v", table, err)
			continue
		}
		poisoned, err := d.st.PoisonedCount(d.ctx, table)
		if err != nil {
			d.config.Logger.Printf("Failed to count poisoned changes for %s: %v", table, err)
			continue
		}
		stats.Pending[table] = pending
		stats.Poisoned[table] = poisoned
	}
	d.dash.Broadcast(dashboard.MessageTypeQueueStats, stats)
}

// selfWriteGrace covers events the watcher delivers shortly after a
// sync run finishes, such as a trailing WAL checkpoint.
const selfWriteGrace = 1 * time.Second

// beginSelfWrites suppresses dirty-marking while a daemon-initiated
// sync run mutates the database.
func (d *Daemon) beginSelfWrites() {
	d.mu.Lock()
	d.syncing = true
	d.mu.Unlock()
}

func (d *Daemon) endSelfWrites() {
	d.mu.Lock()
	d.syncing = false
	d.quietUntil = time.Now().Add(selfWriteGrace)
	d.mu.Unlock()
}

// noteMutation marks the database dirty unless the write is the
// daemon's own.
func (d *Daemon) noteMutation() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.syncing || time.Now().Before(d.quietUntil) {
		return
	}
	d.dirty = true
	d.dirtyAt = time.Now()
}

// watchFileEvents marks the database dirty on writes so the debounce
// loop can trigger a post-mutation sync.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	base := filepath.Base(d.config.DatabasePath)

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if name != base && name != base+"-wal" {
				continue
			}
			d.noteMutation()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

// debounceLoop fires a sync once the database has been quiet for the
// debounce window.
func (d *Daemon) debounceLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Debounce)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.mu.Lock()
			due := d.dirty && time.Since(d.dirtyAt) >= d.config.Debounce
			if due {
				d.dirty = false
			}
			d.mu.Unlock()

			if due && d.prober.Online() {
				d.syncAll("local mutation")
			}
		}
	}
}

// periodicLoop syncs on the configured interval as a safety net.
func (d *Daemon) periodicLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if d.prober.Online() {
				d.syncAll("interval")
			}
		}
	}
}

// connectivityLoop reacts to online/offline transitions. Becoming
// online triggers a sync; going offline is only reported.
func (d *Daemon) connectivityLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case online, ok := <-d.prober.Transitions():
			if !ok {
				return
			}
			if d.dash != nil {
				d.dash.Broadcast(dashboard.MessageTypeConnectivity, dashboard.ConnectivityData{Online: online})
			}
			if online {
				d.syncAll("connectivity regained")
			}
		}
	}
}
