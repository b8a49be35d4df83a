// Package monitor provides connectivity detection for the offline
// attendance core.
//
// The core never blocks local writes on connectivity; the monitor's
// only job is to emit online/offline transitions so the daemon can
// trigger an automatic sync when the device comes back online.
package monitor

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

// Config configures the connectivity prober.
type Config struct {
	// ProbeURL is the endpoint probed for reachability, normally
	// the remote's health endpoint.
	ProbeURL string

	// Interval is how often to probe (default: 15s).
	Interval time.Duration

	// Timeout bounds each probe request (default: 5s).
	Timeout time.Duration

	// Logger for monitor activity (default: stderr logger).
	Logger *log.Logger
}

// Prober detects connectivity by periodically issuing a HEAD request
// against the probe URL and reports edge transitions on a channel.
//
// The first probe establishes the baseline without emitting; after
// that, every online/offline flip is delivered exactly once.
type Prober struct {
	cfg  Config
	http *http.Client

	transitions chan bool

	mu      sync.Mutex
	online  bool
	primed  bool
	running bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewProber creates a connectivity prober. The prober must be started
// with Start() before it will emit transitions.
func NewProber(cfg Config) (*Prober, error) {
	if cfg.ProbeURL == "" {
		return nil, fmt.Errorf("probe URL cannot be empty")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = log.New(os.Stderr, "[monitor] ", log.LstdFlags)
	}

	return &Prober{
		cfg:         cfg,
		http:        &http.Client{Timeout: cfg.Timeout},
		transitions: make(chan bool, 8),
		done:        make(chan struct{}),
	}, nil
}

// Transitions returns the channel on which online/offline flips are
// delivered: true for "became online", false for "became offline".
// Slow consumers lose the oldest transitions, never the newest state.
func (p *Prober) Transitions() <-chan bool {
	return p.transitions
}

// Online reports the most recently observed connectivity state.
func (p *Prober) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// Start begins probing. It returns immediately; probing continues
// until Stop is called or the context is cancelled.
func (p *Prober) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("prober already running")
	}
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go p.loop(ctx)
	return nil
}

// Stop halts probing and closes the transitions channel.
func (p *Prober) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()
	close(p.transitions)
}

func (p *Prober) loop(ctx context.Context) {
	defer p.wg.Done()

	// Probe once immediately so the baseline is known before the
	// first tick.
	p.observe(p.probe(ctx))

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.done:
			return
		case <-ticker.C:
			p.observe(p.probe(ctx))
		}
	}
}

func (p *Prober) probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.cfg.ProbeURL, nil)
	if err != nil {
		return false
	}
	resp, err := p.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// observe updates the connectivity state and emits a transition when
// it flipped.
func (p *Prober) observe(online bool) {
	p.mu.Lock()
	flipped := p.primed && online != p.online
	wasPrimed := p.primed
	p.online = online
	p.primed = true
	p.mu.Unlock()

	if !wasPrimed {
		p.cfg.Logger.Printf("Connectivity baseline: online=%v", online)
		return
	}
	if !flipped {
		return
	}

	p.cfg.Logger.Printf("Connectivity changed: online=%v", online)
	select {
	case p.transitions <- online:
	default:
		// Channel full: drop the oldest transition to keep the
		// newest state observable.
		select {
		case <-p.transitions:
		default:
		}
		select {
		case p.transitions <- online:
		default:
		}
	}
}
