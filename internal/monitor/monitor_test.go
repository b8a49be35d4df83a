package monitor

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testProber(t *testing.T, url string) *Prober {
	t.Helper()

	p, err := NewProber(Config{
		ProbeURL: url,
		Interval: 20 * time.Millisecond,
		Timeout:  time.Second,
		Logger:   log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("NewProber failed: %v", err)
	}
	return p
}

func waitTransition(t *testing.T, p *Prober) bool {
	t.Helper()

	select {
	case online := <-p.Transitions():
		return online
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transition")
		return false
	}
}

func TestProberDetectsOfflineAndRecovery(t *testing.T) {
	var down atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := testProber(t, srv.URL)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	// Baseline settles without emitting a transition.
	deadline := time.Now().Add(time.Second)
	for !p.Online() {
		if time.Now().After(deadline) {
			t.Fatal("prober never came online")
		}
		time.Sleep(10 * time.Millisecond)
	}
	select {
	case online := <-p.Transitions():
		t.Fatalf("baseline must not emit, got %v", online)
	default:
	}

	down.Store(true)
	if online := waitTransition(t, p); online {
		t.Error("expected offline transition")
	}
	if p.Online() {
		t.Error("Online must report offline")
	}

	down.Store(false)
	if online := waitTransition(t, p); !online {
		t.Error("expected online transition")
	}
	if !p.Online() {
		t.Error("Online must report online")
	}
}

func TestProberStartTwice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	p := testProber(t, srv.URL)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	if err := p.Start(context.Background()); err == nil {
		t.Error("second Start must fail")
	}
}

func TestProberUnreachableIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	p := testProber(t, srv.URL)
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer p.Stop()

	time.Sleep(100 * time.Millisecond)
	if p.Online() {
		t.Error("unreachable probe target must read as offline")
	}
}
