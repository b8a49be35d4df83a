package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Ahmmada/Expo33/internal/schema"
	"github.com/Ahmmada/Expo33/internal/sync"
)

func testChange(t *testing.T) *schema.ChangeEntry {
	t.Helper()

	snap := schema.RecordSnapshot{
		Record: schema.AttendanceRecord{
			UUID:     schema.NewRecordID(),
			Date:     "2026-03-02",
			OfficeID: 1,
			LevelID:  1,
		},
	}
	payload, err := snap.Encode()
	if err != nil {
		t.Fatalf("failed to encode snapshot: %v", err)
	}
	return &schema.ChangeEntry{
		Seq:       1,
		Table:     schema.TableAttendanceRecords,
		EntityID:  snap.Record.UUID,
		Op:        schema.OpCreate,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

func TestPushAcked(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL, Token: "secret"})
	result, err := client.Push(context.Background(), testChange(t))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if result.Status != sync.PushAcked {
		t.Errorf("expected acked, got %v", result.Status)
	}
	if gotPath != "/sync/attendance_records" {
		t.Errorf("unexpected path: %s", gotPath)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("unexpected auth header: %s", gotAuth)
	}
}

func TestPushConflictWithServerVersion(t *testing.T) {
	serverTime := time.Now().UTC().Truncate(time.Second)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"record": schema.AttendanceRecord{
				UUID: "abc", Date: "2026-03-02", OfficeID: 1, LevelID: 1,
				UpdatedAt: serverTime,
			},
			"entries":     []schema.StudentEntry{{StudentID: 1, Status: schema.StatusPresent}},
			"server_time": serverTime,
		})
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	result, err := client.Push(context.Background(), testChange(t))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if result.Status != sync.PushConflict {
		t.Fatalf("expected conflict, got %v", result.Status)
	}
	if result.Server == nil {
		t.Fatal("expected server version in conflict result")
	}
	if result.Server.Snapshot.Record.UUID != "abc" {
		t.Errorf("unexpected server record: %v", result.Server.Snapshot.Record)
	}
	if !result.Server.ServerTime.Equal(serverTime) {
		t.Errorf("expected server time %v, got %v", serverTime, result.Server.ServerTime)
	}
}

func TestPushConflictRemoteDeleted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	result, err := client.Push(context.Background(), testChange(t))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if result.Status != sync.PushConflict || result.Server != nil {
		t.Errorf("expected conflict without server version, got %+v", result)
	}
}

func TestPushServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	_, err := client.Push(context.Background(), testChange(t))
	if !sync.IsTransient(err) {
		t.Errorf("5xx must be transient, got %v", err)
	}
}

func TestPushNetworkErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse connections

	client := New(Config{BaseURL: srv.URL, Timeout: time.Second})
	_, err := client.Push(context.Background(), testChange(t))
	if !sync.IsTransient(err) {
		t.Errorf("network failure must be transient, got %v", err)
	}
}

func TestPushRejectionIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	_, err := client.Push(context.Background(), testChange(t))
	if err == nil {
		t.Fatal("expected error on 4xx rejection")
	}
	if sync.IsTransient(err) {
		t.Errorf("4xx rejection must not be transient: %v", err)
	}
}

func TestPullSince(t *testing.T) {
	serverTime := time.Now().UTC().Truncate(time.Second)
	since := serverTime.Add(-time.Hour)

	var gotSince string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSince = r.URL.Query().Get("since")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"offices":     []schema.Office{{ID: 1, Name: "Main Office"}},
			"server_time": serverTime,
		})
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	pull, err := client.PullSince(context.Background(), schema.TableOffices, since)
	if err != nil {
		t.Fatalf("PullSince failed: %v", err)
	}
	if gotSince != since.Format(time.RFC3339) {
		t.Errorf("expected since %s, got %s", since.Format(time.RFC3339), gotSince)
	}
	if len(pull.Offices) != 1 || pull.Offices[0].Name != "Main Office" {
		t.Errorf("unexpected offices: %v", pull.Offices)
	}
	if !pull.ServerTime.Equal(serverTime) {
		t.Errorf("expected server time %v, got %v", serverTime, pull.ServerTime)
	}
}

func TestPullSinceZeroOmitsParam(t *testing.T) {
	var hadSince bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hadSince = r.URL.Query().Has("since")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"server_time": time.Now().UTC()})
	}))
	defer srv.Close()

	client := New(Config{BaseURL: srv.URL})
	if _, err := client.PullSince(context.Background(), schema.TableOffices, time.Time{}); err != nil {
		t.Fatalf("PullSince failed: %v", err)
	}
	if hadSince {
		t.Error("first pull must not send a since parameter")
	}
}
