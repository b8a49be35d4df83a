// Package remote provides the HTTP client for the remote attendance
// system of record.
//
// The wire protocol is JSON over HTTP:
//
//	POST {base}/sync/{entity}          push one change snapshot
//	GET  {base}/sync/{entity}?since=T  pull updates after watermark T
//
// Push answers are classified into the three outcomes the sync layer
// understands: 2xx is an acknowledgment, 409 is a conflict carrying
// the server's authoritative version in the body, and network errors
// or 5xx answers are transient (wrapped with sync.ErrTransient).
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/Ahmmada/Expo33/internal/schema"
	"github.com/Ahmmada/Expo33/internal/sync"
)

// Config holds remote endpoint settings.
type Config struct {
	// BaseURL is the root of the sync API, e.g. "https://api.example.org".
	BaseURL string

	// Token is the bearer token sent on every request. Optional.
	Token string

	// Timeout bounds each HTTP request (default: 15s).
	Timeout time.Duration
}

// Client talks to the remote system of record. It implements
// sync.RemoteClient.
type Client struct {
	cfg  Config
	http *http.Client
}

// New creates a remote client for the given endpoint.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// pushRequest is the wire form of one pushed change.
type pushRequest struct {
	EntityID  string          `json:"entity_id"`
	Op        string          `json:"op"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// wireRecord is the wire form of one authoritative record version.
type wireRecord struct {
	Record     schema.AttendanceRecord `json:"record"`
	Entries    []schema.StudentEntry   `json:"entries"`
	Deleted    bool                    `json:"deleted"`
	ServerTime time.Time               `json:"server_time"`
}

// pullResponse is the wire form of a pull-since answer.
type pullResponse struct {
	Records    []wireRecord     `json:"records,omitempty"`
	Offices    []schema.Office  `json:"offices,omitempty"`
	Levels     []schema.Level   `json:"levels,omitempty"`
	Students   []schema.Student `json:"students,omitempty"`
	ServerTime time.Time        `json:"server_time"`
}

// Push implements sync.RemoteClient.Push.
func (c *Client) Push(ctx context.Context, change *schema.ChangeEntry) (*sync.PushResult, error) {
	body, err := json.Marshal(pushRequest{
		EntityID:  change.EntityID,
		Op:        string(change.Op),
		Payload:   change.Payload,
		CreatedAt: change.CreatedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal push request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/sync/%s", c.cfg.BaseURL, url.PathEscape(change.Table))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build push request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("push to %s: %v: %w", change.Table, err, sync.ErrTransient)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return &sync.PushResult{Status: sync.PushAcked}, nil

	case resp.StatusCode == http.StatusConflict:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read conflict body: %v: %w", err, sync.ErrTransient)
		}
		if len(data) == 0 {
			// Conflict with no server version: the remote
			// deleted the record.
			return &sync.PushResult{Status: sync.PushConflict}, nil
		}
		var wr wireRecord
		if err := json.Unmarshal(data, &wr); err != nil {
			return nil, fmt.Errorf("failed to parse conflict body: %w", err)
		}
		return &sync.PushResult{Status: sync.PushConflict, Server: toRemoteRecord(&wr)}, nil

	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("push to %s: server returned %s: %w", change.Table, resp.Status, sync.ErrTransient)

	default:
		return nil, fmt.Errorf("push to %s rejected: %s", change.Table, resp.Status)
	}
}

// PullSince implements sync.RemoteClient.PullSince.
func (c *Client) PullSince(ctx context.Context, entityType string, since time.Time) (*sync.Pull, error) {
	endpoint := fmt.Sprintf("%s/sync/%s", c.cfg.BaseURL, url.PathEscape(entityType))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build pull request: %w", err)
	}
	if !since.IsZero() {
		q := req.URL.Query()
		q.Set("since", since.UTC().Format(time.RFC3339))
		req.URL.RawQuery = q.Encode()
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pull of %s: %v: %w", entityType, err, sync.ErrTransient)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("pull of %s: server returned %s: %w", entityType, resp.Status, sync.ErrTransient)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pull of %s rejected: %s", entityType, resp.Status)
	}

	var pr pullResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return nil, fmt.Errorf("failed to parse pull response: %w", err)
	}

	pull := &sync.Pull{
		Offices:    pr.Offices,
		Levels:     pr.Levels,
		Students:   pr.Students,
		ServerTime: pr.ServerTime,
	}
	for i := range pr.Records {
		pull.Records = append(pull.Records, *toRemoteRecord(&pr.Records[i]))
	}
	return pull, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
}

func toRemoteRecord(wr *wireRecord) *sync.RemoteRecord {
	return &sync.RemoteRecord{
		Snapshot: schema.RecordSnapshot{
			Record:  wr.Record,
			Entries: wr.Entries,
		},
		Deleted:    wr.Deleted,
		ServerTime: wr.ServerTime,
	}
}
