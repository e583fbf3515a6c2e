// Package remote wraps the plant server's REST API. The sync layer only
// talks to the server through this client.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"plant-sync-client/internal/store"
)

var (
	ErrNotConfigured = errors.New("server url or auth token not configured")
	ErrUnauthorized  = errors.New("authentication rejected (401): check auth token")
)

// collection path segments on the remote API.
var collectionPaths = map[store.Collection]string{
	store.CollectionTension:       "tension-records",
	store.CollectionStocktake:     "stock-takes",
	store.CollectionFinishEarlier: "finish-earlier-records",
}

type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(serverURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Configured() bool {
	return c.baseURL != "" && c.token != ""
}

// Record is one record as the server represents it. Payload retains the
// full raw object; only id and updated_at are interpreted here.
type Record struct {
	ID        int64
	UpdatedAt time.Time
	CreatedAt time.Time
	Payload   json.RawMessage
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var envelope struct {
		ID        int64      `json:"id"`
		UpdatedAt serverTime `json:"updated_at"`
		CreatedAt serverTime `json:"created_at"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	r.ID = envelope.ID
	r.UpdatedAt = time.Time(envelope.UpdatedAt)
	r.CreatedAt = time.Time(envelope.CreatedAt)
	r.Payload = append(json.RawMessage(nil), data...)
	return nil
}

// serverTime accepts both RFC3339 (Laravel JSON default) and the plain
// "Y-m-d H:i:s" format older endpoints emit.
type serverTime time.Time

func (t *serverTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = serverTime(time.Time{})
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*t = serverTime(time.Time{})
		return nil
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = serverTime(parsed)
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// ListPage is the paginated listing envelope.
type ListPage struct {
	Data        []Record `json:"data"`
	CurrentPage int      `json:"current_page"`
	LastPage    int      `json:"last_page"`
	PerPage     int      `json:"per_page"`
	Total       int      `json:"total"`
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("server returned %d for %s %s: %s", resp.StatusCode, method, path, truncate(data, 200))
	}
	return data, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

func (c *Client) List(ctx context.Context, col store.Collection, page, perPage int) (*ListPage, error) {
	path := fmt.Sprintf("/%s?page=%d&per_page=%d", collectionPaths[col], page, perPage)
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var lp ListPage
	if err := json.Unmarshal(data, &lp); err != nil {
		return nil, fmt.Errorf("invalid listing response: %w", err)
	}
	return &lp, nil
}

func (c *Client) Get(ctx context.Context, col store.Collection, remoteID int64) (*Record, error) {
	path := fmt.Sprintf("/%s/%d", collectionPaths[col], remoteID)
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Data Record `json:"data"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("invalid record response: %w", err)
	}
	return &resp.Data, nil
}

// createResponse covers both response shapes the server emits.
type createResponse struct {
	Status  string `json:"status"`
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		ID int64 `json:"id"`
	} `json:"data"`
}

func (cr *createResponse) ok() bool {
	return cr.Success || cr.Status == "success" || cr.Status == "ok"
}

// Create uploads a new record and returns the server-assigned id.
// Finish-earlier records have no bulk create: the server exposes a
// session-start endpoint plus a per-entry append endpoint, so those are
// uploaded as a session followed by one call per entry.
func (c *Client) Create(ctx context.Context, col store.Collection, payload json.RawMessage) (int64, error) {
	if col == store.CollectionFinishEarlier {
		return c.createSession(ctx, payload)
	}

	data, err := c.do(ctx, http.MethodPost, "/"+collectionPaths[col], json.RawMessage(payload))
	if err != nil {
		return 0, err
	}

	var resp createResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("invalid create response: %w", err)
	}
	if !resp.ok() {
		return 0, fmt.Errorf("create rejected: %s", resp.Message)
	}
	return resp.Data.ID, nil
}

func (c *Client) createSession(ctx context.Context, payload json.RawMessage) (int64, error) {
	// Split the entries list off the session header. This is the one
	// place the client looks inside a payload, forced by the remote's
	// per-entry append surface.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return 0, fmt.Errorf("invalid session payload: %w", err)
	}

	var entries []json.RawMessage
	if raw, ok := fields["entries"]; ok {
		if err := json.Unmarshal(raw, &entries); err != nil {
			return 0, fmt.Errorf("invalid session entries: %w", err)
		}
		delete(fields, "entries")
	}

	base := collectionPaths[store.CollectionFinishEarlier]
	data, err := c.do(ctx, http.MethodPost, "/"+base+"/start", fields)
	if err != nil {
		return 0, err
	}

	var resp createResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return 0, fmt.Errorf("invalid session response: %w", err)
	}
	if !resp.ok() {
		return 0, fmt.Errorf("session start rejected: %s", resp.Message)
	}
	sessionID := resp.Data.ID

	for i, entry := range entries {
		path := fmt.Sprintf("/%s/%d/entries", base, sessionID)
		if _, err := c.do(ctx, http.MethodPost, path, entry); err != nil {
			return 0, fmt.Errorf("failed to append entry %d/%d: %w", i+1, len(entries), err)
		}
	}

	return sessionID, nil
}

func (c *Client) Update(ctx context.Context, col store.Collection, remoteID int64, payload json.RawMessage) error {
	path := fmt.Sprintf("/%s/%d", collectionPaths[col], remoteID)
	data, err := c.do(ctx, http.MethodPut, path, json.RawMessage(payload))
	if err != nil {
		return err
	}

	var resp createResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return fmt.Errorf("invalid update response: %w", err)
	}
	if !resp.ok() {
		return fmt.Errorf("update rejected: %s", resp.Message)
	}
	return nil
}

func (c *Client) Delete(ctx context.Context, col store.Collection, remoteID int64) error {
	path := fmt.Sprintf("/%s/%d", collectionPaths[col], remoteID)
	data, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}

	var resp createResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		// Some delete endpoints answer 204 with an empty body.
		if len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		return fmt.Errorf("invalid delete response: %w", err)
	}
	if !resp.ok() {
		return fmt.Errorf("delete rejected: %s", resp.Message)
	}
	return nil
}

// Ping probes connectivity with the cheapest possible listing call.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.List(ctx, store.CollectionTension, 1, 1)
	return err
}
