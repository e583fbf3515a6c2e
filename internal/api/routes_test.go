package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plant-sync-client/internal/config"
	"plant-sync-client/internal/database"
	"plant-sync-client/internal/remote"
	"plant-sync-client/internal/store"
	syncsvc "plant-sync-client/internal/sync"
)

type stubRemote struct{}

func (stubRemote) List(_ context.Context, _ store.Collection, page, perPage int) (*remote.ListPage, error) {
	return &remote.ListPage{CurrentPage: page, LastPage: 1, PerPage: perPage}, nil
}
func (stubRemote) Get(_ context.Context, _ store.Collection, id int64) (*remote.Record, error) {
	return &remote.Record{ID: id}, nil
}
func (stubRemote) Create(context.Context, store.Collection, json.RawMessage) (int64, error) {
	return 321, nil
}
func (stubRemote) Update(context.Context, store.Collection, int64, json.RawMessage) error { return nil }
func (stubRemote) Delete(context.Context, store.Collection, int64) error                  { return nil }
func (stubRemote) Ping(context.Context) error                                             { return nil }

func newTestServer(t *testing.T) (*httptest.Server, store.Store) {
	t.Helper()

	db, err := database.NewDatabase(config.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "api-test.db"),
	})
	require.NoError(t, err)

	st, err := store.NewSQLiteStore(db, store.SyncSettings{
		ServerURL:            "http://server.test",
		AuthToken:            "tok",
		SyncIntervalMinutes:  15,
		TensionEnabled:       true,
		StocktakeEnabled:     true,
		FinishEarlierEnabled: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	orch := syncsvc.NewOrchestrator(st, func(*store.SyncSettings) syncsvc.RemoteAPI { return stubRemote{} })
	h := NewHandler(st, orch, nil)

	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return srv, st
}

func doJSON(t *testing.T, method, url string, body []byte, out any) int {
	t.Helper()

	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestRecordCRUDOverHTTP(t *testing.T) {
	srv, _ := newTestServer(t)

	var created map[string]int64
	code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/records/tension", []byte(`{"force":9.5}`), &created)
	require.Equal(t, http.StatusCreated, code)
	require.Greater(t, created["id"], int64(0))

	var listing store.RecordPage
	code = doJSON(t, http.MethodGet, srv.URL+"/api/v1/records/tension?page=1&per_page=10", nil, &listing)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, listing.Total)
	assert.Equal(t, store.StatusPending, listing.Data[0].SyncStatus)

	code = doJSON(t, http.MethodDelete, srv.URL+"/api/v1/records/tension/1", nil, nil)
	require.Equal(t, http.StatusOK, code)

	code = doJSON(t, http.MethodGet, srv.URL+"/api/v1/records/tension/1", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRecordUpdateMarksPending(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	id, err := st.CreateRecord(ctx, store.CollectionStocktake, &store.Record{
		Payload:    json.RawMessage(`{"sku":"A"}`),
		SyncStatus: store.StatusSynced,
	})
	require.NoError(t, err)

	code := doJSON(t, http.MethodPut, srv.URL+"/api/v1/records/stocktake/1", []byte(`{"sku":"B"}`), nil)
	require.Equal(t, http.StatusOK, code)

	rec, err := st.GetRecord(ctx, store.CollectionStocktake, id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, rec.SyncStatus)
	assert.JSONEq(t, `{"sku":"B"}`, string(rec.Payload))
}

func TestUnknownCollection404(t *testing.T) {
	srv, _ := newTestServer(t)
	code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/records/bogus", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestSyncEndpointReturnsResult(t *testing.T) {
	srv, st := newTestServer(t)

	_, err := st.CreateRecord(context.Background(), store.CollectionTension, &store.Record{
		Payload: json.RawMessage(`{"force":1}`),
	})
	require.NoError(t, err)

	var result syncsvc.Result
	code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync", nil, &result)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, result.Uploaded)
	assert.Equal(t, syncsvc.SyncAll, result.Type)
}

func TestSyncStatusEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var status map[string]any
	code := doJSON(t, http.MethodGet, srv.URL+"/api/v1/sync/status", nil, &status)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, status["syncing"])
	assert.Contains(t, status, "collections")
}

func TestSettingsRoundTrip(t *testing.T) {
	srv, _ := newTestServer(t)

	var settings store.SyncSettings
	code := doJSON(t, http.MethodPut, srv.URL+"/api/v1/settings", []byte(`{"server_url":"http://new.test"}`), &settings)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "http://new.test", settings.ServerURL)
	assert.Equal(t, "tok", settings.AuthToken, "unspecified fields keep their values")
}

func TestTestConnectionEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	var body map[string]any
	code := doJSON(t, http.MethodPost, srv.URL+"/api/v1/sync/test-connection", nil, &body)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["connected"])
}
