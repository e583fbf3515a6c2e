package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"plant-sync-client/internal/config"
	"plant-sync-client/internal/database"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	db, err := database.NewDatabase(config.DatabaseConfig{
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)

	s, err := NewSQLiteStore(db, SyncSettings{
		ServerURL:            "http://server.test",
		AuthToken:            "token-123",
		SyncIntervalMinutes:  15,
		TensionEnabled:       true,
		StocktakeEnabled:     true,
		FinishEarlierEnabled: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestCreateRecordDefaults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateRecord(ctx, CollectionTension, &Record{
		Payload: json.RawMessage(`{"force":412.5}`),
	})
	require.NoError(t, err)
	require.Greater(t, id, int64(0))

	rec, err := s.GetRecord(ctx, CollectionTension, id)
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, StatusPending, rec.SyncStatus)
	assert.False(t, rec.RemoteID.Valid)
	assert.False(t, rec.LastSyncedAt.Valid)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.False(t, rec.UpdatedAt.IsZero())
	assert.JSONEq(t, `{"force":412.5}`, string(rec.Payload))
}

func TestGetRecordMissing(t *testing.T) {
	s := newTestStore(t)

	rec, err := s.GetRecord(context.Background(), CollectionTension, 999)
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestUnknownCollectionRejected(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateRecord(context.Background(), Collection("bogus"), &Record{})
	assert.Error(t, err)
}

func TestListPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		_, err := s.CreateRecord(ctx, CollectionStocktake, &Record{
			Payload:   json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)),
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			UpdatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	seen := map[int64]bool{}
	var prev time.Time
	for page := 1; page <= 3; page++ {
		result, err := s.ListRecords(ctx, CollectionStocktake, RecordFilter{}, page, 10)
		require.NoError(t, err)

		assert.Equal(t, 25, result.Total)
		assert.Equal(t, 3, result.LastPage)
		assert.Equal(t, page, result.CurrentPage)
		if page < 3 {
			assert.Len(t, result.Data, 10)
		} else {
			assert.Len(t, result.Data, 5)
		}

		for _, rec := range result.Data {
			assert.False(t, seen[rec.ID], "record %d returned twice", rec.ID)
			seen[rec.ID] = true
			if !prev.IsZero() {
				assert.False(t, rec.CreatedAt.After(prev), "expected newest-first ordering")
			}
			prev = rec.CreatedAt
		}
	}
	assert.Len(t, seen, 25)
}

func TestListPaginationValidation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.ListRecords(context.Background(), CollectionTension, RecordFilter{}, 0, 10)
	assert.Error(t, err)

	_, err = s.ListRecords(context.Background(), CollectionTension, RecordFilter{}, 1, 0)
	assert.Error(t, err)
}

func TestUpdateRecordPartial(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateRecord(ctx, CollectionTension, &Record{
		Payload: json.RawMessage(`{"operator":"chan"}`),
	})
	require.NoError(t, err)

	before, err := s.GetRecord(ctx, CollectionTension, id)
	require.NoError(t, err)

	// Only the status changes; payload must survive untouched.
	synced := StatusSynced
	require.NoError(t, s.UpdateRecord(ctx, CollectionTension, id, RecordChanges{SyncStatus: &synced}))

	after, err := s.GetRecord(ctx, CollectionTension, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"operator":"chan"}`, string(after.Payload))
	assert.Equal(t, StatusSynced, after.SyncStatus)
	assert.False(t, after.UpdatedAt.Before(before.UpdatedAt))

	// Payload change keeps the remote id in place.
	rid := int64(55)
	require.NoError(t, s.UpdateRecord(ctx, CollectionTension, id, RecordChanges{RemoteID: &rid}))
	require.NoError(t, s.UpdateRecord(ctx, CollectionTension, id, RecordChanges{Payload: json.RawMessage(`{"operator":"liu"}`)}))

	final, err := s.GetRecord(ctx, CollectionTension, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"operator":"liu"}`, string(final.Payload))
	require.True(t, final.RemoteID.Valid)
	assert.Equal(t, int64(55), final.RemoteID.Int64)
}

func TestUpdateRecordMissing(t *testing.T) {
	s := newTestStore(t)

	synced := StatusSynced
	err := s.UpdateRecord(context.Background(), CollectionTension, 404, RecordChanges{SyncStatus: &synced})
	assert.Error(t, err)
}

func TestSoftDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rid := int64(42)
	id, err := s.CreateRecord(ctx, CollectionStocktake, &Record{
		Payload:    json.RawMessage(`{"sku":"A-100"}`),
		SyncStatus: StatusSynced,
		RemoteID:   asNullInt64(rid),
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteRecord(ctx, CollectionStocktake, id))

	// Hidden from reads and listings.
	rec, err := s.GetRecord(ctx, CollectionStocktake, id)
	require.NoError(t, err)
	assert.Nil(t, rec)

	byRemote, err := s.GetRecordByRemoteID(ctx, CollectionStocktake, rid)
	require.NoError(t, err)
	assert.Nil(t, byRemote)

	listing, err := s.ListRecords(ctx, CollectionStocktake, RecordFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, listing.Total)

	// But still visible where it matters for sync.
	found, err := s.FindByRemoteID(ctx, CollectionStocktake, rid)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.True(t, found.DeletedAt.Valid)
	assert.Equal(t, StatusPending, found.SyncStatus)

	pending, err := s.ListPendingRecords(ctx, CollectionStocktake)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
}

func TestHardDeleteFinishEarlier(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateRecord(ctx, CollectionFinishEarlier, &Record{
		Payload: json.RawMessage(`{"shift":"night"}`),
	})
	require.NoError(t, err)

	require.NoError(t, s.DeleteRecord(ctx, CollectionFinishEarlier, id))

	pending, err := s.ListPendingRecords(ctx, CollectionFinishEarlier)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestListSearchFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateRecord(ctx, CollectionTension, &Record{Payload: json.RawMessage(`{"batch":"B-771"}`)})
	require.NoError(t, err)
	_, err = s.CreateRecord(ctx, CollectionTension, &Record{Payload: json.RawMessage(`{"batch":"B-772"}`)})
	require.NoError(t, err)

	result, err := s.ListRecords(ctx, CollectionTension, RecordFilter{Search: "B-771"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Total)
}

func TestSettingsSeedAndPartialUpdate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	settings, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://server.test", settings.ServerURL)
	assert.Equal(t, 15, settings.SyncIntervalMinutes)
	assert.True(t, settings.TensionEnabled)

	url := "http://other.test"
	updated, err := s.UpdateSettings(ctx, SettingsChanges{ServerURL: &url})
	require.NoError(t, err)
	assert.Equal(t, "http://other.test", updated.ServerURL)
	assert.Equal(t, "token-123", updated.AuthToken)

	// Persisted, not just returned.
	again, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://other.test", again.ServerURL)
}

func TestSettingsConcurrentPartialUpdates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	url := "http://racer.test"
	token := "token-racer"
	enabled := true

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i, ch := range []SettingsChanges{
		{ServerURL: &url},
		{AuthToken: &token},
		{AutoSyncEnabled: &enabled},
	} {
		wg.Add(1)
		go func(i int, ch SettingsChanges) {
			defer wg.Done()
			_, errs[i] = s.UpdateSettings(ctx, ch)
		}(i, ch)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	// Each writer ran in its own transaction, so no update is lost.
	settings, err := s.GetSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://racer.test", settings.ServerURL)
	assert.Equal(t, "token-racer", settings.AuthToken)
	assert.True(t, settings.AutoSyncEnabled)
}

func TestConflictUpsertReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &SyncConflict{
		ID:              "tension-1",
		Collection:      CollectionTension,
		LocalID:         1,
		RemoteID:        asNullInt64(9),
		LocalData:       json.RawMessage(`{"v":1}`),
		RemoteData:      json.RawMessage(`{"v":2}`),
		RemoteUpdatedAt: time.Now(),
		DetectedAt:      time.Now(),
	}
	require.NoError(t, s.UpsertConflict(ctx, first))

	second := *first
	second.RemoteData = json.RawMessage(`{"v":3}`)
	require.NoError(t, s.UpsertConflict(ctx, &second))

	conflicts, err := s.ListConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.JSONEq(t, `{"v":3}`, string(conflicts[0].RemoteData))

	require.NoError(t, s.DeleteConflict(ctx, "tension-1"))
	got, err := s.GetConflict(ctx, "tension-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestHistoryAppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, status := range []string{"success", "partial"} {
		err := s.AppendHistory(ctx, &SyncHistory{
			ID:          "run-" + string(rune('a'+i)),
			SyncType:    "all",
			Status:      status,
			Uploaded:    i,
			Errors:      []string{},
			StartedAt:   start.Add(time.Duration(i) * time.Hour),
			CompletedAt: start.Add(time.Duration(i)*time.Hour + time.Minute),
		})
		require.NoError(t, err)
	}

	history, err := s.ListHistory(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	// Newest run first.
	assert.Equal(t, "partial", history[0].Status)
	assert.NotNil(t, history[0].Errors)
}

func TestInfoCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateRecord(ctx, CollectionTension, &Record{Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	_, err = s.CreateRecord(ctx, CollectionTension, &Record{Payload: json.RawMessage(`{}`), SyncStatus: StatusSynced})
	require.NoError(t, err)
	require.NoError(t, s.DeleteRecord(ctx, CollectionTension, id))

	info, err := s.Info(ctx)
	require.NoError(t, err)

	ti := info.Collections[CollectionTension]
	assert.Equal(t, 2, ti.Total)
	assert.Equal(t, 1, ti.Pending)
	assert.Equal(t, 1, ti.Deleted)
	assert.Greater(t, info.SizeBytes, int64(0))
}

func asNullInt64(v int64) (n sql.NullInt64) {
	n.Int64 = v
	n.Valid = true
	return n
}
