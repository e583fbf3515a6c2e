package sync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"plant-sync-client/internal/logger"
	"plant-sync-client/internal/remote"
	"plant-sync-client/internal/store"
)

// ErrSyncInProgress is returned when a run is requested while another
// full run is still in flight. Requests are rejected, never queued.
var ErrSyncInProgress = errors.New("sync is already running")

// pullPageSize is the fixed page size used to walk remote listings.
const pullPageSize = 50

// RemoteAPI is the remote surface the orchestrator drives. Implemented
// by *remote.Client; faked in tests.
type RemoteAPI interface {
	List(ctx context.Context, col store.Collection, page, perPage int) (*remote.ListPage, error)
	Get(ctx context.Context, col store.Collection, remoteID int64) (*remote.Record, error)
	Create(ctx context.Context, col store.Collection, payload json.RawMessage) (int64, error)
	Update(ctx context.Context, col store.Collection, remoteID int64, payload json.RawMessage) error
	Delete(ctx context.Context, col store.Collection, remoteID int64) error
	Ping(ctx context.Context) error
}

// ClientFactory builds a remote client from the current settings, so a
// token or URL change applies on the next run without restarting.
type ClientFactory func(settings *store.SyncSettings) RemoteAPI

type Orchestrator struct {
	store     store.Store
	newClient ClientFactory
	progress  *progressHub

	mu      sync.Mutex
	syncing bool
}

func NewOrchestrator(st store.Store, factory ClientFactory) *Orchestrator {
	return &Orchestrator{
		store:     st,
		newClient: factory,
		progress:  newProgressHub(),
	}
}

// Subscribe registers a progress listener and returns its unsubscribe
// function. Listeners are invoked synchronously at sync checkpoints.
func (o *Orchestrator) Subscribe(fn ProgressFunc) func() {
	return o.progress.subscribe(fn)
}

func (o *Orchestrator) IsSyncing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.syncing
}

// begin is the checked-and-set entry gate for full runs.
func (o *Orchestrator) begin() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.syncing {
		return false
	}
	o.syncing = true
	return true
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.syncing = false
	o.mu.Unlock()
}

// SyncAll pushes then pulls every enabled collection in fixed order.
// Record-level failures land in the result, never in the error return;
// the only error is ErrSyncInProgress.
func (o *Orchestrator) SyncAll(ctx context.Context) (*Result, error) {
	return o.run(ctx, SyncAll, true, true)
}

// PushToRemote runs only the push phase of every enabled collection.
func (o *Orchestrator) PushToRemote(ctx context.Context) (*Result, error) {
	return o.run(ctx, SyncPush, true, false)
}

// PullFromRemote runs only the pull phase of every enabled collection.
func (o *Orchestrator) PullFromRemote(ctx context.Context) (*Result, error) {
	return o.run(ctx, SyncPull, false, true)
}

func (o *Orchestrator) run(ctx context.Context, typ SyncType, push, pull bool) (*Result, error) {
	if !o.begin() {
		return nil, ErrSyncInProgress
	}
	defer o.end()

	result := &Result{
		Type:      typ,
		Errors:    []string{},
		StartedAt: time.Now(),
	}

	logger.Log.Info("Starting sync run", zap.String("type", string(typ)))

	settings, err := o.store.GetSettings(ctx)
	switch {
	case err != nil:
		result.recordError("failed to load sync settings: %v", err)
	case settings.ServerURL == "" || settings.AuthToken == "":
		// Configuration error: one explanatory entry, no network attempted.
		result.recordError("server url or auth token not configured")
	default:
		client := o.newClient(settings)
		for _, col := range store.Collections() {
			if !settings.CollectionEnabled(col) {
				continue
			}
			if push {
				o.pushCollection(ctx, client, col, result)
			}
			if pull {
				o.pullCollection(ctx, client, col, result)
			}
		}
	}

	result.CompletedAt = time.Now()
	o.writeHistory(ctx, result)

	o.progress.emit(ProgressEvent{
		Phase:   "complete",
		Current: 1,
		Total:   1,
		Message: result.String(),
	})

	logger.Log.Info("Sync run finished",
		zap.String("type", string(typ)),
		zap.String("outcome", string(result.Outcome())),
		zap.Int("uploaded", result.Uploaded),
		zap.Int("downloaded", result.Downloaded),
		zap.Int("conflicts", result.Conflicts),
		zap.Int("errors", len(result.Errors)),
	)

	return result, nil
}

func (o *Orchestrator) writeHistory(ctx context.Context, r *Result) {
	h := &store.SyncHistory{
		ID:          uuid.New().String(),
		SyncType:    string(r.Type),
		Status:      string(r.Outcome()),
		Uploaded:    r.Uploaded,
		Downloaded:  r.Downloaded,
		Conflicts:   r.Conflicts,
		Errors:      r.Errors,
		StartedAt:   r.StartedAt,
		CompletedAt: r.CompletedAt,
	}
	if err := o.store.AppendHistory(ctx, h); err != nil {
		logger.Log.Error("Failed to append sync history", zap.Error(err))
	}
}

func (o *Orchestrator) pushCollection(ctx context.Context, client RemoteAPI, col store.Collection, res *Result) {
	pending, err := o.store.ListPendingRecords(ctx, col)
	if err != nil {
		res.recordError("%s: failed to list pending records: %v", col, err)
		return
	}

	total := len(pending)
	for i, rec := range pending {
		o.progress.emit(ProgressEvent{
			Phase:   "push:" + string(col),
			Current: i + 1,
			Total:   total,
			Message: fmt.Sprintf("Uploading %s record %d/%d", col, i+1, total),
		})

		switch {
		case rec.DeletedAt.Valid && rec.RemoteID.Valid:
			o.pushDelete(ctx, client, col, rec, res)
		case rec.DeletedAt.Valid:
			// Deleted before it ever reached the server: nothing to
			// propagate, the tombstone is final.
			o.markSynced(ctx, col, rec.ID, nil, res)
		case rec.RemoteID.Valid:
			o.pushUpdate(ctx, client, col, rec, res)
		default:
			o.pushCreate(ctx, client, col, rec, res)
		}
	}
}

func (o *Orchestrator) pushDelete(ctx context.Context, client RemoteAPI, col store.Collection, rec *store.Record, res *Result) {
	if err := client.Delete(ctx, col, rec.RemoteID.Int64); err != nil {
		res.recordError("%s #%d: remote delete failed: %v", col, rec.ID, err)
		return
	}
	// Row stays soft-deleted locally, just no longer pending.
	o.markSynced(ctx, col, rec.ID, nil, res)
	res.Uploaded++
}

func (o *Orchestrator) pushUpdate(ctx context.Context, client RemoteAPI, col store.Collection, rec *store.Record, res *Result) {
	remoteRec, err := client.Get(ctx, col, rec.RemoteID.Int64)
	if err != nil {
		res.recordError("%s #%d: failed to fetch remote copy: %v", col, rec.ID, err)
		return
	}

	if remoteRec.UpdatedAt.After(rec.UpdatedAt) {
		// Both sides changed since last sync: defer to the operator.
		if err := o.recordConflict(ctx, col, rec, remoteRec); err != nil {
			res.recordError("%s #%d: failed to record conflict: %v", col, rec.ID, err)
			return
		}
		res.Conflicts++
		return
	}

	if err := client.Update(ctx, col, rec.RemoteID.Int64, rec.Payload); err != nil {
		res.recordError("%s #%d: remote update failed: %v", col, rec.ID, err)
		return
	}
	o.markSynced(ctx, col, rec.ID, nil, res)
	res.Uploaded++
}

func (o *Orchestrator) pushCreate(ctx context.Context, client RemoteAPI, col store.Collection, rec *store.Record, res *Result) {
	remoteID, err := client.Create(ctx, col, rec.Payload)
	if err != nil {
		// Stays pending; the next run retries it.
		res.recordError("%s #%d: remote create failed: %v", col, rec.ID, err)
		return
	}
	o.markSynced(ctx, col, rec.ID, &remoteID, res)
	res.Uploaded++
}

func (o *Orchestrator) markSynced(ctx context.Context, col store.Collection, id int64, remoteID *int64, res *Result) {
	now := time.Now()
	synced := store.StatusSynced
	ch := store.RecordChanges{
		SyncStatus:   &synced,
		LastSyncedAt: &now,
		RemoteID:     remoteID,
	}
	if err := o.store.UpdateRecord(ctx, col, id, ch); err != nil {
		res.recordError("%s #%d: failed to mark synced: %v", col, id, err)
	}
}

func (o *Orchestrator) pullCollection(ctx context.Context, client RemoteAPI, col store.Collection, res *Result) {
	processed := 0
	for page := 1; ; page++ {
		listing, err := client.List(ctx, col, page, pullPageSize)
		if err != nil {
			// Phase-level failure: abort remaining pages, one error.
			res.recordError("%s: remote listing failed on page %d: %v", col, page, err)
			return
		}

		for _, rr := range listing.Data {
			processed++
			o.progress.emit(ProgressEvent{
				Phase:   "pull:" + string(col),
				Current: processed,
				Total:   listing.Total,
				Message: fmt.Sprintf("Downloading %s record %d/%d", col, processed, listing.Total),
			})
			o.applyRemote(ctx, col, rr, res)
		}

		if listing.CurrentPage >= listing.LastPage {
			return
		}
	}
}

func (o *Orchestrator) applyRemote(ctx context.Context, col store.Collection, rr remote.Record, res *Result) {
	local, err := o.store.FindByRemoteID(ctx, col, rr.ID)
	if err != nil {
		res.recordError("%s: lookup for remote %d failed: %v", col, rr.ID, err)
		return
	}

	now := time.Now()

	if local == nil {
		rec := &store.Record{
			RemoteID:     asNullInt64(rr.ID),
			Payload:      rr.Payload,
			SyncStatus:   store.StatusSynced,
			LastSyncedAt: asNullTime(now),
			CreatedAt:    rr.CreatedAt,
			UpdatedAt:    rr.UpdatedAt,
		}
		if _, err := o.store.CreateRecord(ctx, col, rec); err != nil {
			res.recordError("%s: failed to mirror remote %d: %v", col, rr.ID, err)
			return
		}
		res.Downloaded++
		return
	}

	if !rr.UpdatedAt.After(local.UpdatedAt) {
		// Local is at least as current.
		return
	}

	if local.SyncStatus == store.StatusPending {
		if err := o.recordConflict(ctx, col, local, &rr); err != nil {
			res.recordError("%s #%d: failed to record conflict: %v", col, local.ID, err)
			return
		}
		res.Conflicts++
		return
	}

	synced := store.StatusSynced
	ch := store.RecordChanges{
		Payload:      rr.Payload,
		SyncStatus:   &synced,
		LastSyncedAt: &now,
		UpdatedAt:    &rr.UpdatedAt,
	}
	if err := o.store.UpdateRecord(ctx, col, local.ID, ch); err != nil {
		res.recordError("%s #%d: failed to apply remote update: %v", col, local.ID, err)
		return
	}
	res.Downloaded++
}

// TestConnection probes the remote with the stored credential. Missing
// URL or token short-circuits without a network call.
func (o *Orchestrator) TestConnection(ctx context.Context) error {
	settings, err := o.store.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sync settings: %w", err)
	}
	if settings.ServerURL == "" || settings.AuthToken == "" {
		return errors.New("server url or auth token not configured")
	}
	return o.newClient(settings).Ping(ctx)
}

func asNullInt64(v int64) (n sql.NullInt64) {
	n.Int64 = v
	n.Valid = true
	return n
}

func asNullTime(t time.Time) (n sql.NullTime) {
	n.Time = t
	n.Valid = true
	return n
}
