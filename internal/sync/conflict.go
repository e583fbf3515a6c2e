package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"plant-sync-client/internal/logger"
	"plant-sync-client/internal/remote"
	"plant-sync-client/internal/store"
)

// Resolution picks which side of a conflict wins.
type Resolution string

const (
	// ResolutionLocal re-marks the row pending; the next push overwrites
	// the remote copy, so local effectively wins.
	ResolutionLocal Resolution = "local"
	// ResolutionRemote applies the stored remote snapshot locally.
	ResolutionRemote Resolution = "remote"
)

// ConflictID builds the composite key that limits each local row to one
// open conflict.
func ConflictID(col store.Collection, localID int64) string {
	return fmt.Sprintf("%s-%d", col, localID)
}

// recordConflict snapshots both sides and marks the local row. Re-detection
// for the same row replaces the previous entry. Local content is untouched.
func (o *Orchestrator) recordConflict(ctx context.Context, col store.Collection, local *store.Record, rr *remote.Record) error {
	localData, err := json.Marshal(local)
	if err != nil {
		return err
	}

	c := &store.SyncConflict{
		ID:              ConflictID(col, local.ID),
		Collection:      col,
		LocalID:         local.ID,
		RemoteID:        asNullInt64(rr.ID),
		LocalData:       localData,
		RemoteData:      rr.Payload,
		RemoteUpdatedAt: rr.UpdatedAt,
		DetectedAt:      time.Now(),
	}
	if err := o.store.UpsertConflict(ctx, c); err != nil {
		return err
	}

	conflict := store.StatusConflict
	if err := o.store.UpdateRecord(ctx, col, local.ID, store.RecordChanges{SyncStatus: &conflict}); err != nil {
		return err
	}

	logger.Log.Warn("Sync conflict detected",
		zap.String("collection", string(col)),
		zap.Int64("local_id", local.ID),
		zap.Int64("remote_id", rr.ID),
		zap.Time("local_updated_at", local.UpdatedAt),
		zap.Time("remote_updated_at", rr.UpdatedAt),
	)
	return nil
}

// ResolveConflict applies a resolution and removes the conflict entry.
func (o *Orchestrator) ResolveConflict(ctx context.Context, conflictID string, resolution Resolution) error {
	c, err := o.store.GetConflict(ctx, conflictID)
	if err != nil {
		return fmt.Errorf("failed to load conflict: %w", err)
	}
	if c == nil {
		return fmt.Errorf("conflict %s not found", conflictID)
	}

	switch resolution {
	case ResolutionLocal:
		pending := store.StatusPending
		if err := o.store.UpdateRecord(ctx, c.Collection, c.LocalID, store.RecordChanges{SyncStatus: &pending}); err != nil {
			return fmt.Errorf("failed to re-mark record pending: %w", err)
		}
	case ResolutionRemote:
		now := time.Now()
		synced := store.StatusSynced
		ch := store.RecordChanges{
			Payload:      c.RemoteData,
			SyncStatus:   &synced,
			LastSyncedAt: &now,
			UpdatedAt:    &c.RemoteUpdatedAt,
		}
		if err := o.store.UpdateRecord(ctx, c.Collection, c.LocalID, ch); err != nil {
			return fmt.Errorf("failed to apply remote snapshot: %w", err)
		}
	default:
		return fmt.Errorf("unknown resolution %q", resolution)
	}

	if err := o.store.DeleteConflict(ctx, conflictID); err != nil {
		return fmt.Errorf("failed to clear conflict entry: %w", err)
	}

	logger.Log.Info("Conflict resolved",
		zap.String("conflict", conflictID),
		zap.String("resolution", string(resolution)),
	)
	return nil
}
