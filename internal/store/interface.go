package store

import (
	"context"
)

type Store interface {
	// Records
	ListRecords(ctx context.Context, c Collection, filter RecordFilter, page, perPage int) (*RecordPage, error)
	GetRecord(ctx context.Context, c Collection, id int64) (*Record, error)
	GetRecordByRemoteID(ctx context.Context, c Collection, remoteID int64) (*Record, error)
	// FindByRemoteID also sees soft-deleted rows; the pull phase uses it to
	// dedup against tombstones whose deletion has not propagated yet.
	FindByRemoteID(ctx context.Context, c Collection, remoteID int64) (*Record, error)
	CreateRecord(ctx context.Context, c Collection, rec *Record) (int64, error)
	UpdateRecord(ctx context.Context, c Collection, id int64, ch RecordChanges) error
	DeleteRecord(ctx context.Context, c Collection, id int64) error
	ListPendingRecords(ctx context.Context, c Collection) ([]*Record, error)
	Info(ctx context.Context) (*StoreInfo, error)

	// Settings
	GetSettings(ctx context.Context) (*SyncSettings, error)
	UpdateSettings(ctx context.Context, ch SettingsChanges) (*SyncSettings, error)

	// History
	AppendHistory(ctx context.Context, h *SyncHistory) error
	ListHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error)

	// Conflicts
	UpsertConflict(ctx context.Context, c *SyncConflict) error
	GetConflict(ctx context.Context, id string) (*SyncConflict, error)
	ListConflicts(ctx context.Context) ([]*SyncConflict, error)
	DeleteConflict(ctx context.Context, id string) error

	// General
	Close() error
}
