package store

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Record sync states.
const (
	StatusSynced   = "synced"
	StatusPending  = "pending"
	StatusConflict = "conflict"
)

// Collection identifies one of the three synchronized record types.
type Collection string

const (
	CollectionTension       Collection = "tension"
	CollectionStocktake     Collection = "stocktake"
	CollectionFinishEarlier Collection = "finish_earlier"
)

// Collections returns all collections in their fixed sync order.
func Collections() []Collection {
	return []Collection{CollectionTension, CollectionStocktake, CollectionFinishEarlier}
}

func (c Collection) Valid() bool {
	switch c {
	case CollectionTension, CollectionStocktake, CollectionFinishEarlier:
		return true
	}
	return false
}

// SoftDeletes reports whether deletes in this collection are soft
// (tombstoned locally, propagated remotely) or immediate hard deletes.
func (c Collection) SoftDeletes() bool {
	return c != CollectionFinishEarlier
}

func (c Collection) table() string {
	switch c {
	case CollectionTension:
		return "tension_records"
	case CollectionStocktake:
		return "stocktake_records"
	case CollectionFinishEarlier:
		return "finish_earlier_records"
	}
	return ""
}

// Record is the envelope around one locally stored row. The payload is
// opaque JSON; sync logic only reads the envelope fields.
type Record struct {
	ID           int64           `json:"id"`
	RemoteID     sql.NullInt64   `json:"remote_id"`
	Payload      json.RawMessage `json:"payload"`
	SyncStatus   string          `json:"sync_status"`
	LastSyncedAt sql.NullTime    `json:"last_synced_at"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	DeletedAt    sql.NullTime    `json:"deleted_at"`
}

// recordWire is the API shape of a Record. Nullable columns go over the
// wire as plain scalars or null instead of sql wrapper objects.
type recordWire struct {
	ID           int64           `json:"id"`
	RemoteID     *int64          `json:"remote_id"`
	Payload      json.RawMessage `json:"payload"`
	SyncStatus   string          `json:"sync_status"`
	LastSyncedAt *time.Time      `json:"last_synced_at"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	DeletedAt    *time.Time      `json:"deleted_at"`
}

func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(recordWire{
		ID:           r.ID,
		RemoteID:     nullInt64Ptr(r.RemoteID),
		Payload:      r.Payload,
		SyncStatus:   r.SyncStatus,
		LastSyncedAt: nullTimePtr(r.LastSyncedAt),
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		DeletedAt:    nullTimePtr(r.DeletedAt),
	})
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var w recordWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*r = Record{
		ID:           w.ID,
		RemoteID:     ptrNullInt64(w.RemoteID),
		Payload:      w.Payload,
		SyncStatus:   w.SyncStatus,
		LastSyncedAt: ptrNullTime(w.LastSyncedAt),
		CreatedAt:    w.CreatedAt,
		UpdatedAt:    w.UpdatedAt,
		DeletedAt:    ptrNullTime(w.DeletedAt),
	}
	return nil
}

func nullInt64Ptr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func nullTimePtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	t := n.Time
	return &t
}

func ptrNullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func ptrNullTime(p *time.Time) sql.NullTime {
	if p == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *p, Valid: true}
}

// RecordChanges is a partial update: nil fields are left untouched.
// UpdatedAt overrides the re-stamp when set (mirroring remote rows);
// otherwise every update stamps time.Now.
type RecordChanges struct {
	Payload      json.RawMessage
	RemoteID     *int64
	SyncStatus   *string
	LastSyncedAt *time.Time
	UpdatedAt    *time.Time
}

// RecordFilter narrows List results. Search matches against the raw
// payload text.
type RecordFilter struct {
	Search string
}

// RecordPage is one page of List results.
type RecordPage struct {
	Data        []*Record `json:"data"`
	CurrentPage int       `json:"current_page"`
	LastPage    int       `json:"last_page"`
	PerPage     int       `json:"per_page"`
	Total       int       `json:"total"`
}

// SyncSettings is the singleton runtime configuration row.
type SyncSettings struct {
	ServerURL            string    `json:"server_url"`
	AuthToken            string    `json:"auth_token"`
	AutoSyncEnabled      bool      `json:"auto_sync_enabled"`
	SyncIntervalMinutes  int       `json:"sync_interval_minutes"`
	SyncOnStartup        bool      `json:"sync_on_startup"`
	TensionEnabled       bool      `json:"tension_enabled"`
	StocktakeEnabled     bool      `json:"stocktake_enabled"`
	FinishEarlierEnabled bool      `json:"finish_earlier_enabled"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// CollectionEnabled reports whether sync is enabled for a collection.
func (s *SyncSettings) CollectionEnabled(c Collection) bool {
	switch c {
	case CollectionTension:
		return s.TensionEnabled
	case CollectionStocktake:
		return s.StocktakeEnabled
	case CollectionFinishEarlier:
		return s.FinishEarlierEnabled
	}
	return false
}

// SettingsChanges is a partial settings update: nil fields are untouched.
type SettingsChanges struct {
	ServerURL            *string `json:"server_url"`
	AuthToken            *string `json:"auth_token"`
	AutoSyncEnabled      *bool   `json:"auto_sync_enabled"`
	SyncIntervalMinutes  *int    `json:"sync_interval_minutes"`
	SyncOnStartup        *bool   `json:"sync_on_startup"`
	TensionEnabled       *bool   `json:"tension_enabled"`
	StocktakeEnabled     *bool   `json:"stocktake_enabled"`
	FinishEarlierEnabled *bool   `json:"finish_earlier_enabled"`
}

// SyncHistory is one completed sync run. Rows are immutable once written.
type SyncHistory struct {
	ID          string    `json:"id"`
	SyncType    string    `json:"sync_type"` // all | push | pull
	Status      string    `json:"status"`    // success | partial | failed
	Uploaded    int       `json:"uploaded"`
	Downloaded  int       `json:"downloaded"`
	Conflicts   int       `json:"conflicts"`
	Errors      []string  `json:"errors"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// SyncConflict holds both sides of a detected divergence until an
// operator resolves it. ID is "{collection}-{localID}" so at most one
// open conflict exists per local row.
type SyncConflict struct {
	ID              string          `json:"id"`
	Collection      Collection      `json:"collection"`
	LocalID         int64           `json:"local_id"`
	RemoteID        sql.NullInt64   `json:"remote_id"`
	LocalData       json.RawMessage `json:"local_data"`
	RemoteData      json.RawMessage `json:"remote_data"`
	RemoteUpdatedAt time.Time       `json:"remote_updated_at"`
	DetectedAt      time.Time       `json:"detected_at"`
}

type conflictWire struct {
	ID              string          `json:"id"`
	Collection      Collection      `json:"collection"`
	LocalID         int64           `json:"local_id"`
	RemoteID        *int64          `json:"remote_id"`
	LocalData       json.RawMessage `json:"local_data"`
	RemoteData      json.RawMessage `json:"remote_data"`
	RemoteUpdatedAt time.Time       `json:"remote_updated_at"`
	DetectedAt      time.Time       `json:"detected_at"`
}

func (c SyncConflict) MarshalJSON() ([]byte, error) {
	return json.Marshal(conflictWire{
		ID:              c.ID,
		Collection:      c.Collection,
		LocalID:         c.LocalID,
		RemoteID:        nullInt64Ptr(c.RemoteID),
		LocalData:       c.LocalData,
		RemoteData:      c.RemoteData,
		RemoteUpdatedAt: c.RemoteUpdatedAt,
		DetectedAt:      c.DetectedAt,
	})
}

func (c *SyncConflict) UnmarshalJSON(data []byte) error {
	var w conflictWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = SyncConflict{
		ID:              w.ID,
		Collection:      w.Collection,
		LocalID:         w.LocalID,
		RemoteID:        ptrNullInt64(w.RemoteID),
		LocalData:       w.LocalData,
		RemoteData:      w.RemoteData,
		RemoteUpdatedAt: w.RemoteUpdatedAt,
		DetectedAt:      w.DetectedAt,
	}
	return nil
}

// CollectionInfo is per-collection diagnostics.
type CollectionInfo struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Deleted int `json:"deleted"`
}

// StoreInfo aggregates diagnostics across the local database.
type StoreInfo struct {
	Collections map[Collection]CollectionInfo `json:"collections"`
	Conflicts   int                           `json:"conflicts"`
	SizeBytes   int64                         `json:"size_bytes"`
}
