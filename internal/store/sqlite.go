package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"plant-sync-client/internal/database"
)

type SQLiteStore struct {
	db       *database.Database
	defaults SyncSettings
}

// NewSQLiteStore bootstraps the schema and returns a ready store.
// defaults seed the sync_settings row the first time it is read.
func NewSQLiteStore(db *database.Database, defaults SyncSettings) (*SQLiteStore, error) {
	s := &SQLiteStore{db: db, defaults: defaults}
	if err := s.bootstrap(); err != nil {
		return nil, fmt.Errorf("failed to bootstrap schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) bootstrap() error {
	for _, c := range Collections() {
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			remote_id INTEGER,
			payload TEXT NOT NULL DEFAULT '{}',
			sync_status TEXT NOT NULL DEFAULT 'pending',
			last_synced_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			deleted_at TIMESTAMP
		)`, c.table())
		if _, err := s.db.DB.Exec(ddl); err != nil {
			return err
		}
		idx := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS idx_%s_remote_id ON %s (remote_id) WHERE remote_id IS NOT NULL`,
			c.table(), c.table())
		if _, err := s.db.DB.Exec(idx); err != nil {
			return err
		}
	}

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS sync_settings (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			server_url TEXT NOT NULL DEFAULT '',
			auth_token TEXT NOT NULL DEFAULT '',
			auto_sync_enabled INTEGER NOT NULL DEFAULT 0,
			sync_interval_minutes INTEGER NOT NULL DEFAULT 15,
			sync_on_startup INTEGER NOT NULL DEFAULT 0,
			tension_enabled INTEGER NOT NULL DEFAULT 1,
			stocktake_enabled INTEGER NOT NULL DEFAULT 1,
			finish_earlier_enabled INTEGER NOT NULL DEFAULT 1,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_history (
			id TEXT PRIMARY KEY,
			sync_type TEXT NOT NULL,
			status TEXT NOT NULL,
			uploaded INTEGER NOT NULL DEFAULT 0,
			downloaded INTEGER NOT NULL DEFAULT 0,
			conflicts INTEGER NOT NULL DEFAULT 0,
			errors TEXT NOT NULL DEFAULT '[]',
			started_at TIMESTAMP NOT NULL,
			completed_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_conflicts (
			id TEXT PRIMARY KEY,
			collection TEXT NOT NULL,
			local_id INTEGER NOT NULL,
			remote_id INTEGER,
			local_data TEXT NOT NULL,
			remote_data TEXT NOT NULL,
			remote_updated_at TIMESTAMP NOT NULL,
			detected_at TIMESTAMP NOT NULL
		)`,
	}
	for _, q := range ddl {
		if _, err := s.db.DB.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const recordColumns = `id, remote_id, payload, sync_status, last_synced_at, created_at, updated_at, deleted_at`

func scanRecord(row interface{ Scan(...any) error }) (*Record, error) {
	var r Record
	var payload string
	err := row.Scan(
		&r.ID,
		&r.RemoteID,
		&payload,
		&r.SyncStatus,
		&r.LastSyncedAt,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Payload = json.RawMessage(payload)
	return &r, nil
}

func (s *SQLiteStore) ListRecords(ctx context.Context, c Collection, filter RecordFilter, page, perPage int) (*RecordPage, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown collection %q", c)
	}
	if page < 1 || perPage < 1 {
		return nil, fmt.Errorf("invalid pagination: page=%d per_page=%d", page, perPage)
	}

	where := "deleted_at IS NULL"
	args := []any{}
	if filter.Search != "" {
		where += " AND payload LIKE ?"
		args = append(args, "%"+filter.Search+"%")
	}

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", c.table(), where)
	if err := s.db.DB.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?",
		recordColumns, c.table(), where)
	args = append(args, perPage, (page-1)*perPage)

	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []*Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	lastPage := (total + perPage - 1) / perPage
	if lastPage < 1 {
		lastPage = 1
	}

	return &RecordPage{
		Data:        records,
		CurrentPage: page,
		LastPage:    lastPage,
		PerPage:     perPage,
		Total:       total,
	}, nil
}

func (s *SQLiteStore) getRecordWhere(ctx context.Context, c Collection, where string, arg any) (*Record, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown collection %q", c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s", recordColumns, c.table(), where)
	r, err := scanRecord(s.db.DB.QueryRowContext(ctx, query, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLiteStore) GetRecord(ctx context.Context, c Collection, id int64) (*Record, error) {
	return s.getRecordWhere(ctx, c, "id = ? AND deleted_at IS NULL", id)
}

func (s *SQLiteStore) GetRecordByRemoteID(ctx context.Context, c Collection, remoteID int64) (*Record, error) {
	return s.getRecordWhere(ctx, c, "remote_id = ? AND deleted_at IS NULL", remoteID)
}

func (s *SQLiteStore) FindByRemoteID(ctx context.Context, c Collection, remoteID int64) (*Record, error) {
	return s.getRecordWhere(ctx, c, "remote_id = ?", remoteID)
}

func (s *SQLiteStore) CreateRecord(ctx context.Context, c Collection, rec *Record) (int64, error) {
	if !c.Valid() {
		return 0, fmt.Errorf("unknown collection %q", c)
	}

	now := time.Now()
	status := rec.SyncStatus
	if status == "" {
		status = StatusPending
	}
	payload := rec.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	query := fmt.Sprintf(`INSERT INTO %s (remote_id, payload, sync_status, last_synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`, c.table())
	res, err := s.db.DB.ExecContext(ctx, query,
		rec.RemoteID,
		string(payload),
		status,
		rec.LastSyncedAt,
		createdAt,
		updatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) UpdateRecord(ctx context.Context, c Collection, id int64, ch RecordChanges) error {
	if !c.Valid() {
		return fmt.Errorf("unknown collection %q", c)
	}

	sets := []string{}
	args := []any{}
	if len(ch.Payload) > 0 {
		sets = append(sets, "payload = ?")
		args = append(args, string(ch.Payload))
	}
	if ch.RemoteID != nil {
		sets = append(sets, "remote_id = ?")
		args = append(args, *ch.RemoteID)
	}
	if ch.SyncStatus != nil {
		sets = append(sets, "sync_status = ?")
		args = append(args, *ch.SyncStatus)
	}
	if ch.LastSyncedAt != nil {
		sets = append(sets, "last_synced_at = ?")
		args = append(args, *ch.LastSyncedAt)
	}
	updatedAt := time.Now()
	if ch.UpdatedAt != nil {
		updatedAt = *ch.UpdatedAt
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, updatedAt)
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", c.table(), strings.Join(sets, ", "))
	res, err := s.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("record %d not found in %s", id, c)
	}
	return nil
}

func (s *SQLiteStore) DeleteRecord(ctx context.Context, c Collection, id int64) error {
	if !c.Valid() {
		return fmt.Errorf("unknown collection %q", c)
	}

	var query string
	var args []any
	if c.SoftDeletes() {
		now := time.Now()
		query = fmt.Sprintf(`UPDATE %s SET deleted_at = ?, sync_status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`, c.table())
		args = []any{now, StatusPending, now, id}
	} else {
		query = fmt.Sprintf("DELETE FROM %s WHERE id = ?", c.table())
		args = []any{id}
	}

	res, err := s.db.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("record %d not found in %s", id, c)
	}
	return nil
}

func (s *SQLiteStore) ListPendingRecords(ctx context.Context, c Collection) ([]*Record, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("unknown collection %q", c)
	}

	// Includes soft-deleted rows: pending deletions still need pushing.
	query := fmt.Sprintf("SELECT %s FROM %s WHERE sync_status = ? ORDER BY id", recordColumns, c.table())
	rows, err := s.db.DB.QueryContext(ctx, query, StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) Info(ctx context.Context) (*StoreInfo, error) {
	info := &StoreInfo{Collections: map[Collection]CollectionInfo{}}

	for _, c := range Collections() {
		var ci CollectionInfo
		query := fmt.Sprintf(`SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN sync_status = 'pending' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN deleted_at IS NOT NULL THEN 1 ELSE 0 END), 0)
			FROM %s`, c.table())
		if err := s.db.DB.QueryRowContext(ctx, query).Scan(&ci.Total, &ci.Pending, &ci.Deleted); err != nil {
			return nil, err
		}
		info.Collections[c] = ci
	}

	if err := s.db.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM sync_conflicts").Scan(&info.Conflicts); err != nil {
		return nil, err
	}

	if fi, err := os.Stat(s.db.Path); err == nil {
		info.SizeBytes = fi.Size()
	}

	return info, nil
}

func (s *SQLiteStore) GetSettings(ctx context.Context) (*SyncSettings, error) {
	query := `SELECT server_url, auth_token, auto_sync_enabled, sync_interval_minutes, sync_on_startup,
		tension_enabled, stocktake_enabled, finish_earlier_enabled, updated_at
		FROM sync_settings WHERE id = 1`

	var st SyncSettings
	err := s.db.DB.QueryRowContext(ctx, query).Scan(
		&st.ServerURL,
		&st.AuthToken,
		&st.AutoSyncEnabled,
		&st.SyncIntervalMinutes,
		&st.SyncOnStartup,
		&st.TensionEnabled,
		&st.StocktakeEnabled,
		&st.FinishEarlierEnabled,
		&st.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return s.seedSettings(ctx)
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *SQLiteStore) seedSettings(ctx context.Context) (*SyncSettings, error) {
	st := s.defaults
	if st.SyncIntervalMinutes < 1 {
		st.SyncIntervalMinutes = 15
	}
	st.UpdatedAt = time.Now()

	query := `INSERT INTO sync_settings (id, server_url, auth_token, auto_sync_enabled, sync_interval_minutes,
		sync_on_startup, tension_enabled, stocktake_enabled, finish_earlier_enabled, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := s.db.DB.ExecContext(ctx, query,
		st.ServerURL,
		st.AuthToken,
		st.AutoSyncEnabled,
		st.SyncIntervalMinutes,
		st.SyncOnStartup,
		st.TensionEnabled,
		st.StocktakeEnabled,
		st.FinishEarlierEnabled,
		st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *SQLiteStore) UpdateSettings(ctx context.Context, ch SettingsChanges) (*SyncSettings, error) {
	// Seed on first use so the transactional read below always finds the row.
	if _, err := s.GetSettings(ctx); err != nil {
		return nil, err
	}

	var st *SyncSettings
	err := s.db.ExecTx(ctx, func(tx *sql.Tx) error {
		query := `SELECT server_url, auth_token, auto_sync_enabled, sync_interval_minutes, sync_on_startup,
			tension_enabled, stocktake_enabled, finish_earlier_enabled, updated_at
			FROM sync_settings WHERE id = 1`

		st = &SyncSettings{}
		if err := tx.QueryRowContext(ctx, query).Scan(
			&st.ServerURL,
			&st.AuthToken,
			&st.AutoSyncEnabled,
			&st.SyncIntervalMinutes,
			&st.SyncOnStartup,
			&st.TensionEnabled,
			&st.StocktakeEnabled,
			&st.FinishEarlierEnabled,
			&st.UpdatedAt,
		); err != nil {
			return err
		}

		applySettingsChanges(st, ch)
		st.UpdatedAt = time.Now()

		update := `UPDATE sync_settings SET server_url = ?, auth_token = ?, auto_sync_enabled = ?,
			sync_interval_minutes = ?, sync_on_startup = ?, tension_enabled = ?, stocktake_enabled = ?,
			finish_earlier_enabled = ?, updated_at = ? WHERE id = 1`
		_, err := tx.ExecContext(ctx, update,
			st.ServerURL,
			st.AuthToken,
			st.AutoSyncEnabled,
			st.SyncIntervalMinutes,
			st.SyncOnStartup,
			st.TensionEnabled,
			st.StocktakeEnabled,
			st.FinishEarlierEnabled,
			st.UpdatedAt,
		)
		return err
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

func applySettingsChanges(st *SyncSettings, ch SettingsChanges) {
	if ch.ServerURL != nil {
		st.ServerURL = *ch.ServerURL
	}
	if ch.AuthToken != nil {
		st.AuthToken = *ch.AuthToken
	}
	if ch.AutoSyncEnabled != nil {
		st.AutoSyncEnabled = *ch.AutoSyncEnabled
	}
	if ch.SyncIntervalMinutes != nil {
		st.SyncIntervalMinutes = *ch.SyncIntervalMinutes
	}
	if ch.SyncOnStartup != nil {
		st.SyncOnStartup = *ch.SyncOnStartup
	}
	if ch.TensionEnabled != nil {
		st.TensionEnabled = *ch.TensionEnabled
	}
	if ch.StocktakeEnabled != nil {
		st.StocktakeEnabled = *ch.StocktakeEnabled
	}
	if ch.FinishEarlierEnabled != nil {
		st.FinishEarlierEnabled = *ch.FinishEarlierEnabled
	}
}

func (s *SQLiteStore) AppendHistory(ctx context.Context, h *SyncHistory) error {
	errs, err := json.Marshal(h.Errors)
	if err != nil {
		return err
	}

	query := `INSERT INTO sync_history (id, sync_type, status, uploaded, downloaded, conflicts, errors, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.DB.ExecContext(ctx, query,
		h.ID,
		h.SyncType,
		h.Status,
		h.Uploaded,
		h.Downloaded,
		h.Conflicts,
		string(errs),
		h.StartedAt,
		h.CompletedAt,
	)
	return err
}

func (s *SQLiteStore) ListHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error) {
	query := `SELECT id, sync_type, status, uploaded, downloaded, conflicts, errors, started_at, completed_at
		FROM sync_history ORDER BY started_at DESC, id LIMIT ? OFFSET ?`

	rows, err := s.db.DB.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []*SyncHistory
	for rows.Next() {
		var h SyncHistory
		var errs string
		err := rows.Scan(
			&h.ID,
			&h.SyncType,
			&h.Status,
			&h.Uploaded,
			&h.Downloaded,
			&h.Conflicts,
			&errs,
			&h.StartedAt,
			&h.CompletedAt,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(errs), &h.Errors); err != nil {
			return nil, err
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}

func (s *SQLiteStore) UpsertConflict(ctx context.Context, c *SyncConflict) error {
	query := `INSERT INTO sync_conflicts (id, collection, local_id, remote_id, local_data, remote_data, remote_updated_at, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
		remote_id = excluded.remote_id,
		local_data = excluded.local_data,
		remote_data = excluded.remote_data,
		remote_updated_at = excluded.remote_updated_at,
		detected_at = excluded.detected_at`

	_, err := s.db.DB.ExecContext(ctx, query,
		c.ID,
		string(c.Collection),
		c.LocalID,
		c.RemoteID,
		string(c.LocalData),
		string(c.RemoteData),
		c.RemoteUpdatedAt,
		c.DetectedAt,
	)
	return err
}

func scanConflict(row interface{ Scan(...any) error }) (*SyncConflict, error) {
	var c SyncConflict
	var collection, localData, remoteData string
	err := row.Scan(
		&c.ID,
		&collection,
		&c.LocalID,
		&c.RemoteID,
		&localData,
		&remoteData,
		&c.RemoteUpdatedAt,
		&c.DetectedAt,
	)
	if err != nil {
		return nil, err
	}
	c.Collection = Collection(collection)
	c.LocalData = json.RawMessage(localData)
	c.RemoteData = json.RawMessage(remoteData)
	return &c, nil
}

const conflictColumns = `id, collection, local_id, remote_id, local_data, remote_data, remote_updated_at, detected_at`

func (s *SQLiteStore) GetConflict(ctx context.Context, id string) (*SyncConflict, error) {
	query := fmt.Sprintf("SELECT %s FROM sync_conflicts WHERE id = ?", conflictColumns)
	c, err := scanConflict(s.db.DB.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *SQLiteStore) ListConflicts(ctx context.Context) ([]*SyncConflict, error) {
	query := fmt.Sprintf("SELECT %s FROM sync_conflicts ORDER BY detected_at DESC, id", conflictColumns)
	rows, err := s.db.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conflicts []*SyncConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, c)
	}
	return conflicts, rows.Err()
}

func (s *SQLiteStore) DeleteConflict(ctx context.Context, id string) error {
	_, err := s.db.DB.ExecContext(ctx, "DELETE FROM sync_conflicts WHERE id = ?", id)
	return err
}
