package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"plant-sync-client/internal/store"
	syncsvc "plant-sync-client/internal/sync"
)

// Handler is the local HTTP surface the desktop UI talks to.
type Handler struct {
	store store.Store
	orch  *syncsvc.Orchestrator
	sched *syncsvc.Scheduler
}

func NewHandler(st store.Store, orch *syncsvc.Orchestrator, sched *syncsvc.Scheduler) *Handler {
	return &Handler{
		store: st,
		orch:  orch,
		sched: sched,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/records/{collection}", func(r chi.Router) {
			r.Get("/", h.ListRecords)
			r.Post("/", h.CreateRecord)
			r.Get("/{id}", h.GetRecord)
			r.Put("/{id}", h.UpdateRecord)
			r.Delete("/{id}", h.DeleteRecord)
		})

		r.Post("/sync", h.SyncAll)
		r.Post("/sync/push", h.Push)
		r.Post("/sync/pull", h.Pull)
		r.Get("/sync/status", h.SyncStatus)
		r.Post("/sync/test-connection", h.TestConnection)
		r.Get("/sync/history", h.SyncHistory)
		r.Get("/sync/conflicts", h.ListConflicts)
		r.Post("/sync/conflicts/{id}/resolve", h.ResolveConflict)

		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)

		r.Get("/info", h.Info)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func collectionParam(r *http.Request) (store.Collection, error) {
	raw := strings.ReplaceAll(chi.URLParam(r, "collection"), "-", "_")
	c := store.Collection(raw)
	if !c.Valid() {
		return "", errors.New("unknown collection " + raw)
	}
	return c, nil
}

func idParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func intQuery(r *http.Request, key string, def int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			return v
		}
	}
	return def
}

func (h *Handler) ListRecords(w http.ResponseWriter, r *http.Request) {
	c, err := collectionParam(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	page := intQuery(r, "page", 1)
	perPage := intQuery(r, "per_page", 20)
	filter := store.RecordFilter{Search: r.URL.Query().Get("search")}

	result, err := h.store.ListRecords(r.Context(), c, filter, page, perPage)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) GetRecord(w http.ResponseWriter, r *http.Request) {
	c, err := collectionParam(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	rec, err := h.store.GetRecord(r.Context(), c, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, errors.New("record not found"))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) CreateRecord(w http.ResponseWriter, r *http.Request) {
	c, err := collectionParam(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil || !json.Valid(payload) {
		writeError(w, http.StatusBadRequest, errors.New("body must be a JSON payload"))
		return
	}

	id, err := h.store.CreateRecord(r.Context(), c, &store.Record{Payload: payload})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
}

func (h *Handler) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	c, err := collectionParam(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil || !json.Valid(payload) {
		writeError(w, http.StatusBadRequest, errors.New("body must be a JSON payload"))
		return
	}

	// An edit makes the row pending again until it is pushed.
	pending := store.StatusPending
	ch := store.RecordChanges{Payload: payload, SyncStatus: &pending}
	if err := h.store.UpdateRecord(r.Context(), c, id, ch); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *Handler) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	c, err := collectionParam(r)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	id, err := idParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := h.store.DeleteRecord(r.Context(), c, id); err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (h *Handler) runSync(w http.ResponseWriter, r *http.Request, run func() (*syncsvc.Result, error)) {
	result, err := run()
	if err != nil {
		if errors.Is(err, syncsvc.ErrSyncInProgress) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) SyncAll(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, func() (*syncsvc.Result, error) { return h.orch.SyncAll(r.Context()) })
}

func (h *Handler) Push(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, func() (*syncsvc.Result, error) { return h.orch.PushToRemote(r.Context()) })
}

func (h *Handler) Pull(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, func() (*syncsvc.Result, error) { return h.orch.PullFromRemote(r.Context()) })
}

func (h *Handler) SyncStatus(w http.ResponseWriter, r *http.Request) {
	info, err := h.store.Info(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	var lastSuccess any
	history, err := h.store.ListHistory(r.Context(), 20, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	for _, entry := range history {
		if entry.Status == string(syncsvc.OutcomeSuccess) {
			lastSuccess = entry.CompletedAt
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"syncing":         h.orch.IsSyncing(),
		"last_success_at": lastSuccess,
		"collections":     info.Collections,
		"conflicts":       info.Conflicts,
	})
}

func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.TestConnection(r.Context()); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"connected": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connected": true})
}

func (h *Handler) SyncHistory(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 50)
	offset := intQuery(r, "offset", 0)

	history, err := h.store.ListHistory(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if history == nil {
		history = []*store.SyncHistory{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := h.store.ListConflicts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if conflicts == nil {
		conflicts = []*store.SyncConflict{}
	}
	writeJSON(w, http.StatusOK, conflicts)
}

func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Resolution string `json:"resolution"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := h.orch.ResolveConflict(r.Context(), id, syncsvc.Resolution(body.Resolution)); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.GetSettings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var ch store.SettingsChanges
	if err := json.NewDecoder(r.Body).Decode(&ch); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	settings, err := h.store.UpdateSettings(r.Context(), ch)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if h.sched != nil {
		if err := h.sched.Reload(r.Context()); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, settings)
}

func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	info, err := h.store.Info(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			return
		}

		next.ServeHTTP(w, r)
	})
}
