package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/italolelis/syncbox/internal/config"
	"github.com/italolelis/syncbox/internal/logctx"
	"github.com/italolelis/syncbox/internal/notifier"
	"github.com/italolelis/syncbox/internal/open"
	"github.com/italolelis/syncbox/internal/replica"
	"github.com/italolelis/syncbox/internal/replica/sqlite"
)

// OpenRequest is the POST /opens body. Omitted fields fall back to the
// manifest entry and then the service defaults.
type OpenRequest struct {
	Replica          string `json:"replica"`
	LocalOnly        bool   `json:"local_only"`
	BehaviorExisting string `json:"behavior_existing"`
	BehaviorNew      string `json:"behavior_new"`
	Deadline         string `json:"deadline"`
	OnTimeout        string `json:"on_timeout"`
}

// OpenProgress is a point-in-time snapshot of download progress.
type OpenProgress struct {
	Transferred  int64   `json:"transferred"`
	Transferable int64   `json:"transferable"`
	Estimate     float64 `json:"estimate"`
}

// OpenResponse describes one open attempt.
type OpenResponse struct {
	ID       string       `json:"id"`
	Replica  string       `json:"replica"`
	State    string       `json:"state"`
	Progress OpenProgress `json:"progress"`
	Status   string       `json:"status,omitempty"`
	Path     string       `json:"path,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// ReplicaResponse is one catalog row in GET /replicas.
type ReplicaResponse struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	Status       string `json:"status"`
	LastOpenedAt string `json:"last_opened_at,omitempty"`
	LastSyncedAt string `json:"last_synced_at,omitempty"`
	SnapshotSize int64  `json:"snapshot_size"`
}

type openRecord struct {
	id      string
	name    string
	attempt *open.Attempt

	mu           sync.Mutex
	transferred  int64
	transferable int64
	estimate     float64
}

func (rec *openRecord) snapshot() OpenProgress {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	return OpenProgress{
		Transferred:  rec.transferred,
		Transferable: rec.transferable,
		Estimate:     rec.estimate,
	}
}

// settledRetention bounds how long a settled open stays queryable. Without
// an expiry the record map grows for the life of the process.
const settledRetention = time.Hour

// OpensHandler exposes the open orchestration over HTTP.
type OpensHandler struct {
	username  string
	password  string
	manifest  *config.Manifest
	defaults  open.Options
	deps      open.Deps
	catalog   sqlite.Store
	notif     notifier.Notifier
	retention time.Duration

	mu    sync.RWMutex
	opens map[string]*openRecord
}

// NewOpensHandler creates a new opens handler. catalog and notif are optional.
func NewOpensHandler(username, password string, manifest *config.Manifest, defaults open.Options, deps open.Deps, catalog sqlite.Store, notif notifier.Notifier) *OpensHandler {
	return &OpensHandler{
		username:  username,
		password:  password,
		manifest:  manifest,
		defaults:  defaults,
		deps:      deps,
		catalog:   catalog,
		notif:     notif,
		retention: settledRetention,
		opens:     make(map[string]*openRecord),
	}
}

func (h *OpensHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.basicAuthMiddleware)

	r.Post("/opens", h.HandleStartOpen)
	r.Get("/opens/{id}", h.HandleGetOpen)
	r.Delete("/opens/{id}", h.HandleCancelOpen)
	r.Delete("/opens", h.HandleCancelAll)
	r.Get("/replicas", h.HandleListReplicas)

	return r
}

// HandleStartOpen starts a new open attempt for a manifest replica.
func (h *OpensHandler) HandleStartOpen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logctx.LoggerFromContext(ctx)

	var req OpenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	entry := h.manifest.Lookup(req.Replica)
	if entry == nil {
		http.Error(w, "unknown replica", http.StatusNotFound)

		return
	}

	opts, err := h.resolveOptions(entry, &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)

		return
	}

	// The attempt must outlive this request; tie it to the logger, not the
	// request's cancellation.
	attemptCtx := logctx.WithLogger(context.Background(), logctx.LoggerFromContext(ctx))

	attempt, err := open.Start(attemptCtx, open.Request{Locator: entry.Locator(), Options: opts}, h.deps)
	if err != nil {
		var cfgErr *replica.ConfigError
		if errors.As(err, &cfgErr) {
			http.Error(w, err.Error(), http.StatusBadRequest)

			return
		}

		logger.Error("failed to start open", "replica", entry.Name, "err", err)
		http.Error(w, "failed to start open", http.StatusInternalServerError)

		return
	}

	rec := &openRecord{
		id:      uuid.New().String(),
		name:    entry.Name,
		attempt: attempt,
	}

	attempt.Progress(open.ByteCountListener(func(transferred, transferable int64) {
		rec.mu.Lock()
		rec.transferred = transferred
		rec.transferable = transferable
		rec.mu.Unlock()
	}))
	attempt.Progress(open.EstimateListener(func(estimate float64) {
		rec.mu.Lock()
		rec.estimate = estimate
		rec.mu.Unlock()
	}))

	h.mu.Lock()
	h.opens[rec.id] = rec
	h.mu.Unlock()

	go h.expireAfterSettle(rec)

	if h.notif != nil {
		go h.notifyOnSettle(attemptCtx, rec)
	}

	logger.Info("open attempt started", "open_id", rec.id, "replica", entry.Name)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)

	if err := json.NewEncoder(w).Encode(h.describe(rec)); err != nil {
		logger.Error("failed to encode response", "err", err)
	}
}

// HandleGetOpen reports the state of one open attempt.
func (h *OpensHandler) HandleGetOpen(w http.ResponseWriter, r *http.Request) {
	rec := h.lookup(chi.URLParam(r, "id"))
	if rec == nil {
		http.Error(w, "unknown open", http.StatusNotFound)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(h.describe(rec)); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

// HandleCancelOpen cancels an open attempt and forgets it. Cancelling an
// attempt that already settled closes its replica handle instead.
func (h *OpensHandler) HandleCancelOpen(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	h.mu.Lock()
	rec, ok := h.opens[id]
	delete(h.opens, id)
	h.mu.Unlock()

	if !ok {
		http.Error(w, "unknown open", http.StatusNotFound)

		return
	}

	rec.attempt.Cancel()

	if res, _ := rec.attempt.Await(r.Context()); res != nil {
		if err := res.Close(); err != nil {
			logctx.LoggerFromContext(r.Context()).Warn("failed to close replica", "replica", rec.name, "err", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleCancelAll abandons every in-flight open at once. A disabled
// registry tracks nothing, so the handler falls back to its own records.
func (h *OpensHandler) HandleCancelAll(w http.ResponseWriter, r *http.Request) {
	if h.deps.Registry != nil && h.deps.Registry.Enabled() {
		h.deps.Registry.CancelAll()
	} else {
		h.mu.RLock()
		recs := make([]*openRecord, 0, len(h.opens))
		for _, rec := range h.opens {
			recs = append(recs, rec)
		}
		h.mu.RUnlock()

		for _, rec := range recs {
			rec.attempt.Cancel()
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleListReplicas lists every replica the catalog knows about.
func (h *OpensHandler) HandleListReplicas(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	if h.catalog == nil {
		http.Error(w, "catalog not configured", http.StatusNotImplemented)

		return
	}

	records, err := h.catalog.GetReplicas()
	if err != nil {
		logger.Error("failed to list replicas", "err", err)
		http.Error(w, "failed to list replicas", http.StatusInternalServerError)

		return
	}

	out := make([]ReplicaResponse, len(records))
	for i, rec := range records {
		out[i] = ReplicaResponse{
			Name:         rec.Name,
			Path:         rec.Path,
			Status:       rec.Status,
			LastOpenedAt: rec.LastOpenedAt,
			LastSyncedAt: rec.LastSyncedAt,
			SnapshotSize: rec.SnapshotSize,
		}
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(out); err != nil {
		logger.Error("failed to encode response", "err", err)
	}
}

func (h *OpensHandler) lookup(id string) *openRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.opens[id]
}

func (h *OpensHandler) describe(rec *openRecord) OpenResponse {
	resp := OpenResponse{
		ID:       rec.id,
		Replica:  rec.name,
		State:    rec.attempt.State(),
		Progress: rec.snapshot(),
	}

	select {
	case <-rec.attempt.Done():
		res, err := rec.attempt.Await(context.Background())
		resp.Status = settleStatus(res, err)

		if res != nil {
			resp.Path = res.Path
		}

		if err != nil {
			resp.Error = err.Error()
		}
	default:
	}

	return resp
}

// resolveOptions layers request overrides over manifest overrides over the
// service defaults.
func (h *OpensHandler) resolveOptions(entry *config.ManifestEntry, req *OpenRequest) (open.Options, error) {
	opts := h.defaults
	opts.LocalOnly = req.LocalOnly

	if entry.BehaviorExisting != "" {
		opts.BehaviorExisting = open.Behavior(entry.BehaviorExisting)
	}

	if entry.BehaviorNew != "" {
		opts.BehaviorNew = open.Behavior(entry.BehaviorNew)
	}

	if entry.OpenDeadline > 0 {
		opts.Deadline = entry.OpenDeadline
	}

	if entry.OnTimeout != "" {
		opts.OnTimeout = open.FallbackPolicy(entry.OnTimeout)
	}

	if req.BehaviorExisting != "" {
		opts.BehaviorExisting = open.Behavior(req.BehaviorExisting)
	}

	if req.BehaviorNew != "" {
		opts.BehaviorNew = open.Behavior(req.BehaviorNew)
	}

	if req.Deadline != "" {
		deadline, err := time.ParseDuration(req.Deadline)
		if err != nil {
			return open.Options{}, errors.New("invalid deadline")
		}

		opts.Deadline = deadline
	}

	if req.OnTimeout != "" {
		opts.OnTimeout = open.FallbackPolicy(req.OnTimeout)
	}

	return opts, nil
}

// expireAfterSettle drops a settled record once the retention window
// passes, closing the replica handle it would otherwise leak. A record
// explicitly deleted earlier is left alone.
func (h *OpensHandler) expireAfterSettle(rec *openRecord) {
	<-rec.attempt.Done()

	time.AfterFunc(h.retention, func() {
		h.mu.Lock()
		cur, ok := h.opens[rec.id]
		if ok && cur == rec {
			delete(h.opens, rec.id)
		}
		h.mu.Unlock()

		if !ok || cur != rec {
			return
		}

		if res, _ := rec.attempt.Await(context.Background()); res != nil {
			res.Close()
		}
	})
}

func (h *OpensHandler) notifyOnSettle(ctx context.Context, rec *openRecord) {
	<-rec.attempt.Done()

	res, err := rec.attempt.Await(ctx)
	status := settleStatus(res, err)

	var content string

	switch status {
	case "success":
		content = "✅ Replica opened: " + rec.name
	case "timeout":
		content = "⏱️ Replica open timed out: " + rec.name
	case "canceled":
		content = "🚫 Replica open canceled: " + rec.name
	default:
		content = "❌ Replica open failed: " + rec.name
	}

	if notifyErr := h.notif.Notify(ctx, content); notifyErr != nil {
		logctx.LoggerFromContext(ctx).Error("failed to notify", "open_id", rec.id, "err", notifyErr)
	}
}

func (h *OpensHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func settleStatus(res *replica.Replica, err error) string {
	switch {
	case err == nil && res != nil:
		return "success"
	case replica.IsCanceled(err):
		return "canceled"
	case replica.IsTimeout(err):
		return "timeout"
	default:
		return "failure"
	}
}
