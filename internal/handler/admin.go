package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/allenfu2013/kong/internal/balancer"
	"github.com/allenfu2013/kong/internal/cache"
	"github.com/allenfu2013/kong/internal/repository"
	"github.com/allenfu2013/kong/pkg/logger"
	"github.com/gorilla/mux"
)

// AdminHandler provides the administrative API for upstreams and targets.
// Every mutation invalidates the matching cache keys, which is the external
// signal the resolution layer relies on to pick up changed records.
type AdminHandler struct {
	store     *repository.MemoryStore
	cache     *cache.Memo
	registry  *balancer.Registry
	logger    *logger.Logger
	startTime time.Time
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(store *repository.MemoryStore, memo *cache.Memo, registry *balancer.Registry, log *logger.Logger) *AdminHandler {
	return &AdminHandler{
		store:     store,
		cache:     memo,
		registry:  registry,
		logger:    log.AdminLogger(),
		startTime: time.Now(),
	}
}

// UpstreamRequest represents a request to create an upstream
type UpstreamRequest struct {
	Name  string `json:"name"`
	Slots int    `json:"slots,omitempty"`
	Seed  int64  `json:"seed,omitempty"`
}

// TargetRequest represents a request to append a target event
type TargetRequest struct {
	Target string `json:"target"`
	Weight int    `json:"weight"`
}

// HealthResponse represents the health endpoint payload
type HealthResponse struct {
	Status         string `json:"status"`
	TotalUpstreams int    `json:"total_upstreams"`
	LiveBalancers  int    `json:"live_balancers"`
	UptimeSeconds  int64  `json:"uptime_seconds"`
}

// Routes registers the admin endpoints on a router
func (h *AdminHandler) Routes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/upstreams", h.ListUpstreams).Methods(http.MethodGet)
	r.HandleFunc("/upstreams", h.CreateUpstream).Methods(http.MethodPost)
	r.HandleFunc("/upstreams/{name}", h.DeleteUpstream).Methods(http.MethodDelete)
	r.HandleFunc("/upstreams/{name}/targets", h.ListTargets).Methods(http.MethodGet)
	r.HandleFunc("/upstreams/{name}/targets", h.AddTarget).Methods(http.MethodPost)
}

// Health reports process health
func (h *AdminHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "healthy",
		TotalUpstreams: h.store.Count(),
		LiveBalancers:  h.registry.Len(),
		UptimeSeconds:  int64(time.Since(h.startTime).Seconds()),
	})
}

// ListUpstreams returns every upstream record
func (h *AdminHandler) ListUpstreams(w http.ResponseWriter, r *http.Request) {
	upstreams, err := h.store.FindAllUpstreams(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, upstreams)
}

// CreateUpstream creates an upstream and invalidates the directory
func (h *AdminHandler) CreateUpstream(w http.ResponseWriter, r *http.Request) {
	var req UpstreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	u, err := h.store.CreateUpstream(req.Name, req.Slots, req.Seed)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// The set of upstreams changed; the directory is invalidated as a unit.
	h.cache.Invalidate(balancer.DirectoryCacheKey())

	h.logger.WithField("upstream", u.Name).Info("Created upstream")
	writeJSON(w, http.StatusCreated, u)
}

// DeleteUpstream removes an upstream and invalidates all its cached state
func (h *AdminHandler) DeleteUpstream(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	u, err := h.store.DeleteUpstream(name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	h.cache.Invalidate(
		balancer.DirectoryCacheKey(),
		balancer.EntityCacheKey(u.ID),
		balancer.HistoryCacheKey(u.ID),
	)

	h.logger.WithField("upstream", name).Info("Deleted upstream")
	w.WriteHeader(http.StatusNoContent)
}

// ListTargets returns the raw target event log of an upstream
func (h *AdminHandler) ListTargets(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	u := h.store.UpstreamByName(name)
	if u == nil {
		http.Error(w, "Upstream not found", http.StatusNotFound)
		return
	}

	targets, err := h.store.FindAllTargets(r.Context(), u.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, targets)
}

// AddTarget appends a target event and invalidates the upstream's history
func (h *AdminHandler) AddTarget(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	u := h.store.UpstreamByName(name)
	if u == nil {
		http.Error(w, "Upstream not found", http.StatusNotFound)
		return
	}

	var req TargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	t, err := h.store.AddTarget(u.ID, req.Target, req.Weight)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.cache.Invalidate(balancer.HistoryCacheKey(u.ID))

	h.logger.WithField("upstream", name).
		WithField("target", t.Target).
		WithField("weight", t.Weight).
		Info("Appended target event")
	writeJSON(w, http.StatusCreated, t)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
