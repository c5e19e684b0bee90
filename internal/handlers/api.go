package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/seqlog/internal/common"
	"github.com/ternarybob/seqlog/internal/sessionlog"
)

// StatsProvider reports buffer totals for the health endpoint
type StatsProvider interface {
	Stats() sessionlog.Stats
}

// EvictionStatus reports the idle eviction schedule's progress
type EvictionStatus interface {
	Enabled() bool
	Status() (lastRun time.Time, total int)
}

type APIHandler struct {
	stats    StatsProvider
	eviction EvictionStatus
	config   *common.Config
	logger   arbor.ILogger
}

func NewAPIHandler(stats StatsProvider, eviction EvictionStatus, config *common.Config, logger arbor.ILogger) *APIHandler {
	return &APIHandler{
		stats:    stats,
		eviction: eviction,
		config:   config,
		logger:   logger,
	}
}

// VersionHandler returns version information
func (h *APIHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	WriteJSON(w, http.StatusOK, common.GetVersionInfo())
}

// HealthResponse is returned by /api/health
type HealthResponse struct {
	Status      string            `json:"status"`
	Environment string            `json:"environment"`
	Ingestion   bool              `json:"ingestion"`
	Buffer      *sessionlog.Stats `json:"buffer,omitempty"`
	Eviction    *EvictionInfo     `json:"eviction,omitempty"`
}

// EvictionInfo summarises idle eviction. LastRun is empty before the first run.
type EvictionInfo struct {
	Enabled bool   `json:"enabled"`
	LastRun string `json:"last_run,omitempty"`
	Evicted int    `json:"evicted"`
}

// HealthHandler returns health check status
func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	resp := HealthResponse{
		Status:      "ok",
		Environment: h.config.Environment,
		Ingestion:   !h.config.IsProduction(),
	}
	if h.stats != nil {
		stats := h.stats.Stats()
		resp.Buffer = &stats
	}
	if h.eviction != nil {
		lastRun, total := h.eviction.Status()
		info := &EvictionInfo{Enabled: h.eviction.Enabled(), Evicted: total}
		if !lastRun.IsZero() {
			info.LastRun = lastRun.UTC().Format(time.RFC3339)
		}
		resp.Eviction = info
	}
	WriteJSON(w, http.StatusOK, resp)
}

// NotFoundHandler handles 404 errors with JSON response
func (h *APIHandler) NotFoundHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusNotFound, map[string]interface{}{
		"success": false,
		"error":   "Not found",
		"path":    r.URL.Path,
	})
}
