package handlers

import (
	"net/http"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

// StatusHandler reports a point-in-time view of the crawler: queue
// depths, job counts, document corpus size, and uptime.
type StatusHandler struct {
	storage       interfaces.StorageManager
	frontierQueue interfaces.QueueManager
	ingestQueue   interfaces.QueueManager
	startedAt     time.Time
	logger        arbor.ILogger
}

// NewStatusHandler creates a new status handler
func NewStatusHandler(
	storage interfaces.StorageManager,
	frontierQueue interfaces.QueueManager,
	ingestQueue interfaces.QueueManager,
	logger arbor.ILogger,
) *StatusHandler {
	return &StatusHandler{
		storage:       storage,
		frontierQueue: frontierQueue,
		ingestQueue:   ingestQueue,
		startedAt:     time.Now(),
		logger:        logger,
	}
}

// GetStatusHandler handles GET /api/status
func (h *StatusHandler) GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	ctx := r.Context()

	status := map[string]interface{}{
		"version":   common.GetVersion(),
		"uptime":    time.Since(h.startedAt).Round(time.Second).String(),
		"timestamp": time.Now().UTC(),
	}

	if depth, err := h.frontierQueue.Length(ctx); err == nil {
		status["frontier_queue_depth"] = depth
	} else {
		h.logger.Warn().Err(err).Msg("Failed to read frontier queue depth")
	}
	if depth, err := h.ingestQueue.Length(ctx); err == nil {
		status["ingest_queue_depth"] = depth
	}

	if total, err := h.storage.JobStorage().CountJobs(ctx); err == nil {
		status["total_jobs"] = total
	}
	if active, err := h.storage.JobStorage().CountActiveJobs(ctx); err == nil {
		status["active_jobs"] = active
	}
	if docs, err := h.storage.DocumentStorage().CountDocuments(); err == nil {
		status["documents"] = docs
	}
	if known, err := h.storage.DedupStorage().Count(ctx); err == nil {
		status["known_urls"] = known
	}

	WriteJSON(w, http.StatusOK, status)
}

// HealthHandler handles GET /api/health
func (h *StatusHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// VersionHandler handles GET /api/version
func (h *StatusHandler) VersionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"version": common.GetVersion()})
}
