package handlers

import (
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/services/scheduler"
)

// DefinitionHandler exposes the loaded scrape definitions and lets the
// caller run one on demand
type DefinitionHandler struct {
	scheduler *scheduler.Service
	logger    arbor.ILogger
}

func NewDefinitionHandler(schedulerService *scheduler.Service, logger arbor.ILogger) *DefinitionHandler {
	return &DefinitionHandler{
		scheduler: schedulerService,
		logger:    logger,
	}
}

// ListDefinitionsHandler handles GET /api/definitions
func (h *DefinitionHandler) ListDefinitionsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	defs := h.scheduler.Definitions()
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items": defs,
		"count": len(defs),
	})
}

// RunDefinitionHandler handles POST /api/definitions/{id}/run
func (h *DefinitionHandler) RunDefinitionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/definitions/")
	id = strings.TrimSuffix(id, "/run")
	if id == "" {
		WriteError(w, http.StatusBadRequest, "definition id is required")
		return
	}

	job, err := h.scheduler.RunDefinition(r.Context(), id)
	if err != nil {
		h.logger.Warn().Str("definition", id).Err(err).Msg("Manual definition run failed")
		WriteServiceError(w, err)
		return
	}

	h.logger.Info().Str("definition", id).Str("job_id", job.ID).Msg("Definition run started")
	WriteJSON(w, http.StatusCreated, job)
}

// GetDefinitionHandler handles GET /api/definitions/{id}
func (h *DefinitionHandler) GetDefinitionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/definitions/")
	def, ok := h.scheduler.GetDefinition(id)
	if !ok {
		WriteError(w, http.StatusNotFound, "definition not found")
		return
	}
	WriteJSON(w, http.StatusOK, def)
}
