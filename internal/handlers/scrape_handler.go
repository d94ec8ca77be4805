// -----------------------------------------------------------------------
// Last Modified: Tuesday, 18th August 2026 10:02:31 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/models"
	"github.com/ternarybob/colligo/internal/services/scraper"
)

// ScrapeHandler exposes the job control API: start, cancel, rerun, get,
// list, and the dedup introspection endpoints.
type ScrapeHandler struct {
	scraperService *scraper.Service
	logger         arbor.ILogger
}

// NewScrapeHandler creates a new scrape handler
func NewScrapeHandler(scraperService *scraper.Service, logger arbor.ILogger) *ScrapeHandler {
	return &ScrapeHandler{
		scraperService: scraperService,
		logger:         logger,
	}
}

// StartScrapeHandler handles POST /api/scrapes
func (h *ScrapeHandler) StartScrapeHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	var req scraper.ScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	job, err := h.scraperService.StartScrape(r.Context(), &req)
	if err != nil {
		h.logger.Warn().Str("url", req.BaseURL).Err(err).Msg("Start scrape rejected")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, job)
}

// ListScrapeJobsHandler handles GET /api/scrapes?limit=&cursor=
func (h *ScrapeHandler) ListScrapeJobsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	limit := QueryInt(r, "limit", 20)
	cursor := r.URL.Query().Get("cursor")

	jobs, nextCursor, err := h.scraperService.ListScrapeJobs(r.Context(), limit, cursor)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list scrape jobs")
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"items":  jobs,
		"count":  len(jobs),
		"cursor": nextCursor,
	})
}

// GetScrapeJobHandler handles GET /api/scrapes/{id}; the response is the
// job plus its page records, per-page errors included
func (h *ScrapeHandler) GetScrapeJobHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	jobID := strings.TrimPrefix(r.URL.Path, "/api/scrapes/")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, pages, err := h.scraperService.GetScrapeJob(r.Context(), jobID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"job":   job,
		"pages": pages,
	})
}

// CancelScrapeHandler handles POST /api/scrapes/{id}/cancel
func (h *ScrapeHandler) CancelScrapeHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	jobID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/scrapes/"), "/cancel")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.scraperService.CancelScrape(r.Context(), jobID)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, job)
}

// RerunScrapeHandler handles POST /api/scrapes/{id}/rerun. An optional
// JSON body {"config": {...}} replaces the prior job's config snapshot.
func (h *ScrapeHandler) RerunScrapeHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "POST") {
		return
	}

	jobID := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/scrapes/"), "/rerun")
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	var override *scraper.ScrapeConfigRequest
	if r.Body != nil && r.ContentLength != 0 {
		var body struct {
			Config *scraper.ScrapeConfigRequest `json:"config"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		override = body.Config
	}

	job, err := h.scraperService.RerunScrape(r.Context(), jobID, override)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, job)
}

// CheckURLHandler handles GET /api/check-url?url= — dedup introspection,
// no network traffic
func (h *ScrapeHandler) CheckURLHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		WriteError(w, http.StatusBadRequest, "url parameter is required")
		return
	}

	status, err := h.scraperService.CheckScrapeURL(r.Context(), rawURL)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, status)
}

// ProbeURLHandler handles GET /api/probe-url?url=&mode= — a live fetch
// probe that reports reachability, title, and link count without
// creating a job
func (h *ScrapeHandler) ProbeURLHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	rawURL := r.URL.Query().Get("url")
	if rawURL == "" {
		WriteError(w, http.StatusBadRequest, "url parameter is required")
		return
	}
	mode := models.FetchMode(r.URL.Query().Get("mode"))

	result, err := h.scraperService.CheckURL(r.Context(), rawURL, mode)
	if err != nil {
		WriteServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, result)
}
