// -----------------------------------------------------------------------
// Last Modified: Thursday, 20th August 2026 11:42:09 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

package server

import (
	"net/http"
	"strings"
)

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *http.ServeMux {
	mux := http.NewServeMux()

	// WebSocket route (progress event streaming)
	mux.HandleFunc("/ws", s.app.WSHandler.HandleWebSocket)

	// API routes - Scrape jobs
	mux.HandleFunc("/api/scrapes", s.handleScrapesRoute)
	mux.HandleFunc("/api/scrapes/", s.handleScrapeRoutes) // /{id}, /{id}/cancel, /{id}/rerun

	// API routes - URL introspection
	mux.HandleFunc("/api/check-url", s.app.ScrapeHandler.CheckURLHandler) // GET - dedup index lookup
	mux.HandleFunc("/api/probe-url", s.app.ScrapeHandler.ProbeURLHandler) // GET - live fetch probe

	// API routes - Documents
	mux.HandleFunc("/api/documents/stats", s.app.DocumentHandler.StatsHandler)
	mux.HandleFunc("/api/documents", s.app.DocumentHandler.ListDocumentsHandler)
	mux.HandleFunc("/api/documents/", s.app.DocumentHandler.GetDocumentHandler) // /{content_ref}
	mux.HandleFunc("/api/search", s.app.DocumentHandler.SearchHandler)

	// API routes - Scrape definitions
	mux.HandleFunc("/api/definitions", s.app.DefinitionHandler.ListDefinitionsHandler)
	mux.HandleFunc("/api/definitions/", s.handleDefinitionRoutes) // /{id}, /{id}/run

	// API routes - System
	mux.HandleFunc("/api/status", s.app.StatusHandler.GetStatusHandler)
	mux.HandleFunc("/api/version", s.app.StatusHandler.VersionHandler)
	mux.HandleFunc("/api/health", s.app.StatusHandler.HealthHandler)
	mux.HandleFunc("/api/shutdown", s.ShutdownHandler) // Graceful shutdown endpoint (dev mode)

	// 404 handler for unmatched API routes
	mux.HandleFunc("/api/", s.notFoundHandler)

	return mux
}

// handleScrapesRoute routes /api/scrapes (create and list)
func (s *Server) handleScrapesRoute(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.app.ScrapeHandler.StartScrapeHandler(w, r)
	case http.MethodGet:
		s.app.ScrapeHandler.ListScrapeJobsHandler(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleScrapeRoutes routes /api/scrapes/{id} and its subpaths
func (s *Server) handleScrapeRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if r.Method == http.MethodPost {
		if strings.HasSuffix(path, "/cancel") {
			s.app.ScrapeHandler.CancelScrapeHandler(w, r)
			return
		}
		if strings.HasSuffix(path, "/rerun") {
			s.app.ScrapeHandler.RerunScrapeHandler(w, r)
			return
		}
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	// GET /api/scrapes/{id}
	if r.Method == http.MethodGet && len(path) > len("/api/scrapes/") {
		s.app.ScrapeHandler.GetScrapeJobHandler(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

// handleDefinitionRoutes routes /api/definitions/{id} and /{id}/run
func (s *Server) handleDefinitionRoutes(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if r.Method == http.MethodPost && strings.HasSuffix(path, "/run") {
		s.app.DefinitionHandler.RunDefinitionHandler(w, r)
		return
	}

	if r.Method == http.MethodGet && len(path) > len("/api/definitions/") {
		s.app.DefinitionHandler.GetDefinitionHandler(w, r)
		return
	}

	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

func (s *Server) notFoundHandler(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "Not found", http.StatusNotFound)
}
