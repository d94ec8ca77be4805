package handlers

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"

	"github.com/ternarybob/colligo/internal/interfaces"
)

// DocumentHandler serves the ingested document store: retrieval by
// content reference, listing, full-text search, and corpus stats.
type DocumentHandler struct {
	docStorage interfaces.DocumentStorage
	markdown   goldmark.Markdown
	logger     arbor.ILogger
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(docStorage interfaces.DocumentStorage, logger arbor.ILogger) *DocumentHandler {
	return &DocumentHandler{
		docStorage: docStorage,
		markdown:   goldmark.New(),
		logger:     logger,
	}
}

// ListDocumentsHandler handles GET /api/documents?limit=&offset=&job_id=
func (h *DocumentHandler) ListDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	if jobID := r.URL.Query().Get("job_id"); jobID != "" {
		docs, err := h.docStorage.ListDocumentsByJob(jobID)
		if err != nil {
			h.logger.Error().Str("job_id", jobID).Err(err).Msg("Failed to list documents by job")
			WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, map[string]interface{}{"items": docs, "count": len(docs)})
		return
	}

	limit := QueryInt(r, "limit", 50)
	offset := QueryInt(r, "offset", 0)

	docs, err := h.docStorage.ListDocuments(limit, offset)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list documents")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{"items": docs, "count": len(docs)})
}

// GetDocumentHandler handles GET /api/documents/{ref}. The default
// response is the JSON record; ?format=html renders the stored markdown.
func (h *DocumentHandler) GetDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	ref := strings.TrimPrefix(r.URL.Path, "/api/documents/")
	if ref == "" {
		WriteError(w, http.StatusBadRequest, "content reference is required")
		return
	}

	doc, err := h.docStorage.GetDocument(ref)
	if err != nil {
		WriteError(w, http.StatusNotFound, err.Error())
		return
	}

	if r.URL.Query().Get("format") == "html" {
		var buf bytes.Buffer
		if err := h.markdown.Convert([]byte(doc.ContentMarkdown), &buf); err != nil {
			h.logger.Error().Str("content_ref", ref).Err(err).Msg("Markdown render failed")
			WriteError(w, http.StatusInternalServerError, "failed to render document")
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<!DOCTYPE html>\n<html>\n<head><title>%s</title></head>\n<body>\n", doc.Title)
		w.Write(buf.Bytes())
		fmt.Fprint(w, "\n</body>\n</html>\n")
		return
	}

	WriteJSON(w, http.StatusOK, doc)
}

// SearchHandler handles GET /api/search?q=&limit=
func (h *DocumentHandler) SearchHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		WriteError(w, http.StatusBadRequest, "q parameter is required")
		return
	}
	limit := QueryInt(r, "limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	docs, err := h.docStorage.SearchDocuments(query, limit)
	if err != nil {
		h.logger.Error().Str("query", query).Err(err).Msg("Document search failed")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"query": query,
		"items": docs,
		"count": len(docs),
	})
}

// StatsHandler handles GET /api/documents/stats
func (h *DocumentHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, "GET") {
		return
	}

	stats, err := h.docStorage.GetStats()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to compute document stats")
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}

	WriteJSON(w, http.StatusOK, stats)
}
