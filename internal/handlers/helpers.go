package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ternarybob/colligo/internal/common"
)

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteError writes a standard error JSON response.
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]string{
		"status": "error",
		"error":  message,
	})
}

// WriteServiceError maps service errors onto HTTP status codes:
// validation failures are the caller's fault, unknown jobs are 404,
// everything else is a server error.
func WriteServiceError(w http.ResponseWriter, err error) error {
	var validationErr *common.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrJobNotFound):
		return WriteError(w, http.StatusNotFound, err.Error())
	default:
		return WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// QueryInt parses an integer query parameter with a fallback default
func QueryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
