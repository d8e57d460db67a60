package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/internal/platform/ingest"
	"github.com/kislikjeka/pocketflow/internal/platform/pocket"
	"github.com/kislikjeka/pocketflow/internal/platform/sync"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, message string, statusCode int) {
	respondJSON(w, ErrorResponse{Error: message}, statusCode)
}

// respondServiceError maps a domain error to an HTTP status
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sync.ErrUnknownProvider), errors.Is(err, ingest.ErrUnknownProvider):
		respondError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, pocket.ErrPocketNotFound), errors.Is(err, pocket.ErrWrongProfile),
		errors.Is(err, ledger.ErrNotFound), errors.Is(err, sync.ErrNoTrackedAccounts):
		respondError(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, pocket.ErrDuplicateName), errors.Is(err, pocket.ErrRefInUse):
		respondError(w, err.Error(), http.StatusConflict)
	case errors.Is(err, pocket.ErrMissingRef), errors.Is(err, pocket.ErrMissingProfile),
		errors.Is(err, pocket.ErrInvalidType), errors.Is(err, pocket.ErrMissingName),
		errors.Is(err, pocket.ErrNameTooLong),
		errors.Is(err, sync.ErrInvalidWindow):
		respondError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrExpiredCredential), errors.Is(err, ledger.ErrTokenExpired),
		errors.Is(err, sync.ErrUpstreamUnavailable):
		respondError(w, err.Error(), http.StatusBadGateway)
	default:
		respondError(w, "internal server error", http.StatusInternalServerError)
	}
}
