package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kislikjeka/pocketflow/internal/platform/sync"
	"github.com/kislikjeka/pocketflow/internal/transport/httpapi/middleware"
)

// SyncServiceInterface runs manual syncs
type SyncServiceInterface interface {
	SyncNow(ctx context.Context, profile, provider string) (*sync.SyncReport, error)
}

// SyncHandler handles manual "sync now" requests
type SyncHandler struct {
	syncService SyncServiceInterface
}

// NewSyncHandler creates a new sync handler
func NewSyncHandler(syncService SyncServiceInterface) *SyncHandler {
	return &SyncHandler{syncService: syncService}
}

// SyncNow handles POST /api/v1/sync/{provider} for the profile in the token
func (h *SyncHandler) SyncNow(w http.ResponseWriter, r *http.Request) {
	profile, ok := middleware.GetProfileFromContext(r.Context())
	if !ok {
		respondError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	report, err := h.syncService.SyncNow(r.Context(), profile, chi.URLParam(r, "provider"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, report, http.StatusOK)
}
