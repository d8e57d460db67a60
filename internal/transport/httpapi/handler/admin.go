package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kislikjeka/pocketflow/internal/platform/admin"
	"github.com/kislikjeka/pocketflow/internal/platform/pocket"
	"github.com/kislikjeka/pocketflow/internal/platform/sync"
	"github.com/kislikjeka/pocketflow/internal/transport/httpapi/middleware"
)

// AdminServiceInterface is the operator command surface
type AdminServiceInterface interface {
	InspectMappings(ctx context.Context, profile string) (*admin.Inspection, error)
	CreatePocket(ctx context.Context, profile, name string, pocketType pocket.Type, ref string) (*pocket.Pocket, error)
	MapExternalRef(ctx context.Context, profile string, pocketID uuid.UUID, ref string) (*pocket.Pocket, error)
	MapPot(ctx context.Context, profile, provider, potRef string, pocketID uuid.UUID) (*pocket.PotMapping, error)
	SeedAccounts(ctx context.Context, profile, provider string) (*admin.SeedReport, error)
	RegisterWebhooks(ctx context.Context, profile, provider string) (*admin.WebhookReport, error)
	ReplayWindow(ctx context.Context, profile, provider string, from, to time.Time) (*sync.SyncReport, error)
	VerifyBalances(ctx context.Context, profile string) (*admin.BalanceReport, error)
}

// AdminHandler exposes admin operations for the profile in the token
type AdminHandler struct {
	adminService AdminServiceInterface
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(adminService AdminServiceInterface) *AdminHandler {
	return &AdminHandler{adminService: adminService}
}

// CreatePocketRequest is the body of POST /admin/pockets
type CreatePocketRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	ExternalRef string `json:"external_ref,omitempty"`
}

// MapRefRequest is the body of PUT /admin/pockets/{id}/ref
type MapRefRequest struct {
	ExternalRef string `json:"external_ref"`
}

// MapPotRequest is the body of POST /admin/pots
type MapPotRequest struct {
	Provider string `json:"provider"`
	PotRef   string `json:"pot_ref"`
	PocketID string `json:"pocket_id"`
}

// ReplayRequest is the body of POST /admin/replay/{provider}
type ReplayRequest struct {
	From string `json:"from"` // RFC3339
	To   string `json:"to"`   // RFC3339
}

// InspectMappings handles GET /api/v1/admin/mappings
func (h *AdminHandler) InspectMappings(w http.ResponseWriter, r *http.Request) {
	profile, ok := profileOrReject(w, r)
	if !ok {
		return
	}

	out, err := h.adminService.InspectMappings(r.Context(), profile)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, out, http.StatusOK)
}

// CreatePocket handles POST /api/v1/admin/pockets
func (h *AdminHandler) CreatePocket(w http.ResponseWriter, r *http.Request) {
	profile, ok := profileOrReject(w, r)
	if !ok {
		return
	}

	var req CreatePocketRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p, err := h.adminService.CreatePocket(r.Context(), profile, req.Name, pocket.Type(req.Type), req.ExternalRef)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, p, http.StatusCreated)
}

// MapExternalRef handles PUT /api/v1/admin/pockets/{id}/ref
func (h *AdminHandler) MapExternalRef(w http.ResponseWriter, r *http.Request) {
	profile, ok := profileOrReject(w, r)
	if !ok {
		return
	}

	pocketID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, "invalid pocket ID", http.StatusBadRequest)
		return
	}

	var req MapRefRequest
	if !decodeBody(w, r, &req) {
		return
	}

	p, err := h.adminService.MapExternalRef(r.Context(), profile, pocketID, req.ExternalRef)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, p, http.StatusOK)
}

// MapPot handles POST /api/v1/admin/pots
func (h *AdminHandler) MapPot(w http.ResponseWriter, r *http.Request) {
	profile, ok := profileOrReject(w, r)
	if !ok {
		return
	}

	var req MapPotRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pocketID, err := uuid.Parse(req.PocketID)
	if err != nil {
		respondError(w, "invalid pocket ID", http.StatusBadRequest)
		return
	}
	if req.Provider == "" {
		respondError(w, "provider is required", http.StatusBadRequest)
		return
	}

	m, err := h.adminService.MapPot(r.Context(), profile, req.Provider, req.PotRef, pocketID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, m, http.StatusOK)
}

// SeedAccounts handles POST /api/v1/admin/seed/{provider}
func (h *AdminHandler) SeedAccounts(w http.ResponseWriter, r *http.Request) {
	profile, ok := profileOrReject(w, r)
	if !ok {
		return
	}

	report, err := h.adminService.SeedAccounts(r.Context(), profile, chi.URLParam(r, "provider"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, report, http.StatusOK)
}

// RegisterWebhooks handles POST /api/v1/admin/webhooks/{provider}
func (h *AdminHandler) RegisterWebhooks(w http.ResponseWriter, r *http.Request) {
	profile, ok := profileOrReject(w, r)
	if !ok {
		return
	}

	report, err := h.adminService.RegisterWebhooks(r.Context(), profile, chi.URLParam(r, "provider"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, report, http.StatusOK)
}

// Replay handles POST /api/v1/admin/replay/{provider}
func (h *AdminHandler) Replay(w http.ResponseWriter, r *http.Request) {
	profile, ok := profileOrReject(w, r)
	if !ok {
		return
	}

	var req ReplayRequest
	if !decodeBody(w, r, &req) {
		return
	}
	from, err := time.Parse(time.RFC3339, req.From)
	if err != nil {
		respondError(w, "invalid from (use RFC3339)", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, req.To)
	if err != nil {
		respondError(w, "invalid to (use RFC3339)", http.StatusBadRequest)
		return
	}

	report, err := h.adminService.ReplayWindow(r.Context(), profile, chi.URLParam(r, "provider"), from, to)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, report, http.StatusOK)
}

// VerifyBalances handles GET /api/v1/admin/balances/verify
func (h *AdminHandler) VerifyBalances(w http.ResponseWriter, r *http.Request) {
	profile, ok := profileOrReject(w, r)
	if !ok {
		return
	}

	report, err := h.adminService.VerifyBalances(r.Context(), profile)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, report, http.StatusOK)
}

func profileOrReject(w http.ResponseWriter, r *http.Request) (string, bool) {
	profile, ok := middleware.GetProfileFromContext(r.Context())
	if !ok {
		respondError(w, "unauthorized", http.StatusUnauthorized)
	}
	return profile, ok
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		respondError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
