package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/internal/platform/ingest"
	"github.com/kislikjeka/pocketflow/internal/transport/httpapi/middleware"
	"github.com/kislikjeka/pocketflow/pkg/logger"
)

// MaxPayloadBytes caps webhook and relay bodies
const MaxPayloadBytes = 1 << 20

// Ingester decodes and reconciles raw payloads
type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// ProviderLookup reports whether a provider has a registered codec
type ProviderLookup interface {
	Get(provider string) (ingest.Codec, bool)
}

// IngestResponse is the acknowledgement of one webhook or relay delivery
type IngestResponse struct {
	Status string              `json:"status"`
	Items  []ingest.ItemResult `json:"items"`
}

// IngestHandler serves the webhook and relay endpoints
type IngestHandler struct {
	ingester      Ingester
	providers     ProviderLookup
	secrets       map[string]string
	allowUnsigned bool
	logger        *logger.Logger
}

// NewIngestHandler creates the ingestion handler. secrets maps provider to its
// webhook signing secret. allowUnsigned accepts deliveries for providers
// without a configured secret and is meant for development only.
func NewIngestHandler(ingester Ingester, providers ProviderLookup, secrets map[string]string, allowUnsigned bool, log *logger.Logger) *IngestHandler {
	if secrets == nil {
		secrets = map[string]string{}
	}
	return &IngestHandler{
		ingester:      ingester,
		providers:     providers,
		secrets:       secrets,
		allowUnsigned: allowUnsigned,
		logger:        log.WithField("component", "ingest_handler"),
	}
}

// Webhook handles POST /webhooks/{provider}/{profile}
//
// Undecodable and non-transaction payloads are acknowledged with 200 so the
// provider stops retrying; a commit failure answers 500 so it redelivers.
func (h *IngestHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	provider := chi.URLParam(r, "provider")
	profile := chi.URLParam(r, "profile")
	log := h.logger.WithContext(r.Context()).WithField("provider", provider).WithField("profile", profile)

	if _, ok := h.providers.Get(provider); !ok || provider == ingest.RelayProvider {
		respondError(w, "unknown provider", http.StatusNotFound)
		return
	}

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	secret, configured := h.secrets[provider]
	switch {
	case configured:
		if !middleware.VerifySignature(secret, body, r.Header.Get(middleware.WebhookSignatureHeader)) {
			log.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr)
			respondError(w, "invalid signature", http.StatusUnauthorized)
			return
		}
	case !h.allowUnsigned:
		log.Warn("webhook rejected, no signing secret configured")
		respondError(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	h.ingest(w, r, log, ingest.Request{
		Source:   ledger.SourceWebhook,
		Provider: provider,
		Profile:  profile,
		Payload:  body,
	})
}

// Relay handles POST /relay/{profile}. Authentication runs in the
// RelaySecret middleware before this handler reads the body.
func (h *IngestHandler) Relay(w http.ResponseWriter, r *http.Request) {
	profile := chi.URLParam(r, "profile")
	log := h.logger.WithContext(r.Context()).WithField("provider", ingest.RelayProvider).WithField("profile", profile)

	body, ok := readBody(w, r)
	if !ok {
		return
	}

	h.ingest(w, r, log, ingest.Request{
		Source:   ledger.SourceRelay,
		Provider: ingest.RelayProvider,
		Profile:  profile,
		Payload:  body,
	})
}

func (h *IngestHandler) ingest(w http.ResponseWriter, r *http.Request, log *logger.Logger, req ingest.Request) {
	if req.Profile == "" {
		respondError(w, "profile is required", http.StatusBadRequest)
		return
	}

	result, err := h.ingester.Ingest(r.Context(), req)
	switch {
	case ingest.IsDecodeError(err):
		if errors.Is(err, ledger.ErrIgnoredEvent) {
			log.Debug("payload ignored", "error", err)
		} else {
			log.Warn("payload dropped", "error", err, "bytes", len(req.Payload))
		}
		respondJSON(w, IngestResponse{Status: "ignored", Items: []ingest.ItemResult{}}, http.StatusOK)
		return
	case errors.Is(err, ingest.ErrUnknownProvider):
		respondError(w, "unknown provider", http.StatusNotFound)
		return
	case err != nil:
		log.Error("ingest failed", "error", err)
		respondError(w, "ingest failed", http.StatusInternalServerError)
		return
	}

	if result.CommitFailed() {
		respondJSON(w, IngestResponse{Status: "retry", Items: result.Items}, http.StatusInternalServerError)
		return
	}

	ins, dup, failed := result.Counts()
	log.Info("payload ingested", "source", req.Source, "inserted", ins, "duplicates", dup, "failed", failed)
	respondJSON(w, IngestResponse{Status: "ok", Items: result.Items}, http.StatusOK)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondError(w, "payload too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		respondError(w, "failed to read body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}
