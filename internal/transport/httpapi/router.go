package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/kislikjeka/pocketflow/internal/transport/httpapi/handler"
	"github.com/kislikjeka/pocketflow/internal/transport/httpapi/middleware"
	"github.com/kislikjeka/pocketflow/pkg/logger"
)

// Config holds router configuration
type Config struct {
	Logger             *logger.Logger
	AllowedOrigins     []string
	RelaySecretHash    string
	IngestHandler      *handler.IngestHandler
	SyncHandler        *handler.SyncHandler
	AdminHandler       *handler.AdminHandler
	TransactionHandler *handler.TransactionHandler
	HealthHandler      *handler.HealthHandler
	JWTMiddleware      func(http.Handler) http.Handler
}

// NewRouter creates a new HTTP router
func NewRouter(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RateLimit()) // 100 req/s with burst of 20

	// Health check endpoints (no authentication required)
	r.Get("/health", handler.GetHealth)
	r.Get("/health/live", handler.GetLiveness)
	if cfg.HealthHandler != nil {
		r.Get("/health/ready", cfg.HealthHandler.GetReadiness)
		r.Get("/health/detailed", cfg.HealthHandler.GetHealthDetailed)
	}

	// Ingestion endpoints authenticate per request, not with JWT
	if cfg.IngestHandler != nil {
		r.Post("/webhooks/{provider}/{profile}", cfg.IngestHandler.Webhook)
		r.With(middleware.RelaySecret(cfg.RelaySecretHash, cfg.Logger)).
			Post("/relay/{profile}", cfg.IngestHandler.Relay)
	}

	// Operator API
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.CORS(cfg.AllowedOrigins))
		r.Use(chimiddleware.Compress(5))

		if cfg.JWTMiddleware == nil {
			return
		}

		r.Group(func(r chi.Router) {
			r.Use(cfg.JWTMiddleware)

			if cfg.SyncHandler != nil {
				r.Post("/sync/{provider}", cfg.SyncHandler.SyncNow)
			}

			if cfg.TransactionHandler != nil {
				r.Get("/transactions", cfg.TransactionHandler.GetTransactions)
				r.Get("/transactions/{id}", cfg.TransactionHandler.GetTransaction)
				r.Get("/pockets", cfg.TransactionHandler.GetPockets)
			}

			if cfg.AdminHandler != nil {
				r.Route("/admin", func(r chi.Router) {
					r.Get("/mappings", cfg.AdminHandler.InspectMappings)
					r.Post("/pockets", cfg.AdminHandler.CreatePocket)
					r.Put("/pockets/{id}/ref", cfg.AdminHandler.MapExternalRef)
					r.Post("/pots", cfg.AdminHandler.MapPot)
					r.Post("/seed/{provider}", cfg.AdminHandler.SeedAccounts)
					r.Post("/webhooks/{provider}", cfg.AdminHandler.RegisterWebhooks)
					r.Post("/replay/{provider}", cfg.AdminHandler.Replay)
					r.Get("/balances/verify", cfg.AdminHandler.VerifyBalances)
				})
			}
		})
	})

	return r
}
