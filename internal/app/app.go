// Package app wires the storage backend, provider gateways and services
// shared by the API server and the pocketctl CLI.
package app

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/kislikjeka/pocketflow/internal/infra/gateway/gemini"
	"github.com/kislikjeka/pocketflow/internal/infra/gateway/monzo"
	"github.com/kislikjeka/pocketflow/internal/infra/gateway/plaid"
	infraRedis "github.com/kislikjeka/pocketflow/internal/infra/redis"
	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/internal/platform/admin"
	"github.com/kislikjeka/pocketflow/internal/platform/categorize"
	"github.com/kislikjeka/pocketflow/internal/platform/credential"
	"github.com/kislikjeka/pocketflow/internal/platform/ingest"
	"github.com/kislikjeka/pocketflow/internal/platform/notify"
	"github.com/kislikjeka/pocketflow/internal/platform/pocket"
	"github.com/kislikjeka/pocketflow/internal/platform/sync"
	"github.com/kislikjeka/pocketflow/pkg/config"
	"github.com/kislikjeka/pocketflow/pkg/logger"
)

// App holds the wired services
type App struct {
	Config      *config.Config
	Store       *Store
	Redis       *redis.Client
	Ledger      *ledger.Service
	Pockets     *pocket.Service
	Ingest      *ingest.Service
	Sync        *sync.Service
	Dispatcher  *notify.Dispatcher
	Credentials *credential.Manager
	Admin       *admin.Service
}

// New opens the store and Redis and wires every service. Background loops
// (poller, dispatcher) are created but not started.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store, err)
	}
	log.Info("store opened", "store", cfg.Store)

	a := &App{Config: cfg, Store: store}

	// Redis backs the directory cache and the OAuth token store
	var cache pocket.Cache
	var tokenStore credential.Store
	if cfg.RedisURL != "" {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		cache = infraRedis.NewDirectoryCache(a.Redis, log.Logger)
		tokenStore = infraRedis.NewTokenStore(a.Redis, log.Logger)
		log.Info("redis connection established")
	} else {
		log.Warn("REDIS_URL not configured, directory cache and OAuth token store disabled")
	}

	// Pocket directory
	directory := pocket.NewDirectory(store.Pockets, cache, cfg.DefaultPockets, log.Logger)
	a.Pockets = pocket.NewService(store.Pockets, directory)

	// Categorizer: rule table first, Gemini as fallback
	rules, err := loadRules(cfg, log)
	if err != nil {
		a.Close()
		return nil, err
	}
	var ai *gemini.Client
	if cfg.GeminiAPIKey != "" {
		ai, err = gemini.NewClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, ruleCategories(rules), log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create gemini client: %w", err)
		}
		log.Info("gemini client initialized", "model", cfg.GeminiModel)
	}
	var fallback categorize.Categorizer
	var extractor ingest.Extractor
	if ai != nil {
		fallback = ai
		extractor = ai
	}
	categorizer := categorize.NewChain(rules, fallback, log.Logger)

	// Ledger with the transactional outbox as its notification queue
	a.Ledger = ledger.NewService(store.Ledger, directory, categorizer, notify.NewOutbox(store.Outbox), log.Logger)

	// Ingestion codecs
	registry := ingest.NewRegistry(monzo.NewCodec(), ingest.NewRelayCodec(extractor, log.Logger))
	a.Ingest = ingest.NewService(registry, a.Ledger, log.Logger)

	// Provider credentials and clients
	a.Credentials = credential.NewManager(tokenStore, log.Logger)
	var clients []sync.ProviderClient
	switch {
	case cfg.MonzoEnabled() && tokenStore == nil:
		log.Warn("monzo needs REDIS_URL for its OAuth token store, provider disabled")
	case cfg.MonzoEnabled():
		a.Credentials.RegisterOAuth(monzo.Provider, &oauth2.Config{
			ClientID:     cfg.MonzoClientID,
			ClientSecret: cfg.MonzoClientSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://auth.monzo.com/",
				TokenURL: cfg.MonzoBaseURL + "/oauth2/token",
			},
		})
		clients = append(clients, monzo.NewClient(cfg.MonzoBaseURL, log))
		log.Info("monzo provider enabled")
	}
	if cfg.PlaidEnabled() {
		a.Credentials.RegisterStatic(plaid.Provider, cfg.PlaidAccessTokens)
		clients = append(clients, plaid.NewClient(cfg.PlaidClientID, cfg.PlaidSecret, cfg.PlaidEnv, log))
		log.Info("plaid provider enabled", "env", cfg.PlaidEnv, "profiles", len(cfg.PlaidAccessTokens))
	}

	syncConfig := sync.DefaultConfig()
	syncConfig.PollInterval = cfg.SyncPollInterval
	syncConfig.ConcurrentAccounts = cfg.SyncConcurrency
	syncConfig.Overlap = cfg.SyncOverlap
	syncConfig.Enabled = len(clients) > 0
	a.Sync = sync.NewService(syncConfig, clients, a.Credentials, store.Pockets, store.Watermarks, a.Ingest, log.Logger)

	// Notification dispatcher
	var notifier notify.Notifier = notify.NewLogNotifier(log.Logger)
	if cfg.NotifyURL != "" {
		notifier = notify.NewHTTPNotifier(cfg.NotifyURL, cfg.NotifyToken)
	}
	a.Dispatcher = notify.NewDispatcher(notify.DefaultConfig(), store.Outbox, notifier, log.Logger)

	a.Admin = admin.NewService(a.Pockets, a.Sync, a.Credentials, a.Ledger, store.Watermarks, cfg.PublicBaseURL, log.Logger)

	return a, nil
}

// Close releases Redis and the store
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
}

func loadRules(cfg *config.Config, log *logger.Logger) (*categorize.RuleTable, error) {
	if cfg.CategoryRulesPath == "" {
		log.Warn("CATEGORY_RULES_PATH not configured, rule categorizer disabled")
		return nil, nil
	}
	rules, err := categorize.LoadRules(cfg.CategoryRulesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load category rules: %w", err)
	}
	log.Info("category rules loaded", "path", cfg.CategoryRulesPath)
	return rules, nil
}

func ruleCategories(rules *categorize.RuleTable) []string {
	if rules == nil {
		return nil
	}
	return rules.Categories()
}
