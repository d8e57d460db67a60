package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/kislikjeka/pocketflow/internal/ledger"
)

const (
	refreshLockTTL   = 30 * time.Second
	lockWaitInterval = 200 * time.Millisecond
	lockWaitAttempts = 25
)

// Manager hands out valid provider tokens. OAuth providers are refreshed
// with their refresh token; static providers (long-lived access tokens)
// cannot be refreshed.
type Manager struct {
	store   Store
	oauth   map[string]*oauth2.Config
	static  map[string]map[string]string
	logger  *slog.Logger
	mu      sync.Mutex
	pending map[string]*sync.Mutex
}

// NewManager creates a token manager. store may be nil when only static
// tokens are configured.
func NewManager(store Store, logger *slog.Logger) *Manager {
	return &Manager{
		store:   store,
		oauth:   make(map[string]*oauth2.Config),
		static:  make(map[string]map[string]string),
		logger:  logger.With("component", "credential"),
		pending: make(map[string]*sync.Mutex),
	}
}

// RegisterOAuth registers an OAuth provider
func (m *Manager) RegisterOAuth(provider string, cfg *oauth2.Config) {
	m.oauth[provider] = cfg
}

// RegisterStatic registers per-profile long-lived tokens for a provider
func (m *Manager) RegisterStatic(provider string, tokens map[string]string) {
	m.static[provider] = tokens
}

// Token returns a valid access token, refreshing it if it has expired
func (m *Manager) Token(ctx context.Context, provider, profile string) (string, error) {
	if tokens, ok := m.static[provider]; ok {
		tok, ok := tokens[profile]
		if !ok || tok == "" {
			return "", fmt.Errorf("%w: no %s token for profile %s", ledger.ErrExpiredCredential, provider, profile)
		}
		return tok, nil
	}

	if _, ok := m.oauth[provider]; !ok {
		return "", fmt.Errorf("unknown credential provider: %s", provider)
	}

	tok, err := m.store.Get(ctx, provider, profile)
	if err != nil {
		if errors.Is(err, ErrNoToken) {
			return "", fmt.Errorf("%w: %s/%s: %w", ledger.ErrExpiredCredential, provider, profile, err)
		}
		return "", fmt.Errorf("failed to load token: %w", err)
	}

	if tok.Valid() {
		return tok.AccessToken, nil
	}
	return m.refresh(ctx, provider, profile, tok.AccessToken)
}

// Refresh exchanges the stored refresh token for a new access token, even if
// the stored one has not expired yet (an upstream 401 says it is unusable).
// Failure is reported as ErrExpiredCredential.
func (m *Manager) Refresh(ctx context.Context, provider, profile string) (string, error) {
	return m.refresh(ctx, provider, profile, "")
}

// refresh skips the exchange if another caller already replaced the token
// the caller saw.
func (m *Manager) refresh(ctx context.Context, provider, profile, seen string) (string, error) {
	if _, ok := m.static[provider]; ok {
		return "", fmt.Errorf("%w: %s tokens cannot be refreshed", ledger.ErrExpiredCredential, provider)
	}

	cfg, ok := m.oauth[provider]
	if !ok {
		return "", fmt.Errorf("unknown credential provider: %s", provider)
	}

	// One refresh per key within this process
	local := m.keyLock(provider, profile)
	local.Lock()
	defer local.Unlock()

	before, err := m.store.Get(ctx, provider, profile)
	if err != nil {
		return "", fmt.Errorf("%w: %s/%s: %w", ledger.ErrExpiredCredential, provider, profile, err)
	}
	if seen != "" && before.AccessToken != seen && before.Valid() {
		return before.AccessToken, nil
	}

	release, acquired, err := m.store.AcquireRefreshLock(ctx, provider, profile, refreshLockTTL)
	if err != nil {
		return "", fmt.Errorf("failed to acquire refresh lock: %w", err)
	}
	if !acquired {
		return m.awaitRefresh(ctx, provider, profile, before)
	}
	defer release()

	fresh, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: before.RefreshToken}).Token()
	if err != nil {
		m.logger.Error("token refresh failed", "provider", provider, "profile", profile, "error", err)
		return "", fmt.Errorf("%w: %s/%s: %w", ledger.ErrExpiredCredential, provider, profile, err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = before.RefreshToken
	}

	if err := m.store.Put(ctx, provider, profile, fresh); err != nil {
		return "", fmt.Errorf("failed to store refreshed token: %w", err)
	}

	m.logger.Info("token refreshed", "provider", provider, "profile", profile, "expiry", fresh.Expiry)
	return fresh.AccessToken, nil
}

// awaitRefresh waits for another process to finish refreshing
func (m *Manager) awaitRefresh(ctx context.Context, provider, profile string, before *oauth2.Token) (string, error) {
	for i := 0; i < lockWaitAttempts; i++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(lockWaitInterval):
		}

		tok, err := m.store.Get(ctx, provider, profile)
		if err != nil {
			continue
		}
		if tok.AccessToken != before.AccessToken && tok.Valid() {
			return tok.AccessToken, nil
		}
	}
	return "", fmt.Errorf("%w: %s/%s: timed out waiting for concurrent refresh", ledger.ErrExpiredCredential, provider, profile)
}

// Seed stores an initial token obtained out of band
func (m *Manager) Seed(ctx context.Context, provider, profile string, tok *oauth2.Token) error {
	if _, ok := m.oauth[provider]; !ok {
		return fmt.Errorf("unknown credential provider: %s", provider)
	}
	if tok.RefreshToken == "" && tok.AccessToken == "" {
		return fmt.Errorf("token is empty")
	}
	return m.store.Put(ctx, provider, profile, tok)
}

func (m *Manager) keyLock(provider, profile string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := provider + ":" + profile
	l, ok := m.pending[key]
	if !ok {
		l = &sync.Mutex{}
		m.pending[key] = l
	}
	return l
}
