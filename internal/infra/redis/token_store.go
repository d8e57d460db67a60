package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"github.com/kislikjeka/pocketflow/internal/platform/credential"
)

const (
	// TokenPrefix is the prefix for stored provider tokens
	TokenPrefix = "token:"

	// RefreshLockPrefix is the prefix for refresh locks
	RefreshLockPrefix = "token_refresh:"
)

// releaseScript deletes the lock only if it still carries our value
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// TokenStore keeps provider tokens in Redis and serializes refreshes
// across processes
type TokenStore struct {
	client *redis.Client
	logger *slog.Logger
}

// NewTokenStore creates a new token store
func NewTokenStore(client *redis.Client, logger *slog.Logger) *TokenStore {
	return &TokenStore{
		client: client,
		logger: logger.With("component", "token_store"),
	}
}

var _ credential.Store = (*TokenStore)(nil)

func tokenKey(provider, profile string) string {
	return fmt.Sprintf("%s%s:%s", TokenPrefix, provider, profile)
}

// Get returns credential.ErrNoToken when nothing is stored
func (s *TokenStore) Get(ctx context.Context, provider, profile string) (*oauth2.Token, error) {
	val, err := s.client.Get(ctx, tokenKey(provider, profile)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, credential.ErrNoToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(val, &tok); err != nil {
		return nil, fmt.Errorf("failed to unmarshal token: %w", err)
	}
	return &tok, nil
}

// Put stores a token without expiry; the refresh token outlives the access token
func (s *TokenStore) Put(ctx context.Context, provider, profile string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	if err := s.client.Set(ctx, tokenKey(provider, profile), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}
	return nil
}

// AcquireRefreshLock takes a SET NX lock that expires after ttl
func (s *TokenStore) AcquireRefreshLock(ctx context.Context, provider, profile string, ttl time.Duration) (func(), bool, error) {
	key := fmt.Sprintf("%s%s:%s", RefreshLockPrefix, provider, profile)
	owner := uuid.NewString()

	ok, err := s.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire refresh lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// Release must survive the caller's cancellation
		if err := releaseScript.Run(context.WithoutCancel(ctx), s.client, []string{key}, owner).Err(); err != nil {
			s.logger.Warn("failed to release refresh lock", "error", err, "provider", provider, "profile", profile)
		}
	}
	return release, true, nil
}
