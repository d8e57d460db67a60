package credential_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/kislikjeka/pocketflow/internal/ledger"
	"github.com/kislikjeka/pocketflow/internal/platform/credential"
	"github.com/kislikjeka/pocketflow/pkg/logger"
)

// memStore is an in-memory credential.Store for tests
type memStore struct {
	mu     sync.Mutex
	tokens map[string]*oauth2.Token
	locked map[string]bool
}

func newMemStore() *memStore {
	return &memStore{tokens: map[string]*oauth2.Token{}, locked: map[string]bool{}}
}

func (s *memStore) Get(_ context.Context, provider, profile string) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tok, ok := s.tokens[provider+":"+profile]
	if !ok {
		return nil, credential.ErrNoToken
	}
	cp := *tok
	return &cp, nil
}

func (s *memStore) Put(_ context.Context, provider, profile string, tok *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *tok
	s.tokens[provider+":"+profile] = &cp
	return nil
}

func (s *memStore) AcquireRefreshLock(_ context.Context, provider, profile string, _ time.Duration) (func(), bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := provider + ":" + profile
	if s.locked[key] {
		return nil, false, nil
	}
	s.locked[key] = true
	return func() {
		s.mu.Lock()
		delete(s.locked, key)
		s.mu.Unlock()
	}, true, nil
}

var _ credential.Store = (*memStore)(nil)

func tokenServer(t *testing.T, status int, calls *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		if status != http.StatusOK {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func newManager(store credential.Store, tokenURL string) *credential.Manager {
	m := credential.NewManager(store, logger.Discard().Logger)
	m.RegisterOAuth("monzo", &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
	})
	return m
}

func TestToken_ValidTokenReturned(t *testing.T) {
	ctx := context.Background()
	var calls int32
	server := tokenServer(t, http.StatusOK, &calls)
	store := newMemStore()
	require.NoError(t, store.Put(ctx, "monzo", "personal", &oauth2.Token{
		AccessToken: "current", RefreshToken: "r1", Expiry: time.Now().Add(time.Hour),
	}))

	tok, err := newManager(store, server.URL).Token(ctx, "monzo", "personal")

	require.NoError(t, err)
	assert.Equal(t, "current", tok)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestToken_ExpiredTokenRefreshed(t *testing.T) {
	ctx := context.Background()
	var calls int32
	server := tokenServer(t, http.StatusOK, &calls)
	store := newMemStore()
	require.NoError(t, store.Put(ctx, "monzo", "personal", &oauth2.Token{
		AccessToken: "stale", RefreshToken: "r1", Expiry: time.Now().Add(-time.Minute),
	}))

	tok, err := newManager(store, server.URL).Token(ctx, "monzo", "personal")

	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)

	stored, err := store.Get(ctx, "monzo", "personal")
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored.AccessToken)
	assert.Equal(t, "r1", stored.RefreshToken, "refresh token kept when the provider omits it")
}

func TestRefresh_FailureIsExpiredCredential(t *testing.T) {
	ctx := context.Background()
	var calls int32
	server := tokenServer(t, http.StatusBadRequest, &calls)
	store := newMemStore()
	require.NoError(t, store.Put(ctx, "monzo", "personal", &oauth2.Token{AccessToken: "stale", RefreshToken: "r1"}))

	_, err := newManager(store, server.URL).Refresh(ctx, "monzo", "personal")

	assert.ErrorIs(t, err, ledger.ErrExpiredCredential)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestToken_NoStoredToken(t *testing.T) {
	var calls int32
	server := tokenServer(t, http.StatusOK, &calls)

	_, err := newManager(newMemStore(), server.URL).Token(context.Background(), "monzo", "personal")

	assert.ErrorIs(t, err, ledger.ErrExpiredCredential)
	assert.ErrorIs(t, err, credential.ErrNoToken)
}

func TestStaticTokens(t *testing.T) {
	m := credential.NewManager(nil, logger.Discard().Logger)
	m.RegisterStatic("plaid", map[string]string{"personal": "access-sandbox-1"})

	tok, err := m.Token(context.Background(), "plaid", "personal")
	require.NoError(t, err)
	assert.Equal(t, "access-sandbox-1", tok)

	_, err = m.Token(context.Background(), "plaid", "business")
	assert.ErrorIs(t, err, ledger.ErrExpiredCredential)

	_, err = m.Refresh(context.Background(), "plaid", "personal")
	assert.ErrorIs(t, err, ledger.ErrExpiredCredential)
}

func TestRefresh_ConcurrentCallersRefreshOnce(t *testing.T) {
	ctx := context.Background()
	var calls int32
	server := tokenServer(t, http.StatusOK, &calls)
	store := newMemStore()
	require.NoError(t, store.Put(ctx, "monzo", "personal", &oauth2.Token{
		AccessToken: "stale", RefreshToken: "r1", Expiry: time.Now().Add(-time.Minute),
	}))
	m := newManager(store, server.URL)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tok, err := m.Token(ctx, "monzo", "personal")
			assert.NoError(t, err)
			assert.Equal(t, "fresh", tok)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
