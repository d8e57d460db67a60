package credential

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// ErrNoToken means no token has been stored for a provider/profile
var ErrNoToken = errors.New("no token stored")

// Store persists provider tokens per profile and coordinates refreshes
// across processes.
type Store interface {
	Get(ctx context.Context, provider, profile string) (*oauth2.Token, error)
	Put(ctx context.Context, provider, profile string, tok *oauth2.Token) error

	// AcquireRefreshLock returns ok=false if another holder has the lock.
	// release must be called when ok is true.
	AcquireRefreshLock(ctx context.Context, provider, profile string, ttl time.Duration) (release func(), ok bool, err error)
}
