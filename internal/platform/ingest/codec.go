package ingest

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/kislikjeka/pocketflow/internal/ledger"
)

// ErrUnknownProvider is returned for providers without a registered codec
var ErrUnknownProvider = errors.New("unknown provider")

// Codec decodes one provider's raw payloads into canonical events.
// Provider-specific field names never leave a codec. Decode returns
// ledger.ErrMalformedPayload or ledger.ErrIgnoredEvent for payloads it
// cannot or should not turn into events.
type Codec interface {
	Provider() string
	Decode(ctx context.Context, profile string, payload []byte) ([]ledger.Event, error)
}

// Registry holds the codec of each provider
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

// NewRegistry creates a registry with the given codecs
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{codecs: make(map[string]Codec)}
	for _, c := range codecs {
		r.Register(c)
	}
	return r
}

// Register adds or replaces a provider's codec
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c.Provider()] = c
}

// Get returns the codec for a provider
func (r *Registry) Get(provider string) (Codec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[provider]
	return c, ok
}

// Providers lists registered providers in sorted order
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.codecs))
	for p := range r.codecs {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
