package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/kislikjeka/pocketflow/internal/ledger"
)

// Reconciler is the reconciliation entry point every adapter funnels into
type Reconciler interface {
	Reconcile(ctx context.Context, ev ledger.Event) ledger.Outcome
}

// Request is one raw payload received by an adapter
type Request struct {
	Source   ledger.Source
	Provider string
	Profile  string
	Payload  []byte
}

// ItemResult is the outcome of one decoded event
type ItemResult struct {
	ProviderTxID  string        `json:"provider_tx_id"`
	Status        ledger.Status `json:"status"`
	TransactionID *uuid.UUID    `json:"transaction_id,omitempty"`
	Error         string        `json:"error,omitempty"`

	err error
}

// Err returns the reconciliation error of a failed item
func (r ItemResult) Err() error {
	return r.err
}

// Result is the outcome of ingesting one payload
type Result struct {
	Items []ItemResult `json:"items"`
}

// Counts tallies the items by status
func (r *Result) Counts() (inserted, duplicates, failed int) {
	for _, it := range r.Items {
		switch it.Status {
		case ledger.StatusInserted:
			inserted++
		case ledger.StatusDuplicate:
			duplicates++
		case ledger.StatusError:
			failed++
		}
	}
	return
}

// CommitFailed reports whether any item failed to commit. Adapters with
// at-least-once upstream delivery use this to ask for a redelivery.
func (r *Result) CommitFailed() bool {
	for _, it := range r.Items {
		if errors.Is(it.err, ledger.ErrCommitFailure) {
			return true
		}
	}
	return false
}

// Service decodes raw payloads with the provider's codec and reconciles
// every resulting event.
type Service struct {
	registry   *Registry
	reconciler Reconciler
	logger     *slog.Logger
}

// NewService creates a new ingest service
func NewService(registry *Registry, reconciler Reconciler, logger *slog.Logger) *Service {
	return &Service{
		registry:   registry,
		reconciler: reconciler,
		logger:     logger.With("service", "ingest"),
	}
}

// Registry returns the codec registry
func (s *Service) Registry() *Registry {
	return s.registry
}

// Ingest decodes and reconciles one payload. Decode errors are returned
// (ErrUnknownProvider, ledger.ErrMalformedPayload, ledger.ErrIgnoredEvent);
// per-event reconciliation errors are reported in the result.
func (s *Service) Ingest(ctx context.Context, req Request) (*Result, error) {
	codec, ok := s.registry.Get(req.Provider)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, req.Provider)
	}

	events, err := codec.Decode(ctx, req.Profile, req.Payload)
	if err != nil {
		return nil, err
	}

	for i := range events {
		events[i].ReceivedVia = req.Source
		if events[i].Profile == "" {
			events[i].Profile = req.Profile
		}
	}

	return s.IngestEvents(ctx, events), nil
}

// IngestEvents reconciles already-canonical events. A failed event never
// stops the others.
func (s *Service) IngestEvents(ctx context.Context, events []ledger.Event) *Result {
	result := &Result{Items: make([]ItemResult, 0, len(events))}
	for _, ev := range events {
		result.Items = append(result.Items, s.IngestEvent(ctx, ev))
	}
	return result
}

// IngestEvent reconciles a single canonical event
func (s *Service) IngestEvent(ctx context.Context, ev ledger.Event) ItemResult {
	out := s.reconciler.Reconcile(ctx, ev)

	item := ItemResult{ProviderTxID: ev.ProviderTxID, Status: out.Status, err: out.Err}
	if id, ok := out.TransactionID(); ok {
		item.TransactionID = &id
	}
	if out.Err != nil {
		item.Error = out.Err.Error()
		s.logger.Error("event not committed",
			"provider", ev.Provider,
			"provider_tx_id", ev.ProviderTxID,
			"profile", ev.Profile,
			"source", ev.ReceivedVia,
			"error", out.Err)
	}
	return item
}
