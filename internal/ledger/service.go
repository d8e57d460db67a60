package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kislikjeka/pocketflow/pkg/money"
)

// Service reconciles canonical events into the ledger.
// Reconcile is the single entry point every ingestion adapter funnels into.
type Service struct {
	repo        Repository
	resolver    PocketResolver
	categorizer Categorizer
	committer   *transactionCommitter
	logger      *slog.Logger
	now         func() time.Time
}

// NewService creates a new ledger service. categorizer and queue may be nil.
func NewService(
	repo Repository,
	resolver PocketResolver,
	categorizer Categorizer,
	queue NotificationQueue,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:        repo,
		resolver:    resolver,
		categorizer: categorizer,
		committer:   newTransactionCommitter(repo, queue),
		logger:      logger.With("component", "ledger"),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile turns one event into at most one committed ledger row.
//
// Steps:
// 1. Validate the event
// 2. Fast-path duplicate check (the claim in step 6 is the real guard)
// 3. Categorize, falling back to DefaultCategory
// 4. Resolve the pocket, falling back to a null pocket
// 5. Normalize amount, direction and type
// 6. Claim, apply the balance delta and enqueue the notification in one DB transaction
func (s *Service) Reconcile(ctx context.Context, ev Event) Outcome {
	log := s.logger.With("provider", ev.Provider, "provider_tx_id", ev.ProviderTxID, "profile", ev.Profile)

	// Step 1: Validate
	if err := ev.Validate(); err != nil {
		log.Warn("rejected malformed event", "error", err)
		return Failed(err)
	}

	// Step 2: Fast path for redelivered events
	existing, err := s.repo.GetByProviderTxID(ctx, ev.Provider, ev.ProviderTxID)
	switch {
	case err == nil:
		log.Debug("duplicate event", "existing_id", existing.ID, "received_via", ev.ReceivedVia)
		return Duplicate(existing.ID)
	case !errors.Is(err, ErrNotFound):
		// Not fatal, the claim decides
		log.Warn("duplicate pre-check failed", "error", err)
	}

	// Step 3: Categorize
	category := s.categorize(ctx, log, ev)

	// Step 4: Resolve pocket
	pocketID, err := s.resolver.Resolve(ctx, ev.Provider, ev.SourceAccountRef, ev.Profile)
	if err != nil {
		log.Warn("pocket resolution failed, committing without pocket",
			"error", fmt.Errorf("%w: %w", ErrUnresolvedPocket, err),
			"external_ref", ev.SourceAccountRef.ID,
		)
		pocketID = nil
	}

	// Step 5: Normalize
	tx := s.normalize(ev, category, pocketID)

	// Step 6: Commit
	inserted, err := s.committer.commit(ctx, tx)
	if err != nil {
		log.Error("commit failed", "error", err)
		return Failed(fmt.Errorf("%w: %w", ErrCommitFailure, err))
	}
	if !inserted {
		return s.duplicateAfterConflict(ctx, log, ev)
	}

	log.Info("transaction committed",
		"transaction_id", tx.ID,
		"amount", tx.Amount.StringFixed(money.MinorUnitExponent),
		"type", tx.Type,
		"pocket_id", tx.PocketID,
		"received_via", tx.ReceivedVia,
	)
	return Inserted(tx)
}

func (s *Service) categorize(ctx context.Context, log *slog.Logger, ev Event) string {
	if c := strings.TrimSpace(ev.ProviderCategory); c != "" {
		return c
	}
	if s.categorizer == nil {
		return DefaultCategory
	}

	category, err := s.categorizer.Categorize(ctx, categorizerInput(ev))
	if err != nil || strings.TrimSpace(category) == "" {
		if err == nil {
			err = ErrCategorizationUnavailable
		}
		log.Warn("categorizer failed, using default category", "error", err, "category", DefaultCategory)
		return DefaultCategory
	}
	return category
}

func categorizerInput(ev Event) string {
	if ev.Description != "" {
		return ev.Description
	}
	return ev.Merchant
}

func (s *Service) normalize(ev Event, category string, pocketID *uuid.UUID) *Transaction {
	direction := DirectionIn
	if ev.RawAmount < 0 {
		direction = DirectionOut
	}

	txType := TxTypeIncome
	switch {
	case ev.IsTransfer:
		txType = TxTypeTransfer
	case direction == DirectionOut:
		txType = TxTypeSpend
	}

	currency := strings.ToUpper(ev.Currency)
	if currency == "" {
		currency = DefaultCurrency
	}

	description := ev.Description
	if description == "" {
		description = ev.Merchant
	}

	source := ev.ReceivedVia
	if source == "" {
		source = SourceManual
	}

	return &Transaction{
		ID:           uuid.New(),
		Provider:     ev.Provider,
		ProviderTxID: ev.ProviderTxID,
		Amount:       money.FromMinorUnits(ev.RawAmount).Abs(),
		Direction:    direction,
		Type:         txType,
		Category:     category,
		Description:  description,
		Merchant:     ev.Merchant,
		Currency:     currency,
		PocketID:     pocketID,
		Profile:      ev.Profile,
		Date:         ev.OccurredAt.UTC(),
		ReceivedVia:  source,
		CommittedAt:  s.now(),
	}
}

// duplicateAfterConflict handles a lost claim: the winner's row is the answer.
func (s *Service) duplicateAfterConflict(ctx context.Context, log *slog.Logger, ev Event) Outcome {
	winner, err := s.repo.GetByProviderTxID(ctx, ev.Provider, ev.ProviderTxID)
	if err != nil {
		log.Warn("claim lost but winner not readable", "error", fmt.Errorf("%w: %w", ErrStorageConflict, err))
		return Duplicate(uuid.Nil)
	}
	log.Debug("claim lost to concurrent writer", "existing_id", winner.ID, "received_via", ev.ReceivedVia)
	return Duplicate(winner.ID)
}

// GetTransaction retrieves a transaction by ID
func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*Transaction, error) {
	return s.repo.GetTransaction(ctx, id)
}

// ListTransactions lists transactions with filters
func (s *Service) ListTransactions(ctx context.Context, filters TransactionFilters) ([]*Transaction, error) {
	if filters.Limit <= 0 || filters.Limit > 500 {
		filters.Limit = 100
	}
	if filters.Offset < 0 {
		filters.Offset = 0
	}
	return s.repo.ListTransactions(ctx, filters)
}

// VerifyPocketBalance checks that the stored balance equals the signed sum of
// the pocket's committed rows.
func (s *Service) VerifyPocketBalance(ctx context.Context, pocketID uuid.UUID) (*BalanceCheck, error) {
	stored, err := s.repo.GetPocketBalance(ctx, pocketID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pocket balance: %w", err)
	}

	computed, err := s.repo.SumPocketTransactions(ctx, pocketID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum pocket transactions: %w", err)
	}

	check := &BalanceCheck{PocketID: pocketID, Stored: stored, Computed: computed}
	if !check.Matches() {
		return check, fmt.Errorf("%w: pocket %s stored=%s computed=%s",
			ErrBalanceMismatch, pocketID, stored.String(), computed.String())
	}
	return check, nil
}

// VerifyProfileBalances verifies every pocket of a profile. All pockets are
// checked; the error wraps ErrBalanceMismatch if any of them disagree.
func (s *Service) VerifyProfileBalances(ctx context.Context, profile string) ([]BalanceCheck, error) {
	ids, err := s.repo.ListProfilePocketIDs(ctx, profile)
	if err != nil {
		return nil, fmt.Errorf("failed to list pockets: %w", err)
	}

	checks := make([]BalanceCheck, 0, len(ids))
	mismatches := 0
	for _, id := range ids {
		check, err := s.VerifyPocketBalance(ctx, id)
		if err != nil && !errors.Is(err, ErrBalanceMismatch) {
			return nil, err
		}
		if err != nil {
			mismatches++
		}
		checks = append(checks, *check)
	}

	if mismatches > 0 {
		return checks, fmt.Errorf("%w: %d of %d pockets in profile %s", ErrBalanceMismatch, mismatches, len(ids), profile)
	}
	return checks, nil
}
