package categorize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kislikjeka/pocketflow/internal/ledger"
)

// Categorizer is one categorization capability
type Categorizer interface {
	Categorize(ctx context.Context, description string) (string, error)
}

// Chain tries the rule table first and the fallback (AI) second.
// It never returns an empty category without an error.
type Chain struct {
	rules    *RuleTable
	fallback Categorizer
	logger   *slog.Logger
}

// NewChain creates a categorizer chain. Either stage may be nil.
func NewChain(rules *RuleTable, fallback Categorizer, logger *slog.Logger) *Chain {
	return &Chain{
		rules:    rules,
		fallback: fallback,
		logger:   logger.With("component", "categorizer"),
	}
}

var _ ledger.Categorizer = (*Chain)(nil)

// Categorize returns a normalized category or ErrCategorizationUnavailable
func (c *Chain) Categorize(ctx context.Context, description string) (string, error) {
	if strings.TrimSpace(description) == "" {
		return "", fmt.Errorf("%w: empty description", ledger.ErrCategorizationUnavailable)
	}

	if c.rules != nil {
		category, err := c.rules.Categorize(ctx, description)
		if err == nil {
			return Normalize(category), nil
		}
		if !errors.Is(err, ErrNoMatch) {
			c.logger.Warn("rule table failed", "error", err)
		}
	}

	if c.fallback == nil {
		return "", fmt.Errorf("%w: no rule matched and no fallback configured", ledger.ErrCategorizationUnavailable)
	}

	category, err := c.fallback.Categorize(ctx, description)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ledger.ErrCategorizationUnavailable, err)
	}

	category = Normalize(category)
	if category == "" {
		return "", fmt.Errorf("%w: fallback returned empty category", ledger.ErrCategorizationUnavailable)
	}

	c.logger.Debug("categorized by fallback", "description", description, "category", category)
	return category, nil
}

// Normalize lowercases a category and collapses whitespace to underscores
func Normalize(category string) string {
	fields := strings.Fields(strings.ToLower(strings.Trim(category, " \t\n\"'.`")))
	return strings.Join(fields, "_")
}
