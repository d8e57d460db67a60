package sync

import "time"

// Config holds configuration for the sync service
type Config struct {
	// PollInterval is how often tracked accounts are polled
	PollInterval time.Duration

	// ConcurrentAccounts is the max number of accounts polled concurrently
	ConcurrentAccounts int

	// Overlap is subtracted from the watermark so late-posted transactions
	// are fetched again; the ledger claim drops the repeats
	Overlap time.Duration

	// InitialLookback is the window fetched for an account without a watermark
	InitialLookback time.Duration

	// ManualLookback is the window fetched by SyncNow
	ManualLookback time.Duration

	// Retry controls backoff for transient upstream errors
	Retry RetryOptions

	// Enabled determines if background polling is enabled
	Enabled bool
}

// DefaultConfig returns the default sync configuration
func DefaultConfig() *Config {
	return &Config{
		PollInterval:       15 * time.Minute,
		ConcurrentAccounts: 3,
		Overlap:            2 * time.Hour,
		InitialLookback:    30 * 24 * time.Hour,
		ManualLookback:     7 * 24 * time.Hour,
		Retry:              DefaultRetryOptions(),
		Enabled:            true,
	}
}

// Validate fills in defaults for unset fields
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		c.PollInterval = 15 * time.Minute
	}
	if c.ConcurrentAccounts <= 0 {
		c.ConcurrentAccounts = 3
	}
	if c.Overlap < 0 {
		c.Overlap = 0
	}
	if c.InitialLookback <= 0 {
		c.InitialLookback = 30 * 24 * time.Hour
	}
	if c.ManualLookback <= 0 {
		c.ManualLookback = 7 * 24 * time.Hour
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = DefaultRetryOptions()
	}
	return nil
}
