package notify

import "time"

// Config holds configuration for the outbox dispatcher
type Config struct {
	// PollInterval is how often pending rows are checked
	PollInterval time.Duration

	// BatchSize is the max rows claimed per poll
	BatchSize int

	// MaxAttempts is how often a row is tried before it is given up
	MaxAttempts int

	// Lease is how long a claimed row is hidden from other dispatchers
	Lease time.Duration

	// Enabled determines if the dispatcher runs
	Enabled bool
}

// DefaultConfig returns the default dispatcher configuration
func DefaultConfig() *Config {
	return &Config{
		PollInterval: 5 * time.Second,
		BatchSize:    20,
		MaxAttempts:  3,
		Lease:        time.Minute,
		Enabled:      true,
	}
}

// Validate fills in defaults for unset fields
func (c *Config) Validate() error {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 20
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Lease <= 0 {
		c.Lease = time.Minute
	}
	return nil
}
