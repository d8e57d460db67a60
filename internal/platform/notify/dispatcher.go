package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Dispatcher delivers pending outbox rows
type Dispatcher struct {
	config   *Config
	repo     Repository
	notifier Notifier
	logger   *slog.Logger
	stopCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewDispatcher creates a new outbox dispatcher
func NewDispatcher(config *Config, repo Repository, notifier Notifier, logger *slog.Logger) *Dispatcher {
	if config == nil {
		config = DefaultConfig()
	}
	_ = config.Validate()

	return &Dispatcher{
		config:   config,
		repo:     repo,
		notifier: notifier,
		logger:   logger.With("service", "notify"),
		stopCh:   make(chan struct{}),
	}
}

// Run polls the outbox until ctx is done or Stop is called
func (d *Dispatcher) Run(ctx context.Context) {
	if !d.config.Enabled {
		d.logger.Info("notification dispatcher is disabled")
		return
	}

	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return
	}
	d.running = true
	d.mu.Unlock()

	d.logger.Info("starting notification dispatcher",
		"poll_interval", d.config.PollInterval,
		"max_attempts", d.config.MaxAttempts)

	ticker := time.NewTicker(d.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("notification dispatcher stopping (context done)")
			return
		case <-d.stopCh:
			d.logger.Info("notification dispatcher stopping (stop signal)")
			return
		case <-ticker.C:
			if _, err := d.DispatchOnce(ctx); err != nil {
				d.logger.Error("dispatch cycle failed", "error", err)
			}
		}
	}
}

// Stop stops the dispatcher
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}
	close(d.stopCh)
	d.running = false
}

// DispatchOnce delivers one batch and returns the number delivered
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	pending, err := d.repo.ClaimPending(ctx, d.config.BatchSize, d.config.MaxAttempts, d.config.Lease)
	if err != nil {
		return 0, fmt.Errorf("failed to claim pending notifications: %w", err)
	}

	delivered := 0
	for _, n := range pending {
		if err := d.notifier.Notify(ctx, n.Message()); err != nil {
			d.failed(ctx, n, err)
			continue
		}

		if err := d.repo.MarkDispatched(ctx, n.ID, time.Now().UTC()); err != nil {
			// Lease expiry will redeliver; notifiers must tolerate repeats
			d.logger.Error("failed to mark notification dispatched", "notification_id", n.ID, "error", err)
			continue
		}
		delivered++
	}

	if len(pending) > 0 {
		d.logger.Debug("dispatch cycle complete", "claimed", len(pending), "delivered", delivered)
	}
	return delivered, nil
}

func (d *Dispatcher) failed(ctx context.Context, n *Notification, cause error) {
	attempt := n.Attempts + 1
	log := d.logger.With("notification_id", n.ID, "transaction_id", n.TransactionID, "attempt", attempt, "error", cause)

	if err := d.repo.MarkFailed(ctx, n.ID, cause.Error()); err != nil {
		log.Error("failed to record notification failure", "mark_error", err)
		return
	}

	if attempt >= d.config.MaxAttempts {
		log.Error("notification given up")
		return
	}
	log.Warn("notification delivery failed, will retry")
}
