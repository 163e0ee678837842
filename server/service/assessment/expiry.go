package assessment

import (
	"context"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/hrygo/assessment/server/internal/errors"
	"github.com/hrygo/assessment/store"
)

const (
	// DefaultIdleDays is how long an active session may go without a turn.
	DefaultIdleDays = 30
	// DefaultExpiryInterval is the default interval between expiry runs.
	DefaultExpiryInterval = 24 * time.Hour

	expiredReason = "expired after inactivity"
)

// ExpiryConfig holds configuration for the expiry job.
type ExpiryConfig struct {
	IdleDays int           // Days without a turn before a session is abandoned (default: 30)
	Interval time.Duration // Interval between runs (default: 24h)
}

// DefaultExpiryConfig returns the default expiry configuration.
func DefaultExpiryConfig() ExpiryConfig {
	return ExpiryConfig{
		IdleDays: DefaultIdleDays,
		Interval: DefaultExpiryInterval,
	}
}

// ExpiryJob periodically abandons active sessions nobody has touched for a while.
type ExpiryJob struct {
	moderator *Moderator
	config    ExpiryConfig

	mu      sync.Mutex
	running bool
}

// NewExpiryJob creates a new expiry job.
func NewExpiryJob(moderator *Moderator, config ExpiryConfig) *ExpiryJob {
	if config.IdleDays <= 0 {
		config.IdleDays = DefaultIdleDays
	}
	if config.Interval <= 0 {
		config.Interval = DefaultExpiryInterval
	}
	return &ExpiryJob{
		moderator: moderator,
		config:    config,
	}
}

// Run expires sessions immediately and then on every interval until ctx is done.
func (j *ExpiryJob) Run(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.mu.Unlock()
	defer func() {
		j.mu.Lock()
		j.running = false
		j.mu.Unlock()
	}()

	slog.Info("session expiry job started",
		"idle_days", j.config.IdleDays,
		"interval", j.config.Interval)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()
	for {
		if expired, err := j.RunOnce(ctx); err != nil {
			slog.Error("session expiry failed", "error", err)
		} else if expired > 0 {
			slog.Info("session expiry completed", "expired", expired)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce abandons every active session idle past the cutoff and returns how
// many were abandoned. Sessions that change underneath the job are skipped.
func (j *ExpiryJob) RunOnce(ctx context.Context) (int, error) {
	status := store.SessionStatusActive
	sessions, err := j.moderator.store.ListSessions(ctx, &store.FindSession{Status: &status})
	if err != nil {
		return 0, err
	}

	cutoff := j.moderator.now().Add(-time.Duration(j.config.IdleDays) * 24 * time.Hour).Unix()
	expired := 0
	for _, session := range sessions {
		if session.UpdatedTs >= cutoff {
			continue
		}
		if _, err := j.moderator.Abandon(ctx, session.ID, expiredReason); err != nil {
			if apperrors.IsCode(err, apperrors.ErrCodeConcurrentModification) || apperrors.IsCode(err, apperrors.ErrCodeSessionClosed) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// IsRunning returns whether the job loop is active.
func (j *ExpiryJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}
