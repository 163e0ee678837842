package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Config configures metric retention.
type Config struct {
	RetentionPeriod time.Duration // How long buckets are kept (default: 24 hours)
	CleanupInterval time.Duration // How often old buckets are pruned (default: 1 hour)
}

// DefaultConfig returns the default metrics configuration.
func DefaultConfig() Config {
	return Config{
		RetentionPeriod: 24 * time.Hour,
		CleanupInterval: time.Hour,
	}
}

// Service implements MetricsService over an in-memory Aggregator.
type Service struct {
	aggregator *Aggregator
	retention  time.Duration

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewService creates a new metrics service and starts the pruning loop.
func NewService(cfg Config) *Service {
	if cfg.RetentionPeriod <= 0 {
		cfg.RetentionPeriod = 24 * time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Hour
	}

	ctx, cancel := context.WithCancel(context.Background())
	svc := &Service{
		aggregator: NewAggregator(),
		retention:  cfg.RetentionPeriod,
		ctx:        ctx,
		cancel:     cancel,
	}

	svc.wg.Add(1)
	go svc.pruneLoop(cfg.CleanupInterval)

	return svc
}

// Close stops the pruning loop.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}

// RecordTurn records a processed turn.
func (s *Service) RecordTurn(_ context.Context, module string, latency time.Duration, outcome string) {
	s.aggregator.RecordTurn(module, latency, outcome)
}

// RecordExtraction records one response interpretation.
func (s *Service) RecordExtraction(_ context.Context, source string, latency time.Duration, success bool) {
	s.aggregator.RecordExtraction(source, latency, success)
}

// GetStats returns the aggregated statistics.
func (s *Service) GetStats(_ context.Context) *Stats {
	return s.aggregator.GetCurrentStats()
}

// Prune removes buckets outside the retention period.
func (s *Service) Prune() int {
	return s.aggregator.Prune(truncateToHour(time.Now().Add(-s.retention)))
}

func (s *Service) pruneLoop(interval time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if removed := s.Prune(); removed > 0 {
				slog.Debug("pruned metric buckets", "removed", removed)
			}
		}
	}
}
