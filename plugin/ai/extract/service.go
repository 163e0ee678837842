package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/hrygo/assessment/plugin/ai"
	"github.com/hrygo/assessment/plugin/ai/cache"
	"github.com/hrygo/assessment/plugin/ai/metrics"
	"github.com/hrygo/assessment/plugin/ai/timeout"
)

// Fallback reasons, logged with every rule-based answer.
const (
	ReasonDisabled    = "disabled"
	ReasonEmpty       = "empty_input"
	ReasonCircuitOpen = "circuit_open"
	ReasonRateLimited = "rate_limited"
	ReasonTimeout     = "timeout"
	ReasonError       = "error"
	ReasonMalformed   = "malformed"
)

const cacheKeyPrefix = "interpretation:"

// Config configures the resilience wrappers around the LLM call.
type Config struct {
	Timeout          time.Duration
	CallsPerMinute   int
	BreakerThreshold int
	BreakerRecovery  time.Duration
	CacheTTL         time.Duration
}

// DefaultConfig returns the default Response Processor configuration.
func DefaultConfig() Config {
	return Config{
		Timeout:          timeout.ExtractionTimeout,
		CallsPerMinute:   timeout.LLMCallsPerMinute,
		BreakerThreshold: timeout.BreakerFailureThreshold,
		BreakerRecovery:  timeout.BreakerRecoveryTimeout,
		CacheTTL:         timeout.ResponseCacheTTL,
	}
}

// Service is the Response Processor. The LLM is the primary path; rules answer
// whenever it is disabled, failing, slow or returns something unusable.
type Service struct {
	llm       ai.LLMService
	rules     *RuleExtractor
	breaker   *CircuitBreaker
	limiter   *rate.Limiter
	responses cache.CacheService
	metrics   metrics.MetricsService

	timeout  time.Duration
	cacheTTL time.Duration
}

// NewService creates a Response Processor. llm, responses and m may be nil.
func NewService(llm ai.LLMService, responses cache.CacheService, m metrics.MetricsService, cfg Config) *Service {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.CallsPerMinute <= 0 {
		cfg.CallsPerMinute = def.CallsPerMinute
	}
	if cfg.BreakerThreshold <= 0 {
		cfg.BreakerThreshold = def.BreakerThreshold
	}
	if cfg.BreakerRecovery <= 0 {
		cfg.BreakerRecovery = def.BreakerRecovery
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = def.CacheTTL
	}

	return &Service{
		llm:       llm,
		rules:     NewRuleExtractor(),
		breaker:   NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerRecovery),
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.CallsPerMinute)), cfg.CallsPerMinute),
		responses: responses,
		metrics:   m,
		timeout:   cfg.Timeout,
		cacheTTL:  cfg.CacheTTL,
	}
}

// LLMEnabled reports whether a remote LLM is configured.
func (s *Service) LLMEnabled() bool {
	return s.llm != nil
}

// BreakerState returns the state of the LLM circuit breaker.
func (s *Service) BreakerState() BreakerState {
	return s.breaker.State()
}

// Interpret implements Processor.
func (s *Service) Interpret(ctx context.Context, exp Expectation, text string) Interpretation {
	start := time.Now()

	if s.llm == nil {
		return s.fallback(ctx, exp, text, ReasonDisabled, start)
	}
	if strings.TrimSpace(text) == "" {
		return s.fallback(ctx, exp, text, ReasonEmpty, start)
	}

	key := cacheKey(exp, text)
	if cached, ok := s.cached(ctx, key); ok {
		slog.Debug("interpretation served from cache",
			"module", exp.Module,
			"field", exp.Field)
		return cached
	}

	// The limiter is consulted first so a denied call never holds the half-open probe.
	if !s.limiter.Allow() {
		return s.fallback(ctx, exp, text, ReasonRateLimited, start)
	}
	if !s.breaker.Allow() {
		return s.fallback(ctx, exp, text, ReasonCircuitOpen, start)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	content, err := s.llm.ChatJSON(callCtx, buildMessages(exp, text))
	cancel()
	latency := time.Since(start)

	if err != nil {
		s.breaker.Failure()
		s.record(ctx, SourceLLM, latency, false)
		reason := ReasonError
		if errors.Is(err, context.DeadlineExceeded) {
			reason = ReasonTimeout
		}
		slog.Warn("LLM interpretation failed",
			"module", exp.Module,
			"field", exp.Field,
			"reason", reason,
			"error", err,
			"latency_ms", latency.Milliseconds())
		return s.fallback(ctx, exp, text, reason, start)
	}

	out, err := parseLLMAnswer(exp, text, content)
	if err != nil {
		s.breaker.Failure()
		s.record(ctx, SourceLLM, latency, false)
		slog.Warn("LLM interpretation malformed",
			"module", exp.Module,
			"field", exp.Field,
			"content", ai.TruncateForLog(content, timeout.MaxTruncateLength),
			"error", err)
		return s.fallback(ctx, exp, text, ReasonMalformed, start)
	}

	s.breaker.Success()
	s.record(ctx, SourceLLM, latency, true)
	s.store(ctx, key, out)

	slog.Debug("LLM interpretation completed",
		"module", exp.Module,
		"field", exp.Field,
		"kind", out.Kind,
		"confidence", out.Confidence,
		"latency_ms", latency.Milliseconds())

	return out
}

func (s *Service) fallback(ctx context.Context, exp Expectation, text, reason string, start time.Time) Interpretation {
	out := s.rules.Extract(exp, text)
	s.record(ctx, SourceRules, time.Since(start), out.Answered())

	slog.Info("interpretation used rule fallback",
		"module", exp.Module,
		"field", exp.Field,
		"reason", reason,
		"answered", out.Answered())

	return out
}

func (s *Service) record(ctx context.Context, source Source, latency time.Duration, success bool) {
	if s.metrics != nil {
		s.metrics.RecordExtraction(ctx, string(source), latency, success)
	}
}

func (s *Service) cached(ctx context.Context, key string) (Interpretation, bool) {
	if s.responses == nil {
		return Interpretation{}, false
	}
	data, ok := s.responses.Get(ctx, key)
	if !ok {
		return Interpretation{}, false
	}
	var out Interpretation
	if err := json.Unmarshal(data, &out); err != nil {
		_ = s.responses.Invalidate(ctx, key)
		return Interpretation{}, false
	}
	out.Source = SourceCache
	return out, true
}

func (s *Service) store(ctx context.Context, key string, out Interpretation) {
	if s.responses == nil {
		return
	}
	data, err := json.Marshal(out)
	if err != nil {
		return
	}
	if err := s.responses.Set(ctx, key, data, s.cacheTTL); err != nil {
		slog.Warn("failed to cache interpretation", "error", err)
	}
}

// cacheKey hashes everything that can change the answer.
func cacheKey(exp Expectation, text string) string {
	h := sha256.New()
	_ = json.NewEncoder(h).Encode(struct {
		Exp  Expectation `json:"exp"`
		Text string      `json:"text"`
	}{exp, normalize(text)})
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}
