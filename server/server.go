// Package server assembles the HTTP server around the assessment moderator.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hrygo/assessment/internal/profile"
	"github.com/hrygo/assessment/plugin/ai"
	"github.com/hrygo/assessment/plugin/ai/cache"
	"github.com/hrygo/assessment/plugin/ai/extract"
	"github.com/hrygo/assessment/plugin/ai/metrics"
	"github.com/hrygo/assessment/plugin/ai/timeout"
	"github.com/hrygo/assessment/plugin/assessment/module"
	"github.com/hrygo/assessment/plugin/assessment/workflow"
	ratelimit "github.com/hrygo/assessment/server/middleware"
	apiv1 "github.com/hrygo/assessment/server/router/api/v1"
	"github.com/hrygo/assessment/server/service/assessment"
	"github.com/hrygo/assessment/store"
)

const (
	shutdownTimeout    = 10 * time.Second
	limiterSweepPeriod = 5 * time.Minute
	maxBodySize        = "64K"
)

// Server owns the echo instance and the long-lived services behind it.
type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer *echo.Echo
	moderator  *assessment.Moderator
	expiry     *assessment.ExpiryJob
	limiter    *ratelimit.RateLimiter
	metrics    *metrics.Service
	responses  *cache.Service
}

// NewServer builds every service and mounts the routes. A workflow that fails
// to load or build aborts startup.
func NewServer(profile *profile.Profile, st *store.Store) (*Server, error) {
	def, err := workflow.Load(profile.WorkflowFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load workflow")
	}
	reg := module.NewRegistry()
	module.RegisterBuiltins(reg)
	pipeline, err := def.Build(reg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build workflow")
	}

	s := &Server{
		Profile: profile,
		Store:   st,
		metrics: metrics.NewService(metrics.DefaultConfig()),
		responses: cache.NewService(cache.ServiceConfig{
			Name:       "interpretation",
			Capacity:   timeout.ResponseCacheSize,
			DefaultTTL: timeout.ResponseCacheTTL,
		}),
		limiter: ratelimit.NewRateLimiter(profile.RateLimit, profile.RateBurst),
	}

	var llm ai.LLMService
	aiConfig := ai.NewConfigFromProfile(profile)
	if aiConfig.Enabled {
		if err := aiConfig.Validate(); err != nil {
			slog.Warn("AI configuration invalid, using rule extraction only", slog.String("error", err.Error()))
		} else if llm, err = ai.NewLLMService(&aiConfig.LLM); err != nil {
			slog.Warn("failed to create LLM service, using rule extraction only", slog.String("error", err.Error()))
			llm = nil
		}
	}
	extractConfig := extract.DefaultConfig()
	if profile.ExtractionTimeout > 0 {
		extractConfig.Timeout = profile.ExtractionTimeout
	}
	processor := extract.NewService(llm, s.responses, s.metrics, extractConfig)

	s.moderator, err = assessment.NewModerator(st, pipeline, processor, s.metrics, assessment.Config{
		TurnTimeout: profile.TurnTimeout,
		Logger:      slog.Default(),
	})
	if err != nil {
		return nil, err
	}
	s.expiry = assessment.NewExpiryJob(s.moderator, assessment.DefaultExpiryConfig())

	e := echo.New()
	e.Debug = profile.IsDev()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(maxBodySize))
	e.Use(s.limiter.Middleware())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("http request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.String("request_id", v.RequestID),
				slog.Duration("latency", v.Latency),
			)
			return nil
		},
	}))
	apiv1.NewAPIV1Service(profile, s.moderator).RegisterRoutes(e)
	s.echoServer = e

	slog.Info("assessment server configured",
		slog.String("workflow", pipeline.Def.ID),
		slog.Int("modules", len(pipeline.Sequence)),
		slog.Bool("llm", llm != nil),
	)
	return s, nil
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("assessment server listening", slog.String("address", address), slog.String("version", s.Profile.Version))
		if err := s.echoServer.Start(address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "failed to serve")
		}
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(limiterSweepPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := s.limiter.Sweep(); n > 0 {
					slog.Debug("swept idle rate limiters", slog.Int("removed", n))
				}
			}
		}
	})
	g.Go(func() error {
		return s.expiry.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		return s.Shutdown(context.Background())
	})
	return g.Wait()
}

// Shutdown stops accepting requests and releases every service.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	slog.Info("server shutting down")
	err := s.echoServer.Shutdown(ctx)
	if err != nil {
		slog.Error("failed to shutdown http server", slog.String("error", err.Error()))
	}
	s.metrics.Close()
	s.responses.Close()
	if closeErr := s.Store.Close(); closeErr != nil {
		slog.Error("failed to close store", slog.String("error", closeErr.Error()))
	}
	slog.Info("server stopped")
	return err
}

// Handler exposes the configured echo instance.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}
