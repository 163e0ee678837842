package v1

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hrygo/assessment/internal/profile"
	apperrors "github.com/hrygo/assessment/server/internal/errors"
	"github.com/hrygo/assessment/server/internal/observability"
	"github.com/hrygo/assessment/server/service/assessment"
)

// AdminKeyHeader carries the admin API key.
const AdminKeyHeader = "X-Admin-Key"

// APIV1Service exposes the assessment service over JSON HTTP.
type APIV1Service struct {
	Profile    *profile.Profile
	Assessment assessment.Service
}

func NewAPIV1Service(profile *profile.Profile, svc assessment.Service) *APIV1Service {
	return &APIV1Service{
		Profile:    profile,
		Assessment: svc,
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// RegisterRoutes mounts the API under /api/v1. Admin routes are only mounted
// when an admin key is configured.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo) {
	api := echoServer.Group("/api/v1")
	api.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderXRequestID, "Idempotency-Key", AdminKeyHeader},
	}))
	api.Use(requestContext)

	api.GET("/health", s.Health)

	group := api.Group("/assessment")
	group.POST("/start", s.StartSession)
	group.POST("/turn", s.ProcessTurn)
	group.GET("/state/:session_id", s.GetState)
	group.GET("/progress/:session_id", s.GetProgress)
	group.GET("/sessions", s.ListSessions)
	group.GET("/sessions/:session_id/turns", s.ListTurns)
	group.GET("/sessions/:session_id/transitions", s.ListTransitions)

	if s.Profile == nil || s.Profile.AdminKey == "" {
		slog.Info("admin routes disabled, no admin key configured")
		return
	}
	admin := api.Group("/admin", middleware.KeyAuthWithConfig(middleware.KeyAuthConfig{
		KeyLookup: "header:" + AdminKeyHeader,
		Validator: func(key string, _ echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(s.Profile.AdminKey)) == 1, nil
		},
	}))
	admin.POST("/sessions/:session_id/abandon", s.AbandonSession)
	admin.GET("/metrics", s.GetMetrics)
}

// requestContext attaches a RequestContext keyed by the X-Request-ID header.
func requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		requestID := req.Header.Get(echo.HeaderXRequestID)
		if requestID == "" {
			requestID = c.Response().Header().Get(echo.HeaderXRequestID)
		}
		rc := observability.NewRequestContext(slog.Default(), c.Path(), requestID)
		c.SetRequest(req.WithContext(observability.WithRequestContext(req.Context(), rc)))
		return next(c)
	}
}

// respondError writes a coded error body with the mapped status.
func respondError(c echo.Context, err error) error {
	var ae *apperrors.AssessmentError
	code := apperrors.GetCodeFromError(err, apperrors.ErrCodeInternal)
	body := ErrorResponse{Code: string(code), Message: "internal error"}
	if errors.As(err, &ae) {
		body.Message = ae.Message
		if len(ae.Context) > 0 {
			body.Details = ae.Context
		}
	}
	status := apperrors.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			slog.String(observability.LogFieldRequestID, observability.RequestIDFromContext(c.Request().Context())),
			slog.String("path", c.Path()),
			slog.String(observability.LogFieldErrorCode, string(code)),
			slog.String("error", err.Error()),
		)
	}
	return c.JSON(status, body)
}

func bindJSON(c echo.Context, v any) error {
	if err := c.Bind(v); err != nil {
		return apperrors.Validation("request body is not valid JSON")
	}
	return nil
}

func ctxOf(c echo.Context) context.Context {
	return c.Request().Context()
}

func subjectParam(c echo.Context) string {
	return strings.TrimSpace(c.QueryParam("subject_id"))
}
