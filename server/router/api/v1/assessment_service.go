package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/assessment/plugin/ai/metrics"
	"github.com/hrygo/assessment/server/service/assessment"
	"github.com/hrygo/assessment/store"
)

// StartSession creates a session.
// POST /api/v1/assessment/start
func (s *APIV1Service) StartSession(c echo.Context) error {
	var req assessment.StartRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	resp, err := s.Assessment.Start(ctxOf(c), &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusCreated, resp)
}

// ProcessTurn applies one subject message.
// POST /api/v1/assessment/turn
func (s *APIV1Service) ProcessTurn(c echo.Context) error {
	var req assessment.TurnRequest
	if err := bindJSON(c, &req); err != nil {
		return respondError(c, err)
	}
	if req.RequestID == "" {
		req.RequestID = c.Request().Header.Get("Idempotency-Key")
	}
	resp, err := s.Assessment.ProcessTurn(ctxOf(c), &req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// GetState returns the session snapshot.
// GET /api/v1/assessment/state/:session_id
func (s *APIV1Service) GetState(c echo.Context) error {
	state, err := s.Assessment.State(ctxOf(c), c.Param("session_id"), subjectParam(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

// GetProgress returns per-module progress.
// GET /api/v1/assessment/progress/:session_id
func (s *APIV1Service) GetProgress(c echo.Context) error {
	progress, err := s.Assessment.Progress(ctxOf(c), c.Param("session_id"), subjectParam(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, progress)
}

// ListSessionsResponse wraps a subject's sessions.
type ListSessionsResponse struct {
	Sessions []*assessment.SessionState `json:"sessions"`
}

// ListSessions returns a subject's sessions.
// GET /api/v1/assessment/sessions?subject_id=
func (s *APIV1Service) ListSessions(c echo.Context) error {
	list, err := s.Assessment.ListSessions(ctxOf(c), subjectParam(c))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, ListSessionsResponse{Sessions: list})
}

// ListTurnsResponse wraps a session transcript.
type ListTurnsResponse struct {
	Turns []*store.ConversationTurn `json:"turns"`
}

// ListTurns returns the ordered turn log.
// GET /api/v1/assessment/sessions/:session_id/turns?subject_id=
func (s *APIV1Service) ListTurns(c echo.Context) error {
	turns, err := s.Assessment.Transcript(ctxOf(c), c.Param("session_id"), subjectParam(c))
	if err != nil {
		return respondError(c, err)
	}
	if turns == nil {
		turns = []*store.ConversationTurn{}
	}
	return c.JSON(http.StatusOK, ListTurnsResponse{Turns: turns})
}

// ListTransitionsResponse wraps a session transition log.
type ListTransitionsResponse struct {
	Transitions []*store.ModuleTransition `json:"transitions"`
}

// ListTransitions returns the ordered module transition log.
// GET /api/v1/assessment/sessions/:session_id/transitions?subject_id=
func (s *APIV1Service) ListTransitions(c echo.Context) error {
	transitions, err := s.Assessment.Transitions(ctxOf(c), c.Param("session_id"), subjectParam(c))
	if err != nil {
		return respondError(c, err)
	}
	if transitions == nil {
		transitions = []*store.ModuleTransition{}
	}
	return c.JSON(http.StatusOK, ListTransitionsResponse{Transitions: transitions})
}

// AbandonRequest is the body of the abandon route.
type AbandonRequest struct {
	Reason string `json:"reason"`
}

// AbandonSession discards a session.
// POST /api/v1/admin/sessions/:session_id/abandon
func (s *APIV1Service) AbandonSession(c echo.Context) error {
	var req AbandonRequest
	if c.Request().ContentLength != 0 {
		if err := bindJSON(c, &req); err != nil {
			return respondError(c, err)
		}
	}
	state, err := s.Assessment.Abandon(ctxOf(c), c.Param("session_id"), req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, state)
}

// Health reports dependency status. Unavailable stores answer 503.
// GET /api/v1/health
func (s *APIV1Service) Health(c echo.Context) error {
	h := s.Assessment.Health(ctxOf(c))
	status := http.StatusOK
	if h.Status == "unavailable" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, h)
}

// MetricsResponse is the admin metrics view.
type MetricsResponse struct {
	*metrics.Stats
	LatencyP50Ms int64 `json:"latency_p50_ms"`
	LatencyP95Ms int64 `json:"latency_p95_ms"`
}

// GetMetrics returns turn and extraction statistics.
// GET /api/v1/admin/metrics
func (s *APIV1Service) GetMetrics(c echo.Context) error {
	stats := s.Assessment.Metrics(ctxOf(c))
	return c.JSON(http.StatusOK, MetricsResponse{
		Stats:        stats,
		LatencyP50Ms: stats.LatencyP50.Milliseconds(),
		LatencyP95Ms: stats.LatencyP95.Milliseconds(),
	})
}
