package assessment

import (
	"context"

	"github.com/hrygo/assessment/plugin/ai/metrics"
	"github.com/hrygo/assessment/store"
)

// Service drives assessment sessions through their workflow.
type Service interface {
	// Start creates a session and returns the first module's opening prompt.
	// It is the only operation that creates sessions.
	Start(ctx context.Context, req *StartRequest) (*StartResponse, error)

	// ProcessTurn applies one subject message to the active module.
	ProcessTurn(ctx context.Context, req *TurnRequest) (*TurnResponse, error)

	// State returns the committed snapshot of a session. subjectID is
	// optional; when given it must own the session, and module results are
	// only included when it is given.
	State(ctx context.Context, sessionID, subjectID string) (*SessionState, error)

	// Progress reports per-module status for a session.
	Progress(ctx context.Context, sessionID, subjectID string) (*Progress, error)

	// Transcript returns the ordered turn log of a session.
	Transcript(ctx context.Context, sessionID, subjectID string) ([]*store.ConversationTurn, error)

	// Transitions returns the ordered module transition log of a session.
	Transitions(ctx context.Context, sessionID, subjectID string) ([]*store.ModuleTransition, error)

	// ListSessions returns a subject's sessions, most recently updated first.
	ListSessions(ctx context.Context, subjectID string) ([]*SessionState, error)

	// Abandon administratively discards a session.
	Abandon(ctx context.Context, sessionID, reason string) (*SessionState, error)

	// Health reports store reachability and the state of the LLM path.
	Health(ctx context.Context) *Health

	// Metrics returns turn and extraction statistics.
	Metrics(ctx context.Context) *metrics.Stats
}

// Store is the subset of store.Store the moderator needs.
type Store interface {
	CreateSession(ctx context.Context, create *store.Session) (*store.Session, error)
	GetSession(ctx context.Context, id string) (*store.Session, error)
	UpdateSession(ctx context.Context, update *store.UpdateSession) (*store.Session, error)
	ListSessions(ctx context.Context, find *store.FindSession) ([]*store.Session, error)
	ListConversationTurns(ctx context.Context, find *store.FindConversationTurn) ([]*store.ConversationTurn, error)
	ListModuleTransitions(ctx context.Context, find *store.FindModuleTransition) ([]*store.ModuleTransition, error)
	Ping(ctx context.Context) error
}

// Phase is the coarse position of a session in its workflow.
type Phase string

const (
	PhaseNotStarted Phase = "not_started"
	PhaseActive     Phase = "active"
	PhaseSynthesis  Phase = "synthesis"
	PhaseComplete   Phase = "complete"
	PhaseAbandoned  Phase = "abandoned"
)

// StartRequest asks for a new session.
type StartRequest struct {
	SubjectID string         `json:"subject_id"`
	SessionID string         `json:"session_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// StartResponse is returned by Start.
type StartResponse struct {
	SessionID     string `json:"session_id"`
	Prompt        string `json:"prompt"`
	CurrentModule string `json:"current_module"`
	Phase         Phase  `json:"phase"`
	Version       int64  `json:"version"`
}

// TurnRequest carries one subject message.
type TurnRequest struct {
	SessionID string `json:"session_id"`
	SubjectID string `json:"subject_id"`
	Text      string `json:"text"`
	// RequestID makes client retries idempotent.
	RequestID string `json:"request_id,omitempty"`
}

// TurnResponse is returned by ProcessTurn.
type TurnResponse struct {
	SessionID     string                    `json:"session_id"`
	Prompt        string                    `json:"prompt"`
	Summary       map[string]map[string]any `json:"summary,omitempty"`
	CurrentModule string                    `json:"current_module"`
	IsComplete    bool                      `json:"is_complete"`
	Phase         Phase                     `json:"phase"`
	Version       int64                     `json:"version"`
	Sequence      int32                     `json:"sequence"`
	Source        string                    `json:"source,omitempty"`
	Replayed      bool                      `json:"replayed,omitempty"`
}

// SessionState is the externally visible session snapshot.
type SessionState struct {
	SessionID     string                    `json:"session_id"`
	SubjectID     string                    `json:"subject_id"`
	WorkflowID    string                    `json:"workflow_id"`
	Status        string                    `json:"status"`
	Phase         Phase                     `json:"phase"`
	CurrentModule string                    `json:"current_module"`
	ModuleHistory []string                  `json:"module_history"`
	Results       map[string]map[string]any `json:"results,omitempty"`
	IsComplete    bool                      `json:"is_complete"`
	Version       int64                     `json:"version"`
	TurnCount     int32                     `json:"turn_count"`
	Metadata      map[string]any            `json:"metadata,omitempty"`
	CreatedTs     int64                     `json:"created_ts"`
	UpdatedTs     int64                     `json:"updated_ts"`
	CompletedTs   int64                     `json:"completed_ts,omitempty"`
}

// ModuleStatus is the status of one module within a session.
type ModuleStatus string

const (
	ModuleCompleted  ModuleStatus = "completed"
	ModuleInProgress ModuleStatus = "in_progress"
	ModulePending    ModuleStatus = "pending"
	ModuleBlocked    ModuleStatus = "blocked"
)

// ModuleProgress describes one module of the workflow.
type ModuleProgress struct {
	ID        string       `json:"id"`
	Name      string       `json:"name"`
	Kind      string       `json:"kind"`
	Status    ModuleStatus `json:"status"`
	Answered  int          `json:"answered,omitempty"`
	Questions int          `json:"questions,omitempty"`
	Missing   []string     `json:"missing,omitempty"`
}

// Progress summarizes how far a session has come.
type Progress struct {
	SessionID      string           `json:"session_id"`
	Phase          Phase            `json:"phase"`
	Percentage     float64          `json:"percentage"`
	CompletedCount int              `json:"completed_count"`
	TotalModules   int              `json:"total_modules"`
	CurrentModule  string           `json:"current_module"`
	NextModule     string           `json:"next_module,omitempty"`
	Modules        []ModuleProgress `json:"modules"`
}

// Health reports the state of the moderator's dependencies.
type Health struct {
	Status     string `json:"status"`
	Store      string `json:"store"`
	LLMEnabled bool   `json:"llm_enabled"`
	LLMBreaker string `json:"llm_breaker,omitempty"`
	WorkflowID string `json:"workflow_id"`
	Modules    int    `json:"modules"`
}
