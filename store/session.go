package store

import (
	"strings"

	"github.com/pkg/errors"
)

// SessionStatus is the lifecycle status of an assessment session.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "ACTIVE"
	SessionStatusCompleted SessionStatus = "COMPLETED"
	SessionStatusAbandoned SessionStatus = "ABANDONED"
)

func (s SessionStatus) String() string {
	return string(s)
}

// ModuleResult is the structured output a module produced on completion.
type ModuleResult struct {
	Module      string         `json:"module"`
	Payload     map[string]any `json:"payload"`
	CompletedTs int64          `json:"completed_ts"`
}

// IsEmpty reports whether the result carries no usable output.
func (r *ModuleResult) IsEmpty() bool {
	return r == nil || len(r.Payload) == 0
}

// TurnReply is the reply recorded for the last accepted turn, replayed when a
// client retries with the same request id.
type TurnReply struct {
	RequestID     string `json:"request_id"`
	Sequence      int32  `json:"sequence"`
	Prompt        string `json:"prompt"`
	CurrentModule string `json:"current_module"`
	IsComplete    bool   `json:"is_complete"`
	// Missing and BlockedModule are set when the turn was refused for unmet prerequisites.
	Missing       []string `json:"missing,omitempty"`
	BlockedModule string   `json:"blocked_module,omitempty"`
}

// Session is one end-to-end assessment instance for a subject.
type Session struct {
	ID            string                    `json:"id"`
	SubjectID     string                    `json:"subject_id"`
	WorkflowID    string                    `json:"workflow_id"`
	Status        SessionStatus             `json:"status"`
	CurrentModule string                    `json:"current_module"`
	ModuleHistory []string                  `json:"module_history"`
	ModuleResults map[string]*ModuleResult  `json:"module_results"`
	ModuleStates  map[string]map[string]any `json:"module_states"`
	Version       int64                     `json:"version"`
	TurnCount     int32                     `json:"turn_count"`
	LastReply     *TurnReply                `json:"last_reply,omitempty"`
	Metadata      map[string]any            `json:"metadata"`
	CreatedTs     int64                     `json:"created_ts"`
	UpdatedTs     int64                     `json:"updated_ts"`
	CompletedTs   int64                     `json:"completed_ts"`
}

// FindSession filters sessions.
type FindSession struct {
	ID        *string
	SubjectID *string
	Status    *SessionStatus
	Limit     *int
}

// UpdateSession replaces a session's mutable state if the stored version still
// equals ExpectedVersion. Turn and Transition are written in the same transaction.
type UpdateSession struct {
	Session         *Session
	ExpectedVersion int64
	Turn            *ConversationTurn
	Transition      *ModuleTransition
}

// IsComplete reports whether the session reached its terminal COMPLETED state.
func (s *Session) IsComplete() bool {
	return s.Status == SessionStatusCompleted
}

// IsClosed reports whether the session accepts no further turns.
func (s *Session) IsClosed() bool {
	return s.Status == SessionStatusCompleted || s.Status == SessionStatusAbandoned
}

// HasResult reports whether module produced a non-empty result.
func (s *Session) HasResult(module string) bool {
	return !s.ModuleResults[module].IsEmpty()
}

// InHistory reports whether module was exited at least once.
func (s *Session) InHistory(module string) bool {
	for _, m := range s.ModuleHistory {
		if m == module {
			return true
		}
	}
	return false
}

// ModuleState returns the working state of module, creating it if absent.
func (s *Session) ModuleState(module string) map[string]any {
	if s.ModuleStates == nil {
		s.ModuleStates = map[string]map[string]any{}
	}
	state, ok := s.ModuleStates[module]
	if !ok {
		state = map[string]any{}
		s.ModuleStates[module] = state
	}
	return state
}

// Validate checks the invariants every persisted session must hold.
func (s *Session) Validate() error {
	if s == nil {
		return errors.Wrap(ErrValidation, "session is nil")
	}
	if strings.TrimSpace(s.ID) == "" {
		return errors.Wrap(ErrValidation, "session id is required")
	}
	if strings.TrimSpace(s.SubjectID) == "" {
		return errors.Wrap(ErrValidation, "session owner is required")
	}
	switch s.Status {
	case SessionStatusActive, SessionStatusCompleted, SessionStatusAbandoned:
	default:
		return errors.Wrapf(ErrValidation, "unknown session status %q", s.Status)
	}
	for name, result := range s.ModuleResults {
		if result != nil && result.Module != name {
			return errors.Wrapf(ErrValidation, "result keyed %q was produced by %q", name, result.Module)
		}
	}
	return nil
}

// Clone returns a deep copy. Callers mutate clones, never shared snapshots.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.ModuleHistory = append([]string(nil), s.ModuleHistory...)
	if s.ModuleResults != nil {
		out.ModuleResults = make(map[string]*ModuleResult, len(s.ModuleResults))
		for name, r := range s.ModuleResults {
			if r == nil {
				out.ModuleResults[name] = nil
				continue
			}
			rc := *r
			rc.Payload = CloneMap(r.Payload)
			out.ModuleResults[name] = &rc
		}
	}
	if s.ModuleStates != nil {
		out.ModuleStates = make(map[string]map[string]any, len(s.ModuleStates))
		for name, st := range s.ModuleStates {
			out.ModuleStates[name] = CloneMap(st)
		}
	}
	if s.LastReply != nil {
		reply := *s.LastReply
		reply.Missing = append([]string(nil), s.LastReply.Missing...)
		out.LastReply = &reply
	}
	out.Metadata = CloneMap(s.Metadata)
	return &out
}

// CloneMap deep-copies JSON-shaped values.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i, item := range t {
			out[i] = CloneMap(item)
		}
		return out
	default:
		return v
	}
}
