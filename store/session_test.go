package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionValidate(t *testing.T) {
	valid := func() *Session {
		return &Session{ID: "s1", SubjectID: "u1", Status: SessionStatusActive}
	}

	tests := []struct {
		name   string
		mutate func(*Session)
		ok     bool
	}{
		{"valid", func(*Session) {}, true},
		{"missing id", func(s *Session) { s.ID = "" }, false},
		{"missing owner", func(s *Session) { s.SubjectID = "" }, false},
		{"blank owner", func(s *Session) { s.SubjectID = "  " }, false},
		{"unknown status", func(s *Session) { s.Status = "PAUSED" }, false},
		{"mismatched result key", func(s *Session) {
			s.ModuleResults = map[string]*ModuleResult{"mood": {Module: "intake"}}
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid()
			tt.mutate(s)
			err := s.Validate()
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, ErrValidation)
			}
		})
	}

	var nilSession *Session
	require.ErrorIs(t, nilSession.Validate(), ErrValidation)
}

func TestSessionClone(t *testing.T) {
	original := &Session{
		ID:            "s1",
		SubjectID:     "u1",
		Status:        SessionStatusActive,
		ModuleHistory: []string{"intake"},
		ModuleResults: map[string]*ModuleResult{
			"intake": {Module: "intake", Payload: map[string]any{"answers": map[string]any{"age": 30}}},
		},
		ModuleStates: map[string]map[string]any{"mood": {"asked": []any{"q1"}}},
		LastReply:    &TurnReply{RequestID: "r1"},
		Metadata:     map[string]any{"k": "v"},
	}

	clone := original.Clone()
	clone.ModuleHistory[0] = "changed"
	clone.ModuleResults["intake"].Payload["answers"].(map[string]any)["age"] = 99
	clone.ModuleStates["mood"]["asked"].([]any)[0] = "q9"
	clone.LastReply.RequestID = "r2"
	clone.Metadata["k"] = "w"

	assert.Equal(t, "intake", original.ModuleHistory[0])
	assert.Equal(t, 30, original.ModuleResults["intake"].Payload["answers"].(map[string]any)["age"])
	assert.Equal(t, "q1", original.ModuleStates["mood"]["asked"].([]any)[0])
	assert.Equal(t, "r1", original.LastReply.RequestID)
	assert.Equal(t, "v", original.Metadata["k"])
}

func TestSessionHelpers(t *testing.T) {
	s := &Session{
		ModuleHistory: []string{"synthesis_da"},
		ModuleResults: map[string]*ModuleResult{"intake": {Module: "intake", Payload: map[string]any{"a": 1}}},
	}
	assert.True(t, s.InHistory("synthesis_da"))
	assert.False(t, s.HasResult("synthesis_da"))
	assert.True(t, s.HasResult("intake"))

	state := s.ModuleState("mood")
	state["index"] = 2
	assert.Equal(t, 2, s.ModuleStates["mood"]["index"])

	s.Status = SessionStatusAbandoned
	assert.True(t, s.IsClosed())
	assert.False(t, s.IsComplete())
}
