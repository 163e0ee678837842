package assessment

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/assessment/plugin/ai"
	"github.com/hrygo/assessment/plugin/ai/extract"
	"github.com/hrygo/assessment/plugin/ai/metrics"
	"github.com/hrygo/assessment/plugin/assessment/module"
	"github.com/hrygo/assessment/plugin/assessment/workflow"
	apperrors "github.com/hrygo/assessment/server/internal/errors"
	"github.com/hrygo/assessment/store"
	storetest "github.com/hrygo/assessment/store/test"
)

const miniWorkflow = `
id: mini
name: Mini Intake
version: 1.0.0
modules:
  - id: intake
    type: questionnaire
    config:
      name: Intake
      questions:
        - key: concern
          prompt: What brings you here?
          optional: true
  - id: mood
    type: questionnaire
    config:
      name: Mood
      questions:
        - key: low
          prompt: Have you been feeling low?
          kind: yes_no
  - id: synthesis
    type: synthesis_da
    requires: [intake, mood]
    config:
      name: Summary
`

// hookStore wraps a Store so tests can tamper with reads and interleave writes.
type hookStore struct {
	Store

	onGet        func(*store.Session) *store.Session
	beforeUpdate func()
	fired        atomic.Bool
}

func (h *hookStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	s, err := h.Store.GetSession(ctx, id)
	if err == nil && h.onGet != nil {
		s = h.onGet(s)
	}
	return s, err
}

func (h *hookStore) UpdateSession(ctx context.Context, update *store.UpdateSession) (*store.Session, error) {
	if h.beforeUpdate != nil && h.fired.CompareAndSwap(false, true) {
		h.beforeUpdate()
	}
	return h.Store.UpdateSession(ctx, update)
}

type slowLLM struct {
	reply string
	delay time.Duration
}

func (l *slowLLM) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	return l.ChatJSON(ctx, messages)
}

func (l *slowLLM) ChatJSON(ctx context.Context, _ []ai.Message) (string, error) {
	select {
	case <-time.After(l.delay):
		return l.reply, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func buildPipeline(t *testing.T, yaml string) *workflow.Pipeline {
	t.Helper()
	var (
		def workflow.Definition
		err error
	)
	if yaml == "" {
		def, err = workflow.Standard()
	} else {
		def, err = workflow.Parse([]byte(yaml))
	}
	require.NoError(t, err)
	reg := module.NewRegistry()
	module.RegisterBuiltins(reg)
	p, err := def.Build(reg)
	require.NoError(t, err)
	return p
}

func newModerator(t *testing.T, st Store, yaml string, processor extract.Processor) *Moderator {
	t.Helper()
	if processor == nil {
		processor = extract.NewService(nil, nil, nil, extract.DefaultConfig())
	}
	m := metrics.NewService(metrics.DefaultConfig())
	t.Cleanup(m.Close)
	mod, err := NewModerator(st, buildPipeline(t, yaml), processor, m, DefaultConfig())
	require.NoError(t, err)
	return mod
}

func requireCode(t *testing.T, err error, code apperrors.ErrorCode) *apperrors.AssessmentError {
	t.Helper()
	require.Error(t, err)
	var ae *apperrors.AssessmentError
	require.True(t, errors.As(err, &ae), "expected coded error, got %v", err)
	assert.Equal(t, code, ae.Code, ae.Error())
	return ae
}

func turn(t *testing.T, m *Moderator, sessionID, text string) *TurnResponse {
	t.Helper()
	resp, err := m.ProcessTurn(context.Background(), &TurnRequest{SessionID: sessionID, SubjectID: "subject-1", Text: text})
	require.NoError(t, err, "turn %q", text)
	return resp
}

func TestNewModerator_RequiresDependencies(t *testing.T) {
	ts := storetest.NewTestingStore(context.Background(), t)
	p := buildPipeline(t, miniWorkflow)
	proc := extract.NewService(nil, nil, nil, extract.DefaultConfig())

	_, err := NewModerator(nil, p, proc, nil, DefaultConfig())
	assert.Error(t, err)
	_, err = NewModerator(ts, nil, proc, nil, DefaultConfig())
	assert.Error(t, err)
	_, err = NewModerator(ts, p, nil, nil, DefaultConfig())
	assert.Error(t, err)
}

func TestStart(t *testing.T) {
	ctx := context.Background()
	ts := storetest.NewTestingStore(ctx, t)
	m := newModerator(t, ts, miniWorkflow, nil)

	resp, err := m.Start(ctx, &StartRequest{SubjectID: "subject-1", Metadata: map[string]any{"channel": "web"}})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, "intake", resp.CurrentModule)
	assert.Equal(t, PhaseActive, resp.Phase)
	assert.Contains(t, resp.Prompt, "What brings you here?")

	state, err := m.State(ctx, resp.SessionID, "subject-1")
	require.NoError(t, err)
	assert.Equal(t, "mini", state.WorkflowID)
	assert.Equal(t, "ACTIVE", state.Status)
	assert.Equal(t, "web", state.Metadata["channel"])
	assert.Empty(t, state.ModuleHistory)

	transitions, err := m.Transitions(ctx, resp.SessionID, "subject-1")
	require.NoError(t, err)
	require.Len(t, transitions, 1)
	assert.Equal(t, store.TransitionStart, transitions[0].Reason)
	assert.Equal(t, "intake", transitions[0].ToModule)

	t.Run("duplicate id", func(t *testing.T) {
		_, err := m.Start(ctx, &StartRequest{SubjectID: "subject-2", SessionID: resp.SessionID})
		ae := requireCode(t, err, apperrors.ErrCodeAlreadyExists)
		assert.Equal(t, 409, apperrors.HTTPStatus(ae.Code))
	})
	t.Run("missing subject", func(t *testing.T) {
		_, err := m.Start(ctx, &StartRequest{})
		requireCode(t, err, apperrors.ErrCodeValidation)
	})
}

func TestProcessTurn_AdvancesAndTransitions(t *testing.T) {
	ctx := context.Background()
	ts := storetest.NewTestingStore(ctx, t)
	m := newModerator(t, ts, miniWorkflow, nil)
	started, err := m.Start(ctx, &StartRequest{SubjectID: "subject-1"})
	require.NoError(t, err)

	resp := turn(t, m, started.SessionID, "work has been overwhelming lately")
	assert.Equal(t, "mood", resp.CurrentModule)
	assert.Contains(t, resp.Prompt, "Have you been feeling low?")
	assert.Equal(t, int32(1), resp.Sequence)
	assert.Equal(t, string(extract.SourceRules), resp.Source)
	assert.Equal(t, started.Version+1, resp.Version)

	state, err := m.State(ctx, started.SessionID, "subject-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"intake"}, state.ModuleHistory)
	assert.Equal(t, resp.Version, state.Version)
	assert.Contains(t, state.Results, "intake")

	transitions, err := m.Transitions(ctx, started.SessionID, "subject-1")
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, store.TransitionAdvance, transitions[1].Reason)
	assert.Equal(t, "intake", transitions[1].FromModule)
	assert.Equal(t, "mood", transitions[1].ToModule)

	resp = turn(t, m, started.SessionID, "yes")
	assert.Equal(t, "synthesis", resp.CurrentModule)
	assert.Equal(t, PhaseSynthesis, resp.Phase)

	resp = turn(t, m, started.SessionID, "yes, that's right")
	assert.True(t, resp.IsComplete)
	assert.Equal(t, PhaseComplete, resp.Phase)
	assert.Equal(t, completionPrompt, resp.Prompt)
	require.Contains(t, resp.Summary, "synthesis")
	assert.Equal(t, true, resp.Summary["synthesis"]["confirmed"])

	_, err = m.ProcessTurn(ctx, &TurnRequest{SessionID: started.SessionID, SubjectID: "subject-1", Text: "hello?"})
	requireCode(t, err, apperrors.ErrCodeSessionClosed)

	turns, err := m.Transcript(ctx, started.SessionID, "subject-1")
	require.NoError(t, err)
	require.Len(t, turns, 3)
	for i, tr := range turns {
		assert.Equal(t, int32(i+1), tr.Sequence)
		assert.NotEmpty(t, tr.UID)
	}
	assert.Equal(t, "synthesis", turns[2].Module)
}

// optionalMoodWorkflow lets the mood question be declined, which leaves mood
// with an empty result.
const optionalMoodWorkflow = `
id: optional_mood
modules:
  - id: intake
    type: questionnaire
    config:
      name: Intake
      questions:
        - key: concern
          prompt: What brings you here?
  - id: mood
    type: questionnaire
    config:
      name: Mood
      questions:
        - key: low
          prompt: Have you been feeling low?
          kind: yes_no
          optional: true
  - id: synthesis
    type: synthesis_da
    requires: [intake, mood]
`

func TestProcessTurn_PrerequisiteUnmetKeepsModule(t *testing.T) {
	ctx := context.Background()
	ts := storetest.NewTestingStore(ctx, t)
	m := newModerator(t, ts, optionalMoodWorkflow, nil)
	started, err := m.Start(ctx, &StartRequest{SubjectID: "subject-1"})
	require.NoError(t, err)

	resp := turn(t, m, started.SessionID, "trouble sleeping")
	assert.Equal(t, "mood", resp.CurrentModule)

	// Declining the only mood question leaves an empty result.
	_, err = m.ProcessTurn(ctx, &TurnRequest{SessionID: started.SessionID, SubjectID: "subject-1", Text: "skip", RequestID: "req-7"})
	ae := requireCode(t, err, apperrors.ErrCodePrerequisiteUnmet)
	assert.Equal(t, 424, apperrors.HTTPStatus(ae.Code))
	assert.Equal(t, "synthesis", ae.Context["module"])
	assert.Equal(t, []string{"mood"}, ae.Context["missing"])
	assert.Equal(t, "mood", ae.Context["current_module"])
	assert.Contains(t, ae.Context["prompt"], "Have you been feeling low?")

	state, err := m.State(ctx, started.SessionID, "subject-1")
	require.NoError(t, err)
	assert.Equal(t, "mood", state.CurrentModule)
	assert.Equal(t, "ACTIVE", state.Status)
	assert.Equal(t, []string{"intake", "mood"}, state.ModuleHistory)

	transitions, err := m.Transitions(ctx, started.SessionID, "subject-1")
	require.NoError(t, err)
	for _, tr := range transitions {
		assert.NotEqual(t, "synthesis", tr.ToModule)
	}

	progress, err := m.Progress(ctx, started.SessionID, "subject-1")
	require.NoError(t, err)
	require.Len(t, progress.Modules, 3)
	assert.Equal(t, ModuleInProgress, progress.Modules[1].Status)
	assert.Equal(t, ModuleBlocked, progress.Modules[2].Status)
	assert.Equal(t, []string{"mood"}, progress.Modules[2].Missing)

	t.Run("replay repeats the refusal", func(t *testing.T) {
		_, err := m.ProcessTurn(ctx, &TurnRequest{SessionID: started.SessionID, SubjectID: "subject-1", Text: "skip", RequestID: "req-7"})
		ae := requireCode(t, err, apperrors.ErrCodePrerequisiteUnmet)
		assert.Equal(t, "synthesis", ae.Context["module"])

		again, err := m.State(ctx, started.SessionID, "subject-1")
		require.NoError(t, err)
		assert.Equal(t, state.Version, again.Version)
	})

	t.Run("declining again does not duplicate history", func(t *testing.T) {
		_, err := m.ProcessTurn(ctx, &TurnRequest{SessionID: started.SessionID, SubjectID: "subject-1", Text: "skip"})
		requireCode(t, err, apperrors.ErrCodePrerequisiteUnmet)
		again, err := m.State(ctx, started.SessionID, "subject-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"intake", "mood"}, again.ModuleHistory)
	})

	t.Run("answering recovers", func(t *testing.T) {
		resp := turn(t, m, started.SessionID, "yes")
		assert.Equal(t, "synthesis", resp.CurrentModule)
		resp = turn(t, m, started.SessionID, "yes, that's right")
		assert.True(t, resp.IsComplete)
	})
}

func TestProcessTurn_PrerequisiteUnmetReopensEarlierModule(t *testing.T) {
	ctx := context.Background()
	ts := storetest.NewTestingStore(ctx, t)
	m := newModerator(t, ts, miniWorkflow, nil)
	started, err := m.Start(ctx, &StartRequest{SubjectID: "subject-1"})
	require.NoError(t, err)

	// Declining the only intake question leaves an empty result.
	resp := turn(t, m, started.SessionID, "skip")
	assert.Equal(t, "mood", resp.CurrentModule)

	_, err = m.ProcessTurn(ctx, &TurnRequest{SessionID: started.SessionID, SubjectID: "subject-1", Text: "yes", RequestID: "req-9"})
	ae := requireCode(t, err, apperrors.ErrCodePrerequisiteUnmet)
	assert.Equal(t, "synthesis", ae.Context["module"])
	assert.Equal(t, []string{"intake"}, ae.Context["missing"])
	assert.Equal(t, "intake", ae.Context["current_module"])
	assert.Contains(t, ae.Context["prompt"], "What brings you here?")

	state, err := m.State(ctx, started.SessionID, "subject-1")
	require.NoError(t, err)
	assert.Equal(t, "intake", state.CurrentModule)
	assert.Equal(t, []string{"intake", "mood"}, state.ModuleHistory)
	assert.Contains(t, state.Results, "mood")

	transitions, err := m.Transitions(ctx, started.SessionID, "subject-1")
	require.NoError(t, err)
	last := transitions[len(transitions)-1]
	assert.Equal(t, store.TransitionRevisit, last.Reason)
	assert.Equal(t, "mood", last.FromModule)
	assert.Equal(t, "intake", last.ToModule)

	t.Run("replay repeats the refusal", func(t *testing.T) {
		_, err := m.ProcessTurn(ctx, &TurnRequest{SessionID: started.SessionID, SubjectID: "subject-1", Text: "yes", RequestID: "req-9"})
		ae := requireCode(t, err, apperrors.ErrCodePrerequisiteUnmet)
		assert.Equal(t, "synthesis", ae.Context["module"])
		assert.Equal(t, "intake", ae.Context["current_module"])
	})

	// Mood already has a result, so the reopened intake leads straight to synthesis.
	resp = turn(t, m, started.SessionID, "trouble sleeping")
	assert.Equal(t, "synthesis", resp.CurrentModule)
	resp = turn(t, m, started.SessionID, "yes, that's right")
	assert.True(t, resp.IsComplete)
	assert.Equal(t, PhaseComplete, resp.Phase)

	final, err := m.State(ctx, started.SessionID, "subject-1")
	require.NoError(t, err)
	assert.Equal(t, "COMPLETED", final.Status)
	assert.Equal(t, []string{"intake", "mood", "intake", "synthesis"}, final.ModuleHistory)
}

func TestProcessTurn_LLMTimeoutFallsBackToRules(t *testing.T) {
	ctx := context.Background()
	ts := storetest.NewTestingStore(ctx, t)
	cfg := extract.DefaultConfig()
	cfg.Timeout = 20 * time.Millisecond
	proc := extract.NewService(&slowLLM{reply: `{"flag": true, "confidence": 0.9}`, delay: time.Second}, nil, nil, cfg)
	m := newModerator(t, ts, miniWorkflow, proc)

	started, err := m.Start(ctx, &StartRequest{SubjectID: "subject-1"})
	require.NoError(t, err)
	turn(t, m, started.SessionID, "stress at work")

	resp := turn(t, m, started.SessionID, "yes")
	assert.Equal(t, string(extract.SourceRules), resp.Source)
	assert.Equal(t, "synthesis", resp.CurrentModule)

	health := m.Health(ctx)
	assert.True(t, health.LLMEnabled)
	assert.Equal(t, "closed", health.LLMBreaker)
	assert.Equal(t, "ok", health.Status)
}

func TestProcessTurn_AccessDenied(t *testing.T) {
	ctx := context.Background()
	ts := storetest.NewTestingStore(ctx, t)
	hs := &hookStore{Store: ts}
	m := newModerator(t, hs, miniWorkflow, nil)
	started, err := m.Start(ctx, &StartRequest{SubjectID: "subject-1"})
	require.NoError(t, err)

	_, err = m.ProcessTurn(ctx, &TurnRequest{SessionID: started.SessionID, SubjectID: "intruder", Text: "hi"})
	ae := requireCode(t, err, apperrors.ErrCodeAccessDenied)
	assert.Equal(t, 403, apperrors.HTTPStatus(ae.Code))

	_, err = m.State(ctx, started.SessionID, "intruder")
	requireCode(t, err, apperrors.ErrCodeAccessDenied)

	turn(t, m, started.SessionID, "trouble sleeping")
	anonymous, err := m.State(ctx, started.SessionID, "")
	require.NoError(t, err)
	assert.Equal(t, "mood", anonymous.CurrentModule)
	assert.Empty(t, anonymous.Results)
	owned, err := m.State(ctx, started.SessionID, "subject-1")
	require.NoError(t, err)
	assert.Contains(t, owned.Results, "intake")

	hs.onGet = func(s *store.Session) *store.Session {
		s.SubjectID = ""
		return s
	}
	_, err = m.ProcessTurn(ctx, &TurnRequest{SessionID: started.SessionID, SubjectID: "", Text: "hi"})
	requireCode(t, err, apperrors.ErrCodeAccessDenied)
	_, err = m.State(ctx, started.SessionID, "")
	requireCode(t, err, apperrors.ErrCodeAccessDenied)
}

func TestProcessTurn_NotFoundAndValidation(t *testing.T) {
	ctx := context.Background()
	m := newModerator(t, storetest.NewTestingStore(ctx, t), miniWorkflow, nil)

	_, err := m.ProcessTurn(ctx, &TurnRequest{SessionID: "nope", SubjectID: "subject-1", Text: "hi"})
	requireCode(t, err, apperrors.ErrCodeNotFound)

	_, err = m.ProcessTurn(ctx, &TurnRequest{SubjectID: "subject-1", Text: "hi"})
	requireCode(t, err, apperrors.ErrCodeValidation)

	long := make([]byte, MaxTextLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = m.ProcessTurn(ctx, &TurnRequest{SessionID: "x", SubjectID: "subject-1", Text: string(long)})
	requireCode(t, err, apperrors.ErrCodeValidation)
}

func TestProcessTurn_ConcurrentModification(t *testing.T) {
	ctx := context.Background()
	ts := storetest.NewTestingStore(ctx, t)
	hs := &hookStore{Store: ts}
	m := newModerator(t, hs, miniWorkflow, nil)
	started, err := m.Start(ctx, &StartRequest{SubjectID: "subject-1"})
	require.NoError(t, err)

	// A second turn commits between this turn's read and write.
	hs.beforeUpdate = func() {
		turn(t, m, started.SessionID, "first writer wins")
	}
	_, err = m.ProcessTurn(ctx, &TurnRequest{SessionID: started.SessionID, SubjectID: "subject-1", Text: "second writer"})
	ae := requireCode(t, err, apperrors.ErrCodeConcurrentModification)
	assert.True(t, ae.Retryable())

	state, err := m.State(ctx, started.SessionID, "subject-1")
	require.NoError(t, err)
	assert.Equal(t, started.Version+1, state.Version)
	assert.Equal(t, int32(1), state.TurnCount)

	turns, err := m.Transcript(ctx, started.SessionID, "subject-1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "first writer wins", turns[0].Inbound)
}

func TestProcessTurn_PersistenceFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	var faults *storetest.FaultDriver
	ts := storetest.NewTestingStoreWithDriver(ctx, t, func(d store.Driver) store.Driver {
		faults = storetest.NewFaultDriver(d)
		return faults
	})
	m := newModerator(t, ts, miniWorkflow, nil)
	started, err := m.Start(ctx, &StartRequest{SubjectID: "subject-1"})
	require.NoError(t, err)

	faults.FailUpdates(errors.New("disk full"))
	_, err = m.ProcessTurn(ctx, &TurnRequest{SessionID: started.SessionID, SubjectID: "subject-1", Text: "tired all the time"})
	ae := requireCode(t, err, apperrors.ErrCodePersistence)
	assert.Equal(t, 503, apperrors.HTTPStatus(ae.Code))

	state, err := m.State(ctx, started.SessionID, "subject-1")
	require.NoError(t, err)
	assert.Equal(t, "intake", state.CurrentModule)
	assert.Equal(t, started.Version, state.Version)
	assert.Empty(t, state.ModuleHistory)
	assert.NotContains(t, state.Results, "intake")

	transitions, err := m.Transitions(ctx, started.SessionID, "subject-1")
	require.NoError(t, err)
	assert.Len(t, transitions, 1)

	// The same message succeeds once the store recovers.
	resp := turn(t, m, started.SessionID, "tired all the time")
	assert.Equal(t, "mood", resp.CurrentModule)
}

func TestProcessTurn_ReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ts := storetest.NewTestingStore(ctx, t)
	m := newModerator(t, ts, miniWorkflow, nil)
	started, err := m.Start(ctx, &StartRequest{SubjectID: "subject-1"})
	require.NoError(t, err)

	req := &TurnRequest{SessionID: started.SessionID, SubjectID: "subject-1", Text: "panic at night", RequestID: "req-1"}
	first, err := m.ProcessTurn(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := m.ProcessTurn(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Prompt, second.Prompt)
	assert.Equal(t, first.CurrentModule, second.CurrentModule)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, first.Sequence, second.Sequence)

	turns, err := m.Transcript(ctx, started.SessionID, "subject-1")
	require.NoError(t, err)
	assert.Len(t, turns, 1)
	assert.Equal(t, "req-1", turns[0].RequestID)
}

func TestAbandon(t *testing.T) {
	ctx := context.Background()
	ts := storetest.NewTestingStore(ctx, t)
	m := newModerator(t, ts, miniWorkflow, nil)
	started, err := m.Start(ctx, &StartRequest{SubjectID: "subject-1"})
	require.NoError(t, err)

	state, err := m.Abandon(ctx, started.SessionID, "duplicate intake")
	require.NoError(t, err)
	assert.Equal(t, "ABANDONED", state.Status)
	assert.Equal(t, PhaseAbandoned, state.Phase)
	assert.Equal(t, "duplicate intake", state.Metadata["abandon_reason"])

	_, err = m.Abandon(ctx, started.SessionID, "")
	requireCode(t, err, apperrors.ErrCodeSessionClosed)
	_, err = m.ProcessTurn(ctx, &TurnRequest{SessionID: started.SessionID, SubjectID: "subject-1", Text: "hi"})
	requireCode(t, err, apperrors.ErrCodeSessionClosed)

	transitions, err := m.Transitions(ctx, started.SessionID, "subject-1")
	require.NoError(t, err)
	require.Len(t, transitions, 2)
	assert.Equal(t, store.TransitionAbandon, transitions[1].Reason)
}

func TestListSessions(t *testing.T) {
	ctx := context.Background()
	ts := storetest.NewTestingStore(ctx, t)
	m := newModerator(t, ts, miniWorkflow, nil)
	for i := 0; i < 2; i++ {
		_, err := m.Start(ctx, &StartRequest{SubjectID: "subject-1"})
		require.NoError(t, err)
	}
	_, err := m.Start(ctx, &StartRequest{SubjectID: "subject-2"})
	require.NoError(t, err)

	list, err := m.ListSessions(ctx, "subject-1")
	require.NoError(t, err)
	assert.Len(t, list, 2)
	for _, s := range list {
		assert.Equal(t, "subject-1", s.SubjectID)
		assert.Nil(t, s.Results)
	}

	_, err = m.ListSessions(ctx, " ")
	requireCode(t, err, apperrors.ErrCodeValidation)
}

func TestStandardWorkflow_EndToEnd(t *testing.T) {
	ctx := context.Background()
	ts := storetest.NewTestingStore(ctx, t)
	m := newModerator(t, ts, "", nil)

	started, err := m.Start(ctx, &StartRequest{SubjectID: "subject-1"})
	require.NoError(t, err)
	assert.Equal(t, "demographics", started.CurrentModule)

	script := []struct {
		text   string
		module string
	}{
		{"34", "demographics"},
		{"female", "demographics"},
		{"skip", "demographics"},
		{"skip", "demographics"},
		{"skip", "presenting_concern"},
		{"I feel low and cannot sleep", "presenting_concern"},
		{"about six months ago", "presenting_concern"},
		{"skip", "presenting_concern"},
		{"skip", "presenting_concern"},
		{"8", "mood_anxiety_screening"},
		{"yes", "mood_anxiety_screening"},
		{"yes", "mood_anxiety_screening"},
		{"no", "mood_anxiety_screening"},
		{"no", "mood_anxiety_screening"},
		{"no", "symptom_impact"},
		{"I wake up at 4am and have lost my appetite", "symptom_impact"},
		{"skip", "treatment_goals"},
		{"I want to sleep through the night", "treatment_goals"},
		{"talking to someone helped before", "synthesis_da"},
		{"yes", "synthesis_tpa"},
	}
	for _, step := range script {
		resp := turn(t, m, started.SessionID, step.text)
		require.Equal(t, step.module, resp.CurrentModule, "after %q", step.text)
	}

	progress, err := m.Progress(ctx, started.SessionID, "subject-1")
	require.NoError(t, err)
	assert.Equal(t, 6, progress.CompletedCount)
	assert.Equal(t, ModuleInProgress, progress.Modules[6].Status)

	resp := turn(t, m, started.SessionID, "evening sessions online please")
	require.True(t, resp.IsComplete)
	require.Contains(t, resp.Summary, "synthesis_da")
	require.Contains(t, resp.Summary, "synthesis_tpa")
	assert.Equal(t, "mood", resp.Summary["synthesis_da"]["primary_concern"])
	assert.Equal(t, "severe", resp.Summary["synthesis_da"]["severity"])

	state, err := m.State(ctx, started.SessionID, "subject-1")
	require.NoError(t, err)
	assert.True(t, state.IsComplete)
	assert.Equal(t, "synthesis_tpa", state.CurrentModule)
	assert.Len(t, state.ModuleHistory, 7)
	assert.Equal(t, int32(len(script)+1), state.TurnCount)

	progress, err = m.Progress(ctx, started.SessionID, "subject-1")
	require.NoError(t, err)
	assert.Equal(t, 100.0, progress.Percentage)
	assert.Equal(t, PhaseComplete, progress.Phase)

	stats := m.Metrics(ctx)
	assert.Equal(t, int64(len(script)+1), stats.TurnCount)
	assert.Equal(t, int64(1), stats.Outcomes[metrics.OutcomeCompleted])
}
