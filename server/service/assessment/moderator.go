// Package assessment provides the moderator that drives a session through its
// workflow of modules.
//
// Every turn works on a clone of the committed session. The clone is written
// back with a versioned compare-and-swap that carries the module result, the
// turn log entry and any module transition in one transaction, so forward
// progress is never ahead of what was persisted. A failed turn discards the
// clone and the next attempt reloads from the store.
package assessment

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/assessment/plugin/ai/extract"
	"github.com/hrygo/assessment/plugin/ai/metrics"
	"github.com/hrygo/assessment/plugin/ai/timeout"
	"github.com/hrygo/assessment/plugin/assessment/module"
	"github.com/hrygo/assessment/plugin/assessment/workflow"
	apperrors "github.com/hrygo/assessment/server/internal/errors"
	"github.com/hrygo/assessment/server/internal/observability"
	"github.com/hrygo/assessment/store"
)

const (
	// MaxTextLength bounds a single inbound message.
	MaxTextLength = 4000
	// MaxSessionIDLength bounds client-supplied session ids.
	MaxSessionIDLength = 128

	completionPrompt = "Thank you. Your assessment is complete and has been saved for review by a clinician."
	sourceResumed    = "resumed"
)

// Config tunes the moderator.
type Config struct {
	// TurnTimeout is the overall deadline of one ProcessTurn call.
	TurnTimeout time.Duration
	Logger      *slog.Logger
}

// DefaultConfig returns the default moderator configuration.
func DefaultConfig() Config {
	return Config{TurnTimeout: timeout.TurnTimeout}
}

// llmStatus is implemented by processors that front a remote LLM.
type llmStatus interface {
	LLMEnabled() bool
	BreakerState() extract.BreakerState
}

// Moderator implements Service.
type Moderator struct {
	store     Store
	pipeline  *workflow.Pipeline
	processor extract.Processor
	metrics   metrics.MetricsService

	turnTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

var _ Service = (*Moderator)(nil)

// NewModerator wires a moderator. The pipeline must already be built, so a
// module that fails to initialize stops startup before any session is served.
func NewModerator(st Store, pipeline *workflow.Pipeline, processor extract.Processor, m metrics.MetricsService, cfg Config) (*Moderator, error) {
	if st == nil {
		return nil, errors.New("assessment: store is required")
	}
	if pipeline == nil || len(pipeline.Sequence) == 0 || pipeline.Validator == nil {
		return nil, errors.New("assessment: a built workflow pipeline is required")
	}
	for _, id := range pipeline.Sequence {
		if _, ok := pipeline.Module(id); !ok {
			return nil, errors.New("assessment: module " + id + " is not resolved")
		}
	}
	if processor == nil {
		return nil, errors.New("assessment: response processor is required")
	}
	if cfg.TurnTimeout <= 0 {
		cfg.TurnTimeout = timeout.TurnTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Moderator{
		store:       st,
		pipeline:    pipeline,
		processor:   processor,
		metrics:     m,
		turnTimeout: cfg.TurnTimeout,
		logger:      cfg.Logger,
		now:         time.Now,
	}, nil
}

// Start implements Service.
func (m *Moderator) Start(ctx context.Context, req *StartRequest) (_ *StartResponse, err error) {
	rc := m.requestContext(ctx, "start")
	defer func() { rc.Done(err) }()

	if req == nil || strings.TrimSpace(req.SubjectID) == "" {
		return nil, apperrors.Validation("subject_id is required")
	}
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, apperrors.Internal("failed to generate session id", err)
		}
		sessionID = id.String()
	} else if len(sessionID) > MaxSessionIDLength {
		return nil, apperrors.Validation("session_id is too long")
	}
	rc.WithSession(sessionID, req.SubjectID)

	first := m.pipeline.First()
	session := &store.Session{
		ID:            sessionID,
		SubjectID:     strings.TrimSpace(req.SubjectID),
		WorkflowID:    m.pipeline.Def.ID,
		Status:        store.SessionStatusActive,
		CurrentModule: first,
		ModuleHistory: []string{},
		ModuleResults: map[string]*store.ModuleResult{},
		ModuleStates:  map[string]map[string]any{},
		Metadata:      store.CloneMap(req.Metadata),
		CreatedTs:     m.now().Unix(),
	}
	if missing := m.pipeline.Validator.Missing(first, session); len(missing) > 0 {
		return nil, apperrors.PrerequisiteUnmet(first, missing)
	}

	mod, _ := m.pipeline.Module(first)
	prompt, err := mod.Start(ctx, m.stateFor(session, first))
	if err != nil {
		return nil, apperrors.Internal("failed to start module "+first, err)
	}
	session.LastReply = &store.TurnReply{Prompt: prompt, CurrentModule: first}

	created, err := m.store.CreateSession(ctx, session)
	if err != nil {
		return nil, apperrors.FromStoreError(err, "failed to create session")
	}
	rc.WithModule(first)
	return &StartResponse{
		SessionID:     created.ID,
		Prompt:        prompt,
		CurrentModule: first,
		Phase:         m.phaseOf(created),
		Version:       created.Version,
	}, nil
}

// ProcessTurn implements Service.
func (m *Moderator) ProcessTurn(ctx context.Context, req *TurnRequest) (_ *TurnResponse, err error) {
	if req == nil || strings.TrimSpace(req.SessionID) == "" {
		return nil, apperrors.Validation("session_id is required")
	}
	if len(req.Text) > MaxTextLength {
		return nil, apperrors.Validation("text is too long")
	}

	rc := m.requestContext(ctx, "process_turn").WithSession(req.SessionID, req.SubjectID)
	var (
		moduleID = ""
		outcome  = metrics.OutcomeRejected
	)
	defer func() {
		rc.Done(err, slog.String("outcome", outcome))
		if m.metrics != nil {
			m.metrics.RecordTurn(ctx, moduleID, rc.Duration(), outcome)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, m.turnTimeout)
	defer cancel()

	session, err := m.store.GetSession(ctx, req.SessionID)
	if err != nil {
		outcome = outcomeOf(err)
		return nil, m.storeError(ctx, err, "failed to load session")
	}
	if err := checkOwner(session, req.SubjectID); err != nil {
		return nil, err
	}
	moduleID = session.CurrentModule
	rc.WithModule(moduleID)

	if reply := session.LastReply; req.RequestID != "" && reply != nil && reply.RequestID == req.RequestID {
		outcome = metrics.OutcomeReplayed
		if len(reply.Missing) > 0 {
			blocked := reply.BlockedModule
			if blocked == "" {
				blocked = m.pipeline.Next(reply.CurrentModule)
			}
			return nil, apperrors.PrerequisiteUnmet(blocked, reply.Missing).
				WithContext("prompt", reply.Prompt).
				WithContext("current_module", reply.CurrentModule)
		}
		return m.replay(session), nil
	}
	if session.IsClosed() {
		return nil, apperrors.SessionClosed(session.Status.String())
	}

	mod, ok := m.pipeline.Module(moduleID)
	if !ok {
		outcome = metrics.OutcomeInternalFailure
		return nil, apperrors.Internal("active module "+moduleID+" is not part of workflow "+m.pipeline.Def.ID, nil)
	}

	working := session.Clone()
	st := m.stateFor(working, moduleID)

	var (
		out    module.Outcome
		source string
	)
	switch {
	case mod.IsComplete(st) && working.ModuleResults[moduleID] != nil:
		// Completed and persisted earlier but never left; transition without advancing again.
		out = module.Outcome{Complete: true, Result: working.ModuleResults[moduleID].Payload}
		source = sourceResumed
	case mod.IsComplete(st):
		prompt, err := mod.Start(ctx, st)
		if err != nil {
			outcome = metrics.OutcomeInternalFailure
			return nil, apperrors.Internal("failed to restart module "+moduleID, err)
		}
		out = module.Outcome{Prompt: prompt}
		source = sourceResumed
	default:
		interpretation := m.processor.Interpret(ctx, mod.Expect(st), req.Text)
		source = string(interpretation.Source)
		if ctxErr := ctx.Err(); ctxErr != nil {
			outcome = metrics.OutcomeInternalFailure
			return nil, apperrors.Timeout("turn deadline exceeded while interpreting", ctxErr)
		}
		out, err = mod.Advance(ctx, st, interpretation)
		if err != nil {
			outcome = metrics.OutcomeInternalFailure
			return nil, apperrors.Internal("module "+moduleID+" failed to advance", err)
		}
	}

	now := m.now().Unix()
	sequence := working.TurnCount + 1
	turn := &store.ConversationTurn{
		SessionID: working.ID,
		Sequence:  sequence,
		UID:       shortuuid.New(),
		RequestID: req.RequestID,
		Module:    moduleID,
		Inbound:   req.Text,
		Source:    source,
		CreatedTs: now,
	}

	var (
		transition *store.ModuleTransition
		prompt     = out.Prompt
		missing    []string
		blocked    string
	)
	outcome = metrics.OutcomeAdvanced
	if out.Complete {
		working.ModuleResults[moduleID] = &store.ModuleResult{
			Module:      moduleID,
			Payload:     nonNil(out.Result),
			CompletedTs: now,
		}
		if n := len(working.ModuleHistory); n == 0 || working.ModuleHistory[n-1] != moduleID {
			working.ModuleHistory = append(working.ModuleHistory, moduleID)
		}

		next := m.nextPending(working, moduleID)
		switch {
		case next == "":
			working.Status = store.SessionStatusCompleted
			working.CompletedTs = now
			transition = &store.ModuleTransition{FromModule: moduleID, Reason: store.TransitionComplete, CreatedTs: now}
			prompt = completionPrompt
			outcome = metrics.OutcomeCompleted
		case !m.pipeline.Validator.CanEnter(next, working):
			// The result and history are kept. An earlier module that left
			// nothing usable is reopened; otherwise this module starts over.
			missing = m.pipeline.Validator.Missing(next, working)
			blocked = next
			if target := m.revisitTarget(moduleID, missing); target != "" {
				targetMod, _ := m.pipeline.Module(target)
				opening, err := targetMod.Start(ctx, m.stateFor(working, target))
				if err != nil {
					outcome = metrics.OutcomeInternalFailure
					return nil, apperrors.Internal("failed to reopen module "+target, err)
				}
				working.CurrentModule = target
				transition = &store.ModuleTransition{FromModule: moduleID, ToModule: target, Reason: store.TransitionRevisit, CreatedTs: now}
				prompt = opening
			} else {
				restart, err := mod.Start(ctx, st)
				if err != nil {
					outcome = metrics.OutcomeInternalFailure
					return nil, apperrors.Internal("failed to restart module "+moduleID, err)
				}
				prompt = restart
			}
			outcome = metrics.OutcomePrerequisite
		default:
			nextMod, _ := m.pipeline.Module(next)
			opening, err := nextMod.Start(ctx, m.stateFor(working, next))
			if err != nil {
				outcome = metrics.OutcomeInternalFailure
				return nil, apperrors.Internal("failed to start module "+next, err)
			}
			working.CurrentModule = next
			transition = &store.ModuleTransition{FromModule: moduleID, ToModule: next, Reason: store.TransitionAdvance, CreatedTs: now}
			prompt = opening
			outcome = metrics.OutcomeTransitioned
		}
	}

	turn.Outbound = prompt
	working.TurnCount = sequence
	working.LastReply = &store.TurnReply{
		RequestID:     req.RequestID,
		Sequence:      sequence,
		Prompt:        prompt,
		CurrentModule: working.CurrentModule,
		IsComplete:    working.IsComplete(),
		Missing:       missing,
		BlockedModule: blocked,
	}

	updated, err := m.store.UpdateSession(ctx, &store.UpdateSession{
		Session:         working,
		ExpectedVersion: session.Version,
		Turn:            turn,
		Transition:      transition,
	})
	if err != nil {
		outcome = outcomeOf(err)
		return nil, m.storeError(ctx, err, "failed to persist turn")
	}

	if transition != nil {
		rc.Info("module transition",
			slog.String("from", transition.FromModule),
			slog.String("to", transition.ToModule),
			slog.String("reason", string(transition.Reason)),
			slog.Int64(observability.LogFieldVersion, updated.Version),
		)
	}
	if len(missing) > 0 {
		rc.Warn("prerequisites unmet",
			slog.String("blocked_module", blocked),
			slog.String("current_module", updated.CurrentModule),
			slog.Any("missing", missing),
		)
		return nil, apperrors.PrerequisiteUnmet(blocked, missing).
			WithContext("prompt", prompt).
			WithContext("current_module", updated.CurrentModule)
	}

	resp := &TurnResponse{
		SessionID:     updated.ID,
		Prompt:        prompt,
		CurrentModule: updated.CurrentModule,
		IsComplete:    updated.IsComplete(),
		Phase:         m.phaseOf(updated),
		Version:       updated.Version,
		Sequence:      sequence,
		Source:        source,
	}
	if resp.IsComplete {
		resp.Summary = m.summary(updated)
	}
	return resp, nil
}

// State implements Service.
func (m *Moderator) State(ctx context.Context, sessionID, subjectID string) (*SessionState, error) {
	session, err := m.load(ctx, sessionID, subjectID, true)
	if err != nil {
		return nil, err
	}
	// Module results are only shown to the owner.
	return m.snapshot(session, subjectID != ""), nil
}

// Transcript implements Service.
func (m *Moderator) Transcript(ctx context.Context, sessionID, subjectID string) ([]*store.ConversationTurn, error) {
	if _, err := m.load(ctx, sessionID, subjectID, false); err != nil {
		return nil, err
	}
	turns, err := m.store.ListConversationTurns(ctx, &store.FindConversationTurn{SessionID: sessionID})
	if err != nil {
		return nil, m.storeError(ctx, err, "failed to list turns")
	}
	return turns, nil
}

// Transitions implements Service.
func (m *Moderator) Transitions(ctx context.Context, sessionID, subjectID string) ([]*store.ModuleTransition, error) {
	if _, err := m.load(ctx, sessionID, subjectID, false); err != nil {
		return nil, err
	}
	transitions, err := m.store.ListModuleTransitions(ctx, &store.FindModuleTransition{SessionID: sessionID})
	if err != nil {
		return nil, m.storeError(ctx, err, "failed to list transitions")
	}
	return transitions, nil
}

// ListSessions implements Service.
func (m *Moderator) ListSessions(ctx context.Context, subjectID string) ([]*SessionState, error) {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" {
		return nil, apperrors.Validation("subject_id is required")
	}
	list, err := m.store.ListSessions(ctx, &store.FindSession{SubjectID: &subjectID})
	if err != nil {
		return nil, m.storeError(ctx, err, "failed to list sessions")
	}
	states := make([]*SessionState, 0, len(list))
	for _, session := range list {
		states = append(states, m.snapshot(session, false))
	}
	return states, nil
}

// Abandon implements Service.
func (m *Moderator) Abandon(ctx context.Context, sessionID, reason string) (_ *SessionState, err error) {
	rc := m.requestContext(ctx, "abandon").WithSession(sessionID, "")
	defer func() { rc.Done(err) }()

	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, m.storeError(ctx, err, "failed to load session")
	}
	if session.IsClosed() {
		return nil, apperrors.SessionClosed(session.Status.String())
	}

	working := session.Clone()
	now := m.now().Unix()
	working.Status = store.SessionStatusAbandoned
	working.CompletedTs = now
	if working.Metadata == nil {
		working.Metadata = map[string]any{}
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		working.Metadata["abandon_reason"] = reason
	}
	updated, err := m.store.UpdateSession(ctx, &store.UpdateSession{
		Session:         working,
		ExpectedVersion: session.Version,
		Transition: &store.ModuleTransition{
			FromModule: session.CurrentModule,
			Reason:     store.TransitionAbandon,
			CreatedTs:  now,
		},
	})
	if err != nil {
		return nil, m.storeError(ctx, err, "failed to abandon session")
	}
	return m.snapshot(updated, true), nil
}

// Health implements Service.
func (m *Moderator) Health(ctx context.Context) *Health {
	h := &Health{
		Status:     "ok",
		Store:      "ok",
		WorkflowID: m.pipeline.Def.ID,
		Modules:    len(m.pipeline.Sequence),
	}
	if err := m.store.Ping(ctx); err != nil {
		h.Status = "unavailable"
		h.Store = err.Error()
	}
	if status, ok := m.processor.(llmStatus); ok {
		h.LLMEnabled = status.LLMEnabled()
		if h.LLMEnabled {
			h.LLMBreaker = string(status.BreakerState())
			if status.BreakerState() != extract.BreakerClosed && h.Status == "ok" {
				h.Status = "degraded"
			}
		}
	}
	return h
}

// Metrics implements Service.
func (m *Moderator) Metrics(ctx context.Context) *metrics.Stats {
	if m.metrics == nil {
		return &metrics.Stats{}
	}
	return m.metrics.GetStats(ctx)
}

func (m *Moderator) requestContext(ctx context.Context, operation string) *observability.RequestContext {
	rc := observability.NewRequestContext(m.logger, operation, observability.RequestIDFromContext(ctx))
	rc.StartTime = m.now()
	return rc
}

// load reads a session and enforces ownership. With optional set, an empty
// subjectID skips the ownership comparison but an owner-less session is still refused.
func (m *Moderator) load(ctx context.Context, sessionID, subjectID string, optional bool) (*store.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, apperrors.Validation("session_id is required")
	}
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, m.storeError(ctx, err, "failed to load session")
	}
	if optional && subjectID == "" {
		if strings.TrimSpace(session.SubjectID) == "" {
			return nil, apperrors.AccessDenied("session has no owner")
		}
		return session, nil
	}
	if err := checkOwner(session, subjectID); err != nil {
		return nil, err
	}
	return session, nil
}

// checkOwner never grants access to a session without an owner.
func checkOwner(session *store.Session, subjectID string) error {
	if strings.TrimSpace(session.SubjectID) == "" {
		return apperrors.AccessDenied("session has no owner")
	}
	if session.SubjectID != subjectID {
		return apperrors.AccessDenied("subject does not own this session")
	}
	return nil
}

func (m *Moderator) storeError(ctx context.Context, err error, msg string) error {
	if ctx.Err() != nil && !errors.Is(err, store.ErrConcurrentModification) {
		return apperrors.Timeout(msg, err)
	}
	return apperrors.FromStoreError(err, msg)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, store.ErrConcurrentModification):
		return metrics.OutcomeConflict
	case errors.Is(err, store.ErrPersistence):
		return metrics.OutcomePersistence
	case errors.Is(err, store.ErrNotFound), errors.Is(err, store.ErrValidation):
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeInternalFailure
	}
}

func (m *Moderator) replay(session *store.Session) *TurnResponse {
	reply := session.LastReply
	resp := &TurnResponse{
		SessionID:     session.ID,
		Prompt:        reply.Prompt,
		CurrentModule: reply.CurrentModule,
		IsComplete:    reply.IsComplete,
		Phase:         m.phaseOf(session),
		Version:       session.Version,
		Sequence:      reply.Sequence,
		Replayed:      true,
	}
	if resp.IsComplete {
		resp.Summary = m.summary(session)
	}
	return resp
}

// nextPending returns the first module after moduleID that has not already
// exited with a result, or "" when none is left.
func (m *Moderator) nextPending(session *store.Session, moduleID string) string {
	next := m.pipeline.Next(moduleID)
	for next != "" && session.InHistory(next) && session.HasResult(next) {
		next = m.pipeline.Next(next)
	}
	return next
}

// revisitTarget returns the earliest missing module ordered before moduleID.
func (m *Moderator) revisitTarget(moduleID string, missing []string) string {
	for _, id := range m.pipeline.Sequence {
		if id == moduleID {
			return ""
		}
		if slices.Contains(missing, id) {
			return id
		}
	}
	return ""
}

func (m *Moderator) stateFor(session *store.Session, moduleID string) *module.State {
	return &module.State{
		SessionID: session.ID,
		SubjectID: session.SubjectID,
		Data:      session.ModuleState(moduleID),
		Results:   resultsOf(session),
	}
}

func resultsOf(session *store.Session) map[string]map[string]any {
	results := make(map[string]map[string]any, len(session.ModuleResults))
	for id, r := range session.ModuleResults {
		if r == nil {
			continue
		}
		results[id] = r.Payload
	}
	return results
}

func (m *Moderator) phaseOf(session *store.Session) Phase {
	switch {
	case session == nil:
		return PhaseNotStarted
	case session.Status == store.SessionStatusCompleted:
		return PhaseComplete
	case session.Status == store.SessionStatusAbandoned:
		return PhaseAbandoned
	case session.CurrentModule == "":
		return PhaseNotStarted
	}
	if mod, ok := m.pipeline.Module(session.CurrentModule); ok && mod.Info().Kind == module.KindSynthesis {
		return PhaseSynthesis
	}
	return PhaseActive
}

// summary collects the results of synthesis modules.
func (m *Moderator) summary(session *store.Session) map[string]map[string]any {
	out := map[string]map[string]any{}
	for _, id := range m.pipeline.Sequence {
		mod, _ := m.pipeline.Module(id)
		if mod.Info().Kind != module.KindSynthesis || !session.HasResult(id) {
			continue
		}
		out[id] = store.CloneMap(session.ModuleResults[id].Payload)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func (m *Moderator) snapshot(session *store.Session, withResults bool) *SessionState {
	state := &SessionState{
		SessionID:     session.ID,
		SubjectID:     session.SubjectID,
		WorkflowID:    session.WorkflowID,
		Status:        session.Status.String(),
		Phase:         m.phaseOf(session),
		CurrentModule: session.CurrentModule,
		ModuleHistory: append([]string{}, session.ModuleHistory...),
		IsComplete:    session.IsComplete(),
		Version:       session.Version,
		TurnCount:     session.TurnCount,
		Metadata:      store.CloneMap(session.Metadata),
		CreatedTs:     session.CreatedTs,
		UpdatedTs:     session.UpdatedTs,
		CompletedTs:   session.CompletedTs,
	}
	if withResults && len(session.ModuleResults) > 0 {
		state.Results = make(map[string]map[string]any, len(session.ModuleResults))
		for id, r := range session.ModuleResults {
			if r != nil {
				state.Results[id] = store.CloneMap(r.Payload)
			}
		}
	}
	return state
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
