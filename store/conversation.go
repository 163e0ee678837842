package store

// ConversationTurn is one inbound/outbound exchange. Turns are append-only and
// keyed by (SessionID, Sequence).
type ConversationTurn struct {
	SessionID string
	Sequence  int32
	UID       string
	RequestID string
	Module    string
	Inbound   string
	Outbound  string
	// Source records how the inbound text was interpreted (llm, cache, rules).
	Source    string
	CreatedTs int64
}

type FindConversationTurn struct {
	SessionID string
	// AfterSequence returns only turns with a greater sequence index.
	AfterSequence *int32
	Limit         *int
}

// TransitionReason explains why a session moved between modules.
type TransitionReason string

const (
	TransitionStart    TransitionReason = "START"
	TransitionAdvance  TransitionReason = "ADVANCE"
	TransitionComplete TransitionReason = "COMPLETE"
	TransitionAbandon  TransitionReason = "ABANDON"
	TransitionRevisit  TransitionReason = "REVISIT"
)

// ModuleTransition is an append-only record of the active module changing.
type ModuleTransition struct {
	ID         int64
	SessionID  string
	FromModule string
	ToModule   string
	Reason     TransitionReason
	CreatedTs  int64
}

type FindModuleTransition struct {
	SessionID string
}
