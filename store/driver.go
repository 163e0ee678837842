package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// IsTransient reports driver errors worth retrying (timeouts, resets, lock contention).
	IsTransient(err error) bool

	// SystemSetting model related methods.
	GetSystemSetting(ctx context.Context, name string) (string, error)
	UpsertSystemSetting(ctx context.Context, name, value, description string) error

	// Session model related methods.
	// CreateSession returns ErrAlreadyExists when the id is taken.
	CreateSession(ctx context.Context, create *Session) (*Session, error)
	// GetSession returns nil, nil when the session does not exist.
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context, find *FindSession) ([]*Session, error)
	// UpdateSession performs a versioned compare-and-swap. It returns
	// ErrConcurrentModification on a stale version and ErrNotFound for an unknown id.
	UpdateSession(ctx context.Context, update *UpdateSession) (*Session, error)

	// ConversationTurn model related methods.
	ListConversationTurns(ctx context.Context, find *FindConversationTurn) ([]*ConversationTurn, error)

	// ModuleTransition model related methods.
	ListModuleTransitions(ctx context.Context, find *FindModuleTransition) ([]*ModuleTransition, error)
}
