// Package module defines the contract every assessment stage implements and
// the built-in questionnaire and synthesis stages.
package module

import (
	"context"
	"fmt"

	"github.com/hrygo/assessment/plugin/ai/extract"
)

// Kind classifies a module for phase reporting.
type Kind string

const (
	KindQuestionnaire Kind = "questionnaire"
	KindSynthesis     Kind = "synthesis"
)

// Info describes a module's identity.
type Info struct {
	ID          string
	Name        string
	Description string
	Version     string
	Kind        Kind
}

// Validate ensures the info block is well-formed.
func (i Info) Validate() error {
	if i.ID == "" {
		return fmt.Errorf("module: id is required")
	}
	if i.Name == "" {
		return fmt.Errorf("module: name is required for %s", i.ID)
	}
	if i.Version == "" {
		return fmt.Errorf("module: version is required for %s", i.ID)
	}
	switch i.Kind {
	case KindQuestionnaire, KindSynthesis:
	default:
		return fmt.Errorf("module: unknown kind %q for %s", i.Kind, i.ID)
	}
	return nil
}

// State is what a module sees of its session. Modules keep no per-session
// fields of their own; everything they need between turns lives in Data,
// which the caller persists with the session.
type State struct {
	SessionID string
	SubjectID string

	// Data is this module's working state. Modules mutate it in place.
	Data map[string]any

	// Results holds the committed results of every completed module. Read-only.
	Results map[string]map[string]any
}

// Outcome is what a module reports after consuming one interpretation.
type Outcome struct {
	Prompt   string
	Complete bool
	Result   map[string]any
}

// Module is implemented by every assessment stage.
type Module interface {
	Info() Info

	// Start resets the working state and returns the opening prompt.
	Start(ctx context.Context, st *State) (string, error)

	// Expect describes the answer the module is currently waiting for.
	Expect(st *State) extract.Expectation

	// Advance consumes one interpretation.
	Advance(ctx context.Context, st *State, in extract.Interpretation) (Outcome, error)

	// IsComplete is a side-effect-free check usable on a reloaded state.
	IsComplete(st *State) bool
}

// Base provides the identity plumbing shared by the built-in modules.
type Base struct {
	info Info
}

// NewBase seeds the helper with module info.
func NewBase(info Info) Base {
	return Base{info: info}
}

// Info implements Module.Info.
func (b *Base) Info() Info {
	return b.info
}
