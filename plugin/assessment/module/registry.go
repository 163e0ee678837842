package module

import (
	"fmt"
	"sort"
	"sync"
)

// Config represents module-specific configuration (opaque to the runtime).
type Config map[string]any

// Factory constructs a module instance with the provided id and configuration.
type Factory func(id string, cfg Config) (Module, error)

// Registry maintains known module factories, keyed by module type.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}}
}

// Register installs a module factory. Returns an error if the type already exists.
func (r *Registry) Register(moduleType string, factory Factory) error {
	if moduleType == "" {
		return fmt.Errorf("module: type is required")
	}
	if factory == nil {
		return fmt.Errorf("module: factory is required for %s", moduleType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[moduleType]; exists {
		return fmt.Errorf("module: %s already registered", moduleType)
	}
	r.factories[moduleType] = factory
	return nil
}

// MustRegister panics if registration fails.
func (r *Registry) MustRegister(moduleType string, factory Factory) {
	if err := r.Register(moduleType, factory); err != nil {
		panic(err)
	}
}

// Resolve constructs a module instance.
func (r *Registry) Resolve(moduleType, id string, cfg Config) (Module, error) {
	r.mu.RLock()
	factory, ok := r.factories[moduleType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("module: unknown type %s", moduleType)
	}
	m, err := factory(id, cfg)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", id, err)
	}
	if err := m.Info().Validate(); err != nil {
		return nil, err
	}
	if m.Info().ID != id {
		return nil, fmt.Errorf("module: factory %s returned id %s, want %s", moduleType, m.Info().ID, id)
	}
	return m, nil
}

// Types returns a sorted list of registered module types.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Built-in module types.
const (
	TypeQuestionnaire = "questionnaire"
	TypeSynthesisDA   = "synthesis_da"
	TypeSynthesisTPA  = "synthesis_tpa"
)

// RegisterBuiltins installs all of the built-in module factories into the
// provided registry.
func RegisterBuiltins(reg *Registry) {
	if reg == nil {
		return
	}
	reg.MustRegister(TypeQuestionnaire, NewQuestionnaire)
	reg.MustRegister(TypeSynthesisDA, NewDiagnosticSynthesis)
	reg.MustRegister(TypeSynthesisTPA, NewTreatmentPlan)
}
