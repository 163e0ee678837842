// Package workflow declares the ordered module sequence of an assessment and
// the prerequisite rules that gate it.
package workflow

import (
	"fmt"

	"github.com/hrygo/assessment/plugin/assessment/module"
	"github.com/hrygo/assessment/plugin/assessment/prereq"
)

// Definition is an assessment workflow: modules in the order a session visits them.
type Definition struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string      `json:"version,omitempty" yaml:"version,omitempty"`
	Modules     []ModuleRef `json:"modules" yaml:"modules"`
}

// ModuleRef places one module instance in the sequence.
type ModuleRef struct {
	ID   string `json:"id" yaml:"id"`
	Type string `json:"type" yaml:"type"`
	// Requires lists upstream modules that must have exited with a non-empty result.
	Requires []string `json:"requires,omitempty" yaml:"requires,omitempty"`
	// Condition is an optional CEL expression that must also hold.
	Condition string        `json:"condition,omitempty" yaml:"condition,omitempty"`
	Config    module.Config `json:"config,omitempty" yaml:"config,omitempty"`
}

// Validate ensures the definition is self-consistent. Requirements may only
// point backwards, so every module stays reachable in sequence order.
func (def Definition) Validate() error {
	if def.ID == "" {
		return fmt.Errorf("workflow: id is required")
	}
	if len(def.Modules) == 0 {
		return fmt.Errorf("workflow %s: at least one module is required", def.ID)
	}
	seen := map[string]struct{}{}
	for idx, ref := range def.Modules {
		if ref.ID == "" {
			return fmt.Errorf("workflow %s module[%d]: id is required", def.ID, idx)
		}
		if ref.Type == "" {
			return fmt.Errorf("workflow %s module %s: type is required", def.ID, ref.ID)
		}
		if _, exists := seen[ref.ID]; exists {
			return fmt.Errorf("workflow %s: duplicate module id %s", def.ID, ref.ID)
		}
		for _, dep := range ref.Requires {
			if dep == ref.ID {
				return fmt.Errorf("workflow %s module %s: requires itself", def.ID, ref.ID)
			}
			if _, ok := seen[dep]; !ok {
				return fmt.Errorf("workflow %s module %s: requirement %s is not an earlier module", def.ID, ref.ID, dep)
			}
		}
		seen[ref.ID] = struct{}{}
	}
	return nil
}

// ModuleIDs returns module ids in sequence order.
func (def Definition) ModuleIDs() []string {
	ids := make([]string, 0, len(def.Modules))
	for _, ref := range def.Modules {
		ids = append(ids, ref.ID)
	}
	return ids
}

// Index returns the position of a module in the sequence, or -1.
func (def Definition) Index(id string) int {
	for i, ref := range def.Modules {
		if ref.ID == id {
			return i
		}
	}
	return -1
}

// Next returns the module after id, or "" when id is the last one or unknown.
func (def Definition) Next(id string) string {
	i := def.Index(id)
	if i < 0 || i+1 >= len(def.Modules) {
		return ""
	}
	return def.Modules[i+1].ID
}

// Rules extracts the prerequisite rules declared by the sequence.
func (def Definition) Rules() []prereq.Rule {
	var rules []prereq.Rule
	for _, ref := range def.Modules {
		if len(ref.Requires) == 0 && ref.Condition == "" {
			continue
		}
		rules = append(rules, prereq.Rule{
			Module:    ref.ID,
			Requires:  append([]string(nil), ref.Requires...),
			Condition: ref.Condition,
		})
	}
	return rules
}

// Pipeline is a definition with every module resolved and every rule compiled.
// It is immutable and shared by all sessions.
type Pipeline struct {
	Def       Definition
	Sequence  []string
	Modules   map[string]module.Module
	Validator *prereq.Validator
}

// Build resolves every module through the registry and compiles the rules.
// Any failure is fatal: a pipeline is either complete or not built at all.
func (def Definition) Build(reg *module.Registry) (*Pipeline, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	p := &Pipeline{
		Def:      def,
		Sequence: def.ModuleIDs(),
		Modules:  make(map[string]module.Module, len(def.Modules)),
	}
	for _, ref := range def.Modules {
		m, err := reg.Resolve(ref.Type, ref.ID, ref.Config)
		if err != nil {
			return nil, fmt.Errorf("workflow %s: %w", def.ID, err)
		}
		p.Modules[ref.ID] = m
	}
	validator, err := prereq.NewValidator(def.Rules())
	if err != nil {
		return nil, fmt.Errorf("workflow %s: %w", def.ID, err)
	}
	p.Validator = validator
	return p, nil
}

// First returns the entry module.
func (p *Pipeline) First() string {
	return p.Sequence[0]
}

// Next returns the module following id, or "" at the end of the sequence.
func (p *Pipeline) Next(id string) string {
	return p.Def.Next(id)
}

// Module returns the resolved module for id.
func (p *Pipeline) Module(id string) (module.Module, bool) {
	m, ok := p.Modules[id]
	return m, ok
}
