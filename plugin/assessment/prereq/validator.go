// Package prereq decides whether a session may enter a module.
//
// A module may be entered only when every upstream module it requires is in
// the session history AND has a non-empty result. Presence in history alone
// is not enough. An optional CEL condition can tighten a rule further; it is
// evaluated over:
//
//	history  list(string)       modules exited so far, in order
//	results  map(string, dyn)   committed result payloads by module
//	metadata map(string, dyn)   session metadata
//
// Evaluation errors count as "not satisfied".
package prereq

import (
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"

	"github.com/hrygo/assessment/store"
)

// Rule is a static prerequisite declaration for one module.
type Rule struct {
	Module    string   `json:"module" yaml:"module"`
	Requires  []string `json:"requires,omitempty" yaml:"requires,omitempty"`
	Condition string   `json:"condition,omitempty" yaml:"condition,omitempty"`
}

type compiledRule struct {
	Rule
	program cel.Program
}

// Validator evaluates prerequisite rules. It is immutable after construction
// and safe for concurrent use.
type Validator struct {
	rules map[string]*compiledRule
}

// NewEnv returns the CEL environment conditions are compiled against.
func NewEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("history", cel.ListType(cel.StringType)),
		cel.Variable("results", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("metadata", cel.MapType(cel.StringType, cel.DynType)),
	)
}

// NewValidator compiles the rules. A rule whose condition does not compile to
// a boolean expression is rejected.
func NewValidator(rules []Rule) (*Validator, error) {
	env, err := NewEnv()
	if err != nil {
		return nil, fmt.Errorf("prereq: create cel env: %w", err)
	}

	v := &Validator{rules: make(map[string]*compiledRule, len(rules))}
	for _, r := range rules {
		if r.Module == "" {
			return nil, fmt.Errorf("prereq: rule module is required")
		}
		if _, exists := v.rules[r.Module]; exists {
			return nil, fmt.Errorf("prereq: duplicate rule for %s", r.Module)
		}
		compiled := &compiledRule{Rule: Rule{
			Module:    r.Module,
			Requires:  append([]string(nil), r.Requires...),
			Condition: r.Condition,
		}}
		if r.Condition != "" {
			program, err := compile(env, r.Condition)
			if err != nil {
				return nil, fmt.Errorf("prereq: %s: %w", r.Module, err)
			}
			compiled.program = program
		}
		v.rules[r.Module] = compiled
	}
	return v, nil
}

func compile(env *cel.Env, expr string) (cel.Program, error) {
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile condition %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("condition %q must evaluate to bool, got %s", expr, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program condition %q: %w", expr, err)
	}
	return program, nil
}

// Rule returns the rule declared for a module.
func (v *Validator) Rule(module string) (Rule, bool) {
	r, ok := v.rules[module]
	if !ok {
		return Rule{}, false
	}
	return r.Rule, true
}

// CanEnter reports whether the session snapshot satisfies the module's rule.
// Modules without a rule can always be entered.
func (v *Validator) CanEnter(module string, session *store.Session) bool {
	return len(v.Missing(module, session)) == 0
}

// Missing lists what keeps the session from entering module: each upstream
// module lacking history or a result, and "condition" when the CEL condition
// does not hold. A nil session fails closed.
func (v *Validator) Missing(module string, session *store.Session) []string {
	r, ok := v.rules[module]
	if !ok {
		return nil
	}
	if session == nil {
		missing := append([]string(nil), r.Requires...)
		if r.program != nil {
			missing = append(missing, "condition")
		}
		return missing
	}

	var missing []string
	for _, upstream := range r.Requires {
		if !session.InHistory(upstream) || !session.HasResult(upstream) {
			missing = append(missing, upstream)
		}
	}
	sort.Strings(missing)

	if r.program != nil && !evaluate(r.program, session) {
		missing = append(missing, "condition")
	}
	return missing
}

func evaluate(program cel.Program, session *store.Session) bool {
	results := make(map[string]any, len(session.ModuleResults))
	for name, result := range session.ModuleResults {
		if result.IsEmpty() {
			continue
		}
		results[name] = store.CloneMap(result.Payload)
	}
	metadata := store.CloneMap(session.Metadata)
	if metadata == nil {
		metadata = map[string]any{}
	}
	history := append([]string{}, session.ModuleHistory...)

	out, _, err := program.Eval(map[string]any{
		"history":  history,
		"results":  results,
		"metadata": metadata,
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
