package workflow

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/assessment/plugin/assessment/module"
	"github.com/hrygo/assessment/store"
)

func TestStandard(t *testing.T) {
	def, err := Standard()
	require.NoError(t, err)

	assert.Equal(t, "standard_intake", def.ID)
	assert.Equal(t, []string{
		"demographics",
		"presenting_concern",
		"mood_anxiety_screening",
		"symptom_impact",
		"treatment_goals",
		"synthesis_da",
		"synthesis_tpa",
	}, def.ModuleIDs())
	assert.Equal(t, "synthesis_tpa", def.Next("synthesis_da"))
	assert.Equal(t, "", def.Next("synthesis_tpa"))
	assert.Equal(t, -1, def.Index("missing"))

	rules := def.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, "synthesis_da", rules[0].Module)
	assert.ElementsMatch(t, []string{"presenting_concern", "mood_anxiety_screening", "symptom_impact"}, rules[0].Requires)
	assert.Equal(t, "synthesis_tpa", rules[1].Module)
	assert.Equal(t, "has(results.synthesis_da.severity)", rules[1].Condition)
}

func TestStandard_Builds(t *testing.T) {
	def, err := Load("")
	require.NoError(t, err)

	reg := module.NewRegistry()
	module.RegisterBuiltins(reg)
	p, err := def.Build(reg)
	require.NoError(t, err)

	assert.Equal(t, "demographics", p.First())
	assert.Len(t, p.Modules, 7)
	m, ok := p.Module("synthesis_da")
	require.True(t, ok)
	assert.Equal(t, module.KindSynthesis, m.Info().Kind)

	assert.False(t, p.Validator.CanEnter("synthesis_tpa", &store.Session{ModuleHistory: []string{"synthesis_da"}}))
	assert.True(t, p.Validator.CanEnter("presenting_concern", &store.Session{}))
}

func TestDefinitionValidate(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
	}{
		{name: "no id", def: Definition{Modules: []ModuleRef{{ID: "a", Type: "questionnaire"}}}},
		{name: "no modules", def: Definition{ID: "w"}},
		{name: "no module id", def: Definition{ID: "w", Modules: []ModuleRef{{Type: "questionnaire"}}}},
		{name: "no type", def: Definition{ID: "w", Modules: []ModuleRef{{ID: "a"}}}},
		{name: "duplicate", def: Definition{ID: "w", Modules: []ModuleRef{{ID: "a", Type: "x"}, {ID: "a", Type: "x"}}}},
		{name: "forward requirement", def: Definition{ID: "w", Modules: []ModuleRef{{ID: "a", Type: "x", Requires: []string{"b"}}, {ID: "b", Type: "x"}}}},
		{name: "self requirement", def: Definition{ID: "w", Modules: []ModuleRef{{ID: "a", Type: "x", Requires: []string{"a"}}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.def.Validate())
		})
	}
}

func TestBuild_Failures(t *testing.T) {
	reg := module.NewRegistry()
	module.RegisterBuiltins(reg)

	unknown := Definition{ID: "w", Modules: []ModuleRef{{ID: "a", Type: "hypnosis"}}}
	_, err := unknown.Build(reg)
	assert.ErrorContains(t, err, "unknown type")

	badConfig := Definition{ID: "w", Modules: []ModuleRef{{ID: "a", Type: module.TypeQuestionnaire}}}
	_, err = badConfig.Build(reg)
	assert.ErrorContains(t, err, "at least one question")

	badCondition := Definition{ID: "w", Modules: []ModuleRef{{
		ID:        "a",
		Type:      module.TypeSynthesisDA,
		Condition: "size(history)",
	}}}
	_, err = badCondition.Build(reg)
	assert.ErrorContains(t, err, "must evaluate to bool")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mini.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
id: mini
name: Mini
modules:
  - id: intake
    type: questionnaire
    config:
      questions:
        - key: concern
          prompt: What brings you here?
  - id: mood
    type: questionnaire
    config:
      questions:
        - key: low
          prompt: Feeling low?
          kind: yes_no
  - id: synthesis
    type: synthesis_da
    requires: [intake, mood]
`), 0o600))

	def, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"intake", "mood", "synthesis"}, def.ModuleIDs())

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	_, err = Parse([]byte("   "))
	assert.ErrorContains(t, err, "empty")
}
