package module

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/assessment/plugin/ai/extract"
)

var rules = extract.NewRuleExtractor()

// answer runs text through the rule extractor for the module's current expectation.
func answer(t *testing.T, m Module, st *State, text string) Outcome {
	t.Helper()
	out, err := m.Advance(context.Background(), st, rules.Extract(m.Expect(st), text))
	require.NoError(t, err)
	return out
}

// roundTrip mimics persisting the working state between turns.
func roundTrip(t *testing.T, st *State) {
	t.Helper()
	raw, err := json.Marshal(st.Data)
	require.NoError(t, err)
	data := map[string]any{}
	require.NoError(t, json.Unmarshal(raw, &data))
	st.Data = data
}

func newQuestionnaire(t *testing.T) Module {
	t.Helper()
	m, err := NewQuestionnaire("mood", Config{
		"name": "Mood",
		"questions": []any{
			map[string]any{"key": "low", "prompt": "Feeling low?", "kind": "yes_no"},
			map[string]any{"key": "rating", "prompt": "How bad?", "kind": "scale", "min": 1, "max": 10},
			map[string]any{"key": "notes", "prompt": "Anything else?", "optional": true},
		},
	})
	require.NoError(t, err)
	return m
}

func TestQuestionnaire_Flow(t *testing.T) {
	m := newQuestionnaire(t)
	st := &State{SessionID: "s1", SubjectID: "u1"}

	prompt, err := m.Start(context.Background(), st)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(prompt, "Mood\n"))
	assert.Contains(t, prompt, "Feeling low?")
	assert.False(t, m.IsComplete(st))

	out := answer(t, m, st, "yes, I can't sleep and feel hopeless")
	assert.False(t, out.Complete)
	assert.Equal(t, "How bad? (1-10)", out.Prompt)
	roundTrip(t, st)

	assert.Equal(t, extract.KindScale, m.Expect(st).Kind)
	out = answer(t, m, st, "about a 7")
	assert.Equal(t, "Anything else?", out.Prompt)
	roundTrip(t, st)

	done, total := m.(*Questionnaire).Progress(st)
	assert.Equal(t, 2, done)
	assert.Equal(t, 3, total)

	out = answer(t, m, st, "skip")
	require.True(t, out.Complete)
	assert.True(t, m.IsComplete(st))

	answers := out.Result["answers"].(map[string]any)
	assert.Equal(t, true, answers["low"])
	assert.Equal(t, 7.0, answers["rating"])
	assert.NotContains(t, answers, "notes")
	assert.Equal(t, []string{"notes"}, out.Result["skipped"])
	signals := out.Result["signals"].(map[string]any)
	assert.Contains(t, signals["symptoms"], "sleep")
}

func TestQuestionnaire_RequiredCannotBeSkipped(t *testing.T) {
	m := newQuestionnaire(t)
	st := &State{}
	_, err := m.Start(context.Background(), st)
	require.NoError(t, err)

	out := answer(t, m, st, "I'd rather not say")
	assert.False(t, out.Complete)
	assert.Contains(t, out.Prompt, "needed to continue")
	assert.Equal(t, "low", m.Expect(st).Field)
}

func TestQuestionnaire_ClarifiesUnusableAnswers(t *testing.T) {
	m := newQuestionnaire(t)
	st := &State{}
	_, err := m.Start(context.Background(), st)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		out := answer(t, m, st, "purple")
		assert.Contains(t, out.Prompt, "yes or no")
		assert.Equal(t, "low", m.Expect(st).Field, "required question never auto-skips")
	}
}

func TestQuestionnaire_OptionalSkipsAfterRetries(t *testing.T) {
	m, err := NewQuestionnaire("q", Config{
		"questions": []any{
			map[string]any{"key": "age", "prompt": "Age?", "kind": "number", "optional": true},
		},
	})
	require.NoError(t, err)
	st := &State{}
	_, err = m.Start(context.Background(), st)
	require.NoError(t, err)

	for i := 0; i < maxRetries; i++ {
		out := answer(t, m, st, "dunno really")
		require.False(t, out.Complete)
		roundTrip(t, st)
	}
	out := answer(t, m, st, "dunno really")
	require.True(t, out.Complete)
	assert.Empty(t, out.Result, "nothing answered means an empty result")
}

func TestQuestionnaire_StartResetsState(t *testing.T) {
	m := newQuestionnaire(t)
	st := &State{Data: map[string]any{"index": 3.0, "answers": map[string]any{"low": true}}}
	assert.True(t, m.IsComplete(st))

	_, err := m.Start(context.Background(), st)
	require.NoError(t, err)
	assert.False(t, m.IsComplete(st))
	assert.Empty(t, st.Data["answers"])
}

func TestNewQuestionnaire_Rejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no questions", cfg: Config{}},
		{name: "missing prompt", cfg: Config{"questions": []any{map[string]any{"key": "a"}}}},
		{name: "duplicate key", cfg: Config{"questions": []any{
			map[string]any{"key": "a", "prompt": "A?"},
			map[string]any{"key": "a", "prompt": "A again?"},
		}}},
		{name: "bad scale", cfg: Config{"questions": []any{map[string]any{"key": "a", "prompt": "A?", "kind": "scale", "min": 5, "max": 1}}}},
		{name: "choice without options", cfg: Config{"questions": []any{map[string]any{"key": "a", "prompt": "A?", "kind": "choice"}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewQuestionnaire("q", tt.cfg)
			assert.Error(t, err)
		})
	}
}

func upstreamResults() map[string]map[string]any {
	return map[string]map[string]any{
		"presenting_concern": {
			"answers": map[string]any{"main_concern": "can't sleep", "severity_rating": 8.0},
			"signals": map[string]any{"symptoms": []any{"sleep"}, "severity": "moderate"},
		},
		"mood_anxiety_screening": {
			"answers": map[string]any{"persistent_sadness": true, "loss_of_interest": true, "excessive_anxiety": false},
		},
		"treatment_goals": {
			"answers": map[string]any{"treatment_goals": "sleep through the night"},
		},
	}
}

func newDiagnostic(t *testing.T) Module {
	t.Helper()
	m, err := NewDiagnosticSynthesis("synthesis_da", Config{
		"screens": map[string]any{
			"mood_anxiety_screening.persistent_sadness": "mood",
			"mood_anxiety_screening.loss_of_interest":   "mood",
			"mood_anxiety_screening.excessive_anxiety":  "anxiety",
		},
		"severity_source": "presenting_concern.severity_rating",
	})
	require.NoError(t, err)
	return m
}

func TestDiagnosticSynthesis_Confirmed(t *testing.T) {
	m := newDiagnostic(t)
	st := &State{Results: upstreamResults()}

	prompt, err := m.Start(context.Background(), st)
	require.NoError(t, err)
	assert.Contains(t, prompt, "main area of concern appears to be mood")
	assert.Contains(t, prompt, "severe")
	assert.NotContains(t, prompt, safetyNotice)
	roundTrip(t, st)

	out := answer(t, m, st, "yes")
	require.True(t, out.Complete)
	assert.True(t, m.IsComplete(st))
	assert.Equal(t, "mood", out.Result["primary_concern"])
	assert.Equal(t, "severe", out.Result["severity"])
	assert.Equal(t, false, out.Result["risk_flag"])
	assert.Equal(t, true, out.Result["confirmed"])
	assert.ElementsMatch(t, []any{
		"mood_anxiety_screening.loss_of_interest",
		"mood_anxiety_screening.persistent_sadness",
	}, out.Result["positive_screens"])
}

func TestDiagnosticSynthesis_Corrections(t *testing.T) {
	m := newDiagnostic(t)
	st := &State{Results: upstreamResults()}
	_, err := m.Start(context.Background(), st)
	require.NoError(t, err)

	out := answer(t, m, st, "no, not really")
	require.False(t, out.Complete)
	assert.Equal(t, correctionsPrompt, out.Prompt)
	assert.Equal(t, "corrections", m.Expect(st).Field)

	out = answer(t, m, st, "it is mostly work stress")
	require.True(t, out.Complete)
	assert.Equal(t, false, out.Result["confirmed"])
	assert.Equal(t, "it is mostly work stress", out.Result["corrections"])
}

func TestDiagnosticSynthesis_RiskFlag(t *testing.T) {
	m := newDiagnostic(t)
	results := upstreamResults()
	results["symptom_impact"] = map[string]any{
		"answers": map[string]any{"functional_impact": "some days I want to die"},
		"signals": map[string]any{"symptoms": []string{"suicidal"}},
	}
	st := &State{Results: results}
	prompt, err := m.Start(context.Background(), st)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(prompt, safetyNotice))
}

func TestDiagnosticSynthesis_SeverityWithoutRating(t *testing.T) {
	m, err := NewDiagnosticSynthesis("da", nil)
	require.NoError(t, err)
	st := &State{Results: map[string]map[string]any{
		"intake": {"answers": map[string]any{"x": "y"}},
	}}
	_, err = m.Start(context.Background(), st)
	require.NoError(t, err)
	analysis := st.Data["analysis"].(map[string]any)
	assert.Equal(t, "minimal", analysis["severity"])
	assert.Equal(t, "none", analysis["primary_concern"])
}

func TestTreatmentPlan(t *testing.T) {
	da := newDiagnostic(t)
	daState := &State{Results: upstreamResults()}
	_, err := da.Start(context.Background(), daState)
	require.NoError(t, err)
	daOut := answer(t, da, daState, "yes")
	require.True(t, daOut.Complete)

	results := upstreamResults()
	results["synthesis_da"] = daOut.Result

	tpa, err := NewTreatmentPlan("synthesis_tpa", Config{"goals_module": "treatment_goals"})
	require.NoError(t, err)
	st := &State{Results: results}
	prompt, err := tpa.Start(context.Background(), st)
	require.NoError(t, err)
	assert.Contains(t, prompt, "intensive outpatient")
	assert.Contains(t, prompt, "sleep through the night")
	roundTrip(t, st)

	out := answer(t, tpa, st, "online in the evenings please")
	require.True(t, out.Complete)
	assert.True(t, tpa.IsComplete(st))
	assert.Equal(t, "intensive_outpatient", out.Result["care_level"])
	assert.Equal(t, "synthesis_da", out.Result["based_on"])
	assert.Equal(t, "online in the evenings please", out.Result["preferences"])
	assert.NotEmpty(t, out.Result["recommendations"])
}

func TestSynthesis_AdvanceBeforeStart(t *testing.T) {
	da := newDiagnostic(t)
	_, err := da.Advance(context.Background(), &State{}, extract.Interpretation{})
	assert.Error(t, err)

	tpa, err := NewTreatmentPlan("tpa", nil)
	require.NoError(t, err)
	_, err = tpa.Advance(context.Background(), &State{}, extract.Interpretation{})
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	RegisterBuiltins(reg)
	assert.Equal(t, []string{TypeQuestionnaire, TypeSynthesisDA, TypeSynthesisTPA}, reg.Types())

	assert.Error(t, reg.Register(TypeQuestionnaire, NewQuestionnaire))
	assert.Error(t, reg.Register("", NewQuestionnaire))
	assert.Error(t, reg.Register("custom", nil))

	_, err := reg.Resolve("nope", "x", nil)
	assert.ErrorContains(t, err, "unknown type")

	m, err := reg.Resolve(TypeSynthesisDA, "da", nil)
	require.NoError(t, err)
	assert.Equal(t, "da", m.Info().ID)

	require.NoError(t, reg.Register("liar", func(_ string, cfg Config) (Module, error) {
		return NewDiagnosticSynthesis("someone_else", cfg)
	}))
	_, err = reg.Resolve("liar", "da", nil)
	assert.ErrorContains(t, err, "want da")
}
