package module

import (
	"context"
	"fmt"
	"strings"

	"github.com/hrygo/assessment/plugin/ai/extract"
)

// Working-state keys of the questionnaire.
const (
	keyIndex    = "index"
	keyAnswers  = "answers"
	keySkipped  = "skipped"
	keyRetries  = "retries"
	keySignals  = "signals"
	keySymptoms = "symptoms"
)

// maxRetries is how many unusable answers an optional question tolerates before it is skipped.
const maxRetries = 2

// Question is one item of a questionnaire.
type Question struct {
	Key      string       `yaml:"key"`
	Prompt   string       `yaml:"prompt"`
	Kind     extract.Kind `yaml:"kind"`
	Options  []string     `yaml:"options,omitempty"`
	Min      float64      `yaml:"min,omitempty"`
	Max      float64      `yaml:"max,omitempty"`
	Optional bool         `yaml:"optional,omitempty"`
}

// QuestionnaireConfig configures a questionnaire module.
type QuestionnaireConfig struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Intro       string     `yaml:"intro"`
	Questions   []Question `yaml:"questions"`
}

// Questionnaire asks an ordered list of questions and completes with the answers.
type Questionnaire struct {
	Base
	cfg QuestionnaireConfig
}

// NewQuestionnaire builds a questionnaire from its workflow configuration.
func NewQuestionnaire(id string, raw Config) (Module, error) {
	var cfg QuestionnaireConfig
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.Name == "" {
		cfg.Name = id
	}
	if len(cfg.Questions) == 0 {
		return nil, fmt.Errorf("questionnaire needs at least one question")
	}
	seen := map[string]bool{}
	for i, q := range cfg.Questions {
		if q.Key == "" || q.Prompt == "" {
			return nil, fmt.Errorf("question[%d]: key and prompt are required", i)
		}
		if seen[q.Key] {
			return nil, fmt.Errorf("question[%d]: duplicate key %s", i, q.Key)
		}
		seen[q.Key] = true
		if q.Kind == "" {
			cfg.Questions[i].Kind = extract.KindFreeText
		}
		if err := expectationFor(id, cfg.Questions[i]).Validate(); err != nil {
			return nil, fmt.Errorf("question[%d]: %w", i, err)
		}
	}

	return &Questionnaire{
		Base: NewBase(Info{
			ID:          id,
			Name:        cfg.Name,
			Description: cfg.Description,
			Version:     "1.0.0",
			Kind:        KindQuestionnaire,
		}),
		cfg: cfg,
	}, nil
}

// Start implements Module.
func (q *Questionnaire) Start(_ context.Context, st *State) (string, error) {
	if st.Data == nil {
		st.Data = map[string]any{}
	}
	resetState(st)
	st.Data[keyIndex] = 0
	st.Data[keyAnswers] = map[string]any{}

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", q.cfg.Name)
	if q.cfg.Description != "" {
		fmt.Fprintf(&b, "%s\n", q.cfg.Description)
	}
	if q.cfg.Intro != "" {
		fmt.Fprintf(&b, "%s\n", q.cfg.Intro)
	}
	b.WriteString("\n")
	b.WriteString(formatQuestion(q.cfg.Questions[0]))
	return b.String(), nil
}

// Expect implements Module.
func (q *Questionnaire) Expect(st *State) extract.Expectation {
	idx := intValue(st.Data[keyIndex])
	if idx >= len(q.cfg.Questions) {
		return extract.Expectation{Module: q.info.ID, Kind: extract.KindFreeText}
	}
	return expectationFor(q.info.ID, q.cfg.Questions[idx])
}

// Advance implements Module.
func (q *Questionnaire) Advance(_ context.Context, st *State, in extract.Interpretation) (Outcome, error) {
	if st.Data == nil {
		return Outcome{}, fmt.Errorf("questionnaire %s: advance before start", q.info.ID)
	}
	idx := intValue(st.Data[keyIndex])
	if idx >= len(q.cfg.Questions) {
		return Outcome{Complete: true, Result: q.result(st)}, nil
	}
	question := q.cfg.Questions[idx]

	switch {
	case in.Skipped && !question.Optional:
		return Outcome{Prompt: "This question is needed to continue. " + formatQuestion(question)}, nil
	case in.Skipped:
		appendUnique(st.Data, keySkipped, question.Key)
	case !in.Answered():
		retries := intValue(st.Data[keyRetries]) + 1
		if !question.Optional || retries <= maxRetries {
			st.Data[keyRetries] = retries
			return Outcome{Prompt: clarify(question)}, nil
		}
		appendUnique(st.Data, keySkipped, question.Key)
	default:
		mapValue(st.Data, keyAnswers)[question.Key] = in.AnswerValue()
		recordSignals(st.Data, in)
	}

	delete(st.Data, keyRetries)
	idx++
	st.Data[keyIndex] = idx

	if idx >= len(q.cfg.Questions) {
		return Outcome{Complete: true, Result: q.result(st)}, nil
	}
	return Outcome{Prompt: formatQuestion(q.cfg.Questions[idx])}, nil
}

// IsComplete implements Module.
func (q *Questionnaire) IsComplete(st *State) bool {
	return st != nil && st.Data != nil && intValue(st.Data[keyIndex]) >= len(q.cfg.Questions)
}

// Progress reports answered and total questions.
func (q *Questionnaire) Progress(st *State) (int, int) {
	done := 0
	if st != nil && st.Data != nil {
		done = intValue(st.Data[keyIndex])
	}
	if done > len(q.cfg.Questions) {
		done = len(q.cfg.Questions)
	}
	return done, len(q.cfg.Questions)
}

// result is empty when every question was declined, so an all-skipped
// questionnaire never satisfies a downstream prerequisite.
func (q *Questionnaire) result(st *State) map[string]any {
	answers := mapValue(st.Data, keyAnswers)
	if len(answers) == 0 {
		return map[string]any{}
	}
	result := map[string]any{
		keyAnswers: answers,
	}
	if signals, ok := st.Data[keySignals].(map[string]any); ok && len(signals) > 0 {
		result[keySignals] = signals
	}
	if skipped := stringsValue(st.Data[keySkipped]); len(skipped) > 0 {
		result[keySkipped] = skipped
	}
	return result
}

func recordSignals(data map[string]any, in extract.Interpretation) {
	if len(in.Symptoms) == 0 && in.Severity == "" && in.Frequency == "" && in.Duration == "" {
		return
	}
	signals := mapValue(data, keySignals)
	appendUnique(signals, keySymptoms, in.Symptoms...)
	if in.Severity != "" {
		signals["severity"] = strongerSeverity(stringValue(signals["severity"]), in.Severity)
	}
	if in.Frequency != "" {
		signals["frequency"] = in.Frequency
	}
	if in.Duration != "" {
		signals["duration"] = in.Duration
	}
}

func expectationFor(moduleID string, q Question) extract.Expectation {
	return extract.Expectation{
		Module:   moduleID,
		Field:    q.Key,
		Prompt:   q.Prompt,
		Kind:     q.Kind,
		Options:  q.Options,
		Min:      q.Min,
		Max:      q.Max,
		Optional: q.Optional,
	}
}

func formatQuestion(q Question) string {
	switch q.Kind {
	case extract.KindChoice:
		return fmt.Sprintf("%s (%s)", q.Prompt, strings.Join(q.Options, ", "))
	case extract.KindScale:
		return fmt.Sprintf("%s (%g-%g)", q.Prompt, q.Min, q.Max)
	}
	return q.Prompt
}

func clarify(q Question) string {
	switch q.Kind {
	case extract.KindYesNo:
		return "Sorry, I didn't catch that. Please answer yes or no. " + q.Prompt
	case extract.KindNumber:
		return "Sorry, I need a number for this one. " + q.Prompt
	case extract.KindScale:
		return fmt.Sprintf("Please pick a number from %g to %g. %s", q.Min, q.Max, q.Prompt)
	case extract.KindChoice:
		return "Please choose one of the options. " + formatQuestion(q)
	}
	return "Could you tell me a little more? " + q.Prompt
}

var severityRank = map[string]int{"": 0, "minimal": 1, "mild": 2, "moderate": 3, "severe": 4}

func strongerSeverity(a, b string) string {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}
