// Package extract turns a free-text answer into a structured Interpretation.
// The remote LLM is preferred; deterministic rules take over whenever it cannot answer.
package extract

import (
	"context"

	"github.com/pkg/errors"
)

// Kind is the answer shape a question expects.
type Kind string

const (
	KindFreeText Kind = "free_text"
	KindYesNo    Kind = "yes_no"
	KindScale    Kind = "scale"
	KindNumber   Kind = "number"
	KindChoice   Kind = "choice"
)

// Source identifies which path produced an Interpretation.
type Source string

const (
	SourceLLM   Source = "llm"
	SourceCache Source = "cache"
	SourceRules Source = "rules"
)

// RuleConfidence is the confidence attached to rule-based answers.
const RuleConfidence = 0.7

// Expectation describes the answer the active module is waiting for.
type Expectation struct {
	Module   string   `json:"module"`
	Field    string   `json:"field"`
	Prompt   string   `json:"prompt"`
	Kind     Kind     `json:"kind"`
	Options  []string `json:"options,omitempty"`
	Min      float64  `json:"min,omitempty"`
	Max      float64  `json:"max,omitempty"`
	Optional bool     `json:"optional,omitempty"`
}

// Validate checks that the expectation can be answered.
func (e Expectation) Validate() error {
	switch e.Kind {
	case KindFreeText, KindYesNo, KindNumber:
	case KindScale:
		if e.Min >= e.Max {
			return errors.Errorf("scale %q needs min < max", e.Field)
		}
	case KindChoice:
		if len(e.Options) == 0 {
			return errors.Errorf("choice %q needs options", e.Field)
		}
	default:
		return errors.Errorf("unknown answer kind %q", e.Kind)
	}
	return nil
}

// Interpretation is the structured signal extracted from one turn.
// Both paths return the same shape so callers never branch on Source.
type Interpretation struct {
	Kind       Kind     `json:"kind"`
	Raw        string   `json:"raw"`
	Value      string   `json:"value,omitempty"`
	Choice     string   `json:"choice,omitempty"`
	Flag       *bool    `json:"flag,omitempty"`
	Number     *float64 `json:"number,omitempty"`
	Symptoms   []string `json:"symptoms,omitempty"`
	Severity   string   `json:"severity,omitempty"`
	Frequency  string   `json:"frequency,omitempty"`
	Duration   string   `json:"duration,omitempty"`
	Confidence float64  `json:"confidence"`
	Source     Source   `json:"source"`
	Skipped    bool     `json:"skipped,omitempty"`
}

// Answered reports whether the interpretation carries a usable answer for its kind.
func (i Interpretation) Answered() bool {
	if i.Skipped {
		return true
	}
	switch i.Kind {
	case KindYesNo:
		return i.Flag != nil
	case KindScale, KindNumber:
		return i.Number != nil
	case KindChoice:
		return i.Choice != ""
	default:
		return i.Value != ""
	}
}

// AnswerValue returns the kind-specific answer as a plain value suitable for a result payload.
func (i Interpretation) AnswerValue() any {
	switch i.Kind {
	case KindYesNo:
		if i.Flag != nil {
			return *i.Flag
		}
	case KindScale, KindNumber:
		if i.Number != nil {
			return *i.Number
		}
	case KindChoice:
		return i.Choice
	}
	return i.Value
}

// Processor interprets free text for an expectation. It never fails:
// when the remote path is unavailable the rule path answers.
type Processor interface {
	Interpret(ctx context.Context, exp Expectation, text string) Interpretation
}

func boolPtr(b bool) *bool { return &b }

func floatPtr(f float64) *float64 { return &f }
