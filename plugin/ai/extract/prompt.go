package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/assessment/plugin/ai"
)

var errMalformed = errors.New("malformed interpretation")

var codeBlockPattern = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")

var (
	knownSeverities  = map[string]bool{"mild": true, "moderate": true, "severe": true}
	knownFrequencies = map[string]bool{"daily": true, "often": true, "sometimes": true, "rarely": true, "never": true}
)

const systemPrompt = `You extract structured answers from a patient's reply during a mental health intake.
Return ONLY one JSON object with these fields:
{"value": string, "choice": string, "flag": boolean|null, "number": number|null,
 "symptoms": [string], "severity": "mild"|"moderate"|"severe"|"",
 "frequency": "daily"|"often"|"sometimes"|"rarely"|"never"|"",
 "duration": string, "skipped": boolean, "confidence": number}
Rules:
- yes_no: set flag.
- scale and number: set number.
- choice: copy one of the options verbatim into choice.
- free_text: put a short faithful summary in value.
- skipped is true only when the patient declines to answer.
- symptoms only from: mood, anxiety, sleep, appetite, energy, concentration, panic, trauma, ocd, adhd, self_harm, suicidal.
- Use empty strings or null for anything not stated. Never invent facts.`

func buildMessages(exp Expectation, text string) []ai.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n", exp.Prompt)
	fmt.Fprintf(&b, "Answer kind: %s\n", exp.Kind)
	if len(exp.Options) > 0 {
		fmt.Fprintf(&b, "Options: %s\n", strings.Join(exp.Options, " | "))
	}
	if exp.Kind == KindScale {
		fmt.Fprintf(&b, "Range: %g to %g\n", exp.Min, exp.Max)
	}
	fmt.Fprintf(&b, "Reply: %s", text)

	return []ai.Message{
		ai.SystemPrompt(systemPrompt),
		ai.UserMessage(b.String()),
	}
}

type llmAnswer struct {
	Value      any      `json:"value"`
	Choice     string   `json:"choice"`
	Flag       *bool    `json:"flag"`
	Number     any      `json:"number"`
	Symptoms   []string `json:"symptoms"`
	Severity   string   `json:"severity"`
	Frequency  string   `json:"frequency"`
	Duration   string   `json:"duration"`
	Skipped    bool     `json:"skipped"`
	Confidence *float64 `json:"confidence"`
}

// parseLLMAnswer validates the model output against the expectation. Anything
// that does not fit the expected shape is malformed and triggers the fallback.
func parseLLMAnswer(exp Expectation, text, content string) (Interpretation, error) {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```") {
		if matches := codeBlockPattern.FindStringSubmatch(content); len(matches) > 1 {
			content = matches[1]
		}
	}

	var raw llmAnswer
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return Interpretation{}, errors.Wrap(errMalformed, err.Error())
	}

	normalized := normalize(text)
	out := Interpretation{
		Kind:      exp.Kind,
		Raw:       strings.TrimSpace(text),
		Source:    SourceLLM,
		Skipped:   raw.Skipped,
		Symptoms:  mergeSymptoms(raw.Symptoms, detectSymptoms(normalized)),
		Severity:  pick(raw.Severity, knownSeverities),
		Frequency: pick(raw.Frequency, knownFrequencies),
		Duration:  strings.TrimSpace(raw.Duration),
	}
	if out.Kind == "" {
		out.Kind = KindFreeText
	}
	value := stringValue(raw.Value)

	if !out.Skipped {
		switch out.Kind {
		case KindYesNo:
			switch {
			case raw.Flag != nil:
				out.Flag = boolPtr(*raw.Flag)
			case isBool(raw.Value):
				out.Flag = boolPtr(raw.Value.(bool))
			default:
				if flag, ok := parseYesNo(normalize(value)); ok {
					out.Flag = boolPtr(flag)
				}
			}
		case KindNumber, KindScale:
			n, ok := numberValue(raw.Number)
			if !ok {
				n, ok = numberValue(raw.Value)
			}
			if ok {
				if out.Kind == KindScale {
					if n < exp.Min {
						n = exp.Min
					}
					if n > exp.Max {
						n = exp.Max
					}
				}
				out.Number = floatPtr(n)
			}
		case KindChoice:
			candidate := raw.Choice
			if candidate == "" {
				candidate = value
			}
			out.Choice = matchOption(normalize(candidate), exp.Options)
		default:
			out.Value = value
			if out.Value == "" {
				out.Value = out.Raw
			}
		}
		if !out.Answered() {
			return Interpretation{}, errors.Wrapf(errMalformed, "no %s answer", out.Kind)
		}
	}
	if out.Value == "" {
		out.Value = out.Raw
	}

	out.Confidence = 0.9
	if raw.Confidence != nil {
		out.Confidence = *raw.Confidence
	}
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 1 {
		out.Confidence = 1
	}
	return out, nil
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func numberValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		return parseNumber(normalize(t))
	}
	return 0, false
}

func isBool(v any) bool {
	_, ok := v.(bool)
	return ok
}

func pick(v string, allowed map[string]bool) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if allowed[v] {
		return v
	}
	return ""
}

func mergeSymptoms(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, s := range list {
			s = strings.ToLower(strings.TrimSpace(s))
			if _, known := symptomKeywords[s]; !known || seen[s] {
				continue
			}
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}
