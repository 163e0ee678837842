package extract

import (
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Symptom categories recognized by keyword.
var symptomKeywords = map[string][]string{
	"mood":          {"sad", "depressed", "down", "hopeless", "worthless", "empty", "tearful", "crying", "no interest", "lost interest", "anhedonia"},
	"anxiety":       {"anxious", "anxiety", "worried", "worry", "nervous", "restless", "tense", "on edge", "fear"},
	"sleep":         {"can't sleep", "cannot sleep", "insomnia", "oversleep", "sleeping too much", "nightmare", "wake up", "awake at night"},
	"appetite":      {"appetite", "not eating", "overeating", "weight loss", "weight gain"},
	"energy":        {"tired", "fatigue", "exhausted", "no energy", "no motivation", "drained"},
	"concentration": {"concentrate", "concentration", "focus", "distracted", "forgetful", "decision making", "can't think"},
	"panic":         {"panic", "racing heart", "heart pounding", "short of breath", "sweating", "trembling", "chest tight"},
	"trauma":        {"trauma", "ptsd", "flashback", "triggered", "trigger", "hypervigilant", "startle", "abuse", "assault"},
	"ocd":           {"obsess", "compulsive", "checking", "intrusive thought", "ritual", "contamination"},
	"adhd":          {"hyperactive", "impulsive", "can't sit still", "fidget", "disorganized", "procrastinat"},
	"self_harm":     {"self harm", "self-harm", "cutting", "hurt myself", "hurting myself", "burn myself"},
	"suicidal":      {"suicidal", "suicide", "kill myself", "end my life", "better off dead", "don't want to live", "want to die"},
}

type lexiconEntry struct {
	level string
	words []string
}

// Ordered strongest first; the first hit wins.
var severityLexicon = []lexiconEntry{
	{"severe", []string{"extremely", "severe", "unbearable", "terrible", "overwhelming", "very bad", "worst", "constantly"}},
	{"moderate", []string{"moderate", "quite", "pretty bad", "fairly", "significant", "often"}},
	{"mild", []string{"mild", "slight", "a little", "a bit", "somewhat", "minor"}},
}

var frequencyLexicon = []lexiconEntry{
	{"daily", []string{"every day", "everyday", "daily", "all the time", "constantly", "always", "every night"}},
	{"often", []string{"most days", "often", "frequently", "a lot", "regularly"}},
	{"sometimes", []string{"sometimes", "occasionally", "weekly", "now and then", "once in a while"}},
	{"rarely", []string{"rarely", "seldom", "hardly ever", "once or twice"}},
	{"never", []string{"never", "not at all"}},
}

var (
	yesPhrases = []string{
		"yes", "yeah", "yep", "yup", "y", "sure", "definitely", "absolutely", "of course",
		"correct", "true", "i have", "i do", "i am", "i did", "indeed", "often", "sometimes", "a lot", "constantly",
	}
	noPhrases = []string{
		"no", "nope", "nah", "n", "never", "not really", "not at all", "i haven't", "i have not",
		"i don't", "i do not", "i didn't", "none", "false", "not",
	}
	negators    = []string{"not", "never", "no", "hardly"}
	skipPhrases = []string{
		"skip", "pass", "prefer not to say", "prefer not to answer", "rather not", "rather not say",
		"no comment", "don't want to answer", "do not want to answer", "n/a", "not applicable",
	}
)

var (
	numberPattern   = regexp.MustCompile(`-?\d+(?:\.\d+)?`)
	durationPattern = regexp.MustCompile(`\b(\d+|a|an|one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|few|several|couple of)\s+(day|week|month|year)s?\b`)
	sinceDuration   = regexp.MustCompile(`\bsince\s+(?:last\s+)?(\w+)`)
)

var wordNumbers = map[string]float64{
	"zero": 0, "none": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5, "six": 6, "seven": 7,
	"eight": 8, "nine": 9, "ten": 10, "eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14,
	"fifteen": 15, "sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
}

var tensNumbers = map[string]float64{
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50, "sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

// RuleExtractor is the deterministic fallback. It is safe for concurrent use.
type RuleExtractor struct{}

// NewRuleExtractor creates a rule-based extractor.
func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{}
}

// Extract always returns an interpretation whose Kind matches exp.Kind.
func (r *RuleExtractor) Extract(exp Expectation, text string) Interpretation {
	raw := strings.TrimSpace(text)
	normalized := normalize(raw)

	out := Interpretation{
		Kind:   exp.Kind,
		Raw:    raw,
		Source: SourceRules,
	}
	if out.Kind == "" {
		out.Kind = KindFreeText
	}

	out.Symptoms = detectSymptoms(normalized)
	out.Severity = firstLexiconHit(normalized, severityLexicon)
	out.Frequency = firstLexiconHit(normalized, frequencyLexicon)
	out.Duration = detectDuration(normalized)

	if out.Kind != KindChoice && isSkip(normalized) {
		out.Skipped = true
		out.Confidence = RuleConfidence
		return out
	}

	switch out.Kind {
	case KindYesNo:
		if flag, ok := parseYesNo(normalized); ok {
			out.Flag = boolPtr(flag)
		}
	case KindNumber:
		if n, ok := parseNumber(normalized); ok {
			out.Number = floatPtr(n)
		}
	case KindScale:
		if n, ok := parseScale(normalized, exp.Min, exp.Max); ok {
			out.Number = floatPtr(n)
		}
	case KindChoice:
		out.Choice = matchOption(normalized, exp.Options)
	default:
		out.Value = raw
	}

	if out.Choice == "" && out.Kind == KindChoice && isSkip(normalized) {
		out.Skipped = true
		out.Confidence = RuleConfidence
		return out
	}
	if out.Answered() {
		out.Value = raw
		out.Confidence = RuleConfidence
	}
	return out
}

// normalize lowercases and collapses punctuation into single spaces, keeping
// apostrophes, slashes, dots and minus signs that carry meaning.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '/' || r == '.' || r == '-':
			b.WriteRune(r)
			space = false
		case r == '’':
			b.WriteRune('\'')
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(strings.TrimRight(b.String(), "."))
}

// phraseIndex returns the word-aligned position of phrase in s, or -1.
func phraseIndex(s, phrase string) int {
	padded := " " + s + " "
	idx := strings.Index(padded, " "+phrase+" ")
	if idx < 0 {
		// Allow a trailing period that normalize kept inside the text.
		idx = strings.Index(padded, " "+phrase+". ")
	}
	return idx
}

func containsPhrase(s, phrase string) bool {
	return phraseIndex(s, phrase) >= 0
}

func isSkip(s string) bool {
	for _, p := range skipPhrases {
		if containsPhrase(s, p) {
			return true
		}
	}
	return false
}

// parseYesNo picks whichever polar phrase occurs first in the text. A
// first-person affirmation followed closely by a negator ("i am not") reads as no.
func parseYesNo(s string) (bool, bool) {
	best := -1
	answer := false
	winner := ""
	check := func(phrases []string, value bool) {
		for _, p := range phrases {
			idx := phraseIndex(s, p)
			if idx < 0 {
				continue
			}
			if best < 0 || idx < best {
				best = idx
				answer = value
				winner = p
			}
		}
	}
	check(noPhrases, false)
	check(yesPhrases, true)
	if answer && strings.HasPrefix(winner, "i ") && negatedAfter(s, best+len(winner)) {
		answer = false
	}
	return answer, best >= 0
}

const negationWindow = 2

// negatedAfter reports whether one of the next words after offset is a negator.
func negatedAfter(s string, offset int) bool {
	if offset > len(s) {
		return false
	}
	words := strings.Fields(s[offset:])
	if len(words) > negationWindow {
		words = words[:negationWindow]
	}
	for _, w := range words {
		if slices.Contains(negators, strings.TrimRight(w, ".")) {
			return true
		}
	}
	return false
}

func parseNumber(s string) (float64, bool) {
	if m := numberPattern.FindString(s); m != "" {
		if n, err := strconv.ParseFloat(m, 64); err == nil {
			return n, true
		}
	}
	return parseWordNumber(s)
}

// parseWordNumber understands "seven", "twenty", "twenty five" and "twenty-five".
func parseWordNumber(s string) (float64, bool) {
	words := strings.Fields(strings.ReplaceAll(s, "-", " "))
	for i, w := range words {
		if tens, ok := tensNumbers[w]; ok {
			if i+1 < len(words) {
				if unit, ok := wordNumbers[words[i+1]]; ok && unit > 0 && unit < 10 {
					return tens + unit, true
				}
			}
			return tens, true
		}
		if n, ok := wordNumbers[w]; ok {
			return n, true
		}
	}
	return 0, false
}

// parseScale reads a number and clamps it into [min, max]. Without a number
// the severity words map onto the low, middle or high end of the range.
func parseScale(s string, min, max float64) (float64, bool) {
	if n, ok := parseNumber(s); ok {
		if n < min {
			n = min
		}
		if n > max {
			n = max
		}
		return n, true
	}
	span := max - min
	switch firstLexiconHit(s, severityLexicon) {
	case "mild":
		return min + span*0.25, true
	case "moderate":
		return min + span*0.5, true
	case "severe":
		return min + span*0.85, true
	}
	return 0, false
}

// matchOption resolves free text against the allowed options.
// Order: exact, 1-based index, option contained in text, best token overlap.
func matchOption(s string, options []string) string {
	if s == "" || len(options) == 0 {
		return ""
	}
	for _, opt := range options {
		if normalize(opt) == s {
			return opt
		}
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 1 && n <= len(options) {
		return options[n-1]
	}
	for _, opt := range options {
		if containsPhrase(s, normalize(opt)) {
			return opt
		}
	}
	// Options such as "Employed full-time/part-time" match on any alternative.
	for _, opt := range options {
		for _, alt := range strings.Split(normalize(opt), "/") {
			alt = strings.TrimSpace(alt)
			if len(alt) >= 3 && containsPhrase(s, alt) {
				return opt
			}
		}
	}

	inputTokens := tokenSet(s)
	best, bestScore := "", 0
	for _, opt := range options {
		score := 0
		for tok := range tokenSet(normalize(opt)) {
			if len(tok) > 2 && inputTokens[tok] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = opt, score
		}
	}
	return best
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(s, func(r rune) bool { return r == ' ' || r == '/' || r == '-' }) {
		set[tok] = true
	}
	return set
}

func detectSymptoms(s string) []string {
	var found []string
	for category, words := range symptomKeywords {
		for _, w := range words {
			if strings.Contains(s, w) {
				found = append(found, category)
				break
			}
		}
	}
	sort.Strings(found)
	return found
}

func firstLexiconHit(s string, lexicon []lexiconEntry) string {
	for _, entry := range lexicon {
		for _, w := range entry.words {
			if containsPhrase(s, w) {
				return entry.level
			}
		}
	}
	return ""
}

func detectDuration(s string) string {
	if m := durationPattern.FindString(s); m != "" {
		return m
	}
	if m := sinceDuration.FindString(s); m != "" {
		return m
	}
	return ""
}
