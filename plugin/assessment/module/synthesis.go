package module

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hrygo/assessment/plugin/ai/extract"
)

const (
	keyStage    = "stage"
	keyDone     = "done"
	keyAnalysis = "analysis"
	keyPlan     = "plan"
)

const (
	stageConfirm     = 0
	stageCorrections = 1
)

const safetyNotice = "Some of your answers mention thoughts of harming yourself. If you are in danger right now, " +
	"please contact your local emergency number or a crisis line. A clinician will review this assessment with priority."

// DiagnosticConfig configures the diagnostic synthesis.
type DiagnosticConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// Screens maps "<module>.<question>" yes/no answers onto a symptom category.
	Screens map[string]string `yaml:"screens"`
	// SeveritySource names a "<module>.<question>" scale answer used as the self-rated severity.
	SeveritySource string  `yaml:"severity_source"`
	SeverityMax    float64 `yaml:"severity_max"`
}

// DiagnosticSynthesis aggregates upstream results into a preliminary picture
// and asks the subject to confirm it.
type DiagnosticSynthesis struct {
	Base
	cfg DiagnosticConfig
}

// NewDiagnosticSynthesis builds the diagnostic synthesis module.
func NewDiagnosticSynthesis(id string, raw Config) (Module, error) {
	cfg := DiagnosticConfig{Name: "Diagnostic Synthesis", SeverityMax: 10}
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.SeverityMax <= 0 {
		return nil, fmt.Errorf("severity_max must be positive")
	}
	for ref := range cfg.Screens {
		if _, _, ok := splitRef(ref); !ok {
			return nil, fmt.Errorf("screen %q must look like module.question", ref)
		}
	}
	if cfg.SeveritySource != "" {
		if _, _, ok := splitRef(cfg.SeveritySource); !ok {
			return nil, fmt.Errorf("severity_source %q must look like module.question", cfg.SeveritySource)
		}
	}
	return &DiagnosticSynthesis{
		Base: NewBase(Info{
			ID:          id,
			Name:        cfg.Name,
			Description: cfg.Description,
			Version:     "1.0.0",
			Kind:        KindSynthesis,
		}),
		cfg: cfg,
	}, nil
}

// Start implements Module.
func (d *DiagnosticSynthesis) Start(_ context.Context, st *State) (string, error) {
	if st.Data == nil {
		st.Data = map[string]any{}
	}
	resetState(st)
	analysis := d.analyze(st.Results)
	st.Data[keyAnalysis] = analysis
	st.Data[keyStage] = stageConfirm

	var b strings.Builder
	if flagged, _ := boolValue(analysis["risk_flag"]); flagged {
		b.WriteString(safetyNotice)
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "%s\n", d.info.Name)
	fmt.Fprintf(&b, "Based on your answers, the main area of concern appears to be %s, with %s overall severity.",
		readable(stringValue(analysis["primary_concern"])), stringValue(analysis["severity"]))
	if screens := stringsValue(analysis["positive_screens"]); len(screens) > 0 {
		fmt.Fprintf(&b, " You reported %d of the screening symptoms.", len(screens))
	}
	b.WriteString("\n\n")
	b.WriteString(confirmPrompt)
	return b.String(), nil
}

const (
	confirmPrompt     = "Does this summary reflect your experience?"
	correctionsPrompt = "What did we miss or get wrong?"
)

// Expect implements Module.
func (d *DiagnosticSynthesis) Expect(st *State) extract.Expectation {
	if intValue(st.Data[keyStage]) == stageCorrections {
		return extract.Expectation{Module: d.info.ID, Field: "corrections", Prompt: correctionsPrompt, Kind: extract.KindFreeText, Optional: true}
	}
	return extract.Expectation{Module: d.info.ID, Field: "confirmed", Prompt: confirmPrompt, Kind: extract.KindYesNo, Optional: true}
}

// Advance implements Module.
func (d *DiagnosticSynthesis) Advance(_ context.Context, st *State, in extract.Interpretation) (Outcome, error) {
	if st.Data == nil || st.Data[keyAnalysis] == nil {
		return Outcome{}, fmt.Errorf("synthesis %s: advance before start", d.info.ID)
	}

	switch intValue(st.Data[keyStage]) {
	case stageConfirm:
		if !in.Answered() {
			if retries := intValue(st.Data[keyRetries]) + 1; retries <= maxRetries {
				st.Data[keyRetries] = retries
				return Outcome{Prompt: "Please answer yes or no. " + confirmPrompt}, nil
			}
			return d.complete(st), nil
		}
		if in.Skipped || in.Flag == nil {
			return d.complete(st), nil
		}
		st.Data["confirmed"] = *in.Flag
		if !*in.Flag {
			delete(st.Data, keyRetries)
			st.Data[keyStage] = stageCorrections
			return Outcome{Prompt: correctionsPrompt}, nil
		}
		return d.complete(st), nil
	default:
		if in.Answered() && !in.Skipped {
			st.Data["corrections"] = in.Raw
		}
		return d.complete(st), nil
	}
}

// IsComplete implements Module.
func (d *DiagnosticSynthesis) IsComplete(st *State) bool {
	if st == nil || st.Data == nil {
		return false
	}
	done, _ := boolValue(st.Data[keyDone])
	return done
}

func (d *DiagnosticSynthesis) complete(st *State) Outcome {
	st.Data[keyDone] = true
	result := map[string]any{}
	for k, v := range mapValue(st.Data, keyAnalysis) {
		result[k] = v
	}
	if confirmed, ok := boolValue(st.Data["confirmed"]); ok {
		result["confirmed"] = confirmed
	}
	if corrections := stringValue(st.Data["corrections"]); corrections != "" {
		result["corrections"] = corrections
	}
	return Outcome{Complete: true, Result: result}
}

// analyze scores symptom categories across every committed upstream result.
func (d *DiagnosticSynthesis) analyze(results map[string]map[string]any) map[string]any {
	scores := map[string]int{}
	var considered []string
	strongestSignal := ""

	for moduleID, result := range results {
		if moduleID == d.info.ID || len(result) == 0 {
			continue
		}
		considered = append(considered, moduleID)
		signals, _ := result[keySignals].(map[string]any)
		for _, s := range stringsValue(signals[keySymptoms]) {
			scores[s]++
		}
		strongestSignal = strongerSeverity(strongestSignal, stringValue(signals["severity"]))
	}
	sort.Strings(considered)

	var positive []string
	for ref, category := range d.cfg.Screens {
		if yes, ok := boolValue(lookupAnswer(results, ref)); ok && yes {
			scores[category]++
			positive = append(positive, ref)
		}
	}
	sort.Strings(positive)

	severity := ""
	if d.cfg.SeveritySource != "" {
		if rating, ok := floatValue(lookupAnswer(results, d.cfg.SeveritySource)); ok {
			severity = severityFromRating(rating, d.cfg.SeverityMax)
		}
	}
	if severity == "" {
		severity = strongestSignal
	}
	if severity == "" {
		total := 0
		for _, n := range scores {
			total += n
		}
		severity = severityFromCount(total)
	}

	categories := map[string]any{}
	for c, n := range scores {
		categories[c] = n
	}

	return map[string]any{
		"symptom_categories": categories,
		"positive_screens":   positive,
		"primary_concern":    primaryConcern(scores),
		"severity":           severity,
		"risk_flag":          scores["suicidal"] > 0 || scores["self_harm"] > 0,
		"modules_considered": considered,
	}
}

// TreatmentPlanConfig configures the treatment planning synthesis.
type TreatmentPlanConfig struct {
	Name            string `yaml:"name"`
	Description     string `yaml:"description"`
	DiagnosisModule string `yaml:"diagnosis_module"`
	GoalsModule     string `yaml:"goals_module"`
}

// TreatmentPlan derives a care plan from the diagnostic synthesis and the
// subject's stated goals, then asks for delivery preferences.
type TreatmentPlan struct {
	Base
	cfg TreatmentPlanConfig
}

// NewTreatmentPlan builds the treatment planning module.
func NewTreatmentPlan(id string, raw Config) (Module, error) {
	cfg := TreatmentPlanConfig{Name: "Treatment Planning", DiagnosisModule: TypeSynthesisDA}
	if err := decodeConfig(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.DiagnosisModule == "" {
		return nil, fmt.Errorf("diagnosis_module is required")
	}
	return &TreatmentPlan{
		Base: NewBase(Info{
			ID:          id,
			Name:        cfg.Name,
			Description: cfg.Description,
			Version:     "1.0.0",
			Kind:        KindSynthesis,
		}),
		cfg: cfg,
	}, nil
}

const preferencesPrompt = "Do you have any preferences for how you'd like to receive support " +
	"(for example in person or online, individual or group, times that work for you)?"

var recommendations = map[string]string{
	"mood":          "Behavioral activation with regular mood monitoring",
	"anxiety":       "Cognitive behavioral therapy for anxiety",
	"sleep":         "Sleep hygiene review and CBT for insomnia",
	"appetite":      "Nutrition and eating pattern review with primary care",
	"energy":        "Activity pacing and a medical check for fatigue",
	"concentration": "Attention and organization strategies",
	"panic":         "Panic-focused CBT with breathing retraining",
	"trauma":        "Referral for trauma-focused therapy",
	"ocd":           "Exposure and response prevention",
	"adhd":          "Referral for ADHD evaluation",
	"self_harm":     "Safety planning with a clinician",
	"suicidal":      "Same-day clinical risk review and safety planning",
}

// Start implements Module.
func (p *TreatmentPlan) Start(_ context.Context, st *State) (string, error) {
	if st.Data == nil {
		st.Data = map[string]any{}
	}
	resetState(st)
	plan := p.buildPlan(st.Results)
	st.Data[keyPlan] = plan

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", p.info.Name)
	fmt.Fprintf(&b, "Recommended level of care: %s.\n", readable(stringValue(plan["care_level"])))
	for _, r := range stringsValue(plan["recommendations"]) {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	if goals := stringsValue(plan["goals"]); len(goals) > 0 {
		fmt.Fprintf(&b, "Your goals: %s\n", strings.Join(goals, "; "))
	}
	b.WriteString("\n")
	b.WriteString(preferencesPrompt)
	return b.String(), nil
}

// Expect implements Module.
func (p *TreatmentPlan) Expect(_ *State) extract.Expectation {
	return extract.Expectation{Module: p.info.ID, Field: "preferences", Prompt: preferencesPrompt, Kind: extract.KindFreeText, Optional: true}
}

// Advance implements Module.
func (p *TreatmentPlan) Advance(_ context.Context, st *State, in extract.Interpretation) (Outcome, error) {
	if st.Data == nil || st.Data[keyPlan] == nil {
		return Outcome{}, fmt.Errorf("synthesis %s: advance before start", p.info.ID)
	}
	if !in.Answered() {
		if retries := intValue(st.Data[keyRetries]) + 1; retries <= maxRetries {
			st.Data[keyRetries] = retries
			return Outcome{Prompt: "Could you share any preferences, or say skip? " + preferencesPrompt}, nil
		}
	}

	st.Data[keyDone] = true
	result := map[string]any{}
	for k, v := range mapValue(st.Data, keyPlan) {
		result[k] = v
	}
	if in.Answered() && !in.Skipped {
		result["preferences"] = in.Raw
	}
	return Outcome{Complete: true, Result: result}, nil
}

// IsComplete implements Module.
func (p *TreatmentPlan) IsComplete(st *State) bool {
	if st == nil || st.Data == nil {
		return false
	}
	done, _ := boolValue(st.Data[keyDone])
	return done
}

func (p *TreatmentPlan) buildPlan(results map[string]map[string]any) map[string]any {
	diagnosis := results[p.cfg.DiagnosisModule]
	severity := stringValue(diagnosis["severity"])
	risk, _ := boolValue(diagnosis["risk_flag"])

	scores := map[string]int{}
	if categories, ok := diagnosis["symptom_categories"].(map[string]any); ok {
		for c, v := range categories {
			scores[c] = intValue(v)
		}
	}
	focus := rankCategories(scores, 3)

	var recs []string
	if risk {
		recs = append(recs, recommendations["suicidal"])
	}
	for _, c := range focus {
		if r, ok := recommendations[c]; ok && !(risk && (c == "suicidal" || c == "self_harm")) {
			recs = append(recs, r)
		}
	}
	if len(recs) == 0 {
		recs = append(recs, "Check in with a clinician to review these results")
	}

	var goals []string
	if p.cfg.GoalsModule != "" {
		answers, _ := results[p.cfg.GoalsModule][keyAnswers].(map[string]any)
		keys := make([]string, 0, len(answers))
		for k := range answers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if s := strings.TrimSpace(stringValue(answers[k])); s != "" {
				goals = append(goals, s)
			}
		}
	}

	return map[string]any{
		"care_level":      careLevel(severity, risk),
		"focus_areas":     focus,
		"recommendations": recs,
		"goals":           goals,
		"based_on":        p.cfg.DiagnosisModule,
	}
}

func careLevel(severity string, risk bool) string {
	if risk {
		return "urgent_clinical_review"
	}
	switch severity {
	case "severe":
		return "intensive_outpatient"
	case "moderate":
		return "outpatient_therapy"
	default:
		return "self_guided_support"
	}
}

func severityFromRating(rating, max float64) string {
	ratio := rating / max
	switch {
	case ratio <= 0.3:
		return "mild"
	case ratio <= 0.6:
		return "moderate"
	default:
		return "severe"
	}
}

func severityFromCount(n int) string {
	switch {
	case n == 0:
		return "minimal"
	case n <= 2:
		return "mild"
	case n <= 4:
		return "moderate"
	default:
		return "severe"
	}
}

func primaryConcern(scores map[string]int) string {
	ranked := rankCategories(scores, 1)
	if len(ranked) == 0 {
		return "none"
	}
	return ranked[0]
}

// rankCategories orders categories by score, ties alphabetically.
func rankCategories(scores map[string]int, limit int) []string {
	ranked := make([]string, 0, len(scores))
	for c, n := range scores {
		if n > 0 {
			ranked = append(ranked, c)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if scores[ranked[i]] != scores[ranked[j]] {
			return scores[ranked[i]] > scores[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func lookupAnswer(results map[string]map[string]any, ref string) any {
	moduleID, key, ok := splitRef(ref)
	if !ok {
		return nil
	}
	answers, _ := results[moduleID][keyAnswers].(map[string]any)
	return answers[key]
}

func splitRef(ref string) (string, string, bool) {
	moduleID, key, ok := strings.Cut(ref, ".")
	if !ok || moduleID == "" || key == "" {
		return "", "", false
	}
	return moduleID, key, true
}

func readable(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}
