// Package metrics aggregates turn and extraction metrics of the assessment engine in memory.
package metrics

import (
	"context"
	"time"
)

// Turn outcomes.
const (
	OutcomeAdvanced        = "advanced"
	OutcomeTransitioned    = "transitioned"
	OutcomeCompleted       = "completed"
	OutcomePrerequisite    = "prerequisite_unmet"
	OutcomeConflict        = "conflict"
	OutcomePersistence     = "persistence_error"
	OutcomeRejected        = "rejected"
	OutcomeReplayed        = "replayed"
	OutcomeInternalFailure = "internal_error"
)

// MetricsService defines the metrics service interface.
type MetricsService interface {
	// RecordTurn records a processed turn for the given module.
	RecordTurn(ctx context.Context, module string, latency time.Duration, outcome string)

	// RecordExtraction records one response interpretation; source is "llm" or "rules".
	RecordExtraction(ctx context.Context, source string, latency time.Duration, success bool)

	// GetStats returns the aggregated statistics kept in memory.
	GetStats(ctx context.Context) *Stats
}

// Stats represents aggregated metrics.
type Stats struct {
	TurnCount     int64                      `json:"turn_count"`
	LatencyP50    time.Duration              `json:"latency_p50"`
	LatencyP95    time.Duration              `json:"latency_p95"`
	Outcomes      map[string]int64           `json:"outcomes"`
	ModuleStats   map[string]*ModuleStat     `json:"module_stats"`
	ExtractionMix map[string]*ExtractionStat `json:"extraction_mix"`
}

// ModuleStat represents statistics for a single module.
type ModuleStat struct {
	Count      int64         `json:"count"`
	AvgLatency time.Duration `json:"avg_latency"`
}

// ExtractionStat represents statistics for one interpretation source.
type ExtractionStat struct {
	Count       int64         `json:"count"`
	SuccessRate float32       `json:"success_rate"`
	AvgLatency  time.Duration `json:"avg_latency"`
}
