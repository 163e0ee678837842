package metrics

import (
	"sort"
	"sync"
	"time"
)

// Aggregator aggregates metrics in hourly buckets.
type Aggregator struct {
	mu sync.RWMutex

	// Turn metrics: key = "hourBucket|module"
	turnMetrics map[string]*turnBucket

	// Extraction metrics: key = "hourBucket|source"
	extractionMetrics map[string]*extractionBucket
}

type turnBucket struct {
	hourBucket time.Time
	module     string
	count      int64
	outcomes   map[string]int64
	latencies  []int64 // in milliseconds
}

type extractionBucket struct {
	hourBucket   time.Time
	source       string
	count        int64
	successCount int64
	latencySum   int64 // in milliseconds
}

// NewAggregator creates a new metrics aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		turnMetrics:       make(map[string]*turnBucket),
		extractionMetrics: make(map[string]*extractionBucket),
	}
}

// RecordTurn records a single processed turn.
func (a *Aggregator) RecordTurn(module string, latency time.Duration, outcome string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	hourBucket := truncateToHour(time.Now())
	key := makeKey(hourBucket, module)

	bucket, exists := a.turnMetrics[key]
	if !exists {
		bucket = &turnBucket{
			hourBucket: hourBucket,
			module:     module,
			outcomes:   make(map[string]int64),
			latencies:  make([]int64, 0, 100),
		}
		a.turnMetrics[key] = bucket
	}

	bucket.count++
	bucket.outcomes[outcome]++
	bucket.latencies = append(bucket.latencies, latency.Milliseconds())
}

// RecordExtraction records a single response interpretation.
func (a *Aggregator) RecordExtraction(source string, latency time.Duration, success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	hourBucket := truncateToHour(time.Now())
	key := makeKey(hourBucket, source)

	bucket, exists := a.extractionMetrics[key]
	if !exists {
		bucket = &extractionBucket{
			hourBucket: hourBucket,
			source:     source,
		}
		a.extractionMetrics[key] = bucket
	}

	bucket.count++
	if success {
		bucket.successCount++
	}
	bucket.latencySum += latency.Milliseconds()
}

// Prune drops all buckets older than the given hour and returns how many were removed.
func (a *Aggregator) Prune(beforeHour time.Time) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	removed := 0
	for key, bucket := range a.turnMetrics {
		if bucket.hourBucket.Before(beforeHour) {
			delete(a.turnMetrics, key)
			removed++
		}
	}
	for key, bucket := range a.extractionMetrics {
		if bucket.hourBucket.Before(beforeHour) {
			delete(a.extractionMetrics, key)
			removed++
		}
	}
	return removed
}

// GetCurrentStats returns aggregated stats across all retained buckets.
func (a *Aggregator) GetCurrentStats() *Stats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := &Stats{
		Outcomes:      make(map[string]int64),
		ModuleStats:   make(map[string]*ModuleStat),
		ExtractionMix: make(map[string]*ExtractionStat),
	}

	allLatencies := make([]int64, 0)
	moduleLatency := make(map[string]int64)
	for _, bucket := range a.turnMetrics {
		stats.TurnCount += bucket.count
		allLatencies = append(allLatencies, bucket.latencies...)
		for outcome, n := range bucket.outcomes {
			stats.Outcomes[outcome] += n
		}

		moduleStat, exists := stats.ModuleStats[bucket.module]
		if !exists {
			moduleStat = &ModuleStat{}
			stats.ModuleStats[bucket.module] = moduleStat
		}
		moduleStat.Count += bucket.count
		moduleLatency[bucket.module] += sumLatencies(bucket.latencies)
	}
	for module, stat := range stats.ModuleStats {
		if stat.Count > 0 {
			stat.AvgLatency = time.Duration(moduleLatency[module]/stat.Count) * time.Millisecond
		}
	}

	type extractionAgg struct {
		success    int64
		latencySum int64
	}
	aggs := make(map[string]*extractionAgg)
	for _, bucket := range a.extractionMetrics {
		stat, exists := stats.ExtractionMix[bucket.source]
		if !exists {
			stat = &ExtractionStat{}
			stats.ExtractionMix[bucket.source] = stat
			aggs[bucket.source] = &extractionAgg{}
		}
		stat.Count += bucket.count
		aggs[bucket.source].success += bucket.successCount
		aggs[bucket.source].latencySum += bucket.latencySum
	}
	for source, stat := range stats.ExtractionMix {
		if stat.Count > 0 {
			stat.SuccessRate = float32(aggs[source].success) / float32(stat.Count)
			stat.AvgLatency = time.Duration(aggs[source].latencySum/stat.Count) * time.Millisecond
		}
	}

	stats.LatencyP50 = time.Duration(percentile(allLatencies, 50)) * time.Millisecond
	stats.LatencyP95 = time.Duration(percentile(allLatencies, 95)) * time.Millisecond

	return stats
}

// Helper functions

func truncateToHour(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

func makeKey(hourBucket time.Time, name string) string {
	return hourBucket.Format(time.RFC3339) + "|" + name
}

func sumLatencies(latencies []int64) int64 {
	var sum int64
	for _, l := range latencies {
		sum += l
	}
	return sum
}

func percentile(latencies []int64, p int) int64 {
	if len(latencies) == 0 {
		return 0
	}

	sorted := make([]int64, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := (len(sorted) - 1) * p / 100
	return sorted[idx]
}
