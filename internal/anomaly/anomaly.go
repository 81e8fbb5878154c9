// Package anomaly computes per-agent 95th percentile thresholds for call
// duration, cost and latency, and turns enabled anomaly toggles into
// "at or above the threshold" predicates.
package anomaly

import (
	"math"
	"sort"

	"github.com/callscope/callscope/internal/predicate"
)

// Signal is a metric that can be flagged as anomalous.
type Signal string

// Signals, in the order their predicates are emitted.
const (
	SignalDuration Signal = "duration"
	SignalCost     Signal = "cost"
	SignalLatency  Signal = "latency"
)

// Percentile used for every signal.
const Percentile = 0.95

// DefaultMinSamples is the smallest population a threshold is computed from.
const DefaultMinSamples = 20

// Signals lists all signals in emission order.
func Signals() []Signal {
	return []Signal{SignalDuration, SignalCost, SignalLatency}
}

// Column returns the call-log column a signal is measured on.
func (s Signal) Column() string {
	switch s {
	case SignalDuration:
		return "duration_seconds"
	case SignalCost:
		return "total_cost"
	case SignalLatency:
		return "avg_latency"
	default:
		return ""
	}
}

// Valid reports whether s is a known signal.
func (s Signal) Valid() bool {
	return s.Column() != ""
}

// Thresholds holds the p95 of each signal. A nil field means there was not
// enough data to compute it.
type Thresholds struct {
	DurationP95 *float64 `json:"durationP95"`
	CostP95     *float64 `json:"costP95"`
	LatencyP95  *float64 `json:"latencyP95"`
}

// For returns the threshold of a signal.
func (t Thresholds) For(s Signal) *float64 {
	switch s {
	case SignalDuration:
		return t.DurationP95
	case SignalCost:
		return t.CostP95
	case SignalLatency:
		return t.LatencyP95
	default:
		return nil
	}
}

func (t *Thresholds) set(s Signal, v *float64) {
	switch s {
	case SignalDuration:
		t.DurationP95 = v
	case SignalCost:
		t.CostP95 = v
	case SignalLatency:
		t.LatencyP95 = v
	}
}

// Toggles records which signals the user enabled.
type Toggles map[Signal]bool

// ParseToggles builds toggles from signal names, ignoring unknown names.
func ParseToggles(names []string) Toggles {
	t := make(Toggles, len(names))
	for _, n := range names {
		if s := Signal(n); s.Valid() {
			t[s] = true
		}
	}

	return t
}

// Predicates returns one "column gte p95" predicate per enabled signal that
// has a threshold, in signal order.
func Predicates(toggles Toggles, thresholds Thresholds) []predicate.Predicate {
	var preds []predicate.Predicate

	for _, s := range Signals() {
		if !toggles[s] {
			continue
		}

		if p95 := thresholds.For(s); p95 != nil {
			preds = append(preds, predicate.Predicate{Column: s.Column(), Operator: predicate.Gte, Value: *p95})
		}
	}

	return preds
}

// Stats summarizes the population of one signal.
type Stats struct {
	Count int
	P95   float64
}

// ComputeStats returns the count and nearest-rank p95 of values.
func ComputeStats(values []float64) Stats {
	return Stats{Count: len(values), P95: PercentileOf(values, Percentile)}
}

// PercentileOf returns the nearest-rank percentile p (0..1] of values, the
// same definition Postgres percentile_disc uses. Empty input returns 0.
func PercentileOf(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	rank := int(math.Ceil(p*float64(len(sorted))-1e-9)) - 1
	rank = max(0, min(rank, len(sorted)-1))

	return sorted[rank]
}

// threshold applies the minimum sample rule.
func threshold(stats Stats, minSamples int) *float64 {
	if stats.Count < minSamples {
		return nil
	}

	v := stats.P95

	return &v
}
