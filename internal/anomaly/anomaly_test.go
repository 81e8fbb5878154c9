package anomaly

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callscope/callscope/internal/predicate"
)

func ptr(v float64) *float64 { return &v }

type fakeSource struct {
	mu     sync.Mutex
	values map[string][]float64
	err    error
	calls  int
}

func (f *fakeSource) SignalStats(_ context.Context, _, column string) (Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if f.err != nil {
		return Stats{}, f.err
	}

	return ComputeStats(f.values[column]), nil
}

func series(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i + 1)
	}

	return out
}

func TestPercentileOf(t *testing.T) {
	assert.InDelta(t, 0.0, PercentileOf(nil, Percentile), 0)
	assert.InDelta(t, 7.0, PercentileOf([]float64{7}, Percentile), 0)
	assert.InDelta(t, 95.0, PercentileOf(series(100), Percentile), 0)
	assert.InDelta(t, 19.0, PercentileOf(series(20), Percentile), 0)
	assert.InDelta(t, 5.0, PercentileOf([]float64{5, 1, 4, 2, 3}, 1), 0)

	unsorted := []float64{3, 1, 2}
	PercentileOf(unsorted, Percentile)
	assert.Equal(t, []float64{3, 1, 2}, unsorted, "input is not reordered")
}

func TestThreshold_MinimumSamples(t *testing.T) {
	assert.Nil(t, threshold(ComputeStats(series(19)), DefaultMinSamples))
	assert.Nil(t, threshold(ComputeStats(nil), DefaultMinSamples))

	got := threshold(ComputeStats(series(20)), DefaultMinSamples)
	require.NotNil(t, got)
	assert.InDelta(t, 19.0, *got, 0)
}

func TestPredicates(t *testing.T) {
	thresholds := Thresholds{DurationP95: ptr(245), CostP95: ptr(0.42), LatencyP95: nil}

	assert.Equal(t,
		[]predicate.Predicate{{Column: "duration_seconds", Operator: predicate.Gte, Value: 245.0}},
		Predicates(Toggles{SignalDuration: true}, thresholds))

	assert.Empty(t, Predicates(Toggles{SignalDuration: false}, thresholds))

	assert.Empty(t, Predicates(Toggles{SignalLatency: true}, thresholds), "no threshold, no predicate")

	assert.Equal(t, []predicate.Predicate{
		{Column: "duration_seconds", Operator: predicate.Gte, Value: 245.0},
		{Column: "total_cost", Operator: predicate.Gte, Value: 0.42},
	}, Predicates(Toggles{SignalCost: true, SignalDuration: true, SignalLatency: true}, thresholds))
}

func TestParseToggles(t *testing.T) {
	toggles := ParseToggles([]string{"duration", "latency", "bogus"})

	assert.Equal(t, Toggles{SignalDuration: true, SignalLatency: true}, toggles)
}

func TestService_Thresholds(t *testing.T) {
	src := &fakeSource{values: map[string][]float64{
		"duration_seconds": series(100),
		"total_cost":       series(5),
		"avg_latency":      series(40),
	}}
	svc := NewService(src)
	ctx := context.Background()

	got := svc.Thresholds(ctx, "agent-1")

	require.NotNil(t, got.DurationP95)
	assert.InDelta(t, 95.0, *got.DurationP95, 0)
	assert.Nil(t, got.CostP95, "five samples is not enough")
	require.NotNil(t, got.LatencyP95)
	assert.InDelta(t, 38.0, *got.LatencyP95, 0)

	callsAfterFirst := src.calls
	assert.Equal(t, got, svc.Thresholds(ctx, "agent-1"))
	assert.Equal(t, callsAfterFirst, src.calls, "served from cache")

	svc.Refresh(ctx, "agent-1")
	assert.Equal(t, 2*callsAfterFirst, src.calls)
}

func TestService_MinSamplesOption(t *testing.T) {
	src := &fakeSource{values: map[string][]float64{"total_cost": series(5)}}
	svc := NewService(src, WithMinSamples(5))

	got := svc.Thresholds(context.Background(), "agent-1")

	require.NotNil(t, got.CostP95)
	assert.InDelta(t, 5.0, *got.CostP95, 0)
	assert.Nil(t, got.DurationP95)
}

func TestService_SourceFailureDegrades(t *testing.T) {
	src := &fakeSource{err: errors.New("timeout")}
	svc := NewService(src)
	ctx := context.Background()

	assert.Equal(t, Thresholds{}, svc.Thresholds(ctx, "agent-1"))

	src.mu.Lock()
	src.err = nil
	src.values = map[string][]float64{"duration_seconds": series(20)}
	src.mu.Unlock()

	got := svc.Thresholds(ctx, "agent-1")
	require.NotNil(t, got.DurationP95, "failures are not cached")
}

func TestService_Invalidate(t *testing.T) {
	src := &fakeSource{values: map[string][]float64{}}
	svc := NewService(src)
	ctx := context.Background()

	svc.Thresholds(ctx, "agent-1")
	svc.Invalidate(ctx, "agent-1")
	svc.Thresholds(ctx, "agent-1")

	assert.Equal(t, 2*len(Signals()), src.calls)
}

// gatedSource holds the first SignalStats call until release is closed and
// answers it from old; every other call answers from current.
type gatedSource struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	release chan struct{}
	old     map[string][]float64
	current map[string][]float64
}

func (g *gatedSource) SignalStats(_ context.Context, _, column string) (Stats, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()

	if first {
		close(g.started)
		<-g.release

		return ComputeStats(g.old[column]), nil
	}

	return ComputeStats(g.current[column]), nil
}

func (g *gatedSource) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.calls
}

func TestService_RefreshDoesNotJoinInFlightComputation(t *testing.T) {
	src := &gatedSource{
		started: make(chan struct{}),
		release: make(chan struct{}),
		old:     map[string][]float64{"duration_seconds": series(100)},
		current: map[string][]float64{"duration_seconds": series(200)},
	}
	svc := NewService(src)
	ctx := context.Background()

	done := make(chan Thresholds)

	go func() { done <- svc.Thresholds(ctx, "agent-1") }()

	<-src.started

	refreshed := svc.Refresh(ctx, "agent-1")
	require.NotNil(t, refreshed.DurationP95)
	assert.InDelta(t, 190.0, *refreshed.DurationP95, 0)

	close(src.release)
	<-done

	calls := src.callCount()
	got := svc.Thresholds(ctx, "agent-1")

	require.NotNil(t, got.DurationP95)
	assert.InDelta(t, 190.0, *got.DurationP95, 0, "stale thresholds are not cached")
	assert.Equal(t, calls, src.callCount(), "served from cache")
}
