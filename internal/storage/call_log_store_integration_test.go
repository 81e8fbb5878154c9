package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callscope/callscope/internal/anomaly"
	"github.com/callscope/callscope/internal/compiler"
	"github.com/callscope/callscope/internal/config"
	"github.com/callscope/callscope/internal/cursor"
	"github.com/callscope/callscope/internal/discovery"
	"github.com/callscope/callscope/internal/filter"
	"github.com/callscope/callscope/internal/predicate"
)

// setupTestConnection starts a migrated Postgres container and connects to it.
func setupTestConnection(ctx context.Context, t *testing.T) *Connection {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)

	conn, err := NewConnection(NewConfig(testDB.URL)) //nolint:contextcheck
	require.NoError(t, err, "failed to connect to test database")

	t.Cleanup(func() { _ = conn.Close() })

	return conn
}

func strPtr(s string) *string { return &s }

func f64Ptr(v float64) *float64 { return &v }

func timePtr(t time.Time) *time.Time { return &t }

// seedCalls inserts n calls for agentID. Call i lasts i+1 seconds, costs
// (i+1)/100, was created i minutes after base and carries metadata
// {"intent": "refund"|"billing", "score": i}.
func seedCalls(ctx context.Context, t *testing.T, store *CallLogStore, agentID string, n int) {
	t.Helper()

	base := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)
	logs := make([]CallLog, n)

	for i := range n {
		intent := "billing"
		if i%2 == 0 {
			intent = "refund"
		}

		reason := "customer-ended-call"
		if i%5 == 0 {
			reason = "pipeline-error-openai"
		}

		started := base.Add(time.Duration(i) * time.Minute)

		logs[i] = CallLog{
			AgentID:         agentID,
			CallID:          fmt.Sprintf("%s-call-%03d", agentID, i),
			CustomerNumber:  strPtr(fmt.Sprintf("+1555000%04d", i)),
			CallEndedReason: strPtr(reason),
			Environment:     strPtr("prod"),
			DurationSeconds: f64Ptr(float64(i + 1)),
			TotalCost:       f64Ptr(float64(i+1) / 100),
			AvgLatency:      f64Ptr(float64(800 + i)),
			CallStartedAt:   timePtr(started),
			CallEndedAt:     timePtr(started.Add(time.Duration(i+1) * time.Second)),
			CreatedAt:       started,
			Metadata:        types.JSONText(fmt.Sprintf(`{"intent": %q, "score": %d}`, intent, i)),
			Metrics:         types.JSONText(`{"wer": 0.08}`),
		}
	}

	inserted, err := store.Insert(ctx, logs...)
	require.NoError(t, err)
	require.Equal(t, n, inserted)
}

func TestCallLogStore_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	conn := setupTestConnection(ctx, t)
	store := NewCallLogStore(conn)

	seedCalls(ctx, t, store, "agent-1", 30)
	seedCalls(ctx, t, store, "agent-2", 5)

	scope := compiler.ScopePredicate("agent-1")

	t.Run("insert skips duplicates", func(t *testing.T) {
		inserted, err := store.Insert(ctx, CallLog{AgentID: "agent-1", CallID: "agent-1-call-000"})
		require.NoError(t, err)
		assert.Zero(t, inserted)
	})

	t.Run("insert rejects negative duration", func(t *testing.T) {
		_, err := store.Insert(ctx, CallLog{AgentID: "agent-3", CallID: "bad", DurationSeconds: f64Ptr(-1)})
		assert.ErrorIs(t, err, ErrInvalidCallLog)
	})

	t.Run("count is scoped", func(t *testing.T) {
		n, err := store.Count(ctx, []predicate.Predicate{scope})
		require.NoError(t, err)
		assert.Equal(t, 30, n)

		all, err := store.Count(ctx, nil)
		require.NoError(t, err)
		assert.Equal(t, 35, all)
	})

	t.Run("compiled filters", func(t *testing.T) {
		c := compiler.New()
		res := c.Compile(compiler.Input{
			Groups: []filter.Group{{
				ID:    "g",
				Logic: filter.LogicAnd,
				Rules: []filter.Rule{
					{ID: "a", Column: "call_ended_reason", Operation: filter.OpContains, Value: "ERROR"},
					{ID: "b", Column: "metadata", JSONField: "intent", Operation: filter.OpJSONEquals, Value: "refund"},
				},
			}},
			AgentID: "agent-1",
		})
		require.Empty(t, res.Warnings)

		n, err := store.Count(ctx, res.Predicates)
		require.NoError(t, err)
		assert.Equal(t, 3, n, "i in {0, 10, 20}")
	})

	t.Run("json numeric comparison", func(t *testing.T) {
		n, err := store.Count(ctx, []predicate.Predicate{
			scope,
			{Column: "metadata.score (numeric)", Operator: predicate.Gte, Value: 25.0},
		})
		require.NoError(t, err)
		assert.Equal(t, 5, n)

		n, err = store.Count(ctx, []predicate.Predicate{
			scope,
			{Column: "metadata.intent (numeric)", Operator: predicate.Gt, Value: 0.5},
		})
		require.NoError(t, err)
		assert.Zero(t, n, "non-numeric text never matches")

		n, err = store.Count(ctx, []predicate.Predicate{
			scope,
			{Column: "metadata.score (numeric)", Operator: predicate.Gt, Value: nil},
		})
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("date range", func(t *testing.T) {
		got, err := compiler.New().CompileRule(
			filter.Rule{ID: "d", Column: "call_started_at", Operation: filter.OpEquals, Value: "2024-01-15"}, nil)
		require.NoError(t, err)

		n, err := store.Count(ctx, append(got, scope))
		require.NoError(t, err)
		assert.Equal(t, 30, n)
	})

	t.Run("json exists", func(t *testing.T) {
		n, err := store.Count(ctx, []predicate.Predicate{
			scope,
			{Column: "transcription_metrics->>provider", Operator: predicate.NotNull},
		})
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = store.Count(ctx, []predicate.Predicate{
			scope,
			{Column: "metrics->>wer", Operator: predicate.NotNull},
		})
		require.NoError(t, err)
		assert.Equal(t, 30, n)
	})

	t.Run("pages through the cursor", func(t *testing.T) {
		cur := cursor.New[CallLog](store,
			cursor.WithPageSize(7),
			cursor.WithSort(cursor.Sort{Column: "duration_seconds", Direction: cursor.Asc}))
		cur.SetPredicates([]predicate.Predicate{scope})

		for cur.HasMore() {
			require.NoError(t, cur.LoadMore(ctx))
		}

		items := cur.Items()
		require.Len(t, items, 30)

		for i, row := range items {
			require.NotNil(t, row.DurationSeconds)
			assert.InDelta(t, float64(i+1), *row.DurationSeconds, 0)
		}

		cur.ToggleSort("duration_seconds")
		require.NoError(t, cur.LoadMore(ctx))
		assert.InDelta(t, 30.0, *cur.Items()[0].DurationSeconds, 0)
	})

	t.Run("get by call ids", func(t *testing.T) {
		rows, err := store.Get(ctx, "agent-1", []string{"agent-1-call-001", "agent-1-call-002", "agent-2-call-001"})
		require.NoError(t, err)
		assert.Len(t, rows, 2)
	})

	t.Run("signal stats match nearest rank", func(t *testing.T) {
		stats, err := store.SignalStats(ctx, "agent-1", "duration_seconds")
		require.NoError(t, err)

		values := make([]float64, 30)
		for i := range values {
			values[i] = float64(i + 1)
		}

		assert.Equal(t, anomaly.ComputeStats(values), stats)

		_, err = store.SignalStats(ctx, "agent-1", "customer_number")
		assert.ErrorIs(t, err, ErrInvalidSignalColumn)

		empty, err := store.SignalStats(ctx, "nobody", "total_cost")
		require.NoError(t, err)
		assert.Equal(t, anomaly.Stats{}, empty)
	})

	t.Run("thresholds service", func(t *testing.T) {
		svc := anomaly.NewService(store)

		thresholds := svc.Thresholds(ctx, "agent-1")
		require.NotNil(t, thresholds.DurationP95)
		assert.InDelta(t, 29.0, *thresholds.DurationP95, 0)

		small := svc.Thresholds(ctx, "agent-2")
		assert.Nil(t, small.DurationP95, "five calls is below the minimum sample")
	})

	t.Run("field discovery", func(t *testing.T) {
		svc := discovery.NewService(store)

		catalog := svc.Fields(ctx, "agent-1")

		score, ok := catalog.Lookup("metadata.score")
		require.True(t, ok)
		assert.Equal(t, discovery.FieldNumber, score.Type)
		assert.Equal(t, 30, score.Count)

		intent, ok := catalog.Lookup("metadata.intent")
		require.True(t, ok)
		assert.Equal(t, discovery.FieldString, intent.Type)
		assert.Equal(t, 2, intent.UniqueCount)

		started, ok := catalog.Lookup("call_started_at")
		require.True(t, ok)
		assert.Equal(t, discovery.FieldDate, started.Type)
	})

	t.Run("contains matches percent and underscore literally", func(t *testing.T) {
		_, err := store.Insert(ctx,
			CallLog{AgentID: "agent-4", CallID: "promo-1", CallEndedReason: strPtr("50% off accepted")},
			CallLog{AgentID: "agent-4", CallID: "promo-2", CallEndedReason: strPtr("500 off accepted")},
			CallLog{AgentID: "agent-4", CallID: "promo-3", CallEndedReason: strPtr("voice_mail")},
			CallLog{AgentID: "agent-4", CallID: "promo-4", CallEndedReason: strPtr("voicemail")},
		)
		require.NoError(t, err)

		c := compiler.New()

		for value, want := range map[string]int{"50%": 1, "voice_": 1, "off": 2} {
			res := c.Compile(compiler.Input{
				Groups: []filter.Group{{
					ID:    "g",
					Logic: filter.LogicAnd,
					Rules: []filter.Rule{{ID: "r", Column: "call_ended_reason", Operation: filter.OpContains, Value: value}},
				}},
				AgentID: "agent-4",
			})

			n, err := store.Count(ctx, res.Predicates)
			require.NoError(t, err)
			assert.Equal(t, want, n, value)
		}
	})
}
