package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callscope/callscope/internal/anomaly"
	"github.com/callscope/callscope/internal/discovery"
	"github.com/callscope/callscope/internal/filter"
	"github.com/callscope/callscope/internal/predicate"
)

func ptr(v float64) *float64 { return &v }

func group(logic filter.Logic, rules ...filter.Rule) filter.Group {
	return filter.Group{ID: "g1", Logic: logic, Rules: rules}
}

func rule(id, column string, op filter.Operation, value string) filter.Rule {
	return filter.Rule{ID: id, Column: column, Operation: op, Value: value}
}

func jsonRule(id, column, field string, op filter.Operation, value string) filter.Rule {
	return filter.Rule{ID: id, Column: column, JSONField: field, Operation: op, Value: value}
}

func TestCompileRule_Text(t *testing.T) {
	c := New()

	tests := []struct {
		name string
		rule filter.Rule
		want predicate.Predicate
	}{
		{
			name: "equals",
			rule: rule("r", "customer_number", filter.OpEquals, "+15551234"),
			want: predicate.Predicate{Column: "customer_number", Operator: predicate.Equals, Value: "+15551234"},
		},
		{
			name: "contains",
			rule: rule("r", "call_ended_reason", filter.OpContains, "hangup"),
			want: predicate.Predicate{Column: "call_ended_reason", Operator: predicate.PatternMatch, Value: "%hangup%"},
		},
		{
			name: "starts with",
			rule: rule("r", "call_id", filter.OpStartsWith, "abc"),
			want: predicate.Predicate{Column: "call_id", Operator: predicate.PatternMatch, Value: "abc%"},
		},
		{
			name: "ends with",
			rule: rule("r", "call_id", filter.OpEndsWith, "xyz"),
			want: predicate.Predicate{Column: "call_id", Operator: predicate.PatternMatch, Value: "%xyz"},
		},
		{
			name: "contains escapes like metacharacters",
			rule: rule("r", "call_ended_reason", filter.OpContains, `50%_off\`),
			want: predicate.Predicate{
				Column: "call_ended_reason", Operator: predicate.PatternMatch, Value: `%50\%\_off\\%`,
			},
		},
		{
			name: "starts with escapes like metacharacters",
			rule: rule("r", "call_id", filter.OpStartsWith, "a_b"),
			want: predicate.Predicate{Column: "call_id", Operator: predicate.PatternMatch, Value: `a\_b%`},
		},
		{
			name: "json contains escapes like metacharacters",
			rule: filter.Rule{ID: "r", Column: "metadata", JSONField: "promo", Operation: filter.OpJSONContains, Value: "50%"},
			want: predicate.Predicate{Column: "metadata->>promo", Operator: predicate.PatternMatch, Value: `%50\%%`},
		},
		{
			name: "is empty",
			rule: rule("r", "environment", filter.OpIsEmpty, ""),
			want: predicate.Predicate{Column: "environment", Operator: predicate.Equals, Value: ""},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.CompileRule(tt.rule, nil)
			require.NoError(t, err)
			assert.Equal(t, []predicate.Predicate{tt.want}, got)
		})
	}
}

func TestCompileRule_Number(t *testing.T) {
	c := New()

	got, err := c.CompileRule(rule("r", "duration_seconds", filter.OpGreaterThan, "120"), nil)
	require.NoError(t, err)
	assert.Equal(t, []predicate.Predicate{{Column: "duration_seconds", Operator: predicate.Gt, Value: 120.0}}, got)

	got, err = c.CompileRule(rule("r", "total_cost", filter.OpEquals, " 0.25 "), nil)
	require.NoError(t, err)
	assert.Equal(t, []predicate.Predicate{{Column: "total_cost", Operator: predicate.Equals, Value: 0.25}}, got)

	got, err = c.CompileRule(rule("r", "avg_latency", filter.OpBetween, "100, 250.5"), nil)
	require.NoError(t, err)
	assert.Equal(t, []predicate.Predicate{
		{Column: "avg_latency", Operator: predicate.Gte, Value: 100.0},
		{Column: "avg_latency", Operator: predicate.Lte, Value: 250.5},
	}, got)

	_, err = c.CompileRule(rule("r", "duration_seconds", filter.OpGreaterThan, "long"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRule)
	assert.ErrorIs(t, err, ErrMalformedNumber)

	_, err = c.CompileRule(rule("r", "duration_seconds", filter.OpBetween, "10"), nil)
	assert.ErrorIs(t, err, ErrMalformedRange)
}

func TestCompileRule_Date(t *testing.T) {
	c := New()

	got, err := c.CompileRule(rule("r", "call_started_at", filter.OpGreaterThan, "2024-01-15"), nil)
	require.NoError(t, err)
	assert.Equal(t, []predicate.Predicate{
		{Column: "call_started_at", Operator: predicate.Gte, Value: "2024-01-16 00:00:00"},
	}, got)

	got, err = c.CompileRule(rule("r", "call_started_at", filter.OpGreaterThan, "2024-12-31"), nil)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01 00:00:00", got[0].Value, "rolls over the year")

	got, err = c.CompileRule(rule("r", "call_ended_at", filter.OpLessThan, "2024-01-15"), nil)
	require.NoError(t, err)
	assert.Equal(t, []predicate.Predicate{
		{Column: "call_ended_at", Operator: predicate.Lt, Value: "2024-01-15"},
	}, got)

	for _, in := range []string{" 2024-12-31 ", "2024-12-31T10:00", "2024-12-31 23:00:00"} {
		got, err = c.CompileRule(rule("r", "call_started_at", filter.OpLessThan, in), nil)
		require.NoError(t, err, in)
		assert.Equal(t, "2024-12-31", got[0].Value, "less_than emits the validated day for %q", in)
	}

	got, err = c.CompileRule(rule("r", "created_at", filter.OpEquals, "2024-03-01"), nil)
	require.NoError(t, err)
	assert.Equal(t, []predicate.Predicate{
		{Column: "created_at", Operator: predicate.Gte, Value: "2024-03-01 00:00:00"},
		{Column: "created_at", Operator: predicate.Lte, Value: "2024-03-01 23:59:59.999"},
	}, got)

	got, err = c.CompileRule(rule("r", "created_at", filter.OpBetween, "2024-03-01,2024-03-07"), nil)
	require.NoError(t, err)
	assert.Equal(t, []predicate.Predicate{
		{Column: "created_at", Operator: predicate.Gte, Value: "2024-03-01 00:00:00"},
		{Column: "created_at", Operator: predicate.Lte, Value: "2024-03-07 23:59:59.999"},
	}, got)

	_, err = c.CompileRule(rule("r", "created_at", filter.OpEquals, "yesterday"), nil)
	assert.ErrorIs(t, err, ErrMalformedDate)
}

func TestCompileRule_JSON(t *testing.T) {
	c := New()

	got, err := c.CompileRule(jsonRule("r", "metadata", "intent", filter.OpJSONGreaterThan, "0.5"), nil)
	require.NoError(t, err)
	assert.Equal(t, []predicate.Predicate{
		{Column: "metadata.intent (numeric)", Operator: predicate.Gt, Value: 0.5},
	}, got)

	got, err = c.CompileRule(jsonRule("r", "metadata", "intent", filter.OpJSONGreaterThan, "abc"), nil)
	require.NoError(t, err)
	assert.Equal(t, []predicate.Predicate{
		{Column: "metadata.intent (numeric)", Operator: predicate.Gt, Value: nil},
	}, got)

	got, err = c.CompileRule(jsonRule("r", "metrics", "wer", filter.OpJSONLessThan, "0.1"), nil)
	require.NoError(t, err)
	assert.Equal(t, []predicate.Predicate{
		{Column: "metrics.wer (numeric)", Operator: predicate.Lt, Value: 0.1},
	}, got)

	got, err = c.CompileRule(jsonRule("r", "metadata", "campaign", filter.OpJSONEquals, "spring"), nil)
	require.NoError(t, err)
	assert.Equal(t, []predicate.Predicate{
		{Column: "metadata->>campaign", Operator: predicate.Equals, Value: "spring"},
	}, got)

	got, err = c.CompileRule(jsonRule("r", "metadata", "campaign", filter.OpJSONContains, "spr"), nil)
	require.NoError(t, err)
	assert.Equal(t, []predicate.Predicate{
		{Column: "metadata->>campaign", Operator: predicate.PatternMatch, Value: "%spr%"},
	}, got)

	got, err = c.CompileRule(jsonRule("r", "transcription_metrics", "provider", filter.OpJSONExists, ""), nil)
	require.NoError(t, err)
	assert.Equal(t, []predicate.Predicate{
		{Column: "transcription_metrics->>provider", Operator: predicate.NotNull, Value: nil},
	}, got)
}

func TestCompileRule_JSONVariants(t *testing.T) {
	c := New()
	catalog := discovery.Catalog{
		{Name: "score", Path: "metadata.score", Type: discovery.FieldNumber, Category: filter.CategoryMetadata},
		{Name: "tier", Path: "metadata.tier", Type: discovery.FieldString, Category: filter.CategoryMetadata},
	}

	got, err := c.CompileRule(jsonRule("r", "metadata", "tier", filter.OpStartsWith, "gold"), catalog)
	require.NoError(t, err)
	assert.Equal(t, []predicate.Predicate{
		{Column: "metadata->>tier", Operator: predicate.PatternMatch, Value: "gold%"},
	}, got)

	got, err = c.CompileRule(jsonRule("r", "metadata", "score", filter.OpGreaterThan, "7"), catalog)
	require.NoError(t, err)
	assert.Equal(t, []predicate.Predicate{
		{Column: "metadata.score (numeric)", Operator: predicate.Gt, Value: 7.0},
	}, got)

	got, err = c.CompileRule(jsonRule("r", "metadata", "tier", filter.OpGreaterThan, "b"), catalog)
	require.NoError(t, err)
	assert.Equal(t, []predicate.Predicate{
		{Column: "metadata->>tier", Operator: predicate.Gt, Value: "b"},
	}, got, "non-numeric fields compare as text")
}

func TestCompileRule_DottedPath(t *testing.T) {
	c := New()

	got, err := c.CompileRule(rule("r", "metadata.intent", filter.OpJSONEquals, "refund"), nil)
	require.NoError(t, err)
	assert.Equal(t, []predicate.Predicate{
		{Column: "metadata->>intent", Operator: predicate.Equals, Value: "refund"},
	}, got)
}

func TestCompileRule_Errors(t *testing.T) {
	c := New()

	_, err := c.CompileRule(rule("r1", "call_id", filter.Operation("regex"), "a.*"), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedOperation)

	var unsupported *UnsupportedOperationError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "r1", unsupported.RuleID)

	_, err = c.CompileRule(rule("r2", "no_such_column", filter.OpEquals, "x"), nil)
	assert.ErrorIs(t, err, filter.ErrUnknownColumn)
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = c.CompileRule(rule("r3", "call_id", filter.OpGreaterThan, "x"), nil)
	assert.ErrorIs(t, err, filter.ErrOperationNotAllowed)

	_, err = c.CompileRule(rule("r4", "call_id", filter.OpEquals, "  "), nil)
	assert.ErrorIs(t, err, filter.ErrMissingValue)

	_, err = c.CompileRule(rule("r5", "metadata", filter.OpJSONEquals, "x"), nil)
	assert.ErrorIs(t, err, filter.ErrMissingJSONField)

	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "r5", validation.RuleID)
}

func TestCompile_Order(t *testing.T) {
	c := New()

	res := c.Compile(Input{
		Groups: []filter.Group{
			group(filter.LogicAnd, rule("a", "call_ended_reason", filter.OpContains, "error")),
			group(filter.LogicAnd, rule("b", "environment", filter.OpEquals, "prod")),
		},
		Toggles:    anomaly.Toggles{anomaly.SignalDuration: true},
		Thresholds: anomaly.Thresholds{DurationP95: ptr(245)},
		AgentID:    "agent-1",
	})

	assert.Equal(t, []predicate.Predicate{
		{Column: "call_ended_reason", Operator: predicate.PatternMatch, Value: "%error%"},
		{Column: "environment", Operator: predicate.Equals, Value: "prod"},
		{Column: "duration_seconds", Operator: predicate.Gte, Value: 245.0},
		{Column: "agent_id", Operator: predicate.Equals, Value: "agent-1"},
	}, res.Predicates)
	assert.Empty(t, res.Warnings)
}

func TestCompile_Empty(t *testing.T) {
	res := New().Compile(Input{})

	assert.NotNil(t, res.Predicates)
	assert.Empty(t, res.Predicates)
	assert.Empty(t, res.Warnings)
}

func TestCompile_DropsInvalidRulesWithWarnings(t *testing.T) {
	c := New()

	res := c.Compile(Input{
		Groups: []filter.Group{group(filter.LogicAnd,
			rule("bad", "call_id", filter.Operation("regex"), "x"),
			rule("good", "call_id", filter.OpEquals, "c-1"),
			rule("worse", "nope", filter.OpEquals, "x"),
		)},
	})

	assert.Equal(t, []predicate.Predicate{
		{Column: "call_id", Operator: predicate.Equals, Value: "c-1"},
	}, res.Predicates)

	require.Len(t, res.Warnings, 2)
	assert.Equal(t, WarnUnsupportedOperation, res.Warnings[0].Kind)
	assert.Equal(t, "bad", res.Warnings[0].RuleID)
	assert.Equal(t, WarnInvalidRule, res.Warnings[1].Kind)
	assert.Equal(t, "worse", res.Warnings[1].RuleID)
}

func TestCompile_FlattensOrGroups(t *testing.T) {
	c := New()

	res := c.Compile(Input{
		Groups: []filter.Group{{
			ID:    "or-group",
			Logic: filter.LogicOr,
			Rules: []filter.Rule{
				rule("a", "call_id", filter.OpContains, "x"),
				rule("b", "customer_number", filter.OpContains, "x"),
			},
			Groups: []filter.Group{group(filter.LogicAnd, rule("c", "environment", filter.OpEquals, "prod"))},
		}},
	})

	assert.Len(t, res.Predicates, 3)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnFlattenedOr, res.Warnings[0].Kind)
	assert.Equal(t, "or-group", res.Warnings[0].GroupID)

	single := c.Compile(Input{Groups: []filter.Group{group(filter.LogicOr, rule("a", "call_id", filter.OpContains, "x"))}})
	assert.Empty(t, single.Warnings, "a single rule OR group is unaffected")
}

func TestCompile_MalformedNumericWarning(t *testing.T) {
	in := Input{Groups: []filter.Group{group(filter.LogicAnd,
		jsonRule("n", "metadata", "intent", filter.OpJSONGreaterThan, "abc"),
	)}}

	res := New().Compile(in)
	require.Len(t, res.Predicates, 1)
	assert.Nil(t, res.Predicates[0].Value)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnMalformedNumber, res.Warnings[0].Kind)

	strict := New(WithStrictNumeric()).Compile(in)
	assert.Empty(t, strict.Predicates)
	require.Len(t, strict.Warnings, 1)
	assert.Equal(t, WarnInvalidRule, strict.Warnings[0].Kind)
}

func TestCompile_AnomalyWithoutThreshold(t *testing.T) {
	res := New().Compile(Input{
		Toggles:    anomaly.Toggles{anomaly.SignalCost: true, anomaly.SignalLatency: true},
		Thresholds: anomaly.Thresholds{LatencyP95: ptr(900)},
	})

	assert.Equal(t, []predicate.Predicate{
		{Column: "avg_latency", Operator: predicate.Gte, Value: 900.0},
	}, res.Predicates)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, WarnMissingThreshold, res.Warnings[0].Kind)
	assert.Equal(t, "total_cost", res.Warnings[0].Column)
}

func TestCompile_Deterministic(t *testing.T) {
	c := New()
	in := Input{
		Groups: []filter.Group{group(filter.LogicAnd,
			rule("a", "duration_seconds", filter.OpBetween, "1,2"),
			jsonRule("b", "metadata", "k", filter.OpJSONContains, "v"),
		)},
		AgentID: "agent-9",
	}

	first := c.Compile(in)
	second := c.Compile(in)

	assert.Equal(t, first, second)
	assert.Equal(t, predicate.Fingerprint(first.Predicates), predicate.Fingerprint(second.Predicates))
}
