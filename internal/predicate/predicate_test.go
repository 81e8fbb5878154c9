package predicate

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExprRoundTrip(t *testing.T) {
	tests := []struct {
		expr Expr
		wire string
	}{
		{ColumnExpr("duration_seconds"), "duration_seconds"},
		{JSONTextExpr("metadata", "intent"), "metadata->>intent"},
		{JSONNumericExpr("metadata", "intent"), "metadata.intent (numeric)"},
		{JSONNumericExpr("metrics", "tts.latency"), "metrics.tts.latency (numeric)"},
	}

	for _, tt := range tests {
		t.Run(tt.wire, func(t *testing.T) {
			assert.Equal(t, tt.wire, tt.expr.String())
			assert.Equal(t, tt.expr, ParseExpr(tt.wire))
		})
	}
}

func TestPredicateWireFormat(t *testing.T) {
	p := Predicate{Column: JSONNumericExpr("metadata", "intent").String(), Operator: Gt, Value: 0.5}

	data, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"column":"metadata.intent (numeric)","operator":"gt","value":0.5}`, string(data))

	noMatch := Predicate{Column: "metadata.intent (numeric)", Operator: Gt, Value: nil}
	data, err = json.Marshal(noMatch)
	require.NoError(t, err)
	assert.JSONEq(t, `{"column":"metadata.intent (numeric)","operator":"gt","value":null}`, string(data))
}

func TestFingerprint(t *testing.T) {
	a := []Predicate{
		{Column: "duration_seconds", Operator: Gte, Value: 245.0},
		{Column: "agent_id", Operator: Equals, Value: "agent-1"},
	}
	same := []Predicate{
		{Column: "duration_seconds", Operator: Gte, Value: 245.0},
		{Column: "agent_id", Operator: Equals, Value: "agent-1"},
	}
	reordered := []Predicate{a[1], a[0]}
	stringly := []Predicate{
		{Column: "duration_seconds", Operator: Gte, Value: "245"},
		{Column: "agent_id", Operator: Equals, Value: "agent-1"},
	}

	assert.Equal(t, Fingerprint(a), Fingerprint(same))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(reordered))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(stringly))
	assert.Len(t, Fingerprint(nil), 64)
}

func TestOperatorValid(t *testing.T) {
	assert.True(t, PatternMatch.Valid())
	assert.True(t, NotNull.Valid())
	assert.False(t, Operator("ilike").Valid())
}
