// Package predicate defines the flat predicate list that call-log queries are
// compiled to, and the column expressions predicates may reference.
//
// The JSON encoding of Predicate is the wire format consumed by the row store:
//
//	{"column": "metadata.intent (numeric)", "operator": "gt", "value": 0.5}
//
// Predicates in a list are combined with AND.
package predicate

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Operator is a store-level comparison.
type Operator string

// Operators understood by the row store. PatternMatch is case-insensitive and
// uses % as the wildcard.
const (
	Equals       Operator = "equals"
	PatternMatch Operator = "pattern_match"
	Gte          Operator = "gte"
	Lte          Operator = "lte"
	Gt           Operator = "gt"
	Lt           Operator = "lt"
	NotNull      Operator = "not_null"
)

// Valid reports whether op is part of the wire vocabulary.
func (op Operator) Valid() bool {
	switch op {
	case Equals, PatternMatch, Gte, Lte, Gt, Lt, NotNull:
		return true
	default:
		return false
	}
}

// Predicate is one condition of a compiled query.
//
// Value is a string, a float64, or nil. A nil value on a comparison operator
// never matches any row.
type Predicate struct {
	Column   string   `json:"column"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value"`
}

// String renders the predicate for logs.
func (p Predicate) String() string {
	if p.Operator == NotNull {
		return fmt.Sprintf("%s not_null", p.Column)
	}

	return fmt.Sprintf("%s %s %v", p.Column, p.Operator, p.Value)
}

// Fingerprint returns a stable hex digest of a predicate list. Two lists with
// the same predicates in the same order share a fingerprint.
func Fingerprint(preds []Predicate) string {
	h, _ := blake2b.New256(nil)

	var buf [8]byte

	for _, p := range preds {
		writeField(h, p.Column)
		writeField(h, string(p.Operator))

		switch v := p.Value.(type) {
		case nil:
			_, _ = h.Write([]byte{0})
		case float64:
			_, _ = h.Write([]byte{1})
			binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
			_, _ = h.Write(buf[:])
		case string:
			_, _ = h.Write([]byte{2})
			writeField(h, v)
		default:
			data, _ := json.Marshal(v)
			_, _ = h.Write([]byte{3})
			writeField(h, string(data))
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h interface{ Write([]byte) (int, error) }, s string) {
	var n [8]byte

	binary.BigEndian.PutUint64(n[:], uint64(len(s)))
	_, _ = h.Write(n[:])
	_, _ = h.Write([]byte(s))
}

// ExprKind distinguishes the forms a predicate column can take.
type ExprKind int

// Column expression forms.
const (
	// ExprColumn is a plain column reference: "duration_seconds".
	ExprColumn ExprKind = iota
	// ExprJSONText extracts a JSONB key as text: "metadata->>intent".
	ExprJSONText
	// ExprJSONNumeric casts a JSONB key to a number: "metadata.intent (numeric)".
	ExprJSONNumeric
)

const (
	jsonTextSep   = "->>"
	numericSuffix = " (numeric)"
)

// Expr is a parsed predicate column.
type Expr struct {
	Kind   ExprKind
	Column string
	Field  string
}

// ColumnExpr references a plain column.
func ColumnExpr(column string) Expr { return Expr{Kind: ExprColumn, Column: column} }

// JSONTextExpr extracts field from a JSONB column as text.
func JSONTextExpr(column, field string) Expr {
	return Expr{Kind: ExprJSONText, Column: column, Field: field}
}

// JSONNumericExpr casts field of a JSONB column to a number.
func JSONNumericExpr(column, field string) Expr {
	return Expr{Kind: ExprJSONNumeric, Column: column, Field: field}
}

// String returns the wire form of the expression.
func (e Expr) String() string {
	switch e.Kind {
	case ExprJSONText:
		return e.Column + jsonTextSep + e.Field
	case ExprJSONNumeric:
		return e.Column + "." + e.Field + numericSuffix
	default:
		return e.Column
	}
}

// ParseExpr parses the wire form produced by Expr.String.
func ParseExpr(s string) Expr {
	if col, field, ok := strings.Cut(s, jsonTextSep); ok {
		return JSONTextExpr(col, field)
	}

	if trimmed, ok := strings.CutSuffix(s, numericSuffix); ok {
		if col, field, found := strings.Cut(trimmed, "."); found {
			return JSONNumericExpr(col, field)
		}
	}

	return ColumnExpr(s)
}
