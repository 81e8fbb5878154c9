package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/callscope/callscope/internal/compiler"
	"github.com/callscope/callscope/internal/cursor"
	"github.com/callscope/callscope/internal/filter"
	"github.com/callscope/callscope/internal/predicate"
)

// numericPattern guards the cast of JSON text to numeric so that
// non-numeric values compare as NULL instead of failing the query.
const numericPattern = `'^-?[0-9]+(\.[0-9]+)?$'`

var (
	// ErrInvalidPredicate is returned for predicates the renderer refuses.
	ErrInvalidPredicate = errors.New("invalid predicate")
	// ErrInvalidSort is returned for a sort column outside the allow-list.
	ErrInvalidSort = errors.New("invalid sort")
)

// columnTypes maps every column a predicate may reference to its type.
// Identifiers are only ever taken from this map, never from input.
var columnTypes = func() map[string]filter.ColumnType {
	types := map[string]filter.ColumnType{compiler.ScopeColumn: filter.TypeText}
	for _, c := range filter.DefaultRegistry().Columns() {
		types[c.Name] = c.Type
	}

	return types
}()

var sortableColumns = func() map[string]bool {
	cols := make(map[string]bool)
	for _, c := range filter.DefaultRegistry().SortableColumns() {
		cols[c] = true
	}

	return cols
}()

// RenderWhere renders predicates as an AND-joined WHERE clause with
// positional parameters starting at $firstParam. It returns the clause
// (empty when there are no predicates), its arguments and the next free
// parameter index.
//
// JSON keys are bound as parameters. A comparison with a nil value renders
// as FALSE.
func RenderWhere(preds []predicate.Predicate, firstParam int) (string, []any, int, error) {
	conditions, args, next, err := buildPredicateConditions(preds, firstParam)
	if err != nil {
		return "", nil, firstParam, err
	}

	if len(conditions) == 0 {
		return "", nil, next, nil
	}

	return "WHERE " + strings.Join(conditions, " AND "), args, next, nil
}

func buildPredicateConditions(preds []predicate.Predicate, paramIndex int) ([]string, []any, int, error) {
	var (
		conditions []string
		args       []any
	)

	for i, p := range preds {
		if !p.Operator.Valid() {
			return nil, nil, paramIndex, fmt.Errorf("%w: #%d: unknown operator %q", ErrInvalidPredicate, i, p.Operator)
		}

		expr, exprArgs, next, isText, err := renderExpr(p.Column, paramIndex)
		if err != nil {
			return nil, nil, paramIndex, fmt.Errorf("%w: #%d: %w", ErrInvalidPredicate, i, err)
		}

		if p.Operator != predicate.NotNull && p.Value == nil {
			conditions = append(conditions, "FALSE")

			continue
		}

		paramIndex = next
		args = append(args, exprArgs...)

		if p.Operator == predicate.NotNull {
			conditions = append(conditions, expr+" IS NOT NULL")

			continue
		}

		var op string

		switch p.Operator {
		case predicate.Equals:
			op = "="
		case predicate.PatternMatch:
			if !isText {
				return nil, nil, paramIndex, fmt.Errorf("%w: #%d: pattern match on non-text column %q",
					ErrInvalidPredicate, i, p.Column)
			}

			op = "ILIKE"
		case predicate.Gte:
			op = ">="
		case predicate.Lte:
			op = "<="
		case predicate.Gt:
			op = ">"
		case predicate.Lt:
			op = "<"
		}

		conditions = append(conditions, fmt.Sprintf("%s %s $%d", expr, op, paramIndex))
		args = append(args, p.Value)
		paramIndex++
	}

	return conditions, args, paramIndex, nil
}

// renderExpr renders a predicate column expression. isText reports whether
// the expression yields text.
func renderExpr(column string, paramIndex int) (string, []any, int, bool, error) {
	expr := predicate.ParseExpr(column)

	colType, ok := columnTypes[expr.Column]
	if !ok {
		return "", nil, paramIndex, false, fmt.Errorf("unknown column %q", expr.Column)
	}

	switch expr.Kind {
	case predicate.ExprJSONText, predicate.ExprJSONNumeric:
		if colType != filter.TypeJSONB {
			return "", nil, paramIndex, false, fmt.Errorf("column %q is not JSON", expr.Column)
		}

		if expr.Field == "" {
			return "", nil, paramIndex, false, fmt.Errorf("missing JSON key on %q", expr.Column)
		}

		text := fmt.Sprintf("(%s->>$%d)", expr.Column, paramIndex)
		if expr.Kind == predicate.ExprJSONText {
			return text, []any{expr.Field}, paramIndex + 1, true, nil
		}

		numeric := fmt.Sprintf("(CASE WHEN %s ~ %s THEN %s::numeric END)", text, numericPattern, text)

		return numeric, []any{expr.Field}, paramIndex + 1, false, nil
	default:
		if colType == filter.TypeJSONB {
			return "", nil, paramIndex, false, fmt.Errorf("column %q needs a JSON key", expr.Column)
		}

		return expr.Column, nil, paramIndex, colType == filter.TypeText, nil
	}
}

// renderOrderBy renders an ORDER BY clause for an allow-listed sort column
// with id as the tiebreaker. NULLs sort last in both directions.
func renderOrderBy(s cursor.Sort) (string, error) {
	if !sortableColumns[s.Column] {
		return "", fmt.Errorf("%w: column %q", ErrInvalidSort, s.Column)
	}

	dir := "DESC"
	if s.Direction == cursor.Asc {
		dir = "ASC"
	}

	return fmt.Sprintf("ORDER BY %s %s NULLS LAST, id %s", s.Column, dir, dir), nil
}
