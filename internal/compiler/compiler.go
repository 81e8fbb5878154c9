// Package compiler turns filter groups, anomaly toggles and the owner scope
// into the flat, ANDed predicate list the call-log store executes.
//
// Compilation is deterministic and never fails as a whole: rules that cannot
// be compiled are dropped and reported as warnings.
//
// Group logic is not preserved. Every rule of every group, nested groups
// included, is ANDed with the others. An OR group with more than one rule
// therefore yields a flattened_or warning.
package compiler

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/callscope/callscope/internal/anomaly"
	"github.com/callscope/callscope/internal/discovery"
	"github.com/callscope/callscope/internal/filter"
	"github.com/callscope/callscope/internal/predicate"
)

// ScopeColumn holds the owning agent of a call log.
const ScopeColumn = "agent_id"

const (
	dateLayout = "2006-01-02"
	dayStart   = " 00:00:00"
	dayEnd     = " 23:59:59.999"
)

// Input is everything a query is compiled from.
type Input struct {
	Groups     []filter.Group
	Toggles    anomaly.Toggles
	Thresholds anomaly.Thresholds
	// AgentID scopes the query to one agent. Empty means no scope predicate.
	AgentID string
	// Catalog supplies discovered field types for rules on JSONB keys.
	Catalog discovery.Catalog
}

// Result is a compiled query.
type Result struct {
	Predicates []predicate.Predicate `json:"predicates"`
	Warnings   []Warning             `json:"warnings,omitempty"`
}

// Compiler compiles filter trees against a column registry.
type Compiler struct {
	registry      *filter.Registry
	logger        *slog.Logger
	strictNumeric bool
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithRegistry overrides the default column registry.
func WithRegistry(r *filter.Registry) Option {
	return func(c *Compiler) { c.registry = r }
}

// WithLogger logs dropped rules at warn level.
func WithLogger(l *slog.Logger) Option {
	return func(c *Compiler) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithStrictNumeric drops JSON numeric comparisons whose value does not
// parse, instead of compiling them to a predicate that matches nothing.
func WithStrictNumeric() Option {
	return func(c *Compiler) { c.strictNumeric = true }
}

// New creates a compiler.
func New(opts ...Option) *Compiler {
	c := &Compiler{
		registry: filter.DefaultRegistry(),
		logger:   slog.New(slog.DiscardHandler),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Compile builds the predicate list: regular filter predicates in group and
// rule order, then anomaly predicates, then the owner scope.
func (c *Compiler) Compile(in Input) Result {
	res := Result{Predicates: []predicate.Predicate{}}

	for _, g := range in.Groups {
		c.compileGroup(g, in.Catalog, &res)
	}

	res.Predicates = append(res.Predicates, anomaly.Predicates(in.Toggles, in.Thresholds)...)

	for _, s := range anomaly.Signals() {
		if in.Toggles[s] && in.Thresholds.For(s) == nil {
			c.warn(&res, Warning{
				Kind:    WarnMissingThreshold,
				Column:  s.Column(),
				Message: fmt.Sprintf("not enough data for a %s threshold; toggle ignored", s),
			})
		}
	}

	if in.AgentID != "" {
		res.Predicates = append(res.Predicates, ScopePredicate(in.AgentID))
	}

	return res
}

// ScopePredicate restricts a query to one agent's call logs.
func ScopePredicate(agentID string) predicate.Predicate {
	return predicate.Predicate{Column: ScopeColumn, Operator: predicate.Equals, Value: agentID}
}

// CompileRule compiles one rule. Soft problems such as a malformed JSON
// numeric value are not reported; use Compile to see them as warnings.
func (c *Compiler) CompileRule(rule filter.Rule, catalog discovery.Catalog) ([]predicate.Predicate, error) {
	preds, _, err := c.compileRule(rule, catalog)

	return preds, err
}

func (c *Compiler) compileGroup(g filter.Group, catalog discovery.Catalog, res *Result) {
	if g.Logic == filter.LogicOr && len(g.Rules)+len(g.Groups) > 1 {
		c.warn(res, Warning{
			Kind:    WarnFlattenedOr,
			GroupID: g.ID,
			Message: "OR group rules are combined with AND",
		})
	}

	for _, rule := range g.Rules {
		preds, soft, err := c.compileRule(rule, catalog)
		if err != nil {
			c.warn(res, warningFor(rule, err))

			continue
		}

		if soft != nil {
			c.warn(res, *soft)
		}

		res.Predicates = append(res.Predicates, preds...)
	}

	for _, nested := range g.Groups {
		c.compileGroup(nested, catalog, res)
	}
}

func (c *Compiler) warn(res *Result, w Warning) {
	res.Warnings = append(res.Warnings, w)

	c.logger.Warn("Filter compile warning",
		slog.String("kind", string(w.Kind)),
		slog.String("rule_id", w.RuleID),
		slog.String("group_id", w.GroupID),
		slog.String("column", w.Column),
		slog.String("operation", string(w.Operation)),
		slog.String("message", w.Message))
}

// compileRule returns the predicates for rule, an optional soft warning for a
// rule that compiled to something that cannot match, or a hard error.
func (c *Compiler) compileRule(
	rule filter.Rule,
	catalog discovery.Catalog,
) ([]predicate.Predicate, *Warning, error) {
	rule = c.resolvePath(rule)

	if !filter.IsKnownOperation(rule.Operation) {
		return nil, nil, &UnsupportedOperationError{RuleID: rule.ID, Operation: rule.Operation}
	}

	col, ok := c.registry.Lookup(rule.Column)
	if !ok {
		return nil, nil, &ValidationError{RuleID: rule.ID, Err: fmt.Errorf("%w: %q", filter.ErrUnknownColumn, rule.Column)}
	}

	if err := c.registry.Validate(rule); err != nil && !isJSONVariant(col, rule) {
		return nil, nil, &ValidationError{RuleID: rule.ID, Err: err}
	}

	value := strings.TrimSpace(rule.Value)
	invalid := func(err error) ([]predicate.Predicate, *Warning, error) {
		return nil, nil, &ValidationError{RuleID: rule.ID, Err: err}
	}

	switch rule.Operation {
	case filter.OpEquals:
		switch {
		case rule.JSONField != "":
			return one(jsonText(rule), predicate.Equals, rule.Value)
		case col.Type == filter.TypeDate:
			day, err := parseDate(value)
			if err != nil {
				return invalid(err)
			}

			return []predicate.Predicate{
				{Column: col.Name, Operator: predicate.Gte, Value: day + dayStart},
				{Column: col.Name, Operator: predicate.Lte, Value: day + dayEnd},
			}, nil, nil
		case col.Type == filter.TypeNumber:
			n, err := parseNumber(value)
			if err != nil {
				return invalid(err)
			}

			return one(col.Name, predicate.Equals, n)
		default:
			return one(col.Name, predicate.Equals, rule.Value)
		}

	case filter.OpContains:
		return one(target(rule), predicate.PatternMatch, "%"+escapeLike(rule.Value)+"%")

	case filter.OpStartsWith:
		return one(target(rule), predicate.PatternMatch, escapeLike(rule.Value)+"%")

	case filter.OpEndsWith:
		return one(target(rule), predicate.PatternMatch, "%"+escapeLike(rule.Value))

	case filter.OpIsEmpty:
		return one(target(rule), predicate.Equals, "")

	case filter.OpGreaterThan, filter.OpLessThan:
		op := predicate.Gt
		if rule.Operation == filter.OpLessThan {
			op = predicate.Lt
		}

		switch {
		case rule.JSONField != "":
			if isNumericField(catalog, rule) {
				return c.jsonNumeric(rule, op)
			}

			return one(jsonText(rule), op, rule.Value)
		case col.Type == filter.TypeDate:
			day, err := parseDate(value)
			if err != nil {
				return invalid(err)
			}

			if op == predicate.Gt {
				return one(col.Name, predicate.Gte, nextDay(day)+dayStart)
			}

			return one(col.Name, predicate.Lt, day)
		case col.Type == filter.TypeNumber:
			n, err := parseNumber(value)
			if err != nil {
				return invalid(err)
			}

			return one(col.Name, op, n)
		default:
			return one(col.Name, op, rule.Value)
		}

	case filter.OpBetween:
		lo, hi, err := splitRange(value)
		if err != nil {
			return invalid(err)
		}

		if col.Type == filter.TypeDate {
			loDay, errLo := parseDate(lo)
			hiDay, errHi := parseDate(hi)

			if errLo != nil || errHi != nil {
				return invalid(ErrMalformedDate)
			}

			return []predicate.Predicate{
				{Column: col.Name, Operator: predicate.Gte, Value: loDay + dayStart},
				{Column: col.Name, Operator: predicate.Lte, Value: hiDay + dayEnd},
			}, nil, nil
		}

		loN, errLo := parseNumber(lo)
		hiN, errHi := parseNumber(hi)

		if errLo != nil || errHi != nil {
			return invalid(ErrMalformedNumber)
		}

		return []predicate.Predicate{
			{Column: col.Name, Operator: predicate.Gte, Value: loN},
			{Column: col.Name, Operator: predicate.Lte, Value: hiN},
		}, nil, nil

	case filter.OpJSONEquals:
		return one(jsonText(rule), predicate.Equals, rule.Value)

	case filter.OpJSONContains:
		return one(jsonText(rule), predicate.PatternMatch, "%"+escapeLike(rule.Value)+"%")

	case filter.OpJSONExists:
		return one(jsonText(rule), predicate.NotNull, nil)

	case filter.OpJSONGreaterThan:
		return c.jsonNumeric(rule, predicate.Gt)

	case filter.OpJSONLessThan:
		return c.jsonNumeric(rule, predicate.Lt)
	}

	return nil, nil, &UnsupportedOperationError{RuleID: rule.ID, Operation: rule.Operation}
}

// jsonNumeric compiles a numeric comparison on a JSONB key. A value that does
// not parse compiles to a nil comparison, which matches no rows.
func (c *Compiler) jsonNumeric(rule filter.Rule, op predicate.Operator) ([]predicate.Predicate, *Warning, error) {
	column := predicate.JSONNumericExpr(rule.Column, rule.JSONField).String()

	n, err := parseNumber(strings.TrimSpace(rule.Value))
	if err == nil {
		return one(column, op, n)
	}

	if c.strictNumeric {
		return nil, nil, &ValidationError{RuleID: rule.ID, Err: err}
	}

	preds, _, _ := one(column, op, nil)

	return preds, &Warning{
		Kind:      WarnMalformedNumber,
		RuleID:    rule.ID,
		Column:    column,
		Operation: rule.Operation,
		Message:   fmt.Sprintf("%q is not a number; the rule matches no rows", rule.Value),
	}, nil
}

// resolvePath splits a discovered "column.key" path into column and key.
func (c *Compiler) resolvePath(rule filter.Rule) filter.Rule {
	if rule.JSONField != "" {
		return rule
	}

	if _, known := c.registry.Lookup(rule.Column); known {
		return rule
	}

	if column, key, ok := c.registry.SplitPath(rule.Column); ok {
		rule.Column, rule.JSONField = column, key
	}

	return rule
}

// isJSONVariant reports whether rule uses a text or comparison operation on
// a key of a JSONB column. These are compiled against the key's text form.
func isJSONVariant(col filter.ColumnDescriptor, rule filter.Rule) bool {
	if col.Type != filter.TypeJSONB || rule.JSONField == "" || strings.TrimSpace(rule.Value) == "" {
		return false
	}

	switch rule.Operation {
	case filter.OpEquals, filter.OpContains, filter.OpStartsWith, filter.OpEndsWith,
		filter.OpGreaterThan, filter.OpLessThan:
		return true
	default:
		return false
	}
}

func isNumericField(catalog discovery.Catalog, rule filter.Rule) bool {
	f, ok := catalog.Lookup(rule.Column + "." + rule.JSONField)

	return ok && f.Type == discovery.FieldNumber
}

func one(column string, op predicate.Operator, value any) ([]predicate.Predicate, *Warning, error) {
	return []predicate.Predicate{{Column: column, Operator: op, Value: value}}, nil, nil
}

func target(rule filter.Rule) string {
	if rule.JSONField != "" {
		return jsonText(rule)
	}

	return rule.Column
}

func jsonText(rule filter.Rule) string {
	return predicate.JSONTextExpr(rule.Column, rule.JSONField).String()
}

func parseNumber(s string) (float64, error) {
	n, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, fmt.Errorf("%w: %q", ErrMalformedNumber, s)
	}

	return n, nil
}

// parseDate accepts YYYY-MM-DD or any timestamp that starts with one, and
// returns the calendar day.
func parseDate(s string) (string, error) {
	if len(s) < len(dateLayout) {
		return "", fmt.Errorf("%w: %q", ErrMalformedDate, s)
	}

	day := s[:len(dateLayout)]
	if _, err := time.Parse(dateLayout, day); err != nil {
		return "", fmt.Errorf("%w: %q", ErrMalformedDate, s)
	}

	return day, nil
}

// likeEscaper escapes LIKE metacharacters with the default backslash escape
// so user text matches literally.
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func nextDay(day string) string {
	t, _ := time.Parse(dateLayout, day)

	return t.AddDate(0, 0, 1).Format(dateLayout)
}

func splitRange(s string) (string, string, error) {
	lo, hi, ok := strings.Cut(s, ",")

	lo, hi = strings.TrimSpace(lo), strings.TrimSpace(hi)
	if !ok || lo == "" || hi == "" {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedRange, s)
	}

	return lo, hi, nil
}
