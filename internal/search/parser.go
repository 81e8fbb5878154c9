// Package search turns a free-text search box string into a filter group.
//
// Grammar, tokens separated by whitespace:
//
//	field:value      binds value to a named field
//	field:>value     greater than
//	field:<value     less than
//	"some phrase"    exact match over the field scope
//	word             contains match over the field scope
//	OR               switches the whole query to OR logic
//
// Unqualified words and phrases expand to one rule per field in scope. A field
// path of the form column.key addresses a key inside a JSONB column. Unknown
// field names still produce rules; the query compiler decides what survives.
package search

import (
	"github.com/google/uuid"

	"github.com/callscope/callscope/internal/filter"
)

// AllFields is the field scope that searches every text-searchable column.
const AllFields = "all"

// Query is a search box submission.
//
// CaseSensitive is carried for clients that display it; the store's pattern
// operator is always case-insensitive and exact matches are always
// case-sensitive.
type Query struct {
	Text          string   `json:"text"`
	Fields        []string `json:"fields,omitempty"`
	CaseSensitive bool     `json:"caseSensitive"`
	ExactMatch    bool     `json:"exactMatch"`
}

// FieldResolver maps user-typed field names, such as aliases, to registry
// fields.
type FieldResolver interface {
	Resolve(field string) string
}

// Parser converts queries into filter groups using a column registry.
type Parser struct {
	registry *filter.Registry
	aliases  FieldResolver
	newID    func() string
}

// NewParser creates a parser over registry.
func NewParser(registry *filter.Registry) *Parser {
	return &Parser{registry: registry, newID: uuid.NewString}
}

// WithAliases returns a copy of p that resolves field names through r before
// looking them up.
func (p *Parser) WithAliases(r FieldResolver) *Parser {
	cp := *p
	cp.aliases = r

	return &cp
}

func (p *Parser) resolve(field string) string {
	if p.aliases == nil {
		return field
	}

	return p.aliases.Resolve(field)
}

// Parse converts q into a single group. Empty input yields an empty AND group.
//
// Terms are ANDed unless the query contains OR. A term spread over several
// fields matches when any one of them does, so in an AND query it becomes a
// nested OR group. A query of one such term is a flat OR group.
func (p *Parser) Parse(q Query) filter.Group {
	group := filter.Group{ID: p.newID(), Logic: filter.LogicAnd, Rules: []filter.Rule{}}
	scope := p.scope(q.Fields)

	var terms [][]filter.Rule

	for _, tok := range NewLexer(q.Text).Tokens() {
		var rules []filter.Rule

		switch tok.Kind {
		case TokOr:
			group.Logic = filter.LogicOr
		case TokField:
			rules = []filter.Rule{p.fieldRule(tok, q.ExactMatch)}
		case TokPhrase:
			rules = p.scopedRules(scope, tok.Lit, true)
		case TokWord:
			rules = p.scopedRules(scope, tok.Lit, q.ExactMatch)
		}

		if len(rules) > 0 {
			terms = append(terms, rules)
		}
	}

	if group.Logic == filter.LogicOr || len(terms) == 1 {
		for _, rules := range terms {
			group.Rules = append(group.Rules, rules...)
		}

		if len(group.Rules) > 1 {
			group.Logic = filter.LogicOr
		}

		return group
	}

	for _, rules := range terms {
		if len(rules) == 1 {
			group.Rules = append(group.Rules, rules[0])

			continue
		}

		group.Groups = append(group.Groups, filter.Group{ID: p.newID(), Logic: filter.LogicOr, Rules: rules})
	}

	return group
}

func (p *Parser) scope(fields []string) []string {
	if len(fields) == 0 {
		return p.registry.ColumnsSupporting(filter.OpContains)
	}

	resolved := make([]string, 0, len(fields))

	for _, f := range fields {
		if f == AllFields {
			return p.registry.ColumnsSupporting(filter.OpContains)
		}

		resolved = append(resolved, p.resolve(f))
	}

	return resolved
}

func (p *Parser) scopedRules(scope []string, value string, exact bool) []filter.Rule {
	if value == "" {
		return nil
	}

	rules := make([]filter.Rule, 0, len(scope))
	for _, field := range scope {
		rules = append(rules, p.rule(field, matchOperation(p.typeOf(field), exact), value))
	}

	return rules
}

func (p *Parser) fieldRule(tok Token, exact bool) filter.Rule {
	tok.Field = p.resolve(tok.Field)
	t := p.typeOf(tok.Field)

	switch tok.Cmp {
	case CmpGreater:
		if t == filter.TypeJSONB {
			return p.rule(tok.Field, filter.OpJSONGreaterThan, tok.Lit)
		}

		return p.rule(tok.Field, filter.OpGreaterThan, tok.Lit)
	case CmpLess:
		if t == filter.TypeJSONB {
			return p.rule(tok.Field, filter.OpJSONLessThan, tok.Lit)
		}

		return p.rule(tok.Field, filter.OpLessThan, tok.Lit)
	default:
		return p.rule(tok.Field, matchOperation(t, exact), tok.Lit)
	}
}

// rule builds a rule for field, splitting column.key paths on JSONB columns.
func (p *Parser) rule(field string, op filter.Operation, value string) filter.Rule {
	r := filter.Rule{ID: p.newID(), Column: field, Operation: op, Value: value}

	if column, key, ok := p.registry.SplitPath(field); ok {
		r.Column, r.JSONField = column, key
	}

	return r
}

// typeOf returns the column type a field resolves to. JSON paths report
// TypeJSONB; unknown fields report text so they get a contains rule.
func (p *Parser) typeOf(field string) filter.ColumnType {
	if _, _, ok := p.registry.SplitPath(field); ok {
		return filter.TypeJSONB
	}

	if c, ok := p.registry.Lookup(field); ok {
		return c.Type
	}

	return filter.TypeText
}

func matchOperation(t filter.ColumnType, exact bool) filter.Operation {
	switch t {
	case filter.TypeNumber, filter.TypeDate:
		return filter.OpEquals
	case filter.TypeJSONB:
		if exact {
			return filter.OpJSONEquals
		}

		return filter.OpJSONContains
	default:
		if exact {
			return filter.OpEquals
		}

		return filter.OpContains
	}
}
