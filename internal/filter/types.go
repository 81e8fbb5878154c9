// Package filter defines the user-authored filter tree for call logs: rules,
// groups of rules, and the fixed column registry rules are validated against.
//
// All operations are pure. Mutations return a new value and never modify their
// input, so callers can keep previous trees for undo or comparison.
package filter

// ColumnType is the storage type of a filterable column.
type ColumnType string

// Column types.
const (
	TypeText   ColumnType = "text"
	TypeNumber ColumnType = "number"
	TypeDate   ColumnType = "date"
	TypeJSONB  ColumnType = "jsonb"
)

// Operation is a user-facing filter operation.
type Operation string

// Text operations.
const (
	OpEquals     Operation = "equals"
	OpContains   Operation = "contains"
	OpStartsWith Operation = "starts_with"
	OpEndsWith   Operation = "ends_with"
	OpIsEmpty    Operation = "is_empty"
)

// Number and date operations. OpEquals is shared with text.
const (
	OpGreaterThan Operation = "greater_than"
	OpLessThan    Operation = "less_than"
	OpBetween     Operation = "between"
)

// JSONB operations.
const (
	OpJSONEquals      Operation = "json_equals"
	OpJSONContains    Operation = "json_contains"
	OpJSONExists      Operation = "json_exists"
	OpJSONGreaterThan Operation = "json_greater_than"
	OpJSONLessThan    Operation = "json_less_than"
)

// Logic combines the rules of a group.
type Logic string

// Group logic values.
const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Category groups columns for display and for saved visible-column sets.
type Category string

// Column categories. JSONB columns map to the category of the keys they hold.
const (
	CategoryBasic         Category = "basic"
	CategoryMetadata      Category = "metadata"
	CategoryTranscription Category = "transcription"
	CategoryMetrics       Category = "metrics"
)

// Rule is a single filter condition.
//
// JSONField names a key inside a JSONB column and must be set exactly when
// Column refers to a JSONB column.
type Rule struct {
	ID        string    `json:"id" yaml:"id"`
	Column    string    `json:"column" yaml:"column"`
	Operation Operation `json:"operation" yaml:"operation"`
	Value     string    `json:"value" yaml:"value"`
	JSONField string    `json:"jsonField,omitempty" yaml:"jsonField,omitempty"`
}

// Group is a list of rules joined by Logic. Groups may nest.
type Group struct {
	ID     string  `json:"id" yaml:"id"`
	Logic  Logic   `json:"logic" yaml:"logic"`
	Rules  []Rule  `json:"rules" yaml:"rules"`
	Groups []Group `json:"groups,omitempty" yaml:"groups,omitempty"`
}

// ColumnDescriptor describes one filterable column.
type ColumnDescriptor struct {
	Name       string      `json:"name"`
	Label      string      `json:"label"`
	Type       ColumnType  `json:"type"`
	Category   Category    `json:"category"`
	Operations []Operation `json:"operations"`
	Sortable   bool        `json:"sortable"`
}

// Supports reports whether op is allowed on the column.
func (c ColumnDescriptor) Supports(op Operation) bool {
	for _, allowed := range c.Operations {
		if allowed == op {
			return true
		}
	}

	return false
}

// RequiresValue reports whether op needs a non-empty value.
func RequiresValue(op Operation) bool {
	return op != OpIsEmpty && op != OpJSONExists
}

// IsKnownOperation reports whether op is any operation in the vocabulary.
func IsKnownOperation(op Operation) bool {
	switch op {
	case OpEquals, OpContains, OpStartsWith, OpEndsWith, OpIsEmpty,
		OpGreaterThan, OpLessThan, OpBetween,
		OpJSONEquals, OpJSONContains, OpJSONExists, OpJSONGreaterThan, OpJSONLessThan:
		return true
	default:
		return false
	}
}

// OperationsFor returns the operations allowed for a column type.
func OperationsFor(t ColumnType) []Operation {
	switch t {
	case TypeText:
		return []Operation{OpEquals, OpContains, OpStartsWith, OpEndsWith, OpIsEmpty}
	case TypeNumber, TypeDate:
		return []Operation{OpEquals, OpGreaterThan, OpLessThan, OpBetween}
	case TypeJSONB:
		return []Operation{OpJSONEquals, OpJSONContains, OpJSONExists, OpJSONGreaterThan, OpJSONLessThan}
	default:
		return nil
	}
}
