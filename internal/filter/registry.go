package filter

import (
	"errors"
	"fmt"
	"strings"
)

// Validation errors returned by Registry.Validate.
var (
	ErrUnknownColumn       = errors.New("unknown column")
	ErrOperationNotAllowed = errors.New("operation not allowed for column")
	ErrMissingValue        = errors.New("rule requires a value")
	ErrMissingJSONField    = errors.New("jsonb column requires a json field")
	ErrUnexpectedJSONField = errors.New("json field is only allowed on jsonb columns")
)

// Registry is the fixed set of filterable call-log columns.
type Registry struct {
	columns map[string]ColumnDescriptor
	order   []string
}

// NewRegistry builds a registry from descriptors. Operations default to the
// column type's set when left empty.
func NewRegistry(columns ...ColumnDescriptor) *Registry {
	r := &Registry{columns: make(map[string]ColumnDescriptor, len(columns))}

	for _, c := range columns {
		if len(c.Operations) == 0 {
			c.Operations = OperationsFor(c.Type)
		}

		if _, exists := r.columns[c.Name]; !exists {
			r.order = append(r.order, c.Name)
		}

		r.columns[c.Name] = c
	}

	return r
}

// DefaultRegistry returns the call-log column registry.
func DefaultRegistry() *Registry {
	return NewRegistry(
		ColumnDescriptor{Name: "call_id", Label: "Call ID", Type: TypeText, Category: CategoryBasic},
		ColumnDescriptor{Name: "customer_number", Label: "Customer Number", Type: TypeText, Category: CategoryBasic},
		ColumnDescriptor{Name: "call_ended_reason", Label: "Ended Reason", Type: TypeText, Category: CategoryBasic},
		ColumnDescriptor{Name: "environment", Label: "Environment", Type: TypeText, Category: CategoryBasic},
		ColumnDescriptor{Name: "transcript_type", Label: "Transcript Type", Type: TypeText, Category: CategoryBasic},
		ColumnDescriptor{
			Name: "duration_seconds", Label: "Duration (s)", Type: TypeNumber, Category: CategoryBasic, Sortable: true,
		},
		ColumnDescriptor{Name: "total_cost", Label: "Cost", Type: TypeNumber, Category: CategoryBasic, Sortable: true},
		ColumnDescriptor{
			Name: "avg_latency", Label: "Avg Latency (ms)", Type: TypeNumber, Category: CategoryBasic, Sortable: true,
		},
		ColumnDescriptor{Name: "call_started_at", Label: "Started", Type: TypeDate, Category: CategoryBasic, Sortable: true},
		ColumnDescriptor{Name: "call_ended_at", Label: "Ended", Type: TypeDate, Category: CategoryBasic, Sortable: true},
		ColumnDescriptor{Name: "created_at", Label: "Created", Type: TypeDate, Category: CategoryBasic, Sortable: true},
		ColumnDescriptor{Name: "metadata", Label: "Metadata", Type: TypeJSONB, Category: CategoryMetadata},
		ColumnDescriptor{
			Name: "transcription_metrics", Label: "Transcription", Type: TypeJSONB, Category: CategoryTranscription,
		},
		ColumnDescriptor{Name: "metrics", Label: "Metrics", Type: TypeJSONB, Category: CategoryMetrics},
	)
}

// Lookup returns the descriptor for a column name.
func (r *Registry) Lookup(name string) (ColumnDescriptor, bool) {
	c, ok := r.columns[name]

	return c, ok
}

// Columns returns all descriptors in registration order.
func (r *Registry) Columns() []ColumnDescriptor {
	out := make([]ColumnDescriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.columns[name])
	}

	return out
}

// ColumnsSupporting returns the names of columns that allow op, in registration order.
func (r *Registry) ColumnsSupporting(op Operation) []string {
	var names []string

	for _, name := range r.order {
		if r.columns[name].Supports(op) {
			names = append(names, name)
		}
	}

	return names
}

// SortableColumns returns the sort allow-list.
func (r *Registry) SortableColumns() []string {
	var names []string

	for _, name := range r.order {
		if r.columns[name].Sortable {
			names = append(names, name)
		}
	}

	return names
}

// SplitPath resolves a dotted field path such as "metadata.intent" into a
// JSONB column and key. ok is false when the prefix is not a JSONB column.
func (r *Registry) SplitPath(path string) (column, key string, ok bool) {
	column, key, found := strings.Cut(path, ".")
	if !found || key == "" {
		return "", "", false
	}

	c, exists := r.columns[column]
	if !exists || c.Type != TypeJSONB {
		return "", "", false
	}

	return column, key, true
}

// ValidateRule reports whether rule is well formed against the registry.
func (r *Registry) ValidateRule(rule Rule) bool {
	return r.Validate(rule) == nil
}

// Validate returns nil when the rule names a registered column, uses an
// operation allowed for that column, carries a value when the operation needs
// one, and sets JSONField exactly when the column is JSONB.
func (r *Registry) Validate(rule Rule) error {
	c, ok := r.columns[rule.Column]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownColumn, rule.Column)
	}

	if !c.Supports(rule.Operation) {
		return fmt.Errorf("%w: %s on %s", ErrOperationNotAllowed, rule.Operation, rule.Column)
	}

	if RequiresValue(rule.Operation) && strings.TrimSpace(rule.Value) == "" {
		return fmt.Errorf("%w: %s", ErrMissingValue, rule.Operation)
	}

	if c.Type == TypeJSONB && rule.JSONField == "" {
		return fmt.Errorf("%w: %s", ErrMissingJSONField, rule.Column)
	}

	if c.Type != TypeJSONB && rule.JSONField != "" {
		return fmt.Errorf("%w: %s", ErrUnexpectedJSONField, rule.Column)
	}

	return nil
}
