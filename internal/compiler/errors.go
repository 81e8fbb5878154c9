package compiler

import (
	"errors"
	"fmt"

	"github.com/callscope/callscope/internal/filter"
)

// Sentinel errors for dropped rules.
var (
	ErrInvalidRule          = errors.New("invalid filter rule")
	ErrUnsupportedOperation = errors.New("unsupported filter operation")
	ErrMalformedNumber      = errors.New("value is not a number")
	ErrMalformedDate        = errors.New("value is not a date")
	ErrMalformedRange       = errors.New("range must be two comma separated values")
)

// ValidationError reports a rule that cannot be compiled as written. The
// rule is dropped and compilation continues.
type ValidationError struct {
	RuleID string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid rule %q: %v", e.RuleID, e.Err)
}

// Unwrap exposes both ErrInvalidRule and the underlying cause.
func (e *ValidationError) Unwrap() []error {
	return []error{ErrInvalidRule, e.Err}
}

// UnsupportedOperationError reports a rule whose operation the compiler does
// not know. The rule is dropped and compilation continues.
type UnsupportedOperationError struct {
	RuleID    string
	Operation filter.Operation
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("rule %q: unsupported operation %q", e.RuleID, e.Operation)
}

// Unwrap returns ErrUnsupportedOperation.
func (e *UnsupportedOperationError) Unwrap() error {
	return ErrUnsupportedOperation
}

// WarningKind classifies compile warnings.
type WarningKind string

// Warning kinds.
const (
	WarnInvalidRule          WarningKind = "invalid_rule"
	WarnUnsupportedOperation WarningKind = "unsupported_operation"
	WarnMalformedNumber      WarningKind = "malformed_number"
	WarnFlattenedOr          WarningKind = "flattened_or"
	WarnMissingThreshold     WarningKind = "missing_threshold"
)

// Warning describes something the compiler dropped or changed.
type Warning struct {
	Kind      WarningKind      `json:"kind"`
	RuleID    string           `json:"ruleId,omitempty"`
	GroupID   string           `json:"groupId,omitempty"`
	Column    string           `json:"column,omitempty"`
	Operation filter.Operation `json:"operation,omitempty"`
	Message   string           `json:"message"`
}

func warningFor(rule filter.Rule, err error) Warning {
	kind := WarnInvalidRule

	var unsupported *UnsupportedOperationError
	if errors.As(err, &unsupported) {
		kind = WarnUnsupportedOperation
	}

	return Warning{
		Kind:      kind,
		RuleID:    rule.ID,
		Column:    rule.Column,
		Operation: rule.Operation,
		Message:   err.Error(),
	}
}
