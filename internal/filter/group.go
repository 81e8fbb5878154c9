package filter

import (
	"errors"

	"github.com/google/uuid"
)

// Errors returned by group list operations.
var (
	ErrLastGroup     = errors.New("cannot remove the last filter group")
	ErrGroupNotFound = errors.New("filter group not found")
)

// NewGroup returns an empty AND group with a fresh id.
func NewGroup() Group {
	return Group{ID: uuid.NewString(), Logic: LogicAnd, Rules: []Rule{}}
}

// NewRule returns a rule with a fresh id.
func NewRule(column string, op Operation, value string) Rule {
	return Rule{ID: uuid.NewString(), Column: column, Operation: op, Value: value}
}

// NewJSONRule returns a rule on a key inside a JSONB column.
func NewJSONRule(column, field string, op Operation, value string) Rule {
	r := NewRule(column, op, value)
	r.JSONField = field

	return r
}

// AddRule appends rule to g. A rule without an id gets a fresh one.
func AddRule(g Group, rule Rule) Group {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	out := g.clone()
	out.Rules = append(out.Rules, rule)

	return out
}

// RemoveRule removes the rule with ruleID. Unknown ids leave the group unchanged.
func RemoveRule(g Group, ruleID string) Group {
	out := g.clone()
	out.Rules = out.Rules[:0]

	for _, r := range g.Rules {
		if r.ID != ruleID {
			out.Rules = append(out.Rules, r)
		}
	}

	return out
}

// UpdateRule replaces the rule that shares rule.ID.
func UpdateRule(g Group, rule Rule) Group {
	out := g.clone()

	for i := range out.Rules {
		if out.Rules[i].ID == rule.ID {
			out.Rules[i] = rule
		}
	}

	return out
}

// SetGroupLogic returns g with its logic replaced.
func SetGroupLogic(g Group, logic Logic) Group {
	out := g.clone()
	out.Logic = logic

	return out
}

// AddGroup appends an empty group.
func AddGroup(groups []Group) []Group {
	out := cloneGroups(groups)

	return append(out, NewGroup())
}

// RemoveGroup removes the group with groupID. The last remaining group can
// never be removed.
func RemoveGroup(groups []Group, groupID string) ([]Group, error) {
	idx := indexOf(groups, groupID)
	if idx < 0 {
		return cloneGroups(groups), ErrGroupNotFound
	}

	if len(groups) == 1 {
		return cloneGroups(groups), ErrLastGroup
	}

	out := make([]Group, 0, len(groups)-1)
	for i, g := range groups {
		if i != idx {
			out = append(out, g.clone())
		}
	}

	return out, nil
}

// DuplicateGroup inserts a deep copy of the group directly after it. The copy,
// its nested groups and all of their rules receive fresh ids.
func DuplicateGroup(groups []Group, groupID string) ([]Group, error) {
	idx := indexOf(groups, groupID)
	if idx < 0 {
		return cloneGroups(groups), ErrGroupNotFound
	}

	out := make([]Group, 0, len(groups)+1)
	for i, g := range groups {
		out = append(out, g.clone())

		if i == idx {
			out = append(out, g.withFreshIDs())
		}
	}

	return out, nil
}

// Flatten returns every rule of groups and their nested groups in tree order.
func Flatten(groups []Group) []Rule {
	var rules []Rule

	for _, g := range groups {
		rules = append(rules, g.Rules...)
		rules = append(rules, Flatten(g.Groups)...)
	}

	return rules
}

func (g Group) clone() Group {
	out := g
	out.Rules = append([]Rule{}, g.Rules...)

	if g.Groups != nil {
		out.Groups = cloneGroups(g.Groups)
	}

	return out
}

func (g Group) withFreshIDs() Group {
	out := g.clone()
	out.ID = uuid.NewString()

	for i := range out.Rules {
		out.Rules[i].ID = uuid.NewString()
	}

	for i := range out.Groups {
		out.Groups[i] = out.Groups[i].withFreshIDs()
	}

	return out
}

func cloneGroups(groups []Group) []Group {
	out := make([]Group, len(groups))
	for i, g := range groups {
		out[i] = g.clone()
	}

	return out
}

func indexOf(groups []Group, groupID string) int {
	for i, g := range groups {
		if g.ID == groupID {
			return i
		}
	}

	return -1
}
