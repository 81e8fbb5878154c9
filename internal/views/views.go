// Package views defines saved views: named presets of a filter tree plus the
// set of visible columns, owned by an agent.
package views

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/callscope/callscope/internal/filter"
)

var (
	// ErrViewNotFound is returned when a view does not exist for the agent.
	ErrViewNotFound = errors.New("saved view not found")
	// ErrViewNil is returned when a nil view is saved.
	ErrViewNil = errors.New("saved view cannot be nil")
	// ErrAgentIDEmpty is returned when a view has no owning agent.
	ErrAgentIDEmpty = errors.New("agent ID cannot be empty")
	// ErrNameEmpty is returned when a view name is blank.
	ErrNameEmpty = errors.New("view name cannot be empty")
	// ErrInvalidFilters is returned when a view's filter tree does not encode.
	ErrInvalidFilters = errors.New("invalid view filters")
)

// SavedView is a persisted filter tree and column layout.
type SavedView struct {
	ID             string         `json:"id"`
	AgentID        string         `json:"agentId"`
	Name           string         `json:"name"`
	Filters        []filter.Group `json:"filters"`
	VisibleColumns VisibleColumns `json:"visibleColumns"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Store persists saved views. Every operation is scoped to one agent.
type Store interface {
	// Save creates the view when ID is empty and updates it otherwise. It
	// returns the stored view with ID and timestamps assigned.
	Save(ctx context.Context, view *SavedView) (*SavedView, error)
	// Get returns one view.
	Get(ctx context.Context, agentID, id string) (*SavedView, error)
	// Delete removes one view. Confirmation is the caller's concern.
	Delete(ctx context.Context, agentID, id string) error
	// List returns the agent's views, most recently updated first.
	List(ctx context.Context, agentID string) ([]*SavedView, error)
}

// Validate checks the fields every store requires and trims the name.
func Validate(view *SavedView) error {
	if view == nil {
		return ErrViewNil
	}

	if strings.TrimSpace(view.AgentID) == "" {
		return ErrAgentIDEmpty
	}

	view.Name = strings.TrimSpace(view.Name)
	if view.Name == "" {
		return ErrNameEmpty
	}

	return nil
}

// Clone returns a deep copy of v.
func (v *SavedView) Clone() *SavedView {
	if v == nil {
		return nil
	}

	out := *v
	out.VisibleColumns = v.VisibleColumns.Clone()

	if v.Filters != nil {
		data, err := json.Marshal(v.Filters)
		if err == nil {
			out.Filters = nil
			_ = json.Unmarshal(data, &out.Filters)
		}
	}

	return &out
}

// EncodeFilters serializes a filter tree for storage. A nil tree encodes as
// an empty list.
func EncodeFilters(groups []filter.Group) ([]byte, error) {
	if groups == nil {
		groups = []filter.Group{}
	}

	data, err := json.Marshal(groups)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFilters, err)
	}

	return data, nil
}

// DecodeFilters parses a stored filter tree.
func DecodeFilters(data []byte) ([]filter.Group, error) {
	groups := []filter.Group{}
	if len(data) == 0 {
		return groups, nil
	}

	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFilters, err)
	}

	return groups, nil
}
