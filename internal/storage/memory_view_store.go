package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/callscope/callscope/internal/views"
)

var _ views.Store = (*InMemoryViewStore)(nil)

// InMemoryViewStore provides thread-safe in-memory storage for saved views.
// It backs the service when no database is configured, and tests.
type InMemoryViewStore struct {
	// viewsByID maps view IDs to views
	viewsByID map[string]*views.SavedView
	// viewsByAgent maps agent IDs to the IDs of their views
	viewsByAgent map[string][]string
	now          func() time.Time
	// mutex protects concurrent access to all maps
	mutex sync.RWMutex
}

// NewInMemoryViewStore creates an empty store.
func NewInMemoryViewStore() *InMemoryViewStore {
	return &InMemoryViewStore{
		viewsByID:    make(map[string]*views.SavedView),
		viewsByAgent: make(map[string][]string),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Save creates the view when its ID is empty and updates it otherwise.
func (s *InMemoryViewStore) Save(_ context.Context, view *views.SavedView) (*views.SavedView, error) {
	if err := views.Validate(view); err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	now := s.now()

	// Store a copy to prevent external modification
	stored := view.Clone()

	if stored.ID == "" {
		stored.ID = uuid.NewString()
		stored.CreatedAt = now
		stored.UpdatedAt = now

		s.viewsByID[stored.ID] = stored
		s.viewsByAgent[stored.AgentID] = append(s.viewsByAgent[stored.AgentID], stored.ID)

		return stored.Clone(), nil
	}

	existing, ok := s.viewsByID[stored.ID]
	if !ok || existing.AgentID != stored.AgentID {
		return nil, views.ErrViewNotFound
	}

	stored.CreatedAt = existing.CreatedAt
	stored.UpdatedAt = now
	s.viewsByID[stored.ID] = stored

	return stored.Clone(), nil
}

// Get returns one of the agent's views.
func (s *InMemoryViewStore) Get(_ context.Context, agentID, id string) (*views.SavedView, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	v, ok := s.viewsByID[id]
	if !ok || v.AgentID != agentID {
		return nil, views.ErrViewNotFound
	}

	return v.Clone(), nil
}

// Delete removes one of the agent's views.
func (s *InMemoryViewStore) Delete(_ context.Context, agentID, id string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	v, ok := s.viewsByID[id]
	if !ok || v.AgentID != agentID {
		return views.ErrViewNotFound
	}

	delete(s.viewsByID, id)
	s.removeFromAgentMap(agentID, id)

	return nil
}

// List returns the agent's views, most recently updated first.
func (s *InMemoryViewStore) List(_ context.Context, agentID string) ([]*views.SavedView, error) {
	if agentID == "" {
		return nil, views.ErrAgentIDEmpty
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ids := s.viewsByAgent[agentID]

	// Return copies to prevent external modification
	out := make([]*views.SavedView, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.viewsByID[id].Clone())
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}

		return out[i].ID < out[j].ID
	})

	return out, nil
}

// removeFromAgentMap removes a view ID from the agent index.
// Caller must hold write lock.
func (s *InMemoryViewStore) removeFromAgentMap(agentID, id string) {
	ids := s.viewsByAgent[agentID]
	for i, existing := range ids {
		if existing == id {
			s.viewsByAgent[agentID] = append(ids[:i], ids[i+1:]...)

			break
		}
	}

	// Clean up empty agent entries
	if len(s.viewsByAgent[agentID]) == 0 {
		delete(s.viewsByAgent, agentID)
	}
}
