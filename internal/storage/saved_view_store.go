package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/callscope/callscope/internal/config"
	"github.com/callscope/callscope/internal/views"
)

var (
	// ErrViewStoreFailed is returned when a saved view query fails.
	ErrViewStoreFailed = errors.New("saved view storage failed")

	_ views.Store = (*SavedViewStore)(nil)
)

// SavedViewStore implements views.Store on the saved_views table. Filters
// and visible columns are stored as JSONB documents.
type SavedViewStore struct {
	conn   *Connection
	logger *slog.Logger
}

type viewRow struct {
	ID             string    `db:"id"`
	AgentID        string    `db:"agent_id"`
	Name           string    `db:"name"`
	Filters        []byte    `db:"filters"`
	VisibleColumns []byte    `db:"visible_columns"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

const viewColumns = "id, agent_id, name, filters, visible_columns, created_at, updated_at"

// NewSavedViewStore creates a store over conn.
func NewSavedViewStore(conn *Connection) *SavedViewStore {
	return &SavedViewStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// Save creates the view when its ID is empty and updates it otherwise.
func (s *SavedViewStore) Save(ctx context.Context, view *views.SavedView) (*views.SavedView, error) {
	if err := views.Validate(view); err != nil {
		return nil, err
	}

	filters, err := views.EncodeFilters(view.Filters)
	if err != nil {
		return nil, err
	}

	columns, err := json.Marshal(view.VisibleColumns)
	if err != nil {
		return nil, fmt.Errorf("%w: visible columns: %w", ErrViewStoreFailed, err)
	}

	defer s.conn.observe("saved_views.save", time.Now())

	var row viewRow

	if view.ID == "" {
		query := `
			INSERT INTO saved_views (id, agent_id, name, filters, visible_columns, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
			RETURNING ` + viewColumns

		err = s.conn.GetContext(ctx, &row, query, uuid.NewString(), view.AgentID, view.Name, filters, columns)
	} else {
		if _, parseErr := uuid.Parse(view.ID); parseErr != nil {
			return nil, views.ErrViewNotFound
		}

		query := `
			UPDATE saved_views
			SET name = $3, filters = $4, visible_columns = $5, updated_at = NOW()
			WHERE id = $1 AND agent_id = $2
			RETURNING ` + viewColumns

		err = s.conn.GetContext(ctx, &row, query, view.ID, view.AgentID, view.Name, filters, columns)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return nil, views.ErrViewNotFound
	}

	if err != nil {
		s.logger.Error("Failed to save view",
			slog.String("agent_id", view.AgentID),
			slog.String("view_id", view.ID),
			slog.String("error", err.Error()))

		return nil, fmt.Errorf("%w: %w", ErrViewStoreFailed, err)
	}

	return row.toView()
}

// Get returns one of the agent's views.
func (s *SavedViewStore) Get(ctx context.Context, agentID, id string) (*views.SavedView, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, views.ErrViewNotFound
	}

	defer s.conn.observe("saved_views.get", time.Now())

	var row viewRow

	err := s.conn.GetContext(ctx, &row,
		"SELECT "+viewColumns+" FROM saved_views WHERE id = $1 AND agent_id = $2", id, agentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, views.ErrViewNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrViewStoreFailed, err)
	}

	return row.toView()
}

// Delete removes one of the agent's views.
func (s *SavedViewStore) Delete(ctx context.Context, agentID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return views.ErrViewNotFound
	}

	defer s.conn.observe("saved_views.delete", time.Now())

	result, err := s.conn.ExecContext(ctx, "DELETE FROM saved_views WHERE id = $1 AND agent_id = $2", id, agentID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrViewStoreFailed, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrViewStoreFailed, err)
	}

	if n == 0 {
		return views.ErrViewNotFound
	}

	return nil
}

// List returns the agent's views, most recently updated first.
func (s *SavedViewStore) List(ctx context.Context, agentID string) ([]*views.SavedView, error) {
	if agentID == "" {
		return nil, views.ErrAgentIDEmpty
	}

	defer s.conn.observe("saved_views.list", time.Now())

	var rows []viewRow

	err := s.conn.SelectContext(ctx, &rows,
		"SELECT "+viewColumns+" FROM saved_views WHERE agent_id = $1 ORDER BY updated_at DESC, id", agentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrViewStoreFailed, err)
	}

	out := make([]*views.SavedView, 0, len(rows))

	for _, row := range rows {
		v, err := row.toView()
		if err != nil {
			s.logger.Warn("Skipping unreadable saved view",
				slog.String("agent_id", agentID),
				slog.String("view_id", row.ID),
				slog.String("error", err.Error()))

			continue
		}

		out = append(out, v)
	}

	return out, nil
}

func (r viewRow) toView() (*views.SavedView, error) {
	filters, err := views.DecodeFilters(r.Filters)
	if err != nil {
		return nil, err
	}

	var columns views.VisibleColumns
	if len(r.VisibleColumns) > 0 {
		if err := json.Unmarshal(r.VisibleColumns, &columns); err != nil {
			return nil, fmt.Errorf("%w: visible columns: %w", ErrViewStoreFailed, err)
		}
	}

	return &views.SavedView{
		ID:             r.ID,
		AgentID:        r.AgentID,
		Name:           r.Name,
		Filters:        filters,
		VisibleColumns: columns,
		CreatedAt:      r.CreatedAt.UTC(),
		UpdatedAt:      r.UpdatedAt.UTC(),
	}, nil
}
