package api

import (
	"log/slog"
	"net/http"

	"github.com/callscope/callscope/internal/api/middleware"
	"github.com/callscope/callscope/internal/views"
)

// handleListViews handles GET /api/v1/agents/{agentID}/views.
func (s *Server) handleListViews(w http.ResponseWriter, r *http.Request) {
	agentID, ok := s.viewScope(w, r)
	if !ok {
		return
	}

	list, err := s.deps.Views.List(r.Context(), agentID)
	if err != nil {
		s.writeError(w, r, "Failed to list saved views", err)

		return
	}

	if list == nil {
		list = []*views.SavedView{}
	}

	s.writeJSON(w, r, http.StatusOK, ViewsResponse{Views: list})
}

// handleCreateView handles POST /api/v1/agents/{agentID}/views.
//
// Response codes:
//   - 201 Created: the stored view, with Location set
//   - 422 Unprocessable Entity: blank name
func (s *Server) handleCreateView(w http.ResponseWriter, r *http.Request) {
	agentID, ok := s.viewScope(w, r)
	if !ok {
		return
	}

	var req ViewRequest
	if problem := s.decodeJSON(w, r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	saved, err := s.deps.Views.Save(r.Context(), req.toView(agentID, ""))
	if err != nil {
		s.writeError(w, r, "Failed to create saved view", err)

		return
	}

	s.logger.Info("Saved view created",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("agent_id", agentID),
		slog.String("view_id", saved.ID),
	)

	w.Header().Set("Location", r.URL.Path+"/"+saved.ID)
	s.writeJSON(w, r, http.StatusCreated, saved)
}

// handleGetView handles GET /api/v1/agents/{agentID}/views/{viewID}.
func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	agentID, ok := s.viewScope(w, r)
	if !ok {
		return
	}

	view, err := s.deps.Views.Get(r.Context(), agentID, r.PathValue("viewID"))
	if err != nil {
		s.writeError(w, r, "Failed to get saved view", err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, view)
}

// handleUpdateView handles PUT /api/v1/agents/{agentID}/views/{viewID}. The
// body replaces name, filters and visible columns.
func (s *Server) handleUpdateView(w http.ResponseWriter, r *http.Request) {
	agentID, ok := s.viewScope(w, r)
	if !ok {
		return
	}

	var req ViewRequest
	if problem := s.decodeJSON(w, r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	viewID := r.PathValue("viewID")

	saved, err := s.deps.Views.Save(r.Context(), req.toView(agentID, viewID))
	if err != nil {
		s.writeError(w, r, "Failed to update saved view", err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, saved)
}

// handleDeleteView handles DELETE /api/v1/agents/{agentID}/views/{viewID}.
func (s *Server) handleDeleteView(w http.ResponseWriter, r *http.Request) {
	agentID, ok := s.viewScope(w, r)
	if !ok {
		return
	}

	viewID := r.PathValue("viewID")

	if err := s.deps.Views.Delete(r.Context(), agentID, viewID); err != nil {
		s.writeError(w, r, "Failed to delete saved view", err)

		return
	}

	s.logger.Info("Saved view deleted",
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("agent_id", agentID),
		slog.String("view_id", viewID),
	)

	w.Header().Set("X-Callscope-Version", s.deps.Version)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) viewScope(w http.ResponseWriter, r *http.Request) (string, bool) {
	if s.deps.Views == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Saved view store is not configured"))

		return "", false
	}

	return s.agentID(w, r)
}

func (req ViewRequest) toView(agentID, id string) *views.SavedView {
	return &views.SavedView{
		ID:             id,
		AgentID:        agentID,
		Name:           req.Name,
		Filters:        req.Filters,
		VisibleColumns: req.VisibleColumns,
	}
}
