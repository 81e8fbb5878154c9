package api

import (
	"net/http"

	"github.com/callscope/callscope/internal/discovery"
)

// handleFields handles GET /api/v1/agents/{agentID}/fields.
func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	s.serveFields(w, r, false)
}

// handleRefreshFields handles POST /api/v1/agents/{agentID}/fields/refresh.
func (s *Server) handleRefreshFields(w http.ResponseWriter, r *http.Request) {
	s.serveFields(w, r, true)
}

// handleThresholds handles GET /api/v1/agents/{agentID}/thresholds.
func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	s.serveThresholds(w, r, false)
}

// handleRefreshThresholds handles POST /api/v1/agents/{agentID}/thresholds/refresh.
func (s *Server) handleRefreshThresholds(w http.ResponseWriter, r *http.Request) {
	s.serveThresholds(w, r, true)
}

// serveFields never fails once configured: a sampling failure yields an
// empty catalog.
func (s *Server) serveFields(w http.ResponseWriter, r *http.Request, refresh bool) {
	if s.deps.Fields == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Field discovery is not configured"))

		return
	}

	agentID, ok := s.agentID(w, r)
	if !ok {
		return
	}

	catalog := s.deps.Fields.Fields
	if refresh {
		catalog = s.deps.Fields.Refresh
	}

	fields := catalog(r.Context(), agentID)
	if fields == nil {
		fields = discovery.Catalog{}
	}

	s.writeJSON(w, r, http.StatusOK, FieldsResponse{AgentID: agentID, Fields: fields})
}

// serveThresholds answers null thresholds when an agent has too few calls.
func (s *Server) serveThresholds(w http.ResponseWriter, r *http.Request, refresh bool) {
	if s.deps.Thresholds == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Anomaly thresholds are not configured"))

		return
	}

	agentID, ok := s.agentID(w, r)
	if !ok {
		return
	}

	thresholds := s.deps.Thresholds.Thresholds
	if refresh {
		thresholds = s.deps.Thresholds.Refresh
	}

	s.writeJSON(w, r, http.StatusOK, ThresholdsResponse{
		AgentID:    agentID,
		Thresholds: thresholds(r.Context(), agentID),
	})
}
