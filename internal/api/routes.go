package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/callscope/callscope/internal/api/middleware"
)

const healthCheckTimeout = 2 * time.Second

// setupRoutes registers every endpoint on mux.
func (s *Server) setupRoutes(mux *http.ServeMux) {
	s.register(mux,
		Route{"GET /ping", s.handlePing},
		Route{"GET /ready", s.handleReady},
		Route{"GET /health", s.handleHealth},
		Route{"/", s.handleNotFound},

		Route{"GET /api/v1/columns", s.handleColumns},
		Route{"POST /api/v1/search/parse", s.handleParseSearch},

		Route{"POST /api/v1/agents/{agentID}/compile", s.handleCompile},
		Route{"POST /api/v1/agents/{agentID}/calls/query", s.handleQueryCalls},
		Route{"GET /api/v1/agents/{agentID}/calls", s.handleGetCalls},

		Route{"GET /api/v1/agents/{agentID}/fields", s.handleFields},
		Route{"POST /api/v1/agents/{agentID}/fields/refresh", s.handleRefreshFields},
		Route{"GET /api/v1/agents/{agentID}/thresholds", s.handleThresholds},
		Route{"POST /api/v1/agents/{agentID}/thresholds/refresh", s.handleRefreshThresholds},

		Route{"GET /api/v1/agents/{agentID}/views", s.handleListViews},
		Route{"POST /api/v1/agents/{agentID}/views", s.handleCreateView},
		Route{"GET /api/v1/agents/{agentID}/views/{viewID}", s.handleGetView},
		Route{"PUT /api/v1/agents/{agentID}/views/{viewID}", s.handleUpdateView},
		Route{"DELETE /api/v1/agents/{agentID}/views/{viewID}", s.handleDeleteView},
	)
}

func (s *Server) register(mux *http.ServeMux, routes ...Route) {
	for _, route := range routes {
		mux.Handle(route.Pattern, route.Handler)
	}
}

// handlePing answers liveness probes.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.writeText(w, r, http.StatusOK, "pong")
}

// handleReady answers readiness probes by checking the database. Without a
// health checker the server is always ready.
//
// Response codes:
//   - 200 OK: ready
//   - 503 Service Unavailable: the database is unreachable
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		s.writeText(w, r, http.StatusOK, "ready")

		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.deps.Health.HealthCheck(ctx); err != nil {
		s.logger.Error("Storage health check failed",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)

		s.writeText(w, r, http.StatusServiceUnavailable, "storage unavailable")

		return
	}

	s.writeText(w, r, http.StatusOK, "ready")
}

// handleHealth reports status, version and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var uptime string
	if !s.startTime.IsZero() {
		uptime = time.Since(s.startTime).Round(time.Second).String()
	}

	s.writeJSON(w, r, http.StatusOK, HealthStatus{
		Status:      "healthy",
		ServiceName: "callscope",
		Version:     s.deps.Version,
		Uptime:      uptime,
	})
}

// handleNotFound answers unknown paths with a 404 problem.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) {
	WriteErrorResponse(w, r, s.logger, NotFound("The requested resource was not found"))
}

// writeJSON encodes v before writing any header so that encode failures
// can still produce a 500. HTML escaping is off so predicate columns keep
// their ->> operator.
func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	if err := enc.Encode(v); err != nil {
		s.logger.Error("Failed to encode response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)

		WriteErrorResponse(w, r, s.logger, InternalServerError("Failed to encode response"))

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Callscope-Version", s.deps.Version)
	w.WriteHeader(status)

	if _, err := w.Write(buf.Bytes()); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Server) writeText(w http.ResponseWriter, r *http.Request, status int, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("X-Callscope-Version", s.deps.Version)
	w.WriteHeader(status)

	if _, err := w.Write([]byte(body)); err != nil {
		s.logger.Error("Failed to write response",
			slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
}

// decodeJSON reads a JSON request body into dst. It returns nil on success.
//
// Validates:
//   - Content-Type is application/json (415)
//   - body is within MaxRequestSize (413)
//   - body is present and well-formed (400)
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) *ProblemDetail {
	if !hasJSONContentType(r.Header.Get("Content-Type")) {
		return UnsupportedMediaType("Content-Type must be application/json")
	}

	if r.ContentLength > s.config.MaxRequestSize {
		return PayloadTooLarge(fmt.Sprintf("Request body exceeds maximum size of %d bytes", s.config.MaxRequestSize))
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize))
	if err := decoder.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError

		switch {
		case errors.As(err, &maxErr):
			return PayloadTooLarge(fmt.Sprintf("Request body exceeds maximum size of %d bytes", maxErr.Limit))
		case errors.Is(err, io.EOF):
			return BadRequest("Request body cannot be empty")
		default:
			return BadRequest("Invalid JSON: " + err.Error())
		}
	}

	return nil
}

// writeError logs err and writes its problem mapping.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	problem := problemFor(err)

	level := slog.LevelWarn
	if problem.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}

	s.logger.LogAttrs(r.Context(), level, msg,
		slog.String("correlation_id", middleware.GetCorrelationID(r.Context())),
		slog.String("path", r.URL.Path),
		slog.Int("status", problem.Status),
		slog.String("error", err.Error()),
	)

	WriteErrorResponse(w, r, s.logger, problem)
}

// agentID returns the {agentID} path value, writing a 400 when it is blank.
func (s *Server) agentID(w http.ResponseWriter, r *http.Request) (string, bool) {
	agentID := strings.TrimSpace(r.PathValue("agentID"))
	if agentID == "" {
		WriteErrorResponse(w, r, s.logger, BadRequest("agent id cannot be empty"))

		return "", false
	}

	return agentID, true
}

// hasJSONContentType accepts application/json with optional parameters.
func hasJSONContentType(contentType string) bool {
	return strings.HasPrefix(strings.TrimSpace(contentType), "application/json")
}
