package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/callscope/callscope/internal/anomaly"
	"github.com/callscope/callscope/internal/api/middleware"
	"github.com/callscope/callscope/internal/compiler"
	"github.com/callscope/callscope/internal/config"
	"github.com/callscope/callscope/internal/cursor"
	"github.com/callscope/callscope/internal/discovery"
	"github.com/callscope/callscope/internal/search"
)

const maxLookupIDs = 100

// handleColumns handles GET /api/v1/columns.
func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, r, http.StatusOK, ColumnsResponse{
		Columns:  s.registry.Columns(),
		Sortable: s.registry.SortableColumns(),
	})
}

// handleParseSearch handles POST /api/v1/search/parse. The body is a search
// query; the response is the filter group it parses to.
func (s *Server) handleParseSearch(w http.ResponseWriter, r *http.Request) {
	var q search.Query
	if problem := s.decodeJSON(w, r, &q); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	s.writeJSON(w, r, http.StatusOK, s.parser.Parse(q))
}

// handleCompile handles POST /api/v1/agents/{agentID}/compile. It returns the
// predicate list a query would run with, plus warnings for dropped rules.
func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	agentID, ok := s.agentID(w, r)
	if !ok {
		return
	}

	var req CompileRequest
	if problem := s.decodeJSON(w, r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	s.writeJSON(w, r, http.StatusOK, s.compile(r.Context(), agentID, req))
}

// handleQueryCalls handles POST /api/v1/agents/{agentID}/calls/query.
//
// Response codes:
//   - 200 OK: one page of calls
//   - 400 Bad Request: invalid paging or sort
//   - 503 Service Unavailable: the store failed; the request may be retried
func (s *Server) handleQueryCalls(w http.ResponseWriter, r *http.Request) {
	if s.deps.Calls == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Call log store is not configured"))

		return
	}

	agentID, ok := s.agentID(w, r)
	if !ok {
		return
	}

	var req QueryRequest
	if problem := s.decodeJSON(w, r, &req); problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	sort, limit, problem := s.pageParams(req)
	if problem != nil {
		WriteErrorResponse(w, r, s.logger, problem)

		return
	}

	ctx := r.Context()
	start := time.Now()
	compiled := s.compile(ctx, agentID, req.CompileRequest)

	items, err := s.deps.Calls.FetchPage(ctx, cursor.PageRequest{
		Predicates: compiled.Predicates,
		Sort:       sort,
		Offset:     req.Offset,
		Limit:      limit,
	})
	if err != nil {
		s.writeError(w, r, "Call query failed", err)

		return
	}

	resp := QueryResponse{
		Items:      items,
		Offset:     req.Offset,
		Limit:      limit,
		HasMore:    len(items) >= limit,
		Sort:       sort,
		Predicates: compiled.Predicates,
		Warnings:   compiled.Warnings,
	}

	if req.IncludeTotal {
		total, err := s.deps.Calls.Count(ctx, compiled.Predicates)
		if err != nil {
			s.writeError(w, r, "Call count failed", err)

			return
		}

		resp.Total = &total
	}

	s.logger.Debug("Call query served",
		slog.String("correlation_id", middleware.GetCorrelationID(ctx)),
		slog.String("agent_id", agentID),
		slog.Int("predicates", len(compiled.Predicates)),
		slog.Int("warnings", len(compiled.Warnings)),
		slog.Int("rows", len(items)),
		slog.Duration("duration", time.Since(start)),
	)

	s.writeJSON(w, r, http.StatusOK, resp)
}

// handleGetCalls handles GET /api/v1/agents/{agentID}/calls?ids=a,b,c.
func (s *Server) handleGetCalls(w http.ResponseWriter, r *http.Request) {
	if s.deps.Calls == nil {
		WriteErrorResponse(w, r, s.logger, ServiceUnavailable("Call log store is not configured"))

		return
	}

	agentID, ok := s.agentID(w, r)
	if !ok {
		return
	}

	ids := config.ParseCommaSeparatedList(r.URL.Query().Get("ids"))

	switch {
	case len(ids) == 0:
		WriteErrorResponse(w, r, s.logger, BadRequest("Invalid parameter 'ids': at least one call id is required"))

		return
	case len(ids) > maxLookupIDs:
		WriteErrorResponse(w, r, s.logger,
			BadRequest(fmt.Sprintf("Invalid parameter 'ids': at most %d call ids are allowed", maxLookupIDs)))

		return
	}

	calls, err := s.deps.Calls.Get(r.Context(), agentID, slices.Compact(slices.Sorted(slices.Values(ids))))
	if err != nil {
		s.writeError(w, r, "Call lookup failed", err)

		return
	}

	s.writeJSON(w, r, http.StatusOK, CallsResponse{Calls: calls})
}

// compile merges the search box into the filter tree and compiles it with
// the agent's discovered fields and, when toggled, its anomaly thresholds.
func (s *Server) compile(ctx context.Context, agentID string, req CompileRequest) compiler.Result {
	groups := req.Filters
	if req.Search != nil && strings.TrimSpace(req.Search.Text) != "" {
		groups = append(slices.Clone(groups), s.parser.Parse(*req.Search))
	}

	toggles := anomaly.ParseToggles(req.Anomalies)

	var thresholds anomaly.Thresholds
	if len(toggles) > 0 && s.deps.Thresholds != nil {
		thresholds = s.deps.Thresholds.Thresholds(ctx, agentID)
	}

	var catalog discovery.Catalog
	if s.deps.Fields != nil {
		catalog = s.deps.Fields.Fields(ctx, agentID)
	}

	return s.compiler.Compile(compiler.Input{
		Groups:     groups,
		Toggles:    toggles,
		Thresholds: thresholds,
		AgentID:    agentID,
		Catalog:    catalog,
	})
}

// pageParams validates sort and paging. A missing sort is newest first and a
// zero limit is the default page size.
func (s *Server) pageParams(req QueryRequest) (cursor.Sort, int, *ProblemDetail) {
	sort := cursor.DefaultSort
	if req.Sort != nil {
		sort = *req.Sort
		if sort.Direction == "" {
			sort.Direction = cursor.Desc
		}
	}

	if sort.Direction != cursor.Asc && sort.Direction != cursor.Desc {
		return sort, 0, BadRequest(fmt.Sprintf("Invalid parameter 'sort.direction': %q", sort.Direction))
	}

	if !slices.Contains(s.registry.SortableColumns(), sort.Column) {
		return sort, 0, BadRequest(fmt.Sprintf("Invalid parameter 'sort.column': %q is not sortable", sort.Column))
	}

	if req.Offset < 0 {
		return sort, 0, BadRequest("Invalid parameter 'offset': must be >= 0")
	}

	limit := req.Limit
	if limit == 0 {
		limit = cursor.DefaultPageSize
	}

	if limit < 0 || limit > s.config.MaxPageSize {
		return sort, 0, BadRequest(fmt.Sprintf("Invalid parameter 'limit': must be between 1 and %d", s.config.MaxPageSize))
	}

	return sort, limit, nil
}
