package middleware

import (
	"context"
	"net/http"
	"strings"
)

// AgentPathPrefix precedes the agent id in every agent-scoped route.
const AgentPathPrefix = "/api/v1/agents/"

// agentIDKey is the context key for the agent a request is scoped to.
type agentIDKey struct{}

// AgentScope extracts the agent id from agent-scoped paths and stores it in
// the request context for the rate limiter and request logger. Middleware runs
// before the mux matches the route, so r.PathValue is not yet available here.
func AgentScope() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if agentID := agentFromPath(r.URL.Path); agentID != "" {
				r = r.WithContext(SetAgentID(r.Context(), agentID))
			}

			next.ServeHTTP(w, r)
		})
	}
}

// GetAgentID returns the agent id of the request, if any.
func GetAgentID(ctx context.Context) (string, bool) {
	agentID, ok := ctx.Value(agentIDKey{}).(string)

	return agentID, ok && agentID != ""
}

// SetAgentID returns a context scoped to agentID.
func SetAgentID(ctx context.Context, agentID string) context.Context {
	return context.WithValue(ctx, agentIDKey{}, agentID)
}

func agentFromPath(path string) string {
	rest, ok := strings.CutPrefix(path, AgentPathPrefix)
	if !ok {
		return ""
	}

	agentID, _, _ := strings.Cut(rest, "/")

	return agentID
}
