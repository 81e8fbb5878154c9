// Package middleware provides HTTP middleware components for the callscope API.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// ContentTypeProblemJSON is the media type of RFC 7807 responses.
const ContentTypeProblemJSON = "application/problem+json"

// ProblemTypeURL returns the problem type URI for status.
func ProblemTypeURL(status int) string {
	return fmt.Sprintf("https://callscope.dev/problems/%d", status)
}

// writeProblem writes an RFC 7807 response without importing the api package.
func writeProblem(w http.ResponseWriter, r *http.Request, status int, detail string) error {
	problem := struct {
		Type          string `json:"type"`
		Title         string `json:"title"`
		Status        int    `json:"status"`
		Detail        string `json:"detail,omitempty"`
		Instance      string `json:"instance,omitempty"`
		CorrelationID string `json:"correlationId,omitempty"`
	}{
		Type:          ProblemTypeURL(status),
		Title:         http.StatusText(status),
		Status:        status,
		Detail:        detail,
		Instance:      r.URL.Path,
		CorrelationID: GetCorrelationID(r.Context()),
	}

	w.Header().Set("Content-Type", ContentTypeProblemJSON)
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(problem)
}
