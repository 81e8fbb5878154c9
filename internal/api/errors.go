package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/callscope/callscope/internal/api/middleware"
	"github.com/callscope/callscope/internal/cursor"
	"github.com/callscope/callscope/internal/storage"
	"github.com/callscope/callscope/internal/views"
)

// ProblemDetail is an RFC 7807 problem document.
type ProblemDetail struct {
	Type          string `json:"type"`
	Title         string `json:"title"`
	Status        int    `json:"status"`
	Detail        string `json:"detail,omitempty"`
	Instance      string `json:"instance,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
	// Retryable tells clients that repeating the request may succeed.
	Retryable bool `json:"retryable,omitempty"`
}

// NewProblemDetail creates a problem for status with the standard title.
func NewProblemDetail(status int, detail string) *ProblemDetail {
	return &ProblemDetail{
		Type:   middleware.ProblemTypeURL(status),
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
	}
}

// WriteErrorResponse writes problem, filling in the correlation id and the
// request path when unset.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, problem *ProblemDetail) {
	correlationID := middleware.GetCorrelationID(r.Context())

	if problem.CorrelationID == "" {
		problem.CorrelationID = correlationID
	}

	if problem.Instance == "" {
		problem.Instance = r.URL.Path
	}

	w.Header().Set("Content-Type", middleware.ContentTypeProblemJSON)
	w.WriteHeader(problem.Status)

	if err := json.NewEncoder(w).Encode(problem); err != nil {
		logger.Error("Failed to encode error response",
			slog.String("correlation_id", correlationID),
			slog.String("path", r.URL.Path),
			slog.Int("status", problem.Status),
			slog.String("error", err.Error()),
		)
	}
}

// InternalServerError creates a 500 problem.
func InternalServerError(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusInternalServerError, detail)
}

// BadRequest creates a 400 problem.
func BadRequest(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusBadRequest, detail)
}

// NotFound creates a 404 problem.
func NotFound(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusNotFound, detail)
}

// UnsupportedMediaType creates a 415 problem.
func UnsupportedMediaType(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusUnsupportedMediaType, detail)
}

// PayloadTooLarge creates a 413 problem.
func PayloadTooLarge(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusRequestEntityTooLarge, detail)
}

// UnprocessableEntity creates a 422 problem.
func UnprocessableEntity(detail string) *ProblemDetail {
	return NewProblemDetail(http.StatusUnprocessableEntity, detail)
}

// ServiceUnavailable creates a retryable 503 problem.
func ServiceUnavailable(detail string) *ProblemDetail {
	p := NewProblemDetail(http.StatusServiceUnavailable, detail)
	p.Retryable = true

	return p
}

// problemFor maps a domain error to a problem. Unknown errors become 500s
// without leaking their text.
func problemFor(err error) *ProblemDetail {
	var backendErr *cursor.BackendQueryError

	switch {
	case errors.Is(err, views.ErrViewNotFound):
		return NotFound("Saved view not found")
	case errors.Is(err, views.ErrNameEmpty),
		errors.Is(err, views.ErrAgentIDEmpty),
		errors.Is(err, views.ErrViewNil),
		errors.Is(err, views.ErrInvalidFilters):
		return UnprocessableEntity(err.Error())
	case errors.Is(err, storage.ErrInvalidPredicate),
		errors.Is(err, storage.ErrInvalidSort),
		errors.Is(err, cursor.ErrNotSortable):
		return BadRequest(err.Error())
	case errors.As(err, &backendErr),
		errors.Is(err, storage.ErrCallLogQueryFailed),
		errors.Is(err, storage.ErrViewStoreFailed):
		return ServiceUnavailable("The call log store is unavailable. Retry the request.")
	default:
		return InternalServerError("An unexpected error occurred")
	}
}
