package api

import (
	"net/http"

	"github.com/callscope/callscope/internal/anomaly"
	"github.com/callscope/callscope/internal/compiler"
	"github.com/callscope/callscope/internal/cursor"
	"github.com/callscope/callscope/internal/discovery"
	"github.com/callscope/callscope/internal/filter"
	"github.com/callscope/callscope/internal/predicate"
	"github.com/callscope/callscope/internal/search"
	"github.com/callscope/callscope/internal/storage"
	"github.com/callscope/callscope/internal/views"
)

type (
	// HealthStatus is the /health response.
	HealthStatus struct {
		Status      string `json:"status"`
		ServiceName string `json:"serviceName"`
		Version     string `json:"version"`
		Uptime      string `json:"uptime,omitempty"`
	}

	// ColumnsResponse lists the filterable columns.
	ColumnsResponse struct {
		Columns  []filter.ColumnDescriptor `json:"columns"`
		Sortable []string                  `json:"sortable"`
	}

	// CompileRequest is a filter tree plus search box and anomaly toggles.
	CompileRequest struct {
		Filters   []filter.Group `json:"filters"`
		Search    *search.Query  `json:"search,omitempty"`
		Anomalies []string       `json:"anomalies,omitempty"`
	}

	// QueryRequest asks for one page of matching calls.
	QueryRequest struct {
		CompileRequest

		Sort         *cursor.Sort `json:"sort,omitempty"`
		Offset       int          `json:"offset"`
		Limit        int          `json:"limit"`
		IncludeTotal bool         `json:"includeTotal"`
	}

	// QueryResponse is one page of calls. HasMore is false once a page comes
	// back shorter than the limit.
	QueryResponse struct {
		Items      []storage.CallLog     `json:"items"`
		Offset     int                   `json:"offset"`
		Limit      int                   `json:"limit"`
		HasMore    bool                  `json:"hasMore"`
		Total      *int                  `json:"total,omitempty"`
		Sort       cursor.Sort           `json:"sort"`
		Predicates []predicate.Predicate `json:"predicates"`
		Warnings   []compiler.Warning    `json:"warnings,omitempty"`
	}

	// CallsResponse lists calls looked up by id.
	CallsResponse struct {
		Calls []storage.CallLog `json:"calls"`
	}

	// FieldsResponse is the discovered field catalog of an agent.
	FieldsResponse struct {
		AgentID string            `json:"agentId"`
		Fields  discovery.Catalog `json:"fields"`
	}

	// ThresholdsResponse carries the p95 thresholds of an agent.
	ThresholdsResponse struct {
		AgentID    string             `json:"agentId"`
		Thresholds anomaly.Thresholds `json:"thresholds"`
	}

	// ViewRequest creates or replaces a saved view.
	ViewRequest struct {
		Name           string               `json:"name"`
		Filters        []filter.Group       `json:"filters"`
		VisibleColumns views.VisibleColumns `json:"visibleColumns"`
	}

	// ViewsResponse lists saved views.
	ViewsResponse struct {
		Views []*views.SavedView `json:"views"`
	}

	// Route pairs a mux pattern with its handler.
	Route struct {
		Pattern string
		Handler http.HandlerFunc
	}
)
