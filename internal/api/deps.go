package api

import (
	"context"
	"log/slog"

	"github.com/callscope/callscope/internal/anomaly"
	"github.com/callscope/callscope/internal/api/middleware"
	"github.com/callscope/callscope/internal/cursor"
	"github.com/callscope/callscope/internal/discovery"
	"github.com/callscope/callscope/internal/filter"
	"github.com/callscope/callscope/internal/predicate"
	"github.com/callscope/callscope/internal/search"
	"github.com/callscope/callscope/internal/storage"
	"github.com/callscope/callscope/internal/views"
)

type (
	// CallStore reads call logs. storage.CallLogStore implements it.
	CallStore interface {
		cursor.Fetcher[storage.CallLog]
		Count(ctx context.Context, preds []predicate.Predicate) (int, error)
		Get(ctx context.Context, agentID string, callIDs []string) ([]storage.CallLog, error)
	}

	// FieldCatalog serves discovered fields. discovery.Service implements it.
	FieldCatalog interface {
		Fields(ctx context.Context, agentID string) discovery.Catalog
		Refresh(ctx context.Context, agentID string) discovery.Catalog
	}

	// ThresholdProvider serves anomaly thresholds. anomaly.Service implements it.
	ThresholdProvider interface {
		Thresholds(ctx context.Context, agentID string) anomaly.Thresholds
		Refresh(ctx context.Context, agentID string) anomaly.Thresholds
	}

	// HealthChecker reports backend health for readiness probes.
	HealthChecker interface {
		HealthCheck(ctx context.Context) error
	}

	// Dependencies are the runtime collaborators of the server. Nil Calls,
	// Fields or Thresholds make the endpoints that need them answer 503.
	Dependencies struct {
		Calls       CallStore
		Views       views.Store
		Fields      FieldCatalog
		Thresholds  ThresholdProvider
		Health      HealthChecker
		RateLimiter middleware.RateLimiter
		// Aliases resolves search field names. Nil disables aliasing.
		Aliases search.FieldResolver
		// Registry defaults to filter.DefaultRegistry().
		Registry *filter.Registry
		// Logger defaults to a JSON logger at the configured level.
		Logger  *slog.Logger
		Version string
	}
)

var (
	_ CallStore         = (*storage.CallLogStore)(nil)
	_ FieldCatalog      = (*discovery.Service)(nil)
	_ ThresholdProvider = (*anomaly.Service)(nil)
	_ HealthChecker     = (*storage.Connection)(nil)
)
