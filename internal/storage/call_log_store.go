package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"
	"github.com/lib/pq"

	"github.com/callscope/callscope/internal/anomaly"
	"github.com/callscope/callscope/internal/compiler"
	"github.com/callscope/callscope/internal/config"
	"github.com/callscope/callscope/internal/cursor"
	"github.com/callscope/callscope/internal/discovery"
	"github.com/callscope/callscope/internal/jsonvalue"
	"github.com/callscope/callscope/internal/predicate"
)

const (
	pgCheckViolation = "23514"
	maxPageLimit     = 500
)

var (
	// ErrCallLogQueryFailed is returned when a call-log query fails.
	ErrCallLogQueryFailed = errors.New("call log query failed")
	// ErrInvalidCallLog is returned when a call log violates a table constraint.
	ErrInvalidCallLog = errors.New("invalid call log")
	// ErrInvalidSignalColumn is returned for a column that is not an anomaly signal.
	ErrInvalidSignalColumn = errors.New("column is not an anomaly signal")

	_ cursor.Fetcher[CallLog] = (*CallLogStore)(nil)
	_ discovery.Sampler       = (*CallLogStore)(nil)
	_ anomaly.Source          = (*CallLogStore)(nil)
)

// CallLog is one row of call_logs.
type CallLog struct {
	ID                   string         `db:"id" json:"id"`
	AgentID              string         `db:"agent_id" json:"agentId"`
	CallID               string         `db:"call_id" json:"callId"`
	CustomerNumber       *string        `db:"customer_number" json:"customerNumber"`
	CallEndedReason      *string        `db:"call_ended_reason" json:"callEndedReason"`
	Environment          *string        `db:"environment" json:"environment"`
	TranscriptType       *string        `db:"transcript_type" json:"transcriptType"`
	DurationSeconds      *float64       `db:"duration_seconds" json:"durationSeconds"`
	TotalCost            *float64       `db:"total_cost" json:"totalCost"`
	AvgLatency           *float64       `db:"avg_latency" json:"avgLatency"`
	CallStartedAt        *time.Time     `db:"call_started_at" json:"callStartedAt"`
	CallEndedAt          *time.Time     `db:"call_ended_at" json:"callEndedAt"`
	CreatedAt            time.Time      `db:"created_at" json:"createdAt"`
	Metadata             types.JSONText `db:"metadata" json:"metadata"`
	TranscriptionMetrics types.JSONText `db:"transcription_metrics" json:"transcriptionMetrics"`
	Metrics              types.JSONText `db:"metrics" json:"metrics"`
}

const callLogColumns = `id, agent_id, call_id, customer_number, call_ended_reason, environment, transcript_type,
	duration_seconds, total_cost, avg_latency, call_started_at, call_ended_at, created_at,
	metadata, transcription_metrics, metrics`

// Record converts the row to the column map used for field discovery.
// NULL columns are omitted.
func (c CallLog) Record() discovery.Record {
	rec := discovery.Record{
		"call_id":    jsonvalue.StringValue(c.CallID),
		"created_at": jsonvalue.StringValue(c.CreatedAt.UTC().Format(time.RFC3339)),
	}

	putString := func(name string, v *string) {
		if v != nil {
			rec[name] = jsonvalue.StringValue(*v)
		}
	}

	putNumber := func(name string, v *float64) {
		if v != nil {
			rec[name] = jsonvalue.NumberValue(*v)
		}
	}

	putTime := func(name string, v *time.Time) {
		if v != nil {
			rec[name] = jsonvalue.StringValue(v.UTC().Format(time.RFC3339))
		}
	}

	putJSON := func(name string, v types.JSONText) {
		if len(v) == 0 {
			return
		}

		if parsed, err := jsonvalue.Parse(v); err == nil {
			rec[name] = parsed
		}
	}

	putString("customer_number", c.CustomerNumber)
	putString("call_ended_reason", c.CallEndedReason)
	putString("environment", c.Environment)
	putString("transcript_type", c.TranscriptType)
	putNumber("duration_seconds", c.DurationSeconds)
	putNumber("total_cost", c.TotalCost)
	putNumber("avg_latency", c.AvgLatency)
	putTime("call_started_at", c.CallStartedAt)
	putTime("call_ended_at", c.CallEndedAt)
	putJSON("metadata", c.Metadata)
	putJSON("transcription_metrics", c.TranscriptionMetrics)
	putJSON("metrics", c.Metrics)

	return rec
}

// CallLogStore queries call_logs with compiled predicates.
type CallLogStore struct {
	conn   *Connection
	logger *slog.Logger
}

// NewCallLogStore creates a store over conn.
func NewCallLogStore(conn *Connection) *CallLogStore {
	return &CallLogStore{
		conn: conn,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// FetchPage returns one page of call logs matching every predicate, ordered
// by the requested sort with id as tiebreaker.
func (s *CallLogStore) FetchPage(ctx context.Context, req cursor.PageRequest) ([]CallLog, error) {
	where, args, next, err := RenderWhere(req.Predicates, 1)
	if err != nil {
		return nil, err
	}

	orderBy, err := renderOrderBy(req.Sort)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = cursor.DefaultPageSize
	}

	limit = min(limit, maxPageLimit)
	offset := max(req.Offset, 0)

	query := fmt.Sprintf("SELECT %s FROM call_logs %s %s LIMIT $%d OFFSET $%d",
		callLogColumns, where, orderBy, next, next+1)
	args = append(args, limit, offset)

	defer s.conn.observe("call_logs.fetch_page", time.Now())

	rows := []CallLog{}
	if err := s.conn.SelectContext(ctx, &rows, query, args...); err != nil {
		s.logger.Error("Failed to fetch call log page",
			slog.Int("predicates", len(req.Predicates)),
			slog.Int("offset", offset),
			slog.String("error", err.Error()))

		return nil, fmt.Errorf("%w: %w", ErrCallLogQueryFailed, err)
	}

	return rows, nil
}

// Count returns the number of call logs matching every predicate.
func (s *CallLogStore) Count(ctx context.Context, preds []predicate.Predicate) (int, error) {
	where, args, _, err := RenderWhere(preds, 1)
	if err != nil {
		return 0, err
	}

	defer s.conn.observe("call_logs.count", time.Now())

	var n int
	if err := s.conn.GetContext(ctx, &n, "SELECT COUNT(*) FROM call_logs "+where, args...); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCallLogQueryFailed, err)
	}

	return n, nil
}

// Get returns the agent's call logs with the given call ids.
func (s *CallLogStore) Get(ctx context.Context, agentID string, callIDs []string) ([]CallLog, error) {
	rows := []CallLog{}
	if len(callIDs) == 0 {
		return rows, nil
	}

	query := "SELECT " + callLogColumns + ` FROM call_logs
		WHERE agent_id = $1 AND call_id = ANY($2)
		ORDER BY created_at DESC, id DESC`

	defer s.conn.observe("call_logs.get", time.Now())

	if err := s.conn.SelectContext(ctx, &rows, query, agentID, pq.Array(callIDs)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCallLogQueryFailed, err)
	}

	return rows, nil
}

// SampleRecords implements discovery.Sampler with the agent's most recent
// call logs.
func (s *CallLogStore) SampleRecords(ctx context.Context, agentID string, limit int) ([]discovery.Record, error) {
	page, err := s.FetchPage(ctx, cursor.PageRequest{
		Predicates: []predicate.Predicate{compiler.ScopePredicate(agentID)},
		Sort:       cursor.Sort{Column: "created_at", Direction: cursor.Desc},
		Limit:      limit,
	})
	if err != nil {
		return nil, err
	}

	records := make([]discovery.Record, len(page))
	for i, row := range page {
		records[i] = row.Record()
	}

	return records, nil
}

// SignalStats implements anomaly.Source. The percentile is computed by
// percentile_disc, the nearest-rank definition.
func (s *CallLogStore) SignalStats(ctx context.Context, agentID, column string) (anomaly.Stats, error) {
	if !isSignalColumn(column) {
		return anomaly.Stats{}, fmt.Errorf("%w: %q", ErrInvalidSignalColumn, column)
	}

	query := fmt.Sprintf(`
		SELECT COUNT(%[1]s) AS count,
		       COALESCE(percentile_disc(%[2]g) WITHIN GROUP (ORDER BY %[1]s), 0) AS p95
		FROM call_logs
		WHERE agent_id = $1`, column, anomaly.Percentile)

	defer s.conn.observe("call_logs.signal_stats", time.Now())

	var row struct {
		Count int     `db:"count"`
		P95   float64 `db:"p95"`
	}

	if err := s.conn.GetContext(ctx, &row, query, agentID); err != nil {
		return anomaly.Stats{}, fmt.Errorf("%w: %w", ErrCallLogQueryFailed, err)
	}

	return anomaly.Stats{Count: row.Count, P95: row.P95}, nil
}

// Insert stores call logs, skipping any whose (agent_id, call_id) already
// exists. It returns the number of rows inserted.
func (s *CallLogStore) Insert(ctx context.Context, logs ...CallLog) (int, error) {
	if len(logs) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO call_logs (
			agent_id, call_id, customer_number, call_ended_reason, environment, transcript_type,
			duration_seconds, total_cost, avg_latency, call_started_at, call_ended_at, created_at,
			metadata, transcription_metrics, metrics
		) VALUES (
			:agent_id, :call_id, :customer_number, :call_ended_reason, :environment, :transcript_type,
			:duration_seconds, :total_cost, :avg_latency, :call_started_at, :call_ended_at, :created_at,
			:metadata, :transcription_metrics, :metrics
		)
		ON CONFLICT (agent_id, call_id) DO NOTHING`

	rows := make([]CallLog, len(logs))
	for i, l := range logs {
		rows[i] = withInsertDefaults(l)
	}

	defer s.conn.observe("call_logs.insert", time.Now())

	result, err := s.conn.NamedExecContext(ctx, query, rows)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == pgCheckViolation {
			return 0, fmt.Errorf("%w: %s", ErrInvalidCallLog, pqErr.Constraint)
		}

		return 0, fmt.Errorf("%w: %w", ErrCallLogQueryFailed, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCallLogQueryFailed, err)
	}

	return int(n), nil
}

// HealthCheck pings the database.
func (s *CallLogStore) HealthCheck(ctx context.Context) error {
	return s.conn.HealthCheck(ctx)
}

func withInsertDefaults(l CallLog) CallLog {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}

	for _, doc := range []*types.JSONText{&l.Metadata, &l.TranscriptionMetrics, &l.Metrics} {
		if len(strings.TrimSpace(string(*doc))) == 0 {
			*doc = types.JSONText("{}")
		}
	}

	return l
}

func isSignalColumn(column string) bool {
	for _, s := range anomaly.Signals() {
		if s.Column() == column {
			return true
		}
	}

	return false
}
