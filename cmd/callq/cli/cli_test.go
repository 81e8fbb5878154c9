package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/callscope/callscope/internal/compiler"
	"github.com/callscope/callscope/internal/cursor"
	"github.com/callscope/callscope/internal/events"
	"github.com/callscope/callscope/internal/filter"
	"github.com/callscope/callscope/internal/predicate"
	"github.com/callscope/callscope/internal/storage"
)

const filtersYAML = `
- id: g1
  logic: AND
  rules:
    - id: r1
      column: duration_seconds
      operation: greater_than
      value: "60"
    - id: r2
      column: metadata
      jsonField: intent
      operation: json_equals
      value: refund
`

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")

	out := &bytes.Buffer{}
	cmd := NewRootCommand("test")
	cmd.SetArgs(args)
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))

	err := cmd.Execute()

	return out.String(), err
}

func TestParseCommand(t *testing.T) {
	out, err := run(t, "", "parse", "call_ended_reason:error", "duration_seconds:>60")
	require.NoError(t, err)

	var group filter.Group
	require.NoError(t, json.Unmarshal([]byte(out), &group))
	require.Len(t, group.Rules, 2)
	assert.Equal(t, filter.OpContains, group.Rules[0].Operation)
	assert.Equal(t, filter.OpGreaterThan, group.Rules[1].Operation)
	assert.Equal(t, "60", group.Rules[1].Value)

	t.Run("table", func(t *testing.T) {
		out, err := run(t, "", "parse", "-o", "table", "metadata.intent:refund")
		require.NoError(t, err)

		assert.Contains(t, out, "COLUMN")
		assert.Contains(t, out, "metadata.intent")
	})
}

func TestCompileCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filters.yaml")
	require.NoError(t, os.WriteFile(path, []byte(filtersYAML), 0o600))

	out, err := run(t, "", "compile", path, "--agent", "agent-1", "--anomalies", "duration")
	require.NoError(t, err)

	var result compiler.Result
	require.NoError(t, json.Unmarshal([]byte(out), &result))

	require.Len(t, result.Predicates, 3)
	assert.Equal(t, "duration_seconds", result.Predicates[0].Column)
	assert.Equal(t, predicate.Gt, result.Predicates[0].Operator)
	assert.Equal(t, "metadata->>intent", result.Predicates[1].Column)
	assert.Equal(t, predicate.Predicate{Column: "agent_id", Operator: predicate.Equals, Value: "agent-1"},
		result.Predicates[2])

	// No database means no thresholds, so the toggle is reported and skipped.
	require.Len(t, result.Warnings, 1)
	assert.Equal(t, compiler.WarnMissingThreshold, result.Warnings[0].Kind)

	t.Run("stdin", func(t *testing.T) {
		out, err := run(t, filtersYAML, "compile", "-")
		require.NoError(t, err)
		assert.Contains(t, out, "metadata->>intent")
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := run(t, "", "compile", "-")
		assert.ErrorIs(t, err, ErrNoFilters)
	})
}

func TestBrowseRequiresDatabase(t *testing.T) {
	_, err := run(t, "", "browse", "--agent", "agent-1")

	assert.ErrorIs(t, err, storage.ErrDatabaseURLEmpty)
}

func testRows(n int) []storage.CallLog {
	rows := make([]storage.CallLog, n)
	for i := range n {
		rows[i] = storage.CallLog{
			AgentID:   "agent-1",
			CallID:    fmt.Sprintf("call-%03d", i),
			CreatedAt: time.Date(2024, 1, 15, 9, 0, i, 0, time.UTC),
		}
	}

	return rows
}

func pagedFetcher(rows []storage.CallLog, requests *[]cursor.PageRequest) cursor.Fetcher[storage.CallLog] {
	return cursor.FetcherFunc[storage.CallLog](
		func(_ context.Context, req cursor.PageRequest) ([]storage.CallLog, error) {
			*requests = append(*requests, req)

			end := min(req.Offset+req.Limit, len(rows))
			if req.Offset >= end {
				return nil, nil
			}

			return rows[req.Offset:end], nil
		})
}

func TestBrowse(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	preds := []predicate.Predicate{{Column: "agent_id", Operator: predicate.Equals, Value: "agent-1"}}
	sort := cursor.Sort{Column: "duration_seconds", Direction: cursor.Asc}

	t.Run("limited pages", func(t *testing.T) {
		var requests []cursor.PageRequest

		calls, more, err := browse(context.Background(), pagedFetcher(testRows(120), &requests), preds,
			browseOptions{sort: sort, pageSize: 50, pages: 2}, logger)
		require.NoError(t, err)

		assert.Len(t, calls, 100)
		assert.True(t, more)
		require.Len(t, requests, 2)
		assert.Equal(t, 50, requests[1].Offset)
		assert.Equal(t, sort, requests[1].Sort)
		assert.Equal(t, preds, requests[0].Predicates)
	})

	t.Run("until the end", func(t *testing.T) {
		var requests []cursor.PageRequest

		calls, more, err := browse(context.Background(), pagedFetcher(testRows(120), &requests), preds,
			browseOptions{sort: sort, pageSize: 50}, logger)
		require.NoError(t, err)

		assert.Len(t, calls, 120)
		assert.False(t, more)
		assert.Len(t, requests, 3)
	})

	t.Run("unsortable column", func(t *testing.T) {
		var requests []cursor.PageRequest

		_, _, err := browse(context.Background(), pagedFetcher(nil, &requests), preds,
			browseOptions{sort: cursor.Sort{Column: "metadata"}, pageSize: 50}, logger)

		require.ErrorIs(t, err, cursor.ErrNotSortable)
		assert.Empty(t, requests)
	})

	t.Run("backend failure", func(t *testing.T) {
		failing := cursor.FetcherFunc[storage.CallLog](
			func(context.Context, cursor.PageRequest) ([]storage.CallLog, error) {
				return nil, errors.New("connection reset")
			})

		_, _, err := browse(context.Background(), failing, preds, browseOptions{sort: sort, pageSize: 50}, logger)

		var backendErr *cursor.BackendQueryError
		assert.ErrorAs(t, err, &backendErr)
	})
}

type fakeInserter struct {
	batches [][]storage.CallLog
	failAt  int
}

func (f *fakeInserter) Insert(_ context.Context, logs ...storage.CallLog) (int, error) {
	if f.failAt > 0 && len(f.batches)+1 == f.failAt {
		return 0, storage.ErrInvalidCallLog
	}

	f.batches = append(f.batches, logs)

	return len(logs), nil
}

type fakePublisher struct {
	events []events.Event
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, evs ...events.Event) error {
	f.events = append(f.events, evs...)

	return f.err
}

func TestIngest(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)

	logs := testRows(5)
	logs[1].AgentID = "agent-2"
	logs[3].AgentID = "agent-2"

	t.Run("batches and events", func(t *testing.T) {
		store := &fakeInserter{}
		publisher := &fakePublisher{}

		n, err := ingest(context.Background(), store, publisher, logs, 2, logger)
		require.NoError(t, err)

		assert.Equal(t, 5, n)
		assert.Len(t, store.batches, 3)
		assert.Equal(t, []events.Event{
			{AgentID: "agent-1", Type: events.TypeCallIngested, CallIDs: []string{"call-000", "call-002", "call-004"}},
			{AgentID: "agent-2", Type: events.TypeCallIngested, CallIDs: []string{"call-001", "call-003"}},
		}, publisher.events)
	})

	t.Run("no publisher", func(t *testing.T) {
		n, err := ingest(context.Background(), &fakeInserter{}, nil, logs, 10, logger)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	})

	t.Run("publish failure keeps rows", func(t *testing.T) {
		n, err := ingest(context.Background(), &fakeInserter{}, &fakePublisher{err: errors.New("no brokers")}, logs, 10,
			logger)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	})

	t.Run("insert failure stops", func(t *testing.T) {
		publisher := &fakePublisher{}

		n, err := ingest(context.Background(), &fakeInserter{failAt: 2}, publisher, logs, 2, logger)
		require.ErrorIs(t, err, storage.ErrInvalidCallLog)
		assert.Equal(t, 2, n)
		assert.Empty(t, publisher.events)
	})
}

func TestReadCalls(t *testing.T) {
	logs, err := readCalls(strings.NewReader(`[{"agentId": "a", "callId": "c1", "durationSeconds": 12.5}]`), nil)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "c1", logs[0].CallID)
	require.NotNil(t, logs[0].DurationSeconds)
	assert.InDelta(t, 12.5, *logs[0].DurationSeconds, 0.0001)

	_, err = readCalls(strings.NewReader(`{"not": "an array"}`), nil)
	assert.Error(t, err)
}
