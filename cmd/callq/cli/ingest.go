package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/callscope/callscope/internal/events"
	"github.com/callscope/callscope/internal/storage"
)

const defaultBatchSize = 500

type (
	callInserter interface {
		Insert(ctx context.Context, logs ...storage.CallLog) (int, error)
	}

	eventPublisher interface {
		Publish(ctx context.Context, evs ...events.Event) error
	}
)

func newIngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest [calls.json]",
		Short: "Load call logs from a JSON array",
		Long: "Inserts call logs from a JSON array file (or stdin) in batches. When CALLSCOPE_KAFKA_BROKERS is " +
			"set, a call.ingested event is published per agent so running services drop cached fields and thresholds.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logs, err := readCalls(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			batchSize, _ := cmd.Flags().GetInt("batch-size")
			if batchSize <= 0 {
				return fmt.Errorf("invalid --batch-size %d: must be positive", batchSize)
			}

			store, conn, err := openCallStore(cmd)
			if err != nil {
				return err
			}

			defer func() { _ = conn.Close() }()

			logger := loggerFromCmd(cmd)

			var publisher eventPublisher

			p, err := events.NewPublisher(events.LoadConfig(), logger)

			switch {
			case errors.Is(err, events.ErrDisabled):
				logger.Debug("Kafka not configured, skipping call events")
			case err != nil:
				return err
			default:
				defer func() { _ = p.Close() }()

				publisher = p
			}

			inserted, err := ingest(cmd.Context(), store, publisher, logs, batchSize, logger)
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Inserted %d of %d calls\n", inserted, len(logs))

			return nil
		},
	}

	cmd.Flags().Int("batch-size", defaultBatchSize, "calls per insert")

	return cmd
}

// readCalls decodes a JSON array of call logs from a file argument or stdin.
func readCalls(in io.Reader, args []string) ([]storage.CallLog, error) {
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return nil, err
		}

		defer func() { _ = f.Close() }()

		in = f
	}

	var logs []storage.CallLog
	if err := json.NewDecoder(in).Decode(&logs); err != nil {
		return nil, fmt.Errorf("decode calls: %w", err)
	}

	return logs, nil
}

// ingest inserts logs in batches, then announces the touched agents. A nil
// publisher skips the announcement. Publish failures are logged, not
// returned: the rows are already stored and caches expire on their own.
func ingest(
	ctx context.Context,
	store callInserter,
	publisher eventPublisher,
	logs []storage.CallLog,
	batchSize int,
	logger *slog.Logger,
) (int, error) {
	inserted := 0

	for batch := range slices.Chunk(logs, batchSize) {
		n, err := store.Insert(ctx, batch...)
		inserted += n

		if err != nil {
			return inserted, err
		}
	}

	if publisher == nil || len(logs) == 0 {
		return inserted, nil
	}

	if err := publisher.Publish(ctx, ingestedEvents(logs)...); err != nil {
		logger.Warn("Failed to publish call events", slog.String("error", err.Error()))
	}

	return inserted, nil
}

// ingestedEvents groups call ids by agent, in first-seen agent order.
func ingestedEvents(logs []storage.CallLog) []events.Event {
	var (
		order   []string
		byAgent = map[string][]string{}
	)

	for _, l := range logs {
		if _, ok := byAgent[l.AgentID]; !ok {
			order = append(order, l.AgentID)
		}

		byAgent[l.AgentID] = append(byAgent[l.AgentID], l.CallID)
	}

	out := make([]events.Event, 0, len(order))
	for _, agentID := range order {
		out = append(out, events.Event{AgentID: agentID, Type: events.TypeCallIngested, CallIDs: byAgent[agentID]})
	}

	return out
}
