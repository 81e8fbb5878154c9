package events

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves queued messages, then returns io.EOF.
type fakeReader struct {
	mu         sync.Mutex
	messages   []kafka.Message
	committed  []int64
	commitErrs []error
	fetchErr   error
	closed     bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}

	if len(r.messages) == 0 {
		if r.fetchErr != nil {
			return kafka.Message{}, r.fetchErr
		}

		return kafka.Message{}, io.EOF
	}

	msg := r.messages[0]
	r.messages = r.messages[1:]

	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.commitErrs) > 0 {
		err := r.commitErrs[0]
		r.commitErrs = r.commitErrs[1:]

		if err != nil {
			return err
		}
	}

	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}

	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.closed = true

	return nil
}

// recorder collects invalidated agent ids.
type recorder struct {
	mu     sync.Mutex
	agents []string
}

func (r *recorder) Invalidate(_ context.Context, agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.agents = append(r.agents, agentID)
}

func message(offset int64, value string) kafka.Message {
	return kafka.Message{Topic: "callscope.calls", Offset: offset, Value: []byte(value)}
}

func TestConsumer_Run(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	reader := &fakeReader{messages: []kafka.Message{
		message(0, `{"agentId": "agent-1", "type": "call.ingested", "callIds": ["c1"]}`),
		message(1, `not json`),
		message(2, `{"type": "call.ingested"}`),
		message(3, `{"agentId": "agent-2", "type": "agent.renamed"}`),
		message(4, `{"agentId": "agent-2", "type": "call.deleted"}`),
	}}

	discovery := &recorder{}
	thresholds := &recorder{}

	c := NewConsumerWithReader(reader, nil, discovery, thresholds)

	require.NoError(t, c.Run(t.Context()))

	assert.Equal(t, []string{"agent-1", "agent-2"}, discovery.agents)
	assert.Equal(t, []string{"agent-1", "agent-2"}, thresholds.agents)
	assert.Equal(t, []int64{0, 1, 2, 3, 4}, reader.committed, "every message is committed, malformed ones included")

	require.NoError(t, c.Close())
	assert.True(t, reader.closed)
}

func TestConsumer_RunStopsOnCancel(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	c := NewConsumerWithReader(&fakeReader{messages: []kafka.Message{message(0, `{}`)}}, nil)

	assert.NoError(t, c.Run(ctx))
}

func TestConsumer_RunFetchError(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	boom := errors.New("broker unreachable")
	c := NewConsumerWithReader(&fakeReader{fetchErr: boom}, nil)

	assert.ErrorIs(t, c.Run(t.Context()), boom)
}

func TestConsumer_CommitRetries(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	boom := errors.New("rebalance in progress")

	t.Run("recovers", func(t *testing.T) {
		reader := &fakeReader{
			messages:   []kafka.Message{message(7, `{"agentId": "a", "type": "call.ingested"}`)},
			commitErrs: []error{boom, nil},
		}

		c := NewConsumerWithReader(reader, nil, InvalidatorFunc(func(context.Context, string) {}))

		require.NoError(t, c.Run(t.Context()))
		assert.Equal(t, []int64{7}, reader.committed)
	})

	t.Run("gives up", func(t *testing.T) {
		reader := &fakeReader{
			messages:   []kafka.Message{message(7, `{"agentId": "a", "type": "call.ingested"}`)},
			commitErrs: []error{boom, boom, boom},
		}

		err := NewConsumerWithReader(reader, nil).Run(t.Context())
		require.ErrorIs(t, err, ErrCommitFailed)
		assert.ErrorIs(t, err, boom)
	})
}

func TestDecode(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	event, err := Decode([]byte(`{"agentId": " agent-1 ", "type": "call.ingested", "callIds": ["a", "b"]}`))
	require.NoError(t, err)
	assert.Equal(t, Event{AgentID: "agent-1", Type: TypeCallIngested, CallIDs: []string{"a", "b"}}, event)

	_, err = Decode([]byte(`{"type": "call.ingested"}`))
	require.ErrorIs(t, err, ErrMalformedEvent)

	_, err = Decode([]byte(`[`))
	require.ErrorIs(t, err, ErrMalformedEvent)
}

func TestConfig(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	t.Setenv("CALLSCOPE_KAFKA_BROKERS", "")

	cfg := LoadConfig()
	assert.False(t, cfg.Enabled())
	require.NoError(t, cfg.Validate())

	_, err := NewConsumer(cfg, nil)
	require.ErrorIs(t, err, ErrDisabled)

	t.Setenv("CALLSCOPE_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("CALLSCOPE_KAFKA_TOPIC", "calls")

	cfg = LoadConfig()
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Brokers)
	assert.Equal(t, "calls", cfg.Topic)
	require.NoError(t, cfg.Validate())

	cfg.GroupID = ""
	require.ErrorIs(t, cfg.Validate(), ErrGroupIDEmpty)

	cfg.Topic = ""
	require.ErrorIs(t, cfg.Validate(), ErrTopicEmpty)
}

// fakeWriter records written messages.
type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}

	w.msgs = append(w.msgs, msgs...)

	return nil
}

func (w *fakeWriter) Close() error { return nil }

func TestPublisher(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	w := &fakeWriter{}
	p := NewPublisherWithWriter(w, nil)

	require.NoError(t, p.Publish(t.Context(), Event{AgentID: "agent-1", Type: TypeCallIngested}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, []byte("agent-1"), w.msgs[0].Key)
	assert.JSONEq(t, `{"agentId": "agent-1", "type": "call.ingested"}`, string(w.msgs[0].Value))

	w.err = errors.New("leader not available")
	assert.ErrorIs(t, p.Publish(t.Context(), Event{AgentID: "agent-1"}), w.err)
}
