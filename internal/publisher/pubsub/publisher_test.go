package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitescraper/internal/pipeline"
)

type stubResult struct {
	id  string
	err error
}

func (r stubResult) Get(context.Context) (string, error) { return r.id, r.err }

type stubTopic struct {
	messages []*pubsub.Message
	err      error
	stopped  bool
}

func (s *stubTopic) Publish(_ context.Context, msg *pubsub.Message) result {
	s.messages = append(s.messages, msg)
	return stubResult{id: "msg-1", err: s.err}
}

func (s *stubTopic) Stop() { s.stopped = true }

func TestPublishSendsEventWithAttributes(t *testing.T) {
	t.Parallel()

	topic := &stubTopic{}
	pub := newWithTopic(topic)
	event := pipeline.Event{
		RunID:     "run-1",
		Profile:   "catalogo",
		Key:       "BM-1",
		Values:    map[string]string{"precio": "10,00"},
		Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	require.NoError(t, pub.Publish(context.Background(), event))
	require.Len(t, topic.messages, 1)
	msg := topic.messages[0]
	assert.Equal(t, map[string]string{"profile": "catalogo", "run_id": "run-1", "key": "BM-1"}, msg.Attributes)

	var decoded pipeline.Event
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	assert.Equal(t, event, decoded)

	require.NoError(t, pub.Close())
	assert.True(t, topic.stopped)
}

func TestPublishReturnsServerError(t *testing.T) {
	t.Parallel()

	pub := newWithTopic(&stubTopic{err: errors.New("topic not found")})
	err := pub.Publish(context.Background(), pipeline.Event{Key: "k"})
	require.ErrorContains(t, err, "topic not found")
}

func TestPublisherRequiresTopic(t *testing.T) {
	t.Parallel()

	var pub *Publisher
	require.Error(t, pub.Publish(context.Background(), pipeline.Event{}))
	require.NoError(t, pub.Close())

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}
