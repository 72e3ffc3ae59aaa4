// Package pubsub announces persisted records on a Google Cloud Pub/Sub topic.
package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/JakeFAU/sitescraper/internal/pipeline"
)

// Config names the destination topic.
type Config struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

type result interface {
	Get(ctx context.Context) (string, error)
}

type topic interface {
	Publish(ctx context.Context, msg *pubsub.Message) result
	Stop()
}

type clientTopic struct {
	publisher *pubsub.Publisher
}

func (t clientTopic) Publish(ctx context.Context, msg *pubsub.Message) result {
	return t.publisher.Publish(ctx, msg)
}

func (t clientTopic) Stop() { t.publisher.Stop() }

// Publisher implements pipeline.RecordPublisher.
type Publisher struct {
	topic  topic
	client *pubsub.Client
}

// New dials Pub/Sub and binds a publisher to cfg.Topic.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.ProjectID == "" || cfg.Topic == "" {
		return nil, errors.New("publish.pubsub project_id and topic are required")
	}
	client, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	return &Publisher{topic: clientTopic{publisher: client.Publisher(cfg.Topic)}, client: client}, nil
}

func newWithTopic(t topic) *Publisher {
	return &Publisher{topic: t}
}

// Publish sends the event as JSON and waits for the server ack.
func (p *Publisher) Publish(ctx context.Context, event pipeline.Event) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub publisher is not configured")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"profile": event.Profile,
			"run_id":  event.RunID,
			"key":     event.Key,
		},
	}
	if _, err := p.topic.Publish(ctx, msg).Get(ctx); err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

// Close flushes pending messages and closes the client.
func (p *Publisher) Close() error {
	if p == nil || p.topic == nil {
		return nil
	}
	p.topic.Stop()
	if p.client != nil {
		return p.client.Close()
	}
	return nil
}
