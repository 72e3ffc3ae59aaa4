// Package redis appends persisted records to a Redis stream.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/JakeFAU/sitescraper/internal/pipeline"
)

// Config selects the server and stream.
type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	// MaxLen trims the stream approximately. Zero keeps everything.
	MaxLen int64 `mapstructure:"max_len"`
}

type streamClient interface {
	XAdd(ctx context.Context, a *goredis.XAddArgs) *goredis.StringCmd
	Close() error
}

// Publisher implements pipeline.RecordPublisher over XADD.
type Publisher struct {
	client streamClient
	stream string
	maxLen int64
}

// New connects to cfg.Addr and verifies the server answers PING.
func New(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.Addr == "" {
		return nil, errors.New("publish.redis.addr is required")
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return newWithClient(client, cfg), nil
}

func newWithClient(client streamClient, cfg Config) *Publisher {
	stream := cfg.Stream
	if stream == "" {
		stream = "sitescraper:records"
	}
	return &Publisher{client: client, stream: stream, maxLen: cfg.MaxLen}
}

// Publish appends one entry per event.
func (p *Publisher) Publish(ctx context.Context, event pipeline.Event) error {
	if p == nil || p.client == nil {
		return errors.New("redis publisher is not configured")
	}
	values, err := json.Marshal(event.Values)
	if err != nil {
		return fmt.Errorf("marshal values: %w", err)
	}
	args := &goredis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{
			"run_id":    event.RunID,
			"profile":   event.Profile,
			"key":       event.Key,
			"url":       event.URL,
			"values":    string(values),
			"timestamp": event.Timestamp.UTC().Format(time.RFC3339),
		},
	}
	if p.maxLen > 0 {
		args.MaxLen = p.maxLen
		args.Approx = true
	}
	if err := p.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// Close releases the connection pool.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
