// Package postgres mirrors persisted records and run summaries into Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/sitescraper/internal/pipeline"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Run statuses written to the runs table.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// Config controls the Postgres connection pool and table names.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	RunsTable       string        `mapstructure:"runs_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// RecordStore upserts records keyed by (profile, key).
type RecordStore struct {
	pool  execCloser
	table string
	runs  string
}

// NewRecordStore connects a pool using cfg.
func NewRecordStore(ctx context.Context, cfg Config) (*RecordStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("mirror.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewRecordStoreWithPool(pool, cfg.Table, cfg.RunsTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewRecordStoreWithPool constructs a store from an existing pool.
func NewRecordStoreWithPool(pool execCloser, table, runsTable string) (*RecordStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "scraped_records"
	}
	if runsTable == "" {
		runsTable = "scrape_runs"
	}
	for _, name := range []string{table, runsTable} {
		if !validTableName.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	return &RecordStore{pool: pool, table: table, runs: runsTable}, nil
}

// Close releases the underlying pool resources.
func (s *RecordStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the tables when missing.
func (s *RecordStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	profile     TEXT NOT NULL,
	record_key  TEXT NOT NULL,
	url         TEXT NOT NULL DEFAULT '',
	run_id      TEXT NOT NULL DEFAULT '',
	fields      JSONB NOT NULL,
	scraped_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (profile, record_key)
)`, s.table),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id        TEXT PRIMARY KEY,
	profile       TEXT NOT NULL,
	mode          TEXT NOT NULL,
	status        TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	stats         JSONB,
	error_message TEXT
)`, s.runs),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Upsert implements pipeline.RecordMirror.
func (s *RecordStore) Upsert(ctx context.Context, event pipeline.Event) error {
	if event.Key == "" {
		return fmt.Errorf("record key is required")
	}
	fields, err := json.Marshal(event.Values)
	if err != nil {
		return fmt.Errorf("marshal fields: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (profile, record_key, url, run_id, fields, scraped_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (profile, record_key) DO UPDATE
SET url = EXCLUDED.url,
	run_id = EXCLUDED.run_id,
	fields = EXCLUDED.fields,
	scraped_at = EXCLUDED.scraped_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, event.Profile, event.Key, event.URL, event.RunID, fields, event.Timestamp); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// StartRun records a run as running.
func (s *RecordStore) StartRun(ctx context.Context, runID, profile, mode string, startedAt time.Time) error {
	query := fmt.Sprintf(`
INSERT INTO %s (run_id, profile, mode, status, started_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (run_id) DO NOTHING`, s.runs)
	if _, err := s.pool.Exec(ctx, query, runID, profile, mode, RunRunning, startedAt); err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun stores the final stats. A non-nil runErr marks the run failed.
func (s *RecordStore) FinishRun(ctx context.Context, runID string, finishedAt time.Time, stats pipeline.Stats, runErr error) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	status := RunSucceeded
	var errMsg *string
	if runErr != nil {
		status = RunFailed
		msg := runErr.Error()
		errMsg = &msg
	}
	query := fmt.Sprintf(`
UPDATE %s
SET finished_at = $1, status = $2, stats = $3, error_message = $4
WHERE run_id = $5`, s.runs)
	tag, err := s.pool.Exec(ctx, query, finishedAt, status, statsJSON, errMsg, runID)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("finish run: unknown run %q", runID)
	}
	return nil
}
