// Package postgres provides the Postgres-backed outcome and run ledger.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/wiserep-spider/internal/crawler"
)

// Default table names.
const (
	DefaultOutcomesTable = "event_outcomes"
	DefaultRunsTable     = "crawl_runs"
)

// Run statuses written to the runs table.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for the ledger.
type Config struct {
	DSN             string
	Table           string
	RunsTable       string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store writes one row per finished event and one row per crawl run.
type Store struct {
	pool     execCloser
	outcomes string
	runs     string
}

var (
	_ crawler.OutcomeRecorder = (*Store)(nil)
	_ crawler.RunRecorder     = (*Store)(nil)
)

// NewStore connects to Postgres using the provided config.
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
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
	store, err := NewStoreWithPool(pool, cfg.Table, cfg.RunsTable)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(pool execCloser, outcomes, runs string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if outcomes == "" {
		outcomes = DefaultOutcomesTable
	}
	if runs == "" {
		runs = DefaultRunsTable
	}
	for _, table := range []string{outcomes, runs} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return &Store{pool: pool, outcomes: outcomes, runs: runs}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the ledger tables when they are missing.
func (s *Store) Migrate(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id            TEXT PRIMARY KEY,
	mode          TEXT NOT NULL,
	status        TEXT NOT NULL,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	events        INTEGER NOT NULL DEFAULT 0,
	downloaded    INTEGER NOT NULL DEFAULT 0,
	bytes         BIGINT NOT NULL DEFAULT 0,
	outcomes      JSONB,
	error_message TEXT
)`, s.runs),
		fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id          TEXT NOT NULL,
	event           TEXT NOT NULL,
	outcome         TEXT NOT NULL,
	object_type     TEXT,
	candidates      INTEGER NOT NULL,
	public_count    INTEGER NOT NULL,
	private_count   INTEGER NOT NULL,
	files           JSONB NOT NULL,
	removed         JSONB NOT NULL,
	bytes           BIGINT NOT NULL,
	metadata_uri    TEXT,
	directory_reset BOOLEAN NOT NULL,
	started_at      TIMESTAMPTZ NOT NULL,
	finished_at     TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, event)
)`, s.outcomes),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate ledger: %w", err)
		}
	}
	return nil
}

// RecordOutcome upserts the row for one finished event.
func (s *Store) RecordOutcome(ctx context.Context, rep crawler.EventReport) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("outcome store is not configured")
	}
	if rep.RunID == "" || rep.Event == "" {
		return fmt.Errorf("run id and event are required")
	}
	files, err := json.Marshal(nonNilMap(rep.Files))
	if err != nil {
		return fmt.Errorf("marshal files: %w", err)
	}
	removed, err := json.Marshal(nonNilSlice(rep.Removed))
	if err != nil {
		return fmt.Errorf("marshal removed: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	run_id,
	event,
	outcome,
	object_type,
	candidates,
	public_count,
	private_count,
	files,
	removed,
	bytes,
	metadata_uri,
	directory_reset,
	started_at,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
)
ON CONFLICT (run_id, event) DO UPDATE SET
	outcome = EXCLUDED.outcome,
	files = EXCLUDED.files,
	finished_at = EXCLUDED.finished_at`, s.outcomes)

	args := []any{
		rep.RunID,
		rep.Event,
		string(rep.Outcome),
		rep.Type,
		rep.Candidates,
		rep.Public,
		rep.Private,
		files,
		removed,
		rep.Bytes,
		rep.MetadataURI,
		rep.DirectoryReset,
		rep.StartedAt,
		rep.FinishedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
