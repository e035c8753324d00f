package export

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/contact-harvester/internal/harvest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// DefaultTable is used when no table name is configured.
const DefaultTable = "harvest_results"

// PostgresConfig controls the Postgres connection pool used for result rows.
type PostgresConfig struct {
	DSN             string
	Table           string
	RunID           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Postgres upserts one row per entity into a results table.
type Postgres struct {
	pool  execCloser
	table string
	runID string
}

// NewPostgres connects a pool using the provided config.
func NewPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("export.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
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
	return &Postgres{pool: pool, table: table, runID: cfg.RunID}, nil
}

// NewPostgresWithPool constructs a sink from an existing pool (primarily for testing).
func NewPostgresWithPool(pool execCloser, table, runID string) (*Postgres, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &Postgres{pool: pool, table: table, runID: runID}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = DefaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Name implements harvest.ResultSink.
func (s *Postgres) Name() string { return "postgres" }

// Close releases the underlying pool resources.
func (s *Postgres) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the results table when it does not exist.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	entity_id    TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL,
	name         TEXT NOT NULL,
	country      TEXT NOT NULL,
	source       TEXT NOT NULL,
	website      TEXT NOT NULL,
	best_email   TEXT NOT NULL,
	candidates   JSONB NOT NULL,
	emails_found INTEGER NOT NULL,
	error        TEXT NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create results table: %w", err)
	}
	return nil
}

// Write implements harvest.ResultSink.
func (s *Postgres) Write(ctx context.Context, results []harvest.Result) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("postgres sink is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	entity_id,
	run_id,
	name,
	country,
	source,
	website,
	best_email,
	candidates,
	emails_found,
	error,
	completed_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
ON CONFLICT (entity_id) DO UPDATE SET
	run_id = EXCLUDED.run_id,
	name = EXCLUDED.name,
	country = EXCLUDED.country,
	source = EXCLUDED.source,
	website = EXCLUDED.website,
	best_email = EXCLUDED.best_email,
	candidates = EXCLUDED.candidates,
	emails_found = EXCLUDED.emails_found,
	error = EXCLUDED.error,
	completed_at = EXCLUDED.completed_at`, s.table)

	for _, r := range results {
		candidates := r.Candidates
		if candidates == nil {
			candidates = []harvest.CandidateEmail{}
		}
		candidatesJSON, err := json.Marshal(candidates)
		if err != nil {
			return fmt.Errorf("marshal candidates: %w", err)
		}
		args := []any{
			r.EntityID,
			s.runID,
			r.Name,
			r.Country,
			r.Source,
			r.Website,
			r.BestEmail,
			candidatesJSON,
			r.EmailsFound,
			r.Error,
			r.CompletedAt,
		}
		if _, err := s.pool.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert result %s: %w", r.EntityID, err)
		}
	}
	return nil
}
