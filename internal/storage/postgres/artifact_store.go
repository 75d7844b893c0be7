// Package postgres provides a Postgres-backed artifact store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/eld-roster-crawler/internal/storage"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "roster_artifacts"

// Config controls the Postgres connection pool used for artifact rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type queryExecCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// ArtifactStore keeps one row per artifact key.
type ArtifactStore struct {
	pool  queryExecCloser
	table string
	now   func() time.Time
}

// NewArtifactStore connects to Postgres using the provided config.
func NewArtifactStore(ctx context.Context, cfg Config) (*ArtifactStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewArtifactStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewArtifactStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewArtifactStoreWithPool(pool queryExecCloser, table string) (*ArtifactStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ArtifactStore{
		pool:  pool,
		table: table,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// EnsureSchema creates the artifact table when missing. Bodies are BYTEA and
// come back byte-for-byte.
func (s *ArtifactStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			key        TEXT PRIMARY KEY,
			body       BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)
	`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Get returns the JSON body stored for key.
func (s *ArtifactStore) Get(ctx context.Context, key string) ([]byte, error) {
	if strings.TrimSpace(key) == "" {
		return nil, fmt.Errorf("key is required")
	}
	query := fmt.Sprintf(`SELECT body FROM %s WHERE key = $1`, s.table)
	var body []byte
	if err := s.pool.QueryRow(ctx, query, key).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("select artifact %s: %w", key, err)
	}
	return body, nil
}

// Put upserts the full JSON body for key.
func (s *ArtifactStore) Put(ctx context.Context, key string, data []byte) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (key, body, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at
	`, s.table)
	if _, err := s.pool.Exec(ctx, query, key, data, s.now()); err != nil {
		return fmt.Errorf("upsert artifact %s: %w", key, err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *ArtifactStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}
