// Package kv implements the spec's InternalKvStore (component J): a
// single-table persistent key-value store for stack-internal config and
// counters. It follows the teacher's storage-package idiom
// (internal/storage/redis_storage.go: interface + concrete impl +
// NewXStorage(cfg) (*X, error) constructor) but backs onto Postgres via
// lib/pq, since spec §6 names this literally as a relational table
// (InternalConfig(key TEXT UNIQUE, value TEXT)).
package kv

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/lib/pq"

	"github.com/charging-platform/charge-point-gateway/internal/logger"
)

// Well-known keys per spec §3's InternalKv data model.
const (
	KeyStackVersion             = "stack-version"
	KeyLastSessionStartDate     = "last-session-start-date"
	KeyLastSessionUptime        = "last-session-uptime"
	KeyLastSessionDisconnected  = "last-session-disconnected-time"
	KeyTotalUptime              = "total-uptime"
	KeyTotalDisconnectedTime    = "total-disconnected-time"
	KeyLastConnectionURL        = "last-connection-url"
	KeyLastRegistrationStatus   = "last-registration-status"
	KeyLocalListVersion         = "local-list-version"
	KeySignedFirmwareUpdateID   = "signed-firmware-update-id"
)

// wellKnownDefaults are the defaults InternalKvStore creates on first
// load, per spec §4.J: "Initialization creates the well-known keys with
// defaults if absent."
var wellKnownDefaults = map[string]string{
	KeyStackVersion:            "1.0.0",
	KeyLastSessionStartDate:    "",
	KeyLastSessionUptime:       "0",
	KeyLastSessionDisconnected: "0",
	KeyTotalUptime:             "0",
	KeyTotalDisconnectedTime:   "0",
	KeyLastConnectionURL:       "",
	KeyLastRegistrationStatus:  "Rejected",
	KeyLocalListVersion:        "0",
	KeySignedFirmwareUpdateID:  "",
}

// Store is the InternalKvStore. Operations are per-operation
// transactions; no multi-key atomicity is required per spec §4.J.
type Store struct {
	db  *sql.DB
	log *logger.Logger
}

// Config configures the Postgres-backed store.
type Config struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
}

// New opens the database connection and ensures the InternalConfig
// table and well-known keys exist.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open internal kv store: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping internal kv store: %w", err)
	}

	s := &Store{db: db, log: log}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if err := s.ensureWellKnownKeys(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS internal_config (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create internal_config table: %w", err)
	}
	return nil
}

func (s *Store) ensureWellKnownKeys(ctx context.Context) error {
	for key, def := range wellKnownDefaults {
		if err := s.Create(ctx, key, def); err != nil {
			return err
		}
	}
	return nil
}

// KeyExists reports whether key has a value, default or otherwise.
func (s *Store) KeyExists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM internal_config WHERE key = $1)`, key).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check key %q exists: %w", key, err)
	}
	return exists, nil
}

// Create inserts key with defaultValue only if it does not already
// exist; a no-op otherwise.
func (s *Store) Create(ctx context.Context, key, defaultValue string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO internal_config (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO NOTHING`, key, defaultValue)
	if err != nil {
		return fmt.Errorf("create key %q: %w", key, err)
	}
	return nil
}

// Set upserts key's value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO internal_config (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return fmt.Errorf("set key %q: %w", key, err)
	}
	return nil
}

// Get returns key's value and whether it was present.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM internal_config WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get key %q: %w", key, err)
	}
	return value, true, nil
}

// GetInt reads a key as a parsed integer counter, returning 0 if absent
// or unparseable — matching spec §4.J's "on load, numeric counters are
// read and parsed."
func (s *Store) GetInt(ctx context.Context, key string) (int64, error) {
	value, ok, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	if !ok || value == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		if s.log != nil {
			s.log.Warnf("internal kv store: key %q has non-numeric value %q, treating as 0", key, value)
		}
		return 0, nil
	}
	return n, nil
}

// SetInt writes an integer counter as its decimal string form.
func (s *Store) SetInt(ctx context.Context, key string, value int64) error {
	return s.Set(ctx, key, strconv.FormatInt(value, 10))
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
