// Package fifo implements the spec's RequestFifo (component F): a
// durable, per-connector FIFO of deferred requests a charge point must
// still send to the central system once reconnected (offline queueing).
// It mirrors the teacher's storage package idiom (internal/storage:
// Config-driven constructor, context-scoped methods returning wrapped
// errors) but backs onto Postgres via lib/pq, since spec §6 names this
// literally as a relational table:
// RequestFifo(sequence INT PK, connector_id INT, action TEXT, payload
// BLOB, enqueued_at TIMESTAMP).
package fifo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"github.com/charging-platform/charge-point-gateway/internal/logger"
	"github.com/charging-platform/charge-point-gateway/internal/metrics"
)

// OverflowPolicy decides what enqueue does when a connector's queue is
// at capacity, per spec §4.F ("per-action overflow policy").
type OverflowPolicy int

const (
	// OverflowReject fails the enqueue, leaving the queue untouched.
	OverflowReject OverflowPolicy = iota
	// OverflowDropOldest evicts the oldest queued entry for the
	// connector before enqueuing the new one.
	OverflowDropOldest
)

// ErrQueueFull is returned by Enqueue under OverflowReject when the
// connector's queue is already at capacity.
var ErrQueueFull = errors.New("request fifo: connector queue full")

// DeferredRequest is one durable, not-yet-sent request.
type DeferredRequest struct {
	Sequence    int64
	ConnectorID int
	Action      string
	Payload     json.RawMessage
	EnqueuedAt  time.Time
}

// Config configures the Postgres-backed FIFO.
type Config struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int

	// MaxPerConnector bounds how many deferred requests a single
	// connector may hold; 0 means unbounded.
	MaxPerConnector int

	// PolicyByAction maps an action name to its overflow policy.
	// Actions absent from the map use DefaultPolicy.
	PolicyByAction map[string]OverflowPolicy
	DefaultPolicy  OverflowPolicy
}

// Store is the RequestFifo.
type Store struct {
	db  *sql.DB
	cfg Config
	log *logger.Logger
}

// New opens the database connection and ensures the request_fifo table
// exists.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open request fifo store: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping request fifo store: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS request_fifo (
			sequence     BIGSERIAL PRIMARY KEY,
			connector_id INTEGER NOT NULL,
			action       TEXT NOT NULL,
			payload      BYTEA NOT NULL,
			enqueued_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create request_fifo table: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS request_fifo_connector_idx
		ON request_fifo (connector_id, sequence)
	`)
	if err != nil {
		return fmt.Errorf("create request_fifo index: %w", err)
	}
	return nil
}

func (s *Store) policyFor(action string) OverflowPolicy {
	if s.cfg.PolicyByAction != nil {
		if p, ok := s.cfg.PolicyByAction[action]; ok {
			return p
		}
	}
	return s.cfg.DefaultPolicy
}

// Enqueue durably appends (connectorID, action, payload) to the
// connector's queue and returns its assigned sequence. The row is
// committed before this returns, per spec §4.F's durability
// requirement.
func (s *Store) Enqueue(ctx context.Context, connectorID int, action string, payload interface{}) (int64, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal deferred request payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin enqueue transaction: %w", err)
	}
	defer tx.Rollback()

	if s.cfg.MaxPerConnector > 0 {
		var count int
		if err := tx.QueryRowContext(ctx,
			`SELECT count(*) FROM request_fifo WHERE connector_id = $1`, connectorID).Scan(&count); err != nil {
			return 0, fmt.Errorf("count connector queue: %w", err)
		}
		if count >= s.cfg.MaxPerConnector {
			switch s.policyFor(action) {
			case OverflowDropOldest:
				if _, err := tx.ExecContext(ctx, `
					DELETE FROM request_fifo WHERE sequence = (
						SELECT sequence FROM request_fifo
						WHERE connector_id = $1
						ORDER BY sequence ASC
						LIMIT 1
					)`, connectorID); err != nil {
					return 0, fmt.Errorf("evict oldest deferred request: %w", err)
				}
			default:
				return 0, ErrQueueFull
			}
		}
	}

	var sequence int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO request_fifo (connector_id, action, payload)
		VALUES ($1, $2, $3)
		RETURNING sequence
	`, connectorID, action, raw).Scan(&sequence)
	if err != nil {
		return 0, fmt.Errorf("insert deferred request: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit enqueue transaction: %w", err)
	}
	s.updateDepthGauge(ctx, connectorID)
	return sequence, nil
}

// updateDepthGauge refreshes the store_fifo_depth gauge for connectorID
// from an authoritative count, rather than incrementing/decrementing it
// in step with every mutation, so a failed or partial mutation can never
// leave the gauge drifted from the table.
func (s *Store) updateDepthGauge(ctx context.Context, connectorID int) {
	var count int
	if err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM request_fifo WHERE connector_id = $1`, connectorID).Scan(&count); err != nil {
		return
	}
	metrics.FifoDepth.WithLabelValues(strconv.Itoa(connectorID)).Set(float64(count))
}

// Peek returns the oldest not-yet-committed request for connectorID,
// without removing it, or ok=false if the queue is empty.
func (s *Store) Peek(ctx context.Context, connectorID int) (req DeferredRequest, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT sequence, connector_id, action, payload, enqueued_at
		FROM request_fifo
		WHERE connector_id = $1
		ORDER BY sequence ASC
		LIMIT 1
	`, connectorID)

	var d DeferredRequest
	var payload []byte
	if scanErr := row.Scan(&d.Sequence, &d.ConnectorID, &d.Action, &payload, &d.EnqueuedAt); scanErr != nil {
		if scanErr == sql.ErrNoRows {
			return DeferredRequest{}, false, nil
		}
		return DeferredRequest{}, false, fmt.Errorf("peek deferred request: %w", scanErr)
	}
	d.Payload = payload
	return d, true, nil
}

// PopCommitted permanently removes the request at sequence, called once
// the central system has accepted it (or it will never be retried).
func (s *Store) PopCommitted(ctx context.Context, sequence int64) error {
	var connectorID int
	_ = s.db.QueryRowContext(ctx,
		`SELECT connector_id FROM request_fifo WHERE sequence = $1`, sequence).Scan(&connectorID)

	_, err := s.db.ExecContext(ctx, `DELETE FROM request_fifo WHERE sequence = $1`, sequence)
	if err != nil {
		return fmt.Errorf("pop committed deferred request %d: %w", sequence, err)
	}
	s.updateDepthGauge(ctx, connectorID)
	return nil
}

// IterByConnector returns every queued request for connectorID in FIFO
// order.
func (s *Store) IterByConnector(ctx context.Context, connectorID int) ([]DeferredRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sequence, connector_id, action, payload, enqueued_at
		FROM request_fifo
		WHERE connector_id = $1
		ORDER BY sequence ASC
	`, connectorID)
	if err != nil {
		return nil, fmt.Errorf("iterate connector queue: %w", err)
	}
	defer rows.Close()

	var out []DeferredRequest
	for rows.Next() {
		var d DeferredRequest
		var payload []byte
		if err := rows.Scan(&d.Sequence, &d.ConnectorID, &d.Action, &payload, &d.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("scan deferred request: %w", err)
		}
		d.Payload = payload
		out = append(out, d)
	}
	return out, rows.Err()
}

// Clear removes every queued request for connectorID.
func (s *Store) Clear(ctx context.Context, connectorID int) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM request_fifo WHERE connector_id = $1`, connectorID)
	if err != nil {
		return fmt.Errorf("clear connector queue: %w", err)
	}
	s.updateDepthGauge(ctx, connectorID)
	return nil
}

// ClearAll empties the entire FIFO across all connectors.
func (s *Store) ClearAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM request_fifo`)
	if err != nil {
		return fmt.Errorf("clear all deferred requests: %w", err)
	}
	metrics.FifoDepth.Reset()
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}
