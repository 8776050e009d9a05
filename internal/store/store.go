// Package store is the durable Claim Record Store. Claims, their applied
// evidence, the audit log, the id counter and the writer lease all live in
// one SQLite file so a claim mutation and its audit entry commit together.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/convergence/internal/logging"
	"github.com/ppiankov/convergence/internal/model"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// claimCounter is the counters row backing NextClaimID
const claimCounter = "claim_id"

// Store implements the claim record store on SQLite
type Store struct {
	db          *sql.DB
	logger      *zap.Logger
	now         func() time.Time
	busyTimeout time.Duration
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the store logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = logging.Component(l, "store") }
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithBusyTimeout sets how long SQLite waits on another process's write
// lock before failing
func WithBusyTimeout(d time.Duration) Option {
	return func(s *Store) { s.busyTimeout = d }
}

// Open opens or creates a SQLite database at path and applies the schema.
// The parent directory is created if missing.
func Open(path string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	s := &Store{
		logger:      zap.NewNop(),
		now:         time.Now,
		busyTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		path, s.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection serializes writers inside this process; the lease
	// serializes writers across processes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s.db = db

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.logger.Debug("store opened", zap.String("path", path))
	return s, nil
}

// Close closes the underlying database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var v int
	err := s.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := s.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	case err != nil:
		return fmt.Errorf("read schema version: %w", err)
	case v != schemaVersion:
		return fmt.Errorf("unknown schema version %d", v)
	}
	return nil
}

// Get returns a claim by id, or model.ErrNotFound
func (s *Store) Get(ctx context.Context, id string) (*model.Claim, error) {
	var claim *model.Claim
	err := s.read(ctx, func(tx *Tx) error {
		var err error
		claim, err = tx.Get(id)
		return err
	})
	return claim, err
}

// Upsert creates or replaces a claim by id and appends the given audit
// entries in the same transaction. At least one entry is required.
func (s *Store) Upsert(ctx context.Context, claim *model.Claim, entries ...model.AuditEntry) (*model.Claim, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("upsert %s: at least one audit entry is required", claim.ID)
	}

	var out *model.Claim
	err := s.Update(ctx, func(tx *Tx) error {
		saved, err := tx.Put(claim)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if _, err := tx.AppendAudit(e); err != nil {
				return err
			}
		}
		out = saved
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Filter narrows List results; zero fields match everything
type Filter struct {
	Domain model.Domain
	Status model.Status
	Tier   model.Tier
}

// List returns claims ordered by domain declaration order, then id
func (s *Store) List(ctx context.Context, f Filter) ([]*model.Claim, error) {
	var claims []*model.Claim
	err := s.read(ctx, func(tx *Tx) error {
		var err error
		claims, err = tx.list(f)
		return err
	})
	return claims, err
}

// Update runs fn inside a read-write transaction. Everything fn writes
// commits together or not at all.
func (s *Store) Update(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&Tx{ctx: ctx, tx: sqlTx, now: s.now}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) read(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	defer func() { _ = sqlTx.Rollback() }()
	return fn(&Tx{ctx: ctx, tx: sqlTx, now: s.now})
}

// AuditFilter narrows Audit results
type AuditFilter struct {
	ClaimID string
	Action  model.Action
	Since   time.Time
	Limit   int
}

// Audit returns audit entries ordered by seq
func (s *Store) Audit(ctx context.Context, f AuditFilter) ([]model.AuditEntry, error) {
	var (
		where []string
		args  []any
	)
	if f.ClaimID != "" {
		where = append(where, "claim_id = ?")
		args = append(args, f.ClaimID)
	}
	if f.Action != "" {
		where = append(where, "action = ?")
		args = append(args, string(f.Action))
	}
	query := "SELECT seq, timestamp, run_id, action, claim_id, detail FROM audit_log"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY seq"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.AuditEntry
	for rows.Next() {
		var (
			e      model.AuditEntry
			ts     string
			action string
		)
		if err := rows.Scan(&e.Seq, &ts, &e.RunID, &action, &e.ClaimID, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = model.Action(action)
		if e.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		// RFC3339Nano strings do not sort lexically, so filter after parsing
		if !f.Since.IsZero() && e.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, rows.Err()
}

// busy reports whether err is SQLite lock contention from another connection
func busy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func marshalColumn(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshal column: %w", err)
	}
	return string(data), nil
}
