package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/convergence/internal/model"
)

// Lease describes the current holder of a named lease
type Lease struct {
	Name      string    `json:"name"`
	Holder    string    `json:"holder"`
	ExpiresAt time.Time `json:"expires_at"`
}

// AcquireLease takes the named lease for holder until now+ttl. A live lease
// held by someone else fails with model.ErrConcurrentUpdate; an expired one
// is taken over. Re-acquiring by the same holder extends the expiry.
func (s *Store) AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) error {
	if holder == "" {
		return fmt.Errorf("lease %s: empty holder", name)
	}
	err := s.Update(ctx, func(tx *Tx) error {
		current, err := tx.lease(name)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		if current != nil && current.Holder != holder && now.Before(current.ExpiresAt) {
			return fmt.Errorf("lease %s held by %s until %s: %w",
				name, current.Holder, current.ExpiresAt.Format(time.RFC3339), model.ErrConcurrentUpdate)
		}
		if current != nil && current.Holder != holder {
			s.logger.Warn("taking over expired lease",
				zap.String("lease", name),
				zap.String("previous_holder", current.Holder),
				zap.Time("expired_at", current.ExpiresAt))
		}

		_, err = tx.tx.ExecContext(tx.ctx, `
			INSERT INTO leases (name, holder, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at`,
			name, holder, formatTime(now.Add(ttl)),
		)
		if err != nil {
			return fmt.Errorf("write lease %s: %w", name, err)
		}
		return nil
	})
	if busy(err) {
		// another process is writing; the caller's backoff applies
		return fmt.Errorf("lease %s: %v: %w", name, err, model.ErrConcurrentUpdate)
	}
	return err
}

// RenewLease extends the named lease for holder to now+ttl inside the
// caller's transaction. It fails with model.ErrConcurrentUpdate once another
// holder has taken the lease over, so a run that outlived its lease cannot
// commit over the newer run's writes.
func (t *Tx) RenewLease(name, holder string, ttl time.Duration) error {
	current, err := t.lease(name)
	if err != nil {
		return err
	}
	if current == nil || current.Holder != holder {
		taken := "released"
		if current != nil {
			taken = "taken over by " + current.Holder
		}
		return fmt.Errorf("lease %s %s: %w", name, taken, model.ErrConcurrentUpdate)
	}

	_, err = t.tx.ExecContext(t.ctx, "UPDATE leases SET expires_at = ? WHERE name = ? AND holder = ?",
		formatTime(t.now().UTC().Add(ttl)), name, holder)
	if err != nil {
		return fmt.Errorf("renew lease %s: %w", name, err)
	}
	return nil
}

// ReleaseLease drops the lease if holder still owns it
func (s *Store) ReleaseLease(ctx context.Context, name, holder string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM leases WHERE name = ? AND holder = ?", name, holder)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", name, err)
	}
	return nil
}

// CurrentLease returns the named lease, or nil when nobody holds it
func (s *Store) CurrentLease(ctx context.Context, name string) (*Lease, error) {
	var lease *Lease
	err := s.read(ctx, func(tx *Tx) error {
		var err error
		lease, err = tx.lease(name)
		return err
	})
	return lease, err
}

func (t *Tx) lease(name string) (*Lease, error) {
	var (
		l  Lease
		ts string
	)
	err := t.tx.QueryRowContext(t.ctx, "SELECT name, holder, expires_at FROM leases WHERE name = ?", name).
		Scan(&l.Name, &l.Holder, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read lease %s: %w", name, err)
	}
	if l.ExpiresAt, err = parseTime(ts); err != nil {
		return nil, err
	}
	return &l, nil
}
