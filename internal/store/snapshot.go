package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ppiankov/convergence/internal/model"
)

// SnapshotVersion is bumped when the dump layout changes
const SnapshotVersion = 1

// Snapshot is a full, JSON-serializable dump of the store
type Snapshot struct {
	Version    int                `json:"version"`
	ExportedAt time.Time          `json:"exported_at"`
	NextID     int                `json:"next_id"` // Last reserved numeric id
	Claims     []*model.Claim     `json:"claims"`
	Audit      []model.AuditEntry `json:"audit"`
}

// Dump reads every claim, its applied evidence and the full audit log
func (s *Store) Dump(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{
		Version:    SnapshotVersion,
		ExportedAt: s.now().UTC(),
	}
	err := s.read(ctx, func(tx *Tx) error {
		var err error
		if snap.Claims, err = tx.list(Filter{}); err != nil {
			return err
		}
		var counter int64
		row := tx.tx.QueryRowContext(tx.ctx, "SELECT COALESCE(MAX(value), 0) FROM counters WHERE name = ?", claimCounter)
		if err := row.Scan(&counter); err != nil {
			return fmt.Errorf("read id counter: %w", err)
		}
		snap.NextID = int(counter)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if snap.Audit, err = s.Audit(ctx, AuditFilter{}); err != nil {
		return nil, err
	}
	return snap, nil
}

// Load replaces the whole store content with the snapshot in one
// transaction. Timestamps and audit sequence numbers are preserved.
func (s *Store) Load(ctx context.Context, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("load: nil snapshot")
	}
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("load: unsupported snapshot version %d", snap.Version)
	}

	return s.Update(ctx, func(tx *Tx) error {
		for _, table := range []string{"evidence", "claims", "audit_log", "counters"} {
			if _, err := tx.tx.ExecContext(tx.ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("clear %s: %w", table, err)
			}
		}

		for _, c := range snap.Claims {
			if err := tx.restoreClaim(c); err != nil {
				return err
			}
		}

		for _, e := range snap.Audit {
			_, err := tx.tx.ExecContext(tx.ctx, `
				INSERT INTO audit_log (seq, timestamp, run_id, action, claim_id, detail)
				VALUES (?, ?, ?, ?, ?, ?)`,
				e.Seq, formatTime(e.Timestamp), e.RunID, string(e.Action), e.ClaimID, e.Detail,
			)
			if err != nil {
				return fmt.Errorf("restore audit entry %d: %w", e.Seq, err)
			}
		}

		if snap.NextID > 0 {
			_, err := tx.tx.ExecContext(tx.ctx,
				"INSERT INTO counters (name, value) VALUES (?, ?)", claimCounter, snap.NextID)
			if err != nil {
				return fmt.Errorf("restore id counter: %w", err)
			}
		}
		return nil
	})
}

// restoreClaim writes a claim keeping its recorded timestamps
func (t *Tx) restoreClaim(c *model.Claim) error {
	restored := *t
	lastUpdated := c.LastUpdated
	restored.now = func() time.Time { return lastUpdated }
	if lastUpdated.IsZero() {
		restored.now = t.now
	}
	if _, err := restored.Put(c); err != nil {
		return fmt.Errorf("restore claim %s: %w", c.ID, err)
	}
	return nil
}
