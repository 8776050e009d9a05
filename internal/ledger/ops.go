package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/convergence/internal/model"
	"github.com/ppiankov/convergence/internal/score"
	"github.com/ppiankov/convergence/internal/store"
)

// ClearContest is the human reset of a contested claim. The status returns to
// Provisional and the tier is re-derived from the current prong scores.
func (e *Engine) ClearContest(ctx context.Context, id, note string) (*model.Claim, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return nil, fmt.Errorf("clear contest %s: a note is required", id)
	}

	return e.override(ctx, id, func(c *model.Claim, runID string) ([]model.AuditEntry, error) {
		if c.Status != model.StatusContested {
			return nil, fmt.Errorf("clear contest %s: claim is %s, not Contested", id, c.Status)
		}
		c.Status = model.StatusProvisional
		entries := []model.AuditEntry{e.entry(runID, model.ActionClear, id, note)}

		before := c.Tier
		c.Tier = score.Classify(c.ProngScores)
		if action, ok := tierAction(before, c.Tier); ok {
			entries = append(entries, e.entry(runID, action, id,
				fmt.Sprintf("%s -> %s (score %d, contest cleared)", before, c.Tier, c.ConvergenceScore())))
		}
		return entries, nil
	})
}

// Deprecate marks a claim Deprecated for good. The claim stays in the ledger
// for audit but is never promoted again. Deprecating twice is a no-op.
func (e *Engine) Deprecate(ctx context.Context, id, reason string) (*model.Claim, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, fmt.Errorf("deprecate %s: a reason is required", id)
	}

	return e.override(ctx, id, func(c *model.Claim, runID string) ([]model.AuditEntry, error) {
		if c.Status == model.StatusDeprecated {
			return nil, nil
		}
		c.Status = model.StatusDeprecated
		return []model.AuditEntry{e.entry(runID, model.ActionDeprecate, id, reason)}, nil
	})
}

// override runs a status change under the lease in one transaction. A nil
// entry list means nothing changed and nothing is written.
func (e *Engine) override(ctx context.Context, id string, fn func(c *model.Claim, runID string) ([]model.AuditEntry, error)) (*model.Claim, error) {
	runID := uuid.NewString()
	var out *model.Claim

	err := e.withLease(ctx, runID, func() error {
		return e.store.Update(ctx, func(tx *store.Tx) error {
			c, err := tx.Get(id)
			if err != nil {
				return err
			}
			entries, err := fn(c, runID)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				out = c
				return nil
			}
			if err := score.CheckInvariants(c); err != nil {
				return err
			}
			if out, err = tx.Put(c); err != nil {
				return err
			}
			for _, entry := range entries {
				if _, err := tx.AppendAudit(entry); err != nil {
					return err
				}
			}
			e.logger.Info("status override",
				zap.String("claim_id", id),
				zap.String("status", string(c.Status)),
				zap.String("action", string(entries[0].Action)))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
