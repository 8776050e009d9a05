// Package score implements prong scoring, tier classification, contradiction
// detection and the ledger integrity check.
package score

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ppiankov/convergence/internal/model"
)

// Scorer applies evidence items to one prong of a claim
type Scorer struct {
	now func() time.Time
}

// NewScorer creates a new scorer
func NewScorer() *Scorer {
	return &Scorer{now: time.Now}
}

// Step records one item's effect on the sub-score
type Step struct {
	SourceID string  `json:"source_id"`
	Delta    int     `json:"delta"`
	Before   int     `json:"before"`
	After    int     `json:"after"`
	Clamped  bool    `json:"clamped,omitempty"`
	Weight   float64 `json:"weight"`
}

// Skip records an item that was not applied
type Skip struct {
	SourceID string `json:"source_id"`
	Reason   string `json:"reason"`
}

// ProngUpdate is the result of applying a batch of items to one prong
type ProngUpdate struct {
	Prong   model.Prong             `json:"prong"`
	Before  int                     `json:"before"`
	After   int                     `json:"after"`
	Applied []model.AppliedEvidence `json:"applied"`
	Steps   []Step                  `json:"steps"`
	Skipped []Skip                  `json:"skipped,omitempty"`
	Formula string                  `json:"formula"`
}

// Changed reports whether any item was applied
func (u ProngUpdate) Changed() bool {
	return len(u.Applied) > 0
}

// ApplyTo writes the new sub-score and applied records onto claim
func (u ProngUpdate) ApplyTo(claim *model.Claim) {
	claim.ProngScores = claim.ProngScores.With(u.Prong, u.After)
	claim.Applied = append(claim.Applied, u.Applied...)
	claim.SyncEvidenceSets()
}

// Apply computes the new sub-score for prong starting from the claim's
// current value. Each supporting item adds round(weight), each contradicting
// item subtracts it, and the result is clamped to [0,5] after every item.
// Items already applied to this prong, repeated within the batch, or aimed
// at another prong are skipped. The claim itself is not modified.
func (s *Scorer) Apply(claim *model.Claim, prong model.Prong, items []model.EvidenceItem) ProngUpdate {
	current := claim.ProngScores.Get(prong)
	update := ProngUpdate{
		Prong:  prong,
		Before: current,
	}

	seen := make(map[string]bool)
	terms := []string{fmt.Sprintf("%d", current)}
	now := s.now().UTC()

	for _, item := range items {
		if item.Prong != prong {
			update.Skipped = append(update.Skipped, Skip{
				SourceID: item.SourceID,
				Reason:   fmt.Sprintf("item is for prong %s, not %s", item.Prong, prong),
			})
			continue
		}
		key := model.EvidenceKey(item.SourceID, prong)
		if seen[key] || claim.HasApplied(item.SourceID, prong) {
			update.Skipped = append(update.Skipped, Skip{
				SourceID: item.SourceID,
				Reason:   "already applied",
			})
			continue
		}
		seen[key] = true

		delta := Delta(item.Polarity, item.Weight)
		next, clamped := clamp(current + delta)
		update.Steps = append(update.Steps, Step{
			SourceID: item.SourceID,
			Delta:    delta,
			Before:   current,
			After:    next,
			Clamped:  clamped,
			Weight:   item.Weight,
		})
		update.Applied = append(update.Applied, model.AppliedEvidence{
			SourceID:  item.SourceID,
			Prong:     prong,
			Polarity:  item.Polarity,
			Weight:    item.Weight,
			AppliedAt: now,
		})

		term := fmt.Sprintf("%+d", delta)
		if clamped {
			term += fmt.Sprintf("→%d", next)
		}
		terms = append(terms, term)
		current = next
	}

	update.After = current
	update.Formula = fmt.Sprintf("%s: clamp_each(%s, 0, %d) = %d",
		prong, strings.Join(terms, " "), model.MaxProngScore, current)
	return update
}

// Delta is the signed integer contribution of one item
func Delta(polarity model.Polarity, weight float64) int {
	d := int(math.Round(weight))
	if polarity == model.PolarityContradicts {
		return -d
	}
	return d
}

func clamp(v int) (int, bool) {
	switch {
	case v < 0:
		return 0, true
	case v > model.MaxProngScore:
		return model.MaxProngScore, true
	}
	return v, false
}

// WithClock overrides the time stamped on applied records
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	s.now = now
	return s
}
