// Package dedup maps incoming evidence to an existing claim identity or mints
// a new one.
package dedup

import (
	"context"
	"fmt"

	"github.com/ppiankov/convergence/internal/model"
)

// DefaultThreshold is the minimum keyword overlap that counts as a match
const DefaultThreshold = 0.5

// IDMinter reserves new claim ids. Implementations must never hand out the
// same id twice, even across processes.
type IDMinter interface {
	NextClaimID(ctx context.Context) (string, error)
}

// MinterFunc adapts a function to IDMinter
type MinterFunc func(ctx context.Context) (string, error)

func (f MinterFunc) NextClaimID(ctx context.Context) (string, error) {
	return f(ctx)
}

// Resolution is the identity chosen for one evidence item
type Resolution struct {
	ClaimID    string  `json:"claim_id"`
	Similarity float64 `json:"similarity"` // 1 for an honored claim_id hint, 0 for a new claim
	Created    bool    `json:"created"`
}

// Resolver resolves evidence items against a claim set
type Resolver struct {
	threshold float64
}

// NewResolver creates a resolver; a non-positive threshold uses the default
func NewResolver(threshold float64) *Resolver {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Resolver{threshold: threshold}
}

// Threshold returns the configured similarity threshold
func (r *Resolver) Threshold() float64 {
	return r.threshold
}

// Resolve picks the claim the item belongs to. Among matches at or above the
// threshold the highest similarity wins, then the higher convergence score,
// then the lowest id. Without a match a new id is minted.
func (r *Resolver) Resolve(ctx context.Context, item *model.EvidenceItem, claims []*model.Claim, minter IDMinter) (Resolution, error) {
	if !item.Tagged() {
		return Resolution{}, fmt.Errorf("resolve %s: %w", item.SourceID, model.ErrTaggingRequired)
	}

	if item.ClaimID != "" {
		for _, c := range claims {
			if c.ID == item.ClaimID {
				return Resolution{ClaimID: c.ID, Similarity: 1}, nil
			}
		}
	}

	if best, sim := r.BestMatch(item, claims); best != nil {
		return Resolution{ClaimID: best.ID, Similarity: sim}, nil
	}

	if minter == nil {
		return Resolution{}, fmt.Errorf("resolve %s: no match and no id minter", item.SourceID)
	}
	id, err := minter.NextClaimID(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("mint claim id for %s: %w", item.SourceID, err)
	}
	return Resolution{ClaimID: id, Created: true}, nil
}

// BestMatch returns the best claim at or above the threshold, or nil
func (r *Resolver) BestMatch(item *model.EvidenceItem, claims []*model.Claim) (*model.Claim, float64) {
	keywords := item.Keywords
	if len(keywords) == 0 && item.Title != "" {
		keywords = []string{item.Title}
	}
	itemTokens := Tokens(keywords)
	if len(itemTokens) == 0 {
		return nil, 0
	}

	var (
		best    *model.Claim
		bestSim float64
	)
	for _, c := range claims {
		sim := Jaccard(itemTokens, Tokens(c.Keywords))
		if sim < r.threshold {
			continue
		}
		if best == nil || better(c, sim, best, bestSim) {
			best, bestSim = c, sim
		}
	}
	return best, bestSim
}

func better(c *model.Claim, sim float64, best *model.Claim, bestSim float64) bool {
	if sim != bestSim {
		return sim > bestSim
	}
	if cs, bs := c.ConvergenceScore(), best.ConvergenceScore(); cs != bs {
		return cs > bs
	}
	return lessID(c.ID, best.ID)
}

// lessID compares HYP-NNNN ids numerically so HYP-10000 sorts after HYP-9999
func lessID(a, b string) bool {
	na, okA := model.ParseClaimID(a)
	nb, okB := model.ParseClaimID(b)
	if okA && okB {
		return na < nb
	}
	return a < b
}
