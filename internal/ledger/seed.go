package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/convergence/internal/model"
	"github.com/ppiankov/convergence/internal/score"
	"github.com/ppiankov/convergence/internal/store"
)

// StarterHypotheses returns the fixed starter set HYP-0001..HYP-0012, two per
// domain, all at zero prong scores
func StarterHypotheses() []*model.Claim {
	up := func(target string) model.Effect {
		return model.Effect{Target: target, Direction: model.DirectionIncrease}
	}
	down := func(target string) model.Effect {
		return model.Effect{Target: target, Direction: model.DirectionDecrease}
	}

	starters := []*model.Claim{
		{
			Title:          "Epigenetic clock acceleration predicts mortality independent of chronological age",
			DomainPrimary:  model.DomainEpigenetic,
			Keywords:       []string{"epigenetic clock", "dna methylation age", "mortality"},
			ExpectedEffect: []model.Effect{up("all-cause mortality risk")},
		},
		{
			Title:          "Partial reprogramming with Yamanaka factors reverses age-associated epigenetic drift",
			DomainPrimary:  model.DomainEpigenetic,
			DomainTags:     []model.Domain{model.DomainStemCellECM},
			Keywords:       []string{"partial reprogramming", "yamanaka factors", "osk"},
			ExpectedEffect: []model.Effect{down("epigenetic age"), up("tissue function")},
		},
		{
			Title:          "Senolytic clearance of p16-positive cells extends healthspan",
			DomainPrimary:  model.DomainSenescence,
			Keywords:       []string{"senolytic", "dasatinib quercetin", "p16ink4a"},
			ExpectedEffect: []model.Effect{down("senescent cell burden"), up("healthspan")},
		},
		{
			Title:          "The SASP drives chronic sterile inflammation in aging tissue",
			DomainPrimary:  model.DomainSenescence,
			Keywords:       []string{"sasp", "il-6", "inflammaging"},
			ExpectedEffect: []model.Effect{up("circulating il-6")},
		},
		{
			Title:          "Restoring NAD+ levels improves mitochondrial function in aged tissue",
			DomainPrimary:  model.DomainMitochondrial,
			DomainTags:     []model.Domain{model.DomainNutrientSensing},
			Keywords:       []string{"nad+", "nmn", "sirtuin"},
			ExpectedEffect: []model.Effect{up("mitochondrial respiration")},
		},
		{
			Title:          "Impaired mitophagy contributes to age-related decline",
			DomainPrimary:  model.DomainMitochondrial,
			Keywords:       []string{"mitophagy", "pink1", "parkin"},
			ExpectedEffect: []model.Effect{down("mitophagy flux")},
		},
		{
			Title:          "mTOR inhibition extends lifespan across species",
			DomainPrimary:  model.DomainNutrientSensing,
			Keywords:       []string{"mtor", "rapamycin", "rapalog"},
			ExpectedEffect: []model.Effect{up("lifespan")},
		},
		{
			Title:          "Caloric restriction mimetics act through AMPK activation",
			DomainPrimary:  model.DomainNutrientSensing,
			Keywords:       []string{"caloric restriction", "ampk", "metformin"},
			ExpectedEffect: []model.Effect{up("ampk activity"), up("insulin sensitivity")},
		},
		{
			Title:          "Hematopoietic stem cell exhaustion limits regenerative capacity",
			DomainPrimary:  model.DomainStemCellECM,
			Keywords:       []string{"hematopoietic stem cell", "stem cell exhaustion", "clonal hematopoiesis"},
			ExpectedEffect: []model.Effect{down("stem cell self-renewal")},
		},
		{
			Title:          "Extracellular matrix stiffening drives tissue aging",
			DomainPrimary:  model.DomainStemCellECM,
			Keywords:       []string{"extracellular matrix", "collagen crosslinking", "fibrosis"},
			ExpectedEffect: []model.Effect{up("tissue stiffness")},
		},
		{
			Title:          "High molecular mass hyaluronan underlies naked mole-rat cancer resistance",
			DomainPrimary:  model.DomainComparative,
			Keywords:       []string{"naked mole-rat", "hyaluronan", "cancer resistance"},
			ExpectedEffect: []model.Effect{down("cancer incidence")},
		},
		{
			Title:          "Enhanced DNA repair supports bowhead whale longevity",
			DomainPrimary:  model.DomainComparative,
			Keywords:       []string{"bowhead whale", "dna repair", "maximum lifespan"},
			ExpectedEffect: []model.Effect{up("dna repair capacity")},
		},
	}

	for i, c := range starters {
		c.ID = model.FormatClaimID(i + 1)
		c.Tier = model.TierProvisional
		c.Status = model.StatusProvisional
		c.NormalizeTags()
	}
	return starters
}

// SeedResult lists which hypotheses a seed created and which already existed
type SeedResult struct {
	RunID   string   `json:"run_id"`
	Created []string `json:"created"`
	Skipped []string `json:"skipped"`
}

// Seed creates every hypothesis whose id is not in the store yet, each with
// an INIT entry. Existing ids are left untouched, so seeding is idempotent.
func (e *Engine) Seed(ctx context.Context, hypotheses []*model.Claim) (*SeedResult, error) {
	result := &SeedResult{RunID: uuid.NewString(), Created: []string{}, Skipped: []string{}}

	err := e.withLease(ctx, result.RunID, func() error {
		for _, h := range hypotheses {
			if err := ctx.Err(); err != nil {
				return err
			}
			created, err := e.seedOne(ctx, result.RunID, h)
			if err != nil {
				return err
			}
			if created {
				result.Created = append(result.Created, h.ID)
			} else {
				result.Skipped = append(result.Skipped, h.ID)
			}
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	e.logger.Info("seed finished",
		zap.String("run_id", result.RunID),
		zap.Int("created", len(result.Created)),
		zap.Int("skipped", len(result.Skipped)))
	return result, nil
}

func (e *Engine) seedOne(ctx context.Context, runID string, h *model.Claim) (bool, error) {
	created := false
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		_, err := tx.Get(h.ID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return err
		}

		c := h.Clone()
		c.Applied = nil
		if c.Status == "" {
			c.Status = model.StatusProvisional
		}
		derived := score.Classify(c.ProngScores)
		if !c.Status.Overridden() || c.Tier.Rank() < 0 || c.Tier.Rank() > derived.Rank() {
			c.Tier = derived
		}
		c.NormalizeTags()

		if err := score.CheckInvariants(c); err != nil {
			return err
		}
		if _, err := tx.Put(c); err != nil {
			return err
		}

		detail := fmt.Sprintf("seeded %s (%s)", c.Title, c.DomainPrimary)
		if refs := evidenceRefs(h); refs != "" {
			detail += "; " + refs
		}
		if _, err := tx.AppendAudit(e.entry(runID, model.ActionInit, c.ID, detail)); err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("seed %s: %w", h.ID, err)
	}
	return created, nil
}

// evidenceRefs keeps imported evidence lists visible in the audit trail.
// They carry no prong, so they cannot be applied as scored evidence.
func evidenceRefs(h *model.Claim) string {
	var parts []string
	if len(h.EvidenceFor) > 0 {
		parts = append(parts, "evidence for: "+strings.Join(h.EvidenceFor, ", "))
	}
	if len(h.EvidenceAgainst) > 0 {
		parts = append(parts, "evidence against: "+strings.Join(h.EvidenceAgainst, ", "))
	}
	return strings.Join(parts, "; ")
}
