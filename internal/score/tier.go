package score

import "github.com/ppiankov/convergence/internal/model"

// TierBand maps an inclusive convergence score range to a tier
type TierBand struct {
	Min  int
	Max  int
	Tier model.Tier
}

// TierTable is the single source of tier boundaries
var TierTable = []TierBand{
	{Min: 0, Max: 3, Tier: model.TierProvisional},
	{Min: 4, Max: 6, Tier: model.TierEmerging},
	{Min: 7, Max: 12, Tier: model.TierEvidenceBacked},
	{Min: 13, Max: 15, Tier: model.TierCornerstone},
}

// Emerging additionally needs this many prongs at or above EmergingProngScore
const (
	EmergingMinProngs  = 2
	EmergingProngScore = 2
)

// Classify derives the tier from prong scores. A score in the Emerging band
// that does not reach EmergingProngScore on EmergingMinProngs prongs stays
// Provisional.
func Classify(p model.ProngScores) model.Tier {
	sum := p.Sum()
	for _, band := range TierTable {
		if sum < band.Min || sum > band.Max {
			continue
		}
		if band.Tier == model.TierEmerging && !meetsEmergingSpread(p) {
			return model.TierProvisional
		}
		return band.Tier
	}
	// unreachable for in-range prongs; CheckInvariants reports the real problem
	return model.TierProvisional
}

func meetsEmergingSpread(p model.ProngScores) bool {
	n := 0
	for _, prong := range model.Prongs {
		if p.Get(prong) >= EmergingProngScore {
			n++
		}
	}
	return n >= EmergingMinProngs
}

// Transition returns the tier a claim publishes after scoring. Contested and
// Deprecated claims may be demoted but never promoted.
func Transition(current model.Tier, derived model.Tier, status model.Status) model.Tier {
	if status.Overridden() && derived.Rank() > current.Rank() {
		return current
	}
	return derived
}
