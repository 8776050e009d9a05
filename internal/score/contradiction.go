package score

import (
	"fmt"

	"github.com/ppiankov/convergence/internal/model"
)

// DefaultMateriality is the weight-sum both sides of a prong must reach
const DefaultMateriality = 2.0

// Contradiction describes a prong with material evidence on both sides
type Contradiction struct {
	Prong       model.Prong `json:"prong"`
	Supports    float64     `json:"supports"`
	Contradicts float64     `json:"contradicts"`
	Materiality float64     `json:"materiality"`
}

func (c Contradiction) String() string {
	return fmt.Sprintf("%s prong: supporting weight %.2f and contradicting weight %.2f both >= %.2f",
		c.Prong, c.Supports, c.Contradicts, c.Materiality)
}

// DetectContradiction returns the first prong, in prong order, whose applied
// supporting and contradicting weight-sums both reach materiality. A sum
// below the threshold is not an error, just no contradiction yet.
func DetectContradiction(claim *model.Claim, materiality float64) (Contradiction, bool) {
	for _, prong := range model.Prongs {
		if c, ok := ProngContradiction(claim, prong, materiality); ok {
			return c, true
		}
	}
	return Contradiction{}, false
}

// ProngContradiction checks a single prong
func ProngContradiction(claim *model.Claim, prong model.Prong, materiality float64) (Contradiction, bool) {
	if materiality <= 0 {
		materiality = DefaultMateriality
	}
	supports, contradicts := claim.WeightSums(prong)
	if supports >= materiality && contradicts >= materiality {
		return Contradiction{
			Prong:       prong,
			Supports:    supports,
			Contradicts: contradicts,
			Materiality: materiality,
		}, true
	}
	return Contradiction{}, false
}
