package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ppiankov/convergence/internal/model"
)

// Study designs as named in the extraction prompt
const (
	DesignRCT                 = "rct"
	DesignObservationalCohort = "observational_cohort"
	DesignCaseControl         = "case_control"
	DesignCrossSectional      = "cross_sectional"
	DesignAnimalIntervention  = "animal_intervention"
	DesignInVitro             = "in_vitro"
	DesignMetaAnalysis        = "meta_analysis"
	DesignReview              = "review"
)

// designScores is the base evidence strength per study design, 0-100
var designScores = map[string]float64{
	DesignMetaAnalysis:        95,
	DesignRCT:                 90,
	DesignObservationalCohort: 75,
	"cohort":                  75,
	DesignCaseControl:         65,
	DesignCrossSectional:      55,
	"observational":           55,
	DesignAnimalIntervention:  45,
	"animal":                  45,
	"in_vivo":                 45,
	DesignReview:              40,
	DesignInVitro:             30,
}

const unknownDesignScore = 35

// NormalizeDesign lowercases a design label and joins words with underscores
func NormalizeDesign(design string) string {
	d := strings.ToLower(strings.TrimSpace(design))
	d = strings.NewReplacer(" ", "_", "-", "_").Replace(d)
	return d
}

// ProngFor maps a study design onto a convergence prong. Trials and their
// meta-analyses are clinical, interventions in animals or cells are
// perturbation, everything else is observational.
func ProngFor(design string) model.Prong {
	switch NormalizeDesign(design) {
	case DesignRCT, DesignMetaAnalysis, "clinical_trial":
		return model.ProngClinical
	case DesignAnimalIntervention, DesignInVitro, "animal", "in_vivo":
		return model.ProngPerturbation
	default:
		return model.ProngObservational
	}
}

// Strength scores a claim 0-100: a design base, bonuses for reported
// statistics, a penalty of 5 per stated limitation capped at 20.
func Strength(c *ExtractedClaim) float64 {
	base, ok := designScores[NormalizeDesign(c.StudyDesign)]
	if !ok {
		base = unknownDesignScore
	}

	bonus := 0.0
	effect := c.EffectSize.String()
	if effect != "" {
		bonus += 5
	}
	if c.PValue != "" {
		bonus += 3
	}
	if c.ConfidenceInterval != "" || strings.Contains(effect, "CI") ||
		strings.Contains(strings.ToLower(effect), "confidence interval") {
		bonus += 3
	}

	penalty := math.Min(20, 5*float64(len(c.Limitations)))

	return math.Max(0, math.Min(100, base+bonus-penalty))
}

// Shares of the evidence quality blend, and the pull of the replication
// score around its neutral 50
const (
	strengthShare    = 0.50
	speciesShare     = 0.25
	sampleSizeShare  = 0.25
	replicationShare = 0.10
)

// SpeciesRelevance scores how close the studied organisms are to humans,
// 0-100. The most relevant species listed wins; none listed is neutral.
func SpeciesRelevance(c *ExtractedClaim) float64 {
	if len(c.Species) == 0 {
		return 50
	}
	best := 0.0
	for _, s := range c.Species {
		best = math.Max(best, speciesScore(strings.ToLower(s)))
	}
	return best
}

func speciesScore(s string) float64 {
	switch {
	case containsAny(s, "human", "people", "patient"):
		return 100
	case containsAny(s, "primate", "monkey"):
		return 85
	case containsAny(s, "mouse", "mice", "rat", "murine"):
		return 70
	case containsAny(s, "drosophila", "elegans", "fly", "worm"):
		return 55
	case containsAny(s, "cell", "vitro"):
		return 35
	}
	return 50
}

var firstNumber = regexp.MustCompile(`\d+`)

// SampleSizeScore rates n on a log scale against a reference size for the
// study design, 0-100. Non-cell studies with fewer than 10 subjects are
// capped at 25; an unreported size scores 40.
func SampleSizeScore(c *ExtractedClaim) float64 {
	digits := firstNumber.FindString(strings.ReplaceAll(c.SampleSize.String(), ",", ""))
	if digits == "" {
		return 40
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 40
	}

	design := strings.ToLower(c.StudyDesign)
	cells := containsAny(design, "vitro", "cell")
	var ref float64
	switch {
	case strings.Contains(design, "rct"):
		ref = 1000
	case strings.Contains(design, "cohort"):
		ref = 10000
	case containsAny(design, "animal", "vivo"):
		ref = 60
	case cells:
		ref = 12
	default:
		ref = 100
	}

	score := 100 * math.Log10(math.Max(float64(n), 1)) / math.Log10(ref)
	score = math.Max(0, math.Min(100, score))
	if n < 10 && !cells {
		score = math.Min(score, 25)
	}
	return score
}

// Replication scores a claim around a neutral 50: replications gain 25,
// novel findings lose 10, and each near-identical claim of the same run adds
// 5 up to 15.
func Replication(c *ExtractedClaim, members int) float64 {
	score := 50.0
	novelty := strings.ToLower(c.NoveltyFlag)
	if strings.Contains(novelty, "replication") {
		score += 25
	}
	if strings.Contains(novelty, "novel") {
		score -= 10
	}
	score += math.Min(15, 5*float64(max(members, 0)))
	return math.Max(0, math.Min(100, score))
}

// Quality blends design strength, species relevance and sample size, 0-100
func Quality(c *ExtractedClaim) float64 {
	return strengthShare*Strength(c) + speciesShare*SpeciesRelevance(c) + sampleSizeShare*SampleSizeScore(c)
}

// Weight shifts Quality by the replication modifier and scales it onto the
// evidence weight range. members counts near-identical claims in the run.
func Weight(c *ExtractedClaim, members int) float64 {
	q := Quality(c) + replicationShare*(Replication(c, members)-50)
	return math.Max(0, math.Min(100, q)) / 100 * model.MaxEvidenceWeight
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
