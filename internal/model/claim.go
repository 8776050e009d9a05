package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Domain is one of the six fixed research domains
type Domain string

const (
	DomainEpigenetic      Domain = "epigenetic"
	DomainSenescence      Domain = "senescence"
	DomainMitochondrial   Domain = "mitochondrial"
	DomainNutrientSensing Domain = "nutrient_sensing"
	DomainStemCellECM     Domain = "stem_cell_ecm"
	DomainComparative     Domain = "comparative"
)

// Domains lists the domains in declaration order. Tie-breaks and ledger
// ordering depend on this order.
var Domains = []Domain{
	DomainEpigenetic,
	DomainSenescence,
	DomainMitochondrial,
	DomainNutrientSensing,
	DomainStemCellECM,
	DomainComparative,
}

// Valid reports whether d is one of the six fixed domains
func (d Domain) Valid() bool {
	return d.Order() >= 0
}

// Order returns the declaration index of d, or -1 if unknown
func (d Domain) Order() int {
	for i, known := range Domains {
		if known == d {
			return i
		}
	}
	return -1
}

// ParseDomain normalizes free-form tags such as "Nutrient Sensing"
func ParseDomain(s string) (Domain, bool) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_", "/", "_").Replace(norm)
	d := Domain(norm)
	if d.Valid() {
		return d, true
	}
	return "", false
}

// Prong is one of the three independent evidence categories
type Prong string

const (
	ProngObservational Prong = "observational"
	ProngPerturbation  Prong = "perturbation"
	ProngClinical      Prong = "clinical"
)

// Prongs lists prongs in the order scores are reported
var Prongs = []Prong{ProngObservational, ProngPerturbation, ProngClinical}

func (p Prong) Valid() bool {
	switch p {
	case ProngObservational, ProngPerturbation, ProngClinical:
		return true
	}
	return false
}

// Direction of an expected effect
type Direction string

const (
	DirectionIncrease Direction = "increase"
	DirectionDecrease Direction = "decrease"
)

// Effect is one (target, direction) pair of a claim's expected effect
type Effect struct {
	Target    string    `json:"target" yaml:"target"`
	Direction Direction `json:"direction" yaml:"direction"`
}

// Tier is the convergence classification of a claim
type Tier string

const (
	TierProvisional    Tier = "Provisional"
	TierEmerging       Tier = "Emerging"
	TierEvidenceBacked Tier = "Evidence-Backed"
	TierCornerstone    Tier = "Cornerstone"
)

// Rank orders tiers from lowest (0) to highest (3); unknown tiers rank -1
func (t Tier) Rank() int {
	switch t {
	case TierProvisional:
		return 0
	case TierEmerging:
		return 1
	case TierEvidenceBacked:
		return 2
	case TierCornerstone:
		return 3
	}
	return -1
}

// Status carries the human-override channel on top of automated scoring.
// Contested and Deprecated are sticky: scoring never clears them.
type Status string

const (
	StatusProvisional Status = "Provisional" // no override, scoring governs
	StatusContested   Status = "Contested"
	StatusDeprecated  Status = "Deprecated"
)

// Overridden reports whether automated tier promotion is blocked
func (s Status) Overridden() bool {
	return s == StatusContested || s == StatusDeprecated
}

// MaxProngScore bounds every prong sub-score
const MaxProngScore = 5

// ProngScores holds the three prong sub-scores
type ProngScores struct {
	Observational int `json:"observational"`
	Perturbation  int `json:"perturbation"`
	Clinical      int `json:"clinical"`
}

// Get returns the sub-score for p
func (s ProngScores) Get(p Prong) int {
	switch p {
	case ProngObservational:
		return s.Observational
	case ProngPerturbation:
		return s.Perturbation
	case ProngClinical:
		return s.Clinical
	}
	return 0
}

// With returns a copy with the sub-score for p replaced
func (s ProngScores) With(p Prong, v int) ProngScores {
	switch p {
	case ProngObservational:
		s.Observational = v
	case ProngPerturbation:
		s.Perturbation = v
	case ProngClinical:
		s.Clinical = v
	}
	return s
}

// Sum is the convergence score
func (s ProngScores) Sum() int {
	return s.Observational + s.Perturbation + s.Clinical
}

func (s ProngScores) String() string {
	return fmt.Sprintf("(%d,%d,%d)", s.Observational, s.Perturbation, s.Clinical)
}

// AppliedEvidence records one Evidence Item already folded into a prong score.
// (SourceID, Prong) is the idempotence key.
type AppliedEvidence struct {
	SourceID  string    `json:"source_id"`
	Prong     Prong     `json:"prong"`
	Polarity  Polarity  `json:"polarity"`
	Weight    float64   `json:"weight"`
	AppliedAt time.Time `json:"applied_at"`
}

// Key returns the idempotence key of the record
func (a AppliedEvidence) Key() string {
	return EvidenceKey(a.SourceID, a.Prong)
}

// EvidenceKey builds the idempotence key for a source id on a prong
func EvidenceKey(sourceID string, prong Prong) string {
	return string(prong) + "|" + sourceID
}

// Claim is a unique scientific hypothesis tracked by the ledger
type Claim struct {
	ID              string            `json:"id"`
	Title           string            `json:"title"`
	Description     string            `json:"description,omitempty"`
	DomainPrimary   Domain            `json:"domain_primary"`
	DomainTags      []Domain          `json:"domain_tags"`
	Keywords        []string          `json:"keywords"`
	ExpectedEffect  []Effect          `json:"expected_effect"`
	ProngScores     ProngScores       `json:"prong_scores"`
	Tier            Tier              `json:"tier"`
	Status          Status            `json:"status"`
	EvidenceFor     []string          `json:"evidence_for"`
	EvidenceAgainst []string          `json:"evidence_against"`
	Applied         []AppliedEvidence `json:"applied,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	LastUpdated     time.Time         `json:"last_updated"`
}

// ConvergenceScore is always derived from the prong scores
func (c *Claim) ConvergenceScore() int {
	return c.ProngScores.Sum()
}

// HasApplied reports whether the evidence key was already folded in
func (c *Claim) HasApplied(sourceID string, prong Prong) bool {
	key := EvidenceKey(sourceID, prong)
	for _, a := range c.Applied {
		if a.Key() == key {
			return true
		}
	}
	return false
}

// WeightSums returns the supporting and contradicting weight-sums on a prong
func (c *Claim) WeightSums(prong Prong) (supports, contradicts float64) {
	for _, a := range c.Applied {
		if a.Prong != prong {
			continue
		}
		switch a.Polarity {
		case PolaritySupports:
			supports += a.Weight
		case PolarityContradicts:
			contradicts += a.Weight
		}
	}
	return supports, contradicts
}

// SyncEvidenceSets rebuilds EvidenceFor/EvidenceAgainst from Applied
func (c *Claim) SyncEvidenceSets() {
	forSet := make(map[string]bool)
	againstSet := make(map[string]bool)
	for _, a := range c.Applied {
		switch a.Polarity {
		case PolaritySupports:
			forSet[a.SourceID] = true
		case PolarityContradicts:
			againstSet[a.SourceID] = true
		}
	}
	c.EvidenceFor = sortedKeys(forSet)
	c.EvidenceAgainst = sortedKeys(againstSet)
}

// NormalizeTags dedupes DomainTags, keeps declaration order and makes sure
// DomainPrimary is included
func (c *Claim) NormalizeTags() {
	c.DomainTags = NormalizeDomains(c.DomainPrimary, c.DomainTags)
	c.Keywords = NormalizeKeywords(c.Keywords)
}

// Clone returns a deep copy so callers can mutate without touching shared state
func (c *Claim) Clone() *Claim {
	out := *c
	out.DomainTags = append([]Domain(nil), c.DomainTags...)
	out.Keywords = append([]string(nil), c.Keywords...)
	out.ExpectedEffect = append([]Effect(nil), c.ExpectedEffect...)
	out.EvidenceFor = append([]string(nil), c.EvidenceFor...)
	out.EvidenceAgainst = append([]string(nil), c.EvidenceAgainst...)
	out.Applied = append([]AppliedEvidence(nil), c.Applied...)
	return &out
}

// NormalizeDomains returns a unique, declaration-ordered domain set that
// contains primary (when primary is valid)
func NormalizeDomains(primary Domain, tags []Domain) []Domain {
	seen := make(map[Domain]bool)
	if primary.Valid() {
		seen[primary] = true
	}
	for _, t := range tags {
		if t.Valid() {
			seen[t] = true
		}
	}
	out := make([]Domain, 0, len(seen))
	for _, d := range Domains {
		if seen[d] {
			out = append(out, d)
		}
	}
	return out
}

// NormalizeKeywords lower-cases, trims and dedupes keywords, sorted
func NormalizeKeywords(keywords []string) []string {
	seen := make(map[string]bool)
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" {
			seen[k] = true
		}
	}
	return sortedKeys(seen)
}

// ClaimIDPrefix is the prefix of every claim id
const ClaimIDPrefix = "HYP-"

// FormatClaimID renders n as HYP-NNNN
func FormatClaimID(n int) string {
	return fmt.Sprintf("%s%04d", ClaimIDPrefix, n)
}

// ParseClaimID extracts the numeric suffix of a HYP-NNNN id
func ParseClaimID(id string) (int, bool) {
	if !strings.HasPrefix(id, ClaimIDPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(id, ClaimIDPrefix))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
