package model

import (
	"fmt"
	"math"
	"strings"
)

// Polarity says whether an evidence item supports or contradicts a claim
type Polarity string

const (
	PolaritySupports    Polarity = "supports"
	PolarityContradicts Polarity = "contradicts"
)

func (p Polarity) Valid() bool {
	return p == PolaritySupports || p == PolarityContradicts
}

// MaxEvidenceWeight bounds the weight of a single evidence item
const MaxEvidenceWeight = 5.0

// EvidenceItem is one external signal for or against a claim, handed to the
// engine pre-fetched and parsed by the ingestion/extraction collaborators
type EvidenceItem struct {
	SourceID       string   `json:"source_id"`                 // e.g. PMID-38012345-C01
	Prong          Prong    `json:"prong"`                     // observational, perturbation, clinical
	Polarity       Polarity `json:"polarity"`                  // supports or contradicts
	Weight         float64  `json:"weight"`                    // 0.0-5.0
	Title          string   `json:"title,omitempty"`           // Paper or claim title
	Text           string   `json:"text"`                      // Title + abstract or claim text
	Keywords       []string `json:"keywords"`                  // Pre-resolved keyword set
	DomainPrimary  Domain   `json:"domain_primary,omitempty"`  // Filled by the tagger when empty
	DomainTags     []Domain `json:"domain_tags,omitempty"`     // Filled by the tagger when empty
	ExpectedEffect []Effect `json:"expected_effect,omitempty"` // Used when a new claim is minted
	ClaimID        string   `json:"claim_id,omitempty"`        // Optional pre-resolved claim id
}

// Tagged reports whether the item carries at least one valid domain tag
func (e *EvidenceItem) Tagged() bool {
	if e.DomainPrimary.Valid() {
		return true
	}
	for _, t := range e.DomainTags {
		if t.Valid() {
			return true
		}
	}
	return false
}

// Primary returns the item's primary domain, falling back to its first tag
func (e *EvidenceItem) Primary() Domain {
	if e.DomainPrimary.Valid() {
		return e.DomainPrimary
	}
	for _, t := range NormalizeDomains("", e.DomainTags) {
		return t
	}
	return ""
}

// Validate checks the item is well-formed enough to score
func (e *EvidenceItem) Validate() error {
	if strings.TrimSpace(e.SourceID) == "" {
		return fmt.Errorf("missing source_id")
	}
	if !e.Prong.Valid() {
		return fmt.Errorf("unknown prong %q", e.Prong)
	}
	if !e.Polarity.Valid() {
		return fmt.Errorf("unknown polarity %q", e.Polarity)
	}
	if math.IsNaN(e.Weight) || math.IsInf(e.Weight, 0) || e.Weight < 0 || e.Weight > MaxEvidenceWeight {
		return fmt.Errorf("weight %v outside [0,%v]", e.Weight, MaxEvidenceWeight)
	}
	return nil
}

// Paper is one PubMed record as produced by the ingestion collaborator
type Paper struct {
	PMID      string   `json:"pmid"`
	Title     string   `json:"title"`
	Abstract  string   `json:"abstract"`
	Journal   string   `json:"journal,omitempty"`
	Year      string   `json:"year,omitempty"`
	DOI       string   `json:"doi,omitempty"`
	MeshTerms []string `json:"mesh_terms,omitempty"`
	Query     string   `json:"query,omitempty"` // Search that surfaced the paper
}
