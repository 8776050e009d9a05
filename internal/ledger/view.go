package ledger

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/convergence/internal/model"
)

// Registry markers delimit the machine-readable block inside the markdown
// ledger
const (
	RegistryStartMarker = "<!-- HYPOTHESIS_REGISTRY_JSON_START -->"
	RegistryEndMarker   = "<!-- HYPOTHESIS_REGISTRY_JSON_END -->"
)

// Registry is the JSON projection of the ledger
type Registry struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Hypotheses  []RegistryEntry `json:"hypotheses"`
}

// RegistryEntry is the per-claim registry record. Text and Domain are only
// read, for registries written by older tooling.
type RegistryEntry struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	Text             string            `json:"text,omitempty"`
	Description      string            `json:"description,omitempty"`
	Domain           string            `json:"domain,omitempty"`
	DomainPrimary    model.Domain      `json:"domain_primary"`
	DomainTags       []string          `json:"domain_tags"`
	Keywords         []string          `json:"keywords"`
	ExpectedEffect   []model.Effect    `json:"expected_effect"`
	ProngScores      model.ProngScores `json:"prong_scores"`
	ConvergenceScore int               `json:"convergence_score"`
	Tier             model.Tier        `json:"tier"`
	Status           model.Status      `json:"status"`
	EvidenceFor      []string          `json:"evidence_for"`
	EvidenceAgainst  []string          `json:"evidence_against"`
	LastUpdated      time.Time         `json:"last_updated,omitempty"`
}

// NewRegistry projects claims into registry records, keeping their order
func NewRegistry(claims []*model.Claim, generatedAt time.Time) Registry {
	reg := Registry{GeneratedAt: generatedAt.UTC(), Hypotheses: make([]RegistryEntry, 0, len(claims))}
	for _, c := range claims {
		tags := make([]string, 0, len(c.DomainTags))
		for _, d := range c.DomainTags {
			tags = append(tags, string(d))
		}
		reg.Hypotheses = append(reg.Hypotheses, RegistryEntry{
			ID:               c.ID,
			Title:            c.Title,
			Description:      c.Description,
			DomainPrimary:    c.DomainPrimary,
			DomainTags:       tags,
			Keywords:         nonNil(c.Keywords),
			ExpectedEffect:   nonNilEffects(c.ExpectedEffect),
			ProngScores:      c.ProngScores,
			ConvergenceScore: c.ConvergenceScore(),
			Tier:             c.Tier,
			Status:           c.Status,
			EvidenceFor:      nonNil(c.EvidenceFor),
			EvidenceAgainst:  nonNil(c.EvidenceAgainst),
			LastUpdated:      c.LastUpdated.UTC(),
		})
	}
	return reg
}

// RenderJSON renders the registry as indented JSON
func RenderJSON(claims []*model.Claim, generatedAt time.Time) ([]byte, error) {
	data, err := json.MarshalIndent(NewRegistry(claims, generatedAt), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal registry: %w", err)
	}
	return append(data, '\n'), nil
}

// RenderMarkdown renders the generated ledger view: a tier summary, one
// section per domain in declaration order, and the embedded registry block.
// The view is a one-way projection of the store and is overwritten on every
// render.
func RenderMarkdown(claims []*model.Claim, generatedAt time.Time) (string, error) {
	var b strings.Builder

	b.WriteString("# Hypothesis Ledger\n\n")
	fmt.Fprintf(&b, "_Generated %s from the claim store. Edits to this file are overwritten; use the CLI to change claims._\n\n",
		generatedAt.UTC().Format(time.RFC3339))

	b.WriteString("## Summary\n\n")
	b.WriteString("| Tier | Claims |\n|---|---|\n")
	counts := make(map[model.Tier]int)
	var contested, deprecated int
	for _, c := range claims {
		counts[c.Tier]++
		switch c.Status {
		case model.StatusContested:
			contested++
		case model.StatusDeprecated:
			deprecated++
		}
	}
	for _, tier := range []model.Tier{model.TierCornerstone, model.TierEvidenceBacked, model.TierEmerging, model.TierProvisional} {
		fmt.Fprintf(&b, "| %s | %d |\n", tier, counts[tier])
	}
	fmt.Fprintf(&b, "\nTotal: %d claims, %d contested, %d deprecated.\n", len(claims), contested, deprecated)

	byDomain := make(map[model.Domain][]*model.Claim)
	for _, c := range claims {
		byDomain[c.DomainPrimary] = append(byDomain[c.DomainPrimary], c)
	}
	for _, d := range model.Domains {
		group := byDomain[d]
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(&b, "\n## %s\n\n", domainHeading(d))
		for _, c := range group {
			writeClaim(&b, c)
		}
	}

	data, err := json.MarshalIndent(NewRegistry(claims, generatedAt), "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal registry: %w", err)
	}
	b.WriteString("\n## Registry\n\n")
	b.WriteString(RegistryStartMarker + "\n")
	b.Write(data)
	b.WriteString("\n" + RegistryEndMarker + "\n")

	return b.String(), nil
}

func writeClaim(b *strings.Builder, c *model.Claim) {
	fmt.Fprintf(b, "- **[%s]** %s\n", c.ID, c.Title)
	fmt.Fprintf(b, "  - Keywords: %s\n", strings.Join(c.Keywords, ", "))

	tags := make([]string, 0, len(c.DomainTags))
	for _, d := range c.DomainTags {
		tags = append(tags, string(d))
	}
	fmt.Fprintf(b, "  - Domain tags: %s\n", strings.Join(tags, ", "))

	for _, eff := range c.ExpectedEffect {
		fmt.Fprintf(b, "  - Expected: target=%s direction=%s\n", eff.Target, eff.Direction)
	}
	fmt.Fprintf(b, "  - Scores: %s = %d, %s\n", c.ProngScores, c.ConvergenceScore(), c.Tier)
	if c.Status != model.StatusProvisional {
		fmt.Fprintf(b, "  - Status: %s\n", c.Status)
	}
	fmt.Fprintf(b, "  - Evidence FOR: %s\n", strings.Join(c.EvidenceFor, ", "))
	fmt.Fprintf(b, "  - Evidence AGAINST: %s\n", strings.Join(c.EvidenceAgainst, ", "))
}

func domainHeading(d model.Domain) string {
	switch d {
	case model.DomainNutrientSensing:
		return "Nutrient sensing"
	case model.DomainStemCellECM:
		return "Stem cell & ECM"
	}
	s := string(d)
	return strings.ToUpper(s[:1]) + s[1:]
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilEffects(e []model.Effect) []model.Effect {
	if e == nil {
		return []model.Effect{}
	}
	return e
}
