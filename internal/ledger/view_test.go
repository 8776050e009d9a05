package ledger

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/convergence/internal/model"
	"github.com/ppiankov/convergence/internal/store"
)

func sampleClaims() []*model.Claim {
	claims := StarterHypotheses()
	claims[4].ProngScores = model.ProngScores{Observational: 3, Perturbation: 4, Clinical: 3}
	claims[4].Tier = model.TierEvidenceBacked
	claims[4].EvidenceFor = []string{"PMID-2001-C01", "PMID-2002-C01"}
	claims[0].Status = model.StatusContested
	claims[0].EvidenceAgainst = []string{"PMID-5003-C01"}
	return claims
}

func TestRenderMarkdown(t *testing.T) {
	generated := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	md, err := RenderMarkdown(sampleClaims(), generated)
	require.NoError(t, err)

	assert.Contains(t, md, "| Evidence-Backed | 1 |")
	assert.Contains(t, md, "| Provisional | 11 |")
	assert.Contains(t, md, "Total: 12 claims, 1 contested, 0 deprecated.")
	assert.Contains(t, md, "- **[HYP-0005]** Restoring NAD+ levels improves mitochondrial function in aged tissue")
	assert.Contains(t, md, "  - Scores: (3,4,3) = 10, Evidence-Backed")
	assert.Contains(t, md, "  - Status: Contested")
	assert.Contains(t, md, "  - Expected: target=epigenetic age direction=decrease")

	// domain sections follow declaration order
	epi := strings.Index(md, "## Epigenetic")
	comp := strings.Index(md, "## Comparative")
	require.True(t, epi > 0 && comp > 0)
	assert.Less(t, epi, comp)
	assert.Less(t, strings.Index(md, "[HYP-0001]"), strings.Index(md, "[HYP-0003]"))
}

func TestRenderJSON(t *testing.T) {
	data, err := RenderJSON(sampleClaims(), time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	var reg Registry
	require.NoError(t, json.Unmarshal(data, &reg))
	require.Len(t, reg.Hypotheses, 12)
	assert.Equal(t, 10, reg.Hypotheses[4].ConvergenceScore)
	assert.Equal(t, []string{}, reg.Hypotheses[1].EvidenceAgainst)
}

func TestParseRegistry_JSONRoundTrip(t *testing.T) {
	want := sampleClaims()
	md, err := RenderMarkdown(want, time.Now())
	require.NoError(t, err)

	got, format, err := ParseRegistry(md)
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, format)
	require.Len(t, got, len(want))
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].Title, got[i].Title)
		assert.Equal(t, want[i].DomainTags, got[i].DomainTags)
		assert.Equal(t, want[i].ProngScores, got[i].ProngScores)
		assert.Equal(t, want[i].Tier, got[i].Tier)
		assert.Equal(t, want[i].Status, got[i].Status)
		assert.Equal(t, want[i].ExpectedEffect, got[i].ExpectedEffect)
	}
}

func TestParseRegistry_Bullets(t *testing.T) {
	md := `# Ledger

- **[HYP-0001]** Epigenetic clocks predict mortality
  - Keywords: Epigenetic Clock, methylation
  - Domain tags: Epigenetic, unknown-area
  - Expected: target=mortality risk direction=increase
  - Evidence FOR: PMID:111, PMID:222
  - Evidence AGAINST:
- **[HYP-0002]** NAD+ restores mitochondria
  - keywords: nad+
  - domain tags: Mitochondrial, Nutrient Sensing
`
	claims, format, err := ParseRegistry(md)
	require.NoError(t, err)
	assert.Equal(t, FormatBullets, format)
	require.Len(t, claims, 2)

	assert.Equal(t, "HYP-0001", claims[0].ID)
	assert.Equal(t, "Epigenetic clocks predict mortality", claims[0].Title)
	assert.Equal(t, []string{"epigenetic clock", "methylation"}, claims[0].Keywords)
	assert.Equal(t, []model.Domain{model.DomainEpigenetic}, claims[0].DomainTags)
	assert.Equal(t, []model.Effect{{Target: "mortality risk", Direction: model.DirectionIncrease}}, claims[0].ExpectedEffect)
	assert.Equal(t, []string{"111", "222"}, claims[0].EvidenceFor)
	assert.Empty(t, claims[0].EvidenceAgainst)

	assert.Equal(t, model.DomainMitochondrial, claims[1].DomainPrimary)
	assert.Equal(t, []model.Domain{model.DomainMitochondrial, model.DomainNutrientSensing}, claims[1].DomainTags)
}

func TestParseRegistry_FencedListBlock(t *testing.T) {
	md := "intro\n" + RegistryStartMarker + "\n```json\n" +
		`[{"id":"HYP-0003","text":"SASP drives inflammation","domain":"senescence","keywords":["sasp"]}]` +
		"\n```\n" + RegistryEndMarker + "\n"

	claims, format, err := ParseRegistry(md)
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, format)
	require.Len(t, claims, 1)
	assert.Equal(t, "SASP drives inflammation", claims[0].Title)
	assert.Equal(t, model.DomainSenescence, claims[0].DomainPrimary)
}

func TestParseRegistry_Errors(t *testing.T) {
	_, _, err := ParseRegistry("# nothing here\n")
	assert.Error(t, err)

	_, _, err = ParseRegistry("- **[HYP-0001]** orphan\n  - Domain tags: astrology\n")
	assert.Error(t, err)

	_, _, err = ParseRegistry(RegistryStartMarker + "{broken" + RegistryEndMarker)
	assert.Error(t, err)
}

func TestSeed_FromParsedRegistry(t *testing.T) {
	f := newFixture(t, Options{})
	claims, _, err := ParseRegistry("- **[HYP-0007]** mTOR inhibition\n  - Domain tags: nutrient_sensing\n  - Keywords: mtor\n  - Evidence FOR: PMID:42\n")
	require.NoError(t, err)

	res, err := f.engine.Seed(t.Context(), claims)
	require.NoError(t, err)
	assert.Equal(t, []string{"HYP-0007"}, res.Created)

	inits := f.audit(t, store.AuditFilter{ClaimID: "HYP-0007", Action: model.ActionInit})
	require.Len(t, inits, 1)
	assert.Contains(t, inits[0].Detail, "evidence for: 42")

	// ids keep counting from the imported maximum
	report, err := f.engine.Apply(t.Context(), []model.EvidenceItem{{
		SourceID: "PMID-1-C01", Prong: model.ProngClinical, Polarity: model.PolaritySupports, Weight: 1,
		Keywords: []string{"bowhead"}, DomainPrimary: model.DomainComparative,
	}})
	require.NoError(t, err)
	assert.Equal(t, "HYP-0008", report.Outcomes[0].ClaimID)
}
