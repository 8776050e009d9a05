package extract

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/convergence/internal/cache"
	"github.com/ppiankov/convergence/internal/llm"
	"github.com/ppiankov/convergence/internal/model"
	"github.com/ppiankov/convergence/internal/tagger"
)

const sampleResponse = "```json\n" + `{
  "claims": [
    {
      "claim_text": "Rapamycin reduced mTOR activity in older adults",
      "intervention": "rapamycin",
      "target": "mTOR activity",
      "direction": "decrease",
      "effect_size": "HR 0.8 (95% CI 0.7-0.9)",
      "p_value": 0.01,
      "confidence_interval": null,
      "species": "human",
      "sample_size": 120,
      "study_design": "RCT",
      "domain_tags": ["nutrient_sensing", "cross_domain"],
      "novelty_flag": "extension",
      "limitations_noted": ["short follow-up"]
    },
    {
      "claim_text": "Senolytic treatment failed to clear senescent cells in aged mice",
      "intervention": "dasatinib plus quercetin",
      "target": "senescent cell burden",
      "direction": "no_change",
      "effect_size": null,
      "p_value": "not reported",
      "species": ["mouse"],
      "study_design": "animal_intervention",
      "domain_tags": [],
      "novelty_flag": "contradicts_prior",
      "limitations_noted": null
    },
    {
      "claim_text": "",
      "study_design": "review"
    },
    {
      "claim_text": "Rainfall correlated with clinic visits",
      "target": null,
      "study_design": "observational_cohort",
      "domain_tags": ["weather"]
    }
  ],
  "paper_metadata": {"study_type": "primary_research", "aging_relevance": "direct"}
}` + "\n```"

type fakeProvider struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	respond func(req llm.CompletionRequest) (string, error)
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) IsAvailable(context.Context) bool { return true }

func (f *fakeProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.calls++
	f.prompts = append(f.prompts, req.Prompt)
	f.mu.Unlock()

	text, err := f.respond(req)
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Text: text}, nil
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newExtractor(t *testing.T, p llm.Provider, opts ...Option) *Extractor {
	t.Helper()
	tg, err := tagger.New(model.DefaultDomains())
	require.NoError(t, err)
	e, err := New(p, append([]Option{WithTagger(tg)}, opts...)...)
	require.NoError(t, err)
	return e
}

func paper(pmid string) model.Paper {
	return model.Paper{
		PMID:     pmid,
		Title:    "A longitudinal study",
		Abstract: "Abstract for " + pmid,
		Journal:  "Aging Cell",
		DOI:      "10.1/" + pmid,
	}
}

func TestNew_RequiresProvider(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestBuildPrompt(t *testing.T) {
	prompt := BuildPrompt(model.Paper{
		Title:    "NAD+ and\n  aging",
		DOI:      "10.1/x",
		Journal:  "Cell",
		Abstract: "  Some abstract.  ",
	})
	assert.Contains(t, prompt, "TITLE: NAD+ and aging\n")
	assert.Contains(t, prompt, "DOI: 10.1/x\n")
	assert.Contains(t, prompt, "JOURNAL: Cell\n")
	assert.Contains(t, prompt, "ABSTRACT: Some abstract.\n")
	assert.Contains(t, prompt, "8. Return valid JSON only.")
}

func TestParseResponse(t *testing.T) {
	resp, err := ParseResponse(sampleResponse)
	require.NoError(t, err)
	require.Len(t, resp.Claims, 4)

	c := resp.Claims[0]
	assert.Equal(t, Text("0.01"), c.PValue)
	assert.Equal(t, Text("120"), c.SampleSize)
	assert.Equal(t, TextList{"human"}, c.Species)
	assert.Equal(t, TextList{"nutrient_sensing", "cross_domain"}, c.DomainTags)
	assert.Equal(t, "direct", resp.Metadata.AgingRelevance)

	c = resp.Claims[1]
	assert.Empty(t, c.PValue, "spelled-out null")
	assert.Empty(t, c.EffectSize)
	assert.Nil(t, c.Limitations)

	resp, err = ParseResponse(`[{"claim_text": "x", "study_design": "RCT"}]`)
	require.NoError(t, err)
	assert.Len(t, resp.Claims, 1)

	_, err = ParseResponse("I could not find any claims.")
	assert.Error(t, err)

	_, err = ParseResponse("   ")
	assert.Error(t, err)
}

func TestToEvidence(t *testing.T) {
	e := newExtractor(t, &fakeProvider{})
	resp, err := ParseResponse(sampleResponse)
	require.NoError(t, err)

	items, dropped := e.ToEvidence(paper("38000001"), resp)
	require.Len(t, items, 2)
	assert.Equal(t, 2, dropped)

	rct := items[0]
	assert.Equal(t, "PMID-38000001-C01", rct.SourceID)
	assert.Equal(t, model.ProngClinical, rct.Prong)
	assert.Equal(t, model.PolaritySupports, rct.Polarity)
	// strength 96, human 100, n=120 against an RCT reference of 1000
	assert.InDelta(t, (0.5*96+0.25*100+0.25*100*math.Log10(120)/3)/20, rct.Weight, 1e-9)
	assert.Equal(t, []string{"mtor activity", "rapamycin"}, rct.Keywords)
	assert.Equal(t, model.DomainNutrientSensing, rct.DomainPrimary)
	assert.Equal(t, []model.Domain{model.DomainNutrientSensing}, rct.DomainTags)
	assert.Equal(t, []model.Effect{{Target: "mtor activity", Direction: model.DirectionDecrease}}, rct.ExpectedEffect)
	assert.Equal(t, "A longitudinal study", rct.Title)
	require.NoError(t, rct.Validate())

	animal := items[1]
	assert.Equal(t, "PMID-38000001-C02", animal.SourceID)
	assert.Equal(t, model.ProngPerturbation, animal.Prong)
	assert.Equal(t, model.PolarityContradicts, animal.Polarity)
	assert.InDelta(t, 2.5, animal.Weight, 1e-9) // strength 45, mouse 70, no sample size 40
	assert.Equal(t, model.DomainSenescence, animal.DomainPrimary, "tagged from text when the model gave no tags")
	assert.Nil(t, animal.ExpectedEffect, "no_change carries no expected effect")
	require.NoError(t, animal.Validate())
}

func TestToEvidence_TaggerPicksPrimaryAmongModelTags(t *testing.T) {
	e := newExtractor(t, &fakeProvider{})
	resp := &Response{Claims: []ExtractedClaim{{
		ClaimText:   "Mitophagy declined while mTOR and AMPK signalling and rapamycin response shifted",
		StudyDesign: "cross_sectional",
		DomainTags:  TextList{"Mitochondrial", "Nutrient Sensing"},
	}}}

	items, dropped := e.ToEvidence(paper("1"), resp)
	require.Len(t, items, 1)
	assert.Zero(t, dropped)
	assert.Equal(t, model.DomainNutrientSensing, items[0].DomainPrimary)
	assert.Equal(t, []model.Domain{model.DomainMitochondrial, model.DomainNutrientSensing}, items[0].DomainTags)
}

func TestExtract_CachesAndDedupes(t *testing.T) {
	provider := &fakeProvider{respond: func(llm.CompletionRequest) (string, error) {
		return sampleResponse, nil
	}}
	mem := cache.NewMemoryCache(time.Hour, time.Hour)
	e := newExtractor(t, provider, WithCache(mem, time.Hour), WithWorkers(2), WithModel("m1"))

	noAbstract := paper("3")
	noAbstract.Abstract = ""
	papers := []model.Paper{paper("1"), paper("2"), paper("1"), noAbstract}

	res, err := e.Extract(context.Background(), papers)
	require.NoError(t, err)
	require.Len(t, res.Papers, 3)
	assert.Equal(t, 2, provider.callCount())
	assert.Equal(t, "no abstract", res.Papers[2].Skipped)
	assert.Len(t, res.Items(), 4)
	assert.Zero(t, res.Failed())
	assert.Equal(t, "PMID-2-C01", res.Papers[1].Items[0].SourceID)

	res, err = e.Extract(context.Background(), papers[:2])
	require.NoError(t, err)
	assert.Equal(t, 2, provider.callCount(), "second run served from cache")
	assert.True(t, res.Papers[0].Cached)
	assert.Len(t, res.Items(), 4)
}

func TestExtract_IsolatesPaperFailures(t *testing.T) {
	provider := &fakeProvider{respond: func(req llm.CompletionRequest) (string, error) {
		if strings.Contains(req.Prompt, "Abstract for bad") {
			return "", errors.New("upstream exploded")
		}
		if strings.Contains(req.Prompt, "Abstract for junk") {
			return "not json at all", nil
		}
		return sampleResponse, nil
	}}
	e := newExtractor(t, provider, WithWorkers(3))

	res, err := e.Extract(context.Background(), []model.Paper{paper("bad"), paper("ok"), paper("junk")})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Failed())
	assert.ErrorContains(t, res.Papers[0].Err, "upstream exploded")
	assert.NoError(t, res.Papers[1].Err)
	assert.Len(t, res.Papers[1].Items, 2)
	assert.Error(t, res.Papers[2].Err)
}

func TestExtract_Cancelled(t *testing.T) {
	provider := &fakeProvider{respond: func(llm.CompletionRequest) (string, error) {
		return sampleResponse, nil
	}}
	e := newExtractor(t, provider)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := e.Extract(ctx, []model.Paper{paper("1")})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Zero(t, provider.callCount())
}

func TestExtract_PromptCarriesSystemAndJSON(t *testing.T) {
	var got llm.CompletionRequest
	provider := &fakeProvider{respond: func(req llm.CompletionRequest) (string, error) {
		got = req
		return `{"claims": []}`, nil
	}}
	e := newExtractor(t, provider)

	res, err := e.Extract(context.Background(), []model.Paper{paper("9")})
	require.NoError(t, err)
	assert.Empty(t, res.Items())
	assert.True(t, got.JSON)
	assert.True(t, strings.HasPrefix(got.System, "You are a biomedical research extraction engine."))
	assert.Contains(t, got.Prompt, "ABSTRACT: Abstract for 9")
}

func TestExtract_ClusterBonusForReplicatedClaims(t *testing.T) {
	provider := &fakeProvider{respond: func(llm.CompletionRequest) (string, error) {
		return `{"claims": [{
			"claim_text": "Rapamycin extends lifespan in aged mice",
			"study_design": "animal_intervention",
			"species": ["mouse"],
			"sample_size": "n=60",
			"domain_tags": ["nutrient_sensing"],
			"novelty_flag": "replication"
		}]}`, nil
	}}
	e := newExtractor(t, provider, WithWorkers(3))

	single, err := e.Extract(context.Background(), []model.Paper{paper("1")})
	require.NoError(t, err)
	require.Len(t, single.Items(), 1)
	// strength 45, mouse 70, n=60 at the animal reference, replication +25
	base := (0.5*45 + 0.25*70 + 0.25*100 + 0.1*25) / 20
	assert.InDelta(t, base, single.Items()[0].Weight, 1e-6)

	var papers []model.Paper
	for i := 1; i <= 3; i++ {
		papers = append(papers, paper(fmt.Sprint(i)))
	}
	res, err := e.Extract(context.Background(), papers)
	require.NoError(t, err)
	require.Len(t, res.Items(), 3)
	for _, item := range res.Items() {
		// two matching claims elsewhere in the run add 10 replication points
		assert.InDelta(t, base+0.1*10/20, item.Weight, 1e-6, item.SourceID)
	}
}
