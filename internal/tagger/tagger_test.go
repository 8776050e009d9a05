package tagger

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ppiankov/convergence/internal/cache"
	"github.com/ppiankov/convergence/internal/model"
)

func newDefaultTagger(t *testing.T, opts ...Option) *Tagger {
	t.Helper()
	tg, err := New(model.DefaultDomains(), opts...)
	require.NoError(t, err)
	return tg
}

func TestTag_PrimaryIsMostHits(t *testing.T) {
	tg := newDefaultTagger(t)

	r := tg.Tag("Senolytic clearance of senescent cells reduces SASP; mTOR was unchanged.")

	assert.Equal(t, model.DomainSenescence, r.Primary)
	assert.Equal(t, []model.Domain{model.DomainSenescence, model.DomainNutrientSensing}, r.Tags)
	assert.Equal(t, 3, r.Hits[model.DomainSenescence])
	assert.Equal(t, 1, r.Hits[model.DomainNutrientSensing])
}

func TestTag_TiesBrokenByDeclarationOrder(t *testing.T) {
	tg := newDefaultTagger(t)

	// one hit each: mitochondrial is declared before nutrient_sensing
	r := tg.Tag("Mitophagy and AMPK")
	assert.Equal(t, model.DomainMitochondrial, r.Primary)
	assert.Equal(t, []model.Domain{model.DomainMitochondrial, model.DomainNutrientSensing}, r.Tags)
}

func TestTag_CaseInsensitiveOccurrences(t *testing.T) {
	tg := newDefaultTagger(t)

	r := tg.Tag("RAPAMYCIN, rapamycin and Rapamycin")
	assert.Equal(t, 3, r.Hits[model.DomainNutrientSensing])
}

func TestTag_NoHits(t *testing.T) {
	tg := newDefaultTagger(t)

	r := tg.Tag("A survey of hospital parking availability")
	assert.True(t, r.Empty())
	assert.Empty(t, r.Tags)

	assert.True(t, tg.Tag("").Empty())
}

func TestTag_StripsMarkup(t *testing.T) {
	tg := newDefaultTagger(t)

	r := tg.Tag("Boosting NAD<sup>+</sup> in <i>C. elegans</i>")
	assert.Equal(t, model.DomainMitochondrial, r.Primary)
}

func TestTag_Deterministic(t *testing.T) {
	tg := newDefaultTagger(t)
	text := "Partial reprogramming resets the epigenetic clock and lowers p16INK4a"

	first := tg.Tag(text)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, tg.Tag(text))
	}
}

func TestTag_CacheDoesNotChangeResults(t *testing.T) {
	mem := cache.NewMemoryCache(time.Minute, time.Minute)
	cached := newDefaultTagger(t, WithCache(mem, time.Minute))
	plain := newDefaultTagger(t)

	text := "Caloric restriction and metformin activate AMPK in aged mice"
	assert.Equal(t, plain.Tag(text), cached.Tag(text))
	assert.Equal(t, 1, mem.Count())
	assert.Equal(t, plain.Tag(text), cached.Tag(text), "served from cache")
}

type readOnlyCache struct{}

func (readOnlyCache) Get(string) ([]byte, bool) { return nil, false }
func (readOnlyCache) Set(string, []byte, time.Duration) error {
	return errors.New("cache is read-only")
}
func (readOnlyCache) Delete(string) error { return nil }
func (readOnlyCache) Clear() error        { return nil }

func TestTag_CacheWriteFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	tg := newDefaultTagger(t, WithCache(readOnlyCache{}, time.Minute), WithLogger(zap.New(core)))
	plain := newDefaultTagger(t)

	text := "Senolytic clearance of senescent cells"
	assert.Equal(t, plain.Tag(text), tg.Tag(text), "tagging survives a failed cache write")

	entries := logs.FilterMessage("cache write failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "cache is read-only", entries[0].ContextMap()["error"])
}

func TestNew_Validation(t *testing.T) {
	_, err := New([]model.DomainConfig{{Name: "astrology", Keywords: []string{"stars"}}})
	assert.Error(t, err)

	_, err = New(nil)
	assert.Error(t, err)

	a, err := New([]model.DomainConfig{{Name: model.DomainComparative, Keywords: []string{"bowhead"}}})
	require.NoError(t, err)
	b, err := New([]model.DomainConfig{{Name: model.DomainComparative, Keywords: []string{"rockfish"}}})
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), b.Fingerprint())
}

func TestTagItem(t *testing.T) {
	tg := newDefaultTagger(t)

	untagged := &model.EvidenceItem{Title: "Hyaluronan in the naked mole-rat", Text: "cancer resistance"}
	require.True(t, tg.TagItem(untagged))
	assert.Equal(t, model.DomainComparative, untagged.DomainPrimary)

	pretagged := &model.EvidenceItem{
		Text:       "Rapamycin extends lifespan",
		DomainTags: []model.Domain{model.DomainSenescence, model.DomainEpigenetic},
	}
	require.True(t, tg.TagItem(pretagged))
	assert.Equal(t, model.DomainEpigenetic, pretagged.DomainPrimary, "existing tags are kept, not re-derived")
	assert.Equal(t, []model.Domain{model.DomainEpigenetic, model.DomainSenescence}, pretagged.DomainTags)

	assert.False(t, tg.TagItem(&model.EvidenceItem{Text: "weather report"}))
}

func TestStripMarkup(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain   text\n here", "plain text here"},
		{"NAD<sup>+</sup> precursors", "NAD+ precursors"},
		{"<p>first</p><p>second</p>", "first second"},
		{"Tom &amp; Jerry", "Tom & Jerry"},
		{"<script>x()</script>visible", "visible"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StripMarkup(tt.in), "input %q", tt.in)
	}
}
