// Package extract turns PubMed papers into evidence items: an LLM pulls
// structured claims out of each abstract, and each claim is mapped onto a
// prong, polarity and weight.
package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/convergence/internal/cache"
	"github.com/ppiankov/convergence/internal/dedup"
	"github.com/ppiankov/convergence/internal/llm"
	"github.com/ppiankov/convergence/internal/logging"
	"github.com/ppiankov/convergence/internal/model"
	"github.com/ppiankov/convergence/internal/tagger"
	"github.com/ppiankov/convergence/internal/worker"
)

// LimiterKey is the rate limiter bucket shared by all LLM calls
const LimiterKey = "llm"

// clusterSimilarity is the claim-text overlap above which two claims of a
// run count as replicating each other
const clusterSimilarity = 0.7

// Extractor is safe for concurrent use
type Extractor struct {
	provider llm.Provider
	model    string
	tagger   *tagger.Tagger
	cache    cache.Cache
	cacheTTL time.Duration
	limiter  *worker.Limiter
	workers  int
	logger   *zap.Logger
}

// Option configures an Extractor
type Option func(*Extractor)

// WithModel records the model name; it only feeds the cache key
func WithModel(name string) Option {
	return func(e *Extractor) { e.model = name }
}

// WithTagger picks the primary domain among the model's tags and tags claims
// the model left untagged
func WithTagger(t *tagger.Tagger) Option {
	return func(e *Extractor) { e.tagger = t }
}

// WithCache memoizes parsed responses per PMID
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(e *Extractor) {
		e.cache = c
		e.cacheTTL = ttl
	}
}

// WithLimiter throttles provider calls through the LimiterKey bucket
func WithLimiter(l *worker.Limiter) Option {
	return func(e *Extractor) { e.limiter = l }
}

// WithWorkers bounds concurrent provider calls
func WithWorkers(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.workers = n
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) { e.logger = logging.Component(l, "extract") }
}

// New creates an extractor around provider
func New(provider llm.Provider, opts ...Option) (*Extractor, error) {
	if provider == nil {
		return nil, errors.New("extract: no LLM provider configured")
	}
	e := &Extractor{
		provider: provider,
		workers:  1,
		logger:   logging.Component(nil, "extract"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// PaperResult is the outcome for one paper
type PaperResult struct {
	PMID    string               `json:"pmid"`
	Items   []model.EvidenceItem `json:"items,omitempty"`
	Claims  int                  `json:"claims"`            // Claims in the model response
	Dropped int                  `json:"dropped,omitempty"` // Claims without text or domain
	Cached  bool                 `json:"cached,omitempty"`
	Skipped string               `json:"skipped,omitempty"`
	Err     error                `json:"-"`

	sources []*ExtractedClaim // Claim behind each item
}

// Result collects per-paper outcomes in input order
type Result struct {
	Papers []PaperResult `json:"papers"`
}

// Items returns every evidence item, paper by paper
func (r *Result) Items() []model.EvidenceItem {
	var items []model.EvidenceItem
	for _, p := range r.Papers {
		items = append(items, p.Items...)
	}
	return items
}

// Failed counts papers whose extraction errored
func (r *Result) Failed() int {
	n := 0
	for _, p := range r.Papers {
		if p.Err != nil {
			n++
		}
	}
	return n
}

// Extract runs every paper through the provider. Per-paper failures are
// recorded in the result and do not stop the others; the returned error is
// only set when ctx is cancelled. Duplicate PMIDs are extracted once.
func (e *Extractor) Extract(ctx context.Context, papers []model.Paper) (*Result, error) {
	unique := make([]model.Paper, 0, len(papers))
	seen := make(map[string]bool, len(papers))
	for _, p := range papers {
		if seen[p.PMID] {
			continue
		}
		seen[p.PMID] = true
		unique = append(unique, p)
	}

	results := make([]PaperResult, len(unique))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, p := range unique {
		g.Go(func() error {
			results[i] = e.ExtractPaper(gctx, p)
			return nil
		})
	}
	_ = g.Wait()
	weighReplication(results)

	res := &Result{Papers: results}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

// ExtractPaper extracts and maps the claims of a single paper
func (e *Extractor) ExtractPaper(ctx context.Context, p model.Paper) PaperResult {
	out := PaperResult{PMID: p.PMID}
	if strings.TrimSpace(p.Abstract) == "" {
		out.Skipped = "no abstract"
		return out
	}

	resp, cached, err := e.complete(ctx, p)
	if err != nil {
		e.logger.Warn("extraction failed", zap.String("pmid", p.PMID), zap.Error(err))
		out.Err = err
		return out
	}
	out.Cached = cached
	out.Claims = len(resp.Claims)
	out.Items, out.sources, out.Dropped = e.toEvidence(p, resp)

	e.logger.Debug("paper extracted",
		zap.String("pmid", p.PMID),
		zap.Int("claims", out.Claims),
		zap.Int("items", len(out.Items)),
		zap.Int("dropped", out.Dropped),
		zap.Bool("cached", cached))
	return out
}

func (e *Extractor) complete(ctx context.Context, p model.Paper) (*Response, bool, error) {
	key := cache.Key("extract", promptVersion, e.provider.Name(), e.model, p.PMID)
	if e.cache != nil {
		var resp Response
		if cache.GetJSON(e.cache, key, &resp) {
			return &resp, true, nil
		}
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx, LimiterKey); err != nil {
			return nil, false, err
		}
	}

	completion, err := e.provider.Complete(ctx, llm.CompletionRequest{
		System: systemPrompt,
		Prompt: BuildPrompt(p),
		JSON:   true,
	})
	if err != nil {
		return nil, false, fmt.Errorf("extract PMID %s: %w", p.PMID, err)
	}

	resp, err := ParseResponse(completion.Text)
	if err != nil {
		return nil, false, fmt.Errorf("extract PMID %s: %w", p.PMID, err)
	}

	if e.cache != nil {
		if err := cache.SetJSON(e.cache, key, resp, e.cacheTTL); err != nil {
			e.logger.Warn("cache write failed", zap.String("pmid", p.PMID), zap.Error(err))
		}
	}
	return resp, false, nil
}

// ToEvidence maps the claims of one response onto evidence items. Claims
// without text, or without any domain after tagging, are dropped.
func (e *Extractor) ToEvidence(p model.Paper, resp *Response) ([]model.EvidenceItem, int) {
	items, _, dropped := e.toEvidence(p, resp)
	return items, dropped
}

func (e *Extractor) toEvidence(p model.Paper, resp *Response) ([]model.EvidenceItem, []*ExtractedClaim, int) {
	var (
		items   []model.EvidenceItem
		sources []*ExtractedClaim
		dropped int
	)
	for i := range resp.Claims {
		c := &resp.Claims[i]
		text := strings.TrimSpace(c.ClaimText)
		if text == "" {
			dropped++
			continue
		}

		item := model.EvidenceItem{
			SourceID:       SourceID(p.PMID, i+1),
			Prong:          ProngFor(c.StudyDesign),
			Polarity:       polarity(c),
			Weight:         Weight(c, 0),
			Title:          oneLine(p.Title),
			Text:           text,
			Keywords:       keywords(c),
			ExpectedEffect: effects(c),
		}
		e.assignDomains(&item, c)
		if !item.Tagged() {
			dropped++
			continue
		}
		items = append(items, item)
		sources = append(sources, c)
	}
	return items, sources, dropped
}

// weighReplication re-weighs items once the whole run is known: a claim
// whose text nearly matches other claims of the run earns the cluster bonus.
func weighReplication(results []PaperResult) {
	type ref struct {
		paper, item int
		tokens      map[string]bool
	}
	var refs []ref
	for p := range results {
		for i := range results[p].Items {
			refs = append(refs, ref{p, i, dedup.Tokens([]string{results[p].Items[i].Text})})
		}
	}

	for a := range refs {
		members := 0
		for b := range refs {
			if a != b && dedup.Jaccard(refs[a].tokens, refs[b].tokens) > clusterSimilarity {
				members++
			}
		}
		if members == 0 {
			continue
		}
		r := refs[a]
		results[r.paper].Items[r.item].Weight = Weight(results[r.paper].sources[r.item], members)
	}
}

// SourceID names the n-th claim of a paper, e.g. PMID-38012345-C01
func SourceID(pmid string, n int) string {
	return fmt.Sprintf("PMID-%s-C%02d", pmid, n)
}

// assignDomains keeps the model's tags that name a known domain. The tagger
// picks the primary among them, or supplies all tags when the model gave
// none.
func (e *Extractor) assignDomains(item *model.EvidenceItem, c *ExtractedClaim) {
	var tags []model.Domain
	for _, raw := range c.DomainTags {
		if d, ok := model.ParseDomain(raw); ok {
			tags = append(tags, d)
		}
	}
	tags = model.NormalizeDomains("", tags)

	var primary model.Domain
	if e.tagger != nil {
		result := e.tagger.Tag(item.Title + " " + item.Text)
		if len(tags) == 0 {
			tags = result.Tags
			primary = result.Primary
		} else {
			for _, d := range tags {
				if d == result.Primary {
					primary = d
				}
			}
		}
	}
	if primary == "" && len(tags) > 0 {
		primary = tags[0]
	}

	item.DomainPrimary = primary
	item.DomainTags = model.NormalizeDomains(primary, tags)
}

func polarity(c *ExtractedClaim) model.Polarity {
	if NormalizeDesign(c.NoveltyFlag) == "contradicts_prior" {
		return model.PolarityContradicts
	}
	return model.PolaritySupports
}

func keywords(c *ExtractedClaim) []string {
	var kws []string
	for _, t := range []Text{c.Target, c.Intervention} {
		if s := t.String(); s != "" {
			kws = append(kws, s)
		}
	}
	if len(kws) == 0 {
		return nil
	}
	return model.NormalizeKeywords(kws)
}

func effects(c *ExtractedClaim) []model.Effect {
	target := strings.ToLower(c.Target.String())
	if target == "" {
		return nil
	}
	switch dir := model.Direction(strings.ToLower(strings.TrimSpace(c.Direction))); dir {
	case model.DirectionIncrease, model.DirectionDecrease:
		return []model.Effect{{Target: target, Direction: dir}}
	}
	return nil
}
