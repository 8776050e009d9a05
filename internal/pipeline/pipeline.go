// Package pipeline chains the daily run: PubMed search per domain, claim
// extraction, evidence application and ledger rendering.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/convergence/internal/extract"
	"github.com/ppiankov/convergence/internal/logging"
	"github.com/ppiankov/convergence/internal/model"
	"github.com/ppiankov/convergence/internal/store"
)

// PaperSource finds and fetches papers for one query
type PaperSource interface {
	SearchAndFetch(ctx context.Context, query string, max int) ([]model.Paper, error)
}

// ClaimExtractor turns papers into evidence items
type ClaimExtractor interface {
	Extract(ctx context.Context, papers []model.Paper) (*extract.Result, error)
}

// EvidenceApplier folds evidence into the ledger
type EvidenceApplier interface {
	Apply(ctx context.Context, items []model.EvidenceItem) (*model.BatchReport, error)
}

// ClaimLister reads the current claim set for rendering
type ClaimLister interface {
	List(ctx context.Context, f store.Filter) ([]*model.Claim, error)
}

// Components are the collaborators of a pipeline. Source and Extractor may
// be nil for apply-only use.
type Components struct {
	Source    PaperSource
	Extractor ClaimExtractor
	Ledger    EvidenceApplier
	Claims    ClaimLister
	Renderer  *Renderer
	Logger    *zap.Logger
	Now       func() time.Time
}

// Pipeline orchestrates a complete run
type Pipeline struct {
	Components
	config *model.Config
	logger *zap.Logger
}

// NewPipeline creates a pipeline with the given configuration
func NewPipeline(cfg *model.Config, c Components) *Pipeline {
	if c.Now == nil {
		c.Now = time.Now
	}
	return &Pipeline{
		Components: c,
		config:     cfg,
		logger:     logging.Component(c.Logger, "pipeline"),
	}
}

// QueryResult is the ingestion outcome for one domain query
type QueryResult struct {
	Domain model.Domain `json:"domain"`
	Query  string       `json:"query"`
	Papers int          `json:"papers"`
	Err    error        `json:"-"`
}

// RunResult is the complete outcome of a run
type RunResult struct {
	Queries    []QueryResult      `json:"queries"`
	Papers     int                `json:"papers"`
	Extraction *extract.Result    `json:"extraction,omitempty"`
	Report     *model.BatchReport `json:"report,omitempty"`
}

// FailedQueries counts queries whose search or fetch failed
func (r *RunResult) FailedQueries() int {
	n := 0
	for _, q := range r.Queries {
		if q.Err != nil {
			n++
		}
	}
	return n
}

// ErrNoSource means the pipeline was built without PubMed or LLM access
var ErrNoSource = errors.New("run needs both a paper source and an LLM extractor")

// Run searches every domain query, extracts claims from the papers found and
// applies them. A failing query is recorded and skipped. Rendering is left to
// the caller so apply-only runs share it.
func (p *Pipeline) Run(ctx context.Context) (*RunResult, error) {
	if p.Source == nil || p.Extractor == nil {
		return nil, ErrNoSource
	}

	res := &RunResult{}
	var papers []model.Paper
	for _, d := range p.config.Domains {
		if d.Query == "" {
			continue
		}
		found, err := p.Source.SearchAndFetch(ctx, d.Query, p.config.PubMed.MaxResults)
		q := QueryResult{Domain: d.Name, Query: d.Query, Papers: len(found), Err: err}
		res.Queries = append(res.Queries, q)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			p.logger.Warn("query failed", zap.String("domain", string(d.Name)), zap.Error(err))
			continue
		}
		papers = append(papers, found...)
	}
	res.Papers = len(papers)
	p.logger.Info("ingestion finished",
		zap.Int("queries", len(res.Queries)),
		zap.Int("failed", res.FailedQueries()),
		zap.Int("papers", len(papers)))

	extraction, err := p.Extractor.Extract(ctx, papers)
	res.Extraction = extraction
	if err != nil {
		return res, fmt.Errorf("extract: %w", err)
	}

	report, err := p.Apply(ctx, extraction.Items())
	res.Report = report
	if err != nil {
		return res, err
	}
	return res, nil
}

// Apply folds items into the ledger
func (p *Pipeline) Apply(ctx context.Context, items []model.EvidenceItem) (*model.BatchReport, error) {
	report, err := p.Ledger.Apply(ctx, items)
	if err != nil {
		return nil, fmt.Errorf("apply: %w", err)
	}
	return report, nil
}

// Render writes the ledger views to the configured output paths
func (p *Pipeline) Render(ctx context.Context) error {
	return p.RenderTo(ctx, p.config.Output.LedgerMarkdown, p.config.Output.LedgerJSON)
}

// RenderTo writes the ledger views to the given paths
func (p *Pipeline) RenderTo(ctx context.Context, mdPath, jsonPath string) error {
	claims, err := p.Claims.List(ctx, store.Filter{})
	if err != nil {
		return fmt.Errorf("list claims: %w", err)
	}
	if err := p.Renderer.RenderLedger(claims, p.Now().UTC(), mdPath, jsonPath); err != nil {
		return err
	}
	p.logger.Info("ledger rendered",
		zap.Int("claims", len(claims)),
		zap.String("markdown", mdPath),
		zap.String("json", jsonPath))
	return nil
}
