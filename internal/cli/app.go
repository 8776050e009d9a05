package cli

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/ppiankov/convergence/internal/cache"
	"github.com/ppiankov/convergence/internal/extract"
	"github.com/ppiankov/convergence/internal/ingest"
	"github.com/ppiankov/convergence/internal/ledger"
	"github.com/ppiankov/convergence/internal/llm"
	"github.com/ppiankov/convergence/internal/model"
	"github.com/ppiankov/convergence/internal/pipeline"
	"github.com/ppiankov/convergence/internal/store"
	"github.com/ppiankov/convergence/internal/tagger"
	"github.com/ppiankov/convergence/internal/worker"
)

const rule = "═══════════════════════════════════════════════════════════"

// app bundles the collaborators a command works with
type app struct {
	cfg    *model.Config
	store  *store.Store
	engine *ledger.Engine
	tagger *tagger.Tagger
	cache  cache.Cache
	logger *zap.Logger
}

// openApp opens the ledger store and builds the engine from the loaded config
func openApp() (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	if cfg.Cache.Enabled {
		a.cache = cache.NewLayeredCache(cfg.Cache.MemoryTTL, cfg.Cache.Dir, cfg.Cache.DiskTTL)
	}

	tagOpts := []tagger.Option{tagger.WithLogger(logger)}
	if a.cache != nil {
		tagOpts = append(tagOpts, tagger.WithCache(a.cache, cfg.Cache.MemoryTTL))
	}
	t, err := tagger.New(cfg.Domains, tagOpts...)
	if err != nil {
		return nil, fmt.Errorf("build domain tagger: %w", err)
	}
	a.tagger = t

	s, err := store.Open(cfg.Store.Path, store.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("open ledger %s: %w", cfg.Store.Path, err)
	}
	a.store = s

	opts := ledger.OptionsFromConfig(cfg)
	opts.Tagger = t
	opts.Logger = logger
	a.engine = ledger.New(s, opts)
	return a, nil
}

// Close releases the store
func (a *app) Close() error {
	return a.store.Close()
}

// pipeline builds a pipeline for apply and render. withSources also wires
// the PubMed client and the LLM extractor for a full run.
func (a *app) pipeline(withSources bool) (*pipeline.Pipeline, error) {
	c := pipeline.Components{
		Ledger:   a.engine,
		Claims:   a.store,
		Renderer: pipeline.NewRenderer(os.Stderr, a.cfg.Output.Verbose),
		Logger:   a.logger,
	}
	if !withSources {
		return pipeline.NewPipeline(a.cfg, c), nil
	}

	rl := a.cfg.RateLimiting
	limiter := worker.NewLimiter(rl.NCBIRequestsPerSecond, rl.BurstSize)
	limiter.SetRate(extract.LimiterKey, worker.PerMinute(rl.LLMRequestsPerMinute), rl.BurstSize)

	provider, err := llm.NewProvider(llm.ConfigFromModel(a.cfg.LLM), a.logger)
	if err != nil {
		return nil, fmt.Errorf("create LLM provider: %w", err)
	}
	if provider == nil {
		return nil, fmt.Errorf("no LLM provider configured: set llm.provider (openai, anthropic, ollama, gemini)")
	}

	opts := []extract.Option{
		extract.WithModel(a.cfg.LLM.Model),
		extract.WithTagger(a.tagger),
		extract.WithLimiter(limiter),
		extract.WithWorkers(a.cfg.Concurrency.ExtractionWorkers),
		extract.WithLogger(a.logger),
	}
	if a.cache != nil {
		opts = append(opts, extract.WithCache(a.cache, a.cfg.Cache.DiskTTL))
	}
	extractor, err := extract.New(provider, opts...)
	if err != nil {
		return nil, err
	}

	c.Source = ingest.NewClient(a.cfg.PubMed, limiter, a.logger)
	c.Extractor = extractor
	return pipeline.NewPipeline(a.cfg, c), nil
}

// withApp opens the app for the duration of fn
func withApp(fn func(a *app) error) (err error) {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close ledger: %w", closeErr)
		}
	}()
	return fn(a)
}
