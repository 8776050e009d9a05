// Package ledger is the claim convergence engine: it folds evidence into
// claims, keeps tiers and contest status current, and projects the ledger
// into its markdown and JSON views.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/convergence/internal/dedup"
	"github.com/ppiankov/convergence/internal/logging"
	"github.com/ppiankov/convergence/internal/model"
	"github.com/ppiankov/convergence/internal/score"
	"github.com/ppiankov/convergence/internal/store"
	"github.com/ppiankov/convergence/internal/tagger"
)

// LeaseName is the store lease every writing run holds
const LeaseName = "ledger"

// Store is the subset of the claim record store the engine needs
type Store interface {
	Get(ctx context.Context, id string) (*model.Claim, error)
	List(ctx context.Context, f store.Filter) ([]*model.Claim, error)
	Update(ctx context.Context, fn func(*store.Tx) error) error
	Audit(ctx context.Context, f store.AuditFilter) ([]model.AuditEntry, error)
	AcquireLease(ctx context.Context, name, holder string, ttl time.Duration) error
	ReleaseLease(ctx context.Context, name, holder string) error
}

// Options configures an Engine. Zero values fall back to defaults.
type Options struct {
	SimilarityThreshold  float64
	MaterialityThreshold float64
	LeaseTTL             time.Duration
	LeaseWait            time.Duration // 0 fails fast on a held lease
	LeaseBackoff         time.Duration
	Tagger               *tagger.Tagger // Tags untagged items; nil leaves them skipped
	Logger               *zap.Logger
	Now                  func() time.Time
}

// OptionsFromConfig maps the runtime config onto engine options
func OptionsFromConfig(cfg *model.Config) Options {
	return Options{
		SimilarityThreshold:  cfg.Scoring.SimilarityThreshold,
		MaterialityThreshold: cfg.Scoring.MaterialityThreshold,
		LeaseTTL:             cfg.Store.LeaseTTL,
		LeaseWait:            cfg.Store.LeaseWait,
		LeaseBackoff:         cfg.Store.LeaseBackoff,
	}
}

// Engine applies evidence to the ledger. Each run holds the store lease, so
// at most one engine mutates a ledger at a time.
type Engine struct {
	store    Store
	resolver *dedup.Resolver
	scorer   *score.Scorer
	tagger   *tagger.Tagger
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// New creates an engine over s
func New(s Store, opts Options) *Engine {
	if opts.MaterialityThreshold <= 0 {
		opts.MaterialityThreshold = score.DefaultMateriality
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 15 * time.Minute
	}
	if opts.LeaseBackoff <= 0 {
		opts.LeaseBackoff = 500 * time.Millisecond
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		store:    s,
		resolver: dedup.NewResolver(opts.SimilarityThreshold),
		scorer:   score.NewScorer().WithClock(now),
		tagger:   opts.Tagger,
		opts:     opts,
		logger:   logging.Component(opts.Logger, "ledger"),
		now:      now,
	}
}

// errNothingApplied rolls back an item transaction that changed nothing
var errNothingApplied = errors.New("evidence already applied")

// Apply folds items into the ledger in input order, one transaction per
// item. A failing item is reported and skipped; the batch continues. When
// ctx is cancelled, or the lease is lost to another run, the run stops
// between items and committed progress stands. The returned error is reserved for run-level failures such as a
// held lease.
func (e *Engine) Apply(ctx context.Context, items []model.EvidenceItem) (*model.BatchReport, error) {
	report := &model.BatchReport{
		RunID:     uuid.NewString(),
		StartedAt: e.now().UTC(),
		Outcomes:  []model.ItemOutcome{},
	}
	logger := e.logger.With(zap.String("run_id", report.RunID))

	err := e.withLease(ctx, report.RunID, func() error {
		claims, err := e.store.List(ctx, store.Filter{})
		if err != nil {
			return fmt.Errorf("load claims: %w", err)
		}
		run := newRunState(claims)
		logger.Info("batch started", zap.Int("items", len(items)), zap.Int("claims", len(claims)))

		for i := range items {
			if ctx.Err() != nil {
				report.Aborted = true
				logger.Warn("batch cancelled", zap.Int("processed", i), zap.Int("remaining", len(items)-i))
				break
			}
			outcome := e.applyItem(ctx, report.RunID, items[i], run)
			report.Add(outcome)
			e.logOutcome(logger, outcome)
			if errors.Is(outcome.Err, model.ErrConcurrentUpdate) {
				report.Aborted = true
				logger.Error("ledger lease lost; stopping batch",
					zap.Int("processed", i+1), zap.Int("remaining", len(items)-i-1), zap.Error(outcome.Err))
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	report.FinishedAt = e.now().UTC()
	logger.Info("batch finished",
		zap.Int("created", report.Summary.Created),
		zap.Int("updated", report.Summary.Updated),
		zap.Int("skipped", report.Summary.Skipped),
		zap.Int("failed", report.Summary.Failed),
		zap.Int("promotions", report.Summary.Promotions),
		zap.Int("demotions", report.Summary.Demotions),
		zap.Bool("aborted", report.Aborted))
	return report, nil
}

// runState is the in-memory claim set of one run
type runState struct {
	claims []*model.Claim
	byID   map[string]int
}

func newRunState(claims []*model.Claim) *runState {
	r := &runState{byID: make(map[string]int, len(claims))}
	for _, c := range claims {
		r.put(c)
	}
	return r
}

func (r *runState) put(c *model.Claim) {
	if i, ok := r.byID[c.ID]; ok {
		r.claims[i] = c
		return
	}
	r.byID[c.ID] = len(r.claims)
	r.claims = append(r.claims, c)
}

func (r *runState) get(id string) (*model.Claim, bool) {
	i, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return r.claims[i], true
}

func (e *Engine) applyItem(ctx context.Context, runID string, item model.EvidenceItem, run *runState) model.ItemOutcome {
	outcome := model.ItemOutcome{SourceID: item.SourceID}

	if err := item.Validate(); err != nil {
		outcome.Kind = model.OutcomeSkipped
		outcome.Reason = err.Error()
		return outcome
	}
	if !item.Tagged() && e.tagger != nil {
		e.tagger.TagItem(&item)
	}

	var (
		saved     *model.Claim
		contested bool
	)
	err := e.store.Update(ctx, func(tx *store.Tx) error {
		if err := tx.RenewLease(LeaseName, runID, e.opts.LeaseTTL); err != nil {
			return err
		}
		// an item already applied on this prong stays with the claim that
		// holds it, whatever the resolver would pick today
		holder, applied, err := tx.AppliedClaimFor(item.SourceID, item.Prong)
		if err != nil {
			return err
		}
		if applied {
			outcome.ClaimID = holder
			if c, found := run.get(holder); found {
				outcome.TierBefore = c.Tier
			}
			return errNothingApplied
		}

		minter := dedup.MinterFunc(func(context.Context) (string, error) { return tx.NextClaimID() })
		res, err := e.resolver.Resolve(ctx, &item, run.claims, minter)
		if err != nil {
			return err
		}
		outcome.ClaimID = res.ClaimID
		outcome.Similarity = res.Similarity

		var (
			working *model.Claim
			entries []model.AuditEntry
		)
		if res.Created {
			working = newClaimFromItem(res.ClaimID, &item)
			entries = append(entries, e.entry(runID, model.ActionInit, working.ID,
				fmt.Sprintf("created from %s (%s)", item.SourceID, working.DomainPrimary)))
		} else {
			// read through the transaction so the update starts from what is
			// committed, not from the run's copy
			if working, err = tx.Get(res.ClaimID); err != nil {
				return fmt.Errorf("resolved claim: %w", err)
			}
		}
		outcome.TierBefore = working.Tier

		update := e.scorer.Apply(working, item.Prong, []model.EvidenceItem{item})
		if !update.Changed() {
			return errNothingApplied
		}
		update.ApplyTo(working)
		entries = append(entries, e.entry(runID, model.ActionScore, working.ID,
			fmt.Sprintf("%s %s weight %.2f from %s; %s; convergence %d",
				item.Polarity, item.Prong, item.Weight, item.SourceID, update.Formula, working.ConvergenceScore())))

		if working.Status == model.StatusProvisional {
			if c, ok := score.ProngContradiction(working, item.Prong, e.opts.MaterialityThreshold); ok {
				working.Status = model.StatusContested
				contested = true
				entries = append(entries, e.entry(runID, model.ActionContest, working.ID,
					fmt.Sprintf("%s; triggered by %s", c, item.SourceID)))
			}
		}

		before := working.Tier
		working.Tier = score.Transition(before, score.Classify(working.ProngScores), working.Status)
		if action, ok := tierAction(before, working.Tier); ok {
			entries = append(entries, e.entry(runID, action, working.ID,
				fmt.Sprintf("%s -> %s (score %d, trigger %s)", before, working.Tier, working.ConvergenceScore(), item.SourceID)))
		}

		if err := score.CheckInvariants(working); err != nil {
			return err
		}

		if saved, err = tx.Put(working); err != nil {
			return err
		}
		for _, entry := range entries {
			if _, err := tx.AppendAudit(entry); err != nil {
				return err
			}
		}
		if res.Created {
			outcome.Kind = model.OutcomeCreated
		} else {
			outcome.Kind = model.OutcomeUpdated
		}
		return nil
	})

	switch {
	case err == nil:
		run.put(saved)
		outcome.TierAfter = saved.Tier
		outcome.Contested = contested
	case errors.Is(err, errNothingApplied):
		outcome.Kind = model.OutcomeSkipped
		outcome.Reason = fmt.Sprintf("%s already applied to %s prong of %s", item.SourceID, item.Prong, outcome.ClaimID)
		outcome.TierAfter = outcome.TierBefore
	case errors.Is(err, model.ErrTaggingRequired):
		outcome.Kind = model.OutcomeSkipped
		outcome.Reason = "no domain tag matched; tag the item and resubmit"
		outcome.Err = err
	default:
		outcome.Kind = model.OutcomeFailed
		outcome.Reason = err.Error()
		outcome.Err = err
		outcome.TierAfter = ""
	}
	return outcome
}

func (e *Engine) logOutcome(logger *zap.Logger, o model.ItemOutcome) {
	fields := []zap.Field{
		zap.String("source_id", o.SourceID),
		zap.String("claim_id", o.ClaimID),
		zap.String("outcome", string(o.Kind)),
	}
	switch {
	case errors.Is(o.Err, model.ErrInvariantViolation):
		logger.Error("invariant violated; claim update aborted", append(fields, zap.Error(o.Err))...)
	case o.Kind == model.OutcomeFailed:
		logger.Warn("evidence item failed", append(fields, zap.String("reason", o.Reason))...)
	case o.Kind == model.OutcomeSkipped:
		logger.Info("evidence item skipped", append(fields, zap.String("reason", o.Reason))...)
	case o.TierBefore != o.TierAfter && o.TierBefore != "":
		logger.Info("tier changed", append(fields,
			zap.String("from", string(o.TierBefore)),
			zap.String("to", string(o.TierAfter)))...)
	default:
		logger.Debug("evidence item applied", fields...)
	}
}

// withLease runs fn while holding the ledger lease. A held lease is retried
// with doubling backoff until LeaseWait elapses.
func (e *Engine) withLease(ctx context.Context, holder string, fn func() error) error {
	if err := e.acquireLease(ctx, holder); err != nil {
		return err
	}
	defer func() {
		// release even when ctx was cancelled mid-run
		if err := e.store.ReleaseLease(context.WithoutCancel(ctx), LeaseName, holder); err != nil {
			e.logger.Warn("release lease failed", zap.String("holder", holder), zap.Error(err))
		}
	}()
	return fn()
}

func (e *Engine) acquireLease(ctx context.Context, holder string) error {
	deadline := time.Now().Add(e.opts.LeaseWait)
	backoff := e.opts.LeaseBackoff

	for attempt := 1; ; attempt++ {
		err := e.store.AcquireLease(ctx, LeaseName, holder, e.opts.LeaseTTL)
		if err == nil {
			return nil
		}
		if !errors.Is(err, model.ErrConcurrentUpdate) {
			return fmt.Errorf("acquire lease: %w", err)
		}
		if time.Now().Add(backoff).After(deadline) {
			return err
		}

		e.logger.Info("ledger busy, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (e *Engine) entry(runID string, action model.Action, claimID, detail string) model.AuditEntry {
	return model.AuditEntry{
		Timestamp: e.now().UTC(),
		RunID:     runID,
		Action:    action,
		ClaimID:   claimID,
		Detail:    detail,
	}
}

// tierAction maps a tier change to its audit action
func tierAction(before, after model.Tier) (model.Action, bool) {
	switch {
	case after.Rank() > before.Rank():
		return model.ActionPromote, true
	case after.Rank() < before.Rank():
		return model.ActionDemote, true
	}
	return "", false
}

// newClaimFromItem mints a claim from the first evidence that matched nothing
func newClaimFromItem(id string, item *model.EvidenceItem) *model.Claim {
	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = strings.Join(model.NormalizeKeywords(item.Keywords), ", ")
	}
	if title == "" {
		title = item.SourceID
	}
	c := &model.Claim{
		ID:             id,
		Title:          title,
		Description:    strings.TrimSpace(item.Text),
		DomainPrimary:  item.Primary(),
		DomainTags:     item.DomainTags,
		Keywords:       item.Keywords,
		ExpectedEffect: append([]model.Effect(nil), item.ExpectedEffect...),
		Tier:           model.TierProvisional,
		Status:         model.StatusProvisional,
	}
	c.NormalizeTags()
	return c
}
