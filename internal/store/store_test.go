package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/convergence/internal/model"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func openTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	s, err := Open(filepath.Join(t.TempDir(), "ledger.db"), WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, clock
}

func testClaim(id string, domain model.Domain, keywords ...string) *model.Claim {
	return &model.Claim{
		ID:            id,
		Title:         "claim " + id,
		DomainPrimary: domain,
		Keywords:      keywords,
		ExpectedEffect: []model.Effect{
			{Target: "lifespan", Direction: model.DirectionIncrease},
		},
		Tier:   model.TierProvisional,
		Status: model.StatusProvisional,
	}
}

func initEntry(id string) model.AuditEntry {
	return model.AuditEntry{Action: model.ActionInit, ClaimID: id, Detail: "created"}
}

func TestGet_NotFound(t *testing.T) {
	s, _ := openTestStore(t)

	_, err := s.Get(context.Background(), "HYP-0042")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpsert_RoundTrip(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	c := testClaim("HYP-0001", model.DomainSenescence, "senolytic", "p16ink4a")
	c.DomainTags = []model.Domain{model.DomainEpigenetic}
	c.ProngScores = model.ProngScores{Observational: 3}
	c.Applied = []model.AppliedEvidence{{
		SourceID: "PMID-1", Prong: model.ProngObservational,
		Polarity: model.PolaritySupports, Weight: 3, AppliedAt: clock.Now(),
	}}

	saved, err := s.Upsert(ctx, c, initEntry(c.ID))
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), saved.LastUpdated)
	assert.Equal(t, []model.Domain{model.DomainEpigenetic, model.DomainSenescence}, saved.DomainTags,
		"primary is added and tags follow declaration order")

	got, err := s.Get(ctx, "HYP-0001")
	require.NoError(t, err)
	if diff := cmp.Diff(saved, got); diff != "" {
		t.Errorf("stored claim mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"PMID-1"}, got.EvidenceFor)
	assert.Equal(t, 3, got.ConvergenceScore())
}

func TestUpsert_RequiresAuditEntry(t *testing.T) {
	s, _ := openTestStore(t)

	_, err := s.Upsert(context.Background(), testClaim("HYP-0001", model.DomainComparative))
	require.Error(t, err)

	_, err = s.Get(context.Background(), "HYP-0001")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestUpsert_ReplaceBumpsLastUpdated(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	c := testClaim("HYP-0001", model.DomainMitochondrial, "nad+")
	first, err := s.Upsert(ctx, c, initEntry(c.ID))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	c.ProngScores.Perturbation = 2
	second, err := s.Upsert(ctx, c, model.AuditEntry{Action: model.ActionScore, ClaimID: c.ID})
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.True(t, second.LastUpdated.After(first.LastUpdated))
	assert.Equal(t, 2, second.ProngScores.Perturbation)
}

func TestList_OrderAndFilters(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	claims := []*model.Claim{
		testClaim("HYP-0003", model.DomainComparative),
		testClaim("HYP-0002", model.DomainEpigenetic),
		testClaim("HYP-0004", model.DomainSenescence),
		testClaim("HYP-0001", model.DomainComparative),
	}
	claims[2].Status = model.StatusContested
	claims[2].DomainTags = []model.Domain{model.DomainComparative}
	for _, c := range claims {
		_, err := s.Upsert(ctx, c, initEntry(c.ID))
		require.NoError(t, err)
	}

	all, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"HYP-0002", "HYP-0004", "HYP-0001", "HYP-0003"}, ids(all))

	contested, err := s.List(ctx, Filter{Status: model.StatusContested})
	require.NoError(t, err)
	assert.Equal(t, []string{"HYP-0004"}, ids(contested))

	comparative, err := s.List(ctx, Filter{Domain: model.DomainComparative})
	require.NoError(t, err)
	assert.Equal(t, []string{"HYP-0004", "HYP-0001", "HYP-0003"}, ids(comparative))
}

func TestUpdate_RollbackLeavesNoAudit(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.Update(ctx, func(tx *Tx) error {
		c := testClaim("HYP-0001", model.DomainEpigenetic)
		if _, err := tx.Put(c); err != nil {
			return err
		}
		if _, err := tx.AppendAudit(initEntry(c.ID)); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Get(ctx, "HYP-0001")
	assert.ErrorIs(t, err, model.ErrNotFound)

	entries, err := s.Audit(ctx, AuditFilter{})
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRecordEvidence_Idempotent(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	c := testClaim("HYP-0001", model.DomainEpigenetic)
	_, err := s.Upsert(ctx, c, initEntry(c.ID))
	require.NoError(t, err)

	a := model.AppliedEvidence{SourceID: "PMID-7", Prong: model.ProngClinical, Polarity: model.PolaritySupports, Weight: 2}
	for i := 0; i < 2; i++ {
		require.NoError(t, s.Update(ctx, func(tx *Tx) error {
			return tx.RecordEvidence(c.ID, a)
		}))
	}

	got, err := s.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, got.Applied, 1)
}

func TestNextClaimID(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"HYP-0001", "HYP-0012"} {
		_, err := s.Upsert(ctx, testClaim(id, model.DomainEpigenetic), initEntry(id))
		require.NoError(t, err)
	}

	var minted []string
	for i := 0; i < 2; i++ {
		require.NoError(t, s.Update(ctx, func(tx *Tx) error {
			id, err := tx.NextClaimID()
			minted = append(minted, id)
			return err
		}))
	}
	assert.Equal(t, []string{"HYP-0013", "HYP-0014"}, minted, "reserved ids are never handed out twice")
}

func TestAudit_OrderAndFilter(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	c := testClaim("HYP-0001", model.DomainEpigenetic)
	_, err := s.Upsert(ctx, c, initEntry(c.ID))
	require.NoError(t, err)
	clock.Advance(24 * time.Hour)
	_, err = s.Upsert(ctx, c,
		model.AuditEntry{Action: model.ActionScore, ClaimID: c.ID, RunID: "run-1"},
		model.AuditEntry{Action: model.ActionPromote, ClaimID: c.ID, RunID: "run-1"},
	)
	require.NoError(t, err)

	all, err := s.Audit(ctx, AuditFilter{ClaimID: c.ID})
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].Seq, all[i-1].Seq)
	}

	recent, err := s.Audit(ctx, AuditFilter{Since: clock.Now()})
	require.NoError(t, err)
	assert.Len(t, recent, 2)

	promotions, err := s.Audit(ctx, AuditFilter{Action: model.ActionPromote})
	require.NoError(t, err)
	require.Len(t, promotions, 1)
	assert.Equal(t, "run-1", promotions[0].RunID)
}

func TestLease(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AcquireLease(ctx, "ledger", "run-a", time.Minute))
	require.NoError(t, s.AcquireLease(ctx, "ledger", "run-a", time.Minute), "re-entrant for the same holder")

	err := s.AcquireLease(ctx, "ledger", "run-b", time.Minute)
	assert.ErrorIs(t, err, model.ErrConcurrentUpdate)

	clock.Advance(2 * time.Minute)
	require.NoError(t, s.AcquireLease(ctx, "ledger", "run-b", time.Minute), "expired lease is taken over")

	require.NoError(t, s.ReleaseLease(ctx, "ledger", "run-a"), "stale holder release is a no-op")
	lease, err := s.CurrentLease(ctx, "ledger")
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "run-b", lease.Holder)

	require.NoError(t, s.ReleaseLease(ctx, "ledger", "run-b"))
	lease, err = s.CurrentLease(ctx, "ledger")
	require.NoError(t, err)
	assert.Nil(t, lease)
}

func TestDumpLoad(t *testing.T) {
	src, clock := openTestStore(t)
	ctx := context.Background()

	c := testClaim("HYP-0003", model.DomainNutrientSensing, "mtor", "rapamycin")
	c.ProngScores = model.ProngScores{Perturbation: 4}
	c.Applied = []model.AppliedEvidence{{
		SourceID: "PMID-9", Prong: model.ProngPerturbation,
		Polarity: model.PolaritySupports, Weight: 4, AppliedAt: clock.Now(),
	}}
	_, err := src.Upsert(ctx, c, initEntry(c.ID))
	require.NoError(t, err)
	require.NoError(t, src.Update(ctx, func(tx *Tx) error {
		_, err := tx.NextClaimID()
		return err
	}))

	snap, err := src.Dump(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, snap.NextID)

	dst, _ := openTestStore(t)
	_, err = dst.Upsert(ctx, testClaim("HYP-0099", model.DomainEpigenetic), initEntry("HYP-0099"))
	require.NoError(t, err)
	require.NoError(t, dst.Load(ctx, snap))

	again, err := dst.Dump(ctx)
	require.NoError(t, err)
	if diff := cmp.Diff(snap, again, cmpopts.IgnoreFields(Snapshot{}, "ExportedAt")); diff != "" {
		t.Errorf("snapshot did not survive load (-want +got):\n%s", diff)
	}
}

func ids(claims []*model.Claim) []string {
	out := make([]string, 0, len(claims))
	for _, c := range claims {
		out = append(out, c.ID)
	}
	return out
}

func TestAppliedClaimFor(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"HYP-0002", "HYP-0001"} {
		_, err := s.Upsert(ctx, testClaim(id, model.DomainSenescence, "senolytic"), initEntry(id))
		require.NoError(t, err)
	}

	err := s.Update(ctx, func(tx *Tx) error {
		return tx.RecordEvidence("HYP-0002", model.AppliedEvidence{
			SourceID: "PMID-7001", Prong: model.ProngPerturbation, Polarity: model.PolaritySupports, Weight: 3,
		})
	})
	require.NoError(t, err)

	err = s.read(ctx, func(tx *Tx) error {
		claimID, ok, err := tx.AppliedClaimFor("PMID-7001", model.ProngPerturbation)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "HYP-0002", claimID)

		_, ok, err = tx.AppliedClaimFor("PMID-7001", model.ProngObservational)
		require.NoError(t, err)
		assert.False(t, ok, "prong is part of the key")

		_, ok, err = tx.AppliedClaimFor("PMID-7002", model.ProngPerturbation)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)
}

func TestRenewLease(t *testing.T) {
	s, clock := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AcquireLease(ctx, "ledger", "run-a", 15*time.Minute))
	clock.Advance(10 * time.Minute)

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		return tx.RenewLease("ledger", "run-a", 15*time.Minute)
	}))
	lease, err := s.CurrentLease(ctx, "ledger")
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.True(t, lease.ExpiresAt.Equal(clock.Now().Add(15*time.Minute)))

	// run-a stalls past its expiry and run-b takes over
	clock.Advance(time.Hour)
	require.NoError(t, s.AcquireLease(ctx, "ledger", "run-b", 15*time.Minute))

	err = s.Update(ctx, func(tx *Tx) error {
		return tx.RenewLease("ledger", "run-a", 15*time.Minute)
	})
	assert.ErrorIs(t, err, model.ErrConcurrentUpdate)
	assert.Contains(t, err.Error(), "run-b")

	require.NoError(t, s.ReleaseLease(ctx, "ledger", "run-b"))
	err = s.Update(ctx, func(tx *Tx) error {
		return tx.RenewLease("ledger", "run-b", 15*time.Minute)
	})
	assert.ErrorIs(t, err, model.ErrConcurrentUpdate)
}

func TestAcquireLease_BusyWriterIsConcurrentUpdate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	a, err := Open(path, WithBusyTimeout(20*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	b, err := Open(path, WithBusyTimeout(20*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	ctx := context.Background()
	writing := make(chan struct{})
	done := make(chan struct{})
	result := make(chan error, 1)
	go func() {
		result <- a.Update(ctx, func(tx *Tx) error {
			_, err := tx.AppendAudit(initEntry("HYP-0001"))
			close(writing)
			if err != nil {
				return err
			}
			<-done
			return nil
		})
	}()

	<-writing
	err = b.AcquireLease(ctx, "ledger", "run-b", time.Minute)
	close(done)
	require.NoError(t, <-result)

	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrConcurrentUpdate)

	require.NoError(t, b.AcquireLease(ctx, "ledger", "run-b", time.Minute), "lock released after commit")
}
