package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/convergence/internal/model"
)

// Tx is a store transaction handed to Update callbacks
type Tx struct {
	ctx context.Context
	tx  *sql.Tx
	now func() time.Time
}

const claimColumns = `id, title, description, domain_primary, domain_tags, keywords,
	expected_effect, observational, perturbation, clinical, tier, status,
	created_at, last_updated`

// Get loads a claim with its applied evidence, or returns model.ErrNotFound
func (t *Tx) Get(id string) (*model.Claim, error) {
	row := t.tx.QueryRowContext(t.ctx, "SELECT "+claimColumns+" FROM claims WHERE id = ?", id)
	claim, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	applied, err := t.appliedFor(id)
	if err != nil {
		return nil, err
	}
	claim.Applied = applied
	claim.SyncEvidenceSets()
	return claim, nil
}

// Put creates or replaces a claim by id and bumps last_updated. Applied
// evidence records on the claim are persisted; records already stored are
// left untouched since they are append-only.
func (t *Tx) Put(claim *model.Claim) (*model.Claim, error) {
	n, ok := model.ParseClaimID(claim.ID)
	if !ok {
		return nil, fmt.Errorf("invalid claim id %q", claim.ID)
	}
	if !claim.DomainPrimary.Valid() {
		return nil, fmt.Errorf("claim %s: invalid primary domain %q", claim.ID, claim.DomainPrimary)
	}

	out := claim.Clone()
	out.NormalizeTags()
	if out.Status == "" {
		out.Status = model.StatusProvisional
	}
	now := t.now().UTC()
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	out.LastUpdated = now

	tags, err := marshalColumn(out.DomainTags)
	if err != nil {
		return nil, err
	}
	keywords, err := marshalColumn(out.Keywords)
	if err != nil {
		return nil, err
	}
	effect, err := marshalColumn(out.ExpectedEffect)
	if err != nil {
		return nil, err
	}

	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO claims (id, seq, title, description, domain_primary, domain_order,
			domain_tags, keywords, expected_effect, observational, perturbation, clinical,
			tier, status, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			domain_primary = excluded.domain_primary,
			domain_order = excluded.domain_order,
			domain_tags = excluded.domain_tags,
			keywords = excluded.keywords,
			expected_effect = excluded.expected_effect,
			observational = excluded.observational,
			perturbation = excluded.perturbation,
			clinical = excluded.clinical,
			tier = excluded.tier,
			status = excluded.status,
			last_updated = excluded.last_updated`,
		out.ID, n, out.Title, out.Description, string(out.DomainPrimary), out.DomainPrimary.Order(),
		tags, keywords, effect,
		out.ProngScores.Observational, out.ProngScores.Perturbation, out.ProngScores.Clinical,
		string(out.Tier), string(out.Status), formatTime(out.CreatedAt), formatTime(out.LastUpdated),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert claim %s: %w", out.ID, err)
	}

	for _, a := range out.Applied {
		if err := t.RecordEvidence(out.ID, a); err != nil {
			return nil, err
		}
	}
	out.SyncEvidenceSets()
	return out, nil
}

// RecordEvidence stores one applied evidence record. Re-recording the same
// (claim, source, prong) key is a no-op.
func (t *Tx) RecordEvidence(claimID string, a model.AppliedEvidence) error {
	appliedAt := a.AppliedAt
	if appliedAt.IsZero() {
		appliedAt = t.now()
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT OR IGNORE INTO evidence (claim_id, source_id, prong, polarity, weight, applied_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		claimID, a.SourceID, string(a.Prong), string(a.Polarity), a.Weight, formatTime(appliedAt),
	)
	if err != nil {
		return fmt.Errorf("record evidence %s on %s: %w", a.SourceID, claimID, err)
	}
	return nil
}

// AppliedClaimFor returns the claim already holding (sourceID, prong). The
// key is checked across every claim, so a re-run item is never applied to a
// second claim.
func (t *Tx) AppliedClaimFor(sourceID string, prong model.Prong) (string, bool, error) {
	var claimID string
	err := t.tx.QueryRowContext(t.ctx,
		"SELECT claim_id FROM evidence WHERE source_id = ? AND prong = ? ORDER BY claim_id LIMIT 1",
		sourceID, string(prong),
	).Scan(&claimID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("look up evidence %s/%s: %w", sourceID, prong, err)
	}
	return claimID, true, nil
}

// AppendAudit appends an entry and returns it with seq and timestamp set
func (t *Tx) AppendAudit(e model.AuditEntry) (model.AuditEntry, error) {
	if e.Action == "" || e.ClaimID == "" {
		return e, fmt.Errorf("audit entry needs an action and a claim id")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = t.now()
	}
	e.Timestamp = e.Timestamp.UTC()

	res, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO audit_log (timestamp, run_id, action, claim_id, detail)
		VALUES (?, ?, ?, ?, ?)`,
		formatTime(e.Timestamp), e.RunID, string(e.Action), e.ClaimID, e.Detail,
	)
	if err != nil {
		return e, fmt.Errorf("append audit %s %s: %w", e.Action, e.ClaimID, err)
	}
	if e.Seq, err = res.LastInsertId(); err != nil {
		return e, fmt.Errorf("audit seq: %w", err)
	}
	return e, nil
}

// NextClaimID reserves the next claim id. The counter never goes below the
// highest id already stored, so imported or seeded ids are never reused.
func (t *Tx) NextClaimID() (string, error) {
	var counter, highest sql.NullInt64
	err := t.tx.QueryRowContext(t.ctx, "SELECT value FROM counters WHERE name = ?", claimCounter).Scan(&counter)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("read id counter: %w", err)
	}
	if err := t.tx.QueryRowContext(t.ctx, "SELECT MAX(seq) FROM claims").Scan(&highest); err != nil {
		return "", fmt.Errorf("read highest claim id: %w", err)
	}

	next := max(counter.Int64, highest.Int64) + 1
	_, err = t.tx.ExecContext(t.ctx, `
		INSERT INTO counters (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`,
		claimCounter, next,
	)
	if err != nil {
		return "", fmt.Errorf("bump id counter: %w", err)
	}
	return model.FormatClaimID(int(next)), nil
}

func (t *Tx) list(f Filter) ([]*model.Claim, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Tier != "" {
		where = append(where, "tier = ?")
		args = append(args, string(f.Tier))
	}
	query := "SELECT " + claimColumns + " FROM claims"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY domain_order, seq, id"

	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	var claims []*model.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		// domain filter matches any tag, not just the primary
		if f.Domain != "" && !containsDomain(c.DomainTags, f.Domain) {
			continue
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("list claims: %w", err)
	}
	_ = rows.Close()

	applied, err := t.allApplied()
	if err != nil {
		return nil, err
	}
	for _, c := range claims {
		c.Applied = applied[c.ID]
		c.SyncEvidenceSets()
	}
	return claims, nil
}

func (t *Tx) appliedFor(claimID string) ([]model.AppliedEvidence, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT claim_id, source_id, prong, polarity, weight, applied_at
		FROM evidence WHERE claim_id = ? ORDER BY applied_at, source_id, prong`, claimID)
	if err != nil {
		return nil, fmt.Errorf("load evidence for %s: %w", claimID, err)
	}
	byClaim, err := scanApplied(rows)
	if err != nil {
		return nil, err
	}
	return byClaim[claimID], nil
}

func (t *Tx) allApplied() (map[string][]model.AppliedEvidence, error) {
	rows, err := t.tx.QueryContext(t.ctx, `
		SELECT claim_id, source_id, prong, polarity, weight, applied_at
		FROM evidence ORDER BY claim_id, applied_at, source_id, prong`)
	if err != nil {
		return nil, fmt.Errorf("load evidence: %w", err)
	}
	return scanApplied(rows)
}

func scanApplied(rows *sql.Rows) (map[string][]model.AppliedEvidence, error) {
	defer func() { _ = rows.Close() }()

	out := make(map[string][]model.AppliedEvidence)
	for rows.Next() {
		var (
			claimID, prong, polarity, ts string
			a                            model.AppliedEvidence
		)
		if err := rows.Scan(&claimID, &a.SourceID, &prong, &polarity, &a.Weight, &ts); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		a.Prong = model.Prong(prong)
		a.Polarity = model.Polarity(polarity)
		var err error
		if a.AppliedAt, err = parseTime(ts); err != nil {
			return nil, err
		}
		out[claimID] = append(out[claimID], a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (*model.Claim, error) {
	var (
		c                      model.Claim
		primary, tier, status  string
		tags, keywords, effect string
		createdAt, lastUpdated string
	)
	err := row.Scan(&c.ID, &c.Title, &c.Description, &primary, &tags, &keywords, &effect,
		&c.ProngScores.Observational, &c.ProngScores.Perturbation, &c.ProngScores.Clinical,
		&tier, &status, &createdAt, &lastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan claim: %w", err)
	}

	c.DomainPrimary = model.Domain(primary)
	c.Tier = model.Tier(tier)
	c.Status = model.Status(status)
	if err := json.Unmarshal([]byte(tags), &c.DomainTags); err != nil {
		return nil, fmt.Errorf("claim %s domain_tags: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(keywords), &c.Keywords); err != nil {
		return nil, fmt.Errorf("claim %s keywords: %w", c.ID, err)
	}
	if err := json.Unmarshal([]byte(effect), &c.ExpectedEffect); err != nil {
		return nil, fmt.Errorf("claim %s expected_effect: %w", c.ID, err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if c.LastUpdated, err = parseTime(lastUpdated); err != nil {
		return nil, err
	}
	return &c, nil
}

func containsDomain(tags []model.Domain, d model.Domain) bool {
	for _, t := range tags {
		if t == d {
			return true
		}
	}
	return false
}
