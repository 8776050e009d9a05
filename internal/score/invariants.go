package score

import (
	"fmt"

	"github.com/ppiankov/convergence/internal/model"
)

// CheckInvariants is the post-hoc integrity check run before every commit.
// It never repairs anything: lower layers clamp, this layer only reports.
func CheckInvariants(c *model.Claim) error {
	fail := func(format string, args ...any) error {
		return &model.InvariantError{ClaimID: c.ID, Detail: fmt.Sprintf(format, args...)}
	}

	if _, ok := model.ParseClaimID(c.ID); !ok {
		return fail("malformed id %q", c.ID)
	}
	for _, prong := range model.Prongs {
		if v := c.ProngScores.Get(prong); v < 0 || v > model.MaxProngScore {
			return fail("%s prong score %d outside [0,%d]", prong, v, model.MaxProngScore)
		}
	}
	if got, want := c.ConvergenceScore(), c.ProngScores.Sum(); got != want {
		return fail("convergence score %d != sum of prongs %d", got, want)
	}

	if !c.DomainPrimary.Valid() {
		return fail("invalid primary domain %q", c.DomainPrimary)
	}
	found := false
	for _, d := range c.DomainTags {
		if !d.Valid() {
			return fail("invalid domain tag %q", d)
		}
		if d == c.DomainPrimary {
			found = true
		}
	}
	if !found {
		return fail("primary domain %s missing from domain tags", c.DomainPrimary)
	}

	switch c.Status {
	case model.StatusProvisional, model.StatusContested, model.StatusDeprecated:
	default:
		return fail("unknown status %q", c.Status)
	}

	derived := Classify(c.ProngScores)
	if c.Tier.Rank() < 0 {
		return fail("unknown tier %q", c.Tier)
	}
	if c.Status.Overridden() {
		if c.Tier.Rank() > derived.Rank() {
			return fail("tier %s above derived tier %s", c.Tier, derived)
		}
	} else if c.Tier != derived {
		return fail("tier %s does not match derived tier %s", c.Tier, derived)
	}

	seen := make(map[string]bool, len(c.Applied))
	for _, a := range c.Applied {
		if seen[a.Key()] {
			return fail("evidence %s applied twice to %s prong", a.SourceID, a.Prong)
		}
		seen[a.Key()] = true
	}
	return nil
}
