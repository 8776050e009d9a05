package ledger

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/ppiankov/convergence/internal/model"
)

// RegistryFormat names where imported hypotheses came from
type RegistryFormat string

const (
	FormatJSON    RegistryFormat = "json"    // Embedded registry block
	FormatBullets RegistryFormat = "bullets" // "- **[HYP-…]** text" lines
)

var (
	registryBlock = regexp.MustCompile(`(?s)` + regexp.QuoteMeta(RegistryStartMarker) + `(.*?)` + regexp.QuoteMeta(RegistryEndMarker))

	hypLine            = regexp.MustCompile(`^\s*-\s*\*\*\[(HYP-[^\]]+)\]\*\*\s*(.*)`)
	keywordsLine       = regexp.MustCompile(`(?i)^\s+-\s*Keywords:\s*(.*)`)
	domainTagsLine     = regexp.MustCompile(`(?i)^\s+-\s*Domain tags:\s*(.*)`)
	expectedLine       = regexp.MustCompile(`(?i)^\s+-\s*Expected:\s*(.*)`)
	evidenceForLine    = regexp.MustCompile(`(?i)^\s+-\s*Evidence FOR:\s*(.*)`)
	evidenceAgainstLin = regexp.MustCompile(`(?i)^\s+-\s*Evidence AGAINST:\s*(.*)`)
	expectedPair       = regexp.MustCompile(`target=(.*?)\s+direction=(\S+)`)
)

// ParseRegistry imports hypotheses from a ledger document. The embedded JSON
// block wins when present and non-empty; otherwise bullet entries are
// parsed. Entries without a recognizable domain are reported as an error.
func ParseRegistry(markdown string) ([]*model.Claim, RegistryFormat, error) {
	if m := registryBlock.FindStringSubmatch(markdown); m != nil {
		body := stripFences(strings.TrimSpace(m[1]))
		if body != "" {
			claims, err := parseRegistryJSON(body)
			if err == nil && len(claims) > 0 {
				return claims, FormatJSON, nil
			}
			if err != nil && !strings.Contains(markdown, "**[HYP-") {
				return nil, "", err
			}
		}
	}

	claims, err := parseBullets(markdown)
	if err != nil {
		return nil, "", err
	}
	if len(claims) == 0 {
		return nil, "", fmt.Errorf("no hypotheses found")
	}
	return claims, FormatBullets, nil
}

func parseRegistryJSON(body string) ([]*model.Claim, error) {
	var entries []RegistryEntry
	if strings.HasPrefix(body, "[") {
		if err := json.Unmarshal([]byte(body), &entries); err != nil {
			return nil, fmt.Errorf("decode registry block: %w", err)
		}
	} else {
		var reg Registry
		if err := json.Unmarshal([]byte(body), &reg); err != nil {
			return nil, fmt.Errorf("decode registry block: %w", err)
		}
		entries = reg.Hypotheses
	}

	claims := make([]*model.Claim, 0, len(entries))
	for _, e := range entries {
		c, err := e.claim()
		if err != nil {
			return nil, err
		}
		claims = append(claims, c)
	}
	return claims, nil
}

func (e RegistryEntry) claim() (*model.Claim, error) {
	title := e.Title
	if title == "" {
		title = e.Text
	}
	tags, primary := parseDomains(e.DomainTags)
	if e.DomainPrimary.Valid() {
		primary = e.DomainPrimary
	} else if d, ok := model.ParseDomain(e.Domain); ok {
		primary = d
	}
	if !primary.Valid() {
		return nil, fmt.Errorf("registry entry %s: no known domain", e.ID)
	}
	if _, ok := model.ParseClaimID(e.ID); !ok {
		return nil, fmt.Errorf("registry entry %q: id is not HYP-NNNN", e.ID)
	}

	c := &model.Claim{
		ID:              e.ID,
		Title:           title,
		Description:     e.Description,
		DomainPrimary:   primary,
		DomainTags:      tags,
		Keywords:        e.Keywords,
		ExpectedEffect:  e.ExpectedEffect,
		ProngScores:     e.ProngScores,
		Tier:            e.Tier,
		Status:          e.Status,
		EvidenceFor:     e.EvidenceFor,
		EvidenceAgainst: e.EvidenceAgainst,
	}
	c.NormalizeTags()
	return c, nil
}

func parseBullets(markdown string) ([]*model.Claim, error) {
	var (
		claims  []*model.Claim
		current *model.Claim
		rawTags []string
	)

	finish := func() error {
		if current == nil {
			return nil
		}
		tags, primary := parseDomains(rawTags)
		if !primary.Valid() {
			return fmt.Errorf("hypothesis %s: no known domain in %q", current.ID, strings.Join(rawTags, ", "))
		}
		current.DomainPrimary = primary
		current.DomainTags = tags
		current.NormalizeTags()
		claims = append(claims, current)
		current, rawTags = nil, nil
		return nil
	}

	for _, line := range strings.Split(markdown, "\n") {
		if m := hypLine.FindStringSubmatch(line); m != nil {
			if err := finish(); err != nil {
				return nil, err
			}
			current = &model.Claim{ID: m[1], Title: strings.TrimSpace(m[2])}
			if _, ok := model.ParseClaimID(current.ID); !ok {
				return nil, fmt.Errorf("hypothesis %q: id is not HYP-NNNN", current.ID)
			}
			continue
		}
		if current == nil {
			continue
		}

		switch {
		case keywordsLine.MatchString(line):
			current.Keywords = splitList(keywordsLine.FindStringSubmatch(line)[1])
		case domainTagsLine.MatchString(line):
			rawTags = splitList(domainTagsLine.FindStringSubmatch(line)[1])
		case expectedLine.MatchString(line):
			raw := expectedLine.FindStringSubmatch(line)[1]
			for _, pair := range expectedPair.FindAllStringSubmatch(raw, -1) {
				current.ExpectedEffect = append(current.ExpectedEffect, model.Effect{
					Target:    strings.TrimSpace(pair[1]),
					Direction: model.Direction(strings.ToLower(strings.TrimSpace(pair[2]))),
				})
			}
		case evidenceForLine.MatchString(line):
			current.EvidenceFor = append(current.EvidenceFor, evidenceIDs(evidenceForLine.FindStringSubmatch(line)[1])...)
		case evidenceAgainstLin.MatchString(line):
			current.EvidenceAgainst = append(current.EvidenceAgainst, evidenceIDs(evidenceAgainstLin.FindStringSubmatch(line)[1])...)
		}
	}
	if err := finish(); err != nil {
		return nil, err
	}
	return claims, nil
}

// parseDomains maps free-form tags to known domains. The primary domain is
// the first tag that names one.
func parseDomains(raw []string) ([]model.Domain, model.Domain) {
	var (
		tags    []model.Domain
		primary model.Domain
	)
	for _, t := range raw {
		d, ok := model.ParseDomain(t)
		if !ok {
			continue
		}
		if primary == "" {
			primary = d
		}
		tags = append(tags, d)
	}
	return tags, primary
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func evidenceIDs(s string) []string {
	ids := splitList(s)
	for i, id := range ids {
		ids[i] = strings.TrimSpace(strings.TrimPrefix(id, "PMID:"))
	}
	return ids
}

// stripFences removes a surrounding ```json fence if present
func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.Index(s, "\n"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
