// Package tagger assigns research domains to free text by counting
// case-insensitive keyword hits against fixed per-domain dictionaries.
package tagger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/convergence/internal/cache"
	"github.com/ppiankov/convergence/internal/model"
)

// Result is the outcome of tagging one text
type Result struct {
	Primary model.Domain         `json:"primary,omitempty"`
	Tags    []model.Domain       `json:"tags,omitempty"`
	Hits    map[model.Domain]int `json:"hits,omitempty"`
}

// Empty reports whether no domain matched
func (r Result) Empty() bool {
	return r.Primary == ""
}

type dictionary struct {
	domain   model.Domain
	keywords []string
}

// Tagger is safe for concurrent use
type Tagger struct {
	dicts       []dictionary
	fingerprint string
	cache       cache.Cache
	cacheTTL    time.Duration
	logger      *zap.Logger
}

// Option configures a Tagger
type Option func(*Tagger)

// WithCache memoizes results. Keys include the dictionary fingerprint, so a
// changed dictionary never serves stale tags.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(t *Tagger) {
		t.cache = c
		t.cacheTTL = ttl
	}
}

// WithLogger sets the logger for cache failures
func WithLogger(l *zap.Logger) Option {
	return func(t *Tagger) {
		if l != nil {
			t.logger = l
		}
	}
}

// New builds a tagger from domain dictionaries. Dictionaries are reordered
// into domain declaration order; entries for the same domain are merged.
func New(domains []model.DomainConfig, opts ...Option) (*Tagger, error) {
	merged := make(map[model.Domain][]string)
	for _, d := range domains {
		if !d.Name.Valid() {
			return nil, fmt.Errorf("unknown domain %q in tagger dictionary", d.Name)
		}
		for _, kw := range d.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" {
				merged[d.Name] = append(merged[d.Name], kw)
			}
		}
	}

	t := &Tagger{logger: zap.NewNop()}
	h := sha256.New()
	for _, d := range model.Domains {
		kws := merged[d]
		if len(kws) == 0 {
			continue
		}
		t.dicts = append(t.dicts, dictionary{domain: d, keywords: kws})
		fmt.Fprintf(h, "%s=%s;", d, strings.Join(kws, "|"))
	}
	if len(t.dicts) == 0 {
		return nil, fmt.Errorf("tagger needs at least one keyword")
	}
	t.fingerprint = hex.EncodeToString(h.Sum(nil))[:16]

	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Fingerprint identifies the dictionary set
func (t *Tagger) Fingerprint() string {
	return t.fingerprint
}

// Tag returns the primary domain (most hits, ties by declaration order) and
// every domain with at least one hit. Text without hits yields an empty
// Result.
func (t *Tagger) Tag(text string) Result {
	key := ""
	if t.cache != nil {
		key = cache.Key("tag", t.fingerprint, text)
		var cached Result
		if cache.GetJSON(t.cache, key, &cached) {
			return cached
		}
	}

	result := t.tag(text)

	if t.cache != nil {
		if err := cache.SetJSON(t.cache, key, result, t.cacheTTL); err != nil {
			t.logger.Debug("cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return result
}

func (t *Tagger) tag(text string) Result {
	lower := strings.ToLower(StripMarkup(text))
	if lower == "" {
		return Result{}
	}

	var result Result
	best := 0
	for _, d := range t.dicts {
		hits := 0
		for _, kw := range d.keywords {
			hits += strings.Count(lower, kw)
		}
		if hits == 0 {
			continue
		}
		if result.Hits == nil {
			result.Hits = make(map[model.Domain]int)
		}
		result.Hits[d.domain] = hits
		result.Tags = append(result.Tags, d.domain)
		// strict > keeps the earlier domain on ties
		if hits > best {
			best = hits
			result.Primary = d.domain
		}
	}
	return result
}

// TagItem fills the domain fields of an untagged evidence item from its title
// and text. Items that already carry a valid tag are only normalized. It
// reports whether the item ends up tagged.
func (t *Tagger) TagItem(item *model.EvidenceItem) bool {
	if item.Tagged() {
		item.DomainPrimary = item.Primary()
		item.DomainTags = model.NormalizeDomains(item.DomainPrimary, item.DomainTags)
		return true
	}

	result := t.Tag(strings.TrimSpace(item.Title + " " + item.Text))
	if result.Empty() {
		return false
	}
	item.DomainPrimary = result.Primary
	item.DomainTags = result.Tags
	return true
}
