package dedup

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball/english"
)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "by": true, "is": true, "are": true, "was": true, "were": true,
}

// Tokens turns a keyword set into case-folded, punctuation-free, stemmed
// tokens with stopwords removed. Multi-word keywords contribute every word.
func Tokens(keywords []string) map[string]bool {
	out := make(map[string]bool)
	for _, kw := range keywords {
		for _, word := range strings.Fields(normalize(kw)) {
			if stopwords[word] {
				continue
			}
			if stem := english.Stem(word, false); stem != "" {
				out[stem] = true
			}
		}
	}
	return out
}

// normalize lower-cases s and drops everything but letters, digits,
// underscores and whitespace, so "IL-6" and "il6" tokenize alike
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r), r == '_':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return b.String()
}

// Jaccard returns |a∩b| / |a∪b|; two empty sets score 0
func Jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Similarity is the Jaccard overlap of two keyword sets after tokenizing
func Similarity(a, b []string) float64 {
	return Jaccard(Tokens(a), Tokens(b))
}
