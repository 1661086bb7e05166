// Package retrieval ranks stored examples against an incoming question so
// the most relevant few can be fed to SQL generation. Scoring is a token
// overlap coefficient over lowercased alphanumeric words; ties fall back to
// usage statistics and then stable identifiers so results are deterministic.
package retrieval

import (
	"sort"
	"strings"
	"unicode"

	"github.com/sqlmentor/sqlmentor/internal/memory"
)

// RankedExample pairs an example with its relevance score for one question.
type RankedExample struct {
	Example memory.Example
	Score   float64
}

type Ranker struct {
	topK int
}

func NewRanker(topK int) *Ranker {
	if topK <= 0 {
		topK = 4
	}
	return &Ranker{topK: topK}
}

func (r *Ranker) TopK() int {
	return r.topK
}

// Rank scores every candidate against the question and returns the top K in
// descending relevance. Zero-score candidates are kept so a sparse example
// pool still yields context for generation.
func (r *Ranker) Rank(question string, candidates []memory.Example) []RankedExample {
	questionTokens := tokenize(question)

	ranked := make([]RankedExample, 0, len(candidates))
	for _, candidate := range candidates {
		ranked = append(ranked, RankedExample{
			Example: candidate,
			Score:   overlapCoefficient(questionTokens, tokenize(candidate.Question)),
		})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return lessRelevant(ranked[j], ranked[i])
	})

	if len(ranked) > r.topK {
		ranked = ranked[:r.topK]
	}
	return ranked
}

// lessRelevant reports whether a should sort after b. The chain keeps the
// ordering total: score, usage count, last-used recency, creation time, id.
func lessRelevant(a, b RankedExample) bool {
	if a.Score != b.Score {
		return a.Score < b.Score
	}
	if a.Example.UsageCount != b.Example.UsageCount {
		return a.Example.UsageCount < b.Example.UsageCount
	}
	aUsed, bUsed := a.Example.LastUsedAt, b.Example.LastUsedAt
	switch {
	case aUsed == nil && bUsed != nil:
		return true
	case aUsed != nil && bUsed == nil:
		return false
	case aUsed != nil && bUsed != nil && !aUsed.Equal(*bUsed):
		return aUsed.Before(*bUsed)
	}
	if !a.Example.CreatedAt.Equal(b.Example.CreatedAt) {
		return a.Example.CreatedAt.After(b.Example.CreatedAt)
	}
	return a.Example.ID > b.Example.ID
}

// overlapCoefficient is |A ∩ B| / min(|A|, |B|) over token sets.
func overlapCoefficient(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	smaller, larger := a, b
	if len(b) < len(a) {
		smaller, larger = b, a
	}
	shared := 0
	for token := range smaller {
		if _, ok := larger[token]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(smaller))
}

func tokenize(text string) map[string]struct{} {
	tokens := map[string]struct{}{}
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, field := range fields {
		tokens[field] = struct{}{}
	}
	return tokens
}
