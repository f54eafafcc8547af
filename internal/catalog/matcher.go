package catalog

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"unicode/utf8"

	"github.com/zyliufeng123/zhiguan-system/internal/repository"

	"github.com/agnivade/levenshtein"
)

const (
	// DefaultThreshold is the minimum similarity score a fuzzy candidate
	// must reach to be reported.
	DefaultThreshold = 90
	// DefaultLimit caps the number of candidates returned per lookup.
	DefaultLimit = 3
)

// Candidate is one catalog product scored against a normalized key.
// Score is 100 for an exact key match.
type Candidate struct {
	ProductID      int64  `json:"product_id"`
	Name           string `json:"name"`
	NormalizedName string `json:"normalized_name"`
	Score          int    `json:"score"`
}

// Matcher finds existing catalog products for a normalized key.
type Matcher interface {
	Match(ctx context.Context, key string, threshold, limit int) ([]Candidate, error)
}

// Scorer produces a symmetric 0-100 similarity between two strings,
// returning 100 for identical inputs.
type Scorer interface {
	Score(a, b string) int
}

// LevenshteinScorer normalizes rune-level edit distance into the 0-100
// range.
type LevenshteinScorer struct{}

func (LevenshteinScorer) Score(a, b string) int {
	if a == b {
		return 100
	}
	longest := utf8.RuneCountInString(a)
	if n := utf8.RuneCountInString(b); n > longest {
		longest = n
	}
	if longest == 0 {
		return 100
	}
	dist := levenshtein.ComputeDistance(a, b)
	return int(math.Round((1 - float64(dist)/float64(longest)) * 100))
}

// ProductMatcher resolves keys against the product catalog: an exact
// normalized-key lookup short-circuits scoring entirely, otherwise every
// product is scored against the key. The fallback is an O(n) scan of the
// full catalog per unmatched key; large catalogs will want an indexed
// approximate structure behind the same interface.
type ProductMatcher struct {
	products repository.ProductRepository
	scorer   Scorer
}

// NewProductMatcher wires a matcher over the given catalog. A nil scorer
// defaults to Levenshtein.
func NewProductMatcher(products repository.ProductRepository, scorer Scorer) *ProductMatcher {
	if scorer == nil {
		scorer = LevenshteinScorer{}
	}
	return &ProductMatcher{products: products, scorer: scorer}
}

func (m *ProductMatcher) Match(ctx context.Context, key string, threshold, limit int) ([]Candidate, error) {
	if key == "" {
		return nil, nil
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	exact, err := m.products.GetByNormalizedName(ctx, key)
	if err == nil {
		return []Candidate{{
			ProductID:      exact.ID,
			Name:           exact.Name,
			NormalizedName: exact.NormalizedName,
			Score:          100,
		}}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up product by key: %w", err)
	}

	all, err := m.products.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list products for matching: %w", err)
	}

	var candidates []Candidate
	for _, p := range all {
		target := p.NormalizedName
		if target == "" {
			target = p.Name
		}
		score := m.scorer.Score(key, target)
		if score >= threshold {
			candidates = append(candidates, Candidate{
				ProductID:      p.ID,
				Name:           p.Name,
				NormalizedName: p.NormalizedName,
				Score:          score,
			})
		}
	}

	// Stable so that equal scores keep catalog order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

var _ Matcher = (*ProductMatcher)(nil)
