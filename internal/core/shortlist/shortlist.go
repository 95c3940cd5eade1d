package shortlist

import (
	"sort"
	"strings"

	"github.com/agext/levenshtein"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
)

const DefaultK = 15

// Weights tunes the candidate score:
//
//	score = sum over leaf path tokens of best(sim(pathToken, productToken) * tokenWeight) * leafBonus
//	      + DepthStep * depth   (only when the textual part is non-zero)
//
// sim is 1 for equal tokens and the Levenshtein similarity otherwise, counted
// only at or above MinSimilarity.
type Weights struct {
	NameToken     float64
	TextToken     float64
	LeafNameBonus float64
	DepthStep     float64
	MinSimilarity float64
}

func DefaultWeights() Weights {
	return Weights{
		NameToken:     2.0,
		TextToken:     1.0,
		LeafNameBonus: 1.25,
		DepthStep:     0.1,
		MinSimilarity: 0.8,
	}
}

type Shortlister struct {
	k       int
	weights Weights
	cache   *CorpusCache
}

// New returns a shortlister keeping the top k candidates. cache may be nil, in
// which case every call tokenizes the taxonomy again.
func New(k int, weights Weights, cache *CorpusCache) *Shortlister {
	if k <= 0 {
		k = DefaultK
	}
	return &Shortlister{k: k, weights: weights, cache: cache}
}

func (s *Shortlister) K() int {
	return s.k
}

// Shortlist scores every leaf of tax against product and returns the best K.
// It never performs I/O.
func (s *Shortlister) Shortlist(product domain.ProductRecord, tax *domain.Taxonomy) []domain.ScoredCandidate {
	return s.ShortlistK(product, tax, s.k)
}

func (s *Shortlister) ShortlistK(product domain.ProductRecord, tax *domain.Taxonomy, k int) []domain.ScoredCandidate {
	if tax == nil || len(tax.Leaves) == 0 {
		return []domain.ScoredCandidate{}
	}
	if k <= 0 {
		k = s.k
	}

	var corpus *Corpus
	if s.cache != nil {
		corpus = s.cache.Get(tax)
	} else {
		corpus = Prepare(tax)
	}

	scored := s.score(productTokens(product, s.weights), corpus)
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Leaf.Depth != b.Leaf.Depth {
			return a.Leaf.Depth < b.Leaf.Depth
		}
		pa, pb := a.Leaf.PathString(), b.Leaf.PathString()
		if pa != pb {
			return pa < pb
		}
		return a.Leaf.ID < b.Leaf.ID
	})

	if k < len(scored) {
		scored = scored[:k]
	}
	return scored
}

type weightedToken struct {
	text   string
	weight float64
}

// productTokens returns name tokens followed by brand and description tokens.
// A token keeps the weight of its first occurrence.
func productTokens(p domain.ProductRecord, w Weights) []weightedToken {
	seen := make(map[string]struct{})
	out := make([]weightedToken, 0, 32)
	add := func(text string, weight float64) {
		for _, tok := range Tokenize(text) {
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			out = append(out, weightedToken{text: tok, weight: weight})
		}
	}
	add(p.Name, w.NameToken)
	add(p.Brand+" "+p.Description, w.TextToken)
	return out
}

func (s *Shortlister) score(query []weightedToken, corpus *Corpus) []domain.ScoredCandidate {
	out := make([]domain.ScoredCandidate, 0, len(corpus.entries))
	// best match per path token; path tokens repeat across sibling leaves.
	memo := make(map[string]float64, 64)
	for _, entry := range corpus.entries {
		textual := 0.0
		for _, pt := range entry.tokens {
			best, ok := memo[pt.text]
			if !ok {
				best = s.bestMatch(pt.text, query)
				memo[pt.text] = best
			}
			if pt.leafName {
				best *= s.weights.LeafNameBonus
			}
			textual += best
		}
		score := textual
		if textual > 0 {
			score += s.weights.DepthStep * float64(entry.leaf.Depth)
		}
		out = append(out, domain.ScoredCandidate{Leaf: entry.leaf, Score: score})
	}
	return out
}

func (s *Shortlister) bestMatch(pathToken string, query []weightedToken) float64 {
	best := 0.0
	for _, q := range query {
		if v := similarity(pathToken, q.text, s.weights.MinSimilarity) * q.weight; v > best {
			best = v
		}
	}
	return best
}

func similarity(a, b string, threshold float64) float64 {
	if a == b {
		return 1
	}
	if len(a) < 3 || len(b) < 3 {
		return 0
	}
	sim := levenshtein.Similarity(a, b, nil)
	if sim < threshold {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}

// Corpus is the tokenized form of one taxonomy revision.
type Corpus struct {
	Marketplace string
	Revision    uint64
	entries     []corpusEntry
}

type corpusEntry struct {
	leaf   domain.LeafCategory
	tokens []pathToken
}

type pathToken struct {
	text     string
	leafName bool
}

func Prepare(tax *domain.Taxonomy) *Corpus {
	c := &Corpus{
		Marketplace: tax.Marketplace,
		Revision:    tax.Revision,
		entries:     make([]corpusEntry, 0, len(tax.Leaves)),
	}
	for _, leaf := range tax.Leaves {
		c.entries = append(c.entries, corpusEntry{leaf: leaf, tokens: leafTokens(leaf)})
	}
	return c
}

func leafTokens(leaf domain.LeafCategory) []pathToken {
	leafName := make(map[string]struct{})
	if n := len(leaf.Path); n > 0 {
		for _, tok := range Tokenize(leaf.Path[n-1]) {
			leafName[tok] = struct{}{}
		}
	}

	out := make([]pathToken, 0, 8)
	for _, tok := range Tokenize(strings.Join(leaf.Path, " ")) {
		_, isLeaf := leafName[tok]
		out = append(out, pathToken{text: tok, leafName: isLeaf})
	}
	return out
}
