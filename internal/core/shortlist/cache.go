package shortlist

import (
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kirillkom/marketplace-categorizer/internal/core/domain"
)

const DefaultCacheSize = 64

// CorpusCache keeps prepared corpora keyed by marketplace and taxonomy
// revision, so a reload naturally invalidates the old entries.
type CorpusCache struct {
	entries *lru.Cache[string, *Corpus]
}

func NewCorpusCache(size int) (*CorpusCache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	entries, err := lru.New[string, *Corpus](size)
	if err != nil {
		return nil, err
	}
	return &CorpusCache{entries: entries}, nil
}

func (c *CorpusCache) Get(tax *domain.Taxonomy) *Corpus {
	key := tax.Marketplace + "@" + strconv.FormatUint(tax.Revision, 10)
	if corpus, ok := c.entries.Get(key); ok {
		return corpus
	}
	corpus := Prepare(tax)
	c.entries.Add(key, corpus)
	return corpus
}

func (c *CorpusCache) Len() int {
	return c.entries.Len()
}
