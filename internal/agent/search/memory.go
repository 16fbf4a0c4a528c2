package search

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"unicode"
)

// MemoryCorpus scores documents by token overlap with the query. It backs the
// demo and tests.
type MemoryCorpus struct {
	mu   sync.RWMutex
	hits []Hit
}

func NewMemoryCorpus(docs ...Hit) *MemoryCorpus {
	c := &MemoryCorpus{}
	c.Add(docs...)
	return c
}

func (c *MemoryCorpus) Add(docs ...Hit) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hits = append(c.hits, docs...)
}

func (c *MemoryCorpus) Search(ctx context.Context, q Query) ([]Hit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	terms := tokenize(q.Text)

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Hit
	for _, h := range c.hits {
		if !q.Since.IsZero() && h.LastModified.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && h.LastModified.After(q.Until) {
			continue
		}
		sim := overlap(terms, tokenize(h.Title+" "+h.Content))
		if sim == 0 {
			continue
		}
		h.Similarity = sim
		out = append(out, h)
	}

	slices.SortStableFunc(out, func(a, b Hit) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.ChunkID, b.ChunkID)
	})
	if q.TopN > 0 && len(out) > q.TopN {
		out = out[:q.TopN]
	}
	return out, nil
}

func tokenize(s string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// overlap is the share of query terms present in the document.
func overlap(query, doc map[string]struct{}) float64 {
	if len(query) == 0 {
		return 0
	}
	n := 0
	for w := range query {
		if _, ok := doc[w]; ok {
			n++
		}
	}
	return float64(n) / float64(len(query))
}
