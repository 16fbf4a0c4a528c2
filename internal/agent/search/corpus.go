// Package search provides the first-stage semantic search over the company
// corpora and exposes it to the agents as eino retrievers.
package search

import (
	"context"
	"time"
)

// Hit is one chunk returned by a corpus.
type Hit struct {
	ChunkID      string
	DocumentID   string
	Title        string
	Source       string
	Content      string
	LastModified time.Time
	// Similarity is the cosine similarity in [0,1].
	Similarity float64
}

// Query is one first-stage search request. Zero Since/Until leave the range open.
type Query struct {
	Text  string
	TopN  int
	Since time.Time
	Until time.Time
}

// Corpus is a searchable document collection.
type Corpus interface {
	Search(ctx context.Context, q Query) ([]Hit, error)
}
