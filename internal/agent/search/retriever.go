package search

import (
	"context"
	"fmt"
	"time"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"

	"github.com/workplace-chat/orchestrator/internal/agent/model"
)

// Document metadata keys set by Retriever.
const (
	MetaTitle        = "title"
	MetaSource       = "source"
	MetaSourceType   = "source_type"
	MetaDocumentID   = "document_id"
	MetaLastModified = "last_modified"
)

type timeRange struct {
	since time.Time
	until time.Time
}

// WithTimeRange limits a Retrieve call to chunks edited in [since, until].
func WithTimeRange(since, until time.Time) retriever.Option {
	return retriever.WrapImplSpecificOptFn(func(o *timeRange) {
		o.since = since
		o.until = until
	})
}

// Retriever adapts a Corpus to the eino retriever interface. Hits below the
// score threshold are dropped.
type Retriever struct {
	corpus    Corpus
	kind      model.SourceType
	topK      int
	threshold float64
}

func NewRetriever(corpus Corpus, kind model.SourceType, topK int, threshold float64) *Retriever {
	return &Retriever{corpus: corpus, kind: kind, topK: topK, threshold: threshold}
}

var _ retriever.Retriever = (*Retriever)(nil)

func (r *Retriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	topK, threshold := r.topK, r.threshold
	common := retriever.GetCommonOptions(&retriever.Options{TopK: &topK, ScoreThreshold: &threshold}, opts...)
	window := retriever.GetImplSpecificOptions(&timeRange{}, opts...)

	q := Query{Text: query, Since: window.since, Until: window.until}
	if common.TopK != nil {
		q.TopN = *common.TopK
	}
	hits, err := r.corpus.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search %ss: %w", r.kind, err)
	}

	minScore := 0.0
	if common.ScoreThreshold != nil {
		minScore = *common.ScoreThreshold
	}
	docs := make([]*schema.Document, 0, len(hits))
	for _, h := range hits {
		if h.Similarity < minScore {
			continue
		}
		docs = append(docs, r.toDocument(h))
	}
	return docs, nil
}

func (r *Retriever) toDocument(h Hit) *schema.Document {
	doc := &schema.Document{
		ID:      h.ChunkID,
		Content: h.Content,
		MetaData: map[string]any{
			MetaTitle:        h.Title,
			MetaSource:       h.Source,
			MetaSourceType:   r.kind,
			MetaDocumentID:   h.DocumentID,
			MetaLastModified: h.LastModified,
		},
	}
	return doc.WithScore(h.Similarity)
}

// ToEvidence converts a retrieved document to unscored Evidence.
func ToEvidence(doc *schema.Document) model.Evidence {
	e := model.Evidence{
		ChunkID:    doc.ID,
		Content:    doc.Content,
		Similarity: doc.Score(),
	}
	if v, ok := doc.MetaData[MetaTitle].(string); ok {
		e.Title = v
	}
	if v, ok := doc.MetaData[MetaSource].(string); ok {
		e.Source = v
	}
	if v, ok := doc.MetaData[MetaSourceType].(model.SourceType); ok {
		e.SourceType = v
	}
	if v, ok := doc.MetaData[MetaLastModified].(time.Time); ok {
		e.LastEdited = v
	}
	return e
}
