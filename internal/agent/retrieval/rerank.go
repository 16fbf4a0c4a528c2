package retrieval

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/workplace-chat/orchestrator/internal/agent/graph/parsers"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/prompts"
	"github.com/workplace-chat/orchestrator/internal/agent/llm"
	"github.com/workplace-chat/orchestrator/internal/agent/metrics"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
	errx "github.com/workplace-chat/orchestrator/internal/core/error"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

const rerankNode = "rerank_agent"

// Reranker scores candidates with one listwise model call.
type Reranker struct {
	Gateway llm.Gateway
	Config  model.RetrievalConfig
	Company prompts.Company
	Now     func() time.Time
}

// Rerank returns the candidates that pass both relevance thresholds, scored
// and stamped with iteration. A batch whose listwise output keeps failing
// validation is dropped.
func (r *Reranker) Rerank(ctx context.Context, usage *metrics.Usage, task, query string, candidates []model.Evidence, iteration int) ([]model.Evidence, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	system, err := prompts.RenderRerank(ctx, prompts.RerankInput{
		Company:     r.Company,
		Task:        task,
		SearchQuery: query,
		Documents:   candidates,
		Now:         r.now(),
	})
	if err != nil {
		return nil, err
	}

	rankings, err := parsers.GenerateListwise(ctx, r.Gateway, parsers.ListwiseRequest[parsers.ListwiseRanking, parsers.DocumentRanking]{
		Request: llm.Request{
			Name:     rerankNode,
			System:   system,
			Messages: []*schema.Message{schema.UserMessage("Rank the documents.")},
		},
		Expected: len(candidates),
		ItemType: "document",
		Retries:  r.Config.RerankRetries,
		Items:    func(out parsers.ListwiseRanking) []parsers.DocumentRanking { return out.RankedDocuments },
		OnResponse: func(resp *llm.Response) {
			usage.Record(rerankNode, r.Gateway.Model(), resp.Usage)
		},
	})
	if err != nil {
		var vm *errx.ValidationMismatchError
		if errors.As(err, &vm) || errors.Is(err, errx.ErrMalformedOutput) {
			logx.Warn().Err(err).Str("kind", errx.KindValidationMismatch.String()).Int("candidates", len(candidates)).Msg("Dropping rerank batch")
			return nil, nil
		}
		return nil, err
	}

	var out []model.Evidence
	for _, rk := range rankings {
		doc := candidates[rk.Index-1]
		doc.ContentScore = float64(rk.ContentRelevance)
		doc.MetadataScore = float64(rk.MetadataRelevance)
		doc.TotalScore = (doc.ContentScore + doc.MetadataScore) / 2
		doc.Iteration = iteration
		if r.passes(doc) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (r *Reranker) passes(doc model.Evidence) bool {
	return doc.ContentScore >= r.Config.RelevanceThreshold*100 &&
		doc.MetadataScore >= r.Config.MetadataRelevanceThreshold*100
}

func (r *Reranker) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}
