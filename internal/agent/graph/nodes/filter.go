package nodes

import (
	"context"
	"errors"

	"github.com/cloudwego/eino/schema"
	"golang.org/x/sync/errgroup"

	"github.com/workplace-chat/orchestrator/internal/agent/graph/parsers"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/prompts"
	"github.com/workplace-chat/orchestrator/internal/agent/llm"
	"github.com/workplace-chat/orchestrator/internal/agent/metrics"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
	"github.com/workplace-chat/orchestrator/internal/agent/stream"
	errx "github.com/workplace-chat/orchestrator/internal/core/error"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

const (
	defaultFilterBatchSize   = 5
	defaultFilterConcurrency = 3
)

// FilterUsedContext keeps the documents and users that contributed to the
// answer and emits them as the refined context.
type FilterUsedContext struct{}

func (FilterUsedContext) Name() string { return "FilterUsedContext" }

func (FilterUsedContext) Execute(ctx context.Context, s *model.ChatState, d *Deps) (step, error) {
	f := ContextFilter{Model: d.Filter, Config: d.Config, Usage: d.Env.Usage}
	refined, judged, err := f.Refine(ctx, s.Ledger, s.Answer, s.Debug)
	if err != nil {
		return nil, err
	}
	s.RefinedContext = refined
	if judged {
		d.Env.Bus.Emit(stream.RefinedContextEvent{RefinedContext: refined})
	}
	return end(), nil
}

// ContextFilter judges which of the contexts gathered by sub-agents an
// answer used. The chat and post graphs share it.
type ContextFilter struct {
	Model  llm.Gateway
	Config model.ChatConfig
	Usage  *metrics.Usage
}

// Refine returns the used documents of ledger and, when debug is set, the
// used users. judged is false when the ledger holds nothing to judge.
func (f ContextFilter) Refine(ctx context.Context, ledger *model.Ledger, answer string, debug bool) (refined []any, judged bool, err error) {
	var (
		docs  []model.Evidence
		users []model.User
	)
	for _, rs := range ledger.RetrievalStates() {
		docs = append(docs, rs.Evidence...)
	}
	for _, us := range ledger.UserSearchStates() {
		users = append(users, us.Users...)
	}

	if len(docs) == 0 && len(users) == 0 {
		return []any{}, false, nil
	}

	contexts := make([]string, 0, len(docs)+len(users))
	for _, doc := range docs {
		contexts = append(contexts, doc.String())
	}
	for _, u := range users {
		contexts = append(contexts, u.String())
	}

	used, err := f.usedContexts(ctx, answer, contexts)
	if err != nil {
		return nil, false, err
	}

	refined = make([]any, 0, len(contexts))
	for i, doc := range docs {
		if used[i] {
			refined = append(refined, doc)
		}
	}
	// Clients only render documents; users are kept for debugging.
	if debug {
		for i, u := range users {
			if used[len(docs)+i] {
				refined = append(refined, u)
			}
		}
	}
	return refined, true, nil
}

// usedContexts judges contexts in concurrent batches and returns, per
// context, whether the answer used it. A batch that cannot be judged
// contributes nothing.
func (f ContextFilter) usedContexts(ctx context.Context, answer string, contexts []string) ([]bool, error) {
	size := f.Config.FilterBatchSize
	if size <= 0 {
		size = defaultFilterBatchSize
	}
	limit := f.Config.FilterConcurrency
	if limit <= 0 {
		limit = defaultFilterConcurrency
	}

	used := make([]bool, len(contexts))
	var g errgroup.Group
	g.SetLimit(limit)

	for start := 0; start < len(contexts); start += size {
		batch := contexts[start:min(start+size, len(contexts))]
		g.Go(func() error {
			results, err := f.judgeBatch(ctx, answer, batch)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				lg := logx.Warn()
				if !errors.Is(err, errx.ErrMalformedOutput) && errx.Classify(err) != errx.KindValidationMismatch {
					lg = logx.Error()
				}
				lg.Err(err).Int("batch_start", start).Int("batch_size", len(batch)).Msg("Dropping context filter batch")
				return nil
			}
			// batches write disjoint ranges
			for _, r := range results {
				if r.Used {
					used[start+r.Index-1] = true
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return used, nil
}

func (f ContextFilter) judgeBatch(ctx context.Context, answer string, batch []string) ([]parsers.ContextUsage, error) {
	system, err := prompts.RenderContextFilter(ctx, answer, batch)
	if err != nil {
		return nil, err
	}

	return parsers.GenerateListwise(ctx, f.Model, parsers.ListwiseRequest[parsers.ListwiseContextUsage, parsers.ContextUsage]{
		Request: llm.Request{
			Name:     filterNode,
			System:   system,
			Messages: []*schema.Message{schema.UserMessage("Evaluate which contexts were used.")},
		},
		Expected: len(batch),
		ItemType: "context usage",
		Retries:  f.Config.FilterRetries,
		Items:    func(r parsers.ListwiseContextUsage) []parsers.ContextUsage { return r.UsedContexts },
		OnResponse: func(resp *llm.Response) {
			f.Usage.Record(filterNode, f.Model.Model(), resp.Usage)
		},
	})
}
