package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"

	"github.com/workplace-chat/orchestrator/internal/agent/graph/tools"
	"github.com/workplace-chat/orchestrator/internal/agent/llm"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
	"github.com/workplace-chat/orchestrator/internal/agent/search"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

const (
	ToolSearchPosts = "search_posts"
	ToolSearchPages = "search_pages"
)

var searchParams = map[string]*schema.ParameterInfo{
	"query": {
		Type:     schema.String,
		Desc:     "A descriptive search query for semantic search",
		Required: true,
	},
	"start_datetime": {
		Type: schema.String,
		Desc: "Optional ISO date or datetime; only chunks edited on or after it",
	},
	"end_datetime": {
		Type: schema.String,
		Desc: "Optional ISO date or datetime; only chunks edited on or before it (a bare date covers the whole day)",
	},
}

var (
	PostsSpec = llm.ToolSpec{
		Name:   ToolSearchPosts,
		Desc:   "Semantic search across all posts for a single query. The date parameters limit the search by edit date and can be used independently.",
		Params: searchParams,
	}
	PagesSpec = llm.ToolSpec{
		Name:   ToolSearchPages,
		Desc:   "Semantic search across knowledge base pages for a single query. The date parameters limit the search by edit date and can be used independently.",
		Params: searchParams,
	}
)

type searchArgs struct {
	Query         string `json:"query"`
	StartDatetime string `json:"start_datetime,omitempty"`
	EndDatetime   string `json:"end_datetime,omitempty"`
}

func isSearchTool(name string) bool {
	return name == ToolSearchPosts || name == ToolSearchPages
}

// toolbox builds the tools of one search round bound to state.
func (d *Deps) toolbox(state *model.RetrievalState) *tools.Toolbox {
	return tools.NewToolbox().
		Add(PostsSpec, tools.New(PostsSpec, d.searchTool(state, model.SourcePost, d.Posts))).
		Add(PagesSpec, tools.New(PagesSpec, d.searchTool(state, model.SourcePage, d.Pages))).
		Add(tools.DateTimeSpec, tools.NewDateTime(d.now))
}

func (d *Deps) searchTool(state *model.RetrievalState, kind model.SourceType, r retriever.Retriever) func(context.Context, *searchArgs) (string, error) {
	label := string(kind) + "s"
	return func(ctx context.Context, in *searchArgs) (string, error) {
		if r == nil {
			return fmt.Sprintf("Search over %s is not available.", label), nil
		}
		if strings.TrimSpace(in.Query) == "" {
			return "The query must not be empty.", nil
		}

		docs, err := r.Retrieve(ctx, in.Query,
			retriever.WithTopK(d.Config.FirstStageK),
			retriever.WithScoreThreshold(d.Config.CosineSimilarityThreshold),
			search.WithTimeRange(parseFilterTime(in.StartDatetime, false), parseFilterTime(in.EndDatetime, true)),
		)
		if err != nil {
			return "", err
		}

		candidates := make([]model.Evidence, len(docs))
		for i, doc := range docs {
			candidates[i] = search.ToEvidence(doc)
			candidates[i].SourceType = kind
		}
		ScorerFor(d.Config, kind, d.now).Apply(candidates)
		if len(candidates) > d.Config.SecondStageK {
			candidates = candidates[:d.Config.SecondStageK]
		}

		fresh := state.Unseen(candidates)
		state.MarkSeen(fresh)
		if len(fresh) == 0 {
			return searchSummary(nil, len(candidates), label), nil
		}

		ranked, err := d.Reranker.Rerank(ctx, d.Env.Usage, state.Query, in.Query, fresh, state.Iteration+1)
		if err != nil {
			return "", err
		}
		state.Evidence = Merge(state.Evidence, ranked, d.Config.FinalTopK)
		state.NewThisRound += len(ranked)

		logx.Debug().
			Str("tool", "search_"+label).
			Str("query", in.Query).
			Int("retrieved", len(candidates)).
			Int("fresh", len(fresh)).
			Int("kept", len(ranked)).
			Msg("Search round finished")
		return searchSummary(ranked, len(candidates), label), nil
	}
}

func searchSummary(kept []model.Evidence, retrieved int, label string) string {
	if len(kept) == 0 {
		return fmt.Sprintf("No new relevant documents found from %s.", label)
	}
	minSim, maxSim := kept[0].Similarity, kept[0].Similarity
	minTotal, maxTotal := kept[0].TotalScore, kept[0].TotalScore
	for _, e := range kept[1:] {
		minSim, maxSim = min(minSim, e.Similarity), max(maxSim, e.Similarity)
		minTotal, maxTotal = min(minTotal, e.TotalScore), max(maxTotal, e.TotalScore)
	}
	return fmt.Sprintf("Found %d relevant documents from %s (from %d retrieved). "+
		"Rerank scores: %.1f-%.1f, Cosine similarity: %.3f-%.3f. "+
		"Higher rerank scores indicate better relevance to the query.",
		len(kept), label, retrieved, minTotal, maxTotal, minSim, maxSim)
}

var filterLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", time.DateOnly}

// parseFilterTime reads an ISO date filter. A bare date used as an upper
// bound covers the whole day. Unparseable input leaves the bound open.
func parseFilterTime(s string, endOfDay bool) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range filterLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		if endOfDay && layout == time.DateOnly {
			t = t.Add(24*time.Hour - time.Second)
		}
		return t.UTC()
	}
	logx.Error().Str("value", s).Msg("Invalid datetime format in search filter")
	return time.Time{}
}
