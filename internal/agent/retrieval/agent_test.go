package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workplace-chat/orchestrator/internal/agent/graph/parsers"
	"github.com/workplace-chat/orchestrator/internal/agent/llm/llmtest"
	"github.com/workplace-chat/orchestrator/internal/agent/metrics"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
	"github.com/workplace-chat/orchestrator/internal/agent/search"
	"github.com/workplace-chat/orchestrator/internal/agent/stream"
	"github.com/workplace-chat/orchestrator/internal/agent/subagent"
	errx "github.com/workplace-chat/orchestrator/internal/core/error"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	agent     *Agent
	model     *llmtest.Gateway
	reranker  *llmtest.Gateway
	evaluator *llmtest.Gateway
	env       subagent.Env
	usage     *metrics.Usage
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	posts := search.NewMemoryCorpus(
		search.Hit{ChunkID: "p1", Title: "Vacation policy", Content: "Employees get 25 vacation days", LastModified: testNow.AddDate(0, 0, -2)},
		search.Hit{ChunkID: "p2", Title: "Carry over", Content: "Vacation days carry over to March", LastModified: testNow.AddDate(0, -5, 0)},
		search.Hit{ChunkID: "p3", Title: "Parking", Content: "The garage opens at 7", LastModified: testNow},
	)
	pages := search.NewMemoryCorpus(
		search.Hit{ChunkID: "g1", Title: "Holiday calendar", Content: "Public holiday calendar for 2025", LastModified: testNow.AddDate(0, -1, 0)},
	)
	cfg := model.DefaultRetrievalConfig()

	f := &fixture{
		model:     llmtest.New("gpt-4.1"),
		reranker:  llmtest.New("gpt-4.1-mini"),
		evaluator: llmtest.New("gpt-4.1-mini"),
	}
	f.agent = &Agent{
		Model:     f.model,
		Reranker:  f.reranker,
		Evaluator: f.evaluator,
		Posts:     search.NewRetriever(posts, model.SourcePost, cfg.FirstStageK, cfg.CosineSimilarityThreshold),
		Pages:     search.NewRetriever(pages, model.SourcePage, cfg.FirstStageK, cfg.CosineSimilarityThreshold),
		Config:    cfg,
		Now:       func() time.Time { return testNow },
	}
	c := metrics.NewCollector(prometheus.NewRegistry())
	f.usage = c.NewUsage()
	f.env = subagent.Env{Bus: stream.NewBus(true), Usage: f.usage, Timing: c.NewTiming(nil), Tenant: "acme"}
	return f
}

func ranking(scores ...[3]int) llmtest.Reply {
	out := parsers.ListwiseRanking{}
	for _, s := range scores {
		out.RankedDocuments = append(out.RankedDocuments, parsers.DocumentRanking{Index: s[0], ContentRelevance: s[1], MetadataRelevance: s[2]})
	}
	return llmtest.JSON(out)
}

func verdict(score float64, missing string) llmtest.Reply {
	return llmtest.JSON(model.Verdict{Score: score, MissingInformation: missing})
}

func guidanceCount(msgs []*schema.Message) int {
	n := 0
	for _, m := range msgs {
		if strings.HasPrefix(m.Content, "**Current search results analysis:**") {
			n++
		}
	}
	return n
}

func TestSufficientAfterOneRound(t *testing.T) {
	f := newFixture(t)
	f.model.Push(llmtest.Call([2]string{ToolSearchPosts, `{"query":"vacation days"}`}))
	f.reranker.Push(ranking([3]int{1, 90, 80}, [3]int{2, 40, 90}))
	f.evaluator.Push(verdict(85, ""))

	s, err := f.agent.Run(context.Background(), f.env, "How many vacation days do employees get?")
	require.NoError(t, err)

	assert.Equal(t, 1, s.Iteration)
	assert.Equal(t, model.StopSufficient, s.StopReason)
	assert.Equal(t, 1, f.model.Calls())
	assert.Equal(t, 1, f.evaluator.Calls())
	require.Len(t, s.Evidence, 1)

	e := s.Evidence[0]
	assert.Equal(t, "p1", e.ChunkID)
	assert.Equal(t, model.SourcePost, e.SourceType)
	assert.Equal(t, 85.0, e.TotalScore)
	assert.Equal(t, 1, e.Iteration)
	assert.Equal(t, map[string]struct{}{"p1": {}, "p2": {}}, s.Seen)

	tool := s.Messages[len(s.Messages)-1]
	assert.Equal(t, schema.Tool, tool.Role)
	assert.Equal(t, "Found 1 relevant documents from posts (from 2 retrieved). Rerank scores: 85.0-85.0, "+
		"Cosine similarity: 1.000-1.000. Higher rerank scores indicate better relevance to the query.", tool.Content)

	assert.True(t, strings.HasPrefix(s.Answer, "Retrieved information from the company knowledge bases: \n\n Title: Vacation policy"))
	assert.Positive(t, s.RetrievalTime)
	assert.Len(t, f.usage.Finalize().Models, 2)
}

func TestInsufficientThenSufficient(t *testing.T) {
	f := newFixture(t)
	f.model.Push(
		llmtest.Call([2]string{ToolSearchPosts, `{"query":"vacation days"}`}),
		llmtest.Call([2]string{ToolSearchPages, `{"query":"holiday calendar"}`}),
	)
	f.reranker.Push(
		ranking([3]int{1, 70, 70}, [3]int{2, 60, 60}),
		ranking([3]int{1, 95, 90}),
	)
	f.evaluator.Push(verdict(30, "public holidays"), verdict(92, ""))

	s, err := f.agent.Run(context.Background(), f.env, "Which days off do employees have in 2025?")
	require.NoError(t, err)

	assert.Equal(t, 2, s.Iteration)
	assert.Equal(t, model.StopSufficient, s.StopReason)
	assert.Equal(t, 2, f.evaluator.Calls())
	assert.Equal(t, 1, guidanceCount(s.Messages))
	assert.Equal(t, []model.Verdict{{Score: 30, MissingInformation: "public holidays"}, {Score: 92}}, s.Verdicts)

	second := f.model.Requests()[1].Messages
	assert.Contains(t, second[len(second)-1].Content, "**Missing information:** public holidays")

	ids := make([]string, len(s.Evidence))
	for i, e := range s.Evidence {
		ids[i] = e.ChunkID
	}
	assert.Equal(t, []string{"g1", "p1", "p2"}, ids)
	assert.Equal(t, 2, s.Evidence[0].Iteration)
}

func TestSeenChunksAreNotReranked(t *testing.T) {
	f := newFixture(t)
	f.model.Push(
		llmtest.Call([2]string{ToolSearchPosts, `{"query":"vacation days"}`}),
		llmtest.Call([2]string{ToolSearchPosts, `{"query":"vacation days"}`}),
	)
	f.reranker.Push(ranking([3]int{1, 70, 70}, [3]int{2, 60, 60}))
	f.evaluator.Push(verdict(30, "more detail"))

	s, err := f.agent.Run(context.Background(), f.env, "vacation")
	require.NoError(t, err)

	assert.Equal(t, 1, f.reranker.Calls())
	assert.Equal(t, 1, f.evaluator.Calls())
	assert.Equal(t, 2, s.Iteration)
	assert.Equal(t, model.StopIterationBudgetExceeded, s.StopReason)
	assert.Equal(t, "No new relevant documents found from posts.", s.Messages[len(s.Messages)-1].Content)
	assert.Len(t, s.Evidence, 2)
}

func TestZeroCandidateRoundSkipsEvaluation(t *testing.T) {
	f := newFixture(t)
	f.agent.Config.MaxIterations = 3
	f.model.Push(
		llmtest.Call([2]string{ToolSearchPages, `{"query":"quarterly revenue"}`}),
		llmtest.Call([2]string{ToolSearchPosts, `{"query":"vacation days"}`}),
	)
	f.reranker.Push(ranking([3]int{1, 80, 80}, [3]int{2, 80, 80}))
	f.evaluator.Push(verdict(80, ""))

	s, err := f.agent.Run(context.Background(), f.env, "vacation")
	require.NoError(t, err)

	assert.Equal(t, 2, s.Iteration)
	assert.Equal(t, 1, f.evaluator.Calls())
	assert.Equal(t, model.StopSufficient, s.StopReason)
	assert.Zero(t, guidanceCount(s.Messages))

	second := f.model.Requests()[1].Messages
	assert.Equal(t, noResultsGuidance, second[len(second)-1].Content)
}

func TestModelFinishingWithoutSearch(t *testing.T) {
	f := newFixture(t)
	f.model.Push(
		llmtest.Call([2]string{"get_current_date_time", `{}`}),
		llmtest.Text("Nothing to search."),
	)

	s, err := f.agent.Run(context.Background(), f.env, "hello")
	require.NoError(t, err)

	assert.Equal(t, model.StopModelFinished, s.StopReason)
	assert.Zero(t, s.Iteration)
	assert.Equal(t, noInformationAnswer, s.Answer)
	assert.Contains(t, s.Messages[2].Content, "Today's date is Sunday, June 01, 2025")
}

func TestMalformedVerdictCountsAsInsufficient(t *testing.T) {
	f := newFixture(t)
	f.agent.Config.MaxIterations = 1
	f.model.Push(llmtest.Call([2]string{ToolSearchPosts, `{"query":"vacation days"}`}))
	f.reranker.Push(ranking([3]int{1, 80, 80}, [3]int{2, 80, 80}))
	f.evaluator.Push(llmtest.Text("definitely sufficient"))

	s, err := f.agent.Run(context.Background(), f.env, "vacation")
	require.NoError(t, err)
	assert.Equal(t, model.StopIterationBudgetExceeded, s.StopReason)
	assert.Equal(t, []model.Verdict{{}}, s.Verdicts)
}

func TestRerankBatchDroppedAfterRetries(t *testing.T) {
	f := newFixture(t)
	f.agent.Config.RerankRetries = 1
	f.model.Push(
		llmtest.Call([2]string{ToolSearchPosts, `{"query":"vacation days"}`}),
		llmtest.Text("done"),
	)
	f.reranker.Push(ranking([3]int{1, 80, 80}), ranking([3]int{1, 80, 80}))

	s, err := f.agent.Run(context.Background(), f.env, "vacation")
	require.NoError(t, err)

	assert.Equal(t, 2, f.reranker.Calls())
	assert.Empty(t, s.Evidence)
	assert.Zero(t, f.evaluator.Calls())
	assert.Equal(t, model.StopModelFinished, s.StopReason)
}

func TestContentFilterPropagates(t *testing.T) {
	f := newFixture(t)
	f.model.Push(llmtest.Call([2]string{ToolSearchPosts, `{"query":"vacation days"}`}))
	f.reranker.Push(llmtest.Fail(&errx.ContentFilteredError{Categories: []string{"hate (severity: high)"}}))

	_, err := f.agent.Run(context.Background(), f.env, "vacation")
	var cf *errx.ContentFilteredError
	require.True(t, errors.As(err, &cf))
	assert.Equal(t, errx.KindContentFiltered, errx.Classify(err))
}

func TestSubAgentEntry(t *testing.T) {
	f := newFixture(t)
	f.model.Push(llmtest.Text("nothing"))

	entry := NewSubAgent(f.agent)
	assert.Equal(t, subagent.ToolRetrievalAgent, entry.Spec.Name)
	assert.Equal(t, f.agent.Config.MaxAgentCalls, entry.MaxCalls)

	res, err := entry.Invoke(context.Background(), f.env, `{"research_task":"holiday policy"}`)
	require.NoError(t, err)
	assert.Equal(t, noInformationAnswer, res.Answer)
	require.IsType(t, &model.RetrievalState{}, res.State)
	assert.Equal(t, "holiday policy", res.State.(*model.RetrievalState).Query)

	_, err = entry.Invoke(context.Background(), f.env, `not json`)
	assert.Error(t, err)
}

func TestParseFilterTime(t *testing.T) {
	assert.True(t, parseFilterTime("", false).IsZero())
	assert.True(t, parseFilterTime("last week", false).IsZero())
	assert.Equal(t, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), parseFilterTime("2025-03-01", false))
	assert.Equal(t, time.Date(2025, 3, 1, 23, 59, 59, 0, time.UTC), parseFilterTime("2025-03-01", true))
	assert.Equal(t, time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC), parseFilterTime("2025-03-01T10:00:00+02:00", true))
}
