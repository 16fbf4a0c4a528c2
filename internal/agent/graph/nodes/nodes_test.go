package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workplace-chat/orchestrator/internal/agent/graph/conversations"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/parsers"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/tools"
	"github.com/workplace-chat/orchestrator/internal/agent/llm"
	"github.com/workplace-chat/orchestrator/internal/agent/llm/llmtest"
	"github.com/workplace-chat/orchestrator/internal/agent/metrics"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
	"github.com/workplace-chat/orchestrator/internal/agent/repo"
	"github.com/workplace-chat/orchestrator/internal/agent/stream"
	"github.com/workplace-chat/orchestrator/internal/agent/subagent"
	errx "github.com/workplace-chat/orchestrator/internal/core/error"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type record struct {
	Event          string  `json:"event"`
	Answer         string  `json:"answer"`
	Error          string  `json:"error"`
	RefinedContext []any   `json:"refined_context"`
	Seconds        float64 `json:"time_2_first_token"`
}

func drain(t *testing.T, bus *stream.Bus) []record {
	t.Helper()
	var out []record
	for {
		rec, ok := bus.Next(context.Background())
		if !ok {
			return out
		}
		var r record
		require.NoError(t, json.Unmarshal(rec, &r))
		out = append(out, r)
	}
}

func eventKinds(records []record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Event
	}
	return out
}

func answerText(records []record) string {
	var b strings.Builder
	for _, r := range records {
		if r.Event == string(stream.KindAnswer) {
			b.WriteString(r.Answer)
		}
	}
	return b.String()
}

// validation answers the refusal and language checks and streams the refusal answer.
func validation(refuse bool, reason, language string, refusalAnswer llmtest.Reply) *llmtest.Gateway {
	g := llmtest.New("gpt-4.1-mini")
	g.Handler = func(req llm.Request) llmtest.Reply {
		switch req.Name {
		case refusalNode:
			return llmtest.JSON(map[string]any{"refuse_question": refuse, "reason": reason})
		case languageNode:
			return llmtest.JSON(map[string]any{"language": language})
		case refusalAnswerNode:
			return refusalAnswer
		}
		return llmtest.Fail(fmt.Errorf("unexpected call %q", req.Name))
	}
	return g
}

func newAgent(chat, valid, filter llm.Gateway, reg *subagent.Registry) *Agent {
	cfg := model.DefaultChatConfig()
	return &Agent{
		Chat:       chat,
		Validation: valid,
		Filter:     filter,
		Registry:   reg,
		Metrics:    metrics.NewCollector(prometheus.NewRegistry()),
		Config:     cfg,
		Now:        func() time.Time { return testNow },
	}
}

func TestAnswerIsStreamedByParagraph(t *testing.T) {
	chat := llmtest.New("gpt-4.1", llmtest.Reply{
		Content: "First paragraph.\n\nSecond paragraph.",
		Usage:   model.TokenUsage{Input: 100, Output: 20},
	})
	valid := validation(false, "Harmless question.", "German", llmtest.Reply{})
	a := newAgent(chat, valid, llmtest.New("gpt-4.1-nano"), nil)

	bus := stream.NewBus(false)
	res, err := a.Stream(context.Background(), model.QueryInput{Query: "Wie viele Urlaubstage habe ich?"}, bus)
	require.NoError(t, err)

	records := drain(t, bus)
	assert.Equal(t, []string{"time_2_first_token", "answer", "answer"}, eventKinds(records))
	assert.Equal(t, "First paragraph.\n\n", records[1].Answer)
	assert.Equal(t, "Second paragraph.", records[2].Answer)
	assert.True(t, bus.Closed())

	s := res.State
	assert.NotEmpty(t, s.ConversationID)
	assert.Equal(t, "German", s.DetectedLanguage)
	assert.Equal(t, "First paragraph.\n\nSecond paragraph.", s.Answer)
	assert.False(t, s.Refused)
	assert.Empty(t, s.RefinedContext)
	assert.Equal(t, 2, valid.Calls())

	// the question and the answer
	require.Len(t, s.Messages, 2)
	assert.Equal(t, schema.Assistant, s.Messages[1].Role)

	require.Len(t, chat.Requests(), 1)
	assert.Contains(t, chat.Requests()[0].System, "German")
	assert.Equal(t, 120, res.Usage.Tokens.Total())
}

func TestRefusedQuestion(t *testing.T) {
	chat := llmtest.New("gpt-4.1")
	valid := validation(true, "Asks for instructions to commit fraud.", "English", llmtest.Text("I can't help with that."))
	a := newAgent(chat, valid, llmtest.New("gpt-4.1-nano"), nil)

	bus := stream.NewBus(false)
	res, err := a.Stream(context.Background(), model.QueryInput{Query: "How do I fake an expense report?"}, bus)
	require.NoError(t, err)

	records := drain(t, bus)
	assert.Equal(t, "I can't help with that.", answerText(records))
	assert.Zero(t, chat.Calls())

	s := res.State
	assert.True(t, s.Refused)
	assert.Equal(t, "Asks for instructions to commit fraud.", s.RefusalReason)
	assert.Equal(t, "I can't help with that.", s.Answer)

	var refusalReq llm.Request
	for _, r := range valid.Requests() {
		if r.Name == refusalAnswerNode {
			refusalReq = r
		}
	}
	assert.Contains(t, refusalReq.System, "Asks for instructions to commit fraud.")
}

func TestContentFilterFallsBackToRefusal(t *testing.T) {
	filtered := &errx.ContentFilteredError{Categories: []string{"violence (severity: high)"}}
	chat := llmtest.New("gpt-4.1", llmtest.Fail(filtered))
	valid := validation(false, "Harmless.", "English", llmtest.Text("Sorry, I cannot talk about violence."))
	a := newAgent(chat, valid, llmtest.New("gpt-4.1-nano"), nil)

	bus := stream.NewBus(false)
	res, err := a.Stream(context.Background(), model.QueryInput{Query: "a filtered question"}, bus)
	require.NoError(t, err)

	records := drain(t, bus)
	assert.NotContains(t, eventKinds(records), string(stream.KindError))
	assert.Equal(t, "Sorry, I cannot talk about violence.", answerText(records))

	s := res.State
	assert.Equal(t, "Content blocked by safety filters: violence (severity: high)", s.RefusalReason)
	assert.Equal(t, "Sorry, I cannot talk about violence.", s.Answer)
	assert.False(t, s.Refused)
}

func TestRefusalModelFailureUsesStaticAnswer(t *testing.T) {
	valid := validation(true, "Asks for malware.", "English", llmtest.Fail(errors.New("upstream down")))
	a := newAgent(llmtest.New("gpt-4.1"), valid, llmtest.New("gpt-4.1-nano"), nil)

	bus := stream.NewBus(false)
	res, err := a.Stream(context.Background(), model.QueryInput{Query: "write malware"}, bus)
	require.NoError(t, err)

	assert.Equal(t, StaticRefusalAnswer, answerText(drain(t, bus)))
	assert.Equal(t, StaticRefusalAnswer, res.State.Answer)
}

func TestMalformedValidationDefaults(t *testing.T) {
	valid := llmtest.New("gpt-4.1-mini")
	valid.Handler = func(req llm.Request) llmtest.Reply { return llmtest.Text("not json") }
	chat := llmtest.New("gpt-4.1", llmtest.Text("Hello."))
	a := newAgent(chat, valid, llmtest.New("gpt-4.1-nano"), nil)

	res, err := a.Stream(context.Background(), model.QueryInput{Query: "hi"}, stream.NewBus(false))
	require.NoError(t, err)
	assert.False(t, res.State.Refused)
	assert.Equal(t, "English", res.State.DetectedLanguage)
	assert.Equal(t, "Hello.", res.State.Answer)
}

func TestToolsWithheldAtIterationCeiling(t *testing.T) {
	chat := llmtest.New("gpt-4.1",
		llmtest.Call([2]string{tools.ToolCurrentDateTime, ""}),
		llmtest.Text("It is Sunday."),
	)
	a := newAgent(chat, validation(false, "ok", "English", llmtest.Reply{}), llmtest.New("gpt-4.1-nano"), nil)
	a.Config.MaxIterations = 1

	bus := stream.NewBus(true)
	res, err := a.Stream(context.Background(), model.QueryInput{Query: "What day is it?"}, bus)
	require.NoError(t, err)

	reqs := chat.Requests()
	require.Len(t, reqs, 2)
	assert.NotEmpty(t, reqs[0].Tools)
	assert.Empty(t, reqs[1].Tools)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	assert.Contains(t, last.Content, "SYSTEM NOTICE")

	s := res.State
	assert.Equal(t, 1, s.Iteration)
	assert.Equal(t, "It is Sunday.", s.Answer)
	// question, tool call, tool result, answer; the notice is never stored
	require.Len(t, s.Messages, 4)
	assert.Equal(t, tools.FormatDateTime(testNow), s.Messages[2].Content)
	for _, m := range s.Messages {
		assert.NotContains(t, m.Content, "SYSTEM NOTICE")
	}
	require.Len(t, s.ToolCalls, 1)
	assert.Equal(t, tools.ToolCurrentDateTime, s.ToolCalls[0].Name)

	kinds := eventKinds(drain(t, bus))
	assert.Contains(t, kinds, string(stream.KindToolCalls))
}

func docs(n int) []model.Evidence {
	out := make([]model.Evidence, n)
	for i := range out {
		out[i] = model.Evidence{
			ChunkID: fmt.Sprintf("d%d", i+1),
			Title:   fmt.Sprintf("Doc %d", i+1),
			Content: fmt.Sprintf("content %d", i+1),
		}
	}
	return out
}

func retrievalEntry(evidence []model.Evidence, runs *int) subagent.Entry {
	return subagent.Entry{
		Spec:      llm.ToolSpec{Name: subagent.ToolRetrievalAgent, Desc: "search"},
		AgentType: model.AgentRetrieval,
		Label:     "retrieval",
		MaxCalls:  2,
		Reference: "Use call_retrieval_agent for company questions.",
		Invoke: func(ctx context.Context, env subagent.Env, args string) (subagent.Result, error) {
			*runs++
			s := model.NewRetrievalState(args)
			s.Evidence = evidence
			return subagent.Result{Answer: "Retrieved information", State: s}, nil
		},
	}
}

// usage marks the given 1-based indices as used and every other one as unused.
func usage(count int, used ...int) llmtest.Reply {
	set := map[int]bool{}
	for _, u := range used {
		set[u] = true
	}
	items := make([]parsers.ContextUsage, count)
	for i := range items {
		items[i] = parsers.ContextUsage{Index: i + 1, Used: set[i+1]}
	}
	return llmtest.JSON(parsers.ListwiseContextUsage{UsedContexts: items})
}

func TestDelegationAndUsedContextFilter(t *testing.T) {
	runs := 0
	reg := subagent.NewRegistry(retrievalEntry(docs(6), &runs))

	chat := llmtest.New("gpt-4.1",
		llmtest.Call(
			[2]string{subagent.ToolRetrievalAgent, `{"research_task":"vacation policy"}`},
			[2]string{subagent.ToolRetrievalAgent, `{"research_task":"carry over rules"}`},
		),
		llmtest.Text("You get 25 days."),
	)
	filter := llmtest.New("gpt-4.1-nano")
	filter.Handler = func(req llm.Request) llmtest.Reply {
		if strings.Contains(req.System, "exactly 5 entries") {
			return usage(5, 1, 3)
		}
		return usage(1, 1)
	}
	a := newAgent(chat, validation(false, "ok", "English", llmtest.Reply{}), filter, reg)

	bus := stream.NewBus(false)
	res, err := a.Stream(context.Background(), model.QueryInput{Query: "How many vacation days?"}, bus)
	require.NoError(t, err)

	assert.Equal(t, 1, runs, "parallel retrieval calls are merged")
	assert.Equal(t, 2, filter.Calls())
	assert.Contains(t, chat.Requests()[0].System, "Use call_retrieval_agent for company questions.")

	s := res.State
	require.Len(t, s.RefinedContext, 3)
	var ids []string
	for _, c := range s.RefinedContext {
		ids = append(ids, c.(model.Evidence).ChunkID)
	}
	assert.Equal(t, []string{"d1", "d3", "d6"}, ids)

	records := drain(t, bus)
	last := records[len(records)-1]
	assert.Equal(t, string(stream.KindRefinedContext), last.Event)
	assert.Len(t, last.RefinedContext, 3)
}

func TestFilterUsedContext(t *testing.T) {
	alice := model.User{ID: "u1", FirstName: "Alice", LastName: "Johnson"}

	tests := []struct {
		name   string
		debug  bool
		reply  llmtest.Reply
		wantN  int
		userIn bool
	}{
		{name: "documents only outside debug", reply: usage(3, 1, 2, 3), wantN: 2},
		{name: "users kept in debug", debug: true, reply: usage(3, 1, 2, 3), wantN: 3, userIn: true},
		{name: "unjudgeable batch is dropped", reply: llmtest.JSON(parsers.ListwiseContextUsage{}), wantN: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := model.NewChatState(model.QueryInput{Query: "q", Debug: tt.debug}, nil)
			s.Answer = "answer"
			rs := model.NewRetrievalState("task")
			rs.Evidence = docs(2)
			s.Ledger.Record(model.AgentRetrieval, rs)
			us := model.NewUserSearchState("task")
			us.AddUsers([]model.User{alice})
			s.Ledger.Record(model.AgentUserSearch, us)

			filter := llmtest.New("gpt-4.1-nano", tt.reply)
			bus := stream.NewBus(tt.debug)
			cfg := model.DefaultChatConfig()
			cfg.FilterRetries = 0
			d := &Deps{Filter: filter, Config: cfg, Env: subagent.Env{Bus: bus}}

			next, err := FilterUsedContext{}.Execute(context.Background(), s, d)
			require.NoError(t, err)
			assert.Equal(t, "End", next.(interface{ Name() string }).Name())

			assert.Len(t, s.RefinedContext, tt.wantN)
			hasUser := false
			for _, c := range s.RefinedContext {
				if _, ok := c.(model.User); ok {
					hasUser = true
				}
			}
			assert.Equal(t, tt.userIn, hasUser)

			bus.Close()
			assert.Equal(t, []string{"refined_context"}, eventKinds(drain(t, bus)))
		})
	}
}

func TestFilterSkippedWithoutContext(t *testing.T) {
	s := model.NewChatState(model.QueryInput{Query: "q"}, nil)
	filter := llmtest.New("gpt-4.1-nano")
	bus := stream.NewBus(false)
	d := &Deps{Filter: filter, Config: model.DefaultChatConfig(), Env: subagent.Env{Bus: bus}}

	_, err := FilterUsedContext{}.Execute(context.Background(), s, d)
	require.NoError(t, err)
	assert.NotNil(t, s.RefinedContext)
	assert.Empty(t, s.RefinedContext)
	assert.Zero(t, filter.Calls())

	bus.Close()
	assert.Empty(t, drain(t, bus))
}

func TestCancelledStreamClosesBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chat := llmtest.New("gpt-4.1")
	a := newAgent(chat, validation(false, "ok", "English", llmtest.Reply{}), llmtest.New("gpt-4.1-nano"), nil)

	bus := stream.NewBus(false)
	_, err := a.Stream(ctx, model.QueryInput{Query: "hi"}, bus)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, bus.Closed())
	assert.Zero(t, chat.Calls())

	records := drain(t, bus)
	require.Len(t, records, 1)
	assert.Equal(t, errx.GenericUserMessage, records[0].Error)
}

// stallingGateway streams one chunk and then waits for the request to be cancelled.
type stallingGateway struct{}

func (stallingGateway) Model() string { return "gpt-4.1" }

func (stallingGateway) Generate(context.Context, llm.Request) (*llm.Response, error) {
	return nil, errors.New("not scripted")
}

func (stallingGateway) Stream(ctx context.Context, _ llm.Request) (*schema.StreamReader[*schema.Message], error) {
	sr, w := schema.Pipe[*schema.Message](1)
	go func() {
		defer w.Close()
		w.Send(schema.AssistantMessage("Let me check", nil), nil)
		<-ctx.Done()
		w.Send(nil, ctx.Err())
	}()
	return sr, nil
}

func TestCancelMidStreamClosesBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := newAgent(stallingGateway{}, validation(false, "ok", "English", llmtest.Reply{}), llmtest.New("gpt-4.1-nano"), nil)
	bus := stream.NewBus(false)

	// the consumer is parked in Next and cancels once the first record arrives
	consumed := make(chan []record, 1)
	go func() {
		var out []record
		for {
			rec, ok := bus.Next(context.Background())
			if !ok {
				consumed <- out
				return
			}
			var r record
			if json.Unmarshal(rec, &r) == nil {
				out = append(out, r)
			}
			if len(out) == 1 {
				cancel()
			}
		}
	}()

	_, err := a.Stream(ctx, model.QueryInput{Query: "hi"}, bus)
	require.ErrorIs(t, err, context.Canceled)
	assert.True(t, bus.Closed())

	select {
	case records := <-consumed:
		require.Len(t, records, 2)
		assert.Equal(t, string(stream.KindTimeToFirstToken), records[0].Event)
		assert.Equal(t, "error", records[1].Event)
		assert.Equal(t, errx.GenericUserMessage, records[1].Error)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer still blocked after the run returned")
	}
}

func TestMalformedToolArgumentsAreReturnedToModel(t *testing.T) {
	runs := 0
	reg := subagent.NewRegistry(subagent.Entry{
		Spec:      llm.ToolSpec{Name: subagent.ToolRetrievalAgent, Desc: "search"},
		AgentType: model.AgentRetrieval,
		Label:     "retrieval",
		MaxCalls:  2,
		Invoke: func(ctx context.Context, env subagent.Env, args string) (subagent.Result, error) {
			var in struct {
				ResearchTask string `json:"research_task"`
			}
			if err := subagent.DecodeArgs(subagent.ToolRetrievalAgent, args, &in); err != nil {
				return subagent.Result{}, err
			}
			runs++
			return subagent.Result{Answer: "Retrieved information", State: model.NewRetrievalState(in.ResearchTask)}, nil
		},
	})

	chat := llmtest.New("gpt-4.1",
		llmtest.Call([2]string{tools.ToolCurrentDateTime, `{"tz":`}),
		llmtest.Call([2]string{subagent.ToolRetrievalAgent, `{"research_task":5}`}),
		llmtest.Text("It is Sunday."),
	)
	a := newAgent(chat, validation(false, "ok", "English", llmtest.Reply{}), llmtest.New("gpt-4.1-nano"), reg)

	bus := stream.NewBus(false)
	res, err := a.Stream(context.Background(), model.QueryInput{Query: "What day is it?"}, bus)
	require.NoError(t, err)
	assert.NotContains(t, eventKinds(drain(t, bus)), "error")

	s := res.State
	assert.Equal(t, "It is Sunday.", s.Answer)
	assert.Equal(t, 3, chat.Calls())
	assert.Zero(t, runs)
	assert.Zero(t, s.Ledger.Count(model.AgentRetrieval))

	// question, call, result, call, result, answer
	require.Len(t, s.Messages, 6)
	assert.Contains(t, s.Messages[2].Content, "Invalid arguments for tool get_current_date_time")
	assert.Contains(t, s.Messages[4].Content, "Invalid arguments for tool call_retrieval_agent")
}

func TestHistoryIsPersisted(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	r := repo.NewRedisConversationRepository(rdb, time.Hour)

	chat := llmtest.New("gpt-4.1", llmtest.Text("Hi there."), llmtest.Text("Still here."))
	a := newAgent(chat, validation(false, "ok", "English", llmtest.Reply{}), llmtest.New("gpt-4.1-nano"), nil)
	a.Messages = conversations.NewMessagesManager(r, model.ConversationConfig{TruncateHistoryLimit: 10})

	ctx := context.Background()
	_, err := a.Stream(ctx, model.QueryInput{ConversationID: "c1", Query: "hello"}, stream.NewBus(false))
	require.NoError(t, err)
	_, err = a.Stream(ctx, model.QueryInput{ConversationID: "c1", Query: "are you there?"}, stream.NewBus(false))
	require.NoError(t, err)

	// the second turn sees the first one
	require.Len(t, chat.Requests()[1].Messages, 3)

	history, err := r.LoadHistory(ctx, "c1")
	require.NoError(t, err)
	var got []string
	for _, m := range history.Messages {
		got = append(got, m.Content)
	}
	assert.Equal(t, []string{"hello", "Hi there.", "are you there?", "Still here."}, got)
}
