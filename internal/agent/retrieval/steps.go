package retrieval

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/workplace-chat/orchestrator/internal/agent/graph"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/prompts"
	"github.com/workplace-chat/orchestrator/internal/agent/llm"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
	"github.com/workplace-chat/orchestrator/internal/agent/stream"
	errx "github.com/workplace-chat/orchestrator/internal/core/error"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

const (
	retrievalNode  = "retrieval_agent"
	evaluationNode = "evaluation_agent"

	// maxToolTurns bounds model turns in one round that call only non-search tools.
	maxToolTurns = 4

	noResultsGuidance = "No new relevant documents were found in the last search round. " +
		"Try different search terms, the other source or a wider time range."
)

type step = graph.Step[*model.RetrievalState, *Deps]

// guidance is appended when the evaluation finds the evidence insufficient.
func guidance(missing string) string {
	return "**Current search results analysis:** \n\nThe current documents are not sufficient to fully answer the research task. \n\n**Missing information:** " + missing
}

// ProcessMessage runs one search round: the retrieval model is called with
// the search tools until it searches or stops calling tools.
type ProcessMessage struct{}

func (ProcessMessage) Name() string { return "ProcessMessage" }

func (ProcessMessage) Execute(ctx context.Context, s *model.RetrievalState, d *Deps) (step, error) {
	s.NewThisRound = 0
	if len(s.Messages) == 0 {
		s.AddMessage(schema.UserMessage(s.Query))
	}

	system, err := prompts.RenderRetrievalSystem(ctx, d.Company, s.Query, ToolSearchPosts, ToolSearchPages)
	if err != nil {
		return nil, err
	}
	box := d.toolbox(s)

	for turn := 0; turn < maxToolTurns; turn++ {
		resp, err := d.Model.Generate(ctx, llm.Request{
			Name:     retrievalNode,
			System:   system,
			Messages: s.Messages,
			Tools:    box.Specs(),
		})
		if err != nil {
			return nil, err
		}
		d.Env.Usage.Record(retrievalNode, d.Model.Model(), resp.Usage)

		msg := resp.Message
		llm.EnsureToolCallIDs(msg)
		s.AddMessage(msg)
		if len(msg.ToolCalls) == 0 {
			s.StopReason = model.StopModelFinished
			return graph.End[*model.RetrievalState, *Deps](), nil
		}
		emitToolCalls(d.Env.Bus, msg)

		searched := false
		for _, call := range msg.ToolCalls {
			if isSearchTool(call.Function.Name) {
				searched = true
			}
			out, err := box.Run(ctx, call)
			if err != nil {
				return nil, err
			}
			s.AddMessage(out)
		}
		if searched {
			s.Iteration++
			return EvaluateResults{}, nil
		}
	}

	logx.Warn().Str("task", s.Query).Int("turns", maxToolTurns).Msg("Retrieval model never searched, ending")
	s.StopReason = model.StopModelFinished
	return graph.End[*model.RetrievalState, *Deps](), nil
}

// EvaluateResults judges the evidence and decides whether to search again.
type EvaluateResults struct{}

func (EvaluateResults) Name() string { return "EvaluateResults" }

func (EvaluateResults) Execute(ctx context.Context, s *model.RetrievalState, d *Deps) (step, error) {
	if s.NewThisRound == 0 {
		if s.Iteration >= d.Config.MaxIterations {
			return budgetExceeded(s), nil
		}
		logx.Info().Str("task", s.Query).Int("iteration", s.Iteration).Msg("No new evidence this round, skipping evaluation")
		s.AddMessage(schema.UserMessage(noResultsGuidance))
		return ProcessMessage{}, nil
	}

	verdict, err := d.evaluate(ctx, s)
	if err != nil {
		return nil, err
	}
	s.Verdicts = append(s.Verdicts, verdict)

	if verdict.Score/100 >= d.Config.EvaluationThreshold {
		s.StopReason = model.StopSufficient
		return graph.End[*model.RetrievalState, *Deps](), nil
	}
	if s.Iteration >= d.Config.MaxIterations {
		return budgetExceeded(s), nil
	}
	s.AddMessage(schema.UserMessage(guidance(verdict.MissingInformation)))
	return ProcessMessage{}, nil
}

func budgetExceeded(s *model.RetrievalState) step {
	logx.Warn().Err(errx.ErrIterationBudgetExceeded).Str("task", s.Query).Int("iteration", s.Iteration).Msg("Maximum retrieval iterations reached, ending")
	s.StopReason = model.StopIterationBudgetExceeded
	return graph.End[*model.RetrievalState, *Deps]()
}

// evaluate asks for a sufficiency verdict. An unparseable verdict counts as
// insufficient.
func (d *Deps) evaluate(ctx context.Context, s *model.RetrievalState) (model.Verdict, error) {
	system, err := prompts.RenderEvaluate(ctx, s.Query, FormatEvidence(s.Evidence), d.now())
	if err != nil {
		return model.Verdict{}, err
	}

	verdict, resp, err := llm.GenerateJSON[model.Verdict](ctx, d.Evaluator, llm.Request{
		Name:     evaluationNode,
		System:   system,
		Messages: []*schema.Message{schema.UserMessage("Evaluate the current document set.")},
	})
	if resp != nil {
		d.Env.Usage.Record(evaluationNode, d.Evaluator.Model(), resp.Usage)
	}
	if errors.Is(err, errx.ErrMalformedOutput) {
		logx.Warn().Err(err).Str("task", s.Query).Msg("Unparseable sufficiency verdict, treating as insufficient")
		return model.Verdict{}, nil
	}
	if err != nil {
		return model.Verdict{}, err
	}
	return verdict, nil
}

// FormatEvidence joins evidence blocks with a separator line.
func FormatEvidence(items []model.Evidence) string {
	blocks := make([]string, len(items))
	for i, e := range items {
		blocks[i] = e.String()
	}
	return strings.Join(blocks, "\n\n---\n\n")
}

func emitToolCalls(bus *stream.Bus, msg *schema.Message) {
	if bus == nil {
		return
	}
	calls := make([]model.ToolCall, len(msg.ToolCalls))
	for i, tc := range msg.ToolCalls {
		calls[i] = model.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: tc.Function.Arguments}
	}
	bus.EmitDebug(stream.ToolCallsEvent{Agent: retrievalNode, ToolCalls: calls})
}
