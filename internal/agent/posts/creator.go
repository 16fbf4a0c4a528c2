// Package posts drafts company communication posts. Unlike the chat graph it
// runs to completion and returns its result in one response.
package posts

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/workplace-chat/orchestrator/internal/agent/featureflag"
	"github.com/workplace-chat/orchestrator/internal/agent/graph"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/prompts"
	"github.com/workplace-chat/orchestrator/internal/agent/llm"
	"github.com/workplace-chat/orchestrator/internal/agent/metrics"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
	"github.com/workplace-chat/orchestrator/internal/agent/subagent"
	errx "github.com/workplace-chat/orchestrator/internal/core/error"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

// Creator drafts posts. It is safe for concurrent use.
type Creator struct {
	Model    llm.Gateway
	Filter   llm.Gateway
	Registry *subagent.Registry
	Gate     featureflag.Gate
	Metrics  *metrics.Collector
	Config   model.PostConfig
	// Chat carries the company and used-context filter settings.
	Chat model.ChatConfig
	Now  func() time.Time
}

// Result is the response of one post creation request. The debug fields are
// only set when the request asked for them.
type Result struct {
	Answer          string                  `json:"answer"`
	Post            model.Post              `json:"post"`
	Refused         bool                    `json:"refused"`
	RefinedContext  []any                   `json:"refined_context,omitempty"`
	RetrievalStates []*model.RetrievalState `json:"retrieval_agent_states,omitempty"`
	ToolCalls       []model.ToolCall        `json:"tool_calls,omitempty"`
	// Error is the user-safe message of a failed run.
	Error  string                `json:"error,omitempty"`
	Usage  metrics.UsageSummary  `json:"-"`
	Timing metrics.TimingSummary `json:"-"`
}

// Create drafts or updates a post for in. A failed run returns the partial
// result with Error set next to the error.
func (c *Creator) Create(ctx context.Context, in model.PostInput) (*Result, error) {
	usage := c.Metrics.NewUsage()
	timing := c.Metrics.NewTiming(c.Now)
	timing.StartTotal()

	state := model.NewPostState(in)
	state.AddMessage(schema.UserMessage(in.Query))

	deps := &Deps{
		Model:    c.Model,
		Filter:   c.Filter,
		Registry: c.registry(ctx, in.Tenant),
		Config:   c.Config,
		Chat:     c.Chat,
		Company:  prompts.CompanyFrom(c.Chat),
		Env:      subagent.Env{Usage: usage, Timing: timing, Tenant: in.Tenant},
		Now:      c.Now,
	}

	state, runErr := graph.Run(ctx, Start(), state, deps)
	res := &Result{
		Answer:         state.Answer,
		Post:           state.Post,
		Refused:        state.Refused,
		RefinedContext: state.RefinedContext,
		Usage:          usage.Finalize(),
		Timing:         timing.Finalize(),
	}
	if in.Debug {
		res.RetrievalStates = state.Ledger.RetrievalStates()
		res.ToolCalls = state.ToolCalls
	}

	logx.Info().
		Str("tenant", in.Tenant).
		Bool("refused", state.Refused).
		Bool("has_title", state.Post.Title != "").
		Bool("has_body", state.Post.Body != "").
		Int("iterations", state.Iteration).
		Int("tokens", res.Usage.Tokens.Total()).
		Float64("cost_usd", res.Usage.TotalCostUSD).
		Dur("total", res.Timing.Total).
		Msg("Post creation finished")

	if runErr != nil {
		logx.Error().Err(runErr).Str("kind", errx.Classify(runErr).String()).Str("tenant", in.Tenant).Msg("Post creation failed")
		res.Error = errx.UserMessage(runErr)
		return res, runErr
	}
	return res, nil
}

func (c *Creator) registry(ctx context.Context, tenant string) *subagent.Registry {
	if c.Registry == nil {
		return subagent.NewRegistry()
	}
	return c.Registry.Available(ctx, c.Gate, tenant)
}
