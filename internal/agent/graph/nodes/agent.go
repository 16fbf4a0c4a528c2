package nodes

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/google/uuid"

	"github.com/workplace-chat/orchestrator/internal/agent/featureflag"
	"github.com/workplace-chat/orchestrator/internal/agent/graph"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/conversations"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/prompts"
	"github.com/workplace-chat/orchestrator/internal/agent/llm"
	"github.com/workplace-chat/orchestrator/internal/agent/metrics"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
	"github.com/workplace-chat/orchestrator/internal/agent/stream"
	"github.com/workplace-chat/orchestrator/internal/agent/subagent"
	errx "github.com/workplace-chat/orchestrator/internal/core/error"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

// Start is the entry step of the chat graph.
func Start() graph.Step[*model.ChatState, *Deps] {
	return guarded(QueryValidation{})
}

// guarded routes a content-policy failure of s to RefuseAnswer.
func guarded(s step) step {
	return graph.WithContentPolicyFallback[*model.ChatState, *Deps](s, RefuseAnswer{})
}

// Agent answers chat turns. It is safe for concurrent use; every turn gets
// its own state, accumulators and tool set.
type Agent struct {
	Chat       llm.Gateway
	Validation llm.Gateway
	Filter     llm.Gateway
	Registry   *subagent.Registry
	Gate       featureflag.Gate
	// Messages persists the history. Without it every turn starts fresh.
	Messages *conversations.MessagesManager
	Metrics  *metrics.Collector
	Config   model.ChatConfig
	Now      func() time.Time
}

// Result is the outcome of one turn.
type Result struct {
	State  *model.ChatState
	Usage  metrics.UsageSummary
	Timing metrics.TimingSummary
}

// Stream runs one turn and writes its events to bus. The bus is closed when
// Stream returns. A failed run is reported on the bus and returned.
func (a *Agent) Stream(ctx context.Context, in model.QueryInput, bus *stream.Bus) (*Result, error) {
	if in.ConversationID == "" {
		in.ConversationID = uuid.NewString()
	}

	usage := a.Metrics.NewUsage()
	timing := a.Metrics.NewTiming(a.Now)
	timing.StartTotal()

	history, err := a.history(ctx, in)
	if err != nil {
		logx.Error().Err(err).Int("status", errx.StatusOf(err)).Str("conversationID", in.ConversationID).Msg("Failed to load conversation history")
		bus.Emit(stream.ErrorEvent{Error: errx.UserMessage(err)})
		bus.Close()
		return nil, err
	}

	state := model.NewChatState(in, history)
	state.Debug = in.Debug || bus.Debug()

	deps := &Deps{
		Chat:       a.Chat,
		Validation: a.Validation,
		Filter:     a.Filter,
		Registry:   a.registry(ctx, in.Tenant),
		Config:     a.Config,
		Company:    prompts.CompanyFrom(a.Config),
		Env:        subagent.Env{Bus: bus, Usage: usage, Timing: timing, Tenant: in.Tenant},
		Now:        a.Now,
	}

	state, runErr := graph.RunWithStream(ctx, bus, Start(), state, deps)
	res := &Result{State: state, Usage: usage.Finalize(), Timing: timing.Finalize()}

	logx.Info().
		Str("conversationID", in.ConversationID).
		Str("tenant", in.Tenant).
		Bool("refused", state.Refused).
		Int("iterations", state.Iteration).
		Int("tokens", res.Usage.Tokens.Total()).
		Float64("cost_usd", res.Usage.TotalCostUSD).
		Dur("total", res.Timing.Total).
		Dur("time_to_first_token", res.Timing.TimeToFirstToken).
		Msg("Chat turn finished")

	if runErr != nil {
		return res, runErr
	}
	if a.Messages != nil {
		if err := a.Messages.SaveAnswer(ctx, in.ConversationID, state.Answer); err != nil {
			logx.Error().Err(err).Int("status", errx.StatusOf(err)).Str("conversationID", in.ConversationID).Msg("Failed to save answer")
		}
	}
	return res, nil
}

func (a *Agent) history(ctx context.Context, in model.QueryInput) ([]*schema.Message, error) {
	if a.Messages == nil {
		return []*schema.Message{schema.UserMessage(in.Query)}, nil
	}
	return a.Messages.StartTurn(ctx, in.ConversationID, in.Query)
}

func (a *Agent) registry(ctx context.Context, tenant string) *subagent.Registry {
	if a.Registry == nil {
		return subagent.NewRegistry()
	}
	return a.Registry.Available(ctx, a.Gate, tenant)
}
