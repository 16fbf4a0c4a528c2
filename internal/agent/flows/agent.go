package flows

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/workplace-chat/orchestrator/internal/agent/featureflag"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/prompts"
	"github.com/workplace-chat/orchestrator/internal/agent/llm"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
	"github.com/workplace-chat/orchestrator/internal/agent/stream"
	"github.com/workplace-chat/orchestrator/internal/agent/subagent"
	errx "github.com/workplace-chat/orchestrator/internal/core/error"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

const (
	flowNode = "flow_agent"

	// NoFlowAnswer starts every reply that did not start a flow.
	NoFlowAnswer = "No flows applicable."
)

// Selection is the structured reply of the flow model. Index 0 means no
// flow applies.
type Selection struct {
	Index         int    `json:"index"`
	ReturnMessage string `json:"return_message"`
}

// Agent selects a tenant flow and asks the client to start it.
type Agent struct {
	Model   llm.Gateway
	Catalog Catalog
	Config  model.FlowConfig
}

// Run evaluates task against the flows of env.Tenant. A catalog that cannot
// be loaded is answered as "no flow applies".
func (a *Agent) Run(ctx context.Context, env subagent.Env, task string) (*model.FlowState, error) {
	state := &model.FlowState{Task: task, Answer: NoFlowAnswer}

	list, err := a.Catalog.List(ctx, env.Tenant)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logx.Error().Err(err).Str("tenant", env.Tenant).Str("kind", errx.Classify(err).String()).Msg("Failed to load flows")
		return state, nil
	}

	sel, err := a.selectFlow(ctx, env, task, list)
	if err != nil {
		return nil, err
	}
	if sel.ReturnMessage != "" {
		state.Answer = sel.ReturnMessage
	}
	if sel.Index <= 0 {
		return state, nil
	}
	if sel.Index > len(list) {
		logx.Warn().Int("index", sel.Index).Int("flows", len(list)).Msg("Flow index out of range, treating as no flow")
		state.Answer = NoFlowAnswer
		return state, nil
	}

	f := list[sel.Index-1]
	if f.Keyword == "" || f.APIClientID == "" {
		logx.Warn().Str("flow", f.Name).Msg("Flow is missing its keyword or client id")
		state.Answer = NoFlowAnswer
		return state, nil
	}
	if env.Bus != nil {
		env.Bus.Emit(stream.TriggerFlipFlowEvent{
			APIClientID: f.APIClientID,
			Keyword:     f.Keyword,
			Name:        f.Name,
			Reason:      sel.ReturnMessage,
			Index:       sel.Index,
		})
	}

	logx.Info().Str("tenant", env.Tenant).Str("flow", f.Name).Int("index", sel.Index).Msg("Flow selected")
	state.SelectedIndex = sel.Index
	return state, nil
}

func (a *Agent) selectFlow(ctx context.Context, env subagent.Env, task string, list []model.Flow) (Selection, error) {
	system, err := prompts.RenderFlowSystem(ctx, list)
	if err != nil {
		return Selection{}, err
	}

	sel, resp, err := llm.GenerateJSON[Selection](ctx, a.Model, llm.Request{
		Name:     flowNode,
		System:   system,
		Messages: []*schema.Message{schema.UserMessage(task)},
	})
	if resp != nil {
		env.Usage.Record(flowNode, a.Model.Model(), resp.Usage)
	}
	if errors.Is(err, errx.ErrMalformedOutput) {
		logx.Warn().Err(err).Str("task", task).Msg("Unreadable flow selection, treating as no flow")
		return Selection{}, nil
	}
	return sel, err
}

type delegateArgs struct {
	Task string `json:"task"`
}

var DelegateSpec = llm.ToolSpec{
	Name: subagent.ToolFlowAgent,
	Desc: "Delegate tasks that a conversational flow could handle to the flow agent. It starts the matching flow " +
		"when a clear fit exists. If no flow applies the result starts with \"No flows applicable.\"; use it as " +
		"guidance, not as the verbatim answer.",
	Params: map[string]*schema.ParameterInfo{
		"task": {
			Type:     schema.String,
			Desc:     "The user request to match against the available flows",
			Required: true,
		},
	},
}

const reference = `# Flows
Flows are guided conversations, such as requesting absence or reporting an IT issue, that run in the chat client.
When the user wants to start a process that a flow covers, delegate to the flow agent; it starts the flow for the user.
Do not describe the steps of a flow yourself once it was started.`

// NewSubAgent exposes a behind the flows feature flag.
func NewSubAgent(a *Agent) subagent.Entry {
	return subagent.Entry{
		Spec:        DelegateSpec,
		AgentType:   model.AgentFlow,
		Label:       "flow",
		FeatureFlag: featureflag.Flows,
		MaxCalls:    a.Config.MaxAgentCalls,
		Reference:   reference,
		Invoke: func(ctx context.Context, env subagent.Env, args string) (subagent.Result, error) {
			var in delegateArgs
			if err := subagent.DecodeArgs(subagent.ToolFlowAgent, args, &in); err != nil {
				return subagent.Result{}, err
			}
			if strings.TrimSpace(in.Task) == "" {
				return subagent.Result{Answer: "The task must not be empty."}, nil
			}
			state, err := a.Run(ctx, env, in.Task)
			if err != nil {
				return subagent.Result{}, err
			}
			return subagent.Result{Answer: state.Answer, State: state}, nil
		},
	}
}
