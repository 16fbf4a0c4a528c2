package triggers

import (
	"cmp"
	"context"
	"errors"
	"fmt"
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
	triggerNode = "trigger_agent"

	// NoTriggerAnswer starts every reply that did not start a trigger.
	NoTriggerAnswer = "No triggers applicable."
)

// Selection is the structured reply of the trigger model. Index 0 means no
// trigger applies.
type Selection struct {
	Index         int    `json:"index"`
	ReturnMessage string `json:"return_message"`
}

// Agent selects and starts tenant triggers.
type Agent struct {
	Model   llm.Gateway
	Catalog Catalog
	Config  model.TriggerConfig
}

// Run evaluates task against the triggers of env.Tenant.
func (a *Agent) Run(ctx context.Context, env subagent.Env, task string) (*model.TriggerState, error) {
	state := &model.TriggerState{Task: task}

	list, err := a.Catalog.List(ctx, env.Tenant)
	if err != nil {
		return nil, err
	}
	sel, err := a.selectTrigger(ctx, env, task, list)
	if err != nil {
		return nil, err
	}

	if sel.Index <= 0 {
		state.Answer = sel.ReturnMessage
		if state.Answer == "" {
			state.Answer = NoTriggerAnswer
		}
		return state, nil
	}

	t := list[sel.Index-1]
	if len(t.Actions) == 0 {
		logx.Warn().Str("trigger", t.Name).Msg("Selected trigger has no actions")
		state.Answer = NoTriggerAnswer
		return state, nil
	}

	// only the first action runs
	action := t.Actions[0]
	if action.Type == model.ActionTriggerFlipFlow {
		if action.APIClientID == "" || action.Keyword == "" {
			logx.Warn().Str("trigger", t.Name).Msg("Flow action is missing its client id or keyword")
			state.Answer = NoTriggerAnswer
			return state, nil
		}
		if env.Bus != nil {
			env.Bus.Emit(stream.TriggerFlipFlowEvent{
				APIClientID: action.APIClientID,
				Keyword:     action.Keyword,
				Name:        cmp.Or(action.FlowName, t.Name),
				Reason:      sel.ReturnMessage,
				Index:       sel.Index,
			})
		}
	}

	logx.Info().Str("tenant", env.Tenant).Str("trigger", t.Name).Int("index", sel.Index).Msg("Trigger selected")
	state.Answer = sel.ReturnMessage
	state.SelectedIndex = sel.Index
	return state, nil
}

// selectTrigger asks for a selection and re-asks when the index is not on
// the list, up to Config.Retries times.
func (a *Agent) selectTrigger(ctx context.Context, env subagent.Env, task string, list []model.Trigger) (Selection, error) {
	system, err := prompts.RenderTriggerSystem(ctx, list)
	if err != nil {
		return Selection{}, err
	}
	messages := []*schema.Message{schema.UserMessage(task)}

	var lastErr error
	for attempt := 0; attempt <= max(a.Config.Retries, 0); attempt++ {
		sel, resp, err := llm.GenerateJSON[Selection](ctx, a.Model, llm.Request{
			Name:     triggerNode,
			System:   system,
			Messages: messages,
		})
		if resp != nil {
			env.Usage.Record(triggerNode, a.Model.Model(), resp.Usage)
		}

		var retry string
		switch {
		case errors.Is(err, errx.ErrMalformedOutput):
			retry = `Respond with JSON only: {"index": <number>, "return_message": "<text>"}.`
		case err != nil:
			return Selection{}, err
		case sel.Index > len(list):
			err = &errx.ValidationMismatchError{ItemType: "trigger", Detail: fmt.Sprintf("trigger index %d out of range", sel.Index)}
			retry = fmt.Sprintf("The selected index %d is not a valid trigger, please choose a valid one.", sel.Index)
		default:
			return sel, nil
		}

		lastErr = err
		logx.Warn().Err(err).Int("attempt", attempt+1).Msg("Invalid trigger selection")
		messages = append(messages, resp.Message, schema.UserMessage(retry))
	}

	logx.Warn().Err(lastErr).Str("task", task).Msg("No valid trigger selection, treating as no trigger")
	return Selection{ReturnMessage: NoTriggerAnswer}, nil
}

type delegateArgs struct {
	Task string `json:"task"`
}

var DelegateSpec = llm.ToolSpec{
	Name: subagent.ToolTriggerAgent,
	Desc: "Delegate tasks that could require a configured trigger to the trigger agent. Call it only when no other " +
		"agent can fulfil the query. It starts the matching action when a clear fit exists. If no trigger applies the " +
		"result starts with \"No triggers applicable.\"; use it as guidance, not as the verbatim answer.",
	Params: map[string]*schema.ParameterInfo{
		"task": {
			Type:     schema.String,
			Desc:     "The user task or question to evaluate for a trigger",
			Required: true,
		},
	},
}

const reference = `# Triggers
Triggers are predefined tasks that steer the user to an outcome when the intent of the question matches the trigger description.
Trigger actions range from canned responses to starting a conversational flow.

Use the trigger agent as a last resort when the query was not covered by any other agent.`

// NewSubAgent exposes a behind the triggers feature flag.
func NewSubAgent(a *Agent) subagent.Entry {
	return subagent.Entry{
		Spec:        DelegateSpec,
		AgentType:   model.AgentTrigger,
		Label:       "trigger",
		FeatureFlag: featureflag.Triggers,
		MaxCalls:    a.Config.MaxAgentCalls,
		Reference:   reference,
		Invoke: func(ctx context.Context, env subagent.Env, args string) (subagent.Result, error) {
			var in delegateArgs
			if err := subagent.DecodeArgs(subagent.ToolTriggerAgent, args, &in); err != nil {
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
