package users

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/workplace-chat/orchestrator/internal/agent/featureflag"
	"github.com/workplace-chat/orchestrator/internal/agent/graph"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/prompts"
	"github.com/workplace-chat/orchestrator/internal/agent/llm"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
	"github.com/workplace-chat/orchestrator/internal/agent/stream"
	"github.com/workplace-chat/orchestrator/internal/agent/subagent"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

const (
	searchNode = "user_search_agent"

	noUsersAnswer = "No users found matching the search criteria"
)

// Deps are the collaborators of one user search run.
type Deps struct {
	Model     llm.Gateway
	Directory Directory
	Config    model.UserSearchConfig
	Company   prompts.Company
	Env       subagent.Env
}

// Agent runs user searches. It is safe for concurrent use.
type Agent struct {
	Model     llm.Gateway
	Directory Directory
	Config    model.UserSearchConfig
	Company   prompts.Company
}

type step = graph.Step[*model.UserSearchState, *Deps]

// SearchUsers lets the model call the directory tools until it answers, the
// iteration budget runs out or the token ceiling is crossed.
type SearchUsers struct{}

func (SearchUsers) Name() string { return "SearchUsers" }

func (SearchUsers) Execute(ctx context.Context, s *model.UserSearchState, d *Deps) (step, error) {
	system, err := prompts.RenderUserSearchSystem(ctx, d.Company, s.Query, ToolSearchUsers, d.Config.MaxResults)
	if err != nil {
		return nil, err
	}
	if len(s.Messages) == 0 {
		s.AddMessage(schema.UserMessage(s.Query))
	}
	box := d.toolbox(s)

	for s.Iteration < d.Config.MaxIterations {
		s.Iteration++
		resp, err := d.Model.Generate(ctx, llm.Request{
			Name:     searchNode,
			System:   system,
			Messages: s.Messages,
			Tools:    box.Specs(),
		})
		if err != nil {
			return nil, err
		}
		d.Env.Usage.Record(searchNode, d.Model.Model(), resp.Usage)
		s.TokensUsed += resp.Usage.Total()

		msg := resp.Message
		llm.EnsureToolCallIDs(msg)
		s.AddMessage(msg)
		if len(msg.ToolCalls) == 0 {
			return graph.End[*model.UserSearchState, *Deps](), nil
		}
		if d.Env.Bus != nil {
			calls := make([]model.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				calls[i] = model.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: tc.Function.Arguments}
			}
			d.Env.Bus.EmitDebug(stream.ToolCallsEvent{Agent: searchNode, ToolCalls: calls})
		}

		if d.Config.TotalTokensLimit > 0 && s.TokensUsed > d.Config.TotalTokensLimit {
			logx.Warn().
				Int("tokens_used", s.TokensUsed).
				Int("limit", d.Config.TotalTokensLimit).
				Int("users", len(s.Users)).
				Msg("User search agent exceeded token limit, returning partial results")
			s.Partial = true
			return graph.End[*model.UserSearchState, *Deps](), nil
		}

		for _, call := range msg.ToolCalls {
			out, err := box.Run(ctx, call)
			if err != nil {
				return nil, err
			}
			s.AddMessage(out)
		}
	}

	logx.Warn().Str("task", s.Query).Int("iterations", s.Iteration).Msg("User search agent reached its iteration limit")
	return graph.End[*model.UserSearchState, *Deps](), nil
}

// Run searches the directory for task.
func (a *Agent) Run(ctx context.Context, env subagent.Env, task string) (*model.UserSearchState, error) {
	deps := &Deps{Model: a.Model, Directory: a.Directory, Config: a.Config, Company: a.Company, Env: env}
	state, err := graph.Run(ctx, step(SearchUsers{}), model.NewUserSearchState(task), deps)
	if err != nil {
		return nil, err
	}
	state.Answer = Answer(state.Users)
	if env.Bus != nil {
		env.Bus.EmitDebug(stream.UserSearchAgentStatesEvent{States: []*model.UserSearchState{state}})
	}
	return state, nil
}

// Answer formats the found users as the delegation result.
func Answer(found []model.User) string {
	if len(found) == 0 {
		return noUsersAnswer
	}
	lines := make([]string, len(found))
	for i, u := range found {
		lines[i] = u.String()
	}
	return fmt.Sprintf("**Found %d user(s)**:\n%s", len(found), strings.Join(lines, "\n"))
}

type delegateArgs struct {
	SearchTask string `json:"search_task"`
}

var DelegateSpec = llm.ToolSpec{
	Name: subagent.ToolUserSearchAgent,
	Desc: "Delegate user search tasks to a user search agent that finds users by name, department or custom " +
		"user attributes and returns the relevant user information.",
	Params: map[string]*schema.ParameterInfo{
		"search_task": {
			Type:     schema.String,
			Desc:     "Which users to find and what information is needed about them",
			Required: true,
		},
	},
}

const reference = `# When to Search Users
Call ` + "`call_user_search_agent`" + ` when ANY of the following apply:
- The query asks about specific people by name
- The query asks for users in a department, team or role, or with specific attributes
- The query needs contact details or the composition of a team

# When NOT to Search Users
- The answer is already present in the conversation history
- The query is about documents, posts or policies (use the retrieval agent instead)

# Query Shaping
Include the name or criteria you are searching by and the attributes the answer needs.`

var examples = []prompts.Example{
	{
		Task:   "Find information about a specific employee",
		Reason: "The query asks about a specific person by name",
		Conversation: `- Tool call: call_user_search_agent("Find user named Marco Brunner and show department and role")
- Tool response: "Found 1 user: Marco Brunner - department: Sales - role: Account Manager"
- Result: Marco Brunner works as an Account Manager in the Sales department`,
	},
	{
		Task:   "Find users in a specific department",
		Reason: "The query asks about team composition",
		Conversation: `- Tool call: call_user_search_agent("Find all users in Engineering department")
- Tool response: "Found 24 users in Engineering: Alice Johnson, Bob Smith, ..."
- Result: The Engineering department has 24 employees including Alice Johnson and Bob Smith`,
	},
}

// NewSubAgent exposes a behind the user search feature flag.
func NewSubAgent(a *Agent) subagent.Entry {
	return subagent.Entry{
		Spec:        DelegateSpec,
		AgentType:   model.AgentUserSearch,
		Label:       "user search",
		FeatureFlag: featureflag.UserSearch,
		MaxCalls:    a.Config.MaxAgentCalls,
		Reference:   reference,
		Examples:    examples,
		Invoke: func(ctx context.Context, env subagent.Env, args string) (subagent.Result, error) {
			var in delegateArgs
			if err := subagent.DecodeArgs(subagent.ToolUserSearchAgent, args, &in); err != nil {
				return subagent.Result{}, err
			}
			if strings.TrimSpace(in.SearchTask) == "" {
				return subagent.Result{Answer: "The search task must not be empty."}, nil
			}
			state, err := a.Run(ctx, env, in.SearchTask)
			if err != nil {
				return subagent.Result{}, err
			}
			return subagent.Result{Answer: state.Answer, State: state}, nil
		},
	}
}
