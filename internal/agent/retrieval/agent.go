// Package retrieval is the iterative document retrieval sub-agent: search
// rounds over posts and pages, listwise reranking and a sufficiency loop.
package retrieval

import (
	"context"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/retriever"
	"github.com/cloudwego/eino/schema"

	"github.com/workplace-chat/orchestrator/internal/agent/graph"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/prompts"
	"github.com/workplace-chat/orchestrator/internal/agent/llm"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
	"github.com/workplace-chat/orchestrator/internal/agent/stream"
	"github.com/workplace-chat/orchestrator/internal/agent/subagent"
)

const noInformationAnswer = "No information found in the company knowledge bases"

// Deps are the collaborators of one retrieval run.
type Deps struct {
	Model     llm.Gateway
	Evaluator llm.Gateway
	Reranker  *Reranker
	Posts     retriever.Retriever
	Pages     retriever.Retriever
	Config    model.RetrievalConfig
	Company   prompts.Company
	Now       func() time.Time
	Env       subagent.Env
}

func (d *Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// Agent runs retrieval graphs. It is safe for concurrent use; every run
// gets its own state.
type Agent struct {
	Model     llm.Gateway
	Reranker  llm.Gateway
	Evaluator llm.Gateway
	Posts     retriever.Retriever
	Pages     retriever.Retriever
	Config    model.RetrievalConfig
	Company   prompts.Company
	Now       func() time.Time
}

// Run researches task and returns the final state with its formatted answer.
func (a *Agent) Run(ctx context.Context, env subagent.Env, task string) (*model.RetrievalState, error) {
	deps := &Deps{
		Model:     a.Model,
		Evaluator: a.Evaluator,
		Reranker:  &Reranker{Gateway: a.Reranker, Config: a.Config, Company: a.Company, Now: a.Now},
		Posts:     a.Posts,
		Pages:     a.Pages,
		Config:    a.Config,
		Company:   a.Company,
		Now:       a.Now,
		Env:       env,
	}

	started := time.Now()
	state, err := graph.Run(ctx, graph.Step[*model.RetrievalState, *Deps](ProcessMessage{}), model.NewRetrievalState(task), deps)
	if err != nil {
		return nil, err
	}
	state.RetrievalTime = time.Since(started)
	env.Timing.RecordRetrieval(state.RetrievalTime)

	state.Answer = Answer(state.Evidence)
	if env.Bus != nil {
		env.Bus.EmitDebug(stream.RetrievalAgentStatesEvent{States: []*model.RetrievalState{state}})
	}
	return state, nil
}

// Answer formats the evidence as the tool result of the delegation.
func Answer(evidence []model.Evidence) string {
	if len(evidence) == 0 {
		return noInformationAnswer
	}
	return "Retrieved information from the company knowledge bases: \n\n " + FormatEvidence(evidence)
}

type delegateArgs struct {
	ResearchTask string `json:"research_task"`
}

// DelegateSpec is the tool the chat model calls to start a retrieval run.
var DelegateSpec = llm.ToolSpec{
	Name: subagent.ToolRetrievalAgent,
	Desc: "Delegate a research task to a retrieval agent that searches the internal posts and knowledge base pages, " +
		"reranks what it finds and returns the most relevant documents. Use it for comprehensive, multi-faceted research " +
		"questions rather than single keyword lookups. Include context, related topics and the desired time scope.",
	Params: map[string]*schema.ParameterInfo{
		"research_task": {
			Type:     schema.String,
			Desc:     "A comprehensive research question or topic to investigate",
			Required: true,
		},
	},
}

const reference = `# When to Search
Call ` + "`call_retrieval_agent`" + ` when ANY of the following apply:
- The query involves company-specific entities (teams, products, policies, benefits, processes) or terms with an internal meaning
- You are not confident about the relevant facts from context or history
- The answer might be time-sensitive: call ` + "`get_current_date_time`" + ` first, then retrieve

# When NOT to Search
- The answer is already in the preceding tool output or chat history
- The user is only acknowledging or making small talk

# Query Shaping
Include the topic and intent, the must-have details, and a concrete time window when the user names one.`

var examples = []prompts.Example{
	{
		Task:   "Provide information about vacation policy",
		Reason: "Company-specific policy details require a knowledge base search",
		Conversation: `- Tool call: call_retrieval_agent("Vacation/leave policy: eligibility, accrual, approval flow, latest updates")
- Tool response:
  - Title: Vacation & Leave Policy
  - Last Time Edited: 2025-03-12
  - Excerpt: "Employees accrue 1.75 days per month; carryover up to 5 days; manager approval required."
- Result: employees accrue 1.75 days per month with up to 5 days carryover, manager approval required`,
	},
	{
		Task:   "Check the current status of the travel stipend",
		Reason: "Time-sensitive benefit that needs the current date and an internal lookup",
		Conversation: `- Tool call: get_current_date_time
- Tool response: "Today's date is Saturday, July 12, 2025 and the current time is 10:30:00 AM"
- Tool call: call_retrieval_agent("Travel stipend policy status: eligibility, dates, regional differences, updates since 2025")
- Result: found a July 2025 update stating the stipend runs through Q3`,
	},
}

// NewSubAgent exposes a as a delegatable sub-agent.
func NewSubAgent(a *Agent) subagent.Entry {
	return subagent.Entry{
		Spec:      DelegateSpec,
		AgentType: model.AgentRetrieval,
		Label:     "retrieval",
		MaxCalls:  a.Config.MaxAgentCalls,
		Reference: reference,
		Examples:  examples,
		Invoke: func(ctx context.Context, env subagent.Env, args string) (subagent.Result, error) {
			var in delegateArgs
			if err := subagent.DecodeArgs(subagent.ToolRetrievalAgent, args, &in); err != nil {
				return subagent.Result{}, err
			}
			if strings.TrimSpace(in.ResearchTask) == "" {
				return subagent.Result{Answer: "The research task must not be empty."}, nil
			}
			state, err := a.Run(ctx, env, in.ResearchTask)
			if err != nil {
				return subagent.Result{}, err
			}
			return subagent.Result{Answer: state.Answer, State: state}, nil
		},
	}
}
