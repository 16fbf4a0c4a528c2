// Package subagent lets an orchestrating agent delegate work to nested agent
// graphs exposed as tools.
package subagent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/workplace-chat/orchestrator/internal/agent/featureflag"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/prompts"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/tools"
	"github.com/workplace-chat/orchestrator/internal/agent/llm"
	"github.com/workplace-chat/orchestrator/internal/agent/metrics"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
	"github.com/workplace-chat/orchestrator/internal/agent/stream"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

// Delegation tool names.
const (
	ToolRetrievalAgent  = "call_retrieval_agent"
	ToolUserSearchAgent = "call_user_search_agent"
	ToolTriggerAgent    = "call_trigger_agent"
	ToolFlowAgent       = "call_flow_agent"
)

// Env is what a sub-agent run shares with the orchestrating run.
type Env struct {
	Bus    *stream.Bus
	Usage  *metrics.Usage
	Timing *metrics.Timing
	Tenant string
}

// Result is the outcome of one sub-agent run.
type Result struct {
	// Answer is returned to the orchestrating model as the tool result.
	Answer string
	// State is recorded in the ledger.
	State any
}

// ArgumentError reports delegation arguments that do not decode into the
// sub-agent's input.
type ArgumentError struct {
	Tool string
	Err  error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("decode %s arguments: %v", e.Tool, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// DecodeArgs decodes the JSON arguments of tool into out.
func DecodeArgs(tool, args string, out any) error {
	if err := json.Unmarshal([]byte(args), out); err != nil {
		return &ArgumentError{Tool: tool, Err: err}
	}
	return nil
}

// Invoker runs a sub-agent graph with the raw JSON tool arguments.
type Invoker func(ctx context.Context, env Env, args string) (Result, error)

// Entry is one delegatable sub-agent.
type Entry struct {
	Spec      llm.ToolSpec
	AgentType string
	// Label names the agent in the ceiling message.
	Label string
	// FeatureFlag gates the entry per tenant. Empty means always on.
	FeatureFlag string
	MaxCalls    int
	// Reference is the chat prompt section describing when to delegate.
	Reference string
	Examples  []prompts.Example
	Invoke    Invoker
}

// Registry is an ordered, static list of entries.
type Registry struct {
	entries []Entry
}

func NewRegistry(entries ...Entry) *Registry {
	return &Registry{entries: entries}
}

// Available returns the entries enabled for tenant. The gate is asked once
// per flagged entry; a gate error disables the entry.
func (r *Registry) Available(ctx context.Context, gate featureflag.Gate, tenant string) *Registry {
	out := &Registry{}
	for _, e := range r.entries {
		if e.FeatureFlag != "" {
			if gate == nil {
				continue
			}
			on, err := gate.IsEnabled(ctx, tenant, e.FeatureFlag)
			if err != nil {
				logx.Warn().Err(err).Str("tenant", tenant).Str("flag", e.FeatureFlag).Msg("Feature flag lookup failed, disabling sub-agent")
				continue
			}
			if !on {
				continue
			}
		}
		out.entries = append(out.entries, e)
	}
	return out
}

func (r *Registry) Entries() []Entry {
	return r.entries
}

func (r *Registry) Specs() []llm.ToolSpec {
	out := make([]llm.ToolSpec, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Spec
	}
	return out
}

func (r *Registry) References() []string {
	var out []string
	for _, e := range r.entries {
		if e.Reference != "" {
			out = append(out, e.Reference)
		}
	}
	return out
}

func (r *Registry) Examples() []prompts.Example {
	var out []prompts.Example
	for _, e := range r.entries {
		out = append(out, e.Examples...)
	}
	return out
}

func (r *Registry) Lookup(name string) (Entry, bool) {
	for _, e := range r.entries {
		if e.Spec.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Call runs the sub-agent behind tool name and records its state in the
// ledger of state. Once the ledger holds MaxCalls runs of the agent type the
// call is answered with a fixed message without running anything.
func (r *Registry) Call(ctx context.Context, env Env, state *model.OrchestrationState, name, args string) (string, error) {
	e, ok := r.Lookup(name)
	if !ok {
		return "", fmt.Errorf("unknown sub-agent %q", name)
	}
	if state.Ledger == nil {
		state.Ledger = model.NewLedger()
	}

	if e.MaxCalls > 0 && state.Ledger.Count(e.AgentType) >= e.MaxCalls {
		logx.Info().Str("agent", e.AgentType).Int("max_calls", e.MaxCalls).Msg("Sub-agent call ceiling reached")
		return CeilingMessage(e.Label), nil
	}

	res, err := e.Invoke(ctx, env, args)
	var argErr *ArgumentError
	if errors.As(err, &argErr) {
		logx.Warn().Err(err).Str("agent", e.AgentType).Msg("Sub-agent arguments did not decode")
		return tools.InvalidArguments(name, argErr.Err), nil
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", e.AgentType, err)
	}
	if res.State != nil {
		state.Ledger.Record(e.AgentType, res.State)
	}
	return res.Answer, nil
}

// CeilingMessage is returned instead of running a sub-agent past its ceiling.
func CeilingMessage(label string) string {
	return fmt.Sprintf("Maximum number of %s calls exceeded.", label)
}
