package subagent

import (
	"context"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/workplace-chat/orchestrator/internal/agent/graph/tools"
	"github.com/workplace-chat/orchestrator/internal/agent/llm"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
)

// AddTools registers one tool per entry on box. Each call runs through Call
// with env and the ledger of state.
func (r *Registry) AddTools(box *tools.Toolbox, env Env, state *model.OrchestrationState) {
	for _, e := range r.entries {
		name := e.Spec.Name
		box.Add(e.Spec, &delegateTool{spec: e.Spec, run: func(ctx context.Context, args string) (string, error) {
			return r.Call(ctx, env, state, name, args)
		}})
	}
}

// delegateTool hands the raw JSON arguments to a sub-agent.
type delegateTool struct {
	spec llm.ToolSpec
	run  func(ctx context.Context, args string) (string, error)
}

func (t *delegateTool) Info(context.Context) (*schema.ToolInfo, error) {
	return t.spec.Info(), nil
}

func (t *delegateTool) InvokableRun(ctx context.Context, args string, _ ...tool.Option) (string, error) {
	return t.run(ctx, args)
}
