// Package tools holds the shared tool plumbing of the agent loops.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"

	"github.com/workplace-chat/orchestrator/internal/agent/llm"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

var errMalformedArguments = errors.New("arguments are not valid JSON")

type slotKey struct{}

// callSlot tells Run whether a typed tool got past argument decoding.
type callSlot struct {
	called bool
	err    error
}

// typedTool marks tools built by New.
type typedTool struct {
	tool.InvokableTool
}

// New builds an invokable eino tool from spec and a typed function.
func New[I, O any](spec llm.ToolSpec, fn func(ctx context.Context, in I) (O, error)) tool.InvokableTool {
	return &typedTool{utils.NewTool(spec.Info(), func(ctx context.Context, in I) (O, error) {
		slot, _ := ctx.Value(slotKey{}).(*callSlot)
		if slot != nil {
			slot.called = true
		}
		out, err := fn(ctx, in)
		if err != nil && slot != nil {
			// keep the typed error; the eino wrapper may flatten it
			slot.err = err
		}
		return out, err
	})}
}

// InvalidArguments is the tool result sent back to the model when its
// arguments for name could not be decoded.
func InvalidArguments(name string, err error) string {
	return fmt.Sprintf("Invalid arguments for tool %s: %v. Call the tool again with valid JSON arguments that match its parameters.", name, err)
}

type entry struct {
	spec llm.ToolSpec
	tool tool.InvokableTool
}

// Toolbox is the ordered set of tools offered to one model loop.
type Toolbox struct {
	order []string
	tools map[string]entry
}

func NewToolbox() *Toolbox {
	return &Toolbox{tools: make(map[string]entry)}
}

// Add registers t under spec.Name. A later Add with the same name replaces it.
func (b *Toolbox) Add(spec llm.ToolSpec, t tool.InvokableTool) *Toolbox {
	if _, ok := b.tools[spec.Name]; !ok {
		b.order = append(b.order, spec.Name)
	}
	b.tools[spec.Name] = entry{spec: spec, tool: t}
	return b
}

// Specs returns the tool descriptions in registration order.
func (b *Toolbox) Specs() []llm.ToolSpec {
	out := make([]llm.ToolSpec, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.tools[name].spec)
	}
	return out
}

func (b *Toolbox) Has(name string) bool {
	_, ok := b.tools[name]
	return ok
}

func (b *Toolbox) Len() int { return len(b.order) }

// Run executes call and wraps the result as the tool message answering it.
// Unknown tools and undecodable arguments are reported to the model rather
// than failing the loop.
func (b *Toolbox) Run(ctx context.Context, call schema.ToolCall) (*schema.Message, error) {
	name := call.Function.Name
	e, ok := b.tools[name]
	if !ok {
		logx.Warn().Str("tool", name).Msg("Model requested an unknown tool")
		return schema.ToolMessage(fmt.Sprintf("Unknown tool: %s", name), call.ID), nil
	}

	args := call.Function.Arguments
	if args == "" {
		args = "{}"
	}

	if !json.Valid([]byte(args)) {
		logx.Warn().Str("tool", name).Str("arguments", args).Msg("Model sent malformed tool arguments")
		return schema.ToolMessage(InvalidArguments(name, errMalformedArguments), call.ID), nil
	}

	ctx = callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{Name: name, Type: "Tool", Component: components.ComponentOfTool})
	ctx = callbacks.OnStart(ctx, &tool.CallbackInput{ArgumentsInJSON: args})

	slot := &callSlot{}
	out, err := e.tool.InvokableRun(context.WithValue(ctx, slotKey{}, slot), args)
	if err != nil {
		callbacks.OnError(ctx, err)
		if _, typed := e.tool.(*typedTool); typed && !slot.called {
			logx.Warn().Err(err).Str("tool", name).Msg("Tool arguments did not decode")
			return schema.ToolMessage(InvalidArguments(name, err), call.ID), nil
		}
		if slot.err != nil {
			err = slot.err
		}
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	callbacks.OnEnd(ctx, &tool.CallbackOutput{Response: out})
	return schema.ToolMessage(out, call.ID), nil
}
