// Package llm is the model gateway used by every agent: provider adapters,
// retry, structured output and tool-call helpers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/cloudwego/eino/schema"

	"github.com/workplace-chat/orchestrator/internal/agent/model"
)

// ToolSpec describes a tool the model may call.
type ToolSpec struct {
	Name   string
	Desc   string
	Params map[string]*schema.ParameterInfo
}

// Info converts the tool spec to an eino ToolInfo.
func (t ToolSpec) Info() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name:        t.Name,
		Desc:        t.Desc,
		ParamsOneOf: schema.NewParamsOneOfByParams(t.Params),
	}
}

// Request is one model call.
type Request struct {
	// Name labels the call in logs, spans and usage metrics, e.g. "rerank".
	Name     string
	System   string
	Messages []*schema.Message
	Tools    []ToolSpec
	// JSON asks for a single JSON object reply.
	JSON bool
}

// Input returns the system prompt followed by the conversation.
func (r Request) Input() []*schema.Message {
	out := make([]*schema.Message, 0, len(r.Messages)+1)
	if r.System != "" {
		out = append(out, schema.SystemMessage(r.System))
	}
	return append(out, r.Messages...)
}

// Response is a completed model call.
type Response struct {
	Message *schema.Message
	Model   string
	Usage   model.TokenUsage
}

// Gateway is a chat-completion provider.
type Gateway interface {
	// Model returns the model name used for pricing.
	Model() string
	Generate(ctx context.Context, req Request) (*Response, error)
	Stream(ctx context.Context, req Request) (*schema.StreamReader[*schema.Message], error)
}

// UsageOf reads the token usage reported on msg.
func UsageOf(msg *schema.Message) model.TokenUsage {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return model.TokenUsage{}
	}
	u := msg.ResponseMeta.Usage
	return model.TokenUsage{
		Input:  u.PromptTokens,
		Output: u.CompletionTokens,
		Cached: u.PromptTokenDetails.CachedTokens,
	}
}

// Collect drains sr, calling onChunk for every chunk, and concatenates the
// chunks into one message.
func Collect(sr *schema.StreamReader[*schema.Message], onChunk func(*schema.Message) error) (*schema.Message, error) {
	defer sr.Close()

	var chunks []*schema.Message
	for {
		chunk, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			continue
		}
		chunks = append(chunks, chunk)
		if onChunk != nil {
			if err := onChunk(chunk); err != nil {
				return nil, err
			}
		}
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("model stream ended without output")
	}
	return schema.ConcatMessages(chunks)
}

// forward re-publishes src, translating errors with classify and rejecting
// chunks that check flags.
func forward(src *schema.StreamReader[*schema.Message], classify func(error) error, check func(*schema.Message) error) *schema.StreamReader[*schema.Message] {
	out, w := schema.Pipe[*schema.Message](8)
	go func() {
		defer src.Close()
		defer w.Close()
		for {
			chunk, err := src.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				w.Send(nil, classify(err))
				return
			}
			if check != nil {
				if cerr := check(chunk); cerr != nil {
					w.Send(nil, cerr)
					return
				}
			}
			if closed := w.Send(chunk, nil); closed {
				return
			}
		}
	}()
	return out
}
