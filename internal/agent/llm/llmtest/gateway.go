// Package llmtest provides a scripted llm.Gateway for tests.
package llmtest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cloudwego/eino/schema"

	"github.com/workplace-chat/orchestrator/internal/agent/llm"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
)

// Reply is one scripted model answer.
type Reply struct {
	Content      string
	ToolCalls    []schema.ToolCall
	Usage        model.TokenUsage
	FinishReason string
	// Err fails the call before any output.
	Err error
	// StreamErr fails a stream after its content chunks were delivered.
	StreamErr error
}

// Text is a plain content reply.
func Text(content string) Reply {
	return Reply{Content: content}
}

// JSON is a reply whose content is v encoded as JSON.
func JSON(v any) Reply {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return Reply{Content: string(b)}
}

// Call is a reply that requests one tool call per entry of calls (name, args).
func Call(calls ...[2]string) Reply {
	r := Reply{}
	for i, c := range calls {
		r.ToolCalls = append(r.ToolCalls, schema.ToolCall{
			ID:       fmt.Sprintf("call_%d", i+1),
			Type:     "function",
			Function: schema.FunctionCall{Name: c[0], Arguments: c[1]},
		})
	}
	return r
}

// Fail is a reply that returns err.
func Fail(err error) Reply {
	return Reply{Err: err}
}

// Gateway replays scripted replies in order, or answers through Handler when set.
type Gateway struct {
	Name    string
	Handler func(req llm.Request) Reply
	// ChunkSize splits streamed content; defaults to 8 bytes.
	ChunkSize int

	mu       sync.Mutex
	replies  []Reply
	requests []llm.Request
}

func New(name string, replies ...Reply) *Gateway {
	return &Gateway{Name: name, replies: replies}
}

// Push appends scripted replies.
func (g *Gateway) Push(replies ...Reply) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies = append(g.replies, replies...)
}

// Requests returns a copy of every request received.
func (g *Gateway) Requests() []llm.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]llm.Request(nil), g.requests...)
}

// Calls returns the number of requests received.
func (g *Gateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.requests)
}

// Remaining returns the number of unused scripted replies.
func (g *Gateway) Remaining() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.replies)
}

func (g *Gateway) Model() string {
	if g.Name == "" {
		return "llmtest"
	}
	return g.Name
}

func (g *Gateway) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := g.next(req)
	if r.Err != nil {
		return nil, r.Err
	}
	if r.StreamErr != nil {
		return nil, r.StreamErr
	}
	msg := r.message()
	return &llm.Response{Message: msg, Model: g.Model(), Usage: r.Usage}, nil
}

func (g *Gateway) Stream(ctx context.Context, req llm.Request) (*schema.StreamReader[*schema.Message], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := g.next(req)
	if r.Err != nil {
		return nil, r.Err
	}

	size := g.ChunkSize
	if size <= 0 {
		size = 8
	}
	var chunks []*schema.Message
	for i := 0; i < len(r.Content); i += size {
		end := min(i+size, len(r.Content))
		chunks = append(chunks, &schema.Message{Role: schema.Assistant, Content: r.Content[i:end]})
	}
	last := &schema.Message{Role: schema.Assistant, ToolCalls: r.ToolCalls, ResponseMeta: r.meta()}
	chunks = append(chunks, last)

	sr, w := schema.Pipe[*schema.Message](len(chunks) + 1)
	go func() {
		defer w.Close()
		for i, c := range chunks {
			if r.StreamErr != nil && i == len(chunks)-1 {
				w.Send(nil, r.StreamErr)
				return
			}
			if closed := w.Send(c, nil); closed {
				return
			}
		}
	}()
	return sr, nil
}

func (g *Gateway) next(req llm.Request) Reply {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)

	if g.Handler != nil {
		h := g.Handler
		g.mu.Unlock()
		r := h(req)
		g.mu.Lock()
		return r
	}
	if len(g.replies) == 0 {
		return Reply{Err: fmt.Errorf("llmtest: no scripted reply for %q", req.Name)}
	}
	r := g.replies[0]
	g.replies = g.replies[1:]
	return r
}

func (r Reply) meta() *schema.ResponseMeta {
	return &schema.ResponseMeta{
		FinishReason: r.FinishReason,
		Usage: &schema.TokenUsage{
			PromptTokens:     r.Usage.Input,
			CompletionTokens: r.Usage.Output,
			TotalTokens:      r.Usage.Total(),
		},
	}
}

func (r Reply) message() *schema.Message {
	calls := append([]schema.ToolCall(nil), r.ToolCalls...)
	return &schema.Message{
		Role:         schema.Assistant,
		Content:      r.Content,
		ToolCalls:    calls,
		ResponseMeta: r.meta(),
	}
}
