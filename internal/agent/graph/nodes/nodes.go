// Package nodes holds the steps of the top-level chat graph: query
// validation, the streamed answer with sub-agent tools, the refusal answer
// and the used-context filter.
package nodes

import (
	"context"
	"errors"
	"strings"

	"github.com/cloudwego/eino/schema"
	"golang.org/x/sync/errgroup"

	"github.com/workplace-chat/orchestrator/internal/agent/graph/prompts"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/tools"
	"github.com/workplace-chat/orchestrator/internal/agent/llm"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
	"github.com/workplace-chat/orchestrator/internal/agent/stream"
	"github.com/workplace-chat/orchestrator/internal/agent/subagent"
	errx "github.com/workplace-chat/orchestrator/internal/core/error"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

const (
	defaultLanguage = "English"

	// StaticRefusalAnswer is streamed when the refusal model itself fails.
	StaticRefusalAnswer = "I'm sorry, but I can't help with that request. " +
		"Feel free to ask me anything else related to your work."
)

type refuseQuestion struct {
	Refuse bool   `json:"refuse_question"`
	Reason string `json:"reason"`
}

type detectedLanguage struct {
	Language string `json:"language"`
}

// ===== QueryValidation =====

// QueryValidation runs the refusal check and the language detection in
// parallel and routes a refused question to RefuseAnswer.
type QueryValidation struct{}

func (QueryValidation) Name() string { return "QueryValidation" }

func (QueryValidation) Execute(ctx context.Context, s *model.ChatState, d *Deps) (step, error) {
	var (
		verdict  refuseQuestion
		language string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		v, err := d.checkRefusal(gctx, s.Messages)
		verdict = v
		return err
	})
	g.Go(func() error {
		l, err := d.detectLanguage(gctx, s.Messages)
		language = l
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.DetectedLanguage = language
	if verdict.Refuse {
		logx.Warn().Str("query", s.Query).Str("reason", verdict.Reason).Msg("Refused query")
		s.Refused = true
		s.SetRefusalReason(verdict.Reason)
		return RefuseAnswer{}, nil
	}
	return guarded(ProcessMessage{}), nil
}

// checkRefusal asks whether the latest question must be refused. An
// unparseable verdict lets the question through.
func (d *Deps) checkRefusal(ctx context.Context, history []*schema.Message) (refuseQuestion, error) {
	system, err := prompts.RenderRefuseQuestion(ctx, d.Company, history)
	if err != nil {
		return refuseQuestion{}, err
	}

	v, resp, err := llm.GenerateJSON[refuseQuestion](ctx, d.Validation, llm.Request{
		Name:     refusalNode,
		System:   system,
		Messages: []*schema.Message{schema.UserMessage("Decide whether the latest question must be refused.")},
	})
	if resp != nil {
		d.Env.Usage.Record(refusalNode, d.Validation.Model(), resp.Usage)
	}
	if errors.Is(err, errx.ErrMalformedOutput) {
		logx.Warn().Err(err).Msg("Refusal verdict unreadable, answering the question")
		return refuseQuestion{}, nil
	}
	return v, err
}

// detectLanguage returns the language the answer should be written in,
// English when the model gives nothing usable.
func (d *Deps) detectLanguage(ctx context.Context, history []*schema.Message) (string, error) {
	system, err := prompts.RenderDetectLanguage(ctx, history)
	if err != nil {
		return "", err
	}

	v, resp, err := llm.GenerateJSON[detectedLanguage](ctx, d.Validation, llm.Request{
		Name:     languageNode,
		System:   system,
		Messages: []*schema.Message{schema.UserMessage("Detect the language of the latest question.")},
	})
	if resp != nil {
		d.Env.Usage.Record(languageNode, d.Validation.Model(), resp.Usage)
	}
	if errors.Is(err, errx.ErrMalformedOutput) {
		logx.Warn().Err(err).Msg("Language detection unreadable, using default")
		return defaultLanguage, nil
	}
	if err != nil {
		return "", err
	}
	if lang := strings.TrimSpace(v.Language); lang != "" {
		return lang, nil
	}
	return defaultLanguage, nil
}

// ===== ProcessMessage =====

// ProcessMessage runs one streamed turn of the chat model. Tool calls are
// executed and the step repeats; a text answer moves on to the filter. Tools
// are withheld once the iteration ceiling is reached.
type ProcessMessage struct{}

func (ProcessMessage) Name() string { return "ProcessMessage" }

func (ProcessMessage) Execute(ctx context.Context, s *model.ChatState, d *Deps) (step, error) {
	system, err := prompts.RenderChatSystem(ctx, prompts.ChatSystemInput{
		Company:    d.Company,
		Language:   s.DetectedLanguage,
		References: d.Registry.References(),
		Examples:   d.Registry.Examples(),
	})
	if err != nil {
		return nil, err
	}

	box := d.toolbox(s)
	req := llm.Request{Name: messageNode, System: system, Messages: s.Messages}
	if toolLimitReached(s, d.Config.MaxIterations) {
		logx.Warn().Int("iteration", s.Iteration).Msg("Maximum iterations reached in chat agent, disabling tools")
		req.Messages = withNotice(s.Messages, toolLimitNotice(d.Config.MaxIterations))
	} else {
		req.Tools = box.Specs()
	}

	msg, err := d.streamTurn(ctx, d.Chat, s, req)
	if err != nil {
		return nil, err
	}
	d.Env.Usage.Record(messageNode, d.Chat.Model(), llm.UsageOf(msg))

	if len(msg.ToolCalls) == 0 {
		s.AddMessage(msg)
		s.Answer = msg.Content
		return FilterUsedContext{}, nil
	}

	llm.EnsureToolCallIDs(msg)
	msg.ToolCalls = subagent.MergeRetrievalCalls(msg.ToolCalls)
	s.Iteration++
	s.AddMessage(msg)
	emitToolCalls(d.Env.Bus, msg)

	for _, call := range msg.ToolCalls {
		out, err := box.Run(ctx, call)
		if err != nil {
			return nil, err
		}
		s.AddMessage(out)
	}
	return guarded(ProcessMessage{}), nil
}

// streamTurn streams one model turn. Content is forwarded as paragraph
// sized answer events; the first visible chunk marks the time to first token.
func (d *Deps) streamTurn(ctx context.Context, gw llm.Gateway, s *model.ChatState, req llm.Request) (*schema.Message, error) {
	sr, err := gw.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	var para stream.Paragrapher
	msg, err := llm.Collect(sr, func(chunk *schema.Message) error {
		if chunk.Content == "" {
			return nil
		}
		d.markFirstToken(s)
		for _, p := range para.Write(chunk.Content) {
			d.Env.Bus.Emit(stream.AnswerEvent{Answer: p})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, p := range para.Flush() {
		d.Env.Bus.Emit(stream.AnswerEvent{Answer: p})
	}
	return msg, nil
}

func (d *Deps) markFirstToken(s *model.ChatState) {
	if d.Env.Timing == nil {
		return
	}
	ttft, first := d.Env.Timing.MarkFirstToken()
	if !first {
		return
	}
	s.TimeToFirstToken = ttft
	d.Env.Bus.Emit(stream.TimeToFirstTokenEvent{Seconds: ttft.Seconds()})
}

// toolbox exposes the enabled sub-agents and the date/time tool.
func (d *Deps) toolbox(s *model.ChatState) *tools.Toolbox {
	box := tools.NewToolbox()
	d.Registry.AddTools(box, d.Env, &s.OrchestrationState)
	box.Add(tools.DateTimeSpec, tools.NewDateTime(d.Now))
	return box
}

func emitToolCalls(bus *stream.Bus, msg *schema.Message) {
	calls := make([]model.ToolCall, len(msg.ToolCalls))
	for i, tc := range msg.ToolCalls {
		calls[i] = model.ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: tc.Function.Arguments}
	}
	bus.EmitDebug(stream.ToolCallsEvent{Agent: messageNode, ToolCalls: calls})
}

// ===== RefuseAnswer =====

// RefuseAnswer streams a short refusal in the detected language. It is the
// target of the content-policy fallback, so it must always produce an answer.
type RefuseAnswer struct{}

func (RefuseAnswer) Name() string { return "RefuseAnswer" }

func (RefuseAnswer) Execute(ctx context.Context, s *model.ChatState, d *Deps) (step, error) {
	answer, err := d.streamRefusal(ctx, s)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		logx.Error().Err(err).Str("kind", errx.Classify(err).String()).Msg("Refusal answer failed, using static answer")
		d.Env.Bus.StreamAnswer(StaticRefusalAnswer)
		answer = StaticRefusalAnswer
	}
	s.Answer = answer
	s.AddMessage(schema.AssistantMessage(answer, nil))
	return end(), nil
}

func (d *Deps) streamRefusal(ctx context.Context, s *model.ChatState) (string, error) {
	system, err := prompts.RenderAnswerRefused(ctx, d.Company, s.DetectedLanguage, s.RefusalReason, d.now())
	if err != nil {
		return "", err
	}

	gw := d.Validation
	msg, err := d.streamTurn(ctx, gw, s, llm.Request{
		Name:     refusalAnswerNode,
		System:   system,
		Messages: s.Messages,
	})
	if err != nil {
		return "", err
	}
	d.Env.Usage.Record(refusalAnswerNode, gw.Model(), llm.UsageOf(msg))
	return msg.Content, nil
}
