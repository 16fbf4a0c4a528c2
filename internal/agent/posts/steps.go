package posts

import (
	"context"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/workplace-chat/orchestrator/internal/agent/graph"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/nodes"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/prompts"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/tools"
	"github.com/workplace-chat/orchestrator/internal/agent/llm"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
	"github.com/workplace-chat/orchestrator/internal/agent/subagent"
	errx "github.com/workplace-chat/orchestrator/internal/core/error"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

// Node names used in logs, spans and usage metrics.
const (
	messageNode       = "post_message_agent"
	answerNode        = "post_answer_agent"
	refusalAnswerNode = "post_refusal_answer_agent"
)

const (
	defaultMaxIterations = 8

	// StaticRefusalAnswer is used when the refusal model itself fails.
	StaticRefusalAnswer = "I'm sorry, but I'm not allowed to create this post. " +
		"Feel free to ask me for help with another post."
)

// Deps are the collaborators of one post creation run.
type Deps struct {
	Model  llm.Gateway
	Filter llm.Gateway
	// Registry holds only the sub-agents enabled for the tenant.
	Registry *subagent.Registry
	Config   model.PostConfig
	// Chat carries the company and used-context filter settings.
	Chat     model.ChatConfig
	Company  prompts.Company
	Env      subagent.Env
	Now      func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

type step = graph.Step[*model.PostState, *Deps]

func end() step {
	return graph.End[*model.PostState, *Deps]()
}

// Start is the entry step of the post graph.
func Start() step {
	return guarded(ProcessMessage{})
}

func guarded(s step) step {
	return graph.WithContentPolicyFallback[*model.PostState, *Deps](s, RefuseAnswer{})
}

// ===== ProcessMessage =====

// ProcessMessage drafts the post with the post tools and the enabled
// sub-agents until the model stops calling tools or the iteration ceiling
// is reached.
type ProcessMessage struct{}

func (ProcessMessage) Name() string { return "ProcessMessage" }

func (ProcessMessage) Execute(ctx context.Context, s *model.PostState, d *Deps) (step, error) {
	limit := d.Config.MaxIterations
	if limit <= 0 {
		limit = defaultMaxIterations
	}
	if s.Iteration >= limit {
		logx.Warn().Int("iteration", s.Iteration).Msg("Maximum iterations reached in post creation, using the best available post")
		return guarded(EnsurePost{}), nil
	}

	done, err := d.turn(ctx, s)
	if err != nil {
		return nil, err
	}
	if done {
		return guarded(EnsurePost{}), nil
	}
	return guarded(ProcessMessage{}), nil
}

// turn runs one model call and the tools it requested. It reports whether
// the model answered without tool calls.
func (d *Deps) turn(ctx context.Context, s *model.PostState) (bool, error) {
	system, err := prompts.RenderPostSystem(ctx, prompts.PostSystemInput{
		Company:     d.Company,
		AllowedTags: d.Config.AllowedHTMLTags,
		References:  d.Registry.References(),
		Examples:    d.Registry.Examples(),
		GetPostTool: ToolGetPost,
		SetPostTool: ToolSetTitleAndBody,
	})
	if err != nil {
		return false, err
	}

	box := d.toolbox(s)
	resp, err := d.Model.Generate(ctx, llm.Request{
		Name:     messageNode,
		System:   system,
		Messages: s.Messages,
		Tools:    box.Specs(),
	})
	if err != nil {
		return false, err
	}
	d.Env.Usage.Record(messageNode, d.Model.Model(), resp.Usage)

	msg := resp.Message
	if len(msg.ToolCalls) == 0 {
		s.AddMessage(msg)
		return true, nil
	}

	llm.EnsureToolCallIDs(msg)
	msg.ToolCalls = subagent.MergeRetrievalCalls(msg.ToolCalls)
	s.Iteration++
	s.AddMessage(msg)

	for _, call := range msg.ToolCalls {
		out, err := box.Run(ctx, call)
		if err != nil {
			return false, err
		}
		s.AddMessage(out)
	}
	return false, nil
}

// toolbox exposes the enabled sub-agents, the post tools and the date/time tool.
func (d *Deps) toolbox(s *model.PostState) *tools.Toolbox {
	box := tools.NewToolbox()
	d.Registry.AddTools(box, d.Env, &s.OrchestrationState)
	addPostTools(box, &s.Post, d.Config.AllowedHTMLTags)
	box.Add(tools.DateTimeSpec, tools.NewDateTime(d.Now))
	return box
}

// ===== EnsurePost =====

// EnsurePost sends one correction turn when the draft lacks a title or a
// body, then hands over to OutputParser.
type EnsurePost struct{}

func (EnsurePost) Name() string { return "EnsurePost" }

func (EnsurePost) Execute(ctx context.Context, s *model.PostState, d *Deps) (step, error) {
	fix := correction(s.Post)
	if fix == "" || s.Corrected {
		return OutputParser{}, nil
	}

	logx.Warn().Bool("has_title", s.Post.Title != "").Bool("has_body", s.Post.Body != "").Msg("Post is incomplete, forcing a correction")
	s.Corrected = true
	s.AddMessage(schema.UserMessage(fix))

	// the correction may need a tool round and a closing turn
	for range 2 {
		done, err := d.turn(ctx, s)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
	}
	return OutputParser{}, nil
}

func correction(p model.Post) string {
	switch {
	case p.Empty():
		return "You have not yet created the post. You must now use the `" + ToolSetTitleAndBody +
			"` tool to create the post based on the conversation."
	case p.Title == "":
		return "The post body has been created, but the title is missing. You must now use the `" + ToolSetTitle +
			"` tool to create the title based on the post body and the conversation."
	case p.Body == "":
		return "The post title has been created, but the body is missing. You must now use the `" + ToolSetBody +
			"` tool to create the body based on the post title and the conversation."
	default:
		return ""
	}
}

// ===== OutputParser =====

// OutputParser writes the short reply that accompanies the post.
type OutputParser struct{}

func (OutputParser) Name() string { return "OutputParser" }

func (OutputParser) Execute(ctx context.Context, s *model.PostState, d *Deps) (step, error) {
	resp, err := d.Model.Generate(ctx, llm.Request{
		Name:     answerNode,
		Messages: append(s.Messages[:len(s.Messages):len(s.Messages)], schema.UserMessage(prompts.PostAnswer())),
	})
	if err != nil {
		return nil, err
	}
	d.Env.Usage.Record(answerNode, d.Model.Model(), resp.Usage)

	s.Answer = resp.Message.Content
	s.AddMessage(schema.AssistantMessage(s.Answer, nil))
	return FilterUsedContext{}, nil
}

// ===== FilterUsedContext =====

// FilterUsedContext keeps the documents the post was written from.
type FilterUsedContext struct{}

func (FilterUsedContext) Name() string { return "FilterUsedContext" }

func (FilterUsedContext) Execute(ctx context.Context, s *model.PostState, d *Deps) (step, error) {
	f := nodes.ContextFilter{Model: d.Filter, Config: d.Chat, Usage: d.Env.Usage}
	refined, _, err := f.Refine(ctx, s.Ledger, s.Post.Title+"\n"+s.Post.Body, s.Debug)
	if err != nil {
		return nil, err
	}
	s.RefinedContext = refined
	return end(), nil
}

// ===== RefuseAnswer =====

// RefuseAnswer explains a refused post request. It is the target of the
// content-policy fallback, so it must always produce an answer.
type RefuseAnswer struct{}

func (RefuseAnswer) Name() string { return "RefuseAnswer" }

func (RefuseAnswer) Execute(ctx context.Context, s *model.PostState, d *Deps) (step, error) {
	s.Refused = true
	answer, err := d.refusal(ctx, s)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		logx.Error().Err(err).Str("kind", errx.Classify(err).String()).Msg("Post refusal answer failed, using static answer")
		answer = StaticRefusalAnswer
	}
	s.Answer = answer
	s.AddMessage(schema.AssistantMessage(answer, nil))
	return end(), nil
}

func (d *Deps) refusal(ctx context.Context, s *model.PostState) (string, error) {
	system, err := prompts.RenderPostRefused(ctx, d.Company, s.RefusalReason, d.now())
	if err != nil {
		return "", err
	}
	resp, err := d.Model.Generate(ctx, llm.Request{
		Name:     refusalAnswerNode,
		System:   system,
		Messages: s.Messages,
	})
	if err != nil {
		return "", err
	}
	d.Env.Usage.Record(refusalAnswerNode, d.Model.Model(), resp.Usage)
	return resp.Message.Content, nil
}
