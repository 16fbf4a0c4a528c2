package llm

import (
	"context"
	"errors"
	"io"
	"sort"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/sashabaranov/go-openai"

	"github.com/workplace-chat/orchestrator/internal/agent/model"
	errx "github.com/workplace-chat/orchestrator/internal/core/error"
)

// Azure calls an Azure OpenAI deployment. The deployment name equals the
// configured model name.
type Azure struct {
	client *openai.Client
	cfg    model.ModelConfig
}

// NewAzureClient creates the shared Azure OpenAI client.
func NewAzureClient(cfg model.AzureConfig) *openai.Client {
	oc := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	oc.APIVersion = cfg.APIVersion
	oc.AzureModelMapperFunc = func(m string) string { return m }
	return openai.NewClientWithConfig(oc)
}

// NewAzure builds an Azure gateway for one model role.
func NewAzure(client *openai.Client, cfg model.ModelConfig) *Azure {
	return &Azure{client: client, cfg: cfg}
}

func (a *Azure) Model() string { return a.cfg.Name }

func (a *Azure) Generate(ctx context.Context, req Request) (*Response, error) {
	ctx = callbacks.ReuseHandlers(ctx, a.runInfo(req))
	ctx = callbacks.OnStart(ctx, &einomodel.CallbackInput{Messages: req.Input()})

	resp, err := a.client.CreateChatCompletion(ctx, a.request(req, false))
	if err != nil {
		err = errx.FromOpenAI(err)
		callbacks.OnError(ctx, err)
		return nil, err
	}
	if len(resp.Choices) == 0 {
		err := errors.New("azure completion returned no choices")
		callbacks.OnError(ctx, err)
		return nil, err
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		err := errx.FromContentFilterResults(choice.ContentFilterResults, "The response was filtered by the content policy")
		callbacks.OnError(ctx, err)
		return nil, err
	}

	msg := fromOpenAIMessage(choice.Message)
	msg.ResponseMeta = &schema.ResponseMeta{
		FinishReason: string(choice.FinishReason),
		Usage:        toTokenUsage(resp.Usage),
	}
	callbacks.OnEnd(ctx, &einomodel.CallbackOutput{Message: msg})

	return &Response{Message: msg, Model: a.cfg.Name, Usage: UsageOf(msg)}, nil
}

func (a *Azure) Stream(ctx context.Context, req Request) (*schema.StreamReader[*schema.Message], error) {
	ctx = callbacks.ReuseHandlers(ctx, a.runInfo(req))
	ctx = callbacks.OnStart(ctx, &einomodel.CallbackInput{Messages: req.Input()})

	stream, err := a.client.CreateChatCompletionStream(ctx, a.request(req, true))
	if err != nil {
		err = errx.FromOpenAI(err)
		callbacks.OnError(ctx, err)
		return nil, err
	}

	out, w := schema.Pipe[*schema.Message](8)
	go func() {
		defer stream.Close()
		defer w.Close()
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				err = errx.FromOpenAI(err)
				callbacks.OnError(ctx, err)
				w.Send(nil, err)
				return
			}
			msg, err := fromStreamChunk(chunk)
			if err != nil {
				callbacks.OnError(ctx, err)
				w.Send(nil, err)
				return
			}
			if msg == nil {
				continue
			}
			if closed := w.Send(msg, nil); closed {
				return
			}
		}
	}()
	return out, nil
}

func (a *Azure) runInfo(req Request) *callbacks.RunInfo {
	return &callbacks.RunInfo{Name: req.Name, Type: "AzureOpenAI", Component: components.ComponentOfChatModel}
}

func (a *Azure) request(req Request, stream bool) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:               a.cfg.Name,
		Messages:            toOpenAIMessages(req.Input()),
		Temperature:         a.cfg.Temperature,
		MaxCompletionTokens: a.cfg.MaxTokens,
		Stream:              stream,
	}
	if stream {
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if req.JSON {
		out.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Desc,
				Parameters:  JSONSchema(t.Params),
			},
		})
	}
	return out
}

func toOpenAIMessages(msgs []*schema.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		om := openai.ChatCompletionMessage{Content: m.Content}
		switch m.Role {
		case schema.System:
			om.Role = openai.ChatMessageRoleSystem
		case schema.Assistant:
			om.Role = openai.ChatMessageRoleAssistant
			for _, tc := range m.ToolCalls {
				om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
					ID:   tc.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				})
			}
		case schema.Tool:
			om.Role = openai.ChatMessageRoleTool
			om.ToolCallID = m.ToolCallID
		default:
			om.Role = openai.ChatMessageRoleUser
		}
		out = append(out, om)
	}
	return out
}

func fromOpenAIMessage(m openai.ChatCompletionMessage) *schema.Message {
	msg := &schema.Message{Role: schema.Assistant, Content: m.Content}
	for _, tc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
			ID:   tc.ID,
			Type: string(tc.Type),
			Function: schema.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return msg
}

// fromStreamChunk converts one streamed delta. It returns nil for chunks that
// carry nothing.
func fromStreamChunk(chunk openai.ChatCompletionStreamResponse) (*schema.Message, error) {
	msg := &schema.Message{Role: schema.Assistant}
	empty := true

	if len(chunk.Choices) > 0 {
		choice := chunk.Choices[0]
		if choice.FinishReason == openai.FinishReasonContentFilter {
			return nil, errx.FromContentFilterResults(choice.ContentFilterResults, "The response was filtered by the content policy")
		}
		msg.Content = choice.Delta.Content
		for _, tc := range choice.Delta.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, schema.ToolCall{
				Index: tc.Index,
				ID:    tc.ID,
				Type:  string(tc.Type),
				Function: schema.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		empty = msg.Content == "" && len(msg.ToolCalls) == 0
		if choice.FinishReason != "" {
			msg.ResponseMeta = &schema.ResponseMeta{FinishReason: string(choice.FinishReason)}
			empty = false
		}
	}

	if chunk.Usage != nil {
		if msg.ResponseMeta == nil {
			msg.ResponseMeta = &schema.ResponseMeta{}
		}
		msg.ResponseMeta.Usage = toTokenUsage(*chunk.Usage)
		empty = false
	}

	if empty {
		return nil, nil
	}
	return msg, nil
}

func toTokenUsage(u openai.Usage) *schema.TokenUsage {
	out := &schema.TokenUsage{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
	if u.PromptTokensDetails != nil {
		out.PromptTokenDetails.CachedTokens = u.PromptTokensDetails.CachedTokens
	}
	return out
}

// JSONSchema renders tool parameters as a JSON schema object.
func JSONSchema(params map[string]*schema.ParameterInfo) map[string]any {
	props := make(map[string]any, len(params))
	required := []string{}
	for name, p := range params {
		props[name] = paramSchema(p)
		if p.Required {
			required = append(required, name)
		}
	}
	sort.Strings(required)
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func paramSchema(p *schema.ParameterInfo) map[string]any {
	out := map[string]any{"type": string(p.Type)}
	if p.Desc != "" {
		out["description"] = p.Desc
	}
	if len(p.Enum) > 0 {
		out["enum"] = p.Enum
	}
	if p.ElemInfo != nil {
		out["items"] = paramSchema(p.ElemInfo)
	}
	if len(p.SubParams) > 0 {
		nested := JSONSchema(p.SubParams)
		out["properties"] = nested["properties"]
		out["required"] = nested["required"]
	}
	return out
}
