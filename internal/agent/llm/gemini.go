package llm

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"github.com/workplace-chat/orchestrator/internal/agent/model"
	errx "github.com/workplace-chat/orchestrator/internal/core/error"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
)

// NewGenAIClient creates the shared Gemini API client.
func NewGenAIClient(ctx context.Context, cfg model.GeminiConfig) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating Gemini client")
		return nil, fmt.Errorf("error creating Gemini client: %w", err)
	}
	return client, nil
}

// Gemini adapts the eino Gemini chat model.
type Gemini struct {
	chat einomodel.BaseChatModel
	name string
}

// NewGemini builds a Gemini gateway for one model role.
func NewGemini(ctx context.Context, client *genai.Client, cfg model.ModelConfig) (*Gemini, error) {
	temperature := cfg.Temperature
	maxTokens := cfg.MaxTokens
	cm, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.Name,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
	})
	if err != nil {
		logx.Error().Err(err).Str("model", cfg.Name).Msg("Error creating Gemini chat model")
		return nil, fmt.Errorf("error creating Gemini chat model %s: %w", cfg.Name, err)
	}
	return &Gemini{chat: cm, name: cfg.Name}, nil
}

func (g *Gemini) Model() string { return g.name }

func (g *Gemini) Generate(ctx context.Context, req Request) (*Response, error) {
	ctx = callbacks.ReuseHandlers(ctx, g.runInfo(req))
	msg, err := g.chat.Generate(ctx, req.Input(), g.options(req)...)
	if err != nil {
		return nil, errx.FromGenAI(err)
	}
	if err := checkFinish(msg); err != nil {
		return nil, err
	}
	return &Response{Message: msg, Model: g.name, Usage: UsageOf(msg)}, nil
}

func (g *Gemini) Stream(ctx context.Context, req Request) (*schema.StreamReader[*schema.Message], error) {
	ctx = callbacks.ReuseHandlers(ctx, g.runInfo(req))
	sr, err := g.chat.Stream(ctx, req.Input(), g.options(req)...)
	if err != nil {
		return nil, errx.FromGenAI(err)
	}
	return forward(sr, errx.FromGenAI, checkFinish), nil
}

func (g *Gemini) runInfo(req Request) *callbacks.RunInfo {
	return &callbacks.RunInfo{Name: req.Name, Type: "Gemini", Component: components.ComponentOfChatModel}
}

func (g *Gemini) options(req Request) []einomodel.Option {
	if len(req.Tools) == 0 {
		return nil
	}
	infos := make([]*schema.ToolInfo, 0, len(req.Tools))
	for _, t := range req.Tools {
		infos = append(infos, t.Info())
	}
	return []einomodel.Option{einomodel.WithTools(infos)}
}

func checkFinish(msg *schema.Message) error {
	if msg == nil || msg.ResponseMeta == nil {
		return nil
	}
	return errx.FromFinishReason(msg.ResponseMeta.FinishReason)
}
