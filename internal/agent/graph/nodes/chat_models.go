package nodes

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"github.com/workplace-chat/orchestrator/internal/agent/llm"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
	"github.com/workplace-chat/orchestrator/pkg/retry"
)

const providerAzure = "azure"

// ChatModelConfig holds the configuration for chat model creation
type ChatModelConfig struct {
	Models model.ModelsConfig
	Gemini model.GeminiConfig
	Azure  model.AzureConfig
	Retry  retry.Config
}

// ChatModels holds one gateway per agent role
type ChatModels struct {
	Chat       llm.Gateway
	Validation llm.Gateway
	Filter     llm.Gateway
	Retrieval  llm.Gateway
	Rerank     llm.Gateway
	Evaluation llm.Gateway
	UserSearch llm.Gateway
	Trigger    llm.Gateway
	Flow       llm.Gateway
	Post       llm.Gateway
}

// NewChatModels creates every role gateway with the given configuration.
// The Gemini client is shared; an Azure client is only built when configured.
func NewChatModels(ctx context.Context, config ChatModelConfig) (*ChatModels, error) {
	client, err := llm.NewGenAIClient(ctx, config.Gemini)
	if err != nil {
		return nil, err
	}

	var azure *openai.Client
	if config.Azure.Enabled() {
		azure = llm.NewAzureClient(config.Azure)
	}

	b := &modelBuilder{ctx: ctx, gemini: client, azure: azure, retry: config.Retry}
	m := &ChatModels{
		Chat:       b.build("chat", config.Models.Chat),
		Validation: b.build("validation", config.Models.Validation),
		Filter:     b.build("filter", config.Models.Filter),
		Retrieval:  b.build("retrieval", config.Models.Retrieval),
		Rerank:     b.build("rerank", config.Models.Rerank),
		Evaluation: b.build("evaluation", config.Models.Evaluation),
		UserSearch: b.build("user_search", config.Models.UserSearch),
		Trigger:    b.build("trigger", config.Models.Trigger),
		Flow:       b.build("flow", config.Models.Flow),
		Post:       b.build("post", config.Models.Post),
	}
	if b.err != nil {
		return nil, b.err
	}
	return m, nil
}

type modelBuilder struct {
	ctx    context.Context
	gemini *genai.Client
	azure  *openai.Client
	retry  retry.Config
	err    error
}

func (b *modelBuilder) build(role string, cfg model.ModelConfig) llm.Gateway {
	if b.err != nil {
		return nil
	}

	var g llm.Gateway
	switch cfg.Provider {
	case providerAzure:
		if b.azure == nil {
			b.err = fmt.Errorf("model %s for %s uses azure but AZURE_OPENAI_ENDPOINT/AZURE_OPENAI_API_KEY are not set", cfg.Name, role)
			return nil
		}
		g = llm.NewAzure(b.azure, cfg)
	default:
		gm, err := llm.NewGemini(b.ctx, b.gemini, cfg)
		if err != nil {
			b.err = fmt.Errorf("create %s model: %w", role, err)
			return nil
		}
		g = gm
	}

	logx.Debug().Str("role", role).Str("provider", cfg.Provider).Str("model", cfg.Name).Msg("Chat model ready")
	return llm.NewRetrying(g, b.retry)
}
