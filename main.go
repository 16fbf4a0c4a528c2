package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/cloudwego/eino/callbacks"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/workplace-chat/orchestrator/internal/agent/featureflag"
	"github.com/workplace-chat/orchestrator/internal/agent/flows"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/conversations"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/nodes"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/observers"
	"github.com/workplace-chat/orchestrator/internal/agent/graph/prompts"
	"github.com/workplace-chat/orchestrator/internal/agent/metrics"
	"github.com/workplace-chat/orchestrator/internal/agent/model"
	"github.com/workplace-chat/orchestrator/internal/agent/posts"
	"github.com/workplace-chat/orchestrator/internal/agent/repo"
	"github.com/workplace-chat/orchestrator/internal/agent/retrieval"
	"github.com/workplace-chat/orchestrator/internal/agent/search"
	"github.com/workplace-chat/orchestrator/internal/agent/stream"
	"github.com/workplace-chat/orchestrator/internal/agent/subagent"
	"github.com/workplace-chat/orchestrator/internal/agent/triggers"
	"github.com/workplace-chat/orchestrator/internal/agent/users"
	"github.com/workplace-chat/orchestrator/internal/core"
	logx "github.com/workplace-chat/orchestrator/pkg/logger"
	pkgredis "github.com/workplace-chat/orchestrator/pkg/redis"
	"github.com/workplace-chat/orchestrator/pkg/retry"
)

// AppConfig defines all configurable parameters of the orchestrator demo,
// sourced from environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL"`

	// Infrastructure
	Redis pkgredis.Config

	// LLM providers
	Models model.ModelsConfig
	Gemini model.GeminiConfig
	Azure  model.AzureConfig
	Retry  retry.Config

	// Agent configs
	Retrieval    model.RetrievalConfig
	Chat         model.ChatConfig
	UserSearch   model.UserSearchConfig
	Trigger      model.TriggerConfig
	Flow         model.FlowConfig
	Post         model.PostConfig
	FeatureFlag  model.FeatureFlagConfig
	Search       model.SearchConfig
	Conversation model.ConversationConfig

	// Demo
	Tenant         string `envconfig:"DEMO_TENANT" default:"acme"`
	ConversationID string `envconfig:"DEMO_CONVERSATION_ID" default:"demo-conversation"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Load .env file
	if err := godotenv.Load(".env"); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	// Load structured config from env
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("Failed to process environment config: %v", err)
	}

	env := core.ParseEnvironment(cfg.Environment)
	// stdout carries the NDJSON stream
	logx.Init(logx.LoggerOpts{Environment: env, Level: cfg.LogLevel, Output: os.Stderr})

	if err := run(ctx, cfg, env); err != nil {
		logx.Fatal().Err(err).Msg("Orchestrator demo failed")
	}
}

func run(ctx context.Context, cfg AppConfig, env core.Environment) error {
	rdb, err := cfg.Redis.New(ctx)
	if err != nil {
		return fmt.Errorf("initialise redis client: %w", err)
	}
	defer rdb.Close()
	logx.Info().Msg("Connected to Redis successfully")

	callbacks.AppendGlobalHandlers(observers.NewAllCallbacks())

	models, err := nodes.NewChatModels(ctx, nodes.ChatModelConfig{
		Models: cfg.Models,
		Gemini: cfg.Gemini,
		Azure:  cfg.Azure,
		Retry:  cfg.Retry,
	})
	if err != nil {
		return err
	}

	registries, err := buildRegistries(ctx, cfg, models, rdb)
	if err != nil {
		return err
	}

	gate, err := featureflag.New(cfg.FeatureFlag, rdb)
	if err != nil {
		return err
	}

	ttl, err := cfg.Conversation.TTLDuration()
	if err != nil {
		return err
	}

	messages := conversations.NewMessagesManager(repo.NewRedisConversationRepository(rdb, ttl), cfg.Conversation)
	if err := messages.Reset(ctx, cfg.ConversationID); err != nil {
		return fmt.Errorf("reset demo conversation: %w", err)
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	agent := &nodes.Agent{
		Chat:       models.Chat,
		Validation: models.Validation,
		Filter:     models.Filter,
		Registry:   registries.chat,
		Gate:       gate,
		Messages:   messages,
		Metrics:    collector,
		Config:     cfg.Chat,
	}

	debug := cfg.Chat.Debug || env.DebugEvents()
	for i, query := range demoQueries {
		logx.Info().Int("turn", i+1).Str("query", query).Msg("Running demo query")

		res, err := streamTurn(ctx, agent, model.QueryInput{
			ConversationID: cfg.ConversationID,
			Tenant:         cfg.Tenant,
			Query:          query,
			Debug:          debug,
		})
		if err != nil {
			return fmt.Errorf("demo turn %d: %w", i+1, err)
		}

		logx.Info().
			Int("turn", i+1).
			Interface("usage", res.Usage).
			Interface("timing", res.Timing).
			Msg("Demo turn finished")
	}

	creator := &posts.Creator{
		Model:    models.Post,
		Filter:   models.Filter,
		Registry: registries.post,
		Gate:     gate,
		Metrics:  collector,
		Config:   cfg.Post,
		Chat:     cfg.Chat,
	}
	if err := draftPost(ctx, creator, model.PostInput{Tenant: cfg.Tenant, Query: demoPostQuery, Debug: debug}); err != nil {
		return err
	}

	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	logx.Info().Int("metric_families", len(families)).Msg("All demo turns completed")
	return nil
}

// streamTurn runs one chat turn while its events are written to stdout.
func streamTurn(ctx context.Context, agent *nodes.Agent, in model.QueryInput) (*nodes.Result, error) {
	bus := stream.NewBus(in.Debug)

	var res *nodes.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return bus.Pipe(gctx, os.Stdout)
	})
	g.Go(func() error {
		var err error
		res, err = agent.Stream(gctx, in, bus)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return res, nil
}

// draftPost runs one post creation and writes its result to stdout.
func draftPost(ctx context.Context, creator *posts.Creator, in model.PostInput) error {
	res, err := creator.Create(ctx, in)
	if err != nil {
		return fmt.Errorf("demo post: %w", err)
	}
	logx.Info().
		Str("title", res.Post.Title).
		Interface("usage", res.Usage).
		Interface("timing", res.Timing).
		Msg("Demo post finished")
	return json.NewEncoder(os.Stdout).Encode(res)
}

type registries struct {
	chat *subagent.Registry
	// post only delegates to retrieval
	post *subagent.Registry
}

// buildRegistries wires the delegatable sub-agents.
func buildRegistries(ctx context.Context, cfg AppConfig, models *nodes.ChatModels, rdb *redis.Client) (*registries, error) {
	postCorpus, pages, err := corpora(cfg)
	if err != nil {
		return nil, err
	}

	catalog := triggers.NewRedisCatalog(rdb)
	if err := seedTriggers(ctx, catalog, cfg.Tenant); err != nil {
		return nil, err
	}

	flowCatalog, err := flowCatalog(cfg)
	if err != nil {
		return nil, err
	}

	company := prompts.CompanyFrom(cfg.Chat)
	research := retrieval.NewSubAgent(&retrieval.Agent{
		Model:     models.Retrieval,
		Reranker:  models.Rerank,
		Evaluator: models.Evaluation,
		Posts:     search.NewRetriever(postCorpus, model.SourcePost, cfg.Retrieval.FirstStageK, cfg.Retrieval.CosineSimilarityThreshold),
		Pages:     search.NewRetriever(pages, model.SourcePage, cfg.Retrieval.FirstStageK, cfg.Retrieval.CosineSimilarityThreshold),
		Config:    cfg.Retrieval,
		Company:   company,
	})

	return &registries{
		chat: subagent.NewRegistry(
			research,
			users.NewSubAgent(&users.Agent{
				Model:     models.UserSearch,
				Directory: demoDirectory(),
				Config:    cfg.UserSearch,
				Company:   company,
			}),
			triggers.NewSubAgent(&triggers.Agent{
				Model:   models.Trigger,
				Catalog: catalog,
				Config:  cfg.Trigger,
			}),
			flows.NewSubAgent(&flows.Agent{
				Model:   models.Flow,
				Catalog: flowCatalog,
				Config:  cfg.Flow,
			}),
		),
		post: subagent.NewRegistry(research),
	}, nil
}

func flowCatalog(cfg AppConfig) (flows.Catalog, error) {
	if cfg.Flow.URL == "" {
		logx.Warn().Msg("FLOWS_API_URL not set, using the demo flows")
		return demoFlows(), nil
	}
	return flows.NewHTTPCatalog(cfg.Flow, cfg.Retry)
}

// corpora uses the semantic search service when configured and the seeded
// in-memory corpora otherwise.
func corpora(cfg AppConfig) (posts, pages search.Corpus, err error) {
	if cfg.Search.URL == "" {
		logx.Warn().Msg("SEARCH_URL not set, using the in-memory demo corpora")
		return demoPosts(), demoPages(), nil
	}

	p, err := search.NewHTTPCorpus(cfg.Search, model.SourcePost, cfg.Retry)
	if err != nil {
		return nil, nil, err
	}
	g, err := search.NewHTTPCorpus(cfg.Search, model.SourcePage, cfg.Retry)
	if err != nil {
		return nil, nil, err
	}
	return p, g, nil
}
