package model

import (
	"fmt"
	"time"
)

// ================ Config ================

type ConversationConfig struct {
	TTL                  string `envconfig:"CONVERSATION_TTL" default:"24h"`
	TruncateHistoryLimit int    `envconfig:"CONVERSATION_TRUNCATE_HISTORY_LIMIT" default:"10"`
}

// TTLDuration parses TTL. An empty TTL means the history never expires.
func (c ConversationConfig) TTLDuration() (time.Duration, error) {
	if c.TTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.TTL)
	if err != nil {
		return 0, fmt.Errorf("parse conversation ttl %q: %w", c.TTL, err)
	}
	return d, nil
}

// ModelConfig selects a provider deployment for one agent role.
type ModelConfig struct {
	Provider    string  `default:"gemini"`
	Name        string  `default:"gemini-2.5-flash"`
	MaxTokens   int     `split_words:"true" default:"2048"`
	Temperature float32 `default:"0.1"`
}

// ModelsConfig maps every agent role to its model, e.g. MODELS_CHAT_NAME.
type ModelsConfig struct {
	Chat       ModelConfig
	Validation ModelConfig
	Filter     ModelConfig
	Retrieval  ModelConfig
	Rerank     ModelConfig
	Evaluation ModelConfig
	UserSearch ModelConfig `split_words:"true"`
	Trigger    ModelConfig
	Flow       ModelConfig
	Post       ModelConfig
}

type GeminiConfig struct {
	APIKey string `envconfig:"GEMINI_API_KEY"`
}

type AzureConfig struct {
	APIKey     string `envconfig:"AZURE_OPENAI_API_KEY"`
	Endpoint   string `envconfig:"AZURE_OPENAI_ENDPOINT"`
	APIVersion string `envconfig:"AZURE_OPENAI_API_VERSION" default:"2024-10-21"`
}

// Enabled reports whether Azure deployments can be built.
func (c AzureConfig) Enabled() bool {
	return c.APIKey != "" && c.Endpoint != ""
}

type RetrievalConfig struct {
	FirstStageK                int     `envconfig:"RETRIEVAL_FIRST_STAGE_K" default:"10"`
	SecondStageK               int     `envconfig:"RETRIEVAL_SECOND_STAGE_K" default:"5"`
	FinalTopK                  int     `envconfig:"RETRIEVAL_FINAL_TOP_K" default:"5"`
	CosineSimilarityThreshold  float64 `envconfig:"RETRIEVAL_COSINE_SIMILARITY_THRESHOLD" default:"0.2"`
	RelevanceThreshold         float64 `envconfig:"RETRIEVAL_RELEVANCE_THRESHOLD" default:"0.5"`
	MetadataRelevanceThreshold float64 `envconfig:"RETRIEVAL_METADATA_RELEVANCE_THRESHOLD" default:"0.5"`
	EvaluationThreshold        float64 `envconfig:"RETRIEVAL_EVALUATION_THRESHOLD" default:"0.7"`
	MaxIterations              int     `envconfig:"RETRIEVAL_MAX_ITERATIONS" default:"2"`
	RerankRetries              int     `envconfig:"RETRIEVAL_RERANK_RETRIES" default:"3"`
	MaxAgentCalls              int     `envconfig:"RETRIEVAL_MAX_AGENT_CALLS" default:"2"`

	PostRecencyWeight float64 `envconfig:"RETRIEVAL_POST_RECENCY_WEIGHT" default:"0.5"`
	PostHalfLifeDays  float64 `envconfig:"RETRIEVAL_POST_HALF_LIFE_DAYS" default:"14"`
	PageRecencyWeight float64 `envconfig:"RETRIEVAL_PAGE_RECENCY_WEIGHT" default:"0.5"`
	PageHalfLifeDays  float64 `envconfig:"RETRIEVAL_PAGE_HALF_LIFE_DAYS" default:"90"`
}

// DefaultRetrievalConfig mirrors the envconfig defaults for callers that skip env loading.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		FirstStageK:                10,
		SecondStageK:               5,
		FinalTopK:                  5,
		CosineSimilarityThreshold:  0.2,
		RelevanceThreshold:         0.5,
		MetadataRelevanceThreshold: 0.5,
		EvaluationThreshold:        0.7,
		MaxIterations:              2,
		RerankRetries:              3,
		MaxAgentCalls:              2,
		PostRecencyWeight:          0.5,
		PostHalfLifeDays:           14,
		PageRecencyWeight:          0.5,
		PageHalfLifeDays:           90,
	}
}

type ChatConfig struct {
	MaxIterations      int    `envconfig:"CHAT_MAX_ITERATIONS" default:"8"`
	FilterBatchSize    int    `envconfig:"CHAT_FILTER_BATCH_SIZE" default:"5"`
	FilterRetries      int    `envconfig:"CHAT_FILTER_RETRIES" default:"3"`
	FilterConcurrency  int    `envconfig:"CHAT_FILTER_CONCURRENCY" default:"3"`
	CompanyName        string `envconfig:"CHAT_COMPANY_NAME" default:"Acme"`
	CompanyDescription string `envconfig:"CHAT_COMPANY_DESCRIPTION" default:"A company that uses an internal social intranet."`
	AvoidTopics        string `envconfig:"CHAT_AVOID_TOPICS" default:""`
	ResponseGuidelines string `envconfig:"CHAT_RESPONSE_GUIDELINES" default:""`
	Debug              bool   `envconfig:"CHAT_DEBUG" default:"false"`
}

// DefaultChatConfig mirrors the envconfig defaults.
func DefaultChatConfig() ChatConfig {
	return ChatConfig{
		MaxIterations:      8,
		FilterBatchSize:    5,
		FilterRetries:      3,
		FilterConcurrency:  3,
		CompanyName:        "Acme",
		CompanyDescription: "A company that uses an internal social intranet.",
	}
}

type UserSearchConfig struct {
	TotalTokensLimit int `envconfig:"USER_SEARCH_TOTAL_TOKENS_LIMIT" default:"4096"`
	MaxResults       int `envconfig:"USER_SEARCH_MAX_RESULTS" default:"100"`
	MaxIterations    int `envconfig:"USER_SEARCH_MAX_ITERATIONS" default:"4"`
	MaxAgentCalls    int `envconfig:"USER_SEARCH_MAX_AGENT_CALLS" default:"3"`
}

type TriggerConfig struct {
	Retries       int `envconfig:"TRIGGER_RETRIES" default:"1"`
	MaxAgentCalls int `envconfig:"TRIGGER_MAX_AGENT_CALLS" default:"1"`
}

type FlowConfig struct {
	// URL is the core API serving the flows of a tenant. Empty uses the demo flows.
	URL           string        `envconfig:"FLOWS_API_URL"`
	Timeout       time.Duration `envconfig:"FLOWS_API_TIMEOUT" default:"10s"`
	MaxAgentCalls int           `envconfig:"FLOW_MAX_AGENT_CALLS" default:"1"`
}

type PostConfig struct {
	MaxIterations int `envconfig:"POST_MAX_ITERATIONS" default:"8"`
	// AllowedHTMLTags limits the markup of post bodies. Empty keeps bodies as written.
	AllowedHTMLTags []string `envconfig:"POST_ALLOWED_HTML_TAGS" default:"a,b,br,em,h1,h2,h3,i,li,ol,p,s,strong,u,ul,img"`
}

// DefaultPostConfig mirrors the envconfig defaults.
func DefaultPostConfig() PostConfig {
	return PostConfig{
		MaxIterations:   8,
		AllowedHTMLTags: []string{"a", "b", "br", "em", "h1", "h2", "h3", "i", "li", "ol", "p", "s", "strong", "u", "ul", "img"},
	}
}

type FeatureFlagConfig struct {
	// Source is "static" or "redis".
	Source   string        `envconfig:"FEATURE_FLAG_SOURCE" default:"static"`
	Enabled  []string      `envconfig:"FEATURE_FLAG_ENABLED" default:"chat_user_search,chat_flip_flows"`
	CacheTTL time.Duration `envconfig:"FEATURE_FLAG_CACHE_TTL" default:"5m"`
}

type SearchConfig struct {
	URL     string        `envconfig:"SEARCH_URL"`
	Token   string        `envconfig:"SEARCH_TOKEN"`
	Timeout time.Duration `envconfig:"SEARCH_TIMEOUT" default:"10s"`
}
