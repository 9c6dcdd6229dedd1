// Package config loads Lodestone configuration from environment
// variables, an optional .env file, and an optional YAML file.
//
// Precedence, lowest to highest: built-in defaults, YAML file,
// process environment. Values from .env are loaded with
// godotenv.Overload and therefore beat ambient environment variables,
// so a project-local .env behaves the same on a developer laptop and
// inside a supervisor that leaks stale exports.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Transport names accepted by ServerConfig.Transport.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Vector store backends accepted by VectorStoreConfig.Backend.
const (
	VectorBackendQdrant   = "qdrant"
	VectorBackendPGVector = "pgvector"
)

// Crawler engines accepted by CrawlConfig.Engine.
const (
	CrawlEngineHTTP    = "http"
	CrawlEngineBrowser = "browser"
)

// Config is the complete Lodestone configuration.
type Config struct {
	Server     ServerConfig      `yaml:"server"`
	VectorDB   VectorStoreConfig `yaml:"vector_db"`
	Embeddings EmbeddingsConfig  `yaml:"embeddings"`
	LLM        LLMConfig         `yaml:"llm"`
	Crawl      CrawlConfig       `yaml:"crawl"`
	Chunking   ChunkingConfig    `yaml:"chunking"`
	Retrieval  RetrievalConfig   `yaml:"retrieval"`
	Graph      GraphConfig       `yaml:"graph"`
	Search     SearchConfig      `yaml:"search"`
	Flags      FlagsConfig       `yaml:"flags"`
	Logging    LoggingConfig     `yaml:"logging"`
}

// ServerConfig configures the MCP server transport.
type ServerConfig struct {
	Transport string `yaml:"transport" env:"TRANSPORT"`
	Host      string `yaml:"host" env:"HOST"`
	Port      int    `yaml:"port" env:"PORT"`
}

// IsStdio reports whether the server speaks JSON-RPC over stdin/stdout.
func (s ServerConfig) IsStdio() bool {
	return s.Transport == TransportStdio
}

// Addr returns the http bind address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	Backend      string `yaml:"backend" env:"VECTOR_DB"`
	QdrantURL    string `yaml:"qdrant_url" env:"QDRANT_URL"`
	QdrantAPIKey string `yaml:"qdrant_api_key" env:"QDRANT_API_KEY"`
	DatabaseURL  string `yaml:"database_url" env:"DATABASE_URL"`
}

// EmbeddingsConfig configures the embedding provider.
type EmbeddingsConfig struct {
	// Provider is "openai" for any OpenAI-compatible endpoint, or
	// "static" for deterministic offline vectors (tests, air-gapped runs).
	Provider   string `yaml:"provider" env:"EMBEDDINGS_PROVIDER"`
	BaseURL    string `yaml:"base_url" env:"EMBEDDINGS_URL"`
	APIKey     string `yaml:"api_key" env:"EMBEDDINGS_API_KEY"`
	Model      string `yaml:"model" env:"EMBEDDING_MODEL"`
	Dimensions int    `yaml:"dimensions" env:"EMBEDDING_DIM"`
	BatchSize  int    `yaml:"batch_size" env:"EMBED_BATCH_SIZE"`
	CacheSize  int    `yaml:"cache_size" env:"EMBED_CACHE_SIZE"`
}

// LLMConfig configures the summary model used for contextual
// embeddings, code example summaries, and source summaries.
type LLMConfig struct {
	Provider     string `yaml:"provider" env:"LLM_PROVIDER"`
	Model        string `yaml:"model" env:"LLM_MODEL"`
	OpenAIKey    string `yaml:"openai_api_key" env:"OPENAI_API_KEY"`
	AnthropicKey string `yaml:"anthropic_api_key" env:"ANTHROPIC_API_KEY"`
	Concurrency  int    `yaml:"concurrency" env:"LLM_CONCURRENCY"`
}

// CrawlConfig tunes the crawl driver.
type CrawlConfig struct {
	Engine         string        `yaml:"engine" env:"CRAWLER_ENGINE"`
	MaxConcurrent  int           `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	MaxDepth       int           `yaml:"max_depth" env:"MAX_DEPTH"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	UserAgent      string        `yaml:"user_agent" env:"CRAWLER_USER_AGENT"`
}

// ChunkingConfig tunes the markdown chunker and code extraction.
type ChunkingConfig struct {
	ChunkSize         int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	ChunkOverlap      int `yaml:"chunk_overlap" env:"CHUNK_OVERLAP"`
	MinCodeBlockChars int `yaml:"min_code_block_chars" env:"MIN_CODE_BLOCK_CHARS"`
}

// RetrievalConfig tunes retrieval behavior.
type RetrievalConfig struct {
	MatchCount        int     `yaml:"match_count" env:"MATCH_COUNT"`
	RankVectorWeight  float64 `yaml:"rank_vector_weight" env:"RANK_VECTOR_WEIGHT"`
	RankKeywordWeight float64 `yaml:"rank_keyword_weight" env:"RANK_KEYWORD_WEIGHT"`
	RerankerURL       string  `yaml:"reranker_url" env:"RERANKER_URL"`
	RedisURL          string  `yaml:"redis_url" env:"REDIS_URL"`
}

// GraphConfig configures the Neo4j knowledge graph connection.
type GraphConfig struct {
	URI      string `yaml:"uri" env:"NEO4J_URI"`
	User     string `yaml:"user" env:"NEO4J_USER"`
	Password string `yaml:"password" env:"NEO4J_PASSWORD"`
}

// SearchConfig configures the metasearch backend.
type SearchConfig struct {
	SearxngURL string `yaml:"searxng_url" env:"SEARXNG_URL"`
}

// FlagsConfig holds the RAG strategy feature flags. Each flag gates
// both a pipeline stage and the MCP tools that depend on it.
type FlagsConfig struct {
	ContextualEmbeddings bool `yaml:"use_contextual_embeddings" env:"USE_CONTEXTUAL_EMBEDDINGS"`
	HybridSearch         bool `yaml:"use_hybrid_search" env:"USE_HYBRID_SEARCH"`
	AgenticRAG           bool `yaml:"use_agentic_rag" env:"USE_AGENTIC_RAG"`
	Reranking            bool `yaml:"use_reranking" env:"USE_RERANKING"`
	KnowledgeGraph       bool `yaml:"use_knowledge_graph" env:"USE_KNOWLEDGE_GRAPH"`
}

// LoggingConfig configures slog output.
type LoggingConfig struct {
	Level string `yaml:"level" env:"LOG_LEVEL"`
	File  string `yaml:"file" env:"LOG_FILE"`
}

// New returns a Config populated with built-in defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: TransportStdio,
			Host:      "0.0.0.0",
			Port:      8051,
		},
		VectorDB: VectorStoreConfig{
			Backend:   VectorBackendQdrant,
			QdrantURL: "localhost:6334",
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "openai",
			BaseURL:    "https://api.openai.com/v1",
			Model:      "text-embedding-3-small",
			Dimensions: 1536,
			BatchSize:  32,
			CacheSize:  4096,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Concurrency: 4,
		},
		Crawl: CrawlConfig{
			Engine:         CrawlEngineHTTP,
			MaxConcurrent:  10,
			MaxDepth:       3,
			RequestTimeout: 30 * time.Second,
			UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},
		Chunking: ChunkingConfig{
			ChunkSize:         5000,
			ChunkOverlap:      200,
			MinCodeBlockChars: 300,
		},
		Retrieval: RetrievalConfig{
			MatchCount:        5,
			RankVectorWeight:  1.0,
			RankKeywordWeight: 0.5,
		},
		Graph: GraphConfig{
			User: "neo4j",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file
// named by LODESTONE_CONFIG (if any), then .env, then the environment.
func Load() (*Config, error) {
	cfg := New()

	if path := os.Getenv("LODESTONE_CONFIG"); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	// .env overrides ambient environment so local project settings win.
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Overload(".env"); err != nil {
			return nil, fmt.Errorf("loading .env: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML overlays values from a YAML file onto the config.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// Validate checks enum fields and numeric ranges. A validation failure
// is fatal at startup.
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case TransportStdio, TransportHTTP:
	default:
		return fmt.Errorf("invalid TRANSPORT %q: must be %q or %q",
			c.Server.Transport, TransportStdio, TransportHTTP)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid PORT %d: must be 1-65535", c.Server.Port)
	}

	switch c.VectorDB.Backend {
	case VectorBackendQdrant, VectorBackendPGVector:
	default:
		return fmt.Errorf("invalid VECTOR_DB %q: must be %q or %q",
			c.VectorDB.Backend, VectorBackendQdrant, VectorBackendPGVector)
	}
	if c.VectorDB.Backend == VectorBackendPGVector && c.VectorDB.DatabaseURL == "" {
		return fmt.Errorf("VECTOR_DB=pgvector requires DATABASE_URL")
	}

	switch c.Crawl.Engine {
	case CrawlEngineHTTP, CrawlEngineBrowser:
	default:
		return fmt.Errorf("invalid CRAWLER_ENGINE %q: must be %q or %q",
			c.Crawl.Engine, CrawlEngineHTTP, CrawlEngineBrowser)
	}

	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "anthropic", "none":
	default:
		return fmt.Errorf("invalid LLM_PROVIDER %q: must be openai, anthropic, or none", c.LLM.Provider)
	}

	switch c.Embeddings.Provider {
	case "openai", "static":
	default:
		return fmt.Errorf("invalid EMBEDDINGS_PROVIDER %q: must be openai or static", c.Embeddings.Provider)
	}

	if c.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("EMBEDDING_DIM must be positive, got %d", c.Embeddings.Dimensions)
	}
	if c.Embeddings.BatchSize < 1 || c.Embeddings.BatchSize > 256 {
		return fmt.Errorf("EMBED_BATCH_SIZE must be 1-256, got %d", c.Embeddings.BatchSize)
	}

	if c.Chunking.ChunkSize < 100 {
		return fmt.Errorf("CHUNK_SIZE must be at least 100, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.ChunkOverlap < 0 || c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.Chunking.ChunkOverlap)
	}

	if c.Crawl.MaxConcurrent < 1 {
		return fmt.Errorf("MAX_CONCURRENT must be at least 1, got %d", c.Crawl.MaxConcurrent)
	}
	if c.Crawl.MaxDepth < 1 {
		return fmt.Errorf("MAX_DEPTH must be at least 1, got %d", c.Crawl.MaxDepth)
	}

	if c.Retrieval.RankVectorWeight < 0 || c.Retrieval.RankKeywordWeight < 0 {
		return fmt.Errorf("rank weights must be non-negative")
	}

	if c.Flags.KnowledgeGraph && c.Graph.URI == "" {
		return fmt.Errorf("USE_KNOWLEDGE_GRAPH=true requires NEO4J_URI")
	}

	return nil
}
