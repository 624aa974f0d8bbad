// Package config loads noteai-server settings from defaults, an optional YAML
// file and the environment (in that order of precedence, lowest first).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the server and the CLI.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Qdrant     QdrantConfig     `yaml:"qdrant"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Generation GenerationConfig `yaml:"generation"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Analysis   AnalysisConfig   `yaml:"analysis"`
	Language   LanguageConfig   `yaml:"language"`
	Redis      RedisConfig      `yaml:"redis"`
	GitHub     GitHubConfig     `yaml:"github"`
	Log        LogConfig        `yaml:"log"`

	// MockMode wires deterministic AI providers and the memory vector store.
	MockMode bool `yaml:"mock_mode"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	// HTTPMode serves MCP over streamable HTTP instead of stdio.
	HTTPMode bool `yaml:"http_mode"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
	BlobDir string `yaml:"blob_dir"`
	// InMemory keeps badger entirely in memory. Data is lost on exit.
	InMemory bool `yaml:"in_memory"`
}

type QdrantConfig struct {
	Backend    string `yaml:"backend"` // "qdrant" or "memory"
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKey     string `yaml:"api_key"`
	UseTLS     bool   `yaml:"use_tls"`
	Collection string `yaml:"collection"`
}

type OpenAIConfig struct {
	APIKey             string        `yaml:"api_key"`
	BaseURL            string        `yaml:"base_url"`
	EmbeddingModel     string        `yaml:"embedding_model"`
	EmbeddingDimension int           `yaml:"embedding_dimension"`
	ChatModel          string        `yaml:"chat_model"`
	VisionModel        string        `yaml:"vision_model"`
	Timeout            time.Duration `yaml:"timeout"`
	RequestsPerSecond  float64       `yaml:"requests_per_second"`
	MaxAttempts        int           `yaml:"max_attempts"`
	Logprobs           bool          `yaml:"logprobs"`
}

type GenerationConfig struct {
	// Provider is "openai" or "langchain" (any OpenAI-compatible host).
	Provider       string `yaml:"provider"`
	LangchainHost  string `yaml:"langchain_host"`
	LangchainModel string `yaml:"langchain_model"`
	// LangchainEmbeddingModel switches embeddings to the langchain host when set.
	LangchainEmbeddingModel string `yaml:"langchain_embedding_model"`
}

type IngestConfig struct {
	Workers          int           `yaml:"workers"`
	EmbedConcurrency int           `yaml:"embed_concurrency"`
	ChunkSize        int           `yaml:"chunk_size"`
	ChunkOverlap     int           `yaml:"chunk_overlap"`
	SuccessThreshold float64       `yaml:"success_threshold"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	MaxFetchBytes    int64         `yaml:"max_fetch_bytes"`
	FetchRate        float64       `yaml:"fetch_rate"`
	LockTTL          time.Duration `yaml:"lock_ttl"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

type RetrievalConfig struct {
	TopK            int     `yaml:"top_k"`
	ScoreThreshold  float64 `yaml:"score_threshold"`
	MaxContextChars int     `yaml:"max_context_chars"`
	HistoryMessages int     `yaml:"history_messages"`
	ChatTemperature float64 `yaml:"chat_temperature"`
	ChatMaxTokens   int     `yaml:"chat_max_tokens"`
}

type AnalysisConfig struct {
	ReviewTopK        int     `yaml:"review_top_k"`
	CoverageThreshold float64 `yaml:"coverage_threshold"`
	ParseAttempts     int     `yaml:"parse_attempts"`
}

type LanguageConfig struct {
	Fallback   string `yaml:"fallback"`
	SampleSize int    `yaml:"sample_size"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type GitHubConfig struct {
	Token string `yaml:"token"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: "8080"},
		Storage: StorageConfig{
			DataDir: "data/db",
			BlobDir: "data/blobs",
		},
		Qdrant: QdrantConfig{
			Backend:    "qdrant",
			Host:       "localhost",
			Port:       6334,
			Collection: "noteai_chunks",
		},
		OpenAI: OpenAIConfig{
			EmbeddingModel:     "text-embedding-3-small",
			EmbeddingDimension: 1536,
			ChatModel:          "gpt-4o",
			VisionModel:        "gpt-4o",
			Timeout:            30 * time.Second,
			MaxAttempts:        5,
		},
		Generation: GenerationConfig{Provider: "openai"},
		Ingest: IngestConfig{
			Workers:          4,
			EmbedConcurrency: 8,
			ChunkSize:        1000,
			ChunkOverlap:     200,
			SuccessThreshold: 0.9,
			FetchTimeout:     30 * time.Second,
			MaxFetchBytes:    20 << 20,
			FetchRate:        2,
			LockTTL:          30 * time.Minute,
			SweepInterval:    10 * time.Minute,
		},
		Retrieval: RetrievalConfig{
			TopK:            5,
			ScoreThreshold:  0.3,
			MaxContextChars: 12000,
			HistoryMessages: 6,
			ChatTemperature: 0.7,
			ChatMaxTokens:   1000,
		},
		Analysis: AnalysisConfig{
			ReviewTopK:        8,
			CoverageThreshold: 0.5,
			ParseAttempts:     2,
		},
		Language: LanguageConfig{Fallback: "vi", SampleSize: 500},
		Log:      LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads .env (if present), the YAML file named by CONFIG_FILE (if set)
// and then environment overrides.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.HTTPMode = getEnvBool("SERVER_MODE", c.Server.HTTPMode)

	c.Storage.DataDir = getEnv("DATA_DIR", c.Storage.DataDir)
	c.Storage.BlobDir = getEnv("BLOB_DIR", c.Storage.BlobDir)
	c.Storage.InMemory = getEnvBool("STORAGE_IN_MEMORY", c.Storage.InMemory)

	c.Qdrant.Backend = getEnv("VECTOR_BACKEND", c.Qdrant.Backend)
	c.Qdrant.Host = getEnv("QDRANT_HOST", c.Qdrant.Host)
	c.Qdrant.Port = getEnvInt("QDRANT_PORT", c.Qdrant.Port)
	c.Qdrant.APIKey = getEnv("QDRANT_API_KEY", c.Qdrant.APIKey)
	c.Qdrant.UseTLS = getEnvBool("QDRANT_USE_TLS", c.Qdrant.UseTLS)
	c.Qdrant.Collection = getEnv("QDRANT_COLLECTION", c.Qdrant.Collection)

	c.OpenAI.APIKey = getEnv("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", c.OpenAI.BaseURL)
	c.OpenAI.EmbeddingModel = getEnv("EMBEDDING_MODEL", c.OpenAI.EmbeddingModel)
	c.OpenAI.EmbeddingDimension = getEnvInt("EMBEDDING_DIMENSION", c.OpenAI.EmbeddingDimension)
	c.OpenAI.ChatModel = getEnv("CHAT_MODEL", c.OpenAI.ChatModel)
	c.OpenAI.VisionModel = getEnv("VISION_MODEL", c.OpenAI.VisionModel)
	c.OpenAI.Timeout = getEnvDuration("OPENAI_TIMEOUT", c.OpenAI.Timeout)
	c.OpenAI.RequestsPerSecond = getEnvFloat("OPENAI_REQUESTS_PER_SECOND", c.OpenAI.RequestsPerSecond)
	c.OpenAI.MaxAttempts = getEnvInt("OPENAI_MAX_ATTEMPTS", c.OpenAI.MaxAttempts)
	c.OpenAI.Logprobs = getEnvBool("OPENAI_LOGPROBS", c.OpenAI.Logprobs)

	c.Generation.Provider = getEnv("GENERATION_PROVIDER", c.Generation.Provider)
	c.Generation.LangchainHost = getEnv("LANGCHAIN_HOST", c.Generation.LangchainHost)
	c.Generation.LangchainModel = getEnv("LANGCHAIN_MODEL", c.Generation.LangchainModel)
	c.Generation.LangchainEmbeddingModel = getEnv("LANGCHAIN_EMBEDDING_MODEL", c.Generation.LangchainEmbeddingModel)

	c.Ingest.Workers = getEnvInt("INGEST_WORKERS", c.Ingest.Workers)
	c.Ingest.EmbedConcurrency = getEnvInt("INGEST_EMBED_CONCURRENCY", c.Ingest.EmbedConcurrency)
	c.Ingest.ChunkSize = getEnvInt("INGEST_CHUNK_SIZE", c.Ingest.ChunkSize)
	c.Ingest.ChunkOverlap = getEnvInt("INGEST_CHUNK_OVERLAP", c.Ingest.ChunkOverlap)
	c.Ingest.SuccessThreshold = getEnvFloat("INGEST_SUCCESS_THRESHOLD", c.Ingest.SuccessThreshold)
	c.Ingest.FetchTimeout = getEnvDuration("EXTRACT_FETCH_TIMEOUT", c.Ingest.FetchTimeout)
	c.Ingest.MaxFetchBytes = int64(getEnvInt("EXTRACT_MAX_BYTES", int(c.Ingest.MaxFetchBytes)))
	c.Ingest.FetchRate = getEnvFloat("EXTRACT_FETCH_RATE", c.Ingest.FetchRate)
	c.Ingest.LockTTL = getEnvDuration("INGEST_LOCK_TTL", c.Ingest.LockTTL)
	c.Ingest.SweepInterval = getEnvDuration("INGEST_SWEEP_INTERVAL", c.Ingest.SweepInterval)

	c.Retrieval.TopK = getEnvInt("RETRIEVAL_TOP_K", c.Retrieval.TopK)
	c.Retrieval.ScoreThreshold = getEnvFloat("RETRIEVAL_SCORE_THRESHOLD", c.Retrieval.ScoreThreshold)
	c.Retrieval.MaxContextChars = getEnvInt("RETRIEVAL_MAX_CONTEXT_CHARS", c.Retrieval.MaxContextChars)
	c.Retrieval.HistoryMessages = getEnvInt("CHAT_HISTORY_MESSAGES", c.Retrieval.HistoryMessages)

	c.Analysis.ReviewTopK = getEnvInt("ANALYSIS_REVIEW_TOP_K", c.Analysis.ReviewTopK)
	c.Analysis.CoverageThreshold = getEnvFloat("ANALYSIS_COVERAGE_THRESHOLD", c.Analysis.CoverageThreshold)
	c.Analysis.ParseAttempts = getEnvInt("ANALYSIS_PARSE_ATTEMPTS", c.Analysis.ParseAttempts)

	c.Language.Fallback = getEnv("LANGUAGE_FALLBACK", c.Language.Fallback)
	c.Language.SampleSize = getEnvInt("LANGUAGE_SAMPLE_SIZE", c.Language.SampleSize)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.Redis.DB = getEnvInt("REDIS_DB", c.Redis.DB)

	c.GitHub.Token = getEnv("GITHUB_TOKEN", c.GitHub.Token)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.MockMode = getEnvBool("MOCK_MODE", c.MockMode)
}

// Validate checks value ranges that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	if c.Ingest.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be positive, got %d", c.Ingest.ChunkSize)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_size), got %d", c.Ingest.ChunkOverlap)
	}
	if c.Ingest.SuccessThreshold <= 0 || c.Ingest.SuccessThreshold > 1 {
		return fmt.Errorf("ingest.success_threshold must be in (0, 1], got %v", c.Ingest.SuccessThreshold)
	}
	if c.Ingest.Workers < 1 || c.Ingest.EmbedConcurrency < 1 {
		return fmt.Errorf("ingest workers and embed_concurrency must be at least 1")
	}
	if c.Retrieval.TopK < 1 {
		return fmt.Errorf("retrieval.top_k must be at least 1, got %d", c.Retrieval.TopK)
	}
	if c.OpenAI.EmbeddingDimension <= 0 {
		return fmt.Errorf("openai.embedding_dimension must be positive")
	}
	switch c.Qdrant.Backend {
	case "qdrant", "memory":
	default:
		return fmt.Errorf("unknown vector backend %q", c.Qdrant.Backend)
	}
	switch c.Generation.Provider {
	case "openai", "langchain":
	default:
		return fmt.Errorf("unknown generation provider %q", c.Generation.Provider)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		var i int
		if _, err := fmt.Sscanf(v, "%d", &i); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
