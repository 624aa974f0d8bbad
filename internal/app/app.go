// Package app wires the noteai components from a Config. Both the MCP
// server and the CLI start from New.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bull/noteai-server/internal/analysis"
	"github.com/bull/noteai-server/internal/blob"
	"github.com/bull/noteai-server/internal/chat"
	"github.com/bull/noteai-server/internal/chunker"
	"github.com/bull/noteai-server/internal/config"
	"github.com/bull/noteai-server/internal/embedding"
	"github.com/bull/noteai-server/internal/extract"
	"github.com/bull/noteai-server/internal/generation"
	ghclient "github.com/bull/noteai-server/internal/github"
	"github.com/bull/noteai-server/internal/ingest"
	"github.com/bull/noteai-server/internal/language"
	"github.com/bull/noteai-server/internal/lock"
	"github.com/bull/noteai-server/internal/mock"
	"github.com/bull/noteai-server/internal/storage"
	"github.com/bull/noteai-server/internal/vectorstore"
)

// App holds the wired components.
type App struct {
	Config    *config.Config
	Store     *storage.BadgerStore
	Blobs     blob.Store
	Vectors   vectorstore.Store
	Embedder  embedding.Embedder
	Generator generation.Generator
	Ingest    *ingest.Coordinator
	Chat      *chat.Engine
	Analysis  *analysis.Engine

	checks  map[string]func(context.Context) error
	closers []func() error
	logger  *slog.Logger
}

// New connects every backing service named by cfg. On error, whatever was
// already opened is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, checks: make(map[string]func(context.Context) error), logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.Store, err = storage.OpenBadger(cfg.Storage.DataDir, cfg.Storage.InMemory, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a.onClose(a.Store.Close)
	a.checks["store"] = a.Store.Ping

	if cfg.Storage.InMemory {
		a.Blobs = blob.NewMemoryStore()
	} else if a.Blobs, err = blob.NewFSStore(cfg.Storage.BlobDir); err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}

	if err := a.wireProviders(); err != nil {
		return nil, err
	}
	if err := a.wireVectors(ctx); err != nil {
		return nil, err
	}

	locker, err := a.newLocker(ctx)
	if err != nil {
		return nil, err
	}

	fallback, ok := language.Parse(cfg.Language.Fallback)
	if !ok {
		logger.Warn("unknown fallback language, using Vietnamese", "language", cfg.Language.Fallback)
		fallback = language.Vietnamese
	}
	detector := language.New(fallback, cfg.Language.SampleSize)

	gh, err := ghclient.NewClient(cfg.GitHub.Token)
	if err != nil {
		return nil, fmt.Errorf("github client: %w", err)
	}
	var ocr extract.OCR
	if o, ok := a.Generator.(extract.OCR); ok {
		ocr = o
	}
	registry, err := extract.DefaultRegistry(extract.Deps{
		Blobs:  a.Blobs,
		OCR:    ocr,
		GitHub: ghclient.NewFetcher(gh),
		Fetch: extract.FetchConfig{
			Timeout:           cfg.Ingest.FetchTimeout,
			MaxBytes:          cfg.Ingest.MaxFetchBytes,
			RequestsPerSecond: cfg.Ingest.FetchRate,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("extractors: %w", err)
	}

	a.Ingest, err = ingest.New(ingest.Deps{
		Store:      a.Store,
		Blobs:      a.Blobs,
		Extractors: registry,
		Embedder:   a.Embedder,
		Vectors:    a.Vectors,
		Locker:     locker,
		Detector:   detector,
	}, ingest.Config{
		Workers:          cfg.Ingest.Workers,
		EmbedConcurrency: cfg.Ingest.EmbedConcurrency,
		SuccessThreshold: cfg.Ingest.SuccessThreshold,
		LockTTL:          cfg.Ingest.LockTTL,
		Chunker: chunker.Config{
			MaxChars: cfg.Ingest.ChunkSize,
			Overlap:  cfg.Ingest.ChunkOverlap,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("ingest coordinator: %w", err)
	}
	a.onClose(func() error { a.Ingest.Close(); return nil })

	chatCfg := chat.DefaultConfig()
	chatCfg.TopK = cfg.Retrieval.TopK
	chatCfg.ScoreThreshold = cfg.Retrieval.ScoreThreshold
	chatCfg.MaxContextChars = cfg.Retrieval.MaxContextChars
	chatCfg.HistoryMessages = cfg.Retrieval.HistoryMessages
	chatCfg.Temperature = cfg.Retrieval.ChatTemperature
	chatCfg.MaxTokens = cfg.Retrieval.ChatMaxTokens
	a.Chat = chat.New(a.Store, a.Embedder, a.Vectors, a.Generator, detector, chatCfg, logger)

	analysisCfg := analysis.DefaultConfig()
	analysisCfg.ReviewTopK = cfg.Analysis.ReviewTopK
	analysisCfg.CoverageThreshold = cfg.Analysis.CoverageThreshold
	analysisCfg.ParseAttempts = cfg.Analysis.ParseAttempts
	analysisCfg.MaxContextChars = cfg.Retrieval.MaxContextChars
	a.Analysis = analysis.New(a.Store, a.Embedder, a.Vectors, a.Generator, detector, analysisCfg, logger)

	return a, nil
}

// wireProviders picks the embedding and generation backends. Mock mode needs
// no credentials.
func (a *App) wireProviders() error {
	cfg := a.Config
	if cfg.MockMode {
		a.logger.Warn("mock mode: embeddings and answers are synthetic")
		a.Embedder = mock.NewEmbedder(cfg.OpenAI.EmbeddingDimension)
		a.Generator = mock.NewGenerator()
		return nil
	}

	retry := embedding.RetryPolicy{MaxAttempts: cfg.OpenAI.MaxAttempts}
	var base embedding.Embedder

	var client *embedding.Client
	if cfg.OpenAI.APIKey != "" {
		var err error
		client, err = embedding.NewClient(embedding.ClientConfig{APIKey: cfg.OpenAI.APIKey, BaseURL: cfg.OpenAI.BaseURL})
		if err != nil {
			return fmt.Errorf("openai client: %w", err)
		}
	}

	if model := cfg.Generation.LangchainEmbeddingModel; model != "" {
		emb, err := embedding.NewLangchainEmbedder(embedding.LangchainConfig{
			Host:      cfg.Generation.LangchainHost,
			Model:     model,
			Token:     cfg.OpenAI.APIKey,
			Dimension: cfg.OpenAI.EmbeddingDimension,
			Timeout:   cfg.OpenAI.Timeout,
		}, a.logger)
		if err != nil {
			return err
		}
		base = emb
	} else {
		if client == nil {
			return errors.New("OPENAI_API_KEY not set (set MOCK_MODE=true to run without it)")
		}
		base = embedding.NewOpenAIEmbedder(client, embedding.OpenAIConfig{
			Model:             cfg.OpenAI.EmbeddingModel,
			Dimension:         cfg.OpenAI.EmbeddingDimension,
			Timeout:           cfg.OpenAI.Timeout,
			RequestsPerSecond: cfg.OpenAI.RequestsPerSecond,
		}, a.logger)
	}
	a.Embedder = embedding.Retrying(base, retry, a.logger)

	switch cfg.Generation.Provider {
	case "langchain":
		gen, err := generation.NewLangchainGenerator(generation.LangchainConfig{
			Host:    cfg.Generation.LangchainHost,
			Model:   cfg.Generation.LangchainModel,
			Token:   cfg.OpenAI.APIKey,
			Timeout: cfg.OpenAI.Timeout,
		}, a.logger)
		if err != nil {
			return err
		}
		a.Generator = gen
	default:
		if client == nil {
			return errors.New("OPENAI_API_KEY not set (set MOCK_MODE=true to run without it)")
		}
		a.Generator = generation.NewOpenAIGenerator(client, generation.OpenAIConfig{
			Model:       cfg.OpenAI.ChatModel,
			VisionModel: cfg.OpenAI.VisionModel,
			Timeout:     cfg.OpenAI.Timeout,
			Logprobs:    cfg.OpenAI.Logprobs,
		}, a.logger)
	}
	return nil
}

func (a *App) wireVectors(ctx context.Context) error {
	cfg := a.Config
	if cfg.MockMode || cfg.Qdrant.Backend == "memory" {
		a.Vectors = vectorstore.NewMemoryStore(a.Embedder.Dimension())
		return nil
	}
	qs, err := vectorstore.NewQdrantStore(ctx, vectorstore.QdrantConfig{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.UseTLS,
		Collection: cfg.Qdrant.Collection,
		Dimension:  a.Embedder.Dimension(),
	}, a.logger)
	if err != nil {
		return fmt.Errorf("connect to Qdrant at %s:%d: %w", cfg.Qdrant.Host, cfg.Qdrant.Port, err)
	}
	a.onClose(qs.Close)
	if err := qs.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}
	a.Vectors = qs
	a.checks["vectors"] = qs.Health
	return nil
}

// newLocker returns a Redis lock when REDIS_ADDR is set, so that several
// server processes never ingest the same document at once.
func (a *App) newLocker(ctx context.Context) (lock.Locker, error) {
	cfg := a.Config.Redis
	if cfg.Addr == "" {
		return lock.NewLocal(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	a.onClose(client.Close)

	locker := lock.NewRedis(client)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := locker.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("connect to Redis at %s: %w", cfg.Addr, err)
	}
	a.checks["redis"] = locker.Ping
	a.logger.Info("using redis ingestion locks", "addr", cfg.Addr, "owner", locker.OwnerID())
	return locker, nil
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Checks returns a ping per external dependency, keyed by component name.
func (a *App) Checks() map[string]func(context.Context) error {
	return a.checks
}

// Resume recovers documents interrupted by a previous process.
func (a *App) Resume(ctx context.Context) error {
	failed, queued, err := a.Ingest.Resume(ctx)
	if err != nil {
		return fmt.Errorf("resume ingestion: %w", err)
	}
	if failed > 0 || queued > 0 {
		a.logger.Info("resumed ingestion", "failed_interrupted", failed, "requeued", queued)
	}
	return nil
}

// RunSweeper deletes orphaned vector scopes every interval until ctx ends.
func (a *App) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := a.Ingest.SweepOrphans(ctx); err != nil {
				a.logger.Warn("orphan sweep failed", "error", err)
			} else if n > 0 {
				a.logger.Info("orphan scopes swept", "count", n)
			}
		}
	}
}

// Close shuts components down in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
