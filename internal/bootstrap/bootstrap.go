// Package bootstrap turns a config.Config into the clients and stores the binaries run on.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/whygraph/backend/internal/config"
	"github.com/OFFIS-RIT/whygraph/backend/internal/storage"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/ai"
	oai "github.com/OFFIS-RIT/whygraph/backend/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/whygraph/backend/pkg/ai/openai"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/answer"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/audit"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/cache"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/envelope"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/evidence"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/logger"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/logger/console"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/metrics"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/pipeline"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/snapshot"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/store"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/store/memory"
	pgstore "github.com/OFFIS-RIT/whygraph/backend/pkg/store/pgx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// InitLogger installs the console logger.
func InitLogger(cfg config.Config, prefix string) {
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  cfg.Debug,
		Level:  cfg.LogLevel,
		Prefix: prefix,
	}))
}

// NewPool opens a pgx pool that registers the pgvector types on every connection.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// NewAIClient returns nil when no adapter is configured.
func NewAIClient(cfg config.AIConfig) (ai.GraphAIClient, error) {
	switch cfg.Adapter {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			ChatModel:      cfg.ChatModel,
			EmbeddingModel: cfg.EmbeddingModel,
			EmbeddingDim:   cfg.EmbeddingDim,

			BaseURL: cfg.ChatURL,
			ApiKey:  cfg.ChatKey,

			Timeout:               cfg.Timeout,
			MaxConcurrentRequests: cfg.Parallel,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		return client, nil
	case "openai":
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			ChatModel:      cfg.ChatModel,
			EmbeddingModel: cfg.EmbeddingModel,
			EmbeddingDim:   cfg.EmbeddingDim,

			ChatURL:      cfg.ChatURL,
			ChatKey:      cfg.ChatKey,
			EmbeddingURL: cfg.EmbeddingURL,
			EmbeddingKey: cfg.EmbeddingKey,

			Timeout:               cfg.Timeout,
			MaxConcurrentRequests: cfg.Parallel,
		}), nil
	default:
		return nil, nil
	}
}

// NewGraphStore opens the configured graph store. pool may be nil for the memory store.
func NewGraphStore(cfg config.Config, pool *pgxpool.Pool, client ai.GraphAIClient) (store.GraphStore, error) {
	switch cfg.Store {
	case "memory":
		var opts []memory.Option
		if client != nil {
			opts = append(opts, memory.WithEmbedder(client))
		}
		return memory.Load(cfg.GraphFixture, opts...)
	default:
		if pool == nil {
			return nil, fmt.Errorf("postgres graph store requires a database pool")
		}
		var opts []pgstore.GraphDBStorageOption
		if client != nil {
			opts = append(opts, pgstore.WithEmbedder(client))
		}
		return pgstore.NewGraphDBStorageWithConnection(pool, opts...), nil
	}
}

// NewArtifactStore returns nil when auditing is disabled.
func NewArtifactStore(ctx context.Context, cfg config.AuditConfig, pool *pgxpool.Pool) (audit.ArtifactStore, error) {
	switch cfg.Backend {
	case "memory":
		return audit.NewMemoryStore(), nil
	case "postgres":
		if pool == nil {
			return nil, fmt.Errorf("postgres audit store requires a database pool")
		}
		return audit.NewPostgresStore(pool), nil
	case "s3":
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		return storage.NewS3ArtifactStore(client, cfg.S3.Bucket, cfg.S3.Prefix), nil
	default:
		return nil, nil
	}
}

// NewCacheBackend returns nil when caching is disabled.
func NewCacheBackend(ctx context.Context, cfg config.CacheConfig) (cache.Backend, error) {
	switch cfg.Backend {
	case "redis":
		backend := cache.NewRedisBackend(cache.NewRedisClient(cfg.RedisURL), cfg.Prefix)
		if err := backend.Ping(ctx); err != nil {
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		return backend, nil
	case "memory":
		longest := max(cfg.TTLs.Resolver, cfg.TTLs.Evidence, cfg.TTLs.Answer)
		return cache.NewMemoryBackend(longest, longest), nil
	default:
		return nil, nil
	}
}

// Gateway bundles everything the HTTP edge needs.
type Gateway struct {
	Store     store.GraphStore
	Pipeline  *pipeline.Orchestrator
	Artifacts audit.ArtifactStore
	Tracker   *snapshot.Tracker
	Metrics   *metrics.Metrics
}

// NewGateway wires the pipeline from its parts.
func NewGateway(
	ctx context.Context,
	cfg config.Config,
	s store.GraphStore,
	client ai.GraphAIClient,
	artifacts audit.ArtifactStore,
	backend cache.Backend,
	m *metrics.Metrics,
) (*Gateway, error) {
	tracker := snapshot.NewTracker("")
	if err := tracker.Refresh(ctx, s); err != nil {
		return nil, err
	}

	var model answer.Producer
	if client != nil {
		model = answer.NewModelProducer(client, cfg.AI.ChatModel)
	}
	engine := answer.NewEngine(cfg.Answer, model, answer.NewTemplater())
	envelopes := envelope.NewBuilder(
		envelope.WithMaxTokens(cfg.AnswerMaxTokens),
		envelope.WithTokenCounter(ai.CountTokens),
	)

	var caches pipeline.Caches
	if backend != nil {
		caches = pipeline.NewCaches(backend, cfg.Cache.TTLs, m)
	}

	orch := pipeline.New(s, cfg.Pipeline,
		pipeline.WithEngine(engine),
		pipeline.WithEnvelopeBuilder(envelopes),
		pipeline.WithScorer(evidence.NewFormulaScorer(cfg.Weights)),
		pipeline.WithCaches(caches),
		pipeline.WithArtifactStore(artifacts),
		pipeline.WithRecorderOptions(
			audit.WithWriteLimit(cfg.Audit.WriteLimit),
			audit.WithWriteTimeout(cfg.Audit.WriteTimeout),
		),
		pipeline.WithTracker(tracker),
		pipeline.WithMetrics(m),
	)

	logger.Info("Gateway ready",
		"store", cfg.Store,
		"snapshot_etag", tracker.Current(),
		"ai_adapter", cfg.AI.Adapter,
		"policy", engine.EffectivePolicy(),
		"cache", cfg.Cache.Backend,
		"audit", cfg.Audit.Backend,
	)
	return &Gateway{Store: s, Pipeline: orch, Artifacts: artifacts, Tracker: tracker, Metrics: m}, nil
}
