// Package config reads the gateway configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/whygraph/backend/internal/queue"
	"github.com/OFFIS-RIT/whygraph/backend/internal/storage"
	"github.com/OFFIS-RIT/whygraph/backend/internal/util"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/answer"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/audit"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/envelope"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/evidence"
	"github.com/OFFIS-RIT/whygraph/backend/pkg/pipeline"
)

type AIConfig struct {
	// Adapter is openai, ollama or none. With none answers always come from the templater.
	Adapter        string
	ChatModel      string
	EmbeddingModel string
	EmbeddingDim   int
	ChatURL        string
	ChatKey        string
	EmbeddingURL   string
	EmbeddingKey   string
	Timeout        time.Duration
	Parallel       int64
}

type CacheConfig struct {
	// Backend is memory, redis or none.
	Backend  string
	RedisURL string
	Prefix   string
	TTLs     pipeline.CacheTTLs
}

type AuditConfig struct {
	// Backend is memory, postgres, s3 or none.
	Backend      string
	S3           storage.S3Config
	WriteLimit   int
	WriteTimeout time.Duration
}

type AuthConfig struct {
	// JWKSURL enables bearer JWT auth. With neither it nor MasterAPIKey set, the API is open.
	JWKSURL      string
	MasterAPIKey string
}

type Config struct {
	Port     string
	Debug    bool
	LogLevel string

	// Store is postgres or memory. The memory store loads GraphFixture.
	Store            string
	GraphFixture     string
	DatabaseURL      string
	MigrationsSource string

	Pipeline        pipeline.Config
	Answer          answer.Config
	Weights         evidence.Weights
	AnswerMaxTokens int

	AI    AIConfig
	Cache CacheConfig
	Audit AuditConfig
	Auth  AuthConfig

	Queue        queue.Config
	QueueEnabled bool
	SnapshotPoll time.Duration
	// SnapshotAnnounce lets one replica publish etag changes for the others.
	SnapshotAnnounce bool
}

func oneOf(name, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("invalid %s %q, expected one of %s", name, value, strings.Join(allowed, ", "))
}

// Load builds the configuration from environment variables. Unset values take their defaults.
func Load() (Config, error) {
	pc := pipeline.DefaultConfig()
	pc.ResolveTimeout = util.GetEnvDuration("RESOLVE_TIMEOUT", pc.ResolveTimeout)
	pc.ExpandTimeout = util.GetEnvDuration("EXPAND_TIMEOUT", pc.ExpandTimeout)
	pc.ValidateTimeout = util.GetEnvDuration("VALIDATE_TIMEOUT", pc.ValidateTimeout)
	pc.StructuredBudget = util.GetEnvDuration("STRUCTURED_BUDGET", pc.StructuredBudget)
	pc.FreeTextBudget = util.GetEnvDuration("FREE_TEXT_BUDGET", pc.FreeTextBudget)
	pc.Resolver.LexicalThreshold = util.GetEnvNumeric("RESOLVER_LEXICAL_THRESHOLD", pc.Resolver.LexicalThreshold)
	pc.Resolver.MinConfidence = util.GetEnvNumeric("RESOLVER_MIN_CONFIDENCE", pc.Resolver.MinConfidence)
	pc.Resolver.TopN = util.GetEnvInt("RESOLVER_TOP_N", pc.Resolver.TopN)
	pc.Evidence.MaxBytes = util.GetEnvInt("MAX_PROMPT_BYTES", pc.Evidence.MaxBytes)
	pc.Evidence.Truncate = util.GetEnvBool("EVIDENCE_TRUNCATE", pc.Evidence.Truncate)

	ac := answer.DefaultConfig()
	policy, err := answer.ParsePolicy(util.GetEnv("ANSWER_POLICY"))
	if err != nil {
		return Config{}, err
	}
	ac.Policy = policy
	ac.MaxRetries = util.GetEnvInt("ANSWER_MAX_RETRIES", ac.MaxRetries)
	ac.ValidationRetries = util.GetEnvInt("ANSWER_VALIDATION_RETRIES", ac.ValidationRetries)
	ac.Timeout = util.GetEnvDuration("ANSWER_TIMEOUT", ac.Timeout)
	ac.ValidateTimeout = pc.ValidateTimeout
	ac.Backoff.Base = util.GetEnvDuration("ANSWER_BACKOFF_BASE", ac.Backoff.Base)
	ac.Backoff.Jitter = util.GetEnvDuration("ANSWER_BACKOFF_JITTER", ac.Backoff.Jitter)
	ac.Backoff.Max = util.GetEnvDuration("ANSWER_BACKOFF_MAX", ac.Backoff.Max)

	w := evidence.DefaultWeights()
	w.Similarity = util.GetEnvNumeric("SCORER_WEIGHT_SIMILARITY", w.Similarity)
	w.Degree = util.GetEnvNumeric("SCORER_WEIGHT_DEGREE", w.Degree)
	w.RecencyDay = util.GetEnvNumeric("SCORER_WEIGHT_RECENCY", w.RecencyDay)
	w.TagOverlap = util.GetEnvNumeric("SCORER_WEIGHT_TAGS", w.TagOverlap)

	ttls := pipeline.DefaultCacheTTLs()
	ttls.Resolver = util.GetEnvDuration("CACHE_TTL_RESOLVER", ttls.Resolver)
	ttls.Evidence = util.GetEnvDuration("CACHE_TTL_EVIDENCE", ttls.Evidence)
	ttls.Answer = util.GetEnvDuration("CACHE_TTL_ANSWER", ttls.Answer)

	c := Config{
		Port:     util.GetEnvString("PORT", "8080"),
		Debug:    util.GetEnvBool("DEBUG", false),
		LogLevel: util.GetEnvString("LOG_LEVEL", "info"),

		Store:            util.GetEnvString("GRAPH_STORE", "postgres"),
		GraphFixture:     util.GetEnv("GRAPH_FIXTURE"),
		DatabaseURL:      util.GetEnv("DATABASE_URL"),
		MigrationsSource: util.GetEnvString("MIGRATIONS_SOURCE", "file://migrations"),

		Pipeline:        pc,
		Answer:          ac,
		Weights:         w,
		AnswerMaxTokens: util.GetEnvInt("ANSWER_MAX_TOKENS", envelope.DefaultMaxTokens),

		AI: AIConfig{
			Adapter:        util.GetEnvString("AI_ADAPTER", "none"),
			ChatModel:      util.GetEnv("AI_CHAT_MODEL"),
			EmbeddingModel: util.GetEnv("AI_EMBED_MODEL"),
			EmbeddingDim:   util.GetEnvInt("AI_EMBED_DIM", 1536),
			ChatURL:        util.GetEnv("AI_CHAT_URL"),
			ChatKey:        util.GetEnv("AI_CHAT_KEY"),
			EmbeddingURL:   util.GetEnv("AI_EMBED_URL"),
			EmbeddingKey:   util.GetEnv("AI_EMBED_KEY"),
			Timeout:        util.GetEnvDuration("AI_TIMEOUT", 30*time.Second),
			Parallel:       int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 8)),
		},
		Cache: CacheConfig{
			Backend:  util.GetEnvString("CACHE_BACKEND", "memory"),
			RedisURL: util.GetEnvString("REDIS_URL", "redis://localhost:6379/0"),
			Prefix:   util.GetEnvString("CACHE_PREFIX", "whygraph"),
			TTLs:     ttls,
		},
		Audit: AuditConfig{
			Backend: util.GetEnvString("AUDIT_BACKEND", "postgres"),
			S3: storage.S3Config{
				Region:    util.GetEnvString("S3_REGION", "us-east-1"),
				Endpoint:  util.GetEnv("S3_ENDPOINT"),
				AccessKey: util.GetEnv("S3_ACCESS_KEY"),
				SecretKey: util.GetEnv("S3_SECRET_KEY"),
				Bucket:    util.GetEnv("S3_BUCKET"),
				Prefix:    util.GetEnvString("S3_PREFIX", "audit"),
			},
			WriteLimit:   util.GetEnvInt("AUDIT_WRITE_LIMIT", audit.DefaultWriteLimit),
			WriteTimeout: util.GetEnvDuration("AUDIT_WRITE_TIMEOUT", audit.DefaultWriteTimeout),
		},
		Auth: AuthConfig{
			MasterAPIKey: util.GetEnv("MASTER_API_KEY"),
		},

		Queue: queue.Config{
			User:     util.GetEnvString("RABBITMQ_USER", "guest"),
			Password: util.GetEnvString("RABBITMQ_PASSWORD", "guest"),
			Host:     util.GetEnvString("RABBITMQ_HOST", "localhost"),
			Port:     util.GetEnvString("RABBITMQ_PORT", "5672"),
		},
		QueueEnabled:     util.GetEnvBool("RABBITMQ_ENABLED", false),
		SnapshotAnnounce: util.GetEnvBool("SNAPSHOT_ANNOUNCE", false),
		SnapshotPoll:     util.GetEnvDuration("SNAPSHOT_POLL_INTERVAL", 30*time.Second),
	}
	if authURL := util.GetEnv("AUTH_URL"); authURL != "" {
		c.Auth.JWKSURL = strings.TrimRight(authURL, "/") + "/jwks"
	}
	c.Pipeline.EnableEmbeddings = util.GetEnvBool("ENABLE_EMBEDDINGS", c.AI.Adapter != "none" && c.AI.EmbeddingModel != "")

	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	if err := oneOf("GRAPH_STORE", c.Store, "postgres", "memory"); err != nil {
		return err
	}
	if err := oneOf("AI_ADAPTER", c.AI.Adapter, "openai", "ollama", "none"); err != nil {
		return err
	}
	if err := oneOf("CACHE_BACKEND", c.Cache.Backend, "memory", "redis", "none"); err != nil {
		return err
	}
	if err := oneOf("AUDIT_BACKEND", c.Audit.Backend, "memory", "postgres", "s3", "none"); err != nil {
		return err
	}
	if c.Store == "memory" && c.GraphFixture == "" {
		return fmt.Errorf("GRAPH_FIXTURE is required for the memory store")
	}
	if (c.Store == "postgres" || c.Audit.Backend == "postgres") && c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required for the postgres store and audit backend")
	}
	if c.Audit.Backend == "s3" && c.Audit.S3.Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required for the s3 audit backend")
	}
	if c.Pipeline.Evidence.MaxBytes <= 0 {
		return fmt.Errorf("MAX_PROMPT_BYTES must be positive")
	}
	if c.SnapshotAnnounce && (!c.QueueEnabled || c.DatabaseURL == "") {
		return fmt.Errorf("SNAPSHOT_ANNOUNCE requires RABBITMQ_ENABLED and DATABASE_URL")
	}
	if c.Pipeline.EnableEmbeddings && c.AI.Adapter == "none" {
		return fmt.Errorf("ENABLE_EMBEDDINGS requires an AI_ADAPTER")
	}
	return nil
}
