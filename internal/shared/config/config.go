package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	Env             string
	DatabaseURL     string
	JWTSecret       string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	QueueBackend       string
	SQSQueueURL        string
	VisibilityTimeout  time.Duration
	WorkerConcurrency  int
	ShutdownTimeout    time.Duration
	MaxRetries         int
	RetryBaseDelay     time.Duration
	StaleUploadAfter   time.Duration
	ReconcileSchedule  string
	ReconcileBatchSize int

	MemoryStore    string
	MemoryDBPath   string
	MemoryWindow   int
	RetrievalTopK  int
	ChunkTokens    int
	ChunkOverlap   int
	TokenizerModel string

	EmbeddingProvider   string
	EmbeddingModel      string
	EmbeddingDimensions int
	EmbedTimeout        time.Duration
	LLMProvider         string
	LLMModel            string
	OpenAIAPIKey        string
	OpenAIBaseURL       string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		Env:             env,
		DatabaseURL:     dbURL,
		JWTSecret:       getEnv("JWT_SECRET", ""),

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),

		QueueBackend:       normalizeQueueBackend(getEnv("QUEUE_BACKEND", ""), os.Getenv("SQS_QUEUE_URL")),
		SQSQueueURL:        getEnv("SQS_QUEUE_URL", ""),
		VisibilityTimeout:  time.Duration(getInt("SQS_VISIBILITY_TIMEOUT_SECONDS", 300)) * time.Second,
		WorkerConcurrency:  getInt("WORKER_CONCURRENCY", 4),
		ShutdownTimeout:    time.Duration(getInt("SHUTDOWN_TIMEOUT_SECONDS", 30)) * time.Second,
		MaxRetries:         getInt("MAX_RETRIES", 3),
		RetryBaseDelay:     getDuration("RETRY_BASE_DELAY", 2*time.Second),
		StaleUploadAfter:   getDuration("STALE_UPLOAD_AFTER", 10*time.Minute),
		ReconcileSchedule:  getEnv("RECONCILE_SCHEDULE", "@every 1m"),
		ReconcileBatchSize: getInt("RECONCILE_BATCH_SIZE", 100),

		MemoryStore:    normalizeMemoryStore(getEnv("MEMORY_STORE", "memory")),
		MemoryDBPath:   getEnv("MEMORY_DB_PATH", "./data/memory"),
		MemoryWindow:   getInt("MEMORY_WINDOW", 20),
		RetrievalTopK:  getInt("RETRIEVAL_TOP_K", 4),
		ChunkTokens:    getInt("CHUNK_TOKENS", 500),
		ChunkOverlap:   getInt("CHUNK_OVERLAP", 50),
		TokenizerModel: getEnv("TOKENIZER_MODEL", "text-embedding-3-small"),

		EmbeddingProvider:   getEnv("EMBEDDING_PROVIDER", "placeholder"),
		EmbeddingModel:      getEnv("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: getInt("EMBEDDING_DIMENSIONS", 1536),
		EmbedTimeout:        getDuration("EMBED_TIMEOUT", 60*time.Second),
		LLMProvider:         getEnv("LLM_PROVIDER", "placeholder"),
		LLMModel:            getEnv("LLM_MODEL", "gpt-4o-mini"),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", ""),
	}
}

// DevLike reports whether in-memory fallbacks are allowed.
func (c Config) DevLike() bool {
	return c.Env == "dev" || c.Env == "local"
}

// loadEnvFiles loads KEY=VALUE pairs from files that exist without
// overriding variables already present in the environment.
func loadEnvFiles(paths ...string) {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			log.Printf("load env file %s: %v", path, err)
		}
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 0 {
		log.Printf("invalid %s=%q, using default %d", key, raw, def)
		return def
	}
	return val
}

func getDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil || val <= 0 {
		log.Printf("invalid %s=%q, using default %s", key, raw, def)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeQueueBackend(raw, sqsURL string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqs":
		return "sqs"
	case "memory":
		return "memory"
	}
	if strings.TrimSpace(sqsURL) != "" {
		return "sqs"
	}
	return "memory"
}

func normalizeMemoryStore(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "badger":
		return "badger"
	default:
		return "memory"
	}
}
