package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"docchat-backend/internal/chunking"
	"docchat-backend/internal/conversations"
	"docchat-backend/internal/documents"
	"docchat-backend/internal/ingest"
	"docchat-backend/internal/llm"
	openai "docchat-backend/internal/llm/openai"
	"docchat-backend/internal/memory"
	"docchat-backend/internal/projects"
	"docchat-backend/internal/queue"
	"docchat-backend/internal/reconcile"
	"docchat-backend/internal/services/health"
	"docchat-backend/internal/shared/auth"
	"docchat-backend/internal/shared/config"
	"docchat-backend/internal/shared/retry"
	"docchat-backend/internal/shared/server"
	"docchat-backend/internal/shared/server/middleware"
	"docchat-backend/internal/shared/storage/db"
	"docchat-backend/internal/shared/storage/object"
	localstore "docchat-backend/internal/shared/storage/object/local"
	s3store "docchat-backend/internal/shared/storage/object/s3"
	"docchat-backend/internal/vectors"
	"docchat-backend/internal/workerproc"
)

const embedBatchSize = 64

// App holds shared dependencies for the API, the worker and the CLI.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.ObjectStore
	Queue  queue.Queue
	Memory memory.Store
	Signer *auth.Signer
	Health *health.Service

	DocumentsRepo        documents.Repo
	ProjectsService      *projects.Service
	DocumentsService     *documents.Service
	ConversationsService *conversations.Service
	Vectors              vectors.Store
	Embedder             llm.Embedder

	Worker    *ingest.Worker
	Runner    *workerproc.Runner
	Reconcile *reconcile.Sweeper
}

// Lease reports the queue visibility timeout the worker must finish within.
type leaser interface {
	Lease() time.Duration
}

// Build wires repositories, stores, queue and services from cfg. Dev-like
// environments fall back to in-memory backends when a dependency is missing.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	q, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sessions, err := buildMemory(cfg)
	if err != nil {
		return nil, err
	}
	signer, err := auth.NewSigner(cfg.JWTSecret, cfg.DevLike())
	if err != nil {
		return nil, err
	}
	embedder, responder, err := buildLLM(cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config:   cfg,
		DB:       sqlDB,
		Store:    store,
		Queue:    q,
		Memory:   sessions,
		Signer:   signer,
		Health:   health.NewService(),
		Embedder: embedder,
	}
	buildServices(app, responder)
	registerHealthChecks(app)

	app.Router = server.NewRouter(server.RouterDeps{
		Config:               cfg,
		Verifier:             signer,
		Health:               app.Health,
		RateLimiter:          middleware.NewRateLimiter(nil),
		ProjectHandler:       projects.NewHandler(app.ProjectsService),
		DocumentHandler:      documents.NewHandler(app.DocumentsService),
		ConversationsHandler: conversations.NewHandler(app.ConversationsService),
	})
	return app, nil
}

// Close releases the session store and database.
func (a *App) Close() error {
	var errs []error
	if a.Memory != nil {
		errs = append(errs, a.Memory.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.DevLike() {
			log.Printf("bootstrap: DATABASE_URL empty; using in-memory repositories")
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	var (
		sqlDB *sql.DB
		err   error
	)
	if db.IsLambdaRuntime() {
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultLambdaOptions()))
	} else {
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
	}
	if err != nil {
		if cfg.DevLike() {
			log.Printf("bootstrap: database connect failed; using in-memory repositories: %v", err)
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Queue, error) {
	if cfg.QueueBackend == "sqs" {
		if strings.TrimSpace(cfg.SQSQueueURL) == "" {
			return nil, fmt.Errorf("QUEUE_BACKEND=sqs requires SQS_QUEUE_URL")
		}
		return queue.NewSQSClient(ctx, cfg.AWSRegion, cfg.SQSQueueURL, cfg.VisibilityTimeout)
	}
	if !cfg.DevLike() {
		log.Printf("bootstrap: in-memory queue outside dev; jobs do not survive restarts")
	}
	return queue.NewMemoryQueue(queue.WithLease(cfg.VisibilityTimeout)), nil
}

func buildMemory(cfg config.Config) (memory.Store, error) {
	if cfg.MemoryStore == "badger" {
		store, err := memory.OpenBadger(cfg.MemoryDBPath, false)
		if err != nil {
			return nil, fmt.Errorf("open session store: %w", err)
		}
		return store, nil
	}
	return memory.NewMemoryStore(), nil
}

func buildLLM(cfg config.Config) (llm.Embedder, llm.Responder, error) {
	oc := openai.Config{
		APIKey:         cfg.OpenAIAPIKey,
		BaseURL:        cfg.OpenAIBaseURL,
		Model:          cfg.LLMModel,
		EmbeddingModel: cfg.EmbeddingModel,
	}

	var embedder llm.Embedder = llm.PlaceholderEmbedder{Dimensions: cfg.EmbeddingDimensions}
	if cfg.EmbeddingProvider == "openai" {
		e, err := openai.NewEmbedder(oc)
		if err != nil {
			return nil, nil, err
		}
		embedder = e
	}

	var responder llm.Responder = llm.PlaceholderResponder{}
	if cfg.LLMProvider == "openai" {
		r, err := openai.NewResponder(oc)
		if err != nil {
			return nil, nil, err
		}
		responder = r
	}
	return embedder, responder, nil
}

func buildServices(app *App, responder llm.Responder) {
	var (
		projectRepo projects.Repo
		docRepo     documents.Repo
		convRepo    conversations.Repo
		vecStore    vectors.Store
	)
	if app.DB != nil {
		projectRepo = &projects.PGRepo{DB: app.DB}
		docRepo = &documents.PGRepo{DB: app.DB}
		convRepo = &conversations.PGRepo{DB: app.DB}
		vecStore = &vectors.PGStore{DB: app.DB}
	} else {
		projectRepo = projects.NewMemoryRepo()
		docRepo = documents.NewMemoryRepo()
		convRepo = conversations.NewMemoryRepo()
		vecStore = vectors.NewMemoryStore()
	}

	cfg := app.Config
	projectSvc := &projects.Service{Repo: projectRepo}
	docSvc := &documents.Service{
		Store:    app.Store,
		Repo:     docRepo,
		Projects: projectSvc,
		Queue:    app.Queue,
		Derived:  vecStore,
		Retry:    retry.DefaultPolicy(),
	}
	convSvc := &conversations.Service{
		Repo:      convRepo,
		Projects:  projectSvc,
		Documents: docRepo,
		Memory:    app.Memory,
		Vectors:   vecStore,
		Embedder:  app.Embedder,
		Responder: responder,
		Window:    cfg.MemoryWindow,
		TopK:      cfg.RetrievalTopK,
	}
	projectSvc.Documents = docRepo
	projectSvc.Conversations = convRepo

	lease := cfg.VisibilityTimeout
	if l, ok := app.Queue.(leaser); ok {
		lease = l.Lease()
	}
	worker := &ingest.Worker{
		Documents:    docRepo,
		Blobs:        app.Store,
		Splitter:     chunking.New(cfg.TokenizerModel, cfg.ChunkTokens, cfg.ChunkOverlap),
		Embedder:     app.Embedder,
		Chunks:       vecStore,
		MaxRetries:   cfg.MaxRetries,
		Backoff:      retry.Policy{MaxAttempts: cfg.MaxRetries, BaseDelay: cfg.RetryBaseDelay, MaxDelay: lease},
		Lease:        lease,
		EmbedTimeout: cfg.EmbedTimeout,
		EmbedBatch:   embedBatchSize,
	}

	app.DocumentsRepo = docRepo
	app.ProjectsService = projectSvc
	app.DocumentsService = docSvc
	app.ConversationsService = convSvc
	app.Vectors = vecStore
	app.Worker = worker
	app.Runner = &workerproc.Runner{
		Consumer:        app.Queue,
		Processor:       worker,
		Concurrency:     cfg.WorkerConcurrency,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
	app.Reconcile = &reconcile.Sweeper{
		Documents:  docRepo,
		Enqueuer:   docSvc,
		StaleAfter: cfg.StaleUploadAfter,
		BatchSize:  cfg.ReconcileBatchSize,
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

func registerHealthChecks(app *App) {
	if app.DB != nil {
		app.Health.Register("database", app.DB.PingContext)
	}
	if p, ok := app.Memory.(pinger); ok {
		app.Health.Register("sessions", p.Ping)
	}
}
