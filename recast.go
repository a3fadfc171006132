// Package recast is the public API for embedding the Recast content pipeline.
//
// Recast turns a requester's profile and customization into a personalized
// derivative script (video, podcast, or slides) grounded in transcript
// excerpts, checks it against content policy, and hands it to a rendering
// back end. Consumers import this package to run the server without forking:
//
//	app, err := recast.New(
//	    recast.WithVersion(version),
//	    recast.WithLogger(logger),
//	    recast.WithRunEventHook(myHook{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*, never the other way round. Public
// types are standalone structs; adapters live here because this is the only
// file that sees both sides of the boundary.
package recast

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pgvector/pgvector-go"

	"github.com/ashita-ai/recast/api"
	"github.com/ashita-ai/recast/internal/config"
	"github.com/ashita-ai/recast/internal/events"
	"github.com/ashita-ai/recast/internal/flags"
	"github.com/ashita-ai/recast/internal/generation"
	"github.com/ashita-ai/recast/internal/guardrail"
	"github.com/ashita-ai/recast/internal/llm"
	"github.com/ashita-ai/recast/internal/mcp"
	"github.com/ashita-ai/recast/internal/model"
	"github.com/ashita-ai/recast/internal/pipeline"
	"github.com/ashita-ai/recast/internal/ratelimit"
	"github.com/ashita-ai/recast/internal/retrieval"
	"github.com/ashita-ai/recast/internal/search"
	"github.com/ashita-ai/recast/internal/server"
	"github.com/ashita-ai/recast/internal/service/embedding"
	"github.com/ashita-ai/recast/internal/storage"
	"github.com/ashita-ai/recast/internal/telemetry"
	"github.com/ashita-ai/recast/migrations"
)

// shutdownPhaseTimeout bounds each phase of a graceful shutdown.
const shutdownPhaseTimeout = 10 * time.Second

// App is the Recast server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	orchestrator *pipeline.Orchestrator
	dispatcher   *pipeline.Dispatcher
	scheduler    *pipeline.Scheduler
	qdrantIndex  *search.QdrantIndex // nil unless RECAST_SEARCH_BACKEND=qdrant
	publisher    *events.Publisher   // nil when NATS is not configured
	flagSource   *flags.RedisSource  // nil when Redis is not configured
	limiter      ratelimit.Limiter
	closeLLM     func() error
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the Recast server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("recast starting", "version", version, "port", cfg.Port)

	ctx := context.Background()
	a := &App{cfg: cfg, logger: logger, version: version, closeLLM: func() error { return nil }}

	a.otelShutdown, err = telemetry.Init(ctx, telemetry.Settings{
		Endpoint:      cfg.OTELEndpoint,
		Insecure:      cfg.OTELInsecure,
		ServiceName:   cfg.ServiceName,
		Version:       version,
		Environment:   cfg.Environment,
		SampleRatio:   cfg.TraceSampleRatio,
		LLMProvider:   cfg.LLMProvider,
		SearchBackend: cfg.SearchBackend,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	if err := a.wire(ctx, o); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// wire builds every subsystem. On error, close releases whatever was built.
func (a *App) wire(ctx context.Context, o resolvedOptions) error {
	cfg, logger := a.cfg, a.logger

	db, err := storage.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	a.db = db
	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	// Embedding provider: external override takes priority over auto-detect.
	var embedder embedding.Provider
	if o.embeddingProvider != nil {
		embedder = embeddingAdapter{p: o.embeddingProvider}
	} else {
		embedder, err = embedding.New(ctx, embedding.Settings{
			Provider:     cfg.EmbeddingProvider,
			OpenAIAPIKey: cfg.OpenAIAPIKey,
			OpenAIModel:  cfg.EmbeddingModel,
			OllamaURL:    cfg.OllamaURL,
			OllamaModel:  cfg.OllamaEmbedModel,
			Dimensions:   cfg.EmbeddingDimensions,
			Timeout:      cfg.LLMTimeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("embedding: %w", err)
		}
	}

	// Similarity search backend.
	var searcher search.Searcher
	switch cfg.SearchBackend {
	case "qdrant":
		idx, err := search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			return fmt.Errorf("qdrant: %w", err)
		}
		a.qdrantIndex = idx
		if err := idx.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("qdrant ensure collection: %w", err)
		}
		searcher = idx
		logger.Info("search backend: qdrant", "collection", cfg.QdrantCollection)
	default:
		searcher = search.NewPostgres(db)
		logger.Info("search backend: pgvector")
	}

	// Completion client.
	var client llm.Client
	if o.completionClient != nil {
		client = completionAdapter{c: o.completionClient}
	} else {
		var closeLLM func() error
		client, closeLLM, err = llm.New(ctx, llm.Settings{
			Provider:     cfg.LLMProvider,
			Model:        cfg.LLMModel,
			OpenAIAPIKey: cfg.OpenAIAPIKey,
			GeminiAPIKey: cfg.GeminiAPIKey,
			OllamaURL:    cfg.OllamaURL,
			Timeout:      cfg.LLMTimeout,
		}, logger)
		if err != nil {
			return fmt.Errorf("llm: %w", err)
		}
		a.closeLLM = closeLLM
	}

	// Run events: NATS JetStream plus any registered hooks.
	var notifiers fanoutNotifier
	if cfg.NATSURL != "" {
		pub, err := events.NewPublisher(ctx, cfg.NATSURL, logger)
		if err != nil {
			return fmt.Errorf("events: %w", err)
		}
		a.publisher = pub
		notifiers = append(notifiers, pub)
		logger.Info("run events: nats jetstream", "stream", events.StreamName)
	} else {
		logger.Info("run events: disabled (no NATS_URL)")
	}
	for _, h := range o.runEventHooks {
		notifiers = append(notifiers, hookAdapter{hook: h})
	}

	// Generation-enabled flag.
	var src flags.Source = flags.StaticSource(cfg.GenerationEnabled)
	if cfg.RedisURL != "" {
		rs, err := flags.NewRedisSource(cfg.RedisURL, cfg.GenerationEnabled)
		if err != nil {
			return fmt.Errorf("flags: %w", err)
		}
		a.flagSource = rs
		src = rs
		logger.Info("generation flag: redis", "key", flags.DefaultRedisKey, "ttl", cfg.FlagTTL)
	}
	gate := flags.NewGate(src, cfg.FlagTTL, cfg.GenerationEnabled, logger)

	a.orchestrator = pipeline.NewOrchestrator(pipeline.Deps{
		Store:     db,
		Retriever: retrieval.New(embedder, searcher, cfg.SimilarityThreshold, logger),
		Guard:     guardrail.New(client, logger),
		Planner:   generation.NewPlanner(client, logger),
		Scripter:  generation.NewScripter(client, logger),
		Notifier:  notifiers,
		Logger:    logger,
	}, pipeline.Settings{TopK: cfg.TopK, MaxRetries: cfg.MaxRetries})

	a.dispatcher = pipeline.NewDispatcher(a.orchestrator, gate, cfg.Workers, cfg.QueueSize, logger)
	a.scheduler = pipeline.NewScheduler(db, a.dispatcher, pipeline.SchedulerSettings{
		Interval:     cfg.SchedulerInterval,
		RetryBackoff: cfg.RetryBackoff,
		StaleAfter:   cfg.StaleAfter,
	}, logger)

	// Rate limiter on run submission.
	switch {
	case cfg.RateLimitRPS <= 0:
		a.limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	case cfg.RedisURL != "":
		// Shared fixed window: burst submissions per burst/rps seconds.
		window := time.Duration(float64(cfg.RateLimitBurst) / cfg.RateLimitRPS * float64(time.Second))
		rl, err := ratelimit.DialRedisLimiter(cfg.RedisURL, "recast:ratelimit:start", cfg.RateLimitBurst, max(window, time.Second))
		if err != nil {
			return fmt.Errorf("ratelimit: %w", err)
		}
		a.limiter = rl
		logger.Info("rate limiting: redis", "limit", cfg.RateLimitBurst, "window", window)
	default:
		a.limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	}

	mcpSrv := mcp.New(db, a.dispatcher, logger, a.version)

	deps := make(map[string]server.HealthChecker)
	if a.publisher != nil {
		deps["events"] = a.publisher
	}
	if a.flagSource != nil {
		deps["flags"] = a.flagSource
	}

	middlewares := make([]func(http.Handler) http.Handler, 0, len(o.middlewares))
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, mw)
	}

	a.srv = server.New(server.ServerConfig{
		Runs:                db,
		Renderer:            a.orchestrator,
		Starter:             a.dispatcher,
		DB:                  db,
		Gate:                gate,
		Searcher:            searcher,
		Limiter:             a.limiter,
		Dependencies:        deps,
		MCPServer:           mcpSrv.MCPServer(),
		Logger:              logger,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             a.version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		OpenAPISpec:         api.OpenAPISpec,
		Middlewares:         middlewares,
	})
	return nil
}

// Run starts the workers, the scheduler, and the HTTP server, then blocks
// until ctx is cancelled or a fatal server error occurs. On return, Shutdown
// has already been called.
func (a *App) Run(ctx context.Context) error {
	a.dispatcher.Start(ctx)
	a.scheduler.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	return errors.Join(runErr, a.Shutdown(context.Background()))
}

// Process runs one queued run through the pipeline synchronously, outside
// the worker pool. Used by the operator CLI.
func (a *App) Process(ctx context.Context, runID uuid.UUID) error {
	return a.orchestrator.Process(ctx, runID)
}

// Shutdown performs a phased graceful shutdown:
// (1) stop accepting HTTP requests and drain in-flight,
// (2) stop the scheduler so nothing new is submitted,
// (3) let the workers finish the runs they hold.
// It then closes every connection.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("recast shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, shutdownPhaseTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	schedCtx, schedCancel := context.WithTimeout(ctx, shutdownPhaseTimeout)
	a.scheduler.Drain(schedCtx)
	schedCancel()

	workCtx, workCancel := context.WithTimeout(ctx, shutdownPhaseTimeout)
	a.dispatcher.Drain(workCtx)
	workCancel()

	a.close()
	a.logger.Info("recast stopped")
	return nil
}

// close releases connections. Safe on a partially wired App.
func (a *App) close() {
	if a.limiter != nil {
		_ = a.limiter.Close()
	}
	if a.flagSource != nil {
		_ = a.flagSource.Close()
	}
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.qdrantIndex != nil {
		_ = a.qdrantIndex.Close()
	}
	if err := a.closeLLM(); err != nil {
		a.logger.Warn("llm close failed", "error", err)
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
}

// Close releases connections without the shutdown phases. For callers that
// used Process and never called Run.
func (a *App) Close() {
	a.close()
}

// ---- adapters --------------------------------------------------------------

type embeddingAdapter struct{ p EmbeddingProvider }

func (e embeddingAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	v, err := e.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(v), nil
}

func (e embeddingAdapter) Dimensions() int { return e.p.Dimensions() }

type completionAdapter struct{ c CompletionClient }

func (c completionAdapter) Complete(ctx context.Context, system, user string, opts llm.Options) (string, error) {
	return c.c.Complete(ctx, system, user, CompletionOptions{
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		JSONMode:    opts.JSONMode,
	})
}

type hookAdapter struct{ hook RunEventHook }

func (h hookAdapter) Notify(ctx context.Context, ev model.RunEvent) error {
	return h.hook.OnRunEvent(ctx, RunEvent{
		RunID:       ev.RunID,
		RequesterID: ev.RequesterID,
		Format:      string(ev.Format),
		Status:      string(ev.Status),
		Message:     ev.Message,
		OccurredAt:  ev.OccurredAt,
	})
}

// fanoutNotifier delivers an event to every notifier and joins the errors.
type fanoutNotifier []pipeline.Notifier

func (f fanoutNotifier) Notify(ctx context.Context, ev model.RunEvent) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
