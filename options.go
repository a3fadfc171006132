package recast

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
type resolvedOptions struct {
	port              int
	databaseURL       string
	logger            *slog.Logger
	version           string
	completionClient  CompletionClient
	embeddingProvider EmbeddingProvider
	runEventHooks     []RunEventHook
	middlewares       []Middleware
}

// WithPort overrides the TCP port from config (RECAST_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithCompletionClient replaces the configured LLM provider.
func WithCompletionClient(c CompletionClient) Option {
	return func(o *resolvedOptions) { o.completionClient = c }
}

// WithEmbeddingProvider replaces the auto-detected embedding provider.
func WithEmbeddingProvider(p EmbeddingProvider) Option {
	return func(o *resolvedOptions) { o.embeddingProvider = p }
}

// WithRunEventHook registers a hook for hand-off and failure events.
// Multiple hooks may be registered; all receive every event.
func WithRunEventHook(hook RunEventHook) Option {
	return func(o *resolvedOptions) { o.runEventHooks = append(o.runEventHooks, hook) }
}

// WithMiddleware registers an outermost HTTP middleware. The first-registered
// middleware is outermost.
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}
