package mnemosyne

import (
	"log/slog"
)

// Option configures an Engine.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	logger            *slog.Logger
	version           string
	maxUSD            *float64
	requestsPerSecond *float64
	workerCount       int
	priorityMode      string
	storageBackend    string
	databaseURL       string
	sqlitePath        string
	llmClient         LLMClient
}

// WithLogger sets the structured logger for the Engine.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in telemetry and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithMaxUSD overrides the dollar budget for the run (MNEMOSYNE_MAX_USD
// env var). Negative means unlimited; zero forbids any spend.
func WithMaxUSD(maxUSD float64) Option {
	return func(o *resolvedOptions) { o.maxUSD = &maxUSD }
}

// WithRequestsPerSecond overrides the sustained LLM request rate
// (MNEMOSYNE_REQUESTS_PER_SECOND env var).
func WithRequestsPerSecond(rps float64) Option {
	return func(o *resolvedOptions) { o.requestsPerSecond = &rps }
}

// WithWorkerCount overrides the worker pool size (MNEMOSYNE_WORKER_COUNT
// env var).
func WithWorkerCount(n int) Option {
	return func(o *resolvedOptions) { o.workerCount = n }
}

// WithPriorityMode overrides the batch emission order
// (MNEMOSYNE_PRIORITY_MODE env var): "quality", "throughput", or "cost".
func WithPriorityMode(mode string) Option {
	return func(o *resolvedOptions) { o.priorityMode = mode }
}

// WithStorageBackend overrides the persistence backend (MNEMOSYNE_STORAGE
// env var): "postgres", "sqlite", or "memory".
func WithStorageBackend(backend string) Option {
	return func(o *resolvedOptions) { o.storageBackend = backend }
}

// WithDatabaseURL overrides the Postgres connection string (DATABASE_URL
// env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithSQLitePath overrides the SQLite database file
// (MNEMOSYNE_SQLITE_PATH env var).
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithLLMClient replaces the built-in HTTP model client. Useful for tests
// and for providers with non-standard transports.
func WithLLMClient(c LLMClient) Option {
	return func(o *resolvedOptions) { o.llmClient = c }
}
