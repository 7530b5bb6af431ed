// Package app wires configuration, telemetry, the schema graph and the
// compiler into one process lifecycle for the contentsql CLI.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"contentsql/internal/compiler"
	"contentsql/internal/config"
	"contentsql/internal/dbexec"
	"contentsql/internal/expr"
	"contentsql/internal/logging"
	"contentsql/internal/observability"
	"contentsql/internal/rules"
	"contentsql/internal/schema"
)

// App owns the runtime resources of one CLI run.
type App struct {
	cfg    *config.Config
	logger *logging.Logger

	loggerProvider *observability.LoggerProvider
	meterProvider  *observability.MeterProvider
	tracerProvider *observability.TracerProvider

	db       *sql.DB
	graph    *schema.Graph
	compiler *compiler.Compiler

	cleanup cleanupStack

	stateMu     sync.Mutex
	initialized bool

	shutdownOnce sync.Once
}

// New creates an App lifecycle wrapper.
func New(cfg *config.Config, logger *logging.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// AttachLoggerProvider registers an optional logger provider for shutdown cleanup.
func (a *App) AttachLoggerProvider(provider *observability.LoggerProvider) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	a.loggerProvider = provider
}

// Init sets up telemetry, opens the database when one is needed, loads the
// schema graph and creates the compiler. It is idempotent.
func (a *App) Init(ctx context.Context) error {
	a.stateMu.Lock()
	if a.initialized {
		a.stateMu.Unlock()
		return nil
	}
	a.stateMu.Unlock()

	cleanup := cleanupStack{}
	success := false
	defer func() {
		if !success {
			cleanup.run(context.Background(), a.logger)
		}
	}()

	if a.loggerProvider != nil {
		cleanup.push("logger provider", func(shutdownCtx context.Context) error {
			return a.loggerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	meterProvider, metrics, err := initMetrics(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry metrics: %w", err)
	}
	if meterProvider != nil {
		cleanup.push("meter provider", func(shutdownCtx context.Context) error {
			meterProvider.LogSummary(shutdownCtx, a.logger.Logger)
			return meterProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	tracerProvider, err := initTracing(a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry tracing: %w", err)
	}
	if tracerProvider != nil {
		cleanup.push("tracer provider", func(shutdownCtx context.Context) error {
			return tracerProvider.Shutdown(shutdownCtx, a.logger.Logger)
		})
	}

	var db *sql.DB
	if a.cfg.Schema.Introspect || a.cfg.Compiler.CheckExistence {
		db, err = connectDB(ctx, a.cfg, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		cleanup.push("database", func(_ context.Context) error {
			return db.Close()
		})
	}

	graph, err := loadGraph(ctx, a.cfg, a.logger, db)
	if err != nil {
		return fmt.Errorf("failed to load schema: %w", err)
	}
	a.logger.Info("schema loaded",
		slog.Int("classes", len(graph.Classes())),
		slog.Int("relationships", len(graph.Relationships())),
	)

	exprs, err := expr.NewCompiler(a.logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to create expression compiler: %w", err)
	}

	opts := []compiler.Option{
		compiler.WithLogger(a.logger.Logger),
		compiler.WithMaxCompoundSelect(a.cfg.Compiler.MaxCompoundSelect),
		compiler.WithMaxPageSize(a.cfg.Compiler.MaxPageSize),
	}
	if a.cfg.Compiler.CheckExistence {
		opts = append(opts, compiler.WithExistenceCheck(dbexec.NewStandardExecutor(db, a.logger.Logger)))
	}
	if a.cfg.Descriptor {
		opts = append(opts, compiler.WithDescriptor())
	}
	if metrics != nil {
		opts = append(opts, compiler.WithMetrics(metrics))
	}

	a.stateMu.Lock()
	a.meterProvider = meterProvider
	a.tracerProvider = tracerProvider
	a.db = db
	a.graph = graph
	a.compiler = compiler.New(graph, exprs, opts...)
	a.cleanup = cleanup
	a.initialized = true
	a.stateMu.Unlock()

	success = true
	return nil
}

// LoadRequest reads the configured request file; "@-" reads stdin.
func (a *App) LoadRequest() (*rules.Request, error) {
	data, err := config.ReadFileOrStdin(a.cfg.RequestFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read request file %s: %w", a.cfg.RequestFile, err)
	}
	req, err := rules.ParseRequest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.cfg.RequestFile, err)
	}
	return req, nil
}

// Compile builds the content query for req.
func (a *App) Compile(ctx context.Context, req *rules.Request) (*compiler.Result, error) {
	a.stateMu.Lock()
	c := a.compiler
	a.stateMu.Unlock()
	if c == nil {
		return nil, fmt.Errorf("app is not initialized")
	}
	return c.Build(ctx, req)
}

// Shutdown releases all acquired resources in reverse order. It is safe to
// call multiple times.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.stateMu.Lock()
		cleanup := a.cleanup
		a.stateMu.Unlock()
		cleanup.run(ctx, a.logger)
	})
	return nil
}
