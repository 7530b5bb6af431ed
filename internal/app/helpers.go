package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"contentsql/internal/config"
	"contentsql/internal/introspection"
	"contentsql/internal/logging"
	"contentsql/internal/naming"
	"contentsql/internal/observability"
	"contentsql/internal/schema"
	"contentsql/internal/schemafilter"

	"github.com/XSAM/otelsql"
	_ "github.com/go-sql-driver/mysql"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// InitLogger builds the process logger writing to out, adding the OTLP log
// bridge when log export is enabled.
func InitLogger(cfg *config.Config, out io.Writer) (*logging.Logger, *observability.LoggerProvider, error) {
	loggerCfg := logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: out,
	}
	logger := logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)

	if !cfg.Log.ExportsEnabled {
		return logger, nil, nil
	}

	logsConfig := cfg.Observability.LogsConfig()
	logger.Debug("initializing OpenTelemetry logging",
		slog.String("otlp_endpoint", logsConfig.Endpoint),
		slog.String("otlp_protocol", logsConfig.Protocol),
		slog.Bool("insecure", logsConfig.Insecure),
	)

	loggerProvider, err := observability.InitLoggerProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		OTLPConfig:     exporterConfig(logsConfig),
	})
	if err != nil {
		return nil, nil, err
	}

	loggerCfg.LoggerProvider = loggerProvider.Provider()
	logger = logging.NewLogger(loggerCfg)
	slog.SetDefault(logger.Logger)
	return logger, loggerProvider, nil
}

func exporterConfig(c config.OTLPConfig) observability.OTLPExporterConfig {
	return observability.OTLPExporterConfig{
		Endpoint:          c.Endpoint,
		Protocol:          c.Protocol,
		Insecure:          c.Insecure,
		TLSCertFile:       c.TLSCertFile,
		TLSClientCertFile: c.TLSClientCertFile,
		TLSClientKeyFile:  c.TLSClientKeyFile,
		Headers:           c.Headers,
		Timeout:           c.Timeout,
		Compression:       c.Compression,
	}
}

func initMetrics(cfg *config.Config, logger *logging.Logger) (*observability.MeterProvider, *observability.CompilerMetrics, error) {
	if !cfg.Observability.MetricsEnabled {
		return nil, nil, nil
	}
	meterProvider, err := observability.InitMeterProvider(observability.Config{
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
	})
	if err != nil {
		return nil, nil, err
	}
	metrics, err := observability.NewCompilerMetrics()
	if err != nil {
		return nil, nil, err
	}
	logger.Debug("OpenTelemetry metrics initialized")
	return meterProvider, metrics, nil
}

func initTracing(cfg *config.Config, logger *logging.Logger) (*observability.TracerProvider, error) {
	if !cfg.Observability.TracingEnabled {
		return nil, nil
	}
	tracesConfig := cfg.Observability.TracesConfig()
	logger.Debug("initializing OpenTelemetry tracing",
		slog.String("otlp_endpoint", tracesConfig.Endpoint),
		slog.String("otlp_protocol", tracesConfig.Protocol),
		slog.Bool("insecure", tracesConfig.Insecure),
		slog.Float64("sample_ratio", cfg.Observability.TraceSampleRatio),
	)
	return observability.InitTracerProvider(observability.Config{
		ServiceName:      cfg.Observability.ServiceName,
		ServiceVersion:   cfg.Observability.ServiceVersion,
		TraceSampleRatio: cfg.Observability.TraceSampleRatio,
		OTLPConfig:       exporterConfig(tracesConfig),
	})
}

func connectDB(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*sql.DB, error) {
	if err := cfg.Database.RegisterTLS(); err != nil {
		return nil, fmt.Errorf("failed to register database TLS config: %w", err)
	}

	var (
		db  *sql.DB
		err error
	)
	if cfg.Observability.TracingEnabled {
		db, err = otelsql.Open("mysql", cfg.Database.DSN(),
			otelsql.WithAttributes(semconv.DBSystemMySQL),
			otelsql.WithSpanOptions(otelsql.SpanOptions{DisableErrSkip: true}),
		)
	} else {
		db, err = sql.Open("mysql", cfg.Database.DSN())
	}
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(cfg.Database.Pool.MaxOpen)
	db.SetMaxIdleConns(cfg.Database.Pool.MaxIdle)
	db.SetConnMaxLifetime(cfg.Database.Pool.MaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	logger.Debug("connected to database",
		slog.String("host", cfg.Database.Host),
		slog.Bool("dsn_present", cfg.Database.ConnectionString != ""),
		slog.Bool("instrumented", cfg.Observability.TracingEnabled),
	)
	return db, nil
}

// loadGraph reads the schema file, or introspects db when schema.introspect
// is set.
func loadGraph(ctx context.Context, cfg *config.Config, logger *logging.Logger, db *sql.DB) (*schema.Graph, error) {
	if !cfg.Schema.Introspect {
		return schema.LoadFile(cfg.Schema.File)
	}
	if db == nil {
		return nil, fmt.Errorf("schema introspection needs a database")
	}
	databaseName, err := cfg.Database.DatabaseName()
	if err != nil {
		return nil, err
	}
	info, err := introspection.Introspect(ctx, db, databaseName)
	if err != nil {
		return nil, err
	}
	if !cfg.Schema.Filters.IsEmpty() {
		schemafilter.Apply(info, cfg.Schema.Filters)
	}
	return introspection.BuildGraph(info, introspection.Options{
		Schema: cfg.Schema.Name,
		Namer:  naming.New(cfg.Schema.Naming, logger.Logger),
		Logger: logger.Logger,
	})
}
