// Command contentsql compiles a declarative content request into one SQL
// query over a class schema.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"contentsql/internal/app"
	"contentsql/internal/compiler"
	"contentsql/internal/config"
)

var (
	// Version is set at build time via -ldflags "-X main.Version=...".
	Version = "dev"
	Commit  = "none"
)

const (
	exitError     = 1
	exitCancelled = 130
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("contentsql", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: contentsql [flags] <request.yaml>")
		fs.PrintDefaults()
	}
	config.DefineFlags(fs)

	cfg, err := config.Load(fs, args)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
		return exitError
	}
	if showVersion, _ := fs.GetBool("version"); showVersion {
		fmt.Fprintf(stdout, "contentsql %s (%s)\n", Version, Commit)
		return 0
	}
	if cfg.Observability.ServiceVersion == "" {
		cfg.Observability.ServiceVersion = Version
	}

	logger, loggerProvider, err := app.InitLogger(cfg, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "failed to initialize logging: %v\n", err)
		return exitError
	}

	validationResult := cfg.Validate()
	for _, warn := range validationResult.Warnings {
		logger.Warn("configuration warning",
			slog.String("field", warn.Field),
			slog.String("message", warn.Message),
			slog.String("hint", warn.Hint),
		)
	}
	if validationResult.HasErrors() {
		for _, e := range validationResult.Errors {
			logger.Error("configuration error",
				slog.String("field", e.Field),
				slog.String("message", e.Message),
				slog.String("hint", e.Hint),
			)
		}
		if loggerProvider != nil {
			_ = loggerProvider.Shutdown(context.Background(), logger.Logger)
		}
		return exitError
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create app", slog.String("error", err.Error()))
		return exitError
	}
	a.AttachLoggerProvider(loggerProvider)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = a.Shutdown(shutdownCtx)
	}()

	if err := a.Init(ctx); err != nil {
		logger.Error("initialization failed", slog.String("error", err.Error()))
		return exitError
	}

	req, err := a.LoadRequest()
	if err != nil {
		logger.Error("failed to load request", slog.String("error", err.Error()))
		return exitError
	}

	res, err := a.Compile(ctx, req)
	if errors.Is(err, compiler.ErrCancelled) {
		logger.Info("content query build cancelled")
		return exitCancelled
	}
	if err != nil {
		logger.Error("content query build failed", slog.String("error", err.Error()))
		return exitError
	}

	if err := app.WriteResult(stdout, res, cfg.Output); err != nil {
		logger.Error("failed to write result", slog.String("error", err.Error()))
		return exitError
	}
	return 0
}
