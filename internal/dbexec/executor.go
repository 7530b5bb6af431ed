// Package dbexec abstracts the read-only query execution the compiler needs
// for instance-existence checks.
package dbexec

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

// Rows abstracts sql.Rows so executors can wrap cleanup behavior.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// QueryExecutor runs read queries.
type QueryExecutor interface {
	QueryContext(ctx context.Context, query string, args ...any) (Rows, error)
}

// StandardExecutor executes queries directly against a database handle.
type StandardExecutor struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStandardExecutor creates an executor over db. Statements are logged at
// debug level when logger is set.
func NewStandardExecutor(db *sql.DB, logger *slog.Logger) *StandardExecutor {
	return &StandardExecutor{db: db, logger: logger}
}

func (e *StandardExecutor) QueryContext(ctx context.Context, query string, args ...any) (Rows, error) {
	if e.db == nil {
		return nil, sql.ErrConnDone
	}
	start := time.Now()
	rows, err := e.db.QueryContext(ctx, query, args...)
	if e.logger != nil {
		e.logger.DebugContext(ctx, "query executed",
			slog.String("sql", query),
			slog.Int("args", len(args)),
			slog.Duration("duration", time.Since(start)),
			slog.Bool("failed", err != nil),
		)
	}
	if err != nil {
		return nil, err
	}
	return rows, nil
}
