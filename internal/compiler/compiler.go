// Package compiler builds content queries. Each specification of a request
// is turned into content sources, each source into one query, and the
// queries are unioned and finalized with the request's descriptor overrides.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"contentsql/internal/appender"
	"contentsql/internal/dbexec"
	"contentsql/internal/existence"
	"contentsql/internal/expr"
	"contentsql/internal/flatten"
	"contentsql/internal/logging"
	"contentsql/internal/query"
	"contentsql/internal/rules"
	"contentsql/internal/schema"
	"contentsql/internal/sources"
)

// DefaultMaxPageSize is the row limit used when paging gives a start but no size.
const DefaultMaxPageSize = 1000

// ErrCancelled is returned when the context is done before the build
// finishes. The context error is wrapped too.
var ErrCancelled = errors.New("content query build cancelled")

// SchemaGraph is the schema service the compiler reads. *schema.Graph
// implements it.
type SchemaGraph interface {
	appender.Graph
	sources.Graph
	flatten.PathFinder
	RelatedInstancePaths(ctx context.Context, base *schema.Class, specs []rules.RelatedInstanceSpecification) ([]schema.RelatedClassPath, error)
	HierarchyClassIDs(c *schema.Class, polymorphic bool, excluded []*schema.Class) []schema.ClassID
}

// ExpressionCompiler lowers instance filter expressions. *expr.Compiler
// implements it.
type ExpressionCompiler interface {
	Compile(text string, provider expr.FieldProvider) (expr.Clause, error)
}

// Metrics records build outcomes.
type Metrics interface {
	RecordBuild(ctx context.Context, duration time.Duration, queries int, err error)
	RecordPathCache(ctx context.Context, hits, misses int)
}

type noopMetrics struct{}

func (noopMetrics) RecordBuild(context.Context, time.Duration, int, error) {}
func (noopMetrics) RecordPathCache(context.Context, int, int)             {}

// Result is a compiled request.
type Result struct {
	// Query is the union before descriptor overrides; nil when the request
	// produced no content.
	Query  *query.QuerySet
	SQL    string
	Args   []any
	Fields []query.Field
	// Sources counts the content sources that became union branches.
	Sources    int
	Descriptor []appender.DescriptorField
}

// Compiler compiles content requests against one schema graph. It keeps no
// per-request state and is safe for concurrent use.
type Compiler struct {
	graph       SchemaGraph
	exprs       ExpressionCompiler
	exec        dbexec.QueryExecutor
	probe       *existence.Filter
	maxCompound int
	maxPageSize int
	descriptor  bool
	metrics     Metrics
	logger      *slog.Logger
}

// Option configures a Compiler.
type Option func(*Compiler)

// WithExistenceCheck drops sources without rows, probing through exec.
func WithExistenceCheck(exec dbexec.QueryExecutor) Option {
	return func(c *Compiler) {
		c.exec = exec
	}
}

// WithMaxCompoundSelect bounds the branches of one compound select.
func WithMaxCompoundSelect(n int) Option {
	return func(c *Compiler) {
		if n > 1 {
			c.maxCompound = n
		}
	}
}

// WithMaxPageSize sets the row limit of open-ended pages.
func WithMaxPageSize(n int) Option {
	return func(c *Compiler) {
		if n > 0 {
			c.maxPageSize = n
		}
	}
}

// WithDescriptor collects field descriptions alongside the query.
func WithDescriptor() Option {
	return func(c *Compiler) {
		c.descriptor = true
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m Metrics) Option {
	return func(c *Compiler) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Compiler) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a compiler.
func New(graph SchemaGraph, exprs ExpressionCompiler, opts ...Option) *Compiler {
	c := &Compiler{
		graph:       graph,
		exprs:       exprs,
		maxCompound: query.DefaultMaxCompoundSelect,
		maxPageSize: DefaultMaxPageSize,
		metrics:     noopMetrics{},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.exec != nil {
		c.probe = existence.NewFilter(c.exec, c.maxCompound)
	}
	return c
}

// Build compiles req. On cancellation it returns ErrCancelled and no result.
func (c *Compiler) Build(ctx context.Context, req *rules.Request) (*Result, error) {
	start := time.Now()
	s := newSession(c, req)
	ctx = logging.WithSessionIDContext(ctx, s.id)
	ctx = logging.WithLogger(ctx, s.logger)
	ctx, span := otel.Tracer("contentsql/compiler").Start(ctx, "compiler.build",
		trace.WithAttributes(
			attribute.Int("specifications", len(req.Specifications)),
			attribute.String("session_id", s.id),
		))
	defer span.End()

	result, err := s.build(ctx)
	if err != nil && ctx.Err() != nil {
		err = cancelled(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, ErrCancelled) {
			s.logger.Info("content query build cancelled")
		}
		c.metrics.RecordBuild(ctx, time.Since(start), 0, err)
		return nil, err
	}

	c.metrics.RecordPathCache(ctx, s.related.CacheHits(), s.related.CacheMisses())
	c.metrics.RecordBuild(ctx, time.Since(start), result.Sources, nil)
	span.SetAttributes(attribute.Int("sources", result.Sources))
	s.logger.Debug("content query built",
		slog.Int("sources", result.Sources),
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

func cancelled(ctx context.Context) error {
	return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
}

// byPriority orders specifications by descending priority, keeping request
// order among equals.
func byPriority(specs []rules.ContentSpecification) []rules.ContentSpecification {
	out := append([]rules.ContentSpecification(nil), specs...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Common().Priority > out[j].Common().Priority
	})
	return out
}
