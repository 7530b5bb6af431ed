package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// CompilerMetrics records content query builds. It implements
// compiler.Metrics.
type CompilerMetrics struct {
	buildDuration metric.Float64Histogram
	builds        metric.Int64Counter
	buildErrors   metric.Int64Counter
	sources       metric.Int64Histogram
	cacheHits     metric.Int64Counter
	cacheMisses   metric.Int64Counter
}

// NewCompilerMetrics creates the instruments on the global meter provider.
func NewCompilerMetrics() (*CompilerMetrics, error) {
	meter := otel.Meter("contentsql")
	m := &CompilerMetrics{}
	var err error

	if m.buildDuration, err = meter.Float64Histogram(
		"contentsql.build.duration",
		metric.WithDescription("Duration of content query builds in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("failed to create build duration histogram: %w", err)
	}
	if m.builds, err = meter.Int64Counter(
		"contentsql.builds.total",
		metric.WithDescription("Total number of content query builds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create build counter: %w", err)
	}
	if m.buildErrors, err = meter.Int64Counter(
		"contentsql.build.errors.total",
		metric.WithDescription("Total number of failed content query builds"),
	); err != nil {
		return nil, fmt.Errorf("failed to create build error counter: %w", err)
	}
	if m.sources, err = meter.Int64Histogram(
		"contentsql.build.sources",
		metric.WithDescription("Number of content sources per build"),
	); err != nil {
		return nil, fmt.Errorf("failed to create sources histogram: %w", err)
	}
	if m.cacheHits, err = meter.Int64Counter(
		"contentsql.path_cache.hits",
		metric.WithDescription("Related property path cache hits"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}
	if m.cacheMisses, err = meter.Int64Counter(
		"contentsql.path_cache.misses",
		metric.WithDescription("Related property path cache misses"),
	); err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}
	return m, nil
}

// RecordBuild records one build and its outcome.
func (m *CompilerMetrics) RecordBuild(ctx context.Context, duration time.Duration, sources int, err error) {
	attrs := metric.WithAttributes(attribute.Bool("has_error", err != nil))
	m.buildDuration.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	m.builds.Add(ctx, 1, attrs)
	if err != nil {
		m.buildErrors.Add(ctx, 1)
		return
	}
	m.sources.Record(ctx, int64(sources))
}

// RecordPathCache adds the path cache counters of one build.
func (m *CompilerMetrics) RecordPathCache(ctx context.Context, hits, misses int) {
	if hits > 0 {
		m.cacheHits.Add(ctx, int64(hits))
	}
	if misses > 0 {
		m.cacheMisses.Add(ctx, int64(misses))
	}
}
