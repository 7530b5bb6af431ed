package observability

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInitMeterProvider(t *testing.T) {
	mp, err := InitMeterProvider(Config{ServiceName: "contentsql-test", ServiceVersion: "test"})
	require.NoError(t, err)
	require.NotNil(t, mp.provider)
	require.NotNil(t, mp.reader)

	rm, err := mp.Collect(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, rm.Resource)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	require.NoError(t, mp.Shutdown(context.Background(), logger))
}

func TestCompilerMetrics_Collected(t *testing.T) {
	mp, err := InitMeterProvider(Config{ServiceName: "contentsql-test"})
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	defer mp.Shutdown(context.Background(), logger)

	metrics, err := NewCompilerMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	metrics.RecordBuild(ctx, 3*time.Millisecond, 2, nil)
	metrics.RecordBuild(ctx, time.Millisecond, 0, errors.New("boom"))
	metrics.RecordPathCache(ctx, 4, 1)

	rm, err := mp.Collect(ctx)
	require.NoError(t, err)

	sums := map[string]int64{}
	histograms := map[string]uint64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					sums[m.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					histograms[m.Name] += dp.Count
				}
			case metricdata.Histogram[int64]:
				for _, dp := range data.DataPoints {
					histograms[m.Name] += dp.Count
				}
			}
		}
	}

	assert.Equal(t, int64(2), sums["contentsql.builds.total"])
	assert.Equal(t, int64(1), sums["contentsql.build.errors.total"])
	assert.Equal(t, int64(4), sums["contentsql.path_cache.hits"])
	assert.Equal(t, int64(1), sums["contentsql.path_cache.misses"])
	assert.Equal(t, uint64(2), histograms["contentsql.build.duration"])
	assert.Equal(t, uint64(1), histograms["contentsql.build.sources"])

	mp.LogSummary(ctx, logger)
}

func TestParseOTLPProtocol(t *testing.T) {
	p, err := parseOTLPProtocol("")
	require.NoError(t, err)
	assert.Equal(t, otlpProtocolGRPC, p)

	p, err = parseOTLPProtocol("HTTP")
	require.NoError(t, err)
	assert.Equal(t, otlpProtocolHTTP, p)

	_, err = parseOTLPProtocol("thrift")
	require.Error(t, err)
}

func TestBuildTLSConfig_FileNotFound(t *testing.T) {
	// Missing CA file should surface a clear error.
	_, err := buildTLSConfig(OTLPExporterConfig{
		TLSCertFile: "/nonexistent/ca.pem",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read OTLP TLS CA file")
}

func TestBuildTLSConfig_InvalidCertFormat(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/ca.pem"

	// Write a non-PEM payload to trigger parse failure.
	require.NoError(t, os.WriteFile(path, []byte("not-a-cert"), 0600))

	_, err := buildTLSConfig(OTLPExporterConfig{
		TLSCertFile: path,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse OTLP TLS CA file")
}

func TestBuildTLSConfig_MissingClientKeyPair(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/client.crt"

	// Only set the cert path to ensure missing key is rejected.
	require.NoError(t, os.WriteFile(path, []byte("not-a-cert"), 0600))

	_, err := buildTLSConfig(OTLPExporterConfig{
		TLSClientCertFile: path,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OTLP TLS client cert and key must both be set")
}

func TestTraceSamplerForRatio_Boundaries(t *testing.T) {
	never := traceSamplerForRatio(0)
	always := traceSamplerForRatio(1)

	decisionNever := never.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{1},
		Name:          "test",
	}).Decision
	assert.Equal(t, sdktrace.Drop, decisionNever)

	decisionAlways := always.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: context.Background(),
		TraceID:       trace.TraceID{2},
		Name:          "test",
	}).Decision
	assert.Equal(t, sdktrace.RecordAndSample, decisionAlways)
}

func TestTraceSamplerForRatio_ParentAwareMidRange(t *testing.T) {
	sampler := traceSamplerForRatio(0.5)

	parentSampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{3},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	}))
	decisionSampledParent := sampler.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: parentSampled,
		TraceID:       trace.TraceID{4},
		Name:          "child",
	}).Decision
	assert.Equal(t, sdktrace.RecordAndSample, decisionSampledParent)

	parentNotSampled := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{5},
		SpanID:  trace.SpanID{2},
		Remote:  true,
	}))
	decisionUnsampledParent := sampler.ShouldSample(sdktrace.SamplingParameters{
		ParentContext: parentNotSampled,
		TraceID:       trace.TraceID{6},
		Name:          "child",
	}).Decision
	assert.Equal(t, sdktrace.Drop, decisionUnsampledParent)
}
