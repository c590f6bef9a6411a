// Package telemetry provides OpenTelemetry metrics for the media fetch
// service, with optional OTLP and Prometheus export.
package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

const (
	meterName = "github.com/wolfeidau/mediafetch"
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	requestsTotal      metric.Int64Counter
	responseBytesTotal metric.Int64Counter
	requestDuration    metric.Float64Histogram

	fetchesTotal   metric.Int64Counter
	fetchBytes     metric.Int64Counter
	fetchDuration  metric.Float64Histogram
	cacheLookups   metric.Int64Counter
	sweepRemoved   metric.Int64Counter
	sweepDuration  metric.Float64Histogram
	providerTotal  metric.Int64Counter
	providerDur    metric.Float64Histogram
	backendTotal   metric.Int64Counter
	backendDur     metric.Float64Histogram
	backendBytes   metric.Int64Counter
	categorizeRuns metric.Int64Counter
	categorizeMove metric.Int64Counter
	categorizeDur  metric.Float64Histogram

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "mediafetch"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	// Build resource with service info
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	// Setup OTLP exporter if endpoint configured
	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(), // Use WithTLSCredentials for production
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	// Setup Prometheus exporter if enabled
	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// If no exporters configured, use a no-op periodic reader to still collect metrics
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	// Build meter provider options
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	// Create meter and instruments
	meter := mp.Meter(meterName)

	requestsTotal, err := meter.Int64Counter(
		"mediafetch_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	responseBytesTotal, err := meter.Int64Counter(
		"mediafetch_http_response_bytes_total",
		metric.WithDescription("Total bytes sent in HTTP responses"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	requestDuration, err := meter.Float64Histogram(
		"mediafetch_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return err
	}

	fetchesTotal, err := meter.Int64Counter(
		"mediafetch_fetches_total",
		metric.WithDescription("Total asset fetch operations"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		return err
	}

	fetchBytes, err := meter.Int64Counter(
		"mediafetch_fetch_bytes_total",
		metric.WithDescription("Total bytes written by asset fetches"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	fetchDuration, err := meter.Float64Histogram(
		"mediafetch_fetch_duration_seconds",
		metric.WithDescription("Asset fetch duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60),
	)
	if err != nil {
		return err
	}

	cacheLookups, err := meter.Int64Counter(
		"mediafetch_cache_lookups_total",
		metric.WithDescription("Total cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return err
	}

	sweepRemoved, err := meter.Int64Counter(
		"mediafetch_cache_sweep_removed_total",
		metric.WithDescription("Total entries removed by cache sweeps"),
		metric.WithUnit("{entry}"),
	)
	if err != nil {
		return err
	}

	sweepDuration, err := meter.Float64Histogram(
		"mediafetch_cache_sweep_duration_seconds",
		metric.WithDescription("Duration of cache sweep passes"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1),
	)
	if err != nil {
		return err
	}

	providerTotal, err := meter.Int64Counter(
		"mediafetch_provider_requests_total",
		metric.WithDescription("Total requests to the media provider"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	providerDur, err := meter.Float64Histogram(
		"mediafetch_provider_request_duration_seconds",
		metric.WithDescription("Duration of media provider requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return err
	}

	backendTotal, err := meter.Int64Counter(
		"mediafetch_backend_requests_total",
		metric.WithDescription("Total number of backend storage operations"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return err
	}

	backendDur, err := meter.Float64Histogram(
		"mediafetch_backend_request_duration_seconds",
		metric.WithDescription("Duration of backend storage operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	)
	if err != nil {
		return err
	}

	backendBytes, err := meter.Int64Counter(
		"mediafetch_backend_bytes_total",
		metric.WithDescription("Total bytes transferred in backend operations"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}

	categorizeRuns, err := meter.Int64Counter(
		"mediafetch_categorize_runs_total",
		metric.WithDescription("Total categorization runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return err
	}

	categorizeMove, err := meter.Int64Counter(
		"mediafetch_categorize_moved_total",
		metric.WithDescription("Total files relocated by categorization"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return err
	}

	categorizeDur, err := meter.Float64Histogram(
		"mediafetch_categorize_duration_seconds",
		metric.WithDescription("Duration of categorization runs"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30),
	)
	if err != nil {
		return err
	}

	globalMetrics = &Metrics{
		requestsTotal:      requestsTotal,
		responseBytesTotal: responseBytesTotal,
		requestDuration:    requestDuration,
		fetchesTotal:       fetchesTotal,
		fetchBytes:         fetchBytes,
		fetchDuration:      fetchDuration,
		cacheLookups:       cacheLookups,
		sweepRemoved:       sweepRemoved,
		sweepDuration:      sweepDuration,
		providerTotal:      providerTotal,
		providerDur:        providerDur,
		backendTotal:       backendTotal,
		backendDur:         backendDur,
		backendBytes:       backendBytes,
		categorizeRuns:     categorizeRuns,
		categorizeMove:     categorizeMove,
		categorizeDur:      categorizeDur,
		meterProvider:      mp,
		promHandler:        promHandler,
	}

	return nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordHTTP records HTTP request metrics.
// Call this from the logging middleware after the request completes.
func RecordHTTP(ctx context.Context, route string, status int, bytesSent int64, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("route", route),
		attribute.String("status_class", StatusClass(status)),
	}
	globalMetrics.requestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.responseBytesTotal.Add(ctx, bytesSent, metric.WithAttributes(attrs...))
	globalMetrics.requestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordFetch records one asset fetch.
func RecordFetch(ctx context.Context, outcome string, bytes int64, duration time.Duration, reused bool) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("outcome", outcome),
		attribute.Bool("reused", reused),
	}
	globalMetrics.fetchesTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.fetchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if bytes > 0 {
		globalMetrics.fetchBytes.Add(ctx, bytes, metric.WithAttributes(attrs...))
	}
}

// RecordCacheLookup records a cache lookup and whether it hit.
func RecordCacheLookup(ctx context.Context, hit bool) {
	if globalMetrics == nil {
		return
	}

	result := "miss"
	if hit {
		result = "hit"
	}
	globalMetrics.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordCacheSweep records one sweep pass.
func RecordCacheSweep(ctx context.Context, removed int, duration time.Duration) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.sweepRemoved.Add(ctx, int64(removed))
	globalMetrics.sweepDuration.Record(ctx, duration.Seconds())
}

// RecordProviderRequest records one media provider request.
func RecordProviderRequest(ctx context.Context, op, outcome string, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	}
	globalMetrics.providerTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.providerDur.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordBackendOp records backend operation metrics.
func RecordBackendOp(ctx context.Context, backend, op, outcome string, duration time.Duration, bytes int64) {
	if globalMetrics == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("backend", backend),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	}
	globalMetrics.backendTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	globalMetrics.backendDur.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	if bytes > 0 {
		globalMetrics.backendBytes.Add(ctx, bytes, metric.WithAttributes(attrs...))
	}
}

// RecordCategorizeRun records one categorization run.
func RecordCategorizeRun(ctx context.Context, scheme string, moved, errors int, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("scheme", scheme),
		attribute.Bool("had_errors", errors > 0),
	)
	globalMetrics.categorizeRuns.Add(ctx, 1, attrs)
	globalMetrics.categorizeMove.Add(ctx, int64(moved), attrs)
	globalMetrics.categorizeDur.Record(ctx, duration.Seconds(), attrs)
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// StatusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx).
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
