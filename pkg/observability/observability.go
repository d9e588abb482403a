// Package observability wires structured logging and OpenTelemetry metrics
// for the platform. Logging goes through the process-wide slog default;
// metrics run on the OTel SDK with an in-process reader unless an exporter
// is attached by the operator.
package observability

import (
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Metrics are the named counters the subsystems increment.
type Metrics struct {
	RequestsTotal      metric.Int64Counter
	ScrapeCyclesTotal  metric.Int64Counter
	ChangesInserted    metric.Int64Counter
	PatternsDiscovered metric.Int64Counter
	ModelsUpdated      metric.Int64Counter
}

// InitLogging configures the process-wide slog default from the level name.
func InitLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

// InitMetrics sets up the meter provider and returns the platform counters.
func InitMetrics(serviceName string) (*Metrics, error) {
	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		))
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	m := &Metrics{}
	if m.RequestsTotal, err = meter.Int64Counter("requests_total",
		metric.WithDescription("API requests dispatched")); err != nil {
		return nil, err
	}
	if m.ScrapeCyclesTotal, err = meter.Int64Counter("scrape_cycles_total",
		metric.WithDescription("Regulatory scrape cycles run")); err != nil {
		return nil, err
	}
	if m.ChangesInserted, err = meter.Int64Counter("changes_inserted_total",
		metric.WithDescription("New regulatory changes persisted")); err != nil {
		return nil, err
	}
	if m.PatternsDiscovered, err = meter.Int64Counter("patterns_discovered_total",
		metric.WithDescription("Patterns discovered by the engine")); err != nil {
		return nil, err
	}
	if m.ModelsUpdated, err = meter.Int64Counter("models_updated_total",
		metric.WithDescription("Learning model updates applied")); err != nil {
		return nil, err
	}
	return m, nil
}
