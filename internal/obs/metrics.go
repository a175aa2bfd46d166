package obs

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
)

// InitMetrics sets up a global OTLP push metrics provider and returns
// its shutdown function. On exporter failure it still returns a working
// (but unexported) meter provider so callers never have to nil-check
// the returned Meter.
func InitMetrics(ctx context.Context, service string) (shutdown func(context.Context) error, meter metric.Meter) {
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		attribute.String("service", service),
	))

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("metrics exporter init failed", "error", err)
		return func(context.Context) error { return nil }, otel.GetMeterProvider().Meter("swarmctl")
	}

	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	slog.Info("metrics initialized", "endpoint", endpoint)
	return mp.Shutdown, mp.Meter("swarmctl")
}
