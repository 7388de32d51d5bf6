// Package telemetry wires OpenTelemetry tracing and metrics. Metrics are
// exposed in Prometheus format; traces go to an OTLP collector or stdout.
package telemetry

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/samcharles93/hearth/internal/config"
	"github.com/samcharles93/hearth/internal/logger"
	"github.com/samcharles93/hearth/internal/version"
)

// Telemetry holds the providers created by Setup. When telemetry is
// disabled the providers are no-ops and Handler is nil.
type Telemetry struct {
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
	// Handler serves /metrics.
	Handler http.Handler

	shutdown []func(context.Context) error
}

// Setup builds the providers described by cfg and installs them as the
// otel globals.
func Setup(ctx context.Context, cfg config.TelemetryConfig, log logger.Logger) (*Telemetry, error) {
	if log == nil {
		log = logger.Discard()
	}
	if !cfg.Enabled {
		return &Telemetry{
			MeterProvider:  metricnoop.NewMeterProvider(),
			TracerProvider: tracenoop.NewTracerProvider(),
		}, nil
	}

	name := cfg.ServiceName
	if name == "" {
		name = "hearth"
	}
	host, _ := os.Hostname()
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(name),
			semconv.ServiceVersion(version.String()),
			semconv.HostName(host),
		),
	)
	if err != nil {
		return nil, err
	}

	t := &Telemetry{}

	tp, err := initTracer(ctx, cfg, res, log)
	if err != nil {
		return nil, err
	}
	t.TracerProvider = tp
	t.shutdown = append(t.shutdown, tp.Shutdown)

	mp, handler, err := initMetrics(res, log)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, err
	}
	t.MeterProvider = mp
	t.Handler = handler
	t.shutdown = append(t.shutdown, mp.Shutdown)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	return t, nil
}

// Shutdown flushes and stops every provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(t.shutdown) - 1; i >= 0; i-- {
		if err := t.shutdown[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	t.shutdown = nil
	return errors.Join(errs...)
}

func initTracer(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource, log logger.Logger) (*sdktrace.TracerProvider, error) {
	if endpoint := strings.TrimSpace(cfg.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, err
		}
		log.Info("telemetry initialized", "exporter", "otlp", "endpoint", endpoint)
		return sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		), nil
	}

	if cfg.StdoutTraces {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		log.Info("telemetry initialized", "exporter", "stdout")
		return sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exporter),
			sdktrace.WithResource(res),
		), nil
	}

	log.Info("telemetry initialized", "exporter", "none")
	return sdktrace.NewTracerProvider(sdktrace.WithResource(res)), nil
}

// initMetrics uses a private registry so repeated setups in one process
// do not collide on the default registerer.
func initMetrics(res *resource.Resource, log logger.Logger) (*sdkmetric.MeterProvider, http.Handler, error) {
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		log.Warn("failed to initialize prometheus exporter", logger.Err(err))
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil, nil
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	return mp, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
