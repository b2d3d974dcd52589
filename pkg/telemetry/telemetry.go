// Package telemetry wires wireprobe's logging, tracing and metrics. Console
// logs always go through log/slog; when an OTLP endpoint is configured the
// same records, plus spans and counters, are exported over gRPC.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentationName is the scope name used for tracers, meters and the
// otelslog bridge.
const InstrumentationName = "github.com/strand-protocol/wireprobe"

// Config selects log format/level and the optional OTLP export target.
type Config struct {
	ServiceName  string
	OTLPEndpoint string
	Insecure     bool
	LogLevel     string
	LogFormat    string
}

// Telemetry bundles the providers for one process.
type Telemetry struct {
	Logger  *slog.Logger
	Metrics *Metrics

	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	loggerProvider *sdklog.LoggerProvider
}

// Setup builds the providers. Console output is written to w.
func Setup(ctx context.Context, cfg Config, w io.Writer) (*Telemetry, error) {
	level, err := ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "wireprobe"
	}
	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))

	console := consoleHandler(w, cfg.LogFormat, level)

	if cfg.OTLPEndpoint == "" {
		t := &Telemetry{
			Logger:         slog.New(console),
			tracerProvider: sdktrace.NewTracerProvider(sdktrace.WithResource(res)),
			meterProvider:  sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)),
		}
		return t.finish()
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	logOpts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
		logOpts = append(logOpts, otlploggrpc.WithInsecure())
	}

	traceExp, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: trace exporter: %w", err)
	}
	metricExp, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: metric exporter: %w", err)
	}
	logExp, err := otlploggrpc.New(ctx, logOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: log exporter: %w", err)
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)),
		sdklog.WithResource(res),
	)
	bridge := otelslog.NewHandler(InstrumentationName, otelslog.WithLoggerProvider(lp))

	t := &Telemetry{
		Logger: slog.New(fanout{console, bridge}),
		tracerProvider: sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(traceExp),
			sdktrace.WithResource(res),
		),
		meterProvider: sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp)),
			sdkmetric.WithResource(res),
		),
		loggerProvider: lp,
	}
	return t.finish()
}

func (t *Telemetry) finish() (*Telemetry, error) {
	otel.SetTracerProvider(t.tracerProvider)
	otel.SetMeterProvider(t.meterProvider)

	m, err := NewMetrics(t.meterProvider.Meter(InstrumentationName))
	if err != nil {
		return nil, err
	}
	t.Metrics = m
	return t, nil
}

// Tracer returns the tracer probes start their spans on.
func (t *Telemetry) Tracer() trace.Tracer {
	return t.tracerProvider.Tracer(InstrumentationName)
}

// Shutdown flushes and stops every provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.tracerProvider != nil {
		errs = append(errs, t.tracerProvider.Shutdown(ctx))
	}
	if t.meterProvider != nil {
		errs = append(errs, t.meterProvider.Shutdown(ctx))
	}
	if t.loggerProvider != nil {
		errs = append(errs, t.loggerProvider.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// ParseLevel accepts debug, info, warn and error (case-insensitive). The
// empty string means info.
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return 0, fmt.Errorf("telemetry: invalid log level %q", s)
	}
	return l, nil
}

func consoleHandler(w io.Writer, format string, level slog.Level) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}
