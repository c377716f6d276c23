package telemetry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ShutdownTimeout bounds flushing of exporters when the process exits.
const ShutdownTimeout = 5 * time.Second

const serviceName = "trainctl"

// exporters is what one exporter choice installs. Metrics are optional.
type exporters struct {
	spans   sdktrace.SpanExporter
	metrics sdkmetric.Exporter
}

type exporterFactory func(ctx context.Context, w io.Writer) (exporters, error)

var exporterFactories = map[string]exporterFactory{
	"stdout": func(_ context.Context, w io.Writer) (exporters, error) {
		spans, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return exporters{}, err
		}
		metrics, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			return exporters{}, err
		}
		return exporters{spans: spans, metrics: metrics}, nil
	},
	"otlp-grpc": func(ctx context.Context, _ io.Writer) (exporters, error) {
		spans, err := otlptrace.New(ctx, otlptracegrpc.NewClient())
		return exporters{spans: spans}, err
	},
	"otlp-http": func(ctx context.Context, _ io.Writer) (exporters, error) {
		spans, err := otlptrace.New(ctx, otlptracehttp.NewClient())
		return exporters{spans: spans}, err
	},
}

// Options select the exporter and identify the process.
type Options struct {
	// Exporter is one of none, stdout, otlp-grpc or otlp-http.
	Exporter   string
	InstanceID string
	// Writer receives stdout exporter output; defaults to os.Stderr so stdout stays free for
	// --print_config.
	Writer io.Writer
}

// InitProvider installs global OpenTelemetry providers for the selected exporter and returns a
// function flushing them. "none" and the empty string install nothing.
func InitProvider(ctx context.Context, opts Options) (func(context.Context) error, error) {
	if opts.Exporter == "" || opts.Exporter == "none" {
		return func(context.Context) error { return nil }, nil
	}
	factory, ok := exporterFactories[opts.Exporter]
	if !ok {
		return nil, fmt.Errorf("unknown telemetry exporter %q", opts.Exporter)
	}
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	exp, err := factory(ctx, w)
	if err != nil {
		return nil, fmt.Errorf("telemetry exporter %s: %w", opts.Exporter, err)
	}
	return installProvider(ctx, opts.InstanceID, exp)
}

func installProvider(ctx context.Context, instanceID string, exp exporters) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceInstanceIDKey.String(hashInstanceID(instanceID)),
			semconv.ProcessPIDKey.Int(os.Getpid()),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp.spans),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	var mp *sdkmetric.MeterProvider
	if exp.metrics != nil {
		mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp.metrics)),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(mp)
	}

	return func(ctx context.Context) error {
		if mp != nil {
			if err := mp.Shutdown(ctx); err != nil {
				return err
			}
		}
		return tp.Shutdown(ctx)
	}, nil
}

// hashInstanceID keeps host names out of exported telemetry.
func hashInstanceID(input string) string {
	if input == "" {
		if host, err := os.Hostname(); err == nil {
			input = host
		}
	}
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:])
}
