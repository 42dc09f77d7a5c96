package observability

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/fabric-controller/internal/config"
	"github.com/signalsfoundry/fabric-controller/internal/logging"
)

// TracingConfig is the resolved tracing setup of one controller process.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	Exporter    string // stdout | otlp
	Endpoint    string // used when Exporter == otlp
	SampleRatio float64

	// Attributes are added to the trace resource so spans from several
	// controllers can be told apart.
	Attributes []attribute.KeyValue

	// exporter replaces the configured exporter when set.
	exporter sdktrace.SpanExporter
}

// NewTracingConfig derives the tracing setup from the controller
// configuration. The engine settings that shape path decisions are recorded
// as resource attributes.
func NewTracingConfig(cfg *config.Config) TracingConfig {
	t := cfg.Tracing
	return TracingConfig{
		Enabled:     t.Enabled,
		ServiceName: t.ServiceName,
		Exporter:    t.Exporter,
		Endpoint:    t.OTLPEndpoint,
		SampleRatio: t.SampleRatio,
		Attributes: []attribute.KeyValue{
			attribute.String("service.instance.id", cfg.NATS.Name),
			attribute.Bool("fabric.path_routing", cfg.Controller.PathRouting),
			attribute.String("fabric.policy", cfg.Controller.Policy),
			attribute.Int("fabric.path_count", cfg.Controller.PathCount),
		},
	}
}

// OverrideFromEnv returns c with any set FABRIC_TRACING_* or
// FABRIC_OTLP_ENDPOINT variable applied. Unparseable or out-of-range values
// are ignored and reported in the returned list.
func (c TracingConfig) OverrideFromEnv() (TracingConfig, []string) {
	var ignored []string
	if v := os.Getenv("FABRIC_TRACING_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Enabled = b
		} else {
			ignored = append(ignored, "FABRIC_TRACING_ENABLED")
		}
	}
	if v := os.Getenv("FABRIC_TRACING_EXPORTER"); v != "" {
		c.Exporter = strings.ToLower(v)
	}
	if v := os.Getenv("FABRIC_TRACING_SERVICE_NAME"); v != "" {
		c.ServiceName = v
	}
	if v := os.Getenv("FABRIC_TRACING_SAMPLE_RATIO"); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r >= 0 && r <= 1 {
			c.SampleRatio = r
		} else {
			ignored = append(ignored, "FABRIC_TRACING_SAMPLE_RATIO")
		}
	}
	if v := os.Getenv("FABRIC_OTLP_ENDPOINT"); v != "" {
		c.Endpoint = v
	}
	return c, ignored
}

// WithExporter returns c exporting through exp instead of the configured
// exporter.
func (c TracingConfig) WithExporter(exp sdktrace.SpanExporter) TracingConfig {
	c.exporter = exp
	return c
}

// InitTracing installs the global tracer provider and propagators described
// by cfg. The returned function flushes and stops span export.
func InitTracing(ctx context.Context, cfg TracingConfig, log logging.Logger) (func(context.Context) error, error) {
	if log == nil {
		log = logging.Noop()
	}

	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		otel.SetTextMapPropagator(propagation.TraceContext{})
		log.Info(ctx, "tracing disabled; using noop tracer provider")
		return func(context.Context) error { return nil }, nil
	}

	exp := cfg.exporter
	if exp == nil {
		var err error
		if exp, err = newExporter(ctx, cfg); err != nil {
			return nil, err
		}
	}

	service := cfg.ServiceName
	if service == "" {
		service = config.DefaultServiceName
	}
	attrs := append([]attribute.KeyValue{
		attribute.String("service.name", service),
		attribute.String("service.namespace", "fabric"),
	}, cfg.Attributes...)
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		return nil, fmt.Errorf("create trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	log.Info(ctx, "tracing enabled",
		logging.String("exporter", cfg.Exporter),
		logging.String("service_name", service),
		logging.Any("sample_ratio", cfg.SampleRatio),
	)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, cfg TracingConfig) (sdktrace.SpanExporter, error) {
	switch strings.ToLower(cfg.Exporter) {
	case "stdout", "":
		return stdouttrace.New(
			stdouttrace.WithWriter(os.Stdout),
			stdouttrace.WithoutTimestamps(),
		)
	case "otlp":
		endpoint := cfg.Endpoint
		if endpoint == "" {
			endpoint = config.DefaultOTLPEndpoint
		}
		client := otlptracegrpc.NewClient(
			otlptracegrpc.WithEndpoint(endpoint),
			otlptracegrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
		)
		return otlptrace.New(ctx, client)
	default:
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
}

// ShutdownWithTimeout runs shutdown with a five second budget and logs a
// failure instead of returning it.
func ShutdownWithTimeout(ctx context.Context, shutdown func(context.Context) error, log logging.Logger) {
	if shutdown == nil {
		return
	}
	if log == nil {
		log = logging.Noop()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := shutdown(ctx); err != nil {
		log.Warn(ctx, "tracing shutdown failed", logging.Err(err))
	}
}
