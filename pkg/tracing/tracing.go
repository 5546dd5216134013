// Package tracing настраивает OpenTelemetry: spans уходят в Jaeger по OTLP gRPC.
// HTTP запросы получают root span через otelgin, сервисные операции
// открывают дочерние spans через Start.
//
//	shutdown, err := tracing.InitTracer(tracing.Config{ServiceName: "commerce", Endpoint: "localhost:4317", Enabled: true})
//	defer shutdown(context.Background())
package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"example.com/learning-commerce/pkg/logger"
)

// instrumentation — имя tracer для сервисных spans.
const instrumentation = "example.com/learning-commerce"

// Config содержит настройки tracing.
type Config struct {
	ServiceName string
	Environment string
	Endpoint    string  // OTLP gRPC endpoint, например "localhost:4317"
	SampleRatio float64 // доля записываемых трасс; <=0 или >=1 — все
	Enabled     bool
}

// ShutdownFunc — graceful shutdown трейсера.
type ShutdownFunc func(ctx context.Context) error

// InitTracer инициализирует глобальный TracerProvider и W3C propagator.
func InitTracer(cfg Config) (ShutdownFunc, error) {
	log := logger.With().Str("component", "tracing").Logger()

	if !cfg.Enabled || cfg.Endpoint == "" {
		log.Info().Msg("Tracing отключен")
		return func(context.Context) error { return nil }, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := grpc.NewClient(cfg.Endpoint, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}

	exporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.DeploymentEnvironmentName(cfg.Environment),
		),
	)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info().
		Str("endpoint", cfg.Endpoint).
		Float64("sample_ratio", cfg.SampleRatio).
		Msg("Tracing инициализирован (OTLP)")

	return func(ctx context.Context) error {
		if err := tp.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("Ошибка завершения TracerProvider")
		}
		return conn.Close()
	}, nil
}

// sampler уважает решение родителя, а корневые трассы сэмплирует по доле.
func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// Start открывает дочерний span сервисной операции.
//
//	ctx, span := tracing.Start(ctx, "order.Create", attribute.String("order.flow", "checkout"))
//	defer tracing.End(span, &err)
func Start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentation).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End завершает span и помечает его ошибкой, если *errp не nil.
func End(span trace.Span, errp *error) {
	if errp != nil && *errp != nil {
		span.RecordError(*errp)
		span.SetStatus(codes.Error, (*errp).Error())
	}
	span.End()
}
