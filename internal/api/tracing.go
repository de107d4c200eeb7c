package api

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// SetupOTelFromEnv wires an OTLP/HTTP trace exporter when tracing is turned
// on via VF_OTEL_ENABLE or an OTEL_EXPORTER_OTLP_ENDPOINT. The sample ratio
// comes from VF_OTEL_SAMPLE_RATIO (default: always sample). The returned
// shutdown func flushes the batcher; the bool says whether tracing is active.
func SetupOTelFromEnv() (func(context.Context) error, bool) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if os.Getenv("VF_OTEL_ENABLE") == "" && endpoint == "" {
		return func(context.Context) error { return nil }, false
	}
	if endpoint == "" {
		endpoint = "localhost:4318"
	}

	exp, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	))
	if err != nil {
		log.Printf("otel exporter init failed: %v", err)
		return func(context.Context) error { return nil }, false
	}

	sampler := sdktrace.AlwaysSample()
	if v := os.Getenv("VF_OTEL_SAMPLE_RATIO"); v != "" {
		if ratio, err := strconv.ParseFloat(v, 64); err == nil && ratio > 0 && ratio < 1 {
			sampler = sdktrace.TraceIDRatioBased(ratio)
		}
	}

	res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String("voiceframe-backend"),
	))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithSampler(sampler),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}, true
}
