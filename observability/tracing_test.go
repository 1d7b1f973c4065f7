package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestSetupTracing_Stdout(t *testing.T) {
	ctx := context.Background()
	config := TracerConfig{
		ServiceName:    "composer-prefetch-test",
		ServiceVersion: "1.0.0",
		Environment:    "test",
		ExporterType:   "stdout",
		SamplingRate:   1.0,
	}

	tp, err := SetupTracing(ctx, config)
	if err != nil {
		t.Fatalf("SetupTracing() failed: %v", err)
	}
	defer func() {
		if err := ShutdownTracing(ctx, tp); err != nil {
			t.Errorf("ShutdownTracing() failed: %v", err)
		}
	}()

	_, span := StartSpan(ctx, "test-operation", attribute.String("test.key", "test.value"))
	span.End()
}

func TestSetupTracing_InvalidExporter(t *testing.T) {
	_, err := SetupTracing(context.Background(), TracerConfig{
		ServiceName:  "composer-prefetch-test",
		ExporterType: "invalid",
	})
	if err == nil {
		t.Error("SetupTracing with invalid exporter should return error")
	}
}

func TestDefaultTracerConfig(t *testing.T) {
	config := DefaultTracerConfig()

	if config.ServiceName != "composer-prefetch" {
		t.Errorf("ServiceName = %s, want composer-prefetch", config.ServiceName)
	}
	if config.ExporterType != "none" {
		t.Errorf("ExporterType = %s, want none", config.ExporterType)
	}
	if config.SamplingRate != 1.0 {
		t.Errorf("SamplingRate = %f, want 1.0", config.SamplingRate)
	}
}

func TestStartSpanAndEndSpan(t *testing.T) {
	ctx := context.Background()
	tp, err := SetupTracing(ctx, DefaultTracerConfig())
	if err != nil {
		t.Fatalf("SetupTracing() failed: %v", err)
	}
	defer func() { _ = ShutdownTracing(ctx, tp) }()

	ctx, span := StartSpan(ctx, "scheduler.download", AttrJobCount.Int(3))
	if !span.SpanContext().IsValid() {
		t.Error("span context should be valid")
	}
	RecordCacheHit(ctx, true)
	EndSpan(span, nil)

	_, failed := StartSpan(ctx, "repository.fetch", AttrRepositoryURL.String("https://repo.packagist.org"))
	EndSpan(failed, errors.New("boom"))
}
