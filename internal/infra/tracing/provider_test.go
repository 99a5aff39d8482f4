package tracing

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetupWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := Setup(context.Background(), "pathledgerd", "")
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestProviderStampsServiceName(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp, err := newProvider(context.Background(), "pathledgerd", sdktrace.WithSpanProcessor(recorder))
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, span := tp.Tracer("test").Start(context.Background(), "ingest")
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected one span, got %d", len(spans))
	}
	found := false
	for _, attr := range spans[0].Resource().Attributes() {
		if string(attr.Key) == "service.name" && attr.Value.AsString() == "pathledgerd" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected service.name resource attribute")
	}
}
