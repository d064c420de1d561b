package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestInitTracerExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	shutdown, err := InitTracer("mock-interviewer-test", &buf, nil)
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}

	_, span := otel.Tracer("test").Start(context.Background(), "dispatch.generate")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown failed: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "dispatch.generate") {
		t.Fatalf("expected span name in export, got %q", out)
	}
	if !strings.Contains(out, "mock-interviewer-test") {
		t.Fatalf("expected service name in export, got %q", out)
	}
}
