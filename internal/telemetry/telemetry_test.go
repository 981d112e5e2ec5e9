package telemetry_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/jensholdgaard/bidcore/internal/config"
	"github.com/jensholdgaard/bidcore/internal/telemetry"
)

func TestResource(t *testing.T) {
	res, err := telemetry.Resource(context.Background(), config.TelemetryConfig{
		ServiceName:    "bidcore-api",
		ServiceVersion: "1.4.0",
	})
	if err != nil {
		t.Fatalf("Resource() error = %v", err)
	}

	want := map[attribute.Key]string{
		semconv.ServiceNamespaceKey: telemetry.ServiceNamespace,
		semconv.ServiceNameKey:      "bidcore-api",
		semconv.ServiceVersionKey:   "1.4.0",
	}
	set := res.Set()
	for key, value := range want {
		got, ok := set.Value(key)
		if !ok {
			t.Errorf("resource has no %s", key)
			continue
		}
		if got.AsString() != value {
			t.Errorf("%s = %q, want %q", key, got.AsString(), value)
		}
	}
}

func TestNopProvider_Shutdown(t *testing.T) {
	p := telemetry.NewNopProvider()
	if p.TracerProvider == nil || p.MeterProvider == nil || p.LoggerProvider == nil || p.Logger == nil {
		t.Fatalf("NewNopProvider() left a provider nil: %+v", p)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func logLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decoding log line %q: %v", buf.String(), err)
	}
	return line
}

func TestLogWithTrace_NoSpan(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	if got := telemetry.LogWithTrace(context.Background(), logger); got != logger {
		t.Fatal("LogWithTrace() without a span should return the logger unchanged")
	}
}

func TestLogWithTrace_WithSpan(t *testing.T) {
	p := telemetry.NewNopProvider()
	ctx, span := p.TracerProvider.Tracer("bidcore/test").Start(context.Background(), "Coordinator.PlaceBid")
	defer span.End()

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	telemetry.LogWithTrace(ctx, logger).Info("bid placed", "lot_id", "lot-1")

	sc := trace.SpanFromContext(ctx).SpanContext()
	line := logLine(t, &buf)
	if line["trace_id"] != sc.TraceID().String() {
		t.Errorf("trace_id = %v, want %s", line["trace_id"], sc.TraceID())
	}
	if line["span_id"] != sc.SpanID().String() {
		t.Errorf("span_id = %v, want %s", line["span_id"], sc.SpanID())
	}
	if line["lot_id"] != "lot-1" {
		t.Errorf("lot_id = %v, want lot-1", line["lot_id"])
	}
}
