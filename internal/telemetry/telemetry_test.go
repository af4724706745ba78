package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

func TestInit_Discard(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	ctx := context.Background()
	shutdown, err := Init(ctx, "mapstate-test", "dev", "")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}

	_, span := otel.Tracer("test").Start(ctx, "op")
	if !span.SpanContext().IsValid() {
		t.Error("expected a recording tracer provider")
	}
	span.End()

	// The propagator injects a traceparent header.
	carrier := propagation.HeaderCarrier(http.Header{})
	spanCtx, span2 := otel.Tracer("test").Start(ctx, "op2")
	otel.GetTextMapPropagator().Inject(spanCtx, carrier)
	span2.End()
	if carrier.Get("traceparent") == "" {
		t.Error("traceparent not injected")
	}

	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInit_OTLPEndpoint(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/traces" {
			hits.Add(1)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx := context.Background()
	shutdown, err := Init(ctx, "mapstate-test", "dev", srv.URL+"/v1/traces")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	_, span := otel.Tracer("test").Start(ctx, "exported")
	span.End()

	// Shutdown flushes the batch.
	if err := shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if hits.Load() == 0 {
		t.Fatal("no spans exported to the OTLP endpoint")
	}
}
