package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/psantana5/physician/pkg/models"
)

func TestHTTPMiddlewareRecordsSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := NewProvider("physician-test", sdktrace.WithSpanProcessor(recorder))

	handler := HTTPMiddleware(provider)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/verify", nil))

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "POST /verify" {
		t.Errorf("Expected span name 'POST /verify', got %q", spans[0].Name())
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("Expected error status for 503, got %v", spans[0].Status().Code)
	}
}

func TestSetError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := NewProvider("physician-test", sdktrace.WithSpanProcessor(recorder))

	ctx, span := provider.StartSpan(context.Background(), "simulation")
	SetError(ctx, errors.New("engine panic"))
	span.End()

	ended := recorder.Ended()
	if len(ended) != 1 || ended[0].Status().Description != "engine panic" {
		t.Fatalf("Expected errored span, got %+v", ended)
	}
	if len(ended[0].Events()) == 0 {
		t.Error("Expected RecordError to add an exception event")
	}
}

func TestDisabledTracerStillCreatesSpans(t *testing.T) {
	provider, err := InitTracer(Config{ServiceName: "physician", Enabled: false})
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	defer provider.Shutdown(context.Background())

	_, span := provider.StartSpan(context.Background(), "noop")
	span.End()
}

func TestSpanName(t *testing.T) {
	tests := []struct {
		method, path, want string
	}{
		{"POST", "/verify", "POST /verify"},
		{"GET", "/verifications", "GET /verifications"},
		{"GET", "/verifications/stats", "GET /verifications/stats"},
		{"GET", "/verifications/4b1c9e", "GET /verifications/{id}"},
	}
	for _, tt := range tests {
		if got := SpanName(tt.method, tt.path); got != tt.want {
			t.Errorf("SpanName(%s, %s) = %q, want %q", tt.method, tt.path, got, tt.want)
		}
	}
}

func TestHTTPMiddlewareTagsRequestID(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := NewProvider("physician-test", sdktrace.WithSpanProcessor(recorder))
	handler := HTTPMiddleware(provider)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req = req.WithContext(models.WithRequestID(req.Context(), "req-42"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("Expected 1 span, got %d", len(spans))
	}
	found := false
	for _, kv := range spans[0].Attributes() {
		if kv.Key == "request.id" && kv.Value.AsString() == "req-42" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected request.id attribute on %v", spans[0].Attributes())
	}
}

func TestSamplerHonoursRatio(t *testing.T) {
	if got := (Config{}).Sampler().Description(); got != sdktrace.ParentBased(sdktrace.AlwaysSample()).Description() {
		t.Errorf("Expected always-on parent-based sampler, got %s", got)
	}
	half := Config{SampleRatio: 0.5}.Sampler().Description()
	if want := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(0.5)).Description(); half != want {
		t.Errorf("Expected %s, got %s", want, half)
	}
}
