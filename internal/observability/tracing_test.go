package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/pitabwire/copydesk/internal/config"
	"github.com/pitabwire/copydesk/model"
)

// setupTestTracer installs an always-sampling provider that records into
// memory for the duration of the test.
func setupTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
	})
	return exporter
}

func TestInitTracing(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.TracingConfig
		wantErr bool
	}{
		{"disabled", config.TracingConfig{Enabled: false}, false},
		{"stdout", config.TracingConfig{Enabled: true, Exporter: "stdout", SamplingRate: 1}, false},
		{"unsupported exporter", config.TracingConfig{Enabled: true, Exporter: "zipkin"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			shutdown, err := InitTracing(context.Background(), tt.cfg, "copydesk", "0.4.0")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("InitTracing() error = %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Errorf("shutdown() error = %v", err)
			}
		})
	}
}

func TestNewSampler(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want string
	}{
		{"default rate", 0, "TraceIDRatioBased{0.1}"},
		{"ratio", 0.5, "TraceIDRatioBased{0.5}"},
		{"always", 1, "AlwaysOnSampler"},
		{"clamped", 2, "AlwaysOnSampler"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc := newSampler(config.TracingConfig{SamplingRate: tt.rate}).Description()
			if !strings.Contains(desc, tt.want) {
				t.Errorf("Description() = %q, want it to mention %q", desc, tt.want)
			}
			if !strings.HasPrefix(desc, "ParentBased") {
				t.Errorf("Description() = %q, want a parent based sampler", desc)
			}
		})
	}
}

func TestStartSpan_workflowAttributes(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, span := StartSpan(context.Background(), "workflow.create",
		AttrWorkflowID.String("wf-1"),
		AttrStyleID.String("AB12"),
	)
	if trace.SpanFromContext(ctx) != span {
		t.Error("context should carry the created span")
	}
	if got := TraceIDFromContext(ctx); got != span.SpanContext().TraceID().String() {
		t.Errorf("TraceIDFromContext = %q, want the span's trace id", got)
	}
	span.End()

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	attrs := spanAttrMap(spans[0])
	if attrs["copydesk.workflow_id"] != "wf-1" {
		t.Errorf("copydesk.workflow_id = %q, want wf-1", attrs["copydesk.workflow_id"])
	}
	if attrs["copydesk.style_id"] != "AB12" {
		t.Errorf("copydesk.style_id = %q, want AB12", attrs["copydesk.style_id"])
	}
}

func TestTraceIDFromContext_noSpan(t *testing.T) {
	if got := TraceIDFromContext(context.Background()); got != "" {
		t.Errorf("TraceIDFromContext without span = %q, want empty", got)
	}
}

func TestEndSpanWithError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode codes.Code
		wantDesc string
	}{
		{"success", nil, codes.Unset, ""},
		{"duplicate style", model.NewDuplicateStyleError("AB12"), codes.Error, model.NewDuplicateStyleError("AB12").Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter := setupTestTracer(t)

			_, span := StartSpan(context.Background(), "workflow.create")
			EndSpanWithError(span, tt.err)

			spans := exporter.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			s := spans[0]
			if s.Status.Code != tt.wantCode {
				t.Errorf("status code = %v, want %v", s.Status.Code, tt.wantCode)
			}
			if s.Status.Description != tt.wantDesc {
				t.Errorf("status description = %q, want %q", s.Status.Description, tt.wantDesc)
			}
			if tt.err != nil && len(s.Events) == 0 {
				t.Error("expected the error to be recorded as an event")
			}
		})
	}
}

// workflowRouter mounts handlers on the same nested layout the API uses.
func workflowRouter(status int) http.Handler {
	reply := func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(status) }

	r := chi.NewRouter()
	r.Use(TracingMiddleware)
	r.Get("/health", reply)
	r.Route("/workflows", func(r chi.Router) {
		r.Post("/", reply)
		r.Post("/search", reply)
		r.Route("/{id}", func(r chi.Router) {
			r.Patch("/", reply)
			r.Get("/history", reply)
		})
	})
	return r
}

func TestTracingMiddleware_routeSpans(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		path      string
		status    int
		wantName  string
		wantRoute string
		wantError bool
	}{
		{"create", http.MethodPost, "/workflows", http.StatusCreated, "POST /workflows", "/workflows", false},
		{"search", http.MethodPost, "/workflows/search", http.StatusOK, "POST /workflows/search", "/workflows/search", false},
		{"update", http.MethodPatch, "/workflows/7c4e", http.StatusOK, "PATCH /workflows/{id}", "/workflows/{id}", false},
		{"history", http.MethodGet, "/workflows/7c4e/history", http.StatusOK, "GET /workflows/{id}/history", "/workflows/{id}/history", false},
		{"store failure", http.MethodPatch, "/workflows/7c4e", http.StatusInternalServerError, "PATCH /workflows/{id}", "/workflows/{id}", true},
		{"health", http.MethodGet, "/health", http.StatusOK, "GET /health", "/health", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exporter := setupTestTracer(t)

			rec := httptest.NewRecorder()
			workflowRouter(tt.status).ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))

			spans := exporter.GetSpans()
			if len(spans) != 1 {
				t.Fatalf("expected 1 span, got %d", len(spans))
			}
			s := spans[0]
			if s.Name != tt.wantName {
				t.Errorf("span name = %q, want %q", s.Name, tt.wantName)
			}
			if s.SpanKind != trace.SpanKindServer {
				t.Errorf("span kind = %v, want Server", s.SpanKind)
			}
			attrs := spanAttrMap(s)
			if attrs["http.route"] != tt.wantRoute {
				t.Errorf("http.route = %q, want %q", attrs["http.route"], tt.wantRoute)
			}
			if attrs["url.path"] != tt.path {
				t.Errorf("url.path = %q, want %q", attrs["url.path"], tt.path)
			}
			if attrs["http.request.method"] != tt.method {
				t.Errorf("http.request.method = %q, want %q", attrs["http.request.method"], tt.method)
			}
			if (s.Status.Code == codes.Error) != tt.wantError {
				t.Errorf("status code = %v, want error = %v", s.Status.Code, tt.wantError)
			}
			if rec.Header().Get("Traceparent") == "" {
				t.Error("response should carry a Traceparent header")
			}
		})
	}
}

func TestTracingMiddleware_unroutedKeepsPath(t *testing.T) {
	exporter := setupTestTracer(t)

	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/workflows/counts", nil))

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name != "GET /workflows/counts" {
		t.Errorf("span name = %q, want GET /workflows/counts", spans[0].Name)
	}
	if _, ok := spanAttrMap(spans[0])["http.route"]; ok {
		t.Error("http.route should be absent without a chi router")
	}
}

func TestTracingMiddleware_continuesCallerTrace(t *testing.T) {
	exporter := setupTestTracer(t)

	traceID := "0af7651916cd43dd8448eb211c80319c"
	parentSpanID := "b7ad6b7169203331"

	var handlerTraceID string
	handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerTraceID = TraceIDFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/workflows/search", nil)
	req.Header.Set("Traceparent", "00-"+traceID+"-"+parentSpanID+"-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	spans := exporter.GetSpans()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if got := spans[0].SpanContext.TraceID().String(); got != traceID {
		t.Errorf("trace ID = %q, want %q", got, traceID)
	}
	if got := spans[0].Parent.SpanID().String(); got != parentSpanID {
		t.Errorf("parent span ID = %q, want %q", got, parentSpanID)
	}
	if handlerTraceID != traceID {
		t.Errorf("handler saw trace ID %q, want %q", handlerTraceID, traceID)
	}
}

func TestInjectTraceHeaders_catalogCall(t *testing.T) {
	setupTestTracer(t)

	ctx, span := StartSpan(context.Background(), "catalog.lookup", AttrStyleID.String("AB12"))
	defer span.End()

	headers := http.Header{}
	InjectTraceHeaders(ctx, headers)

	tp := headers.Get("Traceparent")
	if !strings.Contains(tp, span.SpanContext().TraceID().String()) {
		t.Errorf("Traceparent = %q, want it to carry trace %s", tp, span.SpanContext().TraceID())
	}
}

func TestSpanHierarchy_update(t *testing.T) {
	exporter := setupTestTracer(t)

	ctx, upd := StartSpan(context.Background(), "workflow.update", AttrWorkflowID.String("wf-1"))
	_, tr := StartSpan(ctx, "workflow.transition",
		AttrStatus.String("ASSIGNED_TO_WRITER"),
		AttrNextStatus.String("WRITING_IN_PROGRESS"),
	)
	tr.End()
	_, audit := StartSpan(ctx, "workflow.audit", AttrAuditType.String("ASSIGNMENTS"))
	audit.End()
	upd.End()

	spans := exporter.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("expected 3 spans, got %d", len(spans))
	}
	root := spans[2]
	if root.Name != "workflow.update" {
		t.Fatalf("last ended span = %q, want workflow.update", root.Name)
	}
	for _, s := range spans[:2] {
		if s.Parent.SpanID() != root.SpanContext.SpanID() {
			t.Errorf("span %q is not a child of workflow.update", s.Name)
		}
		if s.SpanContext.TraceID() != root.SpanContext.TraceID() {
			t.Errorf("span %q left the update trace", s.Name)
		}
	}
	if v := spanAttrMap(spans[0])["copydesk.next_status"]; v != "WRITING_IN_PROGRESS" {
		t.Errorf("copydesk.next_status = %q", v)
	}
}

// spanAttrMap converts a span's attributes to a map[string]string for easier assertion.
func spanAttrMap(s tracetest.SpanStub) map[string]string {
	m := make(map[string]string)
	for _, a := range s.Attributes {
		m[string(a.Key)] = a.Value.Emit()
	}
	return m
}
