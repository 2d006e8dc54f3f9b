package observe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const incomingTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

// webhookServer mimics the bridge's mux behind the middleware: a TwiML
// webhook, a failing status callback and a route with a path parameter.
func webhookServer(t *testing.T) (http.Handler, *sdkmetric.ManualReader, *tracetest.InMemoryExporter, *string) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var seenCID string
	mux := http.NewServeMux()
	mux.HandleFunc("POST /voice", func(w http.ResponseWriter, r *http.Request) {
		seenCID = CorrelationID(r.Context())
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte("<Response/>"))
	})
	mux.HandleFunc("POST /status", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	mux.HandleFunc("GET /calls/{sid}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	return Middleware(m)(mux), reader, exp, &seenCID
}

func durationPoints(t *testing.T, reader *sdkmetric.ManualReader) []metricdata.HistogramDataPoint[float64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	h, ok := instrument(t, rm, "telebridge.http.request.duration").(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("http duration is not a histogram")
	}
	return h.DataPoints
}

func TestMiddleware_CorrelationID(t *testing.T) {
	h, _, _, seen := webhookServer(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/voice", nil))
	if len(*seen) != 32 {
		t.Fatalf("correlation id = %q, want a 32-char trace id", *seen)
	}
	if got := rec.Header().Get("X-Correlation-ID"); got != *seen {
		t.Errorf("X-Correlation-ID = %q, want %q", got, *seen)
	}

	req := httptest.NewRequest("POST", "/voice", nil)
	req.Header.Set("traceparent", "00-"+incomingTraceID+"-00f067aa0ba902b7-01")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if *seen != incomingTraceID || rec.Header().Get("X-Correlation-ID") != incomingTraceID {
		t.Errorf("incoming trace not continued: ctx %q, header %q", *seen, rec.Header().Get("X-Correlation-ID"))
	}
}

func TestMiddleware_SpanNamedByRoute(t *testing.T) {
	h, _, exp, _ := webhookServer(t)

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/calls/CA123", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/wp-login.php", nil))

	spans := exp.GetSpans()
	if len(spans) != 2 {
		t.Fatalf("spans = %d, want 2", len(spans))
	}
	if spans[0].Name != "GET /calls/{sid}" {
		t.Errorf("span name = %q, want the route pattern", spans[0].Name)
	}
	var status int64
	for _, a := range spans[0].Attributes {
		if a.Key == "http.response.status_code" {
			status = a.Value.AsInt64()
		}
	}
	if status != http.StatusNotFound {
		t.Errorf("status attribute = %d, want 404", status)
	}
}

func TestMiddleware_DurationByRoute(t *testing.T) {
	h, reader, _, _ := webhookServer(t)

	for _, sid := range []string{"CA1", "CA2", "CA3"} {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/calls/"+sid, nil))
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/status", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/.env", nil))

	want := map[string]uint64{
		"GET /calls/{sid}|404": 3,
		"POST /status|500":     1,
		"unmatched|404":        1,
	}
	points := durationPoints(t, reader)
	if len(points) != len(want) {
		t.Fatalf("data points = %d, want %d", len(points), len(want))
	}
	for _, dp := range points {
		route, _ := dp.Attributes.Value(attribute.Key("route"))
		status, _ := dp.Attributes.Value(attribute.Key("status"))
		key := route.AsString() + "|" + status.AsString()
		if dp.Count != want[key] {
			t.Errorf("%s: count = %d, want %d", key, dp.Count, want[key])
		}
	}
}

func TestMiddleware_AllowsHijack(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, _ := NewMetrics(mp)

	hijacked := make(chan bool, 1)
	served := make(chan struct{}, 2)
	upgrade := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		conn, _, err := http.NewResponseController(w).Hijack()
		if err != nil {
			hijacked <- false
			return
		}
		_, _ = conn.Write([]byte("HTTP/1.1 101 Switching Protocols\r\n\r\n"))
		conn.Close()
		hijacked <- true
	}))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrade.ServeHTTP(w, r)
		served <- struct{}{}
	}))
	defer srv.Close()

	if resp, err := http.Get(srv.URL + "/media-stream"); err == nil {
		resp.Body.Close()
	}
	if !<-hijacked {
		t.Fatal("stream upgrade could not hijack the connection")
	}
	<-served

	points := durationPoints(t, reader)
	if len(points) != 1 {
		t.Fatalf("data points = %d, want 1", len(points))
	}
	if status, _ := points[0].Attributes.Value("status"); status.AsString() != "101" {
		t.Errorf("status = %q, want 101", status.AsString())
	}
}
