package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestHTTPMetricsMiddleware_PassesThrough(t *testing.T) {
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/x", nil)
	mw := HTTPMetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(204) }))
	mw.ServeHTTP(rec, r)
	if rec.Result().StatusCode != 204 {
		t.Fatalf("want 204, got %d", rec.Result().StatusCode)
	}
}

func TestHTTPMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	// Mounted inside a chi router the middleware labels by route pattern,
	// not the concrete path, so task ids do not explode label cardinality.
	router := chi.NewRouter()
	router.Use(HTTPMetricsMiddleware)
	router.Get("/task/{task_id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(200) })
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/task/abc123", nil))
	if rec.Result().StatusCode != 200 {
		t.Fatalf("want 200, got %d", rec.Result().StatusCode)
	}
}

func TestTaskMetricsHelpers(t *testing.T) {
	InitMetrics()
	EnqueueTask("twitter", "similar")
	StartProcessingTask("twitter", "similar")
	CompleteTask("twitter", "similar", 42)
	StartProcessingTask("tiktok", "search")
	FailTask("tiktok", "search")
	ObserveUpstream("instagram", "graphql", 200, 120*time.Millisecond)
	ObserveUpstream("instagram", "graphql", 0, time.Second)
	ObserveLimiterWait("twitter:graphql", 5*time.Millisecond)
}
