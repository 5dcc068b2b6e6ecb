package httpapi

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/recoverydesk/voiceagent/internal/metrics"
)

func get(handler http.Handler, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthAndReadiness(t *testing.T) {
	m := newTestManager(t)
	streams := NewStreamRegistry()
	handler := newTestRouter(t, RouterConfig{}, Deps{Sessions: m, Streams: streams})

	if rec := get(handler, "/healthz"); rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Errorf("healthz = %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(handler, "/readyz"); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d, want 200", rec.Code)
	}

	streams.StartDraining()
	if rec := get(handler, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz while streams drain = %d, want 503", rec.Code)
	}
	if rec := get(handler, "/healthz"); rec.Code != http.StatusOK {
		t.Errorf("healthz while draining = %d, want 200", rec.Code)
	}
}

func TestReadinessFollowsSessionDraining(t *testing.T) {
	m := newTestManager(t)
	handler := newTestRouter(t, RouterConfig{}, Deps{Sessions: m})

	m.StartDraining()
	if rec := get(handler, "/readyz"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", rec.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	if rec := get(newTestRouter(t, RouterConfig{}, Deps{}), "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("metrics without a registry = %d, want 404", rec.Code)
	}

	mt := metrics.NewMetrics()
	mt.ActiveSessions.Set(2)
	rec := get(newTestRouter(t, RouterConfig{}, Deps{Metrics: mt}), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics = %d, want 200", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "recovery_active_sessions 2") {
		t.Errorf("metrics body missing active sessions gauge")
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := newTestRouter(t, RouterConfig{}, Deps{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/sessions", nil))

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); !strings.Contains(got, "DELETE") {
		t.Errorf("allowed methods = %q", got)
	}
}

func TestPanicsAreRecovered(t *testing.T) {
	handler := withSentryRecovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := get(handler, "/")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}
