package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, rec *Recorder) string {
	t.Helper()
	w := httptest.NewRecorder()
	rec.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	return w.Body.String()
}

func TestMiddlewareRecordsStatus(t *testing.T) {
	rec := NewRecorder()
	ok := rec.Middleware("GET /ok", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "fine")
	}))
	boom := rec.Middleware("GET /boom", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	for i := 0; i < 2; i++ {
		ok.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ok", nil))
	}
	boom.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))

	body := scrape(t, rec)
	assert.Contains(t, body, `x402_http_requests_total{code="200",handler="GET /ok",method="GET"} 2`)
	assert.Contains(t, body, `x402_http_requests_total{code="502",handler="GET /boom",method="GET"} 1`)
	assert.Contains(t, body, `x402_http_request_errors_total{handler="GET /boom",method="GET"} 1`)
	assert.NotContains(t, body, `x402_http_request_errors_total{handler="GET /ok"`)
}

func TestHandlerExposesHistogram(t *testing.T) {
	rec := NewRecorder()
	rec.ObserveHTTPRequest("GET /api/v1/agents", http.MethodGet, http.StatusOK, 0)

	body := scrape(t, rec)
	assert.Contains(t, body, `x402_http_request_duration_seconds_count{handler="GET /api/v1/agents",method="GET"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
