package api

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"x402-Dashboard/internal/activity"
	"x402-Dashboard/internal/agents"
	"x402-Dashboard/internal/auth"
	"x402-Dashboard/internal/backend"
	"x402-Dashboard/internal/config"
	"x402-Dashboard/internal/market"
	"x402-Dashboard/internal/observability/alerting"
	"x402-Dashboard/internal/querycache"
	"x402-Dashboard/internal/transactions"
	"x402-Dashboard/internal/wallet"
	"x402-Dashboard/internal/web3"
	"x402-Dashboard/internal/web3/web3test"
)

const testKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"

type fakeBackend struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeBackend) handler() http.Handler {
	mux := http.NewServeMux()
	record := func(r *http.Request) {
		f.mu.Lock()
		f.calls = append(f.calls, r.Method+" "+r.URL.Path)
		f.mu.Unlock()
	}
	mux.HandleFunc("GET /api/v1/users/{address}/agents", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, http.StatusOK, []backend.Agent{{
			ID: "a1", Name: "Alpha", ContractAddress: "0x00000000000000000000000000000000000000c0",
			Balance: "5", Status: config.AgentStatusActive,
		}})
	})
	mux.HandleFunc("GET /api/v1/market/services", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		all := []backend.Service{
			{ID: "1", Name: "Alpha Trend", Description: "momentum", ServiceType: config.ServiceTypeStrategy},
			{ID: "2", Name: "Beta", Description: "mean reversion", ServiceType: config.ServiceTypeStrategy},
			{ID: "3", Name: "Alpha Guard", Description: "stops", ServiceType: config.ServiceTypeRiskControl},
		}
		out := make([]backend.Service, 0, len(all))
		for _, svc := range all {
			if t := r.URL.Query().Get("service_type"); t == "" || string(svc.ServiceType) == t {
				out = append(out, svc)
			}
		}
		writeJSON(w, http.StatusOK, out)
	})
	mux.HandleFunc("GET /api/v1/market/services/{id}", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Service not found"})
	})
	return mux
}

func (f *fakeBackend) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

type captureAlerts struct {
	mu     sync.Mutex
	events []alerting.Event
}

func (c *captureAlerts) Notify(_ context.Context, event alerting.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

type testServer struct {
	http    *httptest.Server
	backend *fakeBackend
	alerts  *captureAlerts
}

func newTestServer(t *testing.T, tweak ...func(*Services)) *testServer {
	t.Helper()

	fb := &fakeBackend{}
	upstream := httptest.NewServer(fb.handler())
	t.Cleanup(upstream.Close)

	client, err := backend.NewClient(upstream.URL+"/api/v1", nil)
	if err != nil {
		t.Fatalf("backend client: %v", err)
	}

	chain := web3test.NewChain(config.MonadTestnetChainID)
	provider, err := wallet.NewKeyProvider(testKey, chain, wallet.AutoApprove())
	if err != nil {
		t.Fatalf("key provider: %v", err)
	}
	session := wallet.NewSession(provider, chain, web3.ChainDescriptor{ID: big.NewInt(config.MonadTestnetChainID), Name: "Monad Testnet"})

	journal, err := activity.NewMemoryJournal(t.TempDir())
	if err != nil {
		t.Fatalf("journal: %v", err)
	}

	cache := querycache.New(querycache.NewMemoryStore(), time.Minute)
	alerts := &captureAlerts{}
	svc := Services{
		Session:      session,
		Agents:       agents.NewService(session, client, cache, agents.Options{Journal: journal}),
		Market:       market.NewService(client, cache),
		Transactions: transactions.NewService(session, cache),
		Journal:      journal,
		Contracts:    config.ContractsConfig{Agent: "0x00000000000000000000000000000000000000aa"},
		Alerts:       alerts,
	}
	for _, fn := range tweak {
		fn(&svc)
	}
	server := NewServer(":0", svc)

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return &testServer{http: ts, backend: fb, alerts: alerts}
}

func (ts *testServer) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.http.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

func decodeError(t *testing.T, data []byte) errorBody {
	t.Helper()
	var env errorEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode error body %q: %v", data, err)
	}
	return env.Error
}

func TestHealthzSetsRequestID(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodGet, "/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Fatalf("expected %s header", RequestIDHeader)
	}
}

func TestDisconnectedPagesFailWithoutBackendCalls(t *testing.T) {
	ts := newTestServer(t)

	for _, path := range []string{"/api/v1/agents", "/api/v1/transactions", "/api/v1/activity"} {
		resp, data := ts.do(t, http.MethodGet, path, "")
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, resp.StatusCode)
		}
		body := decodeError(t, data)
		if body.Code != "WALLET_DISCONNECTED" || !body.Alert {
			t.Fatalf("%s: unexpected error body %+v", path, body)
		}
	}
	if n := ts.backend.count("GET /api/v1/users/"); n != 0 {
		t.Fatalf("expected no backend calls, got %d", n)
	}
}

func TestConnectThenListAgents(t *testing.T) {
	ts := newTestServer(t)

	resp, data := ts.do(t, http.MethodPost, "/api/v1/session/connect", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("connect: unexpected status %d: %s", resp.StatusCode, data)
	}
	var state wallet.State
	if err := json.Unmarshal(data, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if !state.Connected || state.Address == "" || !state.ProviderDetected {
		t.Fatalf("expected connected state, got %+v", state)
	}

	resp, data = ts.do(t, http.MethodGet, "/api/v1/agents", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("agents: unexpected status %d: %s", resp.StatusCode, data)
	}
	var views []agents.View
	if err := json.Unmarshal(data, &views); err != nil {
		t.Fatalf("decode agents: %v", err)
	}
	if len(views) != 1 || views[0].Name != "Alpha" || views[0].DisplayBalance != "5" {
		t.Fatalf("unexpected agents: %+v", views)
	}

	if _, data = ts.do(t, http.MethodGet, "/api/v1/transactions", ""); strings.TrimSpace(string(data)) != "[]" {
		t.Fatalf("expected empty transactions, got %s", data)
	}
	if _, data = ts.do(t, http.MethodGet, "/api/v1/activity", ""); strings.TrimSpace(string(data)) != "[]" {
		t.Fatalf("expected empty activity, got %s", data)
	}

	resp, data = ts.do(t, http.MethodPost, "/api/v1/session/disconnect", "")
	if err := json.Unmarshal(data, &state); err != nil || state.Connected {
		t.Fatalf("expected disconnected state, got %s (%v)", data, err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disconnect: unexpected status %d", resp.StatusCode)
	}
}

func TestCreateWithoutPaymentHandlerAlerts(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/v1/session/connect", "")

	resp, data := ts.do(t, http.MethodPost, "/api/v1/agents", `{"name":"n","payment_token":"0x00000000000000000000000000000000000000b0"}`)
	if resp.StatusCode != http.StatusPreconditionFailed {
		t.Fatalf("expected 412, got %d: %s", resp.StatusCode, data)
	}
	body := decodeError(t, data)
	if body.Code != "MISSING_CONFIGURATION" || body.Metadata["setting"] != "X402_PAYMENT_CONTRACT" {
		t.Fatalf("unexpected error body: %+v", body)
	}

	ts.alerts.mu.Lock()
	defer ts.alerts.mu.Unlock()
	if len(ts.alerts.events) != 1 || ts.alerts.events[0].Route != "POST /api/v1/agents" {
		t.Fatalf("unexpected alerts: %+v", ts.alerts.events)
	}
}

func TestCreateRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t)
	resp, data := ts.do(t, http.MethodPost, "/api/v1/agents", `{"name":`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", resp.StatusCode, data)
	}
}

func TestMarketFilters(t *testing.T) {
	ts := newTestServer(t)

	resp, data := ts.do(t, http.MethodGet, "/api/v1/market/services?service_type=strategy&q=ALPHA", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, data)
	}
	var services []backend.Service
	if err := json.Unmarshal(data, &services); err != nil {
		t.Fatalf("decode services: %v", err)
	}
	if len(services) != 1 || services[0].ID != "1" {
		t.Fatalf("unexpected services: %+v", services)
	}

	resp, data = ts.do(t, http.MethodGet, "/api/v1/market/services?service_type=arbitrage", "")
	if resp.StatusCode != http.StatusBadRequest || decodeError(t, data).Code != "INVALID_ARGUMENT" {
		t.Fatalf("expected INVALID_ARGUMENT, got %d: %s", resp.StatusCode, data)
	}

	resp, data = ts.do(t, http.MethodGet, "/api/v1/market/services/9", "")
	if resp.StatusCode != http.StatusNotFound || decodeError(t, data).Code != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND, got %d: %s", resp.StatusCode, data)
	}
}

func TestHomeSnapshot(t *testing.T) {
	ts := newTestServer(t)

	resp, data := ts.do(t, http.MethodGet, "/api/v1/home", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.StatusCode)
	}
	var home homeResponse
	if err := json.Unmarshal(data, &home); err != nil {
		t.Fatalf("decode home: %v", err)
	}
	if home.Snapshot.ChainID != "0x279f" {
		t.Fatalf("unexpected chain id: %q", home.Snapshot.ChainID)
	}
	if home.Contracts.Agent == "" || len(home.Services) != 4 || home.Wallet.Connected {
		t.Fatalf("unexpected home: %+v", home)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/api/v1/session", "")

	_, data := ts.do(t, http.MethodGet, "/metrics", "")
	if !strings.Contains(string(data), `handler="GET /api/v1/session"`) {
		t.Fatalf("metrics missing session handler:\n%s", data)
	}
}

func TestGuardedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t, func(s *Services) { s.Guard = auth.NewGuard("s3cret") })

	resp, data := ts.do(t, http.MethodPost, "/api/v1/session/connect", "")
	if resp.StatusCode != http.StatusUnauthorized || decodeError(t, data).Code != "UNAUTHORIZED" {
		t.Fatalf("expected UNAUTHORIZED, got %d: %s", resp.StatusCode, data)
	}

	req, _ := http.NewRequest(http.MethodPost, ts.http.URL+"/api/v1/session/connect", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", resp.StatusCode)
	}

	if resp, _ := ts.do(t, http.MethodGet, "/api/v1/session", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("read routes stay open, got %d", resp.StatusCode)
	}
}
