package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mertkarav/agentroom/metrics"
	"github.com/mertkarav/agentroom/token"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Prometheus metrics register globally; share one instance across tests.
var (
	testMetrics     *metrics.Metrics
	testMetricsOnce sync.Once
)

func newTestServer(cfg *Config) *server {
	testMetricsOnce.Do(func() { testMetrics = metrics.New() })
	return &server{cfg: cfg, tokenTTL: time.Hour, metrics: testMetrics}
}

func testConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{Addr: ":0"},
		Platform: PlatformConfig{
			ServerURL:  "https://session.example.com",
			APIKey:     "APItest",
			APISecret:  "test-secret",
			RoomPrefix: "assistant",
			TokenTTL:   "1h",
		},
		SessionAPI: SessionAPIConfig{
			Endpoint:  "https://agents.example.com/v1/sessions",
			APIKey:    "upstream-key",
			AgentName: "concierge",
		},
	}
}

func TestHandleConnectionDetails(t *testing.T) {
	s := newTestServer(testConfig())

	req := httptest.NewRequest("POST", "/api/connection-details",
		strings.NewReader(`{"participant_name":"alice"}`))
	w := httptest.NewRecorder()
	s.handleConnectionDetails(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp ConnectionDetailsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if resp.ServerURL != "https://session.example.com" {
		t.Errorf("unexpected server url: %s", resp.ServerURL)
	}
	if !strings.HasPrefix(resp.RoomName, "assistant-") {
		t.Errorf("expected prefixed room name, got %s", resp.RoomName)
	}
	if resp.ParticipantName != "alice" {
		t.Errorf("unexpected participant name: %s", resp.ParticipantName)
	}

	// The minted token must verify and carry a full grant for the room
	claims, err := token.NewVerifier("APItest", "test-secret").Verify(resp.ParticipantToken)
	if err != nil {
		t.Fatalf("minted token does not verify: %v", err)
	}
	if claims.Name != "alice" {
		t.Errorf("unexpected token name: %s", claims.Name)
	}
	if !strings.HasPrefix(claims.Identity, "alice-") {
		t.Errorf("unexpected identity: %s", claims.Identity)
	}
	if !claims.Video.RoomJoin || claims.Video.Room != resp.RoomName {
		t.Errorf("grant not bound to room: %+v", claims.Video)
	}
	if !claims.Video.CanPublish || !claims.Video.CanSubscribe || !claims.Video.CanPublishData {
		t.Errorf("expected full grant, got %+v", claims.Video)
	}
}

func TestHandleConnectionDetails_Defaults(t *testing.T) {
	s := newTestServer(testConfig())

	// Empty body: gateway chooses room and participant names
	req := httptest.NewRequest("POST", "/api/connection-details", nil)
	w := httptest.NewRecorder()
	s.handleConnectionDetails(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp ConnectionDetailsResponse
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.ParticipantName != "user" {
		t.Errorf("expected default participant name, got %s", resp.ParticipantName)
	}
	if resp.RoomName == "" {
		t.Error("expected generated room name")
	}
}

func TestHandleConnectionDetails_MethodNotAllowed(t *testing.T) {
	s := newTestServer(testConfig())
	req := httptest.NewRequest("GET", "/api/connection-details", nil)
	w := httptest.NewRecorder()
	s.handleConnectionDetails(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", w.Code)
	}
}

func TestHandleSession_Proxy(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"session_id":"sess-1","room_name":"assistant-1234"}`))
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.SessionAPI.Endpoint = upstream.URL
	s := newTestServer(cfg)

	req := httptest.NewRequest("POST", "/api/session",
		strings.NewReader(`{"room_name":"assistant-1234"}`))
	w := httptest.NewRecorder()
	s.handleSession(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if gotAuth != "Bearer upstream-key" {
		t.Errorf("upstream auth not attached: %q", gotAuth)
	}
	// The configured agent name is injected when the caller omits it
	if gotBody["agent_name"] != "concierge" {
		t.Errorf("agent name not defaulted: %+v", gotBody)
	}

	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["session_id"] != "sess-1" {
		t.Errorf("upstream response not relayed: %+v", resp)
	}
}

func TestHandleSession_CallerAgentNameWins(t *testing.T) {
	var gotBody map[string]any
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotBody)
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.SessionAPI.Endpoint = upstream.URL
	s := newTestServer(cfg)

	req := httptest.NewRequest("POST", "/api/session",
		strings.NewReader(`{"room_name":"r","agent_name":"navigator"}`))
	w := httptest.NewRecorder()
	s.handleSession(w, req)

	if gotBody["agent_name"] != "navigator" {
		t.Errorf("caller's agent name overridden: %+v", gotBody)
	}
}

func TestHandleSession_UpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "out of capacity", http.StatusServiceUnavailable)
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.SessionAPI.Endpoint = upstream.URL
	s := newTestServer(cfg)

	req := httptest.NewRequest("POST", "/api/session", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	s.handleSession(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for upstream failure, got %d", w.Code)
	}
}

func TestHandleSession_UpstreamUnreachable(t *testing.T) {
	cfg := testConfig()
	cfg.SessionAPI.Endpoint = "http://127.0.0.1:1" // nothing listens here
	s := newTestServer(cfg)

	req := httptest.NewRequest("POST", "/api/session", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	s.handleSession(w, req)

	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502 for unreachable upstream, got %d", w.Code)
	}
}

func TestCORSMiddleware(t *testing.T) {
	cfg := testConfig()
	cfg.Gateway.AllowedOrigins = []string{"https://app.example.com"}
	s := newTestServer(cfg)

	handler := s.cors(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// Preflight from an allowed origin
	req := httptest.NewRequest("OPTIONS", "/api/session", nil)
	req.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Errorf("unexpected allow-origin: %q", got)
	}

	// A disallowed origin gets no CORS headers
	req = httptest.NewRequest("POST", "/api/session", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("expected no allow-origin for disallowed origin, got %q", got)
	}
}

func TestAuthMiddleware_DisabledPassesThrough(t *testing.T) {
	s := newTestServer(testConfig()) // no OIDC issuer configured

	called := false
	handler := s.auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest("POST", "/api/session", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Error("expected passthrough when auth disabled")
	}
}

func TestAuthMiddleware_MissingBearer(t *testing.T) {
	cfg := testConfig()
	cfg.OIDC = OIDCConfig{Issuer: "https://login.example.com", Audience: "gateway", TokenType: "access"}
	s := newTestServer(cfg)

	handler := s.auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without credentials")
	}))

	req := httptest.NewRequest("POST", "/api/session", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestInstrument_TracksInFlightRequests(t *testing.T) {
	s := newTestServer(testConfig())

	entered := make(chan struct{})
	release := make(chan struct{})
	handler := s.instrument("/api/test", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
	}))

	base := testutil.ToFloat64(s.metrics.RequestsInFlight)

	done := make(chan struct{})
	go func() {
		defer close(done)
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/test", nil))
	}()

	<-entered
	if got := testutil.ToFloat64(s.metrics.RequestsInFlight); got != base+1 {
		t.Errorf("expected gauge %v while serving, got %v", base+1, got)
	}

	close(release)
	<-done
	if got := testutil.ToFloat64(s.metrics.RequestsInFlight); got != base {
		t.Errorf("expected gauge back to %v, got %v", base, got)
	}
}

func TestShortID(t *testing.T) {
	a, b := shortID(), shortID()
	if len(a) != 8 || len(b) != 8 {
		t.Errorf("expected 8-char ids, got %q %q", a, b)
	}
	if a == b {
		t.Error("expected distinct ids")
	}
}
