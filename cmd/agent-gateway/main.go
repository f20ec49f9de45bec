// Gateway serving the HTTP routes a session client needs: minting
// participant access tokens and proxying the upstream agent session API.
// Features: optional OIDC caller verification, CORS, and Prometheus metrics.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	oidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mertkarav/agentroom/metrics"
	"github.com/mertkarav/agentroom/token"
)

// ConnectionDetailsResponse is the body of POST /api/connection-details.
type ConnectionDetailsResponse struct {
	ServerURL        string `json:"server_url"`
	RoomName         string `json:"room_name"`
	ParticipantToken string `json:"participant_token"`
	ParticipantName  string `json:"participant_name"`
}

type server struct {
	cfg      *Config
	tokenTTL time.Duration
	metrics  *metrics.Metrics

	// OIDC state
	verifier *oidc.IDTokenVerifier
	jwks     *keyfunc.JWKS
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file (env vars fill gaps)")
	flag.Parse()

	cfg, err := Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ttl, err := time.ParseDuration(cfg.Platform.TokenTTL)
	if err != nil {
		log.Fatalf("invalid token_ttl %q: %v", cfg.Platform.TokenTTL, err)
	}

	s := &server{cfg: cfg, tokenTTL: ttl, metrics: metrics.New()}

	// OIDC setup
	if iss := cfg.OIDC.Issuer; iss != "" {
		prov, err := oidc.NewProvider(context.Background(), iss)
		if err != nil {
			log.Fatalf("oidc provider: %v", err)
		}

		if cfg.OIDC.TokenType == "id" {
			s.verifier = prov.Verifier(&oidc.Config{ClientID: cfg.OIDC.Audience})
			log.Println("OIDC (ID token) enabled", iss, "aud", cfg.OIDC.Audience)
		} else {
			// Access token: load JWKS from discovery
			var disc struct {
				JWKSURI string `json:"jwks_uri"`
			}
			if err := prov.Claims(&disc); err != nil || disc.JWKSURI == "" {
				log.Fatalf("failed to discover jwks_uri: %v", err)
			}
			jwks, err := keyfunc.Get(disc.JWKSURI, keyfunc.Options{
				RefreshInterval: time.Hour,
				RefreshTimeout:  10 * time.Second,
			})
			if err != nil {
				log.Fatalf("jwks: %v", err)
			}
			s.jwks = jwks
			log.Println("OIDC (access token) enabled", iss, "aud", cfg.OIDC.Audience)
		}
	} else {
		log.Println("OIDC disabled")
	}

	if len(cfg.Gateway.AllowedOrigins) > 0 {
		log.Println("CORS allowed origins:", cfg.Gateway.AllowedOrigins)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/connection-details",
		s.instrument("connection-details", s.cors(s.auth(http.HandlerFunc(s.handleConnectionDetails)))))
	mux.Handle("/api/session",
		s.instrument("session", s.cors(s.auth(http.HandlerFunc(s.handleSession)))))
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		if _, err := w.Write([]byte("ok")); err != nil {
			log.Printf("Failed to write health check response: %v", err)
		}
	})

	log.Println("agent-gateway on", cfg.Gateway.Addr)
	log.Fatal(http.ListenAndServe(cfg.Gateway.Addr, mux))
}

// handleConnectionDetails mints a participant token for a fresh room and
// returns everything the client needs to join.
func (s *server) handleConnectionDetails(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RoomName        string `json:"room_name"`
		ParticipantName string `json:"participant_name"`
	}
	if r.Body != nil {
		// Body is optional; ignore decode errors from empty bodies.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	roomName := req.RoomName
	if roomName == "" {
		roomName = fmt.Sprintf("%s-%s", s.cfg.Platform.RoomPrefix, shortID())
	}
	participantName := req.ParticipantName
	if participantName == "" {
		participantName = "user"
	}
	identity := fmt.Sprintf("%s-%s", participantName, shortID())

	signed, err := token.New(s.cfg.Platform.APIKey, s.cfg.Platform.APISecret).
		WithIdentity(identity).
		WithName(participantName).
		WithGrant(token.VideoGrant{
			RoomJoin:             true,
			Room:                 roomName,
			CanPublish:           true,
			CanSubscribe:         true,
			CanPublishData:       true,
			CanUpdateOwnMetadata: true,
		}).
		WithValidity(s.tokenTTL).
		ToJWT()
	if err != nil {
		s.metrics.TokenMintErrors.Inc()
		log.Println("mint error:", err)
		http.Error(w, "mint failed", http.StatusInternalServerError)
		return
	}
	s.metrics.TokensMinted.Inc()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(ConnectionDetailsResponse{
		ServerURL:        s.cfg.Platform.ServerURL,
		RoomName:         roomName,
		ParticipantToken: signed,
		ParticipantName:  participantName,
	}); err != nil {
		log.Printf("Failed to encode connection details response: %v", err)
	}
}

// handleSession proxies the upstream session-creation API, attaching the
// API key and mapping upstream failures to 502.
func (s *server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}

	// Default the agent name when the caller does not choose one.
	if s.cfg.SessionAPI.AgentName != "" {
		var payload map[string]any
		if json.Unmarshal(body, &payload) == nil {
			if _, ok := payload["agent_name"]; !ok {
				payload["agent_name"] = s.cfg.SessionAPI.AgentName
				if b, err := json.Marshal(payload); err == nil {
					body = b
				}
			}
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "POST", s.cfg.SessionAPI.Endpoint, bytes.NewReader(body))
	if err != nil {
		http.Error(w, "proxy failed", http.StatusInternalServerError)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.SessionAPI.APIKey)

	start := time.Now()
	resp, err := http.DefaultClient.Do(req)
	s.metrics.SessionCreateTime.Observe(time.Since(start).Seconds())
	if err != nil {
		s.metrics.SessionCreateErrors.Inc()
		log.Println("session proxy error:", err)
		http.Error(w, "session creation failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		s.metrics.SessionCreateErrors.Inc()
		upstream, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Printf("session API status %d: %s", resp.StatusCode, upstream)
		http.Error(w, "session creation failed", http.StatusBadGateway)
		return
	}
	s.metrics.SessionsCreated.Inc()

	w.Header().Set("Content-Type", "application/json")
	if _, err := io.Copy(w, resp.Body); err != nil {
		log.Printf("Failed to relay session response: %v", err)
	}
}

// Middleware: OIDC auth
func (s *server) auth(next http.Handler) http.Handler {
	if s.cfg.OIDC.Issuer == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authz := r.Header.Get("Authorization")
		if !strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			s.metrics.AuthFailures.Inc()
			http.Error(w, "missing bearer", http.StatusUnauthorized)
			return
		}
		raw := strings.TrimSpace(authz[len("Bearer "):])
		if s.cfg.OIDC.TokenType == "id" {
			if s.verifier == nil {
				http.Error(w, "verifier not initialized", http.StatusInternalServerError)
				return
			}
			if _, err := s.verifier.Verify(r.Context(), raw); err != nil {
				s.metrics.AuthFailures.Inc()
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
		} else {
			if s.jwks == nil {
				http.Error(w, "jwks not initialized", http.StatusInternalServerError)
				return
			}
			tok, err := jwt.Parse(raw, s.jwks.Keyfunc,
				jwt.WithAudience(s.cfg.OIDC.Audience), jwt.WithIssuer(s.cfg.OIDC.Issuer))
			if err != nil || !tok.Valid {
				s.metrics.AuthFailures.Inc()
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Middleware: CORS
func (s *server) cors(next http.Handler) http.Handler {
	allowed := s.cfg.Gateway.AllowedOrigins
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && (len(allowed) == 0 || contains(allowed, origin) || contains(allowed, "*")) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Middleware: request metrics
func (s *server) instrument(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		s.metrics.RequestsInFlight.Inc()
		defer s.metrics.RequestsInFlight.Dec()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.metrics.HTTPRequests.WithLabelValues(route, fmt.Sprintf("%d", sw.code)).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// shortID returns an 8-character room/identity suffix.
func shortID() string {
	return uuid.NewString()[:8]
}

func contains(a []string, v string) bool {
	for _, x := range a {
		if x == v {
			return true
		}
	}
	return false
}
