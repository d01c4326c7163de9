// Package server provides rebacd's HTTP wire front-end: a bearer-token
// authenticated JSON RPC surface over the relation graph engine in
// pkg/graph.
//
// Request decoding, bearer-token validation, and per-RPC argument
// validation all happen here, never inside pkg/graph itself. The
// self-hosted "who may grant on this object" policy is delegated to
// pkg/auth.Authorizer, which answers it with a graph Check rather than
// a separate ACL table.
//
// Example Usage:
//
//	g := graph.New()
//	authCfg := auth.DefaultAuthConfig()
//	authCfg.JWTSecret = []byte(os.Getenv("REBACD_JWT_SECRET"))
//	authenticator, _ := auth.NewAuthenticator(authCfg)
//	authorizer := auth.NewAuthorizer(g)
//	ledger, _ := audit.NewLedger(audit.Config{Enabled: false})
//
//	srv, err := server.New(g, authenticator, authorizer, ledger, server.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := srv.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer srv.Stop(context.Background())
//
// Endpoints:
//
//	POST /v1/grant    - insert a relation tuple
//	POST /v1/revoke   - remove a relation tuple
//	POST /v1/exists   - direct Has() lookup
//	POST /v1/check    - transitive Check() query
//	POST /v1/expand   - reverse Expand() enumeration
//	GET  /v1/snapshot - current textual snapshot
//	POST /auth/token  - bearer token issuance (OAuth2 password grant)
//	GET  /health       - liveness probe
//	GET  /status       - runtime metrics
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relationcore/rebacd/pkg/audit"
	"github.com/relationcore/rebacd/pkg/auth"
	"github.com/relationcore/rebacd/pkg/graph"
)

// Errors for HTTP operations.
var (
	ErrServerClosed     = fmt.Errorf("server closed")
	ErrBadRequest       = fmt.Errorf("bad request")
	ErrMethodNotAllowed = fmt.Errorf("method not allowed")
	ErrInternalError    = fmt.Errorf("internal server error")
)

// Config holds HTTP server configuration options. All settings have
// sensible defaults via DefaultConfig().
type Config struct {
	// Address to bind to (default: "0.0.0.0").
	Address string
	// Port to listen on (default: 8080).
	Port int
	// ReadTimeout for requests.
	ReadTimeout time.Duration
	// WriteTimeout for responses.
	WriteTimeout time.Duration
	// IdleTimeout for keep-alive connections.
	IdleTimeout time.Duration
	// MaxRequestSize in bytes (default: 1MB; RPC bodies are tiny).
	MaxRequestSize int64
	// EnableCORS for cross-origin requests.
	EnableCORS bool
	// CORSOrigins allowed (default: "*").
	CORSOrigins []string
	// DefaultCheckLimit is applied to /v1/check when the request body
	// does not supply a limit explicitly. 0 means unlimited.
	DefaultCheckLimit int
}

// DefaultConfig returns sane defaults for local development.
func DefaultConfig() *Config {
	return &Config{
		Address:        "0.0.0.0",
		Port:           8080,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxRequestSize: 1 * 1024 * 1024,
		EnableCORS:     true,
		CORSOrigins:    []string{"*"},
	}
}

// Server is the HTTP RPC server fronting a RelationGraph. It is
// thread-safe and handles concurrent requests; every mutating RPC is
// itself serialized by the graph's own store lock (see pkg/graph), so
// the server adds no locking of its own around graph calls.
//
// Lifecycle:
//  1. Create with New().
//  2. Start with Start().
//  3. Stop with Stop() for graceful shutdown.
type Server struct {
	config *Config
	graph  *graph.RelationGraph
	auth   *auth.Authenticator
	authz  *auth.Authorizer
	audit  *audit.Ledger

	// snapshotTrigger is signaled after every successful grant/revoke so
	// a debounced background writer (see cmd/rebacd) can coalesce bursts
	// of mutations into one snapshot write, rather than writing on every
	// single call.
	snapshotTrigger chan struct{}

	httpServer *http.Server
	listener   net.Listener

	mu      sync.RWMutex
	closed  atomic.Bool
	started time.Time

	requestCount   atomic.Int64
	errorCount     atomic.Int64
	activeRequests atomic.Int64
}

// New creates a server fronting g, authenticated via authenticator and
// authorized via authz. ledger may be a disabled Ledger (see
// audit.Config.Enabled) if auditing is turned off.
func New(g *graph.RelationGraph, authenticator *auth.Authenticator, authz *auth.Authorizer, ledger *audit.Ledger, config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if g == nil {
		return nil, fmt.Errorf("server: graph is required")
	}
	return &Server{
		config:          config,
		graph:           g,
		auth:            authenticator,
		authz:           authz,
		audit:           ledger,
		snapshotTrigger: make(chan struct{}, 1),
	}, nil
}

// SnapshotTrigger returns the channel signaled after every successful
// grant/revoke. The channel is buffered to depth 1: a burst of
// mutations between two drains collapses to a single pending signal.
func (s *Server) SnapshotTrigger() <-chan struct{} {
	return s.snapshotTrigger
}

func (s *Server) notifySnapshot() {
	select {
	case s.snapshotTrigger <- struct{}{}:
	default:
	}
}

// Start begins listening and serving requests in the background.
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrServerClosed
	}

	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("server: listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.started = time.Now()

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			fmt.Printf("server: http serve error: %v\n", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down, waiting for in-flight requests
// to finish or ctx to expire.
func (s *Server) Stop(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Handler returns the fully wrapped http.Handler (router plus
// middleware chain) without binding a listener. Start uses this
// internally; it is also exported so tests can drive the RPC surface
// with httptest.NewServer without a real TCP listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// Addr returns the server's bound listen address, or "" if not started.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ServerStats holds runtime metrics.
type ServerStats struct {
	Uptime         time.Duration `json:"uptime"`
	RequestCount   int64         `json:"request_count"`
	ErrorCount     int64         `json:"error_count"`
	ActiveRequests int64         `json:"active_requests"`
	VertexCount    int           `json:"vertex_count"`
}

// Stats returns current server runtime statistics.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		Uptime:         time.Since(s.started),
		RequestCount:   s.requestCount.Load(),
		ErrorCount:     s.errorCount.Load(),
		ActiveRequests: s.activeRequests.Load(),
		VertexCount:    s.graph.VertexCount(),
	}
}

func (s *Server) buildRouter() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)

	mux.HandleFunc("/auth/token", s.handleToken)

	mux.HandleFunc("/v1/grant", s.withWriteAuth(s.handleGrant))
	mux.HandleFunc("/v1/revoke", s.withWriteAuth(s.handleRevoke))
	mux.HandleFunc("/v1/exists", s.withAuth(s.handleExists))
	mux.HandleFunc("/v1/check", s.withAuth(s.handleCheck))
	mux.HandleFunc("/v1/expand", s.withWriteAuth(s.handleExpand))
	mux.HandleFunc("/v1/snapshot", s.withAuth(s.handleSnapshot))

	handler := s.corsMiddleware(mux)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)
	handler = s.metricsMiddleware(handler)
	return handler
}

// contextKey avoids collisions with other packages' context keys.
type contextKey int

const contextKeyPrincipal contextKey = iota

func principalFromContext(r *http.Request) (principal, bool) {
	p, ok := r.Context().Value(contextKeyPrincipal).(principal)
	if !ok {
		return principal{}, false
	}
	return p, true
}

type principal struct {
	object graph.Object
	admin  bool
}

// withAuth requires a valid bearer token (unless the authenticator has
// security disabled, e.g. for local development) and attaches the
// resolved principal to the request context.
func (s *Server) withAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil || !s.auth.IsSecurityEnabled() {
			handler(w, r)
			return
		}

		token := auth.ExtractToken(r.Header.Get("Authorization"), r.URL.Query().Get("token"))
		if token == "" {
			s.writeError(w, http.StatusUnauthorized, "no bearer token provided", nil)
			return
		}
		claims, err := s.auth.ValidateToken(token)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error(), err)
			return
		}
		obj, err := graph.NewObject("user", claims.Sub)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "invalid token subject", err)
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyPrincipal, principal{object: obj, admin: claims.Admin})
		handler(w, r.WithContext(ctx))
	}
}

// withWriteAuth wraps withAuth with the "who may grant" policy: the
// caller must either be the bootstrap operator account or
// hold the well-known "write" relation on the destination object,
// decided by pkg/auth.Authorizer.CanWrite (itself a graph Check).
func (s *Server) withWriteAuth(handler http.HandlerFunc) http.HandlerFunc {
	return s.withAuth(func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil || !s.auth.IsSecurityEnabled() {
			handler(w, r)
			return
		}

		p, ok := principalFromContext(r)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "no principal", nil)
			return
		}
		if p.admin {
			handler(w, r)
			return
		}

		var peek struct {
			Destination identifierJSON `json:"destination"`
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body", ErrBadRequest)
			return
		}
		r.Body = io.NopCloser(strings.NewReader(string(body)))
		if err := json.Unmarshal(body, &peek); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid request body", ErrBadRequest)
			return
		}

		if s.authz == nil || !s.authz.CanWrite(p.object, peek.Destination.Namespace, peek.Destination.ID) {
			if s.audit != nil {
				s.audit.Log(audit.Event{Type: audit.EventDenied, Principal: p.object.String(), Success: false, Reason: "missing write relation"})
			}
			s.writeError(w, http.StatusForbidden, "principal may not write to this object", auth.ErrForbidden)
			return
		}
		handler(w, r)
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.EnableCORS {
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = "*"
			}
			for _, o := range s.config.CORSOrigins {
				if o == "*" || o == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
					w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
					break
				}
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		if r.URL.Path != "/health" {
			fmt.Printf("[rebacd] %s %s %d %v\n", r.Method, r.URL.Path, wrapped.status, time.Since(start))
		}
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				fmt.Printf("[rebacd] PANIC: %v\n%s\n", err, buf[:n])
				s.errorCount.Add(1)
				s.writeError(w, http.StatusInternalServerError, "internal server error", ErrInternalError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestCount.Add(1)
		s.activeRequests.Add(1)
		defer s.activeRequests.Add(-1)
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
// for logging.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (s *Server) readJSON(r *http.Request, v interface{}) error {
	body := io.LimitReader(r.Body, s.config.MaxRequestSize)
	return json.NewDecoder(body).Decode(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string, _ error) {
	s.errorCount.Add(1)
	s.writeJSON(w, status, map[string]interface{}{
		"error":   true,
		"message": message,
		"code":    status,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.Stats())
}

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "POST required", ErrMethodNotAllowed)
		return
	}
	if s.auth == nil {
		s.writeError(w, http.StatusServiceUnavailable, "authentication not configured", nil)
		return
	}

	var req struct {
		Username  string `json:"username"`
		Password  string `json:"password"`
		GrantType string `json:"grant_type"`
	}
	if err := s.readJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body", ErrBadRequest)
		return
	}
	if req.GrantType != "" && req.GrantType != "password" {
		s.writeError(w, http.StatusBadRequest, "unsupported grant_type", ErrBadRequest)
		return
	}

	resp, _, err := s.auth.Authenticate(req.Username, req.Password)
	if err != nil {
		status := http.StatusUnauthorized
		if err == auth.ErrAccountLocked {
			status = http.StatusTooManyRequests
		}
		if s.audit != nil {
			s.audit.Log(audit.Event{Type: audit.EventLogin, Principal: req.Username, Success: false, Reason: err.Error()})
		}
		s.writeError(w, status, err.Error(), err)
		return
	}
	if s.audit != nil {
		s.audit.Log(audit.Event{Type: audit.EventLogin, Principal: req.Username, Success: true})
	}
	s.writeJSON(w, http.StatusOK, resp)
}
