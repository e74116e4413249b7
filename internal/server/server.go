package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	gosync "sync"
	"time"

	"github.com/mxie/chatwrapped/internal/config"
	"github.com/mxie/chatwrapped/internal/index"
	"github.com/mxie/chatwrapped/internal/wrapped"
)

// VersionInfo holds build-time version metadata.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// Server is the HTTP server that serves the wrapped REST API.
type Server struct {
	mu      gosync.RWMutex
	cfg     config.Config
	mgr     *index.Manager
	set     wrapped.Settings
	mux     *http.ServeMux
	httpSrv *http.Server
	version VersionInfo
}

// New creates a new Server.
func New(cfg config.Config, mgr *index.Manager, opts ...Option) *Server {
	s := &Server{
		cfg: cfg,
		mgr: mgr,
		set: wrapped.DefaultSettings(),
		mux: http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the build-time version metadata.
func WithVersion(v VersionInfo) Option {
	return func(s *Server) { s.version = v }
}

// WithSettings overrides the scoring policy, for tests.
func WithSettings(set wrapped.Settings) Option {
	return func(s *Server) { s.set = set }
}

func (s *Server) routes() {
	s.mux.Handle(
		"GET /api/v1/wrapped/best-friends",
		s.withTimeout(s.handleBestFriends),
	)
	s.mux.Handle(
		"GET /api/v1/index/status", s.withTimeout(s.handleIndexStatus),
	)
	s.mux.HandleFunc(
		"POST /api/v1/index/rebuild", s.handleIndexRebuild,
	)
	// SSE: Do not use timeout, as this is a long-lived connection.
	s.mux.HandleFunc(
		"GET /api/v1/index/watch", s.handleIndexWatch,
	)
	s.mux.Handle(
		"GET /api/v1/accounts", s.withTimeout(s.handleListAccounts),
	)
	s.mux.Handle(
		"GET /api/v1/accounts/{account}/avatars/{username}",
		s.withTimeout(s.handleAvatar),
	)
	s.mux.Handle(
		"GET /api/v1/version", s.withTimeout(s.handleGetVersion),
	)
}

func (s *Server) handleGetVersion(
	w http.ResponseWriter, _ *http.Request,
) {
	writeJSON(w, http.StatusOK, s.version)
}

// SetPort updates the listen port (for testing).
func (s *Server) SetPort(port int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Port = port
}

// Handler returns the http.Handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return corsMiddleware(logMiddleware(s.mux))
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 120 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.mu.Unlock()
	log.Printf("Starting server at http://%s", addr)
	return srv.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.httpSrv
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// FindAvailablePort finds an available port starting from the
// given port, binding to the specified host.
func FindAvailablePort(host string, start int) int {
	for port := start; port < start+100; port++ {
		addr := net.JoinHostPort(host, strconv.Itoa(port))
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			ln.Close()
			return port
		}
	}
	return start
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set(
				"Access-Control-Allow-Origin", "*",
			)
			w.Header().Set(
				"Access-Control-Allow-Methods",
				"GET, POST, OPTIONS",
			)
			w.Header().Set(
				"Access-Control-Allow-Headers",
				"Content-Type",
			)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") {
			log.Printf("%s %s", r.Method, r.URL.Path)
		}
		next.ServeHTTP(w, r)
	})
}
