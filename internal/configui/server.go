// Package configui serves the operator configuration endpoints while the
// node is in ConfigMode. Handlers write only to the store; the mode machine
// picks the values up when it reloads on exit.
package configui

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/bike-tacho/internal/config"
	"github.com/banshee-data/bike-tacho/internal/httputil"
	"github.com/banshee-data/bike-tacho/internal/monitoring"
	"github.com/banshee-data/bike-tacho/internal/store"
)

const (
	// DefaultAddr is where the UI listens on the access point.
	DefaultAddr = ":80"

	shutdownTimeout = 5 * time.Second
	changesLimit    = 20
)

// secretMask is what a redacted secret reads as. Posting it back keeps the
// stored value.
const secretMask = "***"

type Server struct {
	store    *store.Store
	defaults *config.BuildDefaults
	addr     string
	admin    []func(*http.ServeMux)

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

func NewServer(s *store.Store, d *config.BuildDefaults, addr string) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Server{store: s, defaults: d, addr: addr}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs method, path, status and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf("configui: [%d] %s %s %.1fms",
			lrw.statusCode, r.Method, r.RequestURI,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// AddAdminRoutes registers extra debug pages, mounted next to the store's
// when debug output is enabled.
func (s *Server) AddAdminRoutes(attach func(*http.ServeMux)) {
	s.admin = append(s.admin, attach)
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/config", s.handleConfig)
	mux.HandleFunc("/api/changes", s.listChanges)
	mux.HandleFunc("/api/exit", s.requestExit)
	return mux
}

// Start listens on the configured address and serves in the background.
// With debug output enabled the store's admin pages are mounted as well.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	mux := s.ServeMux()
	if monitoring.DebugEnabled() {
		if err := s.store.AttachAdminRoutes(mux); err != nil {
			monitoring.Logf("configui: admin routes unavailable: %v", err)
		}
		for _, attach := range s.admin {
			attach(mux)
		}
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("configui: listen %s: %w", s.addr, err)
	}
	srv := &http.Server{
		Handler:           LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.srv, s.ln = srv, ln

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			monitoring.Logf("configui: server error: %v", err)
		}
	}()
	monitoring.Logf("configui: listening on %s", ln.Addr())
	return nil
}

// Stop shuts the server down. Stopping a stopped server is a no-op.
func (s *Server) Stop() error {
	s.mu.Lock()
	srv := s.srv
	s.srv, s.ln = nil, nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("configui: shutdown: %w", err)
	}
	monitoring.Logf("configui: stopped")
	return nil
}

// Addr is the bound address while running, or "".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

type configResponse struct {
	Config  config.DeviceConfig `json:"config"`
	Missing []string            `json:"missing"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.showConfig(w)
	case http.MethodPost:
		s.saveConfig(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) showConfig(w http.ResponseWriter) {
	cfg, _, err := config.Load(s.store, s.defaults)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, configResponse{
		Config:  cfg.Redacted(),
		Missing: nonNil(cfg.MissingCritical(s.defaults)),
	})
}

type saveResponse struct {
	Changed []string `json:"changed"`
	Missing []string `json:"missing"`
}

// saveConfig overwrites every submitted field. Fields left out of the body
// keep their stored value, as do secrets posted back masked or empty.
func (s *Server) saveConfig(w http.ResponseWriter, r *http.Request) {
	cfg, _, err := config.Load(s.store, s.defaults)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	current := cfg

	if err := httputil.DecodeJSONBody(r, &cfg); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	cfg.WiFiPassword = keepSecret(cfg.WiFiPassword, current.WiFiPassword)
	cfg.APIKey = keepSecret(cfg.APIKey, current.APIKey)
	cfg.APPassword = keepSecret(cfg.APPassword, current.APPassword)

	changed, err := config.Save(s.store, cfg, store.SourceUI)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	monitoring.Logf("configui: saved %d field(s)", len(changed))
	httputil.WriteJSONOK(w, saveResponse{
		Changed: nonNil(changed),
		Missing: nonNil(cfg.MissingCritical(s.defaults)),
	})
}

func (s *Server) listChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	limit := changesLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		limit = n
	}
	changes, err := s.store.RecentChanges(limit)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if changes == nil {
		changes = []store.Change{}
	}
	httputil.WriteJSONOK(w, changes)
}

// requestExit asks the mode machine to leave ConfigMode on its next tick.
// It is refused while critical fields are missing.
func (s *Server) requestExit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	cfg, _, err := config.Load(s.store, s.defaults)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if missing := cfg.MissingCritical(s.defaults); len(missing) > 0 {
		httputil.WriteJSON(w, http.StatusConflict, map[string]any{
			"error":   "critical configuration missing",
			"missing": missing,
		})
		return
	}
	if err := s.store.SetBool(store.KeyConfigExit, true); err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	monitoring.Logf("configui: exit requested")
	httputil.WriteJSON(w, http.StatusAccepted, map[string]bool{"exiting": true})
}

func keepSecret(submitted, current string) string {
	if submitted == "" || submitted == secretMask {
		return current
	}
	return submitted
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
