package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/hello-sally/jobwatch/internal/fetch"
	"github.com/hello-sally/jobwatch/internal/job"
	"github.com/hello-sally/jobwatch/internal/watch"
)

const maxBodyBytes = 4 << 10

type Server struct {
	manager        *watch.Manager
	broadcaster    *Broadcaster
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	logger         *slog.Logger
	startedAt      time.Time
	process        func() (*ProcessStats, error)
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithAuthToken requires token on every route. Empty disables auth.
func WithAuthToken(token string) ServerOption {
	return func(s *Server) { s.authToken = token }
}

// WithAllowedOrigins restricts websocket origins. With none set, same-host
// and loopback origins are accepted.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		for _, origin := range origins {
			trimmed := strings.TrimSpace(origin)
			if trimmed == "" {
				continue
			}
			s.allowedOrigins[trimmed] = true
			if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
				s.allowedHosts[parsed.Host] = true
			}
		}
	}
}

func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// withProcessStats replaces the gopsutil lookup in tests.
func withProcessStats(fn func() (*ProcessStats, error)) ServerOption {
	return func(s *Server) { s.process = fn }
}

func NewServer(manager *watch.Manager, broadcaster *Broadcaster, opts ...ServerOption) *Server {
	s := &Server{
		manager:        manager,
		broadcaster:    broadcaster,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		logger:         slog.Default(),
		startedAt:      time.Now(),
		process:        processStats,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "server")
	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /api/watches", s.guard(s.handleWatches))
	mux.HandleFunc("GET /api/health", s.guard(s.handleHealth))
	mux.HandleFunc("POST /api/reports/{id}/reconcile", s.guard(s.handleReconcile))
	mux.HandleFunc("POST /api/reports/{id}/transcription", s.guard(s.handleEnsure(s.manager.EnsureTranscription)))
	mux.HandleFunc("POST /api/reports/{id}/analysis", s.guard(s.handleEnsure(s.manager.EnsureAnalysis)))
	mux.HandleFunc("DELETE /api/reports/{id}", s.guard(s.handleForget))
}

// Handler returns the routes wrapped in the security header middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	return securityHeaders(mux)
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) guard(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: s.checkOrigin}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c, err := s.broadcaster.AddClient(conn)
	if err != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error())
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}
	s.logger.Info("ws client connected", "remote", r.RemoteAddr)

	go func() {
		defer func() {
			s.broadcaster.RemoveClient(c)
			s.logger.Info("ws client disconnected", "remote", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) handleWatches(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.Statuses())
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	id := job.ID(r.PathValue("id"))
	if err := s.manager.Reconcile(r.Context(), id); err != nil {
		s.logger.Warn("reconcile failed", "report", id, "error", err)
		writeError(w, reconcileStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.reportStatuses(id))
}

// reconcileStatus maps a report service failure to the gateway response.
func reconcileStatus(err error) int {
	switch {
	case fetch.StatusCode(err) == http.StatusNotFound:
		return http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func (s *Server) handleEnsure(ensure func(job.ID, bool)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := job.ID(r.PathValue("id"))
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			writeError(w, http.StatusBadRequest, "read body")
			return
		}
		var req EnsureRequest
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
			return
		}
		ensure(id, req.Outstanding)
		writeJSON(w, http.StatusOK, s.reportStatuses(id))
	}
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	id := job.ID(r.PathValue("id"))
	if err := s.manager.Forget(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	p := HealthPayload{
		Status:    "ok",
		Uptime:    time.Since(s.startedAt).Round(time.Second).String(),
		Watches:   len(s.manager.Reports()),
		Clients:   s.broadcaster.ClientCount(),
		CheckedAt: time.Now().UTC(),
	}
	for _, st := range s.manager.Statuses() {
		if st.Active {
			p.ActiveSessions++
		}
		if st.Degraded {
			p.Degraded = append(p.Degraded, fmt.Sprintf("%s/%s", st.Report, st.Job))
		}
	}
	if len(p.Degraded) > 0 {
		p.Status = "degraded"
	}
	if stats, err := s.process(); err != nil {
		s.logger.Debug("process stats unavailable", "error", err)
	} else {
		p.Process = stats
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) reportStatuses(id job.ID) []watch.Status {
	var out []watch.Status
	for _, st := range s.manager.Statuses() {
		if st.Report == id {
			out = append(out, st)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, ErrorPayload{Message: msg})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.authToken {
		return true
	}
	if r.Header.Get("X-Jobwatch-Token") == s.authToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}
	if parsed.Host == r.Host {
		return true
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// ListenAndServe serves handler on addr until ctx is cancelled, then
// shuts down gracefully.
func ListenAndServe(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
