// Package admin serves the HTTP diagnostics surface of a running stream:
// health, Prometheus metrics, session listings and a live WebSocket feed
// of the same status.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-dev/lumenstream/pkg/delta"
	"github.com/vango-dev/lumenstream/pkg/fragment"
	"github.com/vango-dev/lumenstream/pkg/session"
	"github.com/vango-dev/lumenstream/pkg/transport"
)

// Source is the stream being observed. *transport.Server implements it.
type Source interface {
	Sessions() []session.Info
	SessionStats() session.Stats
	EncoderStats() delta.Stats
	ReassemblyStats() fragment.Stats
	LastFull() (transport.FrameState, bool)
	LocalAddr() net.Addr
}

// Config configures the admin server.
type Config struct {
	// Addr is the HTTP listen address. Default: "127.0.0.1:9090".
	Addr string

	// Gatherer backs /metrics. Default: prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer

	// StatusInterval is how often /ws/status pushes. Default: 1 second.
	StatusInterval time.Duration

	// WriteTimeout bounds each WebSocket write. Default: 5 seconds.
	WriteTimeout time.Duration

	// Logger receives request and socket diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// Status is the document served by /status and pushed on /ws/status.
type Status struct {
	Running    bool           `json:"running"`
	Addr       string         `json:"addr,omitempty"`
	Time       time.Time      `json:"time"`
	Sessions   session.Stats  `json:"sessions"`
	Encoder    delta.Stats    `json:"encoder"`
	Reassembly fragment.Stats `json:"reassembly"`
	Frame      *FrameInfo     `json:"frame,omitempty"`
	Active     []session.Info `json:"active,omitempty"`
}

// FrameInfo describes the last full frame that was sent.
type FrameInfo struct {
	Width  uint16 `json:"width"`
	Height uint16 `json:"height"`
	Format string `json:"format"`
	Bytes  int    `json:"bytes"`
}

// Server is the admin HTTP server.
type Server struct {
	config   Config
	source   Source
	logger   *slog.Logger
	router   chi.Router
	upgrader websocket.Upgrader
}

// New creates an admin server for source.
func New(source Source, config Config) *Server {
	if config.Addr == "" {
		config.Addr = "127.0.0.1:9090"
	}
	if config.Gatherer == nil {
		config.Gatherer = prometheus.DefaultGatherer
	}
	if config.StatusInterval <= 0 {
		config.StatusInterval = time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	s := &Server{
		config: config,
		source: source,
		logger: config.Logger.With("component", "admin"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Get("/sessions", s.handleSessions)
	r.Get("/sessions/{id}", s.handleSession)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{}))
	r.Get("/ws/status", s.handleStatusSocket)
	return r
}

// Handler returns the admin routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("admin listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Status builds the current status document.
func (s *Server) Status(withSessions bool) Status {
	st := Status{
		Time:       time.Now(),
		Sessions:   s.source.SessionStats(),
		Encoder:    s.source.EncoderStats(),
		Reassembly: s.source.ReassemblyStats(),
	}
	if addr := s.source.LocalAddr(); addr != nil {
		st.Running = true
		st.Addr = addr.String()
	}
	if f, ok := s.source.LastFull(); ok {
		st.Frame = &FrameInfo{
			Width:  f.Geometry.Width,
			Height: f.Geometry.Height,
			Format: f.Geometry.Format.String(),
			Bytes:  len(f.Pixels),
		}
	}
	if withSessions {
		st.Active = s.source.Sessions()
	}
	return st
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.source.LocalAddr() == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "stopped"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Status(r.URL.Query().Get("sessions") == "1"))
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.source.Sessions()
	if sessions == nil {
		sessions = []session.Info{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, info := range s.source.Sessions() {
		if info.ID == id {
			writeJSON(w, http.StatusOK, info)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": session.ErrSessionNotFound.Error()})
}

// handleStatusSocket pushes a Status every StatusInterval until the peer
// goes away.
func (s *Server) handleStatusSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// The reader only notices the close frame.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	withSessions := r.URL.Query().Get("sessions") == "1"
	ticker := time.NewTicker(s.config.StatusInterval)
	defer ticker.Stop()

	for {
		conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
		if err := conn.WriteJSON(s.Status(withSessions)); err != nil {
			s.logger.Debug("status push failed", "error", err)
			return
		}
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return
		case <-ticker.C:
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
