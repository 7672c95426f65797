package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/obsgate/backend/internal/auth"
	"github.com/obsgate/backend/internal/config"
	"github.com/obsgate/backend/internal/event"
	"github.com/obsgate/backend/internal/gateway"
	"github.com/obsgate/backend/internal/metrics"
	"github.com/obsgate/backend/internal/publish"
)

const maxEventBodyBytes = 1 << 20

// ListenerCounter reports how many bus listeners exist.
type ListenerCounter interface {
	ListenerCount() int
}

// Deps are the collaborators a Server needs.
type Deps struct {
	Auth      *auth.Authenticator
	Manager   *gateway.Manager
	Catalog   *event.Catalog
	Publisher publish.Publisher
	Bus       ListenerCounter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
}

type Server struct {
	config         *config.Config
	deps           Deps
	hub            *Hub
	logger         *slog.Logger
	upgrader       websocket.Upgrader
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
}

func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		config:         cfg,
		deps:           deps,
		hub:            NewHub(cfg.Server.MaxConnections),
		logger:         deps.Logger,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}
	return s
}

func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(securityHeaders)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", s.deps.Metrics.Handler())
	r.Get("/ws", s.handleWS)
	r.Route("/api", func(r chi.Router) {
		r.Use(s.deps.Auth.Require)
		r.Get("/event-types", s.handleEventTypes)
		r.Post("/events", s.handlePublish)
	})
	return r
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade", "remote", r.RemoteAddr, "error", err)
		return
	}

	principal, ok := s.deps.Auth.Principal(r)
	if !ok {
		s.deps.Metrics.ConnectionRejected("guest")
		s.logger.Info("refused guest connection", "remote", r.RemoteAddr)
		s.reject(conn, websocket.ClosePolicyViolation, GuestCloseReason)
		return
	}

	c := newClient(conn, principal, s.config.WebSocket)
	if err := s.hub.add(c); err != nil {
		reason := "capacity"
		if !errors.Is(err, ErrTooManyConnections) {
			reason = "shutdown"
		}
		s.deps.Metrics.ConnectionRejected(reason)
		s.logger.Warn("refused connection", "remote", r.RemoteAddr, "user", principal.Name, "error", err)
		s.reject(conn, websocket.CloseTryAgainLater, err.Error())
		return
	}

	s.deps.Manager.Open(c)
	s.deps.Metrics.ConnectionOpened()
	s.logger.Info("client connected", "conn", c.id, "user", principal.Name, "remote", r.RemoteAddr)

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.writePump()
	}()
	go func() {
		defer s.hub.done()
		s.readPump(c)
		<-writeDone
	}()
}

func (s *Server) reject(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(s.config.WebSocket.WriteTimeout)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}

func (s *Server) readPump(c *client) {
	defer s.disconnect(c)

	pongWait := s.config.WebSocket.PongTimeout
	c.conn.SetReadLimit(s.config.WebSocket.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !isClosedConn(err) {
				s.logger.Debug("ws read", "conn", c.id, "error", err)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		if !c.limiter.Allow() {
			s.deps.Metrics.InboundMessage("rate_limited")
			s.logger.Warn("dropping message over rate limit", "conn", c.id)
			continue
		}
		s.handleMessage(c, data)
	}
}

func isClosedConn(err error) bool {
	return errors.Is(err, net.ErrClosed)
}

// disconnect releases everything c owns. readPump is its only caller, so it
// runs once per client.
func (s *Server) disconnect(c *client) {
	c.close(websocket.CloseNormalClosure, "")
	if !s.hub.remove(c) {
		return
	}
	n := s.deps.Manager.Dispose(c)
	s.deps.Metrics.ConnectionClosed()
	s.logger.Info("client disconnected", "conn", c.id, "user", c.principal.Name, "listeners", n)
}

func (s *Server) handleMessage(c *client, data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.deps.Metrics.InboundMessage("invalid")
		s.logger.Warn("decode message", "conn", c.id, "error", err)
		return
	}

	switch msg.Type {
	case MsgAddListener:
		s.deps.Metrics.InboundMessage(string(msg.Type))
		s.addListener(c, msg.Data)
	case MsgRemoveListener:
		s.deps.Metrics.InboundMessage(string(msg.Type))
		s.removeListener(c, msg.Data)
	default:
		s.deps.Metrics.InboundMessage("unknown")
		s.logger.Debug("ignore message", "conn", c.id, "type", msg.Type)
	}
}

func (s *Server) addListener(c *client, data json.RawMessage) {
	var p AddListenerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("decode addListener", "conn", c.id, "error", err)
		return
	}
	req, err := p.request()
	if err != nil {
		s.logger.Warn("decode addListener", "conn", c.id, "error", err)
		return
	}
	reg, err := s.deps.Manager.AddSubscription(c, req)
	if err != nil {
		s.logger.Warn("add listener", "conn", c.id, "user", c.principal.Name, "error", err)
		return
	}
	s.logger.Debug("listening", "conn", c.id, "listener", reg.ID, "event", reg.Event.Kind())
}

func (s *Server) removeListener(c *client, data json.RawMessage) {
	var p RemoveListenerPayload
	if err := json.Unmarshal(data, &p); err != nil {
		s.logger.Warn("decode removeListener", "conn", c.id, "error", err)
		return
	}
	n, err := s.deps.Manager.UnsubscribeToken(c, p.EventData)
	if err != nil {
		s.logger.Warn("remove listener", "conn", c.id, "error", err)
		return
	}
	s.logger.Debug("listeners removed", "conn", c.id, "count", n)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	listeners := 0
	if s.deps.Bus != nil {
		listeners = s.deps.Bus.ListenerCount()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.hub.ClientCount(),
		"listeners":   listeners,
	})
}

func (s *Server) handleEventTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Catalog.Describe())
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var env publish.Envelope
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBodyBytes)).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	env.Origin = ""

	if err := s.deps.Publisher.Publish(r.Context(), env); err != nil {
		if errors.Is(err, publish.ErrInvalidEnvelope) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("publish event", "type", env.Type, "error", err)
		writeError(w, http.StatusInternalServerError, "publish failed")
		return
	}

	if p, ok := auth.FromContext(r.Context()); ok {
		s.logger.Debug("event published over http", "type", env.Type, "user", p.Name)
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
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
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" && s.allowedHosts[parsed.Host] {
			return true
		}
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

// Shutdown closes every client and waits for their goroutines, or for ctx.
// Upgrades still in flight are refused with 1013.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	return s.hub.wait(ctx)
}

// ListenAndServe serves until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", httpSrv.Addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()
	// Stop accepting upgrades before closing the clients already connected.
	httpErr := httpSrv.Shutdown(shutdownCtx)
	if err := s.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("clients did not close in time", "error", err)
	}
	if httpErr != nil {
		return fmt.Errorf("http shutdown: %w", httpErr)
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Content-Security-Policy", "default-src 'self'")
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
