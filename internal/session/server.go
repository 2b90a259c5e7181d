package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/drewfead/deckhand/internal/action"
	"github.com/drewfead/deckhand/internal/logging"
)

const (
	defaultSendBuffer = 64
	maxMessageSize    = 64 << 10
	writeWait         = 5 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = pongWait * 9 / 10
	replyWait         = 2 * time.Second
)

// Dispatcher executes an action and reports the outcome.
type Dispatcher interface {
	Execute(ctx context.Context, spec action.Spec) action.Result
}

// Config wires a Server.
type Config struct {
	Addr       string
	Set        *Set
	Dispatcher Dispatcher
	// OnMembershipChange runs after every connect and disconnect.
	OnMembershipChange func()
	// Status builds the /api/status body. Subscribers and Sessions are filled in.
	Status     func() StatusReport
	Profile    func() string
	SendBuffer int
}

// Server accepts websocket subscribers on /ws and serves /health and
// /api/status.
type Server struct {
	cfg      Config
	upgrader websocket.Upgrader
	http     *http.Server
	listener net.Listener
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a server. Call Start to listen.
func NewServer(cfg Config) *Server {
	if cfg.Set == nil {
		cfg.Set = NewSet()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients are LAN devices and browsers served from other origins.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logging.Component("session"),
		ctx:    ctx,
		cancel: cancel,
	}
	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Set returns the subscriber set.
func (s *Server) Set() *Set { return s.cfg.Set }

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.cfg.Addr
}

// Stop stops accepting connections, closes every session and waits for
// their goroutines.
func (s *Server) Stop(ctx context.Context) error {
	s.cancel()
	err := s.http.Shutdown(ctx)
	s.cfg.Set.each(func(sink Sink) {
		if c, ok := sink.(*conn); ok {
			c.Close()
		}
	})

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	var report StatusReport
	if s.cfg.Status != nil {
		report = s.cfg.Status()
	}
	report.Subscribers = s.cfg.Set.Count()
	report.Sessions = s.Sessions()
	writeJSON(w, http.StatusOK, report)
}

// Sessions describes the connected sessions.
func (s *Server) Sessions() []Info {
	var out []Info
	s.cfg.Set.each(func(sink Sink) {
		if c, ok := sink.(*conn); ok {
			out = append(out, c.Info())
		}
	})
	return out
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(uuid.NewString(), ws, s.cfg.SendBuffer)
	logger := s.logger.With("session", c.id, "remote", c.remote)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		c.writeLoop(pingPeriod, writeWait)
	}()

	hello := Hello{Type: TypeHello, SessionID: c.id}
	if s.cfg.Profile != nil {
		hello.Profile = s.cfg.Profile()
	}
	if data, err := json.Marshal(hello); err == nil {
		c.Enqueue(data)
	}

	s.cfg.Set.Add(c)
	logger.Info("session connected", "subscribers", s.cfg.Set.Count())
	s.membershipChanged()

	defer func() {
		s.cfg.Set.Remove(c.id)
		c.Close()
		logger.Info("session disconnected", "subscribers", s.cfg.Set.Count(), "dropped", c.dropped.Load())
		s.membershipChanged()
	}()

	s.readLoop(c, logger)
}

func (s *Server) membershipChanged() {
	if s.cfg.OnMembershipChange == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logging.CapturePanic(r, "component", "session", "hook", "membership")
		}
	}()
	s.cfg.OnMembershipChange()
}

func (s *Server) readLoop(c *conn, logger *slog.Logger) {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("session read error", "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		s.handleMessage(c, data, logger)
	}
}

// handleMessage runs one inbound command and replies to its sender. Commands
// from one session run in arrival order.
func (s *Server) handleMessage(c *conn, data []byte, logger *slog.Logger) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		s.reply(c, ErrorMessage{Type: TypeError, Error: "invalid message: " + err.Error()})
		return
	}
	if cmd.Type == "" {
		s.reply(c, ErrorMessage{Type: TypeError, Error: "message has no type"})
		return
	}
	if s.cfg.Dispatcher == nil {
		s.reply(c, ActionResult{Type: TypeActionResult, ID: cmd.ID, ActionType: cmd.Type, Error: "actions are disabled"})
		return
	}

	res := s.cfg.Dispatcher.Execute(s.ctx, action.Spec{Type: cmd.Type, Params: cmd.Params})
	logger.Debug("action handled", "action", cmd.Type, "success", res.Success, "id", cmd.ID)
	s.reply(c, ActionResult{
		Type:       TypeActionResult,
		ID:         cmd.ID,
		Success:    res.Success,
		ActionType: res.ActionType,
		Error:      res.Error,
	})
}

func (s *Server) reply(c *conn, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Warn("reply encode failed", "error", err)
		return
	}
	if !c.reply(data, replyWait) {
		s.logger.Debug("reply dropped", "session", c.id)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
