// Package dashboard serves a read-only WebSocket feed of sync activity.
//
// Clients connect to /ws and receive JSON messages as operations start,
// progress and finish. /health reports the number of clients and whether a
// sync is running.
package dashboard

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

	"github.com/coder/websocket"

	"github.com/mschirtzinger/dbsync/internal/logging"
	"github.com/mschirtzinger/dbsync/internal/orchestrator"
)

// MessageType names a feed message.
type MessageType string

const (
	// MessageTypeStatus is the first message a client receives.
	MessageTypeStatus MessageType = "status"

	MessageTypeSyncStarted  MessageType = "sync_started"
	MessageTypeSyncProgress MessageType = "sync_progress"
	MessageTypeSyncFinished MessageType = "sync_finished"
)

// Message is one JSON frame on the feed.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

const (
	outboxSize   = 100
	writeTimeout = 5 * time.Second
)

// Source is what the dashboard observes. *orchestrator.Manager implements it.
type Source interface {
	Subscribe(buffer int) (<-chan orchestrator.Event, func())
	CurrentStatus() (orchestrator.Operation, bool)
	IsSyncing() bool
}

// Server fans sync events out to WebSocket clients.
type Server struct {
	addr     string
	source   Source
	listener net.Listener
	server   *http.Server

	clientsMu sync.RWMutex
	clients   map[*websocket.Conn]struct{}

	// outbox queues messages for the writer goroutine.
	outbox chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *slog.Logger
}

// Config configures the feed listener.
type Config struct {
	Port int    // 0 picks a free port
	Host string // empty binds 127.0.0.1

	Logger *slog.Logger
}

// DefaultConfig listens on 127.0.0.1:7420.
func DefaultConfig() *Config {
	return &Config{Port: 7420, Host: "127.0.0.1"}
}

// NewServer creates a dashboard server fed by source.
func NewServer(source Source, config *Config) (*Server, error) {
	if source == nil {
		return nil, fmt.Errorf("source cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	host := config.Host
	if host == "" {
		host = "127.0.0.1"
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:    net.JoinHostPort(host, fmt.Sprint(config.Port)),
		source:  source,
		clients: make(map[*websocket.Conn]struct{}),
		outbox:  make(chan Message, outboxSize),
		ctx:     ctx,
		cancel:  cancel,
		logger:  logging.OrDiscard(config.Logger).With("component", "dashboard"),
	}, nil
}

// Start listens, serves HTTP and forwards sync events to clients.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	events, unsubscribe := s.source.Subscribe(outboxSize)

	s.wg.Add(3)
	go s.writeLoop()
	go s.forwardEvents(events, unsubscribe)
	go func() {
		defer s.wg.Done()
		s.logger.Info("dashboard listening", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("dashboard server error", "error", err)
		}
	}()

	return nil
}

// Stop closes every client, shuts the HTTP server down and waits for the
// background goroutines.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	var shutdownErr error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			shutdownErr = fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Info("dashboard stopped")
	return shutdownErr
}

// Broadcast queues a message for all connected clients. It drops the
// message when the queue is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.outbox <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("feed backlog full, dropping message", "type", msg.Type)
	}
}

func (s *Server) forwardEvents(events <-chan orchestrator.Event, unsubscribe func()) {
	defer s.wg.Done()
	defer unsubscribe()

	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			msg, err := eventMessage(ev)
			if err != nil {
				s.logger.Warn("failed to encode event", "error", err)
				continue
			}
			s.Broadcast(msg)
		}
	}
}

// writeLoop encodes queued messages once and writes them to every client.
// A client whose write fails is dropped.
func (s *Server) writeLoop() {
	defer s.wg.Done()

	for {
		var msg Message
		select {
		case <-s.ctx.Done():
			return
		case msg = <-s.outbox:
		}

		if msg.Timestamp.IsZero() {
			msg.Timestamp = time.Now()
		}
		frame, err := json.Marshal(msg)
		if err != nil {
			s.logger.Warn("failed to encode feed message", "type", msg.Type, "error", err)
			continue
		}
		for _, conn := range s.connections() {
			if err := s.write(s.ctx, conn, frame); err != nil {
				s.logger.Debug("dropping client after failed write", "error", err)
				s.removeClient(conn)
			}
		}
	}
}

func (s *Server) connections() []*websocket.Conn {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for conn := range s.clients {
		conns = append(conns, conn)
	}
	return conns
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, frame []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, frame)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	welcome, err := s.statusMessage()
	if err != nil {
		s.logger.Warn("failed to build status", "error", err)
		_ = conn.Close(websocket.StatusInternalError, "status unavailable")
		return
	}
	frame, _ := json.Marshal(welcome)
	if err := s.write(r.Context(), conn, frame); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "")
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = struct{}{}
	clientCount := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Info("client connected", "clients", clientCount)

	s.readLoop(conn)
}

// readLoop blocks until the client disconnects. Client messages are ignored.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("client disconnected", "clients", clientCount)
}

// HealthData is the /health response.
type HealthData struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
	Syncing bool   `json:"syncing"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(HealthData{
		Status:  "ok",
		Clients: s.ClientCount(),
		Syncing: s.source.IsSyncing(),
	})
}

// handleRoot prints a plain-text summary for humans poking at the port.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	state := "idle"
	if op, ok := s.source.CurrentStatus(); ok {
		state = fmt.Sprintf("%s %s (%s)", op.Kind, op.Status, op.Message)
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = fmt.Fprintf(w, "dbsync event feed\n\nlast sync: %s\nevents:    ws://%s/ws\nhealth:    http://%s/health\n",
		state, r.Host, r.Host)
}

// GetAddr returns the bound address, which differs from the configured one
// when Port was 0.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the number of connected clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
