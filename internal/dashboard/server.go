// Package dashboard provides a WebSocket server that streams workspace
// activity to connected clients.
//
// The dashboard broadcasts change events, watch errors, notifications and
// sync results, so a UI can follow what the watcher and hydrator do.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeStatus is sent to every client when it connects
	MessageTypeStatus MessageType = "status"

	// MessageTypeChange indicates an external change to a workspace item
	MessageTypeChange MessageType = "change"

	// MessageTypeWatchError indicates the watcher reported an error
	MessageTypeWatchError MessageType = "watch_error"

	// MessageTypeNotification carries a user notification
	MessageTypeNotification MessageType = "notification"

	// MessageTypeSyncComplete indicates a kind was reloaded from disk
	MessageTypeSyncComplete MessageType = "sync_complete"
)

// clientQueue is how many messages may wait for a slow client before
// newer ones are dropped for it.
const clientQueue = 64

const writeTimeout = 5 * time.Second

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// StatusData describes the daemon when a client connects
type StatusData struct {
	Workspace string            `json:"workspace"`
	Watching  map[string]string `json:"watching"`
	Entities  map[string]int    `json:"entities"`
}

// client is one connected WebSocket with its own outbound queue.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Server accepts dashboard clients and fans messages out to them.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	status   func() StatusData
	logger   *log.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	// Host to bind (default: 127.0.0.1)
	Host string

	// Port to listen on; 0 picks a free port
	Port int

	// Status is reported to clients on connect (optional)
	Status func() StatusData

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:   "127.0.0.1",
		Port:   7420,
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a dashboard server. It does not listen until Start.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	host := config.Host
	if host == "" {
		host = "127.0.0.1"
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:    net.JoinHostPort(host, fmt.Sprint(config.Port)),
		status:  config.Status,
		logger:  logger,
		clients: make(map[*client]struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start listens and serves /ws and /health in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()
	return nil
}

// Stop disconnects every client and shuts the server down.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.logger.Println("Stopping dashboard server")
	s.cancel()

	var err error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := s.server.Shutdown(ctx); shutdownErr != nil {
			err = fmt.Errorf("server shutdown error: %w", shutdownErr)
		}
	}

	// Hijacked WebSocket handlers are not tracked by Shutdown.
	s.wg.Wait()
	s.logger.Println("Dashboard server stopped")
	return err
}

// Broadcast queues msg for every connected client. A client whose queue is
// full misses the message.
func (s *Server) Broadcast(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal %s message: %v", msg.Type, err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			s.logger.Printf("Warning: client queue full, dropping %s message", msg.Type)
		}
	}
}

// handleWebSocket serves one client for the life of its connection. The
// client only receives; CloseRead handles pings and notices disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"127.0.0.1:*", "localhost:*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	ctx := conn.CloseRead(s.ctx)

	// Status is written before the client is registered, so it is always
	// the first message a client reads.
	if err := s.write(ctx, conn, s.statusMessage()); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "status failed")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, clientQueue)}
	if !s.addClient(c) {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		return
	}
	defer s.removeClient(c)

	for {
		select {
		case <-ctx.Done():
			if s.ctx.Err() != nil {
				_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
			}
			return
		case data := <-c.send:
			if err := s.write(ctx, conn, data); err != nil {
				s.logger.Printf("Failed to send to client: %v", err)
				_ = conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	if data == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) statusMessage() []byte {
	status := StatusData{}
	if s.status != nil {
		status = s.status()
	}
	msg, err := newMessage(MessageTypeStatus, status)
	if err != nil {
		s.logger.Printf("Failed to build status: %v", err)
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal status: %v", err)
		return nil
	}
	return data
}

// addClient registers c unless the server is stopping.
func (s *Server) addClient(c *client) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.clients[c] = struct{}{}
	s.wg.Add(1)
	n := len(s.clients)
	s.mu.Unlock()

	s.logger.Printf("Client connected (total: %d)", n)
	return true
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	n := len(s.clients)
	s.mu.Unlock()

	s.wg.Done()
	s.logger.Printf("Client disconnected (total: %d)", n)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func newMessage(typ MessageType, data interface{}) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s data: %w", typ, err)
	}
	return Message{Type: typ, Timestamp: time.Now(), Data: raw}, nil
}
