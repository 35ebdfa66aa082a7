// Package server provides the HTTP and WebSocket bridge between the agent
// and its presentation layer. UI clients connect over WebSocket, issue
// device and library requests, and receive status broadcasts. All device
// and library work is executed through the shared background runtime.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"

	"github.com/hydraremote/hydra-agent/device"
	"github.com/hydraremote/hydra-agent/library"
	"github.com/hydraremote/hydra-agent/runtime"
)

// mDNS advertisement parameters for UI auto-discovery.
const (
	MDNSServiceName = "Hydra Agent"
	MDNSServiceType = "_hydra-agent._tcp"
	MDNSDomain      = "local."
)

// WebsocketMessage represents a server-initiated message sent to clients,
// such as a status broadcast.
type WebsocketMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// WebsocketRequest represents an incoming request from a WebSocket client.
type WebsocketRequest struct {
	ID      string         `json:"id,omitempty"` // Client-generated request ID
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

// WebsocketResponse represents a response to a WebSocket request.
type WebsocketResponse struct {
	ID      string `json:"id,omitempty"` // Same as request ID
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Payload any    `json:"payload,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Config holds the server configuration.
type Config struct {
	Manager   *device.Manager
	Library   *library.Library
	Runtime   *runtime.Runtime
	Port      int
	APISecret string // Optional shared secret for the session handshake
}

// Server manages the HTTP server and WebSocket clients.
type Server struct {
	config     Config
	httpServer *http.Server
	ctx        context.Context
	cancel     context.CancelFunc

	clients    map[*websocket.Conn]*Client
	clientsMux sync.RWMutex
	upgrader   websocket.Upgrader

	handlerRegistry *HandlerRegistry
	sessions        *SessionManager

	// mDNS service for auto-discovery
	mdnsServer *zeroconf.Server
}

// Client wraps a WebSocket connection with a write lock. Gorilla
// connections do not support concurrent writers, and responses and
// broadcasts can otherwise race.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	sessionToken string
	authorized   bool
}

func (c *Client) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

// Send pushes a server-initiated message to this client.
func (c *Client) Send(message *WebsocketMessage) error {
	return c.writeJSON(message)
}

// New creates a new server instance and registers the built-in device and
// library handlers.
func New(config Config) *Server {
	s := &Server{
		config:  config,
		clients: make(map[*websocket.Conn]*Client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Local agent; the session handshake gates access
			},
		},
		handlerRegistry: NewHandlerRegistry(),
		sessions:        NewSessionManager(config.APISecret, DefaultSessionTimeout),
	}

	if config.Manager != nil {
		h := &DeviceHandler{manager: config.Manager, rt: config.Runtime}
		h.Register(s)
	}
	if config.Library != nil {
		h := &LibraryHandler{library: config.Library, rt: config.Runtime}
		h.Register(s)
	}
	return s
}

// Handle registers a handler function for a message type.
func (s *Server) Handle(messageType string, handler HandlerFunc) error {
	return s.handlerRegistry.Handle(messageType, handler)
}

// broadcast sends a message to all connected clients, dropping any client
// whose connection write fails.
func (s *Server) broadcast(message *WebsocketMessage) {
	s.clientsMux.Lock()
	defer s.clientsMux.Unlock()

	for raw, client := range s.clients {
		if err := client.writeJSON(message); err != nil {
			log.Printf("WebSocket write error: %v", err)
			raw.Close()
			delete(s.clients, raw)
		}
	}
}

// BroadcastDeviceState sends the current manager state to all clients.
func (s *Server) BroadcastDeviceState(state device.State) {
	payload := map[string]any{"state": state}
	if s.config.Manager != nil {
		if info := s.config.Manager.Info(); info != nil {
			payload["transport"] = info.Kind
			payload["target"] = info.Target
		}
	}
	s.broadcast(&WebsocketMessage{Type: "deviceStatus", Payload: payload})
}

// ClientCount returns the number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMux.RLock()
	defer s.clientsMux.RUnlock()
	return len(s.clients)
}

// Start starts the HTTP server and blocks until Stop is called.
func (s *Server) Start() error {
	s.ctx, s.cancel = context.WithCancel(context.Background())

	// Drain the runtime's completion channel. This goroutine is the delivery
	// boundary: per-task callbacks run here, never on the runtime worker.
	go func() {
		for {
			select {
			case completion := <-s.config.Runtime.Dispatch():
				completion.Deliver()
			case <-s.ctx.Done():
				return
			}
		}
	}()

	// Push manager state transitions out to clients as they happen.
	if s.config.Manager != nil {
		s.config.Manager.OnStatus(func(state device.State) {
			s.BroadcastDeviceState(state)
		})
	}

	mux := http.NewServeMux()
	apiV1 := "/api/v1"

	mux.HandleFunc(apiV1+"/health", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		s.handleHealthCheck(w, r)
	}))

	mux.HandleFunc("/ws", enableCORS(s.handleWebSocket))

	mux.HandleFunc("/", enableCORS(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("Hydra Agent Server Running"))
	}))

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.config.Port),
		Handler: mux,
	}

	go func() {
		log.Printf("Starting server on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("HTTP server error: %v", err)
		}
	}()

	if err := s.startMDNS(); err != nil {
		log.Printf("Warning: Failed to start mDNS service: %v", err)
		log.Printf("Auto-discovery will not be available, but server will continue normally")
	}

	<-s.ctx.Done()
	log.Println("Server context cancelled, initiating shutdown...")
	return nil
}

// Stop stops the HTTP server and the mDNS advertisement gracefully.
func (s *Server) Stop() {
	if s.mdnsServer != nil {
		s.mdnsServer.Shutdown()
		s.mdnsServer = nil
		log.Printf("mDNS service stopped")
	}

	if s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		s.httpServer = nil
	}

	s.clientsMux.Lock()
	for raw := range s.clients {
		raw.Close()
		delete(s.clients, raw)
	}
	s.clientsMux.Unlock()

	if s.cancel != nil {
		s.cancel()
	}
}

// startMDNS registers the agent as an mDNS service for auto-discovery.
func (s *Server) startMDNS() error {
	txtRecords := []string{
		"version=1.0",
		"protocol=websocket",
		"path=/ws",
	}

	server, err := zeroconf.Register(MDNSServiceName, MDNSServiceType, MDNSDomain, s.config.Port, txtRecords, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}

	s.mdnsServer = server
	log.Printf("mDNS service registered: %s on port %d", MDNSServiceName, s.config.Port)
	return nil
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	state := device.StateDisconnected
	if s.config.Manager != nil {
		state = s.config.Manager.State()
	}
	fmt.Fprintf(w, `{"status":"ok","device":%q}`, string(state))
}

// enableCORS is a middleware that adds CORS headers to responses.
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}
