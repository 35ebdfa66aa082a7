package server

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

// handleWebSocket upgrades the HTTP connection and runs the per-client
// request loop until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &Client{conn: conn}

	s.clientsMux.Lock()
	s.clients[conn] = client
	s.clientsMux.Unlock()

	log.Printf("WebSocket client connected from %s", r.RemoteAddr)

	// Tell the new client where the device stands right away.
	if s.config.Manager != nil {
		payload := map[string]any{"state": s.config.Manager.State()}
		if info := s.config.Manager.Info(); info != nil {
			payload["transport"] = info.Kind
			payload["target"] = info.Target
		}
		client.writeJSON(&WebsocketMessage{Type: "deviceStatus", Payload: payload})
	}

	defer func() {
		s.clientsMux.Lock()
		delete(s.clients, conn)
		s.clientsMux.Unlock()
		if client.sessionToken != "" {
			s.sessions.Release(client.sessionToken)
		}
		conn.Close()
		log.Printf("WebSocket client disconnected from %s", r.RemoteAddr)
	}()

	for {
		var req WebsocketRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}
		s.dispatchRequest(client, &req)
	}
}

// dispatchRequest routes one request through the handler registry and writes
// the response back to the client.
func (s *Server) dispatchRequest(client *Client, req *WebsocketRequest) {
	if req.Type == "acquireSession" {
		s.handleAcquireSession(client, req)
		return
	}

	// With a secret configured, every other request needs a valid session.
	if s.config.APISecret != "" {
		if !client.authorized || !s.sessions.Validate(client.sessionToken) {
			client.authorized = false
			s.sendError(client, req, "session required")
			return
		}
	}

	handler, ok := s.handlerRegistry.Get(req.Type)
	if !ok {
		s.sendError(client, req, "unknown request type: "+req.Type)
		return
	}

	payload, err := handler(client, req)
	if err != nil {
		s.sendError(client, req, err.Error())
		return
	}
	s.sendSuccess(client, req, payload)
}

func (s *Server) handleAcquireSession(client *Client, req *WebsocketRequest) {
	secret, _ := req.Payload["secret"].(string)
	token, err := s.sessions.Acquire(secret)
	if err != nil {
		s.sendError(client, req, err.Error())
		return
	}
	client.sessionToken = token
	client.authorized = true
	s.sendSuccess(client, req, map[string]any{"token": token})
}

func (s *Server) sendSuccess(client *Client, req *WebsocketRequest, payload any) {
	resp := &WebsocketResponse{
		ID:      req.ID,
		Type:    req.Type,
		Success: true,
		Payload: payload,
	}
	if err := client.writeJSON(resp); err != nil {
		log.Printf("WebSocket response write error: %v", err)
	}
}

func (s *Server) sendError(client *Client, req *WebsocketRequest, message string) {
	resp := &WebsocketResponse{
		ID:      req.ID,
		Type:    req.Type,
		Success: false,
		Error:   message,
	}
	if err := client.writeJSON(resp); err != nil {
		log.Printf("WebSocket response write error: %v", err)
	}
}
