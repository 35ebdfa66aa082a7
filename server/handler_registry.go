package server

import (
	"fmt"
	"sync"
)

// HandlerFunc processes a single WebSocket request and returns the response
// payload, or an error to be reported to the client.
type HandlerFunc func(client *Client, req *WebsocketRequest) (any, error)

// HandlerServer is the minimal surface a handler collection needs to
// register itself against.
type HandlerServer interface {
	Handle(messageType string, handler HandlerFunc) error
}

// HandlerRegistry maps request types to their handlers.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewHandlerRegistry creates an empty handler registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers a handler for a message type. Registering the same type
// twice is an error; the first registration wins.
func (r *HandlerRegistry) Handle(messageType string, handler HandlerFunc) error {
	if messageType == "" {
		return fmt.Errorf("message type cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler for %q cannot be nil", messageType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[messageType]; exists {
		return fmt.Errorf("handler for %q already registered", messageType)
	}
	r.handlers[messageType] = handler
	return nil
}

// Get returns the handler for a message type.
func (r *HandlerRegistry) Get(messageType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[messageType]
	return h, ok
}

// Has reports whether a handler is registered for the message type.
func (r *HandlerRegistry) Has(messageType string) bool {
	_, ok := r.Get(messageType)
	return ok
}

// MessageTypes returns all registered message types.
func (r *HandlerRegistry) MessageTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
