package server

import "testing"

func TestHandlerRegistry(t *testing.T) {
	r := NewHandlerRegistry()

	handler := func(client *Client, req *WebsocketRequest) (any, error) {
		return "ok", nil
	}

	if err := r.Handle("scan", handler); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if !r.Has("scan") {
		t.Errorf("Expected scan to be registered")
	}
	if r.Has("connect") {
		t.Errorf("Expected connect to be unregistered")
	}

	got, ok := r.Get("scan")
	if !ok || got == nil {
		t.Fatalf("Expected to get registered handler")
	}

	types := r.MessageTypes()
	if len(types) != 1 || types[0] != "scan" {
		t.Errorf("Expected message types [scan], got %v", types)
	}
}

func TestHandlerRegistryRejectsInvalid(t *testing.T) {
	r := NewHandlerRegistry()
	handler := func(client *Client, req *WebsocketRequest) (any, error) {
		return nil, nil
	}

	if err := r.Handle("", handler); err == nil {
		t.Errorf("Expected error for empty message type")
	}
	if err := r.Handle("scan", nil); err == nil {
		t.Errorf("Expected error for nil handler")
	}

	if err := r.Handle("scan", handler); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if err := r.Handle("scan", handler); err == nil {
		t.Errorf("Expected error for duplicate registration")
	}
}
