package device

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMockTransportLifecycle(t *testing.T) {
	mock := NewMockTransport()

	if mock.State() != StateDisconnected {
		t.Errorf("Expected initial state %s, got %s", StateDisconnected, mock.State())
	}

	avail := mock.Probe()
	if !avail.Available {
		t.Errorf("Expected mock to probe available by default")
	}

	if err := mock.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if mock.State() != StateConnected {
		t.Errorf("Expected state %s after connect, got %s", StateConnected, mock.State())
	}

	if err := mock.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if mock.State() != StateDisconnected {
		t.Errorf("Expected state %s after disconnect, got %s", StateDisconnected, mock.State())
	}
}

func TestMockTransportEcho(t *testing.T) {
	mock := NewMockTransport()
	if err := mock.Connect(context.Background(), DefaultMockTarget); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := mock.Send([]byte("hello")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := mock.Send([]byte("world")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// Buffered sends come back in order.
	msg, err := mock.Receive(time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(msg) != "hello" {
		t.Errorf("Expected first echo %q, got %q", "hello", msg)
	}

	msg, err = mock.Receive(time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(msg) != "world" {
		t.Errorf("Expected second echo %q, got %q", "world", msg)
	}

	// Empty buffer answers OK.
	msg, err = mock.Receive(time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(msg) != "OK" {
		t.Errorf("Expected %q on empty buffer, got %q", "OK", msg)
	}
}

func TestMockTransportNotConnected(t *testing.T) {
	mock := NewMockTransport()

	if err := mock.Send([]byte("x")); !IsNotConnectedError(err) {
		t.Errorf("Expected NotConnected error from Send, got %v", err)
	}
	if _, err := mock.Receive(time.Second); !IsNotConnectedError(err) {
		t.Errorf("Expected NotConnected error from Receive, got %v", err)
	}
}

func TestMockTransportConnectError(t *testing.T) {
	mock := NewMockTransport()
	wantErr := errors.New("port busy")
	mock.ConnectError = wantErr

	err := mock.Connect(context.Background(), "")
	if !errors.Is(err, wantErr) {
		t.Errorf("Expected configured connect error, got %v", err)
	}
	if mock.State() != StateFailed {
		t.Errorf("Expected state %s after failed connect, got %s", StateFailed, mock.State())
	}
}

func TestMockTransportLatencyTimeout(t *testing.T) {
	mock := NewMockTransport()
	if err := mock.Connect(context.Background(), ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	mock.Latency = 50 * time.Millisecond
	if _, err := mock.Receive(5 * time.Millisecond); !IsTimeoutError(err) {
		t.Errorf("Expected timeout when latency exceeds deadline, got %v", err)
	}
}

func TestMockTransportConnectIdempotent(t *testing.T) {
	mock := NewMockTransport()
	ctx := context.Background()

	if err := mock.Connect(ctx, DefaultMockTarget); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := mock.Send([]byte("pending")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	// Reconnecting to the same target keeps the session and its buffer.
	if err := mock.Connect(ctx, DefaultMockTarget); err != nil {
		t.Fatalf("Reconnect to same target failed: %v", err)
	}
	msg, err := mock.Receive(time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(msg) != "pending" {
		t.Errorf("Expected buffer preserved on same-target reconnect, got %q", msg)
	}

	// Switching targets drops the buffer.
	if err := mock.Send([]byte("stale")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if err := mock.Connect(ctx, "mock-1"); err != nil {
		t.Fatalf("Connect to new target failed: %v", err)
	}
	msg, err = mock.Receive(time.Second)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	if string(msg) != "OK" {
		t.Errorf("Expected empty buffer after target switch, got %q", msg)
	}
}

func TestMockTransportCallLog(t *testing.T) {
	mock := NewMockTransport()
	ctx := context.Background()

	mock.Probe()
	mock.Connect(ctx, "mock-0")
	mock.Send([]byte("abc"))
	mock.Receive(time.Second)
	mock.Disconnect()

	want := []string{"Probe", "Connect(mock-0)", "Send(3 bytes)", "Receive", "Disconnect"}
	got := mock.GetCallLog()
	if len(got) != len(want) {
		t.Fatalf("Expected %d call log entries, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Call log entry %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	mock.ClearCallLog()
	if len(mock.GetCallLog()) != 0 {
		t.Errorf("Expected empty call log after clear")
	}
}
