package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// slowProbeTransport wraps a mock with a Probe that never returns.
type slowProbeTransport struct {
	*MockTransport
}

func (s *slowProbeTransport) Kind() Kind { return KindUSB }

func (s *slowProbeTransport) Probe() Availability {
	select {} // hang forever
}

// panicProbeTransport wraps a mock with a Probe that panics.
type panicProbeTransport struct {
	*MockTransport
}

func (p *panicProbeTransport) Kind() Kind { return KindBLE }

func (p *panicProbeTransport) Probe() Availability {
	panic("backend library exploded")
}

func TestManagerScanAllVariants(t *testing.T) {
	m := NewManager(100 * time.Millisecond)
	m.Register(&slowProbeTransport{NewMockTransport()})
	m.Register(&panicProbeTransport{NewMockTransport()})
	m.Register(NewMockTransport())

	entries := m.Scan(context.Background())
	if len(entries) != 3 {
		t.Fatalf("Expected 3 scan entries, got %d", len(entries))
	}

	byKind := make(map[Kind]ScanEntry)
	for _, e := range entries {
		byKind[e.Kind] = e
	}

	if e := byKind[KindMock]; !e.Availability.Available {
		t.Errorf("Expected mock variant available, got reason %q", e.Availability.Reason)
	}
	if e := byKind[KindMock]; e.Target != DefaultMockTarget {
		t.Errorf("Expected mock target %q, got %q", DefaultMockTarget, e.Target)
	}
	if e := byKind[KindUSB]; e.Availability.Available || e.Availability.Reason != "probe-timeout" {
		t.Errorf("Expected hung probe to report probe-timeout, got %+v", e.Availability)
	}
	if e := byKind[KindBLE]; e.Availability.Available || e.Availability.Reason != "probe-panic" {
		t.Errorf("Expected panicking probe to report probe-panic, got %+v", e.Availability)
	}
}

func TestManagerScanCancelled(t *testing.T) {
	m := NewManager(time.Minute)
	m.Register(&slowProbeTransport{NewMockTransport()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	entries := m.Scan(ctx)
	if len(entries) != 1 {
		t.Fatalf("Expected 1 scan entry, got %d", len(entries))
	}
	if entries[0].Availability.Reason != "scan-cancelled" {
		t.Errorf("Expected scan-cancelled reason, got %q", entries[0].Availability.Reason)
	}
}

func TestManagerConnectDisconnect(t *testing.T) {
	m := NewManager(0)
	mock := NewMockTransport()
	m.Register(mock)

	if m.IsConnected() {
		t.Errorf("Expected manager to start disconnected")
	}

	if err := m.Connect(context.Background(), KindMock, DefaultMockTarget); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !m.IsConnected() {
		t.Errorf("Expected manager connected")
	}

	info := m.Info()
	if info == nil {
		t.Fatalf("Expected connection info while connected")
	}
	if info.Kind != KindMock || info.Target != DefaultMockTarget {
		t.Errorf("Unexpected connection info: %+v", info)
	}

	if err := m.Disconnect(); err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}
	if m.Info() != nil {
		t.Errorf("Expected nil info after disconnect")
	}

	// Disconnecting again is a no-op.
	if err := m.Disconnect(); err != nil {
		t.Errorf("Second disconnect should be a no-op, got %v", err)
	}
}

func TestManagerConnectUnknownKind(t *testing.T) {
	m := NewManager(0)
	err := m.Connect(context.Background(), KindUSB, "")
	if GetErrorCode(err) != ErrCodeUnknownTransport {
		t.Errorf("Expected unknown transport error, got %v", err)
	}
}

func TestManagerSwitchTransportDisconnectsOld(t *testing.T) {
	m := NewManager(0)
	first := NewMockTransport()
	m.Register(first)

	if err := m.Connect(context.Background(), KindMock, "mock-0"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Registering a new instance under the same kind and connecting to it
	// must release the old session first.
	second := NewMockTransport()
	m.Register(second)
	if err := m.Connect(context.Background(), KindMock, "mock-1"); err != nil {
		t.Fatalf("Connect to second transport failed: %v", err)
	}

	if first.State() != StateDisconnected {
		t.Errorf("Expected first transport disconnected after switch, got %s", first.State())
	}
	if second.State() != StateConnected {
		t.Errorf("Expected second transport connected, got %s", second.State())
	}
}

func TestManagerConnectFailureRevertsState(t *testing.T) {
	m := NewManager(0)
	mock := NewMockTransport()
	mock.ConnectError = errors.New("no such device")
	m.Register(mock)

	if err := m.Connect(context.Background(), KindMock, ""); err == nil {
		t.Fatalf("Expected connect to fail")
	}
	if m.State() != StateDisconnected {
		t.Errorf("Expected manager reverted to %s, got %s", StateDisconnected, m.State())
	}
	// Failed connect leaves the transport released, not half-connected.
	if mock.State() != StateDisconnected {
		t.Errorf("Expected transport released after failed connect, got %s", mock.State())
	}
}

func TestManagerOperationsRequireConnection(t *testing.T) {
	m := NewManager(0)
	m.Register(NewMockTransport())

	if err := m.Send([]byte("x")); !IsNotConnectedError(err) {
		t.Errorf("Expected NotConnected from Send, got %v", err)
	}
	if _, err := m.Receive(time.Second); !IsNotConnectedError(err) {
		t.Errorf("Expected NotConnected from Receive, got %v", err)
	}
	if err := m.TestConnection(); !IsNotConnectedError(err) {
		t.Errorf("Expected NotConnected from TestConnection, got %v", err)
	}
}

func TestManagerTestConnection(t *testing.T) {
	m := NewManager(0)
	mock := NewMockTransport()
	m.Register(mock)

	if err := m.Connect(context.Background(), KindMock, ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := m.TestConnection(); err != nil {
		t.Errorf("Expected ping round-trip to succeed, got %v", err)
	}

	mock.ReceiveError = NewTimeoutError("Receive")
	if err := m.TestConnection(); !IsTimeoutError(err) {
		t.Errorf("Expected timeout from silent device, got %v", err)
	}
}

func TestManagerTransmitRejectsEmptyPayload(t *testing.T) {
	m := NewManager(0)
	mock := NewMockTransport()
	m.Register(mock)
	if err := m.Connect(context.Background(), KindMock, ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := m.Transmit(nil); GetErrorCode(err) != ErrCodeInvalidPayload {
		t.Errorf("Expected invalid payload error, got %v", err)
	}
	if err := m.Transmit([]byte("RAW_Data: 100 -200")); err != nil {
		t.Errorf("Expected transmit to succeed, got %v", err)
	}
}

func TestManagerStatusCallbacks(t *testing.T) {
	m := NewManager(0)
	m.Register(NewMockTransport())

	var mu sync.Mutex
	var transitions []State
	m.OnStatus(func(s State) {
		mu.Lock()
		transitions = append(transitions, s)
		mu.Unlock()
	})

	if err := m.Connect(context.Background(), KindMock, ""); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	m.Disconnect()

	mu.Lock()
	defer mu.Unlock()
	want := []State{StateConnecting, StateConnected, StateDisconnected}
	if len(transitions) != len(want) {
		t.Fatalf("Expected %d transitions, got %v", len(want), transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("Transition %d: expected %s, got %s", i, want[i], transitions[i])
		}
	}
}
