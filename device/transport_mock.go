package device

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultMockTarget is the synthetic target id the mock transport answers to.
const DefaultMockTarget = "mock-0"

// MockTransport is a test implementation of Transport that simulates device
// hardware. It echoes sent payloads back through Receive and answers "OK"
// when nothing is buffered, so the rest of the system stays exercisable
// without hardware.
//
// Example:
//
//	mock := device.NewMockTransport()
//	mock.Connect(ctx, "mock-0")
//	mock.Send([]byte("PING"))
//	resp, _ := mock.Receive(time.Second) // "PING"
type MockTransport struct {
	// ProbeResult is returned by Probe(). Defaults to Available.
	ProbeResult Availability

	// Latency, if set, is slept before Connect/Send/Receive complete.
	Latency time.Duration

	// ConnectError, if set, will be returned by Connect()
	ConnectError error

	// SendError, if set, will be returned by Send()
	SendError error

	// ReceiveError, if set, will be returned by Receive()
	ReceiveError error

	// ReceiveFunc allows custom receive behavior for testing.
	// If nil, buffered sends are echoed, then "OK".
	ReceiveFunc func(timeout time.Duration) ([]byte, error)

	// CallLog tracks all method calls for verification in tests
	CallLog []string

	target string
	state  State
	buffer [][]byte
	mu     sync.Mutex
}

// NewMockTransport creates a new MockTransport with default values.
func NewMockTransport() *MockTransport {
	return &MockTransport{
		ProbeResult: Availability{Available: true},
		state:       StateDisconnected,
		CallLog:     make([]string, 0),
	}
}

func (m *MockTransport) Kind() Kind { return KindMock }

func (m *MockTransport) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *MockTransport) Capabilities() Capabilities {
	return Capabilities{CanSend: true, CanReceive: true}
}

// FindTarget returns the synthetic target id for scan results.
func (m *MockTransport) FindTarget(ctx context.Context) string {
	return DefaultMockTarget
}

// Probe returns the configured availability.
func (m *MockTransport) Probe() Availability {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, "Probe")
	return m.ProbeResult
}

// Connect simulates establishing a session.
func (m *MockTransport) Connect(ctx context.Context, target string) error {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, fmt.Sprintf("Connect(%s)", target))
	latency := m.Latency

	if target == "" {
		target = DefaultMockTarget
	}

	if m.state == StateConnected {
		if target == m.target {
			m.mu.Unlock()
			return nil
		}
		m.buffer = nil
		m.state = StateDisconnected
	}

	if m.ConnectError != nil {
		m.state = StateFailed
		err := m.ConnectError
		m.mu.Unlock()
		return err
	}
	m.state = StateConnecting
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			m.mu.Lock()
			m.state = StateDisconnected
			m.mu.Unlock()
			return NewConnectionFailedError("Connect", KindMock, "", ctx.Err())
		}
	}

	m.mu.Lock()
	m.target = target
	m.state = StateConnected
	m.mu.Unlock()
	return nil
}

// Disconnect simulates releasing the session.
func (m *MockTransport) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = append(m.CallLog, "Disconnect")
	m.state = StateDisconnected
	m.buffer = nil
	return nil
}

// Send buffers the payload for later echo through Receive.
func (m *MockTransport) Send(payload []byte) error {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, fmt.Sprintf("Send(%d bytes)", len(payload)))
	if m.state != StateConnected {
		m.mu.Unlock()
		return NewNotConnectedError("Send")
	}
	if m.SendError != nil {
		err := m.SendError
		m.mu.Unlock()
		return err
	}
	latency := m.Latency
	msg := make([]byte, len(payload))
	copy(msg, payload)
	m.buffer = append(m.buffer, msg)
	m.mu.Unlock()

	if latency > 0 {
		time.Sleep(latency)
	}
	return nil
}

// Receive returns the oldest buffered send, or "OK" when nothing is
// buffered.
func (m *MockTransport) Receive(timeout time.Duration) ([]byte, error) {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, "Receive")
	if m.state != StateConnected {
		m.mu.Unlock()
		return nil, NewNotConnectedError("Receive")
	}
	if m.ReceiveError != nil {
		err := m.ReceiveError
		m.mu.Unlock()
		return nil, err
	}
	fn := m.ReceiveFunc
	latency := m.Latency
	var msg []byte
	if fn == nil {
		if len(m.buffer) > 0 {
			msg = m.buffer[0]
			m.buffer = m.buffer[1:]
		} else {
			msg = []byte("OK")
		}
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(timeout)
	}
	if latency > 0 {
		if latency > timeout {
			time.Sleep(timeout)
			return nil, NewTimeoutError("Receive")
		}
		time.Sleep(latency)
	}
	return msg, nil
}

// GetCallLog returns a copy of the call log for verification.
func (m *MockTransport) GetCallLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	logCopy := make([]string, len(m.CallLog))
	copy(logCopy, m.CallLog)
	return logCopy
}

// ClearCallLog clears the call log.
func (m *MockTransport) ClearCallLog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallLog = make([]string, 0)
}
