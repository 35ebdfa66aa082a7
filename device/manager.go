package device

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
)

// Default bounds for manager operations.
const (
	DefaultScanTimeout = 2 * time.Second
	TestPingTimeout    = 1 * time.Second
)

// ScanEntry is one variant's capability snapshot from a scan.
type ScanEntry struct {
	Kind         Kind         `json:"kind"`
	Target       string       `json:"target,omitempty"`
	Availability Availability `json:"availability"`
}

// ConnectionInfo describes the active session.
type ConnectionInfo struct {
	Kind   Kind   `json:"kind"`
	Target string `json:"target"`
	State  State  `json:"state"`
}

// StatusCallback is invoked on manager state transitions. Callbacks run on
// the goroutine performing the transition; keep them short.
type StatusCallback func(State)

// targetFinder is optionally implemented by transports that can discover a
// concrete target during a scan.
type targetFinder interface {
	FindTarget(ctx context.Context) string
}

// Manager owns zero-or-one active Transport and serializes all access to
// it. Switching transports requires a disconnect of the old session first,
// which Connect performs automatically.
//
// Example:
//
//	m := device.NewManager(device.DefaultScanTimeout)
//	m.Register(device.NewUSBTransport())
//	m.Register(device.NewMockTransport())
//	entries := m.Scan(ctx)
//	err := m.Connect(ctx, device.KindMock, "mock-0")
type Manager struct {
	mu          sync.RWMutex
	transports  map[Kind]Transport
	active      Transport
	target      string
	state       State
	callbacks   []StatusCallback
	scanTimeout time.Duration

	// opMu serializes device-facing operations so protocol frames from
	// concurrent callers cannot interleave on a stateful session.
	opMu sync.Mutex
}

// NewManager creates a Manager with no registered transports.
func NewManager(scanTimeout time.Duration) *Manager {
	if scanTimeout <= 0 {
		scanTimeout = DefaultScanTimeout
	}
	return &Manager{
		transports:  make(map[Kind]Transport),
		state:       StateDisconnected,
		scanTimeout: scanTimeout,
	}
}

// Register adds a transport variant. Registering a kind twice replaces the
// previous instance.
func (m *Manager) Register(t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transports[t.Kind()] = t
}

// Transport returns the registered transport for kind, or nil.
func (m *Manager) Transport(kind Kind) Transport {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transports[kind]
}

// OnStatus registers a callback invoked on every state transition.
func (m *Manager) OnStatus(cb StatusCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	cbs := make([]StatusCallback, len(m.callbacks))
	copy(cbs, m.callbacks)
	m.mu.Unlock()

	for _, cb := range cbs {
		cb(s)
	}
}

// State returns the manager's connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether a transport session is active.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Info returns the active session description, or nil when disconnected.
func (m *Manager) Info() *ConnectionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil || m.state != StateConnected {
		return nil
	}
	return &ConnectionInfo{
		Kind:   m.active.Kind(),
		Target: m.target,
		State:  m.state,
	}
}

// Scan probes every registered variant and returns one entry per variant.
// A variant whose probe hangs past the configured bound reports Unavailable
// rather than stalling the scan; a variant whose backing library is absent
// reports Unavailable rather than aborting. Scan itself never fails.
func (m *Manager) Scan(ctx context.Context) []ScanEntry {
	m.mu.RLock()
	kinds := make([]Kind, 0, len(m.transports))
	for k := range m.transports {
		kinds = append(kinds, k)
	}
	m.mu.RUnlock()
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	entries := make([]ScanEntry, 0, len(kinds))
	for _, kind := range kinds {
		t := m.Transport(kind)
		entries = append(entries, m.probeOne(ctx, t))
	}
	return entries
}

func (m *Manager) probeOne(ctx context.Context, t Transport) ScanEntry {
	entry := ScanEntry{Kind: t.Kind()}

	done := make(chan Availability, 1)
	go func() {
		defer func() {
			// A misbehaving backend must degrade to Unavailable, not crash
			// the scan.
			if r := recover(); r != nil {
				log.Printf("Probe panic for %s transport: %v", t.Kind(), r)
				done <- Availability{Available: false, Reason: "probe-panic"}
			}
		}()
		done <- t.Probe()
	}()

	select {
	case avail := <-done:
		entry.Availability = avail
	case <-time.After(m.scanTimeout):
		entry.Availability = Availability{Available: false, Reason: "probe-timeout"}
		return entry
	case <-ctx.Done():
		entry.Availability = Availability{Available: false, Reason: "scan-cancelled"}
		return entry
	}

	if entry.Availability.Available {
		if finder, ok := t.(targetFinder); ok {
			findCtx, cancel := context.WithTimeout(ctx, m.scanTimeout)
			entry.Target = finder.FindTarget(findCtx)
			cancel()
		}
	}
	return entry
}

// Connect establishes a session through the chosen variant, disconnecting
// any existing active transport first. On failure the manager reverts to
// Disconnected with no dangling half-connected transport.
func (m *Manager) Connect(ctx context.Context, kind Kind, target string) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	t := m.Transport(kind)
	if t == nil {
		return Errorf(ErrCodeUnknownTransport, "Connect", "unknown transport kind: %s", kind)
	}

	// Clean handoff: at most one connected transport at a time.
	m.mu.Lock()
	old := m.active
	m.active = nil
	m.mu.Unlock()
	if old != nil {
		if err := old.Disconnect(); err != nil {
			log.Printf("Error disconnecting %s transport before switch: %v", old.Kind(), err)
		}
	}

	m.setState(StateConnecting)

	if err := t.Connect(ctx, target); err != nil {
		// Best-effort cleanup so the transport is not left half-connected.
		t.Disconnect()
		m.setState(StateDisconnected)
		return err
	}

	m.mu.Lock()
	m.active = t
	m.target = target
	m.mu.Unlock()
	m.setState(StateConnected)
	log.Printf("Connected via %s transport", kind)
	return nil
}

// Disconnect releases the active session. It is a no-op when already
// disconnected.
func (m *Manager) Disconnect() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.Lock()
	t := m.active
	m.active = nil
	m.target = ""
	m.mu.Unlock()

	if t == nil {
		m.setState(StateDisconnected)
		return nil
	}
	err := t.Disconnect()
	m.setState(StateDisconnected)
	return err
}

// activeTransport returns the active transport or a NotConnected error.
func (m *Manager) activeTransport(op string) (Transport, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == nil || m.state != StateConnected {
		return nil, NewNotConnectedError(op)
	}
	return m.active, nil
}

// Send transmits one message through the active transport.
func (m *Manager) Send(payload []byte) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	t, err := m.activeTransport("Send")
	if err != nil {
		return err
	}
	return t.Send(payload)
}

// Receive waits up to timeout for one inbound message from the active
// transport.
func (m *Manager) Receive(timeout time.Duration) ([]byte, error) {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	t, err := m.activeTransport("Receive")
	if err != nil {
		return nil, err
	}
	return t.Receive(timeout)
}

// TestConnection sends a lightweight ping through the active transport and
// waits for any response. It has no side effects on device state.
func (m *Manager) TestConnection() error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	t, err := m.activeTransport("TestConnection")
	if err != nil {
		return err
	}
	if err := t.Send([]byte("ping")); err != nil {
		return err
	}
	if _, err := t.Receive(TestPingTimeout); err != nil {
		return err
	}
	return nil
}

// Transmit sends an opaque signal payload through the active transport.
// Empty payloads are rejected before touching the device.
func (m *Manager) Transmit(payload []byte) error {
	if len(payload) == 0 {
		return Errorf(ErrCodeInvalidPayload, "Transmit", "signal has no payload to transmit")
	}
	return m.Send(payload)
}

// Close disconnects the active transport. Used during shutdown.
func (m *Manager) Close() {
	if err := m.Disconnect(); err != nil {
		log.Printf("Error disconnecting during close: %v", err)
	}
}
