// Package device provides transport abstractions and connection management
// for Flipper-class signal devices. It supports USB serial, Bluetooth LE and
// a mock backend that can stand in for hardware during development and tests.
package device

import (
	"context"
	"time"
)

// Kind identifies a transport variant.
type Kind string

const (
	KindUSB  Kind = "usb"
	KindBLE  Kind = "ble"
	KindMock Kind = "mock"
)

// State represents the connection state of a transport.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateFailed       State = "failed"
)

// Availability is the outcome of a transport probe. Unavailability is a
// normal result, not an error: a missing adapter or driver simply means the
// variant cannot be used right now.
type Availability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// Capabilities describes what a transport variant supports.
type Capabilities struct {
	CanSend    bool `json:"canSend"`
	CanReceive bool `json:"canReceive"`
	MaxPayload int  `json:"maxPayload,omitempty"` // Max payload size in bytes, 0 = unbounded
}

// Transport is a connection strategy to the physical or simulated device.
//
// A Transport is obtained from a Manager and owned exclusively by it while
// active. Implementations must be safe for concurrent use; the Manager
// additionally serializes all device-facing operations.
//
// Example:
//
//	t := device.NewMockTransport()
//	if avail := t.Probe(); avail.Available {
//	    t.Connect(ctx, "mock-0")
//	    defer t.Disconnect()
//	}
type Transport interface {
	// Kind returns the transport variant identity.
	Kind() Kind

	// State returns the current connection state.
	State() State

	// Probe checks whether this transport's prerequisites (driver, adapter,
	// paired device) are present. It never returns an error; unavailability
	// is reported through the Availability value.
	Probe() Availability

	// Capabilities reports what this transport supports.
	Capabilities() Capabilities

	// Connect establishes a session with the given target (serial port path,
	// BLE address, or synthetic id for the mock). Connecting to the target
	// the transport is already connected to is a no-op. Connecting to a
	// different target disconnects the old session first. On failure the
	// transport is left in StateFailed with no dangling resources.
	Connect(ctx context.Context, target string) error

	// Disconnect releases the underlying resource. It is best-effort and
	// safe to call when already disconnected.
	Disconnect() error

	// Send transmits one message. Fails with a NotConnected error if no
	// session is active.
	Send(payload []byte) error

	// Receive waits up to timeout for one inbound message. Expiry of the
	// timeout returns a Timeout error, distinguishable via IsTimeoutError;
	// it signals "nothing arrived yet", not a fault.
	Receive(timeout time.Duration) ([]byte, error)
}

// Target pairs a transport variant with an addressable endpoint discovered
// during a scan.
type Target struct {
	Kind   Kind   `json:"kind"`
	Target string `json:"target"`
}
