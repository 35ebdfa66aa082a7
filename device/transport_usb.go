package device

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

// USB identifiers the device enumerates as, depending on firmware mode.
var usbProductIDs = map[string]string{
	"5740": "cdc",
	"df11": "dfu",
	"5741": "cli",
	"5742": "serial",
}

const usbVendorID = "0483"

// Serial settings expected by the device CLI: 115200 8N1.
var usbSerialMode = serial.Mode{
	BaudRate: 115200,
	DataBits: 8,
	Parity:   serial.NoParity,
	StopBits: serial.OneStopBit,
}

// USBTransport connects to the device over a USB CDC serial port.
type USBTransport struct {
	mu     sync.Mutex
	target string
	port   serial.Port
	state  State
}

// NewUSBTransport creates a USB serial transport. The target port is chosen
// at Connect time; pass an empty target to auto-detect.
func NewUSBTransport() *USBTransport {
	return &USBTransport{state: StateDisconnected}
}

func (t *USBTransport) Kind() Kind { return KindUSB }

func (t *USBTransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *USBTransport) Capabilities() Capabilities {
	return Capabilities{CanSend: true, CanReceive: true}
}

// FindPorts returns serial ports whose USB identifiers match the device.
func FindPorts() []string {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		log.Printf("USB port enumeration failed: %v", err)
		return nil
	}

	var found []string
	for _, p := range ports {
		if !p.IsUSB {
			continue
		}
		if !strings.EqualFold(p.VID, usbVendorID) {
			continue
		}
		if _, ok := usbProductIDs[strings.ToLower(p.PID)]; ok {
			found = append(found, p.Name)
		}
	}
	return found
}

// FindTarget returns the first matching serial port for scan results.
func (t *USBTransport) FindTarget(ctx context.Context) string {
	if ports := FindPorts(); len(ports) > 0 {
		return ports[0]
	}
	return ""
}

// Probe reports whether a matching serial port is present. Enumeration
// failures (missing driver, no serial subsystem) yield Unavailable, never
// an error.
func (t *USBTransport) Probe() Availability {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return Availability{Available: false, Reason: err.Error()}
	}
	for _, p := range ports {
		if p.IsUSB && strings.EqualFold(p.VID, usbVendorID) {
			if _, ok := usbProductIDs[strings.ToLower(p.PID)]; ok {
				return Availability{Available: true}
			}
		}
	}
	return Availability{Available: false, Reason: ReasonNoSuchDevice}
}

// Connect opens the serial port. An empty target auto-detects the first
// matching port.
func (t *USBTransport) Connect(ctx context.Context, target string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateConnected && t.port != nil {
		if target == "" || target == t.target {
			return nil
		}
		// Switching targets: close the old session first.
		t.closeLocked()
	}

	if target == "" {
		candidates := FindPorts()
		if len(candidates) == 0 {
			t.state = StateFailed
			return NewConnectionFailedError("Connect", KindUSB, ReasonNoSuchDevice, nil)
		}
		target = candidates[0]
		log.Printf("No USB port specified, using first detected: %s", target)
	}

	if err := ctx.Err(); err != nil {
		t.state = StateDisconnected
		return NewConnectionFailedError("Connect", KindUSB, "", err)
	}

	t.state = StateConnecting
	port, err := serial.Open(target, &usbSerialMode)
	if err != nil {
		t.state = StateFailed
		return NewConnectionFailedError("Connect", KindUSB, usbFailureReason(err), err)
	}

	t.port = port
	t.target = target
	t.state = StateConnected
	log.Printf("Connected to USB serial port: %s", target)
	return nil
}

// usbFailureReason maps a serial open error onto a well-known reason.
func usbFailureReason(err error) string {
	if portErr, ok := err.(*serial.PortError); ok {
		switch portErr.Code() {
		case serial.PortBusy:
			return ReasonPortBusy
		case serial.PermissionDenied:
			return ReasonPermissionDenied
		case serial.PortNotFound:
			return ReasonNoSuchDevice
		}
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"):
		return ReasonPermissionDenied
	case strings.Contains(msg, "busy"):
		return ReasonPortBusy
	case strings.Contains(msg, "no such"):
		return ReasonNoSuchDevice
	}
	return ""
}

func (t *USBTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
	return nil
}

func (t *USBTransport) closeLocked() {
	if t.port != nil {
		if err := t.port.Close(); err != nil {
			log.Printf("Error closing serial port %s: %v", t.target, err)
		}
		t.port = nil
	}
	t.state = StateDisconnected
}

func (t *USBTransport) Send(payload []byte) error {
	t.mu.Lock()
	port := t.port
	connected := t.state == StateConnected
	t.mu.Unlock()

	if !connected || port == nil {
		return NewNotConnectedError("Send")
	}

	written := 0
	for written < len(payload) {
		n, err := port.Write(payload[written:])
		if err != nil {
			return NewSendError("Send", err)
		}
		written += n
	}
	return nil
}

func (t *USBTransport) Receive(timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	port := t.port
	connected := t.state == StateConnected
	t.mu.Unlock()

	if !connected || port == nil {
		return nil, NewNotConnectedError("Receive")
	}

	if err := port.SetReadTimeout(timeout); err != nil {
		return nil, NewReceiveError("Receive", err)
	}

	buf := make([]byte, 4096)
	n, err := port.Read(buf)
	if err != nil {
		return nil, NewReceiveError("Receive", err)
	}
	if n == 0 {
		// go.bug.st/serial signals an expired read timeout with n == 0.
		return nil, NewTimeoutError("Receive")
	}
	return buf[:n], nil
}
