package device

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// Nordic UART style serial service exposed by the device firmware.
var (
	bleSerialServiceUUID = mustUUID("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	bleTxCharUUID        = mustUUID("6e400002-b5a3-f393-e0a9-e50e24dcca9e") // host -> device
	bleRxCharUUID        = mustUUID("6e400003-b5a3-f393-e0a9-e50e24dcca9e") // device -> host
)

const (
	bleNamePrefix     = "Flipper"
	bleScanTimeout    = 5 * time.Second
	bleReceiveBacklog = 32
)

func mustUUID(s string) bluetooth.UUID {
	u, err := bluetooth.ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// BLETransport connects to the device over Bluetooth LE using the adapter's
// native stack. Notifications from the device are buffered and drained one
// message per Receive call.
type BLETransport struct {
	mu      sync.Mutex
	adapter *bluetooth.Adapter
	device  bluetooth.Device
	txChar  bluetooth.DeviceCharacteristic
	target  string
	state   State
	inbound chan []byte
	enabled bool
}

// NewBLETransport creates a BLE transport backed by the default adapter.
func NewBLETransport() *BLETransport {
	return &BLETransport{
		adapter: bluetooth.DefaultAdapter,
		state:   StateDisconnected,
	}
}

func (t *BLETransport) Kind() Kind { return KindBLE }

func (t *BLETransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *BLETransport) Capabilities() Capabilities {
	// BLE ATT payloads are MTU-bound; 244 is the usable payload at MTU 247.
	return Capabilities{CanSend: true, CanReceive: true, MaxPayload: 244}
}

// Probe reports whether the BLE adapter is present and powered. A missing
// or disabled radio reports Unavailable with reason "adapter-off" rather
// than failing.
func (t *BLETransport) Probe() Availability {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.enableLocked(); err != nil {
		return Availability{Available: false, Reason: ReasonAdapterOff}
	}
	return Availability{Available: true}
}

// enableLocked powers the adapter once; Enable is not idempotent on all
// platforms so the result is remembered.
func (t *BLETransport) enableLocked() error {
	if t.enabled {
		return nil
	}
	if t.adapter == nil {
		return NewUnavailableError("Enable", KindBLE, ReasonAdapterOff)
	}
	if err := t.adapter.Enable(); err != nil {
		return err
	}
	t.enabled = true
	return nil
}

// findDevice scans for an advertisement matching either the given address
// or the device name prefix. Returns the matched scan result.
func (t *BLETransport) findDevice(ctx context.Context, target string) (bluetooth.ScanResult, error) {
	var (
		match   bluetooth.ScanResult
		found   bool
		foundMu sync.Mutex
	)

	timer := time.AfterFunc(bleScanTimeout, func() {
		t.adapter.StopScan()
	})
	defer timer.Stop()

	stop := context.AfterFunc(ctx, func() {
		t.adapter.StopScan()
	})
	defer stop()

	err := t.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		if target != "" {
			if result.Address.String() != target {
				return
			}
		} else if !strings.Contains(name, bleNamePrefix) {
			return
		}
		foundMu.Lock()
		match = result
		found = true
		foundMu.Unlock()
		adapter.StopScan()
	})
	if err != nil {
		return bluetooth.ScanResult{}, err
	}

	foundMu.Lock()
	defer foundMu.Unlock()
	if !found {
		return bluetooth.ScanResult{}, NewConnectionFailedError("Scan", KindBLE, ReasonNoSuchDevice, nil)
	}
	return match, nil
}

// FindDeviceAddress scans for the device and returns its address, or an
// empty string if nothing matching advertised within the scan window.
func (t *BLETransport) FindDeviceAddress(ctx context.Context) string {
	t.mu.Lock()
	if err := t.enableLocked(); err != nil {
		t.mu.Unlock()
		return ""
	}
	t.mu.Unlock()

	result, err := t.findDevice(ctx, "")
	if err != nil {
		return ""
	}
	return result.Address.String()
}

// FindTarget returns the advertised device address for scan results.
func (t *BLETransport) FindTarget(ctx context.Context) string {
	return t.FindDeviceAddress(ctx)
}

// Connect scans for and connects to the device, then resolves the serial
// service characteristics. An empty target matches by advertised name.
func (t *BLETransport) Connect(ctx context.Context, target string) error {
	t.mu.Lock()
	if t.state == StateConnected {
		if target == "" || target == t.target {
			t.mu.Unlock()
			return nil
		}
		t.disconnectLocked()
	}

	if err := t.enableLocked(); err != nil {
		t.state = StateFailed
		t.mu.Unlock()
		return NewConnectionFailedError("Connect", KindBLE, ReasonAdapterOff, err)
	}
	t.state = StateConnecting
	t.mu.Unlock()

	result, err := t.findDevice(ctx, target)
	if err != nil {
		t.setState(StateFailed)
		if IsConnectionFailedError(err) {
			return err
		}
		return NewConnectionFailedError("Connect", KindBLE, "", err)
	}

	dev, err := t.adapter.Connect(result.Address, bluetooth.ConnectionParams{})
	if err != nil {
		t.setState(StateFailed)
		return NewConnectionFailedError("Connect", KindBLE, blePairingReason(err), err)
	}

	services, err := dev.DiscoverServices([]bluetooth.UUID{bleSerialServiceUUID})
	if err != nil || len(services) == 0 {
		dev.Disconnect()
		t.setState(StateFailed)
		return NewConnectionFailedError("Connect", KindBLE, ReasonServiceNotFound, err)
	}

	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{bleTxCharUUID, bleRxCharUUID})
	if err != nil || len(chars) < 2 {
		dev.Disconnect()
		t.setState(StateFailed)
		return NewConnectionFailedError("Connect", KindBLE, ReasonServiceNotFound, err)
	}

	var txChar, rxChar bluetooth.DeviceCharacteristic
	for _, c := range chars {
		switch c.UUID() {
		case bleTxCharUUID:
			txChar = c
		case bleRxCharUUID:
			rxChar = c
		}
	}

	inbound := make(chan []byte, bleReceiveBacklog)
	if err := rxChar.EnableNotifications(func(buf []byte) {
		msg := make([]byte, len(buf))
		copy(msg, buf)
		select {
		case inbound <- msg:
		default:
			log.Println("BLE inbound buffer full, dropping notification")
		}
	}); err != nil {
		dev.Disconnect()
		t.setState(StateFailed)
		return NewConnectionFailedError("Connect", KindBLE, "", err)
	}

	t.mu.Lock()
	t.device = dev
	t.txChar = txChar
	t.target = result.Address.String()
	t.inbound = inbound
	t.state = StateConnected
	t.mu.Unlock()

	log.Printf("Connected to BLE device: %s (%s)", result.LocalName(), result.Address.String())
	return nil
}

func blePairingReason(err error) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "pair") || strings.Contains(msg, "bond") || strings.Contains(msg, "authentication") {
		return ReasonPairingRequired
	}
	return ""
}

func (t *BLETransport) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *BLETransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnectLocked()
	return nil
}

func (t *BLETransport) disconnectLocked() {
	if t.state == StateConnected {
		if err := t.device.Disconnect(); err != nil {
			log.Printf("BLE disconnect error: %v", err)
		}
	}
	t.inbound = nil
	t.state = StateDisconnected
}

func (t *BLETransport) Send(payload []byte) error {
	t.mu.Lock()
	connected := t.state == StateConnected
	txChar := t.txChar
	t.mu.Unlock()

	if !connected {
		return NewNotConnectedError("Send")
	}

	max := t.Capabilities().MaxPayload
	for len(payload) > 0 {
		chunk := payload
		if len(chunk) > max {
			chunk = chunk[:max]
		}
		if _, err := txChar.WriteWithoutResponse(chunk); err != nil {
			return NewSendError("Send", err)
		}
		payload = payload[len(chunk):]
	}
	return nil
}

func (t *BLETransport) Receive(timeout time.Duration) ([]byte, error) {
	t.mu.Lock()
	connected := t.state == StateConnected
	inbound := t.inbound
	t.mu.Unlock()

	if !connected || inbound == nil {
		return nil, NewNotConnectedError("Receive")
	}

	select {
	case msg := <-inbound:
		return msg, nil
	case <-time.After(timeout):
		return nil, NewTimeoutError("Receive")
	}
}
