package server

import (
	"context"
	"testing"
	"time"

	"github.com/hydraremote/hydra-agent/device"
	"github.com/hydraremote/hydra-agent/library"
	"github.com/hydraremote/hydra-agent/runtime"
)

func testRuntime(t *testing.T) *runtime.Runtime {
	t.Helper()
	rt := runtime.New(16)
	rt.Start()

	// Drain completions the way the server does at runtime.
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for {
			select {
			case c := <-rt.Dispatch():
				c.Deliver()
			case <-ctx.Done():
				return
			}
		}
	}()

	t.Cleanup(func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
		defer shutdownCancel()
		rt.Shutdown(shutdownCtx)
		cancel()
	})
	return rt
}

func testDeviceHandler(t *testing.T) (*DeviceHandler, *device.MockTransport) {
	t.Helper()
	mock := device.NewMockTransport()
	manager := device.NewManager(100 * time.Millisecond)
	manager.Register(mock)
	return &DeviceHandler{manager: manager, rt: testRuntime(t)}, mock
}

func request(msgType string, payload map[string]any) *WebsocketRequest {
	return &WebsocketRequest{ID: "req-1", Type: msgType, Payload: payload}
}

func TestDeviceHandlerScan(t *testing.T) {
	h, _ := testDeviceHandler(t)

	result, err := h.handleScan(nil, request("scan", nil))
	if err != nil {
		t.Fatalf("handleScan failed: %v", err)
	}
	entries, ok := result.([]device.ScanEntry)
	if !ok {
		t.Fatalf("Expected []device.ScanEntry, got %T", result)
	}
	if len(entries) != 1 || entries[0].Kind != device.KindMock {
		t.Errorf("Expected single mock entry, got %+v", entries)
	}
}

func TestDeviceHandlerConnectSendReceive(t *testing.T) {
	h, _ := testDeviceHandler(t)

	if _, err := h.handleConnect(nil, request("connect", map[string]any{"transport": "mock"})); err != nil {
		t.Fatalf("handleConnect failed: %v", err)
	}

	if _, err := h.handleSend(nil, request("send", map[string]any{"data": "hello"})); err != nil {
		t.Fatalf("handleSend failed: %v", err)
	}

	result, err := h.handleReceive(nil, request("receive", map[string]any{"timeoutMs": float64(500)}))
	if err != nil {
		t.Fatalf("handleReceive failed: %v", err)
	}
	payload, ok := result.(map[string]any)
	if !ok || payload["data"] != "hello" {
		t.Errorf("Expected echoed data, got %v", result)
	}

	if _, err := h.handleDisconnect(nil, request("disconnect", nil)); err != nil {
		t.Fatalf("handleDisconnect failed: %v", err)
	}
}

func TestDeviceHandlerConnectRequiresTransport(t *testing.T) {
	h, _ := testDeviceHandler(t)
	if _, err := h.handleConnect(nil, request("connect", nil)); err == nil {
		t.Errorf("Expected error for connect without transport")
	}
}

func TestDeviceHandlerTest(t *testing.T) {
	h, _ := testDeviceHandler(t)
	if _, err := h.handleConnect(nil, request("connect", map[string]any{"transport": "mock"})); err != nil {
		t.Fatalf("handleConnect failed: %v", err)
	}

	result, err := h.handleTest(nil, request("test", nil))
	if err != nil {
		t.Fatalf("handleTest failed: %v", err)
	}
	payload := result.(map[string]any)
	if ok, _ := payload["ok"].(bool); !ok {
		t.Errorf("Expected test to pass on mock, got %v", payload)
	}
}

func TestDeviceHandlerSendCommand(t *testing.T) {
	h, _ := testDeviceHandler(t)
	if _, err := h.handleConnect(nil, request("connect", map[string]any{"transport": "mock"})); err != nil {
		t.Fatalf("handleConnect failed: %v", err)
	}

	result, err := h.handleSendCommand(nil, request("sendCommand", map[string]any{
		"command": "tx_start",
		"args":    map[string]any{"frequency": 433.92},
	}))
	if err != nil {
		t.Fatalf("handleSendCommand failed: %v", err)
	}
	payload := result.(map[string]any)
	id, ok := payload["commandId"].(uint32)
	if !ok || id == 0 {
		t.Fatalf("Expected non-zero command ID, got %v", payload["commandId"])
	}

	// The mock echoes the frame back; it must decode to the same command.
	raw, err := h.manager.Receive(500 * time.Millisecond)
	if err != nil {
		t.Fatalf("Receive failed: %v", err)
	}
	msg, err := device.DecodeMessage(raw)
	if err != nil {
		t.Fatalf("DecodeMessage failed: %v", err)
	}
	if msg.Command != "tx_start" || msg.CommandID != id {
		t.Errorf("Expected tx_start frame with ID %d, got %+v", id, msg)
	}
}

func TestDeviceHandlerSendCommandRequiresCommand(t *testing.T) {
	h, _ := testDeviceHandler(t)
	if _, err := h.handleSendCommand(nil, request("sendCommand", nil)); err == nil {
		t.Errorf("Expected error for sendCommand without command")
	}
}

func TestDeviceHandlerTransmitRequiresData(t *testing.T) {
	h, _ := testDeviceHandler(t)
	if _, err := h.handleTransmit(nil, request("transmit", nil)); err == nil {
		t.Errorf("Expected error for transmit without data")
	}
}

func testLibraryHandler(t *testing.T) *LibraryHandler {
	t.Helper()
	lib, err := library.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := lib.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return &LibraryHandler{library: lib, rt: testRuntime(t)}
}

func TestLibraryHandlerAddGetDelete(t *testing.T) {
	h := testLibraryHandler(t)

	payload := "Frequency: 433920000\nModulation: OOK\n"
	result, err := h.handleAdd(nil, request("libraryAdd", map[string]any{
		"category": "garage",
		"name":     "gate1",
		"payload":  payload,
		"tags":     []any{"home"},
	}))
	if err != nil {
		t.Fatalf("handleAdd failed: %v", err)
	}
	asset, ok := result.(*library.Asset)
	if !ok || asset.Identity() != "garage/gate1" {
		t.Fatalf("Expected added asset, got %v", result)
	}

	got, err := h.handleGet(nil, request("libraryGet", map[string]any{"identity": "garage/gate1"}))
	if err != nil {
		t.Fatalf("handleGet failed: %v", err)
	}
	body := got.(map[string]any)
	if body["payload"] != payload {
		t.Errorf("Expected payload round-trip, got %v", body["payload"])
	}

	if _, err := h.handleDelete(nil, request("libraryDelete", map[string]any{"identity": "garage/gate1"})); err != nil {
		t.Fatalf("handleDelete failed: %v", err)
	}
	if _, err := h.handleGet(nil, request("libraryGet", map[string]any{"identity": "garage/gate1"})); err == nil {
		t.Errorf("Expected get after delete to fail")
	}
}

func TestLibraryHandlerListAndSearch(t *testing.T) {
	h := testLibraryHandler(t)

	add := func(category, name string) {
		t.Helper()
		_, err := h.handleAdd(nil, request("libraryAdd", map[string]any{
			"category": category,
			"name":     name,
			"payload":  "Frequency: 433920000\n",
		}))
		if err != nil {
			t.Fatalf("handleAdd failed: %v", err)
		}
	}
	add("garage", "gate1")
	add("garage", "gate2")
	add("automotive", "fob")

	result, err := h.handleList(nil, request("libraryList", map[string]any{"category": "garage"}))
	if err != nil {
		t.Fatalf("handleList failed: %v", err)
	}
	if assets := result.([]*library.Asset); len(assets) != 2 {
		t.Errorf("Expected 2 garage assets, got %d", len(assets))
	}

	result, err = h.handleSearch(nil, request("librarySearch", map[string]any{"text": "gate"}))
	if err != nil {
		t.Fatalf("handleSearch failed: %v", err)
	}
	if assets := result.([]*library.Asset); len(assets) != 2 {
		t.Errorf("Expected 2 search matches, got %d", len(assets))
	}
}
