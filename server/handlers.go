package server

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/hydraremote/hydra-agent/device"
	"github.com/hydraremote/hydra-agent/library"
	"github.com/hydraremote/hydra-agent/runtime"
)

// submitTimeout bounds how long a request handler waits for the runtime to
// finish its task before giving up on the client's behalf.
const submitTimeout = 30 * time.Second

// await submits an operation to the runtime and blocks the handler until it
// completes. Handlers run on per-client read loops, so blocking here keeps
// requests from one client ordered without stalling other clients.
func await(rt *runtime.Runtime, name string, op runtime.Operation) (any, error) {
	handle := rt.Submit(name, op)
	if !runtime.WaitTimeout(handle, submitTimeout) {
		handle.Cancel()
		return nil, fmt.Errorf("%s: timed out after %s", name, submitTimeout)
	}
	return handle.Result()
}

func stringField(req *WebsocketRequest, key string) string {
	v, _ := req.Payload[key].(string)
	return v
}

func stringSliceField(req *WebsocketRequest, key string) []string {
	raw, ok := req.Payload[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// DeviceHandler serves device control requests over the WebSocket bridge.
type DeviceHandler struct {
	manager *device.Manager
	rt      *runtime.Runtime
	cmdIDs  device.CommandIDGenerator
}

// Register registers all device message types with the server.
func (h *DeviceHandler) Register(s HandlerServer) {
	handlers := map[string]HandlerFunc{
		"scan":         h.handleScan,
		"connect":      h.handleConnect,
		"disconnect":   h.handleDisconnect,
		"test":         h.handleTest,
		"send":         h.handleSend,
		"receive":      h.handleReceive,
		"transmit":     h.handleTransmit,
		"sendCommand":  h.handleSendCommand,
		"deviceStatus": h.handleStatus,
	}
	for messageType, handler := range handlers {
		if err := s.Handle(messageType, handler); err != nil {
			log.Printf("Failed to register device handler %q: %v", messageType, err)
		}
	}
}

func (h *DeviceHandler) handleScan(client *Client, req *WebsocketRequest) (any, error) {
	return await(h.rt, "scan", func(ctx context.Context) (any, error) {
		return h.manager.Scan(ctx), nil
	})
}

func (h *DeviceHandler) handleConnect(client *Client, req *WebsocketRequest) (any, error) {
	kind := device.Kind(stringField(req, "transport"))
	if kind == "" {
		return nil, fmt.Errorf("connect: transport is required")
	}
	target := stringField(req, "target")

	return await(h.rt, "connect", func(ctx context.Context) (any, error) {
		if err := h.manager.Connect(ctx, kind, target); err != nil {
			return nil, err
		}
		return h.manager.Info(), nil
	})
}

func (h *DeviceHandler) handleDisconnect(client *Client, req *WebsocketRequest) (any, error) {
	return await(h.rt, "disconnect", func(ctx context.Context) (any, error) {
		return nil, h.manager.Disconnect()
	})
}

func (h *DeviceHandler) handleTest(client *Client, req *WebsocketRequest) (any, error) {
	return await(h.rt, "test", func(ctx context.Context) (any, error) {
		if err := h.manager.TestConnection(); err != nil {
			return map[string]any{"ok": false, "reason": err.Error()}, nil
		}
		return map[string]any{"ok": true}, nil
	})
}

func (h *DeviceHandler) handleSend(client *Client, req *WebsocketRequest) (any, error) {
	data := stringField(req, "data")
	if data == "" {
		return nil, fmt.Errorf("send: data is required")
	}
	return await(h.rt, "send", func(ctx context.Context) (any, error) {
		return nil, h.manager.Send([]byte(data))
	})
}

func (h *DeviceHandler) handleReceive(client *Client, req *WebsocketRequest) (any, error) {
	timeout := time.Second
	if ms, ok := req.Payload["timeoutMs"].(float64); ok && ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	return await(h.rt, "receive", func(ctx context.Context) (any, error) {
		data, err := h.manager.Receive(timeout)
		if err != nil {
			return nil, err
		}
		return map[string]any{"data": string(data)}, nil
	})
}

func (h *DeviceHandler) handleTransmit(client *Client, req *WebsocketRequest) (any, error) {
	data := stringField(req, "data")
	if data == "" {
		return nil, fmt.Errorf("transmit: data is required")
	}
	return await(h.rt, "transmit", func(ctx context.Context) (any, error) {
		return nil, h.manager.Transmit([]byte(data))
	})
}

// handleSendCommand frames a named firmware command as an RPC message and
// sends it through the active transport. The assigned command ID is
// returned so the client can correlate a later response frame.
func (h *DeviceHandler) handleSendCommand(client *Client, req *WebsocketRequest) (any, error) {
	command := stringField(req, "command")
	if command == "" {
		return nil, fmt.Errorf("sendCommand: command is required")
	}
	args, _ := req.Payload["args"].(map[string]any)
	data := stringField(req, "data")

	msg := h.cmdIDs.NewCommand(command, args, []byte(data))
	frame, err := device.EncodeMessage(msg)
	if err != nil {
		return nil, err
	}
	return await(h.rt, "sendCommand", func(ctx context.Context) (any, error) {
		if err := h.manager.Send(frame); err != nil {
			return nil, err
		}
		return map[string]any{"commandId": msg.CommandID}, nil
	})
}

func (h *DeviceHandler) handleStatus(client *Client, req *WebsocketRequest) (any, error) {
	payload := map[string]any{"state": h.manager.State()}
	if info := h.manager.Info(); info != nil {
		payload["transport"] = info.Kind
		payload["target"] = info.Target
	}
	return payload, nil
}

// LibraryHandler serves signal library requests over the WebSocket bridge.
type LibraryHandler struct {
	library *library.Library
	rt      *runtime.Runtime
}

// Register registers all library message types with the server.
func (h *LibraryHandler) Register(s HandlerServer) {
	handlers := map[string]HandlerFunc{
		"libraryList":           h.handleList,
		"libraryCategories":     h.handleCategories,
		"libraryCreateCategory": h.handleCreateCategory,
		"libraryGet":            h.handleGet,
		"libraryAdd":            h.handleAdd,
		"libraryDelete":         h.handleDelete,
		"librarySearch":         h.handleSearch,
		"libraryImport":         h.handleImport,
	}
	for messageType, handler := range handlers {
		if err := s.Handle(messageType, handler); err != nil {
			log.Printf("Failed to register library handler %q: %v", messageType, err)
		}
	}
}

func (h *LibraryHandler) handleList(client *Client, req *WebsocketRequest) (any, error) {
	category := stringField(req, "category")
	return await(h.rt, "libraryList", func(ctx context.Context) (any, error) {
		if category != "" {
			return h.library.AssetsInCategory(category), nil
		}
		return h.library.Assets(), nil
	})
}

func (h *LibraryHandler) handleCategories(client *Client, req *WebsocketRequest) (any, error) {
	return await(h.rt, "libraryCategories", func(ctx context.Context) (any, error) {
		return h.library.Categories()
	})
}

func (h *LibraryHandler) handleCreateCategory(client *Client, req *WebsocketRequest) (any, error) {
	name := stringField(req, "name")
	if name == "" {
		return nil, fmt.Errorf("createCategory: name is required")
	}
	return await(h.rt, "libraryCreateCategory", func(ctx context.Context) (any, error) {
		return nil, h.library.CreateCategory(name)
	})
}

func (h *LibraryHandler) handleGet(client *Client, req *WebsocketRequest) (any, error) {
	identity := stringField(req, "identity")
	if identity == "" {
		return nil, fmt.Errorf("get: identity is required")
	}
	return await(h.rt, "libraryGet", func(ctx context.Context) (any, error) {
		asset, payload, err := h.library.GetAsset(identity)
		if err != nil {
			return nil, err
		}
		return map[string]any{"asset": asset, "payload": string(payload)}, nil
	})
}

func (h *LibraryHandler) handleAdd(client *Client, req *WebsocketRequest) (any, error) {
	category := stringField(req, "category")
	name := stringField(req, "name")
	payload := stringField(req, "payload")
	tags := stringSliceField(req, "tags")
	if category == "" || name == "" {
		return nil, fmt.Errorf("add: category and name are required")
	}
	return await(h.rt, "libraryAdd", func(ctx context.Context) (any, error) {
		return h.library.AddAsset(category, name, []byte(payload), tags)
	})
}

func (h *LibraryHandler) handleDelete(client *Client, req *WebsocketRequest) (any, error) {
	identity := stringField(req, "identity")
	if identity == "" {
		return nil, fmt.Errorf("delete: identity is required")
	}
	return await(h.rt, "libraryDelete", func(ctx context.Context) (any, error) {
		return nil, h.library.DeleteAsset(identity)
	})
}

func (h *LibraryHandler) handleSearch(client *Client, req *WebsocketRequest) (any, error) {
	q := library.Query{
		Text: stringField(req, "text"),
		Tags: stringSliceField(req, "tags"),
	}
	if freq, ok := req.Payload["frequency"].(float64); ok {
		q.Frequency = freq
	}
	if tol, ok := req.Payload["tolerance"].(float64); ok {
		q.Tolerance = tol
	}
	return await(h.rt, "librarySearch", func(ctx context.Context) (any, error) {
		return h.library.Search(q), nil
	})
}

func (h *LibraryHandler) handleImport(client *Client, req *WebsocketRequest) (any, error) {
	dir := stringField(req, "dir")
	if dir == "" {
		return nil, fmt.Errorf("import: dir is required")
	}
	return await(h.rt, "libraryImport", func(ctx context.Context) (any, error) {
		count, err := h.library.ImportDirectory(dir)
		if err != nil {
			return nil, err
		}
		return map[string]any{"imported": count}, nil
	})
}
