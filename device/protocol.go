package device

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
)

// MessageType identifies the role of an RPC frame.
type MessageType uint8

const (
	MessageCommand MessageType = iota
	MessageResponse
	MessageEvent
	MessageError
)

// frame header: type(1) + commandID(4) + commandLen(4) + argsLen(4) + dataLen(4)
const rpcHeaderSize = 1 + 4 + 4 + 4 + 4

// RPCMessage is one frame of the device's RPC protocol.
type RPCMessage struct {
	Type      MessageType
	CommandID uint32
	Command   string
	Args      map[string]any
	Data      []byte
}

// ProtocolError reports a malformed or undecodable frame.
type ProtocolError struct {
	Op      string
	Message string
	Cause   error
}

func (e *ProtocolError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *ProtocolError) Unwrap() error { return e.Cause }

// EncodeMessage serializes a frame to wire format: big-endian header,
// command string, JSON-encoded args, raw data.
func EncodeMessage(msg *RPCMessage) ([]byte, error) {
	command := []byte(msg.Command)

	var args []byte
	if len(msg.Args) > 0 {
		var err error
		args, err = json.Marshal(msg.Args)
		if err != nil {
			return nil, &ProtocolError{Op: "EncodeMessage", Message: "failed to encode args", Cause: err}
		}
	}

	out := make([]byte, rpcHeaderSize, rpcHeaderSize+len(command)+len(args)+len(msg.Data))
	out[0] = byte(msg.Type)
	binary.BigEndian.PutUint32(out[1:], msg.CommandID)
	binary.BigEndian.PutUint32(out[5:], uint32(len(command)))
	binary.BigEndian.PutUint32(out[9:], uint32(len(args)))
	binary.BigEndian.PutUint32(out[13:], uint32(len(msg.Data)))

	out = append(out, command...)
	out = append(out, args...)
	out = append(out, msg.Data...)
	return out, nil
}

// DecodeMessage parses a frame from wire format.
func DecodeMessage(data []byte) (*RPCMessage, error) {
	if len(data) < rpcHeaderSize {
		return nil, &ProtocolError{Op: "DecodeMessage", Message: "message too short"}
	}

	msg := &RPCMessage{
		Type:      MessageType(data[0]),
		CommandID: binary.BigEndian.Uint32(data[1:]),
	}
	if msg.Type > MessageError {
		return nil, &ProtocolError{Op: "DecodeMessage", Message: fmt.Sprintf("unknown message type %d", data[0])}
	}

	cmdLen := binary.BigEndian.Uint32(data[5:])
	argsLen := binary.BigEndian.Uint32(data[9:])
	dataLen := binary.BigEndian.Uint32(data[13:])

	total := uint64(rpcHeaderSize) + uint64(cmdLen) + uint64(argsLen) + uint64(dataLen)
	if uint64(len(data)) < total {
		return nil, &ProtocolError{Op: "DecodeMessage", Message: "truncated message"}
	}

	offset := uint32(rpcHeaderSize)
	msg.Command = string(data[offset : offset+cmdLen])
	offset += cmdLen

	if argsLen > 0 {
		if err := json.Unmarshal(data[offset:offset+argsLen], &msg.Args); err != nil {
			return nil, &ProtocolError{Op: "DecodeMessage", Message: "failed to decode args", Cause: err}
		}
	}
	offset += argsLen

	if dataLen > 0 {
		msg.Data = make([]byte, dataLen)
		copy(msg.Data, data[offset:offset+dataLen])
	}
	return msg, nil
}

// CommandIDGenerator hands out wrapping RPC command IDs.
type CommandIDGenerator struct {
	mu   sync.Mutex
	next uint32
}

// Next returns the next command ID. IDs wrap and never repeat 0 after the
// first call, matching firmware expectations.
func (g *CommandIDGenerator) Next() uint32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	if g.next == 0 {
		g.next = 1
	}
	return g.next
}

// NewCommand builds a command frame with a fresh ID from the generator.
func (g *CommandIDGenerator) NewCommand(command string, args map[string]any, data []byte) *RPCMessage {
	return &RPCMessage{
		Type:      MessageCommand,
		CommandID: g.Next(),
		Command:   command,
		Args:      args,
		Data:      data,
	}
}
