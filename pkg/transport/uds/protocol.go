package uds

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
)

var reqCounter atomic.Uint64

// MsgType identifies the kind of message.
type MsgType string

const (
	MsgTypeReq MsgType = "req"
	MsgTypeRes MsgType = "res"
	MsgTypeEvt MsgType = "evt"
)

// Message is the NDJSON envelope for all communication.
type Message struct {
	Type   MsgType         `json:"type"`
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// NewRequest creates a new request message with a unique ID.
func NewRequest(method string, data any) (Message, error) {
	id := fmt.Sprintf("req-%d", reqCounter.Add(1))
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Message{}, err
		}
		raw = b
	}
	return Message{
		Type:   MsgTypeReq,
		ID:     id,
		Method: method,
		Data:   raw,
	}, nil
}

// NewResponse creates a response to a request.
func NewResponse(reqID, method string, data any) (Message, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Message{}, err
		}
		raw = b
	}
	return Message{
		Type:   MsgTypeRes,
		ID:     reqID,
		Method: method,
		Data:   raw,
	}, nil
}

// NewErrorResponse creates an error response.
func NewErrorResponse(reqID, method, errMsg string) Message {
	return Message{
		Type:   MsgTypeRes,
		ID:     reqID,
		Method: method,
		Error:  errMsg,
	}
}

// NewEvent creates a server-pushed event.
func NewEvent(method string, data any) (Message, error) {
	id := fmt.Sprintf("evt-%d", reqCounter.Add(1))
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return Message{}, err
		}
		raw = b
	}
	return Message{
		Type:   MsgTypeEvt,
		ID:     id,
		Method: method,
		Data:   raw,
	}, nil
}

// UnmarshalData decodes the message payload into v.
func (m Message) UnmarshalData(v any) error {
	if len(m.Data) == 0 {
		return fmt.Errorf("%s: empty payload", m.Method)
	}
	if err := json.Unmarshal(m.Data, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", m.Method, err)
	}
	return nil
}

// Methods
const (
	MethodPing         = "Ping"
	MethodListDevices  = "ListDevices"
	MethodConnect      = "Connect"
	MethodDisconnect   = "Disconnect"
	MethodInstall      = "Install"
	MethodLaunch       = "Launch"
	MethodBringToFront = "BringToFront"

	EventDevicesDelta  = "devices.delta"
	EventTraceCaptured = "trace.captured"
	EventDeviceRemoved = "device.removed"
)

// PingResponse is the response to a Ping request.
type PingResponse struct {
	Pong bool `json:"pong"`
}

// DeviceRequest is the payload for Connect, Disconnect and BringToFront.
type DeviceRequest struct {
	Serial string `json:"serial"`
}

// OKResponse acknowledges a request that has no other result.
type OKResponse struct {
	OK bool `json:"ok"`
}

// InstallRequest is the payload for Install. APK is a path on the daemon host.
type InstallRequest struct {
	Serial string `json:"serial"`
	APK    string `json:"apk"`
}

// InstallResponse carries the outcome and the status messages reported
// while installing.
type InstallResponse struct {
	OK      bool     `json:"ok"`
	Notices []string `json:"notices,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// LaunchRequest is the payload for Launch.
type LaunchRequest struct {
	Serial   string `json:"serial"`
	Package  string `json:"package"`
	Activity string `json:"activity"`
}

// DeviceRemovedEvent is pushed when a device session ends.
type DeviceRemovedEvent struct {
	Serial string `json:"serial"`
}
