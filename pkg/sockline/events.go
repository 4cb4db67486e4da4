package sockline

import "errors"

// Lifecycle event types. These are produced locally by the Manager and can
// not be emitted by, or received from, the server.
const (
	EventConnect      = "connect"
	EventDisconnect   = "disconnect"
	EventConnectError = "connect_error"
)

// Payloads of the disconnect event
const (
	DisconnectReasonClient    = "io client disconnect"
	DisconnectReasonTransport = "transport close"
)

var (
	ErrNotConnected      = errors.New("channel is not connected")
	ErrReservedEvent     = errors.New("event type is reserved")
	ErrEmptyEventType    = errors.New("event type must not be empty")
	ErrWriteBufferFull   = errors.New("write buffer is full")
	ErrClosed            = errors.New("manager is closed")
	ErrHandshakeRejected = errors.New("handshake rejected")
)

// IsReservedEvent reports whether eventType is one of the lifecycle events.
func IsReservedEvent(eventType string) bool {
	switch eventType {
	case EventConnect, EventDisconnect, EventConnectError:
		return true
	}
	return false
}

// State is the connection state of a Manager.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}
