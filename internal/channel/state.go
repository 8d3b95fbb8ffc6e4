package channel

import (
	"encoding/json"
	"time"

	"expo-booking-backend/internal/event"
	"expo-booking-backend/internal/wire"
)

// State is the connection state of a Client.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// Key selects the handlers a Message is delivered to.
type Key string

// Local keys raised by the client itself.
const (
	KeyConnected       Key = "connected"
	KeyDisconnected    Key = "disconnected"
	KeyError           Key = "error"
	KeyReconnecting    Key = "reconnecting"
	KeyReconnectFailed Key = "reconnect_failed"
)

// FrameKey is the key of every inbound frame of type t.
func FrameKey(t wire.Type) Key { return Key(t) }

// EventKey is the key of booth and session updates of kind k.
func EventKey(k event.Kind) Key { return Key(k) }

// Message is what handlers receive.
type Message struct {
	Key Key
	// Type and Payload are set for inbound frames.
	Type    wire.Type
	Payload json.RawMessage
	// Update is set for booth_update and session_update frames.
	Update *wire.BookingUpdate
	// Attempt and Delay are set for reconnecting.
	Attempt int
	Delay   time.Duration
	// Err is set for error and for disconnected when the transport failed.
	Err       error
	Timestamp time.Time
}

// Handler consumes messages. Handlers run on the connection's read goroutine
// and must not block or call Close.
type Handler func(Message)

// HandlerID identifies a registration for Off.
type HandlerID uint64
