// Package wire defines the JSON frames exchanged over the push channel.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"expo-booking-backend/internal/event"
)

// Type discriminates frames.
type Type string

// Server to client.
const (
	TypeNotification  Type = "notification"
	TypeMessage       Type = "message"
	TypeExpoUpdate    Type = "expo_update"
	TypeBoothUpdate   Type = "booth_update"
	TypeSessionUpdate Type = "session_update"
	TypeUserUpdate    Type = "user_update"
	TypePong          Type = "pong"
)

// Client to server.
const (
	TypePing        Type = "ping"
	TypeSubscribe   Type = "subscribe"
	TypeUnsubscribe Type = "unsubscribe"
)

// ErrMalformed is returned for frames that are not valid JSON objects with a type.
var ErrMalformed = errors.New("malformed frame")

// ServerTypes lists the frame types a client may receive.
var ServerTypes = []Type{
	TypeNotification, TypeMessage, TypeExpoUpdate, TypeBoothUpdate,
	TypeSessionUpdate, TypeUserUpdate, TypePong,
}

// IsServerType reports whether t is a known server frame type.
func IsServerType(t Type) bool {
	switch t {
	case TypeNotification, TypeMessage, TypeExpoUpdate, TypeBoothUpdate,
		TypeSessionUpdate, TypeUserUpdate, TypePong:
		return true
	}
	return false
}

// ClientFrame is sent by clients: {type, data, timestamp}.
type ClientFrame struct {
	Type      Type            `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// ServerFrame is sent by the server: {type, payload, timestamp}.
type ServerFrame struct {
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Topics is the data of subscribe and unsubscribe frames.
type Topics struct {
	Topics []string `json:"topics"`
}

// BookingUpdate is the payload of booth_update and session_update frames.
type BookingUpdate struct {
	Action string `json:"action"`
	event.BookingEvent
}

// Action maps an event kind to the action clients see. Promotion is a booking
// from the promoted holder's point of view.
func Action(k event.Kind) string {
	switch k {
	case event.KindBooked, event.KindPromoted:
		return "booked"
	case event.KindWaitlisted:
		return "waitlisted"
	case event.KindReleased, event.KindCancelled:
		return "cancelled"
	}
	return string(k)
}

// UpdateType returns the frame type carrying events of a resource kind.
func UpdateType(rk event.ResourceKind) Type {
	if rk == event.ResourceSession {
		return TypeSessionUpdate
	}
	return TypeBoothUpdate
}

// Millis converts t to the wire timestamp.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// EncodeServer marshals a server frame with the given payload.
func EncodeServer(t Type, payload any, now time.Time) ([]byte, error) {
	f := ServerFrame{Type: t, Timestamp: Millis(now)}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", t, err)
		}
		f.Payload = raw
	}
	return json.Marshal(f)
}

// EncodeEvent marshals a booking event as a booth_update or session_update frame.
func EncodeEvent(ev event.BookingEvent, now time.Time) ([]byte, error) {
	return EncodeServer(UpdateType(ev.ResourceKind), BookingUpdate{Action: Action(ev.Kind), BookingEvent: ev}, now)
}

// EncodeClient marshals a client frame with the given data.
func EncodeClient(t Type, data any, now time.Time) ([]byte, error) {
	f := ClientFrame{Type: t, Timestamp: Millis(now)}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s data: %w", t, err)
		}
		f.Data = raw
	}
	return json.Marshal(f)
}

// DecodeServer parses a server frame. Unknown types are returned as-is; the
// caller decides whether to drop them.
func DecodeServer(b []byte) (ServerFrame, error) {
	var f ServerFrame
	if err := json.Unmarshal(b, &f); err != nil {
		return ServerFrame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.Type == "" {
		return ServerFrame{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return f, nil
}

// DecodeClient parses a client frame.
func DecodeClient(b []byte) (ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(b, &f); err != nil {
		return ClientFrame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.Type == "" {
		return ClientFrame{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return f, nil
}

// Update decodes the booking update carried by a booth_update or session_update frame.
func (f ServerFrame) Update() (BookingUpdate, error) {
	if f.Type != TypeBoothUpdate && f.Type != TypeSessionUpdate {
		return BookingUpdate{}, fmt.Errorf("frame %s carries no booking update", f.Type)
	}
	var u BookingUpdate
	if err := json.Unmarshal(f.Payload, &u); err != nil {
		return BookingUpdate{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !u.Kind.Valid() {
		return BookingUpdate{}, fmt.Errorf("%w: unknown event kind %q", ErrMalformed, u.Kind)
	}
	return u, nil
}

// Topics decodes subscribe and unsubscribe data.
func (f ClientFrame) Topics() ([]string, error) {
	var t Topics
	if len(f.Data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(f.Data, &t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return t.Topics, nil
}
