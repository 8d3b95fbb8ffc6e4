package event

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind is the closed set of booking transitions pushed to clients.
type Kind string

const (
	KindBooked     Kind = "booked"
	KindReleased   Kind = "released"
	KindWaitlisted Kind = "waitlisted"
	KindPromoted   Kind = "promoted"
	KindCancelled  Kind = "cancelled"
)

// Kinds lists every booking event kind.
var Kinds = []Kind{KindBooked, KindReleased, KindWaitlisted, KindPromoted, KindCancelled}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindBooked, KindReleased, KindWaitlisted, KindPromoted, KindCancelled:
		return true
	}
	return false
}

// ResourceKind tells booths and sessions apart.
type ResourceKind string

const (
	ResourceBooth   ResourceKind = "booth"
	ResourceSession ResourceKind = "session"
)

// Valid reports whether r is booth or session.
func (r ResourceKind) Valid() bool {
	return r == ResourceBooth || r == ResourceSession
}

// BookingEvent is the immutable unit fanned out over the push channel.
type BookingEvent struct {
	ID            string         `json:"id"`
	ResourceID    string         `json:"resourceId"`
	ResourceKind  ResourceKind   `json:"resourceKind"`
	ParentEventID string         `json:"parentEventId"`
	Kind          Kind           `json:"kind"`
	ActorID       string         `json:"actorId,omitempty"`
	HolderID      string         `json:"holderId,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// New stamps a fresh id and timestamp on an event.
func New(kind Kind, rk ResourceKind, resourceID, parentEventID, actorID, holderID string, now time.Time) BookingEvent {
	return BookingEvent{
		ID:            uuid.NewString(),
		ResourceID:    resourceID,
		ResourceKind:  rk,
		ParentEventID: parentEventID,
		Kind:          kind,
		ActorID:       actorID,
		HolderID:      holderID,
		Timestamp:     now.UTC(),
	}
}

// Topics returns the subscription topics an event is relevant to.
func (e BookingEvent) Topics() []string {
	topics := e.PublicTopics()
	if e.HolderID != "" {
		topics = append(topics, UserTopic(e.HolderID))
	}
	return topics
}

// PublicTopics returns the resource and expo topics, which any connection may join.
func (e BookingEvent) PublicTopics() []string {
	return []string{e.ResourceID, e.ParentEventID}
}

// Public returns a copy without user identities, for delivery on public topics.
func (e BookingEvent) Public() BookingEvent {
	e.ActorID = ""
	e.HolderID = ""
	return e
}

const userTopicPrefix = "user:"

// UserTopic is the per-user topic every connection is implicitly subscribed to.
func UserTopic(userID string) string {
	return userTopicPrefix + userID
}

// IsUserTopic reports whether topic is some user's private topic.
func IsUserTopic(topic string) bool {
	return strings.HasPrefix(topic, userTopicPrefix)
}
