package booking

import (
	"time"

	"expo-booking-backend/internal/event"
	"expo-booking-backend/internal/ledger"
)

// eventsFor derives the booking events of a committed change. A promotion
// always yields released before promoted.
func eventsFor(kind event.ResourceKind, c ledger.Change, actorID string, now time.Time) []event.BookingEvent {
	st := c.Next
	mk := func(k event.Kind, holder string) event.BookingEvent {
		ev := event.New(k, kind, st.ResourceID, st.ParentEventID, actorID, holder, now)
		ev.Payload = map[string]any{
			"status":        string(st.Status()),
			"capacity":      st.Capacity,
			"holderCount":   len(st.Holders),
			"waitlistCount": len(st.Waitlist),
		}
		return ev
	}

	switch c.Op {
	case ledger.OpAcquire:
		switch c.Acquire {
		case ledger.Acquired:
			return []event.BookingEvent{mk(event.KindBooked, c.Holder)}
		case ledger.Waitlisted:
			ev := mk(event.KindWaitlisted, c.Holder)
			ev.Payload["position"] = st.WaitlistPosition(c.Holder) + 1
			return []event.BookingEvent{ev}
		}
	case ledger.OpRelease:
		switch c.Release.Outcome {
		case ledger.Released:
			return []event.BookingEvent{mk(event.KindReleased, c.Holder)}
		case ledger.PromotedHolder:
			return []event.BookingEvent{mk(event.KindReleased, c.Holder), mk(event.KindPromoted, c.Release.Promoted)}
		case ledger.NoOp:
			if c.Release.LeftWaitlist {
				return []event.BookingEvent{mk(event.KindCancelled, c.Holder)}
			}
		}
	}
	return nil
}
