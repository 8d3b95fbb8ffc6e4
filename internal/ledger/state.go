package ledger

import (
	"fmt"
	"slices"
)

// Unbounded is the Capacity value of a resource without a holder limit.
const Unbounded = 0

// Status is the resource-level status derived from a State.
type Status string

const (
	StatusAvailable Status = "available"
	StatusReserved  Status = "reserved"
	StatusOccupied  Status = "occupied"
	StatusClosed    Status = "closed"
)

// State is the canonical state of one bookable resource.
type State struct {
	ResourceID    string   `json:"resourceId"`
	ParentEventID string   `json:"parentEventId"`
	Capacity      int      `json:"capacity"`
	AllowSharing  bool     `json:"allowSharing"`
	AllowWaitlist bool     `json:"allowWaitlist"`
	Closed        bool     `json:"closed"`
	Holders       []string `json:"holders"`
	Waitlist      []string `json:"waitlist"`
}

// Status derives the resource status from holders and capacity.
func (s State) Status() Status {
	switch {
	case s.Closed:
		return StatusClosed
	case len(s.Holders) == 0:
		return StatusAvailable
	case s.Full():
		return StatusOccupied
	default:
		return StatusReserved
	}
}

// Full reports whether no further holder fits under the capacity.
func (s State) Full() bool {
	return s.Capacity != Unbounded && len(s.Holders) >= s.Capacity
}

// canAdmit reports whether one more holder may be added right now.
func (s State) canAdmit() bool {
	if s.Full() {
		return false
	}
	return s.AllowSharing || len(s.Holders) == 0
}

// Holds reports whether holderID currently occupies the resource.
func (s State) Holds(holderID string) bool {
	return slices.Contains(s.Holders, holderID)
}

// WaitlistPosition returns the zero-based waitlist index of holderID, or -1.
func (s State) WaitlistPosition(holderID string) int {
	return slices.Index(s.Waitlist, holderID)
}

// Empty reports whether nobody holds or waits for the resource.
func (s State) Empty() bool {
	return len(s.Holders) == 0 && len(s.Waitlist) == 0
}

// Clone returns a deep copy.
func (s State) Clone() State {
	c := s
	c.Holders = slices.Clone(s.Holders)
	c.Waitlist = slices.Clone(s.Waitlist)
	if c.Holders == nil {
		c.Holders = []string{}
	}
	if c.Waitlist == nil {
		c.Waitlist = []string{}
	}
	return c
}

// Validate checks the ledger invariants: capacity is never exceeded, no holder
// appears twice, and holders and waitlist are disjoint.
func (s State) Validate() error {
	if s.Capacity < 0 {
		return fmt.Errorf("%w: negative capacity %d", ErrInvariant, s.Capacity)
	}
	if s.Capacity != Unbounded && len(s.Holders) > s.Capacity {
		return fmt.Errorf("%w: %d holders exceed capacity %d", ErrInvariant, len(s.Holders), s.Capacity)
	}
	seen := make(map[string]struct{}, len(s.Holders)+len(s.Waitlist))
	for _, h := range s.Holders {
		if _, dup := seen[h]; dup {
			return fmt.Errorf("%w: holder %q listed twice", ErrInvariant, h)
		}
		seen[h] = struct{}{}
	}
	for _, h := range s.Waitlist {
		if _, dup := seen[h]; dup {
			return fmt.Errorf("%w: %q is both holding and waitlisted, or waitlisted twice", ErrInvariant, h)
		}
		seen[h] = struct{}{}
	}
	return nil
}
