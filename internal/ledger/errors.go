package ledger

import "errors"

// Capacity errors are expected, user-facing rejections.
var (
	ErrAlreadyHolding    = errors.New("already holding this resource")
	ErrAlreadyWaitlisted = errors.New("already on the waitlist")
	ErrAtCapacity        = errors.New("resource is at capacity")
	ErrSharingNotAllowed = errors.New("resource does not allow sharing")
	ErrClosed            = errors.New("resource is closed")
)

var (
	// ErrBusy means the resource's critical section could not be entered in time.
	ErrBusy = errors.New("resource is busy, retry later")
	// ErrInUse is returned when retiring a resource that still has holders or a waitlist.
	ErrInUse = errors.New("resource still has bookings")
	// ErrInvariant is returned when a transition would break a ledger invariant.
	ErrInvariant = errors.New("ledger invariant violated")
)

// IsCapacityError reports whether err is one of the user-facing rejections.
func IsCapacityError(err error) bool {
	return errors.Is(err, ErrAlreadyHolding) ||
		errors.Is(err, ErrAlreadyWaitlisted) ||
		errors.Is(err, ErrAtCapacity) ||
		errors.Is(err, ErrSharingNotAllowed) ||
		errors.Is(err, ErrClosed)
}
