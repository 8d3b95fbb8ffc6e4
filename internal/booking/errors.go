package booking

import (
	"errors"

	"expo-booking-backend/internal/ledger"
)

var (
	// ErrExpoNotBookable is returned when the parent expo is not published or ongoing.
	ErrExpoNotBookable = errors.New("expo is not open for bookings")
	// ErrHoldsOtherResource is returned when a holder already has another exclusive booth in the expo.
	ErrHoldsOtherResource = errors.New("already holding another booth in this expo")
	// ErrNotBooked is returned when cancelling a holder that neither holds nor waits for the resource.
	ErrNotBooked = errors.New("not booked on this resource")
	// ErrResourceInUse is returned when deleting a resource that still has holders or a waitlist.
	ErrResourceInUse = ledger.ErrInUse
)

// IsRejection reports whether err is an expected, user-facing booking refusal.
func IsRejection(err error) bool {
	return ledger.IsCapacityError(err) ||
		errors.Is(err, ErrExpoNotBookable) ||
		errors.Is(err, ErrHoldsOtherResource) ||
		errors.Is(err, ErrNotBooked)
}

// IsRetryable reports whether the caller may retry the request later.
func IsRetryable(err error) bool {
	return errors.Is(err, ledger.ErrBusy)
}
