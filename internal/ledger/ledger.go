// Package ledger holds the authoritative capacity state of bookable resources
// and the atomic transitions over it.
package ledger

import (
	"context"
	"fmt"
	"slices"
	"sync/atomic"
	"time"
)

// Outcome is the successful result of TryAcquire.
type Outcome int

const (
	Acquired Outcome = iota + 1
	Waitlisted
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case Waitlisted:
		return "waitlisted"
	}
	return "unknown"
}

// ReleaseOutcome is the result of Release.
type ReleaseOutcome int

const (
	Released ReleaseOutcome = iota + 1
	PromotedHolder
	NoOp
)

func (o ReleaseOutcome) String() string {
	switch o {
	case Released:
		return "released"
	case PromotedHolder:
		return "promoted"
	case NoOp:
		return "noop"
	}
	return "unknown"
}

// Release describes what a release did.
type Release struct {
	Outcome ReleaseOutcome
	// Promoted is the holder moved from the waitlist front, set for PromotedHolder.
	Promoted string
	// LeftWaitlist is set when the released holder was only waitlisted.
	LeftWaitlist bool
}

// Op identifies the transition being committed.
type Op int

const (
	OpAcquire Op = iota + 1
	OpRelease
	OpClose
	OpRetire
)

// Change is handed to the commit callback inside the critical section.
type Change struct {
	Op      Op
	Holder  string
	Acquire Outcome
	Release Release
	Prev    State
	Next    State
}

// CommitFunc persists and publishes a change. It runs while the ledger's
// critical section is held; returning an error leaves the state untouched.
type CommitFunc func(ctx context.Context, c Change) error

// Ledger guards one resource. Transitions on the same ledger are mutually
// exclusive, reads never wait.
type Ledger struct {
	sem         chan struct{}
	lockTimeout time.Duration
	state       atomic.Pointer[State]
}

// New creates a ledger over a validated initial state. lockTimeout bounds how
// long a transition waits for the critical section; zero waits on ctx only.
func New(initial State, lockTimeout time.Duration) (*Ledger, error) {
	st := initial.Clone()
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("invalid initial state for %s: %w", initial.ResourceID, err)
	}
	l := &Ledger{
		sem:         make(chan struct{}, 1),
		lockTimeout: lockTimeout,
	}
	l.state.Store(&st)
	return l, nil
}

// Status returns a consistent snapshot without entering the critical section.
func (l *Ledger) Status() State {
	return l.state.Load().Clone()
}

// TryAcquire adds holderID as a holder, or to the waitlist when the resource is
// full and waitlisting is allowed.
func (l *Ledger) TryAcquire(ctx context.Context, holderID string, commit CommitFunc) (Outcome, error) {
	c, err := l.apply(ctx, commit, func(s State) (Change, bool, error) {
		c := Change{Op: OpAcquire, Holder: holderID, Prev: s}
		next := s.Clone()
		switch {
		case s.Closed:
			return c, false, ErrClosed
		case s.Holds(holderID):
			return c, false, ErrAlreadyHolding
		case s.WaitlistPosition(holderID) >= 0:
			return c, false, ErrAlreadyWaitlisted
		}

		if !s.canAdmit() {
			if s.AllowWaitlist {
				next.Waitlist = append(next.Waitlist, holderID)
				c.Acquire, c.Next = Waitlisted, next
				return c, true, nil
			}
			if s.Full() {
				return c, false, ErrAtCapacity
			}
			return c, false, ErrSharingNotAllowed
		}

		next.Holders = append(next.Holders, holderID)
		c.Acquire, c.Next = Acquired, next
		return c, true, nil
	})
	if err != nil {
		return 0, err
	}
	return c.Acquire, nil
}

// Release removes holderID from the holders or the waitlist. Freeing a slot
// promotes the waitlist front, strictly first-in first-out. Releasing a holder
// that is not present is a NoOp and commits nothing.
func (l *Ledger) Release(ctx context.Context, holderID string, commit CommitFunc) (Release, error) {
	c, err := l.apply(ctx, commit, func(s State) (Change, bool, error) {
		c := Change{Op: OpRelease, Holder: holderID, Prev: s}
		next := s.Clone()

		if pos := s.WaitlistPosition(holderID); pos >= 0 {
			next.Waitlist = append(next.Waitlist[:pos], next.Waitlist[pos+1:]...)
			c.Release = Release{Outcome: NoOp, LeftWaitlist: true}
			c.Next = next
			return c, true, nil
		}

		i := slices.Index(next.Holders, holderID)
		if i < 0 {
			c.Release = Release{Outcome: NoOp}
			c.Next = next
			return c, false, nil
		}
		next.Holders = append(next.Holders[:i], next.Holders[i+1:]...)
		c.Release = Release{Outcome: Released}

		if !next.Closed && len(next.Waitlist) > 0 && next.canAdmit() {
			front := next.Waitlist[0]
			next.Waitlist = next.Waitlist[1:]
			next.Holders = append(next.Holders, front)
			c.Release = Release{Outcome: PromotedHolder, Promoted: front}
		}
		c.Next = next
		return c, true, nil
	})
	if err != nil {
		return Release{}, err
	}
	return c.Release, nil
}

// Close moves the resource to the terminal closed status. Closing twice is a no-op.
func (l *Ledger) Close(ctx context.Context, commit CommitFunc) error {
	_, err := l.apply(ctx, commit, func(s State) (Change, bool, error) {
		c := Change{Op: OpClose, Prev: s}
		if s.Closed {
			c.Next = s
			return c, false, nil
		}
		next := s.Clone()
		next.Closed = true
		c.Next = next
		return c, true, nil
	})
	return err
}

// Retire closes an empty resource for deletion. It fails with ErrInUse while
// holders or waitlist entries exist.
func (l *Ledger) Retire(ctx context.Context, commit CommitFunc) error {
	_, err := l.apply(ctx, commit, func(s State) (Change, bool, error) {
		c := Change{Op: OpRetire, Prev: s}
		if !s.Empty() {
			return c, false, ErrInUse
		}
		next := s.Clone()
		next.Closed = true
		c.Next = next
		return c, true, nil
	})
	return err
}

// apply runs decide, verifies invariants, commits and publishes the new state,
// all inside the critical section.
func (l *Ledger) apply(ctx context.Context, commit CommitFunc, decide func(State) (Change, bool, error)) (Change, error) {
	if err := l.lock(ctx); err != nil {
		return Change{}, err
	}
	defer l.unlock()

	cur := l.state.Load().Clone()
	c, changed, err := decide(cur)
	if err != nil || !changed {
		return c, err
	}
	if err := c.Next.Validate(); err != nil {
		return Change{}, err
	}
	if commit != nil {
		if err := commit(ctx, c); err != nil {
			return Change{}, err
		}
	}
	next := c.Next.Clone()
	l.state.Store(&next)
	return c, nil
}

func (l *Ledger) lock(ctx context.Context) error {
	select {
	case l.sem <- struct{}{}:
		return nil
	default:
	}

	var timeout <-chan time.Time
	if l.lockTimeout > 0 {
		t := time.NewTimer(l.lockTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case l.sem <- struct{}{}:
		return nil
	case <-timeout:
		return ErrBusy
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrBusy, ctx.Err())
	}
}

func (l *Ledger) unlock() {
	<-l.sem
}
