// Package booking applies book and cancel requests to the capacity ledgers and
// turns every committed transition into booking events.
package booking

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"expo-booking-backend/internal/event"
	"expo-booking-backend/internal/ledger"
	"expo-booking-backend/internal/store"
)

// Publisher receives committed events. Publish must not block.
type Publisher interface {
	Publish(ev event.BookingEvent)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ev event.BookingEvent)

func (f PublisherFunc) Publish(ev event.BookingEvent) { f(ev) }

// Notifier records a durable notice for a holder promoted off a waitlist.
type Notifier interface {
	Promoted(ctx context.Context, ev event.BookingEvent) error
}

// Result is returned by successful Book and Cancel calls.
type Result struct {
	Events []event.BookingEvent
	State  ledger.State
}

// Coordinator serialises booking requests per resource through the ledger registry.
type Coordinator struct {
	store      store.Store
	ledgers    *ledger.Registry
	publisher  Publisher
	notifier   Notifier
	invalidate func()
	retries    int
	backoff    time.Duration
	now        func() time.Time
	log        *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithNotifier persists a notice for every promotion.
func WithNotifier(n Notifier) Option {
	return func(c *Coordinator) { c.notifier = n }
}

// WithInvalidate registers a hook run after every committed change, e.g. a response cache flush.
func WithInvalidate(fn func()) Option {
	return func(c *Coordinator) { c.invalidate = fn }
}

// WithBusyRetry retries ErrBusy up to retries times, starting at delay and doubling.
func WithBusyRetry(retries int, delay time.Duration) Option {
	return func(c *Coordinator) {
		c.retries = retries
		c.backoff = delay
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.log = l
		}
	}
}

// New creates a coordinator.
func New(s store.Store, ledgers *ledger.Registry, pub Publisher, opts ...Option) *Coordinator {
	c := &Coordinator{
		store:     s,
		ledgers:   ledgers,
		publisher: pub,
		backoff:   50 * time.Millisecond,
		now:       time.Now,
		log:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.publisher == nil {
		c.publisher = PublisherFunc(func(event.BookingEvent) {})
	}
	return c
}

// LedgerLoader builds the registry loader reading persisted state from s.
func LedgerLoader(s store.Store) ledger.Loader {
	return func(ctx context.Context, key ledger.Key) (ledger.State, error) {
		return s.LoadState(ctx, event.ResourceKind(key.Kind), key.ID)
	}
}

// Book books a booth or registers for a session on behalf of holderID.
func (c *Coordinator) Book(ctx context.Context, kind event.ResourceKind, resourceID, holderID string) (*Result, error) {
	res, err := c.store.GetResource(ctx, kind, resourceID)
	if err != nil {
		return nil, err
	}
	if !res.ExpoStatus.Bookable() {
		return nil, fmt.Errorf("%w: expo %s is %s", ErrExpoNotBookable, res.ExpoID, res.ExpoStatus)
	}
	if kind == event.ResourceBooth && !res.AllowSharing {
		held, err := c.store.HeldResources(ctx, kind, res.ExpoID, holderID)
		if err != nil {
			return nil, err
		}
		if slices.ContainsFunc(held, func(id string) bool { return id != resourceID }) {
			return nil, ErrHoldsOtherResource
		}
	}

	l, err := c.ledgers.Get(ctx, key(kind, resourceID))
	if err != nil {
		return nil, err
	}

	var result Result
	_, err = retry(ctx, c.retries, c.backoff, c.log, func() (ledger.Outcome, error) {
		return l.TryAcquire(ctx, holderID, c.commit(kind, holderID, &result))
	})
	if err != nil {
		c.log.Debug("booking rejected",
			zap.String("kind", string(kind)),
			zap.String("resource", resourceID),
			zap.String("holder", holderID),
			zap.Error(err))
		return nil, err
	}
	return &result, nil
}

// Cancel releases holderID from the resource, promoting the waitlist front
// when a slot frees up.
func (c *Coordinator) Cancel(ctx context.Context, kind event.ResourceKind, resourceID, holderID string) (*Result, error) {
	if _, err := c.store.GetResource(ctx, kind, resourceID); err != nil {
		return nil, err
	}
	l, err := c.ledgers.Get(ctx, key(kind, resourceID))
	if err != nil {
		return nil, err
	}

	var result Result
	rel, err := retry(ctx, c.retries, c.backoff, c.log, func() (ledger.Release, error) {
		return l.Release(ctx, holderID, c.commit(kind, holderID, &result))
	})
	if err != nil {
		return nil, err
	}
	if rel.Outcome == ledger.NoOp && !rel.LeftWaitlist {
		return nil, ErrNotBooked
	}
	return &result, nil
}

// Close stops a resource from accepting bookings. Existing holders keep their slots.
func (c *Coordinator) Close(ctx context.Context, kind event.ResourceKind, resourceID string) (ledger.State, error) {
	res, err := c.store.GetResource(ctx, kind, resourceID)
	if err != nil {
		return ledger.State{}, err
	}
	l, err := c.ledgers.Get(ctx, key(kind, resourceID))
	if err != nil {
		return ledger.State{}, err
	}
	_, err = retry(ctx, c.retries, c.backoff, c.log, func() (struct{}, error) {
		return struct{}{}, l.Close(ctx, func(ctx context.Context, ch ledger.Change) error {
			if err := c.store.SaveState(ctx, kind, res.ExpoID, ch.Next); err != nil {
				return err
			}
			c.afterCommit()
			return nil
		})
	})
	if err != nil {
		return ledger.State{}, err
	}
	return l.Status(), nil
}

// Delete removes a resource that has neither holders nor a waitlist.
func (c *Coordinator) Delete(ctx context.Context, kind event.ResourceKind, resourceID string) error {
	k := key(kind, resourceID)
	l, err := c.ledgers.Get(ctx, k)
	if err != nil {
		return err
	}
	_, err = retry(ctx, c.retries, c.backoff, c.log, func() (struct{}, error) {
		return struct{}{}, l.Retire(ctx, func(ctx context.Context, _ ledger.Change) error {
			if err := c.store.DeleteResource(ctx, kind, resourceID); err != nil {
				return err
			}
			c.afterCommit()
			return nil
		})
	})
	if err != nil {
		return err
	}
	c.ledgers.Evict(k)
	return nil
}

// State returns the current ledger snapshot of a resource.
func (c *Coordinator) State(ctx context.Context, kind event.ResourceKind, resourceID string) (ledger.State, error) {
	l, err := c.ledgers.Get(ctx, key(kind, resourceID))
	if err != nil {
		return ledger.State{}, err
	}
	return l.Status(), nil
}

// commit persists the next state, then publishes its events while the
// resource's critical section is still held, so publish order is commit order.
func (c *Coordinator) commit(kind event.ResourceKind, actorID string, out *Result) ledger.CommitFunc {
	return func(ctx context.Context, ch ledger.Change) error {
		if err := c.store.SaveState(ctx, kind, ch.Next.ParentEventID, ch.Next); err != nil {
			return fmt.Errorf("persist %s %s: %w", kind, ch.Next.ResourceID, err)
		}

		evs := eventsFor(kind, ch, actorID, c.now())
		for _, ev := range evs {
			if ev.Kind == event.KindPromoted && c.notifier != nil {
				if err := c.notifier.Promoted(ctx, ev); err != nil {
					c.log.Error("failed to record promotion notice",
						zap.String("holder", ev.HolderID),
						zap.String("resource", ev.ResourceID),
						zap.Error(err))
				}
			}
		}
		c.afterCommit()
		for _, ev := range evs {
			c.publisher.Publish(ev)
		}

		out.Events = evs
		out.State = ch.Next.Clone()
		return nil
	}
}

func (c *Coordinator) afterCommit() {
	if c.invalidate != nil {
		c.invalidate()
	}
}

// retry re-runs op while the ledger reports ErrBusy.
func retry[T any](ctx context.Context, retries int, delay time.Duration, log *zap.Logger, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = delay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = delay << 4

	v, err := backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !errors.Is(err, ledger.ErrBusy) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(retries)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug("resource busy, retrying", zap.Duration("in", next), zap.Error(err))
		}),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	return v, err
}

func key(kind event.ResourceKind, id string) ledger.Key {
	return ledger.Key{Kind: string(kind), ID: id}
}
