package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Key identifies a ledger: the resource kind plus its id.
type Key struct {
	Kind string
	ID   string
}

func (k Key) String() string {
	return k.Kind + ":" + k.ID
}

// Loader reads the persisted state of a resource.
type Loader func(ctx context.Context, key Key) (State, error)

// Registry hands out one Ledger per resource, loading it on first use.
type Registry struct {
	load        Loader
	lockTimeout time.Duration

	mu      sync.RWMutex
	ledgers map[Key]*Ledger
	group   singleflight.Group
}

// NewRegistry creates a registry backed by load.
func NewRegistry(load Loader, lockTimeout time.Duration) *Registry {
	return &Registry{
		load:        load,
		lockTimeout: lockTimeout,
		ledgers:     make(map[Key]*Ledger),
	}
}

// Get returns the ledger for key. Concurrent first loads of the same key
// share one store read.
func (r *Registry) Get(ctx context.Context, key Key) (*Ledger, error) {
	if l := r.lookup(key); l != nil {
		return l, nil
	}

	v, err, _ := r.group.Do(key.String(), func() (any, error) {
		if l := r.lookup(key); l != nil {
			return l, nil
		}
		st, err := r.load(ctx, key)
		if err != nil {
			return nil, err
		}
		l, err := New(st, r.lockTimeout)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.ledgers[key] = l
		r.mu.Unlock()
		return l, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load ledger %s: %w", key, err)
	}
	return v.(*Ledger), nil
}

// Evict forgets the ledger for key; the next Get reloads it.
func (r *Registry) Evict(key Key) {
	r.mu.Lock()
	delete(r.ledgers, key)
	r.mu.Unlock()
}

// Len returns the number of loaded ledgers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ledgers)
}

func (r *Registry) lookup(key Key) *Ledger {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ledgers[key]
}
