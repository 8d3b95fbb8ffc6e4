package ledger

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_LoadsOncePerKey(t *testing.T) {
	var loads atomic.Int32
	gate := make(chan struct{})
	reg := NewRegistry(func(_ context.Context, key Key) (State, error) {
		loads.Add(1)
		<-gate
		return State{ResourceID: key.ID, Capacity: 1}, nil
	}, time.Second)

	key := Key{Kind: "booth", ID: "B1"}
	var wg sync.WaitGroup
	got := make([]*Ledger, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l, err := reg.Get(context.Background(), key)
			assert.NoError(t, err)
			got[i] = l
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, int32(1), loads.Load())
	for _, l := range got {
		assert.Same(t, got[0], l)
	}
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_EvictReloads(t *testing.T) {
	var loads atomic.Int32
	reg := NewRegistry(func(_ context.Context, key Key) (State, error) {
		loads.Add(1)
		return State{ResourceID: key.ID, Capacity: 1}, nil
	}, time.Second)

	key := Key{Kind: "session", ID: "S1"}
	first, err := reg.Get(context.Background(), key)
	require.NoError(t, err)

	reg.Evict(key)
	assert.Equal(t, 0, reg.Len())

	second, err := reg.Get(context.Background(), key)
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.Equal(t, int32(2), loads.Load())
}

func TestRegistry_LoadErrorIsNotCached(t *testing.T) {
	notFound := errors.New("not found")
	var fail atomic.Bool
	fail.Store(true)
	reg := NewRegistry(func(_ context.Context, key Key) (State, error) {
		if fail.Load() {
			return State{}, notFound
		}
		return State{ResourceID: key.ID, Capacity: 1}, nil
	}, time.Second)

	key := Key{Kind: "booth", ID: "B9"}
	_, err := reg.Get(context.Background(), key)
	assert.ErrorIs(t, err, notFound)
	assert.Contains(t, err.Error(), "booth:B9")
	assert.Equal(t, 0, reg.Len())

	fail.Store(false)
	_, err = reg.Get(context.Background(), key)
	assert.NoError(t, err)
}

func TestRegistry_InvalidPersistedState(t *testing.T) {
	reg := NewRegistry(func(_ context.Context, key Key) (State, error) {
		return State{ResourceID: key.ID, Capacity: 1, Holders: []string{"a", "b"}}, nil
	}, time.Second)

	_, err := reg.Get(context.Background(), Key{Kind: "booth", ID: "B1"})
	assert.ErrorIs(t, err, ErrInvariant)
}
