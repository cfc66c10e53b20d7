package tabcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/Lej77/tst-mark-tabs/errors"
	"github.com/Lej77/tst-mark-tabs/testutil"
	"github.com/Lej77/tst-mark-tabs/types"
)

const markKey = "tabMark"

func newStartedCache(t *testing.T, source Source, opts ...Option) *Cache {
	t.Helper()
	opts = append([]Option{WithIdleEviction(-1)}, opts...)
	cache := New(source, []string{markKey, "note"}, opts...)
	t.Cleanup(cache.Dispose)
	require.True(t, cache.Start(context.Background()))
	return cache
}

func TestStart_HydratesExistingTabs(t *testing.T) {
	source := testutil.NewMockSource()
	source.Seed(1, markKey, "red")
	source.Seed(1, "note", "pinned")
	source.Seed(2, markKey, "blue")
	source.Seed(2, "ignored", "nope") // not monitored

	cache := newStartedCache(t, source)

	facts, found, err := cache.GetDataForTab(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.FactMap{markKey: "red", "note": "pinned"}, facts)

	facts, found, err = cache.GetDataForTab(context.Background(), 2)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, types.FactMap{markKey: "blue"}, facts, "unmonitored keys must never appear")
}

func TestStart_MergesOverSeed(t *testing.T) {
	source := testutil.NewMockSource()
	source.Seed(1, markKey, "red")
	source.Seed(1, "note", "from-store")

	cache := newStartedCache(t, source, WithSeed(map[types.TabID]types.FactMap{
		1: {"note": "seeded"},
	}))

	facts, found, err := cache.GetDataForTab(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "seeded", facts["note"], "hydration must not overwrite seeded values")
	assert.Equal(t, "red", facts[markKey])
}

func TestStart_DegradedOnListFailure(t *testing.T) {
	source := testutil.NewMockSource()
	source.ListErr = errors.New("store down")

	cache := New(source, []string{markKey}, WithIdleEviction(-1))
	defer cache.Dispose()

	assert.False(t, cache.Start(context.Background()))

	// The cache stays usable: external events still apply.
	cache.HandleFactChanged(context.Background(), types.FactChanged{
		Tab: 7, Key: markKey, Value: "green", Defined: true,
	})
	facts, found, err := cache.GetDataForTab(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "green", facts[markKey])
}

func TestStart_Idempotent(t *testing.T) {
	source := testutil.NewMockSource()
	source.Seed(1, markKey, "red")

	cache := New(source, []string{markKey}, WithIdleEviction(-1))
	defer cache.Dispose()

	var wg sync.WaitGroup
	results := make([]bool, 3)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = cache.Start(context.Background())
		}()
	}
	wg.Wait()

	for _, ok := range results {
		assert.True(t, ok)
	}
	assert.Equal(t, 1, source.ListCalls, "bootstrap must run exactly once")
}

func TestGetDataForTab_UnknownTab(t *testing.T) {
	cache := newStartedCache(t, testutil.NewMockSource())

	facts, found, err := cache.GetDataForTab(context.Background(), 42)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, facts)
}

func TestGetDataForTab_ReturnsSnapshot(t *testing.T) {
	source := testutil.NewMockSource()
	source.Seed(1, markKey, "red")
	cache := newStartedCache(t, source)

	facts, _, err := cache.GetDataForTab(context.Background(), 1)
	require.NoError(t, err)
	facts[markKey] = "mutated"

	again, _, err := cache.GetDataForTab(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "red", again[markKey], "returned maps are snapshots")
}

func TestGetDataForTab_AwaitsHydration(t *testing.T) {
	source := testutil.NewMockSource()
	source.Seed(1, markKey, "red")
	source.GetDelay = 30 * time.Millisecond

	cache := New(source, []string{markKey}, WithIdleEviction(-1))
	defer cache.Dispose()

	startDone := make(chan struct{})
	go func() {
		cache.Start(context.Background())
		close(startDone)
	}()

	// The read must observe the fully hydrated view, never a partial one.
	facts, found, err := cache.GetDataForTab(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "red", facts[markKey])
	<-startDone
}

func TestHandleTabRemoved_BeforeStartResolves(t *testing.T) {
	source := testutil.NewMockSource()
	source.Seed(1, markKey, "red")
	source.Seed(2, markKey, "blue")
	source.GetDelay = 20 * time.Millisecond

	cache := New(source, []string{markKey}, WithIdleEviction(-1))
	defer cache.Dispose()

	removed := make(chan struct{})
	go func() {
		// Fires before Start resolves; the handler must wait, not panic.
		cache.HandleTabRemoved(context.Background(), 1)
		close(removed)
	}()

	require.True(t, cache.Start(context.Background()))
	<-removed

	_, found, err := cache.GetDataForTab(context.Background(), 1)
	require.NoError(t, err)
	assert.False(t, found, "tab removed during bootstrap must be absent afterwards")

	_, found, err = cache.GetDataForTab(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestHandleFactChanged_StoreAndDelete(t *testing.T) {
	cache := newStartedCache(t, testutil.NewMockSource())

	var events []types.DataChanged
	cache.OnDataChanged(func(ev types.DataChanged) { events = append(events, ev) })

	ctx := context.Background()
	cache.HandleFactChanged(ctx, types.FactChanged{Tab: 3, Key: markKey, Value: "red", Defined: true})
	cache.HandleFactChanged(ctx, types.FactChanged{Tab: 3, Key: markKey, Defined: false})
	cache.HandleFactChanged(ctx, types.FactChanged{Tab: 3, Key: "unmonitored", Value: "x", Defined: true})

	require.Len(t, events, 2, "unmonitored keys are ignored entirely")
	assert.Equal(t, types.DataChanged{Tab: 3, Key: markKey, Value: "red", Defined: true}, events[0])
	assert.Equal(t, types.DataChanged{Tab: 3, Key: markKey, Defined: false}, events[1], "value omitted when the fact was deleted")

	facts, found, err := cache.GetDataForTab(ctx, 3)
	require.NoError(t, err)
	require.True(t, found)
	_, has := facts[markKey]
	assert.False(t, has)
}

func TestSetDataForTab_WriteThrough(t *testing.T) {
	source := testutil.NewMockSource()
	cache := newStartedCache(t, source)

	var events []types.DataChanged
	cache.OnDataChanged(func(ev types.DataChanged) { events = append(events, ev) })

	ctx := context.Background()
	require.NoError(t, cache.SetDataForTab(ctx, 5, markKey, "purple"))

	stored, ok := source.Value(5, markKey)
	require.True(t, ok, "value must reach the durable store")
	assert.Equal(t, "purple", stored)
	require.Len(t, events, 1)

	// nil removes the fact.
	require.NoError(t, cache.SetDataForTab(ctx, 5, markKey, nil))
	_, ok = source.Value(5, markKey)
	assert.False(t, ok)
	require.Len(t, events, 2)
	assert.False(t, events[1].Defined)
}

func TestSetDataForTab_Errors(t *testing.T) {
	source := testutil.NewMockSource()
	cache := newStartedCache(t, source)
	ctx := context.Background()

	err := cache.SetDataForTab(ctx, 5, "unmonitored", "x")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))

	source.SetErr = errors.New("kv down")
	err = cache.SetDataForTab(ctx, 5, markKey, "red")
	require.Error(t, err)
	assert.True(t, pkgerrors.IsTransient(err))
}

func TestIdleEviction_ReleasesAndRehydrates(t *testing.T) {
	source := testutil.NewMockSource()
	source.Seed(1, markKey, "red")

	cache := New(source, []string{markKey}, WithIdleEviction(40*time.Millisecond))
	defer cache.Dispose()
	require.True(t, cache.Start(context.Background()))

	fetchesAfterStart := source.GetCalls

	// Untouched past the idle window: fact maps are released...
	require.Eventually(t, func() bool {
		cache.mu.Lock()
		defer cache.mu.Unlock()
		return cache.tabs[1].state == hydrationNotStarted
	}, time.Second, 5*time.Millisecond)

	// ...and the next read hydrates lazily from the store again.
	facts, found, err := cache.GetDataForTab(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "red", facts[markKey])
	assert.Greater(t, source.GetCalls, fetchesAfterStart)
}

func TestIdleEviction_TouchResetsWindow(t *testing.T) {
	source := testutil.NewMockSource()
	source.Seed(1, markKey, "red")

	cache := New(source, []string{markKey}, WithIdleEviction(60*time.Millisecond))
	defer cache.Dispose()
	require.True(t, cache.Start(context.Background()))

	// Keep touching inside the window; eviction must not fire.
	for range 5 {
		time.Sleep(25 * time.Millisecond)
		_, found, err := cache.GetDataForTab(context.Background(), 1)
		require.NoError(t, err)
		require.True(t, found)
	}

	cache.mu.Lock()
	state := cache.tabs[1].state
	cache.mu.Unlock()
	assert.Equal(t, hydrationDone, state, "touched cache must not be evicted")
}

func TestDispose_SilentNoOps(t *testing.T) {
	source := testutil.NewMockSource()
	source.Seed(1, markKey, "red")

	cache := New(source, []string{markKey}, WithIdleEviction(-1))
	require.True(t, cache.Start(context.Background()))

	var events int
	cache.OnDataChanged(func(types.DataChanged) { events++ })

	cache.Dispose()
	cache.Dispose() // idempotent

	ctx := context.Background()
	_, found, err := cache.GetDataForTab(ctx, 1)
	require.NoError(t, err)
	assert.False(t, found)

	cache.HandleFactChanged(ctx, types.FactChanged{Tab: 1, Key: markKey, Value: "blue", Defined: true})
	assert.Zero(t, events, "disposed cache must not dispatch events")

	require.NoError(t, cache.SetDataForTab(ctx, 1, markKey, "blue"))
	setCalls := source.SetCalls
	assert.Zero(t, setCalls, "disposed cache must not call the store")
}

func TestTabIDs_Sorted(t *testing.T) {
	source := testutil.NewMockSource()
	source.SeedTab(3)
	source.SeedTab(1)
	source.SeedTab(2)

	cache := newStartedCache(t, source)
	assert.Equal(t, []types.TabID{1, 2, 3}, cache.TabIDs())
	assert.Equal(t, 3, cache.Size())
}
