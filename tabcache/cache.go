package tabcache

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Lej77/tst-mark-tabs/errors"
	"github.com/Lej77/tst-mark-tabs/pkg/eventhub"
	"github.com/Lej77/tst-mark-tabs/types"
)

// hydrationState tracks how far one tab's fact map has been loaded from
// the Source.
type hydrationState int

const (
	hydrationNotStarted hydrationState = iota
	hydrationPending
	hydrationDone
)

// tabEntry is the cache's materialized view of one tab's facts. The
// facts map is exclusively owned by the entry; callers only ever see
// clones.
type tabEntry struct {
	facts types.FactMap
	state hydrationState
	done  chan struct{} // non-nil while pending; closed when hydration settles
}

// Cache maps tab ids to their monitored facts, hydrating each tab
// lazily from the Source. All exported methods are safe for concurrent
// use.
type Cache struct {
	source    Source
	monitored map[string]struct{}
	logger    *slog.Logger
	hub       *eventhub.Hub[types.DataChanged]
	metrics   *cacheMetrics

	// lifeCtx bounds hydration I/O; cancelled on Dispose so no external
	// call outlives the cache.
	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	mu         sync.Mutex
	tabs       map[types.TabID]*tabEntry
	started    bool
	startOK    bool
	startDone  chan struct{}
	disposed   bool
	disposedCh chan struct{}
	evictAfter time.Duration
	evictTimer *time.Timer

	inflight sync.WaitGroup // hydrations still settling
}

// New creates a cache over source that monitors exactly the given keys.
// The cache is inert until Start runs; external notifications arriving
// earlier block until startup finishes.
func New(source Source, monitoredKeys []string, options ...Option) *Cache {
	opts := applyOptions(options...)

	monitored := make(map[string]struct{}, len(monitoredKeys))
	for _, key := range monitoredKeys {
		monitored[key] = struct{}{}
	}

	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	c := &Cache{
		source:     source,
		monitored:  monitored,
		logger:     opts.logger,
		hub:        eventhub.New[types.DataChanged](),
		lifeCtx:    lifeCtx,
		lifeCancel: lifeCancel,
		tabs:       make(map[types.TabID]*tabEntry),
		startDone:  make(chan struct{}),
		disposedCh: make(chan struct{}),
		evictAfter: opts.idleEvict,
	}

	if opts.metricsReg != nil {
		c.metrics = newCacheMetrics(opts.metricsReg, opts.cacheName)
	}

	for tab, facts := range opts.seed {
		entry := &tabEntry{facts: make(types.FactMap)}
		for key, value := range facts {
			if _, ok := monitored[key]; ok {
				entry.facts[key] = value
			}
		}
		c.tabs[tab] = entry
	}

	if c.evictAfter > 0 {
		c.evictTimer = time.AfterFunc(c.evictAfter, c.evictIdle)
	}

	return c
}

// OnDataChanged subscribes to data-changed events fired after the cache
// applies a fact change. Delivery is synchronous and in subscription
// order.
func (c *Cache) OnDataChanged(fn func(types.DataChanged)) *eventhub.Subscription[types.DataChanged] {
	return c.hub.Subscribe(fn)
}

// Start bootstraps the cache: it lists all existing tabs from the
// Source and hydrates each monitored key, merging fetched values over
// any seeded ones. Start is one-shot; concurrent and repeated calls
// wait for the first bootstrap and return its outcome. The returned
// flag is false when bootstrap was degraded by store failures; the
// cache stays usable either way.
func (c *Cache) Start(ctx context.Context) bool {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return false
	}
	if c.started {
		c.mu.Unlock()
		select {
		case <-c.startDone:
		case <-ctx.Done():
			return false
		}
		return c.startResult()
	}
	c.started = true
	c.mu.Unlock()

	var degraded atomic.Bool

	ids, err := c.source.ListTabIDs(ctx)
	if err != nil {
		c.logger.Error("tab list fetch failed, starting degraded", "error", err)
		degraded.Store(true)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		hydrate := c.ensureEntry(id)
		if hydrate == nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !hydrate() {
				degraded.Store(true)
			}
		}()
	}
	wg.Wait()

	c.mu.Lock()
	c.startOK = !degraded.Load() && !c.disposed
	close(c.startDone)
	size := len(c.tabs)
	c.mu.Unlock()
	c.metrics.updateSize(size)

	return c.startResult()
}

func (c *Cache) startResult() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startOK
}

// GetDataForTab waits for cache startup and for the tab's own hydration
// to finish, then returns a snapshot of the tab's facts. The second
// return is false when the tab is unknown or the cache was disposed. A
// half-hydrated view is never returned.
func (c *Cache) GetDataForTab(ctx context.Context, tab types.TabID) (types.FactMap, bool, error) {
	if ok, err := c.awaitStart(ctx); !ok {
		return nil, false, err
	}

	c.mu.Lock()
	entry := c.tabs[tab]
	if entry == nil {
		c.mu.Unlock()
		c.metrics.recordMiss()
		return nil, false, nil
	}
	wait := c.beginOrJoinHydrationLocked(tab, entry)
	c.touchLocked()
	c.mu.Unlock()

	if wait != nil {
		select {
		case <-wait:
		case <-c.disposedCh:
			return nil, false, nil
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
	}

	c.mu.Lock()
	// The tab may have been removed while we waited.
	entry = c.tabs[tab]
	if entry == nil {
		c.mu.Unlock()
		c.metrics.recordMiss()
		return nil, false, nil
	}
	snapshot := entry.facts.Clone()
	c.mu.Unlock()

	c.metrics.recordHit()
	return snapshot, true, nil
}

// SetDataForTab writes a fact through to the durable Source and applies
// it locally, firing a data-changed event. A nil value removes the
// fact. Unmonitored keys are invalid arguments; calls on a disposed
// cache are silent no-ops.
func (c *Cache) SetDataForTab(ctx context.Context, tab types.TabID, key string, value any) error {
	if _, ok := c.monitored[key]; !ok {
		return errors.WrapInvalid(
			fmt.Errorf("key %q is not monitored: %w", key, errors.ErrInvalidData),
			"Cache", "SetDataForTab", "validate key")
	}
	if ok, err := c.awaitStart(ctx); !ok {
		return err
	}

	if value != nil {
		if err := c.source.SetValue(ctx, tab, key, value); err != nil {
			return errors.WrapTransient(err, "Cache", "SetDataForTab", "store value")
		}
	} else {
		if err := c.source.RemoveValue(ctx, tab, key); err != nil {
			return errors.WrapTransient(err, "Cache", "SetDataForTab", "remove value")
		}
	}

	c.applyFact(tab, key, value, value != nil)
	return nil
}

// HandleTabCreated reacts to a tab-created notification: it creates the
// tab's entry and hydrates it in the background. Safe to call before
// Start resolves; a no-op after disposal.
func (c *Cache) HandleTabCreated(ctx context.Context, tab types.TabID) {
	if ok, _ := c.awaitStart(ctx); !ok {
		return
	}

	c.mu.Lock()
	entry := c.tabs[tab]
	if entry == nil {
		entry = &tabEntry{facts: make(types.FactMap)}
		c.tabs[tab] = entry
	}
	// Background hydration; creators do not wait for it.
	c.beginOrJoinHydrationLocked(tab, entry)
	c.touchLocked()
	size := len(c.tabs)
	c.mu.Unlock()
	c.metrics.updateSize(size)
}

// HandleTabRemoved reacts to a tab-removed notification by dropping the
// tab's entry. Safe to call before Start resolves; a no-op after
// disposal.
func (c *Cache) HandleTabRemoved(ctx context.Context, tab types.TabID) {
	if ok, _ := c.awaitStart(ctx); !ok {
		return
	}

	c.mu.Lock()
	delete(c.tabs, tab)
	c.touchLocked()
	size := len(c.tabs)
	c.mu.Unlock()
	c.metrics.updateSize(size)
}

// HandleFactChanged reacts to an externally changed fact: defined
// values are stored, undefined ones deleted, and a data-changed event
// fires either way. Unmonitored keys are ignored entirely.
func (c *Cache) HandleFactChanged(ctx context.Context, ev types.FactChanged) {
	if _, ok := c.monitored[ev.Key]; !ok {
		return
	}
	if ok, _ := c.awaitStart(ctx); !ok {
		return
	}
	c.applyFact(ev.Tab, ev.Key, ev.Value, ev.Defined)
}

// TabIDs returns the ids of all tabs currently known to the cache, in
// ascending order.
func (c *Cache) TabIDs() []types.TabID {
	c.mu.Lock()
	ids := make([]types.TabID, 0, len(c.tabs))
	for id := range c.tabs {
		ids = append(ids, id)
	}
	c.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// Size returns the number of tabs currently cached.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tabs)
}

// SetIdleEviction replaces the idle-eviction period and restarts the
// timer. Zero or negative disables eviction. Also called when the
// owner's persistence policy toggles, which resets the idle window.
func (c *Cache) SetIdleEviction(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	if c.evictTimer != nil {
		c.evictTimer.Stop()
		c.evictTimer = nil
	}
	c.evictAfter = d
	if d > 0 {
		c.evictTimer = time.AfterFunc(d, c.evictIdle)
	}
}

// Dispose releases all listeners, clears storage and makes every later
// call a silent no-op. In-flight hydrations settle before Dispose
// returns. Idempotent.
func (c *Cache) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	close(c.disposedCh)
	if c.evictTimer != nil {
		c.evictTimer.Stop()
		c.evictTimer = nil
	}
	c.mu.Unlock()

	c.lifeCancel()
	c.hub.Close()
	c.inflight.Wait()

	c.mu.Lock()
	c.tabs = make(map[types.TabID]*tabEntry)
	c.mu.Unlock()
	c.metrics.updateSize(0)
}

// awaitStart blocks until bootstrap finished, returning false when the
// cache was disposed (silent no-op path) and an error only when ctx was
// cancelled first.
func (c *Cache) awaitStart(ctx context.Context) (bool, error) {
	select {
	case <-c.startDone:
	case <-c.disposedCh:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
	c.mu.Lock()
	disposed := c.disposed
	c.mu.Unlock()
	return !disposed, nil
}

// ensureEntry creates the tab's entry if needed and returns a hydration
// closure when this caller won the right to hydrate it.
func (c *Cache) ensureEntry(tab types.TabID) func() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry := c.tabs[tab]
	if entry == nil {
		entry = &tabEntry{facts: make(types.FactMap)}
		c.tabs[tab] = entry
	}
	if entry.state != hydrationNotStarted {
		return nil
	}
	return c.startHydrationLocked(tab, entry)
}

// beginOrJoinHydrationLocked returns a channel to wait on for the tab's
// hydration, starting one in the background if none ran yet. Returns
// nil when the entry is already hydrated. Caller holds c.mu.
func (c *Cache) beginOrJoinHydrationLocked(tab types.TabID, entry *tabEntry) chan struct{} {
	switch entry.state {
	case hydrationDone:
		return nil
	case hydrationPending:
		return entry.done
	default:
		hydrate := c.startHydrationLocked(tab, entry)
		go hydrate()
		return entry.done
	}
}

// startHydrationLocked transitions the entry to pending and returns the
// closure that performs the fetches. Caller holds c.mu; the closure
// must run without it.
func (c *Cache) startHydrationLocked(tab types.TabID, entry *tabEntry) func() bool {
	entry.state = hydrationPending
	entry.done = make(chan struct{})
	c.inflight.Add(1)

	return func() bool {
		ok := true
		for key := range c.monitored {
			// Disposal must stop external calls even mid-hydration.
			if c.lifeCtx.Err() != nil {
				ok = false
				break
			}
			value, defined, err := c.source.GetValue(c.lifeCtx, tab, key)
			if err != nil {
				c.logger.Warn("fact hydration failed",
					"tab", tab, "key", key, "error", err)
				c.metrics.recordHydrationError()
				ok = false
				continue
			}
			if !defined {
				continue
			}
			c.mu.Lock()
			// Merge over pre-seeded or event-applied values rather than
			// overwriting them, and only if the tab still exists.
			if current := c.tabs[tab]; current == entry {
				if _, exists := entry.facts[key]; !exists {
					entry.facts[key] = value
				}
			}
			c.mu.Unlock()
		}

		c.mu.Lock()
		entry.state = hydrationDone
		close(entry.done)
		c.mu.Unlock()

		c.metrics.recordHydration()
		c.inflight.Done()
		return ok
	}
}

// applyFact mutates one fact and fires the data-changed event.
func (c *Cache) applyFact(tab types.TabID, key string, value any, defined bool) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	entry := c.tabs[tab]
	if entry == nil {
		entry = &tabEntry{facts: make(types.FactMap)}
		c.tabs[tab] = entry
	}
	if defined {
		entry.facts[key] = value
	} else {
		delete(entry.facts, key)
	}
	c.touchLocked()
	size := len(c.tabs)
	c.mu.Unlock()
	c.metrics.updateSize(size)

	ev := types.DataChanged{Tab: tab, Key: key, Defined: defined}
	if defined {
		ev.Value = value
	}
	c.hub.Publish(ev)
}

// touchLocked resets the idle-eviction window. Caller holds c.mu.
func (c *Cache) touchLocked() {
	if c.evictTimer != nil && c.evictAfter > 0 {
		c.evictTimer.Reset(c.evictAfter)
	}
}

// evictIdle releases hydrated fact maps after the idle window passed.
// Tabs stay known and re-hydrate lazily on next access.
func (c *Cache) evictIdle() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	released := 0
	for _, entry := range c.tabs {
		if entry.state != hydrationDone {
			continue
		}
		entry.facts = make(types.FactMap)
		entry.state = hydrationNotStarted
		entry.done = nil
		released++
	}
	c.mu.Unlock()

	if released > 0 {
		c.metrics.recordEviction()
		c.logger.Debug("idle eviction released cached tab data", "tabs", released)
	}
}
