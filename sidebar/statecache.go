package sidebar

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/Lej77/tst-mark-tabs/errors"
	"github.com/Lej77/tst-mark-tabs/pkg/opqueue"
	"github.com/Lej77/tst-mark-tabs/pkg/retry"
	"github.com/Lej77/tst-mark-tabs/types"
)

// errNothingToRestore aborts the moved-tab retry loop when the tab has
// no believed states left to re-assert.
var errNothingToRestore = stderrors.New("no believed states to restore")

// ReconcileOptions controls a pull reconciliation from sidebar ground
// truth. A nil States discovers state names from the sidebar itself.
type ReconcileOptions struct {
	States []string
	Add    bool // add to belief states present on the sidebar
	Remove bool // drop from belief states absent on the sidebar
}

// PushOptions controls a push reconciliation towards the sidebar. A nil
// States covers every state the cache tracks.
type PushOptions struct {
	States []string
	Add    bool // re-assert the state on tabs believed to carry it
	Remove bool // clear the state from tabs believed to lack it
}

// StateCache tracks, per state name, which tabs are believed to carry
// that state on the remote sidebar. All traffic is restricted to the
// configured allow-list of state names; a nil allow-list permits any
// name.
type StateCache struct {
	notifier Notifier
	allowed  map[string]struct{} // nil when unrestricted
	logger   *slog.Logger
	queue    *opqueue.Serializer[bool]

	moveRetryStep     time.Duration
	moveRetryAttempts int

	mu         sync.RWMutex
	belief     map[string]map[types.TabID]struct{}
	disposed   bool
	disposedCh chan struct{}

	recordCall func(operation string, acked bool)
}

// New creates a state cache over notifier. allowedStates restricts
// which state names may pass through; nil allows any state name.
func New(notifier Notifier, allowedStates []string, options ...Option) *StateCache {
	opts := applyOptions(options...)

	var allowed map[string]struct{}
	if allowedStates != nil {
		allowed = make(map[string]struct{}, len(allowedStates))
		for _, state := range allowedStates {
			allowed[state] = struct{}{}
		}
	}

	c := &StateCache{
		notifier:          notifier,
		allowed:           allowed,
		logger:            opts.logger,
		queue:             opqueue.New[bool](),
		moveRetryStep:     opts.moveRetryStep,
		moveRetryAttempts: opts.moveRetryAttempts,
		belief:            make(map[string]map[types.TabID]struct{}),
		disposedCh:        make(chan struct{}),
	}

	if opts.metricsReg != nil {
		core := opts.metricsReg.CoreMetrics()
		c.recordCall = func(operation string, acked bool) {
			core.SidebarCalls.WithLabelValues(operation).Inc()
			if !acked {
				core.SidebarFailures.WithLabelValues(operation).Inc()
			}
		}
	}

	return c
}

// Set asks the sidebar to add or remove one state on one tab and
// updates belief only on acknowledged success. Calls on the same (tab,
// state) scope are serialized FIFO; a belief already matching the
// request short-circuits without a sidebar call. Transport failures
// are logged and reported as false, never thrown; an unknown state
// name is an invalid-argument error.
func (c *StateCache) Set(ctx context.Context, tab types.TabID, state string, present bool) (bool, error) {
	if err := c.checkState("Set", state); err != nil {
		return false, err
	}
	if c.isDisposed() {
		return false, nil
	}

	scope := opqueue.Scope{Tab: tab, Key: state}
	return c.queue.Enqueue(ctx, scope, func(ctx context.Context) (bool, error) {
		// Disposal may have begun while this call sat in the queue; no
		// sidebar traffic is allowed past that point.
		if c.isDisposed() {
			return false, nil
		}
		if c.Get(tab, state) == present {
			return true, nil
		}

		acked, err := c.notify(ctx, "set", []types.TabID{tab}, []string{state}, present)
		if err != nil || !acked {
			c.logger.Warn("sidebar state call failed, belief unchanged",
				"tab", tab, "state", state, "present", present, "error", err)
			return false, nil
		}

		c.mu.Lock()
		c.applyBeliefLocked(tab, state, present)
		c.mu.Unlock()
		return true, nil
	}, false)
}

// Get returns the current cached belief. Unknown or disallowed states
// read as false.
func (c *StateCache) Get(tab types.TabID, state string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tabs := c.belief[state]
	if tabs == nil {
		return false
	}
	_, ok := tabs[tab]
	return ok
}

// GetAfterChanges waits for every mutation already queued on the (tab,
// state) scope to settle, then returns the resolved belief. Used when a
// caller needs the settled value rather than a possibly-stale one.
func (c *StateCache) GetAfterChanges(ctx context.Context, tab types.TabID, state string) (bool, error) {
	if err := c.queue.Wait(ctx, opqueue.Scope{Tab: tab, Key: state}); err != nil {
		return false, err
	}
	return c.Get(tab, state), nil
}

// AffectedTabs returns, in ascending order, the tabs believed to carry
// the given state.
func (c *StateCache) AffectedTabs(state string) []types.TabID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tabs := make([]types.TabID, 0, len(c.belief[state]))
	for tab := range c.belief[state] {
		tabs = append(tabs, tab)
	}
	slices.Sort(tabs)
	return tabs
}

// TabStates returns, sorted, every state the given tab is believed to
// carry.
func (c *StateCache) TabStates(tab types.TabID) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var states []string
	for state, tabs := range c.belief {
		if _, ok := tabs[tab]; ok {
			states = append(states, state)
		}
	}
	slices.Sort(states)
	return states
}

// ReconcileFromMirror rebuilds belief from sidebar ground truth. It
// queries the sidebar for the given tabs (nil means every tab the
// sidebar knows) and, per (tab, state) pair, adds the state to belief
// when present remotely and opts.Add is set, or drops it when absent
// remotely and opts.Remove is set.
//
// With opts.States == nil, state names are discovered from the sidebar
// per tab; the remove pass then only covers states the cache already
// tracked, so a state the sidebar invented on its own is never
// bookkept here.
func (c *StateCache) ReconcileFromMirror(ctx context.Context, tabs []types.TabID, opts ReconcileOptions) error {
	if c.isDisposed() {
		return nil
	}
	for _, state := range opts.States {
		if err := c.checkState("ReconcileFromMirror", state); err != nil {
			return err
		}
	}

	remote, err := c.notifier.TabStates(ctx, tabs)
	if c.recordCall != nil {
		c.recordCall("query", err == nil)
	}
	if err != nil {
		c.logger.Warn("sidebar ground-truth query failed", "error", err)
		return errors.WrapTransient(err, "StateCache", "ReconcileFromMirror", "query sidebar")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	targets := tabs
	if targets == nil {
		targets = c.unionTabsLocked(remote)
	}

	for _, tab := range targets {
		remoteSet := make(map[string]struct{}, len(remote[tab]))
		for _, state := range remote[tab] {
			remoteSet[state] = struct{}{}
		}

		states := opts.States
		if states == nil {
			states = c.discoveredStatesLocked(tab, remoteSet)
		}

		for _, state := range states {
			if !c.stateAllowed(state) {
				continue
			}
			_, present := remoteSet[state]
			switch {
			case present && opts.Add:
				c.applyBeliefLocked(tab, state, true)
			case !present && opts.Remove:
				c.applyBeliefLocked(tab, state, false)
			}
		}
	}
	return nil
}

// PushToMirror re-asserts settled belief to the sidebar. For each state
// it partitions the given tabs (nil means every tab in belief) into
// those believed to carry the state and those believed to lack it, then
// issues one batched add call and one batched remove call per state
// rather than one call per tab. Returns true only if every batched call
// across every affected state was acknowledged.
func (c *StateCache) PushToMirror(ctx context.Context, tabs []types.TabID, opts PushOptions) (bool, error) {
	if c.isDisposed() {
		return false, nil
	}

	states := opts.States
	if states == nil {
		states = c.trackedStates()
	}
	for _, state := range states {
		if err := c.checkState("PushToMirror", state); err != nil {
			return false, err
		}
	}

	if tabs == nil {
		tabs = c.believedTabs(states)
	}

	allAcked := true
	for _, state := range states {
		var withState, withoutState []types.TabID
		for _, tab := range tabs {
			believed, err := c.GetAfterChanges(ctx, tab, state)
			if err != nil {
				return false, err
			}
			if believed {
				withState = append(withState, tab)
			} else {
				withoutState = append(withoutState, tab)
			}
		}

		if opts.Add && len(withState) > 0 {
			acked, err := c.notify(ctx, "push", withState, []string{state}, true)
			if err != nil || !acked {
				c.logger.Warn("sidebar batch add failed", "state", state, "tabs", len(withState), "error", err)
				allAcked = false
			}
		}
		if opts.Remove && len(withoutState) > 0 {
			acked, err := c.notify(ctx, "push", withoutState, []string{state}, false)
			if err != nil || !acked {
				c.logger.Warn("sidebar batch remove failed", "state", state, "tabs", len(withoutState), "error", err)
				allAcked = false
			}
		}
	}
	return allAcked, nil
}

// Clear drives every tab currently believed to carry any of the given
// states (nil means all tracked states) through Set(..., false), so the
// sidebar is told to remove everything the cache believes is present.
// States the cache has no record of are not touched. Returns true only
// if every removal was acknowledged.
func (c *StateCache) Clear(ctx context.Context, states []string) bool {
	if c.isDisposed() {
		return false
	}
	if states == nil {
		states = c.trackedStates()
	}

	allOK := true
	for _, state := range states {
		for _, tab := range c.AffectedTabs(state) {
			ok, err := c.Set(ctx, tab, state, false)
			if err != nil || !ok {
				allOK = false
			}
		}
	}
	return allOK
}

// HandleTabMoved re-asserts every state the moved tab is believed to
// carry. The sidebar drops all state for tabs attached to another
// window and may not be ready right after the move, so the notification
// is retried with linearly growing waits; the loop exits early once the
// believed-state set empties. Returns whether the re-assertion (or the
// discovery that nothing needed restoring) succeeded.
func (c *StateCache) HandleTabMoved(ctx context.Context, tab types.TabID) bool {
	if c.isDisposed() {
		return false
	}

	err := retry.Do(ctx, retry.Linear(c.moveRetryStep, c.moveRetryAttempts), func() error {
		if c.isDisposed() {
			return retry.NonRetryable(errNothingToRestore)
		}
		states := c.TabStates(tab)
		if len(states) == 0 {
			return retry.NonRetryable(errNothingToRestore)
		}

		// Settle queued mutations on each scope first so the
		// re-assertion reflects resolved belief instead of racing an
		// in-flight Set on the same (tab, state).
		for _, state := range states {
			if err := c.queue.Wait(ctx, opqueue.Scope{Tab: tab, Key: state}); err != nil {
				return retry.NonRetryable(err)
			}
		}
		states = c.TabStates(tab)
		if len(states) == 0 {
			return retry.NonRetryable(errNothingToRestore)
		}

		acked, err := c.notify(ctx, "reattach", []types.TabID{tab}, states, true)
		if err != nil {
			return err
		}
		if !acked {
			return errors.ErrNotAcknowledged
		}
		return nil
	})

	if err == nil || stderrors.Is(err, errNothingToRestore) {
		return true
	}
	c.logger.Warn("moved-tab state restore abandoned", "tab", tab, "error", err)
	return false
}

// Dispose makes the cache inert: no further sidebar calls are issued,
// queued operations resolve false, and the call returns once in-flight
// operations have settled. Idempotent.
func (c *StateCache) Dispose(ctx context.Context) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	close(c.disposedCh)
	c.mu.Unlock()

	c.queue.Close()
	if err := c.queue.Drain(ctx); err != nil {
		c.logger.Warn("sidebar cache disposed before queue drained", "error", err)
	}

	c.mu.Lock()
	c.belief = make(map[string]map[types.TabID]struct{})
	c.mu.Unlock()
}

// notify issues one sidebar call and records it.
func (c *StateCache) notify(ctx context.Context, operation string, tabs []types.TabID, states []string, present bool) (bool, error) {
	acked, err := c.notifier.NotifyState(ctx, tabs, states, present)
	if c.recordCall != nil {
		c.recordCall(operation, err == nil && acked)
	}
	return acked, err
}

// checkState validates a state name against the allow-list.
func (c *StateCache) checkState(method, state string) error {
	if state == "" {
		return errors.WrapInvalid(
			fmt.Errorf("empty state name: %w", errors.ErrStateNotAllowed),
			"StateCache", method, "validate state")
	}
	if !c.stateAllowed(state) {
		return errors.WrapInvalid(
			fmt.Errorf("state %q: %w", state, errors.ErrStateNotAllowed),
			"StateCache", method, "validate state")
	}
	return nil
}

func (c *StateCache) stateAllowed(state string) bool {
	if c.allowed == nil {
		return state != ""
	}
	_, ok := c.allowed[state]
	return ok
}

func (c *StateCache) isDisposed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.disposed
}

// applyBeliefLocked mutates one belief bit. Caller holds c.mu.
func (c *StateCache) applyBeliefLocked(tab types.TabID, state string, present bool) {
	tabs := c.belief[state]
	if present {
		if tabs == nil {
			tabs = make(map[types.TabID]struct{})
			c.belief[state] = tabs
		}
		tabs[tab] = struct{}{}
		return
	}
	if tabs != nil {
		delete(tabs, tab)
		if len(tabs) == 0 {
			delete(c.belief, state)
		}
	}
}

// trackedStates returns the states this cache may traffic in: the
// allow-list when restricted, otherwise the states belief currently
// tracks.
func (c *StateCache) trackedStates() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var states []string
	if c.allowed != nil {
		for state := range c.allowed {
			states = append(states, state)
		}
	} else {
		for state := range c.belief {
			states = append(states, state)
		}
	}
	slices.Sort(states)
	return states
}

// believedTabs returns every tab in belief for any of the given states.
func (c *StateCache) believedTabs(states []string) []types.TabID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[types.TabID]struct{})
	for _, state := range states {
		for tab := range c.belief[state] {
			seen[tab] = struct{}{}
		}
	}
	tabs := make([]types.TabID, 0, len(seen))
	for tab := range seen {
		tabs = append(tabs, tab)
	}
	slices.Sort(tabs)
	return tabs
}

// unionTabsLocked merges the sidebar's reported tabs with the tabs in
// belief, so tabs the sidebar forgot entirely still reconcile. Caller
// holds c.mu.
func (c *StateCache) unionTabsLocked(remote map[types.TabID][]string) []types.TabID {
	seen := make(map[types.TabID]struct{}, len(remote))
	for tab := range remote {
		seen[tab] = struct{}{}
	}
	for _, tabs := range c.belief {
		for tab := range tabs {
			seen[tab] = struct{}{}
		}
	}
	out := make([]types.TabID, 0, len(seen))
	for tab := range seen {
		out = append(out, tab)
	}
	slices.Sort(out)
	return out
}

// discoveredStatesLocked merges the states the sidebar reports on a tab
// with the states belief already tracks for it, covering the add and
// remove passes of an any-state reconciliation. Caller holds c.mu.
func (c *StateCache) discoveredStatesLocked(tab types.TabID, remoteSet map[string]struct{}) []string {
	seen := make(map[string]struct{}, len(remoteSet))
	for state := range remoteSet {
		seen[state] = struct{}{}
	}
	for state, tabs := range c.belief {
		if _, ok := tabs[tab]; ok {
			seen[state] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for state := range seen {
		out = append(out, state)
	}
	slices.Sort(out)
	return out
}
