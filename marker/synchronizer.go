package marker

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/Lej77/tst-mark-tabs/errors"
	"github.com/Lej77/tst-mark-tabs/metric"
	"github.com/Lej77/tst-mark-tabs/pkg/eventhub"
	"github.com/Lej77/tst-mark-tabs/sidebar"
	"github.com/Lej77/tst-mark-tabs/tabcache"
	"github.com/Lej77/tst-mark-tabs/types"
)

// State represents the current lifecycle state of the synchronizer
type State int

const (
	// StateStopped indicates the synchronizer is not mirroring marks
	StateStopped State = iota
	// StateStarting indicates a bootstrap is in flight
	StateStarting
	// StateRunning indicates marks are being mirrored to the sidebar
	StateRunning
)

// String returns a string representation of the synchronizer state
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Synchronizer mirrors tab mark colors into the sidebar as presentation
// states named prefix+color. It owns a sidebar state cache per running
// cycle and subscribes to the tab cache's data-changed events while
// running.
type Synchronizer struct {
	cache      *tabcache.Cache
	notifier   sidebar.Notifier
	logger     *slog.Logger
	metricsReg *metric.MetricsRegistry

	mu         sync.Mutex
	cfg        Config
	state      State
	starting   bool
	startDone  chan struct{}
	states     *sidebar.StateCache
	sub        *eventhub.Subscription[types.DataChanged]
	lifeCancel context.CancelFunc
	disposed   bool

	dispatch sync.WaitGroup
}

// New creates a synchronizer over the tab cache and sidebar notifier.
// It starts stopped; call Start (or Reconfigure with an enabled config)
// to begin mirroring.
func New(cache *tabcache.Cache, notifier sidebar.Notifier, cfg Config, options ...Option) (*Synchronizer, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	opts := applyOptions(options...)
	return &Synchronizer{
		cache:      cache,
		notifier:   notifier,
		logger:     opts.logger,
		metricsReg: opts.metricsReg,
		cfg:        cfg,
	}, nil
}

// State returns the current lifecycle state.
func (s *Synchronizer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins mirroring if the configuration is enabled and carries a
// state-name prefix; otherwise it is a no-op and the synchronizer stays
// stopped. A Start racing another Start is coalesced rather than
// running two bootstraps; a Start on a running or disposed synchronizer
// is a no-op.
func (s *Synchronizer) Start(ctx context.Context) error {
	return s.startWith(ctx, false)
}

// Stop takes the synchronizer back to stopped: it drains any in-flight
// bootstrap, unsubscribes from mark changes, waits for dispatched
// mutations to settle, tells the sidebar to clear every prefix-derived
// state currently believed present, and disposes the state cache.
// Stopping a stopped synchronizer is a no-op.
func (s *Synchronizer) Stop(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.state == StateStopped && !s.starting {
			s.mu.Unlock()
			return nil
		}
		done := s.startDone
		s.mu.Unlock()

		if done == nil {
			break
		}
		select {
		case <-done:
		case <-ctx.Done():
			return errors.WrapTransient(ctx.Err(), "Synchronizer", "Stop", "drain in-flight start")
		}
	}

	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return nil
	}
	sub, states, cancel := s.sub, s.states, s.lifeCancel
	s.sub, s.states, s.lifeCancel = nil, nil, nil
	s.setStateLocked(StateStopped)
	s.mu.Unlock()

	sub.Unsubscribe()
	s.dispatch.Wait()

	if !states.Clear(ctx, nil) {
		s.logger.Warn("sidebar clear incomplete during stop")
	}
	states.Dispose(ctx)
	if cancel != nil {
		cancel()
	}
	return nil
}

// ResetMirror recovers from a sidebar restart: the sidebar has lost
// every state it was told, so the synchronizer stops and starts again
// while skipping the usual pre-clear, re-asserting currently-believed
// marks without first telling the sidebar to remove what it never had.
func (s *Synchronizer) ResetMirror(ctx context.Context) error {
	if err := s.Stop(ctx); err != nil {
		return err
	}
	return s.startWith(ctx, true)
}

// Reconfigure swaps the configuration. A change to the prefix, palette,
// mark key or enabled flag restarts the synchronizer; an identical
// config on a running synchronizer is a no-op.
func (s *Synchronizer) Reconfigure(ctx context.Context, cfg Config) error {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	same := s.cfg.equal(cfg)
	s.cfg = cfg
	active := s.state != StateStopped || s.starting
	s.mu.Unlock()

	if same && active {
		return nil
	}
	if active {
		if err := s.Stop(ctx); err != nil {
			return err
		}
	}
	return s.startWith(ctx, false)
}

// HandleTabMoved re-asserts the moved tab's believed states to the
// sidebar, which drops all state for tabs attached to another window.
// Returns false when the synchronizer is not running.
func (s *Synchronizer) HandleTabMoved(ctx context.Context, tab types.TabID) bool {
	s.mu.Lock()
	states := s.states
	s.mu.Unlock()
	if states == nil {
		return false
	}
	return states.HandleTabMoved(ctx, tab)
}

// Dispose stops the synchronizer and makes every further call a silent
// no-op. Idempotent.
func (s *Synchronizer) Dispose(ctx context.Context) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.mu.Unlock()

	if err := s.Stop(ctx); err != nil {
		s.logger.Warn("synchronizer disposed before stop completed", "error", err)
	}
}

func (s *Synchronizer) startWith(ctx context.Context, skipPreClear bool) error {
	s.mu.Lock()
	if s.disposed || s.starting || s.state == StateRunning {
		s.mu.Unlock()
		return nil
	}
	cfg := s.cfg
	if !cfg.Enabled || cfg.Prefix == "" {
		s.mu.Unlock()
		return nil
	}
	s.starting = true
	s.setStateLocked(StateStarting)
	done := make(chan struct{})
	s.startDone = done
	s.mu.Unlock()

	s.logger.Info("synchronizer starting", "prefix", cfg.Prefix, "colors", len(cfg.Colors))

	lifeCtx, lifeCancel := context.WithCancel(context.Background())
	states := sidebar.New(s.notifier, cfg.stateNames(),
		sidebar.WithLogger(s.logger),
		sidebar.WithMetrics(s.metricsReg))

	if !skipPreClear {
		// Scrub prefix-derived states from every known tab so stale
		// flags from a previous run don't survive into this cycle.
		acked, err := states.PushToMirror(ctx, s.cache.TabIDs(), sidebar.PushOptions{
			States: cfg.stateNames(),
			Remove: true,
		})
		if err != nil || !acked {
			s.logger.Warn("sidebar pre-clear incomplete", "error", err)
		}
	}

	// Publish the cycle before subscribing so mark changes arriving
	// during the initial push are dispatched rather than dropped.
	s.mu.Lock()
	s.states = states
	s.lifeCancel = lifeCancel
	s.mu.Unlock()

	sub := s.cache.OnDataChanged(func(ev types.DataChanged) {
		s.dispatchMarkChange(lifeCtx, states, cfg, ev)
	})

	s.pushKnownMarks(ctx, states, cfg)

	s.mu.Lock()
	s.sub = sub
	s.setStateLocked(StateRunning)
	s.starting = false
	s.startDone = nil
	close(done)
	s.mu.Unlock()

	s.logger.Info("synchronizer running")
	return nil
}

// pushKnownMarks asserts the currently-known mark of every cached tab.
func (s *Synchronizer) pushKnownMarks(ctx context.Context, states *sidebar.StateCache, cfg Config) {
	for _, tab := range s.cache.TabIDs() {
		facts, found, err := s.cache.GetDataForTab(ctx, tab)
		if err != nil {
			s.logger.Warn("initial mark push skipped tab", "tab", tab, "error", err)
			continue
		}
		if !found {
			continue
		}
		mark, ok := facts[cfg.MarkKey].(string)
		if !ok || mark == "" {
			continue
		}
		if !slices.Contains(cfg.Colors, mark) {
			s.logger.Warn("tab carries a color outside the palette",
				"tab", tab, "color", mark, "error", errors.ErrUnknownColor)
			continue
		}
		if acked, err := states.Set(ctx, tab, cfg.stateName(mark), true); err != nil || !acked {
			s.logger.Warn("initial mark push not acknowledged", "tab", tab, "color", mark, "error", err)
		}
	}
}

// dispatchMarkChange runs on the cache's publishing goroutine and must
// not block on sidebar traffic; the mutation fans out on its own
// goroutine, tracked so Stop can wait for it.
func (s *Synchronizer) dispatchMarkChange(ctx context.Context, states *sidebar.StateCache, cfg Config, ev types.DataChanged) {
	if ev.Key != cfg.MarkKey {
		return
	}

	s.mu.Lock()
	if s.disposed || s.states != states {
		s.mu.Unlock()
		return
	}
	s.dispatch.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.dispatch.Done()
		s.applyMark(ctx, states, cfg, ev)
	}()
}

// applyMark translates one mark change into one Set per palette color:
// true for the matching color, false for all others. An unknown color
// is logged and treated as unmarked.
func (s *Synchronizer) applyMark(ctx context.Context, states *sidebar.StateCache, cfg Config, ev types.DataChanged) {
	mark, _ := ev.Value.(string)
	marked := ev.Defined && mark != ""
	if marked && !slices.Contains(cfg.Colors, mark) {
		s.logger.Warn("mark changed to a color outside the palette",
			"tab", ev.Tab, "color", mark, "error", errors.ErrUnknownColor)
		marked = false
	}

	for _, color := range cfg.Colors {
		want := marked && color == mark
		if _, err := states.Set(ctx, ev.Tab, cfg.stateName(color), want); err != nil {
			s.logger.Warn("mark mirror call rejected",
				"tab", ev.Tab, "state", cfg.stateName(color), "error", err)
		}
	}
}

// setStateLocked updates the lifecycle state. Caller holds s.mu.
func (s *Synchronizer) setStateLocked(state State) {
	s.state = state
	if s.metricsReg != nil {
		s.metricsReg.CoreMetrics().SynchronizerState.Set(float64(state))
	}
}
