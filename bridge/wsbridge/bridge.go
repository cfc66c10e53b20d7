package wsbridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Lej77/tst-mark-tabs/errors"
	"github.com/Lej77/tst-mark-tabs/types"
)

// DefaultRequestTimeout bounds one sidebar round trip.
const DefaultRequestTimeout = 5 * time.Second

// Operations understood by the sidebar host.
const (
	opNotify = "notify"
	opQuery  = "query"
)

// Events pushed by the sidebar host without a preceding request.
const (
	eventRestarted = "restarted"
	eventTabMoved  = "tabMoved"
	eventTabClosed = "tabClosed"
)

// wireRequest is one client-to-host message.
type wireRequest struct {
	ID      uint64        `json:"id"`
	Op      string        `json:"op"`
	Tabs    []types.TabID `json:"tabs"`
	States  []string      `json:"states,omitempty"`
	Present bool          `json:"present"`
}

// wireMessage is one host-to-client message: either a response matched
// by ID or an unsolicited event.
type wireMessage struct {
	ID     uint64              `json:"id,omitempty"`
	Event  string              `json:"event,omitempty"`
	Tab    types.TabID         `json:"tab,omitempty"`
	Acked  bool                `json:"acked,omitempty"`
	States map[string][]string `json:"states,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// Bridge is a sidebar Notifier speaking JSON over a websocket.
type Bridge struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	timeout time.Duration

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[uint64]chan wireMessage
	nextID    atomic.Uint64

	callbackMu  sync.RWMutex
	onRestart   func()
	onTabMoved  func(types.TabID)
	onTabClosed func(types.TabID)

	closed   atomic.Bool
	readDone chan struct{}
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithRequestTimeout bounds each sidebar round trip.
func WithRequestTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// Dial connects to the sidebar host and starts the read loop.
func Dial(ctx context.Context, url string, options ...Option) (*Bridge, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrSidebarUnavailable, err),
			"Bridge", "Dial", "dial "+url)
	}

	b := &Bridge{
		conn:     conn,
		logger:   slog.Default(),
		timeout:  DefaultRequestTimeout,
		pending:  make(map[uint64]chan wireMessage),
		readDone: make(chan struct{}),
	}
	for _, opt := range options {
		if opt != nil {
			opt(b)
		}
	}

	go b.readLoop()
	return b, nil
}

// NotifyState asks the sidebar to add or remove states on tabs in one
// bulk call.
func (b *Bridge) NotifyState(ctx context.Context, tabs []types.TabID, states []string, present bool) (bool, error) {
	resp, err := b.roundTrip(ctx, wireRequest{
		Op:      opNotify,
		Tabs:    tabs,
		States:  states,
		Present: present,
	})
	if err != nil {
		return false, err
	}
	if resp.Error != "" {
		b.logger.Warn("sidebar refused state notification", "error", resp.Error)
	}
	return resp.Acked, nil
}

// TabStates queries the sidebar's ground truth. A nil tab list asks for
// every tab.
func (b *Bridge) TabStates(ctx context.Context, tabs []types.TabID) (map[types.TabID][]string, error) {
	resp, err := b.roundTrip(ctx, wireRequest{Op: opQuery, Tabs: tabs})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %s", errors.ErrSidebarUnavailable, resp.Error),
			"Bridge", "TabStates", "query sidebar")
	}

	out := make(map[types.TabID][]string, len(resp.States))
	for idStr, states := range resp.States {
		tab, ok := types.ParseTabID(idStr)
		if !ok {
			continue
		}
		out[tab] = states
	}
	return out, nil
}

// OnSidebarRestarted registers the restart callback.
func (b *Bridge) OnSidebarRestarted(fn func()) {
	b.callbackMu.Lock()
	defer b.callbackMu.Unlock()
	b.onRestart = fn
}

// OnTabMoved registers the tab-moved callback.
func (b *Bridge) OnTabMoved(fn func(types.TabID)) {
	b.callbackMu.Lock()
	defer b.callbackMu.Unlock()
	b.onTabMoved = fn
}

// OnTabRemoved registers the tab-closed callback.
func (b *Bridge) OnTabRemoved(fn func(types.TabID)) {
	b.callbackMu.Lock()
	defer b.callbackMu.Unlock()
	b.onTabClosed = fn
}

// Close tears the connection down. Waiting callers fail with a
// connection-lost error. Idempotent.
func (b *Bridge) Close() error {
	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := b.conn.Close()
	<-b.readDone
	return err
}

// roundTrip sends one request and waits for the matching response.
func (b *Bridge) roundTrip(ctx context.Context, req wireRequest) (wireMessage, error) {
	if b.closed.Load() {
		return wireMessage{}, errors.WrapTransient(errors.ErrConnectionLost,
			"Bridge", "roundTrip", "use after close")
	}

	req.ID = b.nextID.Add(1)
	ch := make(chan wireMessage, 1)

	b.pendingMu.Lock()
	b.pending[req.ID] = ch
	b.pendingMu.Unlock()
	defer func() {
		b.pendingMu.Lock()
		delete(b.pending, req.ID)
		b.pendingMu.Unlock()
	}()

	b.writeMu.Lock()
	err := b.conn.WriteJSON(req)
	b.writeMu.Unlock()
	if err != nil {
		return wireMessage{}, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrSidebarUnavailable, err),
			"Bridge", "roundTrip", "write request")
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	select {
	case resp := <-ch:
		return resp, nil
	case <-b.readDone:
		return wireMessage{}, errors.WrapTransient(errors.ErrConnectionLost,
			"Bridge", "roundTrip", "connection closed while waiting")
	case <-ctx.Done():
		return wireMessage{}, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrConnectionTimeout, ctx.Err()),
			"Bridge", "roundTrip", "await response")
	}
}

// readLoop is the single reader: responses go to their waiting caller,
// events go to the registered callbacks.
func (b *Bridge) readLoop() {
	defer close(b.readDone)

	for {
		var msg wireMessage
		if err := b.conn.ReadJSON(&msg); err != nil {
			if !b.closed.Load() {
				b.logger.Warn("sidebar connection lost", "error", err)
			}
			return
		}

		if msg.Event != "" {
			b.dispatchEvent(msg)
			continue
		}

		b.pendingMu.Lock()
		ch := b.pending[msg.ID]
		b.pendingMu.Unlock()
		if ch != nil {
			ch <- msg
		}
	}
}

func (b *Bridge) dispatchEvent(msg wireMessage) {
	b.callbackMu.RLock()
	onRestart := b.onRestart
	onTabMoved := b.onTabMoved
	onTabClosed := b.onTabClosed
	b.callbackMu.RUnlock()

	switch msg.Event {
	case eventRestarted:
		b.logger.Info("sidebar restarted")
		if onRestart != nil {
			onRestart()
		}
	case eventTabMoved:
		if onTabMoved != nil {
			onTabMoved(msg.Tab)
		}
	case eventTabClosed:
		if onTabClosed != nil {
			onTabClosed(msg.Tab)
		}
	default:
		b.logger.Debug("unknown sidebar event", "event", msg.Event)
	}
}
