package natsbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lej77/tst-mark-tabs/errors"
	"github.com/Lej77/tst-mark-tabs/natsclient"
	"github.com/Lej77/tst-mark-tabs/types"
)

// DefaultSubjectPrefix namespaces the sidebar subjects:
// <prefix>.state.notify, <prefix>.state.query, <prefix>.events.*.
const DefaultSubjectPrefix = "sidebar"

// DefaultRequestTimeout bounds one sidebar round trip.
const DefaultRequestTimeout = 5 * time.Second

// notifyRequest is the wire form of one bulk state mutation.
type notifyRequest struct {
	Tabs    []types.TabID `json:"tabs"`
	States  []string      `json:"states"`
	Present bool          `json:"present"`
}

// notifyReply reports whether the sidebar acknowledged the mutation.
type notifyReply struct {
	Acked bool   `json:"acked"`
	Error string `json:"error,omitempty"`
}

// queryRequest asks for ground truth. A nil tab list means every tab
// the sidebar knows about.
type queryRequest struct {
	Tabs []types.TabID `json:"tabs"`
}

// queryReply carries the sidebar's states per tab, keyed by decimal
// tab id since JSON object keys are strings.
type queryReply struct {
	States map[string][]string `json:"states"`
	Error  string              `json:"error,omitempty"`
}

// tabMovedEvent announces a tab attached to another window.
type tabMovedEvent struct {
	Tab types.TabID `json:"tab"`
}

// tabClosedEvent announces a closed tab whose facts can be dropped.
type tabClosedEvent struct {
	Tab types.TabID `json:"tab"`
}

// Bridge is a sidebar Notifier speaking JSON request/reply over NATS.
type Bridge struct {
	client  *natsclient.Client
	prefix  string
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithSubjectPrefix overrides the sidebar subject namespace.
func WithSubjectPrefix(prefix string) Option {
	return func(b *Bridge) {
		if prefix != "" {
			b.prefix = prefix
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

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New creates a bridge over an established NATS client.
func New(client *natsclient.Client, options ...Option) *Bridge {
	b := &Bridge{
		client:  client,
		prefix:  DefaultSubjectPrefix,
		timeout: DefaultRequestTimeout,
		logger:  slog.Default(),
	}
	for _, opt := range options {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// NotifyState asks the sidebar to add or remove states on tabs in one
// bulk call. The reply's acked flag is returned; transport failures
// surface as transient errors for the state cache to log.
func (b *Bridge) NotifyState(ctx context.Context, tabs []types.TabID, states []string, present bool) (bool, error) {
	payload, err := json.Marshal(notifyRequest{Tabs: tabs, States: states, Present: present})
	if err != nil {
		return false, errors.WrapInvalid(err, "Bridge", "NotifyState", "encode request")
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	raw, err := b.client.Request(ctx, b.prefix+".state.notify", payload)
	if err != nil {
		return false, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrSidebarUnavailable, err),
			"Bridge", "NotifyState", "request sidebar")
	}

	var reply notifyReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return false, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrInvalidData, err),
			"Bridge", "NotifyState", "decode reply")
	}
	if reply.Error != "" {
		b.logger.Warn("sidebar refused state notification", "error", reply.Error)
	}
	return reply.Acked, nil
}

// TabStates queries the sidebar's ground truth. A nil tab list asks for
// every tab.
func (b *Bridge) TabStates(ctx context.Context, tabs []types.TabID) (map[types.TabID][]string, error) {
	payload, err := json.Marshal(queryRequest{Tabs: tabs})
	if err != nil {
		return nil, errors.WrapInvalid(err, "Bridge", "TabStates", "encode request")
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	raw, err := b.client.Request(ctx, b.prefix+".state.query", payload)
	if err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrSidebarUnavailable, err),
			"Bridge", "TabStates", "request sidebar")
	}

	var reply queryReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %w", errors.ErrInvalidData, err),
			"Bridge", "TabStates", "decode reply")
	}
	if reply.Error != "" {
		return nil, errors.WrapTransient(
			fmt.Errorf("%w: %s", errors.ErrSidebarUnavailable, reply.Error),
			"Bridge", "TabStates", "query sidebar")
	}
	return decodeTabStates(reply.States), nil
}

// OnSidebarRestarted subscribes to the sidebar's restart announcement,
// after which every previously notified state is gone.
func (b *Bridge) OnSidebarRestarted(fn func()) error {
	return b.client.Subscribe(b.prefix+".events.restarted", func([]byte) {
		b.logger.Info("sidebar restarted")
		fn()
	})
}

// OnTabMoved subscribes to tab-moved announcements, which drop the
// moved tab's sidebar state.
func (b *Bridge) OnTabMoved(fn func(types.TabID)) error {
	return b.client.Subscribe(b.prefix+".events.tabmoved", func(data []byte) {
		var ev tabMovedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			b.logger.Warn("undecodable tab-moved event", "error", err)
			return
		}
		fn(ev.Tab)
	})
}

// OnTabRemoved subscribes to tab-closed announcements, after which the
// tab's durable facts are stale and can be dropped.
func (b *Bridge) OnTabRemoved(fn func(types.TabID)) error {
	return b.client.Subscribe(b.prefix+".events.tabclosed", func(data []byte) {
		var ev tabClosedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			b.logger.Warn("undecodable tab-closed event", "error", err)
			return
		}
		fn(ev.Tab)
	})
}

// decodeTabStates converts the wire map's decimal-string keys back to
// tab ids, skipping malformed keys.
func decodeTabStates(wire map[string][]string) map[types.TabID][]string {
	out := make(map[types.TabID][]string, len(wire))
	for idStr, states := range wire {
		tab, ok := types.ParseTabID(idStr)
		if !ok {
			continue
		}
		out[tab] = states
	}
	return out
}
