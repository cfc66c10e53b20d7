package tabstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Lej77/tst-mark-tabs/errors"
	"github.com/Lej77/tst-mark-tabs/natsclient"
	"github.com/Lej77/tst-mark-tabs/types"
)

// DefaultBucket is the KV bucket name holding tab facts.
const DefaultBucket = "marktabs"

// keyPrefix namespaces fact keys inside the bucket: tab.<id>.<factKey>.
const keyPrefix = "tab."

// Store is the durable tab-fact store backed by a JetStream KV bucket.
// It satisfies the tab cache's Source contract; values are JSON.
type Store struct {
	kv     *natsclient.KVStore
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a store over the given KV wrapper.
func New(kv *natsclient.KVStore, options ...Option) *Store {
	s := &Store{
		kv:     kv,
		logger: slog.Default(),
	}
	for _, opt := range options {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// ListTabIDs returns every tab that has at least one stored fact,
// ascending.
func (s *Store) ListTabIDs(ctx context.Context) ([]types.TabID, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "ListTabIDs", "list keys")
	}

	seen := make(map[types.TabID]struct{})
	for _, key := range keys {
		tab, _, ok := parseFactKey(key)
		if !ok {
			continue
		}
		seen[tab] = struct{}{}
	}

	ids := make([]types.TabID, 0, len(seen))
	for tab := range seen {
		ids = append(ids, tab)
	}
	slices.Sort(ids)
	return ids, nil
}

// GetValue fetches one fact. A missing key reads as undefined, not an
// error.
func (s *Store) GetValue(ctx context.Context, tab types.TabID, key string) (any, bool, error) {
	raw, err := s.kv.Get(ctx, factKey(tab, key))
	if err != nil {
		if stderrors.Is(err, errors.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, errors.WrapTransient(err, "Store", "GetValue",
			fmt.Sprintf("get tab %d key %s", tab, key))
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, false, errors.WrapInvalid(
			fmt.Errorf("%w: %w", errors.ErrInvalidData, err),
			"Store", "GetValue", fmt.Sprintf("decode tab %d key %s", tab, key))
	}
	return value, true, nil
}

// SetValue stores one fact as JSON, last writer wins.
func (s *Store) SetValue(ctx context.Context, tab types.TabID, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return errors.WrapInvalid(err, "Store", "SetValue",
			fmt.Sprintf("encode tab %d key %s", tab, key))
	}
	if err := s.kv.Put(ctx, factKey(tab, key), raw); err != nil {
		return errors.WrapTransient(err, "Store", "SetValue",
			fmt.Sprintf("put tab %d key %s", tab, key))
	}
	return nil
}

// RemoveValue deletes one fact. Removing an absent fact is a no-op.
func (s *Store) RemoveValue(ctx context.Context, tab types.TabID, key string) error {
	if err := s.kv.Delete(ctx, factKey(tab, key)); err != nil {
		return errors.WrapTransient(err, "Store", "RemoveValue",
			fmt.Sprintf("delete tab %d key %s", tab, key))
	}
	return nil
}

// RemoveTab deletes every stored fact for a tab, used when the browser
// reports the tab closed.
func (s *Store) RemoveTab(ctx context.Context, tab types.TabID) error {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return errors.WrapTransient(err, "Store", "RemoveTab", "list keys")
	}
	for _, key := range keys {
		owner, _, ok := parseFactKey(key)
		if !ok || owner != tab {
			continue
		}
		if err := s.kv.Delete(ctx, key); err != nil {
			return errors.WrapTransient(err, "Store", "RemoveTab", "delete "+key)
		}
	}
	return nil
}

// WatchHandlers receives the event stream from Watch. Nil handlers are
// skipped.
type WatchHandlers struct {
	TabCreated  func(types.TabCreated)
	TabRemoved  func(types.TabRemoved)
	FactChanged func(types.FactChanged)
}

// Watch surfaces externally-made fact changes as events. Tab lifecycle
// is synthesized from fact traffic: the first fact stored for an
// unknown tab reports the tab created, deleting a tab's last fact
// reports it removed. Initial bucket contents seed the known-tab
// bookkeeping without emitting events; only changes made after the
// watch starts are delivered. The returned stop function ends the
// watch; it is also ended by ctx.
func (s *Store) Watch(ctx context.Context, h WatchHandlers) (func(), error) {
	watcher, err := s.kv.Watch(ctx, keyPrefix+">")
	if err != nil {
		return nil, errors.WrapTransient(err, "Store", "Watch", "create watcher")
	}

	go s.forwardEvents(watcher.Updates(), h)

	return func() {
		if err := watcher.Stop(); err != nil {
			s.logger.Warn("kv watcher stop failed", "error", err)
		}
	}, nil
}

// forwardEvents translates raw KV entries into fact and tab lifecycle
// events. The watcher replays current keys first and marks the end of
// that replay with a nil entry.
func (s *Store) forwardEvents(updates <-chan jetstream.KeyValueEntry, h WatchHandlers) {
	known := make(map[types.TabID]map[string]struct{})
	initial := true

	for entry := range updates {
		if entry == nil {
			initial = false
			continue
		}

		tab, key, ok := parseFactKey(entry.Key())
		if !ok {
			continue
		}

		switch entry.Operation() {
		case jetstream.KeyValuePut:
			var value any
			if err := json.Unmarshal(entry.Value(), &value); err != nil {
				if !initial {
					s.logger.Warn("watch skipped undecodable value", "key", entry.Key(), "error", err)
				}
				continue
			}

			facts := known[tab]
			if facts == nil {
				facts = make(map[string]struct{})
				known[tab] = facts
				if !initial && h.TabCreated != nil {
					h.TabCreated(types.TabCreated{Tab: tab})
				}
			}
			facts[key] = struct{}{}
			if !initial && h.FactChanged != nil {
				h.FactChanged(types.FactChanged{Tab: tab, Key: key, Value: value, Defined: true})
			}

		case jetstream.KeyValueDelete, jetstream.KeyValuePurge:
			removedLast := false
			if facts := known[tab]; facts != nil {
				if _, had := facts[key]; had {
					delete(facts, key)
					if len(facts) == 0 {
						delete(known, tab)
						removedLast = true
					}
				}
			}
			if initial {
				continue
			}
			if h.FactChanged != nil {
				h.FactChanged(types.FactChanged{Tab: tab, Key: key, Defined: false})
			}
			if removedLast && h.TabRemoved != nil {
				h.TabRemoved(types.TabRemoved{Tab: tab})
			}
		}
	}
}

// factKey builds the KV key for one (tab, fact key) pair.
func factKey(tab types.TabID, key string) string {
	return keyPrefix + tab.String() + "." + key
}

// parseFactKey splits a KV key back into tab id and fact key. Keys
// outside the tab namespace report ok=false.
func parseFactKey(kvKey string) (types.TabID, string, bool) {
	rest, found := strings.CutPrefix(kvKey, keyPrefix)
	if !found {
		return 0, "", false
	}
	idStr, factKey, found := strings.Cut(rest, ".")
	if !found || factKey == "" {
		return 0, "", false
	}
	tab, ok := types.ParseTabID(idStr)
	if !ok {
		return 0, "", false
	}
	return tab, factKey, true
}
