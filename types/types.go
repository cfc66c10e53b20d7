// Package types holds the shared plain types exchanged between the tab
// cache, the durable store, the sidebar state cache and the marker
// synchronizer. It has no dependencies so every layer can import it.
package types

import "strconv"

// TabID identifies a browser tab. Tab lifecycles are owned by the
// browser; the caches only react to creation and removal notifications.
type TabID int64

// String returns the decimal representation of the tab id.
func (id TabID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseTabID parses a decimal tab id.
func ParseTabID(s string) (TabID, bool) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return TabID(n), true
}

// FactMap is one tab's monitored key/value facts. Maps handed out by
// the cache are snapshots; mutating them has no effect on the cache.
type FactMap map[string]any

// Clone returns a shallow copy of the fact map. Values are either
// strings or small JSON-decoded structures and are treated as
// immutable by convention.
func (m FactMap) Clone() FactMap {
	if m == nil {
		return nil
	}
	out := make(FactMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
