package tabcache

import (
	"context"

	"github.com/Lej77/tst-mark-tabs/types"
)

// Source is the durable per-tab fact store the cache hydrates from and
// writes through to. Round trips are asynchronous and may be slow or
// fail; every method takes a context.
//
// Implementations also emit tab-created, tab-removed and fact-changed
// notifications out of band; the owner wires those to the cache's
// Handle methods.
type Source interface {
	// ListTabIDs returns the ids of all tabs currently known to the store.
	ListTabIDs(ctx context.Context) ([]types.TabID, error)

	// GetValue returns the stored value for one tab fact. The second
	// return reports whether the fact is defined.
	GetValue(ctx context.Context, tab types.TabID, key string) (any, bool, error)

	// SetValue stores a tab fact.
	SetValue(ctx context.Context, tab types.TabID, key string, value any) error

	// RemoveValue deletes a tab fact. Removing an absent fact is not an
	// error.
	RemoveValue(ctx context.Context, tab types.TabID, key string) error
}
