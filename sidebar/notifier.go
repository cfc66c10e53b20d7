package sidebar

import (
	"context"

	"github.com/Lej77/tst-mark-tabs/types"
)

// Notifier is the capability the cache needs from the remote sidebar
// process. The sidebar is a separate long-lived process reachable only
// by asynchronous message passing; it can restart and lose every prior
// notification without warning, so callers must treat every belief as
// advisory until reconciled.
type Notifier interface {
	// NotifyState adds (present=true) or removes (present=false) the
	// given state names on the given tabs in one bulk call. The first
	// return reports whether the sidebar acknowledged the call; false
	// with a nil error means the sidebar explicitly refused it.
	NotifyState(ctx context.Context, tabs []types.TabID, states []string, present bool) (bool, error)

	// TabStates returns, per requested tab, the full list of state
	// names currently present on the sidebar. A nil tab list queries
	// every tab the sidebar knows about.
	TabStates(ctx context.Context, tabs []types.TabID) (map[types.TabID][]string, error)
}
