// Package marker orchestrates mirroring of tab color marks into the
// remote sidebar. The synchronizer listens for mark changes on the tab
// cache, translates each change into per-color sidebar state mutations,
// and owns the stopped/starting/running lifecycle that follows
// configuration: enabling with a state-name prefix starts it, disabling
// or changing the prefix stops (and restarts) it.
//
// The sidebar can restart and forget everything it was told; ResetMirror
// rebuilds the sidebar-side state from current belief without first
// clearing flags the restarted sidebar never had.
package marker
