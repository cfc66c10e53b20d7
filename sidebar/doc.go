// Package sidebar tracks which presentation states the remote sidebar
// process is believed to carry per tab, and keeps that belief
// synchronized through explicit set, query and reconcile operations.
//
// Belief is advisory: it is updated only after the sidebar acknowledged
// the corresponding call, so a failed or unacknowledged call leaves the
// prior belief unchanged. Mutations on the same (tab, state) scope are
// serialized and FIFO; an already-matching belief short-circuits
// without a sidebar round trip.
//
// The sidebar can restart and silently forget every state it was told,
// and drops all state for tabs that move between windows. The cache
// therefore supports pull reconciliation (rebuild belief from sidebar
// ground truth), batched push reconciliation (re-assert belief to the
// sidebar, one bulk call per state instead of one per tab), and a
// linear-backoff re-assertion loop for moved tabs.
package sidebar
