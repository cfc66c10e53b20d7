// Package retry provides context-aware backoff retry for transient
// failures against the durable store and the sidebar process.
//
// Two backoff shapes are supported: exponential (Multiplier) for
// connection-level retries, and linear (Increment) for the sidebar
// re-attach schedule where each wait grows by a fixed step. DelayFirst
// sleeps before the first attempt, which matters when the counterpart
// is known to need settling time (a sidebar that just received a tab).
package retry
