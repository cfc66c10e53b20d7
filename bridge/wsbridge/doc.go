// Package wsbridge connects the sidebar state cache to a sidebar host
// that exposes a websocket instead of a NATS subject. Requests carry a
// correlation id; a single read loop matches responses to waiting
// callers and dispatches unsolicited host events (restart, tab moved).
package wsbridge
