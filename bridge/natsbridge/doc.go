// Package natsbridge connects the sidebar state cache to a sidebar
// host process over NATS request/reply. The sidebar is a separate
// long-lived process: state notifications and ground-truth queries are
// JSON request/reply round trips, and the host announces restarts and
// tab moves on event subjects the daemon subscribes to.
package natsbridge
