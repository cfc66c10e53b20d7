// Package config loads and validates the daemon's JSON configuration:
// NATS connection, durable store bucket, sidebar transport, marker
// synchronizer settings, cache tuning and the metrics endpoint. The
// reconfigurable parts (marker settings, idle eviction) are exposed
// through a thread-safe view so a reload can swap them while the
// daemon runs.
package config
