// Package tstmarktabs keeps browser-tab color marks synchronized across
// three independently mutable stores: a durable per-tab key/value store,
// a local in-memory cache, and a remote sidebar process that renders
// marks as presentation states and can restart at any time, forgetting
// everything it was told.
//
// # Architecture
//
// The core is a tab-keyed asynchronous state cache with serialized
// per-tab operations, and a synchronization engine built on top of it:
//
//	┌─────────────────────────────────────┐
//	│       marker.Synchronizer           │  lifecycle, mark → state
//	│   (stopped / starting / running)    │  fan-out, restart recovery
//	└──────────────┬──────────────────────┘
//	               │ observes data-changed events
//	┌──────────────┴──────────────────────┐
//	│        tabcache.Cache               │  tabID → monitored facts,
//	│  (lazy hydration, idle eviction)    │  backed by a durable Source
//	└──────────────┬──────────────────────┘
//	               │ translates into state flags
//	┌──────────────┴──────────────────────┐
//	│       sidebar.StateCache            │  per-state belief sets,
//	│ (serialized sets, reconciliation)   │  batched push / pull resync
//	└──────────────┬──────────────────────┘
//	               │ acknowledged calls only
//	┌──────────────┴──────────────────────┐
//	│        sidebar.Notifier             │  NATS or WebSocket bridge
//	│     (remote sidebar process)        │  to the sidebar host
//	└─────────────────────────────────────┘
//
// Belief held about the sidebar is advisory: it is updated only after
// the sidebar acknowledged a call, and the engine reconciles it against
// sidebar ground truth (pull) or re-asserts it (push) when the sidebar
// restarts or a tab moves between windows.
//
// # Packages
//
// Core:
//   - tabcache: tab-keyed async fact cache with lazy hydration
//   - sidebar: sidebar state belief cache and reconciliation
//   - marker: mark-to-state synchronizer state machine
//   - pkg/opqueue: per-scope FIFO operation serialization
//   - pkg/eventhub: typed publish/subscribe with ordered delivery
//
// Infrastructure:
//   - natsclient: NATS connection and JetStream KV access
//   - storage/tabstore: durable tab-fact store on JetStream KV
//   - bridge/natsbridge, bridge/wsbridge: sidebar transports
//   - config: configuration loading and validation
//   - metric: Prometheus metrics registry
//   - errors: classified error handling
//   - pkg/retry: backoff retry policies
//
// No consistency stronger than eventual is attempted: the engine is a
// best-effort synchronizer with explicit retry and reconciliation, not
// a consensus protocol.
package tstmarktabs
