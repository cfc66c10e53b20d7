// Package tabcache maintains an in-memory view of each tab's monitored
// facts, lazily hydrated from a durable external Source.
//
// The cache never fetches eagerly on read: the first reference to a tab
// starts one hydration, and concurrent readers await that same
// hydration instead of triggering duplicate fetches. External
// created/removed/changed notifications may arrive before Start has
// finished or after disposal has begun; handlers first await startup
// and then check for disposal, so both races collapse to no-ops.
//
// Facts whose keys are outside the configured monitored set are ignored
// entirely. Fact maps returned to callers are snapshots; the cache
// retains exclusive ownership of its internal maps.
//
// An idle-eviction timer (default 20s, negative to disable) releases
// the hydrated fact maps when the cache goes untouched, after which
// tabs re-hydrate lazily on next access.
package tabcache
