// Package tabstore implements the durable tab-fact store on a JetStream
// key/value bucket. Facts are stored one KV key per (tab, fact key) as
// JSON, so reads and writes are single round trips and a KV watcher can
// surface externally-made changes as fact-changed events.
package tabstore
