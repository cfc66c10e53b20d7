// Package natsclient manages the NATS connection shared by the durable
// tab store and the sidebar bridge. It wraps connection lifecycle,
// JetStream access and key/value buckets behind a small client with
// reconnect handling and connection metrics.
package natsclient
