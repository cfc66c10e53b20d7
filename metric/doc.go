// Package metric manages Prometheus metrics for the mark synchronizer.
//
// A MetricsRegistry owns a private prometheus.Registry plus the core
// synchronizer metrics, and tracks component-scoped registrations so a
// component can unregister everything it owns on disposal. Components
// receive the registry through their constructors; nothing registers
// against the global default registry.
package metric
