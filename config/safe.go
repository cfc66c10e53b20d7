package config

import (
	"sync"
	"time"

	"github.com/Lej77/tst-mark-tabs/marker"
)

// SafeConfig is a thread-safe view over the reconfigurable parts of the
// configuration. The daemon holds one instance; a reload updates it and
// the new values are applied to the running components.
type SafeConfig struct {
	mu  sync.RWMutex
	cfg Config
}

// NewSafeConfig wraps a validated configuration.
func NewSafeConfig(cfg Config) *SafeConfig {
	return &SafeConfig{cfg: cfg}
}

// Snapshot returns a copy of the full configuration.
func (s *SafeConfig) Snapshot() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Marker returns the current marker settings.
func (s *SafeConfig) Marker() marker.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Marker
}

// SetMarker swaps the marker settings after validating them.
func (s *SafeConfig) SetMarker(cfg marker.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Marker = cfg
	return nil
}

// IdleEviction returns the cache idle-eviction window.
func (s *SafeConfig) IdleEviction() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Cache.IdleEviction.Std()
}

// SetIdleEviction swaps the cache idle-eviction window. Negative means
// never evict.
func (s *SafeConfig) SetIdleEviction(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Cache.IdleEviction = Duration(d)
}
