package config

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/Lej77/tst-mark-tabs/errors"
	"github.com/Lej77/tst-mark-tabs/marker"
	"github.com/Lej77/tst-mark-tabs/tabcache"
)

// Sidebar transports.
const (
	TransportNATS      = "nats"
	TransportWebsocket = "ws"
)

// Duration is a time.Duration that unmarshals from JSON strings like
// "5s" or "250ms", or from plain nanosecond numbers.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", value, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("duration must be a string or number, got %T", v)
	}
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the standard library representation.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// NATSConfig configures the NATS connection.
type NATSConfig struct {
	URL            string   `json:"url"`
	Name           string   `json:"name"`
	ConnectTimeout Duration `json:"connectTimeout"`
	ReconnectWait  Duration `json:"reconnectWait"`
	MaxReconnects  int      `json:"maxReconnects"`
}

// StoreConfig configures the durable tab-fact store.
type StoreConfig struct {
	Bucket    string   `json:"bucket"`
	OpTimeout Duration `json:"opTimeout"`
}

// SidebarConfig selects and configures the sidebar transport.
type SidebarConfig struct {
	Transport      string   `json:"transport"`
	SubjectPrefix  string   `json:"subjectPrefix"`
	URL            string   `json:"url"` // websocket transport only
	RequestTimeout Duration `json:"requestTimeout"`
}

// CacheConfig tunes the in-memory tab cache.
type CacheConfig struct {
	MonitoredKeys []string `json:"monitoredKeys"`
	// IdleEviction releases hydrated fact maps after this idle period.
	// Negative means never evict.
	IdleEviction Duration `json:"idleEviction"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // text or json
}

// Config is the daemon's full configuration.
type Config struct {
	NATS    NATSConfig    `json:"nats"`
	Store   StoreConfig   `json:"store"`
	Sidebar SidebarConfig `json:"sidebar"`
	Marker  marker.Config `json:"marker"`
	Cache   CacheConfig   `json:"cache"`
	Metrics MetricsConfig `json:"metrics"`
	Log     LogConfig     `json:"log"`
}

// Default returns the configuration used when a field is absent from
// the file.
func Default() Config {
	return Config{
		NATS: NATSConfig{
			URL:            "nats://localhost:4222",
			ConnectTimeout: Duration(5 * time.Second),
			ReconnectWait:  Duration(2 * time.Second),
			MaxReconnects:  -1,
		},
		Store: StoreConfig{
			Bucket:    "marktabs",
			OpTimeout: Duration(5 * time.Second),
		},
		Sidebar: SidebarConfig{
			Transport:      TransportNATS,
			SubjectPrefix:  "sidebar",
			RequestTimeout: Duration(5 * time.Second),
		},
		Marker: marker.Config{
			Prefix:  "marked-",
			MarkKey: marker.DefaultMarkKey,
			Enabled: true,
		},
		Cache: CacheConfig{
			MonitoredKeys: []string{marker.DefaultMarkKey},
			IdleEviction:  Duration(tabcache.DefaultIdleEviction),
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9465",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads, merges over defaults, and validates a JSON config file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "Config", "Load", "read "+path)
	}
	return Parse(raw)
}

// Parse merges raw JSON over defaults and validates the result.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %w", errors.ErrInvalidConfig, err),
			"Config", "Parse", "decode json")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.NATS.URL == "" {
		return errors.WrapInvalid(
			fmt.Errorf("nats.url: %w", errors.ErrMissingConfig),
			"Config", "Validate", "check nats")
	}
	if c.Store.Bucket == "" {
		return errors.WrapInvalid(
			fmt.Errorf("store.bucket: %w", errors.ErrMissingConfig),
			"Config", "Validate", "check store")
	}

	switch c.Sidebar.Transport {
	case TransportNATS:
		if c.Sidebar.SubjectPrefix == "" {
			return errors.WrapInvalid(
				fmt.Errorf("sidebar.subjectPrefix: %w", errors.ErrMissingConfig),
				"Config", "Validate", "check sidebar")
		}
	case TransportWebsocket:
		if c.Sidebar.URL == "" {
			return errors.WrapInvalid(
				fmt.Errorf("sidebar.url: %w", errors.ErrMissingConfig),
				"Config", "Validate", "check sidebar")
		}
	default:
		return errors.WrapInvalid(
			fmt.Errorf("sidebar.transport %q: %w", c.Sidebar.Transport, errors.ErrInvalidConfig),
			"Config", "Validate", "check sidebar")
	}

	if err := c.Marker.Validate(); err != nil {
		return err
	}

	// The cache must monitor the mark key or the synchronizer never
	// sees mark changes.
	markKey := c.Marker.MarkKey
	if markKey == "" {
		markKey = marker.DefaultMarkKey
	}
	if !slices.Contains(c.Cache.MonitoredKeys, markKey) {
		return errors.WrapInvalid(
			fmt.Errorf("cache.monitoredKeys must include %q: %w", markKey, errors.ErrInvalidConfig),
			"Config", "Validate", "check cache")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.WrapInvalid(
			fmt.Errorf("metrics.addr: %w", errors.ErrMissingConfig),
			"Config", "Validate", "check metrics")
	}
	return nil
}
