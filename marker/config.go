package marker

import (
	"fmt"
	"slices"

	"github.com/Lej77/tst-mark-tabs/errors"
)

// DefaultMarkKey is the fact key that carries a tab's mark color.
const DefaultMarkKey = "tabMark"

// DefaultColors is the built-in mark palette.
var DefaultColors = []string{"red", "orange", "yellow", "green", "blue", "purple", "gray"}

// Config holds the reconfigurable part of the synchronizer. Changing
// Prefix or Colors requires a full restart since the sidebar state
// names are derived from them.
type Config struct {
	// Prefix is prepended to each color to form the sidebar state name.
	// The synchronizer stays stopped while the prefix is empty.
	Prefix string `json:"prefix"`
	// MarkKey is the monitored fact key holding the mark color.
	// Defaults to DefaultMarkKey.
	MarkKey string `json:"markKey"`
	// Colors is the supported palette. Defaults to DefaultColors.
	Colors []string `json:"colors"`
	// Enabled gates the whole synchronizer.
	Enabled bool `json:"enabled"`
}

// withDefaults fills in MarkKey and Colors when unset.
func (c Config) withDefaults() Config {
	if c.MarkKey == "" {
		c.MarkKey = DefaultMarkKey
	}
	if len(c.Colors) == 0 {
		c.Colors = slices.Clone(DefaultColors)
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	if c.Enabled && c.Prefix == "" {
		return errors.WrapInvalid(
			fmt.Errorf("enabled without a state-name prefix: %w", errors.ErrMissingConfig),
			"Synchronizer", "Validate", "check prefix")
	}
	seen := make(map[string]struct{}, len(c.Colors))
	for _, color := range c.Colors {
		if color == "" {
			return errors.WrapInvalid(
				fmt.Errorf("empty color name: %w", errors.ErrInvalidConfig),
				"Synchronizer", "Validate", "check palette")
		}
		if _, dup := seen[color]; dup {
			return errors.WrapInvalid(
				fmt.Errorf("duplicate color %q: %w", color, errors.ErrInvalidConfig),
				"Synchronizer", "Validate", "check palette")
		}
		seen[color] = struct{}{}
	}
	return nil
}

// stateName derives the sidebar state name for a color.
func (c Config) stateName(color string) string {
	return c.Prefix + color
}

// stateNames derives every sidebar state name for the palette.
func (c Config) stateNames() []string {
	names := make([]string, len(c.Colors))
	for i, color := range c.Colors {
		names[i] = c.stateName(color)
	}
	return names
}

// equal reports whether two configs produce the same running shape.
func (c Config) equal(other Config) bool {
	return c.Prefix == other.Prefix &&
		c.MarkKey == other.MarkKey &&
		c.Enabled == other.Enabled &&
		slices.Equal(c.Colors, other.Colors)
}
