package extension

import "time"

// Config holds the Governor extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.governor" or "governor" keys).
type Config struct {
	// DisableRoutes prevents HTTP route registration.
	DisableRoutes bool `json:"disable_routes" mapstructure:"disable_routes" yaml:"disable_routes"`

	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// BasePath is the URL prefix for governor routes (default: "/governor").
	BasePath string `json:"base_path" mapstructure:"base_path" yaml:"base_path"`

	// SweepInterval is how frequently the background sweep runs period
	// rollover and reservation reclaim (default: 1m).
	SweepInterval time.Duration `json:"sweep_interval" mapstructure:"sweep_interval" yaml:"sweep_interval"`

	// ReservationTTL is how long a pending budget reservation holds
	// budget before the sweep reclaims it (default: 15m).
	ReservationTTL time.Duration `json:"reservation_ttl" mapstructure:"reservation_ttl" yaml:"reservation_ttl"`

	// RateWindow is the fixed-window length used by the rate limiter
	// (default: 1m).
	RateWindow time.Duration `json:"rate_window" mapstructure:"rate_window" yaml:"rate_window"`

	// GroveDatabase is the name of a grove.DB registered in the DI container.
	// When set, the extension resolves this named database and auto-constructs
	// the appropriate store based on the driver type (pg/sqlite/mongo).
	// When empty and WithGroveDatabase was called, the default (unnamed) DB is used.
	GroveDatabase string `json:"grove_database" mapstructure:"grove_database" yaml:"grove_database"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval:  time.Minute,
		ReservationTTL: 15 * time.Minute,
		RateWindow:     time.Minute,
	}
}
