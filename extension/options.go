package extension

import (
	"time"

	governor "github.com/xraph/governor"
	"github.com/xraph/governor/plugin"
	"github.com/xraph/governor/store"
)

// Option configures the Governor Forge extension.
type Option func(*Extension)

// WithStore sets the store for the governor engine.
func WithStore(s store.Store) Option {
	return func(e *Extension) {
		e.store = s
	}
}

// WithGovernorOption passes a governor.Option through to the underlying engine.
func WithGovernorOption(opt governor.Option) Option {
	return func(e *Extension) {
		e.governorOpts = append(e.governorOpts, opt)
	}
}

// WithPlugin registers a governor plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.governorOpts = append(e.governorOpts, governor.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableRoutes prevents HTTP route registration.
func WithDisableRoutes() Option {
	return func(e *Extension) { e.config.DisableRoutes = true }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithBasePath sets the URL prefix for governor routes.
func WithBasePath(path string) Option {
	return func(e *Extension) { e.config.BasePath = path }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithSweepInterval sets how frequently the background sweep runs.
func WithSweepInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.SweepInterval = d }
}

// WithReservationTTL sets the pending reservation hold duration.
func WithReservationTTL(d time.Duration) Option {
	return func(e *Extension) { e.config.ReservationTTL = d }
}

// WithRateWindow sets the rate limiter's fixed-window length.
func WithRateWindow(d time.Duration) Option {
	return func(e *Extension) { e.config.RateWindow = d }
}

// WithGroveDatabase sets the name of the grove.DB to resolve from the DI container.
// The extension will auto-construct the appropriate store backend (postgres/sqlite/mongo)
// based on the grove driver type. Pass an empty string to use the default (unnamed) grove.DB.
func WithGroveDatabase(name string) Option {
	return func(e *Extension) {
		e.config.GroveDatabase = name
		e.useGrove = true
	}
}
