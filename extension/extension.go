// Package extension provides the Forge extension adapter for Governor.
//
// It implements the forge.Extension interface to integrate Governor
// into a Forge application with automatic dependency discovery,
// DI registration, and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.governor" or
// "governor" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	governor "github.com/xraph/governor"
	"github.com/xraph/governor/store"
	"github.com/xraph/governor/store/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "governor"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Plan entitlement and usage governance engine"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Governor as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config       Config
	engine       *governor.Governor
	store        store.Store
	governorOpts []governor.Option
	useGrove     bool
}

// New creates a new Governor Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Governor instance.
// This is nil until Register is called.
func (e *Extension) Engine() *governor.Governor { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the governor engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory store if no store was provided programmatically.
	if e.store == nil {
		if e.useGrove {
			e.Logger().Warn("governor: grove database resolution requires WithStore wiring; falling back to memory store",
				forge.F("grove_database", e.config.GroveDatabase),
			)
		}
		e.store = memory.New()
	}

	// Build governor options from resolved config.
	opts := e.buildGovernorOpts()

	eng := governor.New(e.store, opts...)
	e.engine = eng

	return vessel.Provide(fapp.Container(), func() (*governor.Governor, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("governor: extension not initialized")
	}

	if !e.config.DisableMigrate {
		if err := e.engine.Start(ctx); err != nil {
			return err
		}
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.store == nil {
		return errors.New("governor: store not initialized")
	}
	return e.store.Ping(ctx)
}

// buildGovernorOpts constructs governor.Option values from the resolved config.
func (e *Extension) buildGovernorOpts() []governor.Option {
	opts := make([]governor.Option, 0, len(e.governorOpts)+3)

	if e.config.SweepInterval > 0 {
		opts = append(opts, governor.WithSweepInterval(e.config.SweepInterval))
	}
	if e.config.ReservationTTL > 0 {
		opts = append(opts, governor.WithReservationTTL(e.config.ReservationTTL))
	}
	if e.config.RateWindow > 0 {
		opts = append(opts, governor.WithRateWindow(e.config.RateWindow))
	}

	// Append any pass-through governor options.
	opts = append(opts, e.governorOpts...)

	return opts
}

// --- Config Loading (mirrors grove/shield extension pattern) ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("governor: configuration is required but not found in config files; " +
				"ensure 'extensions.governor' or 'governor' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = e.mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = e.mergeConfigurations(fileConfig, programmaticConfig)
	}

	e.Logger().Debug("governor: configuration loaded",
		forge.F("disable_routes", e.config.DisableRoutes),
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("base_path", e.config.BasePath),
		forge.F("sweep_interval", e.config.SweepInterval),
		forge.F("reservation_ttl", e.config.ReservationTTL),
		forge.F("rate_window", e.config.RateWindow),
	)

	return nil
}

// tryLoadFromConfigFile attempts to load config from YAML files.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()
	var cfg Config

	// Try "extensions.governor" first (namespaced pattern).
	if cm.IsSet("extensions.governor") {
		if err := cm.Bind("extensions.governor", &cfg); err == nil {
			e.Logger().Debug("governor: loaded config from file",
				forge.F("key", "extensions.governor"),
			)
			return cfg, true
		}
		e.Logger().Warn("governor: failed to bind extensions.governor config",
			forge.F("error", "bind failed"),
		)
	}

	// Try legacy "governor" key.
	if cm.IsSet("governor") {
		if err := cm.Bind("governor", &cfg); err == nil {
			e.Logger().Debug("governor: loaded config from file",
				forge.F("key", "governor"),
			)
			return cfg, true
		}
		e.Logger().Warn("governor: failed to bind governor config",
			forge.F("error", "bind failed"),
		)
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func (e *Extension) mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.ReservationTTL == 0 {
		cfg.ReservationTTL = defaults.ReservationTTL
	}
	if cfg.RateWindow == 0 {
		cfg.RateWindow = defaults.RateWindow
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func (e *Extension) mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableRoutes {
		yamlConfig.DisableRoutes = true
	}
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// String fields: YAML takes precedence.
	if yamlConfig.BasePath == "" && programmaticConfig.BasePath != "" {
		yamlConfig.BasePath = programmaticConfig.BasePath
	}

	// Duration fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.SweepInterval == 0 && programmaticConfig.SweepInterval != 0 {
		yamlConfig.SweepInterval = programmaticConfig.SweepInterval
	}
	if yamlConfig.ReservationTTL == 0 && programmaticConfig.ReservationTTL != 0 {
		yamlConfig.ReservationTTL = programmaticConfig.ReservationTTL
	}
	if yamlConfig.RateWindow == 0 && programmaticConfig.RateWindow != 0 {
		yamlConfig.RateWindow = programmaticConfig.RateWindow
	}

	// Fill remaining zeros with defaults.
	return e.mergeWithDefaults(yamlConfig)
}
