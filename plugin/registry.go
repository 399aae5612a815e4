package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit                 []OnInit
	onShutdown             []OnShutdown
	onPlanUpserted         []OnPlanUpserted
	onPlanArchived         []OnPlanArchived
	onOverlayGranted       []OnOverlayGranted
	onConsumed             []OnConsumed
	onLimitExceeded        []OnLimitExceeded
	onBudgetReserved       []OnBudgetReserved
	onBudgetExceeded       []OnBudgetExceeded
	onReservationReclaimed []OnReservationReclaimed
	onRateLimited          []OnRateLimited
	onRolloverCompleted    []OnRolloverCompleted
	onHealthScored         []OnHealthScored
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: slog.Default(),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnPlanUpserted); ok {
		r.onPlanUpserted = append(r.onPlanUpserted, v)
	}
	if v, ok := p.(OnPlanArchived); ok {
		r.onPlanArchived = append(r.onPlanArchived, v)
	}
	if v, ok := p.(OnOverlayGranted); ok {
		r.onOverlayGranted = append(r.onOverlayGranted, v)
	}
	if v, ok := p.(OnConsumed); ok {
		r.onConsumed = append(r.onConsumed, v)
	}
	if v, ok := p.(OnLimitExceeded); ok {
		r.onLimitExceeded = append(r.onLimitExceeded, v)
	}
	if v, ok := p.(OnBudgetReserved); ok {
		r.onBudgetReserved = append(r.onBudgetReserved, v)
	}
	if v, ok := p.(OnBudgetExceeded); ok {
		r.onBudgetExceeded = append(r.onBudgetExceeded, v)
	}
	if v, ok := p.(OnReservationReclaimed); ok {
		r.onReservationReclaimed = append(r.onReservationReclaimed, v)
	}
	if v, ok := p.(OnRateLimited); ok {
		r.onRateLimited = append(r.onRateLimited, v)
	}
	if v, ok := p.(OnRolloverCompleted); ok {
		r.onRolloverCompleted = append(r.onRolloverCompleted, v)
	}
	if v, ok := p.(OnHealthScored); ok {
		r.onHealthScored = append(r.onHealthScored, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnPlanUpserted)(nil)).Elem(), "OnPlanUpserted")
	checkInterface(reflect.TypeOf((*OnOverlayGranted)(nil)).Elem(), "OnOverlayGranted")
	checkInterface(reflect.TypeOf((*OnConsumed)(nil)).Elem(), "OnConsumed")
	checkInterface(reflect.TypeOf((*OnLimitExceeded)(nil)).Elem(), "OnLimitExceeded")
	checkInterface(reflect.TypeOf((*OnBudgetReserved)(nil)).Elem(), "OnBudgetReserved")
	checkInterface(reflect.TypeOf((*OnBudgetExceeded)(nil)).Elem(), "OnBudgetExceeded")
	checkInterface(reflect.TypeOf((*OnRateLimited)(nil)).Elem(), "OnRateLimited")
	checkInterface(reflect.TypeOf((*OnRolloverCompleted)(nil)).Elem(), "OnRolloverCompleted")
	checkInterface(reflect.TypeOf((*OnHealthScored)(nil)).Elem(), "OnHealthScored")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, governor interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, governor)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPlanUpserted emits a plan upserted event.
func (r *Registry) EmitPlanUpserted(ctx context.Context, plan interface{}) {
	r.mu.RLock()
	plugins := r.onPlanUpserted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPlanUpserted(ctx, plan)
		}); err != nil {
			r.logger.Warn("plugin OnPlanUpserted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPlanArchived emits a plan archived event.
func (r *Registry) EmitPlanArchived(ctx context.Context, planID string) {
	r.mu.RLock()
	plugins := r.onPlanArchived
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPlanArchived(ctx, planID)
		}); err != nil {
			r.logger.Warn("plugin OnPlanArchived failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitOverlayGranted emits an overlay granted event.
func (r *Registry) EmitOverlayGranted(ctx context.Context, ovl interface{}) {
	r.mu.RLock()
	plugins := r.onOverlayGranted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnOverlayGranted(ctx, ovl)
		}); err != nil {
			r.logger.Warn("plugin OnOverlayGranted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitConsumed emits a consume granted event.
func (r *Registry) EmitConsumed(ctx context.Context, tenantID, resource string, amount, consumed, limit int64) {
	r.mu.RLock()
	plugins := r.onConsumed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnConsumed(ctx, tenantID, resource, amount, consumed, limit)
		}); err != nil {
			r.logger.Warn("plugin OnConsumed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitLimitExceeded emits a limit exceeded event.
func (r *Registry) EmitLimitExceeded(ctx context.Context, tenantID, resource string, consumed, limit int64) {
	r.mu.RLock()
	plugins := r.onLimitExceeded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnLimitExceeded(ctx, tenantID, resource, consumed, limit)
		}); err != nil {
			r.logger.Warn("plugin OnLimitExceeded failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitBudgetReserved emits a budget reserved event.
func (r *Registry) EmitBudgetReserved(ctx context.Context, tenantID, provider string, estimatedTokens int64) {
	r.mu.RLock()
	plugins := r.onBudgetReserved
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnBudgetReserved(ctx, tenantID, provider, estimatedTokens)
		}); err != nil {
			r.logger.Warn("plugin OnBudgetReserved failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitBudgetExceeded emits a budget exceeded event.
func (r *Registry) EmitBudgetExceeded(ctx context.Context, tenantID, provider, deniedBy string, remaining int64) {
	r.mu.RLock()
	plugins := r.onBudgetExceeded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnBudgetExceeded(ctx, tenantID, provider, deniedBy, remaining)
		}); err != nil {
			r.logger.Warn("plugin OnBudgetExceeded failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitReservationReclaimed emits a reservation reclaimed event.
func (r *Registry) EmitReservationReclaimed(ctx context.Context, rsv interface{}) {
	r.mu.RLock()
	plugins := r.onReservationReclaimed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnReservationReclaimed(ctx, rsv)
		}); err != nil {
			r.logger.Warn("plugin OnReservationReclaimed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitRateLimited emits a rate limited event.
func (r *Registry) EmitRateLimited(ctx context.Context, tenantID, class string, limit int) {
	r.mu.RLock()
	plugins := r.onRateLimited
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnRateLimited(ctx, tenantID, class, limit)
		}); err != nil {
			r.logger.Warn("plugin OnRateLimited failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitRolloverCompleted emits a rollover completed event.
func (r *Registry) EmitRolloverCompleted(ctx context.Context, frozen int, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onRolloverCompleted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnRolloverCompleted(ctx, frozen, elapsed)
		}); err != nil {
			r.logger.Warn("plugin OnRolloverCompleted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitHealthScored emits a health scored event.
func (r *Registry) EmitHealthScored(ctx context.Context, snapshot interface{}) {
	r.mu.RLock()
	plugins := r.onHealthScored
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnHealthScored(ctx, snapshot)
		}); err != nil {
			r.logger.Warn("plugin OnHealthScored failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the governing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
