// Package observability provides a metrics extension for Governor that
// records lifecycle event counts via an injected MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/governor/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                 = (*MetricsExtension)(nil)
	_ plugin.OnInit                 = (*MetricsExtension)(nil)
	_ plugin.OnPlanUpserted         = (*MetricsExtension)(nil)
	_ plugin.OnPlanArchived         = (*MetricsExtension)(nil)
	_ plugin.OnOverlayGranted       = (*MetricsExtension)(nil)
	_ plugin.OnConsumed             = (*MetricsExtension)(nil)
	_ plugin.OnLimitExceeded        = (*MetricsExtension)(nil)
	_ plugin.OnBudgetReserved       = (*MetricsExtension)(nil)
	_ plugin.OnBudgetExceeded       = (*MetricsExtension)(nil)
	_ plugin.OnReservationReclaimed = (*MetricsExtension)(nil)
	_ plugin.OnRateLimited          = (*MetricsExtension)(nil)
	_ plugin.OnRolloverCompleted    = (*MetricsExtension)(nil)
	_ plugin.OnHealthScored         = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Governor plugin to automatically track entitlement
// and usage metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Plan metrics
	PlanUpserted   Counter
	PlanArchived   Counter
	OverlayGranted Counter

	// Ledger metrics
	ConsumeGranted Counter
	ConsumeDenied  Counter
	ConsumeAmount  Histogram

	// Budget metrics
	BudgetReserved       Counter
	BudgetDenied         Counter
	ReservationReclaimed Counter
	TokensReserved       Histogram

	// Rate limiting metrics
	RateLimited Counter

	// Period metrics
	RolloverFrozen  Counter
	RolloverLatency Histogram

	// Health metrics
	HealthScored Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Plan metrics
		PlanUpserted:   factory.Counter("governor.plan.upserted"),
		PlanArchived:   factory.Counter("governor.plan.archived"),
		OverlayGranted: factory.Counter("governor.overlay.granted"),

		// Ledger metrics
		ConsumeGranted: factory.Counter("governor.consume.granted"),
		ConsumeDenied:  factory.Counter("governor.consume.denied"),
		ConsumeAmount:  factory.Histogram("governor.consume.amount"),

		// Budget metrics
		BudgetReserved:       factory.Counter("governor.budget.reserved"),
		BudgetDenied:         factory.Counter("governor.budget.denied"),
		ReservationReclaimed: factory.Counter("governor.reservation.reclaimed"),
		TokensReserved:       factory.Histogram("governor.budget.tokens.reserved"),

		// Rate limiting metrics
		RateLimited: factory.Counter("governor.rate.limited"),

		// Period metrics
		RolloverFrozen:  factory.Counter("governor.rollover.frozen"),
		RolloverLatency: factory.Histogram("governor.rollover.latency_ms"),

		// Health metrics
		HealthScored: factory.Counter("governor.health.scored"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Plan registry hooks
// ──────────────────────────────────────────────────

// OnPlanUpserted implements plugin.OnPlanUpserted.
func (m *MetricsExtension) OnPlanUpserted(_ context.Context, _ interface{}) error {
	m.PlanUpserted.Inc()
	return nil
}

// OnPlanArchived implements plugin.OnPlanArchived.
func (m *MetricsExtension) OnPlanArchived(_ context.Context, _ string) error {
	m.PlanArchived.Inc()
	return nil
}

// OnOverlayGranted implements plugin.OnOverlayGranted.
func (m *MetricsExtension) OnOverlayGranted(_ context.Context, _ interface{}) error {
	m.OverlayGranted.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Ledger hooks
// ──────────────────────────────────────────────────

// OnConsumed implements plugin.OnConsumed.
func (m *MetricsExtension) OnConsumed(_ context.Context, _, _ string, amount, _, _ int64) error {
	m.ConsumeGranted.Inc()
	m.ConsumeAmount.Observe(float64(amount))
	return nil
}

// OnLimitExceeded implements plugin.OnLimitExceeded.
func (m *MetricsExtension) OnLimitExceeded(_ context.Context, _, _ string, _, _ int64) error {
	m.ConsumeDenied.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Budget hooks
// ──────────────────────────────────────────────────

// OnBudgetReserved implements plugin.OnBudgetReserved.
func (m *MetricsExtension) OnBudgetReserved(_ context.Context, _, _ string, estimatedTokens int64) error {
	m.BudgetReserved.Inc()
	m.TokensReserved.Observe(float64(estimatedTokens))
	return nil
}

// OnBudgetExceeded implements plugin.OnBudgetExceeded.
func (m *MetricsExtension) OnBudgetExceeded(_ context.Context, _, _, _ string, _ int64) error {
	m.BudgetDenied.Inc()
	return nil
}

// OnReservationReclaimed implements plugin.OnReservationReclaimed.
func (m *MetricsExtension) OnReservationReclaimed(_ context.Context, _ interface{}) error {
	m.ReservationReclaimed.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Rate limiting hooks
// ──────────────────────────────────────────────────

// OnRateLimited implements plugin.OnRateLimited.
func (m *MetricsExtension) OnRateLimited(_ context.Context, _, _ string, _ int) error {
	m.RateLimited.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Period hooks
// ──────────────────────────────────────────────────

// OnRolloverCompleted implements plugin.OnRolloverCompleted.
func (m *MetricsExtension) OnRolloverCompleted(_ context.Context, frozen int, elapsed time.Duration) error {
	m.RolloverFrozen.Add(float64(frozen))
	m.RolloverLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// ──────────────────────────────────────────────────
// Health hooks
// ──────────────────────────────────────────────────

// OnHealthScored implements plugin.OnHealthScored.
func (m *MetricsExtension) OnHealthScored(_ context.Context, _ interface{}) error {
	m.HealthScored.Inc()
	return nil
}
