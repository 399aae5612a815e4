// Package audithook bridges Governor lifecycle events to an external
// audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// a concrete audit system directly. Callers inject a RecorderFunc
// adapter that bridges to their backend at wiring time. This is
// independent of the engine's own audit trail in the store: the store
// trail is the authoritative billing record, this hook mirrors selected
// events outward.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/governor/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                 = (*Extension)(nil)
	_ plugin.OnPlanUpserted         = (*Extension)(nil)
	_ plugin.OnPlanArchived         = (*Extension)(nil)
	_ plugin.OnOverlayGranted       = (*Extension)(nil)
	_ plugin.OnLimitExceeded        = (*Extension)(nil)
	_ plugin.OnBudgetExceeded       = (*Extension)(nil)
	_ plugin.OnReservationReclaimed = (*Extension)(nil)
	_ plugin.OnRateLimited          = (*Extension)(nil)
	_ plugin.OnRolloverCompleted    = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// Defined locally so callers can inject any concrete backend at
// wiring time without this package carrying the dependency.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an outward audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Governor lifecycle events to an audit backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Plan registry hooks
// ──────────────────────────────────────────────────

// OnPlanUpserted implements plugin.OnPlanUpserted.
func (e *Extension) OnPlanUpserted(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionPlanUpserted, SeverityInfo, OutcomeSuccess,
		ResourcePlan, "", CategoryEntitlement, nil,
		"event", "plan_upserted",
	)
}

// OnPlanArchived implements plugin.OnPlanArchived.
func (e *Extension) OnPlanArchived(ctx context.Context, planID string) error {
	return e.record(ctx, ActionPlanArchived, SeverityInfo, OutcomeSuccess,
		ResourcePlan, planID, CategoryEntitlement, nil,
		"plan_id", planID,
	)
}

// OnOverlayGranted implements plugin.OnOverlayGranted.
func (e *Extension) OnOverlayGranted(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionOverlayGranted, SeverityInfo, OutcomeSuccess,
		ResourceOverlay, "", CategoryEntitlement, nil,
		"event", "overlay_granted",
	)
}

// ──────────────────────────────────────────────────
// Denial hooks
// ──────────────────────────────────────────────────

// OnLimitExceeded implements plugin.OnLimitExceeded.
func (e *Extension) OnLimitExceeded(ctx context.Context, tenantID, resource string, consumed, limit int64) error {
	return e.record(ctx, ActionLimitExceeded, SeverityWarning, OutcomeDenied,
		ResourceCounter, tenantID, CategoryUsage, nil,
		"tenant_id", tenantID,
		"resource", resource,
		"consumed", consumed,
		"limit", limit,
	)
}

// OnBudgetExceeded implements plugin.OnBudgetExceeded.
func (e *Extension) OnBudgetExceeded(ctx context.Context, tenantID, provider, deniedBy string, remaining int64) error {
	return e.record(ctx, ActionBudgetExceeded, SeverityWarning, OutcomeDenied,
		ResourceBudget, tenantID, CategoryBudget, nil,
		"tenant_id", tenantID,
		"provider", provider,
		"denied_by", deniedBy,
		"remaining_tokens", remaining,
	)
}

// OnRateLimited implements plugin.OnRateLimited.
func (e *Extension) OnRateLimited(ctx context.Context, tenantID, class string, limit int) error {
	return e.record(ctx, ActionRateLimited, SeverityWarning, OutcomeDenied,
		ResourceRateWindow, tenantID, CategoryAccess, nil,
		"tenant_id", tenantID,
		"class", class,
		"limit", limit,
	)
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnReservationReclaimed implements plugin.OnReservationReclaimed.
func (e *Extension) OnReservationReclaimed(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionReservationReclaimed, SeverityWarning, OutcomeSuccess,
		ResourceReservation, "", CategoryBudget, nil,
		"event", "reservation_reclaimed",
	)
}

// OnRolloverCompleted implements plugin.OnRolloverCompleted.
func (e *Extension) OnRolloverCompleted(ctx context.Context, frozen int, elapsed time.Duration) error {
	return e.record(ctx, ActionRolloverCompleted, SeverityInfo, OutcomeSuccess,
		ResourcePeriod, "", CategoryLifecycle, nil,
		"frozen", frozen,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audithook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
