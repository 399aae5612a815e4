// Package usage holds per-tenant, per-resource consumption counters.
package usage

import (
	"time"

	"github.com/xraph/governor/id"
	"github.com/xraph/governor/types"
)

// Counter is one (tenant, resource, period) consumption row. Consumed
// is monotonically non-decreasing within a period except for explicit
// compensating releases. At rollover the row is frozen (read-only,
// retained for reporting) and a zeroed successor is created.
type Counter struct {
	types.Entity
	ID             id.CounterID `json:"id"`
	TenantID       string       `json:"tenant_id"`
	Resource       string       `json:"resource"`
	PeriodID       string       `json:"period_id"`
	Consumed       int64        `json:"consumed"`
	PeriodStart    time.Time    `json:"period_start"`
	PeriodEnd      time.Time    `json:"period_end"`
	LastMutationAt time.Time    `json:"last_mutation_at"`
	Frozen         bool         `json:"frozen"`
}

// Key identifies a counter row. PeriodStart/End travel with the key so
// a store can lazily create the row on first consumption.
type Key struct {
	TenantID    string
	Resource    string
	PeriodID    string
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Decision is the outcome of a consume attempt. Denials are ordinary
// values, not errors — only configuration or infrastructure faults
// surface as errors.
type Decision struct {
	Granted   bool   `json:"granted"`
	Resource  string `json:"resource"`
	Limit     int64  `json:"limit"`
	Consumed  int64  `json:"consumed"`
	Remaining int64  `json:"remaining"`
	Unlimited bool   `json:"unlimited"`
	Reason    string `json:"reason,omitempty"`
}
