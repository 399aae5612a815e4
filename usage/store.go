package usage

import (
	"context"
	"time"
)

// Store is the counter storage contract.
//
// ConsumeCounter is the atomicity-critical operation: it must behave as
// one indivisible check-and-increment ("add amount only if the result
// stays within limit") even under concurrent callers — never a read
// followed by a write. Implementations back it with a conditional
// update (SQL), a filtered $inc (Mongo), or a single lock (memory).
type Store interface {
	// ConsumeCounter atomically increments the keyed counter by amount
	// iff consumed+amount <= limit, creating the row if absent. It
	// returns the post-increment consumed value on success,
	// governor.ErrLimitExceeded when headroom is insufficient, and
	// governor.ErrPeriodClosed when the row is frozen. A non-empty opID
	// makes the call idempotent: a replay returns the recorded outcome
	// without a second increment.
	ConsumeCounter(ctx context.Context, key Key, amount, limit int64, opID string) (int64, error)

	// ReleaseCounter atomically decrements the keyed counter by amount,
	// flooring at zero. Idempotent per opID to tolerate at-least-once
	// delivery. Releasing an absent counter is a no-op.
	ReleaseCounter(ctx context.Context, key Key, amount int64, opID string) error

	GetCounter(ctx context.Context, key Key) (*Counter, error)
	ListCounters(ctx context.Context, tenantID, periodID string) ([]*Counter, error)

	// ListExpiredCounters returns unfrozen rows whose period ended at
	// or before asOf. Used by the rollover sweep.
	ListExpiredCounters(ctx context.Context, asOf time.Time) ([]*Counter, error)

	// FreezeCounter marks a row read-only. Returns false when the row
	// was already frozen, which keeps rollover idempotent (one audit
	// record per row, ever).
	FreezeCounter(ctx context.Context, key Key) (bool, error)

	// EnsureCounter creates a zeroed row for the key if absent.
	EnsureCounter(ctx context.Context, key Key) error
}
