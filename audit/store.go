package audit

import "context"

// Store is the audit trail storage contract. Appends only; records are
// never updated or deleted.
type Store interface {
	AppendAudit(ctx context.Context, rec *Record) error
	ListAudit(ctx context.Context, tenantID string, opts ListOpts) ([]*Record, error)
}
