package overlay

import "context"

// Store is the overlay storage contract. Overlays are keyed by tenant;
// SaveOverlay upserts (one overlay per tenant, never deleted).
type Store interface {
	GetOverlay(ctx context.Context, tenantID string) (*Overlay, error)
	SaveOverlay(ctx context.Context, o *Overlay) error
}
