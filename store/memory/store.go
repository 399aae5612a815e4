// Package memory provides the in-memory Store used for tests and
// single-process deployments. One RWMutex guards all state, which makes
// the conditional check-and-increment operations trivially atomic.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	governor "github.com/xraph/governor"
	"github.com/xraph/governor/audit"
	"github.com/xraph/governor/budget"
	"github.com/xraph/governor/id"
	"github.com/xraph/governor/overlay"
	"github.com/xraph/governor/plan"
	"github.com/xraph/governor/types"
	"github.com/xraph/governor/usage"
)

type consumeRecord struct {
	consumed int64
	granted  bool
}

type Store struct {
	mu sync.RWMutex

	// Plan registry: revisions keyed by plan ID; base plan lookups
	// pick the newest active revision for (key, category).
	plans map[string]*plan.Plan

	// Overlays keyed by tenant.
	overlays map[string]*overlay.Overlay

	// Usage counters keyed by tenant:resource:period.
	counters   map[string]*usage.Counter
	consumeOps map[string]consumeRecord
	releaseOps map[string]bool

	// Budgets keyed by tenant:provider:period; reservations by ID.
	budgets      map[string]*budget.State
	reservations map[string]*budget.Reservation

	// Append-only audit trail.
	auditLog []*audit.Record
}

func New() *Store {
	return &Store{
		plans:        make(map[string]*plan.Plan),
		overlays:     make(map[string]*overlay.Overlay),
		counters:     make(map[string]*usage.Counter),
		consumeOps:   make(map[string]consumeRecord),
		releaseOps:   make(map[string]bool),
		budgets:      make(map[string]*budget.State),
		reservations: make(map[string]*budget.Reservation),
	}
}

func counterKey(k usage.Key) string {
	return fmt.Sprintf("%s:%s:%s", k.TenantID, k.Resource, k.PeriodID)
}

func budgetKey(tenantID, provider, periodID string) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, provider, periodID)
}

// ==================== Plan Registry ====================

func (s *Store) UpsertPlan(_ context.Context, p *plan.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Replace any prior revision with the same identity. Custom plans
	// are identified by tenant; base plans by (key, category).
	for pid, existing := range s.plans {
		if existing.Custom != p.Custom {
			continue
		}
		if p.Custom && existing.TenantID == p.TenantID {
			delete(s.plans, pid)
		}
		if !p.Custom && existing.Key == p.Key && existing.Category == p.Category {
			delete(s.plans, pid)
		}
	}
	s.plans[p.ID.String()] = p.Clone()
	return nil
}

func (s *Store) GetBasePlan(_ context.Context, key string, category plan.Category) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *plan.Plan
	for _, p := range s.plans {
		if p.Custom || p.Key != key || p.Category != category || p.Status == plan.StatusDraft {
			continue
		}
		if newest == nil || p.CreatedAt.After(newest.CreatedAt) {
			newest = p
		}
	}
	if newest == nil {
		return nil, governor.ErrPlanNotFound
	}
	return newest.Clone(), nil
}

func (s *Store) GetPlanByID(_ context.Context, planID id.PlanID) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.plans[planID.String()]; ok {
		return p.Clone(), nil
	}
	return nil, governor.ErrPlanNotFound
}

func (s *Store) GetCustomPlan(_ context.Context, tenantID string) (*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.Custom && p.TenantID == tenantID && p.Status != plan.StatusArchived {
			return p.Clone(), nil
		}
	}
	return nil, governor.ErrNoCustomPlan
}

func (s *Store) ListPlans(_ context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*plan.Plan, 0)
	for _, p := range s.plans {
		if p.Custom && !opts.IncludeCustom {
			continue
		}
		if opts.Category != "" && p.Category != opts.Category {
			continue
		}
		if opts.Status != "" && p.Status != opts.Status {
			continue
		}
		result = append(result, p.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}
	return result[start:end], nil
}

func (s *Store) ArchivePlan(_ context.Context, planID id.PlanID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.plans[planID.String()]; ok {
		p.Status = plan.StatusArchived
		p.Touch()
		return nil
	}
	return governor.ErrPlanNotFound
}

// ==================== Overlays ====================

func (s *Store) GetOverlay(_ context.Context, tenantID string) (*overlay.Overlay, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if o, ok := s.overlays[tenantID]; ok {
		return o.Clone(), nil
	}
	return nil, governor.ErrOverlayNotFound
}

func (s *Store) SaveOverlay(_ context.Context, o *overlay.Overlay) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.overlays[o.TenantID] = o.Clone()
	return nil
}

// ==================== Usage Counters ====================

func (s *Store) ConsumeCounter(_ context.Context, key usage.Key, amount, limit int64, opID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opID != "" {
		if rec, ok := s.consumeOps[opID]; ok {
			if rec.granted {
				return rec.consumed, nil
			}
			return rec.consumed, governor.ErrLimitExceeded
		}
	}

	c := s.ensureCounterLocked(key)
	if c.Frozen {
		return c.Consumed, governor.ErrPeriodClosed
	}

	if limit != plan.Unlimited && c.Consumed+amount > limit {
		if opID != "" {
			s.consumeOps[opID] = consumeRecord{consumed: c.Consumed, granted: false}
		}
		return c.Consumed, governor.ErrLimitExceeded
	}

	c.Consumed += amount
	c.LastMutationAt = time.Now().UTC()
	c.Touch()

	if opID != "" {
		s.consumeOps[opID] = consumeRecord{consumed: c.Consumed, granted: true}
	}
	return c.Consumed, nil
}

func (s *Store) ReleaseCounter(_ context.Context, key usage.Key, amount int64, opID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opID != "" {
		if s.releaseOps[opID] {
			return nil
		}
		s.releaseOps[opID] = true
	}

	c, ok := s.counters[counterKey(key)]
	if !ok {
		return nil
	}
	if c.Frozen {
		return governor.ErrPeriodClosed
	}

	c.Consumed -= amount
	if c.Consumed < 0 {
		c.Consumed = 0
	}
	c.LastMutationAt = time.Now().UTC()
	c.Touch()
	return nil
}

func (s *Store) GetCounter(_ context.Context, key usage.Key) (*usage.Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.counters[counterKey(key)]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, governor.ErrNotFound
}

func (s *Store) ListCounters(_ context.Context, tenantID, periodID string) ([]*usage.Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*usage.Counter, 0)
	for _, c := range s.counters {
		if c.TenantID == tenantID && (periodID == "" || c.PeriodID == periodID) {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Resource < result[j].Resource })
	return result, nil
}

func (s *Store) ListExpiredCounters(_ context.Context, asOf time.Time) ([]*usage.Counter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*usage.Counter, 0)
	for _, c := range s.counters {
		if !c.Frozen && !c.PeriodEnd.After(asOf) {
			cp := *c
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *Store) FreezeCounter(_ context.Context, key usage.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.counters[counterKey(key)]
	if !ok || c.Frozen {
		return false, nil
	}
	c.Frozen = true
	c.Touch()
	return true, nil
}

func (s *Store) EnsureCounter(_ context.Context, key usage.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ensureCounterLocked(key)
	return nil
}

func (s *Store) ensureCounterLocked(key usage.Key) *usage.Counter {
	k := counterKey(key)
	if c, ok := s.counters[k]; ok {
		return c
	}
	c := &usage.Counter{
		Entity:      types.NewEntity(),
		ID:          id.NewCounterID(),
		TenantID:    key.TenantID,
		Resource:    key.Resource,
		PeriodID:    key.PeriodID,
		PeriodStart: key.PeriodStart,
		PeriodEnd:   key.PeriodEnd,
	}
	s.counters[k] = c
	return c
}

// ==================== Budgets ====================

func (s *Store) Reserve(_ context.Context, rsv *budget.Reservation, caps budget.Caps) (*budget.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prow := s.ensureBudgetLocked(rsv.TenantID, rsv.Provider, rsv.PeriodID, caps.ProviderTokens, caps.CostCap, caps)
	grow := s.ensureBudgetLocked(rsv.TenantID, budget.GlobalProvider, rsv.PeriodID, caps.GlobalTokens, types.Zero(caps.CostCap.Currency), caps)

	if prow.Frozen || grow.Frozen {
		return nil, governor.ErrPeriodClosed
	}

	// Keep cap snapshots current with the latest resolved entitlement.
	prow.CapTokens = caps.ProviderTokens
	prow.CapCost = caps.CostCap
	grow.CapTokens = caps.GlobalTokens

	if caps.CostCap.IsPositive() && prow.ConsumedCost.Currency == caps.CostCap.Currency &&
		prow.ConsumedCost.Amount >= caps.CostCap.Amount {
		return &budget.Outcome{DeniedBy: budget.DeniedByCostBudget}, nil
	}

	est := rsv.EstimatedTokens
	if caps.ProviderTokens != plan.Unlimited && prow.ConsumedTokens+prow.ReservedTokens+est > caps.ProviderTokens {
		return &budget.Outcome{
			DeniedBy:        budget.DeniedByProviderTokens,
			RemainingTokens: headroom(caps.ProviderTokens, prow),
		}, nil
	}
	if caps.GlobalTokens != plan.Unlimited && grow.ConsumedTokens+grow.ReservedTokens+est > caps.GlobalTokens {
		return &budget.Outcome{
			DeniedBy:        budget.DeniedByGlobalTokens,
			RemainingTokens: headroom(caps.GlobalTokens, grow),
		}, nil
	}

	prow.ReservedTokens += est
	prow.Touch()
	grow.ReservedTokens += est
	grow.Touch()

	cp := *rsv
	s.reservations[rsv.ID.String()] = &cp

	return &budget.Outcome{
		Granted:         true,
		RemainingTokens: remainingAfter(caps, prow, grow),
	}, nil
}

func (s *Store) GetReservation(_ context.Context, rsvID id.ReservationID) (*budget.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, ok := s.reservations[rsvID.String()]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, governor.ErrReservationNotFound
}

func (s *Store) Settle(_ context.Context, rsvID id.ReservationID, actualTokens int64, actualCost types.Money, confirm bool) (*budget.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[rsvID.String()]
	if !ok {
		return nil, governor.ErrReservationNotFound
	}
	switch r.Status {
	case budget.StatusConfirmed, budget.StatusCanceled:
		return nil, governor.ErrReservationSettled
	case budget.StatusReclaimed:
		return nil, governor.ErrReservationExpired
	}

	prow := s.budgets[budgetKey(r.TenantID, r.Provider, r.PeriodID)]
	grow := s.budgets[budgetKey(r.TenantID, budget.GlobalProvider, r.PeriodID)]

	releaseReserved(prow, r.EstimatedTokens)
	releaseReserved(grow, r.EstimatedTokens)

	now := time.Now().UTC()
	if confirm {
		if prow != nil {
			prow.ConsumedTokens += actualTokens
			addCost(prow, actualCost)
			prow.Touch()
		}
		if grow != nil {
			grow.ConsumedTokens += actualTokens
			grow.Touch()
		}
		r.Status = budget.StatusConfirmed
		r.ActualTokens = actualTokens
		r.ActualCost = actualCost
	} else {
		r.Status = budget.StatusCanceled
	}
	r.SettledAt = &now
	r.Touch()

	cp := *r
	return &cp, nil
}

func (s *Store) ReclaimExpired(_ context.Context, asOf time.Time) ([]*budget.Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reclaimed := make([]*budget.Reservation, 0)
	for _, r := range s.reservations {
		if !r.Expired(asOf) {
			continue
		}
		releaseReserved(s.budgets[budgetKey(r.TenantID, r.Provider, r.PeriodID)], r.EstimatedTokens)
		releaseReserved(s.budgets[budgetKey(r.TenantID, budget.GlobalProvider, r.PeriodID)], r.EstimatedTokens)

		now := asOf.UTC()
		r.Status = budget.StatusReclaimed
		r.SettledAt = &now
		r.Touch()

		cp := *r
		reclaimed = append(reclaimed, &cp)
	}
	return reclaimed, nil
}

func (s *Store) GetBudget(_ context.Context, tenantID, provider, periodID string) (*budget.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := s.budgets[budgetKey(tenantID, provider, periodID)]; ok {
		cp := *b
		return &cp, nil
	}
	return nil, governor.ErrNotFound
}

func (s *Store) ListBudgets(_ context.Context, tenantID, periodID string) ([]*budget.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*budget.State, 0)
	for _, b := range s.budgets {
		if b.TenantID == tenantID && (periodID == "" || b.PeriodID == periodID) {
			cp := *b
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Provider < result[j].Provider })
	return result, nil
}

func (s *Store) ListExpiredBudgets(_ context.Context, asOf time.Time) ([]*budget.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*budget.State, 0)
	for _, b := range s.budgets {
		if !b.Frozen && !b.PeriodEnd.After(asOf) {
			cp := *b
			result = append(result, &cp)
		}
	}
	return result, nil
}

func (s *Store) FreezeBudget(_ context.Context, tenantID, provider, periodID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.budgets[budgetKey(tenantID, provider, periodID)]
	if !ok || b.Frozen {
		return false, nil
	}
	b.Frozen = true
	b.Touch()
	return true, nil
}

func (s *Store) ensureBudgetLocked(tenantID, provider, periodID string, capTokens int64, capCost types.Money, caps budget.Caps) *budget.State {
	k := budgetKey(tenantID, provider, periodID)
	if b, ok := s.budgets[k]; ok {
		return b
	}
	currency := capCost.Currency
	if currency == "" {
		currency = "usd"
	}
	b := &budget.State{
		Entity:       types.NewEntity(),
		ID:           id.NewBudgetID(),
		TenantID:     tenantID,
		Provider:     provider,
		PeriodID:     periodID,
		CapTokens:    capTokens,
		CapCost:      capCost,
		ConsumedCost: types.Zero(currency),
		PeriodStart:  caps.PeriodStart,
		PeriodEnd:    caps.PeriodEnd,
	}
	s.budgets[k] = b
	return b
}

func releaseReserved(b *budget.State, tokens int64) {
	if b == nil {
		return
	}
	b.ReservedTokens -= tokens
	if b.ReservedTokens < 0 {
		b.ReservedTokens = 0
	}
}

func addCost(b *budget.State, cost types.Money) {
	if cost.Currency == "" || cost.Amount == 0 {
		return
	}
	if b.ConsumedCost.Currency != cost.Currency {
		if b.ConsumedCost.Amount == 0 {
			b.ConsumedCost = cost
			return
		}
		// Mixed currencies would corrupt the running total; keep the
		// existing currency and drop the increment rather than panic.
		return
	}
	b.ConsumedCost = b.ConsumedCost.Add(cost)
}

func headroom(limit int64, b *budget.State) int64 {
	if limit == plan.Unlimited {
		return plan.Unlimited
	}
	h := limit - b.ConsumedTokens - b.ReservedTokens
	if h < 0 {
		h = 0
	}
	return h
}

func remainingAfter(caps budget.Caps, prow, grow *budget.State) int64 {
	pr := headroom(caps.ProviderTokens, prow)
	gr := headroom(caps.GlobalTokens, grow)
	if pr == plan.Unlimited {
		return gr
	}
	if gr == plan.Unlimited {
		return pr
	}
	if gr < pr {
		return gr
	}
	return pr
}

// ==================== Audit ====================

func (s *Store) AppendAudit(_ context.Context, rec *audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *rec
	s.auditLog = append(s.auditLog, &cp)
	return nil
}

func (s *Store) ListAudit(_ context.Context, tenantID string, opts audit.ListOpts) ([]*audit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*audit.Record, 0)
	for _, rec := range s.auditLog {
		if tenantID != "" && rec.TenantID != tenantID {
			continue
		}
		if opts.Action != "" && rec.Action != opts.Action {
			continue
		}
		if !opts.Since.IsZero() && rec.RecordedAt.Before(opts.Since) {
			continue
		}
		cp := *rec
		result = append(result, &cp)
	}

	start := opts.Offset
	if start > len(result) {
		start = len(result)
	}
	end := start + opts.Limit
	if opts.Limit == 0 || end > len(result) {
		end = len(result)
	}
	return result[start:end], nil
}

// ==================== Store management ====================

func (s *Store) Migrate(_ context.Context) error {
	return nil // No migration needed for memory store
}

func (s *Store) Ping(_ context.Context) error {
	return nil // Always available
}

func (s *Store) Close() error {
	return nil // Nothing to close
}
