// Package mongo implements the Governor store on MongoDB via the Grove
// ORM. Filtered findAndModify operations carry the atomicity
// contracts: the limit check and the increment of a consume, and the
// dual-cap check of a reservation, ride on single-document updates.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	governor "github.com/xraph/governor"
	"github.com/xraph/governor/audit"
	"github.com/xraph/governor/budget"
	"github.com/xraph/governor/id"
	"github.com/xraph/governor/overlay"
	"github.com/xraph/governor/plan"
	governorstore "github.com/xraph/governor/store"
	"github.com/xraph/governor/types"
	"github.com/xraph/governor/usage"
)

// Collection name constants.
const (
	colPlans        = "governor_plans"
	colOverlays     = "governor_overlays"
	colCounters     = "governor_counters"
	colBudgets      = "governor_budgets"
	colReservations = "governor_reservations"
	colAudit        = "governor_audit"
	colOps          = "governor_ops"
)

// compile-time interface check
var _ governorstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for all governor collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("governor/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Plan Registry ====================

func (s *Store) UpsertPlan(ctx context.Context, p *plan.Plan) error {
	// Remove any prior revision with the same identity, then replace.
	var prior bson.M
	if p.Custom {
		prior = bson.M{"custom": true, "tenant_id": p.TenantID, "_id": bson.M{"$ne": p.ID.String()}}
	} else {
		prior = bson.M{"custom": false, "key": p.Key, "category": string(p.Category), "_id": bson.M{"$ne": p.ID.String()}}
	}
	if _, err := s.mdb.NewDelete((*planModel)(nil)).Filter(prior).Exec(ctx); err != nil {
		return fmt.Errorf("governor/mongo: upsert plan: %w", err)
	}

	m := toPlanModel(p)
	_, err := s.mdb.Collection(colPlans).ReplaceOne(ctx,
		bson.M{"_id": m.ID}, m, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("governor/mongo: upsert plan: %w", err)
	}
	return nil
}

func (s *Store) GetBasePlan(ctx context.Context, key string, category plan.Category) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{
			"custom":   false,
			"key":      key,
			"category": string(category),
			"status":   bson.M{"$ne": string(plan.StatusDraft)},
		}).
		Sort(bson.D{{Key: "created_at", Value: -1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, governor.ErrPlanNotFound
		}
		return nil, fmt.Errorf("governor/mongo: get base plan: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) GetPlanByID(ctx context.Context, planID id.PlanID) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": planID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, governor.ErrPlanNotFound
		}
		return nil, fmt.Errorf("governor/mongo: get plan: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) GetCustomPlan(ctx context.Context, tenantID string) (*plan.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{
			"custom":    true,
			"tenant_id": tenantID,
			"status":    bson.M{"$ne": string(plan.StatusArchived)},
		}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, governor.ErrNoCustomPlan
		}
		return nil, fmt.Errorf("governor/mongo: get custom plan: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) ListPlans(ctx context.Context, opts plan.ListOpts) ([]*plan.Plan, error) {
	var models []planModel

	filter := bson.M{}
	if !opts.IncludeCustom {
		filter["custom"] = false
	}
	if opts.Category != "" {
		filter["category"] = string(opts.Category)
	}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("governor/mongo: list plans: %w", err)
	}

	result := make([]*plan.Plan, len(models))
	for i := range models {
		p, err := fromPlanModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	res, err := s.mdb.NewUpdate((*planModel)(nil)).
		Filter(bson.M{"_id": planID.String()}).
		Set("status", string(plan.StatusArchived)).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("governor/mongo: archive plan: %w", err)
	}
	if res.MatchedCount() == 0 {
		return governor.ErrPlanNotFound
	}
	return nil
}

// ==================== Overlays ====================

func (s *Store) GetOverlay(ctx context.Context, tenantID string) (*overlay.Overlay, error) {
	var m overlayModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"tenant_id": tenantID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, governor.ErrOverlayNotFound
		}
		return nil, fmt.Errorf("governor/mongo: get overlay: %w", err)
	}
	return fromOverlayModel(&m)
}

func (s *Store) SaveOverlay(ctx context.Context, o *overlay.Overlay) error {
	m := toOverlayModel(o)
	_, err := s.mdb.Collection(colOverlays).ReplaceOne(ctx,
		bson.M{"tenant_id": m.TenantID}, m, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("governor/mongo: save overlay: %w", err)
	}
	return nil
}

// ==================== Usage Counters ====================

func (s *Store) ConsumeCounter(ctx context.Context, key usage.Key, amount, limit int64, opID string) (int64, error) {
	if opID != "" {
		// Granted replays live on the counter document itself; denial
		// records live in the ops collection.
		var prior counterModel
		err := s.mdb.NewFind(&prior).
			Filter(bson.M{"tenant_id": key.TenantID, "resource": key.Resource, "period_id": key.PeriodID}).
			Scan(ctx)
		if err == nil {
			if consumed, ok := prior.Ops[opID]; ok {
				return consumed, nil
			}
		} else if !isNoDocuments(err) {
			return 0, fmt.Errorf("governor/mongo: consume counter: %w", err)
		}
		if consumed, granted, found, err := s.getOp(ctx, opID); err != nil {
			return 0, err
		} else if found {
			if granted {
				return consumed, nil
			}
			return consumed, governor.ErrLimitExceeded
		}
	}

	if err := s.ensureCounter(ctx, key); err != nil {
		return 0, err
	}

	// findAndModify with the headroom check in the filter; the server
	// serializes concurrent callers on the document. With an operation
	// ID a pipeline update stamps the dedup record in the same write
	// as the increment.
	t := now()
	filter := bson.M{
		"tenant_id": key.TenantID,
		"resource":  key.Resource,
		"period_id": key.PeriodID,
		"frozen":    false,
		"consumed":  bson.M{"$lte": limit - amount},
	}
	var update any
	if opID != "" {
		post := bson.M{"$add": bson.A{"$consumed", amount}}
		update = bson.A{bson.M{"$set": bson.M{
			"consumed":         post,
			"ops." + opID:      post,
			"last_mutation_at": t,
			"updated_at":       t,
		}}}
	} else {
		update = bson.M{
			"$inc": bson.M{"consumed": amount},
			"$set": bson.M{"last_mutation_at": t, "updated_at": t},
		}
	}

	var m counterModel
	err := s.mdb.Collection(colCounters).
		FindOneAndUpdate(ctx, filter, update,
			options.FindOneAndUpdate().SetReturnDocument(options.After)).
		Decode(&m)
	if err == nil {
		return m.Consumed, nil
	}
	if !isNoDocuments(err) {
		return 0, fmt.Errorf("governor/mongo: consume counter: %w", err)
	}

	// Denied: distinguish a frozen period from an exhausted limit.
	var cur counterModel
	selErr := s.mdb.NewFind(&cur).
		Filter(bson.M{"tenant_id": key.TenantID, "resource": key.Resource, "period_id": key.PeriodID}).
		Scan(ctx)
	if selErr != nil {
		return 0, fmt.Errorf("governor/mongo: consume counter: %w", selErr)
	}
	if cur.Frozen {
		return cur.Consumed, governor.ErrPeriodClosed
	}
	if opID != "" {
		s.recordOp(ctx, opID, opKindConsume, cur.Consumed, false)
	}
	return cur.Consumed, governor.ErrLimitExceeded
}

func (s *Store) ReleaseCounter(ctx context.Context, key usage.Key, amount int64, opID string) error {
	if opID != "" {
		if _, _, found, err := s.getOp(ctx, opID); err != nil {
			return err
		} else if found {
			return nil
		}
		s.recordOp(ctx, opID, opKindRelease, 0, true)
	}

	t := now()
	// Pipeline update so the zero floor is applied in the same atomic
	// write as the decrement; an over-release lands on zero instead of
	// matching nothing.
	_, err := s.mdb.Collection(colCounters).UpdateOne(ctx,
		bson.M{
			"tenant_id": key.TenantID,
			"resource":  key.Resource,
			"period_id": key.PeriodID,
			"frozen":    false,
		},
		bson.A{
			bson.M{"$set": bson.M{
				"consumed":         bson.M{"$max": bson.A{int64(0), bson.M{"$subtract": bson.A{"$consumed", amount}}}},
				"last_mutation_at": t,
				"updated_at":       t,
			}},
		})
	if err != nil {
		return fmt.Errorf("governor/mongo: release counter: %w", err)
	}
	return nil
}

func (s *Store) GetCounter(ctx context.Context, key usage.Key) (*usage.Counter, error) {
	var m counterModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"tenant_id": key.TenantID, "resource": key.Resource, "period_id": key.PeriodID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, governor.ErrNotFound
		}
		return nil, fmt.Errorf("governor/mongo: get counter: %w", err)
	}
	return fromCounterModel(&m)
}

func (s *Store) ListCounters(ctx context.Context, tenantID, periodID string) ([]*usage.Counter, error) {
	var models []counterModel

	filter := bson.M{"tenant_id": tenantID}
	if periodID != "" {
		filter["period_id"] = periodID
	}

	err := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "resource", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("governor/mongo: list counters: %w", err)
	}

	result := make([]*usage.Counter, len(models))
	for i := range models {
		c, err := fromCounterModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

func (s *Store) ListExpiredCounters(ctx context.Context, asOf time.Time) ([]*usage.Counter, error) {
	var models []counterModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"frozen": false, "period_end": bson.M{"$lte": asOf}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("governor/mongo: list expired counters: %w", err)
	}

	result := make([]*usage.Counter, len(models))
	for i := range models {
		c, err := fromCounterModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

func (s *Store) FreezeCounter(ctx context.Context, key usage.Key) (bool, error) {
	res, err := s.mdb.Collection(colCounters).UpdateOne(ctx,
		bson.M{
			"tenant_id": key.TenantID,
			"resource":  key.Resource,
			"period_id": key.PeriodID,
			"frozen":    false,
		},
		bson.M{"$set": bson.M{"frozen": true, "updated_at": now()}})
	if err != nil {
		return false, fmt.Errorf("governor/mongo: freeze counter: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

func (s *Store) EnsureCounter(ctx context.Context, key usage.Key) error {
	return s.ensureCounter(ctx, key)
}

func (s *Store) ensureCounter(ctx context.Context, key usage.Key) error {
	t := now()
	_, err := s.mdb.Collection(colCounters).UpdateOne(ctx,
		bson.M{"tenant_id": key.TenantID, "resource": key.Resource, "period_id": key.PeriodID},
		bson.M{"$setOnInsert": bson.M{
			"_id":              id.NewCounterID().String(),
			"consumed":         int64(0),
			"period_start":     key.PeriodStart,
			"period_end":       key.PeriodEnd,
			"last_mutation_at": t,
			"frozen":           false,
			"created_at":       t,
			"updated_at":       t,
		}},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("governor/mongo: ensure counter: %w", err)
	}
	return nil
}

// ==================== Budgets ====================

func (s *Store) Reserve(ctx context.Context, rsv *budget.Reservation, caps budget.Caps) (*budget.Outcome, error) {
	if err := s.ensureBudget(ctx, rsv.TenantID, rsv.Provider, rsv.PeriodID, caps.ProviderTokens, caps.CostCap, caps); err != nil {
		return nil, err
	}
	if err := s.ensureBudget(ctx, rsv.TenantID, budget.GlobalProvider, rsv.PeriodID, caps.GlobalTokens, types.Zero(caps.CostCap.Currency), caps); err != nil {
		return nil, err
	}

	est := rsv.EstimatedTokens

	granted, err := s.tryHold(ctx, rsv.TenantID, rsv.Provider, rsv.PeriodID, est, caps.ProviderTokens, caps.CostCap.Amount)
	if err != nil {
		return nil, err
	}
	if !granted {
		return s.denialOutcome(ctx, rsv.TenantID, rsv.Provider, rsv.PeriodID, caps.ProviderTokens, caps.CostCap.Amount)
	}

	granted, err = s.tryHold(ctx, rsv.TenantID, budget.GlobalProvider, rsv.PeriodID, est, caps.GlobalTokens, 0)
	if err != nil {
		s.releaseHold(ctx, rsv.TenantID, rsv.Provider, rsv.PeriodID, est)
		return nil, err
	}
	if !granted {
		s.releaseHold(ctx, rsv.TenantID, rsv.Provider, rsv.PeriodID, est)
		return s.denialOutcome(ctx, rsv.TenantID, budget.GlobalProvider, rsv.PeriodID, caps.GlobalTokens, 0)
	}

	m := toReservationModel(rsv)
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		s.releaseHold(ctx, rsv.TenantID, rsv.Provider, rsv.PeriodID, est)
		s.releaseHold(ctx, rsv.TenantID, budget.GlobalProvider, rsv.PeriodID, est)
		return nil, fmt.Errorf("governor/mongo: insert reservation: %w", err)
	}

	remaining, err := s.remainingTokens(ctx, rsv.TenantID, rsv.Provider, rsv.PeriodID, caps)
	if err != nil {
		remaining = 0
	}
	return &budget.Outcome{Granted: true, RemainingTokens: remaining}, nil
}

func (s *Store) GetReservation(ctx context.Context, rsvID id.ReservationID) (*budget.Reservation, error) {
	var m reservationModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": rsvID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, governor.ErrReservationNotFound
		}
		return nil, fmt.Errorf("governor/mongo: get reservation: %w", err)
	}
	return fromReservationModel(&m)
}

func (s *Store) Settle(ctx context.Context, rsvID id.ReservationID, actualTokens int64, actualCost types.Money, confirm bool) (*budget.Reservation, error) {
	r, err := s.GetReservation(ctx, rsvID)
	if err != nil {
		return nil, err
	}
	switch r.Status {
	case budget.StatusConfirmed, budget.StatusCanceled:
		return nil, governor.ErrReservationSettled
	case budget.StatusReclaimed:
		return nil, governor.ErrReservationExpired
	}

	status := budget.StatusCanceled
	if confirm {
		status = budget.StatusConfirmed
	}

	// Compare-and-set on the pending status serializes racing settles;
	// the loser re-reads and gets the settled/expired sentinel.
	t := now()
	res, err := s.mdb.Collection(colReservations).UpdateOne(ctx,
		bson.M{"_id": rsvID.String(), "status": string(budget.StatusPending)},
		bson.M{"$set": bson.M{
			"status":               string(status),
			"actual_tokens":        actualTokens,
			"actual_cost_amount":   actualCost.Amount,
			"actual_cost_currency": actualCost.Currency,
			"settled_at":           t,
			"updated_at":           t,
		}})
	if err != nil {
		return nil, fmt.Errorf("governor/mongo: settle reservation: %w", err)
	}
	if res.ModifiedCount == 0 {
		return s.Settle(ctx, rsvID, actualTokens, actualCost, confirm)
	}

	s.releaseHold(ctx, r.TenantID, r.Provider, r.PeriodID, r.EstimatedTokens)
	s.releaseHold(ctx, r.TenantID, budget.GlobalProvider, r.PeriodID, r.EstimatedTokens)

	if confirm {
		_, err = s.mdb.Collection(colBudgets).UpdateOne(ctx,
			bson.M{"tenant_id": r.TenantID, "provider": r.Provider, "period_id": r.PeriodID},
			bson.M{
				"$inc": bson.M{"consumed_tokens": actualTokens, "consumed_cost_amount": actualCost.Amount},
				"$set": bson.M{"updated_at": t},
			})
		if err != nil {
			return nil, fmt.Errorf("governor/mongo: settle reservation: %w", err)
		}
		_, err = s.mdb.Collection(colBudgets).UpdateOne(ctx,
			bson.M{"tenant_id": r.TenantID, "provider": budget.GlobalProvider, "period_id": r.PeriodID},
			bson.M{
				"$inc": bson.M{"consumed_tokens": actualTokens},
				"$set": bson.M{"updated_at": t},
			})
		if err != nil {
			return nil, fmt.Errorf("governor/mongo: settle reservation: %w", err)
		}
	}

	return s.GetReservation(ctx, rsvID)
}

func (s *Store) ReclaimExpired(ctx context.Context, asOf time.Time) ([]*budget.Reservation, error) {
	var models []reservationModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"status": string(budget.StatusPending), "expires_at": bson.M{"$lt": asOf}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("governor/mongo: reclaim expired: %w", err)
	}

	reclaimed := make([]*budget.Reservation, 0, len(models))
	t := now()
	for i := range models {
		m := &models[i]

		res, err := s.mdb.Collection(colReservations).UpdateOne(ctx,
			bson.M{"_id": m.ID, "status": string(budget.StatusPending)},
			bson.M{"$set": bson.M{
				"status":     string(budget.StatusReclaimed),
				"settled_at": t,
				"updated_at": t,
			}})
		if err != nil {
			return reclaimed, fmt.Errorf("governor/mongo: reclaim expired: %w", err)
		}
		if res.ModifiedCount == 0 {
			continue // settled concurrently
		}

		s.releaseHold(ctx, m.TenantID, m.Provider, m.PeriodID, m.EstimatedTokens)
		s.releaseHold(ctx, m.TenantID, budget.GlobalProvider, m.PeriodID, m.EstimatedTokens)

		m.Status = string(budget.StatusReclaimed)
		m.SettledAt = &t
		r, convErr := fromReservationModel(m)
		if convErr != nil {
			return reclaimed, convErr
		}
		reclaimed = append(reclaimed, r)
	}
	return reclaimed, nil
}

func (s *Store) GetBudget(ctx context.Context, tenantID, provider, periodID string) (*budget.State, error) {
	var m budgetModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"tenant_id": tenantID, "provider": provider, "period_id": periodID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, governor.ErrNotFound
		}
		return nil, fmt.Errorf("governor/mongo: get budget: %w", err)
	}
	return fromBudgetModel(&m)
}

func (s *Store) ListBudgets(ctx context.Context, tenantID, periodID string) ([]*budget.State, error) {
	var models []budgetModel

	filter := bson.M{"tenant_id": tenantID}
	if periodID != "" {
		filter["period_id"] = periodID
	}

	err := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "provider", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("governor/mongo: list budgets: %w", err)
	}

	result := make([]*budget.State, len(models))
	for i := range models {
		b, err := fromBudgetModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = b
	}
	return result, nil
}

func (s *Store) ListExpiredBudgets(ctx context.Context, asOf time.Time) ([]*budget.State, error) {
	var models []budgetModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"frozen": false, "period_end": bson.M{"$lte": asOf}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("governor/mongo: list expired budgets: %w", err)
	}

	result := make([]*budget.State, len(models))
	for i := range models {
		b, err := fromBudgetModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = b
	}
	return result, nil
}

func (s *Store) FreezeBudget(ctx context.Context, tenantID, provider, periodID string) (bool, error) {
	res, err := s.mdb.Collection(colBudgets).UpdateOne(ctx,
		bson.M{"tenant_id": tenantID, "provider": provider, "period_id": periodID, "frozen": false},
		bson.M{"$set": bson.M{"frozen": true, "updated_at": now()}})
	if err != nil {
		return false, fmt.Errorf("governor/mongo: freeze budget: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

func (s *Store) ensureBudget(ctx context.Context, tenantID, provider, periodID string, capTokens int64, capCost types.Money, caps budget.Caps) error {
	t := now()
	_, err := s.mdb.Collection(colBudgets).UpdateOne(ctx,
		bson.M{"tenant_id": tenantID, "provider": provider, "period_id": periodID},
		bson.M{
			"$set": bson.M{
				"cap_tokens":        capTokens,
				"cap_cost_amount":   capCost.Amount,
				"cap_cost_currency": capCost.Currency,
			},
			"$setOnInsert": bson.M{
				"_id":                    id.NewBudgetID().String(),
				"consumed_tokens":        int64(0),
				"reserved_tokens":        int64(0),
				"consumed_cost_amount":   int64(0),
				"consumed_cost_currency": capCost.Currency,
				"period_start":           caps.PeriodStart,
				"period_end":             caps.PeriodEnd,
				"frozen":                 false,
				"created_at":             t,
				"updated_at":             t,
			},
		},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("governor/mongo: ensure budget: %w", err)
	}
	return nil
}

// tryHold places a reservation hold on one budget document if the
// token cap and cost cap both have headroom. capTokens -1 means
// unlimited; costCap 0 disables the cost check.
func (s *Store) tryHold(ctx context.Context, tenantID, provider, periodID string, est, capTokens, costCap int64) (bool, error) {
	filter := bson.M{
		"tenant_id": tenantID,
		"provider":  provider,
		"period_id": periodID,
		"frozen":    false,
	}
	if capTokens >= 0 {
		filter["$expr"] = bson.M{"$lte": bson.A{
			bson.M{"$add": bson.A{"$consumed_tokens", "$reserved_tokens", est}},
			capTokens,
		}}
	}
	if costCap > 0 {
		filter["consumed_cost_amount"] = bson.M{"$lt": costCap}
	}

	res, err := s.mdb.Collection(colBudgets).UpdateOne(ctx, filter,
		bson.M{
			"$inc": bson.M{"reserved_tokens": est},
			"$set": bson.M{"updated_at": now()},
		})
	if err != nil {
		return false, fmt.Errorf("governor/mongo: reserve hold: %w", err)
	}
	return res.ModifiedCount == 1, nil
}

// releaseHold removes a reservation hold, flooring at zero.
func (s *Store) releaseHold(ctx context.Context, tenantID, provider, periodID string, est int64) {
	t := now()
	key := bson.M{"tenant_id": tenantID, "provider": provider, "period_id": periodID}

	cond := bson.M{"tenant_id": tenantID, "provider": provider, "period_id": periodID,
		"reserved_tokens": bson.M{"$gte": est}}
	_, _ = s.mdb.Collection(colBudgets).UpdateOne(ctx, cond, bson.M{
		"$inc": bson.M{"reserved_tokens": -est},
		"$set": bson.M{"updated_at": t},
	}) //nolint:errcheck // compensation is best-effort

	clamp := bson.M{"$set": bson.M{"reserved_tokens": int64(0), "updated_at": t}}
	condNeg := bson.M{"reserved_tokens": bson.M{"$lt": 0}}
	for k, v := range key {
		condNeg[k] = v
	}
	_, _ = s.mdb.Collection(colBudgets).UpdateOne(ctx, condNeg, clamp) //nolint:errcheck // compensation is best-effort
}

// denialOutcome classifies a failed hold into an Outcome.
func (s *Store) denialOutcome(ctx context.Context, tenantID, provider, periodID string, capTokens, costCap int64) (*budget.Outcome, error) {
	b, err := s.GetBudget(ctx, tenantID, provider, periodID)
	if err != nil {
		return nil, err
	}
	if b.Frozen {
		return nil, governor.ErrPeriodClosed
	}

	if costCap > 0 && b.ConsumedCost.Amount >= costCap {
		return &budget.Outcome{DeniedBy: budget.DeniedByCostBudget}, nil
	}

	deniedBy := budget.DeniedByProviderTokens
	if provider == budget.GlobalProvider {
		deniedBy = budget.DeniedByGlobalTokens
	}
	remaining := capTokens - b.ConsumedTokens - b.ReservedTokens
	if remaining < 0 {
		remaining = 0
	}
	return &budget.Outcome{DeniedBy: deniedBy, RemainingTokens: remaining}, nil
}

// remainingTokens reports the tighter of the provider and global
// headrooms after a granted hold.
func (s *Store) remainingTokens(ctx context.Context, tenantID, provider, periodID string, caps budget.Caps) (int64, error) {
	headroom := func(prov string, capTokens int64) (int64, error) {
		if capTokens == plan.Unlimited {
			return plan.Unlimited, nil
		}
		b, err := s.GetBudget(ctx, tenantID, prov, periodID)
		if err != nil {
			return 0, err
		}
		h := capTokens - b.ConsumedTokens - b.ReservedTokens
		if h < 0 {
			h = 0
		}
		return h, nil
	}

	pr, err := headroom(provider, caps.ProviderTokens)
	if err != nil {
		return 0, err
	}
	gr, err := headroom(budget.GlobalProvider, caps.GlobalTokens)
	if err != nil {
		return 0, err
	}
	if pr == plan.Unlimited {
		return gr, nil
	}
	if gr == plan.Unlimited {
		return pr, nil
	}
	if gr < pr {
		return gr, nil
	}
	return pr, nil
}

// ==================== Audit ====================

func (s *Store) AppendAudit(ctx context.Context, rec *audit.Record) error {
	m := toAuditModel(rec)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("governor/mongo: append audit: %w", err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, tenantID string, opts audit.ListOpts) ([]*audit.Record, error) {
	var models []auditModel

	filter := bson.M{}
	if tenantID != "" {
		filter["tenant_id"] = tenantID
	}
	if opts.Action != "" {
		filter["action"] = opts.Action
	}
	if !opts.Since.IsZero() {
		filter["recorded_at"] = bson.M{"$gte": opts.Since}
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "recorded_at", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("governor/mongo: list audit: %w", err)
	}

	result := make([]*audit.Record, len(models))
	for i := range models {
		rec, err := fromAuditModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = rec
	}
	return result, nil
}

// ==================== Operation dedup ====================

func (s *Store) getOp(ctx context.Context, opID string) (consumed int64, granted, found bool, err error) {
	var m opModel
	err = s.mdb.NewFind(&m).
		Filter(bson.M{"_id": opID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return 0, false, false, nil
		}
		return 0, false, false, fmt.Errorf("governor/mongo: get op: %w", err)
	}
	return m.Consumed, m.Granted, true, nil
}

func (s *Store) recordOp(ctx context.Context, opID, kind string, consumed int64, granted bool) {
	m := &opModel{
		OpID:      opID,
		Kind:      kind,
		Consumed:  consumed,
		Granted:   granted,
		CreatedAt: now(),
	}
	// Dedup records are best-effort; a duplicate insert means a racing
	// call already recorded the outcome.
	_, _ = s.mdb.NewInsert(m).Exec(ctx) //nolint:errcheck
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all governor collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colPlans: {
			{Keys: bson.D{{Key: "key", Value: 1}, {Key: "category", Value: 1}}},
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "custom", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		colOverlays: {
			{
				Keys:    bson.D{{Key: "tenant_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colCounters: {
			{
				Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "resource", Value: 1}, {Key: "period_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "period_end", Value: 1}, {Key: "frozen", Value: 1}}},
		},
		colBudgets: {
			{
				Keys:    bson.D{{Key: "tenant_id", Value: 1}, {Key: "provider", Value: 1}, {Key: "period_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "period_end", Value: 1}, {Key: "frozen", Value: 1}}},
		},
		colReservations: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "period_id", Value: 1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}}},
		},
		colAudit: {
			{Keys: bson.D{{Key: "tenant_id", Value: 1}, {Key: "recorded_at", Value: 1}}},
			{Keys: bson.D{{Key: "action", Value: 1}}},
		},
		colOps: {},
	}
}
