package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	governor "github.com/xraph/governor"
	"github.com/xraph/governor/budget"
	"github.com/xraph/governor/id"
	"github.com/xraph/governor/overlay"
	"github.com/xraph/governor/plan"
	"github.com/xraph/governor/types"
	"github.com/xraph/governor/usage"
)

func testKey(tenant string) usage.Key {
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	return usage.Key{
		TenantID:    tenant,
		Resource:    "trainer",
		PeriodID:    "2026-09",
		PeriodStart: start,
		PeriodEnd:   start.AddDate(0, 1, 0),
	}
}

func testCaps(provider, global int64) budget.Caps {
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	return budget.Caps{
		ProviderTokens: provider,
		GlobalTokens:   global,
		CostCap:        types.USD(0),
		PeriodStart:    start,
		PeriodEnd:      start.AddDate(0, 1, 0),
	}
}

func pendingReservation(tenant, provider string, est int64) *budget.Reservation {
	return &budget.Reservation{
		Entity:          types.NewEntity(),
		ID:              id.NewReservationID(),
		TenantID:        tenant,
		Provider:        provider,
		PeriodID:        "2026-09",
		EstimatedTokens: est,
		Status:          budget.StatusPending,
		ExpiresAt:       time.Now().Add(15 * time.Minute),
	}
}

func TestConsumeCounterGrantsUpToLimit(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := testKey("ten_1")

	for i := int64(1); i <= 3; i++ {
		consumed, err := s.ConsumeCounter(ctx, key, 1, 3, "")
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if consumed != i {
			t.Errorf("consumed: got %d, want %d", consumed, i)
		}
	}

	if _, err := s.ConsumeCounter(ctx, key, 1, 3, ""); !errors.Is(err, governor.ErrLimitExceeded) {
		t.Errorf("got %v, want ErrLimitExceeded", err)
	}

	c, err := s.GetCounter(ctx, key)
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	if c.Consumed != 3 {
		t.Errorf("denied consume mutated counter: %d", c.Consumed)
	}
}

func TestConsumeCounterConcurrent(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := testKey("ten_1")

	const (
		workers = 1000
		limit   = 50
	)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.ConsumeCounter(ctx, key, 1, limit, ""); err == nil {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != limit {
		t.Errorf("granted: got %d, want exactly %d", granted, limit)
	}

	c, err := s.GetCounter(ctx, key)
	if err != nil {
		t.Fatalf("get counter: %v", err)
	}
	if c.Consumed != limit {
		t.Errorf("consumed: got %d, want %d", c.Consumed, limit)
	}
}

func TestConsumeCounterIdempotency(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := testKey("ten_1")

	first, err := s.ConsumeCounter(ctx, key, 2, 10, "op-1")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}

	// Replay returns the recorded outcome without consuming again.
	replay, err := s.ConsumeCounter(ctx, key, 2, 10, "op-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay != first {
		t.Errorf("replay consumed: got %d, want %d", replay, first)
	}

	c, _ := s.GetCounter(ctx, key)
	if c.Consumed != 2 {
		t.Errorf("replay double-counted: %d", c.Consumed)
	}

	// A denied consume replays as denied.
	if _, err := s.ConsumeCounter(ctx, key, 100, 10, "op-2"); !errors.Is(err, governor.ErrLimitExceeded) {
		t.Fatalf("got %v, want denial", err)
	}
	if _, err := s.ConsumeCounter(ctx, key, 100, 10, "op-2"); !errors.Is(err, governor.ErrLimitExceeded) {
		t.Errorf("denied replay: got %v, want ErrLimitExceeded", err)
	}
}

func TestConsumeCounterFrozenPeriod(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := testKey("ten_1")

	if _, err := s.ConsumeCounter(ctx, key, 1, 10, ""); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if ok, err := s.FreezeCounter(ctx, key); err != nil || !ok {
		t.Fatalf("freeze: ok=%v err=%v", ok, err)
	}

	if _, err := s.ConsumeCounter(ctx, key, 1, 10, ""); !errors.Is(err, governor.ErrPeriodClosed) {
		t.Errorf("got %v, want ErrPeriodClosed", err)
	}

	// Second freeze reports already-frozen.
	if ok, _ := s.FreezeCounter(ctx, key); ok {
		t.Error("second freeze should return false")
	}
}

func TestReleaseCounterFloorsAtZero(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := testKey("ten_1")

	if _, err := s.ConsumeCounter(ctx, key, 2, 10, ""); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := s.ReleaseCounter(ctx, key, 5, ""); err != nil {
		t.Fatalf("release: %v", err)
	}

	c, _ := s.GetCounter(ctx, key)
	if c.Consumed != 0 {
		t.Errorf("consumed should floor at 0, got %d", c.Consumed)
	}
}

func TestReleaseCounterIdempotency(t *testing.T) {
	s := New()
	ctx := context.Background()
	key := testKey("ten_1")

	if _, err := s.ConsumeCounter(ctx, key, 5, 10, ""); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := s.ReleaseCounter(ctx, key, 2, "rel-1"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := s.ReleaseCounter(ctx, key, 2, "rel-1"); err != nil {
		t.Fatalf("release replay: %v", err)
	}

	c, _ := s.GetCounter(ctx, key)
	if c.Consumed != 3 {
		t.Errorf("replayed release double-applied: %d", c.Consumed)
	}
}

func TestReserveDualCap(t *testing.T) {
	s := New()
	ctx := context.Background()

	// Provider cap 500, global cap 1000.
	caps := testCaps(500, 1000)

	out, err := s.Reserve(ctx, pendingReservation("ten_1", "openai", 400), caps)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !out.Granted {
		t.Fatalf("first reserve denied: %s", out.DeniedBy)
	}

	// Second reservation breaks the provider cap.
	out, err = s.Reserve(ctx, pendingReservation("ten_1", "openai", 200), caps)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if out.Granted || out.DeniedBy != budget.DeniedByProviderTokens {
		t.Errorf("got granted=%v deniedBy=%s, want provider denial", out.Granted, out.DeniedBy)
	}

	// A provider denial must not leave a partial hold anywhere.
	g, err := s.GetBudget(ctx, "ten_1", budget.GlobalProvider, "2026-09")
	if err != nil {
		t.Fatalf("get global budget: %v", err)
	}
	if g.ReservedTokens != 400 {
		t.Errorf("global reserved: got %d, want 400", g.ReservedTokens)
	}
}

func TestReserveGlobalDenialCompensatesProvider(t *testing.T) {
	s := New()
	ctx := context.Background()

	// Generous provider cap, tight global cap.
	caps := testCaps(10_000, 500)

	out, err := s.Reserve(ctx, pendingReservation("ten_1", "openai", 400), caps)
	if err != nil || !out.Granted {
		t.Fatalf("first reserve: granted=%v err=%v", out != nil && out.Granted, err)
	}

	out, err = s.Reserve(ctx, pendingReservation("ten_1", "openai", 200), caps)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if out.Granted || out.DeniedBy != budget.DeniedByGlobalTokens {
		t.Errorf("got granted=%v deniedBy=%s, want global denial", out.Granted, out.DeniedBy)
	}

	// The provider hold taken before the global check must be rolled back.
	p, err := s.GetBudget(ctx, "ten_1", "openai", "2026-09")
	if err != nil {
		t.Fatalf("get provider budget: %v", err)
	}
	if p.ReservedTokens != 400 {
		t.Errorf("provider reserved after compensation: got %d, want 400", p.ReservedTokens)
	}
}

func TestReserveConcurrentAgainstGlobalCap(t *testing.T) {
	s := New()
	ctx := context.Background()
	caps := testCaps(10_000, 1_000)

	results := make(chan bool, 2)
	var wg sync.WaitGroup
	for _, est := range []int64{700, 400} {
		wg.Add(1)
		go func(est int64) {
			defer wg.Done()
			out, err := s.Reserve(ctx, pendingReservation("ten_1", "openai", est), caps)
			if err != nil {
				t.Errorf("reserve: %v", err)
				results <- false
				return
			}
			results <- out.Granted
		}(est)
	}
	wg.Wait()
	close(results)

	granted := 0
	for ok := range results {
		if ok {
			granted++
		}
	}
	if granted != 1 {
		t.Errorf("granted: got %d, want exactly 1 of {700, 400} against cap 1000", granted)
	}
}

func TestSettleLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()
	caps := testCaps(10_000, 10_000)

	rsv := pendingReservation("ten_1", "openai", 800)
	if out, err := s.Reserve(ctx, rsv, caps); err != nil || !out.Granted {
		t.Fatalf("reserve: %v", err)
	}

	settled, err := s.Settle(ctx, rsv.ID, 650, types.USD(130), true)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if settled.Status != budget.StatusConfirmed || settled.ActualTokens != 650 {
		t.Errorf("got status=%s tokens=%d", settled.Status, settled.ActualTokens)
	}

	b, err := s.GetBudget(ctx, "ten_1", "openai", "2026-09")
	if err != nil {
		t.Fatalf("get budget: %v", err)
	}
	if b.ReservedTokens != 0 {
		t.Errorf("hold not released: %d", b.ReservedTokens)
	}
	if b.ConsumedTokens != 650 {
		t.Errorf("consumed: got %d, want actual 650 not estimate 800", b.ConsumedTokens)
	}
	if b.ConsumedCost.Amount != 130 {
		t.Errorf("consumed cost: got %d", b.ConsumedCost.Amount)
	}

	// Settling is one-shot.
	if _, err := s.Settle(ctx, rsv.ID, 650, types.USD(130), true); !errors.Is(err, governor.ErrReservationSettled) {
		t.Errorf("double confirm: got %v, want ErrReservationSettled", err)
	}
}

func TestSettleConfirmAfterCancel(t *testing.T) {
	s := New()
	ctx := context.Background()
	caps := testCaps(10_000, 10_000)

	rsv := pendingReservation("ten_1", "openai", 500)
	if out, err := s.Reserve(ctx, rsv, caps); err != nil || !out.Granted {
		t.Fatalf("reserve: %v", err)
	}

	if _, err := s.Settle(ctx, rsv.ID, 0, types.Money{}, false); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	if _, err := s.Settle(ctx, rsv.ID, 500, types.USD(100), true); !errors.Is(err, governor.ErrReservationSettled) {
		t.Errorf("confirm after cancel: got %v, want ErrReservationSettled", err)
	}

	b, _ := s.GetBudget(ctx, "ten_1", "openai", "2026-09")
	if b.ConsumedTokens != 0 || b.ReservedTokens != 0 {
		t.Errorf("cancel must consume nothing: consumed=%d reserved=%d", b.ConsumedTokens, b.ReservedTokens)
	}
}

func TestReclaimExpired(t *testing.T) {
	s := New()
	ctx := context.Background()
	caps := testCaps(10_000, 10_000)

	stale := pendingReservation("ten_1", "openai", 300)
	stale.ExpiresAt = time.Now().Add(-time.Minute)
	if out, err := s.Reserve(ctx, stale, caps); err != nil || !out.Granted {
		t.Fatalf("reserve: %v", err)
	}

	fresh := pendingReservation("ten_1", "openai", 200)
	if out, err := s.Reserve(ctx, fresh, caps); err != nil || !out.Granted {
		t.Fatalf("reserve: %v", err)
	}

	reclaimed, err := s.ReclaimExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(reclaimed) != 1 || reclaimed[0].ID.String() != stale.ID.String() {
		t.Fatalf("reclaimed: got %d, want only the stale reservation", len(reclaimed))
	}
	if reclaimed[0].Status != budget.StatusReclaimed {
		t.Errorf("status: got %s", reclaimed[0].Status)
	}

	b, _ := s.GetBudget(ctx, "ten_1", "openai", "2026-09")
	if b.ReservedTokens != 200 {
		t.Errorf("only the stale hold should be released, reserved=%d", b.ReservedTokens)
	}

	// Settling a reclaimed reservation reports expiry.
	if _, err := s.Settle(ctx, stale.ID, 300, types.USD(60), true); !errors.Is(err, governor.ErrReservationExpired) {
		t.Errorf("got %v, want ErrReservationExpired", err)
	}
}

func TestFreezeBudgetCAS(t *testing.T) {
	s := New()
	ctx := context.Background()
	caps := testCaps(1_000, 1_000)

	if out, err := s.Reserve(ctx, pendingReservation("ten_1", "openai", 100), caps); err != nil || !out.Granted {
		t.Fatalf("reserve: %v", err)
	}

	ok, err := s.FreezeBudget(ctx, "ten_1", "openai", "2026-09")
	if err != nil || !ok {
		t.Fatalf("freeze: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.FreezeBudget(ctx, "ten_1", "openai", "2026-09"); ok {
		t.Error("second freeze should return false")
	}

	// Reserving against a frozen provider row fails closed.
	if _, err := s.Reserve(ctx, pendingReservation("ten_1", "openai", 100), caps); !errors.Is(err, governor.ErrPeriodClosed) {
		t.Errorf("got %v, want ErrPeriodClosed", err)
	}
}

func TestListExpiredCounters(t *testing.T) {
	s := New()
	ctx := context.Background()

	old := testKey("ten_1")
	if _, err := s.ConsumeCounter(ctx, old, 1, 10, ""); err != nil {
		t.Fatalf("consume: %v", err)
	}

	cur := testKey("ten_1")
	cur.PeriodID = "2026-10"
	cur.PeriodStart = cur.PeriodStart.AddDate(0, 1, 0)
	cur.PeriodEnd = cur.PeriodEnd.AddDate(0, 1, 0)
	if _, err := s.ConsumeCounter(ctx, cur, 1, 10, ""); err != nil {
		t.Fatalf("consume: %v", err)
	}

	asOf := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	expired, err := s.ListExpiredCounters(ctx, asOf)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if len(expired) != 1 || expired[0].PeriodID != "2026-09" {
		t.Errorf("got %d expired, want only 2026-09", len(expired))
	}
}

func TestReadsReturnDetachedCopies(t *testing.T) {
	ctx := context.Background()
	s := New()

	p := &plan.Plan{
		Entity:   types.NewEntity(),
		ID:       id.NewPlanID(),
		Key:      "starter",
		Category: plan.CategoryBusiness,
		Status:   plan.StatusActive,
		Limits:   map[string]int64{plan.ResourceTrainer: 5},
	}
	if err := s.UpsertPlan(ctx, p); err != nil {
		t.Fatalf("UpsertPlan: %v", err)
	}

	// Neither the caller's pointer nor a read result may alias the
	// stored plan: map writes on one side would race reads on the other.
	p.Limits[plan.ResourceTrainer] = 99
	got, err := s.GetBasePlan(ctx, "starter", plan.CategoryBusiness)
	if err != nil {
		t.Fatalf("GetBasePlan: %v", err)
	}
	if got.Limits[plan.ResourceTrainer] != 5 {
		t.Fatalf("stored plan aliased the upserted pointer: limit = %d", got.Limits[plan.ResourceTrainer])
	}
	got.Limits[plan.ResourceTrainer] = 42
	again, err := s.GetBasePlan(ctx, "starter", plan.CategoryBusiness)
	if err != nil {
		t.Fatalf("GetBasePlan: %v", err)
	}
	if again.Limits[plan.ResourceTrainer] != 5 {
		t.Fatalf("read result aliased the stored plan: limit = %d", again.Limits[plan.ResourceTrainer])
	}

	o := overlay.Empty("gym-1", "starter", string(plan.CategoryBusiness))
	if err := s.SaveOverlay(ctx, o); err != nil {
		t.Fatalf("SaveOverlay: %v", err)
	}
	o.ExtraSlots[plan.ResourceTrainer] = 7
	gotO, err := s.GetOverlay(ctx, "gym-1")
	if err != nil {
		t.Fatalf("GetOverlay: %v", err)
	}
	if gotO.Extra(plan.ResourceTrainer) != 0 {
		t.Fatalf("stored overlay aliased the saved pointer: extra = %d", gotO.Extra(plan.ResourceTrainer))
	}
	gotO.ExtraSlots[plan.ResourceTrainer] = 3
	againO, err := s.GetOverlay(ctx, "gym-1")
	if err != nil {
		t.Fatalf("GetOverlay: %v", err)
	}
	if againO.Extra(plan.ResourceTrainer) != 0 {
		t.Fatalf("read overlay aliased the stored overlay: extra = %d", againO.Extra(plan.ResourceTrainer))
	}
}
