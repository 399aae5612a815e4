package governor_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/xraph/governor"
	"github.com/xraph/governor/audit"
	"github.com/xraph/governor/budget"
	"github.com/xraph/governor/health"
	"github.com/xraph/governor/period"
	"github.com/xraph/governor/plan"
	"github.com/xraph/governor/ratelimit"
	"github.com/xraph/governor/store/memory"
	"github.com/xraph/governor/types"
)

// testClock is a mutable clock shared with the engine under test.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{t: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func starterPlan() *plan.Plan {
	return &plan.Plan{
		Key:      "starter",
		Name:     "Starter",
		Category: plan.CategoryBusiness,
		Limits: map[string]int64{
			plan.ResourceTrainer:     5,
			plan.ResourceStaff:       50,
			plan.ResourceClient:      plan.Unlimited,
			plan.ResourceUploadMonth: 10_000_000,
		},
		AILimits: &plan.AILimits{
			MonthlyTokens: 1_000,
			Providers: map[string]plan.ProviderLimit{
				plan.ProviderOpenAI: {
					MonthlyTokens: 10_000,
					CostBudget:    types.USD(0),
				},
			},
		},
		UploadLimits: &plan.UploadLimits{
			MaxFileSizeBytes:        1_000_000,
			TotalStorageBytes:       100_000_000,
			MonthlyUploadQuotaBytes: 10_000_000,
		},
		RateLimits: &plan.RateLimits{
			RequestsPerMinute:     3,
			WebhookCallsPerMinute: 1,
		},
	}
}

// newTestGovernor builds an engine on a fresh in-memory store with the
// starter plan seeded and the tenant bound to it. The clock starts at a
// fixed mid-September instant so period math is deterministic.
func newTestGovernor(t *testing.T, tenantID string, opts ...governor.Option) (*governor.Governor, *testClock) {
	t.Helper()

	clock := newTestClock(time.Date(2026, time.September, 15, 12, 0, 0, 0, time.UTC))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	opts = append([]governor.Option{
		governor.WithClock(clock.Now),
		governor.WithLogger(logger),
	}, opts...)
	g := governor.New(memory.New(), opts...)

	ctx := context.Background()
	if err := g.UpsertPlan(ctx, starterPlan()); err != nil {
		t.Fatalf("UpsertPlan: %v", err)
	}
	if err := g.BindTenant(ctx, tenantID, "starter", plan.CategoryBusiness); err != nil {
		t.Fatalf("BindTenant: %v", err)
	}
	return g, clock
}

func TestConsumeGrantsThroughOverlayThenDenies(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGovernor(t, "gym-1")

	// Base trainer cap 5, plus 2 granted slots: 7 grants, then denial.
	if err := g.GrantSlots(ctx, "gym-1", plan.ResourceTrainer, 2, "support"); err != nil {
		t.Fatalf("GrantSlots: %v", err)
	}

	for i := 1; i <= 7; i++ {
		d, err := g.Consume(ctx, "gym-1", plan.ResourceTrainer, 1, "")
		if err != nil {
			t.Fatalf("consume %d: %v", i, err)
		}
		if !d.Granted {
			t.Fatalf("consume %d denied, want grant", i)
		}
		if d.Limit != 7 || d.Consumed != int64(i) || d.Remaining != int64(7-i) {
			t.Errorf("consume %d: limit=%d consumed=%d remaining=%d", i, d.Limit, d.Consumed, d.Remaining)
		}
	}

	d, err := g.Consume(ctx, "gym-1", plan.ResourceTrainer, 1, "")
	if err != nil {
		t.Fatalf("denied consume returned error: %v", err)
	}
	if d.Granted {
		t.Fatal("eighth trainer admitted past cap")
	}
	if d.Reason != "limit exceeded" || d.Remaining != 0 {
		t.Errorf("denial decision = %+v", d)
	}
}

func TestConsumeConcurrent(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGovernor(t, "gym-1")

	const attempts = 1000
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := g.Consume(ctx, "gym-1", plan.ResourceStaff, 1, "")
			if err != nil {
				t.Errorf("consume: %v", err)
				return
			}
			if d.Granted {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 50 {
		t.Fatalf("granted %d of %d, want exactly 50", granted, attempts)
	}

	counters, err := g.Counters(ctx, "gym-1", "")
	if err != nil {
		t.Fatalf("Counters: %v", err)
	}
	for _, c := range counters {
		if c.Resource == plan.ResourceStaff && c.Consumed != 50 {
			t.Errorf("staff counter consumed = %d, want 50", c.Consumed)
		}
	}
}

func TestGrantSlotsConcurrentWithConsume(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGovernor(t, "gym-1")

	// Admin grants mutate the overlay while the hot path resolves it;
	// the race detector flags any shared map between the two.
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			if err := g.GrantSlots(ctx, "gym-1", plan.ResourceTrainer, 1, "support"); err != nil {
				t.Errorf("GrantSlots: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if _, err := g.Consume(ctx, "gym-1", plan.ResourceTrainer, 1, ""); err != nil {
				t.Errorf("Consume: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	e, err := g.Entitlement(ctx, "gym-1", plan.ResourceTrainer)
	if err != nil {
		t.Fatalf("Entitlement: %v", err)
	}
	if e.ExtraSlots != 100 || e.Limit != 105 {
		t.Fatalf("after grants: extra = %d limit = %d, want 100 and 105", e.ExtraSlots, e.Limit)
	}
}

func TestConsumeUnlimitedSkipsLedger(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGovernor(t, "gym-1")

	for i := 0; i < 3; i++ {
		d, err := g.Consume(ctx, "gym-1", plan.ResourceClient, 1, "")
		if err != nil {
			t.Fatalf("consume: %v", err)
		}
		if !d.Granted || !d.Unlimited || d.Limit != plan.Unlimited || d.Remaining != plan.Unlimited {
			t.Fatalf("unlimited decision = %+v", d)
		}
	}

	counters, err := g.Counters(ctx, "gym-1", "")
	if err != nil {
		t.Fatalf("Counters: %v", err)
	}
	for _, c := range counters {
		if c.Resource == plan.ResourceClient {
			t.Fatalf("unlimited resource materialized a counter: %+v", c)
		}
	}
}

func TestConsumeInvalidAmount(t *testing.T) {
	g, _ := newTestGovernor(t, "gym-1")

	for _, amount := range []int64{0, -4} {
		if _, err := g.Consume(context.Background(), "gym-1", plan.ResourceTrainer, amount, ""); !errors.Is(err, governor.ErrInvalidConsumeAmount) {
			t.Errorf("Consume(%d) err = %v, want ErrInvalidConsumeAmount", amount, err)
		}
	}
}

func TestConsumeIdempotentOpID(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGovernor(t, "gym-1")

	first, err := g.Consume(ctx, "gym-1", plan.ResourceTrainer, 2, "op-add-trainer-1")
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	replay, err := g.Consume(ctx, "gym-1", plan.ResourceTrainer, 2, "op-add-trainer-1")
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if !replay.Granted || replay.Consumed != first.Consumed {
		t.Fatalf("replay = %+v, first = %+v", replay, first)
	}

	counters, err := g.Counters(ctx, "gym-1", "")
	if err != nil {
		t.Fatalf("Counters: %v", err)
	}
	for _, c := range counters {
		if c.Resource == plan.ResourceTrainer && c.Consumed != 2 {
			t.Errorf("replayed op mutated counter: consumed = %d, want 2", c.Consumed)
		}
	}
}

func TestCustomPlanFieldInheritance(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGovernor(t, "gym-1")

	custom := &plan.Plan{
		Limits: map[string]int64{plan.ResourceTrainer: 12},
	}
	if err := g.AssignCustomPlan(ctx, "gym-1", custom, "support"); err != nil {
		t.Fatalf("AssignCustomPlan: %v", err)
	}

	e, err := g.Entitlement(ctx, "gym-1", plan.ResourceTrainer)
	if err != nil {
		t.Fatalf("Entitlement(trainer): %v", err)
	}
	if e.Limit != 12 {
		t.Errorf("trainer limit = %d, want custom 12", e.Limit)
	}

	// Staff is absent from the custom plan and keeps the base value.
	e, err = g.Entitlement(ctx, "gym-1", plan.ResourceStaff)
	if err != nil {
		t.Fatalf("Entitlement(staff): %v", err)
	}
	if e.Limit != 50 {
		t.Errorf("staff limit = %d, want inherited 50", e.Limit)
	}
}

func TestReleaseFailsOpen(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGovernor(t, "gym-1")

	// No counter exists yet; the miss is swallowed.
	if err := g.Release(ctx, "gym-1", plan.ResourceTrainer, 1, ""); err != nil {
		t.Fatalf("Release on empty ledger: %v", err)
	}
	if err := g.Release(ctx, "gym-1", plan.ResourceTrainer, 0, ""); !errors.Is(err, governor.ErrInvalidConsumeAmount) {
		t.Fatalf("Release(0) err = %v, want ErrInvalidConsumeAmount", err)
	}

	if _, err := g.Consume(ctx, "gym-1", plan.ResourceTrainer, 3, ""); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := g.Release(ctx, "gym-1", plan.ResourceTrainer, 2, ""); err != nil {
		t.Fatalf("release: %v", err)
	}

	d, err := g.Consume(ctx, "gym-1", plan.ResourceTrainer, 1, "")
	if err != nil {
		t.Fatalf("consume after release: %v", err)
	}
	if d.Consumed != 2 {
		t.Errorf("consumed after release = %d, want 2", d.Consumed)
	}
}

func TestReserveBudgetConcurrentGlobalCap(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGovernor(t, "gym-1")

	// Provider headroom covers both; the 1000-token global cap admits
	// only one of 700 and 400.
	results := make(chan *budget.Decision, 2)
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, est := range []int64{700, 400} {
		wg.Add(1)
		go func(est int64) {
			defer wg.Done()
			d, err := g.ReserveBudget(ctx, "gym-1", plan.ProviderOpenAI, est)
			if err != nil {
				errs <- err
				return
			}
			results <- d
		}(est)
	}
	wg.Wait()
	close(results)
	close(errs)

	for err := range errs {
		t.Fatalf("ReserveBudget: %v", err)
	}

	var granted, denied int
	for d := range results {
		if d.Granted {
			granted++
			continue
		}
		denied++
		if d.DeniedBy != budget.DeniedByGlobalTokens {
			t.Errorf("DeniedBy = %q, want %q", d.DeniedBy, budget.DeniedByGlobalTokens)
		}
		if !strings.HasPrefix(d.Reason, "budget exceeded") {
			t.Errorf("denial reason = %q", d.Reason)
		}
	}
	if granted != 1 || denied != 1 {
		t.Fatalf("granted=%d denied=%d, want exactly one of each", granted, denied)
	}
}

func TestBudgetSettleLifecycle(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGovernor(t, "gym-1")

	d, err := g.ReserveBudget(ctx, "gym-1", plan.ProviderOpenAI, 400)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !d.Granted {
		t.Fatalf("reserve denied: %+v", d)
	}

	rsv, err := g.ConfirmBudget(ctx, d.ReservationID, 350, types.USD(120))
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if rsv.Status != budget.StatusConfirmed || rsv.ActualTokens != 350 {
		t.Fatalf("confirmed reservation = %+v", rsv)
	}
	if _, err := g.ConfirmBudget(ctx, d.ReservationID, 350, types.USD(120)); !errors.Is(err, governor.ErrReservationSettled) {
		t.Fatalf("double confirm err = %v, want ErrReservationSettled", err)
	}

	states, err := g.Budgets(ctx, "gym-1", "")
	if err != nil {
		t.Fatalf("Budgets: %v", err)
	}
	for _, s := range states {
		if s.ReservedTokens != 0 {
			t.Errorf("%s budget still holds %d reserved tokens after settle", s.Provider, s.ReservedTokens)
		}
	}
}

func TestConfirmAfterCancel(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGovernor(t, "gym-1")

	d, err := g.ReserveBudget(ctx, "gym-1", plan.ProviderOpenAI, 200)
	if err != nil || !d.Granted {
		t.Fatalf("reserve: d=%+v err=%v", d, err)
	}
	if _, err := g.CancelBudget(ctx, d.ReservationID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := g.ConfirmBudget(ctx, d.ReservationID, 200, types.USD(50)); !errors.Is(err, governor.ErrReservationSettled) {
		t.Fatalf("confirm after cancel err = %v, want ErrReservationSettled", err)
	}

	// The canceled hold consumed nothing.
	states, err := g.Budgets(ctx, "gym-1", "")
	if err != nil {
		t.Fatalf("Budgets: %v", err)
	}
	for _, s := range states {
		if s.ConsumedTokens != 0 || s.ReservedTokens != 0 {
			t.Errorf("%s budget = consumed %d reserved %d after cancel", s.Provider, s.ConsumedTokens, s.ReservedTokens)
		}
	}
}

func TestReserveBudgetInvalidEstimate(t *testing.T) {
	g, _ := newTestGovernor(t, "gym-1")

	if _, err := g.ReserveBudget(context.Background(), "gym-1", plan.ProviderOpenAI, 0); !errors.Is(err, governor.ErrInvalidEstimate) {
		t.Fatalf("err = %v, want ErrInvalidEstimate", err)
	}
}

func TestRolloverFreezesOnceAndSeedsSuccessor(t *testing.T) {
	ctx := context.Background()
	g, clock := newTestGovernor(t, "gym-1")

	if _, err := g.Consume(ctx, "gym-1", plan.ResourceTrainer, 3, ""); err != nil {
		t.Fatalf("consume: %v", err)
	}

	october := time.Date(2026, time.October, 1, 0, 5, 0, 0, time.UTC)
	clock.Set(october)

	frozen, err := g.Rollover(ctx, october)
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if frozen != 1 {
		t.Fatalf("frozen = %d, want 1", frozen)
	}

	// Second pass finds nothing to do.
	frozen, err = g.Rollover(ctx, october)
	if err != nil {
		t.Fatalf("second rollover: %v", err)
	}
	if frozen != 0 {
		t.Fatalf("second pass frozen = %d, want 0", frozen)
	}

	records, err := g.AuditTrail(ctx, "gym-1", audit.ListOpts{Action: audit.ActionCounterFrozen})
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("counter.frozen records = %d, want exactly 1", len(records))
	}
	if got := records[0].Detail["consumed"]; got != "3" {
		t.Errorf("frozen audit consumed = %q, want \"3\"", got)
	}

	// The successor counter for October exists and starts at zero.
	counters, err := g.Counters(ctx, "gym-1", period.ID(october))
	if err != nil {
		t.Fatalf("Counters: %v", err)
	}
	found := false
	for _, c := range counters {
		if c.Resource == plan.ResourceTrainer {
			found = true
			if c.Consumed != 0 || c.Frozen {
				t.Errorf("successor counter = %+v", c)
			}
		}
	}
	if !found {
		t.Fatal("no successor trainer counter for the new period")
	}

	// Consumption resumes against the fresh period.
	d, err := g.Consume(ctx, "gym-1", plan.ResourceTrainer, 1, "")
	if err != nil {
		t.Fatalf("consume after rollover: %v", err)
	}
	if !d.Granted || d.Consumed != 1 {
		t.Fatalf("post-rollover decision = %+v", d)
	}
}

func TestRolloverReclaimsExpiredReservations(t *testing.T) {
	ctx := context.Background()
	g, clock := newTestGovernor(t, "gym-1", governor.WithReservationTTL(time.Minute))

	d, err := g.ReserveBudget(ctx, "gym-1", plan.ProviderOpenAI, 300)
	if err != nil || !d.Granted {
		t.Fatalf("reserve: d=%+v err=%v", d, err)
	}

	clock.Advance(2 * time.Minute)
	if _, err := g.Rollover(ctx, clock.Now()); err != nil {
		t.Fatalf("rollover: %v", err)
	}

	records, err := g.AuditTrail(ctx, "gym-1", audit.ListOpts{Action: audit.ActionReservationReclaim})
	if err != nil {
		t.Fatalf("AuditTrail: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("reclaim records = %d, want 1", len(records))
	}
	if got := records[0].Detail["estimated_tokens"]; got != "300" {
		t.Errorf("reclaim audit estimated_tokens = %q", got)
	}

	if _, err := g.ConfirmBudget(ctx, d.ReservationID, 300, types.USD(10)); !errors.Is(err, governor.ErrReservationExpired) {
		t.Fatalf("confirm reclaimed err = %v, want ErrReservationExpired", err)
	}

	// The hold was returned to the pool.
	states, err := g.Budgets(ctx, "gym-1", "")
	if err != nil {
		t.Fatalf("Budgets: %v", err)
	}
	for _, s := range states {
		if s.ReservedTokens != 0 {
			t.Errorf("%s budget still holds %d reserved tokens after reclaim", s.Provider, s.ReservedTokens)
		}
	}
}

func TestCheckRate(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGovernor(t, "gym-1")

	for i := 0; i < 3; i++ {
		ok, err := g.CheckRate(ctx, "gym-1", ratelimit.ClassAPI)
		if err != nil {
			t.Fatalf("CheckRate: %v", err)
		}
		if !ok {
			t.Fatalf("api request %d denied under ceiling", i+1)
		}
	}
	if ok, _ := g.CheckRate(ctx, "gym-1", ratelimit.ClassAPI); ok {
		t.Fatal("fourth api request admitted past per-minute ceiling")
	}

	// Webhook class counts its own window.
	if ok, _ := g.CheckRate(ctx, "gym-1", ratelimit.ClassWebhook); !ok {
		t.Fatal("first webhook call denied")
	}
	if ok, _ := g.CheckRate(ctx, "gym-1", ratelimit.ClassWebhook); ok {
		t.Fatal("second webhook call admitted past ceiling of 1")
	}
}

func TestCheckUpload(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGovernor(t, "gym-1")

	// Over the single-file cap: denied before touching the quota.
	d, err := g.CheckUpload(ctx, "gym-1", 2_000_000, "")
	if err != nil {
		t.Fatalf("CheckUpload oversize: %v", err)
	}
	if d.Granted || d.Reason != "file exceeds max size" {
		t.Fatalf("oversize decision = %+v", d)
	}

	d, err = g.CheckUpload(ctx, "gym-1", 500_000, "")
	if err != nil {
		t.Fatalf("CheckUpload: %v", err)
	}
	if !d.Granted || d.Resource != plan.ResourceUploadMonth || d.Consumed != 500_000 {
		t.Fatalf("upload decision = %+v", d)
	}

	counters, err := g.Counters(ctx, "gym-1", "")
	if err != nil {
		t.Fatalf("Counters: %v", err)
	}
	for _, c := range counters {
		if c.Resource == plan.ResourceUploadMonth && c.Consumed != 500_000 {
			t.Errorf("upload counter consumed = %d, want 500000", c.Consumed)
		}
	}
}

func TestHealthSnapshot(t *testing.T) {
	ctx := context.Background()
	g, _ := newTestGovernor(t, "gym-1")

	// 4 of 5 trainers used: utilization 80.
	if _, err := g.Consume(ctx, "gym-1", plan.ResourceTrainer, 4, ""); err != nil {
		t.Fatalf("consume: %v", err)
	}

	snap, err := g.Health(ctx, "gym-1", 70, 20)
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if snap.Utilization != 80 {
		t.Errorf("utilization = %v, want 80", snap.Utilization)
	}
	// 0.40·80 + 0.35·70 + 0.25·(100−20)
	if snap.Score != 76.5 {
		t.Errorf("score = %v, want 76.5", snap.Score)
	}
	if snap.Status != health.StatusGood {
		t.Errorf("status = %q, want %q", snap.Status, health.StatusGood)
	}
}

func TestBindTenantUnknownPlan(t *testing.T) {
	g, _ := newTestGovernor(t, "gym-1")

	err := g.BindTenant(context.Background(), "gym-2", "enterprise", plan.CategoryBusiness)
	if !errors.Is(err, governor.ErrPlanNotFound) {
		t.Fatalf("err = %v, want ErrPlanNotFound", err)
	}
}

// recordingPlugin captures emitted events for assertions.
type recordingPlugin struct {
	mu       sync.Mutex
	consumed []string
	denied   []string
	reserved []string
	exceeded []string
	rollover int
}

func (p *recordingPlugin) Name() string { return "recording" }

func (p *recordingPlugin) OnConsumed(_ context.Context, tenantID, resource string, _, _, _ int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consumed = append(p.consumed, tenantID+"/"+resource)
	return nil
}

func (p *recordingPlugin) OnLimitExceeded(_ context.Context, tenantID, resource string, _, _ int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denied = append(p.denied, tenantID+"/"+resource)
	return nil
}

func (p *recordingPlugin) OnBudgetReserved(_ context.Context, tenantID, provider string, _ int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reserved = append(p.reserved, tenantID+"/"+provider)
	return nil
}

func (p *recordingPlugin) OnBudgetExceeded(_ context.Context, tenantID, provider, deniedBy string, _ int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exceeded = append(p.exceeded, tenantID+"/"+provider+"/"+deniedBy)
	return nil
}

func (p *recordingPlugin) OnRolloverCompleted(_ context.Context, _ int, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rollover++
	return nil
}

func TestPluginEvents(t *testing.T) {
	ctx := context.Background()
	rec := &recordingPlugin{}
	g, clock := newTestGovernor(t, "gym-1", governor.WithPlugin(rec))

	if _, err := g.Consume(ctx, "gym-1", plan.ResourceTrainer, 5, ""); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if _, err := g.Consume(ctx, "gym-1", plan.ResourceTrainer, 1, ""); err != nil {
		t.Fatalf("denied consume: %v", err)
	}

	if _, err := g.ReserveBudget(ctx, "gym-1", plan.ProviderOpenAI, 900); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, err := g.ReserveBudget(ctx, "gym-1", plan.ProviderOpenAI, 900); err != nil {
		t.Fatalf("denied reserve: %v", err)
	}

	clock.Set(time.Date(2026, time.October, 1, 0, 0, 1, 0, time.UTC))
	if _, err := g.Rollover(ctx, clock.Now()); err != nil {
		t.Fatalf("rollover: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.consumed) != 1 || rec.consumed[0] != "gym-1/trainer" {
		t.Errorf("consumed events = %v", rec.consumed)
	}
	if len(rec.denied) != 1 || rec.denied[0] != "gym-1/trainer" {
		t.Errorf("limit exceeded events = %v", rec.denied)
	}
	if len(rec.reserved) != 1 || rec.reserved[0] != "gym-1/openai" {
		t.Errorf("budget reserved events = %v", rec.reserved)
	}
	if len(rec.exceeded) != 1 || rec.exceeded[0] != "gym-1/openai/global_tokens" {
		t.Errorf("budget exceeded events = %v", rec.exceeded)
	}
	if rec.rollover != 1 {
		t.Errorf("rollover events = %d, want 1", rec.rollover)
	}
}
