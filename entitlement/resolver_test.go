package entitlement

import (
	"errors"
	"testing"

	"github.com/xraph/governor/overlay"
	"github.com/xraph/governor/plan"
	"github.com/xraph/governor/types"
)

func basePlan() *plan.Plan {
	return &plan.Plan{
		Key:      "starter",
		Category: plan.CategoryBusiness,
		Limits: map[string]int64{
			plan.ResourceTrainer:  5,
			plan.ResourceClient:   100,
			plan.ResourceLocation: 1,
		},
		FeatureFlags: map[string]bool{
			plan.FeatureAPIAccess: false,
			plan.FeatureWebhooks:  true,
		},
		AILimits: &plan.AILimits{
			MonthlyTokens: 100_000,
			Providers: map[string]plan.ProviderLimit{
				plan.ProviderOpenAI: {
					MonthlyTokens: 50_000,
					CostBudget:    types.USD(2_000),
				},
			},
		},
		RateLimits: &plan.RateLimits{
			RequestsPerMinute:     60,
			WebhookCallsPerMinute: 10,
		},
	}
}

func TestResolveLimits(t *testing.T) {
	base := basePlan()
	custom := &plan.Plan{
		Custom: true,
		Limits: map[string]int64{
			plan.ResourceTrainer: 12,
		},
	}

	tests := []struct {
		name     string
		base     *plan.Plan
		custom   *plan.Plan
		ovl      *overlay.Overlay
		resource string
		limit    int64
		source   Source
		extra    int64
	}{
		{
			name:     "base only",
			base:     base,
			resource: plan.ResourceTrainer,
			limit:    5,
			source:   SourceBase,
		},
		{
			name:     "custom field wins outright",
			base:     base,
			custom:   custom,
			resource: plan.ResourceTrainer,
			limit:    12,
			source:   SourceCustom,
		},
		{
			name:     "custom omitted field inherits from base",
			base:     base,
			custom:   custom,
			resource: plan.ResourceClient,
			limit:    100,
			source:   SourceBase,
		},
		{
			name: "overlay slots added on top of base",
			base: base,
			ovl: &overlay.Overlay{
				TenantID:   "ten_1",
				ExtraSlots: map[string]int64{plan.ResourceTrainer: 2},
			},
			resource: plan.ResourceTrainer,
			limit:    7,
			source:   SourceBase,
			extra:    2,
		},
		{
			name:   "overlay slots added on top of custom",
			base:   base,
			custom: custom,
			ovl: &overlay.Overlay{
				TenantID:   "ten_1",
				ExtraSlots: map[string]int64{plan.ResourceTrainer: 3},
			},
			resource: plan.ResourceTrainer,
			limit:    15,
			source:   SourceCustom,
			extra:    3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := Resolve(tt.base, tt.custom, tt.ovl, tt.resource)
			if err != nil {
				t.Fatalf("Resolve: %v", err)
			}
			if e.Limit != tt.limit {
				t.Errorf("Limit: got %d, want %d", e.Limit, tt.limit)
			}
			if e.Source != tt.source {
				t.Errorf("Source: got %s, want %s", e.Source, tt.source)
			}
			if e.ExtraSlots != tt.extra {
				t.Errorf("ExtraSlots: got %d, want %d", e.ExtraSlots, tt.extra)
			}
		})
	}
}

func TestResolveUnlimitedShortCircuitsOverlay(t *testing.T) {
	base := basePlan()
	base.Limits[plan.ResourceClient] = plan.Unlimited
	ovl := &overlay.Overlay{
		TenantID:   "ten_1",
		ExtraSlots: map[string]int64{plan.ResourceClient: 10},
	}

	e, err := Resolve(base, nil, ovl, plan.ResourceClient)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !e.Unlimited {
		t.Error("expected unlimited entitlement")
	}
	if e.Limit != plan.Unlimited {
		t.Errorf("Limit: got %d, want sentinel %d", e.Limit, plan.Unlimited)
	}
	if e.ExtraSlots != 0 {
		t.Errorf("ExtraSlots should not apply to unlimited, got %d", e.ExtraSlots)
	}
	if e.Remaining != plan.Unlimited {
		t.Errorf("Remaining: got %d, want sentinel", e.Remaining)
	}
}

func TestResolveCustomUnlimitedOverridesFiniteBase(t *testing.T) {
	base := basePlan()
	custom := &plan.Plan{
		Custom: true,
		Limits: map[string]int64{plan.ResourceTrainer: plan.Unlimited},
	}

	e, err := Resolve(base, custom, nil, plan.ResourceTrainer)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !e.Unlimited || e.Source != SourceCustom {
		t.Errorf("got limit=%d unlimited=%v source=%s, want custom unlimited", e.Limit, e.Unlimited, e.Source)
	}
}

func TestResolveUnknownResourceFailsLoudly(t *testing.T) {
	_, err := Resolve(basePlan(), nil, nil, "mystery_resource")
	if !errors.Is(err, plan.ErrUnknownResource) {
		t.Errorf("got %v, want ErrUnknownResource", err)
	}
}

func TestResolveFeature(t *testing.T) {
	base := basePlan()
	custom := &plan.Plan{
		Custom:       true,
		FeatureFlags: map[string]bool{plan.FeatureAPIAccess: true},
	}

	fe, err := ResolveFeature(base, custom, nil, plan.FeatureAPIAccess)
	if err != nil {
		t.Fatalf("ResolveFeature: %v", err)
	}
	if !fe.Enabled || fe.Source != SourceCustom {
		t.Errorf("got enabled=%v source=%s, want custom-enabled", fe.Enabled, fe.Source)
	}

	// Flag the custom plan does not set falls through to base.
	fe, err = ResolveFeature(base, custom, nil, plan.FeatureWebhooks)
	if err != nil {
		t.Fatalf("ResolveFeature: %v", err)
	}
	if !fe.Enabled || fe.Source != SourceBase {
		t.Errorf("got enabled=%v source=%s, want base-enabled", fe.Enabled, fe.Source)
	}

	// Flag set nowhere defaults to disabled.
	fe, err = ResolveFeature(base, nil, nil, plan.FeatureWhiteLabel)
	if err != nil {
		t.Fatalf("ResolveFeature: %v", err)
	}
	if fe.Enabled {
		t.Error("unset flag should be disabled")
	}

	if _, err := ResolveFeature(base, nil, nil, "mystery_flag"); !errors.Is(err, plan.ErrUnknownFeature) {
		t.Errorf("got %v, want ErrUnknownFeature", err)
	}
}

func TestResolveBudgetCaps(t *testing.T) {
	base := basePlan()

	caps, err := ResolveBudgetCaps(base, nil, plan.ProviderOpenAI)
	if err != nil {
		t.Fatalf("ResolveBudgetCaps: %v", err)
	}
	if caps.ProviderTokens != 50_000 {
		t.Errorf("ProviderTokens: got %d, want 50000", caps.ProviderTokens)
	}
	if caps.GlobalTokens != 100_000 {
		t.Errorf("GlobalTokens: got %d, want 100000", caps.GlobalTokens)
	}
	if caps.CostCapAmount != 2_000 {
		t.Errorf("CostCapAmount: got %d, want 2000", caps.CostCapAmount)
	}
}

func TestResolveBudgetCapsCustomBlockReplacesWholly(t *testing.T) {
	base := basePlan()
	custom := &plan.Plan{
		Custom: true,
		AILimits: &plan.AILimits{
			MonthlyTokens: 500_000,
			Providers: map[string]plan.ProviderLimit{
				plan.ProviderAnthropic: {MonthlyTokens: 200_000, CostBudget: types.USD(10_000)},
			},
		},
	}

	caps, err := ResolveBudgetCaps(base, custom, plan.ProviderAnthropic)
	if err != nil {
		t.Fatalf("ResolveBudgetCaps: %v", err)
	}
	if caps.Source != SourceCustom || caps.GlobalTokens != 500_000 {
		t.Errorf("got source=%s global=%d, want custom block", caps.Source, caps.GlobalTokens)
	}

	// The base block's openai entry is NOT merged in: the custom block
	// replaced it wholly.
	if _, err := ResolveBudgetCaps(base, custom, plan.ProviderOpenAI); !errors.Is(err, plan.ErrUnknownProvider) {
		t.Errorf("got %v, want ErrUnknownProvider for provider absent from custom block", err)
	}
}

func TestResolveBudgetCapsUnknownProvider(t *testing.T) {
	if _, err := ResolveBudgetCaps(basePlan(), nil, "acme-ai"); !errors.Is(err, plan.ErrUnknownProvider) {
		t.Errorf("got %v, want ErrUnknownProvider", err)
	}
}

func TestResolveRate(t *testing.T) {
	base := basePlan()

	rc := ResolveRate(base, nil, false)
	if rc.PerMinute != 60 {
		t.Errorf("api ceiling: got %d, want 60", rc.PerMinute)
	}
	rc = ResolveRate(base, nil, true)
	if rc.PerMinute != 10 {
		t.Errorf("webhook ceiling: got %d, want 10", rc.PerMinute)
	}

	custom := &plan.Plan{
		Custom:     true,
		RateLimits: &plan.RateLimits{RequestsPerMinute: 600, WebhookCallsPerMinute: 60},
	}
	rc = ResolveRate(base, custom, false)
	if rc.PerMinute != 600 || rc.Source != SourceCustom {
		t.Errorf("got %d/%s, want custom 600", rc.PerMinute, rc.Source)
	}

	// No rate block anywhere means no ceiling.
	rc = ResolveRate(&plan.Plan{}, nil, false)
	if rc.PerMinute != 0 {
		t.Errorf("got %d, want 0 for unconfigured", rc.PerMinute)
	}
}

func TestResolveUpload(t *testing.T) {
	base := basePlan()
	base.UploadLimits = &plan.UploadLimits{MaxFileSizeBytes: 1 << 20}
	custom := &plan.Plan{
		Custom:       true,
		UploadLimits: &plan.UploadLimits{MaxFileSizeBytes: 10 << 20},
	}

	if got := ResolveUpload(base, nil); got.MaxFileSizeBytes != 1<<20 {
		t.Errorf("base: got %d", got.MaxFileSizeBytes)
	}
	if got := ResolveUpload(base, custom); got.MaxFileSizeBytes != 10<<20 {
		t.Errorf("custom: got %d", got.MaxFileSizeBytes)
	}
	if got := ResolveUpload(nil, nil); got != nil {
		t.Errorf("expected nil for unconfigured, got %+v", got)
	}
}
