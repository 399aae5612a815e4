package entitlement

import (
	"fmt"

	"github.com/xraph/governor/overlay"
	"github.com/xraph/governor/plan"
)

// Resolve merges a base plan, an optional custom plan, and a tenant
// overlay into the effective entitlement for one resource key.
//
// The custom plan is a field-level full replacement: a field it sets
// wins outright (no summation with the base plan), a field it omits
// inherits from the base plan of the tenant's category. Overlay extra
// slots are added last, unless the resolved limit is the unlimited
// sentinel, which short-circuits before any addition.
//
// A key absent from both plans is a configuration error and fails
// loudly with plan.ErrUnknownResource — defaulting to zero or to
// unlimited are both unsafe in a billing context.
func Resolve(base, custom *plan.Plan, ovl *overlay.Overlay, resource string) (*Entitlement, error) {
	var (
		limit  int64
		ok     bool
		source = SourceBase
	)

	if custom != nil {
		if limit, ok = custom.Limit(resource); ok {
			source = SourceCustom
		}
	}
	if !ok && base != nil {
		limit, ok = base.Limit(resource)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", plan.ErrUnknownResource, resource)
	}

	e := &Entitlement{
		Resource: resource,
		Limit:    limit,
		Source:   source,
	}
	if ovl != nil {
		e.TenantID = ovl.TenantID
	}

	if limit == plan.Unlimited {
		e.Unlimited = true
		e.Remaining = plan.Unlimited
		return e, nil
	}

	if extra := ovl.Extra(resource); extra > 0 {
		e.ExtraSlots = extra
		e.Limit += extra
	}
	e.Remaining = e.Limit

	return e, nil
}

// ResolveFeature merges feature flags: custom plan wins when it sets
// the key, otherwise the base plan's flag applies, otherwise the
// feature is disabled (flags default off, unlike limits, because a
// missing flag is a safe denial rather than a billing hazard).
func ResolveFeature(base, custom *plan.Plan, ovl *overlay.Overlay, feature string) (*FeatureEntitlement, error) {
	if !plan.KnownFeature(feature) {
		return nil, fmt.Errorf("%w: %q", plan.ErrUnknownFeature, feature)
	}

	fe := &FeatureEntitlement{
		Feature: feature,
		Source:  SourceBase,
	}
	if ovl != nil {
		fe.TenantID = ovl.TenantID
	}

	if custom != nil {
		if enabled, ok := custom.Feature(feature); ok {
			fe.Enabled = enabled
			fe.Source = SourceCustom
			return fe, nil
		}
	}
	if base != nil {
		fe.Enabled, _ = base.Feature(feature)
	}

	return fe, nil
}

// ResolveBudgetCaps merges AI limits for one provider. The custom
// plan's AILimits block, when present, replaces the base block wholly
// for the provider sub-map and the global cap; when absent the base
// block applies. A provider absent from the effective block is a
// configuration error.
func ResolveBudgetCaps(base, custom *plan.Plan, provider string) (*BudgetCaps, error) {
	if !plan.KnownProvider(provider) {
		return nil, fmt.Errorf("%w: %q", plan.ErrUnknownProvider, provider)
	}

	var (
		limits *plan.AILimits
		source = SourceBase
	)
	if custom != nil && custom.AILimits != nil {
		limits = custom.AILimits
		source = SourceCustom
	} else if base != nil {
		limits = base.AILimits
	}
	if limits == nil {
		return nil, fmt.Errorf("%w: no AI limits configured", plan.ErrUnknownProvider)
	}

	pl, ok := limits.Providers[provider]
	if !ok {
		return nil, fmt.Errorf("%w: %q not in plan", plan.ErrUnknownProvider, provider)
	}

	return &BudgetCaps{
		Provider:       provider,
		ProviderTokens: pl.MonthlyTokens,
		GlobalTokens:   limits.MonthlyTokens,
		CostCapAmount:  pl.CostBudget.Amount,
		CostCurrency:   pl.CostBudget.Currency,
		Source:         source,
	}, nil
}

// ResolveRate merges rate ceilings for an endpoint class. The custom
// plan's RateLimits block replaces the base block when present.
// A zero ceiling means the class is not rate limited.
func ResolveRate(base, custom *plan.Plan, webhook bool) *RateCeiling {
	var (
		limits *plan.RateLimits
		source = SourceBase
	)
	if custom != nil && custom.RateLimits != nil {
		limits = custom.RateLimits
		source = SourceCustom
	} else if base != nil {
		limits = base.RateLimits
	}
	if limits == nil {
		return &RateCeiling{Source: source}
	}

	per := limits.RequestsPerMinute
	if webhook {
		per = limits.WebhookCallsPerMinute
	}
	return &RateCeiling{PerMinute: per, Source: source}
}

// ResolveUpload merges upload limit blocks, custom replacing base.
func ResolveUpload(base, custom *plan.Plan) *plan.UploadLimits {
	if custom != nil && custom.UploadLimits != nil {
		return custom.UploadLimits
	}
	if base != nil {
		return base.UploadLimits
	}
	return nil
}
