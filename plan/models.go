package plan

import (
	"errors"
	"fmt"

	"github.com/xraph/governor/id"
	"github.com/xraph/governor/types"
)

// Unlimited is the sentinel limit value meaning "no cap".
// It short-circuits entitlement resolution before any overlay addition.
const Unlimited int64 = -1

// Category partitions plans by tenant kind. Base plans are shared by
// all tenants of a category; custom plans belong to a single tenant.
type Category string

const (
	CategoryIndividual Category = "individual"
	CategoryBusiness   Category = "business"
)

type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDraft    Status = "draft"
)

// Validation errors. The engine's resolve path also returns
// ErrUnknownResource when a resource key is absent from every plan in
// scope — defaulting to zero or unlimited is unsafe in a billing context.
var (
	ErrUnknownResource = errors.New("governor/plan: unknown resource key")
	ErrUnknownFeature  = errors.New("governor/plan: unknown feature key")
	ErrUnknownProvider = errors.New("governor/plan: unknown AI provider")
	ErrInvalidLimit    = errors.New("governor/plan: limit must be non-negative or the unlimited sentinel")
)

// Plan is a plan definition: seat/resource limits, AI budgets, upload
// quotas, feature flags, and rate ceilings.
//
// A base plan (Custom == false) is shared by every tenant of its
// category and is immutable once tenants reference it: upserts create a
// new revision under the same key, so edits only affect tenants that
// dereference the key at read time, never a tenant's custom plan.
// A custom plan (Custom == true) belongs to exactly one tenant and is a
// field-level full replacement of the base plan: a field it sets wins
// outright, a field it omits inherits from the base plan of the
// tenant's category.
type Plan struct {
	types.Entity
	ID       id.PlanID `json:"id"`
	Key      string    `json:"key"`
	Name     string    `json:"name"`
	Category Category  `json:"category"`
	Custom   bool      `json:"custom"`
	// TenantID is set only for custom plans.
	TenantID     string            `json:"tenant_id,omitempty"`
	Status       Status            `json:"status"`
	Limits       map[string]int64  `json:"limits"`
	AILimits     *AILimits         `json:"ai_limits,omitempty"`
	UploadLimits *UploadLimits     `json:"upload_limits,omitempty"`
	FeatureFlags map[string]bool   `json:"feature_flags,omitempty"`
	RateLimits   *RateLimits       `json:"rate_limits,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// AILimits caps metered AI consumption. MonthlyTokens is the global
// cross-provider cap; Providers holds per-provider token and cost caps.
type AILimits struct {
	MonthlyTokens int64                    `json:"monthly_tokens"`
	Providers     map[string]ProviderLimit `json:"providers,omitempty"`
}

// ProviderLimit caps a single AI provider for one period.
type ProviderLimit struct {
	MonthlyTokens int64       `json:"monthly_tokens"`
	CostBudget    types.Money `json:"cost_budget"`
}

// UploadLimits caps file ingestion and retained storage.
type UploadLimits struct {
	MaxFileSizeBytes        int64    `json:"max_file_size_bytes"`
	TotalStorageBytes       int64    `json:"total_storage_bytes"`
	MonthlyUploadQuotaBytes int64    `json:"monthly_upload_quota_bytes"`
	AllowedTypes            []string `json:"allowed_types,omitempty"`
}

// RateLimits holds short-window request ceilings. These are independent
// of period entitlements and never share a cap value with them.
type RateLimits struct {
	RequestsPerMinute     int `json:"requests_per_minute"`
	WebhookCallsPerMinute int `json:"webhook_calls_per_minute"`
}

// ──────────────────────────────────────────────────
// Known key sets
// ──────────────────────────────────────────────────

// Seat and resource keys. Limits maps may only use these.
const (
	ResourceTrainer      = "trainer"
	ResourceNutritionist = "nutritionist"
	ResourceStaff        = "staff"
	ResourceAdmin        = "admin"
	ResourceMember       = "member"
	ResourceClient       = "client"
	ResourceLocation     = "location"
	ResourceProgram      = "program"
	ResourceProduct      = "product"
	ResourceClassMonth   = "classes_per_month"
	ResourceStorage      = "storage_bytes"
	ResourceUploadMonth  = "upload_bytes_month"
)

// Feature flag keys.
const (
	FeatureAdvancedReports = "advanced_reports"
	FeatureAPIAccess       = "api_access"
	FeatureWhiteLabel      = "white_label"
	FeatureCustomBranding  = "custom_branding"
	FeatureBulkExport      = "bulk_export"
	FeatureWebhooks        = "webhooks"
	FeatureAIAssistant     = "ai_assistant"
	FeaturePrioritySupport = "priority_support"
)

// AI provider keys.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

var knownResources = map[string]bool{
	ResourceTrainer:      true,
	ResourceNutritionist: true,
	ResourceStaff:        true,
	ResourceAdmin:        true,
	ResourceMember:       true,
	ResourceClient:       true,
	ResourceLocation:     true,
	ResourceProgram:      true,
	ResourceProduct:      true,
	ResourceClassMonth:   true,
	ResourceStorage:      true,
	ResourceUploadMonth:  true,
}

var knownFeatures = map[string]bool{
	FeatureAdvancedReports: true,
	FeatureAPIAccess:       true,
	FeatureWhiteLabel:      true,
	FeatureCustomBranding:  true,
	FeatureBulkExport:      true,
	FeatureWebhooks:        true,
	FeatureAIAssistant:     true,
	FeaturePrioritySupport: true,
}

var knownProviders = map[string]bool{
	ProviderOpenAI:    true,
	ProviderAnthropic: true,
	ProviderGemini:    true,
}

// KnownResource reports whether key is an enumerated resource key.
func KnownResource(key string) bool { return knownResources[key] }

// KnownFeature reports whether key is an enumerated feature flag key.
func KnownFeature(key string) bool { return knownFeatures[key] }

// KnownProvider reports whether key is an enumerated AI provider key.
func KnownProvider(key string) bool { return knownProviders[key] }

// ──────────────────────────────────────────────────
// Plan methods
// ──────────────────────────────────────────────────

// Limit returns the plan's limit for a resource key and whether the
// plan sets it at all. Absence matters: for custom plans an absent key
// inherits from the base plan.
func (p *Plan) Limit(key string) (int64, bool) {
	v, ok := p.Limits[key]
	return v, ok
}

// Feature returns the plan's flag for a feature key and whether the
// plan sets it. Absent keys inherit from the base plan.
func (p *Plan) Feature(key string) (bool, bool) {
	v, ok := p.FeatureFlags[key]
	return v, ok
}

// ProviderLimit returns the per-provider AI cap and whether the plan
// sets one for the given provider.
func (p *Plan) ProviderLimit(provider string) (ProviderLimit, bool) {
	if p.AILimits == nil {
		return ProviderLimit{}, false
	}
	pl, ok := p.AILimits.Providers[provider]
	return pl, ok
}

// Clone returns a deep copy. Stores hand out clones so callers can
// mutate plan maps without racing concurrent readers.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	cp := *p
	if p.Limits != nil {
		cp.Limits = make(map[string]int64, len(p.Limits))
		for k, v := range p.Limits {
			cp.Limits[k] = v
		}
	}
	if p.FeatureFlags != nil {
		cp.FeatureFlags = make(map[string]bool, len(p.FeatureFlags))
		for k, v := range p.FeatureFlags {
			cp.FeatureFlags[k] = v
		}
	}
	if p.Metadata != nil {
		cp.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			cp.Metadata[k] = v
		}
	}
	if p.AILimits != nil {
		ai := *p.AILimits
		if p.AILimits.Providers != nil {
			ai.Providers = make(map[string]ProviderLimit, len(p.AILimits.Providers))
			for k, v := range p.AILimits.Providers {
				ai.Providers[k] = v
			}
		}
		cp.AILimits = &ai
	}
	if p.UploadLimits != nil {
		ul := *p.UploadLimits
		ul.AllowedTypes = append([]string(nil), p.UploadLimits.AllowedTypes...)
		cp.UploadLimits = &ul
	}
	if p.RateLimits != nil {
		rl := *p.RateLimits
		cp.RateLimits = &rl
	}
	return &cp
}

// Validate checks the plan definition against the enumerated key sets
// and limit rules. It runs once at upsert time — reads trust the store.
func (p *Plan) Validate() error {
	if p.Key == "" {
		return errors.New("governor/plan: empty plan key")
	}
	if p.Category != CategoryIndividual && p.Category != CategoryBusiness {
		return fmt.Errorf("governor/plan: invalid category %q", p.Category)
	}
	if p.Custom && p.TenantID == "" {
		return errors.New("governor/plan: custom plan requires a tenant")
	}
	if !p.Custom && p.TenantID != "" {
		return errors.New("governor/plan: base plan must not name a tenant")
	}

	for key, limit := range p.Limits {
		if !KnownResource(key) {
			return fmt.Errorf("%w: %q", ErrUnknownResource, key)
		}
		if limit < Unlimited {
			return fmt.Errorf("%w: %s = %d", ErrInvalidLimit, key, limit)
		}
	}

	for key := range p.FeatureFlags {
		if !KnownFeature(key) {
			return fmt.Errorf("%w: %q", ErrUnknownFeature, key)
		}
	}

	if p.AILimits != nil {
		if p.AILimits.MonthlyTokens < Unlimited {
			return fmt.Errorf("%w: ai monthly_tokens = %d", ErrInvalidLimit, p.AILimits.MonthlyTokens)
		}
		for provider, pl := range p.AILimits.Providers {
			if !KnownProvider(provider) {
				return fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
			}
			if pl.MonthlyTokens < Unlimited {
				return fmt.Errorf("%w: %s monthly_tokens = %d", ErrInvalidLimit, provider, pl.MonthlyTokens)
			}
			if pl.CostBudget.IsNegative() {
				return fmt.Errorf("%w: %s cost_budget = %s", ErrInvalidLimit, provider, pl.CostBudget)
			}
		}
	}

	if p.UploadLimits != nil {
		ul := p.UploadLimits
		if ul.MaxFileSizeBytes < Unlimited || ul.TotalStorageBytes < Unlimited || ul.MonthlyUploadQuotaBytes < Unlimited {
			return fmt.Errorf("%w: upload limits", ErrInvalidLimit)
		}
		// The monthly quota is enforced through the consume path via
		// Limits["upload_bytes_month"]; when both are set they must
		// agree or one of them silently wins.
		if quota, ok := p.Limits[ResourceUploadMonth]; ok && ul.MonthlyUploadQuotaBytes != 0 && quota != ul.MonthlyUploadQuotaBytes {
			return fmt.Errorf("%w: %s = %d but upload quota = %d", ErrInvalidLimit, ResourceUploadMonth, quota, ul.MonthlyUploadQuotaBytes)
		}
	}

	if p.RateLimits != nil {
		if p.RateLimits.RequestsPerMinute < 0 || p.RateLimits.WebhookCallsPerMinute < 0 {
			return fmt.Errorf("%w: rate limits", ErrInvalidLimit)
		}
	}

	return nil
}
