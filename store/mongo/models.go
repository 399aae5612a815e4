package mongo

import (
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/governor/audit"
	"github.com/xraph/governor/budget"
	"github.com/xraph/governor/id"
	"github.com/xraph/governor/overlay"
	"github.com/xraph/governor/plan"
	"github.com/xraph/governor/types"
	"github.com/xraph/governor/usage"
)

// ==================== Plan models ====================

type planModel struct {
	grove.BaseModel `grove:"table:governor_plans"`

	ID           string             `grove:"id,pk"         bson:"_id"`
	Key          string             `grove:"key"           bson:"key"`
	Name         string             `grove:"name"          bson:"name"`
	Category     string             `grove:"category"      bson:"category"`
	Custom       bool               `grove:"custom"        bson:"custom"`
	TenantID     string             `grove:"tenant_id"     bson:"tenant_id"`
	Status       string             `grove:"status"        bson:"status"`
	Limits       map[string]int64   `grove:"limits"        bson:"limits,omitempty"`
	AILimits     *aiLimitsModel     `grove:"ai_limits"     bson:"ai_limits,omitempty"`
	UploadLimits *uploadLimitsModel `grove:"upload_limits" bson:"upload_limits,omitempty"`
	FeatureFlags map[string]bool    `grove:"feature_flags" bson:"feature_flags,omitempty"`
	RateLimits   *rateLimitsModel   `grove:"rate_limits"   bson:"rate_limits,omitempty"`
	Metadata     map[string]string  `grove:"metadata"      bson:"metadata,omitempty"`
	CreatedAt    time.Time          `grove:"created_at"    bson:"created_at"`
	UpdatedAt    time.Time          `grove:"updated_at"    bson:"updated_at"`
}

type aiLimitsModel struct {
	MonthlyTokens int64                         `bson:"monthly_tokens"`
	Providers     map[string]providerLimitModel `bson:"providers,omitempty"`
}

type providerLimitModel struct {
	MonthlyTokens      int64  `bson:"monthly_tokens"`
	CostBudgetAmount   int64  `bson:"cost_budget_amount"`
	CostBudgetCurrency string `bson:"cost_budget_currency"`
}

type uploadLimitsModel struct {
	MaxFileSizeBytes        int64    `bson:"max_file_size_bytes"`
	TotalStorageBytes       int64    `bson:"total_storage_bytes"`
	MonthlyUploadQuotaBytes int64    `bson:"monthly_upload_quota_bytes"`
	AllowedTypes            []string `bson:"allowed_types,omitempty"`
}

type rateLimitsModel struct {
	RequestsPerMinute     int `bson:"requests_per_minute"`
	WebhookCallsPerMinute int `bson:"webhook_calls_per_minute"`
}

func toPlanModel(p *plan.Plan) *planModel {
	var ai *aiLimitsModel
	if p.AILimits != nil {
		var providers map[string]providerLimitModel
		if len(p.AILimits.Providers) > 0 {
			providers = make(map[string]providerLimitModel, len(p.AILimits.Providers))
			for k, pl := range p.AILimits.Providers {
				providers[k] = providerLimitModel{
					MonthlyTokens:      pl.MonthlyTokens,
					CostBudgetAmount:   pl.CostBudget.Amount,
					CostBudgetCurrency: pl.CostBudget.Currency,
				}
			}
		}
		ai = &aiLimitsModel{
			MonthlyTokens: p.AILimits.MonthlyTokens,
			Providers:     providers,
		}
	}

	var upload *uploadLimitsModel
	if p.UploadLimits != nil {
		upload = &uploadLimitsModel{
			MaxFileSizeBytes:        p.UploadLimits.MaxFileSizeBytes,
			TotalStorageBytes:       p.UploadLimits.TotalStorageBytes,
			MonthlyUploadQuotaBytes: p.UploadLimits.MonthlyUploadQuotaBytes,
			AllowedTypes:            p.UploadLimits.AllowedTypes,
		}
	}

	var rate *rateLimitsModel
	if p.RateLimits != nil {
		rate = &rateLimitsModel{
			RequestsPerMinute:     p.RateLimits.RequestsPerMinute,
			WebhookCallsPerMinute: p.RateLimits.WebhookCallsPerMinute,
		}
	}

	return &planModel{
		ID:           p.ID.String(),
		Key:          p.Key,
		Name:         p.Name,
		Category:     string(p.Category),
		Custom:       p.Custom,
		TenantID:     p.TenantID,
		Status:       string(p.Status),
		Limits:       p.Limits,
		AILimits:     ai,
		UploadLimits: upload,
		FeatureFlags: p.FeatureFlags,
		RateLimits:   rate,
		Metadata:     p.Metadata,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

func fromPlanModel(m *planModel) (*plan.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}

	var ai *plan.AILimits
	if m.AILimits != nil {
		var providers map[string]plan.ProviderLimit
		if len(m.AILimits.Providers) > 0 {
			providers = make(map[string]plan.ProviderLimit, len(m.AILimits.Providers))
			for k, pl := range m.AILimits.Providers {
				providers[k] = plan.ProviderLimit{
					MonthlyTokens: pl.MonthlyTokens,
					CostBudget:    types.Money{Amount: pl.CostBudgetAmount, Currency: pl.CostBudgetCurrency},
				}
			}
		}
		ai = &plan.AILimits{
			MonthlyTokens: m.AILimits.MonthlyTokens,
			Providers:     providers,
		}
	}

	var upload *plan.UploadLimits
	if m.UploadLimits != nil {
		upload = &plan.UploadLimits{
			MaxFileSizeBytes:        m.UploadLimits.MaxFileSizeBytes,
			TotalStorageBytes:       m.UploadLimits.TotalStorageBytes,
			MonthlyUploadQuotaBytes: m.UploadLimits.MonthlyUploadQuotaBytes,
			AllowedTypes:            m.UploadLimits.AllowedTypes,
		}
	}

	var rate *plan.RateLimits
	if m.RateLimits != nil {
		rate = &plan.RateLimits{
			RequestsPerMinute:     m.RateLimits.RequestsPerMinute,
			WebhookCallsPerMinute: m.RateLimits.WebhookCallsPerMinute,
		}
	}

	return &plan.Plan{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           planID,
		Key:          m.Key,
		Name:         m.Name,
		Category:     plan.Category(m.Category),
		Custom:       m.Custom,
		TenantID:     m.TenantID,
		Status:       plan.Status(m.Status),
		Limits:       m.Limits,
		AILimits:     ai,
		UploadLimits: upload,
		FeatureFlags: m.FeatureFlags,
		RateLimits:   rate,
		Metadata:     m.Metadata,
	}, nil
}

// ==================== Overlay models ====================

type overlayModel struct {
	grove.BaseModel `grove:"table:governor_overlays"`

	ID           string           `grove:"id,pk"          bson:"_id"`
	TenantID     string           `grove:"tenant_id"      bson:"tenant_id"`
	ExtraSlots   map[string]int64 `grove:"extra_slots"    bson:"extra_slots,omitempty"`
	CustomPlanID string           `grove:"custom_plan_id" bson:"custom_plan_id"`
	Category     string           `grove:"category"       bson:"category"`
	BasePlanKey  string           `grove:"base_plan_key"  bson:"base_plan_key"`
	CreatedAt    time.Time        `grove:"created_at"     bson:"created_at"`
	UpdatedAt    time.Time        `grove:"updated_at"     bson:"updated_at"`
}

func toOverlayModel(o *overlay.Overlay) *overlayModel {
	customPlanID := ""
	if !o.CustomPlanID.IsNil() {
		customPlanID = o.CustomPlanID.String()
	}

	return &overlayModel{
		ID:           o.ID.String(),
		TenantID:     o.TenantID,
		ExtraSlots:   o.ExtraSlots,
		CustomPlanID: customPlanID,
		Category:     o.Category,
		BasePlanKey:  o.BasePlanKey,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
	}
}

func fromOverlayModel(m *overlayModel) (*overlay.Overlay, error) {
	overlayID, err := id.ParseOverlayID(m.ID)
	if err != nil {
		return nil, err
	}

	var customPlanID id.PlanID
	if m.CustomPlanID != "" {
		customPlanID, err = id.ParsePlanID(m.CustomPlanID)
		if err != nil {
			return nil, err
		}
	}

	return &overlay.Overlay{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           overlayID,
		TenantID:     m.TenantID,
		ExtraSlots:   m.ExtraSlots,
		CustomPlanID: customPlanID,
		Category:     m.Category,
		BasePlanKey:  m.BasePlanKey,
	}, nil
}

// ==================== Counter models ====================

type counterModel struct {
	grove.BaseModel `grove:"table:governor_counters"`

	ID             string    `grove:"id,pk"            bson:"_id"`
	TenantID       string    `grove:"tenant_id"        bson:"tenant_id"`
	Resource       string    `grove:"resource"         bson:"resource"`
	PeriodID       string    `grove:"period_id"        bson:"period_id"`
	Consumed       int64     `grove:"consumed"         bson:"consumed"`
	PeriodStart    time.Time `grove:"period_start"     bson:"period_start"`
	PeriodEnd      time.Time `grove:"period_end"       bson:"period_end"`
	LastMutationAt time.Time `grove:"last_mutation_at" bson:"last_mutation_at"`
	Frozen         bool      `grove:"frozen"           bson:"frozen"`
	CreatedAt      time.Time `grove:"created_at"       bson:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at"       bson:"updated_at"`
	// Ops maps granted consume operation IDs to the consumed value
	// they produced. Kept on the document so the increment and its
	// dedup record share one atomic write.
	Ops map[string]int64 `grove:"ops" bson:"ops,omitempty"`
}

func fromCounterModel(m *counterModel) (*usage.Counter, error) {
	counterID, err := id.ParseCounterID(m.ID)
	if err != nil {
		return nil, err
	}

	return &usage.Counter{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             counterID,
		TenantID:       m.TenantID,
		Resource:       m.Resource,
		PeriodID:       m.PeriodID,
		Consumed:       m.Consumed,
		PeriodStart:    m.PeriodStart,
		PeriodEnd:      m.PeriodEnd,
		LastMutationAt: m.LastMutationAt,
		Frozen:         m.Frozen,
	}, nil
}

// ==================== Budget models ====================

type budgetModel struct {
	grove.BaseModel `grove:"table:governor_budgets"`

	ID                   string    `grove:"id,pk"                  bson:"_id"`
	TenantID             string    `grove:"tenant_id"              bson:"tenant_id"`
	Provider             string    `grove:"provider"               bson:"provider"`
	PeriodID             string    `grove:"period_id"              bson:"period_id"`
	ConsumedTokens       int64     `grove:"consumed_tokens"        bson:"consumed_tokens"`
	ReservedTokens       int64     `grove:"reserved_tokens"        bson:"reserved_tokens"`
	CapTokens            int64     `grove:"cap_tokens"             bson:"cap_tokens"`
	ConsumedCostAmount   int64     `grove:"consumed_cost_amount"   bson:"consumed_cost_amount"`
	ConsumedCostCurrency string    `grove:"consumed_cost_currency" bson:"consumed_cost_currency"`
	CapCostAmount        int64     `grove:"cap_cost_amount"        bson:"cap_cost_amount"`
	CapCostCurrency      string    `grove:"cap_cost_currency"      bson:"cap_cost_currency"`
	PeriodStart          time.Time `grove:"period_start"           bson:"period_start"`
	PeriodEnd            time.Time `grove:"period_end"             bson:"period_end"`
	Frozen               bool      `grove:"frozen"                 bson:"frozen"`
	CreatedAt            time.Time `grove:"created_at"             bson:"created_at"`
	UpdatedAt            time.Time `grove:"updated_at"             bson:"updated_at"`
}

func fromBudgetModel(m *budgetModel) (*budget.State, error) {
	budgetID, err := id.ParseBudgetID(m.ID)
	if err != nil {
		return nil, err
	}

	return &budget.State{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             budgetID,
		TenantID:       m.TenantID,
		Provider:       m.Provider,
		PeriodID:       m.PeriodID,
		ConsumedTokens: m.ConsumedTokens,
		ReservedTokens: m.ReservedTokens,
		CapTokens:      m.CapTokens,
		ConsumedCost:   types.Money{Amount: m.ConsumedCostAmount, Currency: m.ConsumedCostCurrency},
		CapCost:        types.Money{Amount: m.CapCostAmount, Currency: m.CapCostCurrency},
		PeriodStart:    m.PeriodStart,
		PeriodEnd:      m.PeriodEnd,
		Frozen:         m.Frozen,
	}, nil
}

// ==================== Reservation models ====================

type reservationModel struct {
	grove.BaseModel `grove:"table:governor_reservations"`

	ID                 string     `grove:"id,pk"                bson:"_id"`
	TenantID           string     `grove:"tenant_id"            bson:"tenant_id"`
	Provider           string     `grove:"provider"             bson:"provider"`
	PeriodID           string     `grove:"period_id"            bson:"period_id"`
	EstimatedTokens    int64      `grove:"estimated_tokens"     bson:"estimated_tokens"`
	ActualTokens       int64      `grove:"actual_tokens"        bson:"actual_tokens"`
	ActualCostAmount   int64      `grove:"actual_cost_amount"   bson:"actual_cost_amount"`
	ActualCostCurrency string     `grove:"actual_cost_currency" bson:"actual_cost_currency"`
	Status             string     `grove:"status"               bson:"status"`
	ExpiresAt          time.Time  `grove:"expires_at"           bson:"expires_at"`
	SettledAt          *time.Time `grove:"settled_at"           bson:"settled_at,omitempty"`
	CreatedAt          time.Time  `grove:"created_at"           bson:"created_at"`
	UpdatedAt          time.Time  `grove:"updated_at"           bson:"updated_at"`
}

func toReservationModel(r *budget.Reservation) *reservationModel {
	return &reservationModel{
		ID:                 r.ID.String(),
		TenantID:           r.TenantID,
		Provider:           r.Provider,
		PeriodID:           r.PeriodID,
		EstimatedTokens:    r.EstimatedTokens,
		ActualTokens:       r.ActualTokens,
		ActualCostAmount:   r.ActualCost.Amount,
		ActualCostCurrency: r.ActualCost.Currency,
		Status:             string(r.Status),
		ExpiresAt:          r.ExpiresAt,
		SettledAt:          r.SettledAt,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
	}
}

func fromReservationModel(m *reservationModel) (*budget.Reservation, error) {
	rsvID, err := id.ParseReservationID(m.ID)
	if err != nil {
		return nil, err
	}

	return &budget.Reservation{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              rsvID,
		TenantID:        m.TenantID,
		Provider:        m.Provider,
		PeriodID:        m.PeriodID,
		EstimatedTokens: m.EstimatedTokens,
		ActualTokens:    m.ActualTokens,
		ActualCost:      types.Money{Amount: m.ActualCostAmount, Currency: m.ActualCostCurrency},
		Status:          budget.ReservationStatus(m.Status),
		ExpiresAt:       m.ExpiresAt,
		SettledAt:       m.SettledAt,
	}, nil
}

// ==================== Audit models ====================

type auditModel struct {
	grove.BaseModel `grove:"table:governor_audit"`

	ID         string            `grove:"id,pk"       bson:"_id"`
	TenantID   string            `grove:"tenant_id"   bson:"tenant_id"`
	Action     string            `grove:"action"      bson:"action"`
	Resource   string            `grove:"resource"    bson:"resource"`
	PeriodID   string            `grove:"period_id"   bson:"period_id"`
	Actor      string            `grove:"actor"       bson:"actor"`
	Detail     map[string]string `grove:"detail"      bson:"detail,omitempty"`
	RecordedAt time.Time         `grove:"recorded_at" bson:"recorded_at"`
}

func toAuditModel(rec *audit.Record) *auditModel {
	return &auditModel{
		ID:         rec.ID.String(),
		TenantID:   rec.TenantID,
		Action:     rec.Action,
		Resource:   rec.Resource,
		PeriodID:   rec.PeriodID,
		Actor:      rec.Actor,
		Detail:     rec.Detail,
		RecordedAt: rec.RecordedAt,
	}
}

func fromAuditModel(m *auditModel) (*audit.Record, error) {
	auditID, err := id.ParseAuditID(m.ID)
	if err != nil {
		return nil, err
	}

	return &audit.Record{
		ID:         auditID,
		TenantID:   m.TenantID,
		Action:     m.Action,
		Resource:   m.Resource,
		PeriodID:   m.PeriodID,
		Actor:      m.Actor,
		Detail:     m.Detail,
		RecordedAt: m.RecordedAt,
	}, nil
}

// ==================== Operation dedup models ====================

// opModel records the outcome of a deduplicated ledger mutation keyed
// by the caller's operation ID.
type opModel struct {
	grove.BaseModel `grove:"table:governor_ops"`

	OpID      string    `grove:"op_id,pk"    bson:"_id"`
	Kind      string    `grove:"kind"        bson:"kind"`
	Consumed  int64     `grove:"consumed"    bson:"consumed"`
	Granted   bool      `grove:"granted"     bson:"granted"`
	CreatedAt time.Time `grove:"created_at"  bson:"created_at"`
}

const (
	opKindConsume = "consume"
	opKindRelease = "release"
)
