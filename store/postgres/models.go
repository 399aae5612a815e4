package postgres

import (
	"encoding/json"
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

	ID           string            `grove:"id,pk"`
	Key          string            `grove:"key"`
	Name         string            `grove:"name"`
	Category     string            `grove:"category"`
	Custom       bool              `grove:"custom"`
	TenantID     string            `grove:"tenant_id"`
	Status       string            `grove:"status"`
	Limits       json.RawMessage   `grove:"limits,type:jsonb"`
	AILimits     json.RawMessage   `grove:"ai_limits,type:jsonb"`
	UploadLimits json.RawMessage   `grove:"upload_limits,type:jsonb"`
	FeatureFlags json.RawMessage   `grove:"feature_flags,type:jsonb"`
	RateLimits   json.RawMessage   `grove:"rate_limits,type:jsonb"`
	Metadata     map[string]string `grove:"metadata,type:jsonb"`
	CreatedAt    time.Time         `grove:"created_at"`
	UpdatedAt    time.Time         `grove:"updated_at"`
}

func toPlanModel(p *plan.Plan) *planModel {
	limits, _ := json.Marshal(p.Limits)             //nolint:errcheck // best-effort
	aiLimits, _ := json.Marshal(p.AILimits)         //nolint:errcheck // best-effort
	uploadLimits, _ := json.Marshal(p.UploadLimits) //nolint:errcheck // best-effort
	featureFlags, _ := json.Marshal(p.FeatureFlags) //nolint:errcheck // best-effort
	rateLimits, _ := json.Marshal(p.RateLimits)     //nolint:errcheck // best-effort

	return &planModel{
		ID:           p.ID.String(),
		Key:          p.Key,
		Name:         p.Name,
		Category:     string(p.Category),
		Custom:       p.Custom,
		TenantID:     p.TenantID,
		Status:       string(p.Status),
		Limits:       limits,
		AILimits:     aiLimits,
		UploadLimits: uploadLimits,
		FeatureFlags: featureFlags,
		RateLimits:   rateLimits,
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

	var limits map[string]int64
	if len(m.Limits) > 0 {
		_ = json.Unmarshal(m.Limits, &limits) //nolint:errcheck // best-effort
	}

	var aiLimits *plan.AILimits
	if len(m.AILimits) > 0 && string(m.AILimits) != "null" {
		aiLimits = new(plan.AILimits)
		_ = json.Unmarshal(m.AILimits, aiLimits) //nolint:errcheck // best-effort
	}

	var uploadLimits *plan.UploadLimits
	if len(m.UploadLimits) > 0 && string(m.UploadLimits) != "null" {
		uploadLimits = new(plan.UploadLimits)
		_ = json.Unmarshal(m.UploadLimits, uploadLimits) //nolint:errcheck // best-effort
	}

	var featureFlags map[string]bool
	if len(m.FeatureFlags) > 0 {
		_ = json.Unmarshal(m.FeatureFlags, &featureFlags) //nolint:errcheck // best-effort
	}

	var rateLimits *plan.RateLimits
	if len(m.RateLimits) > 0 && string(m.RateLimits) != "null" {
		rateLimits = new(plan.RateLimits)
		_ = json.Unmarshal(m.RateLimits, rateLimits) //nolint:errcheck // best-effort
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
		Limits:       limits,
		AILimits:     aiLimits,
		UploadLimits: uploadLimits,
		FeatureFlags: featureFlags,
		RateLimits:   rateLimits,
		Metadata:     m.Metadata,
	}, nil
}

// ==================== Overlay models ====================

type overlayModel struct {
	grove.BaseModel `grove:"table:governor_overlays"`

	ID           string          `grove:"id,pk"`
	TenantID     string          `grove:"tenant_id"`
	ExtraSlots   json.RawMessage `grove:"extra_slots,type:jsonb"`
	CustomPlanID string          `grove:"custom_plan_id"`
	Category     string          `grove:"category"`
	BasePlanKey  string          `grove:"base_plan_key"`
	CreatedAt    time.Time       `grove:"created_at"`
	UpdatedAt    time.Time       `grove:"updated_at"`
}

func toOverlayModel(o *overlay.Overlay) *overlayModel {
	extraSlots, _ := json.Marshal(o.ExtraSlots) //nolint:errcheck // best-effort

	customPlanID := ""
	if !o.CustomPlanID.IsNil() {
		customPlanID = o.CustomPlanID.String()
	}

	return &overlayModel{
		ID:           o.ID.String(),
		TenantID:     o.TenantID,
		ExtraSlots:   extraSlots,
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

	var extraSlots map[string]int64
	if len(m.ExtraSlots) > 0 {
		_ = json.Unmarshal(m.ExtraSlots, &extraSlots) //nolint:errcheck // best-effort
	}

	return &overlay.Overlay{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:           overlayID,
		TenantID:     m.TenantID,
		ExtraSlots:   extraSlots,
		CustomPlanID: customPlanID,
		Category:     m.Category,
		BasePlanKey:  m.BasePlanKey,
	}, nil
}

// ==================== Counter models ====================

type counterModel struct {
	grove.BaseModel `grove:"table:governor_counters"`

	ID             string    `grove:"id,pk"`
	TenantID       string    `grove:"tenant_id"`
	Resource       string    `grove:"resource"`
	PeriodID       string    `grove:"period_id"`
	Consumed       int64     `grove:"consumed"`
	PeriodStart    time.Time `grove:"period_start"`
	PeriodEnd      time.Time `grove:"period_end"`
	LastMutationAt time.Time `grove:"last_mutation_at"`
	Frozen         bool      `grove:"frozen"`
	CreatedAt      time.Time `grove:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at"`
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

	ID                   string    `grove:"id,pk"`
	TenantID             string    `grove:"tenant_id"`
	Provider             string    `grove:"provider"`
	PeriodID             string    `grove:"period_id"`
	ConsumedTokens       int64     `grove:"consumed_tokens"`
	ReservedTokens       int64     `grove:"reserved_tokens"`
	CapTokens            int64     `grove:"cap_tokens"`
	ConsumedCostAmount   int64     `grove:"consumed_cost_amount"`
	ConsumedCostCurrency string    `grove:"consumed_cost_currency"`
	CapCostAmount        int64     `grove:"cap_cost_amount"`
	CapCostCurrency      string    `grove:"cap_cost_currency"`
	PeriodStart          time.Time `grove:"period_start"`
	PeriodEnd            time.Time `grove:"period_end"`
	Frozen               bool      `grove:"frozen"`
	CreatedAt            time.Time `grove:"created_at"`
	UpdatedAt            time.Time `grove:"updated_at"`
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

	ID                 string     `grove:"id,pk"`
	TenantID           string     `grove:"tenant_id"`
	Provider           string     `grove:"provider"`
	PeriodID           string     `grove:"period_id"`
	EstimatedTokens    int64      `grove:"estimated_tokens"`
	ActualTokens       int64      `grove:"actual_tokens"`
	ActualCostAmount   int64      `grove:"actual_cost_amount"`
	ActualCostCurrency string     `grove:"actual_cost_currency"`
	Status             string     `grove:"status"`
	ExpiresAt          time.Time  `grove:"expires_at"`
	SettledAt          *time.Time `grove:"settled_at"`
	CreatedAt          time.Time  `grove:"created_at"`
	UpdatedAt          time.Time  `grove:"updated_at"`
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

	ID         string            `grove:"id,pk"`
	TenantID   string            `grove:"tenant_id"`
	Action     string            `grove:"action"`
	Resource   string            `grove:"resource"`
	PeriodID   string            `grove:"period_id"`
	Actor      string            `grove:"actor"`
	Detail     map[string]string `grove:"detail,type:jsonb"`
	RecordedAt time.Time         `grove:"recorded_at"`
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
// by the caller's operation ID. Replays return the recorded outcome
// instead of consuming again.
type opModel struct {
	grove.BaseModel `grove:"table:governor_ops"`

	OpID      string    `grove:"op_id,pk"`
	Kind      string    `grove:"kind"`
	Consumed  int64     `grove:"consumed"`
	Granted   bool      `grove:"granted"`
	CreatedAt time.Time `grove:"created_at"`
}

const (
	opKindConsume = "consume"
	opKindRelease = "release"
)
