package plan

import (
	"errors"
	"testing"
)

func validPlan() *Plan {
	return &Plan{
		Key:      "starter",
		Category: CategoryBusiness,
		Limits: map[string]int64{
			ResourceTrainer:     5,
			ResourceUploadMonth: 10_000_000,
		},
		UploadLimits: &UploadLimits{
			MaxFileSizeBytes:        1_000_000,
			MonthlyUploadQuotaBytes: 10_000_000,
		},
	}
}

func TestValidateUploadQuotaAgreement(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Plan)
		wantErr error
	}{
		{
			name:   "quota matches limits entry",
			mutate: func(*Plan) {},
		},
		{
			name: "quota disagrees with limits entry",
			mutate: func(p *Plan) {
				p.UploadLimits.MonthlyUploadQuotaBytes = 5_000_000
			},
			wantErr: ErrInvalidLimit,
		},
		{
			name: "quota only in upload limits",
			mutate: func(p *Plan) {
				delete(p.Limits, ResourceUploadMonth)
			},
		},
		{
			name: "quota only in limits map",
			mutate: func(p *Plan) {
				p.UploadLimits.MonthlyUploadQuotaBytes = 0
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPlan()
			tt.mutate(p)
			err := p.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCloneDetachesSharedState(t *testing.T) {
	p := validPlan()
	p.FeatureFlags = map[string]bool{FeatureWebhooks: true}
	p.AILimits = &AILimits{
		MonthlyTokens: 1_000,
		Providers:     map[string]ProviderLimit{ProviderOpenAI: {MonthlyTokens: 500}},
	}

	cp := p.Clone()
	cp.Limits[ResourceTrainer] = 99
	cp.FeatureFlags[FeatureWebhooks] = false
	cp.AILimits.Providers[ProviderOpenAI] = ProviderLimit{MonthlyTokens: 1}
	cp.UploadLimits.MaxFileSizeBytes = 7

	if p.Limits[ResourceTrainer] != 5 {
		t.Errorf("clone shares Limits map")
	}
	if !p.FeatureFlags[FeatureWebhooks] {
		t.Errorf("clone shares FeatureFlags map")
	}
	if p.AILimits.Providers[ProviderOpenAI].MonthlyTokens != 500 {
		t.Errorf("clone shares AI provider map")
	}
	if p.UploadLimits.MaxFileSizeBytes != 1_000_000 {
		t.Errorf("clone shares UploadLimits")
	}
	if (*Plan)(nil).Clone() != nil {
		t.Errorf("nil Clone() should be nil")
	}
}
