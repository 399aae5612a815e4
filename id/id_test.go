package id_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/xraph/governor/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"PlanID", id.NewPlanID, "plan_"},
		{"OverlayID", id.NewOverlayID, "ovl_"},
		{"CounterID", id.NewCounterID, "ctr_"},
		{"BudgetID", id.NewBudgetID, "bud_"},
		{"ReservationID", id.NewReservationID, "rsv_"},
		{"AuditID", id.NewAuditID, "aud_"},
		{"OperationID", id.NewOperationID, "op_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestNew(t *testing.T) {
	i := id.New(id.PrefixPlan)
	if i.IsNil() {
		t.Fatal("expected non-nil ID")
	}
	if i.Prefix() != id.PrefixPlan {
		t.Errorf("expected prefix %q, got %q", id.PrefixPlan, i.Prefix())
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"PlanID", id.NewPlanID, id.ParsePlanID},
		{"OverlayID", id.NewOverlayID, id.ParseOverlayID},
		{"CounterID", id.NewCounterID, id.ParseCounterID},
		{"BudgetID", id.NewBudgetID, id.ParseBudgetID},
		{"ReservationID", id.NewReservationID, id.ParseReservationID},
		{"AuditID", id.NewAuditID, id.ParseAuditID},
		{"OperationID", id.NewOperationID, id.ParseOperationID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossTypeRejection(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		parseFn func(string) (id.ID, error)
	}{
		{"ParsePlanID rejects ovl_", id.NewOverlayID().String(), id.ParsePlanID},
		{"ParseCounterID rejects bud_", id.NewBudgetID().String(), id.ParseCounterID},
		{"ParseReservationID rejects ctr_", id.NewCounterID().String(), id.ParseReservationID},
		{"ParseAuditID rejects plan_", id.NewPlanID().String(), id.ParseAuditID},
		{"ParseOperationID rejects rsv_", id.NewReservationID().String(), id.ParseOperationID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.parseFn(tt.input); err == nil {
				t.Errorf("expected error parsing %q", tt.input)
			}
		})
	}
}

func TestParseInvalid(t *testing.T) {
	inputs := []string{"", "plan", "plan_", "not a typeid", "plan_!!!!"}
	for _, in := range inputs {
		if _, err := id.Parse(in); err == nil {
			t.Errorf("expected error for %q", in)
		}
	}
}

func TestJSONRoundTrip(t *testing.T) {
	original := id.NewPlanID()

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var parsed id.ID
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed.String() != original.String() {
		t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
	}
}

func TestSQLValueScan(t *testing.T) {
	original := id.NewCounterID()

	v, err := original.Value()
	if err != nil {
		t.Fatalf("value: %v", err)
	}

	var scanned id.ID
	if err := scanned.Scan(v); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if scanned.String() != original.String() {
		t.Errorf("round-trip mismatch: %q != %q", scanned.String(), original.String())
	}

	var nilID id.ID
	if err := nilID.Scan(nil); err != nil {
		t.Fatalf("scan nil: %v", err)
	}
	if !nilID.IsNil() {
		t.Error("scanning nil should produce the nil ID")
	}
}
