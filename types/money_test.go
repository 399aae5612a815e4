package types

import (
	"encoding/json"
	"testing"
)

func TestMoneyConstructors(t *testing.T) {
	tests := []struct {
		name     string
		money    Money
		amount   int64
		currency string
		display  string
	}{
		{"USD", USD(4900), 4900, "usd", "$49.00"},
		{"EUR", EUR(19900), 19900, "eur", "€199.00"},
		{"GBP", GBP(9900), 9900, "gbp", "£99.00"},
		{"Zero USD", Zero("USD"), 0, "usd", "$0.00"},
		{"Zero EUR", Zero("EUR"), 0, "eur", "€0.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.money.Amount != tt.amount {
				t.Errorf("Amount: got %d, want %d", tt.money.Amount, tt.amount)
			}
			if tt.money.Currency != tt.currency {
				t.Errorf("Currency: got %s, want %s", tt.money.Currency, tt.currency)
			}
			if tt.money.String() != tt.display {
				t.Errorf("Display: got %s, want %s", tt.money.String(), tt.display)
			}
		})
	}
}

func TestMoneyArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() Money
		expected Money
	}{
		{"Add", func() Money { return USD(100).Add(USD(200)) }, USD(300)},
		{"Subtract", func() Money { return USD(500).Subtract(USD(200)) }, USD(300)},
		{"Multiply", func() Money { return USD(100).Multiply(3) }, USD(300)},
		{"Negate", func() Money { return USD(100).Negate() }, USD(-100)},
		{"Sum", func() Money { return Sum(USD(100), USD(200), USD(50)) }, USD(350)},
		{"Min lower", func() Money { return USD(100).Min(USD(250)) }, USD(100)},
		{"Min higher", func() Money { return USD(400).Min(USD(250)) }, USD(250)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.op()
			if !result.Equal(tt.expected) {
				t.Errorf("Got %v, want %v", result, tt.expected)
			}
		})
	}
}

func TestMoneyComparisons(t *testing.T) {
	if !USD(100).LessThan(USD(200)) {
		t.Error("100 < 200")
	}
	if USD(200).LessThan(USD(100)) {
		t.Error("200 not < 100")
	}
	if !USD(200).GreaterThanOrEqual(USD(200)) {
		t.Error("200 >= 200")
	}
	if !USD(0).IsZero() {
		t.Error("zero")
	}
	if !USD(1).IsPositive() || USD(-1).IsPositive() {
		t.Error("positivity")
	}
	if !USD(-1).IsNegative() {
		t.Error("negativity")
	}
}

func TestMoneyCurrencyMismatch(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Expected panic for currency mismatch")
		}
	}()

	// This should panic
	_ = USD(100).Add(EUR(100))
}

func TestMoneyJSON(t *testing.T) {
	data, err := json.Marshal(USD(4900))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded Money
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !decoded.Equal(USD(4900)) {
		t.Errorf("round-trip: got %v", decoded)
	}
}

func TestEntityTouch(t *testing.T) {
	e := NewEntity()
	created := e.CreatedAt
	updated := e.UpdatedAt

	e.Touch()
	if !e.CreatedAt.Equal(created) {
		t.Error("Touch must not move CreatedAt")
	}
	if e.UpdatedAt.Before(updated) {
		t.Error("Touch must not move UpdatedAt backwards")
	}
}
