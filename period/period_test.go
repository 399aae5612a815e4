package period

import (
	"testing"
	"time"
)

func TestID(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"mid month", time.Date(2026, 9, 15, 12, 0, 0, 0, time.UTC), "2026-09"},
		{"first instant", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), "2026-01"},
		{"last instant", time.Date(2026, 12, 31, 23, 59, 59, 0, time.UTC), "2026-12"},
		{"non-UTC normalized", time.Date(2026, 10, 1, 0, 30, 0, 0, time.FixedZone("CEST", 2*3600)), "2026-09"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ID(tt.t); got != tt.want {
				t.Errorf("ID: got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestBounds(t *testing.T) {
	start, end := Bounds(time.Date(2026, 9, 15, 12, 0, 0, 0, time.UTC))

	wantStart := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	if !start.Equal(wantStart) {
		t.Errorf("start: got %v, want %v", start, wantStart)
	}
	if !end.Equal(wantEnd) {
		t.Errorf("end: got %v, want %v", end, wantEnd)
	}

	// December wraps the year.
	_, end = Bounds(time.Date(2026, 12, 5, 0, 0, 0, 0, time.UTC))
	if !end.Equal(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("december end: got %v", end)
	}
}

func TestParse(t *testing.T) {
	got, err := Parse("2026-09")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !got.Equal(time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("got %v", got)
	}

	if _, err := Parse("september"); err == nil {
		t.Error("expected error for malformed period ID")
	}
}

func TestNext(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"2026-09", "2026-10"},
		{"2026-12", "2027-01"},
		{"2026-01", "2026-02"},
	}

	for _, tt := range tests {
		got, err := Next(tt.in)
		if err != nil {
			t.Fatalf("Next(%s): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("Next(%s): got %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	id := ID(time.Now())
	start, err := Parse(id)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if ID(start) != id {
		t.Errorf("round trip: %s != %s", ID(start), id)
	}
}
