package appointment

import (
	"context"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/telecare/telecare/internal/domain/profile"
)

func TestRandomPricer_StaysInRange(t *testing.T) {
	p, err := NewRandomPricer(5, 10, rand.NewSource(42))
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[int64]bool)
	for i := 0; i < 500; i++ {
		d, _ := p.Price(context.Background(), nil)
		n := d.IntPart()
		if n < 5 || n > 10 || !d.IsInteger() {
			t.Fatalf("price %s outside [5, 10]", d)
		}
		seen[n] = true
	}
	if len(seen) != 6 {
		t.Errorf("expected all six amounts to appear, saw %v", seen)
	}
}

func TestRandomPricer_Deterministic(t *testing.T) {
	a, _ := NewRandomPricer(5, 10, rand.NewSource(7))
	b, _ := NewRandomPricer(5, 10, rand.NewSource(7))
	for i := 0; i < 20; i++ {
		x, _ := a.Price(context.Background(), nil)
		y, _ := b.Price(context.Background(), nil)
		if !x.Equal(y) {
			t.Fatalf("same seed gave %s and %s", x, y)
		}
	}
}

func TestNewRandomPricer_BadRange(t *testing.T) {
	if _, err := NewRandomPricer(10, 5, nil); err == nil {
		t.Error("expected error for inverted range")
	}
	if _, err := NewRandomPricer(-1, 5, nil); err == nil {
		t.Error("expected error for negative min")
	}
}

func TestDoctorFeePricer(t *testing.T) {
	p := DoctorFeePricer{Fallback: decimal.NewFromInt(300)}
	fee, _ := profile.NewFee("450.25")
	doc := &profile.Profile{UserType: profile.Doctor, Doctor: &profile.DoctorDetails{ConsultationFee: fee}}

	got, _ := p.Price(context.Background(), doc)
	if got.String() != "450.25" {
		t.Errorf("expected doctor fee 450.25, got %s", got)
	}
	got, _ = p.Price(context.Background(), &profile.Profile{UserType: profile.Doctor, Doctor: &profile.DoctorDetails{}})
	if got.String() != "300" {
		t.Errorf("expected fallback 300, got %s", got)
	}
}

func TestNewPricer(t *testing.T) {
	tests := []struct {
		policy, min, max string
		ok               bool
	}{
		{"random", "5", "10", true},
		{"", "5", "10", true},
		{"random", "5.5", "10", false},
		{"random", "x", "10", false},
		{"doctor-fee", "", "", true},
		{"fixed", "12.50", "", true},
		{"fixed", "-1", "", false},
		{"auction", "1", "2", false},
	}
	for _, tt := range tests {
		_, err := NewPricer(tt.policy, tt.min, tt.max)
		if tt.ok && err != nil {
			t.Errorf("%s [%s,%s]: unexpected error: %v", tt.policy, tt.min, tt.max, err)
		}
		if !tt.ok && err == nil {
			t.Errorf("%s [%s,%s]: expected error", tt.policy, tt.min, tt.max)
		}
	}

	p, _ := NewPricer("fixed", "12.50", "")
	got, _ := p.Price(context.Background(), nil)
	if !got.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("expected 12.5, got %s", got)
	}
}
