package appointment

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/telecare/telecare/internal/domain/profile"
)

const (
	PricingRandom    = "random"
	PricingDoctorFee = "doctor-fee"
	PricingFixed     = "fixed"
)

// Pricer assigns the cost of a new appointment with doctor.
type Pricer interface {
	Price(ctx context.Context, doctor *profile.Profile) (decimal.Decimal, error)
}

// PricerFunc adapts a function to Pricer.
type PricerFunc func(ctx context.Context, doctor *profile.Profile) (decimal.Decimal, error)

func (f PricerFunc) Price(ctx context.Context, doctor *profile.Profile) (decimal.Decimal, error) {
	return f(ctx, doctor)
}

// RandomPricer picks a whole amount uniformly from [min, max].
type RandomPricer struct {
	min, max int64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewRandomPricer returns a RandomPricer drawing from src, or from a
// time-seeded source when src is nil.
func NewRandomPricer(min, max int64, src rand.Source) (*RandomPricer, error) {
	if min < 0 || max < min {
		return nil, fmt.Errorf("invalid price range [%d, %d]", min, max)
	}
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &RandomPricer{min: min, max: max, rnd: rand.New(src)}, nil
}

func (p *RandomPricer) Price(context.Context, *profile.Profile) (decimal.Decimal, error) {
	p.mu.Lock()
	n := p.rnd.Int63n(p.max - p.min + 1)
	p.mu.Unlock()
	return decimal.NewFromInt(p.min + n), nil
}

// DoctorFeePricer charges the doctor's consultation fee, or Fallback when the
// doctor has none.
type DoctorFeePricer struct {
	Fallback decimal.Decimal
}

func (p DoctorFeePricer) Price(_ context.Context, doctor *profile.Profile) (decimal.Decimal, error) {
	if doctor == nil || doctor.Doctor == nil {
		return p.Fallback, nil
	}
	fee := doctor.Doctor.ConsultationFee.Decimal
	if fee.IsZero() {
		return p.Fallback, nil
	}
	return fee, nil
}

// FixedPricer charges the same amount for every appointment.
type FixedPricer struct {
	Amount decimal.Decimal
}

func (p FixedPricer) Price(context.Context, *profile.Profile) (decimal.Decimal, error) {
	return p.Amount, nil
}

// NewPricer builds the pricer for a configured policy. For fixed pricing min
// is the amount; max is ignored.
func NewPricer(policy, min, max string) (Pricer, error) {
	switch policy {
	case "", PricingRandom:
		lo, err := decimal.NewFromString(min)
		if err != nil {
			return nil, fmt.Errorf("pricing min: %w", err)
		}
		hi, err := decimal.NewFromString(max)
		if err != nil {
			return nil, fmt.Errorf("pricing max: %w", err)
		}
		if !lo.IsInteger() || !hi.IsInteger() {
			return nil, fmt.Errorf("random pricing needs whole amounts, got [%s, %s]", lo, hi)
		}
		return NewRandomPricer(lo.IntPart(), hi.IntPart(), nil)
	case PricingDoctorFee:
		fallback, _ := decimal.NewFromString(profile.DefaultConsultationFee)
		return DoctorFeePricer{Fallback: fallback}, nil
	case PricingFixed:
		amt, err := decimal.NewFromString(min)
		if err != nil {
			return nil, fmt.Errorf("pricing amount: %w", err)
		}
		if amt.IsNegative() {
			return nil, fmt.Errorf("pricing amount must not be negative")
		}
		return FixedPricer{Amount: amt}, nil
	}
	return nil, fmt.Errorf("unknown pricing policy %q", policy)
}
