// Package split computes how a broker fee is shared between the apporteur
// (business introducer), the platform and the broker.
package split

import (
	"strings"

	"github.com/shopspring/decimal"

	"loan_broker_backend/platform/apperr"
)

// Plan is a broker subscription plan.
type Plan string

const (
	PlanFree      Plan = "free"
	PlanEssential Plan = "essential"
	PlanPremium   Plan = "premium"
	PlanUnlimited Plan = "unlimited"
)

// ParsePlan normalizes a plan name.
func ParsePlan(raw string) (Plan, error) {
	plan := Plan(strings.ToLower(strings.TrimSpace(raw)))
	switch plan {
	case PlanFree, PlanEssential, PlanPremium, PlanUnlimited:
		return plan, nil
	default:
		return "", apperr.Validation("unknown subscription plan " + raw)
	}
}

var hundred = decimal.NewFromInt(100)

// pctPlaces is the precision quotes store percentages with.
const pctPlaces = 2

// Rates is the platform fee percentage without and with an apporteur.
type Rates struct {
	WithoutApporteur decimal.Decimal
	WithApporteur    decimal.Decimal
}

// Schedule maps a plan to its platform fee rates.
type Schedule map[Plan]Rates

// DefaultSchedule is the platform fee table per plan.
func DefaultSchedule() Schedule {
	return Schedule{
		PlanFree:      {WithoutApporteur: decimal.NewFromInt(15), WithApporteur: decimal.NewFromInt(20)},
		PlanEssential: {WithoutApporteur: decimal.NewFromInt(8), WithApporteur: decimal.NewFromInt(10)},
		PlanPremium:   {WithoutApporteur: decimal.NewFromInt(4), WithApporteur: decimal.NewFromInt(5)},
		PlanUnlimited: {WithoutApporteur: decimal.Zero, WithApporteur: decimal.Zero},
	}
}

// PlatformPct returns the platform percentage for a plan.
func (s Schedule) PlatformPct(plan Plan, apporteurPresent bool) (decimal.Decimal, error) {
	if plan == PlanUnlimited {
		return decimal.Zero, nil
	}
	rates, ok := s[plan]
	if !ok {
		return decimal.Zero, apperr.Validation("unknown subscription plan " + string(plan))
	}
	if apporteurPresent {
		return rates.WithApporteur, nil
	}
	return rates.WithoutApporteur, nil
}

// Input holds everything the split depends on.
type Input struct {
	BrokerFeeMinor      int64
	Plan                Plan
	ApporteurPresent    bool
	DefaultApporteurPct decimal.Decimal
	CustomApporteurPct  *decimal.Decimal
}

// Split is the three-way share of a broker fee in minor units.
type Split struct {
	BrokerFeeMinor       int64           `json:"brokerFeeMinor"`
	ApporteurPct         decimal.Decimal `json:"apporteurPct"`
	ApporteurAmountMinor int64           `json:"apporteurAmountMinor"`
	PlatformPct          decimal.Decimal `json:"platformPct"`
	PlatformAmountMinor  int64           `json:"platformAmountMinor"`
	BrokerNetMinor       int64           `json:"brokerNetMinor"`
}

// Calculate splits the fee. Percentage amounts are rounded half-up to the
// minor unit and the broker net takes whatever is left, so the three parts
// always add up to the fee.
func Calculate(in Input, schedule Schedule) (Split, error) {
	if in.BrokerFeeMinor < 0 {
		return Split{}, apperr.Validation("broker fee cannot be negative")
	}

	apporteurPct := decimal.Zero
	if in.ApporteurPresent {
		apporteurPct = in.DefaultApporteurPct
		if in.CustomApporteurPct != nil {
			apporteurPct = *in.CustomApporteurPct
		}
	}
	if err := checkPct(apporteurPct, "apporteur share"); err != nil {
		return Split{}, err
	}

	platformPct, err := schedule.PlatformPct(in.Plan, in.ApporteurPresent)
	if err != nil {
		return Split{}, err
	}
	if err := checkPct(platformPct, "platform fee"); err != nil {
		return Split{}, err
	}

	fee := in.BrokerFeeMinor
	apporteur := min(percentOf(fee, apporteurPct), fee)
	platform := min(percentOf(fee, platformPct), fee-apporteur)

	return Split{
		BrokerFeeMinor:       fee,
		ApporteurPct:         apporteurPct,
		ApporteurAmountMinor: apporteur,
		PlatformPct:          platformPct,
		PlatformAmountMinor:  platform,
		BrokerNetMinor:       fee - apporteur - platform,
	}, nil
}

func percentOf(amount int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(pct).Div(hundred).Round(0).IntPart()
}

func checkPct(pct decimal.Decimal, what string) error {
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return apperr.Validation(what + " percentage must be between 0 and 100")
	}
	if !pct.Equal(pct.Round(pctPlaces)) {
		return apperr.Validation(what + " percentage allows at most 2 decimals")
	}
	return nil
}
