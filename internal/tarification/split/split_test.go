package split

import (
	"testing"

	"github.com/shopspring/decimal"

	"loan_broker_backend/platform/apperr"
)

func pct(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestCalculateCustomApporteurRounding(t *testing.T) {
	custom := pct("33.33")
	got, err := Calculate(Input{
		BrokerFeeMinor:      15000,
		Plan:                PlanPremium,
		ApporteurPresent:    true,
		DefaultApporteurPct: pct("10"),
		CustomApporteurPct:  &custom,
	}, DefaultSchedule())
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}

	// 15000 × 33.33% = 4999.5 → 5000 half-up
	if got.ApporteurAmountMinor != 5000 {
		t.Fatalf("expected apporteur 5000, got %d", got.ApporteurAmountMinor)
	}
	if got.PlatformAmountMinor != 750 {
		t.Fatalf("expected premium platform fee 750, got %d", got.PlatformAmountMinor)
	}
	if got.BrokerNetMinor != 9250 {
		t.Fatalf("expected broker net 9250, got %d", got.BrokerNetMinor)
	}
}

func TestCalculateWithoutApporteurIgnoresPercentages(t *testing.T) {
	custom := pct("40")
	got, err := Calculate(Input{
		BrokerFeeMinor:      20000,
		Plan:                PlanFree,
		ApporteurPresent:    false,
		DefaultApporteurPct: pct("25"),
		CustomApporteurPct:  &custom,
	}, DefaultSchedule())
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if got.ApporteurAmountMinor != 0 || !got.ApporteurPct.IsZero() {
		t.Fatalf("expected no apporteur share, got %+v", got)
	}
	if !got.PlatformPct.Equal(pct("15")) || got.PlatformAmountMinor != 3000 {
		t.Fatalf("expected free plan 15%% without apporteur, got %+v", got)
	}
	if got.BrokerNetMinor != 17000 {
		t.Fatalf("expected broker net 17000, got %d", got.BrokerNetMinor)
	}
}

func TestCalculateUnlimitedPlanHasNoPlatformFee(t *testing.T) {
	for _, present := range []bool{false, true} {
		got, err := Calculate(Input{
			BrokerFeeMinor:      12345,
			Plan:                PlanUnlimited,
			ApporteurPresent:    present,
			DefaultApporteurPct: pct("10"),
		}, Schedule{})
		if err != nil {
			t.Fatalf("calculate: %v", err)
		}
		if got.PlatformAmountMinor != 0 || !got.PlatformPct.IsZero() {
			t.Fatalf("unlimited plan must not pay platform fees, got %+v", got)
		}
	}
}

func TestCalculateConservesFee(t *testing.T) {
	fees := []int64{0, 1, 2, 3, 99, 101, 333, 1000, 14999, 15000, 123457}
	pcts := []string{"0", "0.5", "12.5", "33.33", "33.34", "49.99", "50", "66.67", "100"}
	plans := []Plan{PlanFree, PlanEssential, PlanPremium, PlanUnlimited}

	for _, fee := range fees {
		for _, raw := range pcts {
			for _, plan := range plans {
				p := pct(raw)
				got, err := Calculate(Input{
					BrokerFeeMinor:     fee,
					Plan:               plan,
					ApporteurPresent:   true,
					CustomApporteurPct: &p,
				}, DefaultSchedule())
				if err != nil {
					t.Fatalf("fee %d pct %s plan %s: %v", fee, raw, plan, err)
				}
				if sum := got.ApporteurAmountMinor + got.PlatformAmountMinor + got.BrokerNetMinor; sum != fee {
					t.Fatalf("fee %d pct %s plan %s: parts sum to %d", fee, raw, plan, sum)
				}
				if got.BrokerNetMinor < 0 || got.PlatformAmountMinor < 0 || got.ApporteurAmountMinor < 0 {
					t.Fatalf("fee %d pct %s plan %s: negative part %+v", fee, raw, plan, got)
				}
			}
		}
	}
}

func TestCalculateCapsPlatformAtRemainder(t *testing.T) {
	full := pct("100")
	got, err := Calculate(Input{
		BrokerFeeMinor:     1000,
		Plan:               PlanFree,
		ApporteurPresent:   true,
		CustomApporteurPct: &full,
	}, DefaultSchedule())
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if got.ApporteurAmountMinor != 1000 || got.PlatformAmountMinor != 0 || got.BrokerNetMinor != 0 {
		t.Fatalf("expected apporteur to take the whole fee, got %+v", got)
	}
}

func TestCalculateRejectsInvalidInput(t *testing.T) {
	over := pct("100.01")
	cases := map[string]Input{
		"negative fee":     {BrokerFeeMinor: -1, Plan: PlanFree},
		"unknown plan":     {BrokerFeeMinor: 100, Plan: Plan("gold")},
		"pct above 100":    {BrokerFeeMinor: 100, Plan: PlanFree, ApporteurPresent: true, CustomApporteurPct: &over},
		"negative default": {BrokerFeeMinor: 100, Plan: PlanFree, ApporteurPresent: true, DefaultApporteurPct: pct("-5")},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Calculate(in, DefaultSchedule()); !apperr.Is(err, apperr.KindValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestCalculateRejectsPctFinerThanStored(t *testing.T) {
	third := pct("33.333")
	_, err := Calculate(Input{
		BrokerFeeMinor:     15000,
		Plan:               PlanPremium,
		ApporteurPresent:   true,
		CustomApporteurPct: &third,
	}, DefaultSchedule())
	if !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	trailing := pct("12.500")
	got, err := Calculate(Input{
		BrokerFeeMinor:     10000,
		Plan:               PlanPremium,
		ApporteurPresent:   true,
		CustomApporteurPct: &trailing,
	}, DefaultSchedule())
	if err != nil {
		t.Fatalf("trailing zeros are not extra precision: %v", err)
	}
	if got.ApporteurAmountMinor != 1250 {
		t.Fatalf("expected apporteur 1250, got %d", got.ApporteurAmountMinor)
	}
}

func TestParsePlan(t *testing.T) {
	if p, err := ParsePlan(" Premium "); err != nil || p != PlanPremium {
		t.Fatalf("expected premium, got %q %v", p, err)
	}
	if _, err := ParsePlan("platinum"); err == nil {
		t.Fatal("expected unknown plan to fail")
	}
}
