package lending

import (
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/centi-network/centi/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// trustedBorrower has every borrower-side factor at its best.
func trustedBorrower() domain.BorrowerProfile {
	return domain.BorrowerProfile{
		ParticipantID:     "p1",
		ReputationScore:   85,
		TransactionVolume: 150,
		RepaymentHistory:  domain.RepaymentHistory{OnTime: 10},
		CurrentDebt:       decimal.Zero,
	}
}

func TestCalculateInterestRate(t *testing.T) {
	neutral := domain.DefaultMarketConditions()

	tests := []struct {
		name       string
		profile    domain.BorrowerProfile
		market     domain.MarketConditions
		method     domain.RepaymentMethod
		purpose    domain.LoanPurpose
		collateral bool
		want       float64
	}{
		{
			name:    "trusted ecosystem borrower clamps to floor",
			profile: trustedBorrower(),
			market:  neutral,
			method:  domain.RepayServiceHours,
			purpose: domain.PurposeEcosystem,
			want:    3,
		},
		{
			name:    "new participant",
			profile: domain.BorrowerProfile{ReputationScore: 30},
			market:  neutral,
			method:  domain.RepayMixed,
			purpose: domain.PurposeGrowth,
			want:    14,
		},
		{
			name: "every factor against clamps to ceiling",
			profile: domain.BorrowerProfile{
				ReputationScore:  10,
				RepaymentHistory: domain.RepaymentHistory{Late: 5},
				CurrentDebt:      dec("600"),
			},
			market:  domain.MarketConditions{Liquidity: dec("1000"), ServiceDemand: 90},
			method:  domain.RepayCash,
			purpose: domain.PurposeOptional,
			want:    15,
		},
		{
			name: "mid profile",
			profile: domain.BorrowerProfile{
				ReputationScore:   65,
				TransactionVolume: 50,
				RepaymentHistory:  domain.RepaymentHistory{OnTime: 9, Late: 1},
				CurrentDebt:       dec("300"),
			},
			market:  neutral,
			method:  domain.RepayCash,
			purpose: domain.PurposeCritical,
			want:    7.5,
		},
		{
			name: "mid profile with collateral",
			profile: domain.BorrowerProfile{
				ReputationScore:   65,
				TransactionVolume: 50,
				RepaymentHistory:  domain.RepaymentHistory{OnTime: 9, Late: 1},
				CurrentDebt:       dec("300"),
			},
			market:     neutral,
			method:     domain.RepayCash,
			purpose:    domain.PurposeCritical,
			collateral: true,
			want:       5.5,
		},
		{
			name:    "liquid market with low demand",
			profile: domain.BorrowerProfile{ReputationScore: 50, TransactionVolume: 50, RepaymentHistory: domain.RepaymentHistory{OnTime: 3, Late: 3}},
			market:  domain.MarketConditions{Liquidity: dec("20000"), ServiceDemand: 10},
			method:  domain.RepayProducts,
			purpose: domain.PurposeGrowth,
			want:    6,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateInterestRate(tt.profile, tt.market, tt.method, tt.purpose, tt.collateral)
			if got != tt.want {
				t.Errorf("CalculateInterestRate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCalculateInterestRate_AlwaysInRange(t *testing.T) {
	demands := []float64{math.NaN(), math.Inf(1), math.Inf(-1), -50, 0, 50, 1e9}
	scores := []int{-1000, 0, 39, 40, 60, 80, 100, 1 << 30}
	volumes := []int{-5, 0, 9, 10, 100, 101, 1 << 30}
	methods := []domain.RepaymentMethod{domain.RepayCash, domain.RepayServiceHours, domain.RepayProducts, domain.RepayMixed, "bogus"}
	purposes := []domain.LoanPurpose{domain.PurposeCritical, domain.PurposeGrowth, domain.PurposeOptional, domain.PurposeEcosystem, "bogus"}

	for _, demand := range demands {
		for _, score := range scores {
			for _, vol := range volumes {
				for _, m := range methods {
					for _, p := range purposes {
						for _, collateral := range []bool{false, true} {
							profile := domain.BorrowerProfile{ReputationScore: score, TransactionVolume: vol, CurrentDebt: dec("-1")}
							market := domain.MarketConditions{Liquidity: dec("-10"), ServiceDemand: demand}
							got := CalculateInterestRate(profile, market, m, p, collateral)
							if math.IsNaN(got) || got < MinRate || got > MaxRate {
								t.Fatalf("rate %v out of range for score=%d vol=%d demand=%v", got, score, vol, demand)
							}
						}
					}
				}
			}
		}
	}
}

func TestComputeTerms(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	terms := ComputeTerms(trustedBorrower(), domain.DefaultMarketConditions(), TermsInput{
		Principal:       dec("100"),
		Method:          domain.RepayServiceHours,
		Purpose:         domain.PurposeEcosystem,
		TermDays:        30,
		ServiceHourRate: dec("8"),
	}, now)

	if terms.InterestRate != 3 {
		t.Fatalf("rate = %v, want 3", terms.InterestRate)
	}
	if !terms.InterestAmount.Equal(dec("3")) {
		t.Errorf("interest = %s, want 3", terms.InterestAmount)
	}
	if !terms.TotalRepayment.Equal(dec("103")) {
		t.Errorf("total = %s, want 103", terms.TotalRepayment)
	}
	if terms.ServiceHoursRequired != 13 {
		t.Errorf("hours required = %d, want 13 (ceil 103/8)", terms.ServiceHoursRequired)
	}
	if terms.InterestOwedInHours != 0.38 {
		t.Errorf("interest in hours = %v, want 0.38", terms.InterestOwedInHours)
	}
	if !terms.DueDate.Equal(now.AddDate(0, 0, 30)) {
		t.Errorf("due = %v", terms.DueDate)
	}
}

func TestComputeTerms_CashHasNoHourRequirement(t *testing.T) {
	terms := ComputeTerms(trustedBorrower(), domain.DefaultMarketConditions(), TermsInput{
		Principal:       dec("200"),
		Method:          domain.RepayCash,
		Purpose:         domain.PurposeGrowth,
		TermDays:        30,
		ServiceHourRate: dec("8"),
	}, time.Now())

	// 8 − 3 − 1 − 2 + 0.5 = 2.5 → floor 3
	if terms.InterestRate != 3 {
		t.Errorf("rate = %v, want 3", terms.InterestRate)
	}
	if terms.ServiceHoursRequired != 0 {
		t.Errorf("hours required = %d, want 0 for cash", terms.ServiceHoursRequired)
	}
	if !terms.TotalRepayment.Equal(dec("206")) {
		t.Errorf("total = %s, want 206", terms.TotalRepayment)
	}
}

func TestEarlyRepaymentDiscount(t *testing.T) {
	terms := domain.LoanTerms{TotalRepayment: dec("103")}
	tests := []struct {
		days int
		want string
	}{
		{-3, "0"},
		{0, "0"},
		{9, "0"},
		{10, "1.03"},
		{25, "2.06"},
		{50, "5.15"},
		{400, "5.15"},
	}
	for _, tt := range tests {
		got := EarlyRepaymentDiscount(terms, tt.days)
		if !got.Equal(dec(tt.want)) {
			t.Errorf("EarlyRepaymentDiscount(%d days) = %s, want %s", tt.days, got, tt.want)
		}
	}
}
