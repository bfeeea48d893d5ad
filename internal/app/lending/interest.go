package lending

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/centi-network/centi/internal/domain"
)

// ─── Rate Bounds ────────────────────────────────────────────────────────────

const (
	BaseRate = 8.0
	MinRate  = 3.0
	MaxRate  = 15.0

	// MaxEarlyDiscountPercent caps EarlyRepaymentDiscount; one percent is
	// earned per DaysPerDiscountPoint days early.
	MaxEarlyDiscountPercent = 5
	DaysPerDiscountPoint    = 10
)

// ─── Interest Pricing ───────────────────────────────────────────────────────

// CalculateInterestRate prices a loan in percent. Each factor nudges the base
// rate of 8; the sum is clamped to [3, 15] whatever the inputs, NaN and
// infinities included.
//
//	reputation   ≥80 −3 | ≥60 −1 | <40 +3
//	volume       >100 −1 | <10 +1
//	on-time      ≥0.9 −2 | <0.5 +2 | no history +2
//	debt         >500 +2 | >200 +1
//	liquidity    >10000 −1 | <3000 +1
//	demand       >80 +1 | <30 −1
//	method       service_hours −1 | cash +0.5
//	purpose      ecosystem −2 | critical +1 | optional +1.5
//	collateral   −2
func CalculateInterestRate(
	profile domain.BorrowerProfile,
	market domain.MarketConditions,
	method domain.RepaymentMethod,
	purpose domain.LoanPurpose,
	hasCollateral bool,
) float64 {
	rate := BaseRate

	switch score := profile.ReputationScore; {
	case score >= 80:
		rate -= 3
	case score >= 60:
		rate -= 1
	case score < 40:
		rate += 3
	}

	switch {
	case profile.TransactionVolume > 100:
		rate -= 1
	case profile.TransactionVolume < 10:
		rate += 1
	}

	history := profile.RepaymentHistory
	if total := history.OnTime + history.Late; total > 0 {
		onTimeRate := float64(history.OnTime) / float64(total)
		switch {
		case onTimeRate >= 0.9:
			rate -= 2
		case onTimeRate < 0.5:
			rate += 2
		}
	} else {
		rate += 2
	}

	switch {
	case profile.CurrentDebt.GreaterThan(decimal.NewFromInt(500)):
		rate += 2
	case profile.CurrentDebt.GreaterThan(decimal.NewFromInt(200)):
		rate += 1
	}

	switch {
	case market.Liquidity.GreaterThan(decimal.NewFromInt(10000)):
		rate -= 1
	case market.Liquidity.LessThan(decimal.NewFromInt(3000)):
		rate += 1
	}

	switch {
	case market.ServiceDemand > 80:
		rate += 1
	case market.ServiceDemand < 30:
		rate -= 1
	}

	switch method {
	case domain.RepayServiceHours:
		rate -= 1
	case domain.RepayCash:
		rate += 0.5
	}

	switch purpose {
	case domain.PurposeEcosystem:
		rate -= 2
	case domain.PurposeCritical:
		rate += 1
	case domain.PurposeOptional:
		rate += 1.5
	}

	if hasCollateral {
		rate -= 2
	}

	return clampRate(rate)
}

func clampRate(rate float64) float64 {
	if math.IsNaN(rate) {
		return BaseRate
	}
	return math.Max(MinRate, math.Min(MaxRate, rate))
}

// ─── Terms ──────────────────────────────────────────────────────────────────

// TermsInput is everything needed to price a loan besides the borrower and
// the market.
type TermsInput struct {
	Principal       decimal.Decimal
	Method          domain.RepaymentMethod
	Purpose         domain.LoanPurpose
	TermDays        int
	Collateral      bool
	ServiceHourRate decimal.Decimal
}

// ComputeTerms prices a loan. Interest is a flat percentage of principal over
// the whole term. ServiceHoursRequired is only filled for service-hours
// repayment with a positive hour rate.
func ComputeTerms(profile domain.BorrowerProfile, market domain.MarketConditions, in TermsInput, now time.Time) domain.LoanTerms {
	rate := CalculateInterestRate(profile, market, in.Method, in.Purpose, in.Collateral)

	interest := in.Principal.Mul(decimal.NewFromFloat(rate)).Div(decimal.NewFromInt(100))
	total := in.Principal.Add(interest)

	terms := domain.LoanTerms{
		Principal:       in.Principal,
		InterestRate:    rate,
		InterestAmount:  interest,
		TotalRepayment:  total,
		RepaymentMethod: in.Method,
		Purpose:         in.Purpose,
		ServiceHourRate: in.ServiceHourRate,
		TermDays:        in.TermDays,
		DueDate:         now.AddDate(0, 0, in.TermDays),
	}
	if in.ServiceHourRate.IsPositive() {
		terms.InterestOwedInHours = interest.Div(in.ServiceHourRate).Round(2).InexactFloat64()
		if in.Method == domain.RepayServiceHours {
			terms.ServiceHoursRequired = int(total.Div(in.ServiceHourRate).Ceil().IntPart())
		}
	}
	return terms
}

// EarlyRepaymentDiscount returns the discount on the total repayment for
// settling daysEarly days before the due date: one percent per ten days,
// at most five percent.
func EarlyRepaymentDiscount(terms domain.LoanTerms, daysEarly int) decimal.Decimal {
	if daysEarly < DaysPerDiscountPoint {
		return decimal.Zero
	}
	percent := min(MaxEarlyDiscountPercent, daysEarly/DaysPerDiscountPoint)
	return terms.TotalRepayment.Mul(decimal.NewFromInt(int64(percent))).Div(decimal.NewFromInt(100))
}
