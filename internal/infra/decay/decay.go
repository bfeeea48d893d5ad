// Package decay holds the pure rules that erode idle balances and weight
// value by reputation. Nothing here touches state; the ledger and the
// marketplace call these functions and book the results.
package decay

import (
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/centi-network/centi/internal/domain"
)

// ─── Constants ──────────────────────────────────────────────────────────────

const (
	// DefaultDailyRate is 0.1% per day.
	DefaultDailyRate = 0.001

	// AmountPlaces is the precision decay results are rounded to.
	AmountPlaces = 6

	// MinMultiplier and MaxMultiplier bound ValueMultiplier.
	MinMultiplier = 0.5
	MaxMultiplier = 1.5

	// DampingRatings is the rating count below which the multiplier is
	// pulled toward MinMultiplier.
	DampingRatings = 3

	// MaxInflation bounds EcosystemInflation in both directions.
	MaxInflation = 0.2
)

// ─── Balance Decay ──────────────────────────────────────────────────────────

// Amount returns how much of balance erodes over days at the daily rate:
//
//	balance − balance × (1 − rate)^days
//
// Zero when days < 1 or balance ≤ 0. The result is rounded down so that the
// decayed amount never exceeds the balance.
func Amount(balance decimal.Decimal, rate float64, days int) decimal.Decimal {
	if days < 1 || !balance.IsPositive() || rate <= 0 || math.IsNaN(rate) {
		return decimal.Zero
	}
	if rate >= 1 {
		return balance
	}
	remaining := decimal.NewFromFloat(math.Pow(1-rate, float64(days)))
	decayed := balance.Sub(balance.Mul(remaining)).RoundFloor(AmountPlaces)
	if decayed.GreaterThan(balance) {
		return balance
	}
	if decayed.IsNegative() {
		return decimal.Zero
	}
	return decayed
}

// Apply returns the balance left after days of decay.
func Apply(balance decimal.Decimal, rate float64, days int) decimal.Decimal {
	return balance.Sub(Amount(balance, rate, days))
}

// ElapsedDays counts the whole days between last and now.
func ElapsedDays(last, now time.Time) int {
	if last.IsZero() || !now.After(last) {
		return 0
	}
	return int(now.Sub(last) / (24 * time.Hour))
}

// GrantExpired reports whether b still holds grant value past its expiry.
func GrantExpired(b domain.Balance, now time.Time) bool {
	return b.GrantRemaining.IsPositive() && !b.GrantExpiresAt.IsZero() && !now.Before(b.GrantExpiresAt)
}

// ─── Reputation Weighting ───────────────────────────────────────────────────

// ValueMultiplier weights value exchanged with a counterparty by reputation:
//
//	1 + ((avg − 2.5)/2.5)×0.3 + min(jobs/100, 0.1) + onTime×0.1
//
// damped linearly toward 0.5 below three ratings, then clamped to [0.5, 1.5].
func ValueMultiplier(rep domain.Reputation) float64 {
	ratingImpact := ((rep.AverageRating - 2.5) / 2.5) * 0.3
	volumeBonus := math.Min(float64(rep.JobsCompleted)/100, 0.1)
	onTimeBonus := rep.OnTimeCompletionRate * 0.1

	m := 1.0 + ratingImpact + volumeBonus + onTimeBonus
	if rep.TotalRatings < DampingRatings {
		m = MinMultiplier + (m-MinMultiplier)*(float64(max(rep.TotalRatings, 0))/DampingRatings)
	}
	if math.IsNaN(m) {
		return MinMultiplier
	}
	return clamp(m, MinMultiplier, MaxMultiplier)
}

// AdjustByReputation scales amount by the counterparty's ValueMultiplier.
// Category pricing never goes through here.
func AdjustByReputation(amount decimal.Decimal, rep domain.Reputation) decimal.Decimal {
	return amount.Mul(decimal.NewFromFloat(ValueMultiplier(rep))).Round(AmountPlaces)
}

// EcosystemInflation maps the network's average rating to an adjustment in
// [−0.2, 0.2]: ((avg − 3)/2)×0.2.
func EcosystemInflation(avgRating float64) float64 {
	if math.IsNaN(avgRating) {
		return 0
	}
	return clamp(((avgRating-3)/2)*0.2, -MaxInflation, MaxInflation)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
