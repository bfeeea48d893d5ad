// Package matching pairs unmet demand with supply. The functions in this file
// are pure: they derive needs and capabilities from a marketplace snapshot and
// score every pairing. The Scheduler runs them on a timer.
package matching

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/centi-network/centi/internal/domain"
)

// ─── Scoring Weights ────────────────────────────────────────────────────────

const (
	WeightCategory   = 40
	WeightBudget     = 30
	WeightNearBudget = 15
	WeightHours      = 10
	WeightNearHours  = 5

	// DefaultThreshold is the lowest score that is reported.
	DefaultThreshold = 50

	// A provider with no live listing is inferred from history once it has at
	// least InferMinVerified verified hours and InferMinDelivered delivered.
	InferMinVerified  = 5.0
	InferMinDelivered = 10.0
)

var nearBudgetFactor = decimal.RequireFromString("1.2")

// ─── Inputs ─────────────────────────────────────────────────────────────────

// Inputs is everything one tick reads.
type Inputs struct {
	Services   []domain.Service
	Requests   []domain.ServiceRequest
	Hours      []domain.ServiceHour
	Categories []domain.ServiceCategory
	Reputation map[string]domain.Reputation
}

// DeriveNeeds turns every open request, pending or accepted, into a need for
// its service's category. The reserved amount is the budget.
func DeriveNeeds(in Inputs) []domain.Need {
	services := make(map[string]domain.Service, len(in.Services))
	for _, s := range in.Services {
		services[s.ID] = s
	}
	var needs []domain.Need
	for _, r := range in.Requests {
		if !r.Status.IsOpen() {
			continue
		}
		svc, ok := services[r.ServiceID]
		if !ok {
			continue
		}
		needs = append(needs, domain.Need{
			RequesterID: r.RequesterID,
			CategoryID:  svc.CategoryID,
			Hours:       svc.Hours,
			Budget:      r.LockedAmount,
			RequestID:   r.ID,
		})
	}
	return needs
}

type capKey struct{ provider, category string }

// DeriveCapabilities lists supply. Available listings are merged per provider
// and category: hours add up and the cheapest hourly rate wins. Providers
// with no available listing at all are inferred from their delivery history
// in the categories they have serviced, at the category's effective rate.
func DeriveCapabilities(in Inputs) []domain.Capability {
	rating := func(id string) float64 { return in.Reputation[id].AverageRating }

	merged := make(map[capKey]domain.Capability)
	listed := make(map[string]bool)
	for _, s := range in.Services {
		if s.Status != domain.ServiceAvailable || s.Hours <= 0 {
			continue
		}
		listed[s.ProviderID] = true
		rate := s.PriceTotal.Div(decimal.NewFromFloat(s.Hours))
		k := capKey{s.ProviderID, s.CategoryID}
		c, ok := merged[k]
		if !ok {
			merged[k] = domain.Capability{
				ProviderID:     s.ProviderID,
				CategoryID:     s.CategoryID,
				AvailableHours: s.Hours,
				Rate:           rate,
				Rating:         rating(s.ProviderID),
			}
			continue
		}
		c.AvailableHours += s.Hours
		c.Rate = decimal.Min(c.Rate, rate)
		merged[k] = c
	}

	for k, c := range inferCapabilities(in, listed) {
		c.Rating = rating(k.provider)
		merged[k] = c
	}

	out := make([]domain.Capability, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ProviderID != out[j].ProviderID {
			return out[i].ProviderID < out[j].ProviderID
		}
		return out[i].CategoryID < out[j].CategoryID
	})
	return out
}

func inferCapabilities(in Inputs, listed map[string]bool) map[capKey]domain.Capability {
	categories := make(map[string]domain.ServiceCategory, len(in.Categories))
	for _, c := range in.Categories {
		categories[c.ID] = c
	}

	verified := make(map[string]float64)
	delivered := make(map[string]float64)
	perCategory := make(map[capKey]float64)
	for _, h := range in.Hours {
		if h.Kind != domain.HoursEarned || h.Status == domain.HourCancelled {
			continue
		}
		delivered[h.ParticipantID] += h.Hours
		if h.Status == domain.HourVerified || h.Status == domain.HourCompleted {
			verified[h.ParticipantID] += h.Hours
			if h.CategoryID != "" {
				perCategory[capKey{h.ParticipantID, h.CategoryID}] += h.Hours
			}
		}
	}

	out := make(map[capKey]domain.Capability)
	for k, hours := range perCategory {
		if listed[k.provider] || verified[k.provider] < InferMinVerified || delivered[k.provider] < InferMinDelivered {
			continue
		}
		cat, ok := categories[k.category]
		if !ok {
			continue
		}
		out[k] = domain.Capability{
			ProviderID:     k.provider,
			CategoryID:     k.category,
			AvailableHours: hours,
			Rate:           cat.EffectiveRate(),
			Inferred:       true,
		}
	}
	return out
}

// ─── Scoring ────────────────────────────────────────────────────────────────

// Score rates how well c serves n, 0–100. Category is mandatory; budget,
// rating and capacity add to it. ok is false when the categories differ.
func Score(n domain.Need, c domain.Capability) (score int, reason string, ok bool) {
	if n.CategoryID != c.CategoryID {
		return 0, "", false
	}
	score = WeightCategory
	var notes []string

	cost := EstimatedCost(n, c)
	switch {
	case cost.LessThanOrEqual(n.Budget):
		score += WeightBudget
		notes = append(notes, "within budget")
	case cost.LessThanOrEqual(n.Budget.Mul(nearBudgetFactor)):
		score += WeightNearBudget
		notes = append(notes, "slightly over budget")
	}

	switch {
	case c.Rating >= 4.5:
		score += 20
		notes = append(notes, "highly rated provider")
	case c.Rating >= 4.0:
		score += 15
		notes = append(notes, "well rated provider")
	case c.Rating >= 3.5:
		score += 10
	}

	switch {
	case c.AvailableHours >= n.Hours:
		score += WeightHours
		notes = append(notes, "available capacity")
	case c.AvailableHours >= 0.8*n.Hours:
		score += WeightNearHours
		notes = append(notes, "most of the capacity")
	}

	if c.Inferred {
		notes = append(notes, "inferred from delivery history")
	}

	reason = label(score)
	if len(notes) > 0 {
		reason += ": " + strings.Join(notes, ", ")
	}
	return score, reason, true
}

func label(score int) string {
	switch {
	case score >= 90:
		return "Perfect match"
	case score >= 75:
		return "Excellent match"
	case score >= 60:
		return "Good match"
	}
	return "Compatible match"
}

// EstimatedCost is the provider's hourly rate times the hours needed.
func EstimatedCost(n domain.Need, c domain.Capability) decimal.Decimal {
	return c.Rate.Mul(decimal.NewFromFloat(n.Hours))
}

// Rank scores every need against every capability and keeps pairings at or
// above threshold, best first. A participant is never matched with itself.
func Rank(needs []domain.Need, caps []domain.Capability, threshold int) []domain.Match {
	var out []domain.Match
	for _, n := range needs {
		for _, c := range caps {
			if c.ProviderID == n.RequesterID {
				continue
			}
			score, reason, ok := Score(n, c)
			if !ok || score < threshold {
				continue
			}
			out = append(out, domain.Match{
				RequesterID:    n.RequesterID,
				ProviderID:     c.ProviderID,
				CategoryID:     c.CategoryID,
				Score:          score,
				Reason:         reason,
				EstimatedCost:  EstimatedCost(n, c),
				EstimatedHours: n.Hours,
				Inferred:       c.Inferred,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.RequesterID != b.RequesterID {
			return a.RequesterID < b.RequesterID
		}
		if a.ProviderID != b.ProviderID {
			return a.ProviderID < b.ProviderID
		}
		return a.CategoryID < b.CategoryID
	})
	return out
}

// Compute derives and ranks in one call.
func Compute(in Inputs, threshold int) []domain.Match {
	return Rank(DeriveNeeds(in), DeriveCapabilities(in), threshold)
}
