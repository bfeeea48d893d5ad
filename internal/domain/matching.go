package domain

import "github.com/shopspring/decimal"

// ─── Matching Types ─────────────────────────────────────────────────────────
// Needs, capabilities and matches are recomputed on every scheduler tick and
// never persisted.

// Need is unmet demand derived from an open service request.
type Need struct {
	RequesterID string          `json:"requester_id"`
	CategoryID  string          `json:"category_id"`
	Hours       float64         `json:"hours"`
	Budget      decimal.Decimal `json:"budget"`
	RequestID   string          `json:"request_id"`
}

// Capability is supply: a provider able to deliver hours in a category.
type Capability struct {
	ProviderID     string          `json:"provider_id"`
	CategoryID     string          `json:"category_id"`
	AvailableHours float64         `json:"available_hours"`
	Rate           decimal.Decimal `json:"rate"` // Centi per hour
	Rating         float64         `json:"rating"`
	Inferred       bool            `json:"inferred"` // no active listing, derived from history
}

// Match is a scored pairing of a Need with a Capability.
type Match struct {
	RequesterID    string          `json:"requester_id"`
	ProviderID     string          `json:"provider_id"`
	CategoryID     string          `json:"category_id"`
	Score          int             `json:"score"` // 0–100
	Reason         string          `json:"reason"`
	EstimatedCost  decimal.Decimal `json:"estimated_cost"`
	EstimatedHours float64         `json:"estimated_hours"`
	Inferred       bool            `json:"inferred,omitempty"`
}

// Involves reports whether the participant is either side of the match.
func (m Match) Involves(participantID string) bool {
	return m.RequesterID == participantID || m.ProviderID == participantID
}

// FilterMatches keeps the matches that involve participantID.
// An empty participantID keeps everything.
func FilterMatches(matches []Match, participantID string) []Match {
	if participantID == "" {
		return matches
	}
	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		if m.Involves(participantID) {
			out = append(out, m)
		}
	}
	return out
}
