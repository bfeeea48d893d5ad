package domain

import "math"

// ─── Reputation Types ───────────────────────────────────────────────────────
// Score is never set directly: it is derived from the other fields by
// ReputationScore and refreshed by every tracker mutation.

// Reputation is a participant's rolling track record.
type Reputation struct {
	ParticipantID        string   `json:"participant_id"`
	Score                int      `json:"score"` // 0–100
	TotalRatings         int      `json:"total_ratings"`
	AverageRating        float64  `json:"average_rating"`          // 1–5
	OnTimeCompletionRate float64  `json:"on_time_completion_rate"` // 0–1
	JobsCompleted        int      `json:"jobs_completed"`
	JobsDelivered        int      `json:"jobs_delivered"`
	Badges               []string `json:"badges"`
}

// NewReputation returns the starting record for a participant.
// New entrants start with a perfect on-time rate and no ratings.
func NewReputation(participantID string) Reputation {
	r := Reputation{
		ParticipantID:        participantID,
		OnTimeCompletionRate: 1.0,
		Badges:               []string{},
	}
	r.Score = ReputationScore(r)
	return r
}

// ReputationScore computes the 0–100 score:
//
//	40×(avg/5) + 30×onTime + 20×min(jobs/10, 1) + 2×min(badges, 5)
func ReputationScore(r Reputation) int {
	ratingScore := (r.AverageRating / 5) * 40
	onTimeScore := r.OnTimeCompletionRate * 30
	volumeScore := math.Min(float64(r.JobsCompleted)/10, 1) * 20
	badgeScore := float64(min(len(r.Badges), 5)) * 2

	score := math.Round(ratingScore + onTimeScore + volumeScore + badgeScore)
	if math.IsNaN(score) || score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return int(score)
}

// HasBadge reports whether the badge was already awarded.
func (r Reputation) HasBadge(badge string) bool {
	for _, b := range r.Badges {
		if b == badge {
			return true
		}
	}
	return false
}

// Clone returns a copy that shares no slices with r.
func (r Reputation) Clone() Reputation {
	out := r
	out.Badges = append([]string(nil), r.Badges...)
	return out
}
