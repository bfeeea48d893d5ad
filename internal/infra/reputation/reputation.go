// Package reputation tracks each participant's rolling track record.
//
// A record has four canonical inputs:
//   - AverageRating: running mean of 1–5 star ratings
//   - OnTimeCompletionRate: running mean over completed jobs
//   - JobsCompleted: completions counted toward volume
//   - Badges: distinct awards, at most five count toward the score
//
// Score = 40×(avg/5) + 30×onTime + 20×min(jobs/10, 1) + 2×min(badges, 5)
//
// The score is recomputed from these inputs inside every mutator, under the
// participant's key lock, so it can never drift from them.
package reputation

import (
	"fmt"
	"sort"

	"github.com/centi-network/centi/internal/domain"
	"github.com/centi-network/centi/internal/infra/memstore"
)

// ─── Constants ──────────────────────────────────────────────────────────────

const (
	MinRating = 1
	MaxRating = 5
)

// Badges awarded automatically by RecordRating, RecordCompletion and
// RecordDelivery.
const (
	BadgeFirstJob = "first-job"
	BadgeReliable = "reliable"
	BadgeTopRated = "top-rated"
	BadgeVeteran  = "veteran"
	BadgeProvider = "provider"
)

const (
	// ReliableJobs completions at ReliableOnTime or better earn BadgeReliable.
	ReliableJobs   = 10
	ReliableOnTime = 0.9

	// TopRatedAverage over at least TopRatedMinCount ratings earns BadgeTopRated.
	TopRatedAverage  = 4.5
	TopRatedMinCount = 5

	VeteranJobs = 50
)

// ─── Tracker ────────────────────────────────────────────────────────────────

// Tracker manages reputation for every participant.
// Per-participant serialization comes from the store's key locks.
type Tracker struct {
	store domain.KeyedStore[domain.Reputation]
}

// NewTracker creates a tracker over store. A nil store gets an in-memory one.
func NewTracker(store domain.KeyedStore[domain.Reputation]) *Tracker {
	if store == nil {
		store = memstore.New[domain.Reputation]()
	}
	return &Tracker{store: store}
}

// ─── Registration ───────────────────────────────────────────────────────────

// Register initializes a participant's record. Registering twice returns the
// existing record unchanged.
func (t *Tracker) Register(participantID string) domain.Reputation {
	unlock := t.store.Lock(participantID)
	defer unlock()
	return t.loadLocked(participantID).Clone()
}

// Get returns a copy of the participant's record.
func (t *Tracker) Get(participantID string) (domain.Reputation, bool) {
	rep, ok := t.store.Get(participantID)
	if !ok {
		return domain.Reputation{}, false
	}
	return rep.Clone(), true
}

// GetOrRegister returns the existing record or registers a new one.
func (t *Tracker) GetOrRegister(participantID string) domain.Reputation {
	if rep, ok := t.Get(participantID); ok {
		return rep
	}
	return t.Register(participantID)
}

// loadLocked returns the record, creating it if missing. Caller holds the key.
func (t *Tracker) loadLocked(participantID string) domain.Reputation {
	if rep, ok := t.store.Get(participantID); ok {
		return rep
	}
	rep := domain.NewReputation(participantID)
	t.store.Put(participantID, rep)
	return rep
}

// mutate applies fn to the participant's record and recomputes the score.
func (t *Tracker) mutate(participantID string, fn func(*domain.Reputation) error) (domain.Reputation, error) {
	if participantID == "" {
		return domain.Reputation{}, fmt.Errorf("reputation: %w", domain.ErrParticipantNotFound)
	}
	unlock := t.store.Lock(participantID)
	defer unlock()

	rep := t.loadLocked(participantID).Clone()
	if err := fn(&rep); err != nil {
		return domain.Reputation{}, err
	}
	rep.Score = domain.ReputationScore(rep)
	t.store.Put(participantID, rep)
	return rep.Clone(), nil
}

// ─── Score Updates ──────────────────────────────────────────────────────────

// RecordRating folds a 1–5 rating into the running average.
func (t *Tracker) RecordRating(participantID string, rating int) (domain.Reputation, error) {
	if rating < MinRating || rating > MaxRating {
		return domain.Reputation{}, fmt.Errorf("rating %d: %w", rating, domain.ErrInvalidRating)
	}
	return t.mutate(participantID, func(r *domain.Reputation) error {
		r.AverageRating = runningMean(r.AverageRating, r.TotalRatings, float64(rating))
		r.TotalRatings++
		if r.TotalRatings >= TopRatedMinCount && r.AverageRating >= TopRatedAverage {
			addBadge(r, BadgeTopRated)
		}
		return nil
	})
}

// RecordCompletion counts a completed job and folds its punctuality into the
// on-time rate.
func (t *Tracker) RecordCompletion(participantID string, onTime bool) (domain.Reputation, error) {
	return t.mutate(participantID, func(r *domain.Reputation) error {
		signal := 0.0
		if onTime {
			signal = 1.0
		}
		r.OnTimeCompletionRate = runningMean(r.OnTimeCompletionRate, r.JobsCompleted, signal)
		r.JobsCompleted++

		addBadge(r, BadgeFirstJob)
		if r.JobsCompleted >= ReliableJobs && r.OnTimeCompletionRate >= ReliableOnTime {
			addBadge(r, BadgeReliable)
		}
		if r.JobsCompleted >= VeteranJobs {
			addBadge(r, BadgeVeteran)
		}
		return nil
	})
}

// RecordDelivery counts a job delivered as provider.
func (t *Tracker) RecordDelivery(participantID string) (domain.Reputation, error) {
	return t.mutate(participantID, func(r *domain.Reputation) error {
		r.JobsDelivered++
		addBadge(r, BadgeProvider)
		return nil
	})
}

// AwardBadge adds a badge. Duplicates are ignored.
func (t *Tracker) AwardBadge(participantID, badge string) (domain.Reputation, error) {
	if badge == "" {
		return domain.Reputation{}, fmt.Errorf("badge name required")
	}
	return t.mutate(participantID, func(r *domain.Reputation) error {
		addBadge(r, badge)
		return nil
	})
}

// ─── Queries ────────────────────────────────────────────────────────────────

// TopParticipants returns records sorted by score descending, ties broken by
// participant id.
func (t *Tracker) TopParticipants(limit int) []domain.Reputation {
	snap := t.Snapshot()
	out := make([]domain.Reputation, 0, len(snap))
	for _, rep := range snap {
		out = append(out, rep)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ParticipantID < out[j].ParticipantID
	})
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

// Snapshot returns deep copies of every record.
func (t *Tracker) Snapshot() map[string]domain.Reputation {
	snap := t.store.Snapshot()
	for k, v := range snap {
		snap[k] = v.Clone()
	}
	return snap
}

// AverageRating returns the mean rating across participants with at least one
// rating, or 0 when nobody has been rated.
func (t *Tracker) AverageRating() float64 {
	sum, n := 0.0, 0
	for _, rep := range t.store.Snapshot() {
		if rep.TotalRatings == 0 {
			continue
		}
		sum += rep.AverageRating
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// Count returns the number of tracked participants.
func (t *Tracker) Count() int {
	return len(t.store.Snapshot())
}

// ─── Pure Helper Functions ──────────────────────────────────────────────────

// runningMean folds sample into a mean taken over count earlier samples:
//
//	new = (old × count + sample) / (count + 1)
func runningMean(old float64, count int, sample float64) float64 {
	if count <= 0 {
		return sample
	}
	return (old*float64(count) + sample) / float64(count+1)
}

func addBadge(r *domain.Reputation, badge string) {
	if !r.HasBadge(badge) {
		r.Badges = append(r.Badges, badge)
	}
}
