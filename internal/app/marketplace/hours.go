package marketplace

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/centi-network/centi/internal/domain"
)

// ─── Service Hours ──────────────────────────────────────────────────────────
// Earned entries come from completed requests and wait for the requester's
// approval. Owed entries come from loans repaid in service hours. Committed
// entries are hours a participant pledges ahead of delivery.

// ApproveHours verifies a pending earned entry. Only the requester of the
// linked request may approve. Verified hours are added to both participants'
// totals.
func (m *Marketplace) ApproveHours(ctx context.Context, hourID, requesterID string) (domain.ServiceHour, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.hours[hourID]
	if !ok {
		return domain.ServiceHour{}, fmt.Errorf("hours %s: %w", hourID, domain.ErrHoursNotFound)
	}
	if h.Kind != domain.HoursEarned || h.Status != domain.HourPending {
		return h, fmt.Errorf("approve %s %s hours: %w", h.Status, h.Kind, domain.ErrInvalidTransition)
	}
	req, ok := m.requests[h.RequestID]
	if !ok || req.RequesterID != requesterID {
		return h, fmt.Errorf("approve hours %s: %w", hourID, domain.ErrForbidden)
	}

	h.Status = domain.HourVerified
	h.VerifiedAt = timePtr(m.now())
	m.hours[hourID] = h
	m.bump("hours", string(h.Status))

	if m.hourTotals != nil {
		if err := m.hourTotals.AddHours(ctx, h.ParticipantID, h.Hours, 0); err != nil {
			m.logger.Error(ctx, "add delivered hours", err)
		}
		if err := m.hourTotals.AddHours(ctx, requesterID, 0, h.Hours); err != nil {
			m.logger.Error(ctx, "add received hours", err)
		}
	}
	return h, nil
}

// RecordOwedHours books hours a borrower owes against a loan.
func (m *Marketplace) RecordOwedHours(ctx context.Context, participantID, loanID string, hours float64, due time.Time) (domain.ServiceHour, error) {
	return m.addHours(domain.ServiceHour{
		ParticipantID: participantID,
		LoanID:        loanID,
		Kind:          domain.HoursOwed,
		Hours:         hours,
		DueAt:         timePtr(due),
	})
}

// CommitHours records hours a participant pledges in a category.
func (m *Marketplace) CommitHours(ctx context.Context, participantID, categoryID string, hours float64, due *time.Time) (domain.ServiceHour, error) {
	cat, err := m.categories.Get(categoryID)
	if err != nil {
		return domain.ServiceHour{}, err
	}
	return m.addHours(domain.ServiceHour{
		ParticipantID: participantID,
		CategoryID:    cat.ID,
		Kind:          domain.HoursCommitted,
		Hours:         hours,
		DueAt:         due,
	})
}

func (m *Marketplace) addHours(h domain.ServiceHour) (domain.ServiceHour, error) {
	if h.Hours <= 0 {
		return domain.ServiceHour{}, fmt.Errorf("hours %v: %w", h.Hours, domain.ErrInvalidAmount)
	}
	h.ID = uuid.NewString()
	h.Status = domain.HourPending
	h.CreatedAt = m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.hours[h.ID] = h
	m.bump("hours", string(h.Status))
	return h, nil
}

// CompleteHours marks owed or committed hours as delivered by their owner.
func (m *Marketplace) CompleteHours(ctx context.Context, hourID, participantID string) (domain.ServiceHour, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.hours[hourID]
	if !ok {
		return domain.ServiceHour{}, fmt.Errorf("hours %s: %w", hourID, domain.ErrHoursNotFound)
	}
	if h.ParticipantID != participantID {
		return h, fmt.Errorf("complete hours %s: %w", hourID, domain.ErrForbidden)
	}
	if h.Kind == domain.HoursEarned || (h.Status != domain.HourPending && h.Status != domain.HourVerified) {
		return h, fmt.Errorf("complete %s %s hours: %w", h.Status, h.Kind, domain.ErrInvalidTransition)
	}

	h.Status = domain.HourCompleted
	h.VerifiedAt = timePtr(m.now())
	m.hours[hourID] = h
	m.bump("hours", string(h.Status))

	if m.hourTotals != nil {
		if err := m.hourTotals.AddHours(ctx, participantID, h.Hours, 0); err != nil {
			m.logger.Error(ctx, "add delivered hours", err)
		}
	}
	return h, nil
}

// Hours lists a participant's entries, oldest first.
func (m *Marketplace) Hours(participantID string) []domain.ServiceHour {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ServiceHour, 0)
	for _, h := range m.hours {
		if h.ParticipantID == participantID {
			out = append(out, h)
		}
	}
	sortHours(out)
	return out
}

// HoursSummary totals a participant's entries by kind and status.
func (m *Marketplace) HoursSummary(participantID string) domain.HoursSummary {
	var s domain.HoursSummary
	for _, h := range m.Hours(participantID) {
		if h.Status == domain.HourCancelled {
			continue
		}
		switch h.Kind {
		case domain.HoursEarned:
			if h.Status == domain.HourPending {
				s.Pending += h.Hours
			} else {
				s.Earned += h.Hours
			}
		case domain.HoursOwed:
			if h.Status != domain.HourCompleted {
				s.Owed += h.Hours
			}
		case domain.HoursCommitted:
			if h.Status != domain.HourCompleted {
				s.Committed += h.Hours
			}
		}
	}
	return s
}
