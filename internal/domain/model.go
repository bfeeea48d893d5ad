// Package domain contains pure business types with no infrastructure imports.
// This is the innermost ring: ledger, lending, marketplace, reputation and
// matching types plus the sentinel errors every layer shares.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─── Participant Types ──────────────────────────────────────────────────────

// KYCStatus is managed outside the core and only consumed here.
type KYCStatus string

const (
	KYCIncomplete KYCStatus = "incomplete"
	KYCPending    KYCStatus = "pending"
	KYCApproved   KYCStatus = "approved"
	KYCRejected   KYCStatus = "rejected"
)

// IsValid reports whether s is a known KYC status.
func (s KYCStatus) IsValid() bool {
	switch s {
	case KYCIncomplete, KYCPending, KYCApproved, KYCRejected:
		return true
	}
	return false
}

// Participant is the persisted business record, keyed by ID and unique email.
type Participant struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	Email               string    `json:"email"`
	CredentialHash      string    `json:"-"`
	Verified            bool      `json:"verified"`
	KYCStatus           KYCStatus `json:"kyc_status"`
	CreatedAt           time.Time `json:"created_at"`
	Reputation          int       `json:"reputation"`
	Rating              float64   `json:"rating"`
	TotalHoursDelivered float64   `json:"total_hours_delivered"`
	TotalHoursReceived  float64   `json:"total_hours_received"`
}

// ─── Rate Table Types ───────────────────────────────────────────────────────

// ServiceCategory is a priced line in the rate table.
type ServiceCategory struct {
	ID               string          `json:"id" toml:"id"`
	Name             string          `json:"name" toml:"name"`
	RatePerHour      decimal.Decimal `json:"rate_per_hour" toml:"rate_per_hour"`
	DemandMultiplier float64         `json:"demand_multiplier" toml:"demand_multiplier"`
	StandardHours    float64         `json:"standard_hours" toml:"standard_hours"`
}

// Price returns rate × hours × demand multiplier.
func (c ServiceCategory) Price(hours float64) decimal.Decimal {
	return c.RatePerHour.
		Mul(decimal.NewFromFloat(hours)).
		Mul(decimal.NewFromFloat(c.DemandMultiplier))
}

// EffectiveRate returns the hourly rate after the demand multiplier.
func (c ServiceCategory) EffectiveRate() decimal.Decimal {
	return c.RatePerHour.Mul(decimal.NewFromFloat(c.DemandMultiplier))
}

// ─── Marketplace Types ──────────────────────────────────────────────────────

// ServiceStatus is the lifecycle of a listing.
type ServiceStatus string

const (
	ServiceAvailable  ServiceStatus = "available"
	ServiceInProgress ServiceStatus = "in_progress"
	ServiceCompleted  ServiceStatus = "completed"
	ServiceCancelled  ServiceStatus = "cancelled"
)

// Service is a provider's listing. PriceTotal is frozen at creation.
type Service struct {
	ID          string          `json:"id"`
	ProviderID  string          `json:"provider_id"`
	CategoryID  string          `json:"category_id"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Hours       float64         `json:"hours"`
	PriceTotal  decimal.Decimal `json:"price_total"`
	Status      ServiceStatus   `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// RequestStatus is the lifecycle of a service request.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestAccepted  RequestStatus = "accepted"
	RequestCompleted RequestStatus = "completed"
	RequestCancelled RequestStatus = "cancelled"
)

// CanTransition reports whether from → to is a legal request transition.
// No transition skips a state.
func (from RequestStatus) CanTransition(to RequestStatus) bool {
	switch from {
	case RequestPending:
		return to == RequestAccepted || to == RequestCancelled
	case RequestAccepted:
		return to == RequestCompleted || to == RequestCancelled
	}
	return false
}

// IsOpen reports whether the request still holds its service slot.
func (s RequestStatus) IsOpen() bool {
	return s == RequestPending || s == RequestAccepted
}

// ServiceRequest is a requester's claim on a service.
type ServiceRequest struct {
	ID           string          `json:"id"`
	RequesterID  string          `json:"requester_id"`
	ServiceID    string          `json:"service_id"`
	Status       RequestStatus   `json:"status"`
	LockedAmount decimal.Decimal `json:"locked_amount"`
	Deadline     *time.Time      `json:"deadline,omitempty"`
	RequestedAt  time.Time       `json:"requested_at"`
	AcceptedAt   *time.Time      `json:"accepted_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	CancelledAt  *time.Time      `json:"cancelled_at,omitempty"`
	Rating       int             `json:"rating,omitempty"`
}

// ─── Service Hour Types ─────────────────────────────────────────────────────

// HourKind classifies a service-hour entry.
type HourKind string

const (
	HoursEarned    HourKind = "earned"
	HoursOwed      HourKind = "owed"
	HoursCommitted HourKind = "committed"
)

// HourStatus is the lifecycle of a service-hour entry.
type HourStatus string

const (
	HourPending   HourStatus = "pending"
	HourVerified  HourStatus = "verified"
	HourCompleted HourStatus = "completed"
	HourCancelled HourStatus = "cancelled"
)

// ServiceHour records hours earned by a provider or owed by a borrower.
type ServiceHour struct {
	ID            string     `json:"id"`
	ParticipantID string     `json:"participant_id"`
	RequestID     string     `json:"request_id,omitempty"`
	LoanID        string     `json:"loan_id,omitempty"`
	CategoryID    string     `json:"category_id,omitempty"`
	Kind          HourKind   `json:"kind"`
	Hours         float64    `json:"hours"`
	Status        HourStatus `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	VerifiedAt    *time.Time `json:"verified_at,omitempty"`
	DueAt         *time.Time `json:"due_at,omitempty"`
}

// HoursSummary totals a participant's hour entries.
type HoursSummary struct {
	Earned    float64 `json:"earned"`    // verified earned hours
	Pending   float64 `json:"pending"`   // earned, awaiting requester approval
	Owed      float64 `json:"owed"`      // outstanding obligations
	Committed float64 `json:"committed"` // promised, not yet delivered
}
