package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─── Lending Types ──────────────────────────────────────────────────────────

// LoanStatus is the lifecycle state of a loan.
// Transitions: active → repaid, active → overdue. Never backward.
type LoanStatus string

const (
	LoanActive  LoanStatus = "active"
	LoanRepaid  LoanStatus = "repaid"
	LoanOverdue LoanStatus = "overdue"
)

// RepaymentMethod is the channel a borrower promises to repay through.
type RepaymentMethod string

const (
	RepayCash         RepaymentMethod = "cash"
	RepayServiceHours RepaymentMethod = "service_hours"
	RepayProducts     RepaymentMethod = "products"
	RepayMixed        RepaymentMethod = "mixed"
)

// IsValid reports whether m is a known repayment method.
func (m RepaymentMethod) IsValid() bool {
	switch m {
	case RepayCash, RepayServiceHours, RepayProducts, RepayMixed:
		return true
	}
	return false
}

// LoanPurpose is the borrower's stated reason for the loan.
type LoanPurpose string

const (
	PurposeCritical  LoanPurpose = "critical"
	PurposeGrowth    LoanPurpose = "growth"
	PurposeOptional  LoanPurpose = "optional"
	PurposeEcosystem LoanPurpose = "ecosystem"
)

// IsValid reports whether p is a known purpose.
func (p LoanPurpose) IsValid() bool {
	switch p {
	case PurposeCritical, PurposeGrowth, PurposeOptional, PurposeEcosystem:
		return true
	}
	return false
}

// Loan is a borrowing record the ledger must honor.
type Loan struct {
	ID                  string          `json:"id"`
	ParticipantID       string          `json:"participant_id"`
	Principal           decimal.Decimal `json:"principal"`
	InterestRate        float64         `json:"interest_rate"` // percent, 3–15
	TotalRepayment      decimal.Decimal `json:"total_repayment"`
	RepaymentMethod     RepaymentMethod `json:"repayment_method"`
	Purpose             LoanPurpose     `json:"purpose"`
	DueDate             time.Time       `json:"due_date"`
	Status              LoanStatus      `json:"status"`
	RepaidAmount        decimal.Decimal `json:"repaid_amount"`
	InterestOwedInHours float64         `json:"interest_owed_in_hours"`
	CreatedAt           time.Time       `json:"created_at"`
	ClosedAt            *time.Time      `json:"closed_at,omitempty"`
}

// Outstanding returns the principal still owed.
func (l Loan) Outstanding() decimal.Decimal {
	out := l.Principal.Sub(l.RepaidAmount)
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// IsOpen reports whether the loan still counts against the borrowing ceiling.
func (l Loan) IsOpen() bool {
	return l.Status == LoanActive || l.Status == LoanOverdue
}

// RepaymentHistory counts how past loans were closed.
type RepaymentHistory struct {
	OnTime    int `json:"on_time"`
	Late      int `json:"late"`
	Defaulted int `json:"defaulted"`
}

// BorrowerProfile is the input to interest-rate pricing.
type BorrowerProfile struct {
	ParticipantID     string           `json:"participant_id"`
	ReputationScore   int              `json:"reputation_score"`
	TransactionVolume int              `json:"transaction_volume"`
	RepaymentHistory  RepaymentHistory `json:"repayment_history"`
	CurrentDebt       decimal.Decimal  `json:"current_debt"`
}

// MarketConditions captures ecosystem-wide pricing inputs.
type MarketConditions struct {
	Liquidity     decimal.Decimal `json:"liquidity"`      // total Centi in circulation
	ServiceDemand float64         `json:"service_demand"` // 0–100 demand index
}

// DefaultMarketConditions mirrors the neutral market the pricing table assumes.
func DefaultMarketConditions() MarketConditions {
	return MarketConditions{
		Liquidity:     decimal.NewFromInt(5000),
		ServiceDemand: 50,
	}
}

// LoanTerms is a priced quote; nothing is booked until approval.
type LoanTerms struct {
	Principal            decimal.Decimal `json:"principal"`
	InterestRate         float64         `json:"interest_rate"`
	InterestAmount       decimal.Decimal `json:"interest_amount"`
	TotalRepayment       decimal.Decimal `json:"total_repayment"`
	RepaymentMethod      RepaymentMethod `json:"repayment_method"`
	Purpose              LoanPurpose     `json:"purpose"`
	ServiceHourRate      decimal.Decimal `json:"service_hour_rate,omitempty"`
	ServiceHoursRequired int             `json:"service_hours_required,omitempty"`
	InterestOwedInHours  float64         `json:"interest_owed_in_hours,omitempty"`
	TermDays             int             `json:"term_days"`
	DueDate              time.Time       `json:"due_date"`
}
