package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ─── Ledger Types ───────────────────────────────────────────────────────────
// These live in domain because they represent core business rules.
// The ledger is single-entry by design: every row is a signed change to one
// participant's spendable value (available + locked).

// TransactionKind represents the business reason for a ledger entry.
type TransactionKind string

const (
	TxEarn   TransactionKind = "earn"
	TxSpend  TransactionKind = "spend"
	TxBorrow TransactionKind = "borrow"
	TxRepay  TransactionKind = "repay"
	TxDecay  TransactionKind = "decay"
	TxGrant  TransactionKind = "grant"
	TxBonus  TransactionKind = "bonus"
)

// IsValid reports whether k is one of the known transaction kinds.
func (k TransactionKind) IsValid() bool {
	switch k {
	case TxEarn, TxSpend, TxBorrow, TxRepay, TxDecay, TxGrant, TxBonus:
		return true
	}
	return false
}

// IsCredit reports whether k may be used with Ledger.Credit.
// Borrow entries are written by the lending path only.
func (k TransactionKind) IsCredit() bool {
	return k == TxEarn || k == TxBonus || k == TxGrant
}

// Transaction is a single immutable row in the Centi ledger.
type Transaction struct {
	ID             string          `json:"id"`
	ParticipantID  string          `json:"participant_id"`
	Kind           TransactionKind `json:"kind"`
	Amount         decimal.Decimal `json:"amount"` // signed
	Description    string          `json:"description"`
	Timestamp      time.Time       `json:"timestamp"`
	ServiceID      string          `json:"service_id,omitempty"`
	CounterpartyID string          `json:"counterparty_id,omitempty"`
	LoanID         string          `json:"loan_id,omitempty"`
	ExternalRef    string          `json:"external_ref,omitempty"`
}

// Balance is one participant's Centi position.
type Balance struct {
	ParticipantID  string          `json:"participant_id"`
	Available      decimal.Decimal `json:"available"`
	Borrowed       decimal.Decimal `json:"borrowed"`
	Locked         decimal.Decimal `json:"locked"`
	TotalEarned    decimal.Decimal `json:"total_earned"`
	TotalSpent     decimal.Decimal `json:"total_spent"`
	LastDecayAt    time.Time       `json:"last_decay_at"`
	GrantRemaining decimal.Decimal `json:"grant_remaining"`
	GrantExpiresAt time.Time       `json:"grant_expires_at"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Holdings returns the value the ledger tracks for the participant:
// what they can spend plus what is reserved for open requests.
func (b Balance) Holdings() decimal.Decimal {
	return b.Available.Add(b.Locked)
}

// SumAmounts adds the signed amounts of txs.
func SumAmounts(txs []Transaction) decimal.Decimal {
	total := decimal.Zero
	for _, tx := range txs {
		total = total.Add(tx.Amount)
	}
	return total
}
