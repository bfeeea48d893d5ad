package sqlite

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/centi-network/centi/internal/domain"
)

// ─── Transaction Journal ────────────────────────────────────────────────────
// Rows are only ever inserted. Amounts are stored as decimal strings so no
// precision is lost to REAL.

// AppendTransaction writes tx to the journal.
func (db *DB) AppendTransaction(ctx context.Context, tx domain.Transaction) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO transactions (id, participant_id, kind, amount, description,
			service_id, counterparty_id, loan_id, external_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, tx.ID, tx.ParticipantID, string(tx.Kind), tx.Amount.String(), tx.Description,
		tx.ServiceID, tx.CounterpartyID, tx.LoanID, tx.ExternalRef, formatTime(tx.Timestamp))
	if err != nil {
		return fmt.Errorf("append transaction %s: %w", tx.ID, err)
	}
	return nil
}

// ListTransactions returns a participant's journal, newest first. limit ≤ 0
// returns everything.
func (db *DB) ListTransactions(ctx context.Context, participantID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, participant_id, kind, amount, description,
			service_id, counterparty_id, loan_id, external_ref, created_at
		FROM transactions
		WHERE participant_id = ?
		ORDER BY seq DESC
		LIMIT ?
	`, participantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var (
			tx        domain.Transaction
			kind      string
			amount    string
			createdAt string
		)
		if err := rows.Scan(&tx.ID, &tx.ParticipantID, &kind, &amount, &tx.Description,
			&tx.ServiceID, &tx.CounterpartyID, &tx.LoanID, &tx.ExternalRef, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		tx.Kind = domain.TransactionKind(kind)
		if tx.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("transaction %s amount: %w", tx.ID, err)
		}
		if tx.Timestamp, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// TransactionTotals sums the journal per kind for a participant.
// Summation happens in Go to keep decimal precision.
func (db *DB) TransactionTotals(ctx context.Context, participantID string) (map[domain.TransactionKind]decimal.Decimal, error) {
	txs, err := db.ListTransactions(ctx, participantID, 0)
	if err != nil {
		return nil, err
	}
	totals := make(map[domain.TransactionKind]decimal.Decimal)
	for _, tx := range txs {
		totals[tx.Kind] = totals[tx.Kind].Add(tx.Amount)
	}
	return totals, nil
}

// CountTransactions returns the number of journal rows for a participant.
func (db *DB) CountTransactions(ctx context.Context, participantID string) (int, error) {
	var n int
	err := db.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM transactions WHERE participant_id = ?`, participantID).Scan(&n)
	return n, err
}
