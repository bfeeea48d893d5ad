package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/centi-network/centi/internal/domain"
)

// ─── Participant Operations ─────────────────────────────────────────────────

const participantColumns = `id, name, email, credential_hash, verified, kyc_status,
	reputation, rating, total_hours_delivered, total_hours_received, created_at`

// InsertParticipant stores a new participant. A duplicate email returns
// domain.ErrEmailTaken.
func (db *DB) InsertParticipant(ctx context.Context, p domain.Participant) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO participants (`+participantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.Name, p.Email, p.CredentialHash, boolToInt(p.Verified), string(p.KYCStatus),
		p.Reputation, p.Rating, p.TotalHoursDelivered, p.TotalHoursReceived, formatTime(p.CreatedAt))
	if err != nil {
		if isUniqueViolation(err, "participants.email") {
			return fmt.Errorf("email %s: %w", p.Email, domain.ErrEmailTaken)
		}
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// UpdateParticipant overwrites the mutable fields of an existing participant.
func (db *DB) UpdateParticipant(ctx context.Context, p domain.Participant) error {
	res, err := db.db.ExecContext(ctx, `
		UPDATE participants SET
			name                  = ?,
			email                 = ?,
			credential_hash       = ?,
			verified              = ?,
			kyc_status            = ?,
			reputation            = ?,
			rating                = ?,
			total_hours_delivered = ?,
			total_hours_received  = ?
		WHERE id = ?
	`, p.Name, p.Email, p.CredentialHash, boolToInt(p.Verified), string(p.KYCStatus),
		p.Reputation, p.Rating, p.TotalHoursDelivered, p.TotalHoursReceived, p.ID)
	if err != nil {
		if isUniqueViolation(err, "participants.email") {
			return fmt.Errorf("email %s: %w", p.Email, domain.ErrEmailTaken)
		}
		return fmt.Errorf("update participant: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("participant %s: %w", p.ID, domain.ErrParticipantNotFound)
	}
	return nil
}

// GetParticipant returns the participant with the given id.
func (db *DB) GetParticipant(ctx context.Context, id string) (*domain.Participant, error) {
	row := db.db.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE id = ?`, id)
	return scanParticipant(row)
}

// GetParticipantByEmail looks a participant up by email, case-insensitively.
func (db *DB) GetParticipantByEmail(ctx context.Context, email string) (*domain.Participant, error) {
	row := db.db.QueryRowContext(ctx, `SELECT `+participantColumns+` FROM participants WHERE email = ?`, email)
	return scanParticipant(row)
}

// ListParticipants returns every participant ordered by creation time.
func (db *DB) ListParticipants(ctx context.Context) ([]domain.Participant, error) {
	rows, err := db.db.QueryContext(ctx, `SELECT `+participantColumns+` FROM participants ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []domain.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row rowScanner) (*domain.Participant, error) {
	var (
		p         domain.Participant
		verified  int
		kyc       string
		createdAt string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Email, &p.CredentialHash, &verified, &kyc,
		&p.Reputation, &p.Rating, &p.TotalHoursDelivered, &p.TotalHoursReceived, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan participant: %w", err)
	}
	p.Verified = verified == 1
	p.KYCStatus = domain.KYCStatus(kyc)
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func isUniqueViolation(err error, column string) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, column)
}
