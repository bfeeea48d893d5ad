// Package directory keeps the persisted participant record and brings a new
// participant to life across the ledger and the reputation tracker.
package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/centi-network/centi/internal/domain"
	"github.com/centi-network/centi/internal/infra/logging"
)

// Activator opens a participant's balance.
type Activator interface {
	Activate(ctx context.Context, participantID string) (domain.Balance, error)
}

// ReputationSource registers and reads reputation records.
type ReputationSource interface {
	GetOrRegister(participantID string) domain.Reputation
}

// Options wires a Directory. Store is required.
type Options struct {
	Store      domain.ParticipantStore
	Ledger     Activator
	Reputation ReputationSource
	Logger     *logging.Logger
}

// Directory manages participant records.
type Directory struct {
	store      domain.ParticipantStore
	ledger     Activator
	reputation ReputationSource
	logger     *logging.Logger
	validate   *validator.Validate
	now        func() time.Time

	// hoursMu serializes read-modify-write of hour totals.
	hoursMu sync.Mutex
}

// New creates a Directory.
func New(opts Options) *Directory {
	d := &Directory{
		store:      opts.Store,
		ledger:     opts.Ledger,
		reputation: opts.Reputation,
		logger:     opts.Logger,
		validate:   validator.New(),
		now:        time.Now,
	}
	if d.logger == nil {
		d.logger = logging.Nop()
	}
	return d
}

// SetClock overrides the time source.
func (d *Directory) SetClock(now func() time.Time) { d.now = now }

// Registration is the input to Register.
type Registration struct {
	Name           string `json:"name" validate:"required,max=200"`
	Email          string `json:"email" validate:"required,email"`
	CredentialHash string `json:"credential_hash" validate:"required"`
}

// ─── Registration ───────────────────────────────────────────────────────────

// Register stores a new participant, then activates its balance (with the
// grant) and its reputation record. Emails are unique, case-insensitively.
func (d *Directory) Register(ctx context.Context, name, email, credentialHash string) (domain.Participant, error) {
	in := Registration{
		Name:           strings.TrimSpace(name),
		Email:          strings.ToLower(strings.TrimSpace(email)),
		CredentialHash: credentialHash,
	}
	if err := d.validate.Struct(in); err != nil {
		return domain.Participant{}, fmt.Errorf("invalid registration: %w", err)
	}

	p := domain.Participant{
		ID:             uuid.NewString(),
		Name:           in.Name,
		Email:          in.Email,
		CredentialHash: in.CredentialHash,
		KYCStatus:      domain.KYCIncomplete,
		CreatedAt:      d.now().UTC(),
	}
	if err := d.store.InsertParticipant(ctx, p); err != nil {
		return domain.Participant{}, err
	}

	ctx = d.logger.WithParticipant(ctx, p.ID)
	if d.reputation != nil {
		rep := d.reputation.GetOrRegister(p.ID)
		p.Reputation = rep.Score
	}
	if d.ledger != nil {
		if _, err := d.ledger.Activate(ctx, p.ID); err != nil {
			d.logger.Error(ctx, "balance activation failed", err)
			return p, fmt.Errorf("activate %s: %w", p.ID, err)
		}
	}
	d.logger.Info(ctx, "participant registered")
	return p, nil
}

// ─── Lookups ────────────────────────────────────────────────────────────────

// Get returns the participant with its reputation fields refreshed.
func (d *Directory) Get(ctx context.Context, id string) (domain.Participant, error) {
	p, err := d.store.GetParticipant(ctx, id)
	if err != nil {
		return domain.Participant{}, err
	}
	return d.withReputation(*p), nil
}

// GetByEmail looks a participant up by email.
func (d *Directory) GetByEmail(ctx context.Context, email string) (domain.Participant, error) {
	p, err := d.store.GetParticipantByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return domain.Participant{}, err
	}
	return d.withReputation(*p), nil
}

// List returns every participant in registration order.
func (d *Directory) List(ctx context.Context) ([]domain.Participant, error) {
	ps, err := d.store.ListParticipants(ctx)
	if err != nil {
		return nil, err
	}
	for i := range ps {
		ps[i] = d.withReputation(ps[i])
	}
	return ps, nil
}

func (d *Directory) withReputation(p domain.Participant) domain.Participant {
	if d.reputation == nil {
		return p
	}
	rep := d.reputation.GetOrRegister(p.ID)
	p.Reputation = rep.Score
	p.Rating = rep.AverageRating
	return p
}

// ─── Updates ────────────────────────────────────────────────────────────────

func (d *Directory) update(ctx context.Context, id string, fn func(*domain.Participant) error) (domain.Participant, error) {
	p, err := d.store.GetParticipant(ctx, id)
	if err != nil {
		return domain.Participant{}, err
	}
	if err := fn(p); err != nil {
		return domain.Participant{}, err
	}
	if err := d.store.UpdateParticipant(ctx, *p); err != nil {
		return domain.Participant{}, err
	}
	return *p, nil
}

// SetVerified flips the verified flag.
func (d *Directory) SetVerified(ctx context.Context, id string, verified bool) (domain.Participant, error) {
	return d.update(ctx, id, func(p *domain.Participant) error {
		p.Verified = verified
		return nil
	})
}

// SetKYCStatus records the outcome of the external KYC process.
func (d *Directory) SetKYCStatus(ctx context.Context, id string, status domain.KYCStatus) (domain.Participant, error) {
	if !status.IsValid() {
		return domain.Participant{}, fmt.Errorf("kyc status %q: %w", status, domain.ErrInvalidTransition)
	}
	p, err := d.update(ctx, id, func(p *domain.Participant) error {
		p.KYCStatus = status
		return nil
	})
	if err == nil {
		d.logger.Info(d.logger.WithField(ctx, "kyc_status", string(status)), "kyc status updated")
	}
	return p, err
}

// AddHours adds verified hours to a participant's delivered and received
// totals. Unknown participants are ignored so that ledger-only accounts do
// not fail hour approval.
func (d *Directory) AddHours(ctx context.Context, participantID string, delivered, received float64) error {
	if delivered < 0 || received < 0 {
		return domain.ErrInvalidAmount
	}
	d.hoursMu.Lock()
	defer d.hoursMu.Unlock()

	_, err := d.update(ctx, participantID, func(p *domain.Participant) error {
		p.TotalHoursDelivered += delivered
		p.TotalHoursReceived += received
		return nil
	})
	if errors.Is(err, domain.ErrParticipantNotFound) {
		d.logger.Debug(d.logger.WithParticipant(ctx, participantID), "hours for unregistered participant skipped")
		return nil
	}
	return err
}
