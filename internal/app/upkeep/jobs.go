package upkeep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"

	"github.com/centi-network/centi/internal/domain"
	"github.com/centi-network/centi/internal/infra/logging"
)

// ─── Collaborators ──────────────────────────────────────────────────────────

// Balances is the ledger surface the balance sweeps need.
type Balances interface {
	Participants() []string
	DecayDue(ctx context.Context, participantID string, now time.Time) (decimal.Decimal, error)
	ExpireGrant(ctx context.Context, participantID string, now time.Time) (decimal.Decimal, error)
}

// Loans flags loans past their due date.
type Loans interface {
	MarkOverdue(ctx context.Context, now time.Time) ([]domain.Loan, error)
}

// ─── decay_sweep ────────────────────────────────────────────────────────────

// DecayJob applies owed decay to every balance.
type DecayJob struct {
	balances Balances
	logger   *logging.Logger
	now      func() time.Time
}

// NewDecayJob builds the decay sweep.
func NewDecayJob(balances Balances, logger *logging.Logger) (*DecayJob, error) {
	if balances == nil {
		return nil, errors.New("balances required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &DecayJob{balances: balances, logger: logger, now: time.Now}, nil
}

func (j *DecayJob) Name() string { return "decay_sweep" }

// Run decays every participant. One failure does not stop the sweep; all
// failures are returned together.
func (j *DecayJob) Run(ctx context.Context) error {
	now := j.now()
	total := decimal.Zero
	var errs error
	for _, id := range j.balances.Participants() {
		decayed, err := j.balances.DecayDue(ctx, id, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("decay %s: %w", id, err))
			continue
		}
		total = total.Add(decayed)
	}
	if total.IsPositive() {
		j.logger.Info(j.logger.WithField(ctx, "decayed", total.String()), "decay applied")
	}
	return errs
}

// ─── grant_expiry ───────────────────────────────────────────────────────────

// GrantExpiryJob sweeps unspent grants once they expire.
type GrantExpiryJob struct {
	balances Balances
	logger   *logging.Logger
	now      func() time.Time
}

// NewGrantExpiryJob builds the grant sweep.
func NewGrantExpiryJob(balances Balances, logger *logging.Logger) (*GrantExpiryJob, error) {
	if balances == nil {
		return nil, errors.New("balances required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &GrantExpiryJob{balances: balances, logger: logger, now: time.Now}, nil
}

func (j *GrantExpiryJob) Name() string { return "grant_expiry" }

func (j *GrantExpiryJob) Run(ctx context.Context) error {
	now := j.now()
	var errs error
	for _, id := range j.balances.Participants() {
		swept, err := j.balances.ExpireGrant(ctx, id, now)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire grant %s: %w", id, err))
			continue
		}
		if swept.IsPositive() {
			j.logger.Info(j.logger.WithFields(ctx, map[string]any{
				"participant_id": id, "swept": swept.String(),
			}), "grant expired")
		}
	}
	return errs
}

// ─── loan_overdue ───────────────────────────────────────────────────────────

// OverdueJob moves loans past their due date to overdue.
type OverdueJob struct {
	loans  Loans
	logger *logging.Logger
	now    func() time.Time
}

// NewOverdueJob builds the overdue check.
func NewOverdueJob(loans Loans, logger *logging.Logger) (*OverdueJob, error) {
	if loans == nil {
		return nil, errors.New("loans required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	return &OverdueJob{loans: loans, logger: logger, now: time.Now}, nil
}

func (j *OverdueJob) Name() string { return "loan_overdue" }

func (j *OverdueJob) Run(ctx context.Context) error {
	changed, err := j.loans.MarkOverdue(ctx, j.now())
	if err != nil {
		return fmt.Errorf("mark overdue: %w", err)
	}
	if len(changed) > 0 {
		j.logger.Info(j.logger.WithField(ctx, "loans", len(changed)), "loans marked overdue")
	}
	return nil
}
