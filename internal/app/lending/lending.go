// Package lending prices, books and tracks loans. The ledger holds the money;
// this package holds the loan records and the borrowing ceiling. Per borrower
// the order is always loan lock first, then the ledger's balance lock.
package lending

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/centi-network/centi/internal/app/policy"
	"github.com/centi-network/centi/internal/domain"
	"github.com/centi-network/centi/internal/infra/logging"
	"github.com/centi-network/centi/internal/infra/memstore"
	"github.com/centi-network/centi/internal/infra/observability"
)

// ─── Collaborators ──────────────────────────────────────────────────────────

// Accounts is the ledger surface lending needs.
type Accounts interface {
	RecordBorrow(ctx context.Context, participantID string, amount decimal.Decimal, loanID string) (domain.Balance, error)
	RecordRepayment(ctx context.Context, participantID string, amount decimal.Decimal, loanID string, method domain.RepaymentMethod) (domain.Balance, error)
	TransactionCount(participantID string) int
	Circulation() decimal.Decimal
}

// ReputationSource looks up a borrower's track record.
type ReputationSource interface {
	Get(participantID string) (domain.Reputation, bool)
}

// HoursRecorder books service hours a borrower owes.
type HoursRecorder interface {
	RecordOwedHours(ctx context.Context, participantID, loanID string, hours float64, due time.Time) (domain.ServiceHour, error)
}

// DemandSource reports the current 0–100 service demand index.
type DemandSource interface {
	DemandIndex() float64
}

// PolicySource returns the current admin policy.
type PolicySource interface {
	Get() policy.Policy
}

// Options wires an Engine. Accounts is required.
type Options struct {
	Accounts   Accounts
	Reputation ReputationSource
	Hours      HoursRecorder
	Demand     DemandSource
	Policy     PolicySource
	Loans      domain.KeyedStore[[]domain.Loan]
	Logger     *logging.Logger
	Metrics    *observability.Metrics
}

// ─── Engine ─────────────────────────────────────────────────────────────────

// Engine is the lending desk.
type Engine struct {
	accounts   Accounts
	reputation ReputationSource
	hours      HoursRecorder
	demand     DemandSource
	policy     PolicySource
	loans      domain.KeyedStore[[]domain.Loan]
	logger     *logging.Logger
	metrics    *observability.Metrics

	idxMu   sync.RWMutex
	owners  map[string]string // loan id → participant id
	histMu  sync.Mutex
	history map[string]domain.RepaymentHistory

	now func() time.Time
}

type staticPolicy policy.Policy

func (s staticPolicy) Get() policy.Policy { return policy.Policy(s) }

// New creates an Engine.
func New(opts Options) *Engine {
	e := &Engine{
		accounts:   opts.Accounts,
		reputation: opts.Reputation,
		hours:      opts.Hours,
		demand:     opts.Demand,
		policy:     opts.Policy,
		loans:      opts.Loans,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		owners:     make(map[string]string),
		history:    make(map[string]domain.RepaymentHistory),
		now:        time.Now,
	}
	if e.loans == nil {
		e.loans = memstore.New[[]domain.Loan]()
	}
	if e.policy == nil {
		e.policy = staticPolicy(policy.Default())
	}
	if e.logger == nil {
		e.logger = logging.Nop()
	}
	return e
}

// SetClock replaces the time source. Tests only.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// ─── Requests ───────────────────────────────────────────────────────────────

// Request describes a loan application.
type Request struct {
	ParticipantID   string                 `json:"participant_id" validate:"required"`
	Amount          decimal.Decimal        `json:"amount"`
	Method          domain.RepaymentMethod `json:"repayment_method" validate:"required,oneof=cash service_hours products mixed"`
	Purpose         domain.LoanPurpose     `json:"purpose" validate:"required,oneof=critical growth optional ecosystem"`
	TermDays        int                    `json:"term_days" validate:"gte=0,lte=365"`
	Collateral      bool                   `json:"collateral"`
	ServiceHourRate decimal.Decimal        `json:"service_hour_rate"`
}

func (e *Engine) validate(req Request) error {
	if req.ParticipantID == "" {
		return fmt.Errorf("participant id required: %w", domain.ErrInvalidAmount)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("loan amount %s: %w", req.Amount, domain.ErrInvalidAmount)
	}
	if !req.Method.IsValid() || !req.Purpose.IsValid() {
		return fmt.Errorf("method %q purpose %q: %w", req.Method, req.Purpose, domain.ErrInvalidRepayment)
	}
	return nil
}

func (e *Engine) termsInput(req Request, p policy.Policy) TermsInput {
	in := TermsInput{
		Principal:       req.Amount,
		Method:          req.Method,
		Purpose:         req.Purpose,
		TermDays:        req.TermDays,
		Collateral:      req.Collateral,
		ServiceHourRate: req.ServiceHourRate,
	}
	if in.TermDays <= 0 {
		in.TermDays = p.RepaymentPeriodDays
	}
	if !in.ServiceHourRate.IsPositive() {
		in.ServiceHourRate = p.DefaultServiceHourRate
	}
	return in
}

// Market returns the current market conditions: ledger circulation as
// liquidity and the marketplace demand index.
func (e *Engine) Market() domain.MarketConditions {
	m := domain.DefaultMarketConditions()
	if e.accounts != nil {
		m.Liquidity = e.accounts.Circulation()
	}
	if e.demand != nil {
		m.ServiceDemand = e.demand.DemandIndex()
	}
	return m
}

// Quote prices req without booking anything.
func (e *Engine) Quote(ctx context.Context, req Request) (domain.LoanTerms, error) {
	if err := e.validate(req); err != nil {
		return domain.LoanTerms{}, err
	}
	p := e.policy.Get()
	return ComputeTerms(e.Profile(ctx, req.ParticipantID), e.Market(), e.termsInput(req, p), e.now()), nil
}

// ─── Approval ───────────────────────────────────────────────────────────────

// Approve books a loan when it clears the minimum and the borrowing ceiling:
// open principal (active and overdue) plus the new amount must not exceed
// the policy maximum. The principal is credited through the ledger.
func (e *Engine) Approve(ctx context.Context, req Request) (domain.Loan, error) {
	if err := e.validate(req); err != nil {
		e.metrics.LoanRejected("invalid")
		return domain.Loan{}, err
	}
	ctx = e.logger.WithParticipant(ctx, req.ParticipantID)
	p := e.policy.Get()

	if req.Amount.LessThan(p.MinBorrow) {
		e.metrics.LoanRejected("below_minimum")
		return domain.Loan{}, fmt.Errorf("loan %s below minimum %s: %w", req.Amount, p.MinBorrow, domain.ErrBelowMinimumLoan)
	}

	profile := e.Profile(ctx, req.ParticipantID)

	unlock := e.loans.Lock(req.ParticipantID)
	defer unlock()

	existing, _ := e.loans.Get(req.ParticipantID)
	open := openPrincipal(existing)
	if open.Add(req.Amount).GreaterThan(p.MaxBorrow) {
		e.metrics.LoanRejected("limit")
		e.logger.Warn(ctx, fmt.Sprintf("loan of %s rejected: %s already outstanding", req.Amount, open))
		return domain.Loan{}, fmt.Errorf("outstanding %s + %s exceeds %s: %w",
			open, req.Amount, p.MaxBorrow, domain.ErrBorrowingLimitExceeded)
	}

	now := e.now()
	terms := ComputeTerms(profile, e.Market(), e.termsInput(req, p), now)
	loan := domain.Loan{
		ID:                  uuid.NewString(),
		ParticipantID:       req.ParticipantID,
		Principal:           req.Amount,
		InterestRate:        terms.InterestRate,
		TotalRepayment:      terms.TotalRepayment,
		RepaymentMethod:     req.Method,
		Purpose:             req.Purpose,
		DueDate:             terms.DueDate,
		Status:              domain.LoanActive,
		RepaidAmount:        decimal.Zero,
		InterestOwedInHours: terms.InterestOwedInHours,
		CreatedAt:           now,
	}

	if _, err := e.accounts.RecordBorrow(ctx, req.ParticipantID, req.Amount, loan.ID); err != nil {
		e.metrics.LoanRejected("ledger")
		return domain.Loan{}, fmt.Errorf("book loan: %w", err)
	}

	e.loans.Put(req.ParticipantID, append(cloneLoans(existing), loan))
	e.idxMu.Lock()
	e.owners[loan.ID] = req.ParticipantID
	e.idxMu.Unlock()

	e.metrics.LoanApproved(loan.InterestRate)
	e.logger.Info(e.logger.WithField(ctx, "loan_id", loan.ID), "loan approved")
	return loan, nil
}

func openPrincipal(loans []domain.Loan) decimal.Decimal {
	total := decimal.Zero
	for _, l := range loans {
		if l.IsOpen() {
			total = total.Add(l.Outstanding())
		}
	}
	return total
}

func cloneLoans(loans []domain.Loan) []domain.Loan {
	return append([]domain.Loan(nil), loans...)
}

// ─── Repayment ──────────────────────────────────────────────────────────────

// Repay applies a payment to a loan. The applied amount is capped at the
// outstanding principal. An empty method uses the loan's own. Service-hours
// payments book owed hours at the default service-hour rate instead of moving
// Centi. A fully paid active loan becomes repaid; a fully paid overdue loan
// keeps its status but is closed.
func (e *Engine) Repay(ctx context.Context, loanID string, amount decimal.Decimal, method domain.RepaymentMethod) (domain.Loan, error) {
	if !amount.IsPositive() {
		return domain.Loan{}, fmt.Errorf("repayment %s: %w", amount, domain.ErrInvalidAmount)
	}
	owner, ok := e.owner(loanID)
	if !ok {
		return domain.Loan{}, fmt.Errorf("loan %s: %w", loanID, domain.ErrLoanNotFound)
	}

	unlock := e.loans.Lock(owner)
	defer unlock()

	loans, _ := e.loans.Get(owner)
	idx := indexOf(loans, loanID)
	if idx < 0 {
		return domain.Loan{}, fmt.Errorf("loan %s: %w", loanID, domain.ErrLoanNotFound)
	}
	loan := loans[idx]
	if method == "" {
		method = loan.RepaymentMethod
	}
	if !method.IsValid() {
		return loan, fmt.Errorf("method %q: %w", method, domain.ErrInvalidRepayment)
	}
	if loan.Status == domain.LoanRepaid || loan.ClosedAt != nil || !loan.Outstanding().IsPositive() {
		return loan, fmt.Errorf("loan %s: %w", loanID, domain.ErrLoanClosed)
	}

	applied := decimal.Min(amount, loan.Outstanding())
	if _, err := e.accounts.RecordRepayment(ctx, owner, applied, loanID, method); err != nil {
		return loan, fmt.Errorf("repay loan %s: %w", loanID, err)
	}

	if method == domain.RepayServiceHours && e.hours != nil {
		rate := e.policy.Get().DefaultServiceHourRate
		hours := applied.Div(rate).Round(2).InexactFloat64()
		due := loan.DueDate
		if _, err := e.hours.RecordOwedHours(ctx, owner, loanID, hours, due); err != nil {
			// The ledger side is already booked; the obligation is logged so
			// it can be re-entered by hand.
			e.logger.Error(e.logger.WithField(ctx, "loan_id", loanID), "record owed hours failed", err)
		}
	}

	now := e.now()
	loan.RepaidAmount = loan.RepaidAmount.Add(applied)
	if loan.RepaidAmount.GreaterThanOrEqual(loan.Principal) {
		closed := now
		loan.ClosedAt = &closed
		onTime := loan.Status == domain.LoanActive && !now.After(loan.DueDate)
		if loan.Status == domain.LoanActive {
			loan.Status = domain.LoanRepaid
			e.metrics.Transition("loan", string(domain.LoanRepaid))
		}
		e.recordHistory(owner, onTime)
	}

	next := cloneLoans(loans)
	next[idx] = loan
	e.loans.Put(owner, next)
	return loan, nil
}

func (e *Engine) owner(loanID string) (string, bool) {
	e.idxMu.RLock()
	defer e.idxMu.RUnlock()
	id, ok := e.owners[loanID]
	return id, ok
}

func indexOf(loans []domain.Loan, id string) int {
	for i, l := range loans {
		if l.ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) recordHistory(participantID string, onTime bool) {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	h := e.history[participantID]
	if onTime {
		h.OnTime++
	} else {
		h.Late++
	}
	e.history[participantID] = h
}

// ─── Overdue Sweep ──────────────────────────────────────────────────────────

// MarkOverdue moves every active loan past its due date to overdue, counts
// it as a default in the borrower's history and returns the loans it changed.
func (e *Engine) MarkOverdue(ctx context.Context, now time.Time) ([]domain.Loan, error) {
	var changed []domain.Loan
	for participantID := range e.loans.Snapshot() {
		unlock := e.loans.Lock(participantID)
		loans, _ := e.loans.Get(participantID)
		next := cloneLoans(loans)
		dirty := false
		for i, l := range next {
			if l.Status == domain.LoanActive && now.After(l.DueDate) {
				next[i].Status = domain.LoanOverdue
				changed = append(changed, next[i])
				dirty = true
			}
		}
		if dirty {
			e.loans.Put(participantID, next)
		}
		unlock()

		if dirty {
			e.histMu.Lock()
			h := e.history[participantID]
			for _, l := range next {
				if l.Status == domain.LoanOverdue && isIn(changed, l.ID) {
					h.Defaulted++
				}
			}
			e.history[participantID] = h
			e.histMu.Unlock()
		}
	}
	for _, l := range changed {
		e.metrics.Transition("loan", string(domain.LoanOverdue))
		e.logger.Warn(e.logger.WithFields(ctx, map[string]any{
			"loan_id": l.ID, "participant_id": l.ParticipantID,
		}), "loan overdue")
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i].ID < changed[j].ID })
	return changed, nil
}

func isIn(loans []domain.Loan, id string) bool {
	return indexOf(loans, id) >= 0
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Get returns a loan by id.
func (e *Engine) Get(loanID string) (domain.Loan, error) {
	owner, ok := e.owner(loanID)
	if !ok {
		return domain.Loan{}, fmt.Errorf("loan %s: %w", loanID, domain.ErrLoanNotFound)
	}
	loans, _ := e.loans.Get(owner)
	if i := indexOf(loans, loanID); i >= 0 {
		return loans[i], nil
	}
	return domain.Loan{}, fmt.Errorf("loan %s: %w", loanID, domain.ErrLoanNotFound)
}

// Payoff quotes closing an active loan at the current time.
type Payoff struct {
	LoanID      string          `json:"loan_id"`
	Outstanding decimal.Decimal `json:"outstanding"`
	DaysEarly   int             `json:"days_early"`
	Discount    decimal.Decimal `json:"discount"`
	Amount      decimal.Decimal `json:"amount"`
}

// Payoff returns the early-settlement quote for a loan. Overdue loans earn no
// discount. The discount never exceeds the outstanding principal.
func (e *Engine) Payoff(loanID string) (Payoff, error) {
	loan, err := e.Get(loanID)
	if err != nil {
		return Payoff{}, err
	}
	if loan.ClosedAt != nil || !loan.Outstanding().IsPositive() {
		return Payoff{}, fmt.Errorf("loan %s: %w", loanID, domain.ErrLoanClosed)
	}

	p := Payoff{LoanID: loan.ID, Outstanding: loan.Outstanding(), Discount: decimal.Zero}
	if loan.Status == domain.LoanActive {
		if left := loan.DueDate.Sub(e.now()); left > 0 {
			p.DaysEarly = int(left.Hours() / 24)
		}
		terms := domain.LoanTerms{TotalRepayment: loan.TotalRepayment}
		p.Discount = decimal.Min(EarlyRepaymentDiscount(terms, p.DaysEarly), p.Outstanding).Round(2)
	}
	p.Amount = p.Outstanding.Sub(p.Discount)
	return p, nil
}

// Loans returns a participant's loans, oldest first.
func (e *Engine) Loans(participantID string) []domain.Loan {
	loans, _ := e.loans.Get(participantID)
	return cloneLoans(loans)
}

// Outstanding returns the participant's open principal.
func (e *Engine) Outstanding(participantID string) decimal.Decimal {
	loans, _ := e.loans.Get(participantID)
	return openPrincipal(loans)
}

// History returns how the participant's closed loans were repaid.
func (e *Engine) History(participantID string) domain.RepaymentHistory {
	e.histMu.Lock()
	defer e.histMu.Unlock()
	return e.history[participantID]
}

// Profile assembles the pricing inputs for a borrower.
func (e *Engine) Profile(_ context.Context, participantID string) domain.BorrowerProfile {
	rep := domain.NewReputation(participantID)
	if e.reputation != nil {
		if r, ok := e.reputation.Get(participantID); ok {
			rep = r
		}
	}
	profile := domain.BorrowerProfile{
		ParticipantID:    participantID,
		ReputationScore:  rep.Score,
		RepaymentHistory: e.History(participantID),
		CurrentDebt:      e.Outstanding(participantID),
	}
	if e.accounts != nil {
		profile.TransactionVolume = e.accounts.TransactionCount(participantID)
	}
	return profile
}
