// Package ledger owns every participant's Centi balance. All mutations go
// through one per-participant critical section: the journal row is written
// first, then the in-memory balance and history are replaced, so a failed
// append leaves the participant exactly as it was.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/centi-network/centi/internal/app/policy"
	"github.com/centi-network/centi/internal/domain"
	"github.com/centi-network/centi/internal/infra/decay"
	"github.com/centi-network/centi/internal/infra/dsa"
	"github.com/centi-network/centi/internal/infra/logging"
	"github.com/centi-network/centi/internal/infra/memstore"
	"github.com/centi-network/centi/internal/infra/observability"
)

// PolicySource returns the current admin policy.
type PolicySource interface {
	Get() policy.Policy
}

// Options wires a Ledger. Nil fields fall back to in-memory stores, the
// default policy, a no-op logger and no metrics.
type Options struct {
	Balances domain.KeyedStore[domain.Balance]
	History  domain.KeyedStore[[]domain.Transaction]
	Journal  domain.Journal
	Policy   PolicySource
	Logger   *logging.Logger
	Metrics  *observability.Metrics
}

// Ledger is the single writer of balances.
type Ledger struct {
	balances domain.KeyedStore[domain.Balance]
	history  domain.KeyedStore[[]domain.Transaction]
	journal  domain.Journal
	policy   PolicySource
	logger   *logging.Logger
	metrics  *observability.Metrics

	// settled remembers participant/reference pairs already credited by
	// OnSettled; hits are confirmed against the participant's history.
	settled *dsa.BloomFilter

	now func() time.Time
}

type staticPolicy policy.Policy

func (s staticPolicy) Get() policy.Policy { return policy.Policy(s) }

// New creates a Ledger.
func New(opts Options) *Ledger {
	l := &Ledger{
		balances: opts.Balances,
		history:  opts.History,
		journal:  opts.Journal,
		policy:   opts.Policy,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		settled:  dsa.NewBloomFilter(dsa.DefaultBloomConfig()),
		now:      time.Now,
	}
	if l.balances == nil {
		l.balances = memstore.New[domain.Balance]()
	}
	if l.history == nil {
		l.history = memstore.New[[]domain.Transaction]()
	}
	if l.policy == nil {
		l.policy = staticPolicy(policy.Default())
	}
	if l.logger == nil {
		l.logger = logging.Nop()
	}
	return l
}

// SetClock replaces the time source. Tests only.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// ─── Transaction Options ────────────────────────────────────────────────────

// TxOption annotates the transaction a mutation writes.
type TxOption func(*domain.Transaction)

func WithServiceID(id string) TxOption {
	return func(tx *domain.Transaction) { tx.ServiceID = id }
}

func WithCounterparty(id string) TxOption {
	return func(tx *domain.Transaction) { tx.CounterpartyID = id }
}

func WithLoanID(id string) TxOption {
	return func(tx *domain.Transaction) { tx.LoanID = id }
}

func WithExternalRef(ref string) TxOption {
	return func(tx *domain.Transaction) { tx.ExternalRef = ref }
}

// ─── Core Mutation ──────────────────────────────────────────────────────────

// mutate runs fn on a copy of the participant's balance under its key lock.
// fn returns the transaction to book, or nil for movements that do not change
// holdings (reservations). Nothing is stored unless fn and the journal succeed.
func (l *Ledger) mutate(ctx context.Context, participantID string, fn func(b *domain.Balance) (*domain.Transaction, error)) (domain.Balance, error) {
	unlock := l.balances.Lock(participantID)
	defer unlock()

	current, ok := l.balances.Get(participantID)
	if !ok {
		return domain.Balance{}, fmt.Errorf("participant %s: %w", participantID, domain.ErrBalanceNotFound)
	}
	next := current
	tx, err := fn(&next)
	if err != nil {
		return current, err
	}
	if next.Available.IsNegative() {
		return current, fmt.Errorf("participant %s: %w", participantID, domain.ErrInsufficientFunds)
	}

	if tx != nil {
		tx.ID = uuid.NewString()
		tx.ParticipantID = participantID
		if tx.Timestamp.IsZero() {
			tx.Timestamp = l.now()
		}
		if l.journal != nil {
			if err := l.journal.AppendTransaction(ctx, *tx); err != nil {
				l.logger.Error(ctx, "journal append failed", err)
				return current, fmt.Errorf("journal: %w", err)
			}
		}
		hist, _ := l.history.Get(participantID)
		l.history.Put(participantID, append(hist, *tx))
		l.metrics.Transaction(string(tx.Kind))
	}
	l.balances.Put(participantID, next)
	return next, nil
}

func newTx(kind domain.TransactionKind, amount decimal.Decimal, description string, opts []TxOption) *domain.Transaction {
	tx := &domain.Transaction{Kind: kind, Amount: amount, Description: description}
	for _, opt := range opts {
		opt(tx)
	}
	return tx
}

// ─── Activation & Grant ─────────────────────────────────────────────────────

// Activate creates the participant's balance and books the one-time grant.
// Calling it again returns the existing balance unchanged.
func (l *Ledger) Activate(ctx context.Context, participantID string) (domain.Balance, error) {
	unlock := l.balances.Lock(participantID)
	defer unlock()

	if b, ok := l.balances.Get(participantID); ok {
		return b, nil
	}

	p := l.policy.Get()
	now := l.now()
	b := domain.Balance{
		ParticipantID:  participantID,
		Available:      p.GrantAmount,
		GrantRemaining: p.GrantAmount,
		GrantExpiresAt: now.Add(p.GrantExpiry()),
		LastDecayAt:    now,
		CreatedAt:      now,
	}

	var hist []domain.Transaction
	if p.GrantAmount.IsPositive() {
		tx := domain.Transaction{
			ID:            uuid.NewString(),
			ParticipantID: participantID,
			Kind:          domain.TxGrant,
			Amount:        p.GrantAmount,
			Description:   "activation grant",
			Timestamp:     now,
		}
		if l.journal != nil {
			if err := l.journal.AppendTransaction(ctx, tx); err != nil {
				return domain.Balance{}, fmt.Errorf("journal: %w", err)
			}
		}
		hist = append(hist, tx)
		l.metrics.Transaction(string(tx.Kind))
	}
	l.history.Put(participantID, hist)
	l.balances.Put(participantID, b)

	l.logger.Info(l.logger.WithParticipant(ctx, participantID), "balance activated")
	return b, nil
}

// ExpireGrant sweeps whatever is left of the grant once it has expired.
// The sweep is capped at the available balance.
func (l *Ledger) ExpireGrant(ctx context.Context, participantID string, now time.Time) (decimal.Decimal, error) {
	swept := decimal.Zero
	_, err := l.mutate(ctx, participantID, func(b *domain.Balance) (*domain.Transaction, error) {
		if !decay.GrantExpired(*b, now) {
			return nil, nil
		}
		swept = decimal.Min(b.GrantRemaining, b.Available)
		b.GrantRemaining = decimal.Zero
		if !swept.IsPositive() {
			swept = decimal.Zero
			return nil, nil
		}
		b.Available = b.Available.Sub(swept)
		tx := newTx(domain.TxGrant, swept.Neg(), "grant expired", nil)
		tx.Timestamp = now
		return tx, nil
	})
	return swept, err
}

// ─── Credits & Debits ───────────────────────────────────────────────────────

// Credit adds a positive amount of kind earn, bonus or grant.
func (l *Ledger) Credit(ctx context.Context, participantID string, amount decimal.Decimal, kind domain.TransactionKind, description string, opts ...TxOption) (domain.Balance, error) {
	if !amount.IsPositive() {
		return domain.Balance{}, fmt.Errorf("credit %s: %w", amount, domain.ErrInvalidAmount)
	}
	if !kind.IsCredit() {
		return domain.Balance{}, fmt.Errorf("credit kind %q: %w", kind, domain.ErrInvalidKind)
	}
	return l.mutate(ctx, participantID, func(b *domain.Balance) (*domain.Transaction, error) {
		b.Available = b.Available.Add(amount)
		switch kind {
		case domain.TxEarn, domain.TxBonus:
			b.TotalEarned = b.TotalEarned.Add(amount)
		case domain.TxGrant:
			b.GrantRemaining = b.GrantRemaining.Add(amount)
			b.GrantExpiresAt = l.now().Add(l.policy.Get().GrantExpiry())
		}
		return newTx(kind, amount, description, opts), nil
	})
}

// Debit spends amount from the available balance. It fails closed with
// ErrInsufficientFunds and leaves the balance untouched.
func (l *Ledger) Debit(ctx context.Context, participantID string, amount decimal.Decimal, description string, opts ...TxOption) (domain.Balance, error) {
	if !amount.IsPositive() {
		return domain.Balance{}, fmt.Errorf("debit %s: %w", amount, domain.ErrInvalidAmount)
	}
	return l.mutate(ctx, participantID, func(b *domain.Balance) (*domain.Transaction, error) {
		if amount.GreaterThan(b.Available) {
			l.metrics.InsufficientFunds()
			return nil, fmt.Errorf("debit %s from %s (available %s): %w",
				amount, participantID, b.Available, domain.ErrInsufficientFunds)
		}
		b.Available = b.Available.Sub(amount)
		b.TotalSpent = b.TotalSpent.Add(amount)
		consumeGrant(b, amount)
		return newTx(domain.TxSpend, amount.Neg(), description, opts), nil
	})
}

// consumeGrant counts spending against the grant first.
func consumeGrant(b *domain.Balance, amount decimal.Decimal) {
	if b.GrantRemaining.IsPositive() {
		b.GrantRemaining = b.GrantRemaining.Sub(decimal.Min(b.GrantRemaining, amount))
	}
}

// ─── Reservations ───────────────────────────────────────────────────────────

// Reserve moves amount from Available to Locked. No transaction is written
// because holdings do not change.
func (l *Ledger) Reserve(ctx context.Context, participantID string, amount decimal.Decimal) (domain.Balance, error) {
	if !amount.IsPositive() {
		return domain.Balance{}, fmt.Errorf("reserve %s: %w", amount, domain.ErrInvalidAmount)
	}
	return l.mutate(ctx, participantID, func(b *domain.Balance) (*domain.Transaction, error) {
		if amount.GreaterThan(b.Available) {
			l.metrics.InsufficientFunds()
			return nil, fmt.Errorf("reserve %s for %s (available %s): %w",
				amount, participantID, b.Available, domain.ErrInsufficientFunds)
		}
		b.Available = b.Available.Sub(amount)
		b.Locked = b.Locked.Add(amount)
		return nil, nil
	})
}

// Release returns a reservation to Available.
func (l *Ledger) Release(ctx context.Context, participantID string, amount decimal.Decimal) (domain.Balance, error) {
	if !amount.IsPositive() {
		return domain.Balance{}, fmt.Errorf("release %s: %w", amount, domain.ErrInvalidAmount)
	}
	return l.mutate(ctx, participantID, func(b *domain.Balance) (*domain.Transaction, error) {
		if amount.GreaterThan(b.Locked) {
			return nil, fmt.Errorf("release %s exceeds locked %s: %w", amount, b.Locked, domain.ErrInvalidAmount)
		}
		b.Locked = b.Locked.Sub(amount)
		b.Available = b.Available.Add(amount)
		return nil, nil
	})
}

// SettleReserved spends amount out of Locked.
func (l *Ledger) SettleReserved(ctx context.Context, participantID string, amount decimal.Decimal, description string, opts ...TxOption) (domain.Balance, error) {
	if !amount.IsPositive() {
		return domain.Balance{}, fmt.Errorf("settle %s: %w", amount, domain.ErrInvalidAmount)
	}
	return l.mutate(ctx, participantID, func(b *domain.Balance) (*domain.Transaction, error) {
		if amount.GreaterThan(b.Locked) {
			return nil, fmt.Errorf("settle %s exceeds locked %s: %w", amount, b.Locked, domain.ErrInsufficientFunds)
		}
		b.Locked = b.Locked.Sub(amount)
		b.TotalSpent = b.TotalSpent.Add(amount)
		consumeGrant(b, amount)
		return newTx(domain.TxSpend, amount.Neg(), description, opts), nil
	})
}

// ReverseSettlement undoes a SettleReserved whose counterpart movement
// failed: amount goes back into Locked and a positive spend is journaled
// against the original. Grant already consumed is not restored.
func (l *Ledger) ReverseSettlement(ctx context.Context, participantID string, amount decimal.Decimal, description string, opts ...TxOption) (domain.Balance, error) {
	if !amount.IsPositive() {
		return domain.Balance{}, fmt.Errorf("reverse settlement %s: %w", amount, domain.ErrInvalidAmount)
	}
	return l.mutate(ctx, participantID, func(b *domain.Balance) (*domain.Transaction, error) {
		if amount.GreaterThan(b.TotalSpent) {
			return nil, fmt.Errorf("reverse %s exceeds spent %s: %w", amount, b.TotalSpent, domain.ErrInvalidAmount)
		}
		b.Locked = b.Locked.Add(amount)
		b.TotalSpent = b.TotalSpent.Sub(amount)
		return newTx(domain.TxSpend, amount, description, opts), nil
	})
}

// ─── Decay ──────────────────────────────────────────────────────────────────

// ApplyDecay erodes the available balance over elapsedDays at the policy's
// daily rate and advances LastDecayAt by the same number of whole days.
// Locked value does not decay.
func (l *Ledger) ApplyDecay(ctx context.Context, participantID string, elapsedDays int) (decimal.Decimal, error) {
	if elapsedDays < 1 {
		return decimal.Zero, nil
	}
	rate := l.policy.Get().DailyDecayRate
	decayed := decimal.Zero
	_, err := l.mutate(ctx, participantID, func(b *domain.Balance) (*domain.Transaction, error) {
		now := l.now()
		last := b.LastDecayAt
		if last.IsZero() {
			last = now
		}
		advanced := last.Add(time.Duration(elapsedDays) * 24 * time.Hour)
		if advanced.After(now) {
			advanced = now
		}
		b.LastDecayAt = advanced

		decayed = decay.Amount(b.Available, rate, elapsedDays)
		if !decayed.IsPositive() {
			decayed = decimal.Zero
			return nil, nil
		}
		b.Available = b.Available.Sub(decayed)
		return newTx(domain.TxDecay, decayed.Neg(),
			fmt.Sprintf("decay over %d day(s)", elapsedDays), nil), nil
	})
	if err == nil && decayed.IsPositive() {
		f, _ := decayed.Float64()
		l.metrics.Decayed(f)
	}
	return decayed, err
}

// DecayDue applies the decay owed since LastDecayAt as of now.
func (l *Ledger) DecayDue(ctx context.Context, participantID string, now time.Time) (decimal.Decimal, error) {
	b, ok := l.balances.Get(participantID)
	if !ok {
		return decimal.Zero, fmt.Errorf("participant %s: %w", participantID, domain.ErrBalanceNotFound)
	}
	return l.ApplyDecay(ctx, participantID, decay.ElapsedDays(b.LastDecayAt, now))
}

// ─── Loans ──────────────────────────────────────────────────────────────────

// RecordBorrow books the principal of an approved loan.
func (l *Ledger) RecordBorrow(ctx context.Context, participantID string, amount decimal.Decimal, loanID string) (domain.Balance, error) {
	if !amount.IsPositive() {
		return domain.Balance{}, fmt.Errorf("borrow %s: %w", amount, domain.ErrInvalidAmount)
	}
	return l.mutate(ctx, participantID, func(b *domain.Balance) (*domain.Transaction, error) {
		b.Available = b.Available.Add(amount)
		b.Borrowed = b.Borrowed.Add(amount)
		return newTx(domain.TxBorrow, amount, "loan disbursed", []TxOption{WithLoanID(loanID)}), nil
	})
}

// RecordRepayment books a loan repayment. Cash-like methods debit Available;
// service-hours repayments reduce Borrowed only and write a zero-amount row,
// the value being delivered as work instead.
func (l *Ledger) RecordRepayment(ctx context.Context, participantID string, amount decimal.Decimal, loanID string, method domain.RepaymentMethod) (domain.Balance, error) {
	if !amount.IsPositive() {
		return domain.Balance{}, fmt.Errorf("repay %s: %w", amount, domain.ErrInvalidAmount)
	}
	if !method.IsValid() {
		return domain.Balance{}, fmt.Errorf("repay method %q: %w", method, domain.ErrInvalidRepayment)
	}
	return l.mutate(ctx, participantID, func(b *domain.Balance) (*domain.Transaction, error) {
		b.Borrowed = decimal.Max(decimal.Zero, b.Borrowed.Sub(amount))
		if method == domain.RepayServiceHours {
			return newTx(domain.TxRepay, decimal.Zero,
				fmt.Sprintf("repayment of %s in service hours", amount), []TxOption{WithLoanID(loanID)}), nil
		}
		if amount.GreaterThan(b.Available) {
			l.metrics.InsufficientFunds()
			return nil, fmt.Errorf("repay %s (available %s): %w", amount, b.Available, domain.ErrInsufficientFunds)
		}
		b.Available = b.Available.Sub(amount)
		return newTx(domain.TxRepay, amount.Neg(), "loan repayment", []TxOption{WithLoanID(loanID)}), nil
	})
}

// ─── Settlement Callback ────────────────────────────────────────────────────

// OnSettled credits a completed external fiat payment. A reference already
// credited to the participant is ignored, so callback retries are safe.
func (l *Ledger) OnSettled(ctx context.Context, participantID string, amount decimal.Decimal, externalRef string) (domain.Balance, error) {
	if externalRef == "" {
		return l.Credit(ctx, participantID, amount, domain.TxEarn, "fiat settlement")
	}
	if !amount.IsPositive() {
		return domain.Balance{}, fmt.Errorf("settlement %s: %w", amount, domain.ErrInvalidAmount)
	}

	key := settlementKey(participantID, externalRef)
	duplicate := false
	b, err := l.mutate(ctx, participantID, func(b *domain.Balance) (*domain.Transaction, error) {
		if l.settled.MaybeContains(key) && l.hasExternalRef(participantID, externalRef) {
			duplicate = true
			return nil, nil
		}
		b.Available = b.Available.Add(amount)
		b.TotalEarned = b.TotalEarned.Add(amount)
		return newTx(domain.TxEarn, amount, "fiat settlement "+externalRef,
			[]TxOption{WithExternalRef(externalRef)}), nil
	})
	if err == nil && !duplicate {
		l.settled.Add(key)
	}
	if duplicate {
		l.logger.Info(l.logger.WithField(l.logger.WithParticipant(ctx, participantID), "external_ref", externalRef),
			"duplicate settlement ignored")
	}
	return b, err
}

func settlementKey(participantID, externalRef string) string {
	return participantID + "/" + externalRef
}

func (l *Ledger) hasExternalRef(participantID, externalRef string) bool {
	hist, _ := l.history.Get(participantID)
	for _, tx := range hist {
		if tx.ExternalRef == externalRef {
			return true
		}
	}
	return false
}

// ─── Restore ────────────────────────────────────────────────────────────────

// Restore rebuilds a balance by replaying journaled transactions, oldest
// first, without writing anything back. Reservations are not journaled, so
// the restored balance has nothing locked. Borrowed only reflects cash
// repayments; service-hour repayments carry no amount.
func (l *Ledger) Restore(participantID string, txs []domain.Transaction) (domain.Balance, error) {
	unlock := l.balances.Lock(participantID)
	defer unlock()

	if _, ok := l.balances.Get(participantID); ok {
		return domain.Balance{}, fmt.Errorf("restore %s: %w", participantID, domain.ErrBalanceExists)
	}

	b := domain.Balance{ParticipantID: participantID}
	expiry := l.policy.Get().GrantExpiry()
	for _, tx := range txs {
		if b.CreatedAt.IsZero() {
			b.CreatedAt = tx.Timestamp
			b.LastDecayAt = tx.Timestamp
		}
		b.Available = b.Available.Add(tx.Amount)
		switch tx.Kind {
		case domain.TxGrant:
			if tx.Amount.IsPositive() {
				b.GrantRemaining = b.GrantRemaining.Add(tx.Amount)
				b.GrantExpiresAt = tx.Timestamp.Add(expiry)
			} else {
				b.GrantRemaining = decimal.Zero
			}
		case domain.TxEarn, domain.TxBonus:
			b.TotalEarned = b.TotalEarned.Add(tx.Amount)
			if tx.ExternalRef != "" {
				l.settled.Add(settlementKey(participantID, tx.ExternalRef))
			}
		case domain.TxSpend:
			b.TotalSpent = b.TotalSpent.Sub(tx.Amount)
			if tx.Amount.IsNegative() {
				consumeGrant(&b, tx.Amount.Neg())
			}
		case domain.TxBorrow:
			b.Borrowed = b.Borrowed.Add(tx.Amount)
		case domain.TxRepay:
			b.Borrowed = decimal.Max(decimal.Zero, b.Borrowed.Add(tx.Amount))
		case domain.TxDecay:
			b.LastDecayAt = tx.Timestamp
		}
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = l.now()
		b.LastDecayAt = b.CreatedAt
	}

	l.history.Put(participantID, append([]domain.Transaction(nil), txs...))
	l.balances.Put(participantID, b)
	return b, nil
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Balance returns the participant's current balance.
func (l *Ledger) Balance(participantID string) (domain.Balance, error) {
	b, ok := l.balances.Get(participantID)
	if !ok {
		return domain.Balance{}, fmt.Errorf("participant %s: %w", participantID, domain.ErrBalanceNotFound)
	}
	return b, nil
}

// History returns the participant's transactions, newest first.
// limit ≤ 0 returns everything.
func (l *Ledger) History(participantID string, limit int) ([]domain.Transaction, error) {
	if _, ok := l.balances.Get(participantID); !ok {
		return nil, fmt.Errorf("participant %s: %w", participantID, domain.ErrBalanceNotFound)
	}
	hist, _ := l.history.Get(participantID)
	out := make([]domain.Transaction, len(hist))
	for i, tx := range hist {
		out[len(hist)-1-i] = tx
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TransactionCount returns how many transactions the participant has.
func (l *Ledger) TransactionCount(participantID string) int {
	hist, _ := l.history.Get(participantID)
	return len(hist)
}

// Circulation sums Available + Locked over every participant.
func (l *Ledger) Circulation() decimal.Decimal {
	total := decimal.Zero
	for _, b := range l.balances.Snapshot() {
		total = total.Add(b.Holdings())
	}
	return total
}

// Participants returns every participant id with a balance, sorted.
func (l *Ledger) Participants() []string {
	snap := l.balances.Snapshot()
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
