// Package policy holds the engine's admin-tunable constants. Readers always
// see a complete, validated Policy; updates swap the whole value atomically so
// that the ledger, lending engine and matcher pick changes up on their next
// call without a restart.
package policy

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/centi-network/centi/internal/domain"
)

// Policy is the set of global constants the admin interface can change.
type Policy struct {
	DailyDecayRate         float64         `json:"daily_decay_rate" toml:"daily_decay_rate"`
	MaxBorrow              decimal.Decimal `json:"max_borrow" toml:"max_borrow"`
	MinBorrow              decimal.Decimal `json:"min_borrow" toml:"min_borrow"`
	GrantAmount            decimal.Decimal `json:"grant_amount" toml:"grant_amount"`
	GrantExpiryDays        int             `json:"grant_expiry_days" toml:"grant_expiry_days"`
	RepaymentPeriodDays    int             `json:"repayment_period_days" toml:"repayment_period_days"`
	DefaultServiceHourRate decimal.Decimal `json:"default_service_hour_rate" toml:"default_service_hour_rate"`
	MatchIntervalSeconds   int             `json:"match_interval_seconds" toml:"match_interval_seconds"`
	MatchThreshold         int             `json:"match_threshold" toml:"match_threshold"`
}

// Default returns the launch policy.
func Default() Policy {
	return Policy{
		DailyDecayRate:         0.001,
		MaxBorrow:              decimal.NewFromInt(500),
		MinBorrow:              decimal.NewFromInt(10),
		GrantAmount:            decimal.NewFromInt(100),
		GrantExpiryDays:        45,
		RepaymentPeriodDays:    30,
		DefaultServiceHourRate: decimal.NewFromInt(8),
		MatchIntervalSeconds:   30,
		MatchThreshold:         50,
	}
}

// MatchInterval returns the matcher tick interval.
func (p Policy) MatchInterval() time.Duration {
	return time.Duration(p.MatchIntervalSeconds) * time.Second
}

// GrantExpiry returns how long the activation grant stays spendable.
func (p Policy) GrantExpiry() time.Duration {
	return time.Duration(p.GrantExpiryDays) * 24 * time.Hour
}

// Validate rejects a policy the engine cannot run with.
func (p Policy) Validate() error {
	switch {
	case p.DailyDecayRate < 0 || p.DailyDecayRate >= 1:
		return fmt.Errorf("daily_decay_rate %v must be in [0, 1): %w", p.DailyDecayRate, domain.ErrInvalidAmount)
	case !p.MaxBorrow.IsPositive():
		return fmt.Errorf("max_borrow must be positive: %w", domain.ErrInvalidAmount)
	case p.MinBorrow.IsNegative() || p.MinBorrow.GreaterThan(p.MaxBorrow):
		return fmt.Errorf("min_borrow must be in [0, max_borrow]: %w", domain.ErrInvalidAmount)
	case p.GrantAmount.IsNegative():
		return fmt.Errorf("grant_amount must not be negative: %w", domain.ErrInvalidAmount)
	case p.GrantExpiryDays <= 0 || p.RepaymentPeriodDays <= 0:
		return fmt.Errorf("grant_expiry_days and repayment_period_days must be positive: %w", domain.ErrInvalidAmount)
	case !p.DefaultServiceHourRate.IsPositive():
		return fmt.Errorf("default_service_hour_rate must be positive: %w", domain.ErrInvalidAmount)
	case p.MatchIntervalSeconds <= 0:
		return fmt.Errorf("match_interval_seconds must be positive: %w", domain.ErrInvalidAmount)
	case p.MatchThreshold < 0 || p.MatchThreshold > 100:
		return fmt.Errorf("match_threshold must be in [0, 100]: %w", domain.ErrInvalidAmount)
	}
	return nil
}

// ─── Key/Value Encoding ─────────────────────────────────────────────────────

// ToMap encodes p as string pairs for the settings table.
func (p Policy) ToMap() map[string]string {
	return map[string]string{
		"daily_decay_rate":          strconv.FormatFloat(p.DailyDecayRate, 'f', -1, 64),
		"max_borrow":                p.MaxBorrow.String(),
		"min_borrow":                p.MinBorrow.String(),
		"grant_amount":              p.GrantAmount.String(),
		"grant_expiry_days":         strconv.Itoa(p.GrantExpiryDays),
		"repayment_period_days":     strconv.Itoa(p.RepaymentPeriodDays),
		"default_service_hour_rate": p.DefaultServiceHourRate.String(),
		"match_interval_seconds":    strconv.Itoa(p.MatchIntervalSeconds),
		"match_threshold":           strconv.Itoa(p.MatchThreshold),
	}
}

// Merge overlays the stored pairs in m onto p. Unknown keys are ignored.
func (p Policy) Merge(m map[string]string) (Policy, error) {
	out := p
	for k, v := range m {
		var err error
		switch k {
		case "daily_decay_rate":
			out.DailyDecayRate, err = strconv.ParseFloat(v, 64)
		case "max_borrow":
			out.MaxBorrow, err = decimal.NewFromString(v)
		case "min_borrow":
			out.MinBorrow, err = decimal.NewFromString(v)
		case "grant_amount":
			out.GrantAmount, err = decimal.NewFromString(v)
		case "grant_expiry_days":
			out.GrantExpiryDays, err = strconv.Atoi(v)
		case "repayment_period_days":
			out.RepaymentPeriodDays, err = strconv.Atoi(v)
		case "default_service_hour_rate":
			out.DefaultServiceHourRate, err = decimal.NewFromString(v)
		case "match_interval_seconds":
			out.MatchIntervalSeconds, err = strconv.Atoi(v)
		case "match_threshold":
			out.MatchThreshold, err = strconv.Atoi(v)
		}
		if err != nil {
			return p, fmt.Errorf("policy %s=%q: %w", k, v, err)
		}
	}
	return out, nil
}

// ─── Store ──────────────────────────────────────────────────────────────────

// Persister saves policy values outside the process.
type Persister interface {
	SavePolicy(ctx context.Context, values map[string]string) error
}

// Store serves the current policy and applies validated updates.
type Store struct {
	current   atomic.Pointer[Policy]
	persister Persister

	mu        sync.Mutex // serializes writers
	listeners []func(Policy)
}

// NewStore creates a store holding initial. persister may be nil.
func NewStore(initial Policy, persister Persister) (*Store, error) {
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	s := &Store{persister: persister}
	s.current.Store(&initial)
	return s, nil
}

// Get returns the current policy.
func (s *Store) Get() Policy {
	return *s.current.Load()
}

// Update applies fn to a copy of the current policy, validates, persists and
// publishes it. On any error the current policy is unchanged.
func (s *Store) Update(ctx context.Context, fn func(*Policy)) (Policy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.Get()
	fn(&next)
	if err := next.Validate(); err != nil {
		return s.Get(), err
	}
	if s.persister != nil {
		if err := s.persister.SavePolicy(ctx, next.ToMap()); err != nil {
			return s.Get(), fmt.Errorf("persist policy: %w", err)
		}
	}
	s.current.Store(&next)
	for _, l := range s.listeners {
		l(next)
	}
	return next, nil
}

// Set replaces the whole policy.
func (s *Store) Set(ctx context.Context, p Policy) (Policy, error) {
	return s.Update(ctx, func(cur *Policy) { *cur = p })
}

// OnChange registers fn to run after every successful update.
func (s *Store) OnChange(fn func(Policy)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}
