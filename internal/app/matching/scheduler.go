package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/centi-network/centi/internal/app/marketplace"
	"github.com/centi-network/centi/internal/app/policy"
	"github.com/centi-network/centi/internal/domain"
	"github.com/centi-network/centi/internal/infra/lock"
	"github.com/centi-network/centi/internal/infra/logging"
	"github.com/centi-network/centi/internal/infra/observability"
)

// ─── Sources ────────────────────────────────────────────────────────────────

// Market is the read side of the marketplace.
type Market interface {
	Snapshot() marketplace.Snapshot
	Version() uint64
}

// ReputationSource exposes every participant's record.
type ReputationSource interface {
	Snapshot() map[string]domain.Reputation
}

// CategorySource lists the rate table.
type CategorySource interface {
	List() []domain.ServiceCategory
}

// PolicySource returns the current admin policy.
type PolicySource interface {
	Get() policy.Policy
}

// Options wires a Scheduler. Market is required.
type Options struct {
	Market     Market
	Reputation ReputationSource
	Categories CategorySource
	Policy     PolicySource
	Lock       lock.Lock
	Logger     *logging.Logger
	Metrics    *observability.Metrics
}

var errSkipped = errors.New("tick lock held elsewhere")

// maxStaleTicks is how many consecutive stale ticks are dropped before one
// is published regardless, so steady write load cannot starve subscribers.
const maxStaleTicks = 3

// ─── Scheduler ──────────────────────────────────────────────────────────────

// Scheduler recomputes matches on a fixed interval and pushes them to
// subscribers. It only reads: a tick snapshots its sources, computes without
// holding any lock, and publishes.
type Scheduler struct {
	market     Market
	reputation ReputationSource
	categories CategorySource
	policy     PolicySource
	lock       lock.Lock
	logger     *logging.Logger
	metrics    *observability.Metrics

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	latestMu sync.RWMutex
	latest   []domain.Match
	lastTick time.Time

	// staleRun counts consecutive ticks whose snapshot moved.
	staleRun atomic.Int32

	subMu  sync.Mutex
	subs   map[int]*subscriber
	nextID int
}

type subscriber struct {
	participantID string
	ch            chan []domain.Match
	once          sync.Once
}

type staticPolicy policy.Policy

func (s staticPolicy) Get() policy.Policy { return policy.Policy(s) }

// NewScheduler creates a stopped Scheduler.
func NewScheduler(opts Options) *Scheduler {
	s := &Scheduler{
		market:     opts.Market,
		reputation: opts.Reputation,
		categories: opts.Categories,
		policy:     opts.Policy,
		lock:       opts.Lock,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		subs:       make(map[int]*subscriber),
	}
	if s.policy == nil {
		s.policy = staticPolicy(policy.Default())
	}
	if s.lock == nil {
		s.lock = lock.Noop{}
	}
	if s.logger == nil {
		s.logger = logging.Nop()
	}
	return s
}

// Start runs one tick immediately, then one per policy interval, until Stop
// or ctx is cancelled. Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx, s.done)
}

// Stop halts the loop and waits for an in-flight tick. Safe to call any
// number of times.
func (s *Scheduler) Stop() {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.runMu.Unlock()

	cancel()
	<-done
}

// Run is Start followed by blocking until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	s.Stop()
	return nil
}

func (s *Scheduler) interval() time.Duration {
	if d := s.policy.Get().MatchInterval(); d > 0 {
		return d
	}
	return 30 * time.Second
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	s.logger.Info(ctx, "matcher started")

	s.runTick(ctx)
	timer := time.NewTimer(s.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "matcher stopped")
			return
		case <-timer.C:
			s.runTick(ctx)
			timer.Reset(s.interval())
		}
	}
}

// runTick never lets a failure escape the loop.
func (s *Scheduler) runTick(ctx context.Context) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error(ctx, "matcher tick panicked", fmt.Errorf("panic: %v", r))
			s.metrics.Tick("panic", time.Since(start), 0)
		}
	}()

	matches, err := s.Tick(ctx)
	switch {
	case err == nil:
		s.metrics.Tick("ok", time.Since(start), len(matches))
	case errors.Is(err, errSkipped):
		s.logger.Debug(ctx, "another matcher holds the tick lock; skipping")
		s.metrics.Tick("skipped", time.Since(start), 0)
	case errors.Is(err, domain.ErrStaleTick):
		s.logger.Info(ctx, "marketplace changed during tick; results dropped")
		s.metrics.Tick("stale", time.Since(start), 0)
	default:
		s.logger.Error(ctx, "matcher tick failed", err)
		s.metrics.Tick("error", time.Since(start), 0)
	}
}

// Tick performs one full recomputation and publishes the result. Results
// computed from a snapshot that changed underneath are discarded with
// ErrStaleTick, unless maxStaleTicks ticks in a row went stale; that one is
// published as is.
func (s *Scheduler) Tick(ctx context.Context) ([]domain.Match, error) {
	acquired, err := s.lock.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("tick lock: %w", err)
	}
	if !acquired {
		return nil, errSkipped
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logger.Error(ctx, "failed to release tick lock", relErr)
		}
	}()

	snap := s.market.Snapshot()
	in := Inputs{
		Services: snap.Services,
		Requests: snap.Requests,
		Hours:    snap.Hours,
	}
	if s.categories != nil {
		in.Categories = s.categories.List()
	}
	if s.reputation != nil {
		in.Reputation = s.reputation.Snapshot()
	}

	matches := Compute(in, s.policy.Get().MatchThreshold)

	if v := s.market.Version(); v != snap.Version {
		if n := s.staleRun.Add(1); n < maxStaleTicks {
			return nil, fmt.Errorf("snapshot v%d, now v%d: %w", snap.Version, v, domain.ErrStaleTick)
		}
		s.logger.Warn(ctx, fmt.Sprintf("publishing v%d after %d stale ticks", snap.Version, maxStaleTicks))
	}
	s.staleRun.Store(0)
	s.publish(matches)
	return matches, nil
}

// ─── Publication ────────────────────────────────────────────────────────────

func (s *Scheduler) publish(matches []domain.Match) {
	s.latestMu.Lock()
	s.latest = matches
	s.lastTick = time.Now()
	s.latestMu.Unlock()

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, sub := range s.subs {
		offer(sub.ch, domain.FilterMatches(matches, sub.participantID))
	}
}

// offer replaces any unread list with the newest one.
func offer(ch chan []domain.Match, matches []domain.Match) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- matches:
	default:
	}
}

// Subscribe returns a channel that receives the ranked matches involving
// participantID after every tick; an empty id receives everything. Only the
// newest list is kept for a slow reader. The returned func unsubscribes and
// closes the channel.
func (s *Scheduler) Subscribe(participantID string) (<-chan []domain.Match, func()) {
	sub := &subscriber{participantID: participantID, ch: make(chan []domain.Match, 1)}

	s.subMu.Lock()
	s.latestMu.RLock()
	if !s.lastTick.IsZero() {
		sub.ch <- domain.FilterMatches(s.latest, participantID)
	}
	s.latestMu.RUnlock()
	id := s.nextID
	s.nextID++
	s.subs[id] = sub
	n := len(s.subs)
	s.subMu.Unlock()
	s.metrics.Subscribers(n)

	return sub.ch, func() {
		sub.once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			n := len(s.subs)
			close(sub.ch)
			s.subMu.Unlock()
			s.metrics.Subscribers(n)
		})
	}
}

// Latest returns the most recent ranked matches involving participantID, or
// all of them for an empty id.
func (s *Scheduler) Latest(participantID string) []domain.Match {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	return append([]domain.Match(nil), domain.FilterMatches(s.latest, participantID)...)
}

// LastTick reports when matches were last published.
func (s *Scheduler) LastTick() time.Time {
	s.latestMu.RLock()
	defer s.latestMu.RUnlock()
	return s.lastTick
}
