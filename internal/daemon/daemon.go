// Package daemon assembles the engine from configuration and runs its
// long-lived parts: the HTTP API, the matching scheduler and the upkeep jobs.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/centi-network/centi/internal/api"
	"github.com/centi-network/centi/internal/app/directory"
	"github.com/centi-network/centi/internal/app/ledger"
	"github.com/centi-network/centi/internal/app/lending"
	"github.com/centi-network/centi/internal/app/marketplace"
	"github.com/centi-network/centi/internal/app/matching"
	"github.com/centi-network/centi/internal/app/policy"
	"github.com/centi-network/centi/internal/app/upkeep"
	"github.com/centi-network/centi/internal/infra/catalog"
	"github.com/centi-network/centi/internal/infra/lock"
	"github.com/centi-network/centi/internal/infra/logging"
	"github.com/centi-network/centi/internal/infra/observability"
	"github.com/centi-network/centi/internal/infra/reputation"
	"github.com/centi-network/centi/internal/infra/sqlite"
)

// Daemon owns every component of a running engine.
type Daemon struct {
	cfg    Config
	logger *logging.Logger

	db    *sqlite.DB
	redis *lock.Client

	Registry    *prometheus.Registry
	Metrics     *observability.Metrics
	Policy      *policy.Store
	Categories  *catalog.RateTable
	Reputation  *reputation.Tracker
	Ledger      *ledger.Ledger
	Directory   *directory.Directory
	Marketplace *marketplace.Marketplace
	Lending     *lending.Engine
	Matcher     *matching.Scheduler
	Upkeep      *upkeep.Service
	API         *api.Server
}

// New opens storage and wires every component. Close releases what New
// opened; Run does not.
func New(ctx context.Context, cfg Config, logger *logging.Logger) (*Daemon, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	d := &Daemon{cfg: cfg, logger: logger}

	db, err := sqlite.Open(cfg.DataDir())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	d.db = db

	if err := d.wire(ctx); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) wire(ctx context.Context) error {
	cfg := d.cfg

	d.Registry = prometheus.NewRegistry()
	d.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.Metrics = observability.NewMetrics(d.Registry)

	// Stored admin values win over the config seeds.
	stored, err := d.db.LoadPolicy(ctx)
	if err != nil {
		return err
	}
	initial, err := cfg.Policy.Merge(stored)
	if err != nil {
		return err
	}
	if d.Policy, err = policy.NewStore(initial, d.db); err != nil {
		return fmt.Errorf("policy: %w", err)
	}
	d.Policy.OnChange(func(p policy.Policy) {
		d.logger.Info(d.logger.WithFields(context.Background(), map[string]any{
			"match_interval_seconds": p.MatchIntervalSeconds,
			"daily_decay_rate":       p.DailyDecayRate,
			"max_borrow":             p.MaxBorrow.String(),
		}), "policy changed")
	})

	if d.Categories, err = catalog.NewRateTable(cfg.Categories); err != nil {
		return fmt.Errorf("categories: %w", err)
	}
	saved, err := d.db.ListCategories(ctx)
	if err != nil {
		return err
	}
	for _, c := range saved {
		if err := d.Categories.Upsert(c); err != nil {
			return fmt.Errorf("stored category %s: %w", c.ID, err)
		}
	}

	d.Reputation = reputation.NewTracker(nil)
	d.Ledger = ledger.New(ledger.Options{
		Journal: d.db,
		Policy:  d.Policy,
		Logger:  d.logger,
		Metrics: d.Metrics,
	})
	d.Directory = directory.New(directory.Options{
		Store:      d.db,
		Ledger:     d.Ledger,
		Reputation: d.Reputation,
		Logger:     d.logger,
	})
	d.Marketplace = marketplace.New(marketplace.Options{
		Accounts:   d.Ledger,
		Categories: d.Categories,
		Reputation: d.Reputation,
		HourTotals: d.Directory,
		Logger:     d.logger,
		Metrics:    d.Metrics,
	})
	d.Lending = lending.New(lending.Options{
		Accounts:   d.Ledger,
		Reputation: d.Reputation,
		Hours:      d.Marketplace,
		Demand:     d.Marketplace,
		Policy:     d.Policy,
		Logger:     d.logger,
		Metrics:    d.Metrics,
	})

	if err := d.restore(ctx); err != nil {
		return err
	}

	matcherLock, upkeepLock, err := d.locks(ctx)
	if err != nil {
		return err
	}

	d.Matcher = matching.NewScheduler(matching.Options{
		Market:     d.Marketplace,
		Reputation: d.Reputation,
		Categories: d.Categories,
		Policy:     d.Policy,
		Lock:       matcherLock,
		Logger:     d.logger,
		Metrics:    d.Metrics,
	})

	registry := upkeep.NewRegistry()
	decayJob, err := upkeep.NewDecayJob(d.Ledger, d.logger)
	if err != nil {
		return err
	}
	grantJob, err := upkeep.NewGrantExpiryJob(d.Ledger, d.logger)
	if err != nil {
		return err
	}
	overdueJob, err := upkeep.NewOverdueJob(d.Lending, d.logger)
	if err != nil {
		return err
	}
	registry.Register(decayJob)
	registry.Register(grantJob)
	registry.Register(overdueJob)

	if d.Upkeep, err = upkeep.NewService(upkeep.ServiceParams{
		Logger:   d.logger,
		Registry: registry,
		Lock:     upkeepLock,
		Metrics:  d.Metrics,
		Interval: cfg.UpkeepInterval(),
	}); err != nil {
		return fmt.Errorf("upkeep: %w", err)
	}

	d.API = api.NewServer(api.Deps{
		Directory:     d.Directory,
		Ledger:        d.Ledger,
		Lending:       d.Lending,
		Marketplace:   d.Marketplace,
		Matcher:       d.Matcher,
		Reputation:    d.Reputation,
		Categories:    d.Categories,
		Policy:        d.Policy,
		CategoryStore: d.db,
		Logger:        d.logger,
		Metrics:       d.Metrics,
		Tracer:        observability.NewTracer(cfg.API.TraceBuffer),
		Gatherer:      d.Registry,
		RateLimit:     cfg.API.RateLimit,
		RatePeriod:    cfg.RatePeriod(),
	})
	return nil
}

// restore rebuilds the balance and reputation record of every stored
// participant from the journal.
func (d *Daemon) restore(ctx context.Context) error {
	participants, err := d.Directory.List(ctx)
	if err != nil {
		return fmt.Errorf("restore participants: %w", err)
	}
	for _, p := range participants {
		d.Reputation.GetOrRegister(p.ID)
		txs, err := d.db.ListTransactions(ctx, p.ID, 0)
		if err != nil {
			return fmt.Errorf("restore %s: %w", p.ID, err)
		}
		slices.Reverse(txs)
		if _, err := d.Ledger.Restore(p.ID, txs); err != nil {
			return fmt.Errorf("restore %s: %w", p.ID, err)
		}
	}
	if len(participants) > 0 {
		d.logger.Info(d.logger.WithField(ctx, "participants", len(participants)), "participants restored")
	}
	return nil
}

// locks returns the tick and upkeep locks: Redis-backed when an address is
// configured, no-op otherwise.
func (d *Daemon) locks(ctx context.Context) (lock.Lock, lock.Lock, error) {
	if d.cfg.Redis.Addr == "" {
		return lock.Noop{}, lock.Noop{}, nil
	}
	client, err := lock.Dial(ctx, d.cfg.Redis.Addr, d.cfg.Redis.Password, d.cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	d.redis = client

	ttl := d.cfg.LockTTL()
	matcherLock, err := lock.NewRedisLock(client, d.cfg.Matcher.LockKey, ttl)
	if err != nil {
		return nil, nil, fmt.Errorf("matcher lock: %w", err)
	}
	upkeepLock, err := lock.NewRedisLock(client, d.cfg.Upkeep.LockKey, ttl)
	if err != nil {
		return nil, nil, fmt.Errorf("upkeep lock: %w", err)
	}
	d.logger.Info(d.logger.WithField(ctx, "redis", d.cfg.Redis.Addr), "distributed locks enabled")
	return matcherLock, upkeepLock, nil
}

// Handler returns the API handler.
func (d *Daemon) Handler() http.Handler {
	return d.API.Handler()
}

// Run listens on the configured address and serves until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", d.cfg.Addr(), err)
	}
	return d.Serve(ctx, ln)
}

// Serve runs the API on ln together with the matcher and upkeep loops. It
// returns after all of them have stopped; the first failure cancels the rest.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           d.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.logger.Info(d.logger.WithField(ctx, "addr", ln.Addr().String()), "api listening")
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api shutdown: %w", err)
		}
		d.logger.Info(context.Background(), "api stopped")
		return nil
	})

	if d.cfg.Matcher.Enabled {
		g.Go(func() error { return d.Matcher.Run(ctx) })
	}
	if d.cfg.Upkeep.Enabled {
		g.Go(func() error { return d.Upkeep.Run(ctx) })
	}

	return g.Wait()
}

// Close releases storage and the Redis connection.
func (d *Daemon) Close() error {
	var err error
	if d.redis != nil {
		err = multierr.Append(err, d.redis.Close())
	}
	if d.db != nil {
		err = multierr.Append(err, d.db.Close())
	}
	return err
}
