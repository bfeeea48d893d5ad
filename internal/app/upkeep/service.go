// Package upkeep runs the periodic maintenance jobs: balance decay, loan
// overdue checks and grant expiry. A failing job is logged and counted and
// never stops the others.
package upkeep

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/centi-network/centi/internal/infra/lock"
	"github.com/centi-network/centi/internal/infra/logging"
	"github.com/centi-network/centi/internal/infra/observability"
)

const defaultInterval = time.Hour

// ServiceParams configure the upkeep service.
type ServiceParams struct {
	Logger   *logging.Logger
	Registry *Registry
	Lock     lock.Lock
	Metrics  *observability.Metrics
	Interval time.Duration
}

// Service executes registered jobs on a fixed cadence.
type Service struct {
	logger   *logging.Logger
	registry *Registry
	lock     lock.Lock
	metrics  *observability.Metrics
	interval time.Duration
}

// NewService builds an upkeep service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	registry := params.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	l := params.Lock
	if l == nil {
		l = lock.Noop{}
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logger:   params.Logger,
		registry: registry,
		lock:     l,
		metrics:  params.Metrics,
		interval: interval,
	}, nil
}

// Jobs returns the registered jobs in run order.
func (s *Service) Jobs() []Job {
	return s.registry.Jobs()
}

// Run executes one cycle immediately, then one per interval until ctx is
// cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error(ctx, "upkeep run failed", err)
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "upkeep stopped")
			return nil
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error(ctx, "upkeep run failed", err)
			}
		}
	}
}

// RunOnce runs every job once if this replica holds the lock.
func (s *Service) RunOnce(ctx context.Context) error {
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logger.Info(ctx, "another upkeep instance is running; skipping this cycle")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logger.Error(ctx, "failed to release upkeep lock", relErr)
		}
	}()

	for _, job := range s.registry.Jobs() {
		s.runJob(ctx, job)
	}
	return nil
}

func (s *Service) runJob(ctx context.Context, job Job) {
	jobCtx := s.logger.WithFields(ctx, map[string]any{"job": job.Name(), "event": "upkeep.job"})
	s.logger.Debug(jobCtx, "job start")

	start := time.Now()
	err := s.safeRun(jobCtx, job)
	duration := time.Since(start)
	s.metrics.ObserveJob(job.Name(), duration, err)

	jobCtx = s.logger.WithField(jobCtx, "duration_ms", duration.Milliseconds())
	if err != nil {
		s.logger.Error(jobCtx, "job failed", err)
		return
	}
	s.logger.Info(jobCtx, "job completed")
}

func (s *Service) safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), r)
		}
	}()
	return job.Run(ctx)
}
