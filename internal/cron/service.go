package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
	"github.com/angelmondragon/apexlabs-backend/pkg/metrics"
)

const defaultInterval = 5 * time.Minute

// ServiceParams configure the cron service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// JobTimeout bounds each job run; it defaults to Interval so a stuck job
	// cannot overlap the next cycle.
	JobTimeout time.Duration
}

// Service runs every registered job once per interval, on at most one worker
// at a time.
type Service struct {
	logg       *logger.Logger
	registry   *Registry
	lock       Lock
	metrics    *metrics.CronJobMetrics
	interval   time.Duration
	jobTimeout time.Duration
}

// NewService builds a cron service.
func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.Lock == nil:
		return nil, errors.New("lock required")
	}

	s := &Service{
		logg:       params.Logger,
		registry:   params.Registry,
		lock:       params.Lock,
		metrics:    params.Metrics,
		interval:   params.Interval,
		jobTimeout: params.JobTimeout,
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.interval <= 0 {
		s.interval = defaultInterval
	}
	if s.jobTimeout <= 0 || s.jobTimeout > s.interval {
		s.jobTimeout = s.interval
	}
	return s, nil
}

// Run executes a cycle immediately and then on every tick until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.runCycle(ctx); err != nil && ctx.Err() == nil {
			s.logg.Error(ctx, "cron.cycle.failed", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron.stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (s *Service) runCycle(ctx context.Context) error {
	ctx = s.logg.WithField(ctx, "cycle_id", uuid.NewString())

	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.metrics.IncSkipped()
		s.logg.Info(ctx, "cron.cycle.skipped")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "cron.lock.release_failed", relErr)
		}
	}()

	var failed int
	jobs := s.registry.Jobs()
	for _, job := range jobs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !s.runJob(ctx, job) {
			failed++
		}
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"jobs":   len(jobs),
		"failed": failed,
	}), "cron.cycle.completed")
	return nil
}

// runJob reports whether the job succeeded.
func (s *Service) runJob(ctx context.Context, job Job) bool {
	name := job.Name()
	jobCtx, cancel := context.WithTimeout(s.logg.WithField(ctx, "job", name), s.jobTimeout)
	defer cancel()

	start := time.Now()
	err := safeRun(jobCtx, job)
	elapsed := time.Since(start)
	s.metrics.ObserveDuration(name, elapsed)

	logCtx := s.logg.WithField(jobCtx, "duration_ms", elapsed.Milliseconds())
	if err != nil {
		if errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("job %s exceeded %s: %w", name, s.jobTimeout, err)
		}
		s.logg.Error(logCtx, "cron.job.failed", err)
		s.metrics.IncFailure(name)
		return false
	}
	s.logg.Info(logCtx, "cron.job.completed")
	s.metrics.IncSuccess(name)
	return true
}

// safeRun turns a job panic into an error so one job cannot stop the worker.
func safeRun(ctx context.Context, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name(), rec)
		}
	}()
	return job.Run(ctx)
}
