package cron

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/apexlabs-backend/pkg/logger"
	"github.com/angelmondragon/apexlabs-backend/pkg/metrics"
)

type fakeLock struct {
	held     bool
	err      error
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.held = false
	f.releases++
	return nil
}

type testJob struct {
	name  string
	err   error
	panic bool
	runs  int
}

func (t *testJob) Name() string { return t.name }

func (t *testJob) Run(context.Context) error {
	t.runs++
	if t.panic {
		panic("boom")
	}
	return t.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Level: zerolog.Disabled, Output: io.Discard})
}

func newTestService(t *testing.T, lock Lock, jobs ...Job) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(jobs...),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.NewRegistry()),
	})
	require.NoError(t, err)
	return service
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	ok := &testJob{name: "pending-sync"}
	failing := &testJob{name: "failing", err: errors.New("store unavailable")}
	panicking := &testJob{name: "panicking", panic: true}
	after := &testJob{name: "after"}
	lock := &fakeLock{}

	service := newTestService(t, lock, ok, failing, panicking, after)
	require.NoError(t, service.runCycle(context.Background()))

	for _, job := range []*testJob{ok, failing, panicking, after} {
		assert.Equal(t, 1, job.runs, job.name)
	}
	assert.False(t, lock.held, "cycle lock released")
	assert.Equal(t, 1, lock.releases)
}

func TestServiceSkipsCycleWhenLockHeld(t *testing.T) {
	job := &testJob{name: "pending-sync"}
	lock := &fakeLock{held: true}

	service := newTestService(t, lock, job)
	require.NoError(t, service.runCycle(context.Background()))
	assert.Zero(t, job.runs)
	assert.Zero(t, lock.releases)
}

func TestServiceCycleLockError(t *testing.T) {
	job := &testJob{name: "pending-sync"}
	service := newTestService(t, &fakeLock{err: errors.New("redis down")}, job)
	assert.ErrorContains(t, service.runCycle(context.Background()), "redis down")
	assert.Zero(t, job.runs)
}

type signalJob struct {
	ran chan struct{}
}

func (s *signalJob) Name() string { return "signal" }

func (s *signalJob) Run(context.Context) error {
	select {
	case s.ran <- struct{}{}:
	default:
	}
	return nil
}

func TestServiceRunStopsOnCancel(t *testing.T) {
	job := &signalJob{ran: make(chan struct{}, 1)}
	service, err := NewService(ServiceParams{
		Logger:   testLogger(),
		Registry: NewRegistry(job),
		Lock:     &fakeLock{},
		Interval: time.Hour,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	select {
	case <-job.ran:
	case <-time.After(time.Second):
		t.Fatal("first cycle did not run")
	}
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewServiceValidates(t *testing.T) {
	_, err := NewService(ServiceParams{Lock: &fakeLock{}})
	assert.Error(t, err)
	_, err = NewService(ServiceParams{Logger: testLogger()})
	assert.Error(t, err)
}

type blockingJob struct{}

func (blockingJob) Name() string { return "blocking" }

func (blockingJob) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestServiceBoundsEachJob(t *testing.T) {
	after := &testJob{name: "after"}
	service, err := NewService(ServiceParams{
		Logger:     testLogger(),
		Registry:   NewRegistry(blockingJob{}, after),
		Lock:       &fakeLock{},
		Interval:   time.Minute,
		JobTimeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, service.runCycle(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, after.runs)
}

func TestNewServiceCapsJobTimeoutAtInterval(t *testing.T) {
	service, err := NewService(ServiceParams{
		Logger:     testLogger(),
		Lock:       &fakeLock{},
		Interval:   time.Minute,
		JobTimeout: time.Hour,
	})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, service.jobTimeout)
}
