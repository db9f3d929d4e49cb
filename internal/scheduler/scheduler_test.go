package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smart-mailer-go/internal/config"
	"smart-mailer-go/internal/metrics"
	"smart-mailer-go/internal/pipeline"
)

// blockingRunner blocks every run until release is closed
type blockingRunner struct {
	calls   int32
	started chan struct{}
	release chan struct{}
	once    sync.Once
	err     error
}

func newBlockingRunner() *blockingRunner {
	return &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
}

func (r *blockingRunner) Run(context.Context) (pipeline.Summary, error) {
	atomic.AddInt32(&r.calls, 1)
	r.once.Do(func() { close(r.started) })
	<-r.release
	return pipeline.Summary{Attempted: 3, Succeeded: 3}, r.err
}

type instantRunner struct {
	calls int32
	err   error
}

func (r *instantRunner) Run(context.Context) (pipeline.Summary, error) {
	atomic.AddInt32(&r.calls, 1)
	return pipeline.Summary{Attempted: 1, Succeeded: 1}, r.err
}

// panickingRunner panics on its first run and succeeds afterwards
type panickingRunner struct {
	calls int32
}

func (r *panickingRunner) Run(context.Context) (pipeline.Summary, error) {
	if atomic.AddInt32(&r.calls, 1) == 1 {
		panic("nil mailbox")
	}
	return pipeline.Summary{Attempted: 2, Succeeded: 2}, nil
}

type fakeCleaner struct {
	cutoff  time.Time
	deleted int64
}

func (c *fakeCleaner) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	c.cutoff = cutoff
	return c.deleted, nil
}

func schedulerConfig() config.SchedulerConfig {
	return config.SchedulerConfig{IntervalMinutes: 60}
}

func TestSchedulerRestart(t *testing.T) {
	sched := NewScheduler(schedulerConfig(), config.RetentionConfig{}, &instantRunner{}, nil, nil)

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	assert.False(t, sched.GetNextRun().IsZero())
	assert.Error(t, sched.Start())

	require.NoError(t, sched.Stop())
	assert.False(t, sched.IsRunning())
	assert.True(t, sched.GetNextRun().IsZero())

	require.NoError(t, sched.Start())
	assert.True(t, sched.IsRunning())
	require.NoError(t, sched.Shutdown(context.Background()))
}

func TestSchedulerRejectsInvalidInterval(t *testing.T) {
	sched := NewScheduler(config.SchedulerConfig{}, config.RetentionConfig{}, &instantRunner{}, nil, nil)
	assert.Error(t, sched.Start())
}

func TestRunOnceRecordsSummary(t *testing.T) {
	runner := &instantRunner{}
	sched := NewScheduler(schedulerConfig(), config.RetentionConfig{}, runner, nil, nil)

	summary, err := sched.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, StateIdle, sched.State())
	assert.False(t, sched.GetLastRun().IsZero())
	require.NotNil(t, sched.LastSummary())
	assert.Equal(t, 1, sched.LastSummary().Attempted)

	runner.err = errors.New("transport unavailable")
	_, err = sched.RunOnce()
	assert.Error(t, err)
	status := sched.Status()
	assert.Equal(t, "transport unavailable", status.LastError)
	require.NotNil(t, status.LastSummary)
}

func TestTriggersCoalesceWhileRunning(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	runner := newBlockingRunner()
	sched := NewScheduler(schedulerConfig(), config.RetentionConfig{}, runner, nil, m)

	require.NoError(t, sched.Trigger())
	<-runner.started
	assert.Equal(t, StateRunning, sched.State())

	assert.ErrorIs(t, sched.Trigger(), ErrRunInProgress)
	_, err := sched.RunOnce()
	assert.ErrorIs(t, err, ErrRunInProgress)
	sched.tick()

	close(runner.release)
	sched.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.calls))
	assert.Equal(t, StateIdle, sched.State())
	assert.Equal(t, 3.0, testutil.ToFloat64(m.CoalescedRuns))
}

func TestShutdownDrainsInFlightRun(t *testing.T) {
	runner := newBlockingRunner()
	sched := NewScheduler(schedulerConfig(), config.RetentionConfig{}, runner, nil, nil)
	require.NoError(t, sched.Start())

	require.NoError(t, sched.Trigger())
	<-runner.started

	done := make(chan error, 1)
	go func() {
		done <- sched.Shutdown(context.Background())
	}()

	select {
	case <-done:
		t.Fatal("shutdown returned before the in-flight run finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.release)
	require.NoError(t, <-done)
	assert.False(t, sched.IsRunning())
	assert.ErrorIs(t, sched.Trigger(), ErrShuttingDown)
	assert.ErrorIs(t, sched.Start(), ErrShuttingDown)
}

func TestShutdownTimeout(t *testing.T) {
	runner := newBlockingRunner()
	sched := NewScheduler(schedulerConfig(), config.RetentionConfig{}, runner, nil, nil)
	require.NoError(t, sched.Trigger())
	<-runner.started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, sched.Shutdown(ctx), context.DeadlineExceeded)

	close(runner.release)
	sched.Wait()
}

func TestRunOnStart(t *testing.T) {
	runner := newBlockingRunner()
	cfg := schedulerConfig()
	cfg.RunOnStart = true
	sched := NewScheduler(cfg, config.RetentionConfig{}, runner, nil, nil)

	require.NoError(t, sched.Start())
	select {
	case <-runner.started:
	case <-time.After(time.Second):
		t.Fatal("initial run did not start")
	}
	close(runner.release)
	require.NoError(t, sched.Shutdown(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.calls))
}

func TestCleanup(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	cleaner := &fakeCleaner{deleted: 4}
	sched := NewScheduler(schedulerConfig(), config.RetentionConfig{Days: 30}, &instantRunner{}, cleaner, m)

	before := time.Now()
	deleted, err := sched.Cleanup(context.Background(), 30)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)
	assert.WithinDuration(t, before.AddDate(0, 0, -30), cleaner.cutoff, time.Second)
	assert.Equal(t, 4.0, testutil.ToFloat64(m.RecordsDeleted))

	_, err = sched.Cleanup(context.Background(), 0)
	assert.Error(t, err)

	withoutCleaner := NewScheduler(schedulerConfig(), config.RetentionConfig{}, &instantRunner{}, nil, nil)
	_, err = withoutCleaner.Cleanup(context.Background(), 30)
	assert.Error(t, err)
}

func TestStartRejectsInvalidRetentionSchedule(t *testing.T) {
	sched := NewScheduler(schedulerConfig(), config.RetentionConfig{Days: 30, Schedule: "not a schedule"}, &instantRunner{}, &fakeCleaner{}, nil)
	assert.Error(t, sched.Start())
}

func TestPanickingRunReleasesWorker(t *testing.T) {
	runner := &panickingRunner{}
	sched := NewScheduler(schedulerConfig(), config.RetentionConfig{}, runner, nil, nil)

	assert.NotPanics(t, sched.tick)
	assert.Equal(t, StateIdle, sched.State())
	status := sched.Status()
	assert.Contains(t, status.LastError, "panic during processing run")
	assert.Nil(t, status.LastSummary)
	assert.NotNil(t, status.LastRun)

	summary, err := sched.RunOnce()
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Attempted)
	assert.Empty(t, sched.Status().LastError)
	assert.EqualValues(t, 2, atomic.LoadInt32(&runner.calls))
}

func TestTriggeredPanicDoesNotCrash(t *testing.T) {
	runner := &panickingRunner{}
	sched := NewScheduler(schedulerConfig(), config.RetentionConfig{}, runner, nil, nil)

	require.NoError(t, sched.Trigger())
	sched.Wait()
	assert.Equal(t, StateIdle, sched.State())

	require.NoError(t, sched.Trigger())
	sched.Wait()
	assert.Empty(t, sched.Status().LastError)
	require.NotNil(t, sched.LastSummary())
	assert.Equal(t, 2, sched.LastSummary().Succeeded)
	require.NoError(t, sched.Shutdown(context.Background()))
}
