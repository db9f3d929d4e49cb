package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"smart-mailer-go/internal/config"
	"smart-mailer-go/internal/metrics"
	"smart-mailer-go/internal/pipeline"
)

var (
	// ErrRunInProgress is returned when a trigger arrives while a run is active
	ErrRunInProgress = errors.New("a processing run is already in progress")
	// ErrShuttingDown is returned for triggers received after Shutdown
	ErrShuttingDown = errors.New("scheduler is shutting down")
)

// State of the processing worker
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Runner executes one processing pass
type Runner interface {
	Run(ctx context.Context) (pipeline.Summary, error)
}

// Cleaner deletes records received before a cutoff
type Cleaner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Status is a snapshot of the scheduler
type Status struct {
	State           State             `json:"state"`
	TimerActive     bool              `json:"timer_active"`
	IntervalMinutes int               `json:"interval_minutes"`
	NextRun         *time.Time        `json:"next_run,omitempty"`
	LastRun         *time.Time        `json:"last_run,omitempty"`
	LastSummary     *pipeline.Summary `json:"last_summary,omitempty"`
	LastError       string            `json:"last_error,omitempty"`
}

// Scheduler runs the pipeline on a fixed interval. At most one run is active
// at a time; timer ticks and manual triggers that arrive during a run are
// dropped.
type Scheduler struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	cleanupID cron.EntryID
	config    config.SchedulerConfig
	retention config.RetentionConfig
	runner    Runner
	cleaner   Cleaner
	metrics   *metrics.Metrics

	wg           sync.WaitGroup
	mu           sync.RWMutex
	isRunning    bool
	started      bool
	inFlight     bool
	shuttingDown bool
	lastRun      time.Time
	lastSummary  *pipeline.Summary
	lastErr      error
}

// NewScheduler creates a new scheduler. cleaner and m may be nil.
func NewScheduler(cfg config.SchedulerConfig, retention config.RetentionConfig, runner Runner, cleaner Cleaner, m *metrics.Metrics) *Scheduler {
	cronLogger := cron.PrintfLogger(logrus.StandardLogger())
	return &Scheduler{
		cron:      cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.Recover(cronLogger))),
		config:    cfg,
		retention: retention,
		runner:    runner,
		cleaner:   cleaner,
		metrics:   m,
	}
}

// Start starts the interval timer
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.shuttingDown {
		return ErrShuttingDown
	}
	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	if s.entryID == 0 {
		if s.config.IntervalMinutes <= 0 {
			return fmt.Errorf("invalid scheduler interval: %d", s.config.IntervalMinutes)
		}
		entryID, err := s.cron.AddFunc(fmt.Sprintf("@every %dm", s.config.IntervalMinutes), s.tick)
		if err != nil {
			return fmt.Errorf("failed to add cron job: %w", err)
		}
		s.entryID = entryID
	}

	if s.cleanupID == 0 && s.cleaner != nil && s.retention.Schedule != "" {
		cleanupID, err := s.cron.AddFunc(s.retention.Schedule, s.cleanupTick)
		if err != nil {
			return fmt.Errorf("failed to add retention job: %w", err)
		}
		s.cleanupID = cleanupID
	}

	s.cron.Start()
	s.isRunning = true
	logrus.Infof("Scheduler started with interval: %d minutes", s.config.IntervalMinutes)

	if !s.started && s.config.RunOnStart {
		if err := s.acquireLocked(); err == nil {
			go s.execute()
		}
	}
	s.started = true
	return nil
}

// Stop pauses the timer. A run in progress is allowed to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}
	s.cron.Stop()
	s.isRunning = false
	logrus.Info("Scheduler stopped")
	return nil
}

// IsRunning returns whether the interval timer is active
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// State returns whether a pipeline run is in flight
func (s *Scheduler) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.inFlight {
		return StateRunning
	}
	return StateIdle
}

// RunOnce runs the pipeline synchronously
func (s *Scheduler) RunOnce() (pipeline.Summary, error) {
	if err := s.acquire(); err != nil {
		return pipeline.Summary{}, err
	}
	return s.execute()
}

// Trigger starts a run in the background
func (s *Scheduler) Trigger() error {
	if err := s.acquire(); err != nil {
		return err
	}
	go s.execute()
	return nil
}

// Shutdown stops the timer, rejects new triggers and waits for the run in
// progress to finish or ctx to expire.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.shuttingDown = true
	if s.isRunning {
		s.cron.Stop()
		s.isRunning = false
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logrus.Info("Scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
		return ctx.Err()
	}
}

// Wait blocks until the run in progress finishes
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// GetNextRun returns the time of the next scheduled run
func (s *Scheduler) GetNextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isRunning {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// GetLastRun returns when the last run finished
func (s *Scheduler) GetLastRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastRun
}

// LastSummary returns the summary of the last successful run
func (s *Scheduler) LastSummary() *pipeline.Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastSummary == nil {
		return nil
	}
	summary := *s.lastSummary
	return &summary
}

// Status returns a snapshot of the scheduler
func (s *Scheduler) Status() Status {
	status := Status{
		State:           s.State(),
		TimerActive:     s.IsRunning(),
		IntervalMinutes: s.config.IntervalMinutes,
		LastSummary:     s.LastSummary(),
	}
	if next := s.GetNextRun(); !next.IsZero() {
		status.NextRun = &next
	}
	if last := s.GetLastRun(); !last.IsZero() {
		status.LastRun = &last
	}
	s.mu.RLock()
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	s.mu.RUnlock()
	return status
}

// Cleanup deletes records received more than days ago
func (s *Scheduler) Cleanup(ctx context.Context, days int) (int64, error) {
	if s.cleaner == nil {
		return 0, fmt.Errorf("retention cleanup is not configured")
	}
	if days <= 0 {
		return 0, fmt.Errorf("invalid retention period: %d days", days)
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	deleted, err := s.cleaner.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.metrics.ObserveDeleted(deleted)
	logrus.Infof("Deleted %d emails older than %d days", deleted, days)
	return deleted, nil
}

func (s *Scheduler) tick() {
	if err := s.acquire(); err != nil {
		logrus.Debugf("Skipping scheduled run: %v", err)
		return
	}
	s.execute()
}

func (s *Scheduler) cleanupTick() {
	if _, err := s.Cleanup(context.Background(), s.retention.Days); err != nil {
		logrus.Errorf("Failed to run retention cleanup: %v", err)
	}
}

func (s *Scheduler) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.acquireLocked()
}

func (s *Scheduler) acquireLocked() error {
	if s.shuttingDown {
		return ErrShuttingDown
	}
	if s.inFlight {
		s.metrics.ObserveCoalesced()
		return ErrRunInProgress
	}
	s.inFlight = true
	s.wg.Add(1)
	return nil
}

// execute must only be called after a successful acquire. A panicking run is
// recorded as a failed run and releases the worker.
func (s *Scheduler) execute() (summary pipeline.Summary, err error) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			summary = pipeline.Summary{}
			err = fmt.Errorf("panic during processing run: %v", r)
		}

		s.mu.Lock()
		s.inFlight = false
		s.lastRun = time.Now()
		s.lastErr = err
		if err == nil {
			s.lastSummary = &summary
		}
		s.mu.Unlock()

		if err != nil {
			logrus.Errorf("Email processing cycle failed: %v", err)
		}
	}()

	logrus.Info("Starting email processing cycle")
	// runs are not cancelled mid-batch; shutdown waits for them instead
	return s.runner.Run(context.Background())
}
