// Package scheduler triggers harvest runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dracma/internal/common"
	"github.com/ternarybob/dracma/internal/interfaces"
	"github.com/ternarybob/dracma/internal/models"
)

// Runner executes one harvest
type Runner interface {
	Run(ctx context.Context) (*models.RunRecord, error)
}

// Status is a snapshot of the scheduler
type Status struct {
	Running    bool
	Schedule   string
	NextRun    time.Time
	LastRun    time.Time
	LastStatus models.RunStatus
	LastError  string
	RunCount   int
}

// Service runs the pipeline on schedule. Overlapping cron ticks are skipped.
type Service struct {
	runner     Runner
	schedule   string
	runOnStart bool
	logger     arbor.ILogger

	cron    *cron.Cron
	entryID cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	startup sync.WaitGroup

	mu         sync.Mutex
	running    bool
	lastRun    time.Time
	lastStatus models.RunStatus
	lastError  string
	runCount   int
}

// NewService creates a scheduler for runner
func NewService(runner Runner, cfg common.SchedulerConfig, logger arbor.ILogger) *Service {
	return &Service{
		runner:     runner,
		schedule:   cfg.Schedule,
		runOnStart: cfg.RunOnStart,
		logger:     logger,
	}
}

// Start validates the schedule and begins triggering runs. Runs inherit ctx.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if err := common.ValidateSchedule(s.schedule); err != nil {
		return fmt.Errorf("%w: scheduler.schedule: %w", interfaces.ErrConfig, err)
	}

	cronLogger := &cronLogger{logger: s.logger}
	s.cron = cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	s.ctx, s.cancel = context.WithCancel(ctx)

	id, err := s.cron.AddFunc(s.schedule, func() { s.execute(s.ctx, "cron") })
	if err != nil {
		s.cancel()
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	s.entryID = id

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.schedule).
		Str("next_run", s.cron.Entry(id).Next.Format(time.RFC3339)).
		Msg("Scheduler started")

	if s.runOnStart {
		runCtx := s.ctx
		s.startup.Add(1)
		common.SafeGo(s.logger, "scheduler-run-on-start", func() {
			defer s.startup.Done()
			s.execute(runCtx, "startup")
		})
	}

	return nil
}

// Stop halts the cron loop, cancels in-flight runs, and waits for them to
// return, the startup run included
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	c := s.cron
	cancel := s.cancel
	s.mu.Unlock()

	stopped := c.Stop()
	cancel()
	<-stopped.Done()
	s.startup.Wait()

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning returns true if the scheduler is active
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns the schedule and the outcome of the last run
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Running:    s.running,
		Schedule:   s.schedule,
		LastRun:    s.lastRun,
		LastStatus: s.lastStatus,
		LastError:  s.lastError,
		RunCount:   s.runCount,
	}
	if s.running && s.cron != nil {
		status.NextRun = s.cron.Entry(s.entryID).Next
	}
	return status
}

func (s *Service) execute(ctx context.Context, trigger string) {
	start := time.Now()
	s.logger.Info().Str("trigger", trigger).Msg("Scheduled run starting")

	record, err := s.runner.Run(ctx)
	if errors.Is(err, interfaces.ErrRunInProgress) {
		s.logger.Warn().Str("trigger", trigger).Msg("Previous run still active, skipping")
		return
	}

	s.mu.Lock()
	s.lastRun = start
	s.runCount++
	s.lastError = ""
	if record != nil {
		s.lastStatus = record.Status
	}
	if err != nil {
		s.lastError = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error().
			Err(err).
			Str("trigger", trigger).
			Str("duration", time.Since(start).String()).
			Msg("Scheduled run failed")
		return
	}
	s.logger.Info().
		Str("trigger", trigger).
		Str("status", string(record.Status)).
		Str("duration", time.Since(start).String()).
		Msg("Scheduled run completed")
}

// cronLogger adapts arbor to cron.Logger
type cronLogger struct {
	logger arbor.ILogger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Str("cron", fmt.Sprint(keysAndValues...)).Msg(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Str("cron", fmt.Sprint(keysAndValues...)).Msg(msg)
}
