package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/dracma/internal/common"
	"github.com/ternarybob/dracma/internal/interfaces"
	"github.com/ternarybob/dracma/internal/models"
)

type countingRunner struct {
	calls    atomic.Int32
	finished atomic.Bool
	err      error
	status   models.RunStatus
	block    bool
	drain    time.Duration // time spent recording after cancellation
}

func (r *countingRunner) Run(ctx context.Context) (*models.RunRecord, error) {
	r.calls.Add(1)
	if r.block {
		<-ctx.Done()
		time.Sleep(r.drain)
		r.finished.Store(true)
		return &models.RunRecord{Status: models.RunStatusFailed}, ctx.Err()
	}
	return &models.RunRecord{Status: r.status}, r.err
}

func newService(runner Runner, schedule string, runOnStart bool) *Service {
	return NewService(runner, common.SchedulerConfig{
		Enabled:    true,
		Schedule:   schedule,
		RunOnStart: runOnStart,
	}, arbor.NewLogger())
}

func TestStart_InvalidSchedule(t *testing.T) {
	for _, schedule := range []string{"", "not a cron", "* * * * *", "*/2 * * * *"} {
		s := newService(&countingRunner{}, schedule, false)
		err := s.Start(context.Background())
		assert.ErrorIs(t, err, interfaces.ErrConfig, schedule)
		assert.False(t, s.IsRunning())
	}
}

func TestStart_RunOnStart(t *testing.T) {
	runner := &countingRunner{status: models.RunStatusSucceeded}
	s := newService(runner, "0 7 * * 1-5", true)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return s.Status().RunCount == 1
	}, 2*time.Second, 10*time.Millisecond)

	status := s.Status()
	assert.True(t, status.Running)
	assert.Equal(t, models.RunStatusSucceeded, status.LastStatus)
	assert.Empty(t, status.LastError)
	assert.False(t, status.NextRun.IsZero())
	assert.Equal(t, 7, status.NextRun.Hour())
	assert.EqualValues(t, 1, runner.calls.Load())
}

func TestStart_Twice(t *testing.T) {
	s := newService(&countingRunner{}, "0 7 * * *", false)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Error(t, s.Start(context.Background()))
}

func TestStop_CancelsInFlightRun(t *testing.T) {
	runner := &countingRunner{block: true}
	s := newService(runner, "0 7 * * *", true)
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
	assert.Equal(t, context.Canceled.Error(), s.Status().LastError)

	// stopping again is a no-op
	assert.NoError(t, s.Stop())
}

func TestStop_WaitsForStartupRun(t *testing.T) {
	runner := &countingRunner{block: true, drain: 200 * time.Millisecond}
	s := newService(runner, "0 7 * * *", true)
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	// storage is closed right after Stop, so the run must already be done
	assert.True(t, runner.finished.Load())
	assert.Equal(t, 1, s.Status().RunCount)
}

func TestExecute_RecordsFailure(t *testing.T) {
	runner := &countingRunner{err: errors.New("login step failed: login_failed"), status: models.RunStatusFailed}
	s := newService(runner, "0 7 * * *", false)

	s.execute(context.Background(), "test")

	status := s.Status()
	assert.Equal(t, 1, status.RunCount)
	assert.Equal(t, models.RunStatusFailed, status.LastStatus)
	assert.Contains(t, status.LastError, "login_failed")
}

func TestExecute_SkipsWhenRunInProgress(t *testing.T) {
	runner := &countingRunner{err: interfaces.ErrRunInProgress}
	s := newService(runner, "0 7 * * *", false)

	s.execute(context.Background(), "test")

	assert.Equal(t, 0, s.Status().RunCount)
}
