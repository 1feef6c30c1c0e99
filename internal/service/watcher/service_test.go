package watcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/distroget/internal/domain/release"
	"github.com/oshokin/distroget/internal/repository/report"
	"github.com/oshokin/distroget/internal/service/updater"
)

var errTestLoad = errors.New("test load error")

// memoryRepository is a minimal in-memory report.Repository for tests.
type memoryRepository struct {
	report  *release.Report
	loadErr error
}

func (m *memoryRepository) Load(context.Context) (*release.Report, error) {
	return m.report, m.loadErr
}

func (m *memoryRepository) Save(_ context.Context, r *release.Report) error {
	m.report = r

	return nil
}

// countingRun counts runs and returns a fixed result.
type countingRun struct {
	calls atomic.Int32
	err   error
}

func (c *countingRun) run(context.Context, string) (*release.Report, error) {
	c.calls.Add(1)

	if c.err != nil {
		return nil, c.err
	}

	return &release.Report{Status: release.RunOK}, nil
}

// TestNewService_SeedsLastReport asserts newService behavior on existing, missing and broken reports.
func TestNewService_SeedsLastReport(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	monitor := updater.NewMonitor()
	_, err := newService(ctx, &memoryRepository{report: &release.Report{Status: release.RunPartial}},
		monitor, new(countingRun).run, time.Hour)
	require.NoError(t, err)
	require.Equal(t, release.RunPartial, monitor.LastReport().Status)

	monitor = updater.NewMonitor()
	_, err = newService(ctx, &memoryRepository{loadErr: report.ErrNotFound}, monitor, new(countingRun).run, time.Hour)
	require.NoError(t, err)
	require.Nil(t, monitor.LastReport())

	s, err := newService(ctx, &memoryRepository{loadErr: errTestLoad}, updater.NewMonitor(), new(countingRun).run, time.Hour)
	require.ErrorIs(t, err, errTestLoad)
	require.Nil(t, s)
}

// TestTrigger keeps at most one pending request.
func TestTrigger(t *testing.T) {
	t.Parallel()

	s, err := newService(context.Background(), nil, updater.NewMonitor(), new(countingRun).run, time.Hour)
	require.NoError(t, err)

	require.True(t, s.Trigger())
	require.False(t, s.Trigger())

	<-s.trigger
	require.True(t, s.Trigger())
}

// TestLoop runs on start, on trigger and on the ticker, then stops with the context.
func TestLoop(t *testing.T) {
	t.Parallel()

	runs := &countingRun{err: updater.ErrAutoUpdateDisabled}

	s, err := newService(context.Background(), nil, updater.NewMonitor(), runs.run, 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- s.loop(ctx, true)
	}()

	require.Eventually(t, func() bool {
		return runs.calls.Load() >= 3
	}, 5*time.Second, 5*time.Millisecond)

	cancel()

	select {
	case err = <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

// TestLoop_ManualTrigger runs immediately on request.
func TestLoop_ManualTrigger(t *testing.T) {
	t.Parallel()

	runs := new(countingRun)

	s, err := newService(context.Background(), nil, updater.NewMonitor(), runs.run, time.Hour)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = s.loop(ctx, false)
	}()

	require.True(t, s.Trigger())
	require.Eventually(t, func() bool {
		return runs.calls.Load() == 1
	}, 5*time.Second, 5*time.Millisecond)
}
