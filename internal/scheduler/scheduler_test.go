package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/rollover-caller/internal/config"
	"github.com/smartdevs17/rollover-caller/internal/metrics"
	"github.com/smartdevs17/rollover-caller/internal/models"
)

const waitTimeout = 5 * time.Second

type harness struct {
	scheduler *Scheduler
	clock     *clock.Mock
	armed     chan time.Time
	calls     chan models.Trigger
	metrics   *metrics.PrometheusMetrics
	cancel    context.CancelFunc
	done      chan error
}

func startScheduler(t *testing.T, expr, overlap string, job Job) *harness {
	t.Helper()

	h := &harness{
		clock:   clock.NewMock(),
		armed:   make(chan time.Time, 16),
		calls:   make(chan models.Trigger, 16),
		metrics: metrics.NewPrometheusMetrics(prometheus.NewRegistry()),
		done:    make(chan error, 1),
	}

	wrapped := func(ctx context.Context, trigger models.Trigger) {
		h.calls <- trigger
		if job != nil {
			job(ctx, trigger)
		}
	}

	s, err := New(Config{Cron: expr, Overlap: overlap}, wrapped, h.metrics)
	require.NoError(t, err)
	s.SetClock(h.clock)
	s.onArm = func(next time.Time) { h.armed <- next }
	h.scheduler = s

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- s.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(waitTimeout):
			t.Error("scheduler did not stop")
		}
	})
	return h
}

func (h *harness) waitArmed(t *testing.T) time.Time {
	t.Helper()
	select {
	case next := <-h.armed:
		return next
	case <-time.After(waitTimeout):
		t.Fatal("timer was not armed")
		return time.Time{}
	}
}

func (h *harness) waitCall(t *testing.T) models.Trigger {
	t.Helper()
	select {
	case trigger := <-h.calls:
		return trigger
	case <-time.After(waitTimeout):
		t.Fatal("job was not invoked")
		return ""
	}
}

func (h *harness) assertNoCall(t *testing.T) {
	t.Helper()
	select {
	case trigger := <-h.calls:
		t.Fatalf("unexpected invocation with trigger %s", trigger)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	noop := func(context.Context, models.Trigger) {}

	_, err := New(Config{Cron: "not a cron"}, noop, nil)
	assert.Error(t, err)

	_, err = New(Config{Cron: "5 * * * * *", Overlap: "queue"}, noop, nil)
	assert.Error(t, err)

	_, err = New(Config{Cron: "5 * * * * *"}, nil, nil)
	assert.Error(t, err)

	s, err := New(Config{Cron: "5 * * * * *"}, noop, nil)
	require.NoError(t, err)
	assert.Equal(t, config.OverlapAllow, s.Status().Overlap)
	assert.Equal(t, "UTC", s.Status().Timezone)
}

func TestRunInvokesImmediatelyThenOnSchedule(t *testing.T) {
	h := startScheduler(t, "5 * * * * *", config.OverlapAllow, nil)

	assert.Equal(t, models.TriggerStartup, h.waitCall(t))

	next := h.waitArmed(t)
	assert.Equal(t, time.Unix(5, 0).UTC(), next.UTC())
	h.assertNoCall(t)

	h.clock.Add(5 * time.Second)
	assert.Equal(t, models.TriggerSchedule, h.waitCall(t))
	next = h.waitArmed(t)
	assert.Equal(t, time.Unix(65, 0).UTC(), next.UTC())

	// one period later, exactly one more invocation
	h.clock.Add(time.Minute)
	assert.Equal(t, models.TriggerSchedule, h.waitCall(t))
	h.waitArmed(t)
	h.assertNoCall(t)

	assert.Equal(t, uint64(2), h.scheduler.Status().Fired)
}

func TestDailyCadence(t *testing.T) {
	h := startScheduler(t, "5 0 0 * * *", config.OverlapAllow, nil)
	h.waitCall(t)

	next := h.waitArmed(t)
	assert.Equal(t, time.Unix(5, 0).UTC(), next.UTC())
	h.clock.Add(5 * time.Second)
	h.waitCall(t)

	next = h.waitArmed(t)
	assert.Equal(t, time.Unix(5, 0).Add(24*time.Hour).UTC(), next.UTC())

	h.clock.Add(time.Hour)
	h.assertNoCall(t)
}

func TestOverlapAllowRunsConcurrently(t *testing.T) {
	release := make(chan struct{})
	var running, peak atomic.Int32

	job := func(ctx context.Context, trigger models.Trigger) {
		if trigger == models.TriggerStartup {
			return
		}
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		running.Add(-1)
	}

	h := startScheduler(t, "@every 1m", config.OverlapAllow, job)
	h.waitCall(t)
	h.waitArmed(t)

	h.clock.Add(time.Minute)
	h.waitCall(t)
	h.waitArmed(t)

	h.clock.Add(time.Minute)
	h.waitCall(t)
	h.waitArmed(t)

	assert.Eventually(t, func() bool { return peak.Load() == 2 }, waitTimeout, 10*time.Millisecond)
	assert.Equal(t, 2, h.scheduler.Status().InFlight)
	assert.Zero(t, h.scheduler.Status().Skipped)

	close(release)
	assert.Eventually(t, func() bool { return h.scheduler.Status().InFlight == 0 }, waitTimeout, 10*time.Millisecond)
}

func TestOverlapSkipDropsFirings(t *testing.T) {
	release := make(chan struct{})
	job := func(ctx context.Context, trigger models.Trigger) {
		if trigger == models.TriggerStartup {
			return
		}
		<-release
	}

	h := startScheduler(t, "@every 1m", config.OverlapSkip, job)
	h.waitCall(t)
	h.waitArmed(t)

	h.clock.Add(time.Minute)
	h.waitCall(t)
	h.waitArmed(t)

	h.clock.Add(time.Minute)
	h.waitArmed(t)
	h.assertNoCall(t)

	assert.Equal(t, uint64(1), h.scheduler.Status().Skipped)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.SkippedFiringsTotal))
	assert.ErrorIs(t, h.scheduler.Trigger(models.TriggerManual), ErrInvocationInProgress)

	close(release)
	assert.Eventually(t, func() bool { return h.scheduler.Status().InFlight == 0 }, waitTimeout, 10*time.Millisecond)

	require.NoError(t, h.scheduler.Trigger(models.TriggerManual))
	assert.Equal(t, models.TriggerManual, h.waitCall(t))
}

func TestTriggerRequiresRunning(t *testing.T) {
	s, err := New(Config{Cron: "5 * * * * *"}, func(context.Context, models.Trigger) {}, nil)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Trigger(models.TriggerManual), ErrNotRunning)
}

func TestRunWaitsForInFlightOnShutdown(t *testing.T) {
	var mu sync.Mutex
	finished := false
	started := make(chan struct{})

	job := func(ctx context.Context, trigger models.Trigger) {
		if trigger == models.TriggerStartup {
			return
		}
		close(started)
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		finished = true
		mu.Unlock()
	}

	h := startScheduler(t, "@every 1m", config.OverlapAllow, job)
	h.waitCall(t)
	h.waitArmed(t)
	h.clock.Add(time.Minute)
	<-started

	h.cancel()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
		h.done <- err
	case <-time.After(waitTimeout):
		t.Fatal("scheduler did not stop")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, finished)
	assert.False(t, h.scheduler.Status().Running)
}

func TestLocationAppliesToCadence(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*3600)
	s, err := New(Config{Cron: "0 0 1 * * *", Location: loc}, func(context.Context, models.Trigger) {}, nil)
	require.NoError(t, err)

	next := s.schedule.Next(time.Unix(0, 0).In(loc))
	assert.Equal(t, time.Date(1970, 1, 1, 23, 0, 0, 0, time.UTC), next.UTC())
}
