// Package scheduler fires the rollover job on a cron cadence.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/andres-erbsen/clock"
	"github.com/robfig/cron"
	"github.com/sirupsen/logrus"

	"github.com/smartdevs17/rollover-caller/internal/config"
	"github.com/smartdevs17/rollover-caller/internal/metrics"
	"github.com/smartdevs17/rollover-caller/internal/models"
	"github.com/smartdevs17/rollover-caller/pkg/utils"
)

var (
	// ErrNotRunning is returned by Trigger before Run starts or after it returns
	ErrNotRunning = errors.New("scheduler is not running")
	// ErrInvocationInProgress is returned by Trigger when the skip policy drops the invocation
	ErrInvocationInProgress = errors.New("an invocation is already in progress")
)

// Job is one rollover invocation
type Job func(ctx context.Context, trigger models.Trigger)

// Config holds scheduler settings
type Config struct {
	// Cron is a 6-field expression with seconds, or a descriptor such as "@every 1m".
	Cron     string
	Location *time.Location
	Overlap  string
}

// Scheduler runs a job once at start and then on every cron firing. Firings
// run in their own goroutine; under the skip policy a firing is dropped while
// another invocation is still running.
type Scheduler struct {
	expr     string
	schedule cron.Schedule
	location *time.Location
	overlap  string
	job      Job

	clock   clock.Clock
	metrics *metrics.PrometheusMetrics
	logger  *logrus.Entry

	wg       sync.WaitGroup
	inFlight atomic.Int32
	fired    atomic.Uint64
	skipped  atomic.Uint64

	mu      sync.RWMutex
	running bool
	runCtx  context.Context
	next    time.Time

	// onArm is called each time the timer for the next firing is armed
	onArm func(next time.Time)
}

// New parses the cadence and builds a scheduler. pm may be nil.
func New(cfg Config, job Job, pm *metrics.PrometheusMetrics) (*Scheduler, error) {
	if job == nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Scheduler job is required")
	}

	schedule, err := cron.Parse(cfg.Cron)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid cron expression", fmt.Sprintf("%s: %v", cfg.Cron, err))
	}

	overlap := cfg.Overlap
	switch overlap {
	case "":
		overlap = config.OverlapAllow
	case config.OverlapAllow, config.OverlapSkip:
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid overlap policy", overlap)
	}

	location := cfg.Location
	if location == nil {
		location = time.UTC
	}

	return &Scheduler{
		expr:     cfg.Cron,
		schedule: schedule,
		location: location,
		overlap:  overlap,
		job:      job,
		clock:    clock.New(),
		metrics:  pm,
		logger:   utils.ComponentLogger("scheduler"),
	}, nil
}

// SetClock replaces the time source. Must be called before Run.
func (s *Scheduler) SetClock(c clock.Clock) {
	s.clock = c
}

// Run invokes the job once, waits for it, then fires it on every cron tick
// until ctx is cancelled. It returns after in-flight invocations finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.runCtx = ctx
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.runCtx = nil
		s.mu.Unlock()
		s.wg.Wait()
	}()

	s.execute(ctx, models.TriggerStartup)

	first := true
	for {
		now := s.clock.Now().In(s.location)
		next := s.schedule.Next(now)
		if next.IsZero() {
			return fmt.Errorf("cron expression %q has no future firing", s.expr)
		}

		s.mu.Lock()
		s.next = next
		s.mu.Unlock()

		timer := s.clock.Timer(next.Sub(now))
		if first {
			s.logger.WithFields(logrus.Fields{
				"cron":     s.expr,
				"timezone": s.location.String(),
				"overlap":  s.overlap,
				"next_run": next.Format(utils.TimestampFormat),
			}).Info("Cron job scheduled")
			first = false
		}
		if s.onArm != nil {
			s.onArm(next)
		}

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Scheduler stopped")
			return nil
		case <-timer.C:
			s.fired.Add(1)
			s.dispatch(ctx, models.TriggerSchedule)
		}
	}
}

// Trigger starts an invocation outside the cadence, subject to the overlap policy
func (s *Scheduler) Trigger(trigger models.Trigger) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running {
		return ErrNotRunning
	}
	if !s.dispatch(s.runCtx, trigger) {
		return ErrInvocationInProgress
	}
	return nil
}

func (s *Scheduler) dispatch(ctx context.Context, trigger models.Trigger) bool {
	if !s.acquire() {
		s.skipped.Add(1)
		if s.metrics != nil {
			s.metrics.RecordSkippedFiring()
		}
		s.logger.WithField("trigger", trigger).Warn("Previous invocation still running, skipping")
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Add(-1)
		s.job(ctx, trigger)
	}()
	return true
}

// execute runs the job synchronously
func (s *Scheduler) execute(ctx context.Context, trigger models.Trigger) {
	if !s.acquire() {
		return
	}
	defer s.inFlight.Add(-1)
	s.job(ctx, trigger)
}

// acquire increments the in-flight count unless the skip policy forbids it
func (s *Scheduler) acquire() bool {
	if s.overlap == config.OverlapSkip {
		return s.inFlight.CompareAndSwap(0, 1)
	}
	s.inFlight.Add(1)
	return true
}

// Status is a snapshot of the scheduler state
type Status struct {
	Cron     string    `json:"cron"`
	Timezone string    `json:"timezone"`
	Overlap  string    `json:"overlap"`
	Running  bool      `json:"running"`
	NextRun  time.Time `json:"next_run,omitempty"`
	InFlight int       `json:"in_flight"`
	Fired    uint64    `json:"fired"`
	Skipped  uint64    `json:"skipped"`
}

// Status returns the current scheduler state
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Status{
		Cron:     s.expr,
		Timezone: s.location.String(),
		Overlap:  s.overlap,
		Running:  s.running,
		NextRun:  s.next,
		InFlight: int(s.inFlight.Load()),
		Fired:    s.fired.Load(),
		Skipped:  s.skipped.Load(),
	}
}
