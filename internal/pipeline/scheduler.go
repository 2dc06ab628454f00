package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/TobiSchelling/AgriNews/internal/config"
	"github.com/TobiSchelling/AgriNews/internal/logging"
)

// ErrRunInProgress is returned by a trigger while another run holds the lock.
var ErrRunInProgress = errors.New("a run is already in progress")

// Trigger identifies what started a run.
type Trigger string

const (
	TriggerKindManual    Trigger = "manual"
	TriggerKindScheduled Trigger = "scheduled"
)

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context) *Result
}

// Status describes the scheduler and the current run.
type Status struct {
	// IsRunning is true while a run executes.
	IsRunning bool `json:"is_running"`
	// SchedulerActive is true between Start and Stop.
	SchedulerActive  bool       `json:"scheduler_active"`
	NextScheduledRun *time.Time `json:"next_run"`
	Timezone         string     `json:"timezone"`
	ScheduleTime     string     `json:"schedule_time"`
	LastRun          *time.Time `json:"last_run,omitempty"`
}

// Orchestrator owns the single-run lock shared by the manual and the
// daily scheduled trigger.
type Orchestrator struct {
	runner       Runner
	loc          *time.Location
	hour, minute int
	scheduleTime string
	log          *zap.Logger
	now          func() time.Time

	runMu   sync.Mutex
	running atomic.Bool

	mu      sync.Mutex
	active  bool
	next    time.Time
	lastRun time.Time
	stop    chan struct{}
	done    chan struct{}
}

// NewOrchestrator creates an orchestrator for the configured daily schedule.
func NewOrchestrator(cfg *config.Config, runner Runner, log *zap.Logger) (*Orchestrator, error) {
	hour, minute, err := cfg.ScheduleClock()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		runner:       runner,
		loc:          loc,
		hour:         hour,
		minute:       minute,
		scheduleTime: cfg.Schedule.Time,
		log:          logging.OrNop(log),
		now:          time.Now,
	}, nil
}

// TriggerManual runs the pipeline now, on the calling goroutine.
func (o *Orchestrator) TriggerManual(ctx context.Context) (*Result, error) {
	return o.trigger(ctx, TriggerKindManual)
}

// TriggerScheduled runs the pipeline as the daily job would.
func (o *Orchestrator) TriggerScheduled(ctx context.Context) (*Result, error) {
	return o.trigger(ctx, TriggerKindScheduled)
}

func (o *Orchestrator) trigger(ctx context.Context, kind Trigger) (*Result, error) {
	if !o.runMu.TryLock() {
		o.log.Info("run rejected, another run is in progress", zap.String("trigger", string(kind)))
		return nil, ErrRunInProgress
	}
	defer o.runMu.Unlock()

	o.running.Store(true)
	defer o.running.Store(false)

	o.log.Info("starting run", zap.String("trigger", string(kind)))
	// A started run is never cancelled, even if the caller goes away.
	r := o.runner.Run(context.WithoutCancel(ctx))

	o.mu.Lock()
	o.lastRun = o.now()
	o.mu.Unlock()
	return r, nil
}

// IsRunning reports whether a run is in progress.
func (o *Orchestrator) IsRunning() bool {
	return o.running.Load()
}

// Wait blocks until no run is in progress.
func (o *Orchestrator) Wait() {
	o.runMu.Lock()
	o.runMu.Unlock()
}

// NextRun returns the first schedule instant strictly after t.
func (o *Orchestrator) NextRun(t time.Time) time.Time {
	local := t.In(o.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), o.hour, o.minute, 0, 0, o.loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, o.hour, o.minute, 0, 0, o.loc)
	}
	return next
}

// Start launches the scheduler goroutine. It runs until Stop is called or
// ctx is done. Starting an active scheduler is a no-op.
func (o *Orchestrator) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active {
		return
	}
	o.active = true
	o.stop = make(chan struct{})
	o.done = make(chan struct{})

	go o.loop(ctx, o.stop, o.done)
	o.log.Info("scheduler started",
		zap.String("time", o.scheduleTime),
		zap.String("timezone", o.loc.String()))
}

// Stop halts the scheduler and waits for its goroutine to exit. A run in
// progress finishes first.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.active {
		o.mu.Unlock()
		return
	}
	close(o.stop)
	done := o.done
	o.mu.Unlock()

	<-done
	o.log.Info("scheduler stopped")
}

func (o *Orchestrator) loop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer func() {
		o.mu.Lock()
		o.active = false
		o.next = time.Time{}
		o.mu.Unlock()
		close(done)
	}()

	for {
		now := o.now()
		next := o.NextRun(now)
		o.mu.Lock()
		o.next = next
		o.mu.Unlock()

		o.log.Debug("next scheduled run", zap.Time("at", next))
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-stop:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := o.TriggerScheduled(ctx); err != nil {
				o.log.Warn("scheduled run skipped", zap.Error(err))
			}
		}
	}
}

// Status reports the scheduler state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := Status{
		IsRunning:       o.running.Load(),
		SchedulerActive: o.active,
		Timezone:        o.loc.String(),
		ScheduleTime:    o.scheduleTime,
	}
	if !o.next.IsZero() {
		next := o.next
		s.NextScheduledRun = &next
	}
	if !o.lastRun.IsZero() {
		last := o.lastRun
		s.LastRun = &last
	}
	return s
}
