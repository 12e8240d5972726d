// Package scheduler turns reset schedules into notifications and preheat
// calls as wall-clock time passes.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/j-veylop/antigravity-reset-agent/internal/logger"
	"github.com/j-veylop/antigravity-reset-agent/internal/metrics"
	"github.com/j-veylop/antigravity-reset-agent/internal/models"
	"github.com/j-veylop/antigravity-reset-agent/internal/services/notify"
	"github.com/j-veylop/antigravity-reset-agent/internal/services/schedule"
)

// Store is the part of the schedule store the scheduler mutates.
type Store interface {
	GetAll() []models.ResetSchedule
	MarkPreNotified(key string, resetTime time.Time) bool
	MarkNotified(key string, resetTime time.Time) bool
	MarkTriggered(key string, resetTime time.Time) bool
	RemoveStale(now time.Time, retention time.Duration) int
}

// Runner executes the preheat sequence for a triggered schedule.
type Runner interface {
	Run(ctx context.Context, sched models.ResetSchedule) (bool, int)
}

// Config holds the scheduler timing and the automatic preheat gate.
type Config struct {
	Interval        time.Duration
	PreNotifyWindow time.Duration
	Retention       time.Duration

	// DisableAutoPreheat skips the preheat call when a reset passes.
	// WorkHours limits it to a daily window, read in Location.
	DisableAutoPreheat bool
	WorkHours          models.WorkHours
	Location           *time.Location
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Interval:        30 * time.Second,
		PreNotifyWindow: 5 * time.Minute,
		Retention:       48 * time.Hour,
		Location:        time.Local,
	}
}

// Scheduler runs the reset tick loop. Flag transitions happen only here;
// preheat sequences run on their own goroutines.
type Scheduler struct {
	store    Store
	sink     notify.Sink
	runner   Runner
	config   Config
	now      func() time.Time
	tasks    sync.WaitGroup
	stopChan chan struct{}
	loopDone chan struct{}
	mu       sync.Mutex
	running  bool
	stopped  bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(fn func() time.Time) Option {
	return func(s *Scheduler) { s.now = fn }
}

// New creates a scheduler. Zero config fields take their defaults.
func New(store Store, sink notify.Sink, runner Runner, config Config, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.PreNotifyWindow <= 0 {
		config.PreNotifyWindow = def.PreNotifyWindow
	}
	if config.Retention <= 0 {
		config.Retention = def.Retention
	}
	if config.Location == nil {
		config.Location = def.Location
	}

	s := &Scheduler{
		store:    store,
		sink:     sink,
		runner:   runner,
		config:   config,
		now:      time.Now,
		stopChan: make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tick reconciles every schedule against the current time once.
func (s *Scheduler) Tick(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	now := s.now()
	for _, sched := range s.store.GetAll() {
		s.handle(ctx, now, sched)
	}

	s.store.RemoveStale(now, s.config.Retention)
}

// handle evaluates the three independent transitions for one schedule.
func (s *Scheduler) handle(ctx context.Context, now time.Time, sched models.ResetSchedule) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("schedule handling panicked", "key", sched.Key(), "panic", r)
		}
	}()

	key := sched.Key()
	until := sched.ResetTime.Sub(now)

	if until > 0 && until <= s.config.PreNotifyWindow && !sched.PreNotified {
		if s.store.MarkPreNotified(key, sched.ResetTime) {
			s.emit("Reset imminent",
				fmt.Sprintf("%s (%s) resets at %s, in %s",
					sched.ModelName, sched.Email, sched.ResetTime.Format(schedule.CivilLayout), until.Round(time.Second)),
				notify.Warning)
		}
	}

	if until > 0 {
		return
	}

	reason := s.suppressed(now)

	if !sched.Notified && s.store.MarkNotified(key, sched.ResetTime) {
		action := "sending a preheat request"
		if reason != "" {
			action = "automatic preheat skipped, " + reason
		}
		s.emit("Quota reset",
			fmt.Sprintf("%s (%s) has reset, %s", sched.ModelName, sched.Email, action),
			notify.Reset)
	}

	// A suppressed cycle is still marked so it never fires later in the window.
	if !sched.Triggered && s.store.MarkTriggered(key, sched.ResetTime) {
		if reason != "" {
			metrics.PreheatOutcomesTotal.WithLabelValues("suppressed").Inc()
			logger.Info("automatic preheat suppressed", "key", key, "reason", reason)
			return
		}
		s.spawn(ctx, sched)
	}
}

// suppressed returns why an automatic preheat must not run at now, or "".
func (s *Scheduler) suppressed(now time.Time) string {
	if s.config.DisableAutoPreheat {
		return "auto preheat is disabled"
	}
	if !s.config.WorkHours.Contains(now.In(s.config.Location)) {
		return "outside work hours " + s.config.WorkHours.String()
	}
	return ""
}

// emit delivers a notification. A failing sink never blocks the transitions
// that follow it.
func (s *Scheduler) emit(title, message string, category notify.Category) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("notification sink panicked", "title", title, "panic", r)
		}
	}()
	s.sink.Notify(title, message, category)
}

// spawn starts the preheat sequence. It outlives ctx cancellation so a stop
// never cuts a sequence short.
func (s *Scheduler) spawn(ctx context.Context, sched models.ResetSchedule) {
	logger.Info("triggering preheat", "key", sched.Key())
	taskCtx := context.WithoutCancel(ctx)

	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Error("preheat task panicked", "key", sched.Key(), "panic", r)
			}
		}()
		s.runner.Run(taskCtx, sched)
	}()
}

// Start runs a catch-up tick immediately and then one every interval until
// Stop. Calling Start more than once has no effect.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.stopped {
		return
	}
	s.running = true
	go s.loop(ctx)
	logger.Info("reset scheduler started", "interval", s.config.Interval)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.loopDone)

	s.Tick(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick(ctx)
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		}
	}
}

// Stop halts future ticks and waits for an in-flight tick to finish. Running
// preheat sequences are left alone; use Wait for those.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stopChan)
	}
	running := s.running
	s.mu.Unlock()

	if running {
		<-s.loopDone
	}
}

// Wait blocks until every spawned preheat sequence has finished.
func (s *Scheduler) Wait() {
	s.tasks.Wait()
}
