package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/j-veylop/antigravity-reset-agent/internal/logger"
	"github.com/j-veylop/antigravity-reset-agent/internal/metrics"
	"github.com/j-veylop/antigravity-reset-agent/internal/models"
	"github.com/j-veylop/antigravity-reset-agent/internal/services/notify"
	"github.com/j-veylop/antigravity-reset-agent/internal/services/schedule"
)

// DefaultDelays are the waits after a failed attempt; index i is the wait
// before attempt i+2.
var DefaultDelays = []time.Duration{5 * time.Second, 15 * time.Second, 30 * time.Second}

// errNoCredential marks an attempt that failed before any network call.
var errNoCredential = errors.New("no credential for account")

// CredentialResolver looks up the current session blob of an account.
type CredentialResolver interface {
	Credential(email string) (string, bool)
}

// Preheater fires the preheat call for one model.
type Preheater interface {
	Preheat(ctx context.Context, blob, modelID string) (bool, error)
}

// RetryRecorder stores the retry outcome of a cycle.
type RetryRecorder interface {
	RecordRetry(key string, resetTime time.Time, count int, at time.Time) bool
}

// AttemptLog receives one row per preheat attempt.
type AttemptLog interface {
	InsertPreheatAttempt(a *models.PreheatAttempt) error
}

// Executor runs the bounded preheat retry sequence for a schedule.
type Executor struct {
	creds     CredentialResolver
	preheater Preheater
	store     RetryRecorder
	sink      notify.Sink
	attempts  AttemptLog
	delays    []time.Duration
	sleep     func(time.Duration)
	now       func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithDelays overrides the inter-attempt delays.
func WithDelays(d []time.Duration) ExecutorOption {
	return func(e *Executor) { e.delays = d }
}

// WithSleep replaces time.Sleep, mainly for tests.
func WithSleep(fn func(time.Duration)) ExecutorOption {
	return func(e *Executor) { e.sleep = fn }
}

// WithExecutorClock sets the time source used for retry bookkeeping.
func WithExecutorClock(fn func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = fn }
}

// WithAttemptLog records every attempt in log.
func WithAttemptLog(log AttemptLog) ExecutorOption {
	return func(e *Executor) { e.attempts = log }
}

// NewExecutor creates an executor.
func NewExecutor(creds CredentialResolver, p Preheater, store RetryRecorder, sink notify.Sink, opts ...ExecutorOption) *Executor {
	e := &Executor{
		creds:     creds,
		preheater: p,
		store:     store,
		sink:      sink,
		delays:    DefaultDelays,
		sleep:     time.Sleep,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run attempts the preheat up to schedule.MaxRetries times and reports
// whether it succeeded and how many attempts were used.
func (e *Executor) Run(ctx context.Context, sched models.ResetSchedule) (bool, int) {
	log := logger.With("email", sched.Email, "model", sched.ModelName)

	for attempt := 1; attempt <= schedule.MaxRetries; attempt++ {
		err := e.attempt(ctx, sched)
		e.logAttempt(sched, attempt, err)

		if err == nil {
			metrics.PreheatOutcomesTotal.WithLabelValues("succeeded").Inc()
			e.store.RecordRetry(sched.Key(), sched.ResetTime, attempt, e.now())
			e.sink.Notify("Preheat succeeded",
				fmt.Sprintf("%s (%s) started a new cycle", sched.ModelName, sched.Email),
				notify.Success)
			log.Info("preheat succeeded", "attempt", attempt)
			return true, attempt
		}

		log.Warn("preheat attempt failed", "attempt", attempt, "error", err)
		if attempt < schedule.MaxRetries && attempt-1 < len(e.delays) {
			e.sleep(e.delays[attempt-1])
		}
	}

	metrics.PreheatOutcomesTotal.WithLabelValues("exhausted").Inc()
	e.store.RecordRetry(sched.Key(), sched.ResetTime, schedule.MaxRetries, e.now())
	e.sink.Notify("Preheat failed",
		fmt.Sprintf("%s (%s) did not start after %d attempts", sched.ModelName, sched.Email, schedule.MaxRetries),
		notify.Danger)
	log.Error("preheat exhausted", "attempts", schedule.MaxRetries)
	return false, schedule.MaxRetries
}

// attempt runs one try. Panics from the preheater count as failures.
func (e *Executor) attempt(ctx context.Context, sched models.ResetSchedule) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("preheat panicked: %v", r)
		}
	}()

	blob, ok := e.creds.Credential(sched.Email)
	if !ok || blob == "" {
		return errNoCredential
	}

	success, err := e.preheater.Preheat(ctx, blob, sched.ModelID)
	if err != nil {
		return err
	}
	if !success {
		return errors.New("preheat rejected")
	}
	return nil
}

func (e *Executor) logAttempt(sched models.ResetSchedule, attempt int, err error) {
	result := "success"
	switch {
	case errors.Is(err, errNoCredential):
		result = "no_credential"
	case err != nil:
		result = "failure"
	}
	metrics.PreheatAttemptsTotal.WithLabelValues(result).Inc()

	if e.attempts == nil {
		return
	}
	row := &models.PreheatAttempt{
		CreatedAt: e.now(),
		Email:     sched.Email,
		ModelID:   sched.ModelID,
		Attempt:   attempt,
		Success:   err == nil,
	}
	if err != nil {
		row.Error = err.Error()
	}
	if dbErr := e.attempts.InsertPreheatAttempt(row); dbErr != nil {
		logger.Error("failed to record preheat attempt", "error", dbErr)
	}
}
