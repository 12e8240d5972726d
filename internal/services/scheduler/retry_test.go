package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/j-veylop/antigravity-reset-agent/internal/models"
	"github.com/j-veylop/antigravity-reset-agent/internal/services/notify"
	"github.com/j-veylop/antigravity-reset-agent/internal/services/schedule"
)

type mapCreds map[string]string

func (m mapCreds) Credential(email string) (string, bool) {
	blob, ok := m[email]
	return blob, ok
}

// scriptedPreheater returns results in order; the last one repeats.
type scriptedPreheater struct {
	mu      sync.Mutex
	results []error
	calls   []string
	panicAt int
}

func (p *scriptedPreheater) Preheat(_ context.Context, blob, modelID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, blob+"/"+modelID)
	n := len(p.calls)
	if p.panicAt == n {
		panic("transport exploded")
	}
	err := p.results[min(n, len(p.results))-1]
	return err == nil, err
}

type attemptRows struct {
	mu   sync.Mutex
	rows []*models.PreheatAttempt
}

func (a *attemptRows) InsertPreheatAttempt(r *models.PreheatAttempt) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rows = append(a.rows, r)
	return nil
}

type retryFixture struct {
	store  *schedule.Store
	sink   *recordingSink
	sleeps []time.Duration
	rows   *attemptRows
	sched  models.ResetSchedule
	now    time.Time
}

func newRetryFixture(t *testing.T) *retryFixture {
	t.Helper()
	f := &retryFixture{
		store: schedule.New(filepath.Join(t.TempDir(), "s.json"), utc7, schedule.DefaultGrace),
		sink:  &recordingSink{},
		rows:  &attemptRows{},
		now:   time.Date(2025, 3, 1, 10, 0, 5, 0, utc7),
	}
	f.sched, _ = f.store.Upsert("a@x.com", "gemini-3-flash", "Gemini 3 Flash", "10:00 01/03/2025")
	return f
}

func (f *retryFixture) executor(creds CredentialResolver, p Preheater) *Executor {
	return NewExecutor(creds, p, f.store, f.sink,
		WithSleep(func(d time.Duration) { f.sleeps = append(f.sleeps, d) }),
		WithExecutorClock(func() time.Time { return f.now }),
		WithAttemptLog(f.rows),
	)
}

func TestExecutor_AlwaysFails(t *testing.T) {
	f := newRetryFixture(t)
	p := &scriptedPreheater{results: []error{errors.New("503")}}

	ok, attempts := f.executor(mapCreds{"a@x.com": "blob"}, p).Run(context.Background(), f.sched)

	if ok || attempts != schedule.MaxRetries {
		t.Errorf("Run = %v, %d", ok, attempts)
	}
	if len(p.calls) != 3 {
		t.Errorf("network attempts = %d, want 3", len(p.calls))
	}
	wantSleeps := []time.Duration{5 * time.Second, 15 * time.Second}
	if len(f.sleeps) != len(wantSleeps) {
		t.Fatalf("sleeps = %v, want %v", f.sleeps, wantSleeps)
	}
	for i := range wantSleeps {
		if f.sleeps[i] != wantSleeps[i] {
			t.Errorf("sleep[%d] = %v, want %v", i, f.sleeps[i], wantSleeps[i])
		}
	}

	got, _ := f.store.Get(f.sched.Key())
	if got.RetryCount != 3 || !got.LastRetry.Equal(f.now) {
		t.Errorf("retry bookkeeping = %d at %v", got.RetryCount, got.LastRetry)
	}
	if f.sink.count(notify.Danger) != 1 || f.sink.total() != 1 {
		t.Errorf("notifications = %v", f.sink.got)
	}
	if len(f.rows.rows) != 3 || f.rows.rows[2].Success || f.rows.rows[2].Attempt != 3 {
		t.Errorf("attempt rows = %+v", f.rows.rows)
	}
}

func TestExecutor_SucceedsOnSecondAttempt(t *testing.T) {
	f := newRetryFixture(t)
	p := &scriptedPreheater{results: []error{errors.New("timeout"), nil}}

	ok, attempts := f.executor(mapCreds{"a@x.com": "blob"}, p).Run(context.Background(), f.sched)

	if !ok || attempts != 2 {
		t.Errorf("Run = %v, %d", ok, attempts)
	}
	if len(f.sleeps) != 1 || f.sleeps[0] != 5*time.Second {
		t.Errorf("sleeps = %v", f.sleeps)
	}
	got, _ := f.store.Get(f.sched.Key())
	if got.RetryCount != 2 {
		t.Errorf("retry count = %d, want 2", got.RetryCount)
	}
	if f.sink.count(notify.Success) != 1 || f.sink.count(notify.Danger) != 0 {
		t.Errorf("notifications = %v", f.sink.got)
	}
	if p.calls[1] != "blob/gemini-3-flash" {
		t.Errorf("preheat called with %q", p.calls[1])
	}
}

func TestExecutor_NoCredentialSkipsNetwork(t *testing.T) {
	f := newRetryFixture(t)
	p := &scriptedPreheater{results: []error{nil}}

	ok, _ := f.executor(mapCreds{}, p).Run(context.Background(), f.sched)

	if ok {
		t.Error("expected exhaustion")
	}
	if len(p.calls) != 0 {
		t.Errorf("no network call expected, got %d", len(p.calls))
	}
	if len(f.sleeps) != 2 {
		t.Errorf("delays still apply between attempts, got %v", f.sleeps)
	}
	if f.rows.rows[0].Error != errNoCredential.Error() {
		t.Errorf("row error = %q", f.rows.rows[0].Error)
	}
}

// rotatingCreds hands out a credential only from the second lookup on.
type rotatingCreds struct {
	mu      sync.Mutex
	lookups int
}

func (r *rotatingCreds) Credential(string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups++
	if r.lookups < 2 {
		return "", false
	}
	return "rotated", true
}

func TestExecutor_ReResolvesCredentialEachAttempt(t *testing.T) {
	f := newRetryFixture(t)
	creds := &rotatingCreds{}
	p := &scriptedPreheater{results: []error{nil}}

	ok, attempts := f.executor(creds, p).Run(context.Background(), f.sched)

	if !ok || attempts != 2 {
		t.Errorf("Run = %v, %d", ok, attempts)
	}
	if creds.lookups != 2 {
		t.Errorf("lookups = %d, want 2", creds.lookups)
	}
	if p.calls[0] != "rotated/gemini-3-flash" {
		t.Errorf("calls = %v", p.calls)
	}
}

func TestExecutor_PanicCountsAsFailure(t *testing.T) {
	f := newRetryFixture(t)
	p := &scriptedPreheater{results: []error{nil}, panicAt: 1}

	ok, attempts := f.executor(mapCreds{"a@x.com": "blob"}, p).Run(context.Background(), f.sched)

	if !ok || attempts != 2 {
		t.Errorf("Run = %v, %d", ok, attempts)
	}
}

func TestExecutor_RejectedIsFailure(t *testing.T) {
	f := newRetryFixture(t)
	ex := f.executor(mapCreds{"a@x.com": "blob"}, preheatFunc(func() (bool, error) { return false, nil }))

	ok, _ := ex.Run(context.Background(), f.sched)
	if ok {
		t.Error("false without error must count as failure")
	}
}

type preheatFunc func() (bool, error)

func (p preheatFunc) Preheat(context.Context, string, string) (bool, error) { return p() }

func TestExecutor_StaleCycleNotRecorded(t *testing.T) {
	f := newRetryFixture(t)
	f.store.Upsert("a@x.com", "gemini-3-flash", "Gemini 3 Flash", "10:00 02/03/2025")

	f.executor(mapCreds{"a@x.com": "blob"}, preheatFunc(func() (bool, error) { return true, nil })).
		Run(context.Background(), f.sched)

	got, _ := f.store.Get(f.sched.Key())
	if got.RetryCount != 0 || !got.LastRetry.IsZero() {
		t.Errorf("new cycle should not inherit retry result: %+v", got)
	}
}

func TestExecutor_RecordsBeforeNotifying(t *testing.T) {
	tests := []struct {
		name      string
		result    error
		wantCount int
	}{
		{name: "Success", result: nil, wantCount: 1},
		{name: "Exhausted", result: errors.New("503"), wantCount: schedule.MaxRetries},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRetryFixture(t)
			seen := -1
			sink := notify.SinkFunc(func(string, string, notify.Category) {
				got, _ := f.store.Get(f.sched.Key())
				seen = got.RetryCount
			})
			ex := NewExecutor(mapCreds{"a@x.com": "blob"}, &scriptedPreheater{results: []error{tt.result}}, f.store, sink,
				WithSleep(func(time.Duration) {}),
				WithExecutorClock(func() time.Time { return f.now }),
			)

			ex.Run(context.Background(), f.sched)

			if seen != tt.wantCount {
				t.Errorf("retry count visible to sink = %d, want %d", seen, tt.wantCount)
			}
		})
	}
}
