// Package services wires the agent's services together and runs the quota
// sync loop that feeds the reset scheduler.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/j-veylop/antigravity-reset-agent/internal/config"
	"github.com/j-veylop/antigravity-reset-agent/internal/db"
	"github.com/j-veylop/antigravity-reset-agent/internal/logger"
	"github.com/j-veylop/antigravity-reset-agent/internal/models"
	"github.com/j-veylop/antigravity-reset-agent/internal/services/accounts"
	"github.com/j-veylop/antigravity-reset-agent/internal/services/notify"
	"github.com/j-veylop/antigravity-reset-agent/internal/services/quota"
	"github.com/j-veylop/antigravity-reset-agent/internal/services/schedule"
	"github.com/j-veylop/antigravity-reset-agent/internal/services/scheduler"
)

// criticalPercent is the remaining quota below which a danger notification fires.
const criticalPercent = 5.0

// AppName labels desktop notifications.
const AppName = "Antigravity Reset Agent"

// Manager owns every service and the quota sync loop.
type Manager struct {
	cfg       *config.Config
	accounts  *accounts.Service
	quota     *quota.Client
	store     *schedule.Store
	database  *db.DB
	sink      *notify.Fanout
	webhooks  []*notify.WebhookSink
	executor  *scheduler.Executor
	scheduler *scheduler.Scheduler
	now       func() time.Time

	mu         sync.RWMutex
	lastQuotas map[string]models.AccountQuota
	order      []string
	lastSync   time.Time

	syncing   atomic.Bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	started   atomic.Bool
}

// Option configures a Manager.
type Option func(*managerOptions)

type managerOptions struct {
	quotaOpts []quota.Option
	clock     func() time.Time
	sleep     func(time.Duration)
	sinks     []notify.Sink
	oneShot   bool
}

// WithQuotaOptions passes options to the quota client, e.g. a custom HTTP client.
func WithQuotaOptions(opt quota.Option) Option {
	return func(o *managerOptions) { o.quotaOpts = append(o.quotaOpts, opt) }
}

// WithClock replaces time.Now for the scheduler and retry bookkeeping.
func WithClock(fn func() time.Time) Option {
	return func(o *managerOptions) { o.clock = fn }
}

// WithRetrySleep replaces the sleep between preheat attempts.
func WithRetrySleep(fn func(time.Duration)) Option {
	return func(o *managerOptions) { o.sleep = fn }
}

// WithSink adds a sink next to the configured ones.
func WithSink(s notify.Sink) Option {
	return func(o *managerOptions) { o.sinks = append(o.sinks, s) }
}

// OneShot builds a manager for a single CLI command. Schedule changes stay
// in memory so the running agent's file is never overwritten, and
// notifications only reach the log.
func OneShot() Option {
	return func(o *managerOptions) { o.oneShot = true }
}

// NewManager builds every service from cfg. Nothing runs until Start.
func NewManager(cfg *config.Config, opts ...Option) (*Manager, error) {
	var o managerOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = time.Now
	}

	m := &Manager{
		cfg:        cfg,
		lastQuotas: make(map[string]models.AccountQuota),
		stopChan:   make(chan struct{}),
		now:        o.clock,
	}

	var err error
	m.accounts, err = accounts.New(cfg.AccountsDir)
	if err != nil {
		return nil, err
	}

	m.database, err = db.New(cfg.DatabasePath)
	if err != nil {
		_ = m.accounts.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	loc := cfg.DisplayLocation()

	m.store = schedule.New(cfg.SchedulePath, loc, cfg.NewCycleGrace)
	if err := m.store.Load(); err != nil {
		// A corrupt file is not fatal; the next sync rebuilds the schedules.
		logger.Error("failed to load schedules", "path", cfg.SchedulePath, "error", err)
	}
	m.store.SetReadOnly(o.oneShot)

	quotaConfig := quota.DefaultConfig()
	quotaConfig.ClientID = cfg.GoogleClientID
	quotaConfig.ClientSecret = cfg.GoogleClientSecret
	quotaConfig.BaseURL = cfg.CloudCodeBaseURL
	quotaConfig.Location = loc
	quotaConfig.MaxConcurrent = cfg.MaxConcurrent
	m.quota = quota.New(quotaConfig, o.quotaOpts...)

	m.sink = notify.NewFanout(notify.LogSink{})
	if !o.oneShot {
		m.addSinks()
	}
	for _, s := range o.sinks {
		m.sink.Add(s)
	}

	execOpts := []scheduler.ExecutorOption{
		scheduler.WithAttemptLog(m.database),
		scheduler.WithExecutorClock(o.clock),
	}
	if o.sleep != nil {
		execOpts = append(execOpts, scheduler.WithSleep(o.sleep))
	}
	m.executor = scheduler.NewExecutor(m.accounts, m.quota, m.store, m.sink, execOpts...)

	m.scheduler = scheduler.New(m.store, m.sink, m.executor, scheduler.Config{
		Interval:           cfg.CheckInterval,
		PreNotifyWindow:    cfg.PreNotifyWindow,
		Retention:          cfg.RetentionWindow,
		DisableAutoPreheat: !cfg.AutoPreheat,
		WorkHours:          cfg.WorkHours,
		Location:           loc,
	}, scheduler.WithClock(o.clock))

	return m, nil
}

// addSinks registers the history, desktop and webhook sinks from the config.
func (m *Manager) addSinks() {
	m.sink.Add(notify.NewHistorySink(m.database))
	if m.cfg.DesktopNotifications {
		m.sink.Add(notify.NewDesktopSink(AppName))
	}
	if m.cfg.WebhookURL != "" {
		w := notify.NewWebhookSink(m.cfg.WebhookURL)
		m.webhooks = append(m.webhooks, w)
		m.sink.Add(w)
	}
	if m.cfg.NtfyURL != "" {
		w := notify.NewNtfySink(m.cfg.NtfyURL)
		m.webhooks = append(m.webhooks, w)
		m.sink.Add(w)
	}
}

// Start launches the quota sync loop and the reset scheduler.
func (m *Manager) Start(ctx context.Context) {
	if !m.started.CompareAndSwap(false, true) {
		return
	}

	m.wg.Add(2)
	go m.syncLoop(ctx)
	go m.routeEvents()

	m.scheduler.Start(ctx)
}

// syncLoop refreshes quotas immediately and then every QuotaRefreshInterval.
func (m *Manager) syncLoop(ctx context.Context) {
	defer m.wg.Done()

	m.SyncQuotas(ctx)

	interval := m.cfg.QuotaRefreshInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.SyncQuotas(ctx)
			m.pruneHistory()
		case <-ctx.Done():
			return
		case <-m.stopChan:
			return
		}
	}
}

// routeEvents resyncs when the accounts directory changes.
func (m *Manager) routeEvents() {
	defer m.wg.Done()

	for {
		select {
		case event := <-m.accounts.Events():
			switch event.Type {
			case accounts.EventAccountsChanged:
				logger.Info("accounts changed, refreshing quotas", "count", m.accounts.Count())
				m.wg.Add(1)
				go func() {
					defer m.wg.Done()
					m.SyncQuotas(context.Background())
				}()
			case accounts.EventError:
				logger.Warn("accounts watcher error", "error", event.Error)
			}
		case <-m.stopChan:
			return
		}
	}
}

// SyncQuotas fetches quota for every account and folds reset times into the
// schedule store. Overlapping calls are skipped.
func (m *Manager) SyncQuotas(ctx context.Context) []models.AccountQuota {
	if !m.syncing.CompareAndSwap(false, true) {
		logger.Debug("quota sync already running")
		return m.Quotas()
	}
	defer m.syncing.Store(false)

	accs := m.accounts.GetAccounts()
	blobs := make([]string, 0, len(accs))
	keys := make([]string, 0, len(accs))
	for _, acc := range accs {
		if acc.HasState() {
			blobs = append(blobs, acc.State)
			keys = append(keys, acc.Key())
		}
	}

	results := m.quota.FetchAll(ctx, blobs)

	// Results are keyed by the account list, which stays stable even when a
	// blob no longer decodes.
	for i := range results {
		results[i].Email = keys[i]
	}

	now := m.now()
	var snaps []models.QuotaSnapshot
	for _, q := range results {
		m.checkNotifications(q)
		if !q.Valid() {
			continue
		}
		for _, mq := range q.Models {
			snaps = append(snaps, models.QuotaSnapshot{
				CreatedAt:  now,
				Email:      q.Email,
				ModelID:    mq.ModelID,
				ModelName:  mq.ModelName,
				Percentage: mq.Percentage,
			})
			if mq.ResetText == "" {
				continue
			}
			m.store.Upsert(q.Email, mq.ModelID, mq.ModelName, mq.ResetText)
		}
	}
	if err := m.database.InsertQuotaSnapshots(snaps); err != nil {
		logger.Error("failed to record quota snapshots", "error", err)
	}

	m.mu.Lock()
	m.order = m.order[:0]
	for _, q := range results {
		m.lastQuotas[q.Email] = q
		m.order = append(m.order, q.Email)
	}
	m.lastSync = now
	m.mu.Unlock()

	logger.Debug("quota sync finished", "accounts", len(results), "schedules", m.store.Len())
	return results
}

// checkNotifications compares q with the previous result for the account.
func (m *Manager) checkNotifications(q models.AccountQuota) {
	m.mu.RLock()
	prev, exists := m.lastQuotas[q.Email]
	m.mu.RUnlock()

	switch {
	case !q.Valid() && (!exists || prev.Error != q.Error):
		m.sink.Notify("Quota check failed",
			fmt.Sprintf("%s: %s", q.Email, q.Error), notify.Warning)
		return
	case q.Valid() && exists && !prev.Valid():
		m.sink.Notify("Quota check recovered",
			fmt.Sprintf("%s is reporting quota again", q.Email), notify.Info)
	}

	if !exists || !prev.Valid() {
		return
	}

	old := make(map[string]float64, len(prev.Models))
	for _, mq := range prev.Models {
		old[mq.ModelID] = mq.Percentage
	}

	// Only notify when crossing the threshold downwards
	for _, mq := range q.Models {
		before, ok := old[mq.ModelID]
		if ok && before >= criticalPercent && mq.Percentage < criticalPercent {
			m.sink.Notify(fmt.Sprintf("Critical quota: %s", mq.ModelName),
				fmt.Sprintf("%s has %.1f%% left", q.Email, mq.Percentage), notify.Danger)
		}
	}
}

// pruneHistory drops notifications and quota snapshots older than the
// retention window.
func (m *Manager) pruneHistory() {
	retention := m.cfg.RetentionWindow
	if retention <= 0 {
		return
	}
	cutoff := m.now().Add(-retention)

	removed, err := m.database.PruneNotifications(cutoff)
	if err != nil {
		logger.Error("failed to prune notifications", "error", err)
		return
	}
	snapshots, err := m.database.PruneQuotaSnapshots(cutoff)
	if err != nil {
		logger.Error("failed to prune quota snapshots", "error", err)
	}
	if removed+snapshots == 0 {
		return
	}
	logger.Debug("pruned history", "notifications", removed, "snapshots", snapshots)
	if err := m.database.Vacuum(); err != nil {
		logger.Warn("vacuum failed", "error", err)
	}
}

// PreheatResult summarizes a PreheatAll run.
type PreheatResult struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// PreheatAll sends the preheat call for every tracked model of every account.
func (m *Manager) PreheatAll(ctx context.Context) PreheatResult {
	var succeeded, failed atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(m.cfg.MaxConcurrent, 1))

	for _, acc := range m.accounts.GetAccounts() {
		if !acc.HasState() {
			continue
		}
		m.sink.Notify("Preheating", fmt.Sprintf("Account: %s", acc.Email), notify.Info)

		for _, tm := range quota.TrackedModels {
			g.Go(func() error {
				ok, err := m.quota.Preheat(gctx, acc.State, tm.ID)
				if err != nil || !ok {
					failed.Add(1)
					logger.Warn("manual preheat failed", "email", acc.Email, "model", tm.ID, "error", err)
					return nil
				}
				succeeded.Add(1)
				return nil
			})
		}
	}
	// Workers never return an error.
	_ = g.Wait()

	res := PreheatResult{Succeeded: int(succeeded.Load()), Failed: int(failed.Load())}
	category := notify.Success
	if res.Failed > 0 {
		category = notify.Warning
	}
	m.sink.Notify("Preheat finished",
		fmt.Sprintf("Succeeded: %d, failed: %d", res.Succeeded, res.Failed), category)
	return res
}

// PreheatModel preheats one model for one account.
func (m *Manager) PreheatModel(ctx context.Context, email, modelID string) (bool, error) {
	blob, ok := m.accounts.Credential(email)
	if !ok {
		return false, fmt.Errorf("no credential for %s", email)
	}
	return m.quota.Preheat(ctx, blob, modelID)
}

// Quotas returns the latest quota result per account, in fetch order.
func (m *Manager) Quotas() []models.AccountQuota {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.AccountQuota, 0, len(m.order))
	for _, email := range m.order {
		out = append(out, m.lastQuotas[email])
	}
	return out
}

// LastSync returns when quotas were last refreshed.
func (m *Manager) LastSync() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastSync
}

// Schedules returns the current reset schedules.
func (m *Manager) Schedules() []models.ResetSchedule {
	return m.store.GetAll()
}

// Notifications returns the most recent notifications.
func (m *Manager) Notifications(limit int) ([]models.Notification, error) {
	return m.database.RecentNotifications(limit)
}

// PreheatAttempts returns the most recent preheat attempts.
func (m *Manager) PreheatAttempts(limit int) ([]models.PreheatAttempt, error) {
	return m.database.RecentPreheatAttempts(limit)
}

// QuotaHistory returns the quota snapshots taken within the retention window.
func (m *Manager) QuotaHistory() ([]models.QuotaSnapshot, error) {
	return m.database.QuotaHistory(m.now().Add(-m.cfg.RetentionWindow))
}

// Accounts returns the accounts service.
func (m *Manager) Accounts() *accounts.Service {
	return m.accounts
}

// Store returns the schedule store.
func (m *Manager) Store() *schedule.Store {
	return m.store
}

// Scheduler returns the reset scheduler.
func (m *Manager) Scheduler() *scheduler.Scheduler {
	return m.scheduler
}

// Sink returns the notification fan-out, for callers that add their own sinks.
func (m *Manager) Sink() *notify.Fanout {
	return m.sink
}

// Close stops the loops, waits for running preheat sequences and releases
// resources. Schedules are persisted on every change, so nothing is saved
// here.
func (m *Manager) Close() error {
	var errs []error

	m.closeOnce.Do(func() {
		close(m.stopChan)
		m.scheduler.Stop()
		m.wg.Wait()
		m.scheduler.Wait()
		for _, w := range m.webhooks {
			w.Wait()
		}

		if err := m.accounts.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := m.database.Close(); err != nil {
			errs = append(errs, err)
		}
	})

	return errors.Join(errs...)
}
