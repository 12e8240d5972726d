// Package schedule owns the persisted reset schedules, one per account+model.
package schedule

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/j-veylop/antigravity-reset-agent/internal/logger"
	"github.com/j-veylop/antigravity-reset-agent/internal/metrics"
	"github.com/j-veylop/antigravity-reset-agent/internal/models"
)

// MaxRetries bounds the retry bookkeeping of a schedule.
const MaxRetries = 3

// DefaultGrace is how much later a reset time must be to start a new cycle.
const DefaultGrace = 5 * time.Minute

// CivilLayout is the pre-formatted reset time produced by the quota client.
const CivilLayout = "15:04 02/01/2006"

// Store is the in-memory schedule map backed by a JSON file. All methods are
// safe for concurrent use.
type Store struct {
	mu        sync.Mutex
	schedules map[string]*models.ResetSchedule
	path      string
	readOnly  bool
	loc       *time.Location
	grace     time.Duration
}

// New creates an empty store persisted at path. Call Load to read the file.
func New(path string, loc *time.Location, grace time.Duration) *Store {
	if loc == nil {
		loc = time.UTC
	}
	if grace <= 0 {
		grace = DefaultGrace
	}
	return &Store{
		schedules: make(map[string]*models.ResetSchedule),
		path:      path,
		loc:       loc,
		grace:     grace,
	}
}

// SetReadOnly stops the store from writing its file. Changes still apply in
// memory, so a short-lived reader never overwrites flags another process set.
func (s *Store) SetReadOnly(readOnly bool) {
	s.mu.Lock()
	s.readOnly = readOnly
	s.mu.Unlock()
}

// Location returns the display timezone schedules are normalized to.
func (s *Store) Location() *time.Location {
	return s.loc
}

// ParseResetTime accepts "15:04 02/01/2006" in loc or an RFC 3339 timestamp
// with an offset. The result is expressed in loc.
func ParseResetTime(text string, loc *time.Location) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, errors.New("empty reset time")
	}
	if t, err := time.ParseInLocation(CivilLayout, text, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized reset time %q", text)
	}
	return t.In(loc), nil
}

// Upsert records a reported reset time. It returns the stored schedule and
// whether a new cycle started. Unparseable input leaves the store unchanged.
func (s *Store) Upsert(email, modelID, modelName, resetText string) (models.ResetSchedule, bool) {
	resetTime, err := ParseResetTime(resetText, s.loc)
	if err != nil {
		logger.Debug("ignoring reset time", "email", email, "model", modelName, "error", err)
		return models.ResetSchedule{}, false
	}

	key := models.ScheduleKey(email, modelName)

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.schedules[key]
	if ok && existing.ResetTime.Equal(resetTime) {
		return *existing, false
	}

	if !ok || resetTime.Sub(existing.ResetTime) > s.grace {
		sched := &models.ResetSchedule{
			Email:     email,
			ModelID:   modelID,
			ModelName: modelName,
			ResetTime: resetTime,
		}
		s.schedules[key] = sched
		s.saveLocked()
		logger.Info("new reset cycle", "key", key, "reset_time", resetTime.Format(CivilLayout))
		return *sched, true
	}

	// Same cycle, the provider just nudged the time.
	existing.ResetTime = resetTime
	existing.ModelID = modelID
	s.saveLocked()
	return *existing, false
}

// GetAll returns a snapshot ordered by reset time, then key.
func (s *Store) GetAll() []models.ResetSchedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(func(*models.ResetSchedule) bool { return true })
}

// Pending returns the schedules whose reset has not been announced yet.
func (s *Store) Pending() []models.ResetSchedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(func(r *models.ResetSchedule) bool { return !r.Notified })
}

func (s *Store) snapshotLocked(keep func(*models.ResetSchedule) bool) []models.ResetSchedule {
	out := make([]models.ResetSchedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		if keep(sched) {
			out = append(out, *sched)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ResetTime.Equal(out[j].ResetTime) {
			return out[i].ResetTime.Before(out[j].ResetTime)
		}
		return out[i].Key() < out[j].Key()
	})
	return out
}

// Get returns the schedule stored under key.
func (s *Store) Get(key string) (models.ResetSchedule, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.schedules[key]
	if !ok {
		return models.ResetSchedule{}, false
	}
	return *sched, true
}

// Len returns the number of schedules.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.schedules)
}

// MarkPreNotified sets pre_notified for the cycle ending at resetTime.
// It reports true only on the false to true transition.
func (s *Store) MarkPreNotified(key string, resetTime time.Time) bool {
	return s.mark(key, resetTime, func(r *models.ResetSchedule) *bool { return &r.PreNotified })
}

// MarkNotified sets notified for the cycle ending at resetTime.
func (s *Store) MarkNotified(key string, resetTime time.Time) bool {
	return s.mark(key, resetTime, func(r *models.ResetSchedule) *bool { return &r.Notified })
}

// MarkTriggered sets triggered for the cycle ending at resetTime.
func (s *Store) MarkTriggered(key string, resetTime time.Time) bool {
	return s.mark(key, resetTime, func(r *models.ResetSchedule) *bool { return &r.Triggered })
}

func (s *Store) mark(key string, resetTime time.Time, field func(*models.ResetSchedule) *bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[key]
	if !ok || !sched.ResetTime.Equal(resetTime) {
		return false
	}
	flag := field(sched)
	if *flag {
		return false
	}
	*flag = true
	s.saveLocked()
	return true
}

// RecordRetry stores the retry outcome for the cycle ending at resetTime. It
// is ignored when the schedule has moved on to another cycle.
func (s *Store) RecordRetry(key string, resetTime time.Time, count int, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[key]
	if !ok || !sched.ResetTime.Equal(resetTime) {
		logger.Debug("retry result for stale cycle dropped", "key", key)
		return false
	}
	sched.RetryCount = min(max(count, 0), MaxRetries)
	sched.LastRetry = at.In(s.loc)
	s.saveLocked()
	return true
}

// RemoveStale drops announced schedules whose reset is older than retention.
func (s *Store) RemoveStale(now time.Time, retention time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, sched := range s.schedules {
		if sched.Notified && now.Sub(sched.ResetTime) > retention {
			delete(s.schedules, key)
			removed++
		}
	}
	if removed > 0 {
		s.saveLocked()
		logger.Info("removed stale schedules", "count", removed)
	}
	return removed
}

// Load replaces the in-memory schedules with the file contents. A missing
// file yields an empty store.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.mu.Lock()
		s.schedules = make(map[string]*models.ResetSchedule)
		s.mu.Unlock()
		metrics.Schedules.Set(0)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read schedule file: %w", err)
	}

	raw := make(map[string]*models.ResetSchedule)
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("failed to parse schedule file: %w", err)
		}
	}

	loaded := make(map[string]*models.ResetSchedule, len(raw))
	for _, sched := range raw {
		if sched == nil || sched.Email == "" || sched.ModelName == "" {
			continue
		}
		sched.ResetTime = sched.ResetTime.In(s.loc)
		if !sched.LastRetry.IsZero() {
			sched.LastRetry = sched.LastRetry.In(s.loc)
		}
		sched.RetryCount = min(max(sched.RetryCount, 0), MaxRetries)
		loaded[sched.Key()] = sched
	}

	s.mu.Lock()
	s.schedules = loaded
	s.mu.Unlock()
	metrics.Schedules.Set(float64(len(loaded)))
	return nil
}

// Save writes the whole store to its file.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked()
}

// saveLocked persists after a mutation. Failures are logged; the in-memory
// state stays authoritative until the next successful write.
func (s *Store) saveLocked() {
	metrics.Schedules.Set(float64(len(s.schedules)))
	if err := s.writeLocked(); err != nil {
		logger.Error("failed to persist schedules", "path", s.path, "error", err)
	}
}

func (s *Store) writeLocked() error {
	if s.path == "" || s.readOnly {
		return nil
	}

	data, err := json.MarshalIndent(s.schedules, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal schedules: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("failed to create schedule directory: %w", err)
	}

	tmpFile := s.path + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpFile, s.path); err != nil {
		if removeErr := os.Remove(tmpFile); removeErr != nil {
			logger.Error("failed to remove temp file", "error", removeErr)
		}
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}
