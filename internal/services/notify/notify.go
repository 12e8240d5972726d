// Package notify delivers user-facing notifications to any number of sinks.
package notify

import (
	"sync"

	"github.com/j-veylop/antigravity-reset-agent/internal/logger"
	"github.com/j-veylop/antigravity-reset-agent/internal/metrics"
)

// Category classifies a notification for presentation.
type Category string

const (
	Info    Category = "info"
	Warning Category = "warning"
	Success Category = "success"
	Danger  Category = "danger"
	Reset   Category = "reset"
)

// Audible reports whether the category should come with a sound.
func (c Category) Audible() bool {
	switch c {
	case Warning, Danger, Reset:
		return true
	default:
		return false
	}
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case Info, Warning, Success, Danger, Reset:
		return true
	default:
		return false
	}
}

// Sink receives notifications. Implementations must not block for long.
type Sink interface {
	Notify(title, message string, category Category)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(title, message string, category Category)

// Notify calls f.
func (f SinkFunc) Notify(title, message string, category Category) {
	f(title, message, category)
}

// Fanout delivers every notification to all registered sinks. A panicking
// sink is logged and skipped.
type Fanout struct {
	mu    sync.RWMutex
	sinks []Sink
}

// NewFanout creates a fan-out over sinks. Nil sinks are ignored.
func NewFanout(sinks ...Sink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		f.Add(s)
	}
	return f
}

// Add registers another sink.
func (f *Fanout) Add(s Sink) {
	if s == nil {
		return
	}
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
}

// Len returns the number of sinks.
func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.sinks)
}

// Notify implements Sink.
func (f *Fanout) Notify(title, message string, category Category) {
	if !category.Valid() {
		category = Info
	}
	metrics.NotificationsTotal.WithLabelValues(string(category)).Inc()

	f.mu.RLock()
	sinks := make([]Sink, len(f.sinks))
	copy(sinks, f.sinks)
	f.mu.RUnlock()

	for _, s := range sinks {
		deliver(s, title, message, category)
	}
}

func deliver(s Sink, title, message string, category Category) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("notification sink panicked", "title", title, "panic", r)
		}
	}()
	s.Notify(title, message, category)
}

// LogSink writes notifications to the structured log.
type LogSink struct{}

// Notify implements Sink.
func (LogSink) Notify(title, message string, category Category) {
	switch category {
	case Danger:
		logger.Error(title, "message", message, "category", string(category))
	case Warning:
		logger.Warn(title, "message", message, "category", string(category))
	default:
		logger.Info(title, "message", message, "category", string(category))
	}
}
