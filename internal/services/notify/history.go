package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/j-veylop/antigravity-reset-agent/internal/logger"
	"github.com/j-veylop/antigravity-reset-agent/internal/models"
)

// Recorder persists delivered notifications.
type Recorder interface {
	InsertNotification(n *models.Notification) error
}

// HistorySink records every notification through a Recorder.
type HistorySink struct {
	rec Recorder
	now func() time.Time
}

// NewHistorySink returns a sink writing to rec.
func NewHistorySink(rec Recorder) *HistorySink {
	return &HistorySink{rec: rec, now: time.Now}
}

// Notify implements Sink.
func (h *HistorySink) Notify(title, message string, category Category) {
	n := &models.Notification{
		ID:        uuid.NewString(),
		CreatedAt: h.now(),
		Title:     title,
		Message:   message,
		Category:  string(category),
	}
	if err := h.rec.InsertNotification(n); err != nil {
		logger.Error("failed to record notification", "title", title, "error", err)
	}
}
