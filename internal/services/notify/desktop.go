package notify

import (
	"github.com/gen2brain/beeep"

	"github.com/j-veylop/antigravity-reset-agent/internal/logger"
)

// DesktopSink shows a system toast. Audible categories use beeep.Alert, the
// rest a silent beeep.Notify.
type DesktopSink struct {
	notify func(title, message string, icon any) error
	alert  func(title, message string, icon any) error
}

// NewDesktopSink returns a sink backed by the OS notification service.
// appName groups the toasts where the platform supports it.
func NewDesktopSink(appName string) *DesktopSink {
	if appName != "" {
		beeep.AppName = appName
	}
	return &DesktopSink{notify: beeep.Notify, alert: beeep.Alert}
}

// Notify implements Sink.
func (d *DesktopSink) Notify(title, message string, category Category) {
	send := d.notify
	if category.Audible() {
		send = d.alert
	}
	if err := send(title, message, ""); err != nil {
		logger.Debug("desktop notification failed", "error", err)
	}
}
