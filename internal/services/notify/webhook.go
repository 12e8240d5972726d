package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/j-veylop/antigravity-reset-agent/internal/logger"
)

type webhookPayload struct {
	Title     string `json:"title"`
	Message   string `json:"message"`
	Category  string `json:"category"`
	Timestamp string `json:"timestamp"`
}

type ntfyPayload struct {
	Topic    string   `json:"topic,omitempty"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`
	Tags     []string `json:"tags"`
	Priority int      `json:"priority"`
}

// ntfy priority and tag per category.
var ntfyStyle = map[Category]struct {
	tag      string
	priority int
}{
	Info:    {"information_source", 3},
	Success: {"white_check_mark", 3},
	Warning: {"hourglass_flowing_sand", 4},
	Reset:   {"arrows_counterclockwise", 4},
	Danger:  {"rotating_light", 5},
}

// WebhookSink POSTs notifications as JSON. Deliveries run on their own
// goroutine so callers never wait on the network.
type WebhookSink struct {
	client *http.Client
	url    string
	ntfy   bool
	wg     sync.WaitGroup
	now    func() time.Time
}

// NewWebhookSink posts the generic payload to url.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		client: &http.Client{Timeout: 5 * time.Second},
		url:    url,
		now:    time.Now,
	}
}

// NewNtfySink posts ntfy-formatted messages to url.
func NewNtfySink(url string) *WebhookSink {
	w := NewWebhookSink(url)
	w.ntfy = true
	return w
}

// Notify implements Sink.
func (w *WebhookSink) Notify(title, message string, category Category) {
	data, err := w.payload(title, message, category)
	if err != nil {
		logger.Error("failed to marshal webhook payload", "error", err)
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.post(data)
	}()
}

func (w *WebhookSink) payload(title, message string, category Category) ([]byte, error) {
	if !w.ntfy {
		return json.Marshal(webhookPayload{
			Title:     title,
			Message:   message,
			Category:  string(category),
			Timestamp: w.now().UTC().Format(time.RFC3339),
		})
	}

	style, ok := ntfyStyle[category]
	if !ok {
		style = ntfyStyle[Info]
	}
	return json.Marshal(ntfyPayload{
		Title:    title,
		Message:  message,
		Priority: style.priority,
		Tags:     []string{style.tag},
	})
}

func (w *WebhookSink) post(data []byte) {
	resp, err := w.client.Post(w.url, "application/json", bytes.NewReader(data))
	if err != nil {
		logger.Warn("webhook delivery failed", "url", w.url, "error", err)
		return
	}
	if err := resp.Body.Close(); err != nil {
		logger.Error("failed to close response body", "error", err)
	}
	if resp.StatusCode >= 300 {
		logger.Warn("webhook rejected notification", "url", w.url, "status", resp.StatusCode)
	}
}

// Wait blocks until in-flight deliveries finish.
func (w *WebhookSink) Wait() {
	w.wg.Wait()
}
