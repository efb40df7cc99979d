package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"vodpipe/internal/config"
)

const userAgent = "vodpipe/0.1"

// Event names a notification kind.
type Event string

const (
	EventJobCompleted Event = "job_completed"
	EventJobFailed    Event = "job_failed"
	EventTest         Event = "test"
)

// Payload carries event fields. Recognised keys: title, slug, uploadID,
// location, duration, error, hint, stage.
type Payload map[string]any

// Service publishes job events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventJobCompleted: cfg.Notifications.NotifyComplete,
			EventJobFailed:    cfg.Notifications.NotifyFailed,
			EventTest:         true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := render(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func render(event Event, payload Payload) (message, bool) {
	title := firstNonEmpty(payload.str("title"), payload.str("slug"), payload.str("uploadID"))
	switch event {
	case EventJobCompleted:
		body := "Ready to stream: " + title
		if location := payload.str("location"); location != "" {
			body += "\nMaster: " + location
		}
		if duration := payload.str("duration"); duration != "" {
			body += "\nTook " + duration
		}
		return message{
			title: "vodpipe - Published",
			body:  body,
			tags:  []string{"vodpipe", "job", "completed"},
		}, true
	case EventJobFailed:
		var b strings.Builder
		b.WriteString("Processing failed: ")
		b.WriteString(title)
		if errText := payload.str("error"); errText != "" {
			b.WriteString("\n")
			b.WriteString(errText)
		}
		if hint := payload.str("hint"); hint != "" {
			b.WriteString("\nHint: ")
			b.WriteString(hint)
		}
		return message{
			title:    "vodpipe - Failed",
			body:     b.String(),
			tags:     []string{"vodpipe", "job", "failed"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "vodpipe - Test",
			body:     "Notification system test",
			tags:     []string{"vodpipe", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" && msg.priority != "default" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p Payload) str(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case time.Duration:
		return v.Round(time.Second).String()
	case error:
		return strings.TrimSpace(v.Error())
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return "upload"
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
