package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"magnolia/internal/config"
)

const userAgent = "magnolia/0.1.0"

// Event identifies a run milestone.
type Event string

const (
	EventScanCompleted     Event = "scan_completed"
	EventAnalyzeCompleted  Event = "analyze_completed"
	EventOrganizeCompleted Event = "organize_completed"
	EventError             Event = "error"
	EventTest              Event = "test"
)

// Payload carries event fields. Keys used per event:
//   - scan_completed: roots, files, warnings, duration
//   - analyze_completed: entries, duplicateSets, reclaimableBytes
//   - organize_completed: destination, succeeded, failed, skipped, bytes, duration
//   - error: context, error
type Payload map[string]any

// Service publishes run events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds an ntfy-backed service, or a noop when no topic is
// configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventScanCompleted:     cfg.Notifications.Scan,
			EventAnalyzeCompleted:  cfg.Notifications.Scan,
			EventOrganizeCompleted: cfg.Notifications.Organize,
			EventError:             cfg.Notifications.Errors,
			EventTest:              true,
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
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventScanCompleted:
		body := fmt.Sprintf("📂 Cataloged %d files", intValue(payload, "files"))
		if roots := intValue(payload, "roots"); roots > 0 {
			body += fmt.Sprintf(" across %d roots", roots)
		}
		if d := durationText(payload); d != "" {
			body += " in " + d
		}
		if warnings := intValue(payload, "warnings"); warnings > 0 {
			body += fmt.Sprintf("\n%d warnings", warnings)
		}
		return message{title: "Magnolia - Scan Complete", body: body, tags: []string{"magnolia", "scan", "completed"}}, true

	case EventAnalyzeCompleted:
		body := fmt.Sprintf("🔎 Analyzed %d files: %d duplicate sets, %s reclaimable",
			intValue(payload, "entries"),
			intValue(payload, "duplicateSets"),
			humanize.IBytes(uint64(intValue(payload, "reclaimableBytes"))),
		)
		return message{title: "Magnolia - Analysis Complete", body: body, tags: []string{"magnolia", "analyze", "completed"}}, true

	case EventOrganizeCompleted:
		failed := intValue(payload, "failed")
		title := "Magnolia - Organize Complete"
		priority := ""
		if failed > 0 {
			title = "Magnolia - Organize Complete (with errors)"
			priority = "high"
		}
		body := fmt.Sprintf("🗂️ %d succeeded, %d skipped, %d failed (%s)",
			intValue(payload, "succeeded"),
			intValue(payload, "skipped"),
			failed,
			humanize.IBytes(uint64(intValue(payload, "bytes"))),
		)
		if dest := stringValue(payload, "destination"); dest != "" {
			body += "\nDestination: " + dest
		}
		if d := durationText(payload); d != "" {
			body += "\nDuration: " + d
		}
		return message{title: title, body: body, tags: []string{"magnolia", "organize", "completed"}, priority: priority}, true

	case EventError:
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if label := stringValue(payload, "context"); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		if errText := stringValue(payload, "error"); errText != "" {
			builder.WriteString(": ")
			builder.WriteString(errText)
		}
		return message{title: "Magnolia - Error", body: builder.String(), tags: []string{"magnolia", "error", "alert"}, priority: "high"}, true

	case EventTest:
		return message{title: "Magnolia - Test", body: "🧪 Notification system test", tags: []string{"magnolia", "test"}, priority: "low"}, true
	}
	return message{}, false
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	if n.client == nil {
		return nil
	}
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

func intValue(payload Payload, key string) int64 {
	switch v := payload[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}

func stringValue(payload Payload, key string) string {
	switch v := payload[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}

func durationText(payload Payload) string {
	d, ok := payload["duration"].(time.Duration)
	if !ok {
		return ""
	}
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
