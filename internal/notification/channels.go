package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"pixlift/internal/httpclient"
)

// LogChannel writes one line per notification to a writer, typically stderr
// or a log file. It accepts every priority.
type LogChannel struct {
	name string
	mu   sync.Mutex
	w    io.Writer
}

// NewLogChannel builds a log channel writing to w.
func NewLogChannel(name string, w io.Writer) *LogChannel {
	return &LogChannel{name: name, w: w}
}

func (l *LogChannel) Name() string {
	return l.name
}

func (l *LogChannel) Supports(NotificationPriority) bool {
	return true
}

func (l *LogChannel) Send(_ context.Context, n Notification) error {
	ts := n.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := fmt.Fprintf(l.w, "[%s] [%s] %s: %s\n", ts.UTC().Format(time.RFC3339), n.Priority, n.Title, n.Body)
	return err
}

const defaultWebhookTimeout = 10 * time.Second

// WebhookChannel POSTs notifications as JSON to a fixed URL.
type WebhookChannel struct {
	name    string
	url     string
	headers map[string]string
	client  *http.Client
}

// WebhookOption configures a WebhookChannel.
type WebhookOption func(*WebhookChannel)

// WithTimeout bounds the whole webhook round trip.
func WithTimeout(d time.Duration) WebhookOption {
	return func(w *WebhookChannel) {
		w.client = httpclient.New(d, nil)
	}
}

// WithHeaders adds headers to every webhook request, e.g. an auth token.
func WithHeaders(headers map[string]string) WebhookOption {
	return func(w *WebhookChannel) {
		w.headers = headers
	}
}

// NewWebhookChannel builds a webhook channel for url.
func NewWebhookChannel(name, url string, opts ...WebhookOption) *WebhookChannel {
	w := &WebhookChannel{
		name:   name,
		url:    url,
		client: httpclient.New(defaultWebhookTimeout, nil),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *WebhookChannel) Name() string {
	return w.name
}

func (w *WebhookChannel) Supports(NotificationPriority) bool {
	return true
}

type webhookPayload struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id,omitempty"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Priority  int               `json:"priority"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

func (w *WebhookChannel) Send(ctx context.Context, n Notification) error {
	payload := webhookPayload{
		ID:        n.ID,
		UserID:    n.UserID,
		Title:     n.Title,
		Body:      n.Body,
		Priority:  int(n.Priority),
		Metadata:  n.Metadata,
		CreatedAt: n.CreatedAt,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range w.headers {
		req.Header.Set(key, value)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer httpclient.DrainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned status %d", w.name, resp.StatusCode)
	}
	return nil
}
