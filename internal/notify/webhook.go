// Package notify forwards live-feed notifications to webhook endpoints.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ppiankov/scrapewatch/internal/live"
)

const webhookTimeout = 5 * time.Second

// SignatureHeader carries the hex HMAC-SHA256 of the body when a secret is set.
const SignatureHeader = "X-Scrapewatch-Signature"

// WebhookEvent is the JSON payload sent to webhook URLs.
type WebhookEvent struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Backend   string    `json:"backend,omitempty"`
	Title     string    `json:"title,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Level     string    `json:"level,omitempty"`
	Message   string    `json:"message,omitempty"`
	LogTime   string    `json:"log_time,omitempty"`
}

// WebhookDispatcher sends fire-and-forget HTTP POST notifications.
type WebhookDispatcher struct {
	urls   []string
	events map[string]bool
	secret []byte
	client *http.Client
}

// NewWebhookDispatcher creates a dispatcher for the given URLs and event filter.
// If eventFilter is empty, all events are accepted. It returns nil when no
// URLs are configured; a nil dispatcher ignores every event.
func NewWebhookDispatcher(urls []string, eventFilter []string, secret string) (*WebhookDispatcher, error) {
	if len(urls) == 0 {
		return nil, nil
	}
	for _, u := range urls {
		parsed, err := url.Parse(u)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return nil, fmt.Errorf("invalid webhook URL %q", u)
		}
	}

	events := make(map[string]bool)
	for _, e := range eventFilter {
		if e != "" {
			events[e] = true
		}
	}

	d := &WebhookDispatcher{
		urls:   urls,
		events: events,
		client: &http.Client{Timeout: webhookTimeout},
	}
	if secret != "" {
		d.secret = []byte(secret)
	}
	return d, nil
}

// Notify implements live.Notifier.
func (d *WebhookDispatcher) Notify(n live.Notification) {
	evt := WebhookEvent{
		Event:     n.Kind,
		Timestamp: n.Time,
		Backend:   n.Backend,
		Title:     n.Title,
		Detail:    n.Detail,
	}
	if n.Entry != nil {
		evt.Level = n.Entry.Level
		evt.Message = n.Entry.Message
		evt.LogTime = n.Entry.Time
	}
	d.Fire(evt)
}

// Fire sends the event to all configured webhooks in background goroutines.
// It returns immediately (non-blocking). Errors are silently dropped.
func (d *WebhookDispatcher) Fire(evt WebhookEvent) {
	if d == nil || len(d.urls) == 0 {
		return
	}

	if len(d.events) > 0 && !d.events[evt.Event] {
		return
	}

	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return
	}

	var sig string
	if len(d.secret) > 0 {
		mac := hmac.New(sha256.New, d.secret)
		mac.Write(data)
		sig = "sha256=" + hex.EncodeToString(mac.Sum(nil))
	}

	for _, u := range d.urls {
		go d.post(u, data, sig)
	}
}

func (d *WebhookDispatcher) post(url string, data []byte, sig string) {
	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set(SignatureHeader, sig)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return
	}
	_ = resp.Body.Close()
}
