package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Message is one rendered alert ready for delivery.
type Message struct {
	Content string
	Alert   Alert
}

// Channel delivers rendered alerts.
type Channel interface {
	Send(ctx context.Context, msg Message) error
}

// webhookPayload is chat-bot compatible: receivers that only understand
// msgtype/text ignore the alert block.
type webhookPayload struct {
	MsgType string       `json:"msgtype"`
	Text    webhookText  `json:"text"`
	Alert   webhookAlert `json:"alert"`
}

type webhookText struct {
	Content string `json:"content"`
}

type webhookAlert struct {
	MachineID string    `json:"machine_id"`
	Event     Event     `json:"event"`
	Seq       uint64    `json:"seq"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Score     float64   `json:"anomaly_score"`
	Dominant  string    `json:"dominant_parameter,omitempty"`
	At        time.Time `json:"at"`
}

// Header carrying a stable key per alert so receivers can drop redeliveries.
const alertKeyHeader = "X-Alert-Key"

// WebhookChannel posts alerts to an HTTP endpoint.
type WebhookChannel struct {
	url    string
	client *http.Client
}

// WebhookOption configures the webhook channel.
type WebhookOption func(*WebhookChannel)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(ch *WebhookChannel) {
		if client != nil {
			ch.client = client
		}
	}
}

// NewWebhookChannel constructs a webhook channel.
func NewWebhookChannel(url string, opts ...WebhookOption) (*WebhookChannel, error) {
	if url == "" {
		return nil, errors.New("notify webhook: empty url")
	}
	ch := &WebhookChannel{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch, nil
}

// Send posts msg. Any status outside 2xx is an error.
func (w *WebhookChannel) Send(ctx context.Context, msg Message) error {
	if w == nil || w.url == "" {
		return errors.New("notify webhook: empty url")
	}
	a := msg.Alert
	body, err := json.Marshal(webhookPayload{
		MsgType: "text",
		Text:    webhookText{Content: msg.Content},
		Alert: webhookAlert{
			MachineID: a.MachineID,
			Event:     a.Event,
			Seq:       a.Seq,
			From:      a.From.String(),
			To:        a.To.String(),
			Score:     a.Score,
			Dominant:  a.Dominant,
			At:        a.At.UTC(),
		},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.MachineID != "" {
		req.Header.Set(alertKeyHeader, alertKey(a))
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("notify webhook %s: %w", a.MachineID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify webhook %s: status %d", a.MachineID, resp.StatusCode)
	}
	return nil
}

func alertKey(a Alert) string {
	return fmt.Sprintf("%s/%d/%s", a.MachineID, a.Seq, a.Event)
}
