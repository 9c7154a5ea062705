package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/localos/nuru/pkg/httputil"
)

// WebhookSender posts alerts to a Slack-style incoming webhook.
type WebhookSender struct {
	url    string
	client *http.Client
}

func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{url: url, client: httputil.FastClient()}
}

func (s *WebhookSender) Name() string { return "webhook" }

func (s *WebhookSender) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(map[string]string{
		"text": p.Subject + "\n" + p.Text,
	})
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := httputil.ReadErrorBody(resp.Body)
		return fmt.Errorf("webhook: endpoint returned %d: %s", resp.StatusCode, detail)
	}
	return nil
}
