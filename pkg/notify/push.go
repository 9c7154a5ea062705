package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/localos/nuru/pkg/httputil"
)

// PushSender posts short alerts to a Telegram-style sendMessage endpoint.
type PushSender struct {
	endpoint string
	chatID   string
	client   *http.Client
}

func NewPushSender(endpoint, chatID string) *PushSender {
	return &PushSender{endpoint: endpoint, chatID: chatID, client: httputil.FastClient()}
}

func (s *PushSender) Name() string { return "push" }

func (s *PushSender) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(map[string]string{
		"chat_id": s.chatID,
		"text":    p.Subject + "\n" + p.Text,
	})
	if err != nil {
		return fmt.Errorf("push: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("push: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("push: send: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := httputil.ReadErrorBody(resp.Body)
		return fmt.Errorf("push: endpoint returned %d: %s", resp.StatusCode, detail)
	}
	return nil
}
