package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/localos/nuru/pkg/httputil"
)

// EmailSender posts alerts to an HTTP transactional-email provider.
type EmailSender struct {
	endpoint string
	apiKey   string
	from     string
	to       string
	client   *http.Client
}

func NewEmailSender(endpoint, apiKey, from, to string) *EmailSender {
	return &EmailSender{
		endpoint: endpoint,
		apiKey:   apiKey,
		from:     from,
		to:       to,
		client:   httputil.FastClient(),
	}
}

func (s *EmailSender) Name() string { return "email" }

func (s *EmailSender) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(map[string]string{
		"from":    s.from,
		"to":      s.to,
		"subject": p.Subject,
		"html":    p.HTML,
		"text":    p.Text,
	})
	if err != nil {
		return fmt.Errorf("email: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("email: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("email: send: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := httputil.ReadErrorBody(resp.Body)
		return fmt.Errorf("email: provider returned %d: %s", resp.StatusCode, detail)
	}
	return nil
}
