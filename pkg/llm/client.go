// Package llm wraps the completion provider behind a small interface. The
// engine treats the provider as opaque: system prompt and history in, text
// out. The HTTP implementation speaks the OpenAI-compatible chat
// completions wire format so any conforming endpoint can back it.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/localos/nuru/pkg/httputil"
)

// Message is one turn of conversation history.
type Message struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Client is the completion provider seen by the engine.
type Client interface {
	// Complete returns the assistant reply for the given system prompt and
	// ordered history. Blocking; honors ctx.
	Complete(ctx context.Context, system string, history []Message) (string, error)
}

// Task selects the model tier for a call. Conversational turns run on the
// fast model; client-facing deliverables justify the strong model.
type Task string

const (
	TaskIntake     Task = "intake"     // Conversational intake turn
	TaskEscalation Task = "escalation" // Escalation summary for a human
)

// HTTPClient calls an OpenAI-compatible chat completions endpoint.
type HTTPClient struct {
	baseURL   string
	apiKey    string
	chatModel string
	deepModel string
	maxTokens int
	task      Task
	http      *http.Client
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithTask selects the model tier (default TaskIntake).
func WithTask(t Task) Option {
	return func(c *HTTPClient) { c.task = t }
}

// WithHTTPClient overrides the underlying HTTP client (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *HTTPClient) { c.http = h }
}

// WithTimeout bounds each completion call. The shared transport is kept;
// only the per-call deadline changes. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d <= 0 {
			return
		}
		// Copy before mutating: the default client is shared process-wide.
		hc := *c.http
		hc.Timeout = d
		c.http = &hc
	}
}

// NewHTTPClient builds a completion client. chatModel serves intake turns,
// deepModel serves escalation summaries.
func NewHTTPClient(baseURL, apiKey, chatModel, deepModel string, maxTokens int, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		chatModel: chatModel,
		deepModel: deepModel,
		maxTokens: maxTokens,
		task:      TaskIntake,
		http:      httputil.MediumClient(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ModelFor routes a task to a model tier. Unknown tasks get the fast model
// so a misrouted call degrades to the cheap tier rather than the expensive
// one.
func (c *HTTPClient) ModelFor(task Task) string {
	if task == TaskEscalation {
		return c.deepModel
	}
	return c.chatModel
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete implements Client.
func (c *HTTPClient) Complete(ctx context.Context, system string, history []Message) (string, error) {
	msgs := make([]chatMessage, 0, len(history)+1)
	if system != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: system})
	}
	for _, m := range history {
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}

	payload, err := json.Marshal(chatRequest{
		Model:     c.ModelFor(c.task),
		Messages:  msgs,
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: completion call: %w", err)
	}
	defer httputil.DrainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		body, _ := httputil.ReadErrorBody(resp.Body)
		return "", fmt.Errorf("llm: completion status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	body, err := httputil.ReadResponseBody(resp.Body, httputil.MaxResponseSize)
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llm: provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm: empty completion")
	}
	return parsed.Choices[0].Message.Content, nil
}
