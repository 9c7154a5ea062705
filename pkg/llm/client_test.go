package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, status int, reply string, capture *chatRequest) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		if capture != nil {
			require.NoError(t, json.NewDecoder(r.Body).Decode(capture))
		}
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": reply}},
			},
		})
	}))
}

func TestCompleteRoundTrip(t *testing.T) {
	var got chatRequest
	srv := newTestServer(t, http.StatusOK, "hello there", &got)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "key", "fast-model", "deep-model", 500)
	reply, err := c.Complete(context.Background(), "be helpful", []Message{
		{Role: "user", Content: "hi"},
	})
	require.NoError(t, err)
	require.Equal(t, "hello there", reply)

	require.Equal(t, "fast-model", got.Model)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Equal(t, 500, got.MaxTokens)
}

func TestModelRouting(t *testing.T) {
	c := NewHTTPClient("http://x", "", "fast", "deep", 0)

	require.Equal(t, "fast", c.ModelFor(TaskIntake))
	require.Equal(t, "deep", c.ModelFor(TaskEscalation))
	// Unknown tasks degrade to the cheap tier.
	require.Equal(t, "fast", c.ModelFor(Task("mystery")))
}

func TestEscalationTaskUsesDeepModel(t *testing.T) {
	var got chatRequest
	srv := newTestServer(t, http.StatusOK, "summary", &got)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", "fast", "deep", 0, WithTask(TaskEscalation))
	_, err := c.Complete(context.Background(), "", []Message{{Role: "user", Content: "q"}})
	require.NoError(t, err)
	require.Equal(t, "deep", got.Model)
}

func TestWithTimeoutLeavesSharedClientAlone(t *testing.T) {
	base := NewHTTPClient("http://x", "", "fast", "deep", 0)
	bounded := NewHTTPClient("http://x", "", "fast", "deep", 0, WithTimeout(7*time.Second))

	require.Equal(t, 7*time.Second, bounded.http.Timeout)
	require.NotEqual(t, bounded.http.Timeout, base.http.Timeout,
		"timeout must apply to a copy, not the shared client")
	require.Same(t, base.http.Transport, bounded.http.Transport,
		"copy keeps the shared transport and its connection pool")

	// Non-positive values keep the default.
	ignored := NewHTTPClient("http://x", "", "fast", "deep", 0, WithTimeout(0))
	require.Equal(t, base.http.Timeout, ignored.http.Timeout)
}

func TestCompleteProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", "fast", "deep", 0)
	_, err := c.Complete(context.Background(), "", []Message{{Role: "user", Content: "q"}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "429")
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", "fast", "deep", 0)
	_, err := c.Complete(context.Background(), "", []Message{{Role: "user", Content: "q"}})
	require.Error(t, err)
}
