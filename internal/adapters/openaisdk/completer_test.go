package openaisdk

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/visionrelay/internal/domain"
)

const completionJSON = `{
	"id": "gen-1",
	"object": "chat.completion",
	"created": 1700000000,
	"model": "nvidia/nemotron-nano-12b-v2-vl",
	"choices": [{
		"index": 0,
		"finish_reason": "stop",
		"message": {"role": "assistant", "content": "Water body detected."}
	}],
	"usage": {"prompt_tokens": 30, "completion_tokens": 4, "total_tokens": 34}
}`

func newTestCompleter(t *testing.T, h http.HandlerFunc) *Completer {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:    srv.URL + "/api/v1/",
		APIKey:     "sk-test",
		Timeout:    2 * time.Second,
		HTTPClient: srv.Client(),
	}, zerolog.Nop())
}

func TestCompleter_Complete(t *testing.T) {
	seen := make(chan map[string]any, 1)
	c := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		seen <- body
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionJSON)
	})

	got, err := c.Complete(context.Background(), domain.ChatRequest{
		Model: "nvidia/nemotron-nano-12b-v2-vl:free",
		Messages: []domain.Message{
			{Role: domain.RoleSystem, Text: "analyst"},
			{Role: domain.RoleAssistant, Text: "previous"},
			{Role: domain.RoleUser, Parts: []domain.ContentPart{
				{Type: domain.PartImageURL, ImageURL: "data:image/png;base64,AAAA"},
				{Type: domain.PartText, Text: "what is this?"},
			}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Water body detected.", got.Content)
	assert.Equal(t, "nvidia/nemotron-nano-12b-v2-vl", got.Model)
	assert.Equal(t, &domain.Usage{PromptTokens: 30, CompletionTokens: 4, TotalTokens: 34}, got.Usage)

	body := <-seen
	assert.Equal(t, "nvidia/nemotron-nano-12b-v2-vl:free", body["model"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 3)
	user := msgs[2].(map[string]any)
	assert.Equal(t, "user", user["role"])
	parts := user["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "image_url", parts[0].(map[string]any)["type"])
	assert.Equal(t, "text", parts[1].(map[string]any)["type"])
}

func TestCompleter_UpstreamStatus(t *testing.T) {
	c := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"No auth credentials found","code":401}}`)
	})

	_, err := c.Complete(context.Background(), domain.ChatRequest{
		Model:    "m",
		Messages: []domain.Message{{Role: domain.RoleUser, Text: "hi"}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstreamStatus)
	assert.True(t, strings.HasPrefix(domain.Describe(err), "API Error: 401 - "), domain.Describe(err))
}

func TestCompleter_NoChoices(t *testing.T) {
	c := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","choices":[]}`)
	})
	_, err := c.Complete(context.Background(), domain.ChatRequest{
		Model:    "m",
		Messages: []domain.Message{{Role: domain.RoleUser, Text: "hi"}},
	})
	assert.ErrorIs(t, err, domain.ErrDecode)
}

func TestCompleter_Canceled(t *testing.T) {
	c := newTestCompleter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Complete(ctx, domain.ChatRequest{
		Model:    "m",
		Messages: []domain.Message{{Role: domain.RoleUser, Text: "hi"}},
	})
	assert.ErrorIs(t, err, domain.ErrDeadlineExceeded)
}

func TestFlatten(t *testing.T) {
	assert.Equal(t, "plain", flatten(domain.Message{Text: "plain"}))
	assert.Equal(t, "ab", flatten(domain.Message{Parts: []domain.ContentPart{
		{Type: domain.PartText, Text: "a"},
		{Type: domain.PartImageURL, ImageURL: "ignored"},
		{Type: domain.PartText, Text: "b"},
	}}))
}
