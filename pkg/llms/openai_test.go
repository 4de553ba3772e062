package llms

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vireo-ai/vireo/pkg/protocol"
)

func TestOpenAI_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o", req["model"])
		assert.Equal(t, false, req["stream"])

		fmt.Fprint(w, `{
			"choices": [{"message": {"role": "assistant", "content": "hello there"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 3}
		}`)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1", APIKey: "test-key"})

	resp, err := p.Chat(context.Background(), []protocol.Message{
		{Role: protocol.RoleUser, Content: "hi"},
	}, ChatOptions{Model: "gpt-4o"})
	require.NoError(t, err)

	assert.Equal(t, "hello there", resp.Text)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 3, resp.Usage.OutputTokens)
}

func TestOpenAI_ChatStreaming(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, true, req["stream"])

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n")
		fmt.Fprint(w, ": keepalive comment\n\n")
		fmt.Fprint(w, "data: {\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":2},\"choices\":[]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{BaseURL: srv.URL})

	var chunks []string
	resp, err := p.Chat(context.Background(), []protocol.Message{
		{Role: protocol.RoleUser, Content: "hi"},
	}, ChatOptions{
		Model:   "m",
		OnChunk: func(chunk string) { chunks = append(chunks, chunk) },
	})
	require.NoError(t, err)

	assert.Equal(t, "Hello", resp.Text)
	assert.Equal(t, []string{"Hel", "lo"}, chunks)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 5, resp.Usage.InputTokens)
}

func TestOpenAI_APIErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": {"message": "model not found", "type": "invalid_request_error"}}`)
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{BaseURL: srv.URL})
	_, err := p.Chat(context.Background(), nil, ChatOptions{Model: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestOpenAI_ContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	p := NewOpenAI(OpenAIConfig{BaseURL: srv.URL})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Chat(ctx, nil, ChatOptions{Model: "m"})
	require.Error(t, err)
}

func TestOpenAI_Defaults(t *testing.T) {
	p := NewOpenAI(OpenAIConfig{})
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, DefaultOpenAIBaseURL, p.cfg.BaseURL)
}
