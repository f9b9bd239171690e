package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fabfab/visacoach/config"
)

func TestNewClientDefaults(t *testing.T) {
	cfg := config.Config{
		LLM: config.LLMConfig{
			Provider: config.ProviderOllama,
			Model:    "llama3.1:8b",
		},
		OllamaHost: "http://localhost:11434",
	}

	client, err := NewClient(cfg)
	require.NoError(t, err)
	_, ok := client.(StreamClient)
	assert.True(t, ok, "ollama client should stream")
}

func TestNewClientOpenAIRequiresAPIKey(t *testing.T) {
	cfg := config.Config{
		LLM: config.LLMConfig{
			Provider: config.ProviderOpenAI,
			Model:    "gpt-4o",
		},
	}

	_, err := NewClient(cfg)
	require.Error(t, err)
}

func TestNewClientUnknownProvider(t *testing.T) {
	_, err := NewClient(config.Config{LLM: config.LLMConfig{Provider: "bard"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bard")
}

func TestOllamaGenerateSendsOptions(t *testing.T) {
	var got ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(ollamaChatResponse{
			Message: ollamaChatMessage{Role: RoleAssistant, Content: "CPT requires an offer letter."},
			Done:    true,
		})
	}))
	defer server.Close()

	client := NewOllamaClient(Options{OllamaHost: server.URL + "/", Model: "llama3.1:8b", Temperature: 0.3, MaxTokens: 512})
	answer, err := client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "What do I need for CPT?"}})
	require.NoError(t, err)

	assert.Equal(t, "CPT requires an offer letter.", answer)
	assert.Equal(t, "llama3.1:8b", got.Model)
	assert.False(t, got.Stream)
	assert.InDelta(t, 0.3, got.Options.Temperature, 1e-6)
	assert.Equal(t, 512, got.Options.NumPredict)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, RoleUser, got.Messages[0].Role)
}

func TestOllamaGenerateStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)
		for _, part := range []string{"OPT ", "lasts ", "12 months."} {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", part)
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	defer server.Close()

	client := NewOllamaClient(Options{OllamaHost: server.URL, Model: "m"})
	var parts []string
	err := client.GenerateStream(context.Background(), []Message{{Role: RoleUser, Content: "OPT?"}}, func(s string) error {
		parts = append(parts, s)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"OPT ", "lasts ", "12 months."}, parts)
}

func TestOllamaStreamCallbackErrorStops(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"content":"a"},"done":false}`)
		fmt.Fprintln(w, `{"message":{"content":"b"},"done":false}`)
	}))
	defer server.Close()

	stop := fmt.Errorf("stop")
	calls := 0
	err := NewOllamaClient(Options{OllamaHost: server.URL}).GenerateStream(context.Background(), nil, func(string) error {
		calls++
		return stop
	})
	require.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestOllamaErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model not found"}`, http.StatusNotFound)
	}))
	defer server.Close()

	_, err := NewOllamaClient(Options{OllamaHost: server.URL}).Generate(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model not found")
}

func TestOpenAIGenerate(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"Apply through ISSS."},"finish_reason":"stop"}]}`)
	}))
	defer server.Close()

	client := NewOpenAIClient(Options{OpenAIAPIKey: "sk-test", OpenAIBaseURL: server.URL + "/v1", Model: "gpt-4o-mini", Temperature: 0.3, MaxTokens: 256})
	answer, err := client.Generate(context.Background(), []Message{{Role: RoleUser, Content: "How do I apply?"}})
	require.NoError(t, err)

	assert.Equal(t, "Apply through ISSS.", answer)
	assert.Equal(t, "gpt-4o-mini", got["model"])
	assert.InDelta(t, 0.3, got["temperature"], 1e-6)
	assert.EqualValues(t, 256, got["max_tokens"])
}

func TestOpenAIGenerateNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"1","object":"chat.completion","choices":[]}`)
	}))
	defer server.Close()

	_, err := NewOpenAIClient(Options{OpenAIAPIKey: "k", OpenAIBaseURL: server.URL}).Generate(context.Background(), nil)
	require.Error(t, err)
}
