package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type ollamaClient struct {
	host        string
	model       string
	temperature float32
	maxTokens   int
	client      *http.Client
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  ollamaOptions       `json:"options"`
}

type ollamaOptions struct {
	Temperature float32 `json:"temperature"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
	Done    bool              `json:"done"`
	Error   string            `json:"error"`
}

func NewOllamaClient(opts Options) StreamClient {
	host := strings.TrimRight(opts.OllamaHost, "/")
	if host == "" {
		host = "http://localhost:11434"
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &ollamaClient{
		host:        host,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

func (c *ollamaClient) Generate(ctx context.Context, messages []Message) (string, error) {
	resp, err := c.post(ctx, messages, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var parsed ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}

	if parsed.Error != "" {
		return "", fmt.Errorf("ollama chat error: %s", parsed.Error)
	}

	return parsed.Message.Content, nil
}

func (c *ollamaClient) GenerateStream(ctx context.Context, messages []Message, fn func(string) error) error {
	resp, err := c.post(ctx, messages, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	for {
		var chunk ollamaChatResponse
		if err := dec.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("decode ollama stream response: %w", err)
		}

		if chunk.Error != "" {
			return fmt.Errorf("ollama chat error: %s", chunk.Error)
		}

		if chunk.Message.Content != "" {
			if err := fn(chunk.Message.Content); err != nil {
				return err
			}
		}

		if chunk.Done {
			return nil
		}
	}
}

// post sends a chat request and returns the response once its status has
// been checked. The caller closes the body.
func (c *ollamaClient) post(ctx context.Context, messages []Message, stream bool) (*http.Response, error) {
	payload := ollamaChatRequest{
		Model:    c.model,
		Messages: toOllamaMessages(messages),
		Stream:   stream,
		Options: ollamaOptions{
			Temperature: c.temperature,
			NumPredict:  c.maxTokens,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.host+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call ollama chat API: %w", err)
	}

	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		data, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return nil, fmt.Errorf("read ollama chat error body: %w", readErr)
		}
		if len(data) > 0 {
			return nil, fmt.Errorf("ollama chat API error: %s", strings.TrimSpace(string(data)))
		}
		return nil, fmt.Errorf("ollama chat API returned status %s", resp.Status)
	}
	return resp, nil
}

func toOllamaMessages(messages []Message) []ollamaChatMessage {
	if len(messages) == 0 {
		return nil
	}
	converted := make([]ollamaChatMessage, len(messages))
	for i := range messages {
		converted[i] = ollamaChatMessage(messages[i])
	}
	return converted
}
