package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

type openAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

func NewOpenAIClient(opts Options) StreamClient {
	cfg := openai.DefaultConfig(opts.OpenAIAPIKey)
	if opts.OpenAIBaseURL != "" {
		cfg.BaseURL = opts.OpenAIBaseURL
	}
	if opts.Timeout > 0 {
		cfg.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}

	return &openAIClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}
}

func (c *openAIClient) request(messages []Message, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
		Stream:      stream,
	}

	req.Messages = make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return req
}

func (c *openAIClient) Generate(ctx context.Context, messages []Message) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, c.request(messages, false))
	if err != nil {
		return "", fmt.Errorf("create openai chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat completion returned no choices")
	}

	return resp.Choices[0].Message.Content, nil
}

func (c *openAIClient) GenerateStream(ctx context.Context, messages []Message, fn func(string) error) error {
	stream, err := c.client.CreateChatCompletionStream(ctx, c.request(messages, true))
	if err != nil {
		return fmt.Errorf("create openai chat stream: %w", err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("receive openai chat stream: %w", err)
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			if err := fn(choice.Delta.Content); err != nil {
				return err
			}
		}
	}
}
