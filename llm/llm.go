package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/fabfab/visacoach/config"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Client completes a conversation. Sampling parameters are fixed when the
// client is constructed.
type Client interface {
	Generate(ctx context.Context, messages []Message) (string, error)
}

// StreamClient is implemented by clients that can deliver the answer in
// pieces as it is generated.
type StreamClient interface {
	Client
	GenerateStream(ctx context.Context, messages []Message, fn func(string) error) error
}

type Options struct {
	Provider    string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration

	OllamaHost    string
	OpenAIAPIKey  string
	OpenAIBaseURL string
}

func NewClient(cfg config.Config) (Client, error) {
	opts := Options{
		Provider:      cfg.LLM.Provider,
		Model:         cfg.LLM.Model,
		Temperature:   cfg.LLM.Temperature,
		MaxTokens:     cfg.LLM.MaxTokens,
		Timeout:       cfg.LLM.Timeout,
		OllamaHost:    cfg.OllamaHost,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
	}

	switch opts.Provider {
	case config.ProviderOllama:
		return NewOllamaClient(opts), nil
	case config.ProviderOpenAI:
		if opts.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("openai provider selected but OPENAI_API_KEY not set")
		}
		return NewOpenAIClient(opts), nil
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", opts.Provider)
	}
}
