package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAICompatible streams chat completions using OpenAI-compatible API endpoints
// such as xAI, OpenAI or a self-hosted server, selected by BaseURL.
type OpenAICompatible struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      zerolog.Logger
}

// OpenAIConfig configures an OpenAICompatible provider
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // optional; defaults to the OpenAI endpoint
	Model       string
	Temperature float32
	MaxTokens   int
	HTTPClient  *http.Client
	Logger      zerolog.Logger
}

// NewOpenAICompatible creates a streaming chat provider
func NewOpenAICompatible(cfg OpenAIConfig) (*OpenAICompatible, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing API key")
	}
	if cfg.Model == "" {
		return nil, errors.New("missing model")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	} else {
		config.HTTPClient = &http.Client{Timeout: 90 * time.Second}
	}

	return &OpenAICompatible{
		client:      openai.NewClientWithConfig(config),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      cfg.Logger.With().Str("component", "llm").Str("model", cfg.Model).Logger(),
	}, nil
}

// StreamChat opens a streaming completion. Errors establishing the stream are
// returned directly; errors after that arrive as a final TokenEvent.
func (p *OpenAICompatible) StreamChat(ctx context.Context, messages []Message) (<-chan TokenEvent, error) {
	in := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		in = append(in, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	req := openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    in,
		Stream:      true,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
	}

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, err
	}

	ch := make(chan TokenEvent, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		send := func(ev TokenEvent) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		tokens := 0
		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					p.logger.Debug().Int("chunks", tokens).Msg("Completion stream finished")
					send(TokenEvent{Done: true})
					return
				}
				p.logger.Warn().Err(err).Int("chunks", tokens).Msg("Completion stream failed")
				send(TokenEvent{Err: err})
				return
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				tokens++
				if !send(TokenEvent{Delta: choice.Delta.Content}) {
					return
				}
			}
		}
	}()

	return ch, nil
}
