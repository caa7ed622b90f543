package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/lexiqai/voice-relay/internal/config"
)

// HuggingFaceClient implements Synthesizer using the Hugging Face inference API
type HuggingFaceClient struct {
	token      string
	modelURL   string
	httpClient *http.Client
}

type huggingFaceRequest struct {
	Inputs string `json:"inputs"`
}

// NewHuggingFaceClient creates a client for the configured text-to-speech model
func NewHuggingFaceClient(cfg *config.Config) *HuggingFaceClient {
	return &HuggingFaceClient{
		token:      cfg.HFToken,
		modelURL:   strings.TrimRight(cfg.HFTTSURL, "/") + "/" + strings.TrimLeft(cfg.HFTTSModel, "/"),
		httpClient: &http.Client{},
	}
}

func (c *HuggingFaceClient) Name() string {
	return config.ProviderHuggingFace
}

// Synthesize converts text to a WAV container
func (c *HuggingFaceClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	jsonData, err := json.Marshal(huggingFaceRequest{Inputs: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.modelURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/wav")
	req.Header.Set("Authorization", "Bearer "+c.token)

	return readAudio(c.httpClient, c.Name(), req)
}
