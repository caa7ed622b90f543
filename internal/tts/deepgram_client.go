package tts

import (
	"context"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/speak/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	speak "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/speak"

	"github.com/lexiqai/voice-relay/internal/config"
)

var deepgramInit sync.Once

// speakFunc writes synthesized audio for text into buf
type speakFunc func(ctx context.Context, text string, options *interfaces.SpeakOptions, buf *interfaces.RawResponse) error

// DeepgramClient implements Synthesizer using Deepgram's Aura speak REST API
type DeepgramClient struct {
	toStream   speakFunc
	model      string
	sampleRate int
}

// NewDeepgramClient creates a new Deepgram speak client
func NewDeepgramClient(cfg *config.Config) *DeepgramClient {
	deepgramInit.Do(speak.InitWithDefault)

	dg := api.New(speak.NewREST(cfg.DeepgramAPIKey, &interfaces.ClientOptions{}))
	return &DeepgramClient{
		toStream: func(ctx context.Context, text string, options *interfaces.SpeakOptions, buf *interfaces.RawResponse) error {
			_, err := dg.ToStream(ctx, text, options, buf)
			return err
		},
		model:      cfg.DeepgramTTSModel,
		sampleRate: cfg.DeepgramSampleRate,
	}
}

func (d *DeepgramClient) Name() string {
	return config.ProviderDeepgram
}

// Synthesize converts text to a 16-bit PCM WAV container
func (d *DeepgramClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	options := &interfaces.SpeakOptions{
		Model:      d.model,
		Encoding:   "linear16",
		Container:  "wav",
		SampleRate: d.sampleRate,
	}

	var buffer interfaces.RawResponse
	if err := d.toStream(ctx, text, options, &buffer); err != nil {
		return nil, &BackendError{Provider: d.Name(), Err: err}
	}
	if buffer.Len() == 0 {
		return nil, &BackendError{Provider: d.Name(), Err: ErrEmptyAudio}
	}

	return buffer.Bytes(), nil
}
