// Package pipeline turns a stream of generated text into a single WAV
// artifact: sentences are cut from the stream as they complete, synthesized
// concurrently and joined in sentence order.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/audio"
	"github.com/lexiqai/voice-relay/internal/config"
	"github.com/lexiqai/voice-relay/internal/dispatch"
	"github.com/lexiqai/voice-relay/internal/llm"
	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/segment"
)

var (
	// ErrPipeline is wrapped by every error Run returns
	ErrPipeline = errors.New("pipeline failed")

	ErrStream                = fmt.Errorf("%w: token stream failed", ErrPipeline)
	ErrNoSentences           = fmt.Errorf("%w: no sentences to synthesize", ErrPipeline)
	ErrTotalSynthesisFailure = fmt.Errorf("%w: every sentence failed to synthesize", ErrPipeline)
)

// Artifact is the finished audio for one request
type Artifact struct {
	Audio       []byte
	ContentType string
	Format      audio.Format
	Duration    time.Duration
	Text        string          // Full generated text
	Sentences   int             // Units handed to synthesis
	Synthesized int             // Units whose audio is in Audio
	Failed      []int           // Indices whose synthesis failed
	Skipped     []audio.Skipped // Synthesized chunks left out while joining
}

// Observer receives progress callbacks. OnSynthesized may be called from
// several goroutines at once.
type Observer interface {
	OnSentence(u segment.Unit)
	OnSynthesized(r dispatch.Result)
}

// Options configures an Orchestrator
type Options struct {
	Strategy       string // config.StrategyStreaming or config.StrategyBatch
	MismatchPolicy audio.MismatchPolicy
}

// Orchestrator drives segmentation, synthesis and joining for one request at a time.
// It holds no per-request state and may be shared.
type Orchestrator struct {
	dispatcher *dispatch.Dispatcher
	strategy   string
	policy     audio.MismatchPolicy
}

// New creates an Orchestrator
func New(d *dispatch.Dispatcher, opts Options) (*Orchestrator, error) {
	strategy := opts.Strategy
	if strategy == "" {
		strategy = config.StrategyStreaming
	}
	if strategy != config.StrategyStreaming && strategy != config.StrategyBatch {
		return nil, fmt.Errorf("unsupported dispatch strategy %q", opts.Strategy)
	}

	policy := opts.MismatchPolicy
	if policy == "" {
		policy = audio.MismatchReject
	}

	return &Orchestrator{dispatcher: d, strategy: strategy, policy: policy}, nil
}

// Strategy returns the configured dispatch strategy
func (o *Orchestrator) Strategy() string {
	return o.strategy
}

// RunOption customizes a single Run
type RunOption func(*run)

// WithObserver reports progress to obs
func WithObserver(obs Observer) RunOption {
	return func(r *run) { r.observer = obs }
}

// WithMetrics records request metrics on m
func WithMetrics(m *observability.Metrics) RunOption {
	return func(r *run) { r.metrics = m }
}

type run struct {
	observer Observer
	metrics  *observability.Metrics
	logger   zerolog.Logger
	text     strings.Builder
}

func (r *run) sentence(u segment.Unit) {
	r.metrics.RecordSentence()
	if r.observer != nil {
		r.observer.OnSentence(u)
	}
}

func (r *run) synthesized(res dispatch.Result) {
	if r.observer != nil {
		r.observer.OnSynthesized(res)
	}
}

// Run consumes tokens until the stream ends and returns the joined audio.
// Nothing is returned but an error if the stream fails, no sentence was
// produced, no sentence could be synthesized, or ctx ended before synthesis
// finished.
func (o *Orchestrator) Run(ctx context.Context, tokens <-chan llm.TokenEvent, opts ...RunOption) (*Artifact, error) {
	r := &run{
		metrics: observability.NewRequestMetrics(),
		logger:  observability.FromContext(ctx).With().Str("component", "pipeline").Logger(),
	}
	for _, opt := range opts {
		opt(r)
	}

	var results []dispatch.Result
	var err error
	if o.strategy == config.StrategyBatch {
		results, err = o.runBatch(ctx, tokens, r)
	} else {
		results, err = o.runStreaming(ctx, tokens, r)
	}
	if err != nil {
		return nil, err
	}

	return o.assemble(results, r)
}

// runStreaming submits each sentence the moment it completes
func (o *Orchestrator) runStreaming(ctx context.Context, tokens <-chan llm.TokenEvent, r *run) ([]dispatch.Result, error) {
	batchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	batch := o.dispatcher.NewBatch(batchCtx)
	batch.OnResult(r.synthesized)

	seg := segment.New()
	submit := func(u segment.Unit) {
		r.sentence(u)
		batch.Submit(u)
	}

	if err := consume(ctx, tokens, r, func(delta string) {
		for _, u := range seg.Feed(delta) {
			submit(u)
		}
	}); err != nil {
		cancel()
		batch.Wait()
		r.logger.Debug().Int("submitted", seg.Emitted()).Int("pending_bytes", len(seg.Pending())).Msg("Token stream aborted")
		return nil, err
	}

	if u, ok := seg.Flush(); ok {
		submit(u)
	}
	if seg.Emitted() == 0 {
		return nil, ErrNoSentences
	}

	r.logger.Debug().Int("sentences", batch.Len()).Msg("Token stream complete, waiting for synthesis")
	results := batch.Wait()
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPipeline, err)
	}
	return results, nil
}

// runBatch drains the stream before synthesizing anything
func (o *Orchestrator) runBatch(ctx context.Context, tokens <-chan llm.TokenEvent, r *run) ([]dispatch.Result, error) {
	seg := segment.New()
	var units []segment.Unit

	if err := consume(ctx, tokens, r, func(delta string) {
		units = append(units, seg.Feed(delta)...)
	}); err != nil {
		r.logger.Debug().Int("segmented", seg.Emitted()).Int("pending_bytes", len(seg.Pending())).Msg("Token stream aborted")
		return nil, err
	}

	if u, ok := seg.Flush(); ok {
		units = append(units, u)
	}
	if seg.Emitted() == 0 {
		return nil, ErrNoSentences
	}

	for _, u := range units {
		r.sentence(u)
	}

	results := o.dispatcher.Dispatch(ctx, units)
	for _, res := range results {
		r.synthesized(res)
	}
	// Results cut short by the deadline are not a usable artifact
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPipeline, err)
	}
	return results, nil
}

// consume reads tokens in arrival order until the stream ends cleanly
func consume(ctx context.Context, tokens <-chan llm.TokenEvent, r *run, onDelta func(string)) error {
	for {
		select {
		case <-ctx.Done():
			r.metrics.RecordLLMEnd(false)
			return fmt.Errorf("%w: %w", ErrPipeline, ctx.Err())
		case evt, ok := <-tokens:
			if !ok || evt.Done {
				r.metrics.RecordLLMEnd(true)
				return nil
			}
			if evt.Err != nil {
				r.metrics.RecordLLMEnd(false)
				r.metrics.RecordError("stream", "llm")
				return fmt.Errorf("%w: %w", ErrStream, evt.Err)
			}
			if evt.Delta == "" {
				continue
			}
			r.metrics.RecordLLMToken()
			r.text.WriteString(evt.Delta)
			onDelta(evt.Delta)
		}
	}
}

// assemble joins successful results in index order into one WAV
func (o *Orchestrator) assemble(results []dispatch.Result, r *run) (*Artifact, error) {
	if dispatch.AllFailed(results) {
		r.metrics.RecordError("total_synthesis_failure", "tts")
		return nil, fmt.Errorf("%w (%d sentences): %w", ErrTotalSynthesisFailure, len(results), results[0].Err)
	}

	chunks := make([]audio.Chunk, 0, len(results))
	var failed []int
	for _, res := range results {
		if !res.OK() {
			failed = append(failed, res.Index)
			continue
		}
		chunks = append(chunks, audio.Chunk{Index: res.Index, Data: res.Audio})
	}

	joined, err := audio.Concatenate(chunks, o.policy)
	if err != nil {
		r.metrics.RecordError("concatenate", "audio")
		return nil, fmt.Errorf("%w: %w", ErrPipeline, err)
	}
	for _, s := range joined.Skipped {
		r.metrics.RecordSkippedChunk(s.Reason)
		r.logger.Warn().Err(s.Err).Int("index", s.Index).Str("reason", s.Reason).Msg("Audio chunk skipped")
	}

	wav, err := audio.Encode(joined.Format, joined.Frames)
	if err != nil {
		r.metrics.RecordError("encode", "audio")
		return nil, fmt.Errorf("%w: %w", ErrPipeline, err)
	}
	r.metrics.RecordAudioBytes("out", int64(len(wav)))

	artifact := &Artifact{
		Audio:       wav,
		ContentType: audio.ContentType,
		Format:      joined.Format,
		Duration:    joined.Format.Duration(len(joined.Frames)),
		Text:        r.text.String(),
		Sentences:   len(results),
		Synthesized: joined.Chunks,
		Failed:      failed,
		Skipped:     joined.Skipped,
	}

	r.logger.Info().
		Int("sentences", artifact.Sentences).
		Int("synthesized", artifact.Synthesized).
		Int("failed", len(failed)).
		Int("skipped", len(joined.Skipped)).
		Dur("duration", artifact.Duration).
		Int("bytes", len(wav)).
		Msg("Audio assembled")

	return artifact, nil
}
