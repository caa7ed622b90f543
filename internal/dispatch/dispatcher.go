// Package dispatch fans sentence units out to a speech synthesizer with
// bounded concurrency and collects exactly one result per unit.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/lexiqai/voice-relay/internal/observability"
	"github.com/lexiqai/voice-relay/internal/segment"
	"github.com/lexiqai/voice-relay/internal/tts"
)

// DefaultConcurrency bounds simultaneous backend calls when no limit is configured
const DefaultConcurrency = 5

var (
	// ErrEmptyResult marks a synthesis call that returned no audio and no error
	ErrEmptyResult = errors.New("synthesizer returned no audio")

	// ErrWorkerPanic marks a synthesis call that panicked
	ErrWorkerPanic = errors.New("synthesis worker panicked")
)

// Result is the outcome of synthesizing one unit. A nil Audio means the
// unit is absent from the final artifact; Err records why.
type Result struct {
	Index   int
	Text    string
	Audio   []byte
	Err     error
	Latency time.Duration
}

// OK reports whether the unit produced audio
func (r Result) OK() bool {
	return r.Audio != nil
}

// AllFailed reports whether results is non-empty and holds no audio at all
func AllFailed(results []Result) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.OK() {
			return false
		}
	}
	return true
}

// Config controls dispatcher limits
type Config struct {
	Concurrency int     // Concurrent calls per batch
	RateLimit   float64 // Calls per second across all batches, 0 = unlimited
}

// Dispatcher runs synthesis calls for batches of units
type Dispatcher struct {
	synth   tts.Synthesizer
	limit   int64
	limiter *rate.Limiter
}

// New creates a Dispatcher around synth
func New(synth tts.Synthesizer, cfg Config) *Dispatcher {
	limit := cfg.Concurrency
	if limit < 1 {
		limit = DefaultConcurrency
	}

	d := &Dispatcher{synth: synth, limit: int64(limit)}
	if cfg.RateLimit > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return d
}

// Limit returns the per-batch concurrency bound
func (d *Dispatcher) Limit() int {
	return int(d.limit)
}

// Dispatch synthesizes every unit and returns one result per unit, ordered by index.
// A failed unit never aborts its siblings.
func (d *Dispatcher) Dispatch(ctx context.Context, units []segment.Unit) []Result {
	b := d.newBatch(ctx, len(units))
	for _, u := range units {
		b.Submit(u)
	}
	return b.Wait()
}

// Batch collects results for units submitted one at a time, as a stream
// produces them. Submit and Wait must be called from a single goroutine.
type Batch struct {
	d      *Dispatcher
	ctx    context.Context
	sem    *semaphore.Weighted
	logger zerolog.Logger

	wg       sync.WaitGroup
	slots    []*Result
	onResult func(Result)
	waited   bool
}

// NewBatch starts an empty batch bound to ctx. Cancelling ctx stops units
// that have not started yet; running calls see the cancelled context.
func (d *Dispatcher) NewBatch(ctx context.Context) *Batch {
	return d.newBatch(ctx, 0)
}

func (d *Dispatcher) newBatch(ctx context.Context, size int) *Batch {
	return &Batch{
		d:      d,
		ctx:    ctx,
		sem:    semaphore.NewWeighted(d.limit),
		logger: observability.FromContext(ctx).With().Str("component", "dispatch").Logger(),
		slots:  make([]*Result, 0, size),
	}
}

// OnResult registers fn to be called as each unit finishes. fn runs on worker
// goroutines and must be safe for concurrent use. Call before the first Submit.
func (b *Batch) OnResult(fn func(Result)) {
	b.onResult = fn
}

// Submit schedules u for synthesis without waiting for a free slot
func (b *Batch) Submit(u segment.Unit) {
	if b.waited {
		panic("dispatch: Submit after Wait")
	}

	slot := &Result{Index: u.Index, Text: u.Text}
	b.slots = append(b.slots, slot)

	b.wg.Add(1)
	go b.run(u, slot)
}

// Len returns how many units have been submitted
func (b *Batch) Len() int {
	return len(b.slots)
}

// Wait blocks until every submitted unit has finished and returns the
// results ordered by index
func (b *Batch) Wait() []Result {
	b.wg.Wait()
	b.waited = true

	results := make([]Result, len(b.slots))
	for i, slot := range b.slots {
		results[i] = *slot
	}
	slices.SortFunc(results, func(x, y Result) int {
		return x.Index - y.Index
	})
	return results
}

// run owns slot exclusively until wg.Done
func (b *Batch) run(u segment.Unit, slot *Result) {
	defer b.wg.Done()
	defer func() {
		if p := recover(); p != nil {
			slot.Audio = nil
			slot.Err = fmt.Errorf("%w: %v", ErrWorkerPanic, p)
		}
		if slot.Err != nil {
			b.logger.Warn().Err(slot.Err).Int("index", u.Index).Msg("Sentence synthesis failed")
		}
		if b.onResult != nil {
			b.onResult(*slot)
		}
	}()

	if err := b.sem.Acquire(b.ctx, 1); err != nil {
		slot.Err = err
		return
	}
	defer b.sem.Release(1)

	// Acquire may win the race against an already cancelled context
	if err := b.ctx.Err(); err != nil {
		slot.Err = err
		return
	}

	if b.d.limiter != nil {
		if err := b.d.limiter.Wait(b.ctx); err != nil {
			slot.Err = err
			return
		}
	}

	observability.SynthesisStarted()
	defer observability.SynthesisFinished()

	start := time.Now()
	audio, err := b.d.synth.Synthesize(b.ctx, u.Text)
	slot.Latency = time.Since(start)

	switch {
	case err != nil:
		slot.Err = err
	case len(audio) == 0:
		slot.Err = ErrEmptyResult
	default:
		slot.Audio = audio
	}
}
