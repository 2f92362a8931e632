// Package model implements the model adapter: a single owner of the
// (tokenizer, generator) pair that offloads synchronous generation work to
// a worker pool so request-handling goroutines never block directly on
// CPU/GPU-bound inference.
package model

import (
	"context"
	"errors"
	"time"

	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel"

	"github.com/sirupsen/logrus"

	"fabula/internal/llm"
	"fabula/internal/narrative"
)

// GenerateOptions are the per-call generation parameters.
type GenerateOptions struct {
	MaxNewTokens      int
	Temperature       float64
	TopP              float64
	RepetitionPenalty float64
	StopTokens        []string
	// Deadline, if non-zero, is the absolute time by which Generate must
	// complete; exceeding it surfaces ModelTimeoutError.
	Deadline time.Time
}

// Adapter owns a fabula/internal/llm CompletionProvider (generator) and
// Tokenizer, loaded once at construction, and serializes all generation
// calls through a single-worker pool: callers observe a queue, not parallel
// inference.
type Adapter struct {
	provider  llm.CompletionProvider
	tokenizer llm.Tokenizer
	modelName string
	pool      *workerPool
	log       *logrus.Entry

	genLatency otelmetric.Float64Histogram
}

// New constructs an Adapter. provider and tokenizer are loaded once by the
// caller at process start and handed in here; Adapter does not lazily
// initialize them. The provider must carry generation parameters
// (llm.CompletionProvider, not just llm.Provider) so the per-call token cap
// and sampling settings actually reach the backend.
func New(provider llm.CompletionProvider, tokenizer llm.Tokenizer, modelName string) (*Adapter, error) {
	if provider == nil {
		return nil, &narrative.ModelUnavailableError{Cause: errors.New("nil provider")}
	}
	a := &Adapter{
		provider:  provider,
		tokenizer: tokenizer,
		modelName: modelName,
		pool:      newWorkerPool(1), // single worker: the adapter is the sole owner of the generator
		log:       logrus.NewEntry(logrus.StandardLogger()),
	}
	meter := otel.Meter("internal/narrative/model")
	if h, err := meter.Float64Histogram("narrative.model.generate_latency_seconds"); err == nil {
		a.genLatency = h
	}
	return a, nil
}

// Generate submits a generation job to the adapter's worker pool and blocks
// the calling goroutine until it completes, times out, or ctx is canceled.
// It returns only the newly generated text, never the prompt.
func (a *Adapter) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	if !opts.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, opts.Deadline)
		defer cancel()
	}

	params := llm.CompletionParams{
		MaxTokens:         opts.MaxNewTokens,
		Temperature:       opts.Temperature,
		TopP:              opts.TopP,
		RepetitionPenalty: opts.RepetitionPenalty,
		Stop:              opts.StopTokens,
	}

	start := time.Now()
	text, err := a.pool.submit(ctx, func(jobCtx context.Context) (string, error) {
		msgs := []llm.Message{
			{Role: "user", Content: prompt},
		}
		reply, cerr := a.provider.ChatCompletion(jobCtx, msgs, a.modelName, params)
		if cerr != nil {
			return "", &narrative.ModelUnavailableError{Cause: cerr}
		}
		return reply.Content, nil
	})
	if a.genLatency != nil {
		a.genLatency.Record(ctx, time.Since(start).Seconds())
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", &narrative.ModelTimeoutError{Elapsed: time.Since(start).String()}
		}
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", err
	}
	return text, nil
}

// Encode proxies the tokenizer's llm.Codec surface directly; cheap enough
// not to need offload. Tokenizers that only count return an error here.
func (a *Adapter) Encode(ctx context.Context, text string) ([]int, error) {
	codec, ok := a.tokenizer.(llm.Codec)
	if !ok {
		return nil, errors.New("model: tokenizer does not expose token ids")
	}
	return codec.Encode(ctx, text)
}

// Decode proxies the tokenizer's llm.Codec surface directly.
func (a *Adapter) Decode(ctx context.Context, ids []int) (string, error) {
	codec, ok := a.tokenizer.(llm.Codec)
	if !ok {
		return "", errors.New("model: tokenizer does not expose token ids")
	}
	return codec.Decode(ctx, ids)
}

// Tokenizer exposes the underlying tokenizer for the tokens.Counter to wrap.
func (a *Adapter) Tokenizer() llm.Tokenizer { return a.tokenizer }

// Close releases the worker pool.
func (a *Adapter) Close() { a.pool.close() }
