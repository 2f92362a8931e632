// Package tokens implements the token counter: exact counting delegated to
// the model's own tokenizer, with an explicitly opt-in chars/4 fallback for
// when the tokenizer is unreachable.
package tokens

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"fabula/internal/llm"
)

// Result is a single count, annotated with whether it came from the exact
// tokenizer or the heuristic fallback.
type Result struct {
	Count       int
	Approximate bool
}

// Tokenizer is the narrow interface the Counter delegates to. It is
// satisfied directly by fabula/internal/llm.Tokenizer so the Counter
// always uses the exact tokenizer the Model Adapter will generate with.
type Tokenizer interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

// Counter exposes Count/CountBatch. It is a pure function of its Tokenizer
// plus an optional Cache; it has no other side effects.
type Counter struct {
	tok Tokenizer
	cache *Cache

	// AllowFallback permits falling back to the chars/4 heuristic when the
	// tokenizer errors. Off by default: budget-critical callers (the
	// Assembler) must see the error and decide, never silently receive an
	// approximate count they can't distinguish from an exact one.
	AllowFallback bool

	log *logrus.Entry
}

// Option configures a Counter.
type Option func(*Counter)

// WithCache attaches a Cache so repeated counts of identical text short-circuit.
func WithCache(c *Cache) Option { return func(cnt *Counter) { cnt.cache = c } }

// WithFallback enables the chars/4 heuristic fallback path.
func WithFallback(allow bool) Option { return func(cnt *Counter) { cnt.AllowFallback = allow } }

// WithLogger attaches a structured logger.
func WithLogger(log *logrus.Entry) Option { return func(cnt *Counter) { cnt.log = log } }

// New constructs a Counter backed by tok.
func New(tok Tokenizer, opts ...Option) *Counter {
	c := &Counter{tok: tok, log: logrus.NewEntry(logrus.StandardLogger())}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Count returns the token count for text, consulting the cache first.
func (c *Counter) Count(ctx context.Context, text string) (Result, error) {
	if text == "" {
		return Result{Count: 0}, nil
	}
	if c.cache != nil {
		if n, ok := c.cache.Get(text); ok {
			return Result{Count: n}, nil
		}
	}
	n, err := c.tok.CountTokens(ctx, text)
	if err != nil {
		if !c.AllowFallback {
			return Result{}, &TokenizerError{Cause: err}
		}
		c.log.WithError(err).Warn("tokens: falling back to chars/4 heuristic")
		return Result{Count: llm.EstimateTokens(text), Approximate: true}, nil
	}
	if c.cache != nil {
		c.cache.Set(text, n)
	}
	return Result{Count: n}, nil
}

// CountBatch counts tokens for each text in texts. When the underlying
// Tokenizer supports a batch round-trip (BatchTokenizer), it is used to
// collapse N calls into one; otherwise Count is called once per text.
//
// Idempotence: CountBatch([t])[0] must equal Count(t) for all t: both
// paths route through the same cache, and a BatchTokenizer's
// CountTokensBatch must return the same counts as its CountTokens.
func (c *Counter) CountBatch(ctx context.Context, texts []string) ([]Result, error) {
	results := make([]Result, len(texts))

	// Resolve from cache first, collecting the texts that still need a
	// tokenizer round trip.
	pending := make([]int, 0, len(texts))
	for i, t := range texts {
		if t == "" {
			results[i] = Result{Count: 0}
			continue
		}
		if c.cache != nil {
			if n, ok := c.cache.Get(t); ok {
				results[i] = Result{Count: n}
				continue
			}
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return results, nil
	}

	if batcher, ok := c.tok.(BatchTokenizer); ok {
		pendingTexts := make([]string, len(pending))
		for j, i := range pending {
			pendingTexts[j] = texts[i]
		}
		counts, err := batcher.CountTokensBatch(ctx, pendingTexts)
		if err != nil {
			if !c.AllowFallback {
				return nil, &TokenizerError{Cause: err}
			}
			c.log.WithError(err).Warn("tokens: batch call failed, falling back to chars/4 heuristic")
			for j, i := range pending {
				results[i] = Result{Count: llm.EstimateTokens(texts[i]), Approximate: true}
				_ = j
			}
			return results, nil
		}
		for j, i := range pending {
			results[i] = Result{Count: counts[j]}
			if c.cache != nil {
				c.cache.Set(texts[i], counts[j])
			}
		}
		return results, nil
	}

	for _, i := range pending {
		r, err := c.Count(ctx, texts[i])
		if err != nil {
			return nil, err
		}
		results[i] = r
	}
	return results, nil
}

// IntCounter adapts a Counter to the narrow `Count(ctx, text) (int, error)`
// surface that assemble.Counter, compact.Counter, and lookup.Counter each
// declare, so the assembler, compactor, and lookup assembler can all share
// one Counter instance (and its Cache) without depending on tokens.Result.
type IntCounter struct {
	*Counter
}

// Count discards the Approximate flag, satisfying the narrow Counter
// interfaces used downstream. Callers that need to know whether a count was
// approximated should call Counter.Count directly instead.
func (c IntCounter) Count(ctx context.Context, text string) (int, error) {
	r, err := c.Counter.Count(ctx, text)
	if err != nil {
		return 0, err
	}
	return r.Count, nil
}

// BatchTokenizer is an optional interface a Tokenizer can implement to
// collapse a batch of texts into a single remote round-trip.
type BatchTokenizer interface {
	CountTokensBatch(ctx context.Context, texts []string) ([]int, error)
}

// TokenizerError wraps a counting failure that was not absorbed by a
// fallback.
type TokenizerError struct {
	Cause error
}

func (e *TokenizerError) Error() string {
	var sb strings.Builder
	sb.WriteString("tokenizer error")
	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}
	return sb.String()
}

func (e *TokenizerError) Unwrap() error { return e.Cause }
