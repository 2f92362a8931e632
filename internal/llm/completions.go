package llm

import "context"

// CompletionParams carries the per-call sampling and length controls a
// generation request is made with.
type CompletionParams struct {
	// MaxTokens caps the number of newly generated tokens. Zero means the
	// backend's own default.
	MaxTokens         int
	Temperature       float64
	TopP              float64
	RepetitionPenalty float64
	// Stop lists sequences at which the backend should stop generating.
	Stop []string
}

// CompletionProvider is a Provider that accepts explicit generation
// parameters on each call. The narrative model adapter requires this
// surface: prompt budgeting reserves a fixed number of tokens for
// generation, and that reservation is only real if MaxTokens reaches the
// backend.
type CompletionProvider interface {
	Provider

	// ChatCompletion generates one assistant reply for msgs with the given
	// params. It returns only the newly generated content, never the prompt.
	ChatCompletion(ctx context.Context, msgs []Message, model string, params CompletionParams) (Message, error)
}
