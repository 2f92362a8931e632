package narrative

import (
	"context"

	"github.com/google/uuid"

	"fabula/internal/narrative/assemble"
	"fabula/internal/narrative/compact"
	"fabula/internal/narrative/lookup"
	"fabula/internal/narrative/model"
	"fabula/internal/narrative/pipeline"
	"fabula/internal/narrative/retrieve"
	"fabula/internal/narrative/settings"
	"fabula/internal/narrative/store"
	"fabula/internal/narrative/tokens"
)

// Default sampling parameters applied to generation calls. Sampling knobs
// beyond token budgets are an operational tuning concern, not part of the
// per-tier directive contract, so DirectiveSettings does not carry them.
const (
	defaultTemperature       = 0.8
	defaultTopP              = 0.95
	defaultRepetitionPenalty = 1.15
)

// storyGenerator adapts *model.Adapter to pipeline.Generator, translating
// pipeline's narrow GenerateOptions into the full set model.Adapter expects
// and attaching the tier's stop tokens.
type storyGenerator struct {
	adapter    *model.Adapter
	stopTokens []string
}

func (g storyGenerator) Generate(ctx context.Context, prompt string, opts pipeline.GenerateOptions) (string, error) {
	return g.adapter.Generate(ctx, prompt, model.GenerateOptions{
		MaxNewTokens:      opts.MaxNewTokens,
		Temperature:       defaultTemperature,
		TopP:              defaultTopP,
		RepetitionPenalty: defaultRepetitionPenalty,
		StopTokens:        g.stopTokens,
	})
}

// compactGenerator adapts *model.Adapter to compact.Generator.
type compactGenerator struct{ adapter *model.Adapter }

func (g compactGenerator) Generate(ctx context.Context, prompt string, opts compact.GenerateOptions) (string, error) {
	return g.adapter.Generate(ctx, prompt, model.GenerateOptions{
		MaxNewTokens: opts.MaxNewTokens,
		Temperature:  defaultTemperature,
		TopP:         defaultTopP,
	})
}

// lookupGenerator adapts *model.Adapter to lookup.Generator.
type lookupGenerator struct{ adapter *model.Adapter }

func (g lookupGenerator) Generate(ctx context.Context, prompt string, opts lookup.GenerateOptions) (string, error) {
	return g.adapter.Generate(ctx, prompt, model.GenerateOptions{
		MaxNewTokens: opts.MaxNewTokens,
		Temperature:  defaultTemperature,
		TopP:         defaultTopP,
	})
}

// Service wires every narrative component into one programmatic surface:
// turn.generate, turn.summarize, turn.deep_summarize, lore.retrieve, and
// tokens.count / tokens.count_batch. Serving these as HTTP is a concern of
// whatever router or RPC layer calls into Service.
type Service struct {
	Settings *settings.Provider
	Counter  *tokens.Counter
	Model    *model.Adapter
	Store    store.Store

	assembler      *assemble.Assembler
	compactor      *compact.Compactor
	lookupAsm      *lookup.Assembler
	lookupPipeline *pipeline.LookupPipeline
}

// NewService constructs a Service from its owned collaborators, wiring the
// shared tokens.Counter and model.Adapter into the assembler, compactor,
// and lookup assembler so all of them count and generate through the same
// pair.
func NewService(settingsProvider *settings.Provider, counter *tokens.Counter, modelAdapter *model.Adapter, st store.Store, fetcher *retrieve.Fetcher) *Service {
	ic := tokens.IntCounter{Counter: counter}

	assembler := assemble.New(ic)
	compactor := compact.New(compactGenerator{adapter: modelAdapter}, ic)
	lookupAsm := lookup.New(ic, lookupGenerator{adapter: modelAdapter})

	return &Service{
		Settings:       settingsProvider,
		Counter:        counter,
		Model:          modelAdapter,
		Store:          st,
		assembler:      assembler,
		compactor:      compactor,
		lookupAsm:      lookupAsm,
		lookupPipeline: pipeline.NewLookupPipeline(fetcher, lookupAsm),
	}
}

// DefaultStorySplitter is the terminator the Assembler appends after the
// current-action block when a caller doesn't supply its own. It is a
// distinct marker from DirectiveSettings.SummarySplitMarker, which instead
// delimits the Compactor's summarization directive.
const DefaultStorySplitter = "<<STORY_END>>"

// GenerateTurnRequest is turn.generate's input.
type GenerateTurnRequest struct {
	UserID        string
	GameID        string
	ActionMode    ActionMode
	CurrentAction string
	// StorySplitter overrides DefaultStorySplitter when non-empty.
	StorySplitter string
}

// GenerateTurnResponse is turn.generate's success output: `{ story: string }`.
type GenerateTurnResponse struct {
	Story string
}

// GenerateTurn implements the turn.generate endpoint: Settings Provider →
// Story Pipeline (Assembling → Generating → Sanitizing → Compacting).
func (s *Service) GenerateTurn(ctx context.Context, req GenerateTurnRequest) (*GenerateTurnResponse, error) {
	tierSettings, err := s.Settings.Get(ctx, req.UserID)
	if err != nil {
		return nil, err
	}

	gameID, err := uuid.Parse(req.GameID)
	if err != nil {
		return nil, &BadRequestError{Msg: "invalid game id"}
	}
	game, err := s.Store.LoadGame(ctx, gameID)
	if err != nil {
		return nil, err
	}

	splitter := req.StorySplitter
	if splitter == "" {
		splitter = DefaultStorySplitter
	}

	sp := pipeline.New(s.assembler, storyGenerator{adapter: s.Model, stopTokens: tierSettings.StopTokens}, s.compactor, s.Store)
	result, err := sp.RunTurn(ctx, pipeline.TurnRequest{
		SavedGame:     *game,
		Settings:      tierSettings,
		ActionMode:    req.ActionMode,
		CurrentAction: req.CurrentAction,
		StorySplitter: splitter,
	})
	if err != nil {
		return nil, err
	}
	return &GenerateTurnResponse{Story: result.Text}, nil
}

// SummarizeRequest is turn.summarize's input: a list of entries to fold
// into one summary.
type SummarizeRequest struct {
	Entries   []string
	MaxTokens int
}

// SummarizeResponse is turn.summarize's `{ summary: string }` output.
type SummarizeResponse struct {
	Summary string
}

// Summarize implements turn.summarize directly against the Model Adapter,
// for callers that want a one-off summary outside the per-game Compactor
// flow (e.g. admin tooling, or re-summarizing an edited range).
func (s *Service) Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResponse, error) {
	var text string
	for _, e := range req.Entries {
		text += e + "\n"
	}
	out, err := s.Model.Generate(ctx, text, model.GenerateOptions{MaxNewTokens: req.MaxTokens, Temperature: defaultTemperature, TopP: defaultTopP})
	if err != nil {
		return nil, err
	}
	return &SummarizeResponse{Summary: out}, nil
}

// DeepSummarizeRequest is turn.deep_summarize's input: an already-formatted
// compression prompt.
type DeepSummarizeRequest struct {
	Prompt    string
	MaxTokens int
}

// DeepSummarizeResponse is turn.deep_summarize's `{ summary: string }` output.
type DeepSummarizeResponse struct {
	Summary string
}

// DeepSummarize implements turn.deep_summarize.
func (s *Service) DeepSummarize(ctx context.Context, req DeepSummarizeRequest) (*DeepSummarizeResponse, error) {
	out, err := s.Model.Generate(ctx, req.Prompt, model.GenerateOptions{MaxNewTokens: req.MaxTokens, Temperature: defaultTemperature, TopP: defaultTopP})
	if err != nil {
		return nil, err
	}
	return &DeepSummarizeResponse{Summary: out}, nil
}

// LoreRetrieveRequest is lore.retrieve's input.
type LoreRetrieveRequest struct {
	UserID string
	Query  string
}

// LoreRetrieve implements the lore.retrieve endpoint: Retrieval Fetcher →
// Section Selector → Lookup Assembler → Model Adapter.
func (s *Service) LoreRetrieve(ctx context.Context, req LoreRetrieveRequest) (string, error) {
	tierSettings, err := s.Settings.Get(ctx, req.UserID)
	if err != nil {
		return "", err
	}
	return s.lookupPipeline.Run(ctx, pipeline.LookupRequest{
		Settings:   tierSettings,
		Query:      req.Query,
		SelectMaxN: 3,
	})
}

// CountTokensResponse is tokens.count's `{ token_count }` output.
type CountTokensResponse struct {
	TokenCount int
}

// CountTokens implements tokens.count.
func (s *Service) CountTokens(ctx context.Context, text string) (*CountTokensResponse, error) {
	r, err := s.Counter.Count(ctx, text)
	if err != nil {
		return nil, err
	}
	return &CountTokensResponse{TokenCount: r.Count}, nil
}

// CountTokensBatchResponse is tokens.count_batch's `{ token_counts: [] }` output.
type CountTokensBatchResponse struct {
	TokenCounts []int
}

// CountTokensBatch implements tokens.count_batch.
func (s *Service) CountTokensBatch(ctx context.Context, texts []string) (*CountTokensBatchResponse, error) {
	results, err := s.Counter.CountBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(results))
	for i, r := range results {
		out[i] = r.Count
	}
	return &CountTokensBatchResponse{TokenCounts: out}, nil
}
