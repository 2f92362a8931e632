// Package pipeline implements the story pipeline: the turn state machine
// that drives prompt assembly, generation, sanitizing, and history
// compaction for one player action, plus the lookup pipeline that wires
// retrieval into the describer. All mutations of one SavedGame are
// serialized through its store lock.
package pipeline

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"fabula/internal/narrative"
	"fabula/internal/narrative/assemble"
	"fabula/internal/narrative/compact"
	"fabula/internal/narrative/store"
)

// errEmptyOutputBudgetExhausted is the cause wrapped into
// ModelUnavailableError when the Generating/Sanitizing retry loop exhausts
// maxGenerationAttempts without ever producing non-blank text.
var errEmptyOutputBudgetExhausted = errors.New("pipeline: exhausted retry budget on empty/blank model output")

func newTurnID() uuid.UUID { return uuid.New() }

// maxGenerationAttempts bounds the Generating↔Sanitizing retry loop for
// empty/blank outputs only. Generation errors are never retried here.
const maxGenerationAttempts = 15

// Generator is the narrow model-calling surface the Story Pipeline needs.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// GenerateOptions mirrors model.GenerateOptions.
type GenerateOptions struct {
	MaxNewTokens int
}

// TurnRequest is one player action submitted to the Story Pipeline.
type TurnRequest struct {
	SavedGame     narrative.SavedGame
	Settings      narrative.DirectiveSettings
	ActionMode    narrative.ActionMode
	CurrentAction string
	StorySplitter string
}

// TurnResult is what the Story Pipeline produces on success.
type TurnResult struct {
	Text  string
	Game  narrative.SavedGame
}

// StoryPipeline drives the turn state machine.
type StoryPipeline struct {
	assembler *assemble.Assembler
	gen       Generator
	compactor *compact.Compactor
	store     store.Store
}

// New constructs a StoryPipeline.
func New(assembler *assemble.Assembler, gen Generator, compactor *compact.Compactor, st store.Store) *StoryPipeline {
	return &StoryPipeline{assembler: assembler, gen: gen, compactor: compactor, store: st}
}

// RunTurn drives Assembling → Generating → Sanitizing → Compacting → Idle
// for one TurnRequest, serialized per SavedGame via store.Store.Lock.
func (p *StoryPipeline) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	unlock, err := p.store.Lock(ctx, req.SavedGame.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	game, err := p.store.LoadGame(ctx, req.SavedGame.ID)
	if err != nil {
		return nil, err
	}

	// Assembling
	prompt, err := p.assembler.Build(ctx, assemble.Inputs{
		Settings:      req.Settings,
		World:         game.World,
		Player:        game.Player,
		Rating:        game.Rating,
		ActionMode:    req.ActionMode,
		CurrentAction: req.CurrentAction,
		RawTurns:      activeTurns(game.RawTurns),
		Chunks:        activeChunks(game.Chunks),
		Deep:          game.Deep,
		StorySplitter: req.StorySplitter,
	})
	if err != nil {
		// On PromptTooLarge, return to Idle without generating.
		return nil, err
	}

	sanitizer := Sanitizer{StopTokens: req.Settings.StopTokens, StorySplitter: req.StorySplitter}

	// Generating / Sanitizing, looped for empty/blank outputs only.
	var sanitized string
	for attempt := 0; attempt < maxGenerationAttempts; attempt++ {
		raw, genErr := p.gen.Generate(ctx, prompt, GenerateOptions{MaxNewTokens: req.Settings.ReservedForGeneration})
		if genErr != nil {
			// Never retries on model unavailability.
			return nil, genErr
		}
		sanitized = sanitizer.Sanitize(raw)
		if strings.TrimSpace(sanitized) != "" {
			break
		}
		sanitized = ""
	}
	if sanitized == "" {
		return nil, &narrative.ModelUnavailableError{Cause: errEmptyOutputBudgetExhausted}
	}

	// Compacting: append the sanitized text as a new RawTurn, run both
	// compaction triggers, then commit atomically.
	nextIdx := 1
	if n := len(game.RawTurns); n > 0 {
		nextIdx = game.RawTurns[n-1].EntryIndex + 1
	}
	tokenCount, err := p.assembler.CountForPipeline(ctx, sanitized)
	if err != nil {
		return nil, err
	}
	game.RawTurns = append(game.RawTurns, narrative.RawTurn{
		ID:         newTurnID(),
		SavedGame:  game.ID,
		EntryIndex: nextIdx,
		Text:       sanitized,
		TokenCount: &tokenCount,
		State:      narrative.TurnActive,
	})

	if err := p.compactor.MaybeSummarize(ctx, game, req.Settings); err != nil {
		// A failed summarization trigger does not fail the turn: the new
		// RawTurn still commits, summarization is simply deferred.
		_ = err
	}
	if err := p.compactor.MaybeDeepCompact(ctx, game, req.Settings); err != nil {
		_ = err
	}

	if err := p.store.SaveGame(ctx, game); err != nil {
		return nil, err
	}

	return &TurnResult{Text: sanitized, Game: *game}, nil
}

func activeTurns(turns []narrative.RawTurn) []narrative.RawTurn {
	out := make([]narrative.RawTurn, 0, len(turns))
	for _, t := range turns {
		if t.State == narrative.TurnActive {
			out = append(out, t)
		}
	}
	return out
}

func activeChunks(chunks []narrative.SummaryChunk) []narrative.SummaryChunk {
	out := make([]narrative.SummaryChunk, 0, len(chunks))
	for _, c := range chunks {
		if c.State == narrative.ChunkActive {
			out = append(out, c)
		}
	}
	return out
}
