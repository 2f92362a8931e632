// Package compact implements the history compactor: promoting raw turns
// into summary chunks and compressing aged-out chunks into deep memory.
package compact

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fabula/internal/narrative"
)

// Generator is the narrow model-calling surface the Compactor needs.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// GenerateOptions mirrors model.GenerateOptions without importing the model
// package, keeping compact decoupled from the adapter's concrete type.
type GenerateOptions struct {
	MaxNewTokens int
}

// Counter is the narrow token-counting surface the Compactor needs.
type Counter interface {
	Count(ctx context.Context, text string) (int, error)
}

// Compactor owns both compaction triggers: MaybeSummarize folds raw turns
// into chunks, MaybeDeepCompact folds aged-out chunks into deep memory.
type Compactor struct {
	gen     Generator
	counter Counter
	log     *logrus.Entry
}

// New constructs a Compactor.
func New(gen Generator, counter Counter) *Compactor {
	return &Compactor{gen: gen, counter: counter, log: logrus.NewEntry(logrus.StandardLogger())}
}

// MaybeSummarize checks whether the token sum over Active RawTurns newer
// than the newest chunk's end_index has reached settings.TokenizeThreshold,
// and if so summarizes them into the newest chunk (merge path) or a new
// chunk (new-chunk path), then marks the summarized turns Archived.
//
// It updates game.Chunks and game.RawTurns in place. On persistent
// summarization failure, the trigger is abandoned for this turn: the
// game's chunks/turns are left as they were (narrative.SummaryFailedError
// is returned so callers can log it, but no state is corrupted).
func (c *Compactor) MaybeSummarize(
	ctx context.Context,
	game *narrative.SavedGame,
	settings narrative.DirectiveSettings,
) error {
	newest, newestIdx := newestActiveChunk(game.Chunks)

	var newTurnIdx []int
	sum := 0
	for i, t := range game.RawTurns {
		if t.State != narrative.TurnActive {
			continue
		}
		if newest != nil && t.EntryIndex <= newest.EndIndex {
			continue
		}
		tc := 0
		if t.TokenCount != nil {
			tc = *t.TokenCount
		} else {
			// An edited turn has no cached count; count it now.
			n, err := c.counter.Count(ctx, t.Text)
			if err != nil {
				return &narrative.SummaryFailedError{Cause: err}
			}
			tc = n
		}
		sum += tc
		newTurnIdx = append(newTurnIdx, i)
	}
	if sum < settings.TokenizeThreshold || len(newTurnIdx) == 0 {
		return nil
	}

	texts := make([]string, len(newTurnIdx))
	for j, i := range newTurnIdx {
		texts[j] = game.RawTurns[i].Text
	}

	var previousSummary string
	if newest != nil {
		previousSummary = newest.Summary
	}

	prompt, err := buildSummaryPrompt(ctx, c.counter, texts, previousSummary, settings)
	if err != nil {
		return &narrative.SummaryFailedError{Cause: err}
	}
	summary, err := c.generateWithRetry(ctx, prompt, settings.ChunkMaxTokens, settings.SummarySplitMarker)
	if err != nil {
		return &narrative.SummaryFailedError{Cause: err}
	}

	summaryTokens, err := c.counter.Count(ctx, summary)
	if err != nil {
		return &narrative.SummaryFailedError{Cause: err}
	}

	refs := make(map[uuid.UUID]struct{}, len(newTurnIdx))
	for _, i := range newTurnIdx {
		refs[game.RawTurns[i].ID] = struct{}{}
	}
	minIdx := game.RawTurns[newTurnIdx[0]].EntryIndex
	maxIdx := game.RawTurns[newTurnIdx[len(newTurnIdx)-1]].EntryIndex

	utilization := 0.0
	if newest != nil && settings.ChunkMaxTokens > 0 {
		utilization = float64(newest.TokenCount) / float64(settings.ChunkMaxTokens)
	}

	if newest != nil && utilization < 0.9 {
		combined := newest.TokenCount + summaryTokens
		if combined <= settings.ChunkMaxTokens {
			// Merge path: append in place, extend end_index, union refs.
			newest.Summary = newest.Summary + "\n" + summary
			newest.TokenCount = combined
			newest.EndIndex = maxIdx
			for id := range refs {
				newest.AddRef(id)
			}
			game.Chunks[newestIdx] = *newest
			archiveTurns(game, newTurnIdx)
			return nil
		}
		// Merge overflow: fall through to new-chunk path.
	}

	chunk := narrative.SummaryChunk{
		ID:         uuid.New(),
		SavedGame:  game.ID,
		StartIndex: minIdx,
		EndIndex:   maxIdx,
		Summary:    summary,
		TokenCount: summaryTokens,
		Refs:       refs,
		State:      narrative.ChunkActive,
	}
	game.Chunks = append(game.Chunks, chunk)
	archiveTurns(game, newTurnIdx)
	return nil
}

// MaybeDeepCompact compacts the oldest (active_count − MaxActiveChunks + 2)
// chunks into DeepMemory once the number of Active SummaryChunks exceeds
// settings.MaxActiveChunks. The +2 overshoot amortizes how often the
// trigger fires.
func (c *Compactor) MaybeDeepCompact(
	ctx context.Context,
	game *narrative.SavedGame,
	settings narrative.DirectiveSettings,
) error {
	activeIdx := activeChunkIndices(game.Chunks)
	if len(activeIdx) <= settings.MaxActiveChunks {
		return nil
	}
	excess := len(activeIdx) - settings.MaxActiveChunks + 2
	if excess > len(activeIdx) {
		excess = len(activeIdx)
	}

	// Oldest first: activeIdx is already in ascending end_index order
	// because summarization only ever appends newer chunks.
	selected := activeIdx[:excess]

	summaries := make([]string, len(selected))
	maxEnd := 0
	for j, idx := range selected {
		summaries[j] = game.Chunks[idx].Summary
		if game.Chunks[idx].EndIndex > maxEnd {
			maxEnd = game.Chunks[idx].EndIndex
		}
	}

	var previous string
	if game.Deep != nil {
		previous = game.Deep.Summary
	}

	deepPrompt := buildDeepCompressionPrompt(previous, summaries)
	deepSummary, err := c.generateWithRetry(ctx, deepPrompt, settings.DeepMemoryMaxTokens, settings.SummarySplitMarker)
	if err != nil {
		return &narrative.SummaryFailedError{Cause: err}
	}
	deepTokens, err := c.counter.Count(ctx, deepSummary)
	if err != nil {
		return &narrative.SummaryFailedError{Cause: err}
	}

	if game.Deep == nil {
		game.Deep = &narrative.DeepMemory{
			ID:        uuid.New(),
			SavedGame: game.ID,
		}
	}
	game.Deep.Summary = deepSummary
	game.Deep.TokenCount = deepTokens
	game.Deep.ChunksMergedCount += excess
	if maxEnd > game.Deep.LastMergedEndIndex {
		game.Deep.LastMergedEndIndex = maxEnd
	}

	for _, idx := range selected {
		game.Chunks[idx].State = narrative.ChunkCompacted
	}
	return nil
}

// generateWithRetry retries summarization once per trigger; on persistent
// failure the trigger is abandoned for this turn and the caller leaves
// state untouched.
func (c *Compactor) generateWithRetry(
	ctx context.Context,
	prompt string,
	maxNewTokens int,
	splitMarker string,
) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		raw, err := c.gen.Generate(ctx, prompt, GenerateOptions{MaxNewTokens: maxNewTokens})
		if err != nil {
			lastErr = err
			c.log.WithError(err).WithField("attempt", attempt+1).Warn("compact: summarization attempt failed")
			continue
		}
		return isolateSummary(raw, splitMarker), nil
	}
	return "", lastErr
}

func newestActiveChunk(chunks []narrative.SummaryChunk) (*narrative.SummaryChunk, int) {
	best := -1
	for i, c := range chunks {
		if c.State != narrative.ChunkActive {
			continue
		}
		if best == -1 || c.EndIndex > chunks[best].EndIndex {
			best = i
		}
	}
	if best == -1 {
		return nil, -1
	}
	cp := chunks[best]
	return &cp, best
}

func activeChunkIndices(chunks []narrative.SummaryChunk) []int {
	var idx []int
	for i, c := range chunks {
		if c.State == narrative.ChunkActive {
			idx = append(idx, i)
		}
	}
	return idx
}

func archiveTurns(game *narrative.SavedGame, idx []int) {
	for _, i := range idx {
		game.RawTurns[i].State = narrative.TurnArchived
	}
}

// isolateSummary strips everything up to and including the last occurrence
// of marker, isolating the summary from any echoed prompt.
func isolateSummary(raw, marker string) string {
	if marker == "" {
		return strings.TrimSpace(raw)
	}
	idx := strings.LastIndex(raw, marker)
	if idx == -1 {
		return strings.TrimSpace(raw)
	}
	return strings.TrimSpace(raw[idx+len(marker):])
}
