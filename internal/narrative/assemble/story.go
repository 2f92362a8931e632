package assemble

import (
	"context"
	"fmt"
	"strings"

	"fabula/internal/narrative"
)

// Margin is the small constant headroom subtracted from SafePromptLimit to
// absorb tokenizer edge cases.
const Margin = 64

const (
	pastHeader   = "# Past Events:\n"
	recentHeader = "# Recent Story:\n"
)

// Inputs are everything the Assembler needs to build one story-generation
// prompt.
type Inputs struct {
	Settings      narrative.DirectiveSettings
	World         narrative.World
	Player        narrative.Player
	Rating        narrative.Rating
	ActionMode    narrative.ActionMode
	CurrentAction string
	RawTurns      []narrative.RawTurn     // Active, ascending entry_index
	Chunks        []narrative.SummaryChunk // Active, ascending end_index
	Deep          *narrative.DeepMemory
	StorySplitter string
}

// Assembler builds story-generation prompts.
type Assembler struct {
	counter Counter
}

// New constructs an Assembler backed by counter.
func New(counter Counter) *Assembler {
	return &Assembler{counter: counter}
}

// CountForPipeline exposes the Assembler's Counter to the Story Pipeline,
// which needs to populate a newly appended RawTurn's token count without
// owning a second Counter instance.
func (a *Assembler) CountForPipeline(ctx context.Context, text string) (int, error) {
	return a.counter.Count(ctx, text)
}

// Build renders the fixed nine-segment prompt order with tail-biased
// packing. It is idempotent for identical inputs and has no observable side
// effects beyond the Counter calls it makes.
func (a *Assembler) Build(ctx context.Context, in Inputs) (string, error) {
	limit := in.Settings.SafePromptLimit()

	directives := in.Settings.StorytellerPrompt
	universe := fmt.Sprintf("%s\n%s", in.World.Name, in.World.LoreTokens)
	playerLine := fmt.Sprintf("%s (%s)", in.Player.Name, in.Player.Gender)
	ratingLine := string(in.Rating)

	baseText := strings.Join([]string{directives, universe, playerLine, ratingLine}, "\n")
	baseTokens, err := a.counter.Count(ctx, baseText)
	if err != nil {
		return "", &narrative.TokenizerUnavailableError{Cause: err}
	}

	actionBlock := renderActionBlock(in.ActionMode, in.CurrentAction)
	actionSegment := actionBlock + "\n" + in.StorySplitter
	actionTokens, err := a.counter.Count(ctx, actionSegment)
	if err != nil {
		return "", &narrative.TokenizerUnavailableError{Cause: err}
	}

	available := limit - baseTokens - actionTokens - Margin
	if available < 0 {
		return "", &narrative.PromptTooLargeError{Required: baseTokens + actionTokens + Margin, Limit: limit}
	}

	// Section headers and per-item separators render into the prompt, so
	// they are charged against the budget alongside the items themselves; a
	// header only stays charged if its section actually renders.
	sepTokens, err := a.counter.Count(ctx, "\n")
	if err != nil {
		return "", &narrative.TokenizerUnavailableError{Cause: err}
	}
	pastHeaderTokens, err := a.counter.Count(ctx, pastHeader)
	if err != nil {
		return "", &narrative.TokenizerUnavailableError{Cause: err}
	}
	recentHeaderTokens, err := a.counter.Count(ctx, recentHeader)
	if err != nil {
		return "", &narrative.TokenizerUnavailableError{Cause: err}
	}

	var deepText string
	if in.Deep != nil && strings.TrimSpace(in.Deep.Summary) != "" {
		candidate := "# Ancient History:\n" + in.Deep.Summary
		n, err := a.counter.Count(ctx, candidate)
		if err != nil {
			return "", &narrative.TokenizerUnavailableError{Cause: err}
		}
		if n+sepTokens <= available {
			deepText = candidate
			available -= n + sepTokens
		}
		// Whole-or-omit: if it doesn't fit, it is omitted entirely, never truncated.
	}

	chunkItems := make([]Item, 0, len(in.Chunks))
	for _, c := range in.Chunks {
		chunkItems = append(chunkItems, Item{Render: c.Summary, Tokens: c.TokenCount + sepTokens})
	}
	chunkBudget := available - pastHeaderTokens
	if chunkBudget < 0 {
		chunkBudget = 0
	}
	includedChunks, chunkUsed := PackNewestFirst(chunkItems, chunkBudget, in.Settings.MaxActiveChunks)
	if len(includedChunks) > 0 {
		available -= pastHeaderTokens + chunkUsed
	}

	turnItems := make([]Item, 0, len(in.RawTurns))
	for _, t := range in.RawTurns {
		var tc int
		if t.TokenCount != nil {
			tc = *t.TokenCount
		} else {
			// An edited turn has no cached count; count it now.
			tc, err = a.counter.Count(ctx, t.Text)
			if err != nil {
				return "", &narrative.TokenizerUnavailableError{Cause: err}
			}
		}
		turnItems = append(turnItems, Item{Render: t.Text, Tokens: tc + sepTokens})
	}
	turnBudget := available - recentHeaderTokens
	if turnBudget < 0 {
		turnBudget = 0
	}
	includedTurns, _ := PackNewestFirst(turnItems, turnBudget, in.Settings.RecentMemoryLimit)

	var sb strings.Builder
	sb.WriteString(directives)
	sb.WriteString("\n")
	sb.WriteString(universe)
	sb.WriteString("\n")
	sb.WriteString(playerLine)
	sb.WriteString("\n")
	sb.WriteString(ratingLine)
	sb.WriteString("\n")

	if deepText != "" {
		sb.WriteString(deepText)
		sb.WriteString("\n")
	}

	if len(includedChunks) > 0 {
		sb.WriteString(pastHeader)
		for _, it := range includedChunks {
			sb.WriteString(it.Render)
			sb.WriteString("\n")
		}
	}

	if len(includedTurns) > 0 {
		sb.WriteString(recentHeader)
		for _, it := range includedTurns {
			sb.WriteString(it.Render)
			sb.WriteString("\n")
		}
	}

	sb.WriteString(actionBlock)
	sb.WriteString("\n")
	sb.WriteString(in.StorySplitter)

	return sb.String(), nil
}

func renderActionBlock(mode narrative.ActionMode, action string) string {
	switch mode {
	case narrative.ActionModeAction:
		return "# Player Action: " + action
	case narrative.ActionModeSpeech:
		return fmt.Sprintf("# Player Says: \"%s\"", action)
	case narrative.ActionModeNarrate:
		return "# Player Narrative: " + action
	default:
		return "# No Player Action. Continue the story naturally."
	}
}
