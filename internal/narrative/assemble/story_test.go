package assemble

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabula/internal/narrative"
)

// wordCounter is a deterministic stand-in tokenizer: one token per
// whitespace-separated word. This keeps the packing-algorithm tests exact
// and independent of any real tokenizer.
type wordCounter struct{}

func (wordCounter) Count(ctx context.Context, text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}
	return len(strings.Fields(text)), nil
}

func baseSettings() narrative.DirectiveSettings {
	return narrative.DirectiveSettings{
		StorytellerPrompt:     "Narrate.",
		ModelMaxTokens:        4000,
		ReservedForGeneration: 100,
		MaxActiveChunks:       6,
		RecentMemoryLimit:     40,
	}
}

func TestAssembler_NoHistory_OmitsOptionalSections(t *testing.T) {
	a := New(wordCounter{})
	in := Inputs{
		Settings:      baseSettings(),
		World:         narrative.World{Name: "Eldoria", LoreTokens: "a land of magic"},
		Player:        narrative.Player{Name: "Aria", Gender: "female"},
		Rating:        narrative.RatingTeen,
		ActionMode:    narrative.ActionModeNone,
		StorySplitter: "<<END>>",
	}
	out, err := a.Build(context.Background(), in)
	require.NoError(t, err)

	assert.NotContains(t, out, "# Past Events:")
	assert.NotContains(t, out, "# Recent Story:")
	assert.NotContains(t, out, "# Ancient History:")
	assert.Contains(t, out, "Eldoria")
	assert.Contains(t, out, "Continue the story naturally")
	assert.Contains(t, out, "<<END>>")
}

func TestAssembler_TailEviction(t *testing.T) {
	a := New(wordCounter{})
	settings := baseSettings()
	// Force a tight raw-turn budget: ModelMaxTokens - Reserved - margin -
	// base - action must leave exactly enough room for 18 fifty-word turns.
	settings.ModelMaxTokens = 0 // computed below

	var turns []narrative.RawTurn
	for i := 1; i <= 40; i++ {
		tc := 50
		words := make([]string, 50)
		words[0] = turnMarker(i)
		for j := 1; j < 50; j++ {
			words[j] = "w"
		}
		turns = append(turns, narrative.RawTurn{
			EntryIndex: i,
			Text:       strings.Join(words, " "),
			TokenCount: &tc,
			State:      narrative.TurnActive,
		})
	}

	in := Inputs{
		Settings:      settings,
		World:         narrative.World{Name: "W"},
		Player:        narrative.Player{Name: "P", Gender: "x"},
		ActionMode:    narrative.ActionModeNone,
		RawTurns:      turns,
		StorySplitter: "<<END>>",
	}

	// Compute base+action+header tokens the same way Build does, then pick
	// ModelMaxTokens so available-for-turns is exactly 900.
	base := "Narrate.\nW\n\nP (x)\n"
	baseTok := len(strings.Fields(base))
	action := "# No Player Action. Continue the story naturally.\n<<END>>"
	actionTok := len(strings.Fields(action))
	headerTok := len(strings.Fields("# Recent Story:"))
	in.Settings.ModelMaxTokens = baseTok + actionTok + headerTok + Margin + 900 + in.Settings.ReservedForGeneration

	out, err := a.Build(context.Background(), in)
	require.NoError(t, err)

	assert.Contains(t, out, "# Recent Story:")
	for i := 1; i <= 22; i++ {
		assert.NotContains(t, out, turnMarker(i), "turn %d should have been evicted", i)
	}
	for i := 23; i <= 40; i++ {
		assert.Contains(t, out, turnMarker(i), "turn %d should have survived packing", i)
	}
}

// turnMarker is bracketed so that no marker is a substring of another
// ("turn2" would otherwise match inside "turn23").
func turnMarker(i int) string { return "[turn" + strconv.Itoa(i) + "]" }

func TestAssembler_PromptTooLarge(t *testing.T) {
	a := New(wordCounter{})
	settings := baseSettings()
	settings.ModelMaxTokens = 5
	settings.ReservedForGeneration = 0
	in := Inputs{
		Settings:      settings,
		World:         narrative.World{Name: "ReallyLongWorldNameThatBlowsTheBudget", LoreTokens: "lots of lore words here to blow the budget"},
		Player:        narrative.Player{Name: "P", Gender: "x"},
		ActionMode:    narrative.ActionModeNone,
		StorySplitter: "<<END>>",
	}
	_, err := a.Build(context.Background(), in)
	require.Error(t, err)
	var tooLarge *narrative.PromptTooLargeError
	require.ErrorAs(t, err, &tooLarge)
}

func TestAssembler_ActionModeRendering(t *testing.T) {
	a := New(wordCounter{})
	cases := []struct {
		mode narrative.ActionMode
		want string
	}{
		{narrative.ActionModeAction, "# Player Action: open the door"},
		{narrative.ActionModeSpeech, `# Player Says: "hello there"`},
		{narrative.ActionModeNarrate, "# Player Narrative: the wind picks up"},
		{narrative.ActionModeNone, "# No Player Action. Continue the story naturally."},
	}
	for _, c := range cases {
		in := Inputs{
			Settings:      baseSettings(),
			World:         narrative.World{Name: "W"},
			Player:        narrative.Player{Name: "P", Gender: "x"},
			ActionMode:    c.mode,
			CurrentAction: map[narrative.ActionMode]string{
				narrative.ActionModeAction:  "open the door",
				narrative.ActionModeSpeech:  "hello there",
				narrative.ActionModeNarrate: "the wind picks up",
			}[c.mode],
			StorySplitter: "<<END>>",
		}
		out, err := a.Build(context.Background(), in)
		require.NoError(t, err)
		assert.Contains(t, out, c.want)
	}
}

func TestPackNewestFirst_WholeSegmentAndOrdering(t *testing.T) {
	items := []Item{
		{Render: "a", Tokens: 10},
		{Render: "b", Tokens: 10},
		{Render: "c", Tokens: 10},
	}
	included, used := PackNewestFirst(items, 25, 0)
	// newest-first: c (10) fits, remaining 15; b (10) fits, remaining 5; a (10) doesn't fit.
	require.Len(t, included, 2)
	assert.Equal(t, "b", included[0].Render)
	assert.Equal(t, "c", included[1].Render)
	assert.Equal(t, 20, used)
}

func TestPackNewestFirst_MaxCountCapsCandidateWindow(t *testing.T) {
	items := []Item{
		{Render: "a", Tokens: 1},
		{Render: "b", Tokens: 1},
		{Render: "c", Tokens: 1},
	}
	included, _ := PackNewestFirst(items, 100, 2)
	require.Len(t, included, 2)
	assert.Equal(t, "b", included[0].Render)
	assert.Equal(t, "c", included[1].Render)
}
