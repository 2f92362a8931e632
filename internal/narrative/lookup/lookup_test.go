package lookup

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabula/internal/narrative"
	"fabula/internal/narrative/retrieve"
)

type wordCounter struct{}

func (wordCounter) Count(ctx context.Context, text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}
	return len(strings.Fields(text)), nil
}

type fakeGen struct {
	lastPrompt string
	reply      string
}

func (g *fakeGen) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	g.lastPrompt = prompt
	return g.reply, nil
}

func baseSettings() narrative.DirectiveSettings {
	return narrative.DirectiveSettings{
		LookupDirective:       "Describe the following.",
		ModelMaxTokens:        2000,
		ReservedForGeneration: 0,
		ReservedForLookup:     50,
	}
}

func mkSource(url string, weight float64, sectionTitle, body string) retrieve.Source {
	return retrieve.Source{
		URL:    url,
		Weight: weight,
		Extraction: &retrieve.Extraction{
			Sections: map[string]string{"s": body},
			Titles:   map[string]string{"s": sectionTitle},
			Order:    []string{"s"},
		},
	}
}

func TestAssembler_SortsSourcesByWeightDescending(t *testing.T) {
	gen := &fakeGen{reply: "ok"}
	a := New(wordCounter{}, gen)
	in := Inputs{
		Settings: baseSettings(),
		Query:    "dragons",
		Sources: []retrieve.Source{
			mkSource("https://low.example.com", 0.3, "Low", "low content"),
			mkSource("https://high.example.com", 0.9, "High", "high content"),
		},
	}
	_, err := a.Build(context.Background(), in)
	require.NoError(t, err)

	highIdx := strings.Index(gen.lastPrompt, "high.example.com")
	lowIdx := strings.Index(gen.lastPrompt, "low.example.com")
	require.NotEqual(t, -1, highIdx)
	require.NotEqual(t, -1, lowIdx)
	assert.Less(t, highIdx, lowIdx, "higher-weight source must appear first")
}

func TestAssembler_InfoboxOnlyForHighWeightSources(t *testing.T) {
	gen := &fakeGen{reply: "ok"}
	a := New(wordCounter{}, gen)

	high := mkSource("https://wiki.example.com", 0.9, "History", "long ago the dragons came")
	high.Extraction.Infobox = map[string]string{"Species": "Dragon"}
	low := mkSource("https://blog.example.com", 0.5, "Notes", "some scattered notes")
	low.Extraction.Infobox = map[string]string{"Species": "Wyvern"}

	in := Inputs{
		Settings: baseSettings(),
		Query:    "dragons",
		Sources:  []retrieve.Source{high, low},
	}
	_, err := a.Build(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, gen.lastPrompt, "Species: Dragon")
	assert.NotContains(t, gen.lastPrompt, "Species: Wyvern")
}

func TestAssembler_NoSourcesFallsBackToNoFactualInformation(t *testing.T) {
	gen := &fakeGen{reply: "ok"}
	a := New(wordCounter{}, gen)
	in := Inputs{Settings: baseSettings(), Query: "dragons"}
	_, err := a.Build(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, gen.lastPrompt, "No factual information available")
}

func TestAssembler_TightBudgetFallsBack(t *testing.T) {
	gen := &fakeGen{reply: "ok"}
	a := New(wordCounter{}, gen)
	settings := baseSettings()
	settings.ModelMaxTokens = 1
	in := Inputs{
		Settings: settings,
		Query:    "dragons",
		Sources:  []retrieve.Source{mkSource("https://example.com", 1.0, "History", "a very long section of content here")},
	}
	_, err := a.Build(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, gen.lastPrompt, "No factual information available")
}

func TestAssembler_SkipsSourceWithoutExtraction(t *testing.T) {
	gen := &fakeGen{reply: "ok"}
	a := New(wordCounter{}, gen)
	in := Inputs{
		Settings: baseSettings(),
		Query:    "dragons",
		Sources: []retrieve.Source{
			{URL: "https://failed.example.com", Weight: 0.9, Extraction: nil},
			mkSource("https://ok.example.com", 0.5, "History", "dragons roamed here"),
		},
	}
	_, err := a.Build(context.Background(), in)
	require.NoError(t, err)
	assert.NotContains(t, gen.lastPrompt, "failed.example.com")
	assert.Contains(t, gen.lastPrompt, "ok.example.com")
}

func TestAssembler_SeparatesSourcesWithDivider(t *testing.T) {
	gen := &fakeGen{reply: "ok"}
	a := New(wordCounter{}, gen)
	in := Inputs{
		Settings: baseSettings(),
		Query:    "dragons",
		Sources: []retrieve.Source{
			mkSource("https://a.example.com", 0.9, "History", "dragons roamed the north"),
			mkSource("https://b.example.com", 0.8, "Lore", "ancient dragon lore"),
		},
	}
	_, err := a.Build(context.Background(), in)
	require.NoError(t, err)
	assert.Contains(t, gen.lastPrompt, "---")
	assert.Contains(t, gen.lastPrompt, "SOURCES:")
}
