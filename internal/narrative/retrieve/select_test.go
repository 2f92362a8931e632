package retrieve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractQueryTerms_QuotedAndUnquoted(t *testing.T) {
	terms := ExtractQueryTerms(`"Dragon King" ancient curse`)
	assert.Equal(t, []string{"dragonking", "dragon", "king", "ancient", "curse"}, terms)
}

func TestExtractQueryTerms_QuotedPhraseYieldsPhraseAndWords(t *testing.T) {
	terms := ExtractQueryTerms(`"physical appearance"`)
	assert.Equal(t, []string{"physicalappearance", "physical", "appearance"}, terms)
}

func TestExtractQueryTerms_Deduplicates(t *testing.T) {
	terms := ExtractQueryTerms("dragon Dragon DRAGON!")
	assert.Equal(t, []string{"dragon"}, terms)
}

func TestExtractQueryTerms_Empty(t *testing.T) {
	assert.Empty(t, ExtractQueryTerms(""))
	assert.Empty(t, ExtractQueryTerms("   "))
}

func mkExtraction() *Extraction {
	return &Extraction{
		Sections: map[string]string{
			"history":     "Long ago...",
			"geography":   "Mountains to the north.",
			"politics":    "Ruled by a council.",
			"mythology":   "Dragons once roamed.",
		},
		Titles: map[string]string{
			"history":   "History",
			"geography": "Geography",
			"politics":  "Politics",
			"mythology": "Mythology",
		},
		Order: []string{"history", "geography", "politics", "mythology"},
	}
}

func TestSelectSections_NoTerms_TakesFirstN(t *testing.T) {
	out := SelectSections(mkExtraction(), nil, 2)
	require := assert.New(t)
	require.Len(out, 2)
	require.Equal("History", out[0].Title)
	require.Equal("Geography", out[1].Title)
}

func TestSelectSections_MatchesBySubstring(t *testing.T) {
	out := SelectSections(mkExtraction(), []string{"myth"}, 2)
	assert.Len(t, out, 1)
	assert.Equal(t, "Mythology", out[0].Title)
}

func TestSelectSections_NoMatch_FallsBackToFirstN(t *testing.T) {
	out := SelectSections(mkExtraction(), []string{"zzz-nonexistent"}, 2)
	assert.Len(t, out, 2)
	assert.Equal(t, "History", out[0].Title)
}

func TestSelectSections_QuotedQueryMatchesSingleSection(t *testing.T) {
	ext := &Extraction{
		Sections: map[string]string{
			"appearance":  "Tall, scarred, gray eyes.",
			"personality": "Quiet and deliberate.",
			"trivia":      "Left-handed.",
		},
		Titles: map[string]string{
			"appearance":  "Appearance",
			"personality": "Personality",
			"trivia":      "Trivia",
		},
		Order: []string{"appearance", "personality", "trivia"},
	}
	out := SelectSections(ext, ExtractQueryTerms(`"physical appearance"`), 3)
	assert.Len(t, out, 1)
	assert.Equal(t, "Appearance", out[0].Title)
}

func TestSelectSections_NilExtraction(t *testing.T) {
	assert.Nil(t, SelectSections(nil, []string{"x"}, 2))
}

func TestDefaultExtractor_SectionsKeyedByHeading(t *testing.T) {
	htmlDoc := `
<html><body>
<article>
<h1>Overview</h1>
<p>The kingdom of Eldoria sits at the edge of the map.</p>
<h2>History</h2>
<p>Founded a thousand years ago.</p>
<p>Many wars followed.</p>
<h2>Geography</h2>
<p>Bordered by mountains and sea.</p>
</article>
</body></html>`
	ext, err := DefaultExtractor.Extract(htmlDoc, "https://example.com/eldoria")
	assert.NoError(t, err)
	assert.Contains(t, ext.Sections, "history")
	assert.Contains(t, ext.Sections["history"], "Founded a thousand years ago")
	assert.Contains(t, ext.Sections["history"], "Many wars followed")
	assert.Contains(t, ext.Sections, "geography")
	assert.Equal(t, []string{"overview", "history", "geography"}, ext.Order)
}

func TestWeightFor_KnownAndUnknownHosts(t *testing.T) {
	assert.Equal(t, 1.0, weightFor("en.wikipedia.org"))
	assert.Equal(t, defaultGenericWeight, weightFor("some-random-shop.example.com"))
}
