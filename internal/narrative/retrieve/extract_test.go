package retrieve

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTitle(t *testing.T) {
	cases := map[string]string{
		"History":        "history",
		"  Early Years  ": "earlyyears",
		"Notes & Trivia": "notestrivia",
		"Part 1: Origins": "part1origins",
		"":                "",
		"   ":             "",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeTitle(in), "normalizeTitle(%q)", in)
	}
}

func TestNormalizeTitle_CaseAndPunctuationInsensitive(t *testing.T) {
	assert.Equal(t, normalizeTitle("The Hollow Court"), normalizeTitle("the hollow-court!!"))
}
