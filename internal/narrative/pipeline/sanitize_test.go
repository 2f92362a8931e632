package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizer_StripsStorySplitterSuffix(t *testing.T) {
	s := Sanitizer{StorySplitter: "<<STORY_END>>"}
	got := s.Sanitize("The hero opens the door.<<STORY_END>> trailing junk the model echoed")
	assert.Equal(t, "The hero opens the door.", got)
}

func TestSanitizer_StripsStopTokenPrefix(t *testing.T) {
	s := Sanitizer{StopTokens: []string{"<|endofturn|>"}}
	got := s.Sanitize("  <|endofturn|>The hero presses onward.")
	assert.Equal(t, "The hero presses onward.", got)
}

func TestSanitizer_StripsChapterMarkers(t *testing.T) {
	s := Sanitizer{}
	got := s.Sanitize("Chapter 3: --- ** The journey resumes.")
	assert.Equal(t, "The journey resumes.", got)
}

func TestSanitizer_IsIdempotent(t *testing.T) {
	s := Sanitizer{StopTokens: []string{"<|end|>"}, StorySplitter: "<<SPLIT>>"}
	inputs := []string{
		"Chapter 1: <|end|>A new beginning.<<SPLIT>>junk",
		"plain continuation text",
		"",
		"   \n\t  ",
	}
	for _, in := range inputs {
		once := s.Sanitize(in)
		twice := s.Sanitize(once)
		assert.Equal(t, once, twice, "Sanitize must be a fixed point on its own output for %q", in)
	}
}

func TestSanitizer_NoOpOnPlainText(t *testing.T) {
	s := Sanitizer{StopTokens: []string{"<|end|>"}, StorySplitter: "<<SPLIT>>"}
	got := s.Sanitize("Nothing to strip here.")
	assert.Equal(t, "Nothing to strip here.", got)
}
