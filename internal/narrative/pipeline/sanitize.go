package pipeline

import (
	"regexp"
	"strings"
)

// chapterMarkerPatterns matches chapter-marker noise models sometimes
// prepend to generated narrative.
var chapterMarkerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^\s*chapter\s+\d+[:.\-]?\s*`),
	regexp.MustCompile(`(?i)^\s*\*{2,}\s*`),
	regexp.MustCompile(`(?i)^\s*---+\s*`),
}

// Sanitizer strips known chapter-marker patterns, stop-token prefixes, and
// the story-splitter suffix from a raw model completion. It is a fixed
// point on already-sanitized input: running it twice never changes the
// result further.
type Sanitizer struct {
	StopTokens    []string
	StorySplitter string
}

// Sanitize applies the three strips. It is idempotent: Sanitize(Sanitize(s))
// == Sanitize(s) for all s, because the splitter cut leaves no splitter
// behind and the prefix strips repeat until they no longer change the text.
func (s Sanitizer) Sanitize(raw string) string {
	text := raw

	if s.StorySplitter != "" {
		if idx := strings.Index(text, s.StorySplitter); idx != -1 {
			text = text[:idx]
		}
	}

	// Stop-token prefixes and chapter markers can hide one another
	// ("Chapter 1: <|end|>..."), so both strips repeat until neither
	// changes the text.
	for {
		before := text
		for _, tok := range s.StopTokens {
			if tok == "" {
				continue
			}
			text = strings.TrimPrefix(strings.TrimSpace(text), tok)
		}

		for {
			trimmed := strings.TrimSpace(text)
			stripped := false
			for _, pat := range chapterMarkerPatterns {
				if loc := pat.FindStringIndex(trimmed); loc != nil && loc[0] == 0 {
					trimmed = trimmed[loc[1]:]
					stripped = true
				}
			}
			text = trimmed
			if !stripped {
				break
			}
		}

		if text == before {
			break
		}
	}

	return strings.TrimSpace(text)
}
