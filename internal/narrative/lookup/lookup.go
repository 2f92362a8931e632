// Package lookup implements the describer-prompt assembler: a prompt built
// from weight-ordered retrieval sources, with the same budget discipline
// assemble.Assembler uses for story prompts.
package lookup

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"fabula/internal/narrative"
	"fabula/internal/narrative/retrieve"
)

// Margin mirrors assemble.Margin: small constant headroom absorbing
// tokenizer edge cases.
const Margin = 64

// infoboxWeightThreshold: only sources at or above this weight have their
// infobox rendered; low-weight pages' infoboxes are mostly navigation noise.
const infoboxWeightThreshold = 0.8

// FallbackMessage is emitted when no source fits the budget, instructing
// the model to say so rather than invent lore.
const FallbackMessage = `SOURCES:
No factual information available for this query. Respond to the player stating that no factual information is available for this query.`

// Generator is the narrow model-calling surface the Assembler needs.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}

// GenerateOptions mirrors model.GenerateOptions without importing model.
type GenerateOptions struct {
	MaxNewTokens int
}

// Counter is the narrow token-counting surface the Assembler needs.
type Counter interface {
	Count(ctx context.Context, text string) (int, error)
}

// Inputs are everything the Assembler needs to build one lookup prompt.
type Inputs struct {
	Settings    narrative.DirectiveSettings
	Query       string
	Sources     []retrieve.Source
	SelectMaxN  int // max sections selected per source, passed to retrieve.SelectSections
}

// Assembler builds and runs describer prompts.
type Assembler struct {
	counter Counter
	gen     Generator
}

// New constructs an Assembler.
func New(counter Counter, gen Generator) *Assembler {
	return &Assembler{counter: counter, gen: gen}
}

// Build assembles the describer prompt and calls the Model Adapter,
// returning its response.
func (a *Assembler) Build(ctx context.Context, in Inputs) (string, error) {
	prompt, err := a.assemblePrompt(ctx, in)
	if err != nil {
		return "", err
	}
	return a.gen.Generate(ctx, prompt, GenerateOptions{MaxNewTokens: in.Settings.ReservedForLookup})
}

// assemblePrompt builds the prompt text without calling the model. It is
// unexported; callers and tests reach it through Build.
func (a *Assembler) assemblePrompt(ctx context.Context, in Inputs) (string, error) {
	header := fmt.Sprintf("%s\n\nQuery: %s\n", in.Settings.LookupDirective, in.Query)
	headerTokens, err := a.counter.Count(ctx, header)
	if err != nil {
		return "", &narrative.TokenizerUnavailableError{Cause: err}
	}

	limit := in.Settings.SafePromptLimit() - in.Settings.ReservedForLookup - Margin - headerTokens
	if limit <= 0 {
		return header + FallbackMessage, nil
	}

	sorted := make([]retrieve.Source, len(in.Sources))
	copy(sorted, in.Sources)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Weight > sorted[j].Weight })

	maxN := in.SelectMaxN
	if maxN <= 0 {
		maxN = 3
	}
	terms := retrieve.ExtractQueryTerms(in.Query)

	var sb strings.Builder
	used := 0
	included := 0
	for _, src := range sorted {
		snippet := renderSource(src, terms, maxN)
		if snippet == "" {
			continue
		}
		n, err := a.counter.Count(ctx, snippet)
		if err != nil {
			return "", &narrative.TokenizerUnavailableError{Cause: err}
		}
		if used+n > limit {
			continue // include sources one at a time while each fits
		}
		if included > 0 {
			sb.WriteString("\n---\n")
		}
		sb.WriteString(snippet)
		used += n
		included++
	}

	if included == 0 {
		return header + FallbackMessage, nil
	}

	return header + "SOURCES:\n" + sb.String(), nil
}

func renderSource(src retrieve.Source, terms []string, maxN int) string {
	if src.Extraction == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("(%s)\n", src.URL))

	if src.Weight >= infoboxWeightThreshold && len(src.Extraction.Infobox) > 0 {
		keys := make([]string, 0, len(src.Extraction.Infobox))
		for k := range src.Extraction.Infobox {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("%s: %s\n", k, src.Extraction.Infobox[k]))
		}
	}

	sections := retrieve.SelectSections(src.Extraction, terms, maxN)
	if len(sections) == 0 && src.Extraction.Text != "" {
		sb.WriteString(src.Extraction.Text)
		sb.WriteString("\n")
		return sb.String()
	}
	for _, sec := range sections {
		sb.WriteString(fmt.Sprintf("# %s\n%s\n", sec.Title, sec.Body))
	}
	return sb.String()
}
