package compact

import (
	"context"
	"strings"

	"fabula/internal/narrative"
	"fabula/internal/narrative/assemble"
)

// buildSummaryPrompt assembles the summarization directive: the previous
// chunk summary (if any) is presented as context to summarize forward from,
// followed by the new raw entries in order, followed by the directive's
// split marker instruction.
//
// The prompt is itself token-budgeted inside SafePromptLimit: a fixed
// header (directive + previous-summary context) and footer (split marker)
// are always included, then entries are added whole newest-to-oldest while
// they still fit, using the same tail-biased, whole-segment packing
// primitive the story and lookup assemblers use.
func buildSummaryPrompt(ctx context.Context, counter Counter, entries []string, previousSummary string, settings narrative.DirectiveSettings) (string, error) {
	var header strings.Builder
	header.WriteString(settings.SummaryDirective)
	header.WriteString("\n\n")
	if previousSummary != "" {
		header.WriteString("# Summary So Far:\n")
		header.WriteString(previousSummary)
		header.WriteString("\n\n")
	}
	header.WriteString("# New Events:\n")

	footer := ""
	if settings.SummarySplitMarker != "" {
		footer = "\n" + settings.SummarySplitMarker
	}

	headerTokens, err := counter.Count(ctx, header.String())
	if err != nil {
		return "", err
	}
	footerTokens, err := counter.Count(ctx, footer)
	if err != nil {
		return "", err
	}

	budget := settings.SafePromptLimit() - headerTokens - footerTokens
	if budget < 0 {
		budget = 0
	}

	items := make([]assemble.Item, 0, len(entries))
	for _, e := range entries {
		n, err := counter.Count(ctx, e)
		if err != nil {
			return "", err
		}
		items = append(items, assemble.Item{Render: e, Tokens: n})
	}
	included, _ := assemble.PackNewestFirst(items, budget, 0)

	var sb strings.Builder
	sb.WriteString(header.String())
	for _, it := range included {
		sb.WriteString(it.Render)
		sb.WriteString("\n")
	}
	sb.WriteString(footer)
	return sb.String(), nil
}

// buildDeepCompressionPrompt asks the model to fold a batch of chunk
// summaries, plus whatever deep memory already exists, into one denser
// paragraph describing only what remains consequential to the present.
func buildDeepCompressionPrompt(previousDeep string, chunkSummaries []string) string {
	var sb strings.Builder
	sb.WriteString("Compress the following chunk summaries into a single, denser paragraph of ancient history. ")
	sb.WriteString("Keep only what remains consequential to the present story; drop resolved detail.\n\n")
	if previousDeep != "" {
		sb.WriteString("# Existing Ancient History:\n")
		sb.WriteString(previousDeep)
		sb.WriteString("\n\n")
	}
	sb.WriteString("# Chunks To Merge:\n")
	for _, s := range chunkSummaries {
		sb.WriteString(s)
		sb.WriteString("\n")
	}
	return sb.String()
}
