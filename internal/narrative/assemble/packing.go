// Package assemble implements the story prompt assembler: token-budgeted,
// tail-biased packing of directives, world context, memory, and the current
// action into a single prompt string. The packing primitive in this file is
// shared with the compactor's summarization prompt. lookup.Assembler does
// not call it: it runs its own weight-ordered loop that skips a source
// that does not fit and tries the next one.
package assemble

import "context"

// Counter is the narrow token-counting surface the packing primitives need.
type Counter interface {
	Count(ctx context.Context, text string) (int, error)
}

// Item is anything that can be whole-or-omitted packed: it renders to text
// and reports (or has counted) its own token cost.
type Item struct {
	// Render is the text this item contributes to the prompt if included.
	Render string
	// Tokens is the pre-counted token cost of Render. Items are counted
	// ahead of packing so the packer itself stays a pure function doing
	// arithmetic over known token costs.
	Tokens int
}

// PackNewestFirst is the tail-biased packing algorithm: walk items
// newest-first (items[len-1] is assumed newest), including each whole item
// while it still fits in the remaining budget, stopping at the first item
// that doesn't fit. Included items are returned in their original
// (ascending / oldest-to-newest) order. No item is ever partially included.
//
// maxCount, if > 0, additionally caps the number of items considered
// (MaxActiveChunks for chunks, RecentMemoryLimit for raw turns), applied
// before the token walk.
func PackNewestFirst(items []Item, budget int, maxCount int) (included []Item, usedTokens int) {
	if maxCount > 0 && len(items) > maxCount {
		items = items[len(items)-maxCount:]
	}

	remaining := budget
	includedReverse := make([]Item, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		it := items[i]
		if it.Tokens > remaining {
			break
		}
		includedReverse = append(includedReverse, it)
		remaining -= it.Tokens
		usedTokens += it.Tokens
	}

	included = make([]Item, len(includedReverse))
	for i, it := range includedReverse {
		included[len(includedReverse)-1-i] = it
	}
	return included, usedTokens
}
