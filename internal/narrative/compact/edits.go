package compact

import (
	"context"

	"github.com/google/uuid"

	"fabula/internal/narrative"
)

// EditRawTurn rewrites an Active RawTurn's text in place, invalidating its
// cached TokenCount so the next assembly/compaction pass recounts it. Only
// Active (not yet summarized) turns may be edited: once a turn is folded
// into a chunk, the chunk is authoritative for its content.
func (c *Compactor) EditRawTurn(ctx context.Context, game *narrative.SavedGame, turnID uuid.UUID, newText string) error {
	for i := range game.RawTurns {
		t := &game.RawTurns[i]
		if t.ID != turnID {
			continue
		}
		if t.State != narrative.TurnActive {
			return &narrative.ForbiddenError{Msg: "cannot edit a turn that has already been summarized"}
		}
		t.Text = newText
		t.TokenCount = nil
		return nil
	}
	return &narrative.NotFoundError{Kind: "raw_turn", ID: turnID.String()}
}

// DeleteRawTurn removes a RawTurn from a SavedGame. If the turn has already
// been folded into an Active SummaryChunk, its reference is removed from
// that chunk's Refs set; if that leaves the chunk's Refs empty, the chunk
// itself is deleted too: an Active chunk never outlives the last raw turn
// it summarizes.
//
// Compacted chunks are retained for audit and are never touched here:
// DeepMemory is never revised on deletion, so a Compacted chunk's Refs must
// survive even after the RawTurn they point to is gone.
func (c *Compactor) DeleteRawTurn(ctx context.Context, game *narrative.SavedGame, turnID uuid.UUID) error {
	idx := -1
	for i, t := range game.RawTurns {
		if t.ID == turnID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return &narrative.NotFoundError{Kind: "raw_turn", ID: turnID.String()}
	}
	game.RawTurns = append(game.RawTurns[:idx], game.RawTurns[idx+1:]...)

	var emptied []int
	for i := range game.Chunks {
		ch := &game.Chunks[i]
		if ch.State != narrative.ChunkActive {
			continue
		}
		if _, ok := ch.Refs[turnID]; !ok {
			continue
		}
		if ch.RemoveRef(turnID) {
			emptied = append(emptied, i)
		}
	}
	for n, i := range emptied {
		pos := i - n // indices shift left as we remove earlier ones
		game.Chunks = append(game.Chunks[:pos], game.Chunks[pos+1:]...)
	}
	return nil
}
