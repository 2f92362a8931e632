// Package narrative implements the bounded-context memory and prompt
// pipeline for the interactive-fiction backend: token-budgeted prompt
// assembly, hierarchical history compaction, and retrieval-augmented lore
// lookups, all built on top of fabula/internal/llm's provider/tokenizer
// abstractions.
package narrative

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TurnState is the processing state of a RawTurn.
type TurnState string

const (
	TurnActive   TurnState = "active"
	TurnArchived TurnState = "archived"
)

// ChunkState is the processing state of a SummaryChunk.
type ChunkState string

const (
	ChunkActive    ChunkState = "active"
	ChunkCompacted ChunkState = "compacted"
)

// ActionMode describes the player's phrasing intent for the current action.
type ActionMode string

const (
	ActionModeAction  ActionMode = "ACTION"
	ActionModeSpeech  ActionMode = "SPEECH"
	ActionModeNarrate ActionMode = "NARRATE"
	ActionModeNone    ActionMode = "NONE"
)

// Rating is the content rating attached to a SavedGame. Ratings come from a
// small admin-curated set, so they are modeled as a validated closed set
// rather than a free string.
type Rating string

const (
	RatingEveryone    Rating = "E"
	RatingTeen        Rating = "T"
	RatingMature      Rating = "M"
	RatingAdultsOnly  Rating = "AO"
	RatingUnspecified Rating = ""
)

func (r Rating) Valid() bool {
	switch r {
	case RatingEveryone, RatingTeen, RatingMature, RatingAdultsOnly, RatingUnspecified:
		return true
	default:
		return false
	}
}

// Player describes the protagonist the story is told about.
type Player struct {
	Name   string
	Gender string
}

// World is immutable within a turn. TokenCount must be ≤ MaxWorldTokens,
// enforced by NewWorld at construction time.
type World struct {
	Name       string
	Preface    string
	LoreTokens string
	TokenCount int
}

// NewWorld validates World.TokenCount against the caller-supplied budget at
// write time; a World over budget is never persisted.
func NewWorld(name, preface, loreTokens string, tokenCount, maxWorldTokens int) (World, error) {
	if maxWorldTokens > 0 && tokenCount > maxWorldTokens {
		return World{}, &BadRequestError{
			Msg: fmt.Sprintf("world %q token_count %d exceeds MaxWorldTokens %d", name, tokenCount, maxWorldTokens),
		}
	}
	return World{Name: name, Preface: preface, LoreTokens: loreTokens, TokenCount: tokenCount}, nil
}

// RawTurn is an immutable ordered record of one narrative entry.
//
// EntryIndex is strictly monotonically increasing per SavedGame. TokenCount
// is lazily populated; once set it is never recomputed unless Text is
// edited (see compact.EditRawTurn).
type RawTurn struct {
	ID         uuid.UUID
	SavedGame  uuid.UUID
	EntryIndex int
	Text       string
	TokenCount *int // nil means "not yet counted"
	State      TurnState
}

// HasTokenCount reports whether TokenCount has been populated.
func (t RawTurn) HasTokenCount() bool { return t.TokenCount != nil }

// SummaryChunk is a token-bounded summary of a contiguous range of RawTurns.
//
// Invariants: Refs is the set of RawTurn IDs the chunk
// represents; StartIndex ≤ EndIndex; for any two Active chunks in the same
// game their [StartIndex, EndIndex] ranges do not overlap; TokenCount ≤
// ChunkMaxTokens unless explicitly merged-then-overflowed, in which case the
// compactor splits into a new chunk rather than letting this one grow past
// budget.
type SummaryChunk struct {
	ID         uuid.UUID
	SavedGame  uuid.UUID
	StartIndex int
	EndIndex   int
	Summary    string
	TokenCount int
	Refs       map[uuid.UUID]struct{}
	State      ChunkState
}

// RefSlice returns Refs as a stable-ordered slice (insertion order is not
// preserved by Go maps; callers that need determinism, e.g. tests, should
// sort the result).
func (c *SummaryChunk) RefSlice() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(c.Refs))
	for id := range c.Refs {
		out = append(out, id)
	}
	return out
}

// AddRef adds a RawTurn ID to the chunk's reference set.
func (c *SummaryChunk) AddRef(id uuid.UUID) {
	if c.Refs == nil {
		c.Refs = make(map[uuid.UUID]struct{})
	}
	c.Refs[id] = struct{}{}
}

// RemoveRef removes a RawTurn ID from the chunk's reference set and reports
// whether the set is now empty (callers use this to decide whether the
// chunk itself should be deleted; see compact.DeleteRawTurn).
func (c *SummaryChunk) RemoveRef(id uuid.UUID) (empty bool) {
	delete(c.Refs, id)
	return len(c.Refs) == 0
}

// DeepMemory is the single ultra-compressed tail of a SavedGame's history.
// At most one exists per SavedGame. LastMergedEndIndex is monotonically
// non-decreasing.
type DeepMemory struct {
	ID                 uuid.UUID
	SavedGame          uuid.UUID
	Summary            string
	TokenCount         int
	ChunksMergedCount  int
	LastMergedEndIndex int
}

// SavedGame owns RawTurns, SummaryChunks, and at most one DeepMemory.
type SavedGame struct {
	ID        uuid.UUID
	OwnerID   uuid.UUID
	Player    Player
	World     World
	Rating    Rating
	RawTurns  []RawTurn
	Chunks    []SummaryChunk
	Deep      *DeepMemory
	CreatedAt time.Time
}

// DirectiveSettings holds the per-tier prompts, budgets, and markers that
// drive assembly and compaction. SafePromptLimit is intentionally not a
// field: it is computed, never stored.
type DirectiveSettings struct {
	StorytellerPrompt   string
	SummaryDirective    string
	LookupDirective     string
	SummarySplitMarker  string
	StopTokens          []string
	RecentMemoryLimit   int
	TokenizeThreshold   int
	ChunkMaxTokens      int
	MaxActiveChunks     int
	DeepMemoryMaxTokens int
	ModelMaxTokens      int
	ReservedForGeneration int
	ReservedForLookup   int
	MaxWorldTokens      int
}

// SafePromptLimit is ModelMaxTokens − ReservedForGeneration, computed fresh
// on every call.
func (d DirectiveSettings) SafePromptLimit() int {
	limit := d.ModelMaxTokens - d.ReservedForGeneration
	if limit < 0 {
		return 0
	}
	return limit
}
