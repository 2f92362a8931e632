package settings

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"fabula/internal/narrative"
)

// yamlTier mirrors narrative.DirectiveSettings with yaml tags, keeping
// serialization tags off the domain type itself.
type yamlTier struct {
	StorytellerPrompt     string   `yaml:"storyteller_prompt"`
	SummaryDirective      string   `yaml:"summary_directive"`
	LookupDirective       string   `yaml:"lookup_directive"`
	SummarySplitMarker    string   `yaml:"summary_split_marker"`
	StopTokens            []string `yaml:"stop_tokens"`
	RecentMemoryLimit     int      `yaml:"recent_memory_limit"`
	TokenizeThreshold     int      `yaml:"tokenize_threshold"`
	ChunkMaxTokens        int      `yaml:"chunk_max_tokens"`
	MaxActiveChunks       int      `yaml:"max_active_chunks"`
	DeepMemoryMaxTokens   int      `yaml:"deep_memory_max_tokens"`
	ModelMaxTokens        int      `yaml:"model_max_tokens"`
	ReservedForGeneration int      `yaml:"reserved_for_generation"`
	ReservedForLookup     int      `yaml:"reserved_for_lookup"`
	MaxWorldTokens        int      `yaml:"max_world_tokens"`
}

func (t yamlTier) toDirectiveSettings() narrative.DirectiveSettings {
	return narrative.DirectiveSettings{
		StorytellerPrompt:     t.StorytellerPrompt,
		SummaryDirective:      t.SummaryDirective,
		LookupDirective:       t.LookupDirective,
		SummarySplitMarker:    t.SummarySplitMarker,
		StopTokens:            t.StopTokens,
		RecentMemoryLimit:     t.RecentMemoryLimit,
		TokenizeThreshold:     t.TokenizeThreshold,
		ChunkMaxTokens:        t.ChunkMaxTokens,
		MaxActiveChunks:       t.MaxActiveChunks,
		DeepMemoryMaxTokens:   t.DeepMemoryMaxTokens,
		ModelMaxTokens:        t.ModelMaxTokens,
		ReservedForGeneration: t.ReservedForGeneration,
		ReservedForLookup:     t.ReservedForLookup,
		MaxWorldTokens:        t.MaxWorldTokens,
	}
}

// YAMLTierStore loads DirectiveSettings from a YAML file keyed by tier ID,
// e.g.:
//
//	basic:
//	  storyteller_prompt: "..."
//	  model_max_tokens: 8192
//	premium:
//	  model_max_tokens: 32768
type YAMLTierStore struct {
	tiers map[string]yamlTier
}

// LoadYAMLTierStore reads and parses the tier file at path.
func LoadYAMLTierStore(path string) (*YAMLTierStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tier file %s: %w", path, err)
	}
	var tiers map[string]yamlTier
	if err := yaml.Unmarshal(raw, &tiers); err != nil {
		return nil, fmt.Errorf("parse tier file %s: %w", path, err)
	}
	return &YAMLTierStore{tiers: tiers}, nil
}

// LoadTier implements TierStore.
func (s *YAMLTierStore) LoadTier(ctx context.Context, tierID string) (narrative.DirectiveSettings, error) {
	t, ok := s.tiers[tierID]
	if !ok {
		return narrative.DirectiveSettings{}, &narrative.NotFoundError{Kind: "tier", ID: tierID}
	}
	return t.toDirectiveSettings(), nil
}
