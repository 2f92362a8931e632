// Command narrativectl is a CLI smoke-test entry point for the narrative
// package: it wires the settings provider, token counter, model adapter,
// store, and retrieval fetcher into one narrative.Service and drives a
// single turn.generate, lore.retrieve, or tokens.count call against it,
// printing the result to stdout.
//
// It deliberately does not depend on internal/llm/anthropic or
// internal/llm/openai: narrativectl has no network credentials to offer, so
// it drives the Model Adapter with a local echoProvider (same shape as
// model/adapter_test.go's fakeProvider) instead of a real model backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fabula/internal/llm"
	"fabula/internal/narrative"
	"fabula/internal/narrative/model"
	"fabula/internal/narrative/retrieve"
	"fabula/internal/narrative/settings"
	"fabula/internal/narrative/store"
	"fabula/internal/narrative/tokens"
)

func main() {
	var (
		op         = flag.String("op", "generate", "operation to run: generate | lore | count")
		tiersPath  = flag.String("tiers", "", "path to a YAML tier file (settings.YAMLTierStore); falls back to the built-in Basic tier when empty")
		userID     = flag.String("user", "local-player", "user id passed to the Settings Provider's TierResolver")
		tierID     = flag.String("tier", settings.DefaultTierID, "tier id this user resolves to")
		action     = flag.String("action", "look around", "current player action (generate op only)")
		mode       = flag.String("mode", "action", "action mode: action | speech (or dialogue) | narrate | none")
		query      = flag.String("query", "", "lore query text (lore op), or text to count (count op)")
		logLevel   = flag.String("log-level", "info", "logrus level")
	)
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log := logrus.NewEntry(logrus.StandardLogger())

	if err := run(*op, *tiersPath, *userID, *tierID, *action, *mode, *query, log); err != nil {
		log.WithError(err).Error("narrativectl: failed")
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(op, tiersPath, userID, tierID, action, modeStr, query string, log *logrus.Entry) error {
	tierStore, err := buildTierStore(tiersPath)
	if err != nil {
		return fmt.Errorf("narrativectl: loading tiers: %w", err)
	}
	settingsProvider := settings.New(staticResolver{tierID: tierID}, tierStore, settings.WithLogger(log))

	counter := tokens.New(wordTokenizer{})
	provider := &echoProvider{}
	adapter, err := model.New(provider, wordTokenizer{}, "narrativectl-echo")
	if err != nil {
		return fmt.Errorf("narrativectl: building model adapter: %w", err)
	}
	defer adapter.Close()

	st := store.NewMemory()
	fetcher := retrieve.New(noopSearch{}, retrieve.Options{TopK: 3, Concurrency: 2, PerFetchDeadline: 10 * time.Second})

	svc := narrative.NewService(settingsProvider, counter, adapter, st, fetcher)

	ctx := context.Background()

	switch op {
	case "count":
		resp, err := svc.CountTokens(ctx, query)
		if err != nil {
			return err
		}
		fmt.Printf("token_count: %d\n", resp.TokenCount)
		return nil

	case "lore":
		out, err := svc.LoreRetrieve(ctx, narrative.LoreRetrieveRequest{UserID: userID, Query: query})
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil

	case "generate":
		game := seedGame(st)
		actionMode, err := parseActionMode(modeStr)
		if err != nil {
			return err
		}
		resp, err := svc.GenerateTurn(ctx, narrative.GenerateTurnRequest{
			UserID:        userID,
			GameID:        game.ID.String(),
			ActionMode:    actionMode,
			CurrentAction: action,
		})
		if err != nil {
			return err
		}
		fmt.Println(resp.Story)
		return nil

	default:
		return fmt.Errorf("narrativectl: unknown -op %q (want generate, lore, or count)", op)
	}
}

func parseActionMode(s string) (narrative.ActionMode, error) {
	switch strings.ToLower(s) {
	case "action":
		return narrative.ActionModeAction, nil
	case "speech", "dialogue":
		return narrative.ActionModeSpeech, nil
	case "narrate":
		return narrative.ActionModeNarrate, nil
	case "none", "":
		return narrative.ActionModeNone, nil
	default:
		return "", fmt.Errorf("narrativectl: unknown -mode %q (want action, speech, narrate, or none)", s)
	}
}

func buildTierStore(path string) (settings.TierStore, error) {
	if path == "" {
		return basicOnlyStore{}, nil
	}
	return settings.LoadYAMLTierStore(path)
}

// basicOnlyStore serves settings.DefaultSettings for every tier, mirroring
// the settings provider's own fallback for deployments with no YAML tier
// file on disk.
type basicOnlyStore struct{}

func (basicOnlyStore) LoadTier(ctx context.Context, tierID string) (narrative.DirectiveSettings, error) {
	return settings.DefaultSettings, nil
}

// staticResolver resolves every user to the tier given on the command line.
type staticResolver struct{ tierID string }

func (r staticResolver) ResolveTier(ctx context.Context, userID string) (string, error) {
	return r.tierID, nil
}

// noopSearch reports no lore sources, so `-op lore` exercises the lookup
// assembler's no-sources fallback without requiring a live search backend.
type noopSearch struct{}

func (noopSearch) Search(ctx context.Context, query string, topK int) ([]string, error) {
	return nil, nil
}

// wordTokenizer is a deterministic whitespace tokenizer standing in for a
// real model tokenizer, in the same spirit as service_test.go's
// wordTokenizer: narrativectl has no GGUF/tokenizer.json on disk to load.
type wordTokenizer struct{}

func (wordTokenizer) CountTokens(ctx context.Context, text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, nil
	}
	return len(strings.Fields(text)), nil
}

func (wordTokenizer) CountMessagesTokens(ctx context.Context, msgs []llm.Message) (int, error) {
	total := 0
	for _, m := range msgs {
		total += len(strings.Fields(m.Content))
	}
	return total, nil
}

// echoProvider is a local stand-in llm.Provider: it has no network
// dependency, so `narrativectl` can smoke-test the full Assembling →
// Generating → Sanitizing → Compacting pipeline offline. It echoes back a
// deterministic continuation derived from the prompt's last line, matching
// model/adapter_test.go's fakeProvider shape.
type echoProvider struct{ calls int }

func (p *echoProvider) Chat(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, modelName string) (llm.Message, error) {
	p.calls++
	var last string
	if len(msgs) > 0 {
		lines := strings.Split(strings.TrimSpace(msgs[len(msgs)-1].Content), "\n")
		last = lines[len(lines)-1]
	}
	return llm.Message{
		Role:    "assistant",
		Content: fmt.Sprintf("(turn %d) The story continues from: %q", p.calls, last),
	}, nil
}

func (p *echoProvider) ChatStream(ctx context.Context, msgs []llm.Message, tools []llm.ToolSchema, modelName string, h llm.StreamHandler) error {
	reply, err := p.Chat(ctx, msgs, tools, modelName)
	if err != nil {
		return err
	}
	h.OnDelta(reply.Content)
	return nil
}

func (p *echoProvider) ChatCompletion(ctx context.Context, msgs []llm.Message, modelName string, params llm.CompletionParams) (llm.Message, error) {
	reply, err := p.Chat(ctx, msgs, nil, modelName)
	if err != nil {
		return llm.Message{}, err
	}
	for _, stop := range params.Stop {
		if idx := strings.Index(reply.Content, stop); idx != -1 {
			reply.Content = reply.Content[:idx]
		}
	}
	return reply, nil
}

// seedGame creates and stores a fresh SavedGame so -op generate has
// something to load; a real deployment seeds games through its own
// creation flow.
func seedGame(st *store.Memory) *narrative.SavedGame {
	game := &narrative.SavedGame{
		ID:     uuid.New(),
		Player: narrative.Player{Name: "Traveler", Gender: "they/them"},
		World: narrative.World{
			Name:       "Eldermoor",
			Preface:    "A fog-bound kingdom balanced on the edge of ruin.",
			LoreTokens: "Eldermoor is ruled by the Hollow Court. The old bridges are cursed.",
		},
		Rating: narrative.RatingTeen,
	}
	st.Seed(game)
	return game
}
