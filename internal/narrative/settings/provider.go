// Package settings implements the settings provider: per-user tier
// resolution and cached DirectiveSettings lookup.
package settings

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"

	"fabula/internal/narrative"
)

// TierResolver resolves a user ID to its account tier ID. The user-
// registration/auth system that owns this mapping lives outside the
// narrative core; this is the seam across which it is consulted.
type TierResolver interface {
	ResolveTier(ctx context.Context, userID string) (tierID string, err error)
}

// TierStore loads DirectiveSettings for a tier ID from whatever backs the
// configuration (YAML file, database row, etc).
type TierStore interface {
	LoadTier(ctx context.Context, tierID string) (narrative.DirectiveSettings, error)
}

// DefaultTierID is the fallback tier used when a user's resolved tier is
// missing from the TierStore.
const DefaultTierID = "basic"

// DefaultSettings is the built-in "Basic" tier. An unknown tier falls back
// to the TierStore's own DefaultTierID entry first; DefaultSettings is used
// only when the TierStore does not know that tier either. Budgets here are
// conservative but
// reasonable defaults for a small local model.
var DefaultSettings = narrative.DirectiveSettings{
	StorytellerPrompt:     "You are the narrator of an interactive text adventure. Continue the story vividly and concisely.",
	SummaryDirective:      "Summarize the following story entries into a compact chronological account, preserving names, goals, and outcomes.",
	LookupDirective:       "Answer the player's lore question using only the provided sources.",
	SummarySplitMarker:    "===SUMMARY===",
	StopTokens:            []string{"</story>", "<|endofturn|>"},
	RecentMemoryLimit:     40,
	TokenizeThreshold:     1500,
	ChunkMaxTokens:        800,
	MaxActiveChunks:       6,
	DeepMemoryMaxTokens:   1200,
	ModelMaxTokens:        8192,
	ReservedForGeneration: 512,
	ReservedForLookup:     768,
	MaxWorldTokens:        2000,
}

// Provider resolves and caches DirectiveSettings by tier ID, not by user,
// so every user on a tier shares one cache entry. Reads are safe under
// concurrent access; Invalidate busts the cache for one tier on an explicit
// settings change.
type Provider struct {
	resolver TierResolver
	store    TierStore
	backing  cacheBacking

	mu    sync.RWMutex
	local map[string]narrative.DirectiveSettings

	log *logrus.Entry
}

// cacheBacking is the optional secondary cache (e.g. Redis) consulted
// before the TierStore and updated alongside the in-process map.
type cacheBacking interface {
	Get(ctx context.Context, tierID string) (narrative.DirectiveSettings, bool)
	Set(ctx context.Context, tierID string, settings narrative.DirectiveSettings)
	Invalidate(ctx context.Context, tierID string)
}

// Option configures a Provider.
type Option func(*Provider)

// WithRedisBacking attaches a Redis-backed secondary cache consulted
// between the in-process map and the TierStore.
func WithRedisBacking(b *RedisCache) Option {
	return func(p *Provider) {
		if b != nil {
			p.backing = b
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(log *logrus.Entry) Option { return func(p *Provider) { p.log = log } }

// New constructs a Provider.
func New(resolver TierResolver, store TierStore, opts ...Option) *Provider {
	p := &Provider{
		resolver: resolver,
		store:    store,
		local:    make(map[string]narrative.DirectiveSettings),
		log:      logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Get resolves userID's account tier and returns its cached DirectiveSettings.
func (p *Provider) Get(ctx context.Context, userID string) (narrative.DirectiveSettings, error) {
	tierID, err := p.resolver.ResolveTier(ctx, userID)
	if err != nil {
		return narrative.DirectiveSettings{}, err
	}
	if tierID == "" {
		tierID = DefaultTierID
	}
	return p.getByTier(ctx, tierID)
}

func (p *Provider) getByTier(ctx context.Context, tierID string) (narrative.DirectiveSettings, error) {
	p.mu.RLock()
	if s, ok := p.local[tierID]; ok {
		p.mu.RUnlock()
		return s, nil
	}
	p.mu.RUnlock()

	if p.backing != nil {
		if s, ok := p.backing.Get(ctx, tierID); ok {
			p.mu.Lock()
			p.local[tierID] = s
			p.mu.Unlock()
			return s, nil
		}
	}

	s, err := p.store.LoadTier(ctx, tierID)
	if err != nil {
		if isNotFound(err) {
			if tierID == DefaultTierID {
				s = DefaultSettings
			} else {
				p.log.WithField("tier", tierID).Warn("settings: unknown tier, falling back to Basic")
				return p.getByTier(ctx, DefaultTierID)
			}
		} else {
			return narrative.DirectiveSettings{}, err
		}
	}

	p.mu.Lock()
	p.local[tierID] = s
	p.mu.Unlock()
	if p.backing != nil {
		p.backing.Set(ctx, tierID, s)
	}
	return s, nil
}

// Invalidate busts the cache for tierID, both in-process and in the
// optional secondary cache, following an explicit settings change.
func (p *Provider) Invalidate(ctx context.Context, tierID string) {
	p.mu.Lock()
	delete(p.local, tierID)
	p.mu.Unlock()
	if p.backing != nil {
		p.backing.Invalidate(ctx, tierID)
	}
}

func isNotFound(err error) bool {
	var nf *narrative.NotFoundError
	return errors.As(err, &nf)
}
