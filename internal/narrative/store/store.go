// Package store defines the persistence boundary for SavedGames and
// provides an in-memory reference implementation. Two concurrent turn
// requests for the same SavedGame must be serialized; turns on distinct
// games proceed in parallel.
package store

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"fabula/internal/narrative"
)

// Store is the persistence interface the Story Pipeline goes through (the
// Lookup Pipeline does not persist anything). Implementations need not be safe for concurrent access to
// the *same* SavedGame without the caller holding that game's Lock; they
// must be safe across *different* SavedGames.
type Store interface {
	LoadGame(ctx context.Context, id uuid.UUID) (*narrative.SavedGame, error)
	SaveGame(ctx context.Context, game *narrative.SavedGame) error
	// Lock returns an unlock function that must be called to release the
	// per-game serialization mutex.
	Lock(ctx context.Context, id uuid.UUID) (unlock func(), err error)
}

// Memory is an in-process Store, suitable for tests and single-node
// deployments. Each SavedGame has its own *sync.Mutex, created lazily, so
// that locking one game never blocks operations on another.
type Memory struct {
	mu    sync.RWMutex
	games map[uuid.UUID]*narrative.SavedGame
	locks sync.Map // uuid.UUID -> *sync.Mutex
}

// NewMemory constructs an empty in-memory Store.
func NewMemory() *Memory {
	return &Memory{games: make(map[uuid.UUID]*narrative.SavedGame)}
}

// Seed inserts a SavedGame directly. Like SaveGame, it stores the pointer
// itself, not a copy. Exists for tests and fixture setup.
func (m *Memory) Seed(game *narrative.SavedGame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.games[game.ID] = game
}

func (m *Memory) LoadGame(ctx context.Context, id uuid.UUID) (*narrative.SavedGame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.games[id]
	if !ok {
		return nil, &narrative.NotFoundError{Kind: "saved_game", ID: id.String()}
	}
	return g, nil
}

func (m *Memory) SaveGame(ctx context.Context, game *narrative.SavedGame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.games[game.ID] = game
	return nil
}

func (m *Memory) Lock(ctx context.Context, id uuid.UUID) (func(), error) {
	v, _ := m.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock, nil
}
