package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fabula/internal/narrative"
)

func TestMemory_LoadGame_NotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.LoadGame(context.Background(), uuid.New())
	require.Error(t, err)
	var nf *narrative.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestMemory_SaveAndLoad(t *testing.T) {
	m := NewMemory()
	g := &narrative.SavedGame{ID: uuid.New()}
	require.NoError(t, m.SaveGame(context.Background(), g))

	loaded, err := m.LoadGame(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, g.ID, loaded.ID)
}

func TestMemory_LockSerializesSameGame(t *testing.T) {
	m := NewMemory()
	id := uuid.New()

	unlock1, err := m.Lock(context.Background(), id)
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		unlock2, err := m.Lock(context.Background(), id)
		require.NoError(t, err)
		close(acquired)
		unlock2()
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired before first was released")
	case <-time.After(20 * time.Millisecond):
	}
	unlock1()
	<-acquired
}

func TestMemory_LockDoesNotSerializeDifferentGames(t *testing.T) {
	m := NewMemory()
	idA, idB := uuid.New(), uuid.New()

	unlockA, err := m.Lock(context.Background(), idA)
	require.NoError(t, err)
	defer unlockA()

	done := make(chan struct{})
	go func() {
		unlockB, err := m.Lock(context.Background(), idB)
		require.NoError(t, err)
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("lock on a different game blocked unexpectedly")
	}
}

func TestMemory_ConcurrentDifferentGameSaves(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g := &narrative.SavedGame{ID: uuid.New()}
			_ = m.SaveGame(context.Background(), g)
		}()
	}
	wg.Wait()
}
