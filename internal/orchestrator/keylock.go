package orchestrator

import (
	"sync"

	"github.com/google/uuid"
)

// keyedMutex serializes turns per conversation id. Two simultaneous
// requests for the same conversation would interleave history reads and
// appends and corrupt message ordering; unrelated conversations proceed in
// parallel. Entries are reference counted and removed when the last holder
// releases, so the map does not grow with conversation churn.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[uuid.UUID]*lockEntry)}
}

// Lock blocks until the conversation is free and returns the release
// function.
func (k *keyedMutex) Lock(id uuid.UUID) func() {
	k.mu.Lock()
	entry, ok := k.locks[id]
	if !ok {
		entry = &lockEntry{}
		k.locks[id] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
