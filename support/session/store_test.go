package session

import (
	"sync"
	"testing"
)

func TestStoreDefaultsToIdle(t *testing.T) {
	s := NewStore()
	key := Key{ChatID: 1, UserID: 2}

	if got := s.State(key); got != StateIdle {
		t.Fatalf("state = %q, want %q", got, StateIdle)
	}
	if s.InProgress(key) {
		t.Fatal("fresh key must not be in progress")
	}
}

func TestStoreDoMutatesState(t *testing.T) {
	s := NewStore()
	key := Key{ChatID: 1, UserID: 2}

	s.Do(key, func(st *State) {
		*st = StateAwaitingSupport
	})
	if got := s.State(key); got != StateAwaitingSupport {
		t.Fatalf("state = %q, want %q", got, StateAwaitingSupport)
	}
	if !s.InProgress(key) {
		t.Fatal("awaiting key must be in progress")
	}

	s.Do(key, func(st *State) {
		*st = StateIdle
	})
	if s.InProgress(key) {
		t.Fatal("idle key must not be in progress")
	}
}

func TestStoreEvictsIdleEntries(t *testing.T) {
	s := NewStore()
	key := Key{ChatID: 1, UserID: 2}

	s.Do(key, func(st *State) { *st = StateAwaitingSupport })
	s.Do(key, func(st *State) { *st = StateIdle })

	if got := s.Len(); got != 0 {
		t.Fatalf("entries retained = %d, want 0", got)
	}
}

func TestStoreKeysAreIndependent(t *testing.T) {
	s := NewStore()
	a := Key{ChatID: 1, UserID: 1}
	b := Key{ChatID: 1, UserID: 2}

	s.Do(a, func(st *State) { *st = StateAwaitingSupport })
	if s.InProgress(b) {
		t.Fatal("sibling key must stay idle")
	}
}

func TestStoreConcurrentDo(t *testing.T) {
	s := NewStore()
	key := Key{ChatID: 7, UserID: 7}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Do(key, func(st *State) {
				if *st == StateIdle {
					*st = StateAwaitingSupport
				} else {
					*st = StateIdle
				}
			})
		}()
	}
	wg.Wait()

	// An even number of toggles lands back on idle and the entry is gone.
	if got := s.State(key); got != StateIdle {
		t.Fatalf("state = %q, want %q", got, StateIdle)
	}
	if got := s.Len(); got != 0 {
		t.Fatalf("entries retained = %d, want 0", got)
	}
}
