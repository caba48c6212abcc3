// Package session keeps per-conversation state in process memory with
// per-key locking, so events for one participant are handled one at a time
// while unrelated participants never contend.
package session

import "sync"

// Key identifies a conversation participant within a chat.
type Key struct {
	ChatID int64
	UserID int64
}

// State is a finite-state-machine step of the support conversation.
type State string

const (
	// StateIdle indicates no active conversation.
	StateIdle State = "idle"
	// StateAwaitingSupport indicates the bot is waiting for the user's
	// support message.
	StateAwaitingSupport State = "awaiting_support_message"
)

type entry struct {
	mu    sync.Mutex
	refs  int
	state State
}

// Store holds session state keyed by (chat, user). State is ephemeral and
// scoped to the process lifetime.
type Store struct {
	mu      sync.Mutex
	entries map[Key]*entry
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{entries: make(map[Key]*entry)}
}

// Do runs fn with exclusive access to the key's state. Calls for the same
// key are serialized; calls for different keys run in parallel. fn may
// mutate the state through the pointer.
func (s *Store) Do(key Key, fn func(st *State)) {
	e := s.acquire(key)
	e.mu.Lock()
	fn(&e.state)
	e.mu.Unlock()
	s.release(key, e)
}

// State reads the current state for a key without blocking other readers
// longer than the map access.
func (s *Store) State(key Key) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		return e.state
	}
	return StateIdle
}

// InProgress reports whether the key has an active non-idle conversation.
func (s *Store) InProgress(key Key) bool {
	return s.State(key) != StateIdle
}

// Len reports how many keys currently hold live entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) acquire(key Key) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &entry{state: StateIdle}
		s.entries[key] = e
	}
	e.refs++
	return e
}

// release drops idle entries once no caller holds them, keeping the map from
// growing with every user the bot has ever seen.
func (s *Store) release(key Key, e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.refs--
	if e.refs == 0 && e.state == StateIdle {
		delete(s.entries, key)
	}
}
