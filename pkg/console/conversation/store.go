package conversation

import (
	"fmt"
	"sync"

	"analytics-console/pkg/console"
)

type Op string

const (
	OpAppend  Op = "append"
	OpReplace Op = "replace"
)

// Update describes one mutation of a mode log.
type Update struct {
	Mode    console.Mode
	Op      Op
	Message console.Message
}

// Observer receives every mutation in the order it was applied.
type Observer func(Update)

// Store holds one append-only message log per mode. The only in-place
// mutation is replacing the most recent entry of a log.
type Store struct {
	mu   sync.RWMutex
	logs map[console.Mode][]console.Message

	// serializes notification so observers see mutations in apply order
	notifyMu  sync.Mutex
	observers []Observer
	detached  bool
}

func NewStore(observers ...Observer) *Store {
	logs := make(map[console.Mode][]console.Message, len(console.Modes))
	for _, m := range console.Modes {
		logs[m] = []console.Message{}
	}
	return &Store{logs: logs, observers: observers}
}

// Subscribe registers an observer for future mutations.
func (s *Store) Subscribe(o Observer) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.observers = append(s.observers, o)
}

// Detach drops every observer. Writes still land but are no longer published.
func (s *Store) Detach() {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.observers = nil
	s.detached = true
}

// Append adds msg at the end of the mode log and returns its ordinal.
func (s *Store) Append(mode console.Mode, msg console.Message) (int, error) {
	if !mode.Valid() {
		return -1, fmt.Errorf("%w: %q", console.ErrUnknownMode, mode)
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	msg.Ordinal = len(s.logs[mode])
	s.logs[mode] = append(s.logs[mode], msg)
	s.mu.Unlock()

	s.notify(Update{Mode: mode, Op: OpAppend, Message: msg})
	return msg.Ordinal, nil
}

// ReplaceLast swaps the final entry of the mode log. It is a no-op on an empty log.
func (s *Store) ReplaceLast(mode console.Mode, msg console.Message) bool {
	if !mode.Valid() {
		return false
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	log := s.logs[mode]
	if len(log) == 0 {
		s.mu.Unlock()
		return false
	}
	msg.Ordinal = len(log) - 1
	log[msg.Ordinal] = msg
	s.mu.Unlock()

	s.notify(Update{Mode: mode, Op: OpReplace, Message: msg})
	return true
}

// Get returns a copy of the mode log.
func (s *Store) Get(mode console.Mode) []console.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[mode]
	out := make([]console.Message, len(log))
	copy(out, log)
	return out
}

// Message returns the entry at ordinal, if present.
func (s *Store) Message(mode console.Mode, ordinal int) (console.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[mode]
	if ordinal < 0 || ordinal >= len(log) {
		return console.Message{}, false
	}
	return log[ordinal], true
}

func (s *Store) Len(mode console.Mode) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.logs[mode])
}

// Counts returns the log length of every mode.
func (s *Store) Counts() map[console.Mode]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[console.Mode]int, len(s.logs))
	for m, log := range s.logs {
		out[m] = len(log)
	}
	return out
}

func (s *Store) notify(u Update) {
	if s.detached {
		return
	}
	for _, o := range s.observers {
		o(u)
	}
}
