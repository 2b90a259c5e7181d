package session

import (
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/drewfead/deckhand/internal/logging"
)

// Sink receives encoded messages for one session. Enqueue must not block.
type Sink interface {
	ID() string
	Enqueue(data []byte) bool
}

// Set is the collection of connected sessions. The server adds and removes
// members; everything else only reads it.
type Set struct {
	mu       sync.RWMutex
	sessions map[string]Sink
	logger   *slog.Logger
}

// NewSet creates an empty set.
func NewSet() *Set {
	return &Set{
		sessions: make(map[string]Sink),
		logger:   logging.Component("session"),
	}
}

// Add registers s. It reports false if the id is taken.
func (set *Set) Add(s Sink) bool {
	set.mu.Lock()
	defer set.mu.Unlock()
	if _, exists := set.sessions[s.ID()]; exists {
		return false
	}
	set.sessions[s.ID()] = s
	return true
}

// Remove drops the session with id.
func (set *Set) Remove(id string) {
	set.mu.Lock()
	defer set.mu.Unlock()
	delete(set.sessions, id)
}

// Count returns the number of connected sessions.
func (set *Set) Count() int {
	set.mu.RLock()
	defer set.mu.RUnlock()
	return len(set.sessions)
}

// IDs returns the connected session ids, sorted.
func (set *Set) IDs() []string {
	set.mu.RLock()
	defer set.mu.RUnlock()
	ids := make([]string, 0, len(set.sessions))
	for id := range set.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Broadcast encodes msg once and queues it on every session. A session whose
// queue is full misses the message.
func (set *Set) Broadcast(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		set.logger.Warn("broadcast encode failed", "error", err)
		return
	}

	set.mu.RLock()
	defer set.mu.RUnlock()
	for id, s := range set.sessions {
		if !s.Enqueue(data) {
			set.logger.Debug("session queue full, message dropped", "session", id)
		}
	}
}

func (set *Set) each(fn func(Sink)) {
	set.mu.RLock()
	sinks := make([]Sink, 0, len(set.sessions))
	for _, s := range set.sessions {
		sinks = append(sinks, s)
	}
	set.mu.RUnlock()
	for _, s := range sinks {
		fn(s)
	}
}
