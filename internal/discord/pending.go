package discord

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// result is the terminal outcome of one command.
type result struct {
	data json.RawMessage
	err  error
}

type pendingEntry struct {
	cmd   string
	ch    chan result
	timer *time.Timer
}

// pendingTable correlates outgoing commands with their responses by nonce.
// Every entry is settled exactly once: by response, by timeout, or by
// rejectAll. Settling removes the entry and stops its timer.
type pendingTable struct {
	timeout time.Duration

	mu      sync.Mutex
	entries map[string]*pendingEntry
}

func newPendingTable(timeout time.Duration) *pendingTable {
	return &pendingTable{
		timeout: timeout,
		entries: make(map[string]*pendingEntry),
	}
}

// add registers nonce and arms its timeout. The returned channel receives
// exactly one result.
func (t *pendingTable) add(nonce, cmd string) (<-chan result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[nonce]; exists {
		return nil, fmt.Errorf("duplicate nonce %s", nonce)
	}
	e := &pendingEntry{cmd: cmd, ch: make(chan result, 1)}
	e.timer = time.AfterFunc(t.timeout, func() {
		t.settle(nonce, result{err: fmt.Errorf("%s: %w", cmd, ErrTimeout)})
	})
	t.entries[nonce] = e
	return e.ch, nil
}

// settle delivers res to nonce's waiter. It reports false if the nonce was
// already settled or never registered.
func (t *pendingTable) settle(nonce string, res result) bool {
	t.mu.Lock()
	e, ok := t.entries[nonce]
	if ok {
		delete(t.entries, nonce)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	e.timer.Stop()
	e.ch <- res
	return true
}

// rejectAll settles every outstanding entry with err and returns how many there were.
func (t *pendingTable) rejectAll(err error) int {
	t.mu.Lock()
	entries := t.entries
	t.entries = make(map[string]*pendingEntry)
	t.mu.Unlock()

	for _, e := range entries {
		e.timer.Stop()
		e.ch <- result{err: fmt.Errorf("%s: %w", e.cmd, err)}
	}
	return len(entries)
}

func (t *pendingTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
