package protocol

import (
	"fmt"
	"sync"
	"time"

	"github.com/wagiedev/mcp-client-go/internal/errors"
	"github.com/wagiedev/mcp-client-go/internal/jsonrpc"
)

// Outcome completes a pending request: either a response from the peer or a
// local error such as connection loss.
type Outcome struct {
	Response *jsonrpc.Response
	Err      error
}

// PendingInfo describes an outstanding request for diagnostics.
type PendingInfo struct {
	ID     jsonrpc.ID
	Method string
	Age    time.Duration
}

type pendingEntry struct {
	id         jsonrpc.ID
	method     string
	registered time.Time
	done       chan Outcome
}

// Table correlates outgoing request ids with their waiters.
//
// Every registered id is completed exactly once: by Resolve, by DrainAll, or
// removed by Cancel when the waiter has given up. Completion channels are
// buffered so Resolve and DrainAll never block on a waiter.
type Table struct {
	mu      sync.Mutex
	entries map[jsonrpc.ID]*pendingEntry
	sealed  error
}

// NewTable returns an empty correlation table.
func NewTable() *Table {
	return &Table{entries: make(map[jsonrpc.ID]*pendingEntry, 10)}
}

// Register adds id and returns the channel its outcome will be delivered on.
//
// It fails with ErrDuplicateRequestID if id is already pending, and with the
// drain error once the table has been sealed by DrainAll.
func (t *Table) Register(id jsonrpc.ID, method string) (<-chan Outcome, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.sealed != nil {
		return nil, t.sealed
	}

	if _, exists := t.entries[id]; exists {
		return nil, fmt.Errorf("%w: %s", errors.ErrDuplicateRequestID, jsonrpc.IDString(id))
	}

	entry := &pendingEntry{
		id:         id,
		method:     method,
		registered: time.Now(),
		done:       make(chan Outcome, 1),
	}
	t.entries[id] = entry

	return entry.done, nil
}

// Resolve delivers outcome to the waiter for id and removes the entry.
// It reports false when id is not pending, e.g. a late response after a timeout.
func (t *Table) Resolve(id jsonrpc.ID, outcome Outcome) bool {
	t.mu.Lock()

	entry, exists := t.entries[id]
	if exists {
		delete(t.entries, id)
	}

	t.mu.Unlock()

	if !exists {
		return false
	}

	// We own the entry now; the buffered channel never blocks.
	entry.done <- outcome

	return true
}

// Cancel removes id without completing it. It reports whether the entry was
// still pending; false means an outcome was already delivered.
func (t *Table) Cancel(id jsonrpc.ID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.entries[id]; !exists {
		return false
	}

	delete(t.entries, id)

	return true
}

// DrainAll completes every pending entry with err and seals the table so later
// Register calls fail with err. Only the first drain error is kept.
// It returns the number of entries drained.
func (t *Table) DrainAll(err error) int {
	t.mu.Lock()

	if t.sealed == nil {
		t.sealed = err
	}

	entries := t.entries
	t.entries = make(map[jsonrpc.ID]*pendingEntry)

	t.mu.Unlock()

	for _, entry := range entries {
		entry.done <- Outcome{Err: err}
	}

	return len(entries)
}

// Len returns the number of pending requests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.entries)
}

// Oldest returns the longest-waiting request, if any.
func (t *Table) Oldest() (PendingInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var oldest *pendingEntry

	for _, entry := range t.entries {
		if oldest == nil || entry.registered.Before(oldest.registered) {
			oldest = entry
		}
	}

	if oldest == nil {
		return PendingInfo{}, false
	}

	return PendingInfo{
		ID:     oldest.id,
		Method: oldest.method,
		Age:    time.Since(oldest.registered),
	}, true
}
