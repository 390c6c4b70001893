package versioning

import (
	"sync"

	"canvassync/domain/core/aggregates"
)

// DefaultHistoryLimit is the number of snapshots kept when no limit is configured
const DefaultHistoryLimit = 50

// HistoryStack is a bounded undo/redo buffer of graph snapshots.
// The cursor points at the snapshot that matches the current state.
type HistoryStack struct {
	mu       sync.Mutex
	states   []aggregates.Snapshot
	cursor   int
	limit    int
	suppress bool
}

// NewHistoryStack creates an empty stack holding at most limit snapshots
func NewHistoryStack(limit int) *HistoryStack {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &HistoryStack{cursor: -1, limit: limit}
}

// SaveState records a snapshot and discards the redo branch.
// The first call after Undo or Redo only clears the suppression flag and records nothing;
// it returns false in that case.
func (h *HistoryStack) SaveState(snap aggregates.Snapshot) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.suppress {
		h.suppress = false
		return false
	}

	h.states = append(h.states[:h.cursor+1], snap.Clone())
	if len(h.states) > h.limit {
		h.states[0] = aggregates.Snapshot{}
		h.states = h.states[1:]
	} else {
		h.cursor++
	}
	return true
}

// Undo moves the cursor back and returns the snapshot there
func (h *HistoryStack) Undo() (aggregates.Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cursor <= 0 {
		return aggregates.Snapshot{}, false
	}
	h.cursor--
	h.suppress = true
	return h.states[h.cursor].Clone(), true
}

// Redo moves the cursor forward and returns the snapshot there
func (h *HistoryStack) Redo() (aggregates.Snapshot, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cursor >= len(h.states)-1 {
		return aggregates.Snapshot{}, false
	}
	h.cursor++
	h.suppress = true
	return h.states[h.cursor].Clone(), true
}

// CanUndo reports whether Undo would return a snapshot
func (h *HistoryStack) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor > 0
}

// CanRedo reports whether Redo would return a snapshot
func (h *HistoryStack) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor >= 0 && h.cursor < len(h.states)-1
}

// Len returns the number of stored snapshots
func (h *HistoryStack) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.states)
}

// Cursor returns the index of the current snapshot, -1 when empty
func (h *HistoryStack) Cursor() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cursor
}

// Clear drops every snapshot, for example when switching workspaces
func (h *HistoryStack) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.states = nil
	h.cursor = -1
	h.suppress = false
}
