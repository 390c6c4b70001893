package ports

import "canvassync/domain/core/aggregates"

// Revision is a workspace graph offered to local state by the workspace cache.
// Version is the local write counter observed when the data was read or fetched.
type Revision struct {
	WorkspaceID string
	Snapshot    aggregates.Snapshot
	Version     uint64
	Revalidated bool
}

// ApplyFunc installs a revision into local state. It returns false when the
// revision was rejected, typically because the cache no longer considers it current.
type ApplyFunc func(Revision) bool

// WorkspaceCache is the write-through side of the workspace graph cache used by local mutations
type WorkspaceCache interface {
	// MarkLocalWrite bumps the write counter; call it while applying the local change
	MarkLocalWrite(workspaceID string) uint64

	// StoreLocal caches a snapshot taken at version unless a newer write was marked
	StoreLocal(workspaceID string, snap aggregates.Snapshot, version uint64) bool

	// IsCurrent reports whether a revision read at version may still be applied
	IsCurrent(workspaceID string, version uint64) bool
}

// GraphWriter is the backend surface used by optimistic mutations
type GraphWriter interface {
	NodeWriter
	EdgeWriter
	SettingsWriter
}
