package realtime

// Applier is the one seam the fan-out layer has into the sync engine.
// Fan-out needs to call back into the engine to commit materialized CRDT
// text, but that would create a cyclic dependency between the two
// packages; defining an interface the fan-out consumes, which the
// engine's wiring layer (internal/vault) fills in, breaks the cycle —
// realtime never imports internal/engine's concrete types.
type Applier interface {
	// ApplyText materializes a per-file CRDT's current text into the
	// vault's Content Store at the path owned by fileID, returning the
	// resulting commit.
	ApplyText(vaultName, fileID string, text []byte) (commit string, err error)

	// ApplyStructure reconciles a structure CRDT entry into the Content
	// and Identity Stores: create, rename, or soft-delete, matching
	// whichever of those the entry's path/deleted fields imply.
	ApplyStructure(vaultName, fileID, path string, deleted bool) (commit string, err error)
}
