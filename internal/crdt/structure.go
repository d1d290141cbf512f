package crdt

import (
	"encoding/json"
	"fmt"
	"sync"
)

// StructureEntry is one row of the per-vault structure CRDT: the
// file-tree agreement record for a single file_id. Delete is a
// tombstone flag rather than a removal from the map: any replicated map
// with last-writer-wins on {path, hash, timestamps} plus tombstone
// delete satisfies the structure CRDT contract.
type StructureEntry struct {
	FileID    string `json:"file_id"`
	Path      string `json:"path"`
	Type      string `json:"type,omitempty"`
	Deleted   bool   `json:"deleted"`
	Hash      string `json:"hash,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
	Stamp     stamp  `json:"stamp"`
}

// StructureUpdate is the wire shape of one structure-update frame: a
// single file_id's entry, last-writer-wins merged against whatever this
// server already holds for that file_id.
type StructureUpdate struct {
	Entry StructureEntry `json:"entry"`
}

// StructureDoc is the structure CRDT for one vault: a map of
// file_id -> StructureEntry, merged entry-by-entry under LWW.
type StructureDoc struct {
	mu      sync.Mutex
	entries map[string]StructureEntry
}

// NewStructureDoc returns an empty structure CRDT.
func NewStructureDoc() *StructureDoc {
	return &StructureDoc{entries: make(map[string]StructureEntry)}
}

// ApplyUpdate decodes a StructureUpdate and merges its entry in under LWW
// keyed by file_id. Idempotent and order-independent: replaying the same
// update, or an update this doc has already superseded, changes nothing.
func (d *StructureDoc) ApplyUpdate(raw []byte) (StructureEntry, error) {
	var u StructureUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		return StructureEntry{}, fmt.Errorf("decode structure update: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.entries[u.Entry.FileID]
	if !ok || u.Entry.Stamp.after(existing.Stamp) {
		d.entries[u.Entry.FileID] = u.Entry
		return u.Entry, nil
	}
	return existing, nil
}

// Entries returns a snapshot of every entry, including tombstoned ones.
func (d *StructureDoc) Entries() map[string]StructureEntry {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]StructureEntry, len(d.entries))
	for k, v := range d.entries {
		out[k] = v
	}
	return out
}

// EncodeStateVector serializes, per file_id, the stamp this doc currently
// holds, used to compute an incremental delta for a joining peer.
func (d *StructureDoc) EncodeStateVector() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	vec := make(map[string]stamp, len(d.entries))
	for k, v := range d.entries {
		vec[k] = v.Stamp
	}
	return json.Marshal(vec)
}

// EncodeStateAsUpdate returns every entry newer than peerVector's record
// of it (or entirely unknown to the peer).
func (d *StructureDoc) EncodeStateAsUpdate(peerVector []byte) ([]byte, error) {
	var peer map[string]stamp
	if len(peerVector) > 0 {
		if err := json.Unmarshal(peerVector, &peer); err != nil {
			return nil, fmt.Errorf("decode peer state vector: %w", err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	var delta []StructureEntry
	for id, entry := range d.entries {
		if have, ok := peer[id]; !ok || entry.Stamp.after(have) {
			delta = append(delta, entry)
		}
	}
	return json.Marshal(delta)
}

// Snapshot serializes the document's full internal state for disk
// persistence.
func (d *StructureDoc) Snapshot() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return json.Marshal(d.entries)
}

// LoadStructureSnapshot restores a StructureDoc from bytes produced by
// Snapshot.
func LoadStructureSnapshot(data []byte) (*StructureDoc, error) {
	entries := make(map[string]StructureEntry)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			return nil, fmt.Errorf("decode structure snapshot: %w", err)
		}
	}
	return &StructureDoc{entries: entries}, nil
}

// NextLamport returns one greater than the highest lamport this doc has
// observed from device across all entries.
func (d *StructureDoc) NextLamport(device string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	var max uint64
	for _, e := range d.entries {
		if e.Stamp.Device == device && e.Stamp.Lamport > max {
			max = e.Stamp.Lamport
		}
	}
	return max + 1
}

// EncodeEntryUpdate serializes a StructureUpdate for a single entry, the
// wire form ApplyUpdate consumes.
func EncodeEntryUpdate(entry StructureEntry) ([]byte, error) {
	return json.Marshal(StructureUpdate{Entry: entry})
}

// NewStamp builds the (lamport, device) pair structure and text updates
// order on, exported so callers outside this package (internal/realtime,
// tests) can originate updates without reaching into unexported fields.
func NewStamp(lamport uint64, device string) StampValue {
	return stamp{Lamport: lamport, Device: device}
}

// StampValue is the exported alias for the internal stamp type, used only
// as a function parameter/return type by callers that need to hold one
// without constructing it field-by-field.
type StampValue = stamp
