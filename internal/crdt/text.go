// Package crdt implements two replicated data types: a
// per-(vault,file_id) text CRDT and a per-vault structure CRDT. No CRDT
// library was available to build on (no Yjs port, no Automerge binding,
// no generic op-based CRDT), so these are hand-built on the standard
// library alone; see DESIGN.md for that justification.
//
// The replicated data type itself is an implementation detail: any text
// CRDT that admits an encode_state_as_update/encode_state_vector/
// apply_update/materialize_text quartet satisfies the contract. TextDoc
// is a last-writer-wins register over the whole document, ordered by a
// (lamport, device) pair per update. That ordering is a total order, so
// merging is exactly "take the update that sorts highest" — which is
// commutative, associative, and idempotent by construction, the property
// both CRDTs need.
package crdt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
)

// stamp totally orders updates across devices: higher lamport wins, ties
// broken by device id so the order is deterministic even when two
// devices raced on the same logical counter value.
type stamp struct {
	Lamport uint64 `json:"lamport"`
	Device  string `json:"device"`
}

func (s stamp) after(other stamp) bool {
	if s.Lamport != other.Lamport {
		return s.Lamport > other.Lamport
	}
	return s.Device > other.Device
}

// TextUpdate is the wire shape of one text CRDT update: the device's full
// materialized text as of its own stamp. Clients send these as the
// base64 payload of a yjs-update frame; TextDoc treats the frame
// payload as the encoding of a TextUpdate.
type TextUpdate struct {
	Stamp stamp  `json:"stamp"`
	Text  []byte `json:"text"`
}

// TextDoc is the text CRDT for one file: the winning TextUpdate plus the
// highest lamport clock observed from every device, used to compute
// incremental deltas for a joining client.
type TextDoc struct {
	mu      sync.Mutex
	winner  TextUpdate
	clocks  map[string]uint64 // device -> highest lamport seen from it
	hasText bool
}

// NewTextDoc returns an empty text CRDT.
func NewTextDoc() *TextDoc {
	return &TextDoc{clocks: make(map[string]uint64)}
}

// ApplyUpdate decodes a TextUpdate from raw bytes (as produced by
// EncodeStateAsUpdate) and merges it in. Re-applying an update whose
// stamp has already been seen from that device, or one that loses the
// LWW comparison, is a no-op — apply_update is idempotent.
func (d *TextDoc) ApplyUpdate(raw []byte) error {
	var u TextUpdate
	if err := json.Unmarshal(raw, &u); err != nil {
		return fmt.Errorf("decode text update: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if seen := d.clocks[u.Stamp.Device]; u.Stamp.Lamport <= seen {
		return nil
	}
	d.clocks[u.Stamp.Device] = u.Stamp.Lamport

	if !d.hasText || u.Stamp.after(d.winner.Stamp) {
		d.winner = u
		d.hasText = true
	}
	return nil
}

// MaterializeText returns the document's current winning text.
func (d *TextDoc) MaterializeText() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return bytes.Clone(d.winner.Text)
}

// EncodeStateVector serializes the per-device lamport clocks, the state a
// joining client (or a peer computing a delta) compares against.
func (d *TextDoc) EncodeStateVector() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return json.Marshal(d.clocks)
}

// EncodeStateAsUpdate returns the bytes of the current winning update,
// provided it is newer than what peerVector (as produced by
// EncodeStateVector) already reflects. An empty result with ok=false
// means the peer is already caught up.
func (d *TextDoc) EncodeStateAsUpdate(peerVector []byte) (data []byte, ok bool, err error) {
	var peer map[string]uint64
	if len(peerVector) > 0 {
		if err := json.Unmarshal(peerVector, &peer); err != nil {
			return nil, false, fmt.Errorf("decode peer state vector: %w", err)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.hasText {
		return nil, false, nil
	}
	if peer[d.winner.Stamp.Device] >= d.winner.Stamp.Lamport {
		return nil, false, nil
	}
	data, err = json.Marshal(d.winner)
	return data, err == nil, err
}

// textSnapshot is the on-disk persisted form of a TextDoc: the full
// internal state, not just the wire-level update. Per-file CRDT state
// must survive process restarts; persisting the full snapshot (rather
// than only the last wire update) keeps every device's clock intact
// across a restart instead of collapsing it to a single winner.
type textSnapshot struct {
	Winner  TextUpdate        `json:"winner"`
	Clocks  map[string]uint64 `json:"clocks"`
	HasText bool              `json:"has_text"`
}

// Snapshot serializes the document's full internal state for disk
// persistence.
func (d *TextDoc) Snapshot() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return json.Marshal(textSnapshot{Winner: d.winner, Clocks: d.clocks, HasText: d.hasText})
}

// LoadSnapshot restores a TextDoc from bytes produced by Snapshot.
func LoadSnapshot(data []byte) (*TextDoc, error) {
	var snap textSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode text snapshot: %w", err)
	}
	if snap.Clocks == nil {
		snap.Clocks = make(map[string]uint64)
	}
	return &TextDoc{winner: snap.Winner, clocks: snap.Clocks, hasText: snap.HasText}, nil
}

// Seed primes the document with the vault's current on-disk text so a
// freshly opened CRDT (no updates applied yet) reflects history rather
// than an empty string, using device "" so any real device's first
// update (lamport >= 1) always wins the LWW comparison.
func (d *TextDoc) Seed(text []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.hasText {
		return
	}
	d.winner = TextUpdate{Stamp: stamp{Lamport: 0, Device: ""}, Text: bytes.Clone(text)}
	d.hasText = true
}

// NextLamport returns one greater than the highest lamport this TextDoc
// has observed from device, for callers originating a new local update.
func (d *TextDoc) NextLamport(device string) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.clocks[device] + 1
}

// EncodeUpdate serializes a TextUpdate for device at the given lamport
// value, the wire form ApplyUpdate/EncodeStateAsUpdate exchange.
func EncodeUpdate(device string, lamport uint64, text []byte) ([]byte, error) {
	return json.Marshal(TextUpdate{Stamp: stamp{Lamport: lamport, Device: device}, Text: text})
}
