package crdt

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/aretw0/introspection"
)

var (
	_ introspection.Introspectable = (*Store)(nil)
	_ introspection.Component      = (*Store)(nil)
)

// Store is the process-scoped registry for both replicated data types:
// one TextDoc per (vault, file_id) and one StructureDoc per vault. Rather
// than scatter global, process-wide CRDT state across the codebase,
// Store gives it a registry with a bound lifecycle, the way
// internal/vault.Registry does for the Content and Identity Stores.
// Snapshots live beside the vault directory (not inside it), so they are
// never committed into vault history — they are process-local state
// distinct from the tracked file tree.
type Store struct {
	root string // VAULT_PATH-relative snapshot root, sibling to the vaults themselves

	mu         sync.Mutex
	texts      map[string]*TextDoc
	structures map[string]*StructureDoc
}

// NewStore roots a Store's on-disk snapshots under root/<vault>/...
func NewStore(root string) *Store {
	return &Store{
		root:       root,
		texts:      make(map[string]*TextDoc),
		structures: make(map[string]*StructureDoc),
	}
}

func textKey(vault, fileID string) string { return vault + "/" + fileID }

// Text returns the TextDoc for (vault, fileID), loading its snapshot from
// disk on first access if one exists.
func (s *Store) Text(vault, fileID string) (*TextDoc, error) {
	key := textKey(vault, fileID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.texts[key]; ok {
		return d, nil
	}

	path := s.textPath(vault, fileID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			d := NewTextDoc()
			s.texts[key] = d
			return d, nil
		}
		return nil, fmt.Errorf("read text crdt snapshot %s: %w", path, err)
	}
	d, err := LoadSnapshot(data)
	if err != nil {
		return nil, err
	}
	s.texts[key] = d
	return d, nil
}

// PersistText writes doc's current snapshot to disk.
func (s *Store) PersistText(vault, fileID string, doc *TextDoc) error {
	data, err := doc.Snapshot()
	if err != nil {
		return err
	}
	return writeFileAtomic(s.textPath(vault, fileID), data)
}

// Structure returns the StructureDoc for vault, loading its snapshot from
// disk on first access if one exists.
func (s *Store) Structure(vault string) (*StructureDoc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.structures[vault]; ok {
		return d, nil
	}

	path := s.structurePath(vault)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			d := NewStructureDoc()
			s.structures[vault] = d
			return d, nil
		}
		return nil, fmt.Errorf("read structure crdt snapshot %s: %w", path, err)
	}
	d, err := LoadStructureSnapshot(data)
	if err != nil {
		return nil, err
	}
	s.structures[vault] = d
	return d, nil
}

// PersistStructure writes doc's current snapshot to disk.
func (s *Store) PersistStructure(vault string, doc *StructureDoc) error {
	data, err := doc.Snapshot()
	if err != nil {
		return err
	}
	return writeFileAtomic(s.structurePath(vault), data)
}

func (s *Store) textPath(vault, fileID string) string {
	return filepath.Join(s.root, vault, "text", fileID+".json")
}

func (s *Store) structurePath(vault string) string {
	return filepath.Join(s.root, vault, "structure.json")
}

// State implements introspection.Introspectable, surfacing how many CRDT
// documents this process currently holds in memory.
func (s *Store) State() any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return struct {
		TextDocs      int `json:"text_docs"`
		StructureDocs int `json:"structure_docs"`
	}{TextDocs: len(s.texts), StructureDocs: len(s.structures)}
}

// ComponentType implements introspection.Component.
func (s *Store) ComponentType() string { return "crdt_store" }
