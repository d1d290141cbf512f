// Package vault owns the per-process, per-vault resource managers: the
// Content Store, the Identity Store, and the exclusive writer lock that
// serializes mutation of both. Rather than scatter global, process-wide
// store handles across the codebase, every accessor goes through a
// single process-scoped registry; Registry is that registry.
package vault

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/aretw0/introspection"

	"github.com/scionsync/scion/internal/apperr"
	"github.com/scionsync/scion/internal/content"
	"github.com/scionsync/scion/internal/identity"
	"github.com/scionsync/scion/internal/vaultname"
)

var (
	_ introspection.Introspectable = (*Registry)(nil)
	_ introspection.Component      = (*Registry)(nil)
)

// Vault bundles one named vault's Content Store, Identity Store, and
// writer lock. Readers (manifest, status, file, file-by-id) may proceed
// without acquiring Lock; any mutation of the Content Store, Identity
// Store, manifest, or CRDT state must hold it for the duration of the
// operation.
type Vault struct {
	Name     string
	Dir      string
	Content  *content.Store
	Identity *identity.Store

	mu sync.Mutex
}

// Lock acquires the vault's exclusive writer lock.
func (v *Vault) Lock() { v.mu.Lock() }

// Unlock releases the vault's exclusive writer lock.
func (v *Vault) Unlock() { v.mu.Unlock() }

// Registry lazily opens and caches one Vault per vault name, rooted under
// a single VAULT_PATH directory. Its lifecycle is bound to the serving
// process: every open Content/Identity Store handle lives as long as the
// Registry does.
type Registry struct {
	root   string
	logger *slog.Logger

	mu     sync.Mutex
	vaults map[string]*Vault
}

// NewRegistry creates a registry rooted at root (the configured
// VAULT_PATH).
func NewRegistry(root string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{root: root, logger: logger, vaults: make(map[string]*Vault)}
}

// Get returns the Vault for name, opening and initializing its stores on
// first access. It rejects invalid vault names before touching disk.
func (r *Registry) Get(name string) (*Vault, error) {
	if !vaultname.Valid(name) {
		return nil, apperr.Validationf("vault", name, "invalid vault name %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.vaults[name]; ok {
		return v, nil
	}

	dir := filepath.Join(r.root, name)
	cs := content.Open(dir, r.logger)
	if err := cs.Init(); err != nil {
		return nil, apperr.Fatalf("vault", name, fmt.Errorf("initialize content store: %w", err))
	}

	is, err := identity.Open(dir, name, r.logger)
	if err != nil {
		return nil, apperr.Fatalf("vault", name, fmt.Errorf("open identity store: %w", err))
	}

	v := &Vault{Name: name, Dir: dir, Content: cs, Identity: is}
	r.vaults[name] = v
	r.logger.Info("vault registered", "vault", name)
	return v, nil
}

// Root returns the configured VAULT_PATH, the directory under which every
// vault lives.
func (r *Registry) Root() string { return r.root }

// Names returns the names of every vault opened so far.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.vaults))
	for name := range r.vaults {
		names = append(names, name)
	}
	return names
}

// Close releases every open Identity Store handle.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, v := range r.vaults {
		if err := v.Identity.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// State implements introspection.Introspectable, surfacing how many
// vaults this process currently has open for CLI diagnostics (the
// status command).
func (r *Registry) State() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return struct {
		Root       string   `json:"root"`
		OpenVaults int      `json:"open_vaults"`
		VaultNames []string `json:"vault_names"`
	}{
		Root:       r.root,
		OpenVaults: len(r.vaults),
		VaultNames: namesLocked(r.vaults),
	}
}

// ComponentType implements introspection.Component.
func (r *Registry) ComponentType() string { return "vault_registry" }

func namesLocked(vaults map[string]*Vault) []string {
	names := make([]string, 0, len(vaults))
	for name := range vaults {
		names = append(names, name)
	}
	return names
}
