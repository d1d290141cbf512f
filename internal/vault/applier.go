package vault

import "github.com/scionsync/scion/internal/engine"

// EngineApplier commits CRDT-materialized text into the Content Store via
// Modify semantics. It implements the realtime package's Applier
// interface structurally, without internal/realtime importing engine's
// concrete types or vault importing realtime — breaking what would
// otherwise be a cyclic dependency between the two packages. Only the
// wiring layer that constructs both the registry and the fan-out hub
// needs to know both packages.
type EngineApplier struct {
	Registry *Registry
}

// ApplyText materializes a per-file CRDT's text into the vault named
// vaultName at the path owned by fileID, under that vault's writer lock.
func (a *EngineApplier) ApplyText(vaultName, fileID string, text []byte) (string, error) {
	v, err := a.Registry.Get(vaultName)
	if err != nil {
		return "", err
	}
	v.Lock()
	defer v.Unlock()

	res, err := engine.Modify(v.Content, v.Identity, fileID, text, nil)
	if err != nil {
		return "", err
	}
	return res.Commit, nil
}

// ApplyStructure persists the per-vault structure CRDT's entry for
// fileID: a create, rename, or soft-delete, resolved the same way the
// HTTP sync surface would resolve it.
func (a *EngineApplier) ApplyStructure(vaultName, fileID, path string, deleted bool) (string, error) {
	v, err := a.Registry.Get(vaultName)
	if err != nil {
		return "", err
	}
	v.Lock()
	defer v.Unlock()

	if deleted {
		res, err := engine.Delete(v.Content, v.Identity, fileID)
		if err != nil {
			return "", err
		}
		return res.Commit, nil
	}

	rec, err := v.Identity.GetByID(fileID)
	if err != nil {
		return "", err
	}
	if rec == nil {
		res, err := engine.Create(v.Content, v.Identity, path, nil)
		if err != nil {
			return "", err
		}
		return res.Commit, nil
	}
	if rec.CurrentPath == path {
		head, _, err := v.Content.Head()
		return head, err
	}
	res, err := engine.Rename(v.Content, v.Identity, fileID, rec.CurrentPath, path, nil)
	if err != nil {
		return "", err
	}
	return res.Commit, nil
}
