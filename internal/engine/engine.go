// Package engine implements the Operation Engine: it resolves a single
// logical sync operation against a vault's current head and commits the
// Content Store and Identity Store together.
//
// Every function here takes an already-opened Content Store and Identity
// Store for one vault; the caller (internal/vault) is responsible for
// holding that vault's exclusive writer lock around the call, since the
// vault model allows only one writer at a time. Keeping the engine itself
// lock-free and stateless separates the storage primitives from the
// transaction lifecycle that drives them.
package engine

import (
	"fmt"

	"github.com/scionsync/scion/internal/apperr"
	"github.com/scionsync/scion/internal/content"
	"github.com/scionsync/scion/internal/identity"
	"github.com/scionsync/scion/internal/vaultname"
)

// Result is the outcome shape shared by Create, Modify, and Sync.
type Result struct {
	FileID        string
	Commit        string
	Hash          string
	Merged        bool
	HasConflicts  bool
	MergedContent []byte
}

// RenameResult is the outcome of Rename.
type RenameResult struct {
	FileID string
	Commit string
	Hash   string
}

// DeleteResult is the outcome of Delete.
type DeleteResult struct {
	FileID string
	Commit string
}

// Create commits bytes at a brand new path and assigns a fresh file_id.
// It fails if a non-deleted file already exists there.
func Create(cs *content.Store, is *identity.Store, path string, data []byte) (Result, error) {
	if existing, err := is.GetByPath(path); err != nil {
		return Result{}, err
	} else if existing != nil {
		return Result{}, apperr.Conflictf("create", path, "a file already exists at %q", path)
	}

	hash := content.HashBytes(data)
	fileID, err := is.EnsureFileID(path, &hash, nil)
	if err != nil {
		return Result{}, err
	}

	commit, err := commitWithManifest(cs, is, map[string][]byte{path: data}, nil,
		content.FormatCommitMessage(content.CommitTypeFeat, "vault", fmt.Sprintf("create %s", path)))
	if err != nil {
		return Result{}, apperr.Fatalf("create", path, fmt.Errorf("commit create: %w", err))
	}
	if err := is.Update(fileID, identity.UpdateFields{Commit: &commit}); err != nil {
		return Result{}, err
	}

	return Result{FileID: fileID, Commit: commit, Hash: hash}, nil
}

// Modify resolves an edit against the file's current server path, found
// via file_id: no base commit, a fast-forward base, a stale base that
// merges cleanly, or a stale base that conflicts.
func Modify(cs *content.Store, is *identity.Store, fileID string, data []byte, baseCommit *string) (Result, error) {
	rec, err := is.GetByID(fileID)
	if err != nil {
		return Result{}, err
	}
	if rec == nil {
		return Result{}, apperr.NotFoundf("modify", fileID, "no active file with id %q", fileID)
	}
	path := rec.CurrentPath

	current, ok, err := cs.ReadCurrent(path)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		// The Content Store lost the bytes the Identity Store still
		// considers live (e.g. manual history surgery): recreate rather
		// than error, since the identity record itself was never
		// soft-deleted.
		return commitModify(cs, is, fileID, path, data, "recreate", false, false, nil)
	}

	head, _, err := cs.Head()
	if err != nil {
		return Result{}, err
	}
	if baseCommit != nil && *baseCommit == head {
		return commitModify(cs, is, fileID, path, data, "edit", false, false, nil)
	}

	newHash := content.HashBytes(data)
	currentHash := content.HashBytes(current)
	if newHash == currentHash {
		return Result{FileID: fileID, Commit: head, Hash: currentHash}, nil
	}

	var base []byte
	if baseCommit != nil {
		if b, ok, err := cs.ReadAt(*baseCommit, path); err == nil && ok {
			base = b
		} else {
			base = current
		}
	} else {
		base = current
	}

	merged, hasConflicts := cs.Merge(base, data, current)
	if hasConflicts {
		return Result{FileID: fileID, Commit: head, Merged: true, HasConflicts: true, MergedContent: merged}, nil
	}
	return commitModify(cs, is, fileID, path, merged, "merge", true, false, nil)
}

func commitModify(cs *content.Store, is *identity.Store, fileID, path string, data []byte, verb string, merged, hasConflicts bool, mergedContent []byte) (Result, error) {
	hash := content.HashBytes(data)
	commit, err := commitWithManifest(cs, is, map[string][]byte{path: data}, nil,
		content.FormatCommitMessage(content.CommitTypeFix, "vault", fmt.Sprintf("%s %s", verb, path)))
	if err != nil {
		return Result{}, apperr.Fatalf("modify", fileID, fmt.Errorf("commit %s: %w", verb, err))
	}
	if err := is.Update(fileID, identity.UpdateFields{Hash: &hash, Commit: &commit}); err != nil {
		return Result{}, err
	}
	return Result{FileID: fileID, Commit: commit, Hash: hash, Merged: merged, HasConflicts: hasConflicts, MergedContent: mergedContent}, nil
}

// Rename verifies the active record is currently at oldPath, then
// atomically renames it, optionally replacing its bytes, and rewrites the
// disaster-recovery manifest into the same commit.
func Rename(cs *content.Store, is *identity.Store, fileID, oldPath, newPath string, newContent []byte) (RenameResult, error) {
	rec, err := is.GetByID(fileID)
	if err != nil {
		return RenameResult{}, err
	}
	if rec == nil {
		return RenameResult{}, apperr.NotFoundf("rename", fileID, "no active file with id %q", fileID)
	}
	if rec.CurrentPath != oldPath {
		return RenameResult{}, apperr.Conflictf("rename", fileID, "current path is %q, not %q", rec.CurrentPath, oldPath)
	}
	if vaultname.IsReservedPath(newPath) {
		return RenameResult{}, apperr.Validationf("rename", newPath, "path %q is reserved", newPath)
	}
	if dest, err := is.GetByPath(newPath); err != nil {
		return RenameResult{}, err
	} else if dest != nil && dest.FileID != fileID {
		return RenameResult{}, apperr.Conflictf("rename", fileID, "destination %q already exists", newPath)
	}

	body := newContent
	if body == nil {
		existing, ok, err := cs.ReadCurrent(oldPath)
		if err != nil {
			return RenameResult{}, err
		}
		if ok {
			body = existing
		}
	}

	if err := is.RecordPathChange(fileID, oldPath, newPath); err != nil {
		return RenameResult{}, err
	}
	if err := is.Update(fileID, identity.UpdateFields{CurrentPath: &newPath}); err != nil {
		return RenameResult{}, err
	}

	hash := content.HashBytes(body)
	commit, err := commitWithManifest(cs, is, map[string][]byte{newPath: body}, []string{oldPath},
		content.FormatCommitMessage(content.CommitTypeChore, "vault", fmt.Sprintf("rename %s -> %s", oldPath, newPath)))
	if err != nil {
		return RenameResult{}, apperr.Fatalf("rename", fileID, fmt.Errorf("commit rename: %w", err))
	}
	if err := is.Update(fileID, identity.UpdateFields{Hash: &hash, Commit: &commit}); err != nil {
		return RenameResult{}, err
	}

	return RenameResult{FileID: fileID, Commit: commit, Hash: hash}, nil
}

// Delete soft-deletes the identity record and commits removal of its
// current path.
func Delete(cs *content.Store, is *identity.Store, fileID string) (DeleteResult, error) {
	rec, err := is.GetByID(fileID)
	if err != nil {
		return DeleteResult{}, err
	}
	if rec == nil {
		return DeleteResult{}, apperr.NotFoundf("delete", fileID, "no active file with id %q", fileID)
	}
	if err := is.SoftDelete(fileID); err != nil {
		return DeleteResult{}, err
	}

	commit, err := commitWithManifest(cs, is, nil, []string{rec.CurrentPath},
		content.FormatCommitMessage(content.CommitTypeFix, "vault", fmt.Sprintf("delete %s", rec.CurrentPath)))
	if err != nil {
		return DeleteResult{}, apperr.Fatalf("delete", fileID, fmt.Errorf("commit delete: %w", err))
	}
	return DeleteResult{FileID: fileID, Commit: commit}, nil
}

// Sync is the single-file sync derived procedure: Create if the path is
// unknown, otherwise Modify resolved through the path's active file_id.
func Sync(cs *content.Store, is *identity.Store, path string, data []byte, baseCommit *string) (Result, error) {
	rec, err := is.GetByPath(path)
	if err != nil {
		return Result{}, err
	}
	if rec == nil {
		return Create(cs, is, path, data)
	}
	return Modify(cs, is, rec.FileID, data, baseCommit)
}

// commitWithManifest rewrites the disaster-recovery manifest from the
// Identity Store's current state and commits it alongside writes/deletes
// in a single commit, so the manifest never drifts out of sync with the
// tracked files it describes.
func commitWithManifest(cs *content.Store, is *identity.Store, writes map[string][]byte, deletes []string, message string) (string, error) {
	manifest, err := is.BuildManifest()
	if err != nil {
		return "", err
	}
	manifestBytes, err := identity.MarshalManifest(manifest)
	if err != nil {
		return "", err
	}

	if writes == nil {
		writes = make(map[string][]byte, 1)
	}
	writes[vaultname.ManifestPath] = manifestBytes

	return cs.CommitFiles(writes, deletes, message)
}
