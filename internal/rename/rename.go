// Package rename implements the Rename Detector: given a path the
// client reports missing, it finds the file's likely successor using the
// Identity Store's file_id, hash, and path-history indexes.
package rename

import (
	"github.com/scionsync/scion/internal/identity"
)

// Method names the resolution strategy that produced a Result.
type Method string

const (
	MethodFileID      Method = "file_id"
	MethodHashMatch   Method = "hash_match"
	MethodPathHistory Method = "path_history"
)

// Result is the outcome of a detection attempt.
type Result struct {
	Found   bool
	NewPath string
	FileID  string
	Method  Method
}

// Detect implements the resolution order:
//  1. fileID, if supplied, resolves to an active record at a different path.
//  2. exactly one active record shares missingHash at a different path.
//  3. a historical path of some active record equals missingPath.
//  4. not found.
func Detect(store *identity.Store, missingPath, missingHash, fileID string) (Result, error) {
	if fileID != "" {
		rec, err := store.GetByID(fileID)
		if err != nil {
			return Result{}, err
		}
		if rec != nil && rec.CurrentPath != missingPath {
			return Result{Found: true, NewPath: rec.CurrentPath, FileID: rec.FileID, Method: MethodFileID}, nil
		}
	}

	if missingHash != "" {
		matches, err := store.GetByHash(missingHash)
		if err != nil {
			return Result{}, err
		}
		var candidate *identity.Record
		for i := range matches {
			if matches[i].CurrentPath == missingPath {
				continue
			}
			if candidate != nil {
				return Result{Found: false}, nil
			}
			candidate = &matches[i]
		}
		if candidate != nil {
			return Result{Found: true, NewPath: candidate.CurrentPath, FileID: candidate.FileID, Method: MethodHashMatch}, nil
		}
	}

	rec, err := store.FindByAnyPath(missingPath)
	if err != nil {
		return Result{}, err
	}
	if rec != nil && rec.CurrentPath != missingPath {
		return Result{Found: true, NewPath: rec.CurrentPath, FileID: rec.FileID, Method: MethodPathHistory}, nil
	}

	return Result{Found: false}, nil
}
