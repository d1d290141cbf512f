// Package batch implements the Batch Coordinator: it runs an ordered
// list of operations against one vault under the vault's writer lock,
// either atomically (stop on first failure) or independently (accumulate
// every result).
package batch

import (
	"encoding/base64"

	"github.com/scionsync/scion/internal/apperr"
	"github.com/scionsync/scion/internal/content"
	"github.com/scionsync/scion/internal/engine"
	"github.com/scionsync/scion/internal/identity"
)

// OpType is the kind of a single batch operation.
type OpType string

const (
	OpCreate OpType = "create"
	OpModify OpType = "modify"
	OpRename OpType = "rename"
	OpDelete OpType = "delete"
)

// Op is one entry of a sync/v2 batch request.
type Op struct {
	Type       OpType
	Path       string
	FileID     string
	OldPath    string
	NewPath    string
	Content    string // base64, optional
	BaseCommit *string
}

// OpResult is the per-operation outcome reported back to the client.
type OpResult struct {
	Index         int    `json:"index"`
	Success       bool   `json:"success"`
	FileID        string `json:"file_id,omitempty"`
	Commit        string `json:"commit,omitempty"`
	Hash          string `json:"hash,omitempty"`
	Merged        *bool  `json:"merged,omitempty"`
	HasConflicts  *bool  `json:"has_conflicts,omitempty"`
	MergedContent string `json:"merged_content,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Result is the response to a sync/v2 batch request.
type Result struct {
	Success    bool
	Results    []OpResult
	HeadCommit string
}

// Run executes ops in order against cs/is. In atomic mode, a validation
// failure for op i aborts the whole batch before anything is attempted
// beyond index i, and a write failure after earlier ops succeeded stops
// processing and reports start_commit (the head before the batch began)
// as HeadCommit. In non-atomic mode every op is attempted independently
// and HeadCommit reflects whatever the store's head is afterward.
func Run(cs *content.Store, is *identity.Store, ops []Op, atomic bool) (Result, error) {
	startCommit, _, err := cs.Head()
	if err != nil {
		return Result{}, err
	}

	if atomic {
		if err := validateAll(ops); err != nil {
			return Result{}, err
		}
	}

	results := make([]OpResult, 0, len(ops))
	overallSuccess := true
	stopped := false

	for i, op := range ops {
		if stopped {
			break
		}
		res, err := runOne(cs, is, op)
		res.Index = i
		if err != nil {
			res.Success = false
			res.Error = err.Error()
			overallSuccess = false
			results = append(results, res)
			if atomic {
				stopped = true
			}
			continue
		}
		res.Success = true
		results = append(results, res)
	}

	head := startCommit
	if !atomic || overallSuccess {
		if h, _, err := cs.Head(); err == nil {
			head = h
		}
	}

	return Result{Success: overallSuccess, Results: results, HeadCommit: head}, nil
}

func validateAll(ops []Op) error {
	if len(ops) == 0 {
		return apperr.Validationf("sync_v2", "", "operations must be a non-empty list")
	}
	for _, op := range ops {
		if err := validateOne(op); err != nil {
			return err
		}
	}
	return nil
}

func validateOne(op Op) error {
	switch op.Type {
	case OpCreate:
		if op.Path == "" {
			return apperr.Validationf("create", "", "path is required")
		}
	case OpModify:
		if op.FileID == "" {
			return apperr.Validationf("modify", "", "file_id is required")
		}
	case OpRename:
		if op.FileID == "" || op.OldPath == "" || op.NewPath == "" {
			return apperr.Validationf("rename", op.FileID, "file_id, old_path, and new_path are required")
		}
	case OpDelete:
		if op.FileID == "" {
			return apperr.Validationf("delete", "", "file_id is required")
		}
	default:
		return apperr.Validationf("sync_v2", string(op.Type), "unknown operation type %q", op.Type)
	}
	return nil
}

func runOne(cs *content.Store, is *identity.Store, op Op) (OpResult, error) {
	if err := validateOne(op); err != nil {
		return OpResult{}, err
	}

	switch op.Type {
	case OpCreate:
		data, err := decodeContent(op.Content)
		if err != nil {
			return OpResult{}, err
		}
		res, err := engine.Create(cs, is, op.Path, data)
		if err != nil {
			return OpResult{}, err
		}
		return fromEngineResult(res), nil

	case OpModify:
		data, err := decodeContent(op.Content)
		if err != nil {
			return OpResult{}, err
		}
		res, err := engine.Modify(cs, is, op.FileID, data, op.BaseCommit)
		if err != nil {
			return OpResult{}, err
		}
		return fromEngineResult(res), nil

	case OpRename:
		var content []byte
		if op.Content != "" {
			var err error
			content, err = decodeContent(op.Content)
			if err != nil {
				return OpResult{}, err
			}
		}
		res, err := engine.Rename(cs, is, op.FileID, op.OldPath, op.NewPath, content)
		if err != nil {
			return OpResult{}, err
		}
		return OpResult{FileID: res.FileID, Commit: res.Commit, Hash: res.Hash}, nil

	case OpDelete:
		res, err := engine.Delete(cs, is, op.FileID)
		if err != nil {
			return OpResult{}, err
		}
		return OpResult{FileID: res.FileID, Commit: res.Commit}, nil

	default:
		return OpResult{}, apperr.Validationf("sync_v2", string(op.Type), "unknown operation type %q", op.Type)
	}
}

func decodeContent(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, nil
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperr.Validationf("sync_v2", "", "content is not valid base64: %v", err)
	}
	return data, nil
}

func fromEngineResult(res engine.Result) OpResult {
	merged := res.Merged
	hasConflicts := res.HasConflicts
	out := OpResult{
		FileID:       res.FileID,
		Commit:       res.Commit,
		Hash:         res.Hash,
		Merged:       &merged,
		HasConflicts: &hasConflicts,
	}
	if res.HasConflicts {
		out.MergedContent = base64.StdEncoding.EncodeToString(res.MergedContent)
	}
	return out
}
