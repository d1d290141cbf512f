// Package content implements the Content Store: durable,
// history-preserving, content-addressed storage for a single vault.
//
// Rather than shell out to the `git` binary via os/exec, this Store
// embeds github.com/go-git/go-git/v5 directly: every write is a real
// commit in a real (non-bare) repository rooted at the vault directory,
// giving genuine history without ever spawning a subprocess.
package content

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/scionsync/scion/internal/merge"
	"github.com/scionsync/scion/internal/vaultname"
)

// NoCommit is the zero value for an empty vault's head.
const NoCommit = ""

var signature = object.Signature{
	Name:  "scion",
	Email: "scion@localhost",
}

// Store is the Content Store for one vault.
type Store struct {
	path   string
	repo   *git.Repository
	logger *slog.Logger
}

// Open wires a Store to the given vault directory without touching disk;
// Init opens or creates the repository there.
func Open(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{path: path, logger: logger}
}

// Init ensures the vault directory and its repository exist. It is
// idempotent: calling it on an already-initialized vault is a no-op aside
// from re-opening the repository handle.
func (s *Store) Init() error {
	if err := os.MkdirAll(s.path, 0o755); err != nil {
		return fmt.Errorf("create vault directory: %w", err)
	}

	repo, err := git.PlainOpen(s.path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(s.path, false)
		if err != nil {
			return fmt.Errorf("init vault repository: %w", err)
		}
		s.repo = repo
		if _, err := s.writeAndCommit(map[string][]byte{
			".gitignore": []byte(vaultname.SystemDir + "/metadata.db\n" + vaultname.SystemDir + "/metadata.db-*\n" + vaultname.SystemDir + "/*.lock\n"),
		}, nil, "chore: initialize vault"); err != nil {
			return fmt.Errorf("create initial commit: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("open vault repository: %w", err)
	}
	s.repo = repo
	return nil
}

// Head returns the current head commit, or (NoCommit, false) for an empty
// vault.
func (s *Store) Head() (string, bool, error) {
	ref, err := s.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return NoCommit, false, nil
	}
	if err != nil {
		return NoCommit, false, fmt.Errorf("read head: %w", err)
	}
	return ref.Hash().String(), true, nil
}

// Put writes bytes at path and commits. If bytes are unchanged from the
// current head, it returns the unchanged head without creating a commit.
func (s *Store) Put(path string, data []byte, message string) (string, error) {
	current, ok, err := s.ReadCurrent(path)
	if err != nil {
		return NoCommit, err
	}
	if ok && bytes.Equal(current, data) {
		head, _, err := s.Head()
		return head, err
	}
	return s.writeAndCommit(map[string][]byte{path: data}, nil, message)
}

// Delete removes path from the current snapshot and commits the removal.
// It returns false (without error) if the path was not present.
func (s *Store) Delete(path string) (bool, string, error) {
	_, ok, err := s.ReadCurrent(path)
	if err != nil {
		return false, NoCommit, err
	}
	if !ok {
		return false, NoCommit, nil
	}
	commit, err := s.writeAndCommit(nil, []string{path}, fmt.Sprintf("chore: delete %s", path))
	if err != nil {
		return false, NoCommit, err
	}
	return true, commit, nil
}

// Move performs an atomic rename commit. If newContent is non-nil, it
// becomes the bytes at newPath in the same commit; otherwise the bytes at
// oldPath are carried over unchanged.
func (s *Store) Move(oldPath, newPath string, newContent []byte) (string, error) {
	content := newContent
	if content == nil {
		existing, ok, err := s.ReadCurrent(oldPath)
		if err != nil {
			return NoCommit, err
		}
		if ok {
			content = existing
		}
	}
	return s.writeAndCommit(map[string][]byte{newPath: content}, []string{oldPath}, fmt.Sprintf("chore: rename %s -> %s", oldPath, newPath))
}

// ReadCurrent returns the bytes currently stored at path, or (nil, false)
// if the path is not tracked.
func (s *Store) ReadCurrent(path string) ([]byte, bool, error) {
	head, ok, err := s.Head()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return s.ReadAt(head, path)
}

// ReadAt returns the file's bytes as of commit, or (nil, false) if the file
// did not exist there.
func (s *Store) ReadAt(commit, path string) ([]byte, bool, error) {
	c, err := s.repo.CommitObject(plumbing.NewHash(commit))
	if err != nil {
		return nil, false, fmt.Errorf("resolve commit %s: %w", commit, err)
	}
	f, err := c.File(path)
	if errors.Is(err, object.ErrFileNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s at %s: %w", path, commit, err)
	}
	r, err := f.Reader()
	if err != nil {
		return nil, false, fmt.Errorf("open %s at %s: %w", path, commit, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, false, fmt.Errorf("read %s at %s: %w", path, commit, err)
	}
	return data, true, nil
}

// ReadAtCandidates tries each of candidates, in order, at commit, returning
// the first hit. It is used by the engine to implement
// read_at_with_history: the caller supplies current_path followed by the
// file's historical paths (owned by the Identity Store) in reverse
// chronological order.
func (s *Store) ReadAtCandidates(commit string, candidates []string) ([]byte, bool, error) {
	for _, p := range candidates {
		if data, ok, err := s.ReadAt(commit, p); err != nil {
			return nil, false, err
		} else if ok {
			return data, true, nil
		}
	}
	return nil, false, nil
}

// ListTracked returns every tracked path at head, excluding reserved
// metadata paths.
func (s *Store) ListTracked() ([]string, error) {
	head, ok, err := s.Head()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	c, err := s.repo.CommitObject(plumbing.NewHash(head))
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, fmt.Errorf("read tree: %w", err)
	}

	var paths []string
	walker := object.NewTreeWalker(tree, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("walk tree: %w", err)
		}
		if entry.Mode.IsFile() && !vaultname.IsReservedPath(name) {
			paths = append(paths, name)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// ChangedSince returns the current head together with every tracked path
// whose bytes differ from their bytes at since. If since is the current
// head, the changed list is empty. If since is empty or unresolvable, every
// tracked path is reported changed.
func (s *Store) ChangedSince(since string) (string, []string, error) {
	head, ok, err := s.Head()
	if err != nil {
		return NoCommit, nil, err
	}
	if !ok {
		return NoCommit, nil, nil
	}
	if since == head {
		return head, nil, nil
	}
	if since == "" {
		tracked, err := s.ListTracked()
		return head, tracked, err
	}

	sinceCommit, err := s.repo.CommitObject(plumbing.NewHash(since))
	if err != nil {
		// Unknown commit: treat as "all tracked paths changed".
		tracked, lerr := s.ListTracked()
		return head, tracked, lerr
	}
	headCommit, err := s.repo.CommitObject(plumbing.NewHash(head))
	if err != nil {
		return NoCommit, nil, fmt.Errorf("resolve head: %w", err)
	}

	sinceTree, err := sinceCommit.Tree()
	if err != nil {
		return NoCommit, nil, fmt.Errorf("read tree at %s: %w", since, err)
	}
	headTree, err := headCommit.Tree()
	if err != nil {
		return NoCommit, nil, fmt.Errorf("read head tree: %w", err)
	}

	changes, err := sinceTree.Diff(headTree)
	if err != nil {
		return NoCommit, nil, fmt.Errorf("diff trees: %w", err)
	}

	seen := make(map[string]bool)
	var out []string
	for _, c := range changes {
		for _, name := range []string{c.From.Name, c.To.Name} {
			if name == "" || seen[name] || vaultname.IsReservedPath(name) {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return head, out, nil
}

// Merge performs the line-oriented three-way merge, delegating to
// internal/merge.
func (s *Store) Merge(base, local, remote []byte) ([]byte, bool) {
	return merge.ThreeWay(base, local, remote)
}

// CommitFiles stages an arbitrary set of writes and deletes and commits
// them together. The Operation Engine uses this directly for operations
// that must land content changes and the disaster-recovery manifest
// (internal/identity) in the same commit, such as Rename.
func (s *Store) CommitFiles(writes map[string][]byte, deletes []string, message string) (string, error) {
	return s.writeAndCommit(writes, deletes, message)
}

// writeAndCommit stages the given writes and deletes in the worktree and
// commits them in a single commit. It is the one place that touches
// go-git's Worktree so every public mutator shares identical commit
// semantics.
func (s *Store) writeAndCommit(writes map[string][]byte, deletes []string, message string) (string, error) {
	wt, err := s.repo.Worktree()
	if err != nil {
		return NoCommit, fmt.Errorf("open worktree: %w", err)
	}

	for _, p := range deletes {
		full := filepath.Join(s.path, filepath.FromSlash(p))
		if _, statErr := os.Stat(full); statErr == nil {
			if _, err := wt.Remove(p); err != nil {
				return NoCommit, fmt.Errorf("stage removal of %s: %w", p, err)
			}
		}
	}

	for p, data := range writes {
		full := filepath.Join(s.path, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return NoCommit, fmt.Errorf("create parent directories for %s: %w", p, err)
		}
		if err := os.WriteFile(full, data, 0o644); err != nil {
			return NoCommit, fmt.Errorf("write %s: %w", p, err)
		}
		if _, err := wt.Add(p); err != nil {
			return NoCommit, fmt.Errorf("stage %s: %w", p, err)
		}
	}

	status, err := wt.Status()
	if err != nil {
		return NoCommit, fmt.Errorf("read worktree status: %w", err)
	}
	if status.IsClean() {
		head, _, err := s.Head()
		return head, err
	}

	sig := signature
	sig.When = time.Now()
	hash, err := wt.Commit(message, &git.CommitOptions{Author: &sig, Committer: &sig})
	if err != nil {
		return NoCommit, fmt.Errorf("commit: %w", err)
	}
	return hash.String(), nil
}

// HashBytes computes the lowercase hex SHA-256 of data, the content
// addressing scheme for manifest rows, independent of git's own (SHA-1)
// object hashing.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
