package engine

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scionsync/scion/internal/apperr"
	"github.com/scionsync/scion/internal/content"
	"github.com/scionsync/scion/internal/identity"
)

func newVault(t *testing.T) (*content.Store, *identity.Store) {
	t.Helper()
	dir := t.TempDir()
	vaultDir := filepath.Join(dir, "vault")

	cs := content.Open(vaultDir, nil)
	require.NoError(t, cs.Init())

	is, err := identity.Open(vaultDir, "notes", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = is.Close() })

	return cs, is
}

func TestCreateAssignsFileIDAndCommits(t *testing.T) {
	cs, is := newVault(t)

	res, err := Create(cs, is, "a.md", []byte("hello"))
	require.NoError(t, err)
	require.NotEmpty(t, res.FileID)
	require.NotEmpty(t, res.Commit)
	require.False(t, res.Merged)
	require.False(t, res.HasConflicts)

	data, ok, err := cs.ReadCurrent("a.md")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", string(data))
}

func TestCreateAtExistingPathConflicts(t *testing.T) {
	cs, is := newVault(t)
	_, err := Create(cs, is, "a.md", []byte("hello"))
	require.NoError(t, err)

	_, err = Create(cs, is, "a.md", []byte("again"))
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindConflict, appErr.Kind)
}

func TestModifyFastForward(t *testing.T) {
	cs, is := newVault(t)
	created, err := Create(cs, is, "a.md", []byte("v1"))
	require.NoError(t, err)

	res, err := Modify(cs, is, created.FileID, []byte("v2"), &created.Commit)
	require.NoError(t, err)
	require.False(t, res.Merged)
	require.NotEqual(t, created.Commit, res.Commit)

	data, _, err := cs.ReadCurrent("a.md")
	require.NoError(t, err)
	require.Equal(t, "v2", string(data))
}

func TestModifyNoOpWhenHashesMatch(t *testing.T) {
	cs, is := newVault(t)
	created, err := Create(cs, is, "a.md", []byte("same"))
	require.NoError(t, err)

	res, err := Modify(cs, is, created.FileID, []byte("same"), nil)
	require.NoError(t, err)
	require.False(t, res.Merged)
	require.Equal(t, created.Commit, res.Commit)
}

func TestModifyCleanThreeWayMerge(t *testing.T) {
	cs, is := newVault(t)
	created, err := Create(cs, is, "a.md", []byte("Line 1\nLine 2\nLine 3\n"))
	require.NoError(t, err)
	base := created.Commit

	// Server moves ahead independently.
	_, err = Modify(cs, is, created.FileID, []byte("Line 1\nLine 2\nLine 3 - server\n"), &base)
	require.NoError(t, err)

	// Client edits against the stale base.
	res, err := Modify(cs, is, created.FileID, []byte("Line 1 - client\nLine 2\nLine 3\n"), &base)
	require.NoError(t, err)
	require.True(t, res.Merged)
	require.False(t, res.HasConflicts)

	data, _, err := cs.ReadCurrent("a.md")
	require.NoError(t, err)
	require.Contains(t, string(data), "Line 1 - client")
	require.Contains(t, string(data), "Line 3 - server")
}

func TestModifyConflictDoesNotCommit(t *testing.T) {
	cs, is := newVault(t)
	created, err := Create(cs, is, "a.md", []byte("original\n"))
	require.NoError(t, err)
	base := created.Commit

	_, err = Modify(cs, is, created.FileID, []byte("server edit\n"), &base)
	require.NoError(t, err)
	headBefore, _, err := cs.Head()
	require.NoError(t, err)

	res, err := Modify(cs, is, created.FileID, []byte("client edit\n"), &base)
	require.NoError(t, err)
	require.True(t, res.HasConflicts)
	require.Contains(t, string(res.MergedContent), "<<<<<<< LOCAL")
	require.Equal(t, headBefore, res.Commit)

	headAfter, _, err := cs.Head()
	require.NoError(t, err)
	require.Equal(t, headBefore, headAfter)
}

func TestRenameUpdatesPathAndPreservesContent(t *testing.T) {
	cs, is := newVault(t)
	created, err := Create(cs, is, "old.md", []byte("body"))
	require.NoError(t, err)

	res, err := Rename(cs, is, created.FileID, "old.md", "new.md", nil)
	require.NoError(t, err)
	require.Equal(t, created.FileID, res.FileID)

	_, ok, err := cs.ReadCurrent("old.md")
	require.NoError(t, err)
	require.False(t, ok)

	data, ok, err := cs.ReadCurrent("new.md")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "body", string(data))
}

func TestRenameMismatchedCurrentPathConflicts(t *testing.T) {
	cs, is := newVault(t)
	created, err := Create(cs, is, "old.md", []byte("body"))
	require.NoError(t, err)

	_, err = Rename(cs, is, created.FileID, "wrong.md", "new.md", nil)
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindConflict, appErr.Kind)
}

func TestDeleteSoftDeletesAndRemovesFromSnapshot(t *testing.T) {
	cs, is := newVault(t)
	created, err := Create(cs, is, "a.md", []byte("body"))
	require.NoError(t, err)

	res, err := Delete(cs, is, created.FileID)
	require.NoError(t, err)
	require.Equal(t, created.FileID, res.FileID)

	_, ok, err := cs.ReadCurrent("a.md")
	require.NoError(t, err)
	require.False(t, ok)

	rec, err := is.GetByID(created.FileID)
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestDeleteUnknownFileIDNotFound(t *testing.T) {
	cs, is := newVault(t)
	_, err := Delete(cs, is, "does-not-exist")
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	require.Equal(t, apperr.KindNotFound, appErr.Kind)
}

func TestSyncTreatsUnknownPathAsCreate(t *testing.T) {
	cs, is := newVault(t)
	res, err := Sync(cs, is, "a.md", []byte("hello"), nil)
	require.NoError(t, err)
	require.False(t, res.Merged)

	data, ok, err := cs.ReadCurrent("a.md")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", string(data))
}

func TestSyncResolvesThroughModifyForKnownPath(t *testing.T) {
	cs, is := newVault(t)
	created, err := Sync(cs, is, "a.md", []byte("v1"), nil)
	require.NoError(t, err)

	res, err := Sync(cs, is, "a.md", []byte("v2"), &created.Commit)
	require.NoError(t, err)
	require.False(t, res.Merged)
	require.NotEqual(t, created.Commit, res.Commit)
}
