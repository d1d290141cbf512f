package batch

import (
	"encoding/base64"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

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

func b64(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestRunAtomicStopsAfterFailure(t *testing.T) {
	cs, is := newVault(t)
	start, _, err := cs.Head()
	require.NoError(t, err)

	ops := []Op{
		{Type: OpCreate, Path: "a.md", Content: b64("a")},
		{Type: OpDelete, FileID: "does-not-exist"},
		{Type: OpCreate, Path: "b.md", Content: b64("b")},
	}

	result, err := Run(cs, is, ops, true)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Len(t, result.Results, 2)
	require.Equal(t, start, result.HeadCommit)

	_, ok, err := cs.ReadCurrent("b.md")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRunAtomicFailsValidationBeforeAnyWrite(t *testing.T) {
	cs, is := newVault(t)

	ops := []Op{
		{Type: "bogus"},
		{Type: OpCreate, Path: "a.md", Content: b64("a")},
	}

	_, err := Run(cs, is, ops, true)
	require.Error(t, err)

	_, ok, err := cs.ReadCurrent("a.md")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRunNonAtomicAccumulatesResults(t *testing.T) {
	cs, is := newVault(t)

	ops := []Op{
		{Type: OpCreate, Path: "a.md", Content: b64("a")},
		{Type: OpDelete, FileID: "does-not-exist"},
		{Type: OpCreate, Path: "b.md", Content: b64("b")},
	}

	result, err := Run(cs, is, ops, false)
	require.NoError(t, err)
	require.False(t, result.Success)
	require.Len(t, result.Results, 3)
	require.True(t, result.Results[0].Success)
	require.False(t, result.Results[1].Success)
	require.True(t, result.Results[2].Success)

	_, ok, err := cs.ReadCurrent("b.md")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestRunRenameWithinBatch(t *testing.T) {
	cs, is := newVault(t)
	created, err := Run(cs, is, []Op{{Type: OpCreate, Path: "old.md", Content: b64("body")}}, true)
	require.NoError(t, err)
	require.True(t, created.Success)
	fileID := created.Results[0].FileID

	result, err := Run(cs, is, []Op{
		{Type: OpRename, FileID: fileID, OldPath: "old.md", NewPath: "new.md"},
	}, true)
	require.NoError(t, err)
	require.True(t, result.Success)

	_, ok, err := cs.ReadCurrent("new.md")
	require.NoError(t, err)
	require.True(t, ok)
}
