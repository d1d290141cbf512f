package rename

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/scionsync/scion/internal/identity"
)

func newTestStore(t *testing.T) *identity.Store {
	t.Helper()
	dir := t.TempDir()
	s, err := identity.Open(filepath.Join(dir, "vault"), "notes", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func strPtr(s string) *string { return &s }

func TestDetectByFileID(t *testing.T) {
	store := newTestStore(t)
	id, err := store.EnsureFileID("old.md", nil, nil)
	require.NoError(t, err)
	require.NoError(t, store.RecordPathChange(id, "old.md", "new.md"))
	require.NoError(t, store.Update(id, identity.UpdateFields{CurrentPath: strPtr("new.md")}))

	result, err := Detect(store, "old.md", "", id)
	require.NoError(t, err)
	require.True(t, result.Found)
	require.Equal(t, "new.md", result.NewPath)
	require.Equal(t, MethodFileID, result.Method)
}

func TestDetectByHashMatch(t *testing.T) {
	store := newTestStore(t)
	_, err := store.EnsureFileID("new.md", strPtr("h1"), nil)
	require.NoError(t, err)

	result, err := Detect(store, "old.md", "h1", "")
	require.NoError(t, err)
	require.True(t, result.Found)
	require.Equal(t, "new.md", result.NewPath)
	require.Equal(t, MethodHashMatch, result.Method)
}

func TestDetectAmbiguousHashIsNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.EnsureFileID("a.md", strPtr("dup"), nil)
	require.NoError(t, err)
	_, err = store.EnsureFileID("b.md", strPtr("dup"), nil)
	require.NoError(t, err)

	result, err := Detect(store, "old.md", "dup", "")
	require.NoError(t, err)
	require.False(t, result.Found)
}

func TestDetectByPathHistory(t *testing.T) {
	store := newTestStore(t)
	id, err := store.EnsureFileID("old.md", nil, nil)
	require.NoError(t, err)
	require.NoError(t, store.RecordPathChange(id, "old.md", "new.md"))
	require.NoError(t, store.Update(id, identity.UpdateFields{CurrentPath: strPtr("new.md")}))

	result, err := Detect(store, "old.md", "", "")
	require.NoError(t, err)
	require.True(t, result.Found)
	require.Equal(t, "new.md", result.NewPath)
	require.Equal(t, MethodPathHistory, result.Method)
}

func TestDetectNotFound(t *testing.T) {
	store := newTestStore(t)
	result, err := Detect(store, "ghost.md", "", "")
	require.NoError(t, err)
	require.False(t, result.Found)
}
