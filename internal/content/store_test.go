package content

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s := Open(filepath.Join(dir, "vault"), nil)
	require.NoError(t, s.Init())
	return s
}

func TestInitCreatesInitialCommit(t *testing.T) {
	s := newTestStore(t)
	head, ok, err := s.Head()
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, head, 40)
}

func TestPutThenReadCurrent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put("notes/a.md", []byte("hello"), "note: create a.md")
	require.NoError(t, err)

	data, ok, err := s.ReadCurrent("notes/a.md")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "hello", string(data))
}

func TestPutUnchangedBytesDoesNotCommit(t *testing.T) {
	s := newTestStore(t)
	first, err := s.Put("a.md", []byte("same"), "note: create")
	require.NoError(t, err)

	second, err := s.Put("a.md", []byte("same"), "note: rewrite")
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestPutChangedBytesCreatesNewCommit(t *testing.T) {
	s := newTestStore(t)
	first, err := s.Put("a.md", []byte("v1"), "note: create")
	require.NoError(t, err)

	second, err := s.Put("a.md", []byte("v2"), "note: edit")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	data, ok, err := s.ReadCurrent("a.md")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "v2", string(data))
}

func TestDeleteRemovesPath(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put("a.md", []byte("v1"), "note: create")
	require.NoError(t, err)

	deleted, _, err := s.Delete("a.md")
	require.NoError(t, err)
	require.True(t, deleted)

	_, ok, err := s.ReadCurrent("a.md")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteMissingPathReturnsFalse(t *testing.T) {
	s := newTestStore(t)
	deleted, _, err := s.Delete("nope.md")
	require.NoError(t, err)
	require.False(t, deleted)
}

func TestMoveCarriesContentByDefault(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put("old.md", []byte("body"), "note: create")
	require.NoError(t, err)

	_, err = s.Move("old.md", "new.md", nil)
	require.NoError(t, err)

	_, ok, err := s.ReadCurrent("old.md")
	require.NoError(t, err)
	require.False(t, ok)

	data, ok, err := s.ReadCurrent("new.md")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "body", string(data))
}

func TestListTrackedExcludesReservedPaths(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put("a.md", []byte("1"), "note: create")
	require.NoError(t, err)
	_, err = s.Put("b.md", []byte("2"), "note: create")
	require.NoError(t, err)

	tracked, err := s.ListTracked()
	require.NoError(t, err)
	require.Equal(t, []string{"a.md", "b.md"}, tracked)
}

func TestChangedSinceReportsOnlyMutatedPaths(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put("a.md", []byte("1"), "note: create")
	require.NoError(t, err)
	baseline, _, err := s.Head()
	require.NoError(t, err)

	_, err = s.Put("b.md", []byte("2"), "note: create")
	require.NoError(t, err)

	head, changed, err := s.ChangedSince(baseline)
	require.NoError(t, err)
	require.NotEqual(t, baseline, head)
	require.Equal(t, []string{"b.md"}, changed)
}

func TestChangedSinceCurrentHeadIsEmpty(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put("a.md", []byte("1"), "note: create")
	require.NoError(t, err)
	head, _, err := s.Head()
	require.NoError(t, err)

	sameHead, changed, err := s.ChangedSince(head)
	require.NoError(t, err)
	require.Equal(t, head, sameHead)
	require.Empty(t, changed)
}

func TestHashBytesIsSHA256(t *testing.T) {
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", HashBytes(nil))
}
