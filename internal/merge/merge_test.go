package merge

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThreeWayCleanMerge(t *testing.T) {
	base := []byte("Line 1\nLine 2\nLine 3\n")
	local := []byte("Line 1 - A edited\nLine 2\nLine 3\n")
	remote := []byte("Line 1\nLine 2\nLine 3 - B edited\n")

	merged, conflicts := ThreeWay(base, local, remote)
	require.False(t, conflicts)
	assert.Contains(t, string(merged), "Line 1 - A edited")
	assert.Contains(t, string(merged), "Line 3 - B edited")
	assert.NotContains(t, string(merged), "<<<<<<<")
}

func TestThreeWayConflict(t *testing.T) {
	base := []byte("Original line\n")
	local := []byte("A edited this line\n")
	remote := []byte("B edited this line\n")

	merged, conflicts := ThreeWay(base, local, remote)
	require.True(t, conflicts)
	s := string(merged)
	assert.Contains(t, s, "<<<<<<< LOCAL")
	assert.Contains(t, s, "=======")
	assert.Contains(t, s, ">>>>>>> REMOTE")
	assert.Contains(t, s, "A edited this line")
	assert.Contains(t, s, "B edited this line")
}

func TestThreeWayIdenticalHunkRetainedOnce(t *testing.T) {
	base := []byte("one\ntwo\nthree\n")
	local := []byte("one\nTWO\nthree\n")
	remote := []byte("one\nTWO\nthree\n")

	merged, conflicts := ThreeWay(base, local, remote)
	require.False(t, conflicts)
	assert.Equal(t, "one\nTWO\nthree\n", string(merged))
}

func TestThreeWayDeterministic(t *testing.T) {
	base := []byte("a\nb\nc\nd\n")
	local := []byte("a\nB\nc\nd\n")
	remote := []byte("a\nb\nc\nD\n")

	m1, c1 := ThreeWay(base, local, remote)
	m2, c2 := ThreeWay(base, local, remote)
	assert.Equal(t, c1, c2)
	assert.True(t, bytes.Equal(m1, m2))
}

func TestThreeWayNoOpWhenBothSidesUnchanged(t *testing.T) {
	base := []byte("same\ncontent\n")
	merged, conflicts := ThreeWay(base, base, base)
	require.False(t, conflicts)
	assert.Equal(t, string(base), string(merged))
}
