package project

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"navc/internal/symbols"
)

func TestRenderFixItsProducesUnifiedDiff(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.c")
	require.NoError(t, os.WriteFile(path, []byte("int foo() { retrn 1; }\n"), 0o644))

	fixits := []symbols.FixIt{{Start: 12, End: 17, Replacement: "return"}}
	diff, err := RenderFixIts(path, fixits)
	require.NoError(t, err)
	assert.Contains(t, diff, "-int foo() { retrn 1; }")
	assert.Contains(t, diff, "+int foo() { return 1; }")
}

func TestRenderFixItsNoChangeReturnsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.c")
	require.NoError(t, os.WriteFile(path, []byte("int foo() { return 1; }\n"), 0o644))

	diff, err := RenderFixIts(path, nil)
	require.NoError(t, err)
	assert.Empty(t, diff)
}

func TestApplyFixItsAppliesBackToFrontByStart(t *testing.T) {
	src := "aaa bbb ccc"
	fixits := []symbols.FixIt{
		{Start: 0, End: 3, Replacement: "xxx"},
		{Start: 8, End: 11, Replacement: "zzz"},
	}
	assert.Equal(t, "xxx bbb zzz", applyFixIts(src, fixits))
}

func TestApplyFixItsSkipsOutOfRange(t *testing.T) {
	src := "abc"
	fixits := []symbols.FixIt{{Start: 1, End: 10, Replacement: "X"}}
	assert.Equal(t, "abc", applyFixIts(src, fixits))
}
