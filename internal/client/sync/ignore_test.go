package sync

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoreDefaults(t *testing.T) {
	il := NewIgnoreList(t.TempDir())

	assert.True(t, il.ShouldIgnore(".DS_Store"))
	assert.True(t, il.ShouldIgnore("docs/.hidden"))
	assert.True(t, il.ShouldIgnore("draft.tmp"))
	assert.True(t, il.ShouldIgnore("docs/draft.tmp"))
	assert.True(t, il.ShouldIgnore("report.txt~"))
	assert.True(t, il.ShouldIgnore(ignoreFileName))

	assert.False(t, il.ShouldIgnore("report.txt"))
	assert.False(t, il.ShouldIgnore("docs/report.txt"))
}

func TestIgnoreUserFile(t *testing.T) {
	dir := t.TempDir()
	err := os.WriteFile(filepath.Join(dir, ignoreFileName), []byte("*.iso\nbuild/\n"), 0o644)
	require.NoError(t, err)

	il := NewIgnoreList(dir)

	assert.True(t, il.ShouldIgnore("image.iso"))
	assert.True(t, il.ShouldIgnore("build/out.bin"))
	assert.False(t, il.ShouldIgnore("src/main.c"))
}
