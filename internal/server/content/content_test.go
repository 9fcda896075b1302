package content

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobPathSharding(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	at := time.Date(2026, time.March, 7, 12, 0, 0, 0, time.UTC)
	path := store.BlobPath("user-1", "file-1", at)

	assert.True(t, strings.HasSuffix(path, filepath.Join("user-1", "2026", "03", "file-1")), path)
}

func TestPutOpenDelete(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	path, n, err := store.Put("user-1", "file-1", strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.EqualValues(t, 11, n)

	f, err := store.Open(path)
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	f.Close()
	assert.Equal(t, "hello world", string(data))

	info, err := store.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 11, info.Size())

	require.NoError(t, store.Delete(path))
	_, err = store.Open(path)
	assert.ErrorIs(t, err, ErrNotFound)

	// deleting again stays clean
	assert.NoError(t, store.Delete(path))
}

func TestPutOverwritesAtomically(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	path1, _, err := store.Put("user-1", "file-1", strings.NewReader("version one"))
	require.NoError(t, err)
	path2, _, err := store.Put("user-1", "file-1", strings.NewReader("version two"))
	require.NoError(t, err)
	assert.Equal(t, path1, path2)

	data, err := os.ReadFile(path2)
	require.NoError(t, err)
	assert.Equal(t, "version two", string(data))

	// no temp file debris left behind
	entries, err := os.ReadDir(filepath.Dir(path2))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPutSizedPreallocates(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	content := strings.Repeat("x", 4096)
	path, n, err := store.PutSized("user-1", "file-1", strings.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	assert.EqualValues(t, len(content), n)

	info, err := store.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, len(content), info.Size())
}
