package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/containerd/errdefs"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSFiles_ReadMissing(t *testing.T) {
	files := NewOSFiles()
	_, err := files.Read(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestOSFiles_WriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	files := NewOSFiles()

	require.NoError(t, files.Write(path, []byte(`{"x":1}`)))
	data, err := files.Read(path)
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, string(data))

	require.NoError(t, files.Write(path, []byte(`{}`)))
	data, err = files.Read(path)
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files should not be left behind")
}

func TestOSFiles_EnsureCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "doc.json")
	files := NewOSFiles()

	require.NoError(t, files.Ensure(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size())

	// existing content is left alone
	require.NoError(t, os.WriteFile(path, []byte("[1]"), 0o644))
	require.NoError(t, files.Ensure(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[1]", string(data))
}

func TestOSFiles_EnsureFailures(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	files := NewOSFiles()

	err := files.Ensure(filepath.Join(blocker, "doc.json"))
	var creationErr *FileCreationError
	require.True(t, errors.As(err, &creationErr))
	assert.Equal(t, filepath.Join(blocker, "doc.json"), creationErr.Path)

	err = files.Ensure(dir)
	require.True(t, errors.As(err, &creationErr))
	assert.Contains(t, err.Error(), "directory")
}

func TestAferoFiles_MemMapFs(t *testing.T) {
	files := NewAferoFiles(afero.NewMemMapFs())
	path := "/data/doc.json"

	_, err := files.Read(path)
	assert.True(t, errdefs.IsNotFound(err))

	require.NoError(t, files.Ensure(path))
	data, err := files.Read(path)
	require.NoError(t, err)
	assert.Empty(t, data)

	require.NoError(t, files.Write(path, []byte(`["a"]`)))
	data, err = files.Read(path)
	require.NoError(t, err)
	assert.Equal(t, `["a"]`, string(data))

	entries, err := afero.ReadDir(files.Fs, "/data")
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAferoFiles_ReadOnlyFs(t *testing.T) {
	base := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(base, "/data/doc.json", []byte(`{}`), 0o644))
	files := NewAferoFiles(afero.NewReadOnlyFs(base))

	err := files.Write("/data/doc.json", []byte(`{"x":1}`))
	assert.Error(t, err)

	var creationErr *FileCreationError
	err = files.Ensure("/data/other.json")
	assert.True(t, errors.As(err, &creationErr))

	// existing files pass Ensure even when read-only
	assert.NoError(t, files.Ensure("/data/doc.json"))
}
