// Package storage reads and writes backing files and watches them for
// changes made by other processes.
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/containerd/errdefs"
	"github.com/natefinch/atomic"
	"github.com/spf13/afero"
)

// FileCreationError reports that a backing file or its parent directory could
// not be created.
type FileCreationError struct {
	Path  string
	Cause error
}

func (e *FileCreationError) Error() string {
	return fmt.Sprintf("create backing file %s: %v", e.Path, e.Cause)
}

func (e *FileCreationError) Unwrap() error { return e.Cause }

// Files is the filesystem surface the persistence layer needs.
type Files interface {
	// Read returns the whole content of path. A missing file yields an
	// error matching errdefs.ErrNotFound.
	Read(path string) ([]byte, error)
	// Write replaces the whole content of path.
	Write(path string, data []byte) error
	// Ensure creates path (empty) and its parent directories when missing.
	// Failures are *FileCreationError.
	Ensure(path string) error
}

// OSFiles uses the real filesystem. Writes go through a temp file and rename
// so readers never observe a half-written document.
type OSFiles struct{}

func NewOSFiles() *OSFiles {
	return &OSFiles{}
}

func (OSFiles) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", errdefs.ErrNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func (OSFiles) Write(path string, data []byte) error {
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func (OSFiles) Ensure(path string) error {
	return ensure(afero.NewOsFs(), path)
}

// AferoFiles runs on any afero.Fs. Writes use the same temp file + rename
// sequence as OSFiles.
type AferoFiles struct {
	Fs afero.Fs
}

func NewAferoFiles(fsys afero.Fs) *AferoFiles {
	return &AferoFiles{Fs: fsys}
}

func (a *AferoFiles) Read(path string) ([]byte, error) {
	data, err := afero.ReadFile(a.Fs, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", errdefs.ErrNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func (a *AferoFiles) Write(path string, data []byte) error {
	tmpFile, err := afero.TempFile(a.Fs, filepath.Dir(path), filepath.Base(path)+".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		tmpFile.Close()
		a.Fs.Remove(tmpFile.Name())
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := a.Fs.Rename(tmpFile.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func (a *AferoFiles) Ensure(path string) error {
	return ensure(a.Fs, path)
}

func ensure(fsys afero.Fs, path string) error {
	info, err := fsys.Stat(path)
	if err == nil {
		if info.IsDir() {
			return &FileCreationError{Path: path, Cause: errors.New("path is a directory")}
		}
		return nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return &FileCreationError{Path: path, Cause: err}
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := fsys.MkdirAll(dir, 0o755); err != nil {
			return &FileCreationError{Path: path, Cause: fmt.Errorf("create parent folder %s: %w", dir, err)}
		}
	}

	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return &FileCreationError{Path: path, Cause: err}
	}
	if err := f.Close(); err != nil {
		return &FileCreationError{Path: path, Cause: err}
	}
	return nil
}
