package persist

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileSystem is the storage boundary used for persisted configs and checkpoints.
type FileSystem interface {
	IsFile(path string) (bool, error)
	MakeDirs(path string, existOK bool) error
	// WriteFile replaces path atomically.
	WriteFile(path string, data []byte) error
	ReadFile(path string) ([]byte, error)
	Remove(path string) error
}

// ErrWriteFailed wraps every failure of LocalFS.WriteFile.
var ErrWriteFailed = errors.New("file could not be written")

// LocalFS stores files on the local disk.
type LocalFS struct {
	dirPerm  os.FileMode
	filePerm os.FileMode
}

// NewLocalFS constructs a LocalFS creating directories 0755 and files 0644.
func NewLocalFS() *LocalFS {
	return &LocalFS{dirPerm: 0o755, filePerm: 0o644}
}

func (l *LocalFS) IsFile(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return info.Mode().IsRegular(), nil
}

func (l *LocalFS) MakeDirs(path string, existOK bool) error {
	info, err := os.Stat(path)
	switch {
	case err == nil && !info.IsDir():
		return fmt.Errorf("%s exists and is not a directory", path)
	case err == nil && !existOK:
		return fmt.Errorf("%s: %w", path, os.ErrExist)
	case err == nil:
		return nil
	case !errors.Is(err, os.ErrNotExist):
		return err
	}
	return os.MkdirAll(path, l.dirPerm)
}

func (l *LocalFS) WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := l.MakeDirs(dir, true); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(l.filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

func (l *LocalFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (l *LocalFS) Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
