package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Sink stores rendered invoices. Put returns where the bytes ended up, or an
// empty string when nothing was written.
type Sink interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// FileSink writes invoices into a local directory.
type FileSink struct {
	dir string
}

// NewFileSink creates a FileSink rooted at dir. The directory is created on
// the first Put.
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

// Dir returns the output directory.
func (s *FileSink) Dir() string {
	return s.dir
}

// Put writes data to <dir>/<name>. The file is complete and synced to disk
// when Put returns.
func (s *FileSink) Put(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := validateName(name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	path := filepath.Join(s.dir, name)
	if err := WriteFileAtomic(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return path, nil
}

func validateName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("invalid artifact name %q", name)
	case strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0):
		return fmt.Errorf("artifact name %q must not contain path separators", name)
	}
	return nil
}

// WriteFileAtomic replaces path with data. A temp file in the same directory
// is written, synced, given perm and renamed over the target, then the
// directory is synced. A crash leaves either the old file or the new one.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op after a successful rename.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	// Some filesystems do not support fsync on directories.
	_ = d.Sync()
	return nil
}
