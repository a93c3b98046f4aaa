// Package utils holds small helpers shared by the extension origins: the
// bounded worker pool, the retrying HTTP client, and file helpers for
// bundle extraction and downloads.
package utils

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxEntrySize caps a single extracted bundle entry.
const maxEntrySize = 256 << 20

// EnsureDir creates dir and its parents if missing.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// WriteFileAtomic writes r to path via a temp file in the same directory and
// renames it into place.
func WriteFileAtomic(path string, r io.Reader, perm os.FileMode) error {
	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// ReadZipEntry returns the content of name inside the archive.
func ReadZipEntry(zr *zip.Reader, name string) ([]byte, error) {
	f, err := zr.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxEntrySize))
}

// ExtractZipEntry copies a single entry of the archive to dest, rejecting
// entry names that escape the archive root.
func ExtractZipEntry(zr *zip.Reader, name, dest string, perm os.FileMode) error {
	clean := filepath.ToSlash(filepath.Clean(name))
	if strings.HasPrefix(clean, "../") || filepath.IsAbs(name) {
		return fmt.Errorf("illegal entry path %q", name)
	}
	f, err := zr.Open(clean)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteFileAtomic(dest, io.LimitReader(f, maxEntrySize), perm)
}

// FileExists reports whether path names a regular file.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
