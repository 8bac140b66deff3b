// Package fsutil provides filesystem helpers with the guarantees the backup
// code relies on: atomic replacement, permission-exact copies that do not
// depend on the process umask, and fast directory sizing.
package fsutil

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/charlievieth/fastwalk"
	"github.com/jamesainslie/shelf/pkg/shelf/checksum"
)

// ErrEmptyPath indicates an empty file path was provided.
var ErrEmptyPath = errors.New("path is empty")

// WriteAtomic writes data to path atomically with the provided permissions.
// It writes to a temp file in the same directory, fsyncs, then renames.
func WriteAtomic(path string, data []byte, perm fs.FileMode) error {
	if path == "" {
		return ErrEmptyPath
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tmpPath := tmp.Name()
	closed := false
	defer func() {
		if !closed {
			_ = tmp.Close()
		}
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return fmt.Errorf("setting temp file permissions: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	closed = true

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	SyncDir(dir)
	return nil
}

// SyncDir fsyncs a directory so a preceding rename is durable. Best effort.
func SyncDir(dir string) {
	if d, err := os.Open(dir); err == nil { //nolint:gosec // G304: dir derives from a managed path
		_ = d.Sync()
		_ = d.Close()
	}
}

// CopyFile copies the content of src (following symlinks) to dst and sets
// dst's permission bits to exactly perm. Parent directories of dst are
// created with dirPerm. It returns the checksum of the bytes written and
// their count.
func CopyFile(src, dst string, perm, dirPerm fs.FileMode) (string, int64, error) {
	in, err := os.Open(src) //nolint:gosec // G304: src is a detected or managed path
	if err != nil {
		return "", 0, fmt.Errorf("opening source: %w", err)
	}
	defer func() { _ = in.Close() }()

	if err := os.MkdirAll(filepath.Dir(dst), dirPerm); err != nil {
		return "", 0, fmt.Errorf("creating destination directory: %w", err)
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // G304: dst is a managed path
	if err != nil {
		return "", 0, fmt.Errorf("creating destination: %w", err)
	}

	h := checksum.New()
	n, err := io.Copy(io.MultiWriter(out, h), in)
	if err != nil {
		_ = out.Close()
		return "", n, fmt.Errorf("copying %s: %w", src, err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return "", n, fmt.Errorf("syncing destination: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", n, fmt.Errorf("closing destination: %w", err)
	}

	// Chmod after create so the umask cannot strip bits.
	if err := os.Chmod(dst, perm.Perm()); err != nil {
		return "", n, fmt.Errorf("setting permissions on %s: %w", dst, err)
	}

	return checksum.Sum(h), n, nil
}

// DirSize returns the total size of regular files below root. Symlinks are
// not followed. Unreadable entries are skipped.
func DirSize(root string) (int64, error) {
	var total atomic.Int64

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		total.Add(info.Size())
		return nil
	})
	if err != nil {
		return total.Load(), fmt.Errorf("walking %s: %w", root, err)
	}

	return total.Load(), nil
}

// Exists reports whether path exists without following a final symlink.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// IsWithin reports whether path is root or lies below it. Both are cleaned
// before comparison; neither needs to exist.
func IsWithin(path, root string) bool {
	path = filepath.Clean(path)
	root = filepath.Clean(root)
	if path == root {
		return true
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// CountLines returns the number of newline-terminated lines in the file,
// counting a final unterminated line as well.
func CountLines(path string) (int, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is a detected history file
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, 32*1024)
	count := 0
	var last byte
	for {
		n, err := f.Read(buf)
		for _, b := range buf[:n] {
			if b == '\n' {
				count++
			}
		}
		if n > 0 {
			last = buf[n-1]
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, err
		}
	}
	if last != 0 && last != '\n' {
		count++
	}
	return count, nil
}
