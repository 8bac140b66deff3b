// Package archive writes and extracts gzip-compressed tar archives. It is
// shared by the framework backup and the safety snapshot; both produce plain
// .tar.gz files that any standard tar can extract.
package archive

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"

	"github.com/charlievieth/fastwalk"
	"github.com/jamesainslie/shelf/pkg/shelf/checksum"
	"github.com/jamesainslie/shelf/pkg/shelf/fsutil"
	"github.com/jamesainslie/shelf/pkg/shelf/logging"
	"github.com/jamesainslie/shelf/pkg/shelf/types"
	"github.com/klauspost/compress/gzip"
)

var logger = logging.Get("archive")

// DefaultProgressStep is how many content bytes pass between progress calls.
const DefaultProgressStep = 1 * types.MiB

// ErrUnsafePath is returned when an archive entry would escape the
// extraction directory.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// Options configures archive creation.
type Options struct {
	// Prefix is prepended to every entry name (e.g. ".oh-my-zsh").
	Prefix string

	// Exclude skips entries whose slash-separated path relative to the
	// archive root matches. Excluding a directory skips its contents.
	Exclude func(rel string) bool

	// Progress is called every ProgressStep bytes of file content and
	// once when the archive is complete.
	Progress types.ProgressFunc

	// ProgressStep overrides DefaultProgressStep.
	ProgressStep int64
}

// Result describes a finished archive file.
type Result struct {
	// Path is the archive location.
	Path string

	// Size is the compressed size on disk.
	Size int64

	// Checksum is the digest of the compressed archive.
	Checksum string

	// Entries is the number of tar entries written.
	Entries int

	// ContentBytes is the uncompressed size of regular file content.
	ContentBytes int64
}

type entry struct {
	rel  string
	full string
	info fs.FileInfo
}

// CreateFile archives root into outPath. The archive is written to a temp
// file beside outPath, synced, and renamed into place, so outPath either
// holds a complete archive or does not exist.
func CreateFile(ctx context.Context, root, outPath string, opts Options) (*Result, error) {
	dir := filepath.Dir(outPath)
	tmp, err := os.CreateTemp(dir, filepath.Base(outPath)+".partial-*")
	if err != nil {
		return nil, fmt.Errorf("creating archive temp file: %w", err)
	}
	tmpPath := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	h := checksum.New()
	counter := &countingWriter{w: io.MultiWriter(tmp, h)}

	entries, content, err := Write(ctx, counter, root, opts)
	if err != nil {
		return nil, err
	}

	if err := tmp.Sync(); err != nil {
		return nil, fmt.Errorf("syncing archive: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		return nil, fmt.Errorf("setting archive permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("closing archive: %w", err)
	}
	if err := os.Rename(tmpPath, outPath); err != nil {
		return nil, fmt.Errorf("renaming archive into place: %w", err)
	}
	committed = true
	fsutil.SyncDir(dir)

	logger.Debug("archive written", "root", root, "path", outPath,
		"entries", entries, "content", types.FormatSize(content), "size", types.FormatSize(counter.n))

	return &Result{
		Path:         outPath,
		Size:         counter.n,
		Checksum:     checksum.Sum(h),
		Entries:      entries,
		ContentBytes: content,
	}, nil
}

// Write streams a tar.gz of root to w. It returns the number of entries and
// the number of content bytes archived. The context is checked between
// entries.
func Write(ctx context.Context, w io.Writer, root string, opts Options) (int, int64, error) {
	entries, total, err := collect(root, opts.Exclude)
	if err != nil {
		return 0, 0, err
	}

	step := opts.ProgressStep
	if step <= 0 {
		step = DefaultProgressStep
	}

	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	var done, lastReported int64
	report := func(force bool) {
		if opts.Progress == nil {
			return
		}
		if force || done-lastReported >= step {
			lastReported = done
			opts.Progress(done, total)
		}
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return 0, done, err
		}

		onCopy := func(chunk int64) {
			done += chunk
			report(false)
		}
		if err := writeEntry(tw, e, opts.Prefix, onCopy); err != nil {
			return 0, done, err
		}
	}

	if err := tw.Close(); err != nil {
		return 0, done, fmt.Errorf("finishing tar stream: %w", err)
	}
	if err := gz.Close(); err != nil {
		return 0, done, fmt.Errorf("finishing gzip stream: %w", err)
	}
	report(true)

	return len(entries), done, nil
}

// collect walks root with fastwalk and returns entries sorted by path so
// archives are deterministic.
func collect(root string, exclude func(string) bool) ([]entry, int64, error) {
	rootInfo, err := os.Lstat(root)
	if err != nil {
		return nil, 0, fmt.Errorf("reading archive root: %w", err)
	}
	if !rootInfo.IsDir() {
		return nil, 0, fmt.Errorf("archive root %s is not a directory", root)
	}

	var (
		mu      sync.Mutex
		entries []entry
		total   int64
		walkErr error
	)

	conf := fastwalk.Config{Follow: false}
	err = fastwalk.Walk(&conf, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			mu.Lock()
			if walkErr == nil {
				walkErr = fmt.Errorf("walking %s: %w", p, err)
			}
			mu.Unlock()
			return nil
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if exclude != nil && exclude(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			mu.Lock()
			if walkErr == nil {
				walkErr = fmt.Errorf("stat %s: %w", p, infoErr)
			}
			mu.Unlock()
			return nil
		}

		mu.Lock()
		entries = append(entries, entry{rel: rel, full: p, info: info})
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("walking %s: %w", root, err)
	}
	if walkErr != nil {
		return nil, 0, walkErr
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })
	return entries, total, nil
}

func writeEntry(tw *tar.Writer, e entry, prefix string, onCopy func(int64)) error {
	mode := e.info.Mode()

	var link string
	if mode&fs.ModeSymlink != 0 {
		target, err := os.Readlink(e.full)
		if err != nil {
			return fmt.Errorf("reading link %s: %w", e.full, err)
		}
		link = target
	}

	// Sockets, devices and pipes have no place in a config archive.
	if !mode.IsRegular() && !mode.IsDir() && link == "" {
		logger.Debug("skipping special file", "path", e.full)
		return nil
	}

	hdr, err := tar.FileInfoHeader(e.info, link)
	if err != nil {
		return fmt.Errorf("building header for %s: %w", e.full, err)
	}
	hdr.Name = path.Join(prefix, e.rel)
	if mode.IsDir() {
		hdr.Name += "/"
	}

	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing header for %s: %w", e.full, err)
	}
	if !mode.IsRegular() {
		return nil
	}

	f, err := os.Open(e.full) //nolint:gosec // G304: walking a managed directory
	if err != nil {
		return fmt.Errorf("opening %s: %w", e.full, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := io.Copy(tw, &progressReader{r: f, onRead: onCopy}); err != nil {
		return fmt.Errorf("archiving %s: %w", e.full, err)
	}
	return nil
}

// Extract unpacks the tar.gz at archivePath below dest, restoring permission
// bits exactly. Entries that would land outside dest are rejected.
func Extract(ctx context.Context, archivePath, dest string) (int, error) {
	f, err := os.Open(archivePath) //nolint:gosec // G304: archive path comes from a manifest
	if err != nil {
		return 0, fmt.Errorf("opening archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return 0, fmt.Errorf("reading gzip header: %w", err)
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("reading archive entry: %w", err)
		}

		target, err := safeJoin(dest, hdr.Name)
		if err != nil {
			return count, err
		}

		if err := extractEntry(tr, hdr, target); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

func extractEntry(tr *tar.Reader, hdr *tar.Header, target string) error {
	perm := fs.FileMode(hdr.Mode).Perm() //nolint:gosec // G115: tar modes fit in FileMode

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := os.MkdirAll(target, 0o700); err != nil {
			return fmt.Errorf("creating %s: %w", target, err)
		}
		return os.Chmod(target, perm)

	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
			return fmt.Errorf("creating parent of %s: %w", target, err)
		}
		_ = os.Remove(target)
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return fmt.Errorf("creating link %s: %w", target, err)
		}
		return nil

	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(target), 0o700); err != nil {
			return fmt.Errorf("creating parent of %s: %w", target, err)
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600) //nolint:gosec // G304: target validated by safeJoin
		if err != nil {
			return fmt.Errorf("creating %s: %w", target, err)
		}
		if _, err := io.Copy(out, tr); err != nil { //nolint:gosec // G110: archives are produced by shelf itself
			_ = out.Close()
			return fmt.Errorf("writing %s: %w", target, err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("closing %s: %w", target, err)
		}
		return os.Chmod(target, perm)

	default:
		logger.Debug("skipping unsupported archive entry", "name", hdr.Name, "type", hdr.Typeflag)
		return nil
	}
}

// List returns the entry names of the archive in order.
func List(archivePath string) ([]string, error) {
	f, err := os.Open(archivePath) //nolint:gosec // G304: archive path comes from a manifest
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("reading gzip header: %w", err)
	}
	defer func() { _ = gz.Close() }()

	var names []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return names, fmt.Errorf("reading archive entry: %w", err)
		}
		names = append(names, hdr.Name)
	}
}

func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if !fsutil.IsWithin(target, dest) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

type progressReader struct {
	r      io.Reader
	onRead func(int64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.onRead(int64(n))
	}
	return n, err
}
