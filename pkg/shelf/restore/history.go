package restore

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/jamesainslie/shelf/pkg/shelf/fsutil"
)

// MergeHistory appends the lines of src to dst and drops repeated lines,
// keeping each line's first occurrence. A missing src merges nothing; a
// missing dst is created with mode 0600. It returns the number of lines
// added to dst.
func MergeHistory(src, dst string) (int, error) {
	incoming, err := readLines(src)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", src, err)
	}

	existing, err := readLines(dst)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("reading %s: %w", dst, err)
	}

	mode := fs.FileMode(0o600)
	if st, err := os.Stat(dst); err == nil {
		mode = st.Mode().Perm()
	}

	seen := make(map[string]bool, len(existing)+len(incoming))
	merged := make([]string, 0, len(existing)+len(incoming))
	for _, line := range existing {
		if !seen[line] {
			seen[line] = true
			merged = append(merged, line)
		}
	}
	kept := len(merged)
	for _, line := range incoming {
		if !seen[line] {
			seen[line] = true
			merged = append(merged, line)
		}
	}

	var b strings.Builder
	for _, line := range merged {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := fsutil.WriteAtomic(dst, []byte(b.String()), mode); err != nil {
		return 0, err
	}
	return len(merged) - kept, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path) //nolint:gosec // G304: history paths come from the plan
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
