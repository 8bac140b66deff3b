package detect

import (
	"bufio"
	"errors"
	"os"
	"strings"
)

// GeneratedMarker is the first line of every file shelf writes into home.
const GeneratedMarker = "# Managed by shelf (do not edit)"

// ErrGenerated is the diagnostic cause for a candidate shelf wrote itself.
var ErrGenerated = errors.New("generated by shelf")

// IsGenerated reports whether path is a regular file whose first line is
// GeneratedMarker.
func IsGenerated(path string) bool {
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false
	}
	f, err := os.Open(path) //nolint:gosec // G304: fixed name under home
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	line, err := bufio.NewReader(f).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return strings.TrimRight(line, "\r\n") == GeneratedMarker
}
