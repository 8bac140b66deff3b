package homecleanup

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jamesainslie/shelf/pkg/shelf/detect"
	"github.com/jamesainslie/shelf/pkg/shelf/fsutil"
)

// IntegrationFile is the home-relative name of the generated file that
// hands zsh over to the active profile.
const IntegrationFile = ".zshenv"

// Marker is the first line of every generated integration file. Files
// without it are never touched by cleanup.
const Marker = detect.GeneratedMarker

// IntegrationContent renders the integration file for managedRoot.
func IntegrationContent(managedRoot string) []byte {
	var b strings.Builder
	b.WriteString(Marker + "\n")
	b.WriteString("# Restore the original configuration with: shelf uninstall --restore original\n")
	fmt.Fprintf(&b, "export SHELF_ROOT=%q\n", managedRoot)
	b.WriteString(`if [[ -r "$SHELF_ROOT/active" ]]; then
  export ZDOTDIR="$SHELF_ROOT/profiles/$(<"$SHELF_ROOT/active")"
  [[ -r "$ZDOTDIR/.zshenv" ]] && source "$ZDOTDIR/.zshenv"
fi
`)
	return []byte(b.String())
}

// WriteIntegration atomically writes the integration file into home and
// returns its path.
func WriteIntegration(home, managedRoot string) (string, error) {
	path := filepath.Join(home, IntegrationFile)
	if err := fsutil.WriteAtomic(path, IntegrationContent(managedRoot), 0o644); err != nil {
		return "", fmt.Errorf("writing integration file: %w", err)
	}
	return path, nil
}

// IsGenerated reports whether path is a regular file whose first line is
// Marker.
func IsGenerated(path string) bool {
	return detect.IsGenerated(path)
}
