// Package diskspace reports free space on the filesystem holding a path, so
// backups and snapshots can refuse to start when they cannot finish.
package diskspace

import (
	"errors"
	"fmt"

	"github.com/jamesainslie/shelf/pkg/shelf/types"
)

// ErrUnsupported is returned on platforms without a free-space probe.
var ErrUnsupported = errors.New("free space detection not supported on this platform")

// ErrInsufficient is returned by Ensure when the filesystem is too full.
var ErrInsufficient = errors.New("insufficient free space")

// headroom is kept free on top of the requested size.
const headroom = 16 * types.MiB

// Ensure returns ErrInsufficient when the filesystem holding path has fewer
// than need bytes (plus headroom) available. When the platform cannot report
// free space, Ensure returns nil.
func Ensure(path string, need int64) error {
	free, err := Available(path)
	if errors.Is(err, ErrUnsupported) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking free space at %s: %w", path, err)
	}
	if free < need+headroom {
		return fmt.Errorf("%w at %s: need %s, have %s", ErrInsufficient, path,
			types.FormatSize(need+headroom), types.FormatSize(free))
	}
	return nil
}
