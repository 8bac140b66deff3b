//go:build linux || darwin

package diskspace

import (
	"golang.org/x/sys/unix"
)

// Available returns the number of bytes available to unprivileged users on
// the filesystem holding path.
func Available(path string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return int64(st.Bavail) * int64(st.Bsize), nil //nolint:gosec // G115: block counts fit in int64
}
