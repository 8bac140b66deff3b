//go:build !linux && !darwin

package diskspace

// Available is not implemented on this platform.
func Available(_ string) (int64, error) {
	return 0, ErrUnsupported
}
