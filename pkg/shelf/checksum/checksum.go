// Package checksum computes the single content digest used everywhere in
// shelf: SHA-256 over raw file bytes, hex encoded.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// Algorithm names the digest recorded in manifests.
const Algorithm = "sha256"

// New returns a fresh hasher for the shelf digest.
func New() hash.Hash {
	return sha256.New()
}

// Bytes returns the hex digest of data.
func Bytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Reader returns the hex digest of everything read from r and the number of
// bytes consumed.
func Reader(r io.Reader) (string, int64, error) {
	h := New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// File returns the hex digest and size of the file at path. Symlinks are
// followed, so the digest always covers content.
func File(path string) (string, int64, error) {
	f, err := os.Open(path) //nolint:gosec // G304: callers pass paths they detected or manage
	if err != nil {
		return "", 0, err
	}
	defer func() { _ = f.Close() }()

	sum, n, err := Reader(f)
	if err != nil {
		return "", n, fmt.Errorf("hashing %s: %w", path, err)
	}
	return sum, n, nil
}

// Sum returns the hex encoding of h's current digest.
func Sum(h hash.Hash) string {
	return hex.EncodeToString(h.Sum(nil))
}
