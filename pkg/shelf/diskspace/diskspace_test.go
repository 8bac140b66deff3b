package diskspace

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvailable(t *testing.T) {
	free, err := Available(t.TempDir())
	if errors.Is(err, ErrUnsupported) {
		t.Skip("free space probe unsupported")
	}
	require.NoError(t, err)
	assert.Positive(t, free)
}

func TestEnsure(t *testing.T) {
	dir := t.TempDir()
	if _, err := Available(dir); errors.Is(err, ErrUnsupported) {
		t.Skip("free space probe unsupported")
	}

	assert.NoError(t, Ensure(dir, 1))
	assert.ErrorIs(t, Ensure(dir, math.MaxInt64/2), ErrInsufficient)
}

func TestEnsure_MissingPath(t *testing.T) {
	dir := t.TempDir()
	if _, err := Available(dir); errors.Is(err, ErrUnsupported) {
		t.Skip("free space probe unsupported")
	}

	err := Ensure(filepath.Join(dir, "does", "not", "exist"), 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInsufficient)
}
