package secrets

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threat-enricher/internal/common/errors"
)

func TestResolveEnvScheme(t *testing.T) {
	resolver := NewResolver()

	t.Setenv("TEST_SECRET", "hunter2")
	value, found, err := resolver.Resolve("env:TEST_SECRET")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hunter2", value)

	_, found, err = resolver.Resolve("env:TEST_SECRET_UNSET")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResolveFileScheme(t *testing.T) {
	resolver := NewResolver()
	dir := t.TempDir()

	path := filepath.Join(dir, "key")
	require.NoError(t, os.WriteFile(path, []byte("  hunter2\n"), 0o600))

	value, found, err := resolver.Resolve("file:" + path)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "hunter2", value)

	// A missing file is absence, not an error; the source falls back to the
	// unavailable stand-in.
	_, found, err = resolver.Resolve("file:" + filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.False(t, found)

	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	_, found, err = resolver.Resolve("file:" + empty)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResolveEdgeCases(t *testing.T) {
	resolver := NewResolver()

	_, found, err := resolver.Resolve("")
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = resolver.Resolve("vault:secret/key")
	assert.True(t, errors.IsType(err, errors.ErrTypeConfig))
}
