package overlay_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcrouter/control-plane/internal/overlay"
)

func TestReloadLoadsFilesKeyedByStem(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "default-system.txt"), []byte("be helpful"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "reasoning-system.txt"), []byte("think step by step"), 0o644))

	s := overlay.New(dir)
	require.NoError(t, s.Reload())

	e, ok := s.Lookup("default-system")
	require.True(t, ok)
	assert.Equal(t, "be helpful", e.Text)
	assert.Equal(t, int64(len("be helpful")), e.SizeBytes)
	assert.Contains(t, e.Fingerprint, "sha256:")

	_, ok = s.Lookup("reasoning-system")
	assert.True(t, ok)

	_, ok = s.Lookup("does-not-exist")
	assert.False(t, ok)
}

func TestReloadReplacesSetWholesale(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("first"), 0o644))

	s := overlay.New(dir)
	require.NoError(t, s.Reload())
	_, ok := s.Lookup("a")
	require.True(t, ok)

	require.NoError(t, os.Remove(filepath.Join(dir, "a.txt")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("second"), 0o644))
	require.NoError(t, s.Reload())

	_, ok = s.Lookup("a")
	assert.False(t, ok, "removed file must no longer be present after reload")
	_, ok = s.Lookup("b")
	assert.True(t, ok)
}

func TestEmptyDirClearsOverlays(t *testing.T) {
	s := overlay.New("")
	require.NoError(t, s.Reload())
	_, ok := s.Lookup("anything")
	assert.False(t, ok)
}

func TestReloadErrorsOnMissingDirectory(t *testing.T) {
	s := overlay.New("/nonexistent/path/does-not-exist")
	assert.Error(t, s.Reload())
}
