package shared

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddRelativeLink(t *testing.T) {
	topdir := t.TempDir()

	err := os.MkdirAll(filepath.Join(topdir, "repo", "rpms"), 0755)
	require.NoError(t, err)

	err = os.WriteFile(filepath.Join(topdir, "repo", "rpms", "virtio-win-0.1.100-1.noarch.rpm"), nil, 0644)
	require.NoError(t, err)

	changed, err := AddRelativeLink(topdir, "repo/rpms/virtio-win-0.1.100-1.noarch.rpm", "repo/latest/virtio-win-0.1.100-1.noarch.rpm")
	require.NoError(t, err)
	require.True(t, changed)

	target, err := os.Readlink(filepath.Join(topdir, "repo", "latest", "virtio-win-0.1.100-1.noarch.rpm"))
	require.NoError(t, err)
	require.Equal(t, "../rpms/virtio-win-0.1.100-1.noarch.rpm", target)

	// Same link again is a no-op
	changed, err = AddRelativeLink(topdir, "repo/rpms/virtio-win-0.1.100-1.noarch.rpm", "repo/latest/virtio-win-0.1.100-1.noarch.rpm")
	require.NoError(t, err)
	require.False(t, changed)

	_, err = AddRelativeLink(topdir, "repo/rpms/missing.rpm", "repo/latest/missing.rpm")
	require.Error(t, err)

	_, err = AddRelativeLink(topdir, "repo/rpms/virtio-win-0.1.100-1.noarch.rpm", "repo")
	require.Error(t, err)
}
