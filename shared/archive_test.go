package shared

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/require"
)

func TestZipDir(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "qemu-ga-win-100.0.0.0-3.el7ev")

	require.NoError(t, os.MkdirAll(src, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "qemu-ga-x64.msi"), []byte("x64"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "qemu-ga-x86.msi"), []byte("x86"), 0644))
	require.NoError(t, os.Symlink("qemu-ga-x64.msi", filepath.Join(src, "qemu-ga.msi")))

	target := filepath.Join(dir, "installers.zip")
	require.NoError(t, ZipDir(src, target))

	content, err := ReadZipFile(target, "qemu-ga-win-100.0.0.0-3.el7ev/qemu-ga-x64.msi")
	require.NoError(t, err)
	require.Equal(t, "x64", string(content))

	_, err = ReadZipFile(target, "qemu-ga-x64.msi")
	require.Error(t, err)

	dest := filepath.Join(dir, "out")
	require.NoError(t, Unpack(target, dest))
	require.FileExists(t, filepath.Join(dest, "qemu-ga-win-100.0.0.0-3.el7ev", "qemu-ga-x86.msi"))

	linkTarget, err := os.Readlink(filepath.Join(dest, "qemu-ga-win-100.0.0.0-3.el7ev", "qemu-ga.msi"))
	require.NoError(t, err)
	require.Equal(t, "qemu-ga-x64.msi", linkTarget)
}

func TestUntarGz(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "archive.tar.gz")
	mtime := time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)

	f, err := os.Create(target)
	require.NoError(t, err)

	zw := pgzip.NewWriter(f)
	tw := tar.NewWriter(zw)

	entries := []struct {
		hdr     tar.Header
		content string
	}{
		{tar.Header{Name: "nvr/", Typeflag: tar.TypeDir, Mode: 0755}, ""},
		{tar.Header{Name: "nvr/a.sys", Typeflag: tar.TypeReg, Mode: 0644, Size: 3, ModTime: mtime}, "sys"},
		{tar.Header{Name: "nvr/sub/b.sys", Typeflag: tar.TypeLink, Linkname: "nvr/a.sys"}, ""},
		{tar.Header{Name: "nvr/c.sys", Typeflag: tar.TypeSymlink, Linkname: "a.sys"}, ""},
	}

	for _, e := range entries {
		require.NoError(t, tw.WriteHeader(&e.hdr))

		_, err = tw.Write([]byte(e.content))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	dest := filepath.Join(dir, "out")
	require.NoError(t, Unpack(target, dest))

	a, err := os.Stat(filepath.Join(dest, "nvr", "a.sys"))
	require.NoError(t, err)
	require.True(t, a.ModTime().Equal(mtime))

	b, err := os.Stat(filepath.Join(dest, "nvr", "sub", "b.sys"))
	require.NoError(t, err)
	require.True(t, os.SameFile(a, b))

	link, err := os.Readlink(filepath.Join(dest, "nvr", "c.sys"))
	require.NoError(t, err)
	require.Equal(t, "a.sys", link)
}

func TestUnpackUnsupported(t *testing.T) {
	err := Unpack("/tmp/virtio-win.iso", t.TempDir())
	require.ErrorIs(t, err, ErrUnsupportedArchive)
}
