package compare

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/virtio-win/virtio-win-pkg-scripts/archive"
	"github.com/virtio-win/virtio-win-pkg-scripts/rpm/rpmtest"
	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
)

func writeFile(t *testing.T, path string, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newTestExtractor(t *testing.T) (*Extractor, *[]string) {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	e := NewExtractor(logger)
	media := []string{}

	e.runCommand = func(ctx context.Context, name string, args ...string) error {
		require.Equal(t, "guestfish", name)

		media = append(media, filepath.Base(args[2]))
		writeFile(t, filepath.Join(args[len(args)-1], "viostor", "w10", "amd64", "viostor.inf"), "from media")

		return os.Chmod(filepath.Join(args[len(args)-1], "viostor"), 0555)
	}

	return e, &media
}

func setupTree(t *testing.T) string {
	t.Helper()

	dir := filepath.Join(t.TempDir(), "virtio-win-0.1.185")
	writeFile(t, filepath.Join(dir, "iso-content", "viostor", "w10", "amd64", "viostor.inf"), "viostor")
	writeFile(t, filepath.Join(dir, "virtio-win-0.1.185.iso"), "iso")
	require.NoError(t, os.Symlink("virtio-win-0.1.185.iso", filepath.Join(dir, "virtio-win.iso")))

	return dir
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name     string
		input    func(t *testing.T) string
		expected string
		media    int
	}{
		{
			"directory",
			func(t *testing.T) string {
				return setupTree(t)
			},
			"dircopy/iso-content/viostor/w10/amd64/viostor.inf",
			2,
		},
		{
			"zip",
			func(t *testing.T) string {
				target := filepath.Join(t.TempDir(), "out.zip")
				require.NoError(t, shared.ZipDir(setupTree(t), target))

				return target
			},
			"extracted-archive/virtio-win-0.1.185/iso-content/viostor/w10/amd64/viostor.inf",
			1,
		},
		{
			"tarball",
			func(t *testing.T) string {
				dir := setupTree(t)
				target := filepath.Join(t.TempDir(), "out.tar.gz")
				require.NoError(t, archive.WriteTarball(filepath.Dir(dir), filepath.Base(dir), target))

				return target
			},
			"extracted-archive/virtio-win-0.1.185/iso-content/viostor/w10/amd64/viostor.inf",
			1,
		},
		{
			"rpm",
			func(t *testing.T) string {
				target := filepath.Join(t.TempDir(), "virtio-win-0.1.185-1.noarch.rpm")
				require.NoError(t, rpmtest.WriteFile(target, map[string]string{
					"usr/share/virtio-win/drivers/viostor.inf": "viostor",
					"usr/share/virtio-win/virtio-win.iso":      "iso",
				}, rpmtest.Gzip))

				return target
			},
			"extracted-archive/usr/share/virtio-win/drivers/viostor.inf",
			1,
		},
	}

	for i, tt := range tests {
		log.Printf("Running test #%d: %s", i, tt.name)

		e, media := newTestExtractor(t)

		dir, err := e.Extract(context.Background(), tt.input(t))
		require.NoError(t, err)

		require.FileExists(t, filepath.Join(dir, filepath.FromSlash(tt.expected)))

		// Directory copies follow links while archives keep them
		require.Len(t, *media, tt.media)

		mediaName := (*media)[0]
		extracted := filepath.Join(dir, mediaName+"-extracted", "viostor", "w10", "amd64", "viostor.inf")
		require.FileExists(t, extracted)

		info, err := os.Stat(filepath.Dir(extracted))
		require.NoError(t, err)
		require.Equal(t, os.FileMode(0777), info.Mode().Perm())

		require.NoError(t, Remove(dir))
		require.NoDirExists(t, dir)
	}
}

func TestExtractUnexpected(t *testing.T) {
	e, _ := newTestExtractor(t)

	path := filepath.Join(t.TempDir(), "drivers.7z")
	writeFile(t, path, "")

	_, err := e.Extract(context.Background(), path)
	require.ErrorIs(t, err, ErrUnexpectedInput)

	e.runCommand = func(ctx context.Context, name string, args ...string) error {
		return errors.New("guestfish failed")
	}

	_, err = e.Extract(context.Background(), setupTree(t))
	require.ErrorContains(t, err, "guestfish failed")
}

func TestTreeDiff(t *testing.T) {
	origDir := t.TempDir()
	newDir := t.TempDir()

	writeFile(t, filepath.Join(origDir, "viostor", "w10", "viostor.inf"), "")
	writeFile(t, filepath.Join(origDir, "viostor", "w8", "viostor.inf"), "")
	writeFile(t, filepath.Join(newDir, "viostor", "w10", "viostor.inf"), "")
	writeFile(t, filepath.Join(newDir, "viostor", "w11", "viostor.inf"), "")
	require.NoError(t, os.Symlink("viostor/w10", filepath.Join(newDir, "latest")))

	diff, err := TreeDiff(origDir, newDir)
	require.NoError(t, err)
	require.Contains(t, diff, "--- orig\n")
	require.Contains(t, diff, "+++ new\n")
	require.Contains(t, diff, "-viostor/w8/\n")
	require.Contains(t, diff, "-viostor/w8/viostor.inf\n")
	require.Contains(t, diff, "+viostor/w11/viostor.inf\n")
	require.Contains(t, diff, "+latest -> viostor/w10\n")
	require.NotContains(t, diff, "-viostor/w10/viostor.inf")

	diff, err = TreeDiff(origDir, origDir)
	require.NoError(t, err)
	require.Empty(t, diff)
}

func TestFileDiff(t *testing.T) {
	origDir := t.TempDir()
	newDir := t.TempDir()

	files := []struct {
		name string
		orig string
		new  string
	}{
		{"same.txt", "same\n", "same\n"},
		{"changed.inf", "DriverVer=1\n", "DriverVer=2\n"},
		{"viostor.sys", "\x00old", "\x00new"},
		{"virtio-win.iso", "old iso", "new iso"},
		{"virtio-win-gt-x64.msi", "old msi", "new msi"},
		{"removed.txt", "gone\n", ""},
		{"sub/added.txt", "", "added\n"},
	}

	for _, f := range files {
		if f.orig != "" {
			writeFile(t, filepath.Join(origDir, filepath.FromSlash(f.name)), f.orig)
		}

		if f.new != "" {
			writeFile(t, filepath.Join(newDir, filepath.FromSlash(f.name)), f.new)
		}
	}

	require.NoError(t, os.MkdirAll(filepath.Join(origDir, "sub"), 0755))

	diff, err := FileDiff(origDir, newDir)
	require.NoError(t, err)

	require.Contains(t, diff, "--- "+filepath.Join(origDir, "changed.inf")+"\n")
	require.Contains(t, diff, "-DriverVer=1\n")
	require.Contains(t, diff, "+DriverVer=2\n")
	require.Contains(t, diff, "Binary files "+filepath.Join(origDir, "viostor.sys")+" and "+filepath.Join(newDir, "viostor.sys")+" differ\n")
	require.Contains(t, diff, "Only in "+origDir+": removed.txt\n")
	require.Contains(t, diff, "Only in "+filepath.Join(newDir, "sub")+": added.txt\n")
	require.NotContains(t, diff, "same.txt")
	require.NotContains(t, diff, ".iso")
	require.NotContains(t, diff, ".msi")
}

func TestCompare(t *testing.T) {
	e, _ := newTestExtractor(t)

	origDir := setupTree(t)
	newDir := setupTree(t)
	writeFile(t, filepath.Join(newDir, "iso-content", "viostor", "w10", "amd64", "viostor.inf"), "viostor v2")

	var out strings.Builder

	require.NoError(t, e.Compare(context.Background(), origDir, newDir, false, &out))
	require.Contains(t, out.String(), "\n\ntree diff:\n")
	require.Contains(t, out.String(), "\n\nfile diff:\n")
	require.Contains(t, out.String(), "+viostor v2")

	out.Reset()

	require.NoError(t, e.Compare(context.Background(), origDir, newDir, true, &out))
	require.Equal(t, "\n\ntree diff:\n", out.String())
}
