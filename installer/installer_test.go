package installer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type call struct {
	dir  string
	name string
	args []string
}

func writeFile(t *testing.T, path string, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func newTestBuilder(t *testing.T, winFSP string) (*Builder, *[]call) {
	t.Helper()

	dir := t.TempDir()
	msiDir := filepath.Join(dir, "msis")

	msis := MSIs{
		VdagentX64: filepath.Join(msiDir, "spice-vdagent-x64.msi"),
		VdagentX86: filepath.Join(msiDir, "spice-vdagent-x86.msi"),
		QxlWddmX64: filepath.Join(msiDir, "spice-qxl-wddm-dod-x64.msi"),
		QxlWddmX86: filepath.Join(msiDir, "spice-qxl-wddm-dod-x86.msi"),
		QemuGaX64:  filepath.Join(msiDir, "qemu-ga-x64.msi"),
		QemuGaX86:  filepath.Join(msiDir, "qemu-ga-x86.msi"),
		WinFSP:     winFSP,
	}

	for _, p := range msis.list()[:6] {
		writeFile(t, p, "msi")
	}

	if winFSP != LatestWinFSP {
		writeFile(t, winFSP, "winfsp")
	}

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "drivers"), 0755))

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	b := NewBuilder(Options{
		NVR:          "0.1.185",
		DriverDir:    filepath.Join(dir, "drivers"),
		MSIs:         msis,
		OutputDir:    filepath.Join(dir, "output"),
		TopDir:       filepath.Join(dir, "checkout"),
		InstallerDir: "virtio-win-guest-tools-installer",
		WinFSPRepo:   "winfsp/winfsp",
	}, logger)

	calls := []call{}

	b.runCommand = func(ctx context.Context, dir string, name string, args ...string) error {
		calls = append(calls, call{dir, name, args})

		if name == "./automation/build-artifacts.sh" {
			writeFile(t, filepath.Join(dir, "exported-artifacts", "virtio-win-gt-x64.msi"), "gt")
			writeFile(t, filepath.Join(dir, "exported-artifacts", "virtio-win-guest-tools.exe"), "exe")
		}

		return nil
	}

	return b, &calls
}

func newGitHubServer(t *testing.T) *httptest.Server {
	t.Helper()

	var srv *httptest.Server

	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/repos/winfsp/winfsp/releases/latest":
			fmt.Fprintf(w, `{
  "tag_name": "v2.0",
  "assets": [
    {"name": "winfsp-tests-2.0.23075.zip", "browser_download_url": "%[1]s/download/winfsp-tests-2.0.23075.zip"},
    {"name": "winfsp-2.0.23075.msi", "browser_download_url": "%[1]s/download/winfsp-2.0.23075.msi"}
  ]
}`, srv.URL)
		case "/download/winfsp-2.0.23075.msi":
			fmt.Fprint(w, "winfsp msi")
		default:
			http.NotFound(w, r)
		}
	}))

	t.Cleanup(srv.Close)

	return srv
}

func TestBuild(t *testing.T) {
	winFSP := filepath.Join(t.TempDir(), "winfsp-1.9.msi")
	b, calls := newTestBuilder(t, winFSP)

	require.NoError(t, b.Build(context.Background()))

	installerDir := filepath.Join(b.options.TopDir, "virtio-win-guest-tools-installer")

	require.Len(t, *calls, 4)
	require.Equal(t, call{b.options.TopDir, "git", []string{"submodule", "init"}}, (*calls)[0])
	require.Equal(t, call{b.options.TopDir, "git", []string{"submodule", "update"}}, (*calls)[1])
	require.Equal(t, call{installerDir, "git", []string{"clean", "-xdf"}}, (*calls)[2])

	build := (*calls)[3]
	require.Equal(t, installerDir, build.dir)
	require.Len(t, build.args, 9)
	require.Equal(t, b.options.DriverDir, build.args[0])
	require.Equal(t, winFSP, build.args[7])
	require.Equal(t, "0.1.185", build.args[8])

	for _, arg := range build.args[:8] {
		require.True(t, filepath.IsAbs(arg))
	}

	for _, name := range []string{"virtio-win-gt-x64.msi", "virtio-win-guest-tools.exe"} {
		require.FileExists(t, filepath.Join(b.options.OutputDir, name))
		require.NoFileExists(t, filepath.Join(installerDir, "exported-artifacts", name))
	}
}

func TestBuildErrors(t *testing.T) {
	winFSP := filepath.Join(t.TempDir(), "winfsp-1.9.msi")

	b, calls := newTestBuilder(t, winFSP)
	writeFile(t, filepath.Join(b.options.OutputDir, "leftover"), "")

	err := b.Build(context.Background())
	require.ErrorContains(t, err, "is not empty")
	require.Empty(t, *calls)

	b, calls = newTestBuilder(t, winFSP)
	require.NoError(t, os.Remove(b.options.MSIs.QemuGaX86))

	err = b.Build(context.Background())
	require.ErrorContains(t, err, "doesn't exist")
	require.Empty(t, *calls)
}

func TestBuildLatestWinFSP(t *testing.T) {
	srv := newGitHubServer(t)

	b, calls := newTestBuilder(t, LatestWinFSP)

	var err error

	b.github.BaseURL, err = url.Parse(srv.URL + "/")
	require.NoError(t, err)

	b.runCommand = func(ctx context.Context, dir string, name string, args ...string) error {
		*calls = append(*calls, call{dir, name, args})

		if name == "./automation/build-artifacts.sh" {
			require.Equal(t, "winfsp-2.0.23075.msi", filepath.Base(args[7]))

			content, err := os.ReadFile(args[7])
			require.NoError(t, err)
			require.Equal(t, "winfsp msi", string(content))

			require.NoError(t, os.MkdirAll(filepath.Join(dir, "exported-artifacts"), 0755))
		}

		return nil
	}

	require.NoError(t, b.Build(context.Background()))
	require.Len(t, *calls, 4)

	// The download is temporary
	require.NoFileExists(t, b.options.MSIs.WinFSP)
	require.True(t, strings.HasSuffix(b.options.MSIs.WinFSP, "winfsp-2.0.23075.msi"))
}

func TestDownloadLatestWinFSPNoAsset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tag_name": "v2.0", "assets": [{"name": "winfsp-2.0.zip"}]}`)
	}))
	defer srv.Close()

	b, _ := newTestBuilder(t, LatestWinFSP)

	var err error

	b.github.BaseURL, err = url.Parse(srv.URL + "/")
	require.NoError(t, err)

	_, err = b.DownloadLatestWinFSP(context.Background(), t.TempDir())
	require.ErrorContains(t, err, "No WinFSP MSI found")

	b.options.WinFSPRepo = "winfsp"

	_, err = b.DownloadLatestWinFSP(context.Background(), t.TempDir())
	require.ErrorContains(t, err, "Invalid GitHub repository")
}
