package sources

import (
	"context"
	"fmt"
	"io"
	"log"
	"maps"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
)

var testIndexes = map[string][]string{
	"/internal/mingw-qemu-ga-win/":                          {"../", "99.0.0.0/", "100.0.0.0/"},
	"/internal/mingw-qemu-ga-win/100.0.0.0/":                {"../", "2.el7ev/", "3.el7ev/"},
	"/internal/mingw-qemu-ga-win/100.0.0.0/3.el7ev/noarch/": {"qemu-ga-win-100.0.0.0-3.el7ev.noarch.rpm"},
	"/internal/mingw-qemu-ga-win/100.0.0.0/3.el7ev/src/":    {"mingw-qemu-ga-win-100.0.0.0-3.el7ev.src.rpm"},
	"/internal/virtio-win-prewhql/":                         {"../", "0.1/"},
	"/internal/virtio-win-prewhql/0.1/":                     {"98/", "100/", "99/"},
	"/internal/virtio-win-prewhql/0.1/100/win/": {
		"virtio-win-prewhql-0.1.zip",
		"virtio-win-prewhql-0.1-100-sources.zip",
		"virtio-win-prewhql-0.1-100-spec.zip",
	},
	"/spice/qxl/": {"qxl-0.1-21/", "qxl-0.1-24/", "qxl-0.1-3/"},
	"/spice/qxl/qxl-0.1-24/": {
		"qxl_w7_x64.zip",
		"qxl_w7_x86.zip",
		"qxl_8k2R2_x64.zip",
		"qxl-win-unsigned-0.1-24-sources.zip",
		"qxl-win-unsigned-0.1-24-spec.zip",
	},
	"/spice/qxl-wddm-dod/": {"qxl-wddm-dod-0.19/", "qxl-wddm-dod-0.21/"},
	"/spice/qxl-wddm-dod/qxl-wddm-dod-0.21/": {
		"spice-qxl-wddm-dod-0.21-0-sources.zip",
		"spice-qxl-wddm-dod-0.21.zip",
		"spice-qxl-wddm-dod-0.21-8.1-compatible.zip",
		"README.txt",
	},
}

var testBuilds = shared.BuildVersions{
	"mingw-qemu-ga-win": {
		URLs: []string{
			"{internalurl}/mingw-qemu-ga-win/100.0.0.0/3.el7ev/noarch/qemu-ga-win-100.0.0.0-3.el7ev.noarch.rpm",
			"{internalurl}/mingw-qemu-ga-win/100.0.0.0/3.el7ev/src/mingw-qemu-ga-win-100.0.0.0-3.el7ev.src.rpm",
		},
		Version: "100.0.0.0-3.el7ev",
	},
	"virtio-win-prewhql": {
		URLs: []string{
			"{internalurl}/virtio-win-prewhql/0.1/100/win/virtio-win-prewhql-0.1.zip",
			"{internalurl}/virtio-win-prewhql/0.1/100/win/virtio-win-prewhql-0.1-100-sources.zip",
		},
		Version: "0.1-100",
	},
}

func newTestServer(t *testing.T, indexes map[string][]string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		links, ok := indexes[r.URL.Path]
		if ok {
			fmt.Fprint(w, "<html><body><h1>Index</h1>\n")

			for _, l := range links {
				fmt.Fprintf(w, "<a href=\"%s\">%s</a>\n", l, l)
			}

			fmt.Fprint(w, "</body></html>\n")

			return
		}

		if strings.HasSuffix(r.URL.Path, ".zip") || strings.HasSuffix(r.URL.Path, ".rpm") {
			fmt.Fprintf(w, "content of %s", path.Base(r.URL.Path))
			return
		}

		http.NotFound(w, r)
	}))

	t.Cleanup(srv.Close)

	return srv
}

func testOptions(srv *httptest.Server) Options {
	return Options{
		InternalURL: srv.URL + "/internal",
		SpiceURL:    srv.URL + "/spice",
		Client:      srv.Client(),
	}
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return logger
}

func TestFindLatest(t *testing.T) {
	srv := newTestServer(t, testIndexes)
	spice := srv.URL + "/spice"

	bv, err := FindLatest(context.Background(), testLogger(), testOptions(srv))
	require.NoError(t, err)

	expected := shared.BuildVersions{
		"qxl": {
			URLs: []string{
				spice + "/qxl/qxl-0.1-24/qxl_w7_x64.zip",
				spice + "/qxl/qxl-0.1-24/qxl_w7_x86.zip",
				spice + "/qxl/qxl-0.1-24/qxl_8k2R2_x64.zip",
				spice + "/qxl/qxl-0.1-24/qxl-win-unsigned-0.1-24-sources.zip",
			},
			Version: "0.1-24",
		},
		"qxlwddm": {
			URLs: []string{
				spice + "/qxl-wddm-dod/qxl-wddm-dod-0.21/spice-qxl-wddm-dod-0.21-0-sources.zip",
				spice + "/qxl-wddm-dod/qxl-wddm-dod-0.21/spice-qxl-wddm-dod-0.21.zip",
				spice + "/qxl-wddm-dod/qxl-wddm-dod-0.21/spice-qxl-wddm-dod-0.21-8.1-compatible.zip",
			},
			Version: "0.21",
		},
	}

	maps.Copy(expected, testBuilds)

	require.Equal(t, expected, bv)

	versions, err := bv.Versions()
	require.NoError(t, err)
	require.Equal(t, "virtio-win-0.1.100", versions.VirtioRPM)
	require.Equal(t, "qemu-ga-win-100.0.0.0-3.el7ev", versions.QemuGa)
}

func TestFetcherErrors(t *testing.T) {
	tests := []struct {
		name    string
		fetcher string
		path    string
		links   []string
		err     string
	}{
		{
			"missing wanted file",
			"virtio-win-prewhql",
			"/internal/virtio-win-prewhql/0.1/100/win/",
			[]string{"virtio-win-prewhql-0.1-100-sources.zip", "virtio-win-prewhql-0.1-100-spec.zip"},
			`Didn't find wanted "virtio-win-prewhql-0.1.zip"`,
		},
		{
			"missing skipped file",
			"qxl",
			"/spice/qxl/qxl-0.1-24/",
			[]string{"qxl_w7_x64.zip", "qxl_w7_x86.zip", "qxl_8k2R2_x64.zip", "qxl-win-unsigned-0.1-24-sources.zip"},
			`Didn't find skipped "qxl-win-unsigned-0.1-24-spec.zip"`,
		},
		{
			"no version directories",
			"qxlwddm",
			"/spice/qxl-wddm-dod/",
			[]string{"../", "README.txt"},
			"No version directories found",
		},
		{
			"missing index",
			"mingw-qemu-ga-win",
			"/internal/mingw-qemu-ga-win/",
			nil,
			"Failed to fetch",
		},
	}

	for i, tt := range tests {
		log.Printf("Running test #%d: %s", i, tt.name)

		indexes := maps.Clone(testIndexes)
		if tt.links == nil {
			delete(indexes, tt.path)
		} else {
			indexes[tt.path] = tt.links
		}

		srv := newTestServer(t, indexes)

		f, err := Load(context.Background(), tt.fetcher, testLogger(), testOptions(srv))
		require.NoError(t, err)

		_, err = f.Latest()
		require.ErrorContains(t, err, tt.err)
	}
}

func TestLoadUnknown(t *testing.T) {
	_, err := Load(context.Background(), "spice-vdagent-win", testLogger(), Options{})
	require.ErrorIs(t, err, ErrUnknownFetcher)
}

func TestSameAsExisting(t *testing.T) {
	dir := t.TempDir()

	var out strings.Builder

	same, err := SameAsExisting(dir, testBuilds, &out)
	require.NoError(t, err)
	require.False(t, same)
	require.Empty(t, out.String())

	require.NoError(t, testBuilds.Write(dir))

	same, err = SameAsExisting(dir, testBuilds, &out)
	require.NoError(t, err)
	require.True(t, same)
	require.Empty(t, out.String())

	changed := maps.Clone(testBuilds)
	changed["virtio-win-prewhql"] = shared.BuildVersion{Version: "0.1-101"}

	same, err = SameAsExisting(dir, changed, &out)
	require.NoError(t, err)
	require.False(t, same)
	require.Contains(t, out.String(), `-    "version": "0.1-100"`)
	require.Contains(t, out.String(), `+    "version": "0.1-101"`)
}

func TestDownloadAll(t *testing.T) {
	srv := newTestServer(t, testIndexes)
	outDir := filepath.Join(t.TempDir(), "new-builds")

	require.NoError(t, os.MkdirAll(filepath.Join(outDir, "stale"), 0755))

	err := DownloadAll(context.Background(), testLogger(), srv.Client(), testBuilds, srv.URL+"/internal", outDir, nil)
	require.NoError(t, err)

	require.NoDirExists(t, filepath.Join(outDir, "stale"))

	content, err := os.ReadFile(filepath.Join(outDir, "virtio-win-prewhql-0.1-100-sources.zip"))
	require.NoError(t, err)
	require.Equal(t, "content of virtio-win-prewhql-0.1-100-sources.zip", string(content))

	require.FileExists(t, filepath.Join(outDir, "qemu-ga-win-100.0.0.0-3.el7ev.noarch.rpm"))

	bv, err := shared.LoadBuildVersions(outDir)
	require.NoError(t, err)
	require.Equal(t, testBuilds, bv)
}
