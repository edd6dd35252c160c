package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func testBuildVersions() BuildVersions {
	return BuildVersions{
		"virtio-win-prewhql": {
			URLs: []string{
				"{internalurl}/virtio-win-prewhql/0.1/100/win/virtio-win-prewhql-0.1.zip",
				"{internalurl}/virtio-win-prewhql/0.1/100/win/virtio-win-prewhql-0.1-100-sources.zip",
			},
			Version: "0.1-100",
		},
		"qxl": {
			URLs: []string{
				"https://www.spice-space.org/download/windows/qxl/qxl-0.1-24/qxl_w7_x64.zip",
				"https://www.spice-space.org/download/windows/qxl/qxl-0.1-24/qxl-win-unsigned-0.1-24-sources.zip",
			},
			Version: "0.1-24",
		},
		"qxlwddm": {
			URLs: []string{
				"https://www.spice-space.org/download/windows/qxl-wddm-dod/qxl-wddm-dod-0.19/spice-qxl-wddm-dod-0.19-0-sources.zip",
				"https://www.spice-space.org/download/windows/qxl-wddm-dod/qxl-wddm-dod-0.19/spice-qxl-wddm-dod-0.19.zip",
			},
			Version: "0.19",
		},
		"mingw-qemu-ga-win": {
			URLs: []string{
				"{internalurl}/mingw-qemu-ga-win/100.0.0.0/3.el7ev/noarch/qemu-ga-win-100.0.0.0-3.el7ev.noarch.rpm",
				"{internalurl}/mingw-qemu-ga-win/100.0.0.0/3.el7ev/src/mingw-qemu-ga-win-100.0.0.0-3.el7ev.src.rpm",
			},
			Version: "100.0.0.0-3.el7ev",
		},
	}
}

func TestBuildVersionsVersions(t *testing.T) {
	v, err := testBuildVersions().Versions()
	require.NoError(t, err)

	require.Equal(t, "virtio-win-prewhql-0.1-100", v.VirtioPrewhql)
	require.Equal(t, "qxl-win-unsigned-0.1-24", v.Qxl)
	require.Equal(t, "spice-qxl-wddm-dod-0.19-0", v.QxlWddm)
	require.Equal(t, "mingw-qemu-ga-win-100.0.0.0-3.el7ev", v.MingwQemuGa)
	require.Equal(t, "qemu-ga-win-100.0.0.0-3.el7ev", v.QemuGa)
	require.Equal(t, "virtio-win-0.1.100", v.VirtioRPM)
	require.Empty(t, v.SpiceVdagent)
}

func TestBuildVersionsMissingEntry(t *testing.T) {
	bv := testBuildVersions()
	delete(bv, "qxl")

	_, err := bv.Versions()
	require.EqualError(t, err, `Build versions have no entry for "qxl"`)
}

func TestBuildVersionsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	bv := testBuildVersions()

	err := bv.Write(dir)
	require.NoError(t, err)

	loaded, err := LoadBuildVersions(dir)
	require.NoError(t, err)
	require.Equal(t, bv, loaded)

	content, err := loaded.Dump()
	require.NoError(t, err)
	require.Contains(t, content, "\n  \"mingw-qemu-ga-win\": {\n    \"urls\": [\n")
	require.Contains(t, content, "{internalurl}/virtio-win-prewhql")
}

func TestVirtioRPMVersion(t *testing.T) {
	require.Equal(t, "virtio-win-0.1.100", VirtioRPMVersion("virtio-win-prewhql-0.1-100"))
	require.Equal(t, "virtio-win-0.1.185", VirtioRPMVersion("virtio-win-prewhql-0.1-185"))
}
