package driverdir

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/virtio-win/virtio-win-pkg-scripts/catalog/catalogtest"
)

func writeFile(t *testing.T, path string, content string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func writeDriver(t *testing.T, dir string, name string, osSigs string) {
	t.Helper()

	for _, ext := range []string{".inf", ".sys", ".pdb"} {
		writeFile(t, filepath.Join(dir, name+ext), name+ext+" "+dir)
	}

	cat := catalogtest.Catalog{
		OS:        osSigs,
		Timestamp: time.Date(2020, 6, 21, 0, 0, 0, 0, time.UTC),
	}

	require.NoError(t, cat.WriteFile(filepath.Join(dir, name+".cat")))
}

func setupInput(t *testing.T) string {
	t.Helper()

	input := filepath.Join(t.TempDir(), "input")

	writeFile(t, filepath.Join(input, "LICENSE"), "GPLv2")
	writeDriver(t, filepath.Join(input, "Win10", "amd64"), "viostor", "_v100_X64,Server_v100_X64")
	writeDriver(t, filepath.Join(input, "Win10", "x86"), "viostor", "_v100")
	writeDriver(t, filepath.Join(input, "Win7", "amd64"), "viostor", "7X64,Server2008R2X64")
	writeDriver(t, filepath.Join(input, "Win8", "amd64"), "viostor", "8X64,Server2012X64")
	writeFile(t, filepath.Join(input, "Win10", "amd64", "viostor.DVL.XML"), "dvl")

	for _, f := range []string{"qxl.cat", "qxl.inf", "qxl.sys", "qxldd.dll"} {
		writeFile(t, filepath.Join(input, "qxl", "w7", "amd64", f), f)
	}

	writeFile(t, filepath.Join(input, "qemufwcfg", "qemufwcfg.cat"), "cat")
	writeFile(t, filepath.Join(input, "qemufwcfg", "qemufwcfg.inf"), "inf")

	return input
}

func newTestBuilder(input string, output string) *Builder {
	b := NewBuilder(input, output, logrus.New())
	b.IgnorePatterns = []string{`.*DVL\.XML`}

	return b
}

func TestBuild(t *testing.T) {
	input := setupInput(t)
	output := filepath.Join(t.TempDir(), "output")

	err := newTestBuilder(input, output).Build()
	require.NoError(t, err)

	expected := []string{
		"virtio-win_license.txt",
		"viostor/w10/amd64/viostor.sys",
		"viostor/2k16/amd64/viostor.cat",
		"viostor/2k19/amd64/viostor.inf",
		"viostor/w10/x86/viostor.pdb",
		"viostor/w7/amd64/viostor.sys",
		"viostor/2k8R2/amd64/viostor.sys",
		"viostor/w8/amd64/viostor.sys",
		"viostor/w8.1/amd64/viostor.sys",
		"viostor/2k12/amd64/viostor.sys",
		"viostor/2k12R2/amd64/viostor.sys",
		"qxl/w7/amd64/qxldd.dll",
		"qemufwcfg/w10/x86/qemufwcfg.inf",
		"qemufwcfg/2k19/amd64/qemufwcfg.cat",
		"amd64/w10/viostor.sys",
		"amd64/w7/viostor.sys",
		"amd64/w8/viostor.sys",
		"i386/w10/viostor.sys",
	}

	for _, f := range expected {
		require.FileExists(t, filepath.Join(output, f))
	}

	require.NoFileExists(t, filepath.Join(output, "viostor", "w10", "amd64", "viostor.DVL.XML"))
	require.NoDirExists(t, filepath.Join(output, "viostor", "w8.1", "x86"))
	require.NoDirExists(t, filepath.Join(output, "amd64", "2k16"))

	content, err := os.ReadFile(filepath.Join(output, "viostor", "2k8R2", "amd64", "viostor.sys"))
	require.NoError(t, err)
	require.Equal(t, "viostor.sys "+filepath.Join(input, "Win7", "amd64"), string(content))

	content, err = os.ReadFile(filepath.Join(output, "i386", "w10", "viostor.sys"))
	require.NoError(t, err)
	require.Equal(t, "viostor.sys "+filepath.Join(input, "Win10", "x86"), string(content))
}

func TestBuildOutputNotEmpty(t *testing.T) {
	input := setupInput(t)
	output := t.TempDir()

	writeFile(t, filepath.Join(output, "leftover"), "")

	err := newTestBuilder(input, output).Build()
	require.EqualError(t, err, output+" is not empty")
}

func TestBuildUnhandledFile(t *testing.T) {
	input := setupInput(t)
	writeFile(t, filepath.Join(input, "Win10", "amd64", "viostor-new-tool.exe"), "")

	err := newTestBuilder(input, filepath.Join(t.TempDir(), "output")).Build()
	require.ErrorContains(t, err, "Unhandled virtio-win files:\n    /Win10/amd64/viostor-new-tool.exe\n")
}

func TestBuildUnmatchedIgnorePattern(t *testing.T) {
	input := setupInput(t)

	b := newTestBuilder(input, filepath.Join(t.TempDir(), "output"))
	b.IgnorePatterns = append(b.IgnorePatterns, `.*/disk1`)

	err := b.Build()
	require.ErrorContains(t, err, "Didn't match some ignore patterns:\n    .*/disk1\n")
}

func TestBuildUnknownSignature(t *testing.T) {
	input := setupInput(t)
	writeDriver(t, filepath.Join(input, "Win11", "amd64"), "viostor", "_v110_X64")

	err := newTestBuilder(input, filepath.Join(t.TempDir(), "output")).Build()
	require.ErrorContains(t, err, `Unknown catalog OS signature "_v110_X64"`)
}

func TestResolveDupe(t *testing.T) {
	f, err := resolveDupe("w7/amd64", []string{"/in/Wlh/amd64/viostor.cat", "/in/Win7/amd64/viostor.cat"})
	require.NoError(t, err)
	require.Equal(t, "/in/Win7/amd64/viostor.cat", f)

	f, err = resolveDupe("2k3/x86", []string{"/in/Wnet/x86/viostor.cat", "/in/Wxp/x86/viostor.cat"})
	require.NoError(t, err)
	require.Equal(t, "/in/Wnet/x86/viostor.cat", f)

	_, err = resolveDupe("w10/amd64", []string{"/in/Win10/amd64/viostor.cat", "/in/Win11/amd64/viostor.cat"})
	require.Error(t, err)
}

func TestConvertEquivalents(t *testing.T) {
	driverMap := map[string]string{
		"w8/amd64":   "/in/Win8/amd64/netkvm.cat",
		"w8.1/amd64": "/in/Win8.1/amd64/netkvm.cat",
	}

	convertEquivalents("NetKVM", driverMap)
	require.Equal(t, "/in/Win8/amd64/netkvm.cat", driverMap["2k12/amd64"])
	require.Equal(t, "/in/Win8.1/amd64/netkvm.cat", driverMap["2k12R2/amd64"])

	driverMap = map[string]string{
		"w8.1/amd64": "/in/Win8/amd64/viorng.cat",
	}

	convertEquivalents("viorng", driverMap)
	require.Len(t, driverMap, 4)
	require.Equal(t, "/in/Win8/amd64/viorng.cat", driverMap["2k12R2/amd64"])
}
