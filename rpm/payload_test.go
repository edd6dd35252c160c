package rpm

import (
	"bytes"
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/virtio-win/virtio-win-pkg-scripts/rpm/rpmtest"
)

func TestExtractRPM(t *testing.T) {
	tests := []struct {
		name        string
		compression rpmtest.Compression
	}{
		{"gzip payload", rpmtest.Gzip},
		{"xz payload", rpmtest.Xz},
		{"zstd payload", rpmtest.Zstd},
		{"uncompressed payload", rpmtest.None},
	}

	files := map[string]string{
		"usr/i686-w64-mingw32/sys-root/mingw/bin/qemu-ga-i386.msi":     "i386",
		"usr/x86_64-w64-mingw32/sys-root/mingw/bin/qemu-ga-x86_64.msi": "x86_64",
	}

	for i, tt := range tests {
		log.Printf("Running test #%d: %s", i, tt.name)

		dir := t.TempDir()
		pkg := filepath.Join(dir, "qemu-ga-win.noarch.rpm")
		dest := filepath.Join(dir, "out")

		require.NoError(t, rpmtest.WriteFile(pkg, files, tt.compression))
		require.NoError(t, ExtractRPM(pkg, dest))

		for name, content := range files {
			data, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(name)))
			require.NoError(t, err)
			require.Equal(t, content, string(data))
		}
	}
}

func TestPayloadReaderErrors(t *testing.T) {
	_, err := PayloadReader(bytes.NewReader(make([]byte, 96)))
	require.EqualError(t, err, "Not an RPM package")

	data, err := rpmtest.Bytes(map[string]string{"file": "content"}, rpmtest.Gzip)
	require.NoError(t, err)

	// Corrupt the signature header magic
	data[96] = 0
	_, err = PayloadReader(bytes.NewReader(data))
	require.ErrorContains(t, err, "Failed to read signature header")

	_, err = PayloadReader(bytes.NewReader(data[:50]))
	require.ErrorContains(t, err, "Failed to read lead")
}
