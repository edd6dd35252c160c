package windows

import (
	"log"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReleaseDestDir(t *testing.T) {
	tests := []struct {
		sig        string
		expected   string
		shouldFail bool
	}{
		{"XPX86", "xp/x86", false},
		{"VistaX64", "2k8/amd64", false},
		{"Server2008R2X64", "2k8R2/amd64", false},
		{"_v63_Server_X64", "2k12R2/amd64", false},
		{"10X64", "w8.1/amd64", false},
		{"Server_v100_ARM64", "w10/ARM64", false},
		{"_v100_X64_RS5", "w10/amd64", false},
		{"Server_v100_X64", "", false},
		{"Server2025X64", "", true},
	}

	for i, tt := range tests {
		log.Printf("Running test #%d: %s", i, tt.sig)

		dir, err := ReleaseDestDir(tt.sig)
		if tt.shouldFail {
			require.Error(t, err)
			continue
		}

		require.NoError(t, err)
		require.Equal(t, tt.expected, dir)
	}
}

func TestLookupCatalogOS(t *testing.T) {
	os, err := LookupCatalogOS("VistaX86")
	require.NoError(t, err)
	require.Equal(t, "x86/vista", os.ArchDir())
	require.Equal(t, "2:6.0", os.KernelAttr())

	os, err = LookupCatalogOS("_v100_X64")
	require.NoError(t, err)
	require.Equal(t, "amd64/w10", os.ArchDir())
	require.Equal(t, "2:10.0", os.KernelAttr())

	_, err = LookupCatalogOS("10X64")
	require.Error(t, err)
}
