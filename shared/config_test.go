package shared

import (
	"log"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigSetValue(t *testing.T) {
	tests := []struct {
		name       string
		key        string
		value      string
		check      func(c *Config)
		shouldFail bool
	}{
		{
			"string value",
			"internal_url",
			"http://download.example.com/brewroot/packages",
			func(c *Config) {
				require.Equal(t, "http://download.example.com/brewroot/packages", c.InternalURL)
			},
			false,
		},
		{
			"list value",
			"stable_rpms",
			"0.1.190-1, 0.1.185-2",
			func(c *Config) {
				require.Equal(t, []string{"0.1.190-1", "0.1.185-2"}, c.StableRPMs)
			},
			false,
		},
		{
			"unknown key",
			"foo",
			"bar",
			nil,
			true,
		},
	}

	for i, tt := range tests {
		log.Printf("Running test #%d: %s", i, tt.name)

		c := Config{}

		err := c.SetValue(tt.key, tt.value)
		if tt.shouldFail {
			require.Error(t, err)
			continue
		}

		require.NoError(t, err)
		tt.check(&c)
	}
}

func TestConfigSetDefaults(t *testing.T) {
	t.Setenv("EMAIL", "crobinso@redhat.com")
	t.Setenv("FAS_USERNAME", "crobinso")
	t.Setenv("EDITOR", "")

	c := Config{LocalRepoDir: "/srv/virtio-win"}
	c.SetDefaults()

	require.Equal(t, "crobinso@redhat.com", c.Email)
	require.Equal(t, "crobinso", c.FASUsername)
	require.Equal(t, "vim", c.Editor)
	require.Equal(t, "/srv/virtio-win", c.LocalRepoDir)
	require.Equal(t, DefaultPublicBuildVersionsURL, c.PublicBuildVersionsURL)
	require.Equal(t, DefaultStableRPMs, c.StableRPMs)
	require.Equal(t, "winfsp/winfsp", c.WinFSPRepo)
}

func TestLoadConfig(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "config.yaml")

	err := os.WriteFile(fname, []byte(`internal_url: http://brew.example.com/packages
email: someone@example.com
stable_rpms:
- 0.1.190-1
`), 0644)
	require.NoError(t, err)

	c, err := LoadConfig(fname, []string{"email=other@example.com"})
	require.NoError(t, err)
	require.Equal(t, "http://brew.example.com/packages", c.InternalURL)
	require.Equal(t, "other@example.com", c.Email)
	require.Equal(t, []string{"0.1.190-1"}, c.StableRPMs)
	require.NoError(t, c.ValidateFetch())
	require.NoError(t, c.ValidateRPM())

	_, err = LoadConfig(fname, []string{"email"})
	require.EqualError(t, err, "Options need to be of type key=value")

	err = os.WriteFile(fname, []byte("unknown_key: 1\n"), 0644)
	require.NoError(t, err)

	_, err = LoadConfig(fname, nil)
	require.Error(t, err)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
}
