package shared

import (
	"bufio"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/flosch/pongo2/v4"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	tests := []struct {
		name       string
		iface      any
		template   string
		expected   string
		shouldFail bool
	}{
		{
			"valid template with yaml tags",
			Config{
				Email:       "crobinso@redhat.com",
				FASUsername: "crobinso",
			},
			"{{ email }} {{ fas_username }}",
			"crobinso@redhat.com crobinso",
			false,
		},
		{
			"valid template without yaml tags",
			pongo2.Context{
				"foo": "bar",
			},
			"{{ foo }}",
			"bar",
			false,
		},
		{
			"variable not in context",
			pongo2.Context{},
			"{{ foo }}",
			"",
			false,
		},
		{
			"invalid template",
			pongo2.Context{
				"foo": nil,
			},
			"{{ foo }",
			"",
			true,
		},
	}

	for i, tt := range tests {
		log.Printf("Running test #%d: %s", i, tt.name)
		ret, err := RenderTemplate(tt.template, tt.iface)
		if tt.shouldFail {
			require.Error(t, err)
			continue
		}

		require.NoError(t, err)
		require.Equal(t, tt.expected, ret)
	}
}

func TestCopyPreserve(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dest := filepath.Join(dir, "dest")

	err := os.WriteFile(src, []byte("content"), 0600)
	require.NoError(t, err)

	mtime := time.Date(2020, 5, 1, 12, 0, 0, 0, time.UTC)
	err = os.Chtimes(src, mtime, mtime)
	require.NoError(t, err)

	err = CopyPreserve(src, dest)
	require.NoError(t, err)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
	require.True(t, info.ModTime().Equal(mtime))

	content, err := os.ReadFile(dest)
	require.NoError(t, err)
	require.Equal(t, "content", string(content))
}

func TestCopyTreeFollowsSymlinks(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dest := filepath.Join(dir, "dest")

	require.NoError(t, os.MkdirAll(filepath.Join(src, "viostor", "w10"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "viostor", "w10", "viostor.inf"), []byte("inf"), 0644))
	require.NoError(t, os.Symlink("viostor.inf", filepath.Join(src, "viostor", "w10", "link.inf")))

	err := CopyTree(src, dest)
	require.NoError(t, err)

	fi, err := os.Lstat(filepath.Join(dest, "viostor", "w10", "link.inf"))
	require.NoError(t, err)
	require.True(t, fi.Mode().IsRegular())
}

func TestPrepareOutputDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	require.NoError(t, PrepareOutputDir(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "file"), nil, 0644))
	require.Error(t, PrepareOutputDir(dir))
}

func TestUnifiedDiff(t *testing.T) {
	diff, err := UnifiedDiff("a\nb\n", "a\nc\n", "orig", "new")
	require.NoError(t, err)
	require.Contains(t, diff, "--- orig")
	require.Contains(t, diff, "+++ new")
	require.Contains(t, diff, "-b\n")
	require.Contains(t, diff, "+c\n")

	diff, err = UnifiedDiff("same\n", "same\n", "orig", "new")
	require.NoError(t, err)
	require.Empty(t, diff)
}

func TestPromptYesNo(t *testing.T) {
	tests := []struct {
		input      string
		expected   bool
		shouldFail bool
	}{
		{"y\n", true, false},
		{"yes\n", true, false},
		{"n\n", false, false},
		{"Y\n", false, false},
		{"y", true, false},
		{"", false, true},
	}

	for i, tt := range tests {
		log.Printf("Running test #%d: %q", i, tt.input)

		var out strings.Builder

		ok, err := PromptYesNo(bufio.NewReader(strings.NewReader(tt.input)), &out, "Push? ")
		if tt.shouldFail {
			require.ErrorIs(t, err, io.EOF)
		} else {
			require.NoError(t, err)
		}

		require.Equal(t, tt.expected, ok)
		require.Equal(t, "Push? ", out.String())
	}
}

func TestPromptYesNoSameStream(t *testing.T) {
	in := bufio.NewReader(strings.NewReader("n\ny\n"))

	var out strings.Builder

	ok, err := PromptYesNo(in, &out, "First? ")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = PromptYesNo(BufferedReader(in), &out, "Second? ")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = PromptYesNo(in, &out, "Third? ")
	require.ErrorIs(t, err, io.EOF)
}

func TestRetry(t *testing.T) {
	calls := 0

	err := Retry(func() error {
		calls++
		if calls < 2 {
			return os.ErrNotExist
		}

		return nil
	}, 3)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}
