package shared

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/lxc/incus/v6/shared/ioprogress"
	incus "github.com/lxc/incus/v6/shared/util"
)

// UserAgent is sent with every download.
const UserAgent = "virtio-win-pkg-scripts"

// Download fetches URL into destDir, keeping the URL's base name, and returns the local path.
// A partial file is removed on failure.
func Download(ctx context.Context, client *http.Client, URL string, destDir string, progress io.Writer) (string, error) {
	fname := filepath.Join(destDir, path.Base(URL))

	var progressFunc func(ioprogress.ProgressData)

	if progress != nil {
		progressFunc = func(p ioprogress.ProgressData) {
			fmt.Fprintf(progress, "%s\r", p.Text)
		}
	}

	err := Retry(func() error {
		f, err := os.Create(fname)
		if err != nil {
			return fmt.Errorf("Failed to create file %q: %w", fname, err)
		}

		defer f.Close()

		_, err = incus.DownloadFileHash(ctx, client, UserAgent, progressFunc, nil, path.Base(URL), URL, "", nil, f)
		if err != nil {
			return err
		}

		return f.Sync()
	}, 3)
	if err != nil {
		_ = os.Remove(fname)
		return "", fmt.Errorf("Failed to download %q: %w", URL, err)
	}

	if progress != nil {
		fmt.Fprintln(progress, "")
	}

	return fname, nil
}

// FetchURL returns the body of URL.
func FetchURL(ctx context.Context, client *http.Client, URL string) ([]byte, error) {
	var content []byte

	err := Retry(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, URL, nil)
		if err != nil {
			return err
		}

		req.Header.Set("User-Agent", UserAgent)

		resp, err := client.Do(req)
		if err != nil {
			return err
		}

		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("Unexpected status %s", resp.Status)
		}

		content, err = io.ReadAll(resp.Body)

		return err
	}, 3)
	if err != nil {
		return nil, fmt.Errorf("Failed to fetch %q: %w", URL, err)
	}

	return content, nil
}
