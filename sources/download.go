package sources

import (
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"os"
	"path/filepath"
	"slices"

	incus "github.com/lxc/incus/v6/shared/util"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
)

// SameAsExisting reports whether dir already holds builds. Differences are written to w as a unified diff.
func SameAsExisting(dir string, builds shared.BuildVersions, w io.Writer) (bool, error) {
	if !incus.PathExists(filepath.Join(dir, shared.BuildVersionsFile)) {
		return false, nil
	}

	existing, err := shared.LoadBuildVersions(dir)
	if err != nil {
		return false, err
	}

	oldContent, err := existing.Dump()
	if err != nil {
		return false, err
	}

	newContent, err := builds.Dump()
	if err != nil {
		return false, err
	}

	if oldContent == newContent {
		return true, nil
	}

	diff, err := shared.UnifiedDiff(oldContent+"\n", newContent+"\n", "orig buildversions.json", "new buildversions.json")
	if err != nil {
		return false, err
	}

	fmt.Fprintf(w, "buildversions diff vs %s/:\n%s", filepath.Base(dir), diff)

	return false, nil
}

// DownloadAll recreates outDir, downloads every URL of the manifest into it and writes the manifest
// next to the downloads.
func DownloadAll(ctx context.Context, logger *logrus.Logger, client *http.Client, builds shared.BuildVersions, internalURL string, outDir string, progress io.Writer) error {
	if client == nil {
		client = &http.Client{}
	}

	err := os.RemoveAll(outDir)
	if err != nil {
		return fmt.Errorf("Failed to remove %q: %w", outDir, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	err = os.MkdirAll(outDir, 0755)
	if err != nil {
		return fmt.Errorf("Failed to create directory %q: %w", outDir, err)
	}

	names := slices.Sorted(maps.Keys(builds))

	for _, name := range names {
		for _, URL := range builds[name].URLs {
			g.Go(func() error {
				logger.WithField("url", URL).Info("Downloading")

				_, err := shared.Download(ctx, client, ExpandURL(URL, internalURL), outDir, progress)

				return err
			})
		}
	}

	err = g.Wait()
	if err != nil {
		return err
	}

	return builds.Write(outDir)
}
