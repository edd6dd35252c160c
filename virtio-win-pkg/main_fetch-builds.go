package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/virtio-win/virtio-win-pkg-scripts/rpm"
	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
	"github.com/virtio-win/virtio-win-pkg-scripts/sources"
)

type cmdFetchBuilds struct {
	global *cmdGlobal

	flagRedownload bool
}

func (c *cmdFetchBuilds) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch-builds",
		Short: "Download the newest driver builds into new-builds/",
		Long: `Download the newest driver builds into new-builds/

Exits with status 1 when new builds were downloaded and 0 when the
existing new-builds/ is already up to date.
`,
		Args:         cobra.NoArgs,
		RunE:         c.run,
		SilenceUsage: true,
	}

	cmd.Flags().BoolVar(&c.flagRedownload, "redownload", false, "Download the builds listed in the published buildversions.json")

	return cmd
}

func (c *cmdFetchBuilds) run(cmd *cobra.Command, args []string) error {
	config := c.global.config
	logger := c.global.logger
	out := cmd.OutOrStdout()

	err := config.ValidateFetch()
	if err != nil {
		return err
	}

	client := &http.Client{}
	newBuildsDir := c.global.topPath(rpm.NewBuildsDir)

	var latest shared.BuildVersions

	if !c.flagRedownload {
		latest, err = sources.FindLatest(c.global.ctx, logger, sources.Options{
			InternalURL: config.InternalURL,
			Client:      client,
		})
		if err != nil {
			return fmt.Errorf("Failed to find latest builds: %w", err)
		}

		same, err := sources.SameAsExisting(newBuildsDir, latest, out)
		if err != nil {
			return err
		}

		if same {
			logger.WithField("dir", newBuildsDir).Info("No new builds")
			return nil
		}
	}

	content, err := shared.FetchURL(c.global.ctx, client, config.PublicBuildVersionsURL)
	if err != nil {
		return fmt.Errorf("Failed to fetch published builds: %w", err)
	}

	published, err := shared.ParseBuildVersions(content)
	if err != nil {
		return fmt.Errorf("Failed to parse published builds: %w", err)
	}

	if c.flagRedownload {
		latest = published
	}

	err = sources.DownloadAll(c.global.ctx, logger, client, latest, config.InternalURL, newBuildsDir, nil)
	if err != nil {
		return fmt.Errorf("Failed to download builds: %w", err)
	}

	err = printBuildsDiff(out, published, latest)
	if err != nil {
		return err
	}

	logger.WithField("dir", newBuildsDir).Info("New builds downloaded")

	return errNewBuilds
}

func printBuildsDiff(w io.Writer, published shared.BuildVersions, latest shared.BuildVersions) error {
	publishedContent, err := published.Dump()
	if err != nil {
		return err
	}

	latestContent, err := latest.Dump()
	if err != nil {
		return err
	}

	diff, err := shared.UnifiedDiff(publishedContent+"\n", latestContent+"\n", "published buildversions.json", "new buildversions.json")
	if err != nil {
		return err
	}

	if diff == "" {
		fmt.Fprintln(w, "new-builds/ matches the published buildversions.json")
		return nil
	}

	fmt.Fprintf(w, "\nbuildversions diff vs published:\n%s", diff)

	return nil
}
