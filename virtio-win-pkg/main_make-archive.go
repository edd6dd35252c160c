package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/virtio-win/virtio-win-pkg-scripts/archive"
)

type cmdMakeArchive struct {
	global *cmdGlobal

	flagISO       bool
	flagOutputDir string
}

func (c *cmdMakeArchive) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "make-archive <nvr> <driver-dir>",
		Short: "Build the <nvr>-bin-for-rpm.tar.gz archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputDir := c.flagOutputDir
			if outputDir == "" {
				var err error

				outputDir, err = os.Getwd()
				if err != nil {
					return fmt.Errorf("Failed to get working directory: %w", err)
				}
			}

			result, err := archive.NewBuilder(archive.Options{
				NVR:       args[0],
				DriverDir: args[1],
				DataDir:   c.global.topPath("data"),
				OutputDir: outputDir,
				ISO:       c.flagISO,
			}, c.global.logger).Build(c.global.ctx)
			if err != nil {
				return err
			}

			c.global.logger.WithFields(logrus.Fields{"tarball": result.Tarball, "iso": result.ISO}).Info("Archive built")

			return nil
		},
		SilenceUsage: true,
	}

	cmd.Flags().BoolVar(&c.flagISO, "iso", false, "Also build <nvr>.iso")
	cmd.Flags().StringVar(&c.flagOutputDir, "output-dir", "", "Output directory (default current directory)"+"``")

	return cmd
}
