package main

import (
	"errors"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/virtio-win/virtio-win-pkg-scripts/repo"
	"github.com/virtio-win/virtio-win-pkg-scripts/rpm"
	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
)

type cmdMakeRepo struct {
	global *cmdGlobal

	flagRPMOutput      string
	flagRPMBuildroot   string
	flagRegenerateOnly bool
	flagResync         bool
}

type publishOptions struct {
	RPMOutput      string
	RPMBuildroot   string
	RegenerateOnly bool
	Resync         bool
}

func (c *cmdMakeRepo) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "make-repo",
		Short: "Add a built release to the local mirror and push it",
		Long: `Add a built release to the local mirror and push it

The RPMs and the ISO are copied into the local mirror, the yum
repodata is regenerated and the mirror is rsynced to the public
location after a reviewed dry run.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if c.flagResync && (c.flagRegenerateOnly || c.flagRPMOutput != "" || c.flagRPMBuildroot != "") {
				return errors.New("--resync can't be combined with other options")
			}

			if !c.flagRegenerateOnly && !c.flagResync && (c.flagRPMOutput == "" || c.flagRPMBuildroot == "") {
				return errors.New("--rpm-output and --rpm-buildroot are required unless --regenerate-only or --resync is given")
			}

			return c.global.publish(publishOptions{
				RPMOutput:      c.flagRPMOutput,
				RPMBuildroot:   c.flagRPMBuildroot,
				RegenerateOnly: c.flagRegenerateOnly,
				Resync:         c.flagResync,
			}, shared.BufferedReader(cmd.InOrStdin()), cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&c.flagRPMOutput, "rpm-output", "", "Directory holding the built noarch and source RPMs"+"``")
	cmd.Flags().StringVar(&c.flagRPMBuildroot, "rpm-buildroot", "", "rpmbuild buildroot of the virtio-win build"+"``")
	cmd.Flags().BoolVar(&c.flagRegenerateOnly, "regenerate-only", false, "Only regenerate the repodata and push")
	cmd.Flags().BoolVar(&c.flagResync, "resync", false, "Sync the public mirror back into the local mirror")

	return cmd
}

func (c *cmdGlobal) publish(options publishOptions, in io.Reader, out io.Writer) error {
	err := c.config.ValidateRepo()
	if err != nil {
		return err
	}

	syncOptions := repo.SyncOptions{
		Remote:   c.config.Remote,
		Username: c.config.FASUsername,
	}

	localRepo := repo.NewLocalRepo(c.config.LocalRepoDir, c.config.HTTPDirectDir, c.config.StableRPMs, c.logger)

	if options.Resync {
		c.logger.WithField("remote", syncOptions.Remote).Info("Syncing the public mirror into the local mirror")

		syncOptions.Reverse = true

		return localRepo.Push(c.ctx, syncOptions, in, out)
	}

	if !options.RegenerateOnly {
		rel, err := localRepo.Populate(c.topPath(rpm.NewBuildsDir), options.RPMOutput, options.RPMBuildroot)
		if err != nil {
			return err
		}

		c.logger.WithFields(logrus.Fields{"virtio": rel.VirtioRelease, "qemu-ga": rel.QemuGaRelease}).Info("Local mirror populated")
	}

	err = localRepo.AddMiscData(c.topPath("data"))
	if err != nil {
		return err
	}

	err = localRepo.RunCreaterepo(c.ctx)
	if err != nil {
		return err
	}

	return localRepo.Push(c.ctx, syncOptions, in, out)
}
