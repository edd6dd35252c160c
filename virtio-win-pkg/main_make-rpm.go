package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/virtio-win/virtio-win-pkg-scripts/rpm"
	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
)

type cmdMakeRPM struct {
	global *cmdGlobal

	flagRPMOnly bool
	flagYes     bool
}

func (c *cmdMakeRPM) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "make-rpm",
		Short: "Build the virtio-win RPMs from new-builds/",
		Long: `Build the virtio-win RPMs from new-builds/

The spec file and changelog are updated for the new builds, the
changelog is reviewed in an editor and rpmbuild is run. Unless
--rpm-only is given the result is published with make-repo.
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			config := c.global.config

			err := config.ValidateRPM()
			if err != nil {
				return err
			}

			if !c.flagRPMOnly {
				err = config.ValidateRepo()
				if err != nil {
					return err
				}
			}

			// The changelog review and the push prompt share stdin
			in := shared.BufferedReader(cmd.InOrStdin())

			result, err := rpm.NewBuilder(rpm.Options{
				TopDir:      c.global.flagTopDir,
				Email:       config.Email,
				Editor:      config.Editor,
				Interactive: !c.flagYes && shared.IsTerminal(),
				In:          in,
				Out:         cmd.OutOrStdout(),
			}, c.global.logger).Build(c.global.ctx)
			if err != nil {
				return err
			}

			c.global.logger.WithFields(logrus.Fields{"output": result.RPMOutputDir, "buildroot": result.RPMBuildDir}).Info("RPMs built")

			if c.flagRPMOnly {
				return nil
			}

			return c.global.publish(publishOptions{
				RPMOutput:    result.RPMOutputDir,
				RPMBuildroot: result.RPMBuildDir,
			}, in, cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	cmd.Flags().BoolVar(&c.flagRPMOnly, "rpm-only", false, "Only build the RPMs, don't publish them")
	cmd.Flags().BoolVarP(&c.flagYes, "yes", "y", false, "Skip the interactive changelog review")

	return cmd
}
