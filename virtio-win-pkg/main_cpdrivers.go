package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/virtio-win/virtio-win-pkg-scripts/cpdrivers"
)

type cmdCpdrivers struct {
	global *cmdGlobal

	flagMode   string
	flagDryRun bool
}

func (c *cmdCpdrivers) command() *cobra.Command {
	modes := make([]string, 0, len(cpdrivers.Modes))
	for _, m := range cpdrivers.Modes {
		modes = append(modes, string(m))
	}

	cmd := &cobra.Command{
		Use:   "cpdrivers <src-root> <dst-root>",
		Short: "Lay out driver trees as <arch>/<os> by catalog signature",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			copier, err := cpdrivers.NewCopier(cpdrivers.Options{
				SrcRoot: args[0],
				DstRoot: args[1],
				Mode:    cpdrivers.Mode(c.flagMode),
				DryRun:  c.flagDryRun,
				Out:     cmd.OutOrStdout(),
			}, c.global.logger)
			if err != nil {
				return err
			}

			return copier.Run()
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVarP(&c.flagMode, "mode", "m", string(cpdrivers.ModeCopy),
		fmt.Sprintf("How to place the files (%s)", strings.Join(modes, ", "))+"``")
	cmd.Flags().BoolVarP(&c.flagDryRun, "dry-run", "n", false, "Only print the equivalent shell commands")

	return cmd
}
