package main

import (
	"github.com/spf13/cobra"

	"github.com/virtio-win/virtio-win-pkg-scripts/compare"
)

type cmdCompare struct {
	global *cmdGlobal

	flagTreeOnly bool
}

func (c *cmdCompare) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare <orig> <new>",
		Short: "Compare two release outputs",
		Long: `Compare two release outputs

Each side may be a directory, a .zip, a .tar.gz or an .rpm. ISO and VFD
media found inside are extracted with guestfish before comparing.
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return compare.NewExtractor(c.global.logger).Compare(c.global.ctx, args[0], args[1], c.flagTreeOnly, cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	cmd.Flags().BoolVar(&c.flagTreeOnly, "treeonly", false, "Only compare the file listings")

	return cmd
}
