package main

import (
	"github.com/spf13/cobra"

	"github.com/virtio-win/virtio-win-pkg-scripts/driverdir"
)

type cmdMakeDriverDir struct {
	global *cmdGlobal
}

func (c *cmdMakeDriverDir) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "make-driver-dir <input-dir> <output-dir>",
		Short: "Lay out raw driver builds as <driver>/<os>/<arch>",
		Long: `Lay out raw driver builds as <driver>/<os>/<arch>

The destination of each driver is taken from the OS attributes of its
signed catalog. The output directory must be empty or missing.
`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return driverdir.NewBuilder(args[0], args[1], c.global.logger).Build()
		},
		SilenceUsage: true,
	}

	return cmd
}
