package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/virtio-win/virtio-win-pkg-scripts/catalog"
)

type cmdParsecat struct {
	global *cmdGlobal
}

func (c *cmdParsecat) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parsecat <catalog>",
		Short: "Print the parsed content of a driver catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cat, err := catalog.ParseFile(args[0])
			if err != nil {
				return err
			}

			out, err := yaml.Marshal(cat)
			if err != nil {
				return fmt.Errorf("Failed to marshal catalog: %w", err)
			}

			_, err = cmd.OutOrStdout().Write(out)

			return err
		},
		SilenceUsage: true,
	}

	return cmd
}
