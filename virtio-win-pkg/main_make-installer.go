package main

import (
	"github.com/spf13/cobra"

	"github.com/virtio-win/virtio-win-pkg-scripts/installer"
)

type cmdMakeInstaller struct {
	global *cmdGlobal

	flagOutputDir string
}

func (c *cmdMakeInstaller) command() *cobra.Command {
	cmd := &cobra.Command{
		Use: "make-installer <nvr> <driver-dir> <vdagent-x64-msi> <vdagent-x86-msi> <qxlwddm-x64-msi> <qxlwddm-x86-msi>" +
			" <qemu-ga-x64-msi> <qemu-ga-x86-msi> <winfsp-msi|->",
		Short: "Build the guest tools installers",
		Long: `Build the guest tools installers

Runs the build of the virtio-win-guest-tools-installer submodule. Pass
"-" as the WinFSP MSI to download the latest release from GitHub.
`,
		Args: cobra.ExactArgs(9),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputDir := c.flagOutputDir
			if outputDir == "" {
				outputDir = c.global.topPath("installer_output")
			}

			return installer.NewBuilder(installer.Options{
				NVR:       args[0],
				DriverDir: args[1],
				MSIs: installer.MSIs{
					VdagentX64: args[2],
					VdagentX86: args[3],
					QxlWddmX64: args[4],
					QxlWddmX86: args[5],
					QemuGaX64:  args[6],
					QemuGaX86:  args[7],
					WinFSP:     args[8],
				},
				OutputDir:    outputDir,
				TopDir:       c.global.flagTopDir,
				InstallerDir: c.global.config.InstallerDir,
				WinFSPRepo:   c.global.config.WinFSPRepo,
			}, c.global.logger).Build(c.global.ctx)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&c.flagOutputDir, "output-dir", "", "Output directory (default <top-dir>/installer_output)"+"``")

	return cmd
}
