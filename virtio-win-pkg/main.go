package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
)

// errNewBuilds makes the process exit with status 1 without printing an error.
var errNewBuilds = errors.New("New builds were downloaded")

type cmdGlobal struct {
	flagConfig  string
	flagDebug   bool
	flagOptions []string
	flagTimeout uint
	flagTopDir  string

	config    *shared.Config
	interrupt chan os.Signal
	logger    *logrus.Logger
	ctx       context.Context
	cancel    context.CancelFunc
}

func main() {
	// Global flags
	globalCmd := cmdGlobal{}

	app := &cobra.Command{
		Use:   "virtio-win-pkg",
		Short: "Release tooling for the virtio-win driver packages",
		Long: `Release tooling for the virtio-win driver packages

The usual flow is:
  - fetch-builds     download the newest builds into new-builds/
  - make-rpm         build the RPMs and publish them with make-repo
`,
		PersistentPreRunE: globalCmd.preRun,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		SilenceErrors:     true,
	}

	app.PersistentFlags().StringVar(&globalCmd.flagConfig, "config", "",
		"Path to the config file (default ~/.config/virtio-win-pkg-scripts/config.yaml)"+"``")
	app.PersistentFlags().StringVar(&globalCmd.flagTopDir, "top-dir", "",
		"Checkout holding virtio-win.spec, data/ and new-builds/ (default current directory)"+"``")
	app.PersistentFlags().StringSliceVarP(&globalCmd.flagOptions, "options", "o",
		[]string{}, "Override options (list of key=value)"+"``")
	app.PersistentFlags().UintVarP(&globalCmd.flagTimeout, "timeout", "t", 0,
		"Timeout in seconds"+"``")
	app.PersistentFlags().BoolVar(&globalCmd.flagDebug, "debug", false, "Enable debug output")

	// fetch-builds sub-command
	fetchBuildsCmd := cmdFetchBuilds{global: &globalCmd}
	app.AddCommand(fetchBuildsCmd.command())

	// make-driver-dir sub-command
	driverDirCmd := cmdMakeDriverDir{global: &globalCmd}
	app.AddCommand(driverDirCmd.command())

	// make-archive sub-command
	archiveCmd := cmdMakeArchive{global: &globalCmd}
	app.AddCommand(archiveCmd.command())

	// make-rpm sub-command
	rpmCmd := cmdMakeRPM{global: &globalCmd}
	app.AddCommand(rpmCmd.command())

	// make-repo sub-command
	repoCmd := cmdMakeRepo{global: &globalCmd}
	app.AddCommand(repoCmd.command())

	// make-installer sub-command
	installerCmd := cmdMakeInstaller{global: &globalCmd}
	app.AddCommand(installerCmd.command())

	compareCmd := cmdCompare{global: &globalCmd}
	app.AddCommand(compareCmd.command())

	cpdriversCmd := cmdCpdrivers{global: &globalCmd}
	app.AddCommand(cpdriversCmd.command())

	parsecatCmd := cmdParsecat{global: &globalCmd}
	app.AddCommand(parsecatCmd.command())

	globalCmd.interrupt = make(chan os.Signal, 1)
	signal.Notify(globalCmd.interrupt, os.Interrupt)

	// Run the main command and handle errors
	err := app.Execute()
	if globalCmd.cancel != nil {
		globalCmd.cancel()
	}

	if err != nil {
		if !errors.Is(err, errNewBuilds) {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}

		os.Exit(1)
	}
}

func (c *cmdGlobal) preRun(cmd *cobra.Command, args []string) error {
	var err error

	c.logger, err = shared.GetLogger(c.flagDebug)
	if err != nil {
		return fmt.Errorf("Failed to get logger: %w", err)
	}

	c.config, err = shared.LoadConfig(c.flagConfig, c.flagOptions)
	if err != nil {
		return fmt.Errorf("Failed to load config: %w", err)
	}

	if c.flagTopDir == "" {
		c.flagTopDir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("Failed to get working directory: %w", err)
		}
	}

	c.flagTopDir, err = filepath.Abs(c.flagTopDir)
	if err != nil {
		return fmt.Errorf("Failed to get absolute path of %q: %w", c.flagTopDir, err)
	}

	if c.flagTimeout == 0 {
		c.ctx, c.cancel = context.WithCancel(context.Background())
	} else {
		c.ctx, c.cancel = context.WithTimeout(context.Background(), time.Duration(c.flagTimeout)*time.Second)
	}

	go func() {
		for {
			select {
			case <-c.interrupt:
				c.cancel()
				c.logger.Info("Interrupted")
				return
			case <-c.ctx.Done():
				if c.flagTimeout > 0 {
					c.logger.Info("Timed out")
				}

				return
			}
		}
	}()

	return nil
}

// topPath returns path below the top directory.
func (c *cmdGlobal) topPath(elem ...string) string {
	return filepath.Join(append([]string{c.flagTopDir}, elem...)...)
}
