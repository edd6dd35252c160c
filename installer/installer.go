package installer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/go-github/v56/github"
	incus "github.com/lxc/incus/v6/shared/util"
	"github.com/sirupsen/logrus"

	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
)

// LatestWinFSP is the WinFSP MSI argument asking for the newest upstream release.
const LatestWinFSP = "-"

var winFSPAssetRe = regexp.MustCompile(`^winfsp-.*\.msi$`)

// MSIs are the installers bundled into the guest tools.
type MSIs struct {
	VdagentX64 string
	VdagentX86 string
	QxlWddmX64 string
	QxlWddmX86 string
	QemuGaX64  string
	QemuGaX86  string
	// WinFSP may be LatestWinFSP.
	WinFSP string
}

func (m *MSIs) list() []string {
	return []string{m.VdagentX64, m.VdagentX86, m.QxlWddmX64, m.QxlWddmX86, m.QemuGaX64, m.QemuGaX86, m.WinFSP}
}

// Options configure an installer build.
type Options struct {
	// NVR is the driver version, e.g. 0.1.173.
	NVR       string
	DriverDir string
	MSIs      MSIs
	OutputDir string
	// TopDir is the checkout holding the installer submodule.
	TopDir       string
	InstallerDir string
	// WinFSPRepo is the GitHub owner/repo WinFSP releases come from.
	WinFSPRepo string
	Client     *http.Client
}

// Builder drives the guest tools installer build.
type Builder struct {
	options Options
	logger  *logrus.Logger

	github     *github.Client
	runCommand func(ctx context.Context, dir string, name string, args ...string) error
}

// NewBuilder returns a new Builder.
func NewBuilder(options Options, logger *logrus.Logger) *Builder {
	if options.Client == nil {
		options.Client = http.DefaultClient
	}

	return &Builder{
		options: options,
		logger:  logger,
		github:  github.NewClient(options.Client),
		runCommand: func(ctx context.Context, dir string, name string, args ...string) error {
			return shared.RunCommandDir(ctx, dir, nil, nil, name, args...)
		},
	}
}

// DownloadLatestWinFSP downloads the MSI of the newest WinFSP release into destDir.
func (b *Builder) DownloadLatestWinFSP(ctx context.Context, destDir string) (string, error) {
	owner, repo, ok := strings.Cut(b.options.WinFSPRepo, "/")
	if !ok {
		return "", fmt.Errorf("Invalid GitHub repository %q", b.options.WinFSPRepo)
	}

	release, _, err := b.github.Repositories.GetLatestRelease(ctx, owner, repo)
	if err != nil {
		return "", fmt.Errorf("Failed to get latest release, %w", err)
	}

	msiURL := ""

	for _, a := range release.Assets {
		if winFSPAssetRe.MatchString(a.GetName()) {
			msiURL = a.GetBrowserDownloadURL()
			break
		}
	}

	if msiURL == "" {
		return "", fmt.Errorf("No WinFSP MSI found in release %q", release.GetTagName())
	}

	b.logger.WithFields(logrus.Fields{"release": release.GetTagName(), "url": msiURL}).Info("Downloading WinFSP")

	return shared.Download(ctx, b.options.Client, msiURL, destDir, nil)
}

// Build runs the installer build and moves its artifacts into the output directory.
func (b *Builder) Build(ctx context.Context) error {
	if b.options.NVR == "" {
		return errors.New("No NVR given")
	}

	err := shared.PrepareOutputDir(b.options.OutputDir)
	if err != nil {
		return err
	}

	if b.options.MSIs.WinFSP == LatestWinFSP {
		downloadDir, err := os.MkdirTemp("", "winfsp-")
		if err != nil {
			return fmt.Errorf("Failed to create temporary directory: %w", err)
		}

		defer os.RemoveAll(downloadDir)

		b.options.MSIs.WinFSP, err = b.DownloadLatestWinFSP(ctx, downloadDir)
		if err != nil {
			return err
		}
	}

	args := []string{b.options.DriverDir}
	args = append(args, b.options.MSIs.list()...)

	for i, arg := range args {
		if !incus.PathExists(arg) {
			return fmt.Errorf("%q doesn't exist", arg)
		}

		args[i], err = filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("Failed to get absolute path of %q: %w", arg, err)
		}
	}

	args = append(args, b.options.NVR)

	for _, sub := range []string{"init", "update"} {
		err = b.runCommand(ctx, b.options.TopDir, "git", "submodule", sub)
		if err != nil {
			return err
		}
	}

	installerDir := filepath.Join(b.options.TopDir, b.options.InstallerDir)

	err = b.runCommand(ctx, installerDir, "git", "clean", "-xdf")
	if err != nil {
		return err
	}

	b.logger.WithField("nvr", b.options.NVR).Info("Building installers")

	err = b.runCommand(ctx, installerDir, "./automation/build-artifacts.sh", args...)
	if err != nil {
		return err
	}

	artifactsDir := filepath.Join(installerDir, "exported-artifacts")

	entries, err := os.ReadDir(artifactsDir)
	if err != nil {
		return fmt.Errorf("Failed to read directory %q: %w", artifactsDir, err)
	}

	for _, e := range entries {
		src := filepath.Join(artifactsDir, e.Name())

		err = os.Rename(src, filepath.Join(b.options.OutputDir, e.Name()))
		if err != nil {
			return fmt.Errorf("Failed to move %q: %w", src, err)
		}
	}

	return nil
}
