package rpm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/virtio-win/virtio-win-pkg-scripts/archive"
	"github.com/virtio-win/virtio-win-pkg-scripts/driverdir"
	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
)

// NewBuildsDir is the fetch-builds output directory, relative to the top directory.
const NewBuildsDir = "new-builds"

var (
	qxlWddmZipRe       = regexp.MustCompile(`^spice-qxl-wddm-dod-\d+\.\d+.zip$`)
	qxlWddmCompatZipRe = regexp.MustCompile(`^spice-qxl-wddm-dod-.*8.1-compatible.zip$`)
)

var qemuGaRenames = map[string]string{
	"qemu-ga-x86_64.msi": "qemu-ga-x64.msi",
	"qemu-ga-i386.msi":   "qemu-ga-x86.msi",
}

// Options configure an RPM build.
type Options struct {
	// TopDir holds virtio-win.spec, data/ and new-builds/.
	TopDir string
	Email  string
	Editor string
	// Interactive asks for a changelog review before building.
	Interactive bool
	In          io.Reader
	Out         io.Writer
}

// Result points at the build directories.
type Result struct {
	TempDir      string
	RPMSrcDir    string
	RPMBuildDir  string
	RPMOutputDir string
	Spec         *Spec
}

// Builder turns new-builds/ into virtio-win RPMs.
type Builder struct {
	options Options
	logger  *logrus.Logger

	now        time.Time
	tempDir    string
	runCommand func(ctx context.Context, dir string, stdin io.Reader, name string, args ...string) error
}

// NewBuilder returns a new Builder.
func NewBuilder(options Options, logger *logrus.Logger) *Builder {
	if options.In == nil {
		options.In = os.Stdin
	}

	if options.Out == nil {
		options.Out = os.Stdout
	}

	return &Builder{
		options: options,
		logger:  logger,
		now:     time.Now(),
		runCommand: func(ctx context.Context, dir string, stdin io.Reader, name string, args ...string) error {
			return shared.RunCommandDir(ctx, dir, stdin, nil, name, args...)
		},
	}
}

func (b *Builder) newBuildsDir() string {
	return filepath.Join(b.options.TopDir, NewBuildsDir)
}

// subDir creates a new directory inside the tmp-<date> directory of this build.
func (b *Builder) subDir(name string) (string, error) {
	if b.tempDir == "" {
		b.tempDir = filepath.Join(b.options.TopDir, "tmp-"+b.now.Format("2006-01-02_15_04_05"))

		err := os.Mkdir(b.tempDir, 0755)
		if err != nil {
			return "", fmt.Errorf("Failed to create directory %q: %w", b.tempDir, err)
		}

		b.logger.WithField("dir", b.tempDir).Info("Using tmpdir")
	}

	dir := filepath.Join(b.tempDir, name)

	err := os.Mkdir(dir, 0755)
	if err != nil {
		return "", fmt.Errorf("Failed to create directory %q: %w", dir, err)
	}

	return dir, nil
}

// Build runs the whole chain up to rpmbuild.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	builds, err := shared.LoadBuildVersions(b.newBuildsDir())
	if err != nil {
		return nil, err
	}

	versions, err := builds.Versions()
	if err != nil {
		return nil, err
	}

	result := Result{}

	result.RPMSrcDir, err = b.subDir("rpmbuild-src")
	if err != nil {
		return nil, err
	}

	result.TempDir = b.tempDir

	err = b.prepRPMSrcDir(versions, result.RPMSrcDir)
	if err != nil {
		return nil, err
	}

	driverInputDir, err := b.subDir("make-driver-dir-input")
	if err != nil {
		return nil, err
	}

	err = b.prepDriverDirInput(driverInputDir)
	if err != nil {
		return nil, err
	}

	driverOutputDir, err := b.subDir("make-driver-dir-output")
	if err != nil {
		return nil, err
	}

	err = driverdir.NewBuilder(driverInputDir, driverOutputDir, b.logger).Build()
	if err != nil {
		return nil, err
	}

	_, err = archive.NewBuilder(archive.Options{
		NVR:       versions.VirtioRPM,
		DriverDir: driverOutputDir,
		DataDir:   filepath.Join(b.options.TopDir, "data"),
		OutputDir: result.RPMSrcDir,
	}, b.logger).Build(ctx)
	if err != nil {
		return nil, err
	}

	result.Spec, err = LoadSpec(b.options.TopDir, versions, b.options.Email, b.now)
	if err != nil {
		return nil, err
	}

	if b.options.Interactive {
		err = b.reviewChangelog(ctx, versions, result.Spec)
		if err != nil {
			return nil, err
		}
	}

	err = result.Spec.WriteChanges(result.RPMSrcDir)
	if err != nil {
		return nil, err
	}

	result.RPMBuildDir, err = b.subDir("rpmbuild-buildroot")
	if err != nil {
		return nil, err
	}

	result.RPMOutputDir, err = b.subDir("rpmbuild-output")
	if err != nil {
		return nil, err
	}

	err = b.rpmbuild(ctx, &result)
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// prepRPMSrcDir copies the sources into the rpmbuild source dir and repacks the qemu-ga installers
// the way the spec expects them.
func (b *Builder) prepRPMSrcDir(versions *shared.Versions, rpmSrcDir string) error {
	for _, pattern := range []string{"*-sources.zip", "*.rpm"} {
		files, err := filepath.Glob(filepath.Join(b.newBuildsDir(), pattern))
		if err != nil {
			return err
		}

		for _, f := range files {
			err = shared.CopyPreserve(f, filepath.Join(rpmSrcDir, filepath.Base(f)))
			if err != nil {
				return err
			}
		}
	}

	rpms, err := filepath.Glob(filepath.Join(b.newBuildsDir(), "qemu-ga-win*.noarch.rpm"))
	if err != nil {
		return err
	}

	if len(rpms) != 1 {
		return fmt.Errorf("Expected exactly one qemu-ga-win noarch RPM, found: %v", rpms)
	}

	extractDir, err := b.subDir("mingw-qemu-ga-rpm-extracted")
	if err != nil {
		return err
	}

	err = ExtractRPM(rpms[0], extractDir)
	if err != nil {
		return err
	}

	installers := map[string]string{}

	err = filepath.Walk(extractDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		newName, ok := qemuGaRenames[info.Name()]
		if ok && !info.IsDir() {
			installers[newName] = path
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("Failed to collect qemu-ga installers: %w", err)
	}

	if len(installers) != len(qemuGaRenames) {
		return fmt.Errorf("Expected %d qemu-ga installers in %q, found %d", len(qemuGaRenames), rpms[0], len(installers))
	}

	msiDir := filepath.Join(extractDir, versions.QemuGa)

	err = os.Mkdir(msiDir, 0755)
	if err != nil {
		return fmt.Errorf("Failed to create directory %q: %w", msiDir, err)
	}

	for newName, path := range installers {
		err = shared.CopyPreserve(path, filepath.Join(msiDir, newName))
		if err != nil {
			return err
		}
	}

	return shared.ZipDir(msiDir, filepath.Join(rpmSrcDir, versions.QemuGa+"-installers.zip"))
}

// prepDriverDirInput extracts the driver builds into the layout make-driver-dir expects.
func (b *Builder) prepDriverDirInput(inputDir string) error {
	zips, err := filepath.Glob(filepath.Join(b.newBuildsDir(), "*.zip"))
	if err != nil {
		return err
	}

	for _, zipFile := range zips {
		base := filepath.Base(zipFile)
		if strings.HasSuffix(base, "-sources.zip") {
			continue
		}

		isQxl := qxlWddmZipRe.MatchString(base)
		isQxlCompat := qxlWddmCompatZipRe.MatchString(base)

		if !isQxl && !isQxlCompat {
			err = shared.Unzip(zipFile, inputDir)
			if err != nil {
				return err
			}

			continue
		}

		// qxl-wddm-dod archives hold a single top directory, renamed to Win10 or Win8
		unzipDest := filepath.Join(inputDir, base)

		err = shared.Unzip(zipFile, unzipDest)
		if err != nil {
			return err
		}

		entries, err := os.ReadDir(unzipDest)
		if err != nil {
			return err
		}

		if len(entries) != 1 || !entries[0].IsDir() {
			var names []string
			for _, e := range entries {
				names = append(names, e.Name())
			}

			return fmt.Errorf("Expected only a single dir in %q, but found: %v", unzipDest, names)
		}

		destVer := "Win8"
		if isQxl {
			destVer = "Win10"
		}

		err = shared.CopyTree(filepath.Join(unzipDest, entries[0].Name()), filepath.Join(inputDir, destVer))
		if err != nil {
			return err
		}

		err = os.RemoveAll(unzipDest)
		if err != nil {
			return err
		}
	}

	for _, dir := range []string{"xp-viostor", "xp-qxl"} {
		err = shared.CopyTree(filepath.Join(b.options.TopDir, "data", "old-drivers", dir), inputDir)
		if err != nil {
			return fmt.Errorf("Failed to copy old drivers: %w", err)
		}
	}

	return nil
}

func (b *Builder) rpmbuild(ctx context.Context, result *Result) error {
	defines := [][2]string{
		{"_topdir", result.RPMSrcDir},
		{"_sourcedir", result.RPMSrcDir},
		{"_specdir", result.RPMSrcDir},
		{"_builddir", result.RPMBuildDir},
		{"_buildrootdir", result.RPMBuildDir},
		{"_rpmdir", result.RPMOutputDir},
		{"_srcrpmdir", result.RPMOutputDir},
	}

	args := []string{"-ba", "--noclean"}
	for _, d := range defines {
		args = append(args, "--define", d[0]+" "+d[1])
	}

	args = append(args, SpecFile)

	return b.runCommand(ctx, result.RPMSrcDir, nil, "rpmbuild", args...)
}

// reviewChangelog opens the component changelogs and the new RPM changelog in the editor until the
// resulting spec diff is accepted.
func (b *Builder) reviewChangelog(ctx context.Context, versions *shared.Versions, spec *Spec) error {
	notes := []struct {
		prefix string
		zip    string
		name   string
	}{
		{"virtio-clog", versions.VirtioPrewhql + "-sources.zip", "internal-kvm-guest-drivers-windows/status.txt"},
		{"qxldod-clog", versions.QxlWddm + "-sources.zip", "spice-qxl-wddm-dod/Changelog"},
	}

	var files []string

	for _, n := range notes {
		// Missing notes are shown as empty files
		content, err := shared.ReadZipFile(filepath.Join(b.newBuildsDir(), n.zip), n.name)
		if err != nil {
			b.logger.WithField("file", n.name).WithError(err).Debug("Failed to read notes")
		}

		path, err := writeTempFile(n.prefix, content)
		if err != nil {
			return err
		}

		defer os.Remove(path)

		files = append(files, path)
	}

	in := shared.BufferedReader(b.options.In)

	for {
		clogPath, err := writeTempFile("rpm_changelog", []byte(spec.Changelog))
		if err != nil {
			return err
		}

		err = b.runEditor(ctx, append(files, clogPath))
		if err == nil {
			var content []byte

			content, err = os.ReadFile(clogPath)
			if err == nil {
				spec.Changelog = string(content)
			}
		}

		_ = os.Remove(clogPath)

		if err != nil {
			return err
		}

		diff, err := spec.Diff()
		if err != nil {
			return err
		}

		fmt.Fprintf(b.options.Out, "\033[H\033[2J%s\n", diff)

		ok, err := shared.PromptYesNo(in, b.options.Out, "Use this spec diff? (y/n, 'n' to edit changelog): ")
		if errors.Is(err, io.EOF) {
			return shared.ErrAborted
		}

		if err != nil {
			return err
		}

		if ok {
			return nil
		}
	}
}

func (b *Builder) runEditor(ctx context.Context, files []string) error {
	args := strings.Fields(b.options.Editor)
	if len(args) == 0 {
		return errors.New("No editor configured")
	}

	// Open one tab per file
	switch filepath.Base(args[0]) {
	case "vim", "nvim", "vi", "gvim":
		args = append(args, "-p")
	}

	args = append(args, files...)

	return b.runCommand(ctx, "", os.Stdin, args[0], args[1:]...)
}

func writeTempFile(prefix string, content []byte) (string, error) {
	f, err := os.CreateTemp("", prefix)
	if err != nil {
		return "", fmt.Errorf("Failed to create temporary file: %w", err)
	}

	defer f.Close()

	_, err = f.Write(content)
	if err != nil {
		return "", fmt.Errorf("Failed to write %q: %w", f.Name(), err)
	}

	return f.Name(), f.Close()
}
