// Package archive packs a driver directory into the tarball consumed by the virtio-win RPM.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	incus "github.com/lxc/incus/v6/shared/util"
	"github.com/sirupsen/logrus"

	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
	"github.com/virtio-win/virtio-win-pkg-scripts/windows"
)

// Options describe one archive build.
type Options struct {
	// NVR is the base name of the output, e.g. virtio-win-0.1.100.
	NVR string
	// DriverDir is the output of make-driver-dir.
	DriverDir string
	// DataDir holds the osinfo virtio-win*.xml files.
	DataDir string
	// OutputDir receives the tarball and the optional ISO.
	OutputDir string
	// ISO also produces <nvr>.iso of the ISO content.
	ISO bool
}

// Result lists the produced files.
type Result struct {
	Tarball string
	ISO     string
}

// Builder builds the archive.
type Builder struct {
	options Options
	logger  *logrus.Logger

	rootDir  string
	finalDir string
	isoDir   string
}

type driverFile struct {
	Driver string
	OS     string
	Arch   string
	Path   string
}

// NewBuilder returns a new Builder.
func NewBuilder(options Options, logger *logrus.Logger) *Builder {
	return &Builder{options: options, logger: logger}
}

// Build runs all archive steps in a temporary directory.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	if b.options.NVR == "" {
		return nil, errors.New("No NVR given")
	}

	if !incus.PathExists(b.options.DriverDir) {
		return nil, fmt.Errorf("Driver directory %q doesn't exist", b.options.DriverDir)
	}

	var err error

	b.rootDir, err = os.MkdirTemp("", "virtio-win-archive-")
	if err != nil {
		return nil, fmt.Errorf("Failed to create temporary directory: %w", err)
	}

	defer os.RemoveAll(b.rootDir)

	b.finalDir = filepath.Join(b.rootDir, b.options.NVR)
	b.isoDir = filepath.Join(b.finalDir, "iso-content")
	dataDir := filepath.Join(b.isoDir, "data")
	rpmDriversDir := filepath.Join(b.finalDir, "rpm-drivers")
	osinfoDir := filepath.Join(b.finalDir, "osinfo-xml")

	for _, dir := range []string{dataDir, rpmDriversDir, osinfoDir} {
		err = os.MkdirAll(dir, 0755)
		if err != nil {
			return nil, fmt.Errorf("Failed to create directory %q: %w", dir, err)
		}
	}

	err = b.copyOsinfo(osinfoDir)
	if err != nil {
		return nil, err
	}

	err = shared.CopyTree(b.options.DriverDir, b.isoDir)
	if err != nil {
		return nil, err
	}

	err = WriteManifest(b.isoDir, dataDir, b.logger)
	if err != nil {
		return nil, err
	}

	err = createAutoLinks(b.isoDir)
	if err != nil {
		return nil, err
	}

	err = makeRPMDriverDirs(b.options.DriverDir, rpmDriversDir)
	if err != nil {
		return nil, err
	}

	b.logger.Info("Hardlinking identical files")

	err = HardlinkIdentical(b.finalDir)
	if err != nil {
		return nil, err
	}

	outputDir := b.options.OutputDir
	if outputDir == "" {
		outputDir = "."
	}

	err = os.MkdirAll(outputDir, 0755)
	if err != nil {
		return nil, fmt.Errorf("Failed to create directory %q: %w", outputDir, err)
	}

	result := Result{
		Tarball: filepath.Join(outputDir, fmt.Sprintf("%s-bin-for-rpm.tar.gz", b.options.NVR)),
	}

	b.logger.WithField("file", result.Tarball).Info("Archiving the results")

	err = WriteTarball(b.rootDir, b.options.NVR, result.Tarball)
	if err != nil {
		return nil, err
	}

	if b.options.ISO {
		result.ISO = filepath.Join(outputDir, b.options.NVR+".iso")

		b.logger.WithField("file", result.ISO).Info("Building ISO")

		err = MakeISO(ctx, b.isoDir, b.options.NVR, result.ISO)
		if err != nil {
			return nil, err
		}
	}

	b.logger.WithField("file", result.Tarball).Info("Archive successfully built")

	return &result, nil
}

func (b *Builder) copyOsinfo(osinfoDir string) error {
	if b.options.DataDir == "" {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(b.options.DataDir, "virtio-win*.xml"))
	if err != nil {
		return err
	}

	for _, f := range files {
		err = shared.CopyPreserve(f, filepath.Join(osinfoDir, filepath.Base(f)))
		if err != nil {
			return err
		}
	}

	return nil
}

// findDriverFiles returns all files at <driver>/<os>/<arch>/<file> below topDir, sorted by path.
func findDriverFiles(topDir string) ([]driverFile, error) {
	var files []driverFile

	err := filepath.WalkDir(topDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(topDir, path)
		if err != nil {
			return err
		}

		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 4 {
			return nil
		}

		files = append(files, driverFile{Driver: parts[0], OS: parts[1], Arch: parts[2], Path: path})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to walk %q: %w", topDir, err)
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	return files, nil
}

// createAutoLinks hardlinks <driver>/<os>/<arch>/* into <autoarch>/<os>/ for the drivers Windows setup
// autodetects. Targets already holding the same content are kept.
func createAutoLinks(isoDir string) error {
	files, err := findDriverFiles(isoDir)
	if err != nil {
		return err
	}

	for _, f := range files {
		if slices.Contains(windows.AutoOSBlacklist, f.OS) || !slices.Contains(windows.AutoDrivers, f.Driver) {
			continue
		}

		autoArch, ok := windows.AutoArches[f.Arch]
		if !ok {
			continue
		}

		newPath := filepath.Join(isoDir, autoArch, f.OS, filepath.Base(f.Path))

		if incus.PathExists(newPath) {
			same, err := sameContent(f.Path, newPath)
			if err != nil {
				return err
			}

			if !same {
				return fmt.Errorf("Conflicting file %q already exists for %q", newPath, f.Path)
			}

			continue
		}

		err = os.MkdirAll(filepath.Dir(newPath), 0755)
		if err != nil {
			return fmt.Errorf("Failed to create directory %q: %w", filepath.Dir(newPath), err)
		}

		err = os.Link(f.Path, newPath)
		if err != nil {
			return fmt.Errorf("Failed to link %q: %w", newPath, err)
		}
	}

	return nil
}

// makeRPMDriverDirs builds the trees installed on the host by the RPM: by-driver matches the ISO
// layout, by-os the Windows autodetect layout.
func makeRPMDriverDirs(driverDir string, rpmDriversDir string) error {
	byDriver := filepath.Join(rpmDriversDir, "by-driver")
	byOS := filepath.Join(rpmDriversDir, "by-os")

	err := shared.CopyTree(driverDir, byDriver)
	if err != nil {
		return err
	}

	files, err := findDriverFiles(byDriver)
	if err != nil {
		return err
	}

	for _, f := range files {
		// Debug symbols take up a lot of space
		if strings.HasSuffix(f.Path, ".pdb") {
			continue
		}

		arch, ok := windows.AutoArches[f.Arch]
		if !ok {
			arch = f.Arch
		}

		destDir := filepath.Join(byOS, arch, f.OS)
		destPath := filepath.Join(destDir, filepath.Base(f.Path))

		if incus.PathExists(destPath) {
			continue
		}

		err = os.MkdirAll(destDir, 0755)
		if err != nil {
			return fmt.Errorf("Failed to create directory %q: %w", destDir, err)
		}

		err = os.Link(f.Path, destPath)
		if err != nil {
			return fmt.Errorf("Failed to link %q: %w", destPath, err)
		}
	}

	return nil
}

func sameContent(a string, b string) (bool, error) {
	contentA, err := os.ReadFile(a)
	if err != nil {
		return false, err
	}

	contentB, err := os.ReadFile(b)
	if err != nil {
		return false, err
	}

	return bytes.Equal(contentA, contentB), nil
}
