// Package cpdrivers copies or links driver trees into an <arch>/<os> layout chosen by their catalogs.
package cpdrivers

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	incus "github.com/lxc/incus/v6/shared/util"
	"github.com/sirupsen/logrus"

	"github.com/virtio-win/virtio-win-pkg-scripts/catalog"
	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
	"github.com/virtio-win/virtio-win-pkg-scripts/windows"
)

// Mode selects how drivers end up in the destination.
type Mode string

const (
	// ModeCopy copies every file.
	ModeCopy Mode = "copy"
	// ModeLink hardlinks every file.
	ModeLink Mode = "link"
	// ModeSymlink symlinks every file.
	ModeSymlink Mode = "symlink"
	// ModeLinkDirs symlinks the whole driver directory.
	ModeLinkDirs Mode = "link-dirs"
)

// Modes lists the supported modes.
var Modes = []Mode{ModeCopy, ModeLink, ModeSymlink, ModeLinkDirs}

// ErrUnknownMode is returned for modes not in Modes.
var ErrUnknownMode = errors.New("Unknown mode")

// Options configure a driver layout run.
type Options struct {
	SrcRoot string
	DstRoot string
	Mode    Mode
	// DryRun only prints the equivalent shell commands.
	DryRun bool
	Out    io.Writer
}

// Copier lays out driver trees as <arch>/<os>/<driver>/, as decided by each driver's catalog.
type Copier struct {
	options Options
	logger  *logrus.Logger
}

// NewCopier returns a new Copier.
func NewCopier(options Options, logger *logrus.Logger) (*Copier, error) {
	if !slices.Contains(Modes, options.Mode) {
		return nil, fmt.Errorf("%w %q", ErrUnknownMode, options.Mode)
	}

	if options.Out == nil {
		options.Out = os.Stdout
	}

	return &Copier{options: options, logger: logger}, nil
}

// Run processes every .inf below the source root.
func (c *Copier) Run() error {
	var infs []string

	err := filepath.Walk(c.options.SrcRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if !info.IsDir() && strings.EqualFold(filepath.Ext(path), ".inf") {
			infs = append(infs, path)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("Failed to walk %q: %w", c.options.SrcRoot, err)
	}

	for _, inf := range infs {
		name := filepath.Base(inf)

		err = c.copyDriver(filepath.Dir(inf), strings.TrimSuffix(name, filepath.Ext(name)))
		if err != nil {
			return err
		}
	}

	return nil
}

// casedName finds name inside dir, ignoring case.
func casedName(dir string, name string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", fmt.Errorf("Failed to read directory %q: %w", dir, err)
	}

	var found []string

	for _, e := range entries {
		if strings.EqualFold(e.Name(), name) {
			found = append(found, e.Name())
		}
	}

	if len(found) != 1 {
		return "", fmt.Errorf("Expected exactly one %q in %q, found: %v", name, dir, found)
	}

	return found[0], nil
}

// processCatalog validates the driver catalog against the files next to it and returns the
// destination subdirs and the catalog's newest timestamp.
func (c *Copier) processCatalog(dir string, catName string) ([]string, time.Time, error) {
	catName, err := casedName(dir, catName)
	if err != nil {
		return nil, time.Time{}, err
	}

	cat, err := catalog.ParseFile(filepath.Join(dir, catName))
	if err != nil {
		return nil, time.Time{}, err
	}

	kernels := []string{}
	subdirs := []string{}

	for _, sig := range cat.OSes() {
		flavor, err := windows.LookupCatalogOS(sig)
		if err != nil {
			return nil, time.Time{}, err
		}

		if !slices.Contains(kernels, flavor.KernelAttr()) {
			kernels = append(kernels, flavor.KernelAttr())
		}

		if !slices.Contains(subdirs, flavor.ArchDir()) {
			subdirs = append(subdirs, flavor.ArchDir())
		}
	}

	for _, m := range cat.Members {
		name, err := casedName(dir, m.File())
		if err != nil {
			return nil, time.Time{}, err
		}

		osAttr := m.OSAttr()

		for _, k := range kernels {
			if !slices.Contains(osAttr, k) {
				return nil, time.Time{}, fmt.Errorf("%q in %q isn't valid for %s, only for %v", name, catName, k, osAttr)
			}
		}

		if m.Signature == nil {
			continue
		}

		err = m.Signature.VerifyFile(filepath.Join(dir, name))
		if err != nil {
			return nil, time.Time{}, err
		}
	}

	sort.Strings(subdirs)

	return subdirs, cat.MaxTimestamp(), nil
}

func (c *Copier) isCatalogNewer(path string, ts time.Time) (bool, error) {
	if !incus.PathExists(path) {
		return false, nil
	}

	cat, err := catalog.ParseFile(path)
	if err != nil {
		return false, err
	}

	return cat.MaxTimestamp().After(ts), nil
}

func (c *Copier) copyDriver(dir string, pkgName string) error {
	fmt.Fprintf(c.options.Out, "# processing %s\n", dir)

	subdirs, ts, err := c.processCatalog(dir, pkgName+".cat")
	if err != nil {
		return err
	}

	for _, subdir := range subdirs {
		dstDir := filepath.Join(c.options.DstRoot, filepath.FromSlash(subdir))

		err = c.mkdir(dstDir)
		if err != nil {
			return err
		}

		pkgDir := filepath.Join(dstDir, pkgName)

		newer, err := c.isCatalogNewer(filepath.Join(pkgDir, pkgName+".cat"), ts)
		if err != nil {
			return err
		}

		if newer {
			fmt.Fprintf(c.options.Out, "# %s is newer than %s: skipping\n", pkgDir, dir)
			continue
		}

		if c.options.Mode == ModeLinkDirs {
			err = c.symlink(dir, pkgDir)
		} else {
			err = c.copyRecursive(dir, pkgDir)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

func (c *Copier) copyRecursive(src string, dst string) error {
	err := c.mkdir(dst)
	if err != nil {
		return err
	}

	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("Failed to read directory %q: %w", src, err)
	}

	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())

		info, err := os.Stat(srcPath)
		if err != nil {
			return fmt.Errorf("Failed to stat %q: %w", srcPath, err)
		}

		switch {
		case info.IsDir():
			err = c.copyRecursive(srcPath, dstPath)
		case c.options.Mode == ModeLink:
			err = c.link(srcPath, dstPath)
		case c.options.Mode == ModeSymlink:
			err = c.symlink(srcPath, dstPath)
		default:
			err = c.copy(srcPath, dstPath)
		}

		if err != nil {
			return err
		}
	}

	return nil
}

func (c *Copier) mkdir(dir string) error {
	fmt.Fprintf(c.options.Out, "mkdir -p \"%s\"\n", dir)

	if c.options.DryRun {
		return nil
	}

	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return fmt.Errorf("Failed to create directory %q: %w", dir, err)
	}

	return nil
}

func removeExisting(path string) error {
	_, err := os.Lstat(path)
	if err != nil {
		return nil
	}

	err = os.Remove(path)
	if err != nil {
		return fmt.Errorf("Failed to remove %q: %w", path, err)
	}

	return nil
}

func (c *Copier) copy(src string, dst string) error {
	fmt.Fprintf(c.options.Out, "cp -f \"%s\" \"%s\"\n", src, dst)

	if c.options.DryRun {
		return nil
	}

	err := removeExisting(dst)
	if err != nil {
		return err
	}

	return shared.Copy(src, dst)
}

func (c *Copier) link(src string, dst string) error {
	fmt.Fprintf(c.options.Out, "ln -f \"%s\" \"%s\"\n", src, dst)

	if c.options.DryRun {
		return nil
	}

	err := removeExisting(dst)
	if err != nil {
		return err
	}

	err = os.Link(src, dst)
	if err != nil {
		return fmt.Errorf("Failed to link %q: %w", dst, err)
	}

	return nil
}

// symlink links dst to src. Relative sources are made relative to the directory of dst.
func (c *Copier) symlink(src string, dst string) error {
	if !filepath.IsAbs(src) {
		rel, err := filepath.Rel(filepath.Dir(dst), src)
		if err != nil {
			return fmt.Errorf("Failed to get relative path of %q: %w", src, err)
		}

		src = rel
	}

	fmt.Fprintf(c.options.Out, "ln -sf \"%s\" \"%s\"\n", src, dst)

	if c.options.DryRun {
		return nil
	}

	err := removeExisting(dst)
	if err != nil {
		return err
	}

	err = os.Symlink(src, dst)
	if err != nil {
		return fmt.Errorf("Failed to create link %q: %w", dst, err)
	}

	return nil
}
