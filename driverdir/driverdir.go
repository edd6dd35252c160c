// Package driverdir lays out virtio-win build output the way the release archive expects it.
package driverdir

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/virtio-win/virtio-win-pkg-scripts/catalog"
	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
	"github.com/virtio-win/virtio-win-pkg-scripts/windows"
)

// LicenseFile is the name the build LICENSE is shipped as.
const LicenseFile = "virtio-win_license.txt"

// DefaultIgnorePatterns match build output that is deliberately not shipped.
// They are anchored at the start of the path relative to the input directory, which begins with "/".
var DefaultIgnorePatterns = []string{
	`.*DVL\.XML`,
	`.*vioser-test.*`,
	`.*DVL-compat\.XML`,

	// Used by the vfd build process.
	`.*/disk1`,
	`.*/txtsetup-i386.oem`,
	`.*/txtsetup-amd64.oem`,

	// qxlwddm changelogs
	`.*/spice-qxl-wddm-dod/w10/Changelog`,
	`.*/spice-qxl-wddm-dod-8.1-compatible/Changelog`,

	// RHEL only
	`/rhel/qemupciserial.cat`,
	`/rhel/qemupciserial.inf`,
}

// localFileMap lists the destination directories of drivers whose catalogs carry no usable OS signatures.
var localFileMap = map[string][]string{
	"qemupciserial": {
		"2k8/x86", "2k8/amd64", "w7/x86", "w7/amd64", "2k8R2/amd64",
		"w8/x86", "w8.1/x86", "w8/amd64", "w8.1/amd64", "2k12/amd64",
		"2k12R2/amd64", "w10/x86", "w10/amd64", "2k16/amd64", "2k19/amd64",
	},
	"qemufwcfg": {"w10/x86", "w10/amd64", "2k16/amd64", "2k19/amd64"},
	"smbus":     {"2k8/x86", "2k8/amd64"},
}

// dupePreferences picks a build directory when several catalogs map to the same destination.
var dupePreferences = []struct {
	destPart string
	srcPart  string
}{
	{"xp/", "/Wxp/"},
	{"2k3/", "/Wnet/"},
	{"7/", "/Win7/"},
	{"2k8", "/Win7/"},
}

var commonEquivalents = [][]string{
	{"2k8R2/amd64", "w7/amd64"},
	{"w8/x86", "w8.1/x86"},
	{"w10/amd64", "2k16/amd64", "2k19/amd64"},
}

var netkvmEquivalents = [][]string{
	{"w8/amd64", "2k12/amd64"},
	{"w8.1/amd64", "2k12R2/amd64"},
}

var defaultEquivalents = [][]string{
	{"w8/amd64", "w8.1/amd64", "2k12/amd64", "2k12R2/amd64"},
}

// Autodetect layout copied to <arch>/<os>.
var (
	autoDrivers = []string{"viostor", "vioscsi"}
	autoOSDirs  = []string{"2k8", "w7", "w8", "w10"}
	autoArches  = [][2]string{
		{"x86", "i386"},
		{"amd64", "amd64"},
		{"ARM64", "ARM64"},
	}
)

// Builder copies drivers from a build tree into the release layout.
type Builder struct {
	InputDir       string
	OutputDir      string
	IgnorePatterns []string
	ReadCatalog    func(path string) (*catalog.Catalog, error)

	logger *logrus.Logger
}

// NewBuilder returns a Builder using the default ignore patterns.
func NewBuilder(inputDir string, outputDir string, logger *logrus.Logger) *Builder {
	return &Builder{
		InputDir:       inputDir,
		OutputDir:      outputDir,
		IgnorePatterns: DefaultIgnorePatterns,
		ReadCatalog:    catalog.ParseFile,
		logger:         logger,
	}
}

// Build populates the output directory, which must be empty.
func (b *Builder) Build() error {
	inputDir, err := filepath.Abs(b.InputDir)
	if err != nil {
		return fmt.Errorf("Failed to resolve %q: %w", b.InputDir, err)
	}

	b.InputDir = inputDir

	err = shared.PrepareOutputDir(b.OutputDir)
	if err != nil {
		return err
	}

	copymap, err := b.copyMap()
	if err != nil {
		return err
	}

	seen := map[string]bool{}

	for _, src := range copymap.sources {
		for _, dest := range copymap.dests[src] {
			destDir := filepath.Join(b.OutputDir, dest)

			err = os.MkdirAll(destDir, 0755)
			if err != nil {
				return fmt.Errorf("Failed to create directory %q: %w", destDir, err)
			}

			err = shared.CopyPreserve(src, filepath.Join(destDir, filepath.Base(src)))
			if err != nil {
				return err
			}
		}

		seen[src] = true
	}

	license := filepath.Join(b.InputDir, "LICENSE")

	err = shared.Copy(license, filepath.Join(b.OutputDir, LicenseFile))
	if err != nil {
		return fmt.Errorf("Failed to copy license: %w", err)
	}

	seen[license] = true

	err = b.checkRemainingFiles(seen)
	if err != nil {
		return err
	}

	return b.makeAutodirLayout()
}

type copyMap struct {
	sources []string
	dests   map[string][]string
}

func (c *copyMap) add(src string, dest string) {
	_, ok := c.dests[src]
	if !ok {
		c.sources = append(c.sources, src)
	}

	c.dests[src] = append(c.dests[src], dest)
}

func (b *Builder) copyMap() (*copyMap, error) {
	driverMaps := map[string]map[string]string{}

	for _, driver := range windows.ReleaseDrivers {
		driverMap, err := b.driverDestDirs(driver)
		if err != nil {
			return nil, err
		}

		if driver != "qxl" {
			convertEquivalents(driver, driverMap)
		}

		driverMaps[driver] = driverMap
	}

	cm := &copyMap{dests: map[string][]string{}}

	for _, driver := range windows.ReleaseDrivers {
		driverMap := driverMaps[driver]

		destDirs := make([]string, 0, len(driverMap))
		for destDir := range driverMap {
			destDirs = append(destDirs, destDir)
		}

		sort.Strings(destDirs)

		for _, destDir := range destDirs {
			err := b.addDriverFiles(cm, driver, destDir, filepath.Dir(driverMap[destDir]))
			if err != nil {
				return nil, err
			}
		}
	}

	return cm, nil
}

// driverDestDirs maps each destination <os>/<arch> directory to the catalog it is built from.
func (b *Builder) driverDestDirs(driver string) (map[string]string, error) {
	catalogs, err := b.findFiles(windows.CatalogFile(driver))
	if err != nil {
		return nil, err
	}

	candidates := map[string][]string{}

	for _, catPath := range catalogs {
		parts := strings.Split(catPath, string(filepath.Separator))

		// ./rhel is only used on RHEL builds
		if driver == "qemupciserial" && parts[len(parts)-2] == "rhel" {
			continue
		}

		destDirs, ok := localFileMap[driver]
		if ok {
			for _, destDir := range destDirs {
				candidates[destDir] = []string{catPath}
			}

			continue
		}

		if driver == "qxl" {
			// qxl build output is already named after the destination
			destDir := strings.Join(parts[len(parts)-3:len(parts)-1], "/")
			candidates[destDir] = []string{catPath}

			continue
		}

		destDirs, err = b.catalogDestDirs(catPath)
		if err != nil {
			return nil, err
		}

		for _, destDir := range destDirs {
			candidates[destDir] = append(candidates[destDir], catPath)
		}
	}

	driverMap := map[string]string{}

	for destDir, files := range candidates {
		catPath, err := resolveDupe(destDir, files)
		if err != nil {
			return nil, err
		}

		driverMap[destDir] = catPath
	}

	return driverMap, nil
}

func (b *Builder) catalogDestDirs(catPath string) ([]string, error) {
	cat, err := b.ReadCatalog(catPath)
	if err != nil {
		return nil, err
	}

	var destDirs []string

	for _, sig := range cat.OSes() {
		destDir, err := windows.ReleaseDestDir(sig)
		if err != nil {
			return nil, fmt.Errorf("Failed to map %q: %w", catPath, err)
		}

		if destDir != "" && !slices.Contains(destDirs, destDir) {
			destDirs = append(destDirs, destDir)
		}
	}

	if len(destDirs) == 0 {
		b.logger.WithField("catalog", catPath).Warn("No destination directories found for catalog signatures")
	}

	return destDirs, nil
}

func resolveDupe(destDir string, files []string) (string, error) {
	for _, pref := range dupePreferences {
		if !strings.Contains(destDir, pref.destPart) {
			continue
		}

		for _, f := range files {
			if strings.Contains(f, pref.srcPart) {
				files = []string{f}
				break
			}
		}
	}

	if len(files) != 1 {
		return "", fmt.Errorf("Found multiple files with the same windows signature in different build directories, a preference needs to be added for destdir=%s: %v", destDir, files)
	}

	return files[0], nil
}

// convertEquivalents fills missing destination directories from an equivalent one.
func convertEquivalents(driver string, driverMap map[string]string) {
	equivalents := slices.Clone(commonEquivalents)

	if driver == "NetKVM" {
		equivalents = append(equivalents, netkvmEquivalents...)
	} else {
		equivalents = append(equivalents, defaultEquivalents...)
	}

	for _, group := range equivalents {
		for _, key := range group {
			_, ok := driverMap[key]
			if ok {
				continue
			}

			for _, other := range group {
				src, ok := driverMap[other]
				if other == key || !ok {
					continue
				}

				driverMap[key] = src

				break
			}
		}
	}
}

func (b *Builder) addDriverFiles(cm *copyMap, driver string, destDir string, srcDir string) error {
	osName := strings.Split(destDir, "/")[0]

	for _, pattern := range windows.FileList(driver, osName) {
		files, err := filepath.Glob(filepath.Join(srcDir, pattern))
		if err != nil {
			return fmt.Errorf("Failed to match %q: %w", pattern, err)
		}

		if len(files) == 0 {
			b.logger.WithFields(logrus.Fields{"driver": driver, "dir": srcDir, "pattern": pattern}).Debug("No files for pattern")
			continue
		}

		for _, f := range files {
			cm.add(f, filepath.Join(driver, destDir))
		}
	}

	return nil
}

func (b *Builder) findFiles(name string) ([]string, error) {
	var matches []string

	err := filepath.WalkDir(b.InputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() && d.Name() == name {
			matches = append(matches, path)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to search %q for %q: %w", b.InputDir, name, err)
	}

	return matches, nil
}

// checkRemainingFiles fails on build output that is neither shipped nor ignored, and on ignore patterns that matched nothing.
func (b *Builder) checkRemainingFiles(seen map[string]bool) error {
	var notSeen []string

	err := filepath.WalkDir(b.InputDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() && !seen[path] {
			notSeen = append(notSeen, strings.TrimPrefix(path, b.InputDir))
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("Failed to walk %q: %w", b.InputDir, err)
	}

	var unmatched []string

	for _, pattern := range b.IgnorePatterns {
		re, err := regexp.Compile("^(?:" + pattern + ")")
		if err != nil {
			return fmt.Errorf("Invalid ignore pattern %q: %w", pattern, err)
		}

		matched := false

		notSeen = slices.DeleteFunc(notSeen, func(f string) bool {
			if re.MatchString(f) {
				matched = true
				return true
			}

			return false
		})

		if !matched {
			unmatched = append(unmatched, pattern)
		}
	}

	if len(notSeen) > 0 {
		sort.Strings(notSeen)

		return fmt.Errorf("Unhandled virtio-win files:\n    %s\n\n"+
			"The above files are neither shipped by a driver file list nor ignored. "+
			"This probably means there is new build output. Determine whether it should be "+
			"shipped (add it to the driver file lists) or ignored (add it to the ignore patterns)",
			strings.Join(notSeen, "\n    "))
	}

	if len(unmatched) > 0 {
		return fmt.Errorf("Didn't match some ignore patterns:\n    %s\n\n"+
			"The above patterns did not match anything in the build output. "+
			"The files are likely no longer produced by the driver build, so the patterns can be removed",
			strings.Join(unmatched, "\n    "))
	}

	return nil
}

// makeAutodirLayout copies storage drivers to <arch>/<os> for Windows setup autodetection.
func (b *Builder) makeAutodirLayout() error {
	for _, driver := range autoDrivers {
		for _, osDir := range autoOSDirs {
			for _, arch := range autoArches {
				files, err := filepath.Glob(filepath.Join(b.OutputDir, driver, osDir, arch[0], "*"))
				if err != nil {
					return err
				}

				autoDir := filepath.Join(b.OutputDir, arch[1], osDir)

				for _, f := range files {
					err = os.MkdirAll(autoDir, 0755)
					if err != nil {
						return fmt.Errorf("Failed to create directory %q: %w", autoDir, err)
					}

					err = shared.CopyPreserve(f, filepath.Join(autoDir, filepath.Base(f)))
					if err != nil {
						return err
					}
				}
			}
		}
	}

	return nil
}
