package windows

import (
	"strings"
)

// DriverInfo contains driver specific information.
type DriverInfo struct {
	// CatalogName is the catalog base name when it differs from the lowercased driver name.
	CatalogName string
	// Files is the default list of files shipped for every OS.
	Files []string
	// OSFiles overrides Files for specific OS directories.
	OSFiles map[string][]string
}

// Drivers contains all known drivers.
var Drivers = map[string]DriverInfo{
	"Balloon":       driverBalloon,
	"NetKVM":        driverNetKVM,
	"pvpanic":       driverPvpanic,
	"qxl":           driverQxl,
	"qxldod":        driverQxldod,
	"vioinput":      driverVioinput,
	"viorng":        driverViorng,
	"vioscsi":       driverVioscsi,
	"vioserial":     driverVioserial,
	"viostor":       driverViostor,
	"qemupciserial": driverQemupciserial,
	"qemufwcfg":     driverQemufwcfg,
	"smbus":         driverSmbus,
	"viofs":         driverViofs,
	"sriov":         driverSriov,
}

// ReleaseDrivers lists the drivers shipped in the virtio-win release, in processing order.
var ReleaseDrivers = []string{
	"viorng",
	"vioserial",
	"Balloon",
	"pvpanic",
	"vioinput",
	"vioscsi",
	"viostor",
	"NetKVM",
	"qxl",
	"qxldod",
	"qemupciserial",
	"qemufwcfg",
	"smbus",
}

// AutoDrivers are the drivers added to the autodetectable <arch>/<os> tree.
var AutoDrivers = []string{"viostor", "vioscsi"}

// AutoOSBlacklist are the OS directories left out of the autodetectable tree.
var AutoOSBlacklist = []string{"xp", "2k3", "2k8"}

// AutoArches maps the driver arch naming to the autodetect arch naming.
var AutoArches = map[string]string{
	"x86":   "i386",
	"amd64": "amd64",
}

// Catalog returns the catalog file name of the driver.
func (d DriverInfo) Catalog(name string) string {
	if d.CatalogName != "" {
		return d.CatalogName + ".cat"
	}

	return strings.ToLower(name) + ".cat"
}

// FileList returns the file patterns shipped for the given OS directory.
func (d DriverInfo) FileList(osName string) []string {
	files, ok := d.OSFiles[osName]
	if ok {
		return files
	}

	return d.Files
}

// CatalogFile returns the catalog file name of a driver.
func CatalogFile(driver string) string {
	return Drivers[driver].Catalog(driver)
}

// FileList returns the file patterns shipped for a driver and OS directory.
// It returns nil for unknown drivers.
func FileList(driver string, osName string) []string {
	info, ok := Drivers[driver]
	if !ok {
		return nil
	}

	return info.FileList(osName)
}

// withFiles appends extra files to a copy of base.
func withFiles(base []string, extra ...string) []string {
	files := make([]string, 0, len(base)+len(extra))
	files = append(files, base...)

	return append(files, extra...)
}

// forOSes maps each OS directory to files.
func forOSes(files []string, oses ...string) map[string][]string {
	m := make(map[string][]string, len(oses))

	for _, o := range oses {
		m[o] = files
	}

	return m
}

// mergeOSFiles merges OS maps. Later maps win.
func mergeOSFiles(maps ...map[string][]string) map[string][]string {
	m := map[string][]string{}

	for _, other := range maps {
		for k, v := range other {
			m[k] = v
		}
	}

	return m
}

const (
	wdfCoInstaller01009 = "WdfCoInstaller01009.dll"
	wdfCoInstaller01011 = "WdfCoInstaller01011.dll"
)

var (
	legacyOSes = []string{"xp", "2k3", "2k8", "2k8R2", "w7"}
	win8OSes   = []string{"w8", "w8.1", "2k12", "2k12R2"}
	win10OSes  = []string{"w10", "2k16", "2k19"}
)

var driverQxl = DriverInfo{
	Files: []string{
		"qxl.cat",
		"qxl.inf",
		"qxl.sys",
		"qxldd.dll",
	},
}

var driverQxldod = DriverInfo{
	Files: []string{
		"qxldod.cat",
		"qxldod.inf",
		"qxldod.pdb",
		"qxldod.sys",
	},
}

var driverQemupciserial = DriverInfo{
	Files: []string{
		"qemupciserial.cat",
		"qemupciserial.inf",
	},
}

var driverQemufwcfg = DriverInfo{
	Files: []string{
		"qemufwcfg.cat",
		"qemufwcfg.inf",
	},
}

var driverSmbus = DriverInfo{
	Files: []string{
		"smbus.cat",
		"smbus.inf",
	},
}

var driverSriov = DriverInfo{
	Files: []string{
		"vioprot.inf",
		"vioprot.cat",
		"netkvmno.dll",
		"netkvmno.pdb",
		"netkvmp.exe",
		"netkvmp.pdb",
	},
}
