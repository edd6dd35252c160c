package windows

import (
	"fmt"
	"slices"
)

// CatalogOS describes the Windows flavor named by a catalog OS signature.
type CatalogOS struct {
	Major int
	Minor int
	Arch  string
	Dir   string
}

// KernelAttr returns the OSAttr entry catalog members carry for this OS, e.g. "2:6.1".
func (o CatalogOS) KernelAttr() string {
	return fmt.Sprintf("2:%d.%d", o.Major, o.Minor)
}

// DestDir returns the <os>/<arch> directory used by the release layout.
func (o CatalogOS) DestDir() string {
	return o.Dir + "/" + o.Arch
}

// ArchDir returns the <arch>/<os> directory used by the canonical driver layout.
func (o CatalogOS) ArchDir() string {
	return o.Arch + "/" + o.Dir
}

// CatalogOSes maps inf2cat OS signatures to Windows flavors.
var CatalogOSes = map[string]CatalogOS{
	"XPX86":           {5, 1, "x86", "xp"},
	"XPX64":           {5, 2, "amd64", "xp"},
	"Server2003X86":   {5, 2, "x86", "2k3"},
	"Server2003X64":   {5, 2, "amd64", "2k3"},
	"VistaX86":        {6, 0, "x86", "vista"},
	"VistaX64":        {6, 0, "amd64", "vista"},
	"Server2008X86":   {6, 0, "x86", "2k8"},
	"Server2008X64":   {6, 0, "amd64", "2k8"},
	"7X86":            {6, 1, "x86", "w7"},
	"7X64":            {6, 1, "amd64", "w7"},
	"Server2008R2X64": {6, 1, "amd64", "2k8R2"},
	"8X86":            {6, 2, "x86", "w8"},
	"8X64":            {6, 2, "amd64", "w8"},
	"Server2012X64":   {6, 2, "amd64", "2k12"},
	"_v63":            {6, 3, "x86", "w8.1"},
	"_v63_X64":        {6, 3, "amd64", "w8.1"},
	"_v63_Server_X64": {6, 3, "amd64", "2k12R2"},
	"_v100":           {10, 0, "x86", "w10"},
	"_v100_X64":       {10, 0, "amd64", "w10"},
}

// releaseOSes extends CatalogOSes for the release layout.
var releaseOSes = map[string]CatalogOS{
	// Vista builds are only shipped by NetKVM, under 2k8.
	"VistaX86": {6, 0, "x86", "2k8"},
	"VistaX64": {6, 0, "amd64", "2k8"},

	// The qxldod 8.1-compatible build is signed with these.
	"10X86": {6, 4, "x86", "w8.1"},
	"10X64": {6, 4, "amd64", "w8.1"},

	"Server_v100_ARM64": {10, 0, "ARM64", "w10"},
	"_v100_RS5":         {10, 0, "x86", "w10"},
	"_v100_X64_RS5":     {10, 0, "amd64", "w10"},
}

// ignoredSignatures are paired with another signature that already selects the directory.
var ignoredSignatures = []string{
	"Server_v100_X64",
}

// LookupCatalogOS returns the Windows flavor of an OS signature.
func LookupCatalogOS(sig string) (CatalogOS, error) {
	os, ok := CatalogOSes[sig]
	if !ok {
		return CatalogOS{}, fmt.Errorf("Unknown catalog OS signature %q", sig)
	}

	return os, nil
}

// ReleaseDestDir returns the <os>/<arch> release directory for an OS signature.
// Ignored signatures return an empty string.
func ReleaseDestDir(sig string) (string, error) {
	if slices.Contains(ignoredSignatures, sig) {
		return "", nil
	}

	os, ok := releaseOSes[sig]
	if ok {
		return os.DestDir(), nil
	}

	os, ok = CatalogOSes[sig]
	if !ok {
		return "", fmt.Errorf("Unknown catalog OS signature %q", sig)
	}

	return os.DestDir(), nil
}
