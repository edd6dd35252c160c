package shared

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/renameio"
)

// BuildVersionsFile is the manifest name inside the new-builds directory.
const BuildVersionsFile = "buildversions.json"

// BuildVersion is the newest build found for one package.
type BuildVersion struct {
	URLs    []string `json:"urls"`
	Version string   `json:"version"`
}

// BuildVersions maps a package name to its newest build.
type BuildVersions map[string]BuildVersion

// Versions holds the version strings derived from a BuildVersions manifest.
type Versions struct {
	// virtio-win-prewhql-0.1-100
	VirtioPrewhql string
	// qxl-win-unsigned-0.1-24
	Qxl string
	// spice-qxl-wddm-dod-0.19-0
	QxlWddm string
	// mingw-qemu-ga-win-100.0.0.0-3.el7ev
	MingwQemuGa string
	// qemu-ga-win-100.0.0.0-3.el7ev
	QemuGa string
	// Empty when the manifest doesn't track spice-vdagent-win.
	SpiceVdagent string
	// virtio-win-0.1.100
	VirtioRPM string
}

var versionSuffixes = []string{"-sources.zip", ".src.rpm"}

// ParseBuildVersions decodes a manifest.
func ParseBuildVersions(data []byte) (BuildVersions, error) {
	var bv BuildVersions

	err := json.Unmarshal(data, &bv)
	if err != nil {
		return nil, fmt.Errorf("Failed to parse build versions: %w", err)
	}

	return bv, nil
}

// LoadBuildVersions reads the manifest from dir.
func LoadBuildVersions(dir string) (BuildVersions, error) {
	fname := filepath.Join(dir, BuildVersionsFile)

	data, err := os.ReadFile(fname)
	if err != nil {
		return nil, fmt.Errorf("Failed to read %q: %w", fname, err)
	}

	return ParseBuildVersions(data)
}

// Dump serializes the manifest with sorted keys and two space indentation.
func (b BuildVersions) Dump() (string, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")

	err := enc.Encode(b)
	if err != nil {
		return "", fmt.Errorf("Failed to encode build versions: %w", err)
	}

	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// Write stores the manifest in dir.
func (b BuildVersions) Write(dir string) error {
	content, err := b.Dump()
	if err != nil {
		return err
	}

	return renameio.WriteFile(filepath.Join(dir, BuildVersionsFile), []byte(content), 0644)
}

// Versions derives all version strings from the manifest URLs.
func (b BuildVersions) Versions() (*Versions, error) {
	var err error

	v := Versions{}

	v.VirtioPrewhql, err = b.versionFromURLs("virtio-win-prewhql", `virtio-win-prewhql.*sources.zip`)
	if err != nil {
		return nil, err
	}

	v.Qxl, err = b.versionFromURLs("qxl", `qxl-win-unsigned.*sources.zip`)
	if err != nil {
		return nil, err
	}

	v.QxlWddm, err = b.versionFromURLs("qxlwddm", `spice-qxl-wddm-dod.*sources.zip`)
	if err != nil {
		return nil, err
	}

	v.MingwQemuGa, err = b.versionFromURLs("mingw-qemu-ga-win", `mingw-qemu-ga-win.*src.rpm`)
	if err != nil {
		return nil, err
	}

	v.QemuGa = strings.TrimPrefix(v.MingwQemuGa, "mingw-")

	_, ok := b["spice-vdagent-win"]
	if ok {
		v.SpiceVdagent, err = b.versionFromURLs("spice-vdagent-win", `spice-vdagent-win.*sources.zip`)
		if err != nil {
			return nil, err
		}
	}

	v.VirtioRPM = VirtioRPMVersion(v.VirtioPrewhql)

	return &v, nil
}

// VirtioRPMVersion turns virtio-win-prewhql-0.1-100 into virtio-win-0.1.100.
func VirtioRPMVersion(prewhql string) string {
	idx := strings.LastIndex(prewhql, ".")
	if idx < 0 {
		return strings.ReplaceAll(prewhql, "-prewhql", "")
	}

	version := prewhql[:idx] + "." + strings.ReplaceAll(prewhql[idx+1:], "-", ".")

	return strings.ReplaceAll(version, "-prewhql", "")
}

func (b BuildVersions) versionFromURLs(key string, pattern string) (string, error) {
	build, ok := b[key]
	if !ok {
		return "", fmt.Errorf("Build versions have no entry for %q", key)
	}

	re := regexp.MustCompile("^" + pattern)

	var matches []string

	for _, u := range build.URLs {
		base := path.Base(u)
		if re.MatchString(base) {
			matches = append(matches, base)
		}
	}

	if len(matches) == 0 {
		return "", fmt.Errorf("Didn't find any matches for %s. The new builds directory should contain the output of fetch-builds", pattern)
	}

	if len(matches) > 1 {
		return "", fmt.Errorf("Unexpectedly found multiple matches: %v", matches)
	}

	for _, suffix := range versionSuffixes {
		if strings.HasSuffix(matches[0], suffix) {
			return strings.TrimSuffix(matches[0], suffix), nil
		}
	}

	return "", fmt.Errorf("Didn't find any known suffix on %s: %v", matches[0], versionSuffixes)
}
