package archive

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf16"

	"github.com/google/renameio"
	"github.com/sirupsen/logrus"

	"github.com/virtio-win/virtio-win-pkg-scripts/windows"
)

// ManifestFile is the name of the version manifest in the ISO data directory.
const ManifestFile = "info.json"

// qxl .inf files have no parseable device description.
const qxlName = "Red Hat QXL GPU"

// ManifestDriver describes one .inf file of the ISO. Fields are in key order.
type ManifestDriver struct {
	Arch           string `json:"arch"`
	DriverVersion  string `json:"driver_version"`
	InfPath        string `json:"inf_path"`
	Name           string `json:"name"`
	WindowsVersion string `json:"windows_version"`
}

// Manifest is the content of info.json.
type Manifest struct {
	Drivers []ManifestDriver `json:"drivers"`
}

// GenerateManifest collects the driver name and version of every <driver>/<os>/<arch>/*.inf below isoDir.
func GenerateManifest(isoDir string, logger *logrus.Logger) (*Manifest, error) {
	files, err := findDriverFiles(isoDir)
	if err != nil {
		return nil, err
	}

	manifest := Manifest{Drivers: []ManifestDriver{}}

	for _, f := range files {
		if !strings.HasSuffix(f.Path, ".inf") {
			continue
		}

		// No driver version
		if f.Driver == "qemupciserial" {
			continue
		}

		relPath, err := filepath.Rel(isoDir, f.Path)
		if err != nil {
			return nil, err
		}

		data, err := windows.ParseInfData(f.Path)
		if err != nil {
			return nil, err
		}

		if data.Name == "" {
			if f.Driver != "qxl" {
				logger.WithField("file", relPath).Warn("Skipping file for info.json: failed to read INF")
				continue
			}

			data.Name = qxlName
		}

		manifest.Drivers = append(manifest.Drivers, ManifestDriver{
			Arch:           f.Arch,
			DriverVersion:  data.DriverVer,
			InfPath:        filepath.ToSlash(relPath),
			Name:           data.Name,
			WindowsVersion: f.OS,
		})
	}

	return &manifest, nil
}

// Dump serializes the manifest with two space indentation. Non-ASCII characters are
// written as \u escapes.
func (m *Manifest) Dump() ([]byte, error) {
	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")

	err := enc.Encode(m)
	if err != nil {
		return nil, fmt.Errorf("Failed to encode manifest: %w", err)
	}

	return escapeNonASCII(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}

func escapeNonASCII(data []byte) []byte {
	var out bytes.Buffer

	for _, r := range string(data) {
		if r < 0x80 {
			out.WriteRune(r)
			continue
		}

		// Runes above the BMP become a surrogate pair
		for _, c := range utf16.Encode([]rune{r}) {
			fmt.Fprintf(&out, "\\u%04x", c)
		}
	}

	return out.Bytes()
}

// WriteManifest generates the manifest of isoDir and writes it to dataDir/info.json.
func WriteManifest(isoDir string, dataDir string, logger *logrus.Logger) error {
	manifest, err := GenerateManifest(isoDir, logger)
	if err != nil {
		return err
	}

	content, err := manifest.Dump()
	if err != nil {
		return err
	}

	return renameio.WriteFile(filepath.Join(dataDir, ManifestFile), content, 0644)
}
