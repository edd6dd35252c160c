package windows

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	sectionRe = regexp.MustCompile(`^\[(.+)\]`)
	keyRe     = regexp.MustCompile(`^([^=]+?)[ \t]*=[ \t]*(.*)$`)
)

// InfData holds the details read from a driver .inf file.
type InfData struct {
	// Name is the last *.DeviceDesc string, empty if there is none.
	Name string
	// DriverVer is the DriverVer value of the [Version] section.
	DriverVer string
}

// ParseInfData reads the driver name and version from an .inf file.
func ParseInfData(infPath string) (InfData, error) {
	file, err := os.Open(infPath)
	if err != nil {
		return InfData{}, fmt.Errorf("Failed to open inf %q: %w", infPath, err)
	}

	defer func() { _ = file.Close() }()

	data, err := MatchInfData(file)
	if err != nil {
		return InfData{}, fmt.Errorf("Failed to parse inf %q: %w", infPath, err)
	}

	return data, nil
}

// MatchInfData scans an .inf file. UTF-16 files are detected by their byte order mark.
func MatchInfData(r io.Reader) (InfData, error) {
	var (
		data       InfData
		section    string
		hasVersion bool
		hasStrings bool
	)

	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	scanner := bufio.NewScanner(transform.NewReader(r, decoder))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, ";") || strings.HasPrefix(trimmed, "#") {
			continue
		}

		matches := sectionRe.FindStringSubmatch(line)
		if matches != nil {
			section = strings.ToLower(matches[1])

			switch section {
			case "version":
				hasVersion = true
			case "strings":
				hasStrings = true
			}

			continue
		}

		matches = keyRe.FindStringSubmatch(trimmed)
		if matches == nil {
			continue
		}

		key := strings.ToLower(matches[1])
		value := matches[2]

		switch section {
		case "version":
			if key == "driverver" {
				data.DriverVer = value
			}

		case "strings":
			if strings.HasSuffix(key, ".devicedesc") {
				data.Name = strings.Trim(value, ` "`)
			}
		}
	}

	err := scanner.Err()
	if err != nil {
		return InfData{}, err
	}

	if !hasVersion {
		return InfData{}, fmt.Errorf("Missing [Version] section")
	}

	if !hasStrings {
		return InfData{}, fmt.Errorf("Missing [Strings] section")
	}

	if data.DriverVer == "" {
		return InfData{}, fmt.Errorf("Missing DriverVer in [Version] section")
	}

	return data, nil
}
