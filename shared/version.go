package shared

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var looseVersionRe = regexp.MustCompile(`\d+|[a-z]+|\.`)

type versionComponent struct {
	num     int
	str     string
	numeric bool
}

func splitLooseVersion(version string) []versionComponent {
	var parts []string

	last := 0

	for _, loc := range looseVersionRe.FindAllStringIndex(version, -1) {
		parts = append(parts, version[last:loc[0]], version[loc[0]:loc[1]])
		last = loc[1]
	}

	parts = append(parts, version[last:])

	var components []versionComponent

	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}

		n, err := strconv.Atoi(part)
		if err == nil {
			components = append(components, versionComponent{num: n, numeric: true})
			continue
		}

		components = append(components, versionComponent{str: part})
	}

	return components
}

// CompareLooseVersions compares two free-form version strings. Numeric components
// compare as numbers, everything else lexically, and numbers sort before text.
func CompareLooseVersions(a, b string) int {
	ca := splitLooseVersion(a)
	cb := splitLooseVersion(b)

	for i := 0; i < len(ca) && i < len(cb); i++ {
		x, y := ca[i], cb[i]

		switch {
		case x.numeric && y.numeric:
			if x.num != y.num {
				if x.num < y.num {
					return -1
				}

				return 1
			}

		case x.numeric:
			return -1

		case y.numeric:
			return 1

		default:
			cmp := strings.Compare(x.str, y.str)
			if cmp != 0 {
				return cmp
			}
		}
	}

	switch {
	case len(ca) < len(cb):
		return -1
	case len(ca) > len(cb):
		return 1
	}

	return 0
}

// SortLooseVersions sorts versions in place, oldest first.
func SortLooseVersions(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		return CompareLooseVersions(versions[i], versions[j]) < 0
	})
}
