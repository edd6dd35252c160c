package shared

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	incus "github.com/lxc/incus/v6/shared/util"
)

// AddRelativeLink creates topdir/link pointing at topdir/src, using a path relative to the link's directory.
// Both src and link are relative to topdir. An existing identical link is left alone, anything else
// at the link location is replaced.
func AddRelativeLink(topdir, src, link string) (bool, error) {
	srcPath := filepath.Join(topdir, src)
	linkPath := filepath.Join(topdir, link)

	if !incus.PathExists(srcPath) {
		return false, fmt.Errorf("Nonexistent link source %q for target %q", srcPath, linkPath)
	}

	target, err := filepath.Rel(filepath.Dir(link), src)
	if err != nil {
		return false, fmt.Errorf("Failed to get relative path of %q: %w", src, err)
	}

	fi, err := os.Lstat(linkPath)
	if err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			current, err := os.Readlink(linkPath)
			if err == nil && current == target {
				return false, nil
			}
		}

		if fi.IsDir() {
			return false, fmt.Errorf("Refusing to replace directory %q with a link", linkPath)
		}
	}

	err = os.MkdirAll(filepath.Dir(linkPath), 0755)
	if err != nil {
		return false, fmt.Errorf("Failed to create directory %q: %w", filepath.Dir(linkPath), err)
	}

	err = renameio.Symlink(target, linkPath)
	if err != nil {
		return false, fmt.Errorf("Failed to create link %q: %w", linkPath, err)
	}

	return true, nil
}
