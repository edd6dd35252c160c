package archive

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// HardlinkIdentical replaces every regular file below dir with a hardlink to the first file
// (in walk order) with the same content.
func HardlinkIdentical(dir string) error {
	seen := map[string]string{}

	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.Type().IsRegular() {
			return nil
		}

		sum, err := md5File(path)
		if err != nil {
			return err
		}

		first, ok := seen[sum]
		if !ok {
			seen[sum] = path
			return nil
		}

		firstInfo, err := os.Stat(first)
		if err != nil {
			return err
		}

		info, err := os.Stat(path)
		if err != nil {
			return err
		}

		if os.SameFile(firstInfo, info) {
			return nil
		}

		err = os.Remove(path)
		if err != nil {
			return fmt.Errorf("Failed to remove %q: %w", path, err)
		}

		err = os.Link(first, path)
		if err != nil {
			return fmt.Errorf("Failed to link %q to %q: %w", path, first, err)
		}

		return nil
	})
}

func md5File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("Failed to open %q: %w", path, err)
	}

	defer f.Close()

	hash := md5.New()

	_, err = io.Copy(hash, f)
	if err != nil {
		return "", fmt.Errorf("Failed to read %q: %w", path, err)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}
