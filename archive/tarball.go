package archive

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/klauspost/pgzip"
	"golang.org/x/sys/unix"
)

type inode struct {
	dev uint64
	ino uint64
}

// WriteTarball writes a gzip compressed tar of rootDir/name to target. Entry names start with name/
// and hardlinked files are stored once.
func WriteTarball(rootDir string, name string, target string) error {
	out, err := renameio.TempFile("", target)
	if err != nil {
		return fmt.Errorf("Failed to create %q: %w", target, err)
	}

	defer func() { _ = out.Cleanup() }()

	zw := pgzip.NewWriter(out)
	tw := tar.NewWriter(zw)
	links := map[inode]string{}

	err = filepath.WalkDir(filepath.Join(rootDir, name), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(rootDir, path)
		if err != nil {
			return err
		}

		rel = filepath.ToSlash(rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		var linkTarget string

		if info.Mode()&fs.ModeSymlink != 0 {
			linkTarget, err = os.Readlink(path)
			if err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, linkTarget)
		if err != nil {
			return fmt.Errorf("Failed to create tar header for %q: %w", path, err)
		}

		hdr.Name = rel
		if d.IsDir() {
			hdr.Name += "/"
		}

		if info.Mode().IsRegular() {
			var st unix.Stat_t

			err = unix.Lstat(path, &st)
			if err != nil {
				return fmt.Errorf("Failed to stat %q: %w", path, err)
			}

			key := inode{dev: uint64(st.Dev), ino: st.Ino}

			first, ok := links[key]
			if ok {
				hdr.Typeflag = tar.TypeLink
				hdr.Linkname = first
				hdr.Size = 0
			} else if st.Nlink > 1 {
				links[key] = rel
			}
		}

		err = tw.WriteHeader(hdr)
		if err != nil {
			return fmt.Errorf("Failed to write tar header for %q: %w", path, err)
		}

		if hdr.Typeflag != tar.TypeReg {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}

		defer f.Close()

		_, err = io.Copy(tw, f)
		if err != nil {
			return fmt.Errorf("Failed to archive %q: %w", path, err)
		}

		return nil
	})
	if err != nil {
		return err
	}

	err = tw.Close()
	if err != nil {
		return err
	}

	err = zw.Close()
	if err != nil {
		return err
	}

	return out.CloseAtomicallyReplace()
}
