package shared

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/pgzip"
	"golang.org/x/sys/unix"
)

// ErrUnsupportedArchive is returned by Unpack for unknown file types.
var ErrUnsupportedArchive = errors.New("Unsupported archive format")

// Unpack unpacks a .zip or .tar.gz archive into path.
func Unpack(file string, path string) error {
	var err error

	switch {
	case strings.HasSuffix(file, ".zip"):
		err = Unzip(file, path)
	case strings.HasSuffix(file, ".tar.gz"), strings.HasSuffix(file, ".tgz"):
		err = UntarGz(file, path)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedArchive, filepath.Base(file))
	}

	if err != nil {
		// Check if we ran out of space
		fs := unix.Statfs_t{}

		err1 := unix.Statfs(path, &fs)
		if err1 == nil && int64(fs.Bfree) < 10 {
			return fmt.Errorf("Unable to unpack %q, run out of disk space", file)
		}

		return fmt.Errorf("Unpack failed: %w", err)
	}

	return nil
}

// Unzip extracts a zip archive into dest.
func Unzip(file string, dest string) error {
	r, err := zip.OpenReader(file)
	if err != nil {
		return fmt.Errorf("Failed to open %q: %w", file, err)
	}

	defer r.Close()

	for _, f := range r.File {
		target, err := securejoin.SecureJoin(dest, f.Name)
		if err != nil {
			return err
		}

		if f.FileInfo().IsDir() {
			err = os.MkdirAll(target, 0755)
			if err != nil {
				return err
			}

			continue
		}

		err = os.MkdirAll(filepath.Dir(target), 0755)
		if err != nil {
			return err
		}

		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("Failed to open %q in %q: %w", f.Name, file, err)
		}

		// Symlink entries store the link target as content
		if f.Mode()&os.ModeSymlink != 0 {
			linkTarget, err := io.ReadAll(rc)
			rc.Close()
			if err != nil {
				return fmt.Errorf("Failed to read %q in %q: %w", f.Name, file, err)
			}

			err = os.Symlink(string(linkTarget), target)
			if err != nil {
				return err
			}

			continue
		}

		err = writeFile(target, rc, f.Mode().Perm()|0600)
		rc.Close()
		if err != nil {
			return err
		}

		err = os.Chtimes(target, f.Modified, f.Modified)
		if err != nil {
			return err
		}
	}

	return nil
}

// ReadZipFile returns the content of name inside the zip archive.
func ReadZipFile(file string, name string) ([]byte, error) {
	r, err := zip.OpenReader(file)
	if err != nil {
		return nil, fmt.Errorf("Failed to open %q: %w", file, err)
	}

	defer r.Close()

	rc, err := r.Open(name)
	if err != nil {
		return nil, fmt.Errorf("Failed to open %q in %q: %w", name, file, err)
	}

	defer rc.Close()

	return io.ReadAll(rc)
}

// ZipDir writes dir into a new zip archive at target. Entry names start with the base name of dir.
// Symlinks are stored as links.
func ZipDir(dir string, target string) error {
	out, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("Failed to create %q: %w", target, err)
	}

	defer out.Close()

	w := zip.NewWriter(out)
	w.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})

	parent := filepath.Dir(dir)

	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(parent, path)
		if err != nil {
			return err
		}

		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}

		hdr.Name = filepath.ToSlash(rel)

		if info.IsDir() {
			hdr.Name += "/"

			_, err = w.CreateHeader(hdr)

			return err
		}

		hdr.Method = zip.Deflate

		fw, err := w.CreateHeader(hdr)
		if err != nil {
			return err
		}

		if info.Mode()&os.ModeSymlink != 0 {
			linkTarget, err := os.Readlink(path)
			if err != nil {
				return err
			}

			_, err = io.WriteString(fw, linkTarget)

			return err
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}

		defer f.Close()

		_, err = io.Copy(fw, f)

		return err
	})
	if err != nil {
		return fmt.Errorf("Failed to zip %q: %w", dir, err)
	}

	err = w.Close()
	if err != nil {
		return err
	}

	return out.Close()
}

// UntarGz extracts a gzip compressed tar archive into dest.
func UntarGz(file string, dest string) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("Failed to open %q: %w", file, err)
	}

	defer f.Close()

	zr, err := pgzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("Failed to read %q: %w", file, err)
	}

	defer zr.Close()

	tr := tar.NewReader(zr)

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return fmt.Errorf("Failed to read %q: %w", file, err)
		}

		target, err := securejoin.SecureJoin(dest, hdr.Name)
		if err != nil {
			return err
		}

		if hdr.Typeflag != tar.TypeDir {
			err = os.MkdirAll(filepath.Dir(target), 0755)
			if err != nil {
				return err
			}
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			err = os.MkdirAll(target, 0755)
		case tar.TypeReg:
			err = writeFile(target, tr, hdr.FileInfo().Mode().Perm()|0600)
		case tar.TypeSymlink:
			err = os.Symlink(hdr.Linkname, target)
		case tar.TypeLink:
			var linkTarget string

			linkTarget, err = securejoin.SecureJoin(dest, hdr.Linkname)
			if err == nil {
				err = os.Link(linkTarget, target)
			}

		default:
			err = fmt.Errorf("Unsupported tar entry type %q for %q", hdr.Typeflag, hdr.Name)
		}

		if err != nil {
			return err
		}

		if hdr.Typeflag == tar.TypeReg {
			err = os.Chtimes(target, hdr.ModTime, hdr.ModTime)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func writeFile(path string, r io.Reader, mode os.FileMode) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("Failed to create %q: %w", path, err)
	}

	defer f.Close()

	_, err = io.Copy(f, r)
	if err != nil {
		return fmt.Errorf("Failed to write %q: %w", path, err)
	}

	return f.Close()
}
