package compare

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/virtio-win/virtio-win-pkg-scripts/rpm"
	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
)

// ErrUnexpectedInput is returned for inputs that aren't a directory, .zip, .tar.gz or .rpm.
var ErrUnexpectedInput = errors.New("Unexpected input, only expecting .zip, .tar.gz, .rpm or a directory")

var mediaExts = []string{".vfd", ".iso"}

// Binary media and installers are only compared by the tree listing.
var fileDiffExcludes = []string{".vfd", ".iso", ".msi"}

// Extractor unpacks archive outputs, including the content of any media images, for comparison.
type Extractor struct {
	logger     *logrus.Logger
	runCommand func(ctx context.Context, name string, args ...string) error
}

// NewExtractor returns a new Extractor.
func NewExtractor(logger *logrus.Logger) *Extractor {
	return &Extractor{
		logger: logger,
		runCommand: func(ctx context.Context, name string, args ...string) error {
			return shared.RunCommand(ctx, nil, io.Discard, name, args...)
		},
	}
}

func hasExt(name string, exts []string) bool {
	for _, ext := range exts {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}

	return false
}

// Extract copies or unpacks path into a new temporary directory and returns it. The caller removes it.
func (e *Extractor) Extract(ctx context.Context, path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("Failed to stat %q: %w", path, err)
	}

	outputDir, err := os.MkdirTemp("", "virtio-win-archive-compare-")
	if err != nil {
		return "", fmt.Errorf("Failed to create temporary directory: %w", err)
	}

	err = e.extract(ctx, path, info, outputDir)
	if err != nil {
		_ = os.RemoveAll(outputDir)
		return "", err
	}

	return outputDir, nil
}

func (e *Extractor) extract(ctx context.Context, path string, info os.FileInfo, outputDir string) error {
	extractDir := filepath.Join(outputDir, "extracted-archive")

	if !info.IsDir() {
		err := os.Mkdir(extractDir, 0755)
		if err != nil {
			return fmt.Errorf("Failed to create directory %q: %w", extractDir, err)
		}
	}

	var err error

	switch {
	case info.IsDir():
		err = shared.CopyTree(path, filepath.Join(outputDir, "dircopy"))
	case strings.HasSuffix(path, ".zip"):
		err = shared.Unzip(path, extractDir)
	case strings.HasSuffix(path, ".tar.gz"):
		err = shared.UntarGz(path, extractDir)
	case strings.HasSuffix(path, ".rpm"):
		err = rpm.ExtractRPM(path, extractDir)
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedInput, path)
	}

	if err != nil {
		return fmt.Errorf("Failed to extract %q: %w", path, err)
	}

	var media []string

	err = filepath.Walk(outputDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.Mode().IsRegular() && hasExt(info.Name(), mediaExts) {
			media = append(media, path)
		}

		return nil
	})
	if err != nil {
		return err
	}

	for _, m := range media {
		mediaOutDir := filepath.Join(outputDir, filepath.Base(m)+"-extracted")

		err = os.Mkdir(mediaOutDir, 0755)
		if err != nil {
			return fmt.Errorf("Failed to create directory %q: %w", mediaOutDir, err)
		}

		e.logger.WithField("file", m).Debug("Extracting media")

		err = e.runCommand(ctx, "guestfish", "--ro", "--add", m, "--mount", "/dev/sda:/", "glob", "copy-out", "/*", mediaOutDir)
		if err != nil {
			return err
		}

		// guestfish keeps the read-only modes of the image
		err = filepath.Walk(mediaOutDir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}

			if info.Mode()&os.ModeSymlink != 0 {
				return nil
			}

			return os.Chmod(path, 0777)
		})
		if err != nil {
			return fmt.Errorf("Failed to fix permissions in %q: %w", mediaOutDir, err)
		}
	}

	return nil
}

// Remove deletes an extracted directory, making read-only content writable first.
func Remove(dir string) error {
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && info.IsDir() {
			_ = os.Chmod(path, 0755)
		}

		return nil
	})

	return os.RemoveAll(dir)
}

func treeListing(dir string) (string, error) {
	var lines []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if path == dir {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		switch {
		case info.IsDir():
			rel += "/"
		case info.Mode()&os.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}

			rel += " -> " + target
		}

		lines = append(lines, rel+"\n")

		return nil
	})
	if err != nil {
		return "", fmt.Errorf("Failed to list %q: %w", dir, err)
	}

	sort.Strings(lines)

	return strings.Join(lines, ""), nil
}

// TreeDiff returns the unified diff of the sorted file listings of both directories.
func TreeDiff(origDir string, newDir string) (string, error) {
	origTree, err := treeListing(origDir)
	if err != nil {
		return "", err
	}

	newTree, err := treeListing(newDir)
	if err != nil {
		return "", err
	}

	return shared.UnifiedDiff(origTree, newTree, "orig", "new")
}

func readDirNames(dir string) (map[string]os.FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	infos := make(map[string]os.FileInfo, len(entries))

	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			return nil, err
		}

		infos[e.Name()] = info
	}

	return infos, nil
}

func readComparable(path string, info os.FileInfo) ([]byte, error) {
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return nil, err
		}

		return []byte("symlink -> " + target + "\n"), nil
	}

	return os.ReadFile(path)
}

// FileDiff compares both trees file by file, like diff -rup. Media images and installers are skipped.
func FileDiff(origDir string, newDir string) (string, error) {
	var out strings.Builder

	err := fileDiff(origDir, newDir, &out)
	if err != nil {
		return "", err
	}

	return out.String(), nil
}

func fileDiff(origDir string, newDir string, out *strings.Builder) error {
	origInfos, err := readDirNames(origDir)
	if err != nil {
		return fmt.Errorf("Failed to read directory %q: %w", origDir, err)
	}

	newInfos, err := readDirNames(newDir)
	if err != nil {
		return fmt.Errorf("Failed to read directory %q: %w", newDir, err)
	}

	names := map[string]bool{}

	for name := range origInfos {
		names[name] = true
	}

	for name := range newInfos {
		names[name] = true
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}

	sort.Strings(sorted)

	for _, name := range sorted {
		origInfo, inOrig := origInfos[name]
		newInfo, inNew := newInfos[name]

		if hasExt(name, fileDiffExcludes) {
			continue
		}

		if !inOrig {
			fmt.Fprintf(out, "Only in %s: %s\n", newDir, name)
			continue
		}

		if !inNew {
			fmt.Fprintf(out, "Only in %s: %s\n", origDir, name)
			continue
		}

		origPath := filepath.Join(origDir, name)
		newPath := filepath.Join(newDir, name)

		if origInfo.IsDir() && newInfo.IsDir() {
			err = fileDiff(origPath, newPath, out)
			if err != nil {
				return err
			}

			continue
		}

		if origInfo.IsDir() != newInfo.IsDir() {
			fmt.Fprintf(out, "File %s is a %s while file %s is a %s\n", origPath, kind(origInfo), newPath, kind(newInfo))
			continue
		}

		origContent, err := readComparable(origPath, origInfo)
		if err != nil {
			return fmt.Errorf("Failed to read %q: %w", origPath, err)
		}

		newContent, err := readComparable(newPath, newInfo)
		if err != nil {
			return fmt.Errorf("Failed to read %q: %w", newPath, err)
		}

		if bytes.Equal(origContent, newContent) {
			continue
		}

		if bytes.IndexByte(origContent, 0) >= 0 || bytes.IndexByte(newContent, 0) >= 0 {
			fmt.Fprintf(out, "Binary files %s and %s differ\n", origPath, newPath)
			continue
		}

		diff, err := shared.UnifiedDiff(string(origContent), string(newContent), origPath, newPath)
		if err != nil {
			return err
		}

		out.WriteString(diff)
	}

	return nil
}

func kind(info os.FileInfo) string {
	if info.IsDir() {
		return "directory"
	}

	return "regular file"
}

// Compare extracts both inputs and writes the tree diff, and unless treeOnly the file diff, to out.
func (e *Extractor) Compare(ctx context.Context, origPath string, newPath string, treeOnly bool, out io.Writer) error {
	origDir, err := e.Extract(ctx, origPath)
	if err != nil {
		return err
	}

	defer Remove(origDir)

	newDir, err := e.Extract(ctx, newPath)
	if err != nil {
		return err
	}

	defer Remove(newDir)

	treeDiff, err := TreeDiff(origDir, newDir)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\n\ntree diff:\n%s", treeDiff)

	if treeOnly {
		return nil
	}

	filesDiff, err := FileDiff(origDir, newDir)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\n\nfile diff:\n%s", filesDiff)

	return nil
}
