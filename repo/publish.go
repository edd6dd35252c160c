package repo

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	incus "github.com/lxc/incus/v6/shared/util"

	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
)

var repodataLineRe = regexp.MustCompile(`repodata/.+`)

// RepoDirs are the yum repositories inside the repo tree.
var RepoDirs = []string{"latest", "stable", "srpms"}

type repomd struct {
	XMLName xml.Name `xml:"repomd"`
	Data    []struct {
		Type     string `xml:"type,attr"`
		Location struct {
			Href string `xml:"href,attr"`
		} `xml:"location"`
	} `xml:"data"`
}

// SyncOptions configure an rsync run against the public mirror.
type SyncOptions struct {
	// Remote is host:path of the public mirror.
	Remote   string
	Username string
	// Reverse syncs the public mirror back into the local one.
	Reverse bool
	DryRun  bool
}

func copyIfChanged(src string, dest string) (bool, error) {
	srcContent, err := os.ReadFile(src)
	if err != nil {
		return false, fmt.Errorf("Failed to read %q: %w", src, err)
	}

	destContent, err := os.ReadFile(dest)
	if err == nil && bytes.Equal(srcContent, destContent) {
		return false, nil
	}

	return true, shared.Copy(src, dest)
}

// AddMiscData refreshes the stable and latest links and copies the repo file and changelog from dataDir.
func (l *LocalRepo) AddMiscData(dataDir string) error {
	for _, version := range l.StableRPMs {
		name := fmt.Sprintf("virtio-win-%s.noarch.rpm", version)

		err := l.addLink(l.RepoDir, filepath.Join("rpms", name), filepath.Join("stable", name))
		if err != nil {
			return err
		}
	}

	rpms, err := filepath.Glob(filepath.Join(l.RepoDir, "rpms", "*.rpm"))
	if err != nil {
		return err
	}

	for _, rpm := range rpms {
		name := filepath.Base(rpm)

		err = l.addLink(l.RepoDir, filepath.Join("rpms", name), filepath.Join("latest", name))
		if err != nil {
			return err
		}
	}

	files := map[string]string{
		"virtio-win.repo": "virtio-win.repo",
		"rpm_changelog":   "CHANGELOG",
	}

	for src, dest := range files {
		destPath := filepath.Join(l.RootDir, dest)

		copied, err := copyIfChanged(filepath.Join(dataDir, src), destPath)
		if err != nil {
			return err
		}

		if !copied {
			l.logger.WithField("file", destPath).Info("Up to date, skipping")
		}
	}

	return nil
}

// RunCreaterepo regenerates the metadata of every repository and checks the result.
func (l *LocalRepo) RunCreaterepo(ctx context.Context) error {
	for _, name := range RepoDirs {
		dir := filepath.Join(l.RepoDir, name)

		err := l.runCommand(ctx, io.Discard, "createrepo_c", dir, "--update")
		if err != nil {
			return err
		}
	}

	return l.VerifyRepodata()
}

// VerifyRepodata checks that every repository's repomd.xml points at primary metadata that exists.
func (l *LocalRepo) VerifyRepodata() error {
	for _, name := range RepoDirs {
		dir := filepath.Join(l.RepoDir, name)
		fname := filepath.Join(dir, "repodata", "repomd.xml")

		content, err := os.ReadFile(fname)
		if err != nil {
			return fmt.Errorf("Failed to read %q: %w", fname, err)
		}

		var md repomd

		err = xml.Unmarshal(content, &md)
		if err != nil {
			return fmt.Errorf("Failed to parse %q: %w", fname, err)
		}

		found := false

		for _, data := range md.Data {
			if data.Type != "primary" {
				continue
			}

			if !incus.PathExists(filepath.Join(dir, filepath.FromSlash(data.Location.Href))) {
				return fmt.Errorf("Primary metadata %q listed in %q doesn't exist", data.Location.Href, fname)
			}

			found = true
		}

		if !found {
			return fmt.Errorf("No primary metadata listed in %q", fname)
		}
	}

	return nil
}

func (l *LocalRepo) rsyncArgs(options SyncOptions, extra []string) []string {
	remote := options.Remote
	if options.Username != "" {
		remote = options.Username + "@" + remote
	}

	src, dest := l.RootDir, remote
	if options.Reverse {
		src, dest = remote, l.RootDir
	}

	args := []string{"--archive", "--verbose", "--compress", "--progress"}

	if !options.Reverse {
		// There is no virtmaint-sig user
		args = append(args, fmt.Sprintf("--chown=%s:virtmaint-sig", options.Username), "--chmod=D775,F664")
	}

	if options.DryRun {
		args = append(args, "--dry-run")
	}

	args = append(args, extra...)

	return append(args, src+"/", dest)
}

// Rsync copies the content first, then the repodata, so clients never see metadata pointing at
// missing RPMs. Dry runs print the rsync output without repodata noise to out.
func (l *LocalRepo) Rsync(ctx context.Context, options SyncOptions, out io.Writer) error {
	passes := [][]string{
		{"--exclude", "repodata"},
		// Only touch repodata/ and below
		{"--include", "*/", "--include", "repodata/*", "--exclude", "*", "--delete"},
	}

	for _, extra := range passes {
		var buf bytes.Buffer

		stdout := out
		if options.DryRun {
			stdout = &buf
		}

		err := l.runCommand(ctx, stdout, "rsync", l.rsyncArgs(options, extra)...)
		if err != nil {
			return err
		}

		if !options.DryRun {
			continue
		}

		scanner := bufio.NewScanner(&buf)
		for scanner.Scan() {
			if repodataLineRe.MatchString(scanner.Text()) {
				continue
			}

			fmt.Fprintln(out, scanner.Text())
		}
	}

	return nil
}

// Push shows a dry run, asks for confirmation and then syncs for real.
// A *bufio.Reader passed as in is reused for the prompt.
func (l *LocalRepo) Push(ctx context.Context, options SyncOptions, in io.Reader, out io.Writer) error {
	options.DryRun = true

	fmt.Fprint(out, "\n\n")

	err := l.Rsync(ctx, options, out)
	if err != nil {
		return err
	}

	fmt.Fprint(out, "\n\n")

	ok, err := shared.PromptYesNo(shared.BufferedReader(in), out, "Review the --dry-run changes. Do you want to push? (y/n): ")
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	if !ok {
		return shared.ErrAborted
	}

	options.DryRun = false

	return l.Rsync(ctx, options, out)
}
