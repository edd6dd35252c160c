package repo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/flosch/pongo2/v4"
	"github.com/google/renameio"
	incus "github.com/lxc/incus/v6/shared/util"
	"github.com/sirupsen/logrus"

	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
)

const redirectTemplate = "redirect permanent {{ root }}/{{ old }} {{ root }}/{{ new }}\n"

var (
	virtioVersionRe = regexp.MustCompile(`^virtio-win-[\d\.]+$`)
	virtioReleaseRe = regexp.MustCompile(`^virtio-win-[\d\.]+-\d+$`)
)

// Release names the versions being added to the mirror.
type Release struct {
	// virtio-win-0.1.185
	VirtioVersion string
	// virtio-win-0.1.185-2
	VirtioRelease string
	// qemu-ga-win-100.0.0.0-3.el7ev
	QemuGaRelease string
}

func (r *Release) qemuGaBaseDir() string {
	return path.Join("archive-qemu-ga", r.QemuGaRelease)
}

func (r *Release) virtioBaseDir() string {
	return path.Join("archive-virtio", r.VirtioRelease)
}

// LocalRepo is the local copy of the public virtio-win mirror.
type LocalRepo struct {
	RootDir       string
	RepoDir       string
	DirectDir     string
	HTTPDirectDir string
	StableRPMs    []string

	logger     *logrus.Logger
	runCommand func(ctx context.Context, stdout io.Writer, name string, args ...string) error
}

// NewLocalRepo returns the mirror rooted at rootDir.
func NewLocalRepo(rootDir string, httpDirectDir string, stableRPMs []string, logger *logrus.Logger) *LocalRepo {
	return &LocalRepo{
		RootDir:       rootDir,
		RepoDir:       filepath.Join(rootDir, "repo"),
		DirectDir:     filepath.Join(rootDir, "direct-downloads"),
		HTTPDirectDir: httpDirectDir,
		StableRPMs:    stableRPMs,
		logger:        logger,
		runCommand: func(ctx context.Context, stdout io.Writer, name string, args ...string) error {
			return shared.RunCommand(ctx, nil, stdout, name, args...)
		},
	}
}

func makeRedirect(root string, oldName string, newName string) (string, error) {
	return shared.RenderTemplate(redirectTemplate, pongo2.Context{
		"root": root,
		"old":  oldName,
		"new":  newName,
	})
}

func (l *LocalRepo) addLink(topdir string, src string, link string) error {
	created, err := shared.AddRelativeLink(topdir, src, link)
	if err != nil {
		return err
	}

	if !created {
		l.logger.WithFields(logrus.Fields{"link": filepath.Join(topdir, link), "src": src}).Debug("Link already up to date")
	}

	return nil
}

func copyInto(paths []string, dir string) error {
	for _, p := range paths {
		err := shared.Copy(p, filepath.Join(dir, filepath.Base(p)))
		if err != nil {
			return err
		}
	}

	return nil
}

func glob(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}

	if len(matches) == 0 {
		return nil, fmt.Errorf("Didn't find any matching files: %s", pattern)
	}

	sort.Strings(matches)

	return matches, nil
}

// AddRPMs copies the built RPM and source RPM into the repo tree and returns their new paths.
func (l *LocalRepo) AddRPMs(rpmPath string, srpmPath string) (string, string, error) {
	var dests []string

	for _, f := range []struct {
		path string
		dir  string
	}{
		{rpmPath, "rpms"},
		{srpmPath, "srpms"},
	} {
		dir := filepath.Join(l.RepoDir, f.dir)

		err := os.MkdirAll(dir, 0755)
		if err != nil {
			return "", "", fmt.Errorf("Failed to create directory %q: %w", dir, err)
		}

		dest := filepath.Join(dir, filepath.Base(f.path))

		err = shared.Copy(f.path, dest)
		if err != nil {
			return "", "", err
		}

		dests = append(dests, dest)
	}

	return dests[0], dests[1], nil
}

// AddQemuGA copies the qemu-ga installers into their versioned directory, unless that release
// was uploaded before.
func (l *LocalRepo) AddQemuGA(rel *Release, paths []string) error {
	dir := filepath.Join(l.DirectDir, rel.qemuGaBaseDir())

	if incus.PathExists(dir) {
		l.logger.WithField("release", rel.QemuGaRelease).Info("qemu-ga has already been uploaded, skipping")
		return nil
	}

	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return fmt.Errorf("Failed to create directory %q: %w", dir, err)
	}

	return copyInto(paths, dir)
}

// AddVirtioGT copies the guest tools installers next to the virtio-win media.
func (l *LocalRepo) AddVirtioGT(rel *Release, paths []string) error {
	return copyInto(paths, filepath.Join(l.DirectDir, rel.virtioBaseDir()))
}

// AddVirtioWinMedia creates the versioned virtio-win directory with the ISO and links to the RPMs,
// plus unversioned stable names that .htaccess redirects to the versioned files.
func (l *LocalRepo) AddVirtioWinMedia(rel *Release, isoPath string, rpmPath string, srpmPath string) error {
	dir := filepath.Join(l.DirectDir, rel.virtioBaseDir())
	if incus.PathExists(dir) {
		return fmt.Errorf("Directory %q already exists, refusing to overwrite it", dir)
	}

	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return fmt.Errorf("Failed to create directory %q: %w", dir, err)
	}

	var htaccess strings.Builder

	root := path.Join(l.HTTPDirectDir, rel.virtioBaseDir())

	addStablePath := func(p string, stableName string) error {
		err := l.addLink(dir, filepath.Base(p), stableName)
		if err != nil {
			return err
		}

		redirect, err := makeRedirect(root, stableName, filepath.Base(p))
		if err != nil {
			return err
		}

		htaccess.WriteString(redirect)

		return nil
	}

	// RPMs live in the repo tree
	for _, rpm := range []struct {
		path       string
		stableName string
	}{
		{rpmPath, "virtio-win.noarch.rpm"},
		{srpmPath, "virtio-win.src.rpm"},
	} {
		relPath, err := filepath.Rel(dir, rpm.path)
		if err != nil {
			return fmt.Errorf("Failed to get relative path of %q: %w", rpm.path, err)
		}

		err = l.addLink(dir, relPath, filepath.Base(rpm.path))
		if err != nil {
			return err
		}

		err = addStablePath(rpm.path, rpm.stableName)
		if err != nil {
			return err
		}
	}

	err = shared.Copy(isoPath, filepath.Join(dir, filepath.Base(isoPath)))
	if err != nil {
		return err
	}

	err = addStablePath(isoPath, "virtio-win.iso")
	if err != nil {
		return err
	}

	return renameio.WriteFile(filepath.Join(dir, ".htaccess"), []byte(htaccess.String()), 0644)
}

// AddHtaccessStableLinks points latest-qemu-ga, latest-virtio and stable-virtio at the matching releases.
func (l *LocalRepo) AddHtaccessStableLinks(rel *Release) error {
	if len(l.StableRPMs) == 0 {
		return errors.New("No stable RPMs configured")
	}

	links := []struct {
		src  string
		link string
	}{
		{rel.qemuGaBaseDir(), "latest-qemu-ga"},
		{rel.virtioBaseDir(), "latest-virtio"},
		{path.Join("archive-virtio", "virtio-win-"+l.StableRPMs[0]), "stable-virtio"},
	}

	var htaccess strings.Builder

	for _, link := range links {
		err := l.addLink(l.DirectDir, link.src, link.link)
		if err != nil {
			return err
		}

		redirect, err := makeRedirect(l.HTTPDirectDir, link.link, link.src)
		if err != nil {
			return err
		}

		htaccess.WriteString(redirect)
	}

	return renameio.WriteFile(filepath.Join(l.DirectDir, ".htaccess"), []byte(htaccess.String()), 0644)
}

// AddPkgBuildInput stores the new-builds content used for this release and links it as latest-build.
func (l *LocalRepo) AddPkgBuildInput(rel *Release, newBuildsDir string) error {
	topDir := filepath.Join(l.DirectDir, "virtio-win-pkg-scripts-input")
	dir := filepath.Join(topDir, rel.VirtioRelease)

	if incus.PathExists(dir) {
		l.logger.WithField("dir", dir).Info("Build input exists, not changing content")
	} else {
		err := os.MkdirAll(dir, 0755)
		if err != nil {
			return fmt.Errorf("Failed to create directory %q: %w", dir, err)
		}

		files, err := filepath.Glob(filepath.Join(newBuildsDir, "*"))
		if err != nil {
			return err
		}

		err = copyInto(files, dir)
		if err != nil {
			return err
		}
	}

	return l.addLink(topDir, rel.VirtioRelease, "latest-build")
}

// ReleaseFromBuildroot derives the release names from the rpmbuild buildroot.
func ReleaseFromBuildroot(rpmBuildroot string) (*Release, error) {
	extractDirs, err := glob(filepath.Join(rpmBuildroot, "virtio-win*.x86_64"))
	if err != nil {
		return nil, err
	}

	// virtio-win-0.1.171-6.x86_64
	rel := Release{}
	rel.VirtioRelease = strings.TrimSuffix(filepath.Base(extractDirs[0]), ".x86_64")

	idx := strings.LastIndex(rel.VirtioRelease, "-")
	if idx < 0 {
		return nil, fmt.Errorf("Unexpected buildroot directory %q", extractDirs[0])
	}

	rel.VirtioVersion = rel.VirtioRelease[:idx]

	if !virtioVersionRe.MatchString(rel.VirtioVersion) || !virtioReleaseRe.MatchString(rel.VirtioRelease) {
		return nil, fmt.Errorf("Unexpected buildroot directory %q", extractDirs[0])
	}

	qemuGaDirs, err := glob(filepath.Join(rpmBuildroot, "*", "qemu-ga-win*"))
	if err != nil {
		return nil, err
	}

	rel.QemuGaRelease = filepath.Base(qemuGaDirs[0])

	return &rel, nil
}

// Populate copies everything the RPM build produced into the mirror.
func (l *LocalRepo) Populate(newBuildsDir string, rpmOutput string, rpmBuildroot string) (*Release, error) {
	rpmOutput, err := filepath.EvalSymlinks(rpmOutput)
	if err != nil {
		return nil, fmt.Errorf("Failed to resolve %q: %w", rpmOutput, err)
	}

	rpmBuildroot, err = filepath.EvalSymlinks(rpmBuildroot)
	if err != nil {
		return nil, fmt.Errorf("Failed to resolve %q: %w", rpmBuildroot, err)
	}

	rel, err := ReleaseFromBuildroot(rpmBuildroot)
	if err != nil {
		return nil, err
	}

	shareDir := filepath.Join(rpmBuildroot, rel.VirtioRelease+".x86_64", "usr", "share", "virtio-win")
	if !incus.PathExists(shareDir) {
		return nil, fmt.Errorf("Buildroot is missing %q", shareDir)
	}

	l.logger.WithFields(logrus.Fields{"virtio": rel.VirtioRelease, "qemu-ga": rel.QemuGaRelease}).Info("Populating local repo")

	qemuGaPaths, err := glob(filepath.Join(shareDir, "guest-agent", "*"))
	if err != nil {
		return nil, err
	}

	err = l.AddQemuGA(rel, qemuGaPaths)
	if err != nil {
		return nil, err
	}

	var rpmPath, srpmPath string

	var count int

	err = filepath.Walk(rpmOutput, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		switch {
		case strings.HasSuffix(p, ".noarch.rpm"):
			rpmPath = p
		case strings.HasSuffix(p, ".src.rpm"):
			srpmPath = p
		case strings.HasSuffix(p, ".rpm"):
		default:
			return nil
		}

		count++

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to find RPMs in %q: %w", rpmOutput, err)
	}

	if count != 2 || rpmPath == "" || srpmPath == "" {
		return nil, fmt.Errorf("Expected one noarch RPM and one source RPM in %q", rpmOutput)
	}

	rpmPath, srpmPath, err = l.AddRPMs(rpmPath, srpmPath)
	if err != nil {
		return nil, err
	}

	isoPath, err := filepath.EvalSymlinks(filepath.Join(shareDir, "virtio-win.iso"))
	if err != nil {
		return nil, fmt.Errorf("Failed to resolve ISO path: %w", err)
	}

	err = l.AddVirtioWinMedia(rel, isoPath, rpmPath, srpmPath)
	if err != nil {
		return nil, err
	}

	gtPaths, err := glob(filepath.Join(shareDir, "installer", "*"))
	if err != nil {
		return nil, err
	}

	err = l.AddVirtioGT(rel, gtPaths)
	if err != nil {
		return nil, err
	}

	err = l.AddHtaccessStableLinks(rel)
	if err != nil {
		return nil, err
	}

	err = l.AddPkgBuildInput(rel, newBuildsDir)
	if err != nil {
		return nil, err
	}

	return rel, nil
}
