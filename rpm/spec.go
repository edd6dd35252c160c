// Package rpm builds the virtio-win RPM from the downloaded builds.
package rpm

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/flosch/pongo2/v4"
	"github.com/google/renameio"

	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
)

// Paths relative to the top directory.
const (
	SpecFile      = "virtio-win.spec"
	ChangelogFile = "data/rpm_changelog"
)

const changelogTemplate = `* {{ date }} {{ email }} - {{ version }}-{{ release }}
{% for update in updates %}- Update to {{ update }}
{% endfor %}`

var (
	versionRe = regexp.MustCompile(`Version: ([\w\.]+)`)
	releaseRe = regexp.MustCompile(`Release: ([\w\.]+).*\n`)
)

// Components are the build strings recorded in the spec %globals.
type Components struct {
	Virtio  string
	Qxl     string
	QxlWddm string
	QemuGa  string
}

// Spec edits virtio-win.spec and its changelog.
type Spec struct {
	// Content is the spec without the changelog.
	Content string
	// Changelog is the content of data/rpm_changelog.
	Changelog string

	Orig Components
	New  Components

	Version string
	Release string

	specPath      string
	changelogPath string
	origFull      string
}

// LoadSpec reads the spec from topDir and updates it for versions.
func LoadSpec(topDir string, versions *shared.Versions, email string, now time.Time) (*Spec, error) {
	s := Spec{
		specPath:      filepath.Join(topDir, SpecFile),
		changelogPath: filepath.Join(topDir, filepath.FromSlash(ChangelogFile)),
		New: Components{
			Virtio:  versions.VirtioPrewhql,
			Qxl:     versions.Qxl,
			QxlWddm: versions.QxlWddm,
			QemuGa:  versions.QemuGa,
		},
	}

	content, err := os.ReadFile(s.specPath)
	if err != nil {
		return nil, fmt.Errorf("Failed to read spec %q: %w", s.specPath, err)
	}

	changelog, err := os.ReadFile(s.changelogPath)
	if err != nil {
		return nil, fmt.Errorf("Failed to read changelog %q: %w", s.changelogPath, err)
	}

	s.Content = string(content)
	s.Changelog = string(changelog)
	s.origFull = s.FinalContent()

	globals := []struct {
		name string
		orig *string
		new  string
	}{
		{"virtio_win_prewhql_build", &s.Orig.Virtio, s.New.Virtio},
		{"qxl_build", &s.Orig.Qxl, s.New.Qxl},
		{"qxlwddm_build", &s.Orig.QxlWddm, s.New.QxlWddm},
		{"qemu_ga_win_build", &s.Orig.QemuGa, s.New.QemuGa},
	}

	for _, g := range globals {
		*g.orig, err = s.replaceGlobal(g.name, g.new)
		if err != nil {
			return nil, err
		}
	}

	err = s.setNewVersion()
	if err != nil {
		return nil, err
	}

	err = s.setNewChangelog(email, now)
	if err != nil {
		return nil, err
	}

	return &s, nil
}

// replaceFirst replaces the first match of re and returns the first submatch of it.
func replaceFirst(re *regexp.Regexp, s string, repl string) (string, string, bool) {
	loc := re.FindStringSubmatchIndex(s)
	if loc == nil {
		return s, "", false
	}

	return s[:loc[0]] + repl + s[loc[1]:], s[loc[2]:loc[3]], true
}

func (s *Spec) replaceGlobal(name string, value string) (string, error) {
	stub := "%global " + name + " "
	re := regexp.MustCompile(regexp.QuoteMeta(stub) + `([\w\.\d-]+)`)

	content, orig, ok := replaceFirst(re, s.Content, stub+value)
	if !ok {
		return "", fmt.Errorf("Didn't find %q in %s", strings.TrimSpace(stub), SpecFile)
	}

	s.Content = content

	return orig, nil
}

func (s *Spec) setNewVersion() error {
	origVersion := versionRe.FindStringSubmatch(s.Content)
	if origVersion == nil {
		return fmt.Errorf("Didn't find Version in %s", SpecFile)
	}

	origRelease := releaseRe.FindStringSubmatch(s.Content)
	if origRelease == nil {
		return fmt.Errorf("Didn't find Release in %s", SpecFile)
	}

	release, err := strconv.Atoi(origRelease[1])
	if err != nil {
		return fmt.Errorf("Failed to parse Release %q: %w", origRelease[1], err)
	}

	s.Version = origVersion[1]
	s.Release = strconv.Itoa(release + 1)

	if s.Orig.Virtio != s.New.Virtio {
		parts := strings.SplitN(s.New.Virtio, "-", 4)
		s.Version = strings.ReplaceAll(parts[len(parts)-1], "-", ".")
		s.Release = "1"
	}

	// The dist suffix isn't relevant for the public RPMs
	s.Content, _, _ = replaceFirst(releaseRe, s.Content, "Release: "+s.Release+"\n")
	s.Content, _, _ = replaceFirst(versionRe, s.Content, "Version: "+s.Version)

	return nil
}

func (s *Spec) setNewChangelog(email string, now time.Time) error {
	var updates []string

	pairs := [][2]string{
		{s.Orig.Virtio, s.New.Virtio},
		{s.Orig.Qxl, s.New.Qxl},
		{s.Orig.QxlWddm, s.New.QxlWddm},
		{s.Orig.QemuGa, s.New.QemuGa},
	}

	for _, p := range pairs {
		if p[0] != p[1] {
			updates = append(updates, p[1])
		}
	}

	entry, err := shared.RenderTemplate(changelogTemplate, pongo2.Context{
		"date":    now.Format("Mon Jan 02 2006"),
		"email":   email,
		"version": s.Version,
		"release": s.Release,
		"updates": updates,
	})
	if err != nil {
		return fmt.Errorf("Failed to render changelog entry: %w", err)
	}

	s.Changelog = strings.TrimSpace(strings.ReplaceAll(s.Changelog, "%changelog", "%changelog\n"+entry)) + "\n"

	return nil
}

// FinalContent returns the spec with the changelog appended.
func (s *Spec) FinalContent() string {
	return s.Content + s.Changelog
}

// Diff returns the unified diff of the full spec against the original.
func (s *Spec) Diff() (string, error) {
	return shared.UnifiedDiff(s.origFull, s.FinalContent(), "Orig spec", "New spec")
}

// WriteChanges saves the spec and changelog, and writes the full spec into rpmSrcDir.
func (s *Spec) WriteChanges(rpmSrcDir string) error {
	files := []struct {
		path    string
		content string
	}{
		{s.specPath, s.Content},
		{s.changelogPath, s.Changelog},
		{filepath.Join(rpmSrcDir, SpecFile), s.FinalContent()},
	}

	for _, f := range files {
		err := renameio.WriteFile(f.path, []byte(f.content), 0644)
		if err != nil {
			return fmt.Errorf("Failed to write %q: %w", f.path, err)
		}
	}

	return nil
}
