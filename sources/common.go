package sources

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/antchfx/htmlquery"
	"github.com/sirupsen/logrus"

	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
)

type common struct {
	logger  *logrus.Logger
	options Options
	ctx     context.Context
}

func (s *common) init(ctx context.Context, logger *logrus.Logger, options Options) {
	s.logger = logger
	s.options = options
	s.ctx = ctx
}

// expand fills in the internal URL placeholder.
func (s *common) expand(URL string) string {
	return ExpandURL(URL, s.options.InternalURL)
}

// ExpandURL fills in the internal URL placeholder.
func ExpandURL(URL string, internalURL string) string {
	return strings.ReplaceAll(URL, InternalURLPlaceholder, internalURL)
}

// links returns the href targets of an index page.
func (s *common) links(URL string) ([]string, error) {
	content, err := shared.FetchURL(s.ctx, s.options.Client, s.expand(URL))
	if err != nil {
		return nil, err
	}

	doc, err := htmlquery.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("Failed to parse %q: %w", URL, err)
	}

	var links []string

	for _, n := range htmlquery.Find(doc, `//a/@href`) {
		links = append(links, htmlquery.InnerText(n))
	}

	return links, nil
}

// latestVersionDir returns the newest version captured by regex among the index links.
func (s *common) latestVersionDir(URL string, regex string) (string, error) {
	s.logger.WithField("url", URL).Info("Checking")

	links, err := s.links(URL)
	if err != nil {
		return "", err
	}

	re := regexp.MustCompile(`(?i)^` + regex + `$`)

	var versions []string

	for _, l := range links {
		matches := re.FindStringSubmatch(l)
		if matches != nil && strings.Trim(matches[1], ".") != "" {
			versions = append(versions, matches[1])
		}
	}

	if len(versions) == 0 {
		return "", fmt.Errorf("No version directories found at %q", URL)
	}

	shared.SortLooseVersions(versions)

	return versions[len(versions)-1], nil
}

// distillLinks returns the URLs of the wanted files. Every wanted and skipped file must be present,
// so unexpected build output changes fail loudly.
func (s *common) distillLinks(URL string, extension string, want []string, skip []string) ([]string, error) {
	links, err := s.links(URL)
	if err != nil {
		return nil, err
	}

	var names []string

	for _, l := range links {
		if strings.HasSuffix(strings.ToLower(l), "."+extension) {
			names = append(names, l)
		}
	}

	for _, f := range skip {
		if !slices.Contains(names, f) {
			return nil, fmt.Errorf("Didn't find skipped %q at URL=%s, only found: %v", f, URL, names)
		}
	}

	var urls []string

	for _, f := range want {
		if !slices.Contains(names, f) {
			return nil, fmt.Errorf("Didn't find wanted %q at URL=%s, only found: %v", f, URL, names)
		}

		urls = append(urls, URL+f)
	}

	return urls, nil
}
