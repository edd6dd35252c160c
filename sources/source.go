package sources

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
)

// ErrUnknownFetcher represents the unknown fetcher error.
var ErrUnknownFetcher = errors.New("Unknown fetcher")

// DefaultSpiceURL is the public spice-space download area.
const DefaultSpiceURL = "https://www.spice-space.org/download/windows"

// InternalURLPlaceholder is kept in manifest URLs in place of the private build server.
const InternalURLPlaceholder = "{internalurl}"

// Options configure the fetchers.
type Options struct {
	// InternalURL replaces InternalURLPlaceholder when talking to the build server.
	InternalURL string
	SpiceURL    string
	Client      *http.Client
}

type fetcher interface {
	init(ctx context.Context, logger *logrus.Logger, options Options)

	Fetcher
}

// A Fetcher finds the newest build of a package.
type Fetcher interface {
	Latest() (*shared.BuildVersion, error)
}

var fetchers = map[string]func() fetcher{
	"mingw-qemu-ga-win":  func() fetcher { return &mingwQemuGaWin{} },
	"qxl":                func() fetcher { return &qxl{} },
	"qxlwddm":            func() fetcher { return &qxlWddm{} },
	"virtio-win-prewhql": func() fetcher { return &virtioWinPrewhql{} },
}

// Packages lists the packages tracked in the build manifest, in polling order.
var Packages = []string{
	"mingw-qemu-ga-win",
	"qxl",
	"qxlwddm",
	"virtio-win-prewhql",
}

// Load loads and initializes a fetcher.
func Load(ctx context.Context, name string, logger *logrus.Logger, options Options) (Fetcher, error) {
	f, ok := fetchers[name]
	if !ok {
		return nil, ErrUnknownFetcher
	}

	if options.SpiceURL == "" {
		options.SpiceURL = DefaultSpiceURL
	}

	if options.Client == nil {
		options.Client = &http.Client{}
	}

	s := f()
	s.init(ctx, logger, options)

	return s, nil
}

// FindLatest polls every tracked package and returns the resulting manifest.
func FindLatest(ctx context.Context, logger *logrus.Logger, options Options) (shared.BuildVersions, error) {
	bv := shared.BuildVersions{}

	for _, name := range Packages {
		f, err := Load(ctx, name, logger, options)
		if err != nil {
			return nil, err
		}

		build, err := f.Latest()
		if err != nil {
			return nil, err
		}

		bv[name] = *build
	}

	return bv, nil
}
