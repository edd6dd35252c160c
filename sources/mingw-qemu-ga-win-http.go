package sources

import (
	"fmt"

	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
)

type mingwQemuGaWin struct {
	common
}

func (s *mingwQemuGaWin) Latest() (*shared.BuildVersion, error) {
	pkgURL := InternalURLPlaceholder + "/mingw-qemu-ga-win/"

	version, err := s.latestVersionDir(pkgURL, `([\d\.]+)/`)
	if err != nil {
		return nil, err
	}

	pkgURL += version + "/"

	release, err := s.latestVersionDir(pkgURL, `([\d\.]+\..*)/`)
	if err != nil {
		return nil, err
	}

	baseURL := pkgURL + release + "/"
	nvr := version + "-" + release

	urls, err := s.distillLinks(baseURL+"noarch/", "rpm", []string{fmt.Sprintf("qemu-ga-win-%s.noarch.rpm", nvr)}, nil)
	if err != nil {
		return nil, err
	}

	srcURLs, err := s.distillLinks(baseURL+"src/", "rpm", []string{fmt.Sprintf("mingw-qemu-ga-win-%s.src.rpm", nvr)}, nil)
	if err != nil {
		return nil, err
	}

	return &shared.BuildVersion{URLs: append(urls, srcURLs...), Version: nvr}, nil
}
