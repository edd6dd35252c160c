package sources

import (
	"fmt"
	"strings"

	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
)

type virtioWinPrewhql struct {
	common
}

func (s *virtioWinPrewhql) Latest() (*shared.BuildVersion, error) {
	pkgURL := InternalURLPlaceholder + "/virtio-win-prewhql/"
	regex := `([\d\.]+)/`

	version, err := s.latestVersionDir(pkgURL, regex)
	if err != nil {
		return nil, err
	}

	pkgURL += version + "/"

	release, err := s.latestVersionDir(pkgURL, regex)
	if err != nil {
		return nil, err
	}

	nvr := version + "-" + release

	want := []string{
		fmt.Sprintf("virtio-win-prewhql-%s.zip", strings.Split(nvr, "-")[0]),
		fmt.Sprintf("virtio-win-prewhql-%s-sources.zip", nvr),
	}

	skip := []string{
		fmt.Sprintf("virtio-win-prewhql-%s-spec.zip", nvr),
	}

	urls, err := s.distillLinks(pkgURL+release+"/win/", "zip", want, skip)
	if err != nil {
		return nil, err
	}

	return &shared.BuildVersion{URLs: urls, Version: nvr}, nil
}
