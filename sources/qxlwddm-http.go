package sources

import (
	"fmt"

	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
)

type qxlWddm struct {
	common
}

func (s *qxlWddm) Latest() (*shared.BuildVersion, error) {
	pkgURL := s.options.SpiceURL + "/qxl-wddm-dod/"

	version, err := s.latestVersionDir(pkgURL, `qxl-wddm-dod-([\d\.-]+)/`)
	if err != nil {
		return nil, err
	}

	// -<version>.zip is the Win10 family, -8.1-compatible the Win8 family.
	want := []string{
		fmt.Sprintf("spice-qxl-wddm-dod-%s-0-sources.zip", version),
		fmt.Sprintf("spice-qxl-wddm-dod-%s.zip", version),
		fmt.Sprintf("spice-qxl-wddm-dod-%s-8.1-compatible.zip", version),
	}

	urls, err := s.distillLinks(pkgURL+"qxl-wddm-dod-"+version+"/", "zip", want, nil)
	if err != nil {
		return nil, err
	}

	return &shared.BuildVersion{URLs: urls, Version: version}, nil
}
