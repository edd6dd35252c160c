package sources

import (
	"fmt"

	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
)

type qxl struct {
	common
}

func (s *qxl) Latest() (*shared.BuildVersion, error) {
	pkgURL := s.options.SpiceURL + "/qxl/"

	version, err := s.latestVersionDir(pkgURL, `qxl-([\d\.-]+)/`)
	if err != nil {
		return nil, err
	}

	want := []string{
		"qxl_w7_x64.zip",
		"qxl_w7_x86.zip",
		"qxl_8k2R2_x64.zip",
		fmt.Sprintf("qxl-win-unsigned-%s-sources.zip", version),
	}

	skip := []string{
		fmt.Sprintf("qxl-win-unsigned-%s-spec.zip", version),
	}

	urls, err := s.distillLinks(pkgURL+"qxl-"+version+"/", "zip", want, skip)
	if err != nil {
		return nil, err
	}

	return &shared.BuildVersion{URLs: urls, Version: version}, nil
}
