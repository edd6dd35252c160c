package archive

import (
	"context"

	"github.com/virtio-win/virtio-win-pkg-scripts/shared"
)

// MakeISO builds an ISO image of dir with genisoimage.
func MakeISO(ctx context.Context, dir string, label string, target string) error {
	// ISO9660 volume IDs are limited to 32 characters
	if len(label) > 32 {
		label = label[:32]
	}

	return shared.RunCommand(ctx, nil, nil, "genisoimage",
		"-o", target,
		"-input-charset", "iso8859-1",
		"-J", "-R",
		"-V", label,
		dir)
}
