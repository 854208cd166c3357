package preview

import (
	"bytes"
	"fmt"
	"image/color"

	"github.com/eliukblau/pixterm/pkg/ansimage"

	"pixlift/internal/media"
)

const (
	defaultCols = 80
	defaultRows = 24
)

// RenderANSI rasterizes f into ANSI half-block art fitting a terminal of
// width x height character cells. Each cell carries two pixel rows.
func RenderANSI(f *media.File, width, height int) (string, error) {
	if width <= 0 {
		width = defaultCols
	}
	if height <= 0 {
		height = defaultRows
	}

	img, err := ansimage.NewScaledFromReader(
		bytes.NewReader(f.Data),
		height*2, width,
		color.Black,
		ansimage.ScaleModeFit,
		ansimage.NoDithering,
	)
	if err != nil {
		return "", fmt.Errorf("render preview: %w", err)
	}
	return img.Render(), nil
}
