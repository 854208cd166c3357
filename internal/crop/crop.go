// Package crop cuts a committed viewport region out of a source image. The
// region arrives normalized to the source dimensions so the same value works
// for any raster size; an empty result is a hard failure, never a silent
// full-image fallback.
package crop

import (
	"bytes"
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"

	"pixlift/internal/media"
)

// Region is a normalized crop selection. X and Y are the top-left offsets as
// fractions of the source width and height in [0,1); W and H are the extents
// as fractions in (0,1]. Zoom records the viewport magnification at commit
// time for auditing and does not affect the cut.
type Region struct {
	X    float64 `json:"x" yaml:"x"`
	Y    float64 `json:"y" yaml:"y"`
	W    float64 `json:"w" yaml:"w"`
	H    float64 `json:"h" yaml:"h"`
	Zoom float64 `json:"zoom,omitempty" yaml:"zoom,omitempty"`
}

// FullImage is the identity region.
func FullImage() Region {
	return Region{X: 0, Y: 0, W: 1, H: 1, Zoom: 1}
}

// Validate reports whether the region is well-formed. The pixel rect is
// additionally clamped to the raster during Crop, so a valid region can never
// index outside the source.
func (r Region) Validate() error {
	for _, v := range []float64{r.X, r.Y, r.W, r.H, r.Zoom} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("region contains a non-finite value")
		}
	}
	if r.X < 0 || r.X >= 1 || r.Y < 0 || r.Y >= 1 {
		return fmt.Errorf("region offset (%.3f, %.3f) outside [0,1)", r.X, r.Y)
	}
	if r.W <= 0 || r.W > 1 || r.H <= 0 || r.H > 1 {
		return fmt.Errorf("region extent (%.3f, %.3f) outside (0,1]", r.W, r.H)
	}
	if r.Zoom != 0 && r.Zoom < 1 {
		return fmt.Errorf("zoom %.3f below 1", r.Zoom)
	}
	return nil
}

// IsFull reports whether the region covers the whole source.
func (r Region) IsFull() bool {
	return r.X == 0 && r.Y == 0 && r.W == 1 && r.H == 1
}

// Error is a failed crop. Callers treat it as terminal for the file; there is
// no partial or approximate result.
type Error struct {
	File   string
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crop %s: %s: %v", e.File, e.Detail, e.Err)
	}
	return fmt.Sprintf("crop %s: %s", e.File, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Cut applies region to f and returns the cropped image re-encoded in the
// source format. Formats without an encoder come back as PNG; the later
// compression stage owns any lossy conversion.
func Cut(f *media.File, region Region) (*media.File, error) {
	if err := region.Validate(); err != nil {
		return nil, &Error{File: f.Name, Detail: "invalid region", Err: err}
	}

	img, err := imaging.Decode(bytes.NewReader(f.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &Error{File: f.Name, Detail: "decode", Err: err}
	}

	if region.IsFull() {
		return f, nil
	}

	rect := pixelRect(img.Bounds(), region)
	if rect.Empty() {
		return nil, &Error{File: f.Name, Detail: fmt.Sprintf("region %+v produces an empty raster", region)}
	}

	cropped := imaging.Crop(img, rect)
	if cropped.Bounds().Empty() {
		return nil, &Error{File: f.Name, Detail: fmt.Sprintf("region %+v produces an empty raster", region)}
	}

	encoded, name, mime, err := encodeAs(cropped, f)
	if err != nil {
		return nil, &Error{File: f.Name, Detail: "encode", Err: err}
	}

	out := media.FromBytes(name, encoded)
	if out.MIME != mime {
		out.MIME = mime
	}
	return out, nil
}

// pixelRect converts a normalized region into a raster rect, rounding to the
// nearest pixel and clamping to the source bounds.
func pixelRect(bounds image.Rectangle, r Region) image.Rectangle {
	w := float64(bounds.Dx())
	h := float64(bounds.Dy())

	x0 := bounds.Min.X + int(math.Round(r.X*w))
	y0 := bounds.Min.Y + int(math.Round(r.Y*h))
	x1 := bounds.Min.X + int(math.Round((r.X+r.W)*w))
	y1 := bounds.Min.Y + int(math.Round((r.Y+r.H)*h))

	return image.Rect(x0, y0, x1, y1).Intersect(bounds)
}

// encodeAs renders the cropped raster back into the source's format. JPEG
// uses a high intermediate quality so cropping itself costs little fidelity.
func encodeAs(img image.Image, src *media.File) ([]byte, string, string, error) {
	var buf bytes.Buffer
	switch src.MIME {
	case "image/jpeg", "image/jpg":
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(92)); err != nil {
			return nil, "", "", err
		}
		return buf.Bytes(), src.Name, "image/jpeg", nil
	case "image/gif":
		if err := imaging.Encode(&buf, img, imaging.GIF); err != nil {
			return nil, "", "", err
		}
		return buf.Bytes(), src.Name, "image/gif", nil
	case "image/bmp":
		if err := imaging.Encode(&buf, img, imaging.BMP); err != nil {
			return nil, "", "", err
		}
		return buf.Bytes(), src.Name, "image/bmp", nil
	default:
		// PNG and everything without its own encoder.
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, "", "", err
		}
		name := src.Name
		if src.MIME != "image/png" {
			name = media.RenameExt(name, "png")
		}
		return buf.Bytes(), name, "image/png", nil
	}
}
