package validate

import (
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"image"

	"github.com/disintegration/imaging"

	"pixlift/internal/media"
)

// probeKey identifies a payload in the probe cache. The checksum keeps two
// different files with the same name and size from sharing a verdict.
type probeKey struct {
	name string
	size int64
	sum  uint32
}

func keyFor(f *media.File) probeKey {
	return probeKey{
		name: f.Name,
		size: f.Size(),
		sum:  crc32.ChecksumIEEE(f.Data),
	}
}

// probe reads the pixel dimensions of a candidate through a fallback chain:
// the cheap header decode first, a full decode when the header parser cannot
// handle the payload. Results are memoized.
func (v *Validator) probe(ctx context.Context, f *media.File) (media.Info, error) {
	key := keyFor(f)
	if info, ok := v.cache.Get(key); ok {
		return info, nil
	}

	if err := ctx.Err(); err != nil {
		return media.Info{}, err
	}

	info, err := decodeHeader(f.Data)
	if err != nil {
		v.logger.Debug("header probe failed for %s, falling back to full decode: %v", f.Name, err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return media.Info{}, ctxErr
		}
		info, err = decodeFull(f.Data)
	}
	if err != nil {
		return media.Info{}, fmt.Errorf("probe dimensions: %w", err)
	}

	v.cache.Add(key, info)
	return info, nil
}

func decodeHeader(data []byte) (media.Info, error) {
	config, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return media.Info{}, err
	}
	return media.Info{Width: config.Width, Height: config.Height, Format: format}, nil
}

func decodeFull(data []byte) (media.Info, error) {
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return media.Info{}, err
	}
	bounds := img.Bounds()
	return media.Info{Width: bounds.Dx(), Height: bounds.Dy()}, nil
}
