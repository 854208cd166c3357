// Package compress shrinks accepted images: downscale to a bounded dimension,
// then re-encode, iterating JPEG quality toward a target size. An output that
// fails to beat the original is discarded in favor of the original bytes.
package compress

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"

	"pixlift/internal/logging"
	"pixlift/internal/media"
)

// Options configures one compression invocation. OnProgress belongs to the
// invocation, so overlapping runs cannot cross-report.
type Options struct {
	MaxDimension int     // longest output side in pixels; 0 disables resizing
	TargetSizeMB float64 // iterate quality toward this size; 0 takes one pass
	Quality      int     // initial JPEG quality hint; defaults to 82
	Format       string  // "jpeg" or "png" to force conversion; "" keeps the source format
	OnProgress   func(percent int)
}

// Outcome reports a finished compression.
//
// Skipped is true iff the encoded output was not smaller than the input and
// no format conversion was requested; the original file is then forwarded
// unchanged and CompressedSize equals OriginalSize.
type Outcome struct {
	File           *media.File
	OriginalSize   int64
	CompressedSize int64
	Ratio          float64
	Skipped        bool
}

// Error is a decode or encode failure. It is the only failure mode; an
// inefficient compression is a skip, not an error.
type Error struct {
	Op   string // "decode" or "encode"
	File string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("compress %s: %s %s: %v", e.File, e.Op, e.File, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

const (
	defaultQuality = 82
	minQuality     = 40
	qualityStep    = 5
)

// Compressor re-encodes images. It is stateless apart from its logger and is
// safe for concurrent use.
type Compressor struct {
	logger logging.Logger
}

// Option configures a Compressor.
type Option func(*Compressor)

// WithLogger attaches a logger for per-invocation diagnostics.
func WithLogger(logger logging.Logger) Option {
	return func(c *Compressor) {
		c.logger = logging.OrNop(logger)
	}
}

// New builds a Compressor.
func New(opts ...Option) *Compressor {
	c := &Compressor{logger: logging.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compress runs one invocation. It fails only when the payload cannot be
// decoded or the output cannot be encoded.
func (c *Compressor) Compress(ctx context.Context, f *media.File, opts Options) (*Outcome, error) {
	progress := newProgress(opts.OnProgress)
	progress.report(0)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(f.Data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &Error{Op: "decode", File: f.Name, Err: err}
	}
	progress.report(15)

	if opts.MaxDimension > 0 {
		bounds := img.Bounds()
		if bounds.Dx() > opts.MaxDimension || bounds.Dy() > opts.MaxDimension {
			img = imaging.Fit(img, opts.MaxDimension, opts.MaxDimension, imaging.Lanczos)
		}
	}
	progress.report(35)

	sourceFormat := formatForMIME(f.MIME)
	outFormat, conversionRequested := resolveFormat(sourceFormat, opts.Format)

	encoded, err := c.encode(ctx, img, f.Name, outFormat, opts, progress)
	if err != nil {
		return nil, err
	}
	progress.report(95)

	originalSize := f.Size()
	compressedSize := int64(len(encoded))

	// Never substitute a same-or-larger file for the original unless the
	// caller explicitly asked for a different format.
	if !conversionRequested && compressedSize >= originalSize {
		c.logger.Debug("compression of %s gained nothing (%d -> %d bytes), keeping original",
			f.Name, originalSize, compressedSize)
		progress.report(100)
		return &Outcome{
			File:           f,
			OriginalSize:   originalSize,
			CompressedSize: originalSize,
			Ratio:          1.0,
			Skipped:        true,
		}, nil
	}

	out := media.FromBytes(renameForFormat(f.Name, outFormat), encoded)
	progress.report(100)
	return &Outcome{
		File:           out,
		OriginalSize:   originalSize,
		CompressedSize: compressedSize,
		Ratio:          float64(compressedSize) / float64(originalSize),
		Skipped:        false,
	}, nil
}

// encode renders img in the requested format. JPEG output walks quality
// downward in fixed steps until the target size or the quality floor.
func (c *Compressor) encode(ctx context.Context, img image.Image, name string, format imaging.Format, opts Options, progress *progressReporter) ([]byte, error) {
	if format != imaging.JPEG {
		var buf bytes.Buffer
		var err error
		if format == imaging.PNG {
			err = imaging.Encode(&buf, img, format, imaging.PNGCompressionLevel(png.BestCompression))
		} else {
			err = imaging.Encode(&buf, img, format)
		}
		if err != nil {
			return nil, &Error{Op: "encode", File: name, Err: err}
		}
		return buf.Bytes(), nil
	}

	quality := opts.Quality
	if quality <= 0 || quality > 100 {
		quality = defaultQuality
	}

	var targetBytes int64
	if opts.TargetSizeMB > 0 {
		targetBytes = int64(opts.TargetSizeMB * 1024 * 1024)
	}

	maxPasses := 1
	if targetBytes > 0 && quality > minQuality {
		maxPasses += (quality - minQuality) / qualityStep
	}

	var buf bytes.Buffer
	for pass := 0; ; pass++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		buf.Reset()
		if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
			return nil, &Error{Op: "encode", File: name, Err: err}
		}

		// 35..90 split across the quality walk.
		progress.report(35 + (55*(pass+1))/maxPasses)

		if targetBytes == 0 || int64(buf.Len()) <= targetBytes || quality-qualityStep < minQuality {
			break
		}
		quality -= qualityStep
	}

	return buf.Bytes(), nil
}

// resolveFormat picks the output format and reports whether the caller forced
// a conversion. Sources without an encoder (webp, animated containers) fall
// back to JPEG, which still counts as unforced for the skip policy.
func resolveFormat(source imaging.Format, requested string) (imaging.Format, bool) {
	switch strings.ToLower(strings.TrimSpace(requested)) {
	case "jpeg", "jpg", "image/jpeg":
		return imaging.JPEG, source != imaging.JPEG
	case "png", "image/png":
		return imaging.PNG, source != imaging.PNG
	case "":
		if source < 0 {
			return imaging.JPEG, false
		}
		return source, false
	default:
		if source < 0 {
			return imaging.JPEG, false
		}
		return source, false
	}
}

// formatForMIME maps a sniffed MIME type to an imaging format, -1 when no
// encoder exists for it.
func formatForMIME(mime string) imaging.Format {
	switch mime {
	case "image/jpeg", "image/jpg":
		return imaging.JPEG
	case "image/png":
		return imaging.PNG
	case "image/gif":
		return imaging.GIF
	case "image/bmp":
		return imaging.BMP
	default:
		return -1
	}
}

func renameForFormat(name string, format imaging.Format) string {
	switch format {
	case imaging.JPEG:
		return media.RenameExt(name, "jpg")
	case imaging.PNG:
		return media.RenameExt(name, "png")
	case imaging.GIF:
		return media.RenameExt(name, "gif")
	case imaging.BMP:
		return media.RenameExt(name, "bmp")
	default:
		return name
	}
}

// progressReporter keeps per-invocation progress monotonic in 0..100.
type progressReporter struct {
	fn   func(int)
	last int
}

func newProgress(fn func(int)) *progressReporter {
	return &progressReporter{fn: fn, last: -1}
}

func (p *progressReporter) report(pct int) {
	if p.fn == nil {
		return
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	if pct <= p.last {
		return
	}
	p.last = pct
	p.fn(pct)
}
