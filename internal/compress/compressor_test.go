package compress_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixlift/internal/compress"
	"pixlift/internal/media"
	"pixlift/internal/testutil"
)

func TestCompressShrinksLargeJPEG(t *testing.T) {
	data := testutil.JPEGImage(t, 800, 600, 95)
	f := media.FromBytes("holiday.jpg", data)

	c := compress.New()
	out, err := c.Compress(context.Background(), f, compress.Options{
		Quality: 60,
	})
	require.NoError(t, err)

	assert.False(t, out.Skipped)
	assert.Equal(t, f.Size(), out.OriginalSize)
	assert.Less(t, out.CompressedSize, out.OriginalSize)
	assert.Equal(t, out.CompressedSize, out.File.Size())
	assert.Less(t, out.Ratio, 1.0)
	assert.Equal(t, "image/jpeg", out.File.MIME)
}

func TestCompressKeepsOriginalWhenOutputIsLarger(t *testing.T) {
	// A low-quality JPEG re-encoded at a higher quality grows; the original
	// must be forwarded untouched.
	data := testutil.JPEGImage(t, 200, 200, 30)
	f := media.FromBytes("already-tiny.jpg", data)

	c := compress.New()
	out, err := c.Compress(context.Background(), f, compress.Options{
		Quality: 90,
	})
	require.NoError(t, err)

	assert.True(t, out.Skipped)
	assert.Same(t, f, out.File)
	assert.Equal(t, out.OriginalSize, out.CompressedSize)
	assert.Equal(t, 1.0, out.Ratio)
	assert.True(t, bytes.Equal(data, out.File.Data))
}

func TestCompressResizesToMaxDimension(t *testing.T) {
	data := testutil.JPEGImage(t, 800, 600, 90)
	f := media.FromBytes("wide.jpg", data)

	c := compress.New()
	out, err := c.Compress(context.Background(), f, compress.Options{
		MaxDimension: 200,
		Quality:      80,
	})
	require.NoError(t, err)
	require.False(t, out.Skipped)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(out.File.Data))
	require.NoError(t, err)
	assert.LessOrEqual(t, cfg.Width, 200)
	assert.LessOrEqual(t, cfg.Height, 200)
	// Aspect ratio survives the fit.
	assert.Equal(t, 200, cfg.Width)
	assert.Equal(t, 150, cfg.Height)
}

func TestCompressWalksQualityTowardTarget(t *testing.T) {
	data := testutil.JPEGImage(t, 640, 480, 95)
	f := media.FromBytes("big.jpg", data)

	c := compress.New()

	single, err := c.Compress(context.Background(), f, compress.Options{Quality: 90})
	require.NoError(t, err)

	walked, err := c.Compress(context.Background(), f, compress.Options{
		Quality:      90,
		TargetSizeMB: 0.001,
	})
	require.NoError(t, err)

	assert.False(t, walked.Skipped)
	// The walk hits the quality floor before a 1KB target, so the output is
	// strictly below a single pass at the initial quality.
	assert.Less(t, walked.CompressedSize, single.CompressedSize)
}

func TestCompressForcedConversionDisablesSkip(t *testing.T) {
	data := testutil.SolidPNG(t, 64, 64)
	f := media.FromBytes("logo.png", data)

	c := compress.New()
	out, err := c.Compress(context.Background(), f, compress.Options{
		Quality: 85,
		Format:  "jpeg",
	})
	require.NoError(t, err)

	// Even when the JPEG is larger than the compact PNG, a requested
	// conversion is honored.
	assert.False(t, out.Skipped)
	assert.Equal(t, "image/jpeg", out.File.MIME)
	assert.Equal(t, "logo.jpg", out.File.Name)
}

func TestCompressKeepsPNGFormatByDefault(t *testing.T) {
	data := testutil.NoisePNG(t, 120, 120)
	f := media.FromBytes("pattern.png", data)

	c := compress.New()
	out, err := c.Compress(context.Background(), f, compress.Options{Quality: 80})
	require.NoError(t, err)
	assert.Equal(t, "image/png", out.File.MIME)
}

func TestCompressRejectsCorruptPayload(t *testing.T) {
	f := media.FromBytes("broken.jpg", []byte("definitely not an image"))

	c := compress.New()
	_, err := c.Compress(context.Background(), f, compress.Options{})
	require.Error(t, err)

	var cerr *compress.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "decode", cerr.Op)
	assert.Equal(t, "broken.jpg", cerr.File)
}

func TestCompressHonorsContextCancellation(t *testing.T) {
	data := testutil.JPEGImage(t, 100, 100, 80)
	f := media.FromBytes("late.jpg", data)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := compress.New()
	_, err := c.Compress(ctx, f, compress.Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCompressProgressIsMonotonicPerInvocation(t *testing.T) {
	dataA := testutil.JPEGImage(t, 400, 300, 95)
	dataB := testutil.NoisePNG(t, 300, 300)

	c := compress.New()

	var wg sync.WaitGroup
	collect := func(f *media.File, opts compress.Options, sink *[]int) {
		defer wg.Done()
		opts.OnProgress = func(pct int) { *sink = append(*sink, pct) }
		_, err := c.Compress(context.Background(), f, opts)
		assert.NoError(t, err)
	}

	var seqA, seqB []int
	wg.Add(2)
	go collect(media.FromBytes("a.jpg", dataA), compress.Options{Quality: 70, TargetSizeMB: 0.001}, &seqA)
	go collect(media.FromBytes("b.png", dataB), compress.Options{Quality: 70}, &seqB)
	wg.Wait()

	for name, seq := range map[string][]int{"a": seqA, "b": seqB} {
		require.NotEmpty(t, seq, "sequence %s", name)
		assert.Equal(t, 0, seq[0], "sequence %s starts at zero", name)
		assert.Equal(t, 100, seq[len(seq)-1], "sequence %s ends at full", name)
		for i := 1; i < len(seq); i++ {
			assert.Greater(t, seq[i], seq[i-1], "sequence %s is strictly increasing", name)
		}
	}
}
