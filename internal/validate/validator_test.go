package validate_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixlift/internal/media"
	"pixlift/internal/testutil"
	"pixlift/internal/validate"
)

func newValidator(t *testing.T, rules validate.Rules) *validate.Validator {
	t.Helper()
	v, err := validate.New(rules)
	require.NoError(t, err)
	return v
}

func TestValidateAcceptsConformingFile(t *testing.T) {
	v := newValidator(t, validate.Rules{
		MaxSizeMB:    5,
		AllowedTypes: []string{"image/png", "image/jpeg"},
		MinWidth:     10,
		MinHeight:    10,
		MaxWidth:     4096,
		MaxHeight:    4096,
	})

	f := media.FromBytes("ok.png", testutil.SolidPNG(t, 64, 48))
	require.NoError(t, v.Validate(context.Background(), f))
}

func TestValidateRejectsOversize(t *testing.T) {
	v := newValidator(t, validate.Rules{MaxSizeMB: 5})

	f := &media.File{
		Name: "big.jpg",
		MIME: "image/jpeg",
		Data: make([]byte, 6*1024*1024),
	}

	err := v.Validate(context.Background(), f)
	require.Error(t, err)

	var verr *validate.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, validate.ReasonOversize, verr.Reason)
	// The message must cite both the configured limit and the actual size.
	assert.True(t, strings.Contains(err.Error(), "5MB"), "message should cite the 5MB limit: %s", err)
	assert.True(t, strings.Contains(err.Error(), "6MB"), "message should cite the 6MB actual size: %s", err)
}

func TestValidateRejectsNonImage(t *testing.T) {
	v := newValidator(t, validate.Rules{})

	f := media.FromBytes("notes.txt", []byte("just some text, no pixels here"))
	err := v.Validate(context.Background(), f)

	var verr *validate.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, validate.ReasonNotImage, verr.Reason)
}

func TestValidateRejectsEmptyFile(t *testing.T) {
	v := newValidator(t, validate.Rules{})

	err := v.Validate(context.Background(), media.FromBytes("empty.png", nil))

	var verr *validate.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, validate.ReasonNotImage, verr.Reason)
}

func TestValidateRejectsDisallowedType(t *testing.T) {
	v := newValidator(t, validate.Rules{AllowedTypes: []string{"image/jpeg"}})

	f := media.FromBytes("pic.png", testutil.SolidPNG(t, 8, 8))
	err := v.Validate(context.Background(), f)

	var verr *validate.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, validate.ReasonTypeNotAllowed, verr.Reason)
	assert.Contains(t, err.Error(), "image/png")
}

func TestValidateAllowsJpgAlias(t *testing.T) {
	v := newValidator(t, validate.Rules{AllowedTypes: []string{"image/jpg"}})

	f := media.FromBytes("pic.jpg", testutil.JPEGImage(t, 8, 8, 80))
	require.NoError(t, v.Validate(context.Background(), f))
}

func TestValidateDimensionBounds(t *testing.T) {
	tests := []struct {
		name   string
		rules  validate.Rules
		width  int
		height int
		reject bool
	}{
		{"within bounds", validate.Rules{MinWidth: 10, MinHeight: 10, MaxWidth: 100, MaxHeight: 100}, 50, 50, false},
		{"too narrow", validate.Rules{MinWidth: 100, MinHeight: 10}, 50, 50, true},
		{"too short", validate.Rules{MinWidth: 10, MinHeight: 100}, 50, 50, true},
		{"too wide", validate.Rules{MaxWidth: 40, MaxHeight: 100}, 50, 50, true},
		{"too tall", validate.Rules{MaxWidth: 100, MaxHeight: 40}, 50, 50, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newValidator(t, tt.rules)
			f := media.FromBytes("dims.png", testutil.SolidPNG(t, tt.width, tt.height))

			err := v.Validate(context.Background(), f)
			if !tt.reject {
				require.NoError(t, err)
				return
			}

			var verr *validate.Error
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, validate.ReasonDimensions, verr.Reason)
		})
	}
}

func TestValidateProbeFailureIsDistinctError(t *testing.T) {
	v := newValidator(t, validate.Rules{MinWidth: 10})

	// A BMP signature with a truncated header: sniffs as an image but
	// cannot be probed.
	f := media.FromBytes("broken.bmp", []byte{0x42, 0x4D, 0x00, 0x01, 0x02, 0x03, 0x04, 0x05})
	err := v.Validate(context.Background(), f)

	var verr *validate.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, validate.ReasonProbeFailed, verr.Reason)
}

func TestValidateIsDeterministic(t *testing.T) {
	v := newValidator(t, validate.Rules{
		MaxSizeMB: 1,
		MinWidth:  10,
		MinHeight: 10,
	})

	good := media.FromBytes("good.png", testutil.SolidPNG(t, 32, 32))
	bad := media.FromBytes("small.png", testutil.SolidPNG(t, 4, 4))

	// Repeated validation, including cache-hit probes, must yield the same
	// verdict every time.
	for i := 0; i < 3; i++ {
		require.NoError(t, v.Validate(context.Background(), good), "run %d", i)

		err := v.Validate(context.Background(), bad)
		var verr *validate.Error
		require.ErrorAs(t, err, &verr, "run %d", i)
		assert.Equal(t, validate.ReasonDimensions, verr.Reason, "run %d", i)
	}
}

func TestValidateHonorsContextCancellation(t *testing.T) {
	v := newValidator(t, validate.Rules{MinWidth: 10})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := media.FromBytes("late.png", testutil.SolidPNG(t, 32, 32))
	err := v.Validate(ctx, f)

	var verr *validate.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, validate.ReasonProbeFailed, verr.Reason)
	assert.Contains(t, err.Error(), "context canceled")
}

func TestProbeReturnsDimensions(t *testing.T) {
	v := newValidator(t, validate.Rules{ProbeDimensions: true})

	f := media.FromBytes("probe.jpg", testutil.JPEGImage(t, 120, 80, 85))
	info, err := v.Probe(context.Background(), f)
	require.NoError(t, err)
	assert.Equal(t, 120, info.Width)
	assert.Equal(t, 80, info.Height)
	assert.Equal(t, "jpeg", info.Format)
}
