package preview_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixlift/internal/media"
	"pixlift/internal/preview"
	"pixlift/internal/testutil"
)

func testFile(t *testing.T) *media.File {
	t.Helper()
	return media.FromBytes("preview.png", testutil.SolidPNG(t, 32, 32))
}

func TestAcquireReplacesPreviousHandle(t *testing.T) {
	m := preview.NewManager()

	first, err := m.Acquire(testFile(t))
	require.NoError(t, err)
	second, err := m.Acquire(testFile(t))
	require.NoError(t, err)

	assert.True(t, first.Released())
	assert.False(t, second.Released())
	assert.Same(t, second, m.Live())
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := preview.NewManager()

	h, err := m.Acquire(testFile(t))
	require.NoError(t, err)

	m.Release(h)
	m.Release(h)
	m.ReleaseLive() // nothing live anymore

	allocated, released := m.Stats()
	assert.Equal(t, uint64(1), allocated)
	assert.Equal(t, uint64(1), released)
	assert.Nil(t, m.Live())
}

func TestRenderAfterReleaseFails(t *testing.T) {
	m := preview.NewManager()

	h, err := m.Acquire(testFile(t))
	require.NoError(t, err)
	m.Release(h)

	_, err = h.Render(20, 10)
	assert.ErrorIs(t, err, preview.ErrReleased)
}

func TestEveryAcquiredHandleIsReleasedByClose(t *testing.T) {
	m := preview.NewManager()

	// Rapid re-selection: each acquisition implicitly releases the last.
	for i := 0; i < 8; i++ {
		_, err := m.Acquire(testFile(t))
		require.NoError(t, err)
	}
	m.Close()

	allocated, released := m.Stats()
	assert.Equal(t, uint64(8), allocated)
	assert.Equal(t, allocated, released)

	_, err := m.Acquire(testFile(t))
	assert.ErrorIs(t, err, preview.ErrClosed)
}

func TestRenderProducesANSIArt(t *testing.T) {
	m := preview.NewManager()

	h, err := m.Acquire(testFile(t))
	require.NoError(t, err)

	art, err := h.Render(16, 8)
	require.NoError(t, err)
	assert.NotEmpty(t, art)
	assert.True(t, strings.Contains(art, "\x1b["), "expected ANSI escape sequences")

	// Same geometry hits the cache and stays identical.
	again, err := h.Render(16, 8)
	require.NoError(t, err)
	assert.Equal(t, art, again)
}

func TestRenderRejectsCorruptImage(t *testing.T) {
	m := preview.NewManager()

	h, err := m.Acquire(media.FromBytes("junk.png", []byte("not a raster")))
	require.NoError(t, err)

	_, err = h.Render(16, 8)
	assert.Error(t, err)
}
