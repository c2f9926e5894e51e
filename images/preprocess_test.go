package images

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidImage(w, h int, c color.RGBA) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

// TestPrepareInput validates the aspect-preserving resize and CHW layout.
func TestPrepareInput(t *testing.T) {
	img := solidImage(200, 100, color.RGBA{R: 255, A: 255})

	input, err := PrepareInput(img, 50, 0)
	require.NoError(t, err)

	// Shorter side (100) scaled to 50, longer side follows the aspect ratio.
	assert.Equal(t, 50, input.Height)
	assert.Equal(t, 100, input.Width)
	assert.Equal(t, 3*50*100, len(input.Data))
	assert.InDelta(t, 2.0, float64(input.Scale), 0.001)
	assert.Equal(t, 200, input.OrigWidth)
	assert.Equal(t, 100, input.OrigHeight)

	// Red channel saturated, green and blue empty.
	channelSize := input.Width * input.Height
	assert.InDelta(t, 1.0, float64(input.Data[0]), 0.01)
	assert.InDelta(t, 0.0, float64(input.Data[channelSize]), 0.01)
	assert.InDelta(t, 0.0, float64(input.Data[channelSize*2]), 0.01)
}

func TestPrepareInputMaxSideCap(t *testing.T) {
	img := solidImage(400, 100, color.RGBA{B: 255, A: 255})

	// Shorter side wants x2 (100 -> 200), but the longer side would become
	// 800 > 500, so the cap wins and the scale becomes 500/400.
	input, err := PrepareInput(img, 200, 500)
	require.NoError(t, err)
	assert.Equal(t, 500, input.Width)
	assert.Equal(t, 125, input.Height)
}

func TestPrepareInputRejectsBadArgs(t *testing.T) {
	img := solidImage(10, 10, color.RGBA{A: 255})
	_, err := PrepareInput(img, 0, 0)
	assert.Error(t, err)
}

func TestPrepareLetterbox(t *testing.T) {
	img := solidImage(200, 100, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	input, err := PrepareLetterbox(img, 64)
	require.NoError(t, err)
	assert.Equal(t, 64, input.Width)
	assert.Equal(t, 64, input.Height)
	assert.Equal(t, 3*64*64, len(input.Data))
	assert.Equal(t, 200, input.OrigWidth)
	assert.Equal(t, 100, input.OrigHeight)

	// Top rows carry image content, the padded bottom rows stay zero.
	channelSize := 64 * 64
	assert.InDelta(t, 1.0, float64(input.Data[0]), 0.01)
	lastRow := 63 * 64
	for c := 0; c < 3; c++ {
		assert.Zero(t, input.Data[c*channelSize+lastRow])
	}
}

func TestLoadImageMissingFile(t *testing.T) {
	_, err := LoadImage("does-not-exist.jpg")
	assert.Error(t, err)
}
