package images

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
	"gocv.io/x/gocv"
)

// Input is a decoded, resized image laid out the way the detector's ONNX
// graph expects it: CHW float32, RGB, values in [0, 1].
type Input struct {
	// Data holds 3*Height*Width floats, channel-major.
	Data   []float32
	Width  int
	Height int
	// OrigWidth and OrigHeight are the image's size before the resize.
	// Width*Scale can fall short of OrigWidth because the resize truncates,
	// so box clipping must use these.
	OrigWidth  int
	OrigHeight int
	// Scale maps coordinates predicted on the resized image back to the
	// original image: original = predicted * Scale.
	Scale float32
}

// LoadImage decodes an image file into an image.Image using OpenCV.
//
// Arguments:
//   - path: Path to a .jpg/.png/.bmp file.
//
// Returns:
//   - image.Image: The decoded image.
//   - error: Error if the file is missing or not a decodable image.
func LoadImage(path string) (image.Image, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		return nil, fmt.Errorf("failed to decode image %s", path)
	}
	defer mat.Close()

	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("failed to convert image %s: %w", path, err)
	}
	return img, nil
}

// PrepareInput resizes img so its shorter side is shortSide pixels (without
// letting the longer side exceed maxSide) and converts it to CHW float32 in
// [0, 1], the input convention of the exported detector graph.
//
// Arguments:
//   - img: The decoded image.
//   - shortSide: Target length of the shorter side, in pixels.
//   - maxSide: Upper bound on the longer side. Zero disables the cap.
//
// Returns:
//   - *Input: Tensor-ready pixel data plus the scale back to original pixels.
//   - error: Error for degenerate images or parameters.
func PrepareInput(img image.Image, shortSide, maxSide int) (*Input, error) {
	bounds := img.Bounds()
	origW := bounds.Dx()
	origH := bounds.Dy()
	if origW <= 0 || origH <= 0 {
		return nil, fmt.Errorf("degenerate image %dx%d", origW, origH)
	}
	if shortSide <= 0 {
		return nil, fmt.Errorf("invalid short side %d", shortSide)
	}

	scale := float32(shortSide) / float32(min(origW, origH))
	if maxSide > 0 {
		longScale := float32(maxSide) / float32(max(origW, origH))
		if longScale < scale {
			scale = longScale
		}
	}

	newW := max(1, int(float32(origW)*scale))
	newH := max(1, int(float32(origH)*scale))

	// Lanczos3 matches the quality used for the model's training-time resize.
	img = resize.Resize(uint(newW), uint(newH), img, resize.Lanczos3)

	channelSize := newW * newH
	data := make([]float32, channelSize*3)
	red := data[0:channelSize]
	green := data[channelSize : channelSize*2]
	blue := data[channelSize*2 : channelSize*3]

	i := 0
	for y := 0; y < newH; y++ {
		for x := 0; x < newW; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			red[i] = float32(r>>8) / 255.0
			green[i] = float32(g>>8) / 255.0
			blue[i] = float32(b>>8) / 255.0
			i++
		}
	}

	return &Input{
		Data:       data,
		Width:      newW,
		Height:     newH,
		OrigWidth:  origW,
		OrigHeight: origH,
		Scale:      1.0 / scale,
	}, nil
}

// PrepareLetterbox resizes img into a fixed size x size square, padding the
// short dimension with zeros. Training graphs require static shapes, so the
// batch loop uses this rather than PrepareInput's aspect-preserving resize.
func PrepareLetterbox(img image.Image, size int) (*Input, error) {
	bounds := img.Bounds()
	origW := bounds.Dx()
	origH := bounds.Dy()
	if origW <= 0 || origH <= 0 {
		return nil, fmt.Errorf("degenerate image %dx%d", origW, origH)
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid letterbox size %d", size)
	}

	scale := float32(size) / float32(max(origW, origH))
	newW := max(1, int(float32(origW)*scale))
	newH := max(1, int(float32(origH)*scale))
	img = resize.Resize(uint(newW), uint(newH), img, resize.Lanczos3)

	channelSize := size * size
	data := make([]float32, channelSize*3)
	for y := 0; y < newH; y++ {
		for x := 0; x < newW; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			i := y*size + x
			data[i] = float32(r>>8) / 255.0
			data[channelSize+i] = float32(g>>8) / 255.0
			data[channelSize*2+i] = float32(b>>8) / 255.0
		}
	}

	return &Input{
		Data:       data,
		Width:      size,
		Height:     size,
		OrigWidth:  origW,
		OrigHeight: origH,
		Scale:      1.0 / scale,
	}, nil
}
