// Package images - geometry and tensor preprocessing for detector inputs.
package images

import (
	"github.com/chewxy/math32"
)

// Rect is a lightweight bounding box in pixel coordinates.
// Coordinates are float32 because detector outputs are sub-pixel.
type Rect struct {
	// X2,Y2 are exclusive (like image.Rectangle).
	X1, Y1, X2, Y2 float32
}

// FromXYWH converts a COCO-style [x, y, width, height] box into a Rect.
//
// Arguments:
//   - x, y: Top-left corner of the box.
//   - w, h: Width and height of the box.
//
// Returns:
//   - Rect with exclusive bottom-right corner.
func FromXYWH(x, y, w, h float32) Rect {
	return Rect{X1: x, Y1: y, X2: x + w, Y2: y + h}
}

// Width returns the width of the rectangle.
func (r Rect) Width() float32 { return r.X2 - r.X1 }

// Height returns the height of the rectangle.
func (r Rect) Height() float32 { return r.Y2 - r.Y1 }

// Area returns the area of the rectangle, zero for degenerate boxes.
func (r Rect) Area() float32 {
	if r.X2 <= r.X1 || r.Y2 <= r.Y1 {
		return 0
	}
	return (r.X2 - r.X1) * (r.Y2 - r.Y1)
}

// Scale returns the rectangle with all coordinates multiplied by s.
// Used to map boxes predicted on a resized image back to original pixels.
func (r Rect) Scale(s float32) Rect {
	return Rect{X1: r.X1 * s, Y1: r.Y1 * s, X2: r.X2 * s, Y2: r.Y2 * s}
}

// Clip constrains the rectangle to an image of the given width and height.
func (r Rect) Clip(width, height float32) Rect {
	return Rect{
		X1: math32.Max(0, math32.Min(r.X1, width)),
		Y1: math32.Max(0, math32.Min(r.Y1, height)),
		X2: math32.Max(0, math32.Min(r.X2, width)),
		Y2: math32.Max(0, math32.Min(r.Y2, height)),
	}
}

// CalculateIoU measures the overlap of two rectangles as
// intersection area over union area, in [0, 1].
//
// A value of 1.0 means the rectangles are identical, 0.0 means they are
// disjoint. Degenerate rectangles always score 0.
func CalculateIoU(r, o Rect) float32 {
	// The intersection's corners are the max of the starting coordinates and
	// the min of the ending coordinates.
	ix1 := math32.Max(r.X1, o.X1)
	iy1 := math32.Max(r.Y1, o.Y1)
	ix2 := math32.Min(r.X2, o.X2)
	iy2 := math32.Min(r.Y2, o.Y2)

	interW := ix2 - ix1
	interH := iy2 - iy1
	if interW <= 0 || interH <= 0 {
		return 0
	}
	interArea := interW * interH

	// Inclusion-exclusion: Union(A, B) = Area(A) + Area(B) - Intersection(A, B).
	unionArea := r.Area() + o.Area() - interArea
	if unionArea <= 0 {
		return 0
	}
	return interArea / unionArea
}
