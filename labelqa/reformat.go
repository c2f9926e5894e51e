// Package labelqa - reshapes detector output into the per-class arrays a
// label-error-detection library consumes, and extracts the matching
// ground-truth arrays from the annotation file.
package labelqa

import (
	"fmt"

	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-labelqa/predict"
)

// ClassBlock is the detections of one class on one image: Rows rows of
// [x1, y1, x2, y2, score], flattened row-major. A class with no detections
// has Rows == 0 and empty Data, the (0, 5) zero-padding of the array format.
type ClassBlock struct {
	Class int
	Rows  int
	Data  []float32
}

// Tensor returns the block as a dense (Rows, 5) float32 tensor. Blocks with
// no rows have no tensor representation and return an error; callers persist
// them through the manifest's shape entry instead.
func (b ClassBlock) Tensor() (*tensor.Dense, error) {
	if b.Rows == 0 {
		return nil, fmt.Errorf("class %d has no detections", b.Class)
	}
	if len(b.Data) != b.Rows*5 {
		return nil, fmt.Errorf("class %d block has %d floats, want %d", b.Class, len(b.Data), b.Rows*5)
	}
	return tensor.New(tensor.WithShape(b.Rows, 5), tensor.WithBacking(b.Data)), nil
}

// ImagePredictions is one image's detections grouped by class: exactly one
// block per class, in class-index order.
type ImagePredictions struct {
	ImageID int64
	Blocks  []ClassBlock
}

// Reformat groups an image's detections by predicted class.
//
// Every class in [0, numClasses) gets a block, so an image with no
// detections at all still yields numClasses empty blocks. Within a block,
// detections keep the order they were passed in.
//
// Arguments:
//   - dets: The image's detections.
//   - numClasses: Total class count of the model.
//
// Returns:
//   - []ClassBlock: numClasses blocks in class order.
//   - error: A detection with a class index outside [0, numClasses) is an
//     error, never silently dropped.
func Reformat(dets []predict.Detection, numClasses int) ([]ClassBlock, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("numClasses must be positive, got %d", numClasses)
	}

	blocks := make([]ClassBlock, numClasses)
	for c := range blocks {
		blocks[c].Class = c
	}

	for _, det := range dets {
		if det.Class < 0 || det.Class >= numClasses {
			return nil, fmt.Errorf("detection has class %d, outside [0, %d)", det.Class, numClasses)
		}
		b := &blocks[det.Class]
		b.Data = append(b.Data, det.Box.X1, det.Box.Y1, det.Box.X2, det.Box.Y2, det.Score)
		b.Rows++
	}

	return blocks, nil
}

// ReformatAll applies Reformat to every image of a detection run, preserving
// image order.
func ReformatAll(images []predict.ImageDetections, numClasses int) ([]ImagePredictions, error) {
	out := make([]ImagePredictions, 0, len(images))
	for _, img := range images {
		blocks, err := Reformat(img.Detections, numClasses)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", img.ImageID, err)
		}
		out = append(out, ImagePredictions{ImageID: img.ImageID, Blocks: blocks})
	}
	return out, nil
}
