// Package predict - out-of-sample inference with the exported detector.
package predict

import (
	"sort"

	"github.com/nvr-ai/go-labelqa/images"
)

// Detection is a single detected object in original image coordinates.
type Detection struct {
	// The bounding box of the detection.
	Box images.Rect
	// The confidence score of the detection.
	Score float32
	// The predicted contiguous class index.
	Class int
}

// SortByScore orders detections by descending confidence, in place.
func SortByScore(dets []Detection) {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Score > dets[j].Score
	})
}

// ApplyGreedyNMS performs class-aware greedy Non-Maximum Suppression.
//
// Arguments:
//   - dets: Detections sorted by descending confidence.
//   - iouThreshold: IoU above which a lower-scoring box of the same class is
//     suppressed.
//
// Returns:
//   - Filtered slice of detections. Nil input returns nil.
func ApplyGreedyNMS(dets []Detection, iouThreshold float32) []Detection {
	n := len(dets)
	if n == 0 {
		return nil
	}

	filtered := make([]Detection, 0, n)
	used := make([]bool, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}

		anchor := dets[i]
		filtered = append(filtered, anchor)
		used[i] = true

		for j := i + 1; j < n; j++ {
			if used[j] || dets[j].Class != anchor.Class {
				continue
			}
			if images.CalculateIoU(anchor.Box, dets[j].Box) > iouThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}
