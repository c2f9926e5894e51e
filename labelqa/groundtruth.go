package labelqa

import (
	"fmt"

	"github.com/nvr-ai/go-labelqa/coco"
	"github.com/nvr-ai/go-labelqa/images"
)

// ImageLabels is one image's ground truth in the label-error library's
// format: an (m, 4) box array in XYXY and an (m,) class-index array, in the
// annotation file's order.
type ImageLabels struct {
	ImageID int64
	// Boxes holds m*4 floats, row-major XYXY.
	Boxes []float32
	// Labels holds m contiguous class indices.
	Labels []int64
}

// GroundTruth extracts per-image label arrays from a dataset, in ascending
// image-ID order so they line up with a DetectDataset run on the same
// dataset. Images without annotations yield empty (0, 4) and (0,) arrays.
func GroundTruth(ds *coco.Dataset) ([]ImageLabels, error) {
	ids := ds.ImageIDs()
	out := make([]ImageLabels, 0, len(ids))

	for _, id := range ids {
		anns := ds.AnnotationsForImage(id)
		labels := ImageLabels{
			ImageID: id,
			Boxes:   make([]float32, 0, len(anns)*4),
			Labels:  make([]int64, 0, len(anns)),
		}
		for _, ann := range anns {
			classIdx, ok := ds.ClassIndex(ann.CategoryID)
			if !ok {
				return nil, fmt.Errorf("annotation %d has unknown category %d", ann.ID, ann.CategoryID)
			}
			r := images.FromXYWH(ann.BBox[0], ann.BBox[1], ann.BBox[2], ann.BBox[3])
			labels.Boxes = append(labels.Boxes, r.X1, r.Y1, r.X2, r.Y2)
			labels.Labels = append(labels.Labels, int64(classIdx))
		}
		out = append(out, labels)
	}
	return out, nil
}
