package labelqa

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/go-labelqa/coco"
)

const gtAnnotations = `{
	"images": [
		{"id": 3, "file_name": "frame-3.jpg", "width": 640, "height": 480},
		{"id": 1, "file_name": "frame-1.jpg", "width": 640, "height": 480}
	],
	"annotations": [
		{"id": 10, "image_id": 1, "category_id": 6, "bbox": [10, 20, 30, 40], "area": 1200, "iscrowd": 0},
		{"id": 11, "image_id": 1, "category_id": 3, "bbox": [0, 0, 5, 5], "area": 25, "iscrowd": 0}
	],
	"categories": [
		{"id": 3, "name": "scratch", "supercategory": "defect"},
		{"id": 6, "name": "dent", "supercategory": "defect"}
	]
}`

func TestGroundTruth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instances.json")
	require.NoError(t, os.WriteFile(path, []byte(gtAnnotations), 0644))
	ds, err := coco.Load(path)
	require.NoError(t, err)

	labels, err := GroundTruth(ds)
	require.NoError(t, err)
	require.Len(t, labels, 2)

	// Ascending image-ID order, regardless of file order.
	assert.Equal(t, int64(1), labels[0].ImageID)
	assert.Equal(t, int64(3), labels[1].ImageID)

	// XYWH converted to XYXY, categories mapped to contiguous indices.
	assert.Equal(t, []float32{10, 20, 40, 60, 0, 0, 5, 5}, labels[0].Boxes)
	assert.Equal(t, []int64{1, 0}, labels[0].Labels)

	// Unannotated image yields empty arrays, not a missing entry.
	assert.Empty(t, labels[1].Boxes)
	assert.Empty(t, labels[1].Labels)
}
