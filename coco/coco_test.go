package coco

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validAnnotations = `{
	"images": [
		{"id": 1, "file_name": "frame-1.jpg", "width": 640, "height": 480},
		{"id": 2, "file_name": "frame-2.jpg", "width": 640, "height": 480},
		{"id": 5, "file_name": "frame-5.jpg", "width": 320, "height": 240}
	],
	"annotations": [
		{"id": 10, "image_id": 1, "category_id": 7, "bbox": [10, 20, 30, 40], "area": 1200, "iscrowd": 0},
		{"id": 11, "image_id": 1, "category_id": 2, "bbox": [50, 60, 20, 10], "area": 200, "iscrowd": 0},
		{"id": 12, "image_id": 2, "category_id": 7, "bbox": [0, 0, 100, 100], "area": 10000, "iscrowd": 0}
	],
	"categories": [
		{"id": 2, "name": "scratch", "supercategory": "defect"},
		{"id": 7, "name": "dent", "supercategory": "defect"},
		{"id": 9, "name": "crack", "supercategory": "defect"}
	]
}`

func writeAnnotations(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "instances.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad(t *testing.T) {
	ds, err := Load(writeAnnotations(t, validAnnotations))
	require.NoError(t, err)

	assert.Equal(t, 3, ds.NumClasses())
	assert.Len(t, ds.Images, 3)
	assert.Len(t, ds.Annotations, 3)

	// Class indices are contiguous and follow ascending category ID.
	idx, ok := ds.ClassIndex(2)
	require.True(t, ok)
	assert.Equal(t, 0, idx)
	idx, ok = ds.ClassIndex(7)
	require.True(t, ok)
	assert.Equal(t, 1, idx)
	idx, ok = ds.ClassIndex(9)
	require.True(t, ok)
	assert.Equal(t, 2, idx)
	_, ok = ds.ClassIndex(42)
	assert.False(t, ok)

	// Round trip back to category IDs and names.
	id, ok := ds.CategoryID(1)
	require.True(t, ok)
	assert.Equal(t, 7, id)
	assert.Equal(t, "dent", ds.ClassName(1))
	_, ok = ds.CategoryID(3)
	assert.False(t, ok)

	// Per-image annotation lookup preserves file order.
	anns := ds.AnnotationsForImage(1)
	require.Len(t, anns, 2)
	assert.Equal(t, int64(10), anns[0].ID)
	assert.Equal(t, int64(11), anns[1].ID)
	assert.Empty(t, ds.AnnotationsForImage(5))

	img, ok := ds.ImageByID(5)
	require.True(t, ok)
	assert.Equal(t, "frame-5.jpg", img.FileName)

	assert.Equal(t, []int64{1, 2, 5}, ds.ImageIDs())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{
			name: "duplicate image id",
			body: `{"images":[{"id":1,"file_name":"a.jpg"},{"id":1,"file_name":"b.jpg"}],
				"annotations":[],"categories":[{"id":1,"name":"x"}]}`,
		},
		{
			name: "missing file_name",
			body: `{"images":[{"id":1,"file_name":""}],
				"annotations":[],"categories":[{"id":1,"name":"x"}]}`,
		},
		{
			name: "no categories",
			body: `{"images":[],"annotations":[],"categories":[]}`,
		},
		{
			name: "duplicate category id",
			body: `{"images":[],"annotations":[],
				"categories":[{"id":1,"name":"x"},{"id":1,"name":"y"}]}`,
		},
		{
			name: "annotation references unknown image",
			body: `{"images":[{"id":1,"file_name":"a.jpg"}],
				"annotations":[{"id":1,"image_id":2,"category_id":1,"bbox":[0,0,1,1]}],
				"categories":[{"id":1,"name":"x"}]}`,
		},
		{
			name: "annotation references unknown category",
			body: `{"images":[{"id":1,"file_name":"a.jpg"}],
				"annotations":[{"id":1,"image_id":1,"category_id":9,"bbox":[0,0,1,1]}],
				"categories":[{"id":1,"name":"x"}]}`,
		},
		{
			name: "degenerate bbox",
			body: `{"images":[{"id":1,"file_name":"a.jpg"}],
				"annotations":[{"id":1,"image_id":1,"category_id":1,"bbox":[5,5,0,10]}],
				"categories":[{"id":1,"name":"x"}]}`,
		},
		{
			name: "not json",
			body: `not json at all`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeAnnotations(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
