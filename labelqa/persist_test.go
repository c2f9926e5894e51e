package labelqa

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/go-labelqa/predict"
)

func TestSaveAndLoadManifest(t *testing.T) {
	dir := t.TempDir()

	runs := []predict.ImageDetections{
		{ImageID: 1, Detections: []predict.Detection{
			det(10, 20, 30, 40, 0.9, 0),
			det(50, 60, 70, 80, 0.8, 2),
		}},
		{ImageID: 2, Detections: nil},
	}
	preds, err := ReformatAll(runs, 3)
	require.NoError(t, err)

	require.NoError(t, Save(dir, preds, 3))

	manifest, err := LoadManifest(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, manifest.NumClasses)
	require.Len(t, manifest.Images, 2)

	img1 := manifest.Images[0]
	assert.Equal(t, int64(1), img1.ImageID)
	require.Len(t, img1.Classes, 3)
	assert.Equal(t, 1, img1.Classes[0].Rows)
	assert.NotEmpty(t, img1.Classes[0].File)
	assert.Equal(t, 0, img1.Classes[1].Rows)
	assert.Empty(t, img1.Classes[1].File)

	// Every non-empty block's npy file exists and round-trips.
	raw, err := os.Open(filepath.Join(dir, img1.Classes[0].File))
	require.NoError(t, err)
	defer raw.Close()
	dense := &tensor.Dense{}
	require.NoError(t, dense.ReadNpy(raw))
	assert.Equal(t, []int{1, 5}, []int(dense.Shape()))
	assert.Equal(t, []float32{10, 20, 30, 40, 0.9}, dense.Data().([]float32))

	// The empty image has no files, only manifest entries.
	for _, c := range manifest.Images[1].Classes {
		assert.Equal(t, 0, c.Rows)
		assert.Empty(t, c.File)
	}
}

func TestLoadManifestMissing(t *testing.T) {
	_, err := LoadManifest(t.TempDir())
	assert.Error(t, err)
}

func TestSaveGroundTruth(t *testing.T) {
	dir := t.TempDir()
	labels := []ImageLabels{
		{ImageID: 1, Boxes: []float32{10, 20, 40, 60, 100, 100, 150, 150}, Labels: []int64{0, 1}},
		{ImageID: 5, Boxes: nil, Labels: nil},
	}

	require.NoError(t, SaveGroundTruth(dir, labels))

	raw, err := os.ReadFile(filepath.Join(dir, "labels.json"))
	require.NoError(t, err)
	body := string(raw)
	assert.Contains(t, body, `"image_id": 1`)
	assert.Contains(t, body, `"image_id": 5`)
	assert.Contains(t, body, "150")
}
