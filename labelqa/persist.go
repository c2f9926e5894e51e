package labelqa

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Manifest describes a persisted prediction export. The downstream loader
// reads the manifest, loads each listed .npy file, and materializes empty
// blocks as (0, 5) arrays itself.
type Manifest struct {
	NumClasses int             `json:"num_classes"`
	Images     []ManifestImage `json:"images"`
}

// ManifestImage lists one image's per-class blocks.
type ManifestImage struct {
	ImageID int64           `json:"image_id"`
	Classes []ManifestBlock `json:"classes"`
}

// ManifestBlock points at one class block's array file. File is empty when
// the block has no rows.
type ManifestBlock struct {
	Class int    `json:"class"`
	Rows  int    `json:"rows"`
	File  string `json:"file,omitempty"`
}

const manifestName = "predictions.json"

// Save writes a prediction export into dir: one .npy file per non-empty
// class block plus a manifest tying them together.
//
// Arguments:
//   - dir: Output directory, created if absent.
//   - preds: Per-image predictions, typically from ReformatAll.
//   - numClasses: Total class count, recorded in the manifest.
//
// Returns:
//   - error: I/O or serialization error.
func Save(dir string, preds []ImagePredictions, numClasses int) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "creating export dir %s", dir)
	}

	manifest := Manifest{NumClasses: numClasses}
	for _, img := range preds {
		entry := ManifestImage{ImageID: img.ImageID}
		for _, block := range img.Blocks {
			mb := ManifestBlock{Class: block.Class, Rows: block.Rows}
			if block.Rows > 0 {
				mb.File = fmt.Sprintf("pred_img%d_class%d.npy", img.ImageID, block.Class)
				if err := writeBlockNpy(filepath.Join(dir, mb.File), block); err != nil {
					return err
				}
			}
			entry.Classes = append(entry.Classes, mb)
		}
		manifest.Images = append(manifest.Images, entry)
	}

	return writeJSON(filepath.Join(dir, manifestName), manifest)
}

func writeBlockNpy(path string, block ClassBlock) error {
	dense, err := block.Tensor()
	if err != nil {
		return errors.Wrapf(err, "block for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()
	if err := dense.WriteNpy(f); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

// LoadManifest reads back a prediction export's manifest.
func LoadManifest(dir string) (*Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, errors.Wrapf(err, "reading manifest in %s", dir)
	}
	manifest := &Manifest{}
	if err := json.Unmarshal(raw, manifest); err != nil {
		return nil, errors.Wrapf(err, "parsing manifest in %s", dir)
	}
	return manifest, nil
}

// groundTruthFile is the JSON form of one image's labels: boxes as nested
// (m, 4) rows so a numpy loader gets the shape for free.
type groundTruthFile struct {
	Images []groundTruthImage `json:"images"`
}

type groundTruthImage struct {
	ImageID int64        `json:"image_id"`
	Boxes   [][4]float32 `json:"boxes"`
	Labels  []int64      `json:"labels"`
}

const groundTruthName = "labels.json"

// SaveGroundTruth writes the ground-truth side of the audit export.
func SaveGroundTruth(dir string, labels []ImageLabels) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "creating export dir %s", dir)
	}

	out := groundTruthFile{}
	for _, img := range labels {
		entry := groundTruthImage{
			ImageID: img.ImageID,
			Boxes:   make([][4]float32, 0, len(img.Labels)),
			Labels:  img.Labels,
		}
		for i := 0; i < len(img.Boxes); i += 4 {
			entry.Boxes = append(entry.Boxes, [4]float32{
				img.Boxes[i], img.Boxes[i+1], img.Boxes[i+2], img.Boxes[i+3],
			})
		}
		out.Images = append(out.Images, entry)
	}

	return writeJSON(filepath.Join(dir, groundTruthName), out)
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "creating %s", path)
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return errors.Wrapf(enc.Encode(v), "writing %s", path)
}
