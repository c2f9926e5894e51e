// Package coco - parsing, validation, and registration of COCO-format
// object-detection datasets.
package coco

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/pkg/errors"
)

// Image is one entry of the "images" section of a COCO annotation file.
type Image struct {
	ID       int64  `json:"id"`
	FileName string `json:"file_name"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// Annotation is one entry of the "annotations" section. BBox is COCO-style
// [x, y, width, height] in pixels.
type Annotation struct {
	ID         int64      `json:"id"`
	ImageID    int64      `json:"image_id"`
	CategoryID int        `json:"category_id"`
	BBox       [4]float32 `json:"bbox"`
	Area       float32    `json:"area"`
	IsCrowd    int        `json:"iscrowd"`
}

// Category is one entry of the "categories" section. COCO category IDs are
// sparse (e.g. the 80-class set runs 1..90 with gaps), so they are never used
// directly as class indices.
type Category struct {
	ID            int    `json:"id"`
	Name          string `json:"name"`
	Supercategory string `json:"supercategory"`
}

// Dataset is a parsed and validated COCO annotation file, with lookup
// indices built on load. A Dataset is immutable after Load returns.
type Dataset struct {
	Images      []Image      `json:"images"`
	Annotations []Annotation `json:"annotations"`
	Categories  []Category   `json:"categories"`

	imageByID  map[int64]*Image
	annsByImg  map[int64][]*Annotation
	classIndex map[int]int // category ID -> contiguous class index
	categoryID []int       // contiguous class index -> category ID
}

// Load parses and validates a COCO annotation file.
//
// Arguments:
//   - path: Path to the annotation JSON.
//
// Returns:
//   - *Dataset: The parsed dataset with lookup indices built.
//   - error: Parse or validation error.
func Load(path string) (*Dataset, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading annotation file %s", path)
	}

	ds := &Dataset{}
	if err := json.Unmarshal(raw, ds); err != nil {
		return nil, errors.Wrapf(err, "parsing annotation file %s", path)
	}
	if err := ds.buildIndices(); err != nil {
		return nil, errors.Wrapf(err, "validating annotation file %s", path)
	}
	return ds, nil
}

// buildIndices validates the dataset and constructs the lookup maps.
// Category IDs are mapped to contiguous class indices in ascending ID order,
// so the mapping is stable across loads of the same file.
func (ds *Dataset) buildIndices() error {
	if len(ds.Categories) == 0 {
		return fmt.Errorf("no categories")
	}

	ds.imageByID = make(map[int64]*Image, len(ds.Images))
	for i := range ds.Images {
		img := &ds.Images[i]
		if _, dup := ds.imageByID[img.ID]; dup {
			return fmt.Errorf("duplicate image id %d", img.ID)
		}
		if img.FileName == "" {
			return fmt.Errorf("image %d has no file_name", img.ID)
		}
		ds.imageByID[img.ID] = img
	}

	ids := make([]int, 0, len(ds.Categories))
	seen := make(map[int]bool, len(ds.Categories))
	for _, cat := range ds.Categories {
		if seen[cat.ID] {
			return fmt.Errorf("duplicate category id %d", cat.ID)
		}
		seen[cat.ID] = true
		ids = append(ids, cat.ID)
	}
	sort.Ints(ids)
	ds.classIndex = make(map[int]int, len(ids))
	ds.categoryID = ids
	for i, id := range ids {
		ds.classIndex[id] = i
	}

	ds.annsByImg = make(map[int64][]*Annotation)
	seenAnn := make(map[int64]bool, len(ds.Annotations))
	for i := range ds.Annotations {
		ann := &ds.Annotations[i]
		if seenAnn[ann.ID] {
			return fmt.Errorf("duplicate annotation id %d", ann.ID)
		}
		seenAnn[ann.ID] = true
		if _, ok := ds.imageByID[ann.ImageID]; !ok {
			return fmt.Errorf("annotation %d references unknown image %d", ann.ID, ann.ImageID)
		}
		if _, ok := ds.classIndex[ann.CategoryID]; !ok {
			return fmt.Errorf("annotation %d references unknown category %d", ann.ID, ann.CategoryID)
		}
		if ann.BBox[2] <= 0 || ann.BBox[3] <= 0 {
			return fmt.Errorf("annotation %d has degenerate bbox %v", ann.ID, ann.BBox)
		}
		ds.annsByImg[ann.ImageID] = append(ds.annsByImg[ann.ImageID], ann)
	}

	return nil
}

// NumClasses returns the number of categories in the dataset.
func (ds *Dataset) NumClasses() int {
	return len(ds.categoryID)
}

// ClassIndex maps a COCO category ID to its contiguous class index.
//
// Returns:
//   - int: The class index in [0, NumClasses).
//   - bool: False if the category ID is not part of this dataset.
func (ds *Dataset) ClassIndex(categoryID int) (int, bool) {
	idx, ok := ds.classIndex[categoryID]
	return idx, ok
}

// CategoryID maps a contiguous class index back to the COCO category ID.
func (ds *Dataset) CategoryID(classIndex int) (int, bool) {
	if classIndex < 0 || classIndex >= len(ds.categoryID) {
		return 0, false
	}
	return ds.categoryID[classIndex], true
}

// ClassName returns the category name for a contiguous class index.
func (ds *Dataset) ClassName(classIndex int) string {
	id, ok := ds.CategoryID(classIndex)
	if !ok {
		return ""
	}
	for _, cat := range ds.Categories {
		if cat.ID == id {
			return cat.Name
		}
	}
	return ""
}

// ImageByID returns the image record for an image ID.
func (ds *Dataset) ImageByID(id int64) (*Image, bool) {
	img, ok := ds.imageByID[id]
	return img, ok
}

// AnnotationsForImage returns the annotations attached to an image, in file
// order. The slice is shared; callers must not mutate it.
func (ds *Dataset) AnnotationsForImage(imageID int64) []*Annotation {
	return ds.annsByImg[imageID]
}

// ImageIDs returns all image IDs in ascending order. Inference and export
// iterate in this order so that downstream arrays line up run to run.
func (ds *Dataset) ImageIDs() []int64 {
	ids := make([]int64, 0, len(ds.Images))
	for _, img := range ds.Images {
		ids = append(ids, img.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
