// Package training - fine-tuning of the detector through ONNX Runtime
// training sessions. The batch loop, logging, checkpointing, and model
// export live here; the optimizer schedule itself is baked into the
// training artifacts.
package training

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/pkg/errors"

	"github.com/nvr-ai/go-labelqa/coco"
	"github.com/nvr-ai/go-labelqa/config"
	"github.com/nvr-ai/go-labelqa/images"
)

// Batch is one training step's worth of data, laid out for the static-shape
// training graph.
type Batch struct {
	// Images holds B*3*S*S floats, CHW per sample.
	Images []float32
	// Boxes holds B*MaxBoxes*4 floats, XYXY in letterbox coordinates,
	// zero-padded past each sample's box count.
	Boxes []float32
	// Labels holds B*MaxBoxes class indices, PadLabel past the box count.
	Labels []int64
}

// PadLabel marks padded target slots. The loss in the training graph ignores
// these rows.
const PadLabel int64 = -1

// Sampler produces shuffled training batches from a registered dataset.
// Epoch boundaries reshuffle; the batch loop just keeps calling Next.
type Sampler struct {
	cfg  config.Config
	reg  *coco.Registry
	name string
	ds   *coco.Dataset
	rng  *rand.Rand

	order []int64
	pos   int
}

// NewSampler builds a sampler over the named registered dataset.
//
// Arguments:
//   - cfg: Run configuration; InputSize, MaxBoxesPerImage, ImagesPerBatch,
//     NumWorkers and NumClasses apply.
//   - reg: Dataset registry.
//   - name: Registered dataset name.
//   - seed: Shuffle seed, fixed per run so a run can be replayed.
//
// Returns:
//   - *Sampler: Ready sampler.
//   - error: Unknown dataset, or a class-count mismatch with the config.
func NewSampler(cfg config.Config, reg *coco.Registry, name string, seed int64) (*Sampler, error) {
	ds, err := reg.Get(name)
	if err != nil {
		return nil, err
	}
	if ds.NumClasses() != cfg.NumClasses {
		return nil, fmt.Errorf("dataset %q has %d classes, config expects %d",
			name, ds.NumClasses(), cfg.NumClasses)
	}
	if len(ds.Images) == 0 {
		return nil, fmt.Errorf("dataset %q has no images", name)
	}

	s := &Sampler{
		cfg:  cfg,
		reg:  reg,
		name: name,
		ds:   ds,
		rng:  rand.New(rand.NewSource(seed)),
	}
	s.reshuffle()
	return s, nil
}

func (s *Sampler) reshuffle() {
	s.order = s.ds.ImageIDs()
	s.rng.Shuffle(len(s.order), func(i, j int) {
		s.order[i], s.order[j] = s.order[j], s.order[i]
	})
	s.pos = 0
}

// nextIDs returns the image IDs of the next batch, wrapping and reshuffling
// at the end of an epoch.
func (s *Sampler) nextIDs() []int64 {
	ids := make([]int64, 0, s.cfg.ImagesPerBatch)
	for len(ids) < s.cfg.ImagesPerBatch {
		if s.pos >= len(s.order) {
			s.reshuffle()
		}
		ids = append(ids, s.order[s.pos])
		s.pos++
	}
	return ids
}

// Next assembles the next batch. Image decoding fans out over
// cfg.NumWorkers goroutines.
func (s *Sampler) Next() (*Batch, error) {
	ids := s.nextIDs()

	batch := newBatch(s.cfg)
	errs := make([]error, len(ids))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < max(1, s.cfg.NumWorkers); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				errs[i] = s.fillSample(batch, i, ids[i])
			}
		}()
	}
	for i := range ids {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			return nil, errors.Wrapf(err, "image %d", ids[i])
		}
	}
	return batch, nil
}

func newBatch(cfg config.Config) *Batch {
	b := cfg.ImagesPerBatch
	imgLen := 3 * cfg.InputSize * cfg.InputSize
	batch := &Batch{
		Images: make([]float32, b*imgLen),
		Boxes:  make([]float32, b*cfg.MaxBoxesPerImage*4),
		Labels: make([]int64, b*cfg.MaxBoxesPerImage),
	}
	for i := range batch.Labels {
		batch.Labels[i] = PadLabel
	}
	return batch
}

// fillSample decodes one image into slot i of the batch and writes its
// padded targets.
func (s *Sampler) fillSample(batch *Batch, i int, imageID int64) error {
	img, _ := s.ds.ImageByID(imageID)
	path, err := s.reg.ImagePath(s.name, img)
	if err != nil {
		return err
	}
	decoded, err := images.LoadImage(path)
	if err != nil {
		return err
	}
	input, err := images.PrepareLetterbox(decoded, s.cfg.InputSize)
	if err != nil {
		return err
	}

	imgLen := 3 * s.cfg.InputSize * s.cfg.InputSize
	copy(batch.Images[i*imgLen:(i+1)*imgLen], input.Data)

	boxes, labels, err := PadTargets(s.ds, s.ds.AnnotationsForImage(imageID),
		1.0/input.Scale, s.cfg.MaxBoxesPerImage)
	if err != nil {
		return err
	}
	copy(batch.Boxes[i*s.cfg.MaxBoxesPerImage*4:], boxes)
	copy(batch.Labels[i*s.cfg.MaxBoxesPerImage:], labels)
	return nil
}

// PadTargets converts an image's annotations into fixed-size target arrays:
// maxBoxes*4 box floats (XYXY, scaled by scale into letterbox coordinates)
// and maxBoxes labels, PadLabel past the annotation count. Annotations past
// maxBoxes are dropped, keeping file order.
func PadTargets(ds *coco.Dataset, anns []*coco.Annotation, scale float32, maxBoxes int) ([]float32, []int64, error) {
	boxes := make([]float32, maxBoxes*4)
	labels := make([]int64, maxBoxes)
	for i := range labels {
		labels[i] = PadLabel
	}

	n := len(anns)
	if n > maxBoxes {
		n = maxBoxes
	}
	for i := 0; i < n; i++ {
		ann := anns[i]
		classIdx, ok := ds.ClassIndex(ann.CategoryID)
		if !ok {
			return nil, nil, fmt.Errorf("annotation %d has unknown category %d", ann.ID, ann.CategoryID)
		}
		r := images.FromXYWH(ann.BBox[0], ann.BBox[1], ann.BBox[2], ann.BBox[3]).Scale(scale)
		boxes[i*4+0] = r.X1
		boxes[i*4+1] = r.Y1
		boxes[i*4+2] = r.X2
		boxes[i*4+3] = r.Y2
		labels[i] = int64(classIdx)
	}
	return boxes, labels, nil
}
