package predict

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-labelqa/coco"
	"github.com/nvr-ai/go-labelqa/config"
	"github.com/nvr-ai/go-labelqa/images"
)

// Tensor names of the exported detector graph. The export writes a single
// image input and the (boxes, labels, scores) triple.
const (
	InputName        = "images"
	OutputBoxesName  = "boxes"
	OutputLabelsName = "labels"
	OutputScoresName = "scores"
)

// ImageDetections holds the detections of one dataset image.
type ImageDetections struct {
	ImageID    int64
	FileName   string
	Detections []Detection
}

// Predictor runs the exported detector on single images. Image decoding and
// resizing may run on several goroutines; the underlying session run is
// serialized.
type Predictor struct {
	log     logs.Log
	cfg     config.Config
	session *ort.DynamicAdvancedSession
	mu      sync.Mutex
}

// NewPredictor loads the exported ONNX model.
//
// Arguments:
//   - log: Logger.
//   - modelPath: Path to the exported inference graph.
//   - cfg: Run configuration; ShortSide/MaxSide/ScoreThresh/NMSThresh apply.
//
// Returns:
//   - *Predictor: Ready predictor. Close it when done.
//   - error: Missing model, missing runtime library, or session error.
func NewPredictor(log logs.Log, modelPath string, cfg config.Config) (*Predictor, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, errors.Wrapf(err, "model file %s", modelPath)
	}
	if err := initRuntime(); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "creating ORT session options")
	}
	defer options.Destroy()
	options.SetIntraOpNumThreads(0)
	options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended)

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{InputName},
		[]string{OutputBoxesName, OutputLabelsName, OutputScoresName},
		options,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "creating ORT session for %s", modelPath)
	}

	return &Predictor{log: log, cfg: cfg, session: session}, nil
}

// Close releases the underlying session.
func (p *Predictor) Close() error {
	if p.session != nil {
		err := p.session.Destroy()
		p.session = nil
		return err
	}
	return nil
}

// Detect runs the detector on a single image file and returns detections in
// original image coordinates, score-thresholded, sorted by descending
// confidence. NMS applies only when cfg.NMSThresh > 0.
func (p *Predictor) Detect(ctx context.Context, imagePath string) ([]Detection, error) {
	img, err := images.LoadImage(imagePath)
	if err != nil {
		return nil, err
	}
	input, err := images.PrepareInput(img, p.cfg.ShortSide, p.cfg.MaxSide)
	if err != nil {
		return nil, errors.Wrapf(err, "preparing %s", imagePath)
	}
	return p.detect(ctx, input)
}

func (p *Predictor) detect(ctx context.Context, input *images.Input) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewTensor(
		ort.NewShape(1, 3, int64(input.Height), int64(input.Width)), input.Data)
	if err != nil {
		return nil, errors.Wrap(err, "creating input tensor")
	}
	defer inputTensor.Destroy()

	// The detection count varies per image, so the outputs are left nil for
	// the runtime to allocate.
	outputs := []ort.ArbitraryTensor{nil, nil, nil}

	p.mu.Lock()
	err = p.session.Run([]ort.ArbitraryTensor{inputTensor}, outputs)
	p.mu.Unlock()
	if err != nil {
		return nil, errors.Wrap(err, "running inference")
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				out.Destroy()
			}
		}
	}()

	boxes, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected type for boxes output")
	}
	labels, ok := outputs[1].(*ort.Tensor[int64])
	if !ok {
		return nil, fmt.Errorf("unexpected type for labels output")
	}
	scores, ok := outputs[2].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected type for scores output")
	}

	return p.decode(boxes.GetData(), labels.GetData(), scores.GetData(), input)
}

// decode converts the raw output triple to thresholded detections in
// original pixel coordinates.
func (p *Predictor) decode(boxes []float32, labels []int64, scores []float32, input *images.Input) ([]Detection, error) {
	n := len(scores)
	if len(labels) != n || len(boxes) != n*4 {
		return nil, fmt.Errorf("inconsistent output sizes: %d boxes, %d labels, %d scores",
			len(boxes)/4, len(labels), n)
	}

	// Clip against the true image size: Width*Scale can fall short of it
	// because the resize truncates.
	origW := float32(input.OrigWidth)
	origH := float32(input.OrigHeight)

	dets := make([]Detection, 0, n)
	for i := 0; i < n; i++ {
		if scores[i] < p.cfg.ScoreThresh {
			continue
		}
		box := images.Rect{
			X1: boxes[i*4+0],
			Y1: boxes[i*4+1],
			X2: boxes[i*4+2],
			Y2: boxes[i*4+3],
		}.Scale(input.Scale).Clip(origW, origH)
		dets = append(dets, Detection{
			Box:   box,
			Score: scores[i],
			Class: int(labels[i]),
		})
	}

	SortByScore(dets)
	if p.cfg.NMSThresh > 0 {
		dets = ApplyGreedyNMS(dets, p.cfg.NMSThresh)
	}
	return dets, nil
}

// chunkSize is how many prepared inputs DetectDataset keeps alive at once.
// Prepared tensors are large, so the peak must not scale with the split size.
func chunkSize(numWorkers int) int {
	return max(1, numWorkers) * 2
}

// prepareChunk decodes and resizes a run of dataset images in parallel,
// returning inputs in the order of ids.
func (p *Predictor) prepareChunk(reg *coco.Registry, name string, ds *coco.Dataset, ids []int64) ([]*images.Input, error) {
	inputs := make([]*images.Input, len(ids))
	prepErrs := make([]error, len(ids))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < max(1, p.cfg.NumWorkers); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				img, _ := ds.ImageByID(ids[i])
				path, err := reg.ImagePath(name, img)
				if err != nil {
					prepErrs[i] = err
					continue
				}
				decoded, err := images.LoadImage(path)
				if err != nil {
					prepErrs[i] = err
					continue
				}
				inputs[i], prepErrs[i] = images.PrepareInput(decoded, p.cfg.ShortSide, p.cfg.MaxSide)
			}
		}()
	}
	for i := range ids {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	for i, err := range prepErrs {
		if err != nil {
			return nil, errors.Wrapf(err, "image %d", ids[i])
		}
	}
	return inputs, nil
}

// DetectDataset runs the detector over every image of a registered dataset,
// in ascending image-ID order. Images are decoded a chunk at a time, fanned
// out over cfg.NumWorkers goroutines; session runs stay sequential.
func (p *Predictor) DetectDataset(ctx context.Context, reg *coco.Registry, name string) ([]ImageDetections, error) {
	ds, err := reg.Get(name)
	if err != nil {
		return nil, err
	}

	ids := ds.ImageIDs()
	chunk := chunkSize(p.cfg.NumWorkers)

	results := make([]ImageDetections, 0, len(ids))
	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		inputs, err := p.prepareChunk(reg, name, ds, ids[start:end])
		if err != nil {
			return nil, err
		}
		for k, input := range inputs {
			id := ids[start+k]
			dets, err := p.detect(ctx, input)
			if err != nil {
				return nil, errors.Wrapf(err, "image %d", id)
			}
			img, _ := ds.ImageByID(id)
			results = append(results, ImageDetections{
				ImageID:    id,
				FileName:   img.FileName,
				Detections: dets,
			})
			inputs[k] = nil
		}
	}

	p.log.Infof("Ran detector on %v images of dataset %v", len(results), name)
	return results, nil
}
