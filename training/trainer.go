package training

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cyclopcam/logs"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/go-labelqa/coco"
	"github.com/nvr-ai/go-labelqa/config"
	"github.com/nvr-ai/go-labelqa/predict"
)

// Artifacts are the on-device training files produced by the artifact
// generator from the pretrained detector: a parameter checkpoint plus the
// training, eval, and optimizer graphs.
type Artifacts struct {
	Checkpoint     string
	TrainingModel  string
	EvalModel      string
	OptimizerModel string
}

// ArtifactsInDir returns the conventional artifact layout under dir.
func ArtifactsInDir(dir string) Artifacts {
	return Artifacts{
		Checkpoint:     filepath.Join(dir, "checkpoint"),
		TrainingModel:  filepath.Join(dir, "training_model.onnx"),
		EvalModel:      filepath.Join(dir, "eval_model.onnx"),
		OptimizerModel: filepath.Join(dir, "optimizer_model.onnx"),
	}
}

// Validate checks that every artifact file exists.
func (a Artifacts) Validate() error {
	for _, path := range []string{a.Checkpoint, a.TrainingModel, a.EvalModel, a.OptimizerModel} {
		if _, err := os.Stat(path); err != nil {
			return errors.Wrapf(err, "training artifact %s", path)
		}
	}
	return nil
}

// Result summarizes a completed training run.
type Result struct {
	// ModelPath is the exported inference graph.
	ModelPath string
	// FinalLoss is the loss of the last optimizer step.
	FinalLoss float32
	// Steps is the number of optimizer steps performed.
	Steps int
}

// Trainer fine-tunes the pretrained detector on a registered dataset. It
// owns the batch loop, loss logging, periodic checkpoints, and the final
// export of the inference graph; parameter updates are delegated to the
// runtime's training session.
type Trainer struct {
	log logs.Log
	cfg config.Config
	reg *coco.Registry
}

// NewTrainer creates a trainer.
func NewTrainer(log logs.Log, cfg config.Config, reg *coco.Registry) *Trainer {
	return &Trainer{log: log, cfg: cfg, reg: reg}
}

// Run performs cfg.MaxIter optimizer steps and exports the resulting
// inference model into cfg.OutputDir.
//
// Arguments:
//   - ctx: Cancelling the context stops the run between steps; a checkpoint
//     of the progress so far is written before returning.
//
// Returns:
//   - *Result: Export path and final loss.
//   - error: Missing artifacts, runtime without training support, or a
//     failed step.
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	if t.cfg.TrainDataset == "" {
		return nil, fmt.Errorf("config has no train_dataset")
	}
	artifacts := ArtifactsInDir(t.cfg.Weights)
	if err := artifacts.Validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(t.cfg.OutputDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating output dir %s", t.cfg.OutputDir)
	}

	if err := predict.InitRuntime(); err != nil {
		return nil, err
	}
	if !ort.IsTrainingSupported() {
		return nil, fmt.Errorf("this build of the ONNX Runtime library has no training support")
	}

	sampler, err := NewSampler(t.cfg, t.reg, t.cfg.TrainDataset, 0)
	if err != nil {
		return nil, err
	}

	b := int64(t.cfg.ImagesPerBatch)
	size := int64(t.cfg.InputSize)
	maxBoxes := int64(t.cfg.MaxBoxesPerImage)

	imageTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(b, 3, size, size))
	if err != nil {
		return nil, errors.Wrap(err, "creating image tensor")
	}
	defer imageTensor.Destroy()
	boxTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(b, maxBoxes, 4))
	if err != nil {
		return nil, errors.Wrap(err, "creating box tensor")
	}
	defer boxTensor.Destroy()
	labelTensor, err := ort.NewEmptyTensor[int64](ort.NewShape(b, maxBoxes))
	if err != nil {
		return nil, errors.Wrap(err, "creating label tensor")
	}
	defer labelTensor.Destroy()
	lossTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1))
	if err != nil {
		return nil, errors.Wrap(err, "creating loss tensor")
	}
	defer lossTensor.Destroy()

	session, err := ort.NewTrainingSession(
		artifacts.Checkpoint,
		artifacts.TrainingModel,
		artifacts.EvalModel,
		artifacts.OptimizerModel,
		[]ort.ArbitraryTensor{imageTensor, boxTensor, labelTensor},
		[]ort.ArbitraryTensor{lossTensor},
		nil,
	)
	if err != nil {
		return nil, errors.Wrap(err, "creating training session")
	}
	defer session.Destroy()

	t.log.Infof("Training on dataset %v: %v steps, batch %v, lr %v",
		t.cfg.TrainDataset, t.cfg.MaxIter, t.cfg.ImagesPerBatch, t.cfg.BaseLR)

	result := &Result{}
	for step := 1; step <= t.cfg.MaxIter; step++ {
		if err := ctx.Err(); err != nil {
			t.log.Warnf("Training cancelled at step %v", step)
			if saveErr := t.saveCheckpoint(session, step); saveErr != nil {
				t.log.Errorf("Failed to save cancellation checkpoint: %v", saveErr)
			}
			return nil, err
		}

		batch, err := sampler.Next()
		if err != nil {
			return nil, errors.Wrapf(err, "assembling batch for step %d", step)
		}
		copy(imageTensor.GetData(), batch.Images)
		copy(boxTensor.GetData(), batch.Boxes)
		copy(labelTensor.GetData(), batch.Labels)

		if err := session.TrainStep(); err != nil {
			return nil, errors.Wrapf(err, "train step %d", step)
		}
		result.FinalLoss = lossTensor.GetData()[0]
		if err := session.OptimizerStep(); err != nil {
			return nil, errors.Wrapf(err, "optimizer step %d", step)
		}
		if err := session.LazyResetGrad(); err != nil {
			return nil, errors.Wrapf(err, "resetting gradients at step %d", step)
		}
		result.Steps = step

		if t.cfg.LogPeriod > 0 && step%t.cfg.LogPeriod == 0 {
			t.log.Infof("Step %v/%v: loss %.5f", step, t.cfg.MaxIter, result.FinalLoss)
		}
		if t.cfg.CheckpointPeriod > 0 && step%t.cfg.CheckpointPeriod == 0 {
			if err := t.saveCheckpoint(session, step); err != nil {
				return nil, err
			}
		}
	}

	modelPath := filepath.Join(t.cfg.OutputDir, "model.onnx")
	err = session.ExportModel(modelPath, []string{
		predict.OutputBoxesName, predict.OutputLabelsName, predict.OutputScoresName,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "exporting model to %s", modelPath)
	}
	result.ModelPath = modelPath

	t.log.Infof("Training finished: %v steps, final loss %.5f, model at %v",
		result.Steps, result.FinalLoss, modelPath)
	return result, nil
}

func (t *Trainer) saveCheckpoint(session *ort.TrainingSession, step int) error {
	path := filepath.Join(t.cfg.OutputDir, fmt.Sprintf("checkpoint-%06d", step))
	if err := session.SaveCheckpoint(path, false); err != nil {
		return errors.Wrapf(err, "saving checkpoint at step %d", step)
	}
	t.log.Infof("Saved checkpoint %v", path)
	return nil
}
