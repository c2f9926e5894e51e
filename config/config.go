// Package config - detector training and inference configuration.
package config

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config collects the knobs for a fine-tuning and inference run. Fields map
// one-to-one onto YAML keys so a run can be reproduced from a checked-in
// config file.
type Config struct {
	// TrainDataset and TestDataset are registry names, not paths.
	TrainDataset string `yaml:"train_dataset"`
	TestDataset  string `yaml:"test_dataset"`

	// NumWorkers is the number of goroutines decoding and preparing images.
	NumWorkers int `yaml:"num_workers"`

	// Weights is the directory holding the pretrained training artifacts:
	// checkpoint, training/eval/optimizer graphs.
	Weights string `yaml:"weights"`

	// ImagesPerBatch is the training batch size. The training graph is
	// exported with this batch dimension baked in.
	ImagesPerBatch int `yaml:"images_per_batch"`

	// BaseLR is recorded with the run for reproducibility. The optimizer
	// graph in the training artifacts owns the actual schedule.
	BaseLR float32 `yaml:"base_lr"`

	// MaxIter is the number of optimizer steps to run.
	MaxIter int `yaml:"max_iter"`

	// ROIBatchSize is the region-proposal batch per image, baked into the
	// training graph. Recorded with the run.
	ROIBatchSize int `yaml:"roi_batch_size"`

	// NumClasses is the number of foreground classes. Must match the
	// registered dataset's category count.
	NumClasses int `yaml:"num_classes"`

	// InputSize is the square side of the static training input. Inference
	// uses ShortSide/MaxSide instead, preserving aspect ratio.
	InputSize int `yaml:"input_size"`

	// MaxBoxesPerImage caps ground-truth boxes per training sample; the
	// target tensors are zero-padded up to this count.
	MaxBoxesPerImage int `yaml:"max_boxes_per_image"`

	// ShortSide and MaxSide control the inference-time resize.
	ShortSide int `yaml:"short_side"`
	MaxSide   int `yaml:"max_side"`

	// ScoreThresh drops detections below this confidence at inference.
	ScoreThresh float32 `yaml:"score_thresh"`

	// NMSThresh is the IoU threshold for class-aware NMS. Zero disables NMS,
	// which is what the audit export wants: the label-error library sees the
	// raw per-class score distribution.
	NMSThresh float32 `yaml:"nms_thresh"`

	// OutputDir receives checkpoints, the exported model, and audit arrays.
	OutputDir string `yaml:"output_dir"`

	// CheckpointPeriod and LogPeriod are in optimizer steps.
	CheckpointPeriod int `yaml:"checkpoint_period"`
	LogPeriod        int `yaml:"log_period"`
}

// Default returns the configuration used when a field is absent from the
// YAML file.
func Default() Config {
	return Config{
		NumWorkers:       2,
		ImagesPerBatch:   2,
		BaseLR:           0.00025,
		MaxIter:          300,
		ROIBatchSize:     128,
		InputSize:        800,
		MaxBoxesPerImage: 64,
		ShortSide:        800,
		MaxSide:          1333,
		ScoreThresh:      0.5,
		NMSThresh:        0,
		OutputDir:        "output",
		CheckpointPeriod: 100,
		LogPeriod:        20,
	}
}

// Load reads a YAML config file over the defaults.
//
// Arguments:
//   - path: Path to the YAML file.
//
// Returns:
//   - Config: Defaults overlaid with the file's fields, validated.
//   - error: Read, parse, or validation error.
func Load(path string) (Config, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "reading config %s", path)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "parsing config %s", path)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrapf(err, "invalid config %s", path)
	}
	return cfg, nil
}

// Save writes the configuration as YAML, so the exact run parameters land
// next to the artifacts they produced.
func (c Config) Save(path string) error {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "marshaling config")
	}
	return errors.Wrapf(os.WriteFile(path, raw, 0644), "writing config %s", path)
}

// YAML renders the configuration as a YAML string, used for run-history
// snapshots.
func (c Config) YAML() (string, error) {
	raw, err := yaml.Marshal(c)
	if err != nil {
		return "", errors.Wrap(err, "marshaling config")
	}
	return string(raw), nil
}

// ApplyEnv overrides path fields from the process environment. LABELQA_WEIGHTS
// and LABELQA_OUTPUT_DIR take precedence over the file, so deployments can
// relocate artifacts without editing checked-in configs.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("LABELQA_WEIGHTS"); v != "" {
		c.Weights = v
	}
	if v := os.Getenv("LABELQA_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
}

// Validate checks field ranges. TrainDataset/TestDataset presence is checked
// by the stage that needs them, since a predict-only run has no train split.
func (c Config) Validate() error {
	if c.NumWorkers <= 0 {
		return fmt.Errorf("num_workers must be positive, got %d", c.NumWorkers)
	}
	if c.ImagesPerBatch <= 0 {
		return fmt.Errorf("images_per_batch must be positive, got %d", c.ImagesPerBatch)
	}
	if c.MaxIter <= 0 {
		return fmt.Errorf("max_iter must be positive, got %d", c.MaxIter)
	}
	if c.NumClasses <= 0 {
		return fmt.Errorf("num_classes must be positive, got %d", c.NumClasses)
	}
	if c.InputSize <= 0 {
		return fmt.Errorf("input_size must be positive, got %d", c.InputSize)
	}
	if c.MaxBoxesPerImage <= 0 {
		return fmt.Errorf("max_boxes_per_image must be positive, got %d", c.MaxBoxesPerImage)
	}
	if c.ShortSide <= 0 {
		return fmt.Errorf("short_side must be positive, got %d", c.ShortSide)
	}
	if c.MaxSide > 0 && c.MaxSide < c.ShortSide {
		return fmt.Errorf("max_side %d is smaller than short_side %d", c.MaxSide, c.ShortSide)
	}
	if c.ScoreThresh < 0 || c.ScoreThresh > 1 {
		return fmt.Errorf("score_thresh must be in [0,1], got %v", c.ScoreThresh)
	}
	if c.NMSThresh < 0 || c.NMSThresh > 1 {
		return fmt.Errorf("nms_thresh must be in [0,1], got %v", c.NMSThresh)
	}
	if c.OutputDir == "" {
		return fmt.Errorf("output_dir must not be empty")
	}
	return nil
}
