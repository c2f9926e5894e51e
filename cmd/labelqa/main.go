package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"
	"github.com/joho/godotenv"

	"github.com/nvr-ai/go-labelqa/coco"
	"github.com/nvr-ai/go-labelqa/config"
	"github.com/nvr-ai/go-labelqa/labelqa"
	"github.com/nvr-ai/go-labelqa/predict"
	"github.com/nvr-ai/go-labelqa/store"
	"github.com/nvr-ai/go-labelqa/training"
)

func check(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func main() {
	parser := argparse.NewParser("labelqa", "Fine-tune an object detector on a COCO dataset and export per-class prediction arrays for label auditing")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Run configuration YAML", Required: true})
	envFile := parser.String("", "env", &argparse.Options{Help: "Optional .env file with path overrides", Required: false})
	trainAnn := parser.String("", "train-ann", &argparse.Options{Help: "COCO annotation JSON of the training split", Required: false})
	trainImages := parser.String("", "train-images", &argparse.Options{Help: "Image root of the training split", Required: false})
	testAnn := parser.String("", "test-ann", &argparse.Options{Help: "COCO annotation JSON of the held-out split", Required: false})
	testImages := parser.String("", "test-images", &argparse.Options{Help: "Image root of the held-out split", Required: false})
	modelFile := parser.String("n", "model", &argparse.Options{Help: "Path to the exported detector (defaults to <output_dir>/model.onnx)", Required: false})

	trainCmd := parser.NewCommand("train", "Fine-tune the detector on the training split")
	predictCmd := parser.NewCommand("predict", "Run the detector over the held-out split and print detection counts")
	auditCmd := parser.NewCommand("audit-export", "Predict on the held-out split and write per-class arrays plus ground truth")
	runsCmd := parser.NewCommand("runs", "List recorded runs")

	if err := parser.Parse(os.Args); err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	if *envFile != "" {
		check(godotenv.Load(*envFile))
	}

	logger, err := logs.NewLog()
	check(err)

	cfg, err := config.Load(*configFile)
	check(err)
	cfg.ApplyEnv()

	reg := coco.NewRegistry()
	if *trainAnn != "" {
		if cfg.TrainDataset == "" {
			check(fmt.Errorf("--train-ann given but config has no train_dataset name"))
		}
		check(reg.Register(cfg.TrainDataset, *trainAnn, *trainImages))
	}
	if *testAnn != "" {
		if cfg.TestDataset == "" {
			check(fmt.Errorf("--test-ann given but config has no test_dataset name"))
		}
		check(reg.Register(cfg.TestDataset, *testAnn, *testImages))
	}

	check(os.MkdirAll(cfg.OutputDir, 0755))
	runs, err := store.Open(filepath.Join(cfg.OutputDir, "runs.sqlite"))
	check(err)
	defer runs.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	modelPath := *modelFile
	if modelPath == "" {
		modelPath = filepath.Join(cfg.OutputDir, "model.onnx")
	}

	switch {
	case trainCmd.Happened():
		check(runTrain(ctx, logger, cfg, reg, runs))
	case predictCmd.Happened():
		check(runPredict(ctx, logger, cfg, reg, runs, modelPath))
	case auditCmd.Happened():
		check(runAudit(ctx, logger, cfg, reg, runs, modelPath))
	case runsCmd.Happened():
		check(listRuns(runs))
	}
}

func configSnapshot(cfg config.Config) string {
	// Best effort: the snapshot is informational.
	snapshot, err := cfg.YAML()
	if err != nil {
		return ""
	}
	return snapshot
}

func runTrain(ctx context.Context, logger logs.Log, cfg config.Config, reg *coco.Registry, runs *store.Store) error {
	runID, err := runs.RecordStart(store.KindTrain, cfg.TrainDataset, configSnapshot(cfg))
	if err != nil {
		return err
	}

	trainer := training.NewTrainer(logger, cfg, reg)
	result, err := trainer.Run(ctx)
	if err != nil {
		runs.RecordFinish(runID, store.StatusFailed, "", 0)
		return err
	}
	return runs.RecordFinish(runID, store.StatusFinished, result.ModelPath, float64(result.FinalLoss))
}

func runPredict(ctx context.Context, logger logs.Log, cfg config.Config, reg *coco.Registry, runs *store.Store, modelPath string) error {
	runID, err := runs.RecordStart(store.KindPredict, cfg.TestDataset, configSnapshot(cfg))
	if err != nil {
		return err
	}

	detections, err := detectTestSplit(ctx, logger, cfg, reg, modelPath)
	if err != nil {
		runs.RecordFinish(runID, store.StatusFailed, "", 0)
		return err
	}

	total := 0
	for _, img := range detections {
		total += len(img.Detections)
		fmt.Printf("%s: %d detections\n", img.FileName, len(img.Detections))
	}
	return runs.RecordFinish(runID, store.StatusFinished, modelPath, float64(total))
}

func runAudit(ctx context.Context, logger logs.Log, cfg config.Config, reg *coco.Registry, runs *store.Store, modelPath string) error {
	runID, err := runs.RecordStart(store.KindAudit, cfg.TestDataset, configSnapshot(cfg))
	if err != nil {
		return err
	}
	fail := func(err error) error {
		runs.RecordFinish(runID, store.StatusFailed, "", 0)
		return err
	}

	detections, err := detectTestSplit(ctx, logger, cfg, reg, modelPath)
	if err != nil {
		return fail(err)
	}

	preds, err := labelqa.ReformatAll(detections, cfg.NumClasses)
	if err != nil {
		return fail(err)
	}

	exportDir := filepath.Join(cfg.OutputDir, "audit")
	if err := labelqa.Save(exportDir, preds, cfg.NumClasses); err != nil {
		return fail(err)
	}

	ds, err := reg.Get(cfg.TestDataset)
	if err != nil {
		return fail(err)
	}
	gt, err := labelqa.GroundTruth(ds)
	if err != nil {
		return fail(err)
	}
	if err := labelqa.SaveGroundTruth(exportDir, gt); err != nil {
		return fail(err)
	}

	logger.Infof("Wrote audit export for %v images to %v", len(preds), exportDir)
	return runs.RecordFinish(runID, store.StatusFinished, exportDir, float64(len(preds)))
}

func detectTestSplit(ctx context.Context, logger logs.Log, cfg config.Config, reg *coco.Registry, modelPath string) ([]predict.ImageDetections, error) {
	if cfg.TestDataset == "" {
		return nil, fmt.Errorf("config has no test_dataset")
	}
	predictor, err := predict.NewPredictor(logger, modelPath, cfg)
	if err != nil {
		return nil, err
	}
	defer predictor.Close()
	return predictor.DetectDataset(ctx, reg, cfg.TestDataset)
}

func listRuns(runs *store.Store) error {
	list, err := runs.List(20)
	if err != nil {
		return err
	}
	for _, run := range list {
		finished := "-"
		if run.FinishedAt != nil {
			finished = run.FinishedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%4d  %-8s %-16s %-9s metric=%-10.4f %s -> %s  %s\n",
			run.ID, run.Kind, run.Dataset, run.Status, run.Metric,
			run.StartedAt.Format("2006-01-02 15:04:05"), finished, run.Artifact)
	}
	return nil
}
