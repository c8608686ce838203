package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"slotfill-gru/internal/checkpoint"
	"slotfill-gru/internal/config"
	"slotfill-gru/internal/dataset"
	"slotfill-gru/internal/model"
	"slotfill-gru/internal/trainer"
)

func main() {
	cfgPath := flag.String("config", "configs/demo.yaml", "Path to YAML config")
	trainRoot := flag.String("train-root", "", "Override training shard root")
	validRoot := flag.String("valid-root", "", "Override validation shard root")
	saveDir := flag.String("save-dir", "", "Override directory for checkpoints and training_log.txt")
	epochs := flag.Int("epochs", 0, "Number of epochs")
	batchSize := flag.Int("batch-size", 0, "Batch size")
	learningRate := flag.Float64("learning-rate", 0, "RMSProp learning rate")
	seed := flag.Int64("seed", 0, "PRNG seed for weight initialization")
	resume := flag.String("resume", "", "Checkpoint to resume from")

	flag.Parse()

	logger := logrus.New()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}

	cfg.ApplyOverrides(config.Overrides{
		TrainRoot:    *trainRoot,
		ValidRoot:    *validRoot,
		SaveDir:      *saveDir,
		Epochs:       *epochs,
		BatchSize:    *batchSize,
		LearningRate: *learningRate,
		Seed:         *seed,
	})

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}
	level, _ := logrus.ParseLevel(cfg.LogLevel)
	logger.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	train, err := dataset.LoadRoot(ctx, cfg.TrainRoot, cfg.InDim)
	if err != nil {
		logger.Fatalf("load training set: %v", err)
	}
	logger.WithFields(logrus.Fields{"root": cfg.TrainRoot, "sequences": len(train)}).Info("loaded training set")
	trainX, trainY := dataset.Split(train)

	runCfg := trainer.RunConfig{
		TrainX:        trainX,
		TrainY:        trainY,
		BatchSize:     cfg.BatchSize,
		LearningRate:  cfg.LearningRate,
		Decay:         cfg.Decay,
		Epochs:        cfg.Epochs,
		EvaluateEvery: cfg.EvaluateLossAfter,
		EvalWorkers:   cfg.EvalWorkers,
		SaveDir:       cfg.SaveDir,
		Saver:         checkpoint.Saver{},
		Logger:        logger,
	}

	if cfg.ValidRoot != "" {
		valid, err := dataset.LoadRoot(ctx, cfg.ValidRoot, cfg.InDim)
		if err != nil {
			logger.Fatalf("load validation set: %v", err)
		}
		logger.WithFields(logrus.Fields{"root": cfg.ValidRoot, "sequences": len(valid)}).Info("loaded validation set")
		runCfg.ValidX, runCfg.ValidY = dataset.Split(valid)
	}

	m, err := buildModel(*resume, cfg)
	if err != nil {
		logger.Fatalf("build model: %v", err)
	}
	if *resume != "" {
		logger.WithField("checkpoint", *resume).Info("resumed from checkpoint")
	}

	res, err := trainer.Run(ctx, m, runCfg)
	if err != nil {
		logger.Fatalf("training failed: %v", err)
	}
	logger.WithFields(logrus.Fields{
		"examples_seen": res.ExamplesSeen,
		"iterations":    res.Iterations,
	}).Info("training finished")
}

// buildModel loads the checkpoint at resume, or initializes a fresh model when
// resume is empty. A checkpoint must agree with cfg on every architecture
// setting, bptt_truncate included.
func buildModel(resume string, cfg *config.Config) (*model.GRU, error) {
	want := model.Config{
		InDim:        cfg.InDim,
		HiddenDim:    cfg.HiddenDim,
		OutDim:       cfg.OutDim,
		BPTTTruncate: cfg.BPTTTruncate,
		Seed:         cfg.Seed,
	}
	if resume == "" {
		return model.New(want)
	}

	m, err := checkpoint.Load(resume)
	if err != nil {
		return nil, errors.Wrap(err, "resume")
	}
	got := m.Config()
	if got.InDim != want.InDim || got.HiddenDim != want.HiddenDim || got.OutDim != want.OutDim {
		return nil, errors.Errorf("checkpoint dims %dx%dx%d do not match config %dx%dx%d",
			got.InDim, got.HiddenDim, got.OutDim, want.InDim, want.HiddenDim, want.OutDim)
	}
	if got.BPTTTruncate != want.BPTTTruncate {
		return nil, errors.Errorf("checkpoint bptt_truncate %d does not match config %d",
			got.BPTTTruncate, want.BPTTTruncate)
	}
	return m, nil
}
