package trainer

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"slotfill-gru/internal/metrics"
	"slotfill-gru/internal/model"
)

// CheckpointName is the prefix checkpoints are saved under inside SaveDir.
const CheckpointName = "GruMiniBatch"

// Saver persists model parameters under a path prefix.
type Saver interface {
	Save(prefix string, m *model.GRU) error
}

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	TrainX []*mat.Dense
	TrainY [][]int
	// ValidX is optional; when set ValidY must be set too.
	ValidX []*mat.Dense
	ValidY [][]int

	BatchSize     int
	LearningRate  float64
	Decay         float64
	Epochs        int
	EvaluateEvery int
	EvalWorkers   int

	SaveDir string
	Saver   Saver
	Logger  *logrus.Logger
}

// LossPoint is one evaluation checkpoint.
type LossPoint struct {
	Epoch         int
	ExamplesSeen  int
	Training      float64
	Validation    float64
	HasValidation bool
}

// Result summarizes a finished run.
type Result struct {
	ExamplesSeen int
	Iterations   int
	Losses       []LossPoint
}

// Run trains m for cfg.Epochs epochs of contiguous minibatches. At the start
// of every EvaluateEvery-th epoch it evaluates, logs and checkpoints.
func Run(ctx context.Context, m *model.GRU, cfg RunConfig) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if err := os.MkdirAll(cfg.SaveDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "trainer: create save dir")
	}
	tlog, err := CreateTrainingLog(cfg.SaveDir, cfg.LearningRate, cfg.Epochs, cfg.BatchSize)
	if err != nil {
		return nil, err
	}
	defer tlog.Close()

	inDim, _, _ := m.Dims()
	res := &Result{}
	var window metrics.Window

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if epoch%cfg.EvaluateEvery == 0 {
			point, err := evaluate(ctx, m, cfg, epoch, res.ExamplesSeen, tlog, logger)
			if err != nil {
				return res, err
			}
			res.Losses = append(res.Losses, point)

			snap := window.Snapshot()
			if snap.Updates > 0 {
				logger.WithFields(logrus.Fields{
					"updates":       snap.Updates,
					"sequences_sec": snap.SequencesPerSec,
					"tokens_sec":    snap.TokensPerSec,
					"prep_ms":       snap.AvgPrepMS,
					"update_ms":     snap.AvgUpdateMS,
				}).Info("throughput")
			}

			if cfg.Saver != nil {
				if err := cfg.Saver.Save(filepath.Join(cfg.SaveDir, CheckpointName), m); err != nil {
					return res, errors.Wrap(err, "trainer: save checkpoint")
				}
			}
		}

		for start := 0; start < len(cfg.TrainX); start += cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			end := min(len(cfg.TrainX), start+cfg.BatchSize)

			startPrep := time.Now()
			batch, err := model.PrepBatch(cfg.BatchSize, inDim, cfg.TrainX[start:end], cfg.TrainY[start:end])
			if err != nil {
				return res, errors.Wrapf(err, "trainer: batch at %d", start)
			}
			prepTime := time.Since(startPrep)

			startUpdate := time.Now()
			if err := m.Update(batch, cfg.LearningRate, cfg.Decay); err != nil {
				return res, errors.Wrapf(err, "trainer: update at %d", start)
			}
			window.Record(end-start, batch.Valid(), prepTime, time.Since(startUpdate))

			// Counts the configured batch size even for a short final batch.
			res.ExamplesSeen += cfg.BatchSize
			res.Iterations++
		}
	}

	return res, nil
}

func evaluate(ctx context.Context, m *model.GRU, cfg RunConfig, epoch, seen int, tlog *TrainingLog, logger *logrus.Logger) (LossPoint, error) {
	point := LossPoint{Epoch: epoch, ExamplesSeen: seen}
	now := time.Now()

	if cfg.ValidX != nil {
		loss, err := CalculateLoss(ctx, m, cfg.ValidX, cfg.ValidY, cfg.BatchSize, cfg.EvalWorkers)
		if err != nil {
			return point, errors.Wrap(err, "trainer: validation loss")
		}
		point.Validation, point.HasValidation = loss, true
		logger.WithFields(logrus.Fields{
			"examples_seen": seen,
			"epoch":         epoch,
			"loss":          loss,
		}).Info("validation loss")
		if err := tlog.Validation(now, seen, epoch, loss); err != nil {
			return point, err
		}
	}

	loss, err := CalculateLoss(ctx, m, cfg.TrainX, cfg.TrainY, cfg.BatchSize, cfg.EvalWorkers)
	if err != nil {
		return point, errors.Wrap(err, "trainer: training loss")
	}
	point.Training = loss
	logger.WithFields(logrus.Fields{
		"examples_seen": seen,
		"epoch":         epoch,
		"loss":          loss,
	}).Info("training loss")
	return point, tlog.Training(now, seen, epoch, loss)
}

func (cfg *RunConfig) validate() error {
	if cfg.Epochs <= 0 {
		return errors.New("trainer: epochs must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return errors.New("trainer: batch size must be > 0")
	}
	if len(cfg.TrainX) == 0 {
		return errors.New("trainer: empty training set")
	}
	if len(cfg.TrainY) != len(cfg.TrainX) {
		return errors.Errorf("trainer: %d training inputs but %d label sequences", len(cfg.TrainX), len(cfg.TrainY))
	}
	if cfg.ValidX != nil && len(cfg.ValidY) != len(cfg.ValidX) {
		return errors.Errorf("trainer: %d validation inputs but %d label sequences", len(cfg.ValidX), len(cfg.ValidY))
	}
	if cfg.EvaluateEvery <= 0 {
		cfg.EvaluateEvery = 1
	}
	if cfg.Decay == 0 {
		cfg.Decay = model.DefaultDecay
	}
	if cfg.SaveDir == "" {
		cfg.SaveDir = "./data"
	}
	return nil
}
