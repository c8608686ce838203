package trainer

import (
	"bufio"
	"context"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"

	"slotfill-gru/internal/model"
)

type recordingSaver struct {
	prefixes []string
}

func (s *recordingSaver) Save(prefix string, _ *model.GRU) error {
	s.prefixes = append(s.prefixes, prefix)
	return nil
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// toyData labels each step by the sign of its first feature.
func toyData(seed int64, n, inDim int) ([]*mat.Dense, [][]int) {
	rng := rand.New(rand.NewSource(seed))
	xs := make([]*mat.Dense, n)
	ys := make([][]int, n)
	for i := range xs {
		l := 1 + rng.Intn(5)
		data := make([]float64, l*inDim)
		ys[i] = make([]int, l)
		for ts := 0; ts < l; ts++ {
			for j := 0; j < inDim; j++ {
				data[ts*inDim+j] = rng.Float64() - 0.5
			}
			if data[ts*inDim] > 0 {
				ys[i][ts] = 1
			}
		}
		xs[i] = mat.NewDense(l, inDim, data)
	}
	return xs, ys
}

func newModel(t *testing.T) *model.GRU {
	t.Helper()
	m, err := model.New(model.Config{InDim: 3, HiddenDim: 6, OutDim: 2, Seed: 11})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestRunWritesLogAndCheckpoints(t *testing.T) {
	m := newModel(t)
	trainX, trainY := toyData(1, 5, 3)
	validX, validY := toyData(2, 3, 3)
	saver := &recordingSaver{}
	dir := t.TempDir()

	res, err := Run(context.Background(), m, RunConfig{
		TrainX:        trainX,
		TrainY:        trainY,
		ValidX:        validX,
		ValidY:        validY,
		BatchSize:     2,
		LearningRate:  0.005,
		Epochs:        3,
		EvaluateEvery: 2,
		SaveDir:       dir,
		Saver:         saver,
		Logger:        quietLogger(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Three minibatches per epoch; the short last one still counts as two examples.
	if res.Iterations != 9 || res.ExamplesSeen != 18 {
		t.Fatalf("iterations=%d examples_seen=%d", res.Iterations, res.ExamplesSeen)
	}
	if len(res.Losses) != 2 || res.Losses[0].Epoch != 0 || res.Losses[1].Epoch != 2 {
		t.Fatalf("unexpected evaluation points %+v", res.Losses)
	}
	if res.Losses[1].ExamplesSeen != 12 || !res.Losses[1].HasValidation {
		t.Fatalf("unexpected second point %+v", res.Losses[1])
	}
	if len(saver.prefixes) != 2 || saver.prefixes[0] != filepath.Join(dir, CheckpointName) {
		t.Fatalf("unexpected checkpoints %v", saver.prefixes)
	}

	f, err := os.Open(filepath.Join(dir, LogFileName))
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer f.Close()
	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 5 {
		t.Fatalf("expected 5 log lines, got %d: %q", len(lines), lines)
	}
	if lines[0] != "Learning Rate:0.005000\tEpoch Number:3\tBatch Size:2" {
		t.Fatalf("unexpected header %q", lines[0])
	}
	if !strings.Contains(lines[1], ": num_examples_seen: 0\tepoch: 0\tValidation Loss: ") {
		t.Fatalf("unexpected validation line %q", lines[1])
	}
	if !strings.Contains(lines[4], ": num_examples_seen: 12\tepoch: 2\tTraining Loss: ") {
		t.Fatalf("unexpected training line %q", lines[4])
	}
}

func TestRunWithoutValidation(t *testing.T) {
	m := newModel(t)
	trainX, trainY := toyData(3, 4, 3)
	res, err := Run(context.Background(), m, RunConfig{
		TrainX:       trainX,
		TrainY:       trainY,
		BatchSize:    4,
		LearningRate: 0.01,
		Epochs:       1,
		SaveDir:      t.TempDir(),
		Logger:       quietLogger(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Losses) != 1 || res.Losses[0].HasValidation {
		t.Fatalf("unexpected evaluation points %+v", res.Losses)
	}
}

func TestRunRejectsValidationWithoutLabels(t *testing.T) {
	trainX, trainY := toyData(4, 2, 3)
	validX, _ := toyData(5, 2, 3)
	_, err := Run(context.Background(), newModel(t), RunConfig{
		TrainX:    trainX,
		TrainY:    trainY,
		ValidX:    validX,
		BatchSize: 2,
		Epochs:    1,
		SaveDir:   t.TempDir(),
		Logger:    quietLogger(),
	})
	if err == nil {
		t.Fatal("expected error for validation inputs without labels")
	}
}

func TestRunStopsWhenCanceled(t *testing.T) {
	trainX, trainY := toyData(6, 4, 3)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Run(ctx, newModel(t), RunConfig{
		TrainX:    trainX,
		TrainY:    trainY,
		BatchSize: 2,
		Epochs:    2,
		SaveDir:   t.TempDir(),
		Logger:    quietLogger(),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRunLowersTrainingLoss(t *testing.T) {
	m := newModel(t)
	trainX, trainY := toyData(7, 16, 3)
	res, err := Run(context.Background(), m, RunConfig{
		TrainX:        trainX,
		TrainY:        trainY,
		BatchSize:     4,
		LearningRate:  0.01,
		Epochs:        41,
		EvaluateEvery: 40,
		SaveDir:       t.TempDir(),
		Logger:        quietLogger(),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	first, last := res.Losses[0].Training, res.Losses[len(res.Losses)-1].Training
	if last >= first {
		t.Fatalf("expected training loss to drop; first=%f last=%f", first, last)
	}
}
