package trainer

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"slotfill-gru/internal/model"
)

type chunk struct {
	start, end int
}

func chunks(n, size int) []chunk {
	out := make([]chunk, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		out = append(out, chunk{start: start, end: min(n, start+size)})
	}
	return out
}

// forEachChunk runs fn for every chunk on up to workers goroutines. fn must
// only write to the slot of its own chunk index.
func forEachChunk(ctx context.Context, cs []chunk, workers int, fn func(i int, c chunk) error) error {
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, c := range cs {
		i, c := i, c
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(i, c)
		})
	}
	return g.Wait()
}

// CalculateLoss returns the mean of the per-chunk losses over xs, chunked by
// batchSize the same way training is.
func CalculateLoss(ctx context.Context, m model.Labeler, xs []*mat.Dense, ys [][]int, batchSize, workers int) (float64, error) {
	if len(xs) == 0 {
		return 0, errors.New("trainer: loss over empty dataset")
	}
	if len(ys) != len(xs) {
		return 0, errors.Errorf("trainer: %d inputs but %d label sequences", len(xs), len(ys))
	}
	if batchSize <= 0 {
		return 0, errors.New("trainer: batch size must be > 0")
	}
	inDim, _, _ := m.Dims()
	cs := chunks(len(xs), batchSize)
	losses := make([]float64, len(cs))
	err := forEachChunk(ctx, cs, workers, func(i int, c chunk) error {
		b, err := model.PrepBatch(batchSize, inDim, xs[c.start:c.end], ys[c.start:c.end])
		if err != nil {
			return errors.Wrapf(err, "chunk at %d", c.start)
		}
		losses[i], err = m.Loss(b)
		return errors.Wrapf(err, "chunk at %d", c.start)
	})
	if err != nil {
		return 0, err
	}
	return stat.Mean(losses, nil), nil
}

// Predictions returns the predicted class of every timestep of every
// sequence in xs.
func Predictions(ctx context.Context, m model.Labeler, xs []*mat.Dense, batchSize, workers int) ([][]int, error) {
	if batchSize <= 0 {
		return nil, errors.New("trainer: batch size must be > 0")
	}
	inDim, _, _ := m.Dims()
	out := make([][]int, len(xs))
	err := forEachChunk(ctx, chunks(len(xs), batchSize), workers, func(_ int, c chunk) error {
		b, err := model.PrepBatch(batchSize, inDim, xs[c.start:c.end], nil)
		if err != nil {
			return errors.Wrapf(err, "chunk at %d", c.start)
		}
		flat, err := m.PredictClass(b)
		if err != nil {
			return errors.Wrapf(err, "chunk at %d", c.start)
		}
		pos := 0
		for j, l := range b.Lengths {
			out[c.start+j] = flat[pos : pos+l : pos+l]
			pos += l
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
