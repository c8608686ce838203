package model

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Batch is a padded minibatch of variable-length sequences.
//
// X is time-major: X[t] holds step t of every sequence, one row per batch
// column. Mask flattens the (MaxLen, Size) validity grid column-major, so the
// cell (t, b) lives at b*MaxLen+t. Y, when present, concatenates the label
// sequences in input order; its length equals the number of ones in Mask.
type Batch struct {
	X       []*mat.Dense
	Mask    []float64
	Y       []int
	Lengths []int
	MaxLen  int
	Size    int
}

// PrepBatch pads xs into a batch of capacity batchSize. Every xs[i] is a
// len_i x inDim matrix. ys may be nil for unlabeled batches; otherwise it must
// hold one label per timestep of each sequence.
func PrepBatch(batchSize, inDim int, xs []*mat.Dense, ys [][]int) (*Batch, error) {
	if len(xs) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(xs) > batchSize {
		return nil, errors.Errorf("model: %d sequences exceed batch size %d", len(xs), batchSize)
	}
	if ys != nil && len(ys) != len(xs) {
		return nil, errors.Wrapf(ErrDimMismatch, "%d label sequences for %d inputs", len(ys), len(xs))
	}

	lengths := make([]int, len(xs))
	maxLen := 0
	for i, x := range xs {
		r, c := x.Dims()
		if c != inDim {
			return nil, errors.Wrapf(ErrDimMismatch, "sequence %d has %d features, want %d", i, c, inDim)
		}
		if ys != nil && len(ys[i]) != r {
			return nil, errors.Wrapf(ErrDimMismatch, "sequence %d has %d steps but %d labels", i, r, len(ys[i]))
		}
		lengths[i] = r
		if r > maxLen {
			maxLen = r
		}
	}

	b := &Batch{
		X:       make([]*mat.Dense, maxLen),
		Mask:    make([]float64, maxLen*batchSize),
		Lengths: lengths,
		MaxLen:  maxLen,
		Size:    batchSize,
	}
	for t := range b.X {
		b.X[t] = mat.NewDense(batchSize, inDim, nil)
	}
	for col, x := range xs {
		for t := 0; t < lengths[col]; t++ {
			copy(b.X[t].RawRowView(col), x.RawRowView(t))
			b.Mask[col*maxLen+t] = 1
		}
	}

	if ys != nil {
		total := 0
		for _, l := range lengths {
			total += l
		}
		b.Y = make([]int, 0, total)
		for _, y := range ys {
			b.Y = append(b.Y, y...)
		}
	}
	return b, nil
}

// Valid returns the number of unmasked cells.
func (b *Batch) Valid() int {
	n := 0
	for _, v := range b.Mask {
		if v != 0 {
			n++
		}
	}
	return n
}
