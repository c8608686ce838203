package model

import (
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func seq(rows, cols int, start float64) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = start + float64(i)
	}
	return mat.NewDense(rows, cols, data)
}

func TestPrepBatchShapeContract(t *testing.T) {
	xs := []*mat.Dense{seq(5, 3, 1), seq(3, 3, 100)}
	ys := [][]int{{0, 1, 0, 1, 1}, {1, 1, 0}}

	b, err := PrepBatch(2, 3, xs, ys)
	if err != nil {
		t.Fatalf("PrepBatch: %v", err)
	}
	if len(b.X) != 5 {
		t.Fatalf("expected 5 timesteps, got %d", len(b.X))
	}
	for ts, x := range b.X {
		if r, c := x.Dims(); r != 2 || c != 3 {
			t.Fatalf("X[%d] is %dx%d, want 2x3", ts, r, c)
		}
	}
	wantMask := []float64{1, 1, 1, 1, 1, 1, 1, 1, 0, 0}
	if len(b.Mask) != len(wantMask) {
		t.Fatalf("mask length %d, want %d", len(b.Mask), len(wantMask))
	}
	for i := range wantMask {
		if b.Mask[i] != wantMask[i] {
			t.Fatalf("mask=%v want %v", b.Mask, wantMask)
		}
	}
	if got := b.X[2].At(0, 1); got != 8 {
		t.Fatalf("X[2][0][1]=%v want 8", got)
	}
	if got := b.X[2].At(1, 0); got != 106 {
		t.Fatalf("X[2][1][0]=%v want 106", got)
	}
	for ts := 3; ts < 5; ts++ {
		for j := 0; j < 3; j++ {
			if v := b.X[ts].At(1, j); v != 0 {
				t.Fatalf("padding X[%d][1][%d]=%v, want 0", ts, j, v)
			}
		}
	}
	wantY := []int{0, 1, 0, 1, 1, 1, 1, 0}
	if len(b.Y) != len(wantY) {
		t.Fatalf("Y=%v want %v", b.Y, wantY)
	}
	for i := range wantY {
		if b.Y[i] != wantY[i] {
			t.Fatalf("Y=%v want %v", b.Y, wantY)
		}
	}
}

func TestPrepBatchMaskCountMatchesLabels(t *testing.T) {
	lengths := []int{4, 1, 7, 2}
	xs := make([]*mat.Dense, len(lengths))
	ys := make([][]int, len(lengths))
	total := 0
	for i, l := range lengths {
		xs[i] = seq(l, 2, 0)
		ys[i] = make([]int, l)
		total += l
	}
	b, err := PrepBatch(6, 2, xs, ys)
	if err != nil {
		t.Fatalf("PrepBatch: %v", err)
	}
	if b.Valid() != total {
		t.Fatalf("mask has %d ones, want %d", b.Valid(), total)
	}
	if len(b.Y) != total {
		t.Fatalf("len(Y)=%d want %d", len(b.Y), total)
	}
	if b.MaxLen != 7 || len(b.Mask) != 7*6 {
		t.Fatalf("max_len=%d mask=%d", b.MaxLen, len(b.Mask))
	}
	for col := len(lengths); col < 6; col++ {
		for ts := 0; ts < b.MaxLen; ts++ {
			if b.Mask[col*b.MaxLen+ts] != 0 {
				t.Fatalf("unused column %d is unmasked at t=%d", col, ts)
			}
		}
	}
}

func TestPrepBatchWithoutLabels(t *testing.T) {
	b, err := PrepBatch(1, 2, []*mat.Dense{seq(3, 2, 0)}, nil)
	if err != nil {
		t.Fatalf("PrepBatch: %v", err)
	}
	if b.Y != nil {
		t.Fatalf("expected nil labels, got %v", b.Y)
	}
	if b.Valid() != 3 {
		t.Fatalf("expected 3 valid cells, got %d", b.Valid())
	}
}

func TestPrepBatchErrors(t *testing.T) {
	if _, err := PrepBatch(2, 3, nil, nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("empty input: got %v", err)
	}
	if _, err := PrepBatch(2, 4, []*mat.Dense{seq(2, 3, 0)}, nil); !errors.Is(err, ErrDimMismatch) {
		t.Fatalf("feature mismatch: got %v", err)
	}
	if _, err := PrepBatch(2, 3, []*mat.Dense{seq(2, 3, 0)}, [][]int{{1}}); !errors.Is(err, ErrDimMismatch) {
		t.Fatalf("label mismatch: got %v", err)
	}
	if _, err := PrepBatch(1, 3, []*mat.Dense{seq(2, 3, 0), seq(2, 3, 0)}, nil); err == nil {
		t.Fatal("expected error when sequences exceed batch size")
	}
}
