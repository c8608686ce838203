package model

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// hardSigmoid is clip(0.2*v+0.5, 0, 1), the gate nonlinearity.
func hardSigmoid(_, _ int, v float64) float64 {
	v = 0.2*v + 0.5
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// hardSigmoidGrad takes the activated value, not the pre-activation.
// The slope is zero wherever the clip is saturated, including the clip
// points 0 and 1 themselves.
func hardSigmoidGrad(out float64) float64 {
	if out > 0 && out < 1 {
		return 0.2
	}
	return 0
}

func tanh(_, _ int, v float64) float64 {
	return math.Tanh(v)
}

// softmaxRows replaces each row of m with its softmax.
func softmaxRows(m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		maxLogit := floats.Max(row)
		for j, v := range row {
			row[j] = math.Exp(v - maxLogit)
		}
		floats.Scale(1/floats.Sum(row), row)
	}
}

// addRowVec adds v to every row of m.
func addRowVec(m *mat.Dense, v []float64) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		floats.Add(m.RawRowView(i), v)
	}
}

// addColSums adds the column sums of m into dst.
func addColSums(dst []float64, m *mat.Dense) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		floats.Add(dst, m.RawRowView(i))
	}
}
