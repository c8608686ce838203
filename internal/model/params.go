package model

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Gate indices into U, W and the rows of B.
const (
	GateUpdate = iota
	GateReset
	GateCandidate
	numGates
)

// Params holds one value per trainable tensor. The same layout is used for
// the weights, their RMSProp accumulators and their gradients.
type Params struct {
	U [numGates]*mat.Dense // in x hidden
	W [numGates]*mat.Dense // hidden x hidden
	B *mat.Dense           // numGates x hidden
	V *mat.Dense           // hidden x out
	C *mat.VecDense        // out
}

// NewParams allocates zero-valued tensors for the given dimensions.
func NewParams(in, hidden, out int) *Params {
	p := &Params{
		B: mat.NewDense(numGates, hidden, nil),
		V: mat.NewDense(hidden, out, nil),
		C: mat.NewVecDense(out, nil),
	}
	for g := 0; g < numGates; g++ {
		p.U[g] = mat.NewDense(in, hidden, nil)
		p.W[g] = mat.NewDense(hidden, hidden, nil)
	}
	return p
}

// initParams samples U, W and V from U(-1/sqrt(hidden), 1/sqrt(hidden)).
// Biases stay zero.
func initParams(in, hidden, out int, rng *rand.Rand) *Params {
	p := NewParams(in, hidden, out)
	bound := math.Sqrt(1.0 / float64(hidden))
	fill := func(data []float64) {
		for i := range data {
			data[i] = (rng.Float64()*2 - 1) * bound
		}
	}
	for g := 0; g < numGates; g++ {
		fill(p.U[g].RawMatrix().Data)
		fill(p.W[g].RawMatrix().Data)
	}
	fill(p.V.RawMatrix().Data)
	return p
}

// Dims reports the dimensions the tensors were allocated with.
func (p *Params) Dims() (in, hidden, out int) {
	in, hidden = p.U[0].Dims()
	_, out = p.V.Dims()
	return in, hidden, out
}

// Clone returns a deep copy.
func (p *Params) Clone() *Params {
	c := &Params{
		B: mat.DenseCopyOf(p.B),
		V: mat.DenseCopyOf(p.V),
		C: mat.VecDenseCopyOf(p.C),
	}
	for g := 0; g < numGates; g++ {
		c.U[g] = mat.DenseCopyOf(p.U[g])
		c.W[g] = mat.DenseCopyOf(p.W[g])
	}
	return c
}

// Slices returns the backing storage of every tensor in a fixed order:
// U0 U1 U2 W0 W1 W2 B V C. Writes through the slices mutate p.
func (p *Params) Slices() [][]float64 {
	out := make([][]float64, 0, 2*numGates+3)
	for g := 0; g < numGates; g++ {
		out = append(out, p.U[g].RawMatrix().Data)
	}
	for g := 0; g < numGates; g++ {
		out = append(out, p.W[g].RawMatrix().Data)
	}
	return append(out, p.B.RawMatrix().Data, p.V.RawMatrix().Data, p.C.RawVector().Data)
}

// sameShape reports an error wrapping ErrDimMismatch when p and q differ in shape.
func (p *Params) sameShape(q *Params) error {
	pi, ph, po := p.Dims()
	qi, qh, qo := q.Dims()
	if pi != qi || ph != qh || po != qo {
		return errors.Wrapf(ErrDimMismatch, "params %dx%dx%d vs %dx%dx%d", pi, ph, po, qi, qh, qo)
	}
	ps, qs := p.Slices(), q.Slices()
	for i := range ps {
		if len(ps[i]) != len(qs[i]) {
			return errors.Wrapf(ErrDimMismatch, "tensor %d has %d values, want %d", i, len(qs[i]), len(ps[i]))
		}
	}
	return nil
}

func (p *Params) copyFrom(q *Params) {
	dst, src := p.Slices(), q.Slices()
	for i := range dst {
		copy(dst[i], src[i])
	}
}
