package model

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// GRU is a single-layer gated recurrent network with a softmax output at
// every timestep. Gates use hard-sigmoid and the candidate state uses tanh;
// neither is configurable.
//
// Read-only methods keep their intermediates on the stack of the call and may
// run concurrently with each other, but not with Update or Restore.
type GRU struct {
	cfg    Config
	params *Params
	cache  *Params // RMSProp running averages of squared gradients
}

// New builds a GRU with randomly initialized weights and zero accumulators.
func New(cfg Config) (*GRU, error) {
	if cfg.BPTTTruncate == 0 {
		cfg.BPTTTruncate = -1
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(cfg.Seed))
	return &GRU{
		cfg:    cfg,
		params: initParams(cfg.InDim, cfg.HiddenDim, cfg.OutDim, rng),
		cache:  NewParams(cfg.InDim, cfg.HiddenDim, cfg.OutDim),
	}, nil
}

// Config returns the construction config.
func (m *GRU) Config() Config { return m.cfg }

// Dims returns the input, hidden and output sizes.
func (m *GRU) Dims() (in, hidden, out int) {
	return m.cfg.InDim, m.cfg.HiddenDim, m.cfg.OutDim
}

// Params returns a copy of the current weights.
func (m *GRU) Params() *Params { return m.params.Clone() }

// Accumulators returns a copy of the RMSProp accumulators.
func (m *GRU) Accumulators() *Params { return m.cache.Clone() }

// Restore overwrites weights and accumulators. A nil accum resets the
// accumulators to zero.
func (m *GRU) Restore(params, accum *Params) error {
	if params == nil {
		return errors.New("model: restore with nil params")
	}
	if err := m.params.sameShape(params); err != nil {
		return errors.Wrap(err, "restore params")
	}
	if accum == nil {
		accum = NewParams(m.cfg.InDim, m.cfg.HiddenDim, m.cfg.OutDim)
	}
	if err := m.cache.sameShape(accum); err != nil {
		return errors.Wrap(err, "restore accumulators")
	}
	m.params.copyFrom(params)
	m.cache.copyFrom(accum)
	return nil
}

// step holds every intermediate of one timestep needed by the backward pass.
type step struct {
	x     *mat.Dense // batch x in
	sPrev *mat.Dense // batch x hidden
	z     *mat.Dense
	r     *mat.Dense
	rs    *mat.Dense // sPrev * r
	c     *mat.Dense
	s     *mat.Dense
	y     *mat.Dense // batch x out, softmax
}

// cell addresses one (time, batch column) position.
type cell struct {
	t, col int
}

func (m *GRU) checkBatch(b *Batch) error {
	if b == nil || len(b.X) == 0 {
		return ErrEmptyBatch
	}
	if len(b.X) != b.MaxLen || len(b.Mask) != b.MaxLen*b.Size {
		return errors.Wrapf(ErrDimMismatch, "batch has %d steps and %d mask cells for max_len=%d size=%d",
			len(b.X), len(b.Mask), b.MaxLen, b.Size)
	}
	for t, x := range b.X {
		r, c := x.Dims()
		if r != b.Size || c != m.cfg.InDim {
			return errors.Wrapf(ErrDimMismatch, "step %d input is %dx%d, want %dx%d", t, r, c, b.Size, m.cfg.InDim)
		}
	}
	return nil
}

// validCells lists unmasked positions in flattening order: batch column
// major, time minor. This is the order labels are concatenated in.
func validCells(b *Batch) []cell {
	cells := make([]cell, 0, len(b.Mask))
	for col := 0; col < b.Size; col++ {
		for t := 0; t < b.MaxLen; t++ {
			if b.Mask[col*b.MaxLen+t] != 0 {
				cells = append(cells, cell{t: t, col: col})
			}
		}
	}
	return cells
}

// forward unrolls the recurrence over every padded timestep.
func (m *GRU) forward(b *Batch) []step {
	p := m.params
	hidden := m.cfg.HiddenDim
	steps := make([]step, b.MaxLen)
	sPrev := mat.NewDense(b.Size, hidden, nil)

	for t, x := range b.X {
		gate := func(g int, h mat.Matrix) *mat.Dense {
			var a, rec mat.Dense
			a.Mul(x, p.U[g])
			rec.Mul(h, p.W[g])
			a.Add(&a, &rec)
			addRowVec(&a, p.B.RawRowView(g))
			return &a
		}

		z := gate(GateUpdate, sPrev)
		z.Apply(hardSigmoid, z)
		r := gate(GateReset, sPrev)
		r.Apply(hardSigmoid, r)

		rs := mat.NewDense(b.Size, hidden, nil)
		rs.MulElem(sPrev, r)
		c := gate(GateCandidate, rs)
		c.Apply(tanh, c)

		s := mat.NewDense(b.Size, hidden, nil)
		sd, zd, cd, pd := s.RawMatrix().Data, z.RawMatrix().Data, c.RawMatrix().Data, sPrev.RawMatrix().Data
		for k := range sd {
			sd[k] = (1-zd[k])*cd[k] + zd[k]*pd[k]
		}

		var y mat.Dense
		y.Mul(s, p.V)
		addRowVec(&y, p.C.RawVector().Data)
		softmaxRows(&y)

		steps[t] = step{x: x, sPrev: sPrev, z: z, r: r, rs: rs, c: c, s: s, y: &y}
		sPrev = s
	}
	return steps
}

// Predict returns the softmax rows of every valid position, in mask order.
func (m *GRU) Predict(b *Batch) (*mat.Dense, error) {
	if err := m.checkBatch(b); err != nil {
		return nil, err
	}
	cells := validCells(b)
	if len(cells) == 0 {
		return nil, errors.Wrap(ErrEmptyBatch, "no valid positions")
	}
	steps := m.forward(b)
	out := mat.NewDense(len(cells), m.cfg.OutDim, nil)
	for i, c := range cells {
		copy(out.RawRowView(i), steps[c.t].y.RawRowView(c.col))
	}
	return out, nil
}

// PredictClass returns the argmax class of every valid position.
func (m *GRU) PredictClass(b *Batch) ([]int, error) {
	probs, err := m.Predict(b)
	if err != nil {
		return nil, err
	}
	n, _ := probs.Dims()
	classes := make([]int, n)
	for i := range classes {
		classes[i] = floats.MaxIdx(probs.RawRowView(i))
	}
	return classes, nil
}

// Loss returns the mean categorical cross-entropy over valid positions.
func (m *GRU) Loss(b *Batch) (float64, error) {
	probs, err := m.Predict(b)
	if err != nil {
		return 0, err
	}
	n, _ := probs.Dims()
	if err := m.checkLabels(b, n); err != nil {
		return 0, err
	}
	return crossEntropy(probs, b.Y), nil
}

// checkLabels verifies Y holds one in-range label per valid position.
func (m *GRU) checkLabels(b *Batch, n int) error {
	if len(b.Y) != n {
		return errors.Wrapf(ErrDimMismatch, "%d labels for %d valid positions", len(b.Y), n)
	}
	for i, y := range b.Y {
		if y < 0 || y >= m.cfg.OutDim {
			return errors.Wrapf(ErrDimMismatch, "label %d at position %d outside [0,%d)", y, i, m.cfg.OutDim)
		}
	}
	return nil
}

// Gradient returns the gradient of Loss with respect to every parameter.
func (m *GRU) Gradient(b *Batch) (*Params, error) {
	if err := m.checkBatch(b); err != nil {
		return nil, err
	}
	cells := validCells(b)
	if len(cells) == 0 {
		return nil, errors.Wrap(ErrEmptyBatch, "no valid positions")
	}
	if err := m.checkLabels(b, len(cells)); err != nil {
		return nil, err
	}
	return m.backward(b, m.forward(b), cells), nil
}

// Update applies one RMSProp step computed from b. Every gradient is
// computed before any parameter is written.
func (m *GRU) Update(b *Batch, learningRate, decay float64) error {
	grads, err := m.Gradient(b)
	if err != nil {
		return err
	}
	rmsprop(m.params, m.cache, grads, learningRate, decay)
	return nil
}

// backward runs BPTT over the recorded steps. With truncation only the last
// BPTTTruncate steps contribute.
func (m *GRU) backward(b *Batch, steps []step, cells []cell) *Params {
	p := m.params
	grads := NewParams(m.cfg.InDim, m.cfg.HiddenDim, m.cfg.OutDim)

	// dL/dlogits is (softmax - onehot)/n at valid cells and zero elsewhere.
	dOut := make([]*mat.Dense, len(steps))
	for t := range dOut {
		dOut[t] = mat.NewDense(b.Size, m.cfg.OutDim, nil)
	}
	inv := 1 / float64(len(cells))
	for i, c := range cells {
		row := dOut[c.t].RawRowView(c.col)
		copy(row, steps[c.t].y.RawRowView(c.col))
		row[b.Y[i]] -= 1
		floats.Scale(inv, row)
	}

	first := 0
	if k := m.cfg.BPTTTruncate; k > 0 && len(steps) > k {
		first = len(steps) - k
	}

	dNext := mat.NewDense(b.Size, m.cfg.HiddenDim, nil)
	for t := len(steps) - 1; t >= first; t-- {
		st := steps[t]

		var dV mat.Dense
		dV.Mul(st.s.T(), dOut[t])
		grads.V.Add(grads.V, &dV)
		addColSums(grads.C.RawVector().Data, dOut[t])

		var ds mat.Dense
		ds.Mul(dOut[t], p.V.T())
		ds.Add(&ds, dNext)

		dPrev := mat.NewDense(b.Size, m.cfg.HiddenDim, nil)
		daz := mat.NewDense(b.Size, m.cfg.HiddenDim, nil)
		dac := mat.NewDense(b.Size, m.cfg.HiddenDim, nil)
		dsd, zd, cd, pd := ds.RawMatrix().Data, st.z.RawMatrix().Data, st.c.RawMatrix().Data, st.sPrev.RawMatrix().Data
		dpd, dzd, dcd := dPrev.RawMatrix().Data, daz.RawMatrix().Data, dac.RawMatrix().Data
		for k, g := range dsd {
			dcd[k] = g * (1 - zd[k]) * (1 - cd[k]*cd[k])
			dzd[k] = g * (pd[k] - cd[k]) * hardSigmoidGrad(zd[k])
			dpd[k] = g * zd[k]
		}

		accumulate(grads, GateCandidate, st.x, st.rs, dac)
		var drs mat.Dense
		drs.Mul(dac, p.W[GateCandidate].T())

		dar := mat.NewDense(b.Size, m.cfg.HiddenDim, nil)
		drsd, rd, dard := drs.RawMatrix().Data, st.r.RawMatrix().Data, dar.RawMatrix().Data
		for k, g := range drsd {
			dard[k] = g * pd[k] * hardSigmoidGrad(rd[k])
			dpd[k] += g * rd[k]
		}

		accumulate(grads, GateReset, st.x, st.sPrev, dar)
		backprop(dPrev, dar, p.W[GateReset])
		accumulate(grads, GateUpdate, st.x, st.sPrev, daz)
		backprop(dPrev, daz, p.W[GateUpdate])

		dNext = dPrev
	}
	return grads
}

// accumulate adds the gate-g weight gradients for pre-activation gradient da
// given the step input x and the recurrent operand h.
func accumulate(grads *Params, g int, x, h, da *mat.Dense) {
	var dU, dW mat.Dense
	dU.Mul(x.T(), da)
	grads.U[g].Add(grads.U[g], &dU)
	dW.Mul(h.T(), da)
	grads.W[g].Add(grads.W[g], &dW)
	addColSums(grads.B.RawRowView(g), da)
}

// backprop adds da·Wᵀ into dPrev.
func backprop(dPrev, da, w *mat.Dense) {
	var d mat.Dense
	d.Mul(da, w.T())
	dPrev.Add(dPrev, &d)
}

func crossEntropy(probs *mat.Dense, labels []int) float64 {
	var sum float64
	for i, y := range labels {
		sum -= math.Log(probs.At(i, y))
	}
	return sum / float64(len(labels))
}
