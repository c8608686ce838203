package model

import "math"

// rmsprop updates every parameter/accumulator pair in place:
//
//	m' = decay*m + (1-decay)*g^2
//	p' = p - lr*g/sqrt(m' + 1e-6)
func rmsprop(params, cache, grads *Params, learningRate, decay float64) {
	ps, ms, gs := params.Slices(), cache.Slices(), grads.Slices()
	for i := range ps {
		p, acc, g := ps[i], ms[i], gs[i]
		for j := range p {
			acc[j] = decay*acc[j] + (1-decay)*g[j]*g[j]
			p[j] -= learningRate * g[j] / math.Sqrt(acc[j]+rmsEpsilon)
		}
	}
}
