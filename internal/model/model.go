package model

import (
	"github.com/pkg/errors"
)

// DefaultDecay is the RMSProp decay used when the caller has no preference.
const DefaultDecay = 0.9

// rmsEpsilon keeps the RMSProp denominator away from zero.
const rmsEpsilon = 1e-6

var (
	// ErrEmptyBatch is returned when a batch is built from no sequences.
	ErrEmptyBatch = errors.New("model: no sequences in batch")
	// ErrDimMismatch is returned when a tensor does not match the configured dimensions.
	ErrDimMismatch = errors.New("model: dimension mismatch")
)

// Config holds the construction-time knobs of a GRU.
type Config struct {
	InDim     int
	HiddenDim int
	OutDim    int
	// BPTTTruncate limits the backward pass to the last k timesteps; -1 disables truncation.
	BPTTTruncate int
	Seed         int64
}

// Validate verifies the config describes a buildable network.
func (c Config) Validate() error {
	if c.InDim <= 0 {
		return errors.Errorf("model: in_dim must be > 0 (got %d)", c.InDim)
	}
	if c.HiddenDim <= 0 {
		return errors.Errorf("model: hidden_dim must be > 0 (got %d)", c.HiddenDim)
	}
	if c.OutDim <= 0 {
		return errors.Errorf("model: out_dim must be > 0 (got %d)", c.OutDim)
	}
	if c.BPTTTruncate == 0 || c.BPTTTruncate < -1 {
		return errors.Errorf("model: bptt_truncate must be -1 or > 0 (got %d)", c.BPTTTruncate)
	}
	return nil
}

// Labeler is the surface the trainer needs from a sequence labeling model.
type Labeler interface {
	Loss(b *Batch) (float64, error)
	PredictClass(b *Batch) ([]int, error)
	Update(b *Batch, learningRate, decay float64) error
	Dims() (in, hidden, out int)
}

var _ Labeler = (*GRU)(nil)
