// Package checkpoint persists GRU weights and RMSProp accumulators as
// safetensors files.
package checkpoint

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"slotfill-gru/internal/model"
)

// Extension is appended to path prefixes handed to Saver.
const Extension = ".safetensors"

// Save writes the weights and accumulators of m to path. The file is written
// to a temporary sibling and renamed, so readers never observe a partial file.
func Save(path string, m *model.GRU) error {
	in, hidden, out := m.Dims()
	tensors := make(map[string]Tensor, 10)
	addParams(tensors, "", m.Params(), in, hidden, out)
	addParams(tensors, "m", m.Accumulators(), in, hidden, out)

	blob, err := Encode(tensors, map[string]string{
		"in_dim":        strconv.Itoa(in),
		"hidden_dim":    strconv.Itoa(hidden),
		"out_dim":       strconv.Itoa(out),
		"bptt_truncate": strconv.Itoa(m.Config().BPTTTruncate),
	})
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return errors.Wrap(err, "checkpoint: create temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		return errors.Wrap(err, "checkpoint: write")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "checkpoint: close")
	}
	return errors.Wrap(os.Rename(tmp.Name(), path), "checkpoint: rename")
}

// Load rebuilds a GRU from a file written by Save.
func Load(path string) (*model.GRU, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "checkpoint: read")
	}
	tensors, meta, err := Decode(blob)
	if err != nil {
		return nil, err
	}

	var cfg model.Config
	for key, dst := range map[string]*int{
		"in_dim":        &cfg.InDim,
		"hidden_dim":    &cfg.HiddenDim,
		"out_dim":       &cfg.OutDim,
		"bptt_truncate": &cfg.BPTTTruncate,
	} {
		v, err := strconv.Atoi(meta[key])
		if err != nil {
			return nil, errors.Wrapf(err, "checkpoint: metadata %s", key)
		}
		*dst = v
	}

	m, err := model.New(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "checkpoint: build model")
	}
	params, err := readParams(tensors, "", cfg)
	if err != nil {
		return nil, err
	}
	var accum *model.Params
	if _, ok := tensors["mU"]; ok {
		if accum, err = readParams(tensors, "m", cfg); err != nil {
			return nil, err
		}
	}
	if err := m.Restore(params, accum); err != nil {
		return nil, errors.Wrap(err, "checkpoint: restore")
	}
	return m, nil
}

// Saver writes checkpoints to a path prefix plus Extension.
type Saver struct{}

// Save implements the trainer's checkpoint hook.
func (Saver) Save(prefix string, m *model.GRU) error {
	return Save(prefix+Extension, m)
}

func addParams(dst map[string]Tensor, prefix string, p *model.Params, in, hidden, out int) {
	stack := func(parts [3][]float64) []float64 {
		var all []float64
		for _, part := range parts {
			all = append(all, part...)
		}
		return all
	}
	s := p.Slices()
	dst[prefix+"U"] = Tensor{Shape: []int{3, in, hidden}, Values: stack([3][]float64{s[0], s[1], s[2]})}
	dst[prefix+"W"] = Tensor{Shape: []int{3, hidden, hidden}, Values: stack([3][]float64{s[3], s[4], s[5]})}
	dst[prefix+"b"] = Tensor{Shape: []int{3, hidden}, Values: append([]float64(nil), s[6]...)}
	dst[prefix+"V"] = Tensor{Shape: []int{hidden, out}, Values: append([]float64(nil), s[7]...)}
	dst[prefix+"c"] = Tensor{Shape: []int{out}, Values: append([]float64(nil), s[8]...)}
}

func readParams(tensors map[string]Tensor, prefix string, cfg model.Config) (*model.Params, error) {
	p := model.NewParams(cfg.InDim, cfg.HiddenDim, cfg.OutDim)
	s := p.Slices()
	targets := []struct {
		name  string
		parts [][]float64
	}{
		{"U", s[0:3]},
		{"W", s[3:6]},
		{"b", s[6:7]},
		{"V", s[7:8]},
		{"c", s[8:9]},
	}
	for _, target := range targets {
		t, ok := tensors[prefix+target.name]
		if !ok {
			return nil, errors.Errorf("checkpoint: missing tensor %s", prefix+target.name)
		}
		want := 0
		for _, part := range target.parts {
			want += len(part)
		}
		if len(t.Values) != want {
			return nil, errors.Wrapf(model.ErrDimMismatch, "tensor %s has %d values, want %d", prefix+target.name, len(t.Values), want)
		}
		pos := 0
		for _, part := range target.parts {
			pos += copy(part, t.Values[pos:])
		}
	}
	return p, nil
}
