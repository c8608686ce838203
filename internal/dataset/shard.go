package dataset

import (
	"archive/tar"
	"bufio"
	"context"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Example is one embedded sequence with its per-step labels.
type Example struct {
	Key    string
	Inputs *mat.Dense // steps x in_dim
	Labels []int
}

// ErrPendingOverflow indicates the pairing map exceeded the configured bound.
var ErrPendingOverflow = errors.New("dataset: pending pair buffer exceeded")

const defaultPendingCap = 1024

// StreamShard streams paired examples from the shard at path. A shard holds
// <key>.emb entries (one whitespace-separated row of inDim floats per
// timestep) and <key>.cls entries (one integer label per timestep).
func StreamShard(ctx context.Context, path string, inDim, pendingCap int) (<-chan Example, <-chan error) {
	if pendingCap <= 0 {
		pendingCap = defaultPendingCap
	}
	out := make(chan Example)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		f, err := os.Open(path)
		if err != nil {
			errCh <- errors.Wrap(err, "open shard")
			return
		}
		defer f.Close()

		tr := tar.NewReader(bufio.NewReader(f))
		pending := make(map[string]*partial)

		for {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			default:
			}

			hdr, err := tr.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				errCh <- errors.Wrap(err, "read tar")
				return
			}
			if hdr.FileInfo().IsDir() {
				continue
			}
			name := filepath.Base(hdr.Name)
			ext := strings.ToLower(filepath.Ext(name))
			key := strings.TrimSuffix(name, filepath.Ext(name))

			switch ext {
			case ".emb":
				inputs, err := parseEmbeddings(tr, inDim)
				if err != nil {
					errCh <- errors.Wrapf(err, "parse embeddings %s", name)
					return
				}
				partFor(pending, key).inputs = inputs
			case ".cls":
				labels, err := parseLabels(tr)
				if err != nil {
					errCh <- errors.Wrapf(err, "parse labels %s", name)
					return
				}
				partFor(pending, key).labels = labels
			default:
				continue
			}

			if len(pending) > pendingCap {
				errCh <- ErrPendingOverflow
				return
			}

			part := pending[key]
			if !part.ready() {
				continue
			}
			delete(pending, key)
			if steps, _ := part.inputs.Dims(); steps != len(part.labels) {
				errCh <- errors.Errorf("example %s: %d steps but %d labels", key, steps, len(part.labels))
				return
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- Example{Key: key, Inputs: part.inputs, Labels: part.labels}:
			}
		}

		if len(pending) > 0 {
			errCh <- errors.Errorf("%d examples incomplete", len(pending))
		}
	}()

	return out, errCh
}

type partial struct {
	inputs *mat.Dense
	labels []int
}

func (p *partial) ready() bool {
	return p.inputs != nil && p.labels != nil
}

func partFor(pending map[string]*partial, key string) *partial {
	part := pending[key]
	if part == nil {
		part = &partial{}
		pending[key] = part
	}
	return part
}

func parseEmbeddings(r io.Reader, inDim int) (*mat.Dense, error) {
	var data []float64
	steps := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != inDim {
			return nil, errors.Errorf("step %d has %d values, want %d", steps, len(fields), inDim)
		}
		for _, field := range fields {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, errors.Wrapf(err, "step %d", steps)
			}
			data = append(data, v)
		}
		steps++
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if steps == 0 {
		return nil, errors.New("empty sequence")
	}
	return mat.NewDense(steps, inDim, data), nil
}

func parseLabels(r io.Reader) ([]int, error) {
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	fields := strings.Fields(string(payload))
	labels := make([]int, len(fields))
	for i, field := range fields {
		if labels[i], err = strconv.Atoi(field); err != nil {
			return nil, errors.Wrapf(err, "label %d", i)
		}
	}
	return labels, nil
}

// LoadRoot reads every shard under root in sorted order and returns the
// examples in the order they were stored.
func LoadRoot(ctx context.Context, root string, inDim int) ([]Example, error) {
	shards, err := DiscoverShards(root)
	if err != nil {
		return nil, err
	}
	if len(shards) == 0 {
		return nil, errors.Errorf("no shards discovered under %s", root)
	}
	var examples []Example
	for _, shard := range shards {
		samples, errCh := StreamShard(ctx, shard, inDim, 0)
		for ex := range samples {
			examples = append(examples, ex)
		}
		if err := <-errCh; err != nil {
			return nil, errors.Wrapf(err, "shard %s", shard)
		}
	}
	return examples, nil
}

// Split returns the inputs and labels of examples as parallel slices.
func Split(examples []Example) ([]*mat.Dense, [][]int) {
	xs := make([]*mat.Dense, len(examples))
	ys := make([][]int, len(examples))
	for i, ex := range examples {
		xs[i] = ex.Inputs
		ys[i] = ex.Labels
	}
	return xs, ys
}
