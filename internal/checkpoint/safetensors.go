package checkpoint

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"sort"

	"github.com/pkg/errors"
)

const metadataKey = "__metadata__"

// Tensor is a named float64 tensor in row-major order.
type Tensor struct {
	Shape  []int
	Values []float64
}

type tensorInfo struct {
	DType   string `json:"dtype"`
	Shape   []int  `json:"shape"`
	Offsets [2]int `json:"data_offsets"`
}

// Encode lays out tensors as a safetensors blob: an 8-byte little-endian
// header length, the JSON header, then raw F64 data in name order.
func Encode(tensors map[string]Tensor, metadata map[string]string) ([]byte, error) {
	names := make([]string, 0, len(tensors))
	for name := range tensors {
		if name == metadataKey {
			return nil, errors.Errorf("checkpoint: reserved tensor name %q", name)
		}
		names = append(names, name)
	}
	sort.Strings(names)

	header := make(map[string]interface{}, len(names)+1)
	if len(metadata) > 0 {
		header[metadataKey] = metadata
	}
	offset := 0
	for _, name := range names {
		t := tensors[name]
		if n, err := numElements(t.Shape); err != nil || n != len(t.Values) {
			return nil, errors.Errorf("checkpoint: tensor %s has %d values for shape %v", name, len(t.Values), t.Shape)
		}
		size := len(t.Values) * 8
		header[name] = tensorInfo{DType: "F64", Shape: t.Shape, Offsets: [2]int{offset, offset + size}}
		offset += size
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return nil, errors.Wrap(err, "checkpoint: marshal header")
	}

	out := make([]byte, 8+len(headerJSON)+offset)
	binary.LittleEndian.PutUint64(out[0:8], uint64(len(headerJSON)))
	copy(out[8:], headerJSON)
	data := out[8+len(headerJSON):]
	pos := 0
	for _, name := range names {
		for _, v := range tensors[name].Values {
			binary.LittleEndian.PutUint64(data[pos:], math.Float64bits(v))
			pos += 8
		}
	}
	return out, nil
}

// Decode parses a blob written by Encode. Only F64 tensors are accepted.
func Decode(blob []byte) (map[string]Tensor, map[string]string, error) {
	if len(blob) < 8 {
		return nil, nil, errors.New("checkpoint: truncated header size")
	}
	headerSize := binary.LittleEndian.Uint64(blob[0:8])
	if headerSize > uint64(len(blob)-8) {
		return nil, nil, errors.Errorf("checkpoint: header size %d exceeds file", headerSize)
	}
	data := blob[8+headerSize:]

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(blob[8:8+headerSize], &raw); err != nil {
		return nil, nil, errors.Wrap(err, "checkpoint: parse header")
	}

	var metadata map[string]string
	tensors := make(map[string]Tensor, len(raw))
	for name, msg := range raw {
		if name == metadataKey {
			if err := json.Unmarshal(msg, &metadata); err != nil {
				return nil, nil, errors.Wrap(err, "checkpoint: parse metadata")
			}
			continue
		}
		var info tensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, nil, errors.Wrapf(err, "checkpoint: parse tensor %s", name)
		}
		if info.DType != "F64" {
			return nil, nil, errors.Errorf("checkpoint: tensor %s has unsupported dtype %s", name, info.DType)
		}
		n, err := numElements(info.Shape)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "checkpoint: tensor %s", name)
		}
		start, end := info.Offsets[0], info.Offsets[1]
		if start < 0 || start > end || end > len(data) || end-start != n*8 {
			return nil, nil, errors.Errorf("checkpoint: tensor %s has bad offsets [%d,%d)", name, start, end)
		}
		values := make([]float64, n)
		for i := range values {
			values[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[start+i*8:]))
		}
		tensors[name] = Tensor{Shape: info.Shape, Values: values}
	}
	return tensors, metadata, nil
}

// numElements returns the element count of shape, rejecting negative
// dimensions and counts whose byte size overflows int.
func numElements(shape []int) (int, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return 0, errors.Errorf("negative dimension in shape %v", shape)
		}
		if d != 0 && n > math.MaxInt/8/d {
			return 0, errors.Errorf("shape %v overflows", shape)
		}
		n *= d
	}
	return n, nil
}
