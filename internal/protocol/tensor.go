package protocol

import (
	"errors"
	"fmt"
)

// DataType names the element type of a Tensor or TensorSpec.
type DataType string

const (
	DataTypeInvalid DataType = ""
	DataTypeInt8    DataType = "INT8"
	DataTypeUint8   DataType = "UINT8"
	DataTypeInt32   DataType = "INT32"
	DataTypeInt64   DataType = "INT64"
	DataTypeFloat   DataType = "FLOAT"
)

// Tensor is a typed flat array plus an explicit shape. Exactly one payload is
// expected to be set. Uint8s travels base64-encoded in JSON.
type Tensor struct {
	Shape  []int32   `json:"shape,omitempty"`
	Int8s  []int8    `json:"int8s,omitempty"`
	Uint8s []byte    `json:"uint8s,omitempty"`
	Int32s []int32   `json:"int32s,omitempty"`
	Int64s []int64   `json:"int64s,omitempty"`
	Floats []float32 `json:"floats,omitempty"`
}

var ErrEmptyTensor = errors.New("tensor has no payload")

func (t Tensor) DataType() DataType {
	switch {
	case t.Int8s != nil:
		return DataTypeInt8
	case t.Uint8s != nil:
		return DataTypeUint8
	case t.Int32s != nil:
		return DataTypeInt32
	case t.Int64s != nil:
		return DataTypeInt64
	case t.Floats != nil:
		return DataTypeFloat
	}
	return DataTypeInvalid
}

func (t Tensor) Len() int {
	switch t.DataType() {
	case DataTypeInt8:
		return len(t.Int8s)
	case DataTypeUint8:
		return len(t.Uint8s)
	case DataTypeInt32:
		return len(t.Int32s)
	case DataTypeInt64:
		return len(t.Int64s)
	case DataTypeFloat:
		return len(t.Floats)
	}
	return 0
}

// Ints widens any integer payload to int64. Float payloads are rejected.
func (t Tensor) Ints() ([]int64, error) {
	switch t.DataType() {
	case DataTypeInt8:
		out := make([]int64, len(t.Int8s))
		for i, v := range t.Int8s {
			out[i] = int64(v)
		}
		return out, nil
	case DataTypeUint8:
		out := make([]int64, len(t.Uint8s))
		for i, v := range t.Uint8s {
			out[i] = int64(v)
		}
		return out, nil
	case DataTypeInt32:
		out := make([]int64, len(t.Int32s))
		for i, v := range t.Int32s {
			out[i] = int64(v)
		}
		return out, nil
	case DataTypeInt64:
		out := make([]int64, len(t.Int64s))
		copy(out, t.Int64s)
		return out, nil
	case DataTypeFloat:
		return nil, fmt.Errorf("expected integer tensor, got %s", DataTypeFloat)
	}
	return nil, ErrEmptyTensor
}

// Scalar returns the first element of an integer tensor.
func (t Tensor) Scalar() (int64, error) {
	vals, err := t.Ints()
	if err != nil {
		return 0, err
	}
	if len(vals) == 0 {
		return 0, ErrEmptyTensor
	}
	return vals[0], nil
}

func Int8Scalar(v int8) Tensor {
	return Tensor{Int8s: []int8{v}}
}

func Int32Scalar(v int32) Tensor {
	return Tensor{Int32s: []int32{v}}
}

func FloatScalar(v float32) Tensor {
	return Tensor{Floats: []float32{v}}
}

func Int32Array(vals ...int32) Tensor {
	return Tensor{Shape: []int32{int32(len(vals))}, Int32s: vals}
}

// Image packs an RGBA pixel buffer as a uint8 tensor of shape [4, width, height].
func Image(pix []byte, width, height int) Tensor {
	return Tensor{Shape: []int32{4, int32(width), int32(height)}, Uint8s: pix}
}
