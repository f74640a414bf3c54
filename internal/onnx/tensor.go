package onnx

import (
	"fmt"
	"math"
	"strings"
)

type TensorDType string

const (
	DTypeFloat32 TensorDType = "float32"
	DTypeInt64   TensorDType = "int64"
)

// Tensor is a dense row-major float32 or int64 tensor passed to and from
// graph runners.
type Tensor struct {
	dtype TensorDType
	shape []int64
	data  any
}

func NewTensor[T ~int64 | ~float32](data []T, shape []int64) (*Tensor, error) {
	if err := validateShapeAgainstData(shape, len(data)); err != nil {
		return nil, err
	}

	t := &Tensor{shape: append([]int64(nil), shape...)}

	var zero T
	switch any(zero).(type) {
	case float32:
		converted := make([]float32, len(data))
		for i, v := range data {
			converted[i] = float32(v)
		}
		t.dtype, t.data = DTypeFloat32, converted
	case int64:
		converted := make([]int64, len(data))
		for i, v := range data {
			converted[i] = int64(v)
		}
		t.dtype, t.data = DTypeInt64, converted
	default:
		return nil, fmt.Errorf("unsupported tensor data type %T", zero)
	}

	return t, nil
}

// NewZeroTensor builds a zero-filled tensor from manifest metadata. Symbolic
// dimensions resolve to 1.
func NewZeroTensor(dtype string, shape []any) (*Tensor, error) {
	canonical, err := canonicalDType(dtype)
	if err != nil {
		return nil, err
	}
	resolvedShape, err := resolveShape(shape)
	if err != nil {
		return nil, err
	}
	count, err := elementCount(resolvedShape)
	if err != nil {
		return nil, err
	}

	switch canonical {
	case DTypeFloat32:
		return NewTensor(make([]float32, count), resolvedShape)
	default:
		return NewTensor(make([]int64, count), resolvedShape)
	}
}

// Scalar1 wraps a single int64 as a [1] tensor.
func Scalar1(v int64) *Tensor {
	return &Tensor{dtype: DTypeInt64, shape: []int64{1}, data: []int64{v}}
}

func (t *Tensor) DType() TensorDType {
	return t.dtype
}

func (t *Tensor) Shape() []int64 {
	return append([]int64(nil), t.shape...)
}

// Dim returns the size of axis i, or 0 when the axis does not exist.
func (t *Tensor) Dim(i int) int {
	if i < 0 || i >= len(t.shape) {
		return 0
	}
	return int(t.shape[i])
}

func ExtractFloat32(t *Tensor) ([]float32, error) {
	if t == nil {
		return nil, fmt.Errorf("expected float32 tensor, got nil")
	}
	data, ok := t.data.([]float32)
	if !ok {
		return nil, fmt.Errorf("expected float32 tensor, got %s", t.dtype)
	}
	return append([]float32(nil), data...), nil
}

// Rows splits a float32 tensor along its leading axis.
func Rows(t *Tensor) ([][]float32, error) {
	data, err := ExtractFloat32(t)
	if err != nil {
		return nil, err
	}
	if len(t.shape) == 0 || t.shape[0] < 1 {
		return nil, fmt.Errorf("rows: tensor shape %v has no leading axis", t.shape)
	}

	n := int(t.shape[0])
	stride := len(data) / n
	out := make([][]float32, n)
	for i := range out {
		out[i] = data[i*stride : (i+1)*stride]
	}
	return out, nil
}

// StackFloat32 stacks equally sized rows into a tensor of shape
// [len(rows), inner...].
func StackFloat32(rows [][]float32, inner ...int64) (*Tensor, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("stack: no rows")
	}

	width := len(rows[0])
	flat := make([]float32, 0, width*len(rows))
	for i, r := range rows {
		if len(r) != width {
			return nil, fmt.Errorf("stack: row %d has %d elements, want %d", i, len(r), width)
		}
		flat = append(flat, r...)
	}

	shape := append([]int64{int64(len(rows))}, inner...)
	return NewTensor(flat, shape)
}

// StackInt64 stacks equally sized token rows into a [len(rows), width] tensor.
func StackInt64(rows [][]int64) (*Tensor, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("stack: no rows")
	}

	width := len(rows[0])
	flat := make([]int64, 0, width*len(rows))
	for i, r := range rows {
		if len(r) != width {
			return nil, fmt.Errorf("stack: row %d has %d tokens, want %d", i, len(r), width)
		}
		flat = append(flat, r...)
	}

	return NewTensor(flat, []int64{int64(len(rows)), int64(width)})
}

func canonicalDType(raw string) (TensorDType, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.TrimPrefix(normalized, "tensor(")
	normalized = strings.TrimSuffix(normalized, ")")
	switch normalized {
	case "float", "float32":
		return DTypeFloat32, nil
	case "int64", "long":
		return DTypeInt64, nil
	default:
		return "", fmt.Errorf("unsupported tensor dtype %q", raw)
	}
}

func resolveShape(shape []any) ([]int64, error) {
	out := make([]int64, len(shape))
	for i, dim := range shape {
		switch v := dim.(type) {
		case float64:
			if v < 1 || v != math.Trunc(v) {
				return nil, fmt.Errorf("shape[%d]=%v is not a positive integer", i, v)
			}
			out[i] = int64(v)
		case int:
			if v < 1 {
				return nil, fmt.Errorf("shape[%d]=%d is not positive", i, v)
			}
			out[i] = int64(v)
		case int64:
			if v < 1 {
				return nil, fmt.Errorf("shape[%d]=%d is not positive", i, v)
			}
			out[i] = v
		case string:
			if strings.TrimSpace(v) == "" {
				return nil, fmt.Errorf("shape[%d] has empty symbolic dimension", i)
			}
			out[i] = 1
		default:
			return nil, fmt.Errorf("shape[%d] has unsupported type %T", i, dim)
		}
	}
	return out, nil
}

func validateShapeAgainstData(shape []int64, dataLen int) error {
	count, err := elementCount(shape)
	if err != nil {
		return err
	}
	if count != dataLen {
		return fmt.Errorf("shape %v expects %d elements, got %d", shape, count, dataLen)
	}
	return nil
}

func elementCount(shape []int64) (int, error) {
	count := int64(1)
	for i, dim := range shape {
		if dim < 1 {
			return 0, fmt.Errorf("shape[%d]=%d is not positive", i, dim)
		}
		if count > math.MaxInt64/dim {
			return 0, fmt.Errorf("shape %v overflows element count", shape)
		}
		count *= dim
	}
	if count > int64(math.MaxInt) {
		return 0, fmt.Errorf("shape %v exceeds platform int capacity", shape)
	}
	return int(count), nil
}
